package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// SaveScreenshot writes a screenshot of c to dir/name and returns its path.
func SaveScreenshot(ctx context.Context, c Client, dir, name string) (string, error) {
	png, err := c.Screenshot(ctx)
	if err != nil {
		return "", fmt.Errorf("screenshot: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
