package batch

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Payload is the single-use file handed to a child run.
type Payload struct {
	Batch Config `json:"batch"`
	// Settings is the host configuration, so the child builds the same
	// browser, site and storage setup as the host.
	Settings json.RawMessage `json:"settings,omitempty"`
}

// WritePayload writes p to path, readable by the owner only.
func WritePayload(path string, p Payload) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

func ReadPayload(path string) (Payload, error) {
	var p Payload
	b, err := os.ReadFile(path)
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(b, &p); err != nil {
		return p, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}

func WriteResult(path string, r Result) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

// ReadResult returns os.ErrNotExist when the child wrote nothing.
func ReadResult(path string) (Result, error) {
	var r Result
	b, err := os.ReadFile(path)
	if err != nil {
		return r, err
	}
	if len(b) == 0 {
		return r, os.ErrNotExist
	}
	if err := json.Unmarshal(b, &r); err != nil {
		return r, fmt.Errorf("decode result: %w", err)
	}
	return r, nil
}

// ExitCode is the child's process status for r.
func ExitCode(r Result, err error) int {
	switch {
	case errors.Is(err, ErrInvalidConfig):
		return 2
	case r.Fatal || err != nil:
		return 1
	}
	return 0
}
