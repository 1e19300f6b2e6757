package batch

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"streakbot/internal/progress"
	logx "streakbot/pkg/logx"
)

// ProcessRunner hosts each batch in a child process running
// "<Executable> [BaseArgs...] run-batch --config <file> --result <file> [ChildArgs...]".
// Host shutdown (ctx cancel) kills the child.
type ProcessRunner struct {
	Executable string
	BaseArgs   []string
	ChildArgs  []string
	Env        []string
	TempDir    string
	// Settings is forwarded to the child inside the payload.
	Settings json.RawMessage
	Log      logx.Logger
	// WaitDelay bounds how long output is drained after the child is killed.
	WaitDelay time.Duration
}

func (r *ProcessRunner) RunBatch(ctx context.Context, cfg Config, p progress.Sink) (Result, error) {
	started := time.Now()
	res := newResult(cfg, started)

	// Fail fast on the host; the child would only repeat it.
	if err := cfg.Validate(); err != nil {
		progress.Printf(p, "Invalid batch: %v", err)
		res.abort(cfg.Targets, err.Error(), time.Now())
		return res, err
	}

	dir, err := os.MkdirTemp(r.TempDir, "streakbot-batch-")
	if err != nil {
		return r.hostFailure(cfg, res, fmt.Errorf("temp dir: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			r.Log.Warn("batch temp cleanup failed", logx.String("dir", dir), logx.Err(err))
		}
	}()

	cfgPath := filepath.Join(dir, "payload.json")
	resPath := filepath.Join(dir, "result.json")
	if err := WritePayload(cfgPath, Payload{Batch: cfg, Settings: r.Settings}); err != nil {
		return r.hostFailure(cfg, res, fmt.Errorf("write payload: %w", err))
	}

	args := append(append([]string(nil), r.BaseArgs...), "run-batch", "--config", cfgPath, "--result", resPath)
	args = append(args, r.ChildArgs...)
	cmd := exec.CommandContext(ctx, r.Executable, args...)
	cmd.Env = append(os.Environ(), r.Env...)
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = 5 * time.Second
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return r.hostFailure(cfg, res, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return r.hostFailure(cfg, res, err)
	}
	if err := cmd.Start(); err != nil {
		return r.hostFailure(cfg, res, fmt.Errorf("start batch process: %w", err))
	}
	r.Log.Debug("batch process started", logx.Int("pid", cmd.Process.Pid), logx.String("group", cfg.GroupID))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); pump(stdout, p) }()
	go func() { defer wg.Done(); pump(stderr, p) }()
	wg.Wait()
	waitErr := cmd.Wait()

	out, rerr := ReadResult(resPath)
	switch {
	case rerr == nil:
		if out.RunID == "" {
			out.RunID = res.RunID
		}
		return out, out.Err()
	case ctx.Err() != nil:
		return r.hostFailure(cfg, res, fmt.Errorf("batch process killed: %w", ctx.Err()))
	case waitErr != nil:
		return r.hostFailure(cfg, res, fmt.Errorf("batch process exited without result: %w", waitErr))
	case errors.Is(rerr, os.ErrNotExist):
		return r.hostFailure(cfg, res, errors.New("batch process exited without result"))
	default:
		return r.hostFailure(cfg, res, rerr)
	}
}

func (r *ProcessRunner) hostFailure(cfg Config, res Result, err error) (Result, error) {
	r.Log.Error("batch process failed", logx.String("group", cfg.GroupID), logx.Err(err))
	res.abort(cfg.Targets, err.Error(), time.Now())
	return res, fmt.Errorf("%w: %w", ErrFatal, err)
}

// pump forwards each line of rd as one progress line.
func pump(rd io.Reader, p progress.Sink) {
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		progress.Printf(p, "%s", sc.Text())
	}
	// Keep draining so the child never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, rd)
}
