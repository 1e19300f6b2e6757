package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"streakbot/internal/dm"
	"streakbot/internal/progress"
	logx "streakbot/pkg/logx"
)

const helperEnv = "STREAKBOT_BATCH_HELPER"

// TestHelperProcess plays the child side of ProcessRunner. Its behaviour is
// picked by the group id in the payload.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	// -- run-batch --config <p> --result <r> [extra...]
	if len(args) < 6 || args[1] != "run-batch" {
		fmt.Fprintf(os.Stderr, "bad args %q\n", args)
		os.Exit(9)
	}
	pl, err := ReadPayload(args[3])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(9)
	}
	resPath := args[5]
	res := Result{RunID: "child", GroupID: pl.Batch.GroupID, Total: len(pl.Batch.Targets), StartedAt: time.Now()}

	switch pl.Batch.GroupID {
	case "ok":
		for _, tg := range pl.Batch.Targets {
			fmt.Printf("sent to %s\n", tg.Handle)
			res.Outcomes = append(res.Outcomes, dm.Outcome{Handle: tg.Handle, OK: true, Stage: dm.StageDone, Sent: tg.Message})
			res.Success++
		}
		fmt.Fprintf(os.Stdout, "settings=%s\n", pl.Settings)
		if extra := args[6:]; len(extra) > 0 {
			fmt.Fprintf(os.Stdout, "extra=%s\n", strings.Join(extra, " "))
		}
	case "fatal":
		res.abort(pl.Batch.Targets, "challenge requires visible session", time.Now())
	case "crash":
		fmt.Fprintln(os.Stderr, "segfault in renderer")
		os.Exit(3)
	case "hang":
		time.Sleep(time.Minute)
	}
	res.FinishedAt = time.Now()
	if err := WriteResult(resPath, res); err != nil {
		os.Exit(9)
	}
	os.Exit(ExitCode(res, nil))
}

func helperRunner(t *testing.T) (*ProcessRunner, string) {
	t.Helper()
	dir := t.TempDir()
	return &ProcessRunner{
		Executable: os.Args[0],
		BaseArgs:   []string{"-test.run=^TestHelperProcess$", "--"},
		Env:        []string{helperEnv + "=1"},
		TempDir:    dir,
		Settings:   json.RawMessage(`{"browser":{"no_sandbox":true}}`),
		Log:        logx.Nop(),
		WaitDelay:  time.Second,
	}, dir
}

func requireTempClean(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "payload and result files are removed")
}

func batchFor(group string) Config {
	return Config{
		GroupID:     group,
		Credentials: creds,
		Targets:     []dm.Target{{Handle: "x", Message: "hi"}, {Handle: "y", Message: "yo"}},
		Headless:    true,
	}
}

func TestProcessRunnerSuccess(t *testing.T) {
	t.Parallel()
	pr, dir := helperRunner(t)
	var rec progress.Recorder

	res, err := pr.RunBatch(context.Background(), batchFor("ok"), &rec)

	require.NoError(t, err)
	require.Equal(t, "child", res.RunID)
	require.Equal(t, 2, res.Success)
	require.True(t, rec.Contains("sent to x"))
	require.True(t, rec.Contains("sent to y"))
	require.True(t, rec.Contains(`settings={"browser":{"no_sandbox":true}}`))
	requireTempClean(t, dir)
}

func TestProcessRunnerPassesChildArgs(t *testing.T) {
	t.Parallel()
	pr, dir := helperRunner(t)
	pr.ChildArgs = []string{"--log-level", "debug"}
	var rec progress.Recorder

	_, err := pr.RunBatch(context.Background(), batchFor("ok"), &rec)

	require.NoError(t, err)
	require.True(t, rec.Contains("extra=--log-level debug"))
	requireTempClean(t, dir)
}

func TestProcessRunnerFatalResult(t *testing.T) {
	t.Parallel()
	pr, dir := helperRunner(t)

	res, err := pr.RunBatch(context.Background(), batchFor("fatal"), progress.Discard)

	require.ErrorIs(t, err, ErrFatal)
	require.True(t, res.Fatal)
	require.Equal(t, "challenge requires visible session", res.Reason)
	require.Equal(t, 2, res.Failure)
	requireTempClean(t, dir)
}

func TestProcessRunnerCrashWithoutResult(t *testing.T) {
	t.Parallel()
	pr, dir := helperRunner(t)
	var rec progress.Recorder

	res, err := pr.RunBatch(context.Background(), batchFor("crash"), &rec)

	require.ErrorIs(t, err, ErrFatal)
	require.True(t, res.Fatal)
	require.Equal(t, res.Total, res.Failure)
	require.Contains(t, res.Reason, "without result")
	require.True(t, rec.Contains("segfault in renderer"))
	requireTempClean(t, dir)
}

func TestProcessRunnerKilledOnShutdown(t *testing.T) {
	t.Parallel()
	pr, dir := helperRunner(t)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := pr.RunBatch(ctx, batchFor("hang"), progress.Discard)

	require.ErrorIs(t, err, ErrFatal)
	require.True(t, res.Fatal)
	require.Less(t, time.Since(start), 30*time.Second)
	requireTempClean(t, dir)
}

func TestProcessRunnerValidatesOnHost(t *testing.T) {
	t.Parallel()
	pr, dir := helperRunner(t)
	pr.Executable = "/nonexistent/streakbot"

	_, err := pr.RunBatch(context.Background(), Config{Credentials: creds}, progress.Discard)
	require.ErrorIs(t, err, ErrInvalidConfig)
	requireTempClean(t, dir)
}

func TestPayloadIsOwnerOnly(t *testing.T) {
	t.Parallel()
	path := t.TempDir() + "/p.json"
	require.NoError(t, WritePayload(path, Payload{Batch: batchFor("ok")}))
	st, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	pl, err := ReadPayload(path)
	require.NoError(t, err)
	require.Equal(t, "b", pl.Batch.Credentials.Password)
}

func TestExitCode(t *testing.T) {
	t.Parallel()
	require.Equal(t, 0, ExitCode(Result{Failure: 3}, nil))
	require.Equal(t, 1, ExitCode(Result{Fatal: true}, ErrFatal))
	require.Equal(t, 2, ExitCode(Result{Fatal: true}, ErrInvalidConfig))
}
