package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"streakbot/internal/batch"
	"streakbot/internal/config"
	"streakbot/internal/groups"
	"streakbot/internal/progress"
	"streakbot/internal/storage"
	logx "streakbot/pkg/logx"
)

// RunChild executes the payload at payloadPath in this process, writes the
// result file and returns the process exit code. Progress goes to out.
func RunChild(ctx context.Context, payloadPath, resultPath string, out io.Writer, log logx.Logger) int {
	pl, err := batch.ReadPayload(payloadPath)
	if err != nil {
		log.Error("read payload", logx.Err(err))
		return 2
	}
	settings := []byte(pl.Settings)
	if len(settings) == 0 {
		settings = []byte("{}")
	}
	cfg, err := config.Decode("settings.json", settings)
	if err != nil {
		log.Error("decode settings", logx.Err(err))
		return 2
	}

	store, err := storage.Open(storageConfig(cfg), log.With(logx.String("comp", "storage")))
	if err != nil {
		log.Error("open storage", logx.Err(err))
		return 1
	}
	defer func() { _ = store.Close() }()

	res, runErr := NewRunner(cfg, store, log).RunBatch(ctx, pl.Batch, progress.Writer(out))
	if err := batch.WriteResult(resultPath, res); err != nil {
		log.Error("write result", logx.Err(err))
		return 1
	}
	return batch.ExitCode(res, runErr)
}

// RunGroup runs one group from the groups file once, in this process.
func RunGroup(ctx context.Context, cfg *config.Config, groupID string, out io.Writer, log logx.Logger) (batch.Result, error) {
	data, err := groups.NewFileSource(cfg.Groups.Path, log).Load(ctx)
	if err != nil {
		return batch.Result{}, err
	}
	g, ok := data.Find(groupID)
	if !ok {
		return batch.Result{}, fmt.Errorf("group %q not found in %s", groupID, cfg.Groups.Path)
	}
	if !data.Credentials.Login().Valid() {
		return batch.Result{}, errors.New("credentials not configured")
	}

	store, err := storage.Open(storageConfig(cfg), log.With(logx.String("comp", "storage")))
	if err != nil {
		return batch.Result{}, err
	}
	defer func() { _ = store.Close() }()

	res, err := NewRunner(cfg, store, log).RunBatch(ctx, batch.Config{
		GroupID:     g.ID,
		GroupName:   g.DisplayName(),
		Credentials: data.Credentials.Login(),
		Targets:     g.Targets,
		Headless:    data.Credentials.IsHeadless(),
	}, progress.Writer(out))
	if aerr := store.AppendRun(context.WithoutCancel(ctx), res.Record("manual")); aerr != nil {
		log.Warn("run record not saved", logx.Err(aerr))
	}
	return res, err
}
