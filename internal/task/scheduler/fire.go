package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"streakbot/internal/batch"
	"streakbot/internal/eventbus"
	"streakbot/internal/groups"
	"streakbot/internal/metrics"
	"streakbot/internal/progress"
	"streakbot/internal/task/engine"
	logx "streakbot/pkg/logx"
)

// enqueueWarnEvery throttles repeated enqueue failures per group.
const enqueueWarnEvery = time.Minute

// fire runs on the cron goroutine. It only checks the snapshot and
// enqueues; the batch itself runs on an engine worker.
func (s *Service) fire(t *Trigger, groupID string) {
	if !t.Active() {
		return
	}
	s.mu.Lock()
	data := s.data
	s.mu.Unlock()

	g, ok := data.Find(groupID)
	if !ok {
		s.log.Warn("trigger fired for unknown group", logx.String("group", groupID))
		return
	}
	ctx := context.Background()
	if !data.Credentials.Login().Valid() {
		s.skip(ctx, g, "missing_credentials",
			fmt.Sprintf("⚠️ Skipping %q - credentials not configured", g.DisplayName()))
		return
	}
	s.log.Info("trigger fired", logx.String("group", g.ID), logx.String("clock", t.Clock))
	s.d.Metrics.TriggerFired(KindScheduled)
	eventbus.Emit(s.d.Bus, eventbus.TriggerFired, map[string]string{"group": g.ID, "kind": KindScheduled})
	if err := s.enqueue(g, data.Credentials, KindScheduled); err != nil {
		s.reportEnqueueError(g.ID, err)
	}
}

// RunNow reloads group data and enqueues groupID outside its schedule.
func (s *Service) RunNow(ctx context.Context, groupID string) error {
	data, err := s.d.Source.Load(ctx)
	if err != nil {
		return err
	}
	g, ok := data.Find(groupID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGroup, groupID)
	}
	if len(g.Targets) == 0 {
		return fmt.Errorf("group %s has no targets", groupID)
	}
	if !data.Credentials.Login().Valid() {
		s.skip(ctx, g, "missing_credentials",
			fmt.Sprintf("⚠️ Skipping %q - credentials not configured", g.DisplayName()))
		return fmt.Errorf("%w: credentials not configured", batch.ErrInvalidConfig)
	}
	s.d.Metrics.TriggerFired(KindManual)
	eventbus.Emit(s.d.Bus, eventbus.TriggerFired, map[string]string{"group": g.ID, "kind": KindManual})
	return s.enqueue(g, data.Credentials, KindManual)
}

func (s *Service) skip(ctx context.Context, g groups.Group, reason, text string) {
	s.log.Warn("trigger skipped", logx.String("group", g.ID), logx.String("reason", reason))
	s.d.Metrics.TriggerSkipped(reason)
	eventbus.Emit(s.d.Bus, eventbus.TriggerSkipped, map[string]string{"group": g.ID, "reason": reason})
	s.announce(ctx, text)
}

func (s *Service) enqueue(g groups.Group, creds groups.Credentials, kind string) error {
	cfg := batch.Config{
		GroupID:     g.ID,
		GroupName:   g.DisplayName(),
		Credentials: creds.Login(),
		Targets:     append(g.Targets[:0:0], g.Targets...),
		Headless:    creds.IsHeadless(),
	}
	err := s.d.Engine.Enqueue(engine.Task{
		Name: "batch:" + g.ID,
		Key:  g.ID,
		Run:  func(ctx context.Context) error { return s.runBatch(ctx, cfg, kind) },
		Opt:  engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning},
	})
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.d.Metrics.TriggerSkipped("overlap")
		s.log.Warn("previous run still in progress; fire skipped", logx.String("group", g.ID))
	}
	return err
}

func (s *Service) runBatch(ctx context.Context, cfg batch.Config, kind string) error {
	log := s.log.With(logx.String("group", cfg.GroupID), logx.String("trigger", kind))
	verb := "⏰ Scheduled"
	if kind == KindManual {
		verb = "▶️ Manual"
	}
	s.announce(ctx, fmt.Sprintf("%s execution started: %s", verb, cfg.GroupName))
	eventbus.Emit(s.d.Bus, eventbus.BatchStarted, map[string]string{"group": cfg.GroupID, "kind": kind})

	sink := progress.Func(func(line string) {
		log.Debug(line)
		eventbus.Emit(s.d.Bus, eventbus.BatchProgress, map[string]string{"group": cfg.GroupID, "line": line})
	})
	var p progress.Sink = sink
	if s.d.Progress != nil {
		if extra := s.d.Progress(cfg.GroupID); extra != nil {
			p = progress.Tee(sink, extra)
		}
	}

	res, err := s.d.Executor.RunBatch(ctx, cfg, p)
	if res.GroupID == "" {
		res.GroupID = cfg.GroupID
	}
	if res.GroupName == "" {
		res.GroupName = cfg.GroupName
	}
	s.recordRun(ctx, res, kind, log)
	s.d.Metrics.BatchCompleted(metrics.Batch{
		Trigger:         kind,
		Duration:        res.Duration(),
		Success:         res.Success,
		Failure:         res.Failure,
		Fatal:           res.Fatal,
		SessionRestored: res.SessionRestored,
	})

	if err != nil {
		log.Error("batch failed", logx.String("run", res.RunID), logx.Err(err))
		s.announce(ctx, fmt.Sprintf("❌ Group %q failed: %s", cfg.GroupName, res.Summary()))
	} else {
		log.Info("batch finished", logx.String("run", res.RunID),
			logx.Int("success", res.Success), logx.Int("failure", res.Failure), logx.Int("total", res.Total))
		s.announce(ctx, fmt.Sprintf("✅ Group %q completed: %s", cfg.GroupName, res.Summary()))
	}
	eventbus.Emit(s.d.Bus, eventbus.BatchFinished, res)
	if err != nil {
		return engine.NoRetry(err)
	}
	return nil
}

func (s *Service) recordRun(ctx context.Context, res batch.Result, kind string, log logx.Logger) {
	if s.d.Runs == nil {
		return
	}
	err := s.d.Runs.AppendRun(context.WithoutCancel(ctx), res.Record(kind))
	if err != nil {
		log.Warn("run record not saved", logx.Err(err))
	}
}

func (s *Service) announce(ctx context.Context, text string) {
	if s.d.Notifier == nil {
		return
	}
	s.d.Notifier.Announce(context.WithoutCancel(ctx), text)
}

func (s *Service) reportEnqueueError(groupID string, err error) {
	if errors.Is(err, engine.ErrOverlapSkip) {
		return
	}
	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[groupID]
	warn := last.IsZero() || now.Sub(last) >= enqueueWarnEvery
	if warn {
		s.lastEnqWarn[groupID] = now
	}
	s.enqMu.Unlock()
	if warn {
		s.log.Warn("enqueue failed", logx.String("group", groupID), logx.Err(err))
	} else {
		s.log.Debug("enqueue failed (throttled)", logx.String("group", groupID), logx.Err(err))
	}
}
