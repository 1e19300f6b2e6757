// Package app wires the long-running service: config, logging, storage,
// the task engine, the group scheduler, chat transport and the debug
// listener.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"streakbot/internal/batch"
	"streakbot/internal/config"
	"streakbot/internal/eventbus"
	"streakbot/internal/groups"
	"streakbot/internal/metrics"
	"streakbot/internal/notifier"
	"streakbot/internal/observability/debug"
	"streakbot/internal/progress"
	rtsup "streakbot/internal/runtime/supervisor"
	"streakbot/internal/storage"
	"streakbot/internal/task/engine"
	"streakbot/internal/task/scheduler"
	kit "streakbot/internal/transport"
	telegram "streakbot/internal/transport/telegram/adapter"
	"streakbot/internal/transport/telegram/router"
	logx "streakbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	reg   *prometheus.Registry

	source *groups.FileSource
	exec   *liveExecutor
	engine *engine.Service
	sched  *scheduler.Service
	notif  *notifier.Service
	debug  *debug.Service

	adapter *telegram.Adapter // nil without a bot token
	router  *router.Router

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, root := logx.New(logConfig(cfg), nil)
	log := root.With(logx.String("comp", "app"))

	var ad *telegram.Adapter
	if cfg.Telegram.Enabled() {
		ad, err = telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: cfg.Telegram.PollTimeout.Std(),
		}, root)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		logs.SetSender(ad)
	} else {
		log.Info("telegram disabled; notifications go to the log")
	}

	store, err := storage.Open(storageConfig(cfg), root.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	sink := metrics.NewPrometheusSink(reg, root)

	exec, err := NewExecutor(cfg, store, root)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	bus := eventbus.New()
	eng := engine.New(engineConfig(cfg), root.With(logx.String("comp", "engine")), bus)

	var chat kit.Adapter
	if ad != nil {
		chat = ad
	}
	notif := notifier.New(notifierConfig(cfg), chat, root, bus)

	source := groups.NewFileSource(cfg.Groups.Path, root.With(logx.String("comp", "groups")))
	live := &liveExecutor{cur: exec}
	sched := scheduler.New(schedulerConfig(cfg), scheduler.Deps{
		Source:   source,
		Executor: live,
		Engine:   eng,
		Runs:     store,
		Metrics:  sink,
		Notifier: notif,
		Bus:      bus,
		Log:      root,
	})

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logs,
		bus:     bus,
		store:   store,
		reg:     reg,
		source:  source,
		exec:    live,
		engine:  eng,
		sched:   sched,
		notif:   notif,
		adapter: ad,
		updates: make(chan kit.Update, 64),
	}
	a.debug = debug.New(debugConfig(cfg), reg, a.Status, root)
	if ad != nil {
		a.router = router.New(root, ad, cfg.Telegram.OwnerUserIDs)
	}
	return a, nil
}

// StatusReport is served on /status.
type StatusReport struct {
	Scheduler     scheduler.Status       `json:"scheduler"`
	Engine        engine.Snapshot        `json:"engine"`
	Notifications []notifier.HistoryItem `json:"recent_notifications,omitempty"`
}

func (a *App) Status() any {
	st := a.sched.Status()
	return StatusReport{Scheduler: st, Engine: st.Engine, Notifications: a.notif.History()}
}

// Done is closed when the app supervisor is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		_, err := NewExecutor(cfg, a.store, logx.Nop())
		return err
	})

	a.engine.Start(run)
	a.notif.Start(run)

	if a.adapter != nil {
		if err := a.adapter.Start(run, a.updates); err != nil {
			return err
		}
		a.router.Register(run, router.OpsCommands(a.sched, a.store)...)
		a.sup.Go("commands.dispatch", func(c context.Context) error {
			return a.router.DispatchLoop(c, a.updates)
		})
	}

	a.sched.Start(run)
	if n, err := a.sched.Reload(run); err != nil {
		a.log.Warn("initial group load failed; no triggers registered", logx.String("path", a.source.Path()), logx.Err(err))
	} else {
		a.log.Info("groups loaded", logx.Int("triggers", n))
	}

	cfg := a.cfgm.Get()
	if cfg.Groups.WatchEnabled() {
		a.sup.GoRestart("groups.watch", func(c context.Context) error {
			return a.source.Watch(c, func() {
				if _, err := a.sched.Reload(c); err != nil {
					a.log.Warn("group reload failed", logx.Err(err))
				}
			})
		}, rtsup.WithRestartBackoff(time.Second, 30*time.Second))
	}

	a.startConfigReload()
	a.sup.GoRestart("config.watch", a.cfgm.Watch, rtsup.WithRestartBackoff(time.Second, 30*time.Second))

	if cfg.Debug.Enabled {
		if err := a.debug.Start(run); err != nil {
			a.log.Warn("debug server not started", logx.Err(err))
		}
	}

	a.startEventLog()
	a.startSystemd()

	a.log.Info("app started", logx.String("runner", cfg.Runner.Mode), logx.Bool("scheduler", a.sched.Enabled()))
	return nil
}

func (a *App) startEventLog() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})
}

// startSystemd reports readiness and feeds the watchdog when running
// under a notify-type unit. Outside systemd these calls are no-ops.
func (a *App) startSystemd() {
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	})
}

func (a *App) startConfigReload() {
	sub := a.cfgm.Subscribe(4)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		switch s {
		case "storage", "telegram":
			a.log.Warn("config section changed; restart required", logx.String("section", s))
		}
	}

	a.logs.Apply(logConfig(next))
	if a.router != nil {
		a.router.SetOwners(next.Telegram.OwnerUserIDs)
	}
	a.engine.Apply(ctx, engineConfig(next))
	a.notif.Apply(notifierConfig(next))
	if exec, err := NewExecutor(next, a.store, a.logs.Logger()); err != nil {
		a.log.Warn("runner config rejected; keeping previous", logx.Err(err))
	} else {
		a.exec.Set(exec)
	}
	a.sched.Apply(ctx, schedulerConfig(next))
	a.debug.Reconfigure(ctx, debugConfig(next))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// Triggers go first so nothing new is enqueued while the rest unwinds.
	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.sup.Cancel()
	a.step(ctx, "engine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	a.step(ctx, "notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	if a.adapter != nil {
		a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	}
	a.step(ctx, "debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown step bounded by max and the caller's deadline.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}

// liveExecutor lets a config reload swap the batch host without touching
// the scheduler. Runs already started keep the host they began with.
type liveExecutor struct {
	mu  sync.RWMutex
	cur batch.Executor
}

func (l *liveExecutor) Set(e batch.Executor) {
	l.mu.Lock()
	l.cur = e
	l.mu.Unlock()
}

func (l *liveExecutor) RunBatch(ctx context.Context, cfg batch.Config, p progress.Sink) (batch.Result, error) {
	l.mu.RLock()
	e := l.cur
	l.mu.RUnlock()
	return e.RunBatch(ctx, cfg, p)
}
