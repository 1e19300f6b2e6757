package scheduler

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"streakbot/internal/eventbus"
	"streakbot/internal/groups"
	"streakbot/internal/metrics"
	logx "streakbot/pkg/logx"
)

type Service struct {
	mu  sync.Mutex
	cfg Config
	d   Deps
	log logx.Logger

	parser   cron.Parser
	loc      *time.Location
	c        *cron.Cron
	running  bool
	triggers map[string]*Trigger
	// data is the snapshot taken by the last Reload; fires read credentials
	// and targets from it.
	data groups.Data

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

func New(cfg Config, d Deps) *Service {
	if d.Metrics == nil {
		d.Metrics = metrics.NewNoopSink()
	}
	s := &Service{
		cfg:         cfg,
		d:           d,
		log:         d.Log.With(logx.String("comp", "scheduler")),
		parser:      cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		triggers:    map[string]*Trigger{},
		lastEnqWarn: map[string]time.Time{},
	}
	s.loc = s.loadLocation(cfg.Timezone)
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Start begins firing registered triggers. It is idempotent and does not
// reload; call Reload to (re)build the registry.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || !s.cfg.Enabled {
		return
	}
	s.c.Start()
	s.running = true
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("triggers", len(s.triggers)))
}

// Stop stops every trigger, then the cron runner. Fires already handed to
// the engine are not affected.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	s.stopAllLocked()
	c := s.c
	wasRunning := s.running
	s.running = false
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	s.mu.Unlock()
	s.d.Metrics.TriggersActive(0)

	if wasRunning {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// Apply swaps the config. A timezone or enable change rebuilds the runner
// and re-registers from the last snapshot.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	s.mu.Unlock()

	if strings.TrimSpace(prev.Timezone) == strings.TrimSpace(cfg.Timezone) && prev.Enabled == cfg.Enabled {
		return
	}
	s.Stop(ctx)
	s.mu.Lock()
	s.loc = s.loadLocation(cfg.Timezone)
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	n := s.registerLocked(s.data)
	s.mu.Unlock()
	s.d.Metrics.TriggersActive(n)
	s.Start(ctx)
}

// Reload stops all triggers, reloads group data and registers one trigger
// per schedulable group. It returns the number of triggers registered.
// When the data cannot be read the registry is left empty.
func (s *Service) Reload(ctx context.Context) (int, error) {
	s.mu.Lock()
	s.stopAllLocked()
	s.mu.Unlock()

	data, err := s.d.Source.Load(ctx)
	if err != nil {
		s.d.Metrics.TriggersActive(0)
		s.log.Error("reload: cannot read groups", logx.Err(err))
		return 0, err
	}

	s.mu.Lock()
	// A concurrent Reload may have registered in between.
	s.stopAllLocked()
	s.data = data
	n := s.registerLocked(data)
	ids := s.groupIDsLocked()
	s.mu.Unlock()

	s.d.Metrics.TriggersActive(n)
	eventbus.Emit(s.d.Bus, eventbus.TriggersReloaded, ids)
	s.log.Info("triggers reloaded", logx.Int("count", n), logx.Int("groups", len(data.Groups)))
	return n, nil
}

func (s *Service) stopAllLocked() {
	for id, t := range s.triggers {
		t.Stop()
		delete(s.triggers, id)
	}
}

// registerLocked registers nothing while the scheduler is disabled; the
// snapshot is kept so enabling it later re-registers.
func (s *Service) registerLocked(data groups.Data) int {
	if !s.cfg.Enabled {
		s.log.Debug("scheduler disabled; no triggers registered", logx.Int("groups", len(data.Groups)))
		return 0
	}
	for _, g := range data.Groups {
		hour, minute, ok, err := g.Schedule()
		if err != nil {
			s.log.Warn("group not scheduled", logx.String("group", g.ID), logx.String("name", g.Name), logx.Err(err))
			continue
		}
		if !ok {
			continue
		}
		t := newTrigger(g, hour, minute, s.loc)
		sched, err := s.parser.Parse(t.Spec())
		if err != nil {
			s.log.Warn("group not scheduled", logx.String("group", g.ID), logx.Err(err))
			continue
		}
		groupID := g.ID
		t.c = s.c
		t.sched = sched
		t.entry = s.c.Schedule(sched, cron.FuncJob(func() { s.fire(t, groupID) }))
		s.triggers[groupID] = t
		s.log.Debug("trigger registered",
			logx.String("group", groupID), logx.String("clock", t.Clock),
			logx.Time("next", t.Next(time.Now())))
	}
	return len(s.triggers)
}

// Trigger returns the live handle for groupID.
func (s *Service) Trigger(groupID string) (*Trigger, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.triggers[groupID]
	return t, ok
}

func (s *Service) Status() Status {
	s.mu.Lock()
	st := Status{
		Enabled:  s.cfg.Enabled,
		Timezone: s.loc.String(),
		Count:    len(s.triggers),
		GroupIDs: s.groupIDsLocked(),
	}
	now := time.Now()
	for _, id := range st.GroupIDs {
		t := s.triggers[id]
		st.Triggers = append(st.Triggers, TriggerInfo{GroupID: id, Name: t.Name, Clock: t.Clock, Next: t.Next(now)})
	}
	s.mu.Unlock()

	sort.SliceStable(st.Triggers, func(i, j int) bool { return st.Triggers[i].Next.Before(st.Triggers[j].Next) })
	if s.d.Engine != nil {
		st.Engine = s.d.Engine.Snapshot()
	}
	return st
}

func (s *Service) groupIDsLocked() []string {
	ids := make([]string, 0, len(s.triggers))
	for id := range s.triggers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Service) loadLocation(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// ErrUnknownGroup is returned by RunNow for an id not in the data file.
var ErrUnknownGroup = errors.New("unknown group")
