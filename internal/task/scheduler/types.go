package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"streakbot/internal/batch"
	"streakbot/internal/eventbus"
	"streakbot/internal/groups"
	"streakbot/internal/metrics"
	"streakbot/internal/progress"
	"streakbot/internal/storage"
	"streakbot/internal/task/engine"
	logx "streakbot/pkg/logx"
)

type Config struct {
	Enabled  bool
	Timezone string // IANA name; empty means time.Local
}

// Trigger kinds.
const (
	KindScheduled = "schedule"
	KindManual    = "manual"
)

// Notifier receives short operator-facing messages.
type Notifier interface {
	Announce(ctx context.Context, text string)
}

// Deps are the collaborators of a Service. Only Source, Executor and
// Engine are required.
type Deps struct {
	Source   groups.Source
	Executor batch.Executor
	Engine   *engine.Service
	Runs     storage.Store
	Metrics  metrics.Sink
	Notifier Notifier
	Bus      eventbus.Bus
	Log      logx.Logger
	// Progress, when set, receives every progress line of a group's run in
	// addition to the log.
	Progress func(groupID string) progress.Sink
}

// Trigger is the handle of one registered daily fire. Stop is idempotent
// and affects no other trigger.
type Trigger struct {
	GroupID string
	Name    string
	Clock   string
	Hour    int
	Minute  int

	c     *cron.Cron
	entry cron.EntryID
	sched cron.Schedule
	loc   *time.Location

	once    sync.Once
	stopped chan struct{}
}

func newTrigger(g groups.Group, hour, minute int, loc *time.Location) *Trigger {
	return &Trigger{
		GroupID: g.ID,
		Name:    g.DisplayName(),
		Clock:   fmt.Sprintf("%02d:%02d", hour, minute),
		Hour:    hour,
		Minute:  minute,
		loc:     loc,
		stopped: make(chan struct{}),
	}
}

// Spec is the 5-field cron expression of the trigger.
func (t *Trigger) Spec() string { return fmt.Sprintf("%d %d * * *", t.Minute, t.Hour) }

func (t *Trigger) Stop() {
	t.once.Do(func() {
		if t.c != nil {
			t.c.Remove(t.entry)
		}
		close(t.stopped)
	})
}

func (t *Trigger) Active() bool {
	select {
	case <-t.stopped:
		return false
	default:
		return true
	}
}

// Next is the next fire time after now, zero once stopped.
func (t *Trigger) Next(now time.Time) time.Time {
	if !t.Active() || t.sched == nil {
		return time.Time{}
	}
	return t.sched.Next(now.In(t.loc))
}

type TriggerInfo struct {
	GroupID string    `json:"group_id"`
	Name    string    `json:"name"`
	Clock   string    `json:"clock"`
	Next    time.Time `json:"next"`
}

// Status is the registry as seen by operators.
type Status struct {
	Enabled  bool            `json:"enabled"`
	Timezone string          `json:"timezone"`
	Count    int             `json:"count"`
	GroupIDs []string        `json:"group_ids"`
	Triggers []TriggerInfo   `json:"triggers"`
	Engine   engine.Snapshot `json:"-"`
}
