package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"streakbot/internal/storage"
	"streakbot/internal/task/scheduler"
)

// Ops is the slice of the scheduler the operator commands drive.
type Ops interface {
	Status() scheduler.Status
	Reload(ctx context.Context) (int, error)
	RunNow(ctx context.Context, groupID string) error
}

type RunLog interface {
	RecentRuns(ctx context.Context, limit int) ([]storage.RunRecord, error)
}

// OpsCommands returns /status, /reload, /run and /runs.
func OpsCommands(ops Ops, runs RunLog) []Command {
	return []Command{
		{
			Name:        "status",
			Description: "scheduled groups and next fire times",
			Timeout:     5 * time.Second,
			Handle: func(ctx context.Context, req *Request) error {
				req.Reply(ctx, FormatStatus(ops.Status(), time.Now()))
				return nil
			},
		},
		{
			Name:        "reload",
			Description: "re-read groups and rebuild triggers",
			Timeout:     30 * time.Second,
			Handle: func(ctx context.Context, req *Request) error {
				n, err := ops.Reload(ctx)
				if err != nil {
					return err
				}
				req.Reply(ctx, fmt.Sprintf("🔄 %d trigger(s) registered", n))
				return nil
			},
		},
		{
			Name:        "run",
			Usage:       "/run <group-id>",
			Description: "run a group now",
			Timeout:     10 * time.Second,
			Handle: func(ctx context.Context, req *Request) error {
				if len(req.Args) != 1 {
					return errors.New("usage: /run <group-id>")
				}
				if err := ops.RunNow(ctx, req.Args[0]); err != nil {
					return err
				}
				req.Reply(ctx, "▶️ queued "+req.Args[0])
				return nil
			},
		},
		{
			Name:        "runs",
			Usage:       "/runs [n]",
			Description: "recent run results",
			Timeout:     5 * time.Second,
			Handle: func(ctx context.Context, req *Request) error {
				if runs == nil {
					return errors.New("run history unavailable")
				}
				limit := 5
				if len(req.Args) > 0 {
					n, err := strconv.Atoi(req.Args[0])
					if err != nil || n <= 0 {
						return errors.New("usage: /runs [n]")
					}
					limit = min(n, 50)
				}
				recs, err := runs.RecentRuns(ctx, limit)
				if err != nil {
					return err
				}
				req.Reply(ctx, FormatRuns(recs))
				return nil
			},
		},
	}
}

func FormatStatus(st scheduler.Status, now time.Time) string {
	var b strings.Builder
	state := "on"
	if !st.Enabled {
		state = "off"
	}
	fmt.Fprintf(&b, "📅 Scheduler %s (%s), %d trigger(s)\n", state, st.Timezone, st.Count)
	for _, t := range st.Triggers {
		fmt.Fprintf(&b, "• %s [%s] %s", t.Name, t.GroupID, t.Clock)
		if !t.Next.IsZero() {
			fmt.Fprintf(&b, ", next in %s", t.Next.Sub(now).Round(time.Minute))
		}
		b.WriteByte('\n')
	}
	e := st.Engine
	fmt.Fprintf(&b, "⚙️ Engine: %d worker(s), %d queued, %d in flight, %d dropped", e.Workers, e.QueueLen, e.InFlight, e.Dropped)
	return b.String()
}

func FormatRuns(recs []storage.RunRecord) string {
	if len(recs) == 0 {
		return "no runs yet"
	}
	var b strings.Builder
	for i, r := range recs {
		if i > 0 {
			b.WriteByte('\n')
		}
		mark := "✅"
		if r.Fatal {
			mark = "❌"
		} else if r.Failure > 0 {
			mark = "⚠️"
		}
		name := r.GroupName
		if name == "" {
			name = r.GroupID
		}
		fmt.Fprintf(&b, "%s %s %s (%s): ", mark, r.StartedAt.Format("01-02 15:04"), name, r.Trigger)
		if r.Fatal {
			b.WriteString("aborted: " + r.Reason)
		} else {
			fmt.Fprintf(&b, "%d/%d sent", r.Success, r.Total)
		}
	}
	return b.String()
}
