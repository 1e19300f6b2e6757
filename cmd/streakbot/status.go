package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"streakbot/internal/batch"
	"streakbot/internal/config"
	"streakbot/internal/groups"
	"streakbot/internal/storage"
	logx "streakbot/pkg/logx"
)

var (
	okMark   = color.New(color.FgGreen).SprintFunc()
	failMark = color.New(color.FgRed).SprintFunc()
	warnMark = color.New(color.FgYellow).SprintFunc()
	dim      = color.New(color.Faint).SprintFunc()
)

func newStatusCmd() *cobra.Command {
	var cfgPath string
	var limit int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the schedule and recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewConfigManager(cfgPath).Load()
			if err != nil {
				return err
			}
			return printStatus(cmd.Context(), cmd.OutOrStdout(), cfg, limit, time.Now())
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", defaultConfig, "path to config json")
	cmd.Flags().IntVar(&limit, "runs", 10, "recent runs to show")
	return cmd
}

type scheduleRow struct {
	group groups.Group
	next  time.Time
	note  string
}

func printStatus(ctx context.Context, w io.Writer, cfg *config.Config, limit int, now time.Time) error {
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
		loc = l
	}

	log := logx.Nop()
	data, err := groups.NewFileSource(cfg.Groups.Path, log).Load(ctx)
	if err != nil {
		return err
	}

	rows := scheduleRows(data, now.In(loc))
	fmt.Fprintf(w, "Schedule (%s, scheduler %s)\n", loc, onOff(cfg.Scheduler.IsEnabled()))
	if !data.Credentials.Login().Valid() {
		fmt.Fprintf(w, "  %s credentials not configured\n", warnMark("⚠"))
	}
	for _, r := range rows {
		if r.next.IsZero() {
			fmt.Fprintf(w, "  %-20s %s\n", r.group.ID, dim(r.note))
			continue
		}
		fmt.Fprintf(w, "  %-20s %s  %s (%d targets)\n",
			r.group.ID, r.next.Format("2006-01-02 15:04"), r.group.DisplayName(), len(r.group.Targets))
	}

	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: cfg.Storage.BusyTimeout.Std(),
	}, log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	runs, err := store.RecentRuns(ctx, limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "\nRecent runs")
	if len(runs) == 0 {
		fmt.Fprintln(w, "  "+dim("none"))
	}
	for _, r := range runs {
		mark := okMark("✔")
		switch {
		case r.Fatal:
			mark = failMark("✘")
		case r.Failure > 0:
			mark = warnMark("!")
		}
		line := fmt.Sprintf("  %s %s %-8s %s: %d sent, %d failed, %d total",
			mark, r.StartedAt.In(loc).Format("01-02 15:04"), r.Trigger, r.GroupName, r.Success, r.Failure, r.Total)
		if r.Reason != "" {
			line += " " + dim("("+r.Reason+")")
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

func scheduleRows(data groups.Data, now time.Time) []scheduleRow {
	rows := make([]scheduleRow, 0, len(data.Groups))
	for _, g := range data.Groups {
		row := scheduleRow{group: g}
		h, m, ok, err := g.Schedule()
		switch {
		case err != nil:
			row.note = "not scheduled: " + err.Error()
		case !ok:
			row.note = "manual"
		default:
			sched, perr := cron.ParseStandard(fmt.Sprintf("%d %d * * *", m, h))
			if perr != nil {
				row.note = perr.Error()
				break
			}
			row.next = sched.Next(now)
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].next, rows[j].next
		if a.IsZero() != b.IsZero() {
			return !a.IsZero()
		}
		return a.Before(b)
	})
	return rows
}

func printResult(w io.Writer, res batch.Result) {
	for _, o := range res.Outcomes {
		mark := okMark("✔")
		if !o.OK {
			mark = failMark("✘")
		}
		line := fmt.Sprintf("  %s %-24s %s", mark, o.Handle, o.Stage)
		if o.Reason != "" {
			line += " " + dim(o.Reason)
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "%s: %s (%s)\n", res.GroupName, res.Summary(), res.Duration().Round(time.Second))
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
