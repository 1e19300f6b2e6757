// Package batch runs one group's send job end to end: validate, open a
// browser, restore or log in, send, release. Runner does it in this
// process; ProcessRunner hosts a Runner in a child process.
package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"streakbot/internal/dm"
	"streakbot/internal/login"
	"streakbot/internal/progress"
	"streakbot/internal/storage"
)

var (
	// ErrInvalidConfig is returned before any browser is opened.
	ErrInvalidConfig = errors.New("invalid batch config")
	// ErrFatal marks a batch that stopped before attempting its targets.
	ErrFatal = errors.New("batch aborted")
)

// Executor runs a batch. The returned error is non-nil exactly when the
// Result is fatal.
type Executor interface {
	RunBatch(ctx context.Context, cfg Config, p progress.Sink) (Result, error)
}

// Config is everything one run needs.
type Config struct {
	GroupID     string            `json:"group_id,omitempty"`
	GroupName   string            `json:"group_name,omitempty"`
	Credentials login.Credentials `json:"credentials"`
	Targets     []dm.Target       `json:"targets"`
	Headless    bool              `json:"headless"`
}

func (c Config) Validate() error {
	var errs []error
	if !c.Credentials.Valid() {
		errs = append(errs, errors.New("credentials: username and password are required"))
	}
	if len(c.Targets) == 0 {
		errs = append(errs, errors.New("targets: at least one target is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Result summarizes a run. Success+Failure always equals Total.
type Result struct {
	RunID           string       `json:"run_id"`
	GroupID         string       `json:"group_id,omitempty"`
	GroupName       string       `json:"group_name,omitempty"`
	SessionRestored bool         `json:"session_restored"`
	StartedAt       time.Time    `json:"started_at"`
	FinishedAt      time.Time    `json:"finished_at"`
	Success         int          `json:"success"`
	Failure         int          `json:"failure"`
	Total           int          `json:"total"`
	Fatal           bool         `json:"fatal"`
	Reason          string       `json:"reason,omitempty"`
	Outcomes        []dm.Outcome `json:"outcomes"`
	Screenshot      string       `json:"screenshot,omitempty"`
}

func newResult(cfg Config, now time.Time) Result {
	return Result{
		RunID:     uuid.NewString(),
		GroupID:   cfg.GroupID,
		GroupName: cfg.GroupName,
		StartedAt: now,
		Total:     len(cfg.Targets),
	}
}

// Err reconstructs the run error from a decoded Result.
func (r Result) Err() error {
	if !r.Fatal {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrFatal, r.Reason)
}

func (r Result) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// abort marks every target as not attempted.
func (r *Result) abort(targets []dm.Target, reason string, now time.Time) {
	r.Fatal = true
	r.Reason = reason
	r.Success = 0
	r.Total = len(targets)
	r.Failure = r.Total
	r.Outcomes = make([]dm.Outcome, 0, len(targets))
	for _, t := range targets {
		r.Outcomes = append(r.Outcomes, dm.Outcome{
			TargetID: t.ID,
			Handle:   t.Handle,
			Stage:    dm.StageSkipped,
			Reason:   "not attempted: " + reason,
		})
	}
	r.FinishedAt = now
}

// Summary is the one-line form used in notifications.
func (r Result) Summary() string {
	var b strings.Builder
	if r.Fatal {
		fmt.Fprintf(&b, "aborted: %s", r.Reason)
	} else {
		fmt.Fprintf(&b, "%d sent, %d failed, %d total", r.Success, r.Failure, r.Total)
	}
	if d := r.Duration(); d > 0 {
		fmt.Fprintf(&b, " in %s", d.Round(time.Second))
	}
	return b.String()
}

// Record is the stored summary of r.
func (r Result) Record(trigger string) storage.RunRecord {
	return storage.RunRecord{
		RunID:           r.RunID,
		GroupID:         r.GroupID,
		GroupName:       r.GroupName,
		Trigger:         trigger,
		StartedAt:       r.StartedAt,
		FinishedAt:      r.FinishedAt,
		Success:         r.Success,
		Failure:         r.Failure,
		Total:           r.Total,
		Fatal:           r.Fatal,
		Reason:          r.Reason,
		SessionRestored: r.SessionRestored,
	}
}
