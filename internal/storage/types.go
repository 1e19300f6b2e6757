package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "file": a directory of JSON blobs plus runs.jsonl, guarded by a lock file
//   - "sqlite": a single SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // lock wait (file) or busy_timeout (sqlite)
	RunHistory  int           // run records kept; 0 means 500
}

// Store is shared by the host process and batch child processes. Session
// writes are last-writer-wins.
type Store interface {
	// LoadSession returns the blob saved for identity, ok=false when none.
	LoadSession(ctx context.Context, identity string) (blob []byte, ok bool, err error)
	SaveSession(ctx context.Context, identity string, blob []byte) error
	DeleteSession(ctx context.Context, identity string) error

	AppendRun(ctx context.Context, r RunRecord) error
	// RecentRuns returns up to limit records, newest first.
	RecentRuns(ctx context.Context, limit int) ([]RunRecord, error)

	Close() error
}

// RunRecord is the per-run summary kept for operators.
type RunRecord struct {
	RunID           string    `json:"run_id"`
	GroupID         string    `json:"group_id"`
	GroupName       string    `json:"group_name,omitempty"`
	Trigger         string    `json:"trigger"` // "schedule" or "manual"
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	Success         int       `json:"success"`
	Failure         int       `json:"failure"`
	Total           int       `json:"total"`
	Fatal           bool      `json:"fatal,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	SessionRestored bool      `json:"session_restored,omitempty"`
}

func (c Config) runHistory() int {
	if c.RunHistory <= 0 {
		return 500
	}
	return c.RunHistory
}
