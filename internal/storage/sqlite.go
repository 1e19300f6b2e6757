package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "streakbot/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db     *sql.DB
	log    logx.Logger
	keep   int
	closed atomic.Bool
	writes atomic.Uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer; host and batch children coordinate through busy_timeout
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			log.Warn("sqlite pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}
	if _, err := db.Exec(migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log, keep: cfg.runHistory()}, nil
}

func (s *sqliteStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadSession(ctx context.Context, identity string) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, ErrClosed
	}
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT blob FROM sessions WHERE identity = ?`, normIdentity(identity)).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return blob, true, nil
}

func (s *sqliteStore) SaveSession(ctx context.Context, identity string, blob []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(identity, blob, updated_at) VALUES(?,?,?)
		 ON CONFLICT(identity) DO UPDATE SET blob=excluded.blob, updated_at=excluded.updated_at`,
		normIdentity(identity), blob, time.Now().UnixMilli(),
	)
	return err
}

func (s *sqliteStore) DeleteSession(ctx context.Context, identity string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE identity = ?`, normIdentity(identity))
	return err
}

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) error {
	if s.closed.Load() {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(run_id, group_id, group_name, trigger, started_at, finished_at, success, failure, total, fatal, reason, session_restored)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.RunID, r.GroupID, nullStr(r.GroupName), r.Trigger, r.StartedAt.UnixMilli(), r.FinishedAt.UnixMilli(),
		r.Success, r.Failure, r.Total, r.Fatal, nullStr(r.Reason), r.SessionRestored,
	)
	if err == nil && s.writes.Add(1)%50 == 0 {
		s.prune(ctx)
	}
	return err
}

func (s *sqliteStore) prune(ctx context.Context) {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE id <= (SELECT id FROM runs ORDER BY id DESC LIMIT 1 OFFSET ?)`, s.keep)
	if err != nil {
		s.log.Debug("prune runs failed", logx.Err(err))
	}
}

func (s *sqliteStore) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, group_id, COALESCE(group_name,''), trigger, started_at, finished_at,
		        success, failure, total, fatal, COALESCE(reason,''), session_restored
		 FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r             RunRecord
			started, done int64
		)
		if err := rows.Scan(&r.RunID, &r.GroupID, &r.GroupName, &r.Trigger, &started, &done,
			&r.Success, &r.Failure, &r.Total, &r.Fatal, &r.Reason, &r.SessionRestored); err != nil {
			return nil, err
		}
		r.StartedAt = time.UnixMilli(started)
		r.FinishedAt = time.UnixMilli(done)
		out = append(out, r)
	}
	return out, rows.Err()
}

func normIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
