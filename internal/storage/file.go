package storage

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	logx "streakbot/pkg/logx"
)

// fileStore keeps everything under one directory:
//
//	<dir>/.lock                  cross-process lock (gofrs/flock)
//	<dir>/sessions/<key>.json    one blob per identity, replaced via tmp+rename
//	<dir>/runs.jsonl             run summaries, compacted past RunHistory
type fileStore struct {
	log      logx.Logger
	dir      string
	mu       sync.Mutex // flock is per-process reentrant, mu orders goroutines
	lock     *flock.Flock
	lockWait time.Duration
	keep     int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Join(dir, "sessions"), 0o700); err != nil {
		return nil, err
	}
	wait := cfg.BusyTimeout
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &fileStore{
		log:      log,
		dir:      dir,
		lock:     flock.New(filepath.Join(dir, ".lock")),
		lockWait: wait,
		keep:     cfg.runHistory(),
	}, nil
}

// withLock holds the directory lock for fn. Child processes share it.
func (s *fileStore) withLock(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lctx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()
	ok, err := s.lock.TryLockContext(lctx, 25*time.Millisecond)
	if err != nil {
		return fmt.Errorf("storage lock: %w", err)
	}
	if !ok {
		return errors.New("storage lock: not acquired")
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}

// sessionPath hashes the identity so any handle is a safe file name.
func (s *fileStore) sessionPath(identity string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(identity))))
	return filepath.Join(s.dir, "sessions", hex.EncodeToString(sum[:12])+".json")
}

func (s *fileStore) LoadSession(ctx context.Context, identity string) ([]byte, bool, error) {
	var (
		blob []byte
		ok   bool
	)
	err := s.withLock(ctx, func() error {
		b, err := os.ReadFile(s.sessionPath(identity))
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		blob, ok = b, true
		return nil
	})
	return blob, ok, err
}

func (s *fileStore) SaveSession(ctx context.Context, identity string, blob []byte) error {
	return s.withLock(ctx, func() error {
		return writeFileAtomic(s.sessionPath(identity), blob, 0o600)
	})
}

func (s *fileStore) DeleteSession(ctx context.Context, identity string) error {
	return s.withLock(ctx, func() error {
		err := os.Remove(s.sessionPath(identity))
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	})
}

func (s *fileStore) runsPath() string { return filepath.Join(s.dir, "runs.jsonl") }

func (s *fileStore) AppendRun(ctx context.Context, r RunRecord) error {
	line, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.withLock(ctx, func() error {
		f, err := os.OpenFile(s.runsPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return err
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		return s.compactLocked()
	})
}

// compactLocked rewrites runs.jsonl keeping the newest records once the
// file holds more than twice the limit.
func (s *fileStore) compactLocked() error {
	recs, err := readRuns(s.runsPath())
	if err != nil || len(recs) <= 2*s.keep {
		return err
	}
	recs = recs[len(recs)-s.keep:]
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	s.log.Debug("compacted run history", logx.Int("kept", len(recs)))
	return writeFileAtomic(s.runsPath(), buf.Bytes(), 0o600)
}

func (s *fileStore) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	var recs []RunRecord
	err := s.withLock(ctx, func() error {
		var err error
		recs, err = readRuns(s.runsPath())
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]RunRecord, 0, min(limit, len(recs)))
	for i := len(recs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, recs[i])
	}
	return out, nil
}

func (s *fileStore) Close() error { return s.lock.Close() }

// readRuns skips lines it cannot decode, such as a torn final write.
func readRuns(path string) ([]RunRecord, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []RunRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		var r RunRecord
		if json.Unmarshal(sc.Bytes(), &r) == nil {
			out = append(out, r)
		}
	}
	return out, sc.Err()
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Chmod(name, perm); err != nil {
		_ = os.Remove(name)
		return err
	}
	return os.Rename(name, path)
}
