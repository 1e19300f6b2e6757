package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "streakbot/pkg/logx"
)

func openAll(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	fs, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "files"), RunHistory: 3}, logx.Nop())
	require.NoError(t, err)
	sq, err := Open(Config{Driver: "sqlite", Path: filepath.Join(dir, "db", "test.db"), RunHistory: 3}, logx.Nop())
	require.NoError(t, err)
	stores := map[string]Store{"file": fs, "sqlite": sq, "memory": NewMemory()}
	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func TestSessionRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for name, s := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.LoadSession(ctx, "alice@example.com")
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, s.SaveSession(ctx, "alice@example.com", []byte(`[{"name":"sid"}]`)))
			require.NoError(t, s.SaveSession(ctx, " Alice@Example.com", []byte(`[{"name":"sid2"}]`)))

			blob, ok, err := s.LoadSession(ctx, "alice@example.com")
			require.NoError(t, err)
			require.True(t, ok)
			require.JSONEq(t, `[{"name":"sid2"}]`, string(blob), "last writer wins")

			require.NoError(t, s.DeleteSession(ctx, "alice@example.com"))
			require.NoError(t, s.DeleteSession(ctx, "alice@example.com"))
			_, ok, err = s.LoadSession(ctx, "alice@example.com")
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestRecentRunsNewestFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	for name, s := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 5; i++ {
				require.NoError(t, s.AppendRun(ctx, RunRecord{
					RunID: fmt.Sprint(i), GroupID: "g", Trigger: "schedule",
					StartedAt: base.Add(time.Duration(i) * time.Minute), FinishedAt: base.Add(time.Duration(i)*time.Minute + time.Second),
					Success: i, Total: 4, Failure: 4 - i,
				}))
			}
			got, err := s.RecentRuns(ctx, 2)
			require.NoError(t, err)
			require.Len(t, got, 2)
			require.Equal(t, "4", got[0].RunID)
			require.Equal(t, "3", got[1].RunID)
			require.True(t, got[0].StartedAt.Equal(base.Add(4*time.Minute)))
		})
	}
}

func TestFileStoreCompactsRuns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, err := Open(Config{Driver: "file", Path: t.TempDir(), RunHistory: 2}, logx.Nop())
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendRun(ctx, RunRecord{RunID: fmt.Sprint(i)}))
	}
	recs, err := readRuns(s.(*fileStore).runsPath())
	require.NoError(t, err)
	require.LessOrEqual(t, len(recs), 4)
	require.Equal(t, "4", recs[len(recs)-1].RunID)
}

func TestFileStoreConcurrentWriters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	a, err := Open(Config{Driver: "file", Path: dir}, logx.Nop())
	require.NoError(t, err)
	b, err := Open(Config{Driver: "file", Path: dir}, logx.Nop())
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) { defer wg.Done(); _ = a.SaveSession(ctx, "id", []byte(fmt.Sprintf(`"a%d"`, i))) }(i)
		go func(i int) { defer wg.Done(); _ = b.SaveSession(ctx, "id", []byte(fmt.Sprintf(`"b%d"`, i))) }(i)
	}
	wg.Wait()

	blob, ok, err := a.LoadSession(ctx, "id")
	require.NoError(t, err)
	require.True(t, ok)
	require.Regexp(t, `^"[ab]\d"$`, string(blob))
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{Driver: "redis"}, logx.Nop())
	require.Error(t, err)
}
