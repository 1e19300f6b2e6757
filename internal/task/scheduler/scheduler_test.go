package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"streakbot/internal/batch"
	"streakbot/internal/dm"
	"streakbot/internal/groups"
	"streakbot/internal/progress"
	"streakbot/internal/storage"
	"streakbot/internal/task/engine"
	logx "streakbot/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type staticSource struct {
	mu   sync.Mutex
	data groups.Data
	err  error
}

func (s *staticSource) Load(context.Context) (groups.Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data, s.err
}

func (s *staticSource) set(d groups.Data, err error) {
	s.mu.Lock()
	s.data, s.err = d, err
	s.mu.Unlock()
}

type recordingExecutor struct {
	mu    sync.Mutex
	calls []batch.Config
	fail  error
}

func (e *recordingExecutor) RunBatch(ctx context.Context, cfg batch.Config, p progress.Sink) (batch.Result, error) {
	e.mu.Lock()
	e.calls = append(e.calls, cfg)
	fail := e.fail
	e.mu.Unlock()
	p.Line("[1/1] Sending to someone")
	now := time.Now()
	res := batch.Result{RunID: "r-" + cfg.GroupID, StartedAt: now, FinishedAt: now, Total: len(cfg.Targets)}
	if fail != nil {
		res.Fatal, res.Reason, res.Failure = true, fail.Error(), len(cfg.Targets)
		return res, fail
	}
	res.Success = len(cfg.Targets)
	return res, nil
}

func (e *recordingExecutor) Calls() []batch.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]batch.Config(nil), e.calls...)
}

type notes struct {
	mu    sync.Mutex
	lines []string
}

func (n *notes) Announce(_ context.Context, text string) {
	n.mu.Lock()
	n.lines = append(n.lines, text)
	n.mu.Unlock()
}

func (n *notes) All() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.lines...)
}

type harness struct {
	svc   *Service
	src   *staticSource
	exec  *recordingExecutor
	notes *notes
	runs  *storage.Memory
}

func newHarness(t *testing.T, data groups.Data) *harness {
	t.Helper()
	h := &harness{
		src:   &staticSource{data: data},
		exec:  &recordingExecutor{},
		notes: &notes{},
		runs:  storage.NewMemory(),
	}
	eng := engine.New(engine.Config{Workers: 2}, logx.Nop(), nil)
	eng.Start(context.Background())
	h.svc = New(Config{Enabled: true, Timezone: "UTC"}, Deps{
		Source:   h.src,
		Executor: h.exec,
		Engine:   eng,
		Runs:     h.runs,
		Notifier: h.notes,
		Log:      logx.Nop(),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.svc.Stop(ctx)
		eng.Stop(ctx)
	})
	return h
}

func creds() groups.Credentials {
	return groups.Credentials{Username: "streaker", Password: "hunter2"}
}

func group(id, clock string, enabled bool, n int) groups.Group {
	g := groups.Group{ID: id, Name: "Group " + id, ScheduleEnabled: enabled, ScheduleTime: clock}
	for i := 0; i < n; i++ {
		g.Targets = append(g.Targets, dm.Target{Handle: "friend", Message: "🔥"})
	}
	return g
}

func TestReloadRegistersEligibleGroupsOnly(t *testing.T) {
	h := newHarness(t, groups.Data{Credentials: creds(), Groups: []groups.Group{
		group("a", "09:00", true, 1),
		group("b", "21:30", true, 2),
		group("off", "10:00", false, 1),
		group("empty", "10:00", true, 0),
		group("bad", "25:00", true, 1),
		group("blank", "", true, 1),
	}})

	n, err := h.svc.Reload(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)

	st := h.svc.Status()
	require.Equal(t, 2, st.Count)
	require.Equal(t, []string{"a", "b"}, st.GroupIDs)
	require.Equal(t, "UTC", st.Timezone)
	for _, tr := range st.Triggers {
		require.False(t, tr.Next.IsZero())
	}
}

func TestReloadIsIdempotent(t *testing.T) {
	h := newHarness(t, groups.Data{Credentials: creds(), Groups: []groups.Group{
		group("a", "09:00", true, 1),
	}})
	first, _ := h.svc.Trigger("a")
	require.Nil(t, first)

	_, err := h.svc.Reload(context.Background())
	require.NoError(t, err)
	old, ok := h.svc.Trigger("a")
	require.True(t, ok)

	n, err := h.svc.Reload(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.False(t, old.Active())
	cur, _ := h.svc.Trigger("a")
	require.True(t, cur.Active())
	require.Len(t, h.svc.c.Entries(), 1)
}

func TestReloadDropsRemovedGroups(t *testing.T) {
	h := newHarness(t, groups.Data{Credentials: creds(), Groups: []groups.Group{
		group("a", "09:00", true, 1),
		group("b", "09:00", true, 1),
	}})
	_, err := h.svc.Reload(context.Background())
	require.NoError(t, err)
	b, _ := h.svc.Trigger("b")

	h.src.set(groups.Data{Credentials: creds(), Groups: []groups.Group{group("a", "09:00", true, 1)}}, nil)
	n, err := h.svc.Reload(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.False(t, b.Active())
	_, ok := h.svc.Trigger("b")
	require.False(t, ok)
}

func TestReloadErrorLeavesNoTriggers(t *testing.T) {
	h := newHarness(t, groups.Data{Credentials: creds(), Groups: []groups.Group{group("a", "09:00", true, 1)}})
	_, err := h.svc.Reload(context.Background())
	require.NoError(t, err)

	boom := errors.New("unreadable")
	h.src.set(groups.Data{}, boom)
	n, err := h.svc.Reload(context.Background())
	require.ErrorIs(t, err, boom)
	require.Zero(t, n)
	require.Zero(t, h.svc.Status().Count)
}

func TestSameTimeTriggersAreIndependent(t *testing.T) {
	h := newHarness(t, groups.Data{Credentials: creds(), Groups: []groups.Group{
		group("a", "09:00", true, 1),
		group("b", "09:00", true, 1),
	}})
	_, err := h.svc.Reload(context.Background())
	require.NoError(t, err)

	a, _ := h.svc.Trigger("a")
	b, _ := h.svc.Trigger("b")
	require.Equal(t, a.Next(time.Now()), b.Next(time.Now()))

	a.Stop()
	a.Stop()
	require.False(t, a.Active())
	require.True(t, b.Active())
	require.True(t, a.Next(time.Now()).IsZero())
	require.Len(t, h.svc.c.Entries(), 1)
}

func TestNextHonoursClock(t *testing.T) {
	h := newHarness(t, groups.Data{Credentials: creds(), Groups: []groups.Group{group("a", "9:05", true, 1)}})
	_, err := h.svc.Reload(context.Background())
	require.NoError(t, err)
	tr, _ := h.svc.Trigger("a")
	require.Equal(t, "09:05", tr.Clock)

	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC), tr.Next(now))
	now = time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 3, 2, 9, 5, 0, 0, time.UTC), tr.Next(now))
}

func TestFireRunsBatchAndRecords(t *testing.T) {
	h := newHarness(t, groups.Data{Credentials: creds(), Groups: []groups.Group{group("a", "09:00", true, 3)}})
	_, err := h.svc.Reload(context.Background())
	require.NoError(t, err)
	tr, _ := h.svc.Trigger("a")

	h.svc.fire(tr, "a")

	require.Eventually(t, func() bool {
		runs, _ := h.runs.RecentRuns(context.Background(), 10)
		return len(runs) == 1
	}, 5*time.Second, 5*time.Millisecond)

	calls := h.exec.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, "a", calls[0].GroupID)
	require.Equal(t, "streaker", calls[0].Credentials.Username)
	require.True(t, calls[0].Headless)
	require.Len(t, calls[0].Targets, 3)

	runs, _ := h.runs.RecentRuns(context.Background(), 10)
	require.Equal(t, KindScheduled, runs[0].Trigger)
	require.Equal(t, 3, runs[0].Success)

	require.Eventually(t, func() bool { return len(h.notes.All()) == 2 }, 5*time.Second, 5*time.Millisecond)
	got := h.notes.All()
	require.Contains(t, got[0], "Scheduled execution started: Group a")
	require.Contains(t, got[1], `Group "Group a" completed: 3 sent, 0 failed, 3 total`)
}

func TestFireWithoutCredentialsSkips(t *testing.T) {
	h := newHarness(t, groups.Data{Groups: []groups.Group{group("a", "09:00", true, 1)}})
	n, err := h.svc.Reload(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	tr, _ := h.svc.Trigger("a")

	h.svc.fire(tr, "a")

	require.Empty(t, h.exec.Calls())
	require.Len(t, h.notes.All(), 1)
	require.Contains(t, h.notes.All()[0], "credentials not configured")
	require.True(t, tr.Active())
}

func TestFireAfterStopDoesNothing(t *testing.T) {
	h := newHarness(t, groups.Data{Credentials: creds(), Groups: []groups.Group{group("a", "09:00", true, 1)}})
	_, err := h.svc.Reload(context.Background())
	require.NoError(t, err)
	tr, _ := h.svc.Trigger("a")
	tr.Stop()

	h.svc.fire(tr, "a")
	require.Empty(t, h.exec.Calls())
}

func TestFatalBatchNotifiesFailure(t *testing.T) {
	h := newHarness(t, groups.Data{Credentials: creds(), Groups: []groups.Group{group("a", "09:00", true, 2)}})
	h.exec.fail = errors.New("login failed at channel")

	require.NoError(t, h.svc.RunNow(context.Background(), "a"))
	require.Eventually(t, func() bool { return len(h.notes.All()) == 2 }, 5*time.Second, 5*time.Millisecond)
	got := h.notes.All()
	require.Contains(t, got[0], "Manual execution started")
	require.Contains(t, got[1], `Group "Group a" failed: aborted: login failed at channel`)

	runs, _ := h.runs.RecentRuns(context.Background(), 10)
	require.Len(t, runs, 1)
	require.True(t, runs[0].Fatal)
	require.Equal(t, KindManual, runs[0].Trigger)
	require.Equal(t, 2, runs[0].Failure)
}

func TestRunNowUnknownGroup(t *testing.T) {
	h := newHarness(t, groups.Data{Credentials: creds()})
	err := h.svc.RunNow(context.Background(), "nope")
	require.ErrorIs(t, err, ErrUnknownGroup)
}

func TestRunNowWithoutCredentials(t *testing.T) {
	h := newHarness(t, groups.Data{Groups: []groups.Group{group("a", "", false, 1)}})
	err := h.svc.RunNow(context.Background(), "a")
	require.ErrorIs(t, err, batch.ErrInvalidConfig)
	require.Empty(t, h.exec.Calls())
}

func TestStopStopsEveryTrigger(t *testing.T) {
	h := newHarness(t, groups.Data{Credentials: creds(), Groups: []groups.Group{
		group("a", "09:00", true, 1),
		group("b", "10:00", true, 1),
	}})
	h.svc.Start(context.Background())
	_, err := h.svc.Reload(context.Background())
	require.NoError(t, err)
	a, _ := h.svc.Trigger("a")
	b, _ := h.svc.Trigger("b")

	h.svc.Stop(context.Background())
	require.False(t, a.Active())
	require.False(t, b.Active())
	require.Zero(t, h.svc.Status().Count)
}

func TestApplyTimezoneReregisters(t *testing.T) {
	h := newHarness(t, groups.Data{Credentials: creds(), Groups: []groups.Group{group("a", "09:00", true, 1)}})
	_, err := h.svc.Reload(context.Background())
	require.NoError(t, err)

	h.svc.Apply(context.Background(), Config{Enabled: true, Timezone: "Asia/Tokyo"})
	st := h.svc.Status()
	require.Equal(t, "Asia/Tokyo", st.Timezone)
	require.Equal(t, 1, st.Count)
	tr, _ := h.svc.Trigger("a")
	next := tr.Next(time.Now())
	tokyo, _ := time.LoadLocation("Asia/Tokyo")
	require.Equal(t, 9, next.In(tokyo).Hour())
}

func TestDisabledSchedulerRegistersNothing(t *testing.T) {
	h := newHarness(t, groups.Data{Credentials: creds(), Groups: []groups.Group{
		group("a", "09:00", true, 1),
		group("b", "10:00", true, 1),
	}})
	h.svc.Apply(context.Background(), Config{Enabled: false, Timezone: "UTC"})

	n, err := h.svc.Reload(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
	st := h.svc.Status()
	require.False(t, st.Enabled)
	require.Zero(t, st.Count)
	require.Empty(t, st.Triggers)

	h.svc.Apply(context.Background(), Config{Enabled: true, Timezone: "UTC"})
	require.Equal(t, 2, h.svc.Status().Count)
	tr, ok := h.svc.Trigger("a")
	require.True(t, ok)
	require.True(t, tr.Active())
}
