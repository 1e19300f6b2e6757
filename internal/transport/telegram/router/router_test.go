package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"streakbot/internal/storage"
	"streakbot/internal/task/scheduler"
	kit "streakbot/internal/transport"
	logx "streakbot/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type chat struct {
	mu   sync.Mutex
	sent []string
	menu []kit.BotCommand
}

func (c *chat) Start(context.Context, chan<- kit.Update) error { return nil }
func (c *chat) Stop(context.Context) error                     { return nil }

func (c *chat) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	c.mu.Lock()
	c.sent = append(c.sent, text)
	c.mu.Unlock()
	return kit.MessageRef{}, nil
}

func (c *chat) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	c.mu.Lock()
	c.menu = cmds
	c.mu.Unlock()
	return nil
}

func (c *chat) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

type fakeOps struct {
	mu     sync.Mutex
	ran    []string
	runErr error
}

func (f *fakeOps) Status() scheduler.Status {
	return scheduler.Status{Enabled: true, Timezone: "UTC", Count: 1, Triggers: []scheduler.TriggerInfo{
		{GroupID: "g1", Name: "Besties", Clock: "09:00"},
	}}
}

func (f *fakeOps) Reload(context.Context) (int, error) { return 3, nil }

func (f *fakeOps) RunNow(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = append(f.ran, id)
	return f.runErr
}

const owner = 42

func start(t *testing.T, ops Ops, runs RunLog) (*chat, chan kit.Update) {
	t.Helper()
	c := &chat{}
	r := New(logx.Nop(), c, []int64{owner})
	r.Register(context.Background(), OpsCommands(ops, runs)...)

	updates := make(chan kit.Update, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.DispatchLoop(ctx, updates)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c, updates
}

func say(from int64, text string) kit.Update {
	return kit.Update{Message: &kit.Message{ChatID: 7, FromID: from, Text: text}}
}

func waitSent(t *testing.T, c *chat, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool { return len(c.Sent()) >= n }, 2*time.Second, 5*time.Millisecond)
	return c.Sent()
}

func TestRegisterPublishesMenu(t *testing.T) {
	c, _ := start(t, &fakeOps{}, nil)
	c.mu.Lock()
	defer c.mu.Unlock()
	var names []string
	for _, m := range c.menu {
		names = append(names, m.Command)
	}
	require.Equal(t, []string{"help", "reload", "run", "runs", "status"}, names)
}

func TestStatusForOwner(t *testing.T) {
	c, up := start(t, &fakeOps{}, nil)
	up <- say(owner, "/status@streak_bot")
	got := waitSent(t, c, 1)
	require.Contains(t, got[0], "Scheduler on (UTC), 1 trigger(s)")
	require.Contains(t, got[0], "Besties [g1] 09:00")
}

func TestNonOwnerIgnored(t *testing.T) {
	ops := &fakeOps{}
	c, up := start(t, ops, nil)
	up <- say(99, "/run g1")
	up <- say(owner, "/reload")
	got := waitSent(t, c, 1)
	require.Equal(t, "🔄 3 trigger(s) registered", got[0])
	require.Empty(t, ops.ran)
}

func TestRunQueuesGroup(t *testing.T) {
	ops := &fakeOps{}
	c, up := start(t, ops, nil)
	up <- say(owner, "/run g1")
	got := waitSent(t, c, 1)
	require.Equal(t, "▶️ queued g1", got[0])
}

func TestRunErrorIsReplied(t *testing.T) {
	ops := &fakeOps{runErr: errors.New("unknown group: nope")}
	c, up := start(t, ops, nil)
	up <- say(owner, "/run nope")
	got := waitSent(t, c, 1)
	require.Equal(t, "❌ unknown group: nope", got[0])
}

func TestRunUsage(t *testing.T) {
	c, up := start(t, &fakeOps{}, nil)
	up <- say(owner, "/run")
	got := waitSent(t, c, 1)
	require.Contains(t, got[0], "usage: /run <group-id>")
}

func TestUnknownCommand(t *testing.T) {
	c, up := start(t, &fakeOps{}, nil)
	up <- say(owner, "/nope")
	up <- say(owner, "just chatting")
	got := waitSent(t, c, 1)
	require.Equal(t, "unknown command, try /help", got[0])
}

func TestRunsListsHistory(t *testing.T) {
	runs := storage.NewMemory()
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, runs.AppendRun(context.Background(), storage.RunRecord{GroupID: "g1", GroupName: "Besties", Trigger: "schedule", StartedAt: at, Success: 2, Failure: 1, Total: 3}))
	require.NoError(t, runs.AppendRun(context.Background(), storage.RunRecord{GroupID: "g2", Trigger: "manual", StartedAt: at, Fatal: true, Reason: "login failed", Failure: 1, Total: 1}))

	c, up := start(t, &fakeOps{}, runs)
	up <- say(owner, "/runs")
	got := waitSent(t, c, 1)
	require.Equal(t, "❌ 05-01 09:00 g2 (manual): aborted: login failed\n⚠️ 05-01 09:00 Besties (schedule): 2/3 sent", got[0])
}

func TestHelpListsCommands(t *testing.T) {
	c, up := start(t, &fakeOps{}, nil)
	up <- say(owner, "/help")
	got := waitSent(t, c, 1)
	require.Contains(t, got[0], "/run <group-id> - run a group now")
	require.Contains(t, got[0], "/status - scheduled groups")
}
