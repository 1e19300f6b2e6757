package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"streakbot/internal/browser"
	"streakbot/internal/browser/browsertest"
	"streakbot/internal/dm"
	"streakbot/internal/login"
	"streakbot/internal/progress"
	"streakbot/internal/session"
	"streakbot/internal/storage"
	logx "streakbot/pkg/logx"
)

const (
	loginURL    = "https://www.tiktok.com/login"
	messagesURL = "https://www.tiktok.com/messages"
)

// world is a scripted site with a working login form and an inbox that
// knows the given chats.
type world struct {
	b         *browsertest.Browser
	mem       *storage.Memory
	artifacts string
	username  *browsertest.Element
	channel   *browsertest.Element
	compose   *browsertest.Element
}

func newWorld(t *testing.T, chats ...string) *world {
	t.Helper()
	w := &world{
		b:         browsertest.New(),
		mem:       storage.NewMemory(),
		artifacts: t.TempDir(),
		username:  &browsertest.Element{Label: "username"},
		compose:   &browsertest.Element{Label: "compose"},
	}
	pass := &browsertest.Element{Label: "password"}
	submit := &browsertest.Element{Label: "submit", OnClick: func(b *browsertest.Browser) {
		b.SeedCookies(browser.Cookie{Name: "sessionid", Value: "fresh", Domain: ".tiktok.com", Path: "/"})
		b.SetURL("https://www.tiktok.com/foryou")
	}}
	w.channel = &browsertest.Element{Label: "Use phone / email / username", OnClick: func(b *browsertest.Browser) {
		b.Show(`input[name="username"]`, w.username)
		b.Show(`input[type="password"]`, pass)
		b.Show(`button[type="submit"]`, submit)
	}}
	w.b.Route(loginURL, &browsertest.Page{Elements: map[string][]*browsertest.Element{
		`[data-e2e="channel-item"]`: {w.channel},
	}})

	inbox := w.b.Route(messagesURL, &browsertest.Page{Elements: map[string][]*browsertest.Element{
		`div[contenteditable="true"]`: {w.compose},
	}})
	for _, c := range chats {
		inbox.Elements[`[data-e2e="chat-list-item"]`] = append(inbox.Elements[`[data-e2e="chat-list-item"]`], &browsertest.Element{Label: c})
	}
	return w
}

func (w *world) seedSession(t *testing.T, identity string) {
	t.Helper()
	require.NoError(t, session.New(w.mem, session.DefaultSettings(), logx.Nop()).Persist(context.Background(), identity,
		[]browser.Cookie{{Name: "sessionid", Value: "saved", Domain: ".tiktok.com", Path: "/"}}))
}

func (w *world) runner() *Runner {
	ss := session.DefaultSettings()
	ss.Settle = 0

	ls := login.DefaultSettings()
	ls.Settle = 0
	ls.ChannelWait = 20 * time.Millisecond
	ls.ChannelPoll = time.Millisecond
	ls.ChannelPause = 0
	ls.SubChannelTimeout = time.Millisecond
	ls.IdentifierTimeout = time.Millisecond
	ls.SecretTimeout = time.Millisecond
	ls.SubmitTimeout = time.Millisecond
	ls.SubmitSettle = time.Millisecond
	ls.SettleFallback = 0
	ls.KeyDelay = 0

	ds := dm.DefaultSettings()
	ds.Settle = 0
	ds.SearchTimeout = time.Millisecond
	ds.SearchSettle = 0
	ds.ResultTimeout = time.Millisecond
	ds.ConversationSettle = 0
	ds.ComposeTimeout = time.Millisecond
	ds.HandleKeyDelay = 0
	ds.MessageKeyDelay = 0
	ds.TargetPause = 0
	ds.ArtifactsDir = w.artifacts

	return NewRunner(Deps{
		Opener:       w.b.Opener(),
		Sessions:     session.New(w.mem, ss, logx.Nop()),
		Login:        login.New(ls, logx.Nop()),
		Sender:       dm.NewSender(ds, logx.Nop()),
		Browser:      browser.Options{ViewportWidth: 1280, ViewportHeight: 720},
		ArtifactsDir: w.artifacts,
		Log:          logx.Nop(),
	})
}

var creds = login.Credentials{Username: "a", Password: "b"}

func requireBalanced(t *testing.T, res Result) {
	t.Helper()
	require.Equal(t, res.Total, res.Success+res.Failure)
	require.Len(t, res.Outcomes, res.Total)
	require.NotEmpty(t, res.RunID)
}

func TestRestoredSessionSkipsLogin(t *testing.T) {
	t.Parallel()
	w := newWorld(t, "alice")
	w.seedSession(t, "a")

	var rec progress.Recorder
	res, err := w.runner().RunBatch(context.Background(), Config{
		Credentials: creds,
		Targets:     []dm.Target{{Handle: "alice", Message: "🔥"}},
		Headless:    true,
	}, &rec)

	require.NoError(t, err)
	requireBalanced(t, res)
	require.True(t, res.SessionRestored)
	require.Equal(t, 1, res.Success)
	require.Zero(t, w.b.CallCount("navigate "+loginURL))
	require.Empty(t, w.username.Typed(), "no credential entry when restored")
	require.Equal(t, 1, w.b.Closed())
	require.True(t, rec.Contains("Restored saved session"))
}

func TestMissingSessionLogsInOnceAndPersists(t *testing.T) {
	t.Parallel()
	w := newWorld(t, "alice", "bob")

	res, err := w.runner().RunBatch(context.Background(), Config{
		Credentials: creds,
		Targets:     []dm.Target{{Handle: "alice", Message: "1"}, {Handle: "bob", Message: "2"}},
		Headless:    true,
	}, progress.Discard)

	require.NoError(t, err)
	requireBalanced(t, res)
	require.False(t, res.SessionRestored)
	require.Equal(t, 2, res.Success)
	require.Equal(t, 1, w.b.CallCount("navigate "+loginURL))
	require.Equal(t, []string{"a"}, w.username.Typed())

	blob, ok, err := w.mem.LoadSession(context.Background(), "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, string(blob), "fresh")
	require.Equal(t, 1, w.b.Closed())

	// Login happens before any target is attempted.
	calls := w.b.Calls()
	loginAt, firstType := -1, -1
	for i, c := range calls {
		if c == "navigate "+loginURL && loginAt < 0 {
			loginAt = i
		}
		if c == "type compose 1" && firstType < 0 {
			firstType = i
		}
	}
	require.Less(t, loginAt, firstType)
}

func TestPersistFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	w := newWorld(t, "alice")
	w.mem.SaveErr = errors.New("read-only fs")

	res, err := w.runner().RunBatch(context.Background(), Config{
		Credentials: creds,
		Targets:     []dm.Target{{Handle: "alice", Message: "1"}},
	}, progress.Discard)

	require.NoError(t, err)
	require.Equal(t, 1, res.Success)
}

func TestAuthenticationFailureIsFatal(t *testing.T) {
	t.Parallel()
	w := newWorld(t, "alice")
	w.b.Route(loginURL, &browsertest.Page{})

	var rec progress.Recorder
	res, err := w.runner().RunBatch(context.Background(), Config{
		Credentials: creds,
		Targets:     []dm.Target{{Handle: "alice", Message: "1"}, {Handle: "bob", Message: "2"}},
		Headless:    true,
	}, &rec)

	require.ErrorIs(t, err, ErrFatal)
	var failed *login.FailedError
	require.ErrorAs(t, err, &failed)
	require.ErrorIs(t, err, login.ErrChannelNotFound)

	requireBalanced(t, res)
	require.True(t, res.Fatal)
	require.Equal(t, "login channel not found", res.Reason)
	require.Equal(t, 2, res.Failure)
	for _, o := range res.Outcomes {
		require.Equal(t, dm.StageSkipped, o.Stage)
		require.Contains(t, o.Reason, "not attempted")
	}
	require.Zero(t, w.b.CallCount("navigate "+messagesURL), "no target is attempted")
	require.Equal(t, 1, w.b.Closed())
	_, serr := os.Stat(filepath.Join(w.artifacts, "error-screenshot.png"))
	require.NoError(t, serr)
	require.True(t, rec.Contains("Browser closed"))
}

func TestHeadlessChallengeIsFatal(t *testing.T) {
	t.Parallel()
	w := newWorld(t, "alice")
	// Submitting lands on a verification page.
	w.channel.OnClick = func(b *browsertest.Browser) {
		b.Show(`input[name="username"]`, w.username)
		b.Show(`input[type="password"]`, &browsertest.Element{Label: "password"})
		b.Show(`button[type="submit"]`, &browsertest.Element{Label: "submit", OnClick: func(b *browsertest.Browser) {
			b.SetURL("https://www.tiktok.com/login/verification")
		}})
	}

	res, err := w.runner().RunBatch(context.Background(), Config{
		Credentials: creds,
		Targets:     []dm.Target{{Handle: "alice", Message: "1"}},
		Headless:    true,
	}, progress.Discard)

	require.ErrorIs(t, err, login.ErrChallengeHeadless)
	require.True(t, res.Fatal)
	require.Equal(t, "challenge requires visible session", res.Reason)
	require.Equal(t, 1, w.b.Closed())
}

func TestInvalidConfigNeverOpensBrowser(t *testing.T) {
	t.Parallel()
	cases := map[string]Config{
		"no username": {Credentials: login.Credentials{Password: "b"}, Targets: []dm.Target{{Handle: "x", Message: "hi"}}},
		"no password": {Credentials: login.Credentials{Username: "a"}, Targets: []dm.Target{{Handle: "x", Message: "hi"}}},
		"no targets":  {Credentials: creds},
	}
	for name, cfg := range cases {
		cfg := cfg
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			w := newWorld(t)
			res, err := w.runner().RunBatch(context.Background(), cfg, progress.Discard)
			require.ErrorIs(t, err, ErrInvalidConfig)
			require.True(t, res.Fatal)
			requireBalanced(t, res)
			require.Empty(t, w.b.Opened())
		})
	}
}

func TestEmptyMessageFailsOnlyThatTarget(t *testing.T) {
	t.Parallel()
	w := newWorld(t, "x")
	w.seedSession(t, "a")

	res, err := w.runner().RunBatch(context.Background(), Config{
		Credentials: creds,
		Targets:     []dm.Target{{Handle: "x", Message: "hi"}, {Handle: "y", Message: ""}},
		Headless:    true,
	}, progress.Discard)

	require.NoError(t, err)
	requireBalanced(t, res)
	require.Equal(t, 2, res.Total)
	require.True(t, res.Outcomes[0].OK)
	require.False(t, res.Outcomes[1].OK)
	require.Equal(t, dm.StageValidate, res.Outcomes[1].Stage)
	require.Equal(t, 1, res.Success)
	require.Equal(t, 1, res.Failure)
}

func TestOpenFailureIsFatal(t *testing.T) {
	t.Parallel()
	w := newWorld(t)
	w.b.OpenErr = errors.New("chrome not found")

	res, err := w.runner().RunBatch(context.Background(), Config{
		Credentials: creds,
		Targets:     []dm.Target{{Handle: "x", Message: "hi"}},
	}, progress.Discard)

	require.ErrorIs(t, err, ErrFatal)
	require.True(t, res.Fatal)
	require.Contains(t, res.Reason, "chrome not found")
	require.Zero(t, w.b.Closed())
}

func TestPanicReleasesBrowser(t *testing.T) {
	t.Parallel()
	w := newWorld(t, "x")
	w.channel.Panic = true

	res, err := w.runner().RunBatch(context.Background(), Config{
		Credentials: creds,
		Targets:     []dm.Target{{Handle: "x", Message: "hi"}},
	}, progress.Discard)

	require.ErrorIs(t, err, ErrFatal)
	require.True(t, res.Fatal)
	require.Contains(t, res.Reason, "panic")
	requireBalanced(t, res)
	require.Equal(t, 1, w.b.Closed())
}

func TestHeadlessFlagReachesBrowser(t *testing.T) {
	t.Parallel()
	w := newWorld(t, "x")
	w.seedSession(t, "a")

	_, err := w.runner().RunBatch(context.Background(), Config{
		Credentials: creds,
		Targets:     []dm.Target{{Handle: "x", Message: "hi"}},
		Headless:    false,
	}, progress.Discard)
	require.NoError(t, err)

	opened := w.b.Opened()
	require.Len(t, opened, 1)
	require.False(t, opened[0].Headless)
	require.Equal(t, 1280, opened[0].ViewportWidth)
}

func TestCancelledContextDoesNotStopRun(t *testing.T) {
	t.Parallel()
	w := newWorld(t, "x")
	w.seedSession(t, "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := w.runner().RunBatch(ctx, Config{
		Credentials: creds,
		Targets:     []dm.Target{{Handle: "x", Message: "hi"}},
	}, progress.Discard)
	require.NoError(t, err)
	require.Equal(t, 1, res.Success)
}

func TestResultRecordKeepsSummaryOnly(t *testing.T) {
	start := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	res := Result{
		RunID: "r1", GroupID: "g", GroupName: "Group", StartedAt: start, FinishedAt: start.Add(time.Minute),
		Success: 1, Failure: 1, Total: 2, SessionRestored: true,
		Outcomes: []dm.Outcome{{Handle: "a", OK: true}, {Handle: "b"}},
	}
	rec := res.Record("schedule")
	require.Equal(t, "schedule", rec.Trigger)
	require.Equal(t, "r1", rec.RunID)
	require.Equal(t, 2, rec.Total)
	require.True(t, rec.SessionRestored)
	require.Equal(t, start.Add(time.Minute), rec.FinishedAt)
}
