// Package login drives the site's multi-screen sign-in flow as an explicit
// state machine:
//
//	ChannelSelect -> CredentialEntry -> Submitting -> ChallengeCheck -> Authenticated
//
// Any state may end in Failed. Every element lookup goes through an ordered
// candidate list where the first candidate to resolve wins.
package login

import (
	"context"
	"fmt"
	"strings"
	"time"

	"streakbot/internal/browser"
	"streakbot/internal/locate"
	"streakbot/internal/progress"
	logx "streakbot/pkg/logx"
)

type Settings struct {
	LoginURL        string
	NavigateTimeout time.Duration
	Settle          time.Duration

	ChannelSelector string
	ChannelLabel    string
	ChannelWait     time.Duration
	ChannelPoll     time.Duration
	ChannelPause    time.Duration
	// SubChannelLink is optional; its absence is tolerated.
	SubChannelLink    string
	SubChannelTimeout time.Duration

	IdentifierFields  []string
	IdentifierTimeout time.Duration
	SecretFields      []string
	SecretTimeout     time.Duration
	KeyDelay          time.Duration

	SubmitControls []string
	SubmitTimeout  time.Duration
	SubmitSettle   time.Duration
	// SettleFallback is slept when no navigation is observed after submit.
	SettleFallback time.Duration

	ChallengeMarkers []string
	// ManualWindow is how long a visible session waits for a human to solve
	// a challenge. After it the URL is checked once more and the flow
	// proceeds either way.
	ManualWindow time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		LoginURL:        "https://www.tiktok.com/login",
		NavigateTimeout: 60 * time.Second,
		Settle:          3 * time.Second,

		ChannelSelector:   `[data-e2e="channel-item"]`,
		ChannelLabel:      "Use phone / email / username",
		ChannelWait:       10 * time.Second,
		ChannelPoll:       500 * time.Millisecond,
		ChannelPause:      2 * time.Second,
		SubChannelLink:    `a[href="/login/phone-or-email/email"]`,
		SubChannelTimeout: 5 * time.Second,

		IdentifierFields: []string{
			`input[name="username"]`,
			`input[placeholder*="Email"]`,
			`input[placeholder*="username"]`,
			`input[type="text"]`,
		},
		IdentifierTimeout: 2 * time.Second,
		SecretFields:      []string{`input[type="password"]`},
		SecretTimeout:     5 * time.Second,
		KeyDelay:          100 * time.Millisecond,

		SubmitControls: []string{`button[type="submit"]`},
		SubmitTimeout:  5 * time.Second,
		SubmitSettle:   30 * time.Second,
		SettleFallback: 5 * time.Second,

		ChallengeMarkers: []string{"verification", "captcha"},
		ManualWindow:     120 * time.Second,
	}
}

// Outcome describes one pass through the machine.
type Outcome struct {
	State State
	// Trace lists every state entered, in order, ending with the terminal one.
	Trace              []State
	CredentialAttempts int
	ChallengeSeen      bool
	// ChallengeCleared is the result of the re-check after the manual window.
	ChallengeCleared bool
	Err              *FailedError
}

func (o Outcome) Authenticated() bool { return o.State == Authenticated }

type Machine struct {
	settings Settings
	log      logx.Logger
}

func New(settings Settings, log logx.Logger) *Machine {
	return &Machine{settings: settings, log: log.With(logx.String("comp", "login"))}
}

type run struct {
	c        browser.Client
	creds    Credentials
	headless bool
	p        progress.Sink
	out      Outcome
}

type stepFunc func(ctx context.Context, r *run) (State, error)

func (m *Machine) steps() map[State]stepFunc {
	return map[State]stepFunc{
		ChannelSelect:   m.selectChannel,
		CredentialEntry: m.enterCredentials,
		Submitting:      m.submit,
		ChallengeCheck:  m.checkChallenge,
	}
}

// Run performs one full login pass on c and returns its outcome. It does
// not persist anything.
func (m *Machine) Run(ctx context.Context, c browser.Client, creds Credentials, headless bool, p progress.Sink) Outcome {
	r := &run{c: c, creds: creds, headless: headless, p: p}
	progress.Printf(p, "Opening login page")

	state := ChannelSelect
	if err := m.open(ctx, c); err != nil {
		return m.fail(r, state, err)
	}

	steps := m.steps()
	for !state.Terminal() {
		r.out.Trace = append(r.out.Trace, state)
		m.log.Debug("login state", logx.String("state", state.String()))
		next, err := steps[state](ctx, r)
		if err != nil {
			return m.fail(r, state, err)
		}
		state = next
	}
	r.out.Trace = append(r.out.Trace, state)
	r.out.State = state
	progress.Printf(p, "Login successful")
	return r.out
}

func (m *Machine) fail(r *run, at State, err error) Outcome {
	fe := &FailedError{At: at, Err: err}
	r.out.Trace = append(r.out.Trace, Failed)
	r.out.State = Failed
	r.out.Err = fe
	m.log.Warn("login failed", logx.String("state", at.String()), logx.Err(err))
	progress.Printf(r.p, "Login failed: %s", fe.Reason())
	return r.out
}

func (m *Machine) open(ctx context.Context, c browser.Client) error {
	nctx, cancel := context.WithTimeout(ctx, m.settings.NavigateTimeout)
	defer cancel()
	if err := c.Navigate(nctx, m.settings.LoginURL); err != nil {
		return fmt.Errorf("%w: %v", ErrNavigation, err)
	}
	return browser.Sleep(ctx, m.settings.Settle)
}

func (m *Machine) selectChannel(ctx context.Context, r *run) (State, error) {
	s := m.settings
	match, err := locate.First(ctx, locate.Poll(
		locate.TextContains(r.c, s.ChannelSelector, s.ChannelLabel), s.ChannelWait, s.ChannelPoll))
	if err != nil {
		return Failed, fmt.Errorf("%w: %v", ErrChannelNotFound, err)
	}
	if err := match.Element.Click(ctx); err != nil {
		return Failed, fmt.Errorf("%w: click: %v", ErrChannelNotFound, err)
	}
	progress.Printf(r.p, "Selected login channel %q", s.ChannelLabel)
	if err := browser.Sleep(ctx, s.ChannelPause); err != nil {
		return Failed, err
	}

	if s.SubChannelLink == "" {
		return CredentialEntry, nil
	}
	sub, err := locate.First(ctx, locate.CSS(r.c, s.SubChannelLink, s.SubChannelTimeout))
	if err != nil {
		m.log.Debug("sub channel link not present", logx.String("selector", s.SubChannelLink))
		return CredentialEntry, nil
	}
	if err := sub.Element.Click(ctx); err != nil {
		m.log.Debug("sub channel click failed", logx.Err(err))
		return CredentialEntry, nil
	}
	return CredentialEntry, browser.Sleep(ctx, s.ChannelPause)
}

func (m *Machine) enterCredentials(ctx context.Context, r *run) (State, error) {
	s := m.settings
	r.out.CredentialAttempts++

	id, err := locate.First(ctx, locate.CSSList(r.c, s.IdentifierFields, s.IdentifierTimeout)...)
	if err != nil {
		return Failed, fmt.Errorf("%w: %v", ErrIdentifierNotFound, err)
	}
	m.log.Debug("identifier field resolved", logx.String("selector", id.Strategy))
	if err := id.Element.Type(ctx, r.creds.Username, s.KeyDelay); err != nil {
		return Failed, fmt.Errorf("type identifier: %w", err)
	}
	progress.Printf(r.p, "Entered username")

	secret, err := locate.First(ctx, locate.CSSList(r.c, s.SecretFields, s.SecretTimeout)...)
	if err != nil {
		return Failed, fmt.Errorf("%w: %v", ErrSecretNotFound, err)
	}
	if err := secret.Element.Type(ctx, r.creds.Password, s.KeyDelay); err != nil {
		return Failed, fmt.Errorf("type secret: %w", err)
	}
	progress.Printf(r.p, "Entered password")
	return Submitting, nil
}

func (m *Machine) submit(ctx context.Context, r *run) (State, error) {
	s := m.settings
	btn, err := locate.First(ctx, locate.CSSList(r.c, s.SubmitControls, s.SubmitTimeout)...)
	if err != nil {
		return Failed, fmt.Errorf("%w: %v", ErrSubmitNotFound, err)
	}
	if err := btn.Element.Click(ctx); err != nil {
		return Failed, fmt.Errorf("%w: click: %v", ErrSubmitNotFound, err)
	}
	progress.Printf(r.p, "Submitted login form")

	wctx, cancel := context.WithTimeout(ctx, s.SubmitSettle)
	err = r.c.WaitNavigation(wctx)
	cancel()
	if err != nil {
		// not a failure: some logins stay on the same URL
		m.log.Debug("no navigation after submit", logx.Err(err))
		if err := browser.Sleep(ctx, s.SettleFallback); err != nil {
			return Failed, err
		}
	}
	return ChallengeCheck, nil
}

func (m *Machine) checkChallenge(ctx context.Context, r *run) (State, error) {
	if !m.challengePresent(ctx, r.c) {
		return Authenticated, nil
	}
	r.out.ChallengeSeen = true
	if r.headless {
		return Failed, ErrChallengeHeadless
	}

	w := m.settings.ManualWindow
	progress.Printf(r.p, "Verification challenge detected; solve it in the browser window within %s", w)
	m.log.Warn("challenge detected, waiting for operator", logx.Duration("window", w))
	if err := browser.Sleep(ctx, w); err != nil {
		return Failed, err
	}

	// Trust-after-timeout: the re-check is logged, never enforced.
	r.out.ChallengeCleared = !m.challengePresent(ctx, r.c)
	if r.out.ChallengeCleared {
		progress.Printf(r.p, "Challenge cleared")
	} else {
		progress.Printf(r.p, "Challenge still shown after %s; continuing anyway", w)
		m.log.Warn("challenge still present after manual window; proceeding")
	}
	return Authenticated, nil
}

func (m *Machine) challengePresent(ctx context.Context, c browser.Client) bool {
	url, err := c.URL(ctx)
	if err != nil {
		m.log.Debug("read url failed", logx.Err(err))
		return false
	}
	lower := strings.ToLower(url)
	for _, marker := range m.settings.ChallengeMarkers {
		if marker != "" && strings.Contains(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}
