package login

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"streakbot/internal/browser/browsertest"
	"streakbot/internal/progress"
	logx "streakbot/pkg/logx"
)

func fastSettings() Settings {
	s := DefaultSettings()
	s.Settle = 0
	s.ChannelWait = 30 * time.Millisecond
	s.ChannelPoll = time.Millisecond
	s.ChannelPause = 0
	s.SubChannelTimeout = time.Millisecond
	s.IdentifierTimeout = time.Millisecond
	s.SecretTimeout = time.Millisecond
	s.SubmitTimeout = time.Millisecond
	s.SubmitSettle = time.Millisecond
	s.SettleFallback = 0
	s.KeyDelay = 0
	s.ManualWindow = time.Millisecond
	return s
}

type site struct {
	b                        *browsertest.Browser
	user, text, pass, submit *browsertest.Element
}

// newSite scripts the login page: picking the credential channel reveals the
// form, and submitting moves the page to landing.
func newSite(landing string) *site {
	s := &site{
		b:      browsertest.New(),
		user:   &browsertest.Element{Label: "email"},
		text:   &browsertest.Element{Label: "generic-text"},
		pass:   &browsertest.Element{Label: "password"},
		submit: &browsertest.Element{Label: "submit"},
	}
	s.submit.OnClick = func(b *browsertest.Browser) { b.SetURL(landing) }
	channel := &browsertest.Element{Label: "Use phone / email / username", OnClick: func(b *browsertest.Browser) {
		b.Show(`input[placeholder*="Email"]`, s.user)
		b.Show(`input[type="text"]`, s.text)
		b.Show(`input[type="password"]`, s.pass)
		b.Show(`button[type="submit"]`, s.submit)
	}}
	s.b.Route("https://www.tiktok.com/login", &browsertest.Page{Elements: map[string][]*browsertest.Element{
		`[data-e2e="channel-item"]`: {{Label: "Use QR code"}, channel},
	}})
	return s
}

var creds = Credentials{Username: "a", Password: "b"}

func TestLoginHappyPath(t *testing.T) {
	t.Parallel()
	s := newSite("https://www.tiktok.com/foryou")
	var rec progress.Recorder
	out := New(fastSettings(), logx.Nop()).Run(context.Background(), s.b, creds, true, &rec)

	require.True(t, out.Authenticated())
	require.Nil(t, out.Err)
	require.Equal(t, []State{ChannelSelect, CredentialEntry, Submitting, ChallengeCheck, Authenticated}, out.Trace)
	require.Equal(t, 1, out.CredentialAttempts)
	require.Equal(t, []string{"a"}, s.user.Typed())
	require.Empty(t, s.text.Typed(), "first matching identifier candidate wins")
	require.Equal(t, []string{"b"}, s.pass.Typed())
	require.Equal(t, 1, s.submit.Clicks())
	require.True(t, rec.Contains("Login successful"))
}

func TestLoginFailures(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		mutate func(s *site)
		want   error
		at     State
	}{
		{
			name: "no channel",
			mutate: func(s *site) {
				s.b.Route("https://www.tiktok.com/login", &browsertest.Page{})
			},
			want: ErrChannelNotFound, at: ChannelSelect,
		},
		{
			name: "no identifier field",
			mutate: func(s *site) {
				ch := &browsertest.Element{Label: "Use phone / email / username", OnClick: func(b *browsertest.Browser) {
					b.Show(`input[type="password"]`, s.pass)
				}}
				s.b.Route("https://www.tiktok.com/login", &browsertest.Page{Elements: map[string][]*browsertest.Element{
					`[data-e2e="channel-item"]`: {ch},
				}})
			},
			want: ErrIdentifierNotFound, at: CredentialEntry,
		},
		{
			name: "no submit",
			mutate: func(s *site) {
				ch := &browsertest.Element{Label: "use phone / EMAIL / username", OnClick: func(b *browsertest.Browser) {
					b.Show(`input[name="username"]`, s.user)
					b.Show(`input[type="password"]`, s.pass)
				}}
				s.b.Route("https://www.tiktok.com/login", &browsertest.Page{Elements: map[string][]*browsertest.Element{
					`[data-e2e="channel-item"]`: {ch},
				}})
			},
			want: ErrSubmitNotFound, at: Submitting,
		},
		{
			name: "login page unreachable",
			mutate: func(s *site) {
				s.b.NavigateErr["https://www.tiktok.com/login"] = errors.New("net::ERR_NAME_NOT_RESOLVED")
			},
			want: ErrNavigation, at: ChannelSelect,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := newSite("https://www.tiktok.com/foryou")
			tc.mutate(s)
			out := New(fastSettings(), logx.Nop()).Run(context.Background(), s.b, creds, true, nil)

			require.Equal(t, Failed, out.State)
			require.Equal(t, Failed, out.Trace[len(out.Trace)-1])
			require.ErrorIs(t, out.Err, tc.want)
			require.Equal(t, tc.at, out.Err.At)
			require.Equal(t, tc.want.Error(), out.Err.Reason())
		})
	}
}

func TestChallengeHeadlessFails(t *testing.T) {
	t.Parallel()
	s := newSite("https://www.tiktok.com/login/verification?type=captcha")
	out := New(fastSettings(), logx.Nop()).Run(context.Background(), s.b, creds, true, nil)

	require.Equal(t, Failed, out.State)
	require.True(t, out.ChallengeSeen)
	require.ErrorIs(t, out.Err, ErrChallengeHeadless)
	require.Equal(t, "challenge requires visible session", out.Err.Reason())
}

func TestChallengeVisibleTrustsAfterWindow(t *testing.T) {
	t.Parallel()
	s := newSite("https://www.tiktok.com/captcha")
	var rec progress.Recorder
	out := New(fastSettings(), logx.Nop()).Run(context.Background(), s.b, creds, false, &rec)

	require.True(t, out.Authenticated())
	require.True(t, out.ChallengeSeen)
	require.False(t, out.ChallengeCleared)
	require.True(t, rec.Contains("continuing anyway"))
}

func TestSubmitWithoutNavigationStillChecksChallenge(t *testing.T) {
	t.Parallel()
	s := newSite("https://www.tiktok.com/foryou")
	s.b.WaitNavigationErr = context.DeadlineExceeded
	out := New(fastSettings(), logx.Nop()).Run(context.Background(), s.b, creds, true, nil)
	require.True(t, out.Authenticated())
	require.Equal(t, 1, s.b.CallCount("wait-navigation"))
}

func TestCredentialsValid(t *testing.T) {
	t.Parallel()
	require.True(t, Credentials{Username: "a", Password: "b"}.Valid())
	require.False(t, Credentials{Username: " ", Password: "b"}.Valid())
	require.False(t, Credentials{Username: "a"}.Valid())
}
