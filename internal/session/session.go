// Package session persists and restores the cookies of the automation
// identity, and decides whether a restored session is still logged in.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"streakbot/internal/browser"
	"streakbot/internal/storage"
	logx "streakbot/pkg/logx"
)

type Validity int

const (
	Invalid Validity = iota
	Valid
)

func (v Validity) String() string {
	if v == Valid {
		return "valid"
	}
	return "invalid"
}

type Settings struct {
	// LandingURL is the authenticated surface opened after cookies are applied.
	LandingURL string
	// AuthenticatedMarker must appear in the landing URL.
	AuthenticatedMarker string
	// LoginMarker must not appear in the landing URL.
	LoginMarker string

	NavigateTimeout time.Duration
	Settle          time.Duration
	IOTimeout       time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		LandingURL:          "https://www.tiktok.com/messages",
		AuthenticatedMarker: "/messages",
		LoginMarker:         "/login",
		NavigateTimeout:     30 * time.Second,
		Settle:              3 * time.Second,
		IOTimeout:           10 * time.Second,
	}
}

// Store wraps a storage.Store with cookie (de)serialisation.
type Store struct {
	backend  storage.Store
	settings Settings
	log      logx.Logger
}

func New(backend storage.Store, settings Settings, log logx.Logger) *Store {
	return &Store{backend: backend, settings: settings, log: log.With(logx.String("comp", "session"))}
}

// TryRestore applies the persisted cookies of identity to c, opens the
// landing page and inspects where it ended up. It never fails: every
// problem degrades to Invalid and is logged at info.
func (s *Store) TryRestore(ctx context.Context, c browser.Client, identity string) Validity {
	cookies, ok := s.load(ctx, identity)
	if !ok {
		return Invalid
	}
	if err := c.SetCookies(ctx, cookies); err != nil {
		s.log.Info("restore: apply cookies failed", logx.Err(err))
		return Invalid
	}

	nctx, cancel := context.WithTimeout(ctx, s.settings.NavigateTimeout)
	err := c.Navigate(nctx, s.settings.LandingURL)
	cancel()
	if err != nil {
		s.log.Info("restore: landing navigation failed", logx.Err(err))
		return Invalid
	}
	_ = browser.Sleep(ctx, s.settings.Settle)

	url, err := c.URL(ctx)
	if err != nil {
		s.log.Info("restore: read url failed", logx.Err(err))
		return Invalid
	}
	v := s.classify(url)
	s.log.Info("restore checked", logx.String("url", url), logx.String("validity", v.String()))
	return v
}

func (s *Store) classify(url string) Validity {
	if strings.Contains(url, s.settings.AuthenticatedMarker) && !strings.Contains(url, s.settings.LoginMarker) {
		return Valid
	}
	return Invalid
}

func (s *Store) load(ctx context.Context, identity string) ([]browser.Cookie, bool) {
	ictx, cancel := context.WithTimeout(ctx, s.settings.IOTimeout)
	defer cancel()
	blob, ok, err := s.backend.LoadSession(ictx, identity)
	if err != nil {
		s.log.Warn("restore: read session blob failed", logx.Err(err))
		return nil, false
	}
	if !ok {
		s.log.Info("restore: no saved session")
		return nil, false
	}
	var cookies []browser.Cookie
	if err := json.Unmarshal(blob, &cookies); err != nil {
		s.log.Warn("restore: session blob unreadable", logx.Err(err))
		return nil, false
	}
	if len(cookies) == 0 {
		s.log.Info("restore: saved session is empty")
		return nil, false
	}
	return cookies, true
}

// Persist overwrites the saved cookies of identity.
func (s *Store) Persist(ctx context.Context, identity string, cookies []browser.Cookie) error {
	blob, err := json.Marshal(cookies)
	if err != nil {
		return fmt.Errorf("encode cookies: %w", err)
	}
	ictx, cancel := context.WithTimeout(ctx, s.settings.IOTimeout)
	defer cancel()
	if err := s.backend.SaveSession(ictx, identity, blob); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	s.log.Info("session saved", logx.Int("cookies", len(cookies)))
	return nil
}

// Invalidate forgets the saved cookies of identity.
func (s *Store) Invalidate(ctx context.Context, identity string) error {
	ictx, cancel := context.WithTimeout(ctx, s.settings.IOTimeout)
	defer cancel()
	return s.backend.DeleteSession(ictx, identity)
}
