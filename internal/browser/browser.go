// Package browser defines the narrow contract the automation core uses to
// drive a page on the target site. Implementations live in subpackages:
// rodclient (real Chromium via go-rod) and browsertest (scripted fake).
//
// Every blocking method is bounded by the deadline of the ctx it receives.
package browser

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by WaitFor when nothing matches before the deadline.
var ErrNotFound = errors.New("element not found")

// Client is one isolated automation session: its own browser process and
// profile. A Client is not safe for concurrent use.
type Client interface {
	// Navigate loads url and waits for the load event.
	Navigate(ctx context.Context, url string) error
	// WaitNavigation blocks until a navigation started by a previous action settles.
	WaitNavigation(ctx context.Context) error
	// Query returns the elements currently matching css, without waiting.
	Query(ctx context.Context, css string) ([]Element, error)
	// WaitFor returns the first element matching css, waiting for it to appear.
	WaitFor(ctx context.Context, css string) (Element, error)
	// PressEnter sends an Enter keypress to the focused element.
	PressEnter(ctx context.Context) error

	Cookies(ctx context.Context) ([]Cookie, error)
	SetCookies(ctx context.Context, cookies []Cookie) error
	Screenshot(ctx context.Context) ([]byte, error)
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)

	// Close releases the page, the browser process and its profile dir.
	// Safe to call more than once.
	Close() error
}

type Element interface {
	Text(ctx context.Context) (string, error)
	Click(ctx context.Context) error
	// Type focuses the element and enters text one rune at a time,
	// sleeping perKey between runes.
	Type(ctx context.Context, text string, perKey time.Duration) error
}

// Options configures a new session.
type Options struct {
	Headless       bool
	Bin            string
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	NoSandbox      bool
	Flags          []string
}

// Opener starts isolated sessions.
type Opener interface {
	Open(ctx context.Context, opts Options) (Client, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, opts Options) (Client, error)

func (f OpenerFunc) Open(ctx context.Context, opts Options) (Client, error) { return f(ctx, opts) }

// Cookie is an engine-neutral cookie record. Expires is unix seconds,
// zero or negative for session cookies.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
