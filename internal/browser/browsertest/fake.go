// Package browsertest provides a scripted in-memory browser.Client.
//
// Pages are registered per URL; Navigate swaps the current page. Element
// hooks (OnClick, OnType) and Browser hooks (OnEnter) mutate the browser to
// script multi-step flows such as a login that redirects on submit.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"streakbot/internal/browser"
)

type Page struct {
	// Redirect, when set, makes navigating here land on Redirect instead.
	Redirect string
	Title    string
	Elements map[string][]*Element
}

type Element struct {
	Label   string
	OnClick func(b *Browser)
	OnType  func(b *Browser, text string)
	// Panic makes Click panic, for fault-isolation tests.
	Panic bool

	mu     sync.Mutex
	clicks int
	typed  []string
}

func (e *Element) Clicks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clicks
}

// Typed returns every text typed into the element, in order.
func (e *Element) Typed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.typed...)
}

type Browser struct {
	// NavigateErr fails Navigate for the given URL.
	NavigateErr map[string]error
	// WaitNavigationErr is returned by every WaitNavigation call.
	WaitNavigationErr error
	ScreenshotErr     error
	OpenErr           error
	SetCookiesErr     error
	OnEnter           func(b *Browser)

	mu      sync.Mutex
	pages   map[string]*Page
	url     string
	current *Page
	cookies []browser.Cookie
	calls   []string
	opened  []browser.Options
	closed  int
	enters  int
}

func New() *Browser {
	return &Browser{
		NavigateErr: map[string]error{},
		pages:       map[string]*Page{},
		current:     &Page{Elements: map[string][]*Element{}},
	}
}

// Route registers the page served for url.
func (b *Browser) Route(url string, p *Page) *Page {
	if p.Elements == nil {
		p.Elements = map[string][]*Element{}
	}
	b.mu.Lock()
	b.pages[url] = p
	b.mu.Unlock()
	return p
}

// Show adds elements under selector on the current page.
func (b *Browser) Show(selector string, els ...*Element) {
	b.mu.Lock()
	b.current.Elements[selector] = append(b.current.Elements[selector], els...)
	b.mu.Unlock()
}

// Hide removes selector from the current page.
func (b *Browser) Hide(selector string) {
	b.mu.Lock()
	delete(b.current.Elements, selector)
	b.mu.Unlock()
}

// SetURL changes the current URL without changing the page, as a client-side
// redirect would.
func (b *Browser) SetURL(url string) {
	b.mu.Lock()
	b.url = url
	b.mu.Unlock()
}

// StoredCookies returns what SetCookies last received or what was seeded.
func (b *Browser) StoredCookies() []browser.Cookie {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]browser.Cookie(nil), b.cookies...)
}

// SeedCookies sets the cookies the page reports, as a login would.
func (b *Browser) SeedCookies(c ...browser.Cookie) {
	b.mu.Lock()
	b.cookies = append([]browser.Cookie(nil), c...)
	b.mu.Unlock()
}

func (b *Browser) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

// CallCount counts calls whose log line starts with prefix.
func (b *Browser) CallCount(prefix string) int {
	n := 0
	for _, c := range b.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (b *Browser) Opened() []browser.Options {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]browser.Options(nil), b.opened...)
}

func (b *Browser) Closed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Browser) Enters() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enters
}

// Opener hands out b itself for every Open call.
func (b *Browser) Opener() browser.Opener {
	return browser.OpenerFunc(func(ctx context.Context, opts browser.Options) (browser.Client, error) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.opened = append(b.opened, opts)
		if b.OpenErr != nil {
			return nil, b.OpenErr
		}
		return b, nil
	})
}

func (b *Browser) record(format string, args ...any) {
	b.calls = append(b.calls, fmt.Sprintf(format, args...))
}

func (b *Browser) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("navigate %s", url)
	if err := b.NavigateErr[url]; err != nil {
		return err
	}
	p, ok := b.pages[url]
	if ok && p.Redirect != "" {
		url = p.Redirect
		p, ok = b.pages[url]
	}
	b.url = url
	if ok {
		b.current = p
	} else {
		b.current = &Page{Elements: map[string][]*Element{}}
	}
	return nil
}

func (b *Browser) WaitNavigation(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("wait-navigation")
	return b.WaitNavigationErr
}

func (b *Browser) Query(ctx context.Context, css string) ([]browser.Element, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("query %s", css)
	var out []browser.Element
	for _, el := range b.current.Elements[css] {
		out = append(out, &handle{b: b, el: el})
	}
	return out, nil
}

func (b *Browser) WaitFor(ctx context.Context, css string) (browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("wait %s", css)
	els := b.current.Elements[css]
	if len(els) == 0 {
		return nil, browser.ErrNotFound
	}
	return &handle{b: b, el: els[0]}, nil
}

func (b *Browser) PressEnter(ctx context.Context) error {
	b.mu.Lock()
	b.record("enter")
	b.enters++
	hook := b.OnEnter
	b.mu.Unlock()
	if hook != nil {
		hook(b)
	}
	return nil
}

func (b *Browser) Cookies(ctx context.Context) ([]browser.Cookie, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("cookies")
	return append([]browser.Cookie(nil), b.cookies...), nil
}

func (b *Browser) SetCookies(ctx context.Context, c []browser.Cookie) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("set-cookies %d", len(c))
	if b.SetCookiesErr != nil {
		return b.SetCookiesErr
	}
	b.cookies = append([]browser.Cookie(nil), c...)
	return nil
}

func (b *Browser) Screenshot(ctx context.Context) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("screenshot")
	if b.ScreenshotErr != nil {
		return nil, b.ScreenshotErr
	}
	return []byte("\x89PNG fake"), nil
}

func (b *Browser) URL(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.url, nil
}

func (b *Browser) Title(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current.Title, nil
}

func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("close")
	b.closed++
	return nil
}

// handle binds an Element to its browser so hooks can mutate page state.
type handle struct {
	b  *Browser
	el *Element
}

var errDetached = errors.New("element detached")

func (h *handle) Text(ctx context.Context) (string, error) {
	if h.el == nil {
		return "", errDetached
	}
	return h.el.Label, nil
}

func (h *handle) Click(ctx context.Context) error {
	if h.el.Panic {
		panic("browsertest: element " + h.el.Label + " exploded")
	}
	h.el.mu.Lock()
	h.el.clicks++
	h.el.mu.Unlock()

	h.b.mu.Lock()
	h.b.record("click %s", h.el.Label)
	h.b.mu.Unlock()

	if h.el.OnClick != nil {
		h.el.OnClick(h.b)
	}
	return nil
}

func (h *handle) Type(ctx context.Context, text string, perKey time.Duration) error {
	h.el.mu.Lock()
	h.el.typed = append(h.el.typed, text)
	h.el.mu.Unlock()

	h.b.mu.Lock()
	h.b.record("type %s %s", h.el.Label, text)
	h.b.mu.Unlock()

	if h.el.OnType != nil {
		h.el.OnType(h.b, text)
	}
	return nil
}
