// Package rodclient implements browser.Client on Chromium through go-rod.
// Each Open launches a dedicated browser process with a throwaway profile.
package rodclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"streakbot/internal/browser"
	logx "streakbot/pkg/logx"
)

// Opener launches sessions. The zero value works with rod's default
// browser lookup.
type Opener struct {
	Log logx.Logger
}

func (o Opener) Open(ctx context.Context, opts browser.Options) (browser.Client, error) {
	l := launcher.New().Headless(opts.Headless).Leakless(true)
	if opts.Bin != "" {
		l = l.Bin(opts.Bin)
	}
	if opts.NoSandbox {
		l = l.NoSandbox(true)
	}
	l = l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	for _, raw := range opts.Flags {
		name, val, hasVal := strings.Cut(strings.TrimLeft(raw, "-"), "=")
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}

	controlURL, err := l.Context(ctx).Launch()
	if err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	c := &Client{launcher: l, browser: b, log: o.Log}
	page, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}
	c.page = page

	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		if err := (proto.EmulationSetDeviceMetricsOverride{
			Width:             opts.ViewportWidth,
			Height:            opts.ViewportHeight,
			DeviceScaleFactor: 1,
		}).Call(page); err != nil {
			o.Log.Warn("set viewport failed", logx.Err(err))
		}
	}
	if opts.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: opts.UserAgent}); err != nil {
			o.Log.Warn("set user agent failed", logx.Err(err))
		}
	}
	return c, nil
}

type Client struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	log      logx.Logger

	closeOnce sync.Once
	closeErr  error
}

func (c *Client) Navigate(ctx context.Context, url string) error {
	p := c.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	return nil
}

// WaitNavigation polls until the URL changes and the new document has
// loaded. It returns the ctx error when nothing happens before the deadline.
func (c *Client) WaitNavigation(ctx context.Context) error {
	start, err := c.URL(ctx)
	if err != nil {
		return err
	}
	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
		now, err := c.URL(ctx)
		if err != nil {
			return err
		}
		if now != start {
			return c.page.Context(ctx).WaitLoad()
		}
	}
}

func (c *Client) Query(ctx context.Context, css string) ([]browser.Element, error) {
	els, err := c.page.Context(ctx).Elements(css)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", css, err)
	}
	out := make([]browser.Element, 0, len(els))
	for _, el := range els {
		out = append(out, &element{el: el, page: c.page})
	}
	return out, nil
}

func (c *Client) WaitFor(ctx context.Context, css string) (browser.Element, error) {
	el, err := c.page.Context(ctx).Element(css)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: %s", browser.ErrNotFound, css)
		}
		return nil, fmt.Errorf("wait %s: %w", css, err)
	}
	return &element{el: el, page: c.page}, nil
}

func (c *Client) PressEnter(ctx context.Context) error {
	return c.page.Context(ctx).Keyboard.Press(input.Enter)
}

func (c *Client) Cookies(ctx context.Context) ([]browser.Cookie, error) {
	raw, err := c.browser.Context(ctx).GetCookies()
	if err != nil {
		return nil, fmt.Errorf("get cookies: %w", err)
	}
	out := make([]browser.Cookie, 0, len(raw))
	for _, rc := range raw {
		out = append(out, browser.Cookie{
			Name:     rc.Name,
			Value:    rc.Value,
			Domain:   rc.Domain,
			Path:     rc.Path,
			Expires:  float64(rc.Expires),
			HTTPOnly: rc.HTTPOnly,
			Secure:   rc.Secure,
			SameSite: string(rc.SameSite),
		})
	}
	return out, nil
}

func (c *Client) SetCookies(ctx context.Context, cookies []browser.Cookie) error {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, ck := range cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			Expires:  proto.TimeSinceEpoch(ck.Expires),
			HTTPOnly: ck.HTTPOnly,
			Secure:   ck.Secure,
			SameSite: proto.NetworkCookieSameSite(ck.SameSite),
		})
	}
	if err := c.browser.Context(ctx).SetCookies(params); err != nil {
		return fmt.Errorf("set cookies: %w", err)
	}
	return nil
}

func (c *Client) Screenshot(ctx context.Context) ([]byte, error) {
	return c.page.Context(ctx).Screenshot(false, nil)
}

func (c *Client) URL(ctx context.Context) (string, error) {
	info, err := c.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("page info: %w", err)
	}
	return info.URL, nil
}

func (c *Client) Title(ctx context.Context) (string, error) {
	info, err := c.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("page info: %w", err)
	}
	return info.Title, nil
}

// Close closes the page and browser, then kills the process and removes
// the profile dir even if the polite close failed.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		var errs []error
		if c.page != nil {
			if err := c.page.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close page: %w", err))
			}
		}
		if c.browser != nil {
			if err := c.browser.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close browser: %w", err))
			}
		}
		c.launcher.Kill()
		c.launcher.Cleanup()
		c.closeErr = errors.Join(errs...)
		if c.closeErr != nil {
			c.log.Debug("browser close reported errors", logx.Err(c.closeErr))
		}
	})
	return c.closeErr
}

type element struct {
	el   *rod.Element
	page *rod.Page
}

func (e *element) Text(ctx context.Context) (string, error) {
	return e.el.Context(ctx).Text()
}

func (e *element) Click(ctx context.Context) error {
	return e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1)
}

// Type inserts one rune at a time so composed characters and emoji survive.
func (e *element) Type(ctx context.Context, text string, perKey time.Duration) error {
	if err := e.el.Context(ctx).Focus(); err != nil {
		return fmt.Errorf("focus: %w", err)
	}
	p := e.page.Context(ctx)
	for _, r := range text {
		if err := p.InsertText(string(r)); err != nil {
			return fmt.Errorf("insert text: %w", err)
		}
		if err := browser.Sleep(ctx, perKey); err != nil {
			return err
		}
	}
	return nil
}
