// Package locate resolves a UI element whose markup is not known in advance
// by trying an ordered list of lookup strategies. The first strategy that
// succeeds within its own timeout wins; later strategies are never tried.
package locate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"streakbot/internal/browser"
)

// ErrNoMatch means every strategy failed.
var ErrNoMatch = errors.New("no candidate matched")

// Strategy is one way of finding an element.
type Strategy struct {
	Name    string
	Timeout time.Duration
	Find    func(ctx context.Context) (browser.Element, error)
}

// Match is the element found and the strategy that found it.
type Match struct {
	Element  browser.Element
	Strategy string
	Index    int
}

// First evaluates strategies in order, each under its own timeout.
// The returned error wraps ErrNoMatch and lists every attempt.
func First(ctx context.Context, strategies ...Strategy) (Match, error) {
	var tried []string
	for i, s := range strategies {
		if s.Find == nil {
			continue
		}
		el, err := try(ctx, s)
		if err == nil && el != nil {
			return Match{Element: el, Strategy: s.Name, Index: i}, nil
		}
		if err == nil {
			err = browser.ErrNotFound
		}
		tried = append(tried, fmt.Sprintf("%s: %v", s.Name, err))
		if ctx.Err() != nil {
			break
		}
	}
	return Match{}, fmt.Errorf("%w (%s)", ErrNoMatch, strings.Join(tried, "; "))
}

func try(ctx context.Context, s Strategy) (browser.Element, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	return s.Find(ctx)
}

// CSS builds a strategy that waits for selector on c.
func CSS(c browser.Client, selector string, timeout time.Duration) Strategy {
	return Strategy{
		Name:    selector,
		Timeout: timeout,
		Find: func(ctx context.Context) (browser.Element, error) {
			return c.WaitFor(ctx, selector)
		},
	}
}

// CSSList builds one CSS strategy per selector, all with the same timeout.
func CSSList(c browser.Client, selectors []string, timeout time.Duration) []Strategy {
	out := make([]Strategy, 0, len(selectors))
	for _, sel := range selectors {
		out = append(out, CSS(c, sel, timeout))
	}
	return out
}

// TextContains builds a strategy that scans the elements currently matching
// selector and picks the first whose text contains needle, ignoring case.
// It does not wait for elements to appear.
func TextContains(c browser.Client, selector, needle string) Strategy {
	return Strategy{
		Name: fmt.Sprintf("%s ~ %q", selector, needle),
		Find: func(ctx context.Context) (browser.Element, error) {
			els, err := c.Query(ctx, selector)
			if err != nil {
				return nil, err
			}
			want := strings.ToLower(needle)
			for _, el := range els {
				txt, err := el.Text(ctx)
				if err != nil {
					continue
				}
				if strings.Contains(strings.ToLower(txt), want) {
					return el, nil
				}
			}
			return nil, browser.ErrNotFound
		},
	}
}

// Poll retries s every interval until it succeeds or within elapses.
func Poll(s Strategy, within, interval time.Duration) Strategy {
	inner := s.Find
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	s.Timeout = within
	s.Find = func(ctx context.Context) (browser.Element, error) {
		for {
			el, err := inner(ctx)
			if err == nil && el != nil {
				return el, nil
			}
			if err := browser.Sleep(ctx, interval); err != nil {
				return nil, browser.ErrNotFound
			}
		}
	}
	return s
}
