package locate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"streakbot/internal/browser"
	"streakbot/internal/browser/browsertest"
)

func TestFirstMatchWinsAndStops(t *testing.T) {
	t.Parallel()
	b := browsertest.New()
	b.Show(`input[placeholder*="Email"]`, &browsertest.Element{Label: "email"})
	b.Show(`input[type="text"]`, &browsertest.Element{Label: "text"})

	m, err := First(context.Background(), CSSList(b, []string{
		`input[name="username"]`,
		`input[placeholder*="Email"]`,
		`input[type="text"]`,
	}, time.Second)...)
	require.NoError(t, err)
	require.Equal(t, 1, m.Index)
	require.Equal(t, `input[placeholder*="Email"]`, m.Strategy)

	require.Equal(t, 1, b.CallCount(`wait input[name="username"]`))
	require.Equal(t, 0, b.CallCount(`wait input[type="text"]`), "later candidates must not be tried")
}

func TestFirstAllFail(t *testing.T) {
	t.Parallel()
	b := browsertest.New()
	_, err := First(context.Background(), CSSList(b, []string{"a", "b"}, time.Millisecond)...)
	require.ErrorIs(t, err, ErrNoMatch)
	require.ErrorContains(t, err, "a: element not found")
	require.ErrorContains(t, err, "b: element not found")
}

func TestStrategyTimeoutIsPerCandidate(t *testing.T) {
	t.Parallel()
	slow := Strategy{Name: "slow", Timeout: 10 * time.Millisecond, Find: func(ctx context.Context) (browser.Element, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	fast := Strategy{Name: "fast", Timeout: time.Second, Find: func(ctx context.Context) (browser.Element, error) {
		require.NoError(t, ctx.Err())
		return &browsertestElement{}, nil
	}}
	m, err := First(context.Background(), slow, fast)
	require.NoError(t, err)
	require.Equal(t, "fast", m.Strategy)
}

func TestTextContainsIgnoresCase(t *testing.T) {
	t.Parallel()
	b := browsertest.New()
	b.Show("li", &browsertest.Element{Label: "Bob"}, &browsertest.Element{Label: "ALICE · 2m"})

	m, err := First(context.Background(), TextContains(b, "li", "alice"))
	require.NoError(t, err)
	txt, _ := m.Element.Text(context.Background())
	require.Equal(t, "ALICE · 2m", txt)

	_, err = First(context.Background(), TextContains(b, "li", "carol"))
	require.True(t, errors.Is(err, ErrNoMatch))
}

func TestPollRetriesUntilPresent(t *testing.T) {
	t.Parallel()
	calls := 0
	s := Poll(Strategy{Name: "late", Find: func(ctx context.Context) (browser.Element, error) {
		calls++
		if calls < 3 {
			return nil, browser.ErrNotFound
		}
		return &browsertestElement{}, nil
	}}, time.Second, time.Millisecond)
	_, err := First(context.Background(), s)
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

type browsertestElement struct{}

func (browsertestElement) Text(context.Context) (string, error) { return "", nil }
func (browsertestElement) Click(context.Context) error          { return nil }

func (browsertestElement) Type(context.Context, string, time.Duration) error { return nil }
