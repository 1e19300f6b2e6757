//go:build integration

package rodclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"streakbot/internal/browser"
)

const page = `<html><head><title>dm</title></head><body>
<ul><li data-e2e="chat-list-item">Alice</li></ul>
<textarea placeholder="Send a message"></textarea>
</body></html>`

func TestOpenQueryTypeAndCookies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc", Path: "/"})
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	c, err := Opener{}.Open(ctx, browser.Options{Headless: true, NoSandbox: true})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Navigate(ctx, srv.URL))
	title, err := c.Title(ctx)
	require.NoError(t, err)
	require.Equal(t, "dm", title)

	items, err := c.Query(ctx, `[data-e2e="chat-list-item"]`)
	require.NoError(t, err)
	require.Len(t, items, 1)

	box, err := c.WaitFor(ctx, `textarea[placeholder*="message"]`)
	require.NoError(t, err)
	require.NoError(t, box.Type(ctx, "hi 👋", time.Millisecond))

	cookies, err := c.Cookies(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, cookies)

	short, cancelShort := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancelShort()
	_, err = c.WaitFor(short, "#missing")
	require.ErrorIs(t, err, browser.ErrNotFound)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}
