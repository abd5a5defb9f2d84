//go:build integration

package browser_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdpbridge/internal/bridgeerr"
	"cdpbridge/internal/browser"
)

func TestBridgeAgainstChromium_Integration(t *testing.T) {
	bin, ok := launcher.LookPath()
	if !ok {
		t.Skip("no chromium executable on this host")
	}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintln(w, `<html><body><h1>Hello World</h1><button id="go">go</button>
<script>console.error("boom"); fetch("/missing")</script></body></html>`)
	}))
	defer ts.Close()

	cfg := browser.DefaultConfig()
	cfg.Binary = bin
	cfg.Port = 9333
	cfg.UserDataDir = t.TempDir()
	cfg.ArtifactDir = t.TempDir()
	b := browser.New(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	defer b.Close(context.Background())

	_, err := b.Navigate(ctx, ts.URL)
	require.NoError(t, err)

	got, err := b.Evaluate(ctx, "1+1")
	require.NoError(t, err)
	assert.Equal(t, "2", got)

	text, err := b.Content(ctx, browser.ContentText)
	require.NoError(t, err)
	assert.Contains(t, text, "Hello World")

	_, err = b.Click(ctx, "#does-not-exist")
	assert.True(t, bridgeerr.Is(err, bridgeerr.KindElementNotFound))

	_, err = b.Click(ctx, "#go")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(b.ConsoleErrors()) > 0 && len(b.NetworkErrors()) > 0
	}, 10*time.Second, 100*time.Millisecond)

	msg, err := b.Screenshot(ctx, "integration", true)
	require.NoError(t, err)
	assert.Contains(t, msg, "integration.png")

	msg, err = b.Close(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Browser closed successfully", msg)
}
