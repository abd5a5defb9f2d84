package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdpbridge/internal/config"
)

func TestBrowserConfigMapsFileConfig(t *testing.T) {
	c := config.DefaultConfig()
	c.Browser.Binary = "/opt/chromium"
	c.Browser.Port = 9333
	c.Browser.NavigationTimeout = "12s"
	c.Browser.CommandTimeout = "bogus"
	c.Discovery.MaxAttempts = 7
	c.Logs.Capacity = 50
	c.Artifacts.Dir = "/tmp/shots"

	got := browserConfig(c)

	assert.Equal(t, "/opt/chromium", got.Binary)
	assert.Equal(t, 9333, got.Port)
	assert.Equal(t, 12*time.Second, got.NavigationTimeout)
	assert.Equal(t, 10*time.Second, got.CommandTimeout, "invalid durations fall back to the default")
	assert.Equal(t, 5*time.Second, got.TerminateGrace)
	assert.Equal(t, 500*time.Millisecond, got.DiscoveryInterval)
	assert.Equal(t, 7, got.DiscoveryAttempts)
	assert.Equal(t, 50, got.LogCapacity)
	assert.Equal(t, "/tmp/shots", got.ArtifactDir)
	assert.Equal(t, 1280, got.ViewportWidth)
	assert.Equal(t, config.DefaultUserAgent, got.UserAgent)
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"audit", "content", "eval", "screenshot", "serve", "version"}
	var got []string
	for _, c := range rootCmd.Commands() {
		if c.Name() == "help" || c.Name() == "completion" {
			continue
		}
		got = append(got, c.Name())
	}
	assert.ElementsMatch(t, want, got)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "cdpbridge dev\n", out.String())
}

func TestAuditRejectsUnknownKind(t *testing.T) {
	rootCmd.SetArgs([]string{"--config", t.TempDir() + "/none.yaml", "audit", "http://example.com", "vibes"})
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown audit "vibes"`)
}
