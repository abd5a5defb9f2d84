//go:build !windows

package supervisor

import (
	"context"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"cdpbridge/internal/bridgeerr"
	"cdpbridge/internal/logging"
	"cdpbridge/internal/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// TestHelperProcess stands in for the browser binary. It is not a real test.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("CDPBRIDGE_HELPER_PROCESS") != "1" {
		return
	}
	switch os.Getenv("CDPBRIDGE_HELPER_MODE") {
	case "exit-fast":
		os.Exit(3)
	case "ignore-term":
		signal.Ignore(syscall.SIGTERM)
	}
	if marker := os.Getenv("CDPBRIDGE_HELPER_READY"); marker != "" {
		_ = os.WriteFile(marker, []byte("ready"), 0o600)
	}
	time.Sleep(time.Minute)
	os.Exit(0)
}

type fakeBrowser struct {
	mode     string
	ready    string
	launches atomic.Int32
	lastArgs atomic.Value
}

func (f *fakeBrowser) command(name string, args ...string) *exec.Cmd {
	f.launches.Add(1)
	f.lastArgs.Store(append([]string{name}, args...))
	cmd := exec.Command(os.Args[0], append([]string{"-test.run=^TestHelperProcess$", "--", name}, args...)...)
	cmd.Env = append(os.Environ(),
		"CDPBRIDGE_HELPER_PROCESS=1",
		"CDPBRIDGE_HELPER_MODE="+f.mode,
		"CDPBRIDGE_HELPER_READY="+f.ready,
	)
	return cmd
}

func newSupervisor(t *testing.T, mode string, grace time.Duration) (*Supervisor, *fakeBrowser) {
	t.Helper()
	fake := &fakeBrowser{mode: mode, ready: filepath.Join(t.TempDir(), "ready")}
	s := New(Config{Binary: "fake-chromium", Port: 9333, Grace: grace}, metrics.New(false))
	s.command = fake.command
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Terminate(ctx)
	})
	return s, fake
}

func waitReady(t *testing.T, fake *fakeBrowser) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, err := os.Stat(fake.ready)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestConcurrentEnsureRunningLaunchesOnce(t *testing.T) {
	s, fake := newSupervisor(t, "sleep", time.Second)

	const callers = 8
	pids := make([]int, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := s.EnsureRunning(context.Background())
			if assert.NoError(t, err) {
				pids[i] = h.Pid()
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, fake.launches.Load())
	for _, pid := range pids {
		assert.Equal(t, pids[0], pid)
	}
	assert.True(t, s.Alive())

	// A further call reuses the running process.
	h, err := s.EnsureRunning(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pids[0], h.Pid())
	assert.EqualValues(t, 1, fake.launches.Load())
}

func TestTerminateGraceful(t *testing.T) {
	s, fake := newSupervisor(t, "sleep", 5*time.Second)
	h, err := s.EnsureRunning(context.Background())
	require.NoError(t, err)
	waitReady(t, fake)

	start := time.Now()
	require.NoError(t, s.Terminate(context.Background()))
	assert.Less(t, time.Since(start), 4*time.Second, "SIGTERM should be enough")
	assert.False(t, h.Alive())
	assert.Nil(t, s.Current())
}

func TestTerminateKillsAfterGrace(t *testing.T) {
	s, fake := newSupervisor(t, "ignore-term", 100*time.Millisecond)
	h, err := s.EnsureRunning(context.Background())
	require.NoError(t, err)
	waitReady(t, fake)

	require.NoError(t, s.Terminate(context.Background()))
	assert.False(t, h.Alive())
	code, exited := h.ExitCode()
	assert.True(t, exited)
	assert.Equal(t, -1, code)
}

func TestTerminateWithoutProcess(t *testing.T) {
	s := New(Config{}, nil)
	assert.NoError(t, s.Terminate(context.Background()))
}

func TestLaunchFailure(t *testing.T) {
	s := New(Config{Binary: filepath.Join(t.TempDir(), "no-such-chromium")}, nil)

	_, err := s.EnsureRunning(context.Background())
	require.Error(t, err)
	assert.Equal(t, bridgeerr.KindProcessLaunch, bridgeerr.KindOf(err))
	assert.False(t, s.Alive())
}

func TestRelaunchAfterExternalExit(t *testing.T) {
	s, fake := newSupervisor(t, "exit-fast", time.Second)

	h, err := s.EnsureRunning(context.Background())
	require.NoError(t, err)
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("helper did not exit")
	}
	code, exited := h.ExitCode()
	require.True(t, exited)
	assert.Equal(t, 3, code)
	assert.False(t, s.Alive())

	h2, err := s.EnsureRunning(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, h.Pid(), h2.Pid())
	assert.EqualValues(t, 2, fake.launches.Load())
	<-h2.Done()
}

func TestLaunchArgs(t *testing.T) {
	args := LaunchArgs(Config{Port: 9333, UserDataDir: "/tmp/profile", ExtraArgs: []string{"--lang=en"}})

	assert.Contains(t, args, "--headless")
	assert.Contains(t, args, "--no-sandbox")
	assert.Contains(t, args, "--disable-gpu")
	assert.Contains(t, args, "--remote-debugging-port=9333")
	assert.Contains(t, args, "--user-data-dir=/tmp/profile")
	assert.Equal(t, "--lang=en", args[len(args)-2])
	assert.Equal(t, "about:blank", args[len(args)-1])

	assert.NotContains(t, LaunchArgs(Config{Port: 9222}), "--user-data-dir=")
}

func TestLaunchPassesArgsToBinary(t *testing.T) {
	s, fake := newSupervisor(t, "sleep", time.Second)
	_, err := s.EnsureRunning(context.Background())
	require.NoError(t, err)

	got := fake.lastArgs.Load().([]string)
	assert.Equal(t, "fake-chromium", got[0])
	assert.Contains(t, got, "--remote-debugging-port=9333")
}

func TestLineLoggerSplitsOutput(t *testing.T) {
	w := &lineLogger{log: logging.Get(logging.CategoryProcess)}
	n, err := w.Write([]byte("first\nsec"))
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	assert.Equal(t, "sec", string(w.buf))

	_, _ = w.Write([]byte("ond\r\n"))
	assert.Empty(t, w.buf)
}

func TestDefaultsAndHandleTimes(t *testing.T) {
	assert.Equal(t, 9222, New(Config{}, nil).Port())

	s, _ := newSupervisor(t, "sleep", time.Second)
	before := time.Now()
	h, err := s.EnsureRunning(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9333, s.Port())
	assert.False(t, h.Started().Before(before))
	assert.False(t, h.Started().After(time.Now()))
}
