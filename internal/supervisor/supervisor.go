// Package supervisor launches and terminates the headless browser process.
package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"golang.org/x/sync/singleflight"

	"cdpbridge/internal/bridgeerr"
	"cdpbridge/internal/logging"
	"cdpbridge/internal/metrics"
)

// DefaultGrace is how long Terminate waits after SIGTERM before killing.
const DefaultGrace = 5 * time.Second

// Config describes the process to launch.
type Config struct {
	// Binary is the browser executable. When empty, the usual install
	// locations are searched.
	Binary      string
	Port        int
	UserDataDir string
	Grace       time.Duration
	// ExtraArgs are appended after the fixed flags.
	ExtraArgs []string
}

// Handle is a running (or exited) browser process.
type Handle struct {
	cmd     *exec.Cmd
	pid     int
	started time.Time
	done    chan struct{}

	mu       sync.Mutex
	exitCode int
}

// Pid returns the OS process id.
func (h *Handle) Pid() int { return h.pid }

// Started returns the launch time.
func (h *Handle) Started() time.Time { return h.started }

// Done is closed once the process has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Alive reports whether the process is still running.
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// ExitCode returns the exit code once the process has exited. A process
// killed by a signal reports -1.
func (h *Handle) ExitCode() (int, bool) {
	if h.Alive() {
		return 0, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode, true
}

// Supervisor owns at most one browser process.
type Supervisor struct {
	cfg     Config
	metrics *metrics.Recorder
	command func(name string, args ...string) *exec.Cmd

	group singleflight.Group

	mu     sync.Mutex
	handle *Handle
}

// New creates a Supervisor. rec may be nil.
func New(cfg Config, rec *metrics.Recorder) *Supervisor {
	if cfg.Port == 0 {
		cfg.Port = 9222
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	return &Supervisor{cfg: cfg, metrics: rec, command: exec.Command}
}

// Port returns the remote debugging port the browser listens on.
func (s *Supervisor) Port() int { return s.cfg.Port }

// LaunchArgs returns the fixed browser flags for cfg.
func LaunchArgs(cfg Config) []string {
	set := func(f flags.Flag, val ...string) string {
		if len(val) == 0 {
			return "--" + string(f)
		}
		return "--" + string(f) + "=" + val[0]
	}
	args := []string{
		set(flags.Headless),
		set(flags.NoSandbox),
		set("disable-setuid-sandbox"),
		set("disable-dev-shm-usage"),
		set("disable-gpu"),
		set("disable-extensions"),
		set("disable-background-timer-throttling"),
		set("disable-backgrounding-occluded-windows"),
		set("disable-renderer-backgrounding"),
		set("no-first-run"),
		set(flags.RemoteDebuggingPort, strconv.Itoa(cfg.Port)),
	}
	if cfg.UserDataDir != "" {
		args = append(args, set(flags.UserDataDir, cfg.UserDataDir))
	}
	args = append(args, cfg.ExtraArgs...)
	return append(args, "about:blank")
}

// ResolveBinary returns the configured executable or the first browser
// found on the host.
func ResolveBinary(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if found, ok := launcher.LookPath(); ok {
		return found, nil
	}
	return "", bridgeerr.New(bridgeerr.KindProcessLaunch, "no chromium executable found; set browser.binary or CDPBRIDGE_CHROME_PATH")
}

// Current returns the live handle, or nil.
func (s *Supervisor) Current() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != nil && s.handle.Alive() {
		return s.handle
	}
	return nil
}

// Alive reports whether a supervised process is running.
func (s *Supervisor) Alive() bool { return s.Current() != nil }

// EnsureRunning launches the browser unless one is already running.
// Concurrent callers share a single launch.
func (s *Supervisor) EnsureRunning(ctx context.Context) (*Handle, error) {
	if h := s.Current(); h != nil {
		return h, nil
	}
	ch := s.group.DoChan("launch", func() (interface{}, error) {
		if h := s.Current(); h != nil {
			return h, nil
		}
		h, err := s.launch()
		s.metrics.ProcessLaunched(err == nil)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.handle = h
		s.mu.Unlock()
		return h, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Handle), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Supervisor) launch() (*Handle, error) {
	log := logging.Get(logging.CategoryProcess)

	bin, err := ResolveBinary(s.cfg.Binary)
	if err != nil {
		return nil, err
	}
	args := LaunchArgs(s.cfg)
	cmd := s.command(bin, args...)
	configureProcess(cmd)
	out := &lineLogger{log: log}
	cmd.Stdout = out
	cmd.Stderr = out
	// Renderer children inherit the output pipes; do not let them hold Wait.
	cmd.WaitDelay = 2 * time.Second

	if err := cmd.Start(); err != nil {
		log.Error("launch %s failed: %v", bin, err)
		return nil, bridgeerr.Wrapf(bridgeerr.KindProcessLaunch, err, "start %s", bin)
	}

	h := &Handle{cmd: cmd, pid: cmd.Process.Pid, started: time.Now(), done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		h.mu.Lock()
		h.exitCode = -1
		if cmd.ProcessState != nil {
			h.exitCode = cmd.ProcessState.ExitCode()
		}
		h.mu.Unlock()
		close(h.done)
		log.Info("browser pid %d exited after %s (code %d): %v", h.pid, time.Since(h.Started()).Round(time.Millisecond), h.exitCode, err)
	}()

	log.Info("launched %s pid %d on port %d", bin, h.pid, s.cfg.Port)
	return h, nil
}

// Terminate stops the process: SIGTERM, then SIGKILL once the grace period
// (or ctx) expires. The handle is always cleared. Terminating when nothing
// runs, or when the process already exited, is not an error.
func (s *Supervisor) Terminate(ctx context.Context) error {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()
	if h == nil {
		return nil
	}
	defer func() {
		s.mu.Lock()
		if s.handle == h {
			s.handle = nil
		}
		s.mu.Unlock()
	}()

	if !h.Alive() {
		return nil
	}
	log := logging.Get(logging.CategoryProcess)

	if err := signalTerm(h.cmd); err != nil {
		log.Debug("SIGTERM pid %d: %v", h.pid, err)
	}
	timer := time.NewTimer(s.cfg.Grace)
	defer timer.Stop()
	select {
	case <-h.done:
		return nil
	case <-timer.C:
		log.Warn("browser pid %d ignored SIGTERM for %s, killing", h.pid, s.cfg.Grace)
	case <-ctx.Done():
	}

	if err := signalKill(h.cmd); err != nil && h.Alive() {
		return fmt.Errorf("kill browser pid %d: %w", h.pid, err)
	}
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		return fmt.Errorf("browser pid %d did not exit after SIGKILL", h.pid)
	}
	return nil
}

// lineLogger forwards browser output to the process log at debug level,
// one entry per line.
type lineLogger struct {
	log *logging.Logger
	mu  sync.Mutex
	buf []byte
}

const maxLine = 4096

func (w *lineLogger) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > maxLine {
		w.emit(w.buf)
		w.buf = nil
	}
	return len(p), nil
}

func (w *lineLogger) emit(line []byte) {
	if line = bytes.TrimRight(line, "\r"); len(line) > 0 {
		w.log.Debug("chromium: %s", line)
	}
}
