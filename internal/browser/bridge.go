// Package browser provides the automation surface over one supervised
// headless browser: it lazily launches the process, attaches to a page and
// drives it through the cdp client.
package browser

import (
	"context"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"cdpbridge/internal/artifact"
	"cdpbridge/internal/bridgeerr"
	"cdpbridge/internal/cdp"
	"cdpbridge/internal/discovery"
	"cdpbridge/internal/logging"
	"cdpbridge/internal/metrics"
	"cdpbridge/internal/ringlog"
	"cdpbridge/internal/supervisor"
)

// Config holds browser configuration.
type Config struct {
	Binary         string
	Port           int
	UserDataDir    string
	ExtraArgs      []string
	TerminateGrace time.Duration

	ViewportWidth  int
	ViewportHeight int
	UserAgent      string

	NavigationTimeout time.Duration
	CommandTimeout    time.Duration

	DiscoveryInterval time.Duration
	DiscoveryAttempts int

	LogCapacity int
	ArtifactDir string
}

// DefaultConfig returns the defaults used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Port:              9222,
		TerminateGrace:    supervisor.DefaultGrace,
		ViewportWidth:     1280,
		ViewportHeight:    720,
		NavigationTimeout: 30 * time.Second,
		CommandTimeout:    cdp.DefaultCommandTimeout,
		DiscoveryInterval: 500 * time.Millisecond,
		DiscoveryAttempts: 20,
		LogCapacity:       ringlog.DefaultCapacity,
	}
}

// GetViewportWidth returns viewport width.
func (c Config) GetViewportWidth() int {
	if c.ViewportWidth <= 0 {
		return 1280
	}
	return c.ViewportWidth
}

// GetViewportHeight returns viewport height.
func (c Config) GetViewportHeight() int {
	if c.ViewportHeight <= 0 {
		return 720
	}
	return c.ViewportHeight
}

// GetNavigationTimeout returns how long Navigate waits for the load event.
func (c Config) GetNavigationTimeout() time.Duration {
	if c.NavigationTimeout <= 0 {
		return 30 * time.Second
	}
	return c.NavigationTimeout
}

// Launcher owns the browser process.
type Launcher interface {
	Launch(ctx context.Context) error
	Terminate(ctx context.Context) error
	Alive() bool
}

// Attacher resolves the page to connect to.
type Attacher interface {
	Attach(ctx context.Context) (discovery.Target, error)
}

// Dialer opens the page connection.
type Dialer func(ctx context.Context, url string) (cdp.Conn, error)

// Option customizes a Bridge.
type Option func(*Bridge)

// WithLauncher replaces the process supervisor.
func WithLauncher(l Launcher) Option { return func(b *Bridge) { b.launcher = l } }

// WithAttacher replaces target discovery.
func WithAttacher(a Attacher) Option { return func(b *Bridge) { b.attacher = a } }

// WithDialer replaces the WebSocket dialer.
func WithDialer(d Dialer) Option { return func(b *Bridge) { b.dial = d } }

// WithStore sets where screenshots are written.
func WithStore(s *artifact.Store) Option { return func(b *Bridge) { b.store = s } }

// WithMetrics records command and process metrics into rec.
func WithMetrics(rec *metrics.Recorder) Option { return func(b *Bridge) { b.metrics = rec } }

// supervised adapts a Supervisor to Launcher.
type supervised struct{ s *supervisor.Supervisor }

func (p supervised) Launch(ctx context.Context) error {
	_, err := p.s.EnsureRunning(ctx)
	return err
}

func (p supervised) Terminate(ctx context.Context) error { return p.s.Terminate(ctx) }
func (p supervised) Alive() bool                         { return p.s.Alive() }

// Bridge owns one browser process, one attached page and its logs.
type Bridge struct {
	cfg      Config
	id       string
	launcher Launcher
	attacher Attacher
	dial     Dialer
	store    *artifact.Store
	metrics  *metrics.Recorder
	logs     *ringlog.Logs

	group singleflight.Group
	// lifecycle is held by connect while it builds a session and by Close
	// while it tears one down.
	lifecycle chan struct{}

	mu     sync.Mutex
	client *cdp.Client
	target discovery.Target
}

// New creates a Bridge. Nothing is launched until the first operation.
func New(cfg Config, opts ...Option) *Bridge {
	b := &Bridge{
		cfg:       cfg,
		id:        uuid.NewString(),
		logs:      ringlog.NewLogs(cfg.LogCapacity),
		dial:      cdp.Dial,
		lifecycle: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(b)
	}
	sup := supervisor.New(supervisor.Config{
		Binary:      cfg.Binary,
		Port:        cfg.Port,
		UserDataDir: cfg.UserDataDir,
		Grace:       cfg.TerminateGrace,
		ExtraArgs:   cfg.ExtraArgs,
	}, b.metrics)
	if b.launcher == nil {
		b.launcher = supervised{sup}
	}
	if b.attacher == nil {
		b.attacher = discovery.New(discovery.Config{
			Port:         sup.Port(),
			PollInterval: cfg.DiscoveryInterval,
			MaxAttempts:  cfg.DiscoveryAttempts,
		})
	}
	if b.store == nil {
		b.store = artifact.NewStore(cfg.ArtifactDir)
	}
	return b
}

// ID identifies this bridge in logs.
func (b *Bridge) ID() string { return b.id }

// Logs returns the event buffers fed by the page connection.
func (b *Bridge) Logs() *ringlog.Logs { return b.logs }

// Target returns the currently attached page, if any.
func (b *Bridge) Target() (discovery.Target, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.target, b.client != nil && b.client.Alive()
}

// IsConnected reports whether a live page connection exists.
func (b *Bridge) IsConnected() bool {
	_, ok := b.Target()
	return ok
}

func (b *Bridge) live() *cdp.Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil && b.client.Alive() && b.launcher.Alive() {
		return b.client
	}
	return nil
}

// ensure returns a live client, launching, attaching and dialing as
// needed. Concurrent callers share one attempt.
func (b *Bridge) ensure(ctx context.Context) (*cdp.Client, error) {
	if c := b.live(); c != nil {
		return c, nil
	}
	ch := b.group.DoChan("ensure", func() (interface{}, error) {
		if c := b.live(); c != nil {
			return c, nil
		}
		return b.connect(ctx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*cdp.Client), nil
	case <-ctx.Done():
		return nil, bridgeerr.Wrapf(bridgeerr.KindConnection, ctx.Err(), "waiting for browser")
	}
}

func (b *Bridge) acquire(ctx context.Context) error {
	select {
	case b.lifecycle <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bridge) release() { <-b.lifecycle }

func (b *Bridge) connect(ctx context.Context) (*cdp.Client, error) {
	log := logging.Get(logging.CategoryBrowser)

	if err := b.acquire(ctx); err != nil {
		return nil, bridgeerr.Wrapf(bridgeerr.KindConnection, err, "waiting for browser shutdown")
	}
	defer b.release()

	b.mu.Lock()
	stale := b.client
	b.client = nil
	b.target = discovery.Target{}
	b.mu.Unlock()
	if stale != nil {
		log.Info("session %s: page connection lost (%v), reattaching", b.id, stale.Err())
		_ = stale.Close()
	}

	if !b.launcher.Alive() {
		if err := b.launcher.Launch(ctx); err != nil {
			return nil, err
		}
	}
	target, err := b.attacher.Attach(ctx)
	if err != nil {
		return nil, err
	}
	conn, err := b.dial(ctx, target.WebSocketDebuggerURL)
	if err != nil {
		return nil, err
	}
	client := cdp.NewClient(conn, b.logs, cdp.Options{CommandTimeout: b.cfg.CommandTimeout, Metrics: b.metrics})
	if err := b.setup(ctx, client); err != nil {
		_ = client.Close()
		return nil, err
	}

	b.mu.Lock()
	b.client = client
	b.target = target
	b.mu.Unlock()
	log.Info("session %s: attached to %s", b.id, target.WebSocketDebuggerURL)
	return client, nil
}

// setup enables the domains whose events feed the logs and applies the
// viewport and user agent.
func (b *Bridge) setup(ctx context.Context, c *cdp.Client) error {
	steps := []proto.Request{
		proto.PageEnable{},
		proto.RuntimeEnable{},
		proto.NetworkEnable{},
		proto.LogEnable{},
		proto.EmulationSetDeviceMetricsOverride{
			Width:             b.cfg.GetViewportWidth(),
			Height:            b.cfg.GetViewportHeight(),
			DeviceScaleFactor: 1,
		},
	}
	if b.cfg.UserAgent != "" {
		steps = append(steps, proto.NetworkSetUserAgentOverride{UserAgent: b.cfg.UserAgent})
	}
	for _, req := range steps {
		if err := c.Call(ctx, req, nil); err != nil {
			return bridgeerr.WithOp("setup", err)
		}
	}
	return nil
}

// Close shuts the page connection and the browser process. A session that
// is still starting is allowed to finish and is then torn down. The logs are
// kept. Closing an already closed bridge succeeds.
func (b *Bridge) Close(ctx context.Context) (string, error) {
	log := logging.Get(logging.CategoryBrowser)

	if err := b.acquire(ctx); err != nil {
		return "", bridgeerr.WithOp("closeBrowser", bridgeerr.Wrapf(bridgeerr.KindConnection, err, "waiting for browser startup"))
	}
	defer b.release()

	b.mu.Lock()
	c := b.client
	b.client = nil
	b.target = discovery.Target{}
	b.mu.Unlock()

	if c != nil {
		if err := c.Close(); err != nil {
			log.Debug("session %s: close connection: %v", b.id, err)
		}
	}
	if err := b.launcher.Terminate(ctx); err != nil {
		if b.launcher.Alive() {
			return "", bridgeerr.WithOp("closeBrowser", err)
		}
		log.Debug("session %s: terminate: %v", b.id, err)
	}
	log.Info("session %s: browser closed", b.id)
	return "Browser closed successfully", nil
}
