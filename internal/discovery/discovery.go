// Package discovery finds a debuggable page through the browser's DevTools
// HTTP endpoint (/json, /json/new).
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"cdpbridge/internal/bridgeerr"
	"cdpbridge/internal/logging"
)

// Target describes one debuggable browsing context.
type Target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Config controls where and how long discovery polls.
type Config struct {
	Host           string
	Port           int
	PollInterval   time.Duration
	MaxAttempts    int
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

// DefaultConfig returns the defaults for a browser on localhost:9222.
func DefaultConfig() Config {
	return Config{
		Host:           "127.0.0.1",
		Port:           9222,
		PollInterval:   500 * time.Millisecond,
		MaxAttempts:    20,
		RequestTimeout: 5 * time.Second,
	}
}

// Discoverer queries one DevTools endpoint.
type Discoverer struct {
	cfg    Config
	base   string
	client *http.Client
}

// New creates a Discoverer. Zero fields of cfg take their defaults.
func New(cfg Config) *Discoverer {
	def := DefaultConfig()
	if cfg.Host == "" {
		cfg.Host = def.Host
	}
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &Discoverer{
		cfg:    cfg,
		base:   "http://" + net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		client: client,
	}
}

// Endpoint returns the base URL of the control endpoint.
func (d *Discoverer) Endpoint() string { return d.base }

// List returns every target the browser reports.
func (d *Discoverer) List(ctx context.Context) ([]Target, error) {
	var targets []Target
	if err := d.getJSON(ctx, http.MethodGet, "/json", &targets); err != nil {
		return nil, err
	}
	return targets, nil
}

// Create opens a new blank page. Chromium 111+ rejects GET on /json/new with
// 405, in which case the request is repeated with PUT.
func (d *Discoverer) Create(ctx context.Context) (Target, error) {
	var t Target
	err := d.getJSON(ctx, http.MethodGet, "/json/new", &t)
	if se, ok := err.(*statusError); ok && se.code == http.StatusMethodNotAllowed {
		err = d.getJSON(ctx, http.MethodPut, "/json/new", &t)
	}
	if err != nil {
		return Target{}, err
	}
	return d.complete(t), nil
}

// Attach resolves a page to connect to, creating one when none is open. The
// endpoint is polled every PollInterval until it answers or MaxAttempts is
// reached, since the process can be running before its endpoint is.
func (d *Discoverer) Attach(ctx context.Context) (Target, error) {
	log := logging.Get(logging.CategoryDiscovery)

	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		t, err := d.attachOnce(ctx)
		if err == nil {
			log.Info("attached to page %s (%s) after %d attempt(s)", t.ID, t.URL, attempt)
			return t, nil
		}
		lastErr = err
		log.Debug("attach attempt %d/%d failed: %v", attempt, d.cfg.MaxAttempts, err)

		if attempt == d.cfg.MaxAttempts {
			break
		}
		timer := time.NewTimer(d.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Target{}, bridgeerr.Wrapf(bridgeerr.KindDiscoveryTimeout, ctx.Err(), "discovery at %s abandoned", d.base)
		case <-timer.C:
		}
	}
	return Target{}, bridgeerr.Wrapf(bridgeerr.KindDiscoveryTimeout, lastErr,
		"devtools endpoint %s not ready after %d attempts", d.base, d.cfg.MaxAttempts)
}

func (d *Discoverer) attachOnce(ctx context.Context) (Target, error) {
	targets, err := d.List(ctx)
	if err != nil {
		return Target{}, err
	}
	for _, t := range targets {
		if t.Type == "page" {
			return d.complete(t), nil
		}
	}
	return d.Create(ctx)
}

// complete fills in the debugger URL for targets that omit it.
func (d *Discoverer) complete(t Target) Target {
	if t.WebSocketDebuggerURL == "" && t.ID != "" {
		t.WebSocketDebuggerURL = "ws://" + net.JoinHostPort(d.cfg.Host, strconv.Itoa(d.cfg.Port)) + "/devtools/page/" + t.ID
	}
	return t
}

type statusError struct {
	method, path string
	code         int
	body         string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.method, e.path, e.code, e.body)
}

func (d *Discoverer) getJSON(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, d.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{method: method, path: path, code: resp.StatusCode, body: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
