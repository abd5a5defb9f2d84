package cdp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"cdpbridge/internal/metrics"
	"cdpbridge/internal/ringlog"
)

// Options configures a Client.
type Options struct {
	CommandTimeout time.Duration
	Metrics        *metrics.Recorder
}

// Client pairs the dispatcher and router of one page connection.
type Client struct {
	conn       Conn
	dispatcher *Dispatcher
	router     *Router
}

// Open dials url and starts routing frames into logs.
func Open(ctx context.Context, url string, logs *ringlog.Logs, opts Options) (*Client, error) {
	conn, err := Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	return NewClient(conn, logs, opts), nil
}

// NewClient wraps an established connection and starts its router.
func NewClient(conn Conn, logs *ringlog.Logs, opts Options) *Client {
	d := NewDispatcher(conn, opts.CommandTimeout, opts.Metrics)
	r := NewRouter(conn, d, logs, opts.Metrics)
	go r.Run()
	return &Client{conn: conn, dispatcher: d, router: r}
}

// Send issues a raw command.
func (c *Client) Send(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	return c.dispatcher.Send(ctx, method, params)
}

// Call issues a typed command and decodes its result into out.
func (c *Client) Call(ctx context.Context, req proto.Request, out interface{}) error {
	return c.dispatcher.Call(ctx, req, out)
}

// WaitFor registers a one-shot waiter for the named event.
func (c *Client) WaitFor(method string) (<-chan json.RawMessage, func()) {
	return c.router.WaitFor(method)
}

// Pending returns the number of in-flight commands.
func (c *Client) Pending() int { return c.dispatcher.Pending() }

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.router.Done() }

// Alive reports whether the connection is still routing frames.
func (c *Client) Alive() bool {
	select {
	case <-c.router.Done():
		return false
	default:
		return true
	}
}

// Err returns the read error that ended the connection, or nil while it is
// open.
func (c *Client) Err() error { return c.router.Err() }

// Close closes the connection and waits for the router to drain pending
// commands.
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.router.Done()
	return err
}
