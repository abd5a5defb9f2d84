package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"cdpbridge/internal/bridgeerr"
	"cdpbridge/internal/logging"
	"cdpbridge/internal/metrics"
)

// DefaultCommandTimeout bounds every command without an explicit timeout.
const DefaultCommandTimeout = 10 * time.Second

type outcome struct {
	result json.RawMessage
	err    error
}

type pendingCommand struct {
	id        int64
	method    string
	createdAt time.Time
	done      chan outcome // buffered, receives exactly one outcome
}

// Dispatcher sends commands and correlates replies by id. Whoever removes a
// command from the pending map delivers its outcome, so each command
// resolves exactly once even when a reply races its timeout.
type Dispatcher struct {
	conn    Conn
	timeout time.Duration
	metrics *metrics.Recorder

	mu      sync.Mutex
	nextID  int64
	pending map[int64]*pendingCommand
	closed  error // set once the connection is gone
}

// NewDispatcher creates a dispatcher writing to conn. A non-positive timeout
// selects DefaultCommandTimeout.
func NewDispatcher(conn Conn, timeout time.Duration, rec *metrics.Recorder) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &Dispatcher{
		conn:    conn,
		timeout: timeout,
		metrics: rec,
		pending: make(map[int64]*pendingCommand),
	}
}

// Send issues method with params and waits for its reply, the command
// timeout, or ctx cancellation.
func (d *Dispatcher) Send(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	pc, err := d.register(method)
	if err != nil {
		return nil, err
	}
	d.metrics.CommandStarted()

	data, err := json.Marshal(Request{ID: pc.id, Method: method, Params: params})
	if err != nil {
		d.remove(pc.id)
		d.metrics.CommandFinished(method, metrics.OutcomeProtocol, time.Since(pc.createdAt))
		return nil, fmt.Errorf("encode %s params: %w", method, err)
	}

	logging.Get(logging.CategoryCDP).Debug("-> %d %s", pc.id, method)
	if err := d.conn.WriteMessage(data); err != nil {
		if d.remove(pc.id) {
			d.metrics.CommandFinished(method, metrics.OutcomeConnection, time.Since(pc.createdAt))
			return nil, &bridgeerr.Error{Kind: bridgeerr.KindConnection, Method: method, Err: err}
		}
		// The connection failed underneath us and failAll already resolved it.
		return d.await(pc)
	}

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case out := <-pc.done:
		return d.finish(pc, out)
	case <-timer.C:
		if d.remove(pc.id) {
			logging.Get(logging.CategoryCDP).Warn("command %d %s timed out after %s", pc.id, method, d.timeout)
			return d.finish(pc, outcome{err: bridgeerr.CommandTimeout(method)})
		}
		return d.await(pc)
	case <-ctx.Done():
		if d.remove(pc.id) {
			return d.finish(pc, outcome{err: &bridgeerr.Error{Kind: bridgeerr.KindConnection, Method: method, Message: "command abandoned", Err: ctx.Err()}})
		}
		return d.await(pc)
	}
}

// Call sends a typed rod request and decodes the result into out, which may
// be nil for commands whose result is ignored.
func (d *Dispatcher) Call(ctx context.Context, req proto.Request, out interface{}) error {
	method := req.ProtoReq()
	raw, err := d.Send(ctx, method, req)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &bridgeerr.Error{Kind: bridgeerr.KindProtocol, Method: method, Message: "decode result", Err: err}
	}
	return nil
}

// Pending returns the number of in-flight commands.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Dispatcher) register(method string) (*pendingCommand, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed != nil {
		return nil, &bridgeerr.Error{Kind: bridgeerr.KindConnection, Method: method, Err: d.closed}
	}
	d.nextID++
	pc := &pendingCommand{
		id:        d.nextID,
		method:    method,
		createdAt: time.Now(),
		done:      make(chan outcome, 1),
	}
	d.pending[pc.id] = pc
	return pc, nil
}

// remove deletes id and reports whether the caller now owns its resolution.
func (d *Dispatcher) remove(id int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pending[id]; !ok {
		return false
	}
	delete(d.pending, id)
	return true
}

// await collects an outcome that another party has already committed to.
func (d *Dispatcher) await(pc *pendingCommand) (json.RawMessage, error) {
	return d.finish(pc, <-pc.done)
}

func (d *Dispatcher) finish(pc *pendingCommand, out outcome) (json.RawMessage, error) {
	d.metrics.CommandFinished(pc.method, outcomeLabel(out.err), time.Since(pc.createdAt))
	return out.result, out.err
}

// resolve delivers a reply frame. It returns false when no command with that
// id is pending (timed out, duplicate or never sent).
func (d *Dispatcher) resolve(f *Frame) bool {
	d.mu.Lock()
	pc, ok := d.pending[*f.ID]
	if ok {
		delete(d.pending, *f.ID)
	}
	d.mu.Unlock()
	if !ok {
		return false
	}

	if f.Error != nil {
		pc.done <- outcome{err: bridgeerr.Protocol(pc.method, f.Error.Message)}
	} else {
		pc.done <- outcome{result: f.Result}
	}
	logging.Get(logging.CategoryCDP).Debug("<- %d %s (%s)", pc.id, pc.method, time.Since(pc.createdAt))
	return true
}

// failAll resolves every pending command with a connection error and makes
// later sends fail fast.
func (d *Dispatcher) failAll(cause error) {
	d.mu.Lock()
	if d.closed == nil {
		d.closed = cause
	}
	victims := make([]*pendingCommand, 0, len(d.pending))
	for id, pc := range d.pending {
		victims = append(victims, pc)
		delete(d.pending, id)
	}
	d.mu.Unlock()

	for _, pc := range victims {
		pc.done <- outcome{err: &bridgeerr.Error{Kind: bridgeerr.KindConnection, Method: pc.method, Message: "connection closed", Err: cause}}
	}
}

func outcomeLabel(err error) string {
	switch bridgeerr.KindOf(err) {
	case bridgeerr.KindUnknown:
		if err == nil {
			return metrics.OutcomeOK
		}
		return metrics.OutcomeProtocol
	case bridgeerr.KindCommandTimeout:
		return metrics.OutcomeTimeout
	case bridgeerr.KindConnection:
		return metrics.OutcomeConnection
	default:
		return metrics.OutcomeProtocol
	}
}
