package cdp

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"cdpbridge/internal/bridgeerr"
	"cdpbridge/internal/logging"
	"cdpbridge/internal/metrics"
	"cdpbridge/internal/ringlog"
)

// Event method names the router classifies.
var (
	eventConsoleAPICalled  = (&proto.RuntimeConsoleAPICalled{}).ProtoEvent()
	eventExceptionThrown   = (&proto.RuntimeExceptionThrown{}).ProtoEvent()
	eventLogEntryAdded     = (&proto.LogEntryAdded{}).ProtoEvent()
	eventRequestWillBeSent = (&proto.NetworkRequestWillBeSent{}).ProtoEvent()
	eventResponseReceived  = (&proto.NetworkResponseReceived{}).ProtoEvent()
)

// maxTrackedRequests bounds the requestId -> method map. When full the map
// is reset; responses whose request was forgotten are logged without a
// method.
const maxTrackedRequests = 1000

// Router is the single reader of a Conn. It resolves replies through the
// dispatcher and records notifications into the page logs.
type Router struct {
	conn       Conn
	dispatcher *Dispatcher
	logs       *ringlog.Logs
	metrics    *metrics.Recorder

	reqMu    sync.Mutex
	requests map[proto.NetworkRequestID]string

	waitMu  sync.Mutex
	waiters map[string]map[int]chan json.RawMessage
	waitSeq int

	done    chan struct{}
	errMu   sync.Mutex
	readErr error
}

// NewRouter creates a router. Run must be called to start draining frames.
func NewRouter(conn Conn, d *Dispatcher, logs *ringlog.Logs, rec *metrics.Recorder) *Router {
	return &Router{
		conn:       conn,
		dispatcher: d,
		logs:       logs,
		metrics:    rec,
		requests:   make(map[proto.NetworkRequestID]string),
		waiters:    make(map[string]map[int]chan json.RawMessage),
		done:       make(chan struct{}),
	}
}

// Run reads frames until the connection fails. On exit every pending
// command fails with a connection error and Done is closed.
func (r *Router) Run() {
	log := logging.Get(logging.CategoryCDP)
	defer close(r.done)

	for {
		data, err := r.conn.ReadMessage()
		if err != nil {
			r.errMu.Lock()
			r.readErr = err
			r.errMu.Unlock()
			log.Debug("router stopped: %v", err)
			r.dispatcher.failAll(bridgeerr.Wrapf(bridgeerr.KindConnection, err, "devtools connection lost"))
			r.closeWaiters()
			return
		}
		r.handle(data)
	}
}

// Done is closed once Run returns.
func (r *Router) Done() <-chan struct{} { return r.done }

// Err returns the read error that stopped Run, if any.
func (r *Router) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.readErr
}

func (r *Router) handle(data []byte) {
	f, err := DecodeFrame(data)
	if err != nil {
		r.metrics.FrameDiscarded("malformed")
		logging.Get(logging.CategoryCDP).Debug("discarding malformed frame: %v", err)
		return
	}
	if f.IsReply() {
		if !r.dispatcher.resolve(f) {
			r.metrics.FrameDiscarded("unknown_id")
			logging.Get(logging.CategoryCDP).Debug("discarding reply for unknown id %d", *f.ID)
		}
		return
	}
	r.notify(f.Method, f.Params)
	r.classify(f.Method, f.Params)
}

func (r *Router) classify(method string, params json.RawMessage) {
	switch method {
	case eventConsoleAPICalled:
		var ev proto.RuntimeConsoleAPICalled
		if !r.decode(method, params, &ev) {
			return
		}
		r.addConsole(string(ev.Type), stringifyConsoleArgs(ev.Args))

	case eventExceptionThrown:
		var ev proto.RuntimeExceptionThrown
		if !r.decode(method, params, &ev) || ev.ExceptionDetails == nil {
			return
		}
		text := ev.ExceptionDetails.Text
		if ex := ev.ExceptionDetails.Exception; ex != nil && ex.Description != "" {
			text = ex.Description
		}
		r.addConsole("error", text)

	case eventLogEntryAdded:
		var ev proto.LogEntryAdded
		if !r.decode(method, params, &ev) || ev.Entry == nil {
			return
		}
		r.addConsole(string(ev.Entry.Level), ev.Entry.Text)

	case eventRequestWillBeSent:
		var ev proto.NetworkRequestWillBeSent
		if !r.decode(method, params, &ev) || ev.Request == nil {
			return
		}
		r.reqMu.Lock()
		if len(r.requests) >= maxTrackedRequests {
			r.requests = make(map[proto.NetworkRequestID]string)
		}
		r.requests[ev.RequestID] = ev.Request.Method
		r.reqMu.Unlock()

	case eventResponseReceived:
		var ev proto.NetworkResponseReceived
		if !r.decode(method, params, &ev) || ev.Response == nil {
			return
		}
		r.reqMu.Lock()
		reqMethod := r.requests[ev.RequestID]
		delete(r.requests, ev.RequestID)
		r.reqMu.Unlock()

		entry := ringlog.NetworkEntry{
			URL:        ev.Response.URL,
			Status:     ev.Response.Status,
			StatusText: ev.Response.StatusText,
			Method:     reqMethod,
			Timestamp:  time.Now().UTC(),
		}
		r.logs.AddNetwork(entry)
		r.metrics.EventRecorded(string(ringlog.KindNetworkResponse))
		if entry.IsError() {
			r.metrics.EventRecorded(string(ringlog.KindNetworkError))
		}
	}
}

func (r *Router) addConsole(typ, text string) {
	entry := ringlog.ConsoleEntry{Type: typ, Text: text, Timestamp: time.Now().UTC()}
	r.logs.AddConsole(entry)
	r.metrics.EventRecorded(string(ringlog.KindConsole))
	if entry.IsError() {
		r.metrics.EventRecorded(string(ringlog.KindConsoleError))
	}
}

func (r *Router) decode(method string, params json.RawMessage, v interface{}) bool {
	if err := json.Unmarshal(params, v); err != nil {
		r.metrics.FrameDiscarded("bad_params")
		logging.Get(logging.CategoryCDP).Debug("discarding %s with bad params: %v", method, err)
		return false
	}
	return true
}

// WaitFor registers a one-shot waiter for the next notification named
// method. The returned cancel func must be called when the caller stops
// waiting. The channel is closed without a value if the connection drops.
func (r *Router) WaitFor(method string) (<-chan json.RawMessage, func()) {
	ch := make(chan json.RawMessage, 1)

	r.waitMu.Lock()
	defer r.waitMu.Unlock()
	if r.waiters == nil {
		close(ch)
		return ch, func() {}
	}
	r.waitSeq++
	seq := r.waitSeq
	if r.waiters[method] == nil {
		r.waiters[method] = make(map[int]chan json.RawMessage)
	}
	r.waiters[method][seq] = ch

	cancel := func() {
		r.waitMu.Lock()
		defer r.waitMu.Unlock()
		if r.waiters == nil {
			return
		}
		delete(r.waiters[method], seq)
		if len(r.waiters[method]) == 0 {
			delete(r.waiters, method)
		}
	}
	return ch, cancel
}

func (r *Router) notify(method string, params json.RawMessage) {
	r.waitMu.Lock()
	defer r.waitMu.Unlock()
	for seq, ch := range r.waiters[method] {
		ch <- params
		delete(r.waiters[method], seq)
	}
	if len(r.waiters[method]) == 0 {
		delete(r.waiters, method)
	}
}

// closeWaiters releases every waiter once the connection is gone. Later
// WaitFor calls return an already closed channel.
func (r *Router) closeWaiters() {
	r.waitMu.Lock()
	defer r.waitMu.Unlock()
	for _, set := range r.waiters {
		for _, ch := range set {
			close(ch)
		}
	}
	r.waiters = nil
}

func stringifyConsoleArgs(args []*proto.RuntimeRemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if a == nil {
			continue
		}
		if !a.Value.Nil() {
			parts = append(parts, a.Value.String())
			continue
		}
		switch {
		case a.UnserializableValue != "":
			parts = append(parts, string(a.UnserializableValue))
		case a.Description != "":
			parts = append(parts, a.Description)
		case a.Subtype == proto.RuntimeRemoteObjectSubtypeNull:
			parts = append(parts, "null")
		default:
			parts = append(parts, string(a.Type))
		}
	}
	return strings.Join(parts, " ")
}
