// Package cdptest provides a fake DevTools endpoint for tests: the HTTP
// target list and a WebSocket page connection answering CDP methods from
// scripted handlers.
package cdptest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gorilla/websocket"
)

// PNG is the screenshot payload returned by the default capture handler.
var PNG = []byte("\x89PNG\r\n\x1a\nfake")

// RemoteError is returned by a Handler to make the reply an error frame.
type RemoteError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Handler answers one CDP method.
type Handler func(params json.RawMessage) (interface{}, *RemoteError)

// Call records one command received on a page connection.
type Call struct {
	Method string
	Params json.RawMessage
}

// Target is the descriptor served on /json.
type Target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl,omitempty"`
}

// Element is a node the fake page resolves selectors to.
type Element struct {
	NodeID int
	X, Y   float64
	Width  float64
	Height float64
}

// Server is a fake browser DevTools endpoint.
type Server struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu        sync.Mutex
	handlers  map[string]Handler
	calls     []Call
	conns     map[*pageConn]struct{}
	targets   []Target
	elements  map[string]Element
	evals     map[string]interface{}
	html      string
	notReady  int
	seq       int
	silent    map[string]bool
	omitWSURL bool
	putOnly   bool

	listHits   atomic.Int64
	newHits    atomic.Int64
	wsAccepted atomic.Int64
}

type pageConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *pageConn) write(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

// New starts a fake endpoint with one open page and registers its shutdown
// with t.Cleanup.
func New(t testing.TB) *Server {
	s := &Server{
		handlers: make(map[string]Handler),
		conns:    make(map[*pageConn]struct{}),
		elements: make(map[string]Element),
		evals:    map[string]interface{}{"1+1": 2},
		silent:   make(map[string]bool),
		html:     "<html><head></head><body><h1>fake</h1></body></html>",
	}
	s.installDefaults()
	mux := http.NewServeMux()
	mux.HandleFunc("/json", s.handleList)
	mux.HandleFunc("/json/list", s.handleList)
	mux.HandleFunc("/json/new", s.handleNew)
	mux.HandleFunc("/json/version", s.handleVersion)
	mux.HandleFunc("/devtools/page/", s.handlePage)
	s.srv = httptest.NewServer(mux)
	s.targets = []Target{s.newTarget("about:blank")}
	t.Cleanup(s.Close)
	return s
}

// URL returns the base HTTP URL of the endpoint.
func (s *Server) URL() string { return s.srv.URL }

// HostPort returns the host and port the endpoint listens on.
func (s *Server) HostPort() (string, int) {
	host, port, _ := net.SplitHostPort(strings.TrimPrefix(s.srv.URL, "http://"))
	p, _ := strconv.Atoi(port)
	return host, p
}

// PageURL returns the WebSocket debugger URL of page id.
func (s *Server) PageURL(id string) string {
	return "ws://" + strings.TrimPrefix(s.srv.URL, "http://") + "/devtools/page/" + id
}

// Close drops every page connection and stops the server.
func (s *Server) Close() {
	s.DropConnections()
	s.srv.Close()
}

// ClearPages empties the target list so discovery has to create a page.
func (s *Server) ClearPages() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets = nil
}

// NotReady makes the next n target-list requests fail with 503.
func (s *Server) NotReady(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notReady = n
}

// OmitWebSocketURL serves targets without webSocketDebuggerUrl.
func (s *Server) OmitWebSocketURL() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.omitWSURL = true
}

// RequirePUT makes GET /json/new answer 405, like Chromium 111 and later.
func (s *Server) RequirePUT() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putOnly = true
}

// Handle overrides the handler for method.
func (s *Server) Handle(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// Silence makes the page never reply to method.
func (s *Server) Silence(method string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent[method] = true
}

// AddElement makes selector resolve to a node with the given content box.
func (s *Server) AddElement(selector string, el Element) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elements[selector] = el
}

// SetEval sets the by-value result for an exact expression.
func (s *Server) SetEval(expression string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evals[expression] = value
}

// SetHTML sets the document markup returned by DOM.getOuterHTML.
func (s *Server) SetHTML(html string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.html = html
}

// Emit sends a notification to every open page connection.
func (s *Server) Emit(method string, params interface{}) {
	s.mu.Lock()
	conns := make([]*pageConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.write(map[string]interface{}{"method": method, "params": params})
	}
}

// DropConnections closes every page connection, as a crashing browser would.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = make(map[*pageConn]struct{})
	s.mu.Unlock()
	for c := range conns {
		_ = c.ws.Close()
	}
}

// Calls returns every command received so far.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallCount returns how many times method was received.
func (s *Server) CallCount(method string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

// ListHits returns the number of target-list requests served.
func (s *Server) ListHits() int { return int(s.listHits.Load()) }

// NewHits returns the number of page-creation requests served.
func (s *Server) NewHits() int { return int(s.newHits.Load()) }

// Connections returns the number of page WebSockets accepted.
func (s *Server) Connections() int { return int(s.wsAccepted.Load()) }

func (s *Server) newTarget(url string) Target {
	s.seq++
	id := fmt.Sprintf("PAGE%d", s.seq)
	return Target{ID: id, Type: "page", Title: url, URL: url}
}

func (s *Server) describe(r *http.Request, tg Target) Target {
	if !s.omitWSURL {
		tg.WebSocketDebuggerURL = "ws://" + r.Host + "/devtools/page/" + tg.ID
	}
	return tg
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.listHits.Add(1)
	s.mu.Lock()
	if s.notReady > 0 {
		s.notReady--
		s.mu.Unlock()
		http.Error(w, "starting", http.StatusServiceUnavailable)
		return
	}
	out := make([]Target, 0, len(s.targets)+1)
	out = append(out, Target{ID: "SW1", Type: "service_worker", URL: "http://example.test/sw.js"})
	for _, tg := range s.targets {
		out = append(out, s.describe(r, tg))
	}
	s.mu.Unlock()
	writeJSON(w, out)
}

func (s *Server) handleNew(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	putOnly := s.putOnly
	s.mu.Unlock()
	if putOnly && r.Method != http.MethodPut {
		http.Error(w, "Using unsafe HTTP verb GET to invoke /json/new", http.StatusMethodNotAllowed)
		return
	}
	s.newHits.Add(1)
	s.mu.Lock()
	tg := s.newTarget("about:blank")
	s.targets = append(s.targets, tg)
	out := s.describe(r, tg)
	s.mu.Unlock()
	writeJSON(w, out)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"Browser":          "HeadlessChrome/0.0.0.0",
		"Protocol-Version": "1.3",
	})
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &pageConn{ws: ws}
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	s.wsAccepted.Add(1)

	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		ws.Close()
	}()

	for {
		var req struct {
			ID     int64           `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := ws.ReadJSON(&req); err != nil {
			return
		}
		s.mu.Lock()
		s.calls = append(s.calls, Call{Method: req.Method, Params: req.Params})
		h := s.handlers[req.Method]
		silent := s.silent[req.Method]
		s.mu.Unlock()
		if silent {
			continue
		}

		var result interface{} = struct{}{}
		var rerr *RemoteError
		if h != nil {
			result, rerr = h(req.Params)
		}
		reply := map[string]interface{}{"id": req.ID}
		if rerr != nil {
			reply["error"] = rerr
		} else {
			reply["result"] = result
		}
		if err := c.write(reply); err != nil {
			return
		}
		if req.Method == "Page.navigate" && rerr == nil {
			s.Emit("Page.loadEventFired", map[string]float64{"timestamp": 1})
		}
	}
}

func (s *Server) installDefaults() {
	s.handlers["Runtime.evaluate"] = func(params json.RawMessage) (interface{}, *RemoteError) {
		var p struct {
			Expression string `json:"expression"`
		}
		_ = json.Unmarshal(params, &p)
		s.mu.Lock()
		v, ok := s.evals[p.Expression]
		s.mu.Unlock()
		if !ok {
			return map[string]interface{}{"result": map[string]string{"type": "undefined"}}, nil
		}
		return map[string]interface{}{"result": remoteValue(v)}, nil
	}
	s.handlers["DOM.getDocument"] = func(json.RawMessage) (interface{}, *RemoteError) {
		return map[string]interface{}{"root": map[string]interface{}{
			"nodeId": 1, "backendNodeId": 1, "nodeType": 9, "nodeName": "#document", "localName": "", "nodeValue": "",
		}}, nil
	}
	s.handlers["DOM.querySelector"] = func(params json.RawMessage) (interface{}, *RemoteError) {
		var p struct {
			Selector string `json:"selector"`
		}
		_ = json.Unmarshal(params, &p)
		s.mu.Lock()
		el, ok := s.elements[p.Selector]
		s.mu.Unlock()
		if !ok {
			return map[string]int{"nodeId": 0}, nil
		}
		return map[string]int{"nodeId": el.NodeID}, nil
	}
	s.handlers["DOM.getBoxModel"] = func(params json.RawMessage) (interface{}, *RemoteError) {
		var p struct {
			NodeID int `json:"nodeId"`
		}
		_ = json.Unmarshal(params, &p)
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, el := range s.elements {
			if el.NodeID == p.NodeID {
				quad := []float64{el.X, el.Y, el.X + el.Width, el.Y, el.X + el.Width, el.Y + el.Height, el.X, el.Y + el.Height}
				return map[string]interface{}{"model": map[string]interface{}{
					"content": quad, "padding": quad, "border": quad, "margin": quad,
					"width": el.Width, "height": el.Height,
				}}, nil
			}
		}
		return nil, &RemoteError{Code: -32000, Message: "Could not compute box model."}
	}
	s.handlers["DOM.getOuterHTML"] = func(json.RawMessage) (interface{}, *RemoteError) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return map[string]string{"outerHTML": s.html}, nil
	}
	s.handlers["Page.navigate"] = func(json.RawMessage) (interface{}, *RemoteError) {
		return map[string]string{"frameId": "FRAME1", "loaderId": "LOADER1"}, nil
	}
	s.handlers["Page.getLayoutMetrics"] = func(json.RawMessage) (interface{}, *RemoteError) {
		size := map[string]float64{"x": 0, "y": 0, "width": 1280, "height": 4000}
		return map[string]interface{}{"contentSize": size, "cssContentSize": size}, nil
	}
	s.handlers["Page.captureScreenshot"] = func(json.RawMessage) (interface{}, *RemoteError) {
		return map[string]string{"data": base64.StdEncoding.EncodeToString(PNG)}, nil
	}
	s.handlers["Page.addScriptToEvaluateOnNewDocument"] = func(json.RawMessage) (interface{}, *RemoteError) {
		return map[string]string{"identifier": "1"}, nil
	}
}

func remoteValue(v interface{}) map[string]interface{} {
	switch v.(type) {
	case nil:
		return map[string]interface{}{"type": "object", "subtype": "null", "value": nil}
	case string:
		return map[string]interface{}{"type": "string", "value": v}
	case bool:
		return map[string]interface{}{"type": "boolean", "value": v}
	case int, int64, float64:
		return map[string]interface{}{"type": "number", "value": v, "description": fmt.Sprint(v)}
	default:
		return map[string]interface{}{"type": "object", "value": v}
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	_ = json.NewEncoder(w).Encode(v)
}
