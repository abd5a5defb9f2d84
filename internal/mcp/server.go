package mcp

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/sourcegraph/jsonrpc2"

	"cdpbridge/internal/logging"
)

// Server answers MCP requests by driving a Browser and an Auditor.
type Server struct {
	info    ServerInfo
	browser Browser
	auditor Auditor
	byName  map[string]tool
}

// NewServer creates a Server.
func NewServer(info ServerInfo, b Browser, a Auditor) *Server {
	s := &Server{info: info, browser: b, auditor: a, byName: make(map[string]tool, len(tools))}
	for _, t := range tools {
		s.byName[t.name] = t
	}
	return s
}

// Tools lists every tool in registration order.
func (s *Server) Tools() []ToolSchema {
	out := make([]ToolSchema, 0, len(tools))
	for _, t := range tools {
		out = append(out, ToolSchema{Name: t.name, Description: t.description, InputSchema: json.RawMessage(t.schema)})
	}
	return out
}

// Serve speaks newline-delimited JSON-RPC on rwc until the peer
// disconnects or ctx is cancelled. Requests are handled concurrently.
func (s *Server) Serve(ctx context.Context, rwc io.ReadWriteCloser) error {
	log := logging.Get(logging.CategoryMCP)
	stream := jsonrpc2.NewBufferedStream(rwc, jsonrpc2.PlainObjectCodec{})
	conn := jsonrpc2.NewConn(ctx, stream, jsonrpc2.AsyncHandler(jsonrpc2.HandlerWithError(s.handle)))
	log.Info("serving %d tools", len(tools))

	select {
	case <-conn.DisconnectNotify():
		log.Info("client disconnected")
	case <-ctx.Done():
		_ = conn.Close()
		<-conn.DisconnectNotify()
	}
	return nil
}

func (s *Server) handle(ctx context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
	log := logging.Get(logging.CategoryMCP)

	switch req.Method {
	case "initialize":
		return InitializeResult{
			ProtocolVersion: ProtocolVersion,
			Capabilities:    Capabilities{Tools: &ToolsCapability{}},
			ServerInfo:      s.info,
		}, nil
	case "notifications/initialized", "notifications/cancelled":
		return nil, nil
	case "ping":
		return struct{}{}, nil
	case "tools/list":
		return ListToolsResult{Tools: s.Tools()}, nil
	case "tools/call":
		var p CallToolParams
		if req.Params == nil {
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "missing params"}
		}
		if err := json.Unmarshal(*req.Params, &p); err != nil {
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
		}
		start := time.Now()
		res := s.Call(ctx, p.Name, p.Arguments)
		log.Info("tool %s finished in %s (error=%t)", p.Name, time.Since(start).Round(time.Millisecond), res.IsError)
		return res, nil
	}
	if req.Notif {
		return nil, nil
	}
	return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "method not found: " + req.Method}
}

// Call runs one tool. Failures, including unknown tools and bad
// arguments, are reported in the result rather than as protocol errors.
func (s *Server) Call(ctx context.Context, name string, rawArgs json.RawMessage) *CallToolResult {
	t, ok := s.byName[name]
	if !ok {
		return errorResult(errUnknownTool(name))
	}
	var args toolArgs
	if len(rawArgs) > 0 && string(rawArgs) != "null" {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return errorResult(err)
		}
	}
	if err := t.validate(args); err != nil {
		return errorResult(err)
	}
	return t.run(ctx, s, args)
}

type errUnknownTool string

func (e errUnknownTool) Error() string { return "Unknown tool: " + string(e) }

// Stdio joins a reader and writer, typically os.Stdin and os.Stdout, into
// the stream Serve expects.
type Stdio struct {
	io.Reader
	io.Writer
}

// Close closes the reader and writer if they support it.
func (s Stdio) Close() error {
	var err error
	if c, ok := s.Reader.(io.Closer); ok {
		err = c.Close()
	}
	if c, ok := s.Writer.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
