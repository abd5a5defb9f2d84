// Package cdp owns the single DevTools WebSocket connection to the attached
// page: request framing, reply correlation and notification routing.
//
// Typed params and results come from github.com/go-rod/rod/lib/proto. Only
// the wire plumbing lives here; rod's own browser client is not used.
package cdp

import (
	"encoding/json"
	"errors"
)

// Request is one outgoing command frame.
type Request struct {
	ID     int64       `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

// RemoteError is the error payload of a failed reply.
type RemoteError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// Frame is any inbound frame. Replies carry ID, notifications carry Method
// and no ID.
type Frame struct {
	ID     *int64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RemoteError    `json:"error,omitempty"`
	// SessionID is set on flattened session traffic, which the bridge does
	// not use. Such frames are still routed by ID and method.
	SessionID string `json:"sessionId,omitempty"`
}

// IsReply reports whether the frame answers a command.
func (f *Frame) IsReply() bool { return f.ID != nil }

// IsNotification reports whether the frame is an unsolicited event.
func (f *Frame) IsNotification() bool { return f.ID == nil && f.Method != "" }

var errEmptyFrame = errors.New("frame has neither id nor method")

// DecodeFrame parses one inbound frame.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if !f.IsReply() && !f.IsNotification() {
		return nil, errEmptyFrame
	}
	return &f, nil
}
