package cdp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"
)

// pipeConn is an in-memory Conn. Frames pushed with deliver are read by the
// router; frames written by the dispatcher are collected from outbound.
type pipeConn struct {
	inbound   chan []byte
	outbound  chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

var errPipeClosed = errors.New("pipe closed")

func newPipeConn() *pipeConn {
	return &pipeConn{
		inbound:  make(chan []byte, 128),
		outbound: make(chan []byte, 128),
		closed:   make(chan struct{}),
	}
}

func (p *pipeConn) ReadMessage() ([]byte, error) {
	select {
	case d := <-p.inbound:
		return d, nil
	case <-p.closed:
		return nil, io.EOF
	}
}

func (p *pipeConn) WriteMessage(data []byte) error {
	select {
	case <-p.closed:
		return errPipeClosed
	default:
	}
	p.outbound <- data
	return nil
}

func (p *pipeConn) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

func (p *pipeConn) deliver(frame string) {
	p.inbound <- []byte(frame)
}

type sentRequest struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func (p *pipeConn) next(t *testing.T) sentRequest {
	t.Helper()
	select {
	case data := <-p.outbound:
		var req sentRequest
		if err := json.Unmarshal(data, &req); err != nil {
			t.Fatalf("dispatcher wrote invalid frame %q: %v", data, err)
		}
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("no request written")
		return sentRequest{}
	}
}

func (p *pipeConn) reply(id int64, result string) {
	p.deliver(fmt.Sprintf(`{"id":%d,"result":%s}`, id, result))
}
