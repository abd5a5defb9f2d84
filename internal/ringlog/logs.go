package ringlog

import (
	"sync"
	"time"
)

// Kind tags which history an entry was recorded for.
type Kind string

const (
	KindConsole         Kind = "console"
	KindConsoleError    Kind = "consoleError"
	KindNetworkResponse Kind = "networkResponse"
	KindNetworkError    Kind = "networkError"
)

// ConsoleEntry is one console message emitted by the page.
type ConsoleEntry struct {
	Kind      Kind      `json:"kind"`
	Type      string    `json:"type"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// IsError reports whether the message severity belongs in the error history.
func (e ConsoleEntry) IsError() bool {
	return e.Type == "error" || e.Type == "warning"
}

// NetworkEntry is one HTTP response observed by the page.
type NetworkEntry struct {
	Kind       Kind      `json:"kind"`
	URL        string    `json:"url"`
	Status     int       `json:"status"`
	StatusText string    `json:"statusText"`
	Method     string    `json:"method"`
	Timestamp  time.Time `json:"timestamp"`
}

// IsError reports whether the response status is a client or server error.
func (e NetworkEntry) IsError() bool {
	return e.Status >= 400
}

// Logs groups the four page histories. Appends that touch two histories and
// Clear are serialized by one lock, so a concurrent append lands entirely
// before or entirely after a clear.
type Logs struct {
	mu            sync.Mutex
	console       *Buffer[ConsoleEntry]
	consoleErrors *Buffer[ConsoleEntry]
	network       *Buffer[NetworkEntry]
	networkErrors *Buffer[NetworkEntry]
}

// NewLogs creates the four histories with the given per-history capacity.
func NewLogs(capacity int) *Logs {
	return &Logs{
		console:       NewBuffer[ConsoleEntry](capacity),
		consoleErrors: NewBuffer[ConsoleEntry](capacity),
		network:       NewBuffer[NetworkEntry](capacity),
		networkErrors: NewBuffer[NetworkEntry](capacity),
	}
}

// AddConsole records a console message. Errors and warnings are also copied
// into the console-error history.
func (l *Logs) AddConsole(e ConsoleEntry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	e.Kind = KindConsole
	l.console.Append(e)
	if e.IsError() {
		e.Kind = KindConsoleError
		l.consoleErrors.Append(e)
	}
}

// AddNetwork records a response. Statuses >= 400 are also copied into the
// network-error history.
func (l *Logs) AddNetwork(e NetworkEntry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	e.Kind = KindNetworkResponse
	l.network.Append(e)
	if e.IsError() {
		e.Kind = KindNetworkError
		l.networkErrors.Append(e)
	}
}

// Clear empties all four histories at once.
func (l *Logs) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.console.Clear()
	l.consoleErrors.Clear()
	l.network.Clear()
	l.networkErrors.Clear()
}

func (l *Logs) Console() []ConsoleEntry       { return l.console.Snapshot() }
func (l *Logs) ConsoleErrors() []ConsoleEntry { return l.consoleErrors.Snapshot() }
func (l *Logs) Network() []NetworkEntry       { return l.network.Snapshot() }
func (l *Logs) NetworkErrors() []NetworkEntry { return l.networkErrors.Snapshot() }

// Counts returns the current length of each history.
func (l *Logs) Counts() map[Kind]int {
	return map[Kind]int{
		KindConsole:         l.console.Len(),
		KindConsoleError:    l.consoleErrors.Len(),
		KindNetworkResponse: l.network.Len(),
		KindNetworkError:    l.networkErrors.Len(),
	}
}
