// Package bridgeerr defines the typed failures surfaced by the browser bridge.
// Every layer (process supervision, discovery, command dispatch, automation)
// reports failures as *Error so callers can branch on Kind without string
// matching.
package bridgeerr

import (
	"errors"
	"fmt"
)

// Kind classifies a bridge failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindProcessLaunch
	KindDiscoveryTimeout
	KindConnection
	KindCommandTimeout
	KindProtocol
	KindElementNotFound
)

func (k Kind) String() string {
	switch k {
	case KindProcessLaunch:
		return "process_launch_failure"
	case KindDiscoveryTimeout:
		return "discovery_timeout"
	case KindConnection:
		return "connection_error"
	case KindCommandTimeout:
		return "command_timeout"
	case KindProtocol:
		return "protocol_error"
	case KindElementNotFound:
		return "element_not_found"
	default:
		return "unknown"
	}
}

var (
	ErrProcessLaunch    = errors.New("browser process launch failed")
	ErrDiscoveryTimeout = errors.New("devtools endpoint not ready")
	ErrConnection       = errors.New("devtools connection error")
	ErrCommandTimeout   = errors.New("cdp command timeout")
	ErrProtocol         = errors.New("cdp protocol error")
	ErrElementNotFound  = errors.New("element not found")
)

var sentinels = map[Kind]error{
	KindProcessLaunch:    ErrProcessLaunch,
	KindDiscoveryTimeout: ErrDiscoveryTimeout,
	KindConnection:       ErrConnection,
	KindCommandTimeout:   ErrCommandTimeout,
	KindProtocol:         ErrProtocol,
	KindElementNotFound:  ErrElementNotFound,
}

// Error is a bridge failure with operation context.
type Error struct {
	Kind     Kind
	Op       string // facade operation, e.g. "click"
	Method   string // CDP method, when the failure is tied to one command
	Selector string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		if s, ok := sentinels[e.Kind]; ok {
			msg = s.Error()
		} else {
			msg = e.Kind.String()
		}
	}
	if e.Method != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Method)
	}
	if e.Selector != "" {
		msg = fmt.Sprintf("%s (selector %q)", msg, e.Selector)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match an *Error against the Kind sentinels.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrapf wraps err with a kind and a formatted message.
func Wrapf(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// CommandTimeout reports a command that received no reply in time.
func CommandTimeout(method string) *Error {
	return &Error{Kind: KindCommandTimeout, Method: method}
}

// Protocol reports an error payload returned by the remote engine.
func Protocol(method, message string) *Error {
	return &Error{Kind: KindProtocol, Method: method, Message: "cdp error: " + message}
}

// ElementNotFound reports a selector that resolved to no node.
func ElementNotFound(op, selector string) *Error {
	return &Error{Kind: KindElementNotFound, Op: op, Selector: selector}
}

// WithOp adds operation context to err without changing its kind. Errors that
// are not *Error are returned wrapped in a plain fmt error.
func WithOp(op string, err error) error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		if be.Op != "" {
			return err
		}
		cp := *be
		cp.Op = op
		return &cp
	}
	return fmt.Errorf("%s: %w", op, err)
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsConnectionError returns true if the error indicates a lost or unusable
// devtools connection.
func IsConnectionError(err error) bool {
	return Is(err, KindConnection)
}
