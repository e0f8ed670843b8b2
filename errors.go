// Package tscout is the top-level API: it wires a Supervisor to a tracked
// postmaster PID and exposes the resulting lifecycle, metrics, and error
// taxonomy to callers of cmd/tscout.
package tscout

import (
	"errors"
	"fmt"
	"syscall"
)

// Error represents one structured failure with enough context to route it:
// which component raised it, which PID/OU it concerns, and its taxonomy
// code (section 7's Load/Attach-feature/Lost-event/Queue-full/Process-vanish/
// Scraper-connection/Unknown-event categories).
type Error struct {
	Op        string    // operation that failed, e.g. "Load", "Attach", "Poll"
	Component string    // "collector", "processor", "scraper", "supervisor"
	Key       string    // the PID or OU name this error concerns, if any
	Code      ErrorCode // high-level taxonomy category
	Errno     syscall.Errno
	Msg       string
	Inner     error
}

func (e *Error) Error() string {
	var parts []string
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("component=%s", e.Component))
	}
	if e.Key != "" {
		parts = append(parts, fmt.Sprintf("key=%s", e.Key))
	}
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if len(parts) > 0 {
		return fmt.Sprintf("tscout: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("tscout: %s", msg)
}

func (e *Error) Unwrap() error { return e.Inner }

func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode enumerates the taxonomy from section 7.
type ErrorCode string

const (
	// ErrCodeLoad: probe program fails to compile or attach. Terminal for
	// the affected Collector only; the Supervisor continues.
	ErrCodeLoad ErrorCode = "load error"

	// ErrCodeAttachFeature: one _features variant absent from the target
	// binary. A warning, not fatal — the OU still gets begin/end/flush.
	ErrCodeAttachFeature ErrorCode = "attach-feature error"

	// ErrCodeLostEvent: kernel perf buffer overflow. Counted and reported
	// once at Collector shutdown, never retried.
	ErrCodeLostEvent ErrorCode = "lost event"

	// ErrCodeQueueFull: Processor lagging behind a bounded queue. The
	// Collector drops the record and increments a per-OU drop counter.
	ErrCodeQueueFull ErrorCode = "queue full"

	// ErrCodeProcessVanish: tracked PID exited without a reap event. The
	// Collector's poll fails and it unregisters itself; the Supervisor
	// treats this the same as an explicit reap.
	ErrCodeProcessVanish ErrorCode = "process vanish"

	// ErrCodeScraperConn: scraper's database connection failed. Logged;
	// the next tick retries; never crashes the Supervisor.
	ErrCodeScraperConn ErrorCode = "scraper connection error"

	// ErrCodeUnknownEvent: unrecognized postmaster lifecycle event, i.e. a
	// protocol mismatch between Model version and the attached binary.
	// Fatal to the Supervisor.
	ErrCodeUnknownEvent ErrorCode = "unknown postmaster event"

	// ErrCodeProtocolSkew: Model/template version mismatch detected at
	// load time (ordinal count or marker set disagreement). Fatal to the
	// Supervisor for the same reason as ErrCodeUnknownEvent: once the
	// kernel and user side disagree on N, routing by ordinal index is
	// unsound.
	ErrCodeProtocolSkew ErrorCode = "protocol skew"

	ErrCodeInvalidParameters ErrorCode = "invalid parameters"
	ErrCodeIOError           ErrorCode = "I/O error"
)

// Fatal reports whether code is fatal to the Supervisor as a whole, rather
// than local to one Collector/Processor/the Scraper.
func (c ErrorCode) Fatal() bool {
	return c == ErrCodeUnknownEvent || c == ErrCodeProtocolSkew
}

// NewError creates a structured error with no PID/OU context.
func NewError(component, op string, code ErrorCode, msg string) *Error {
	return &Error{Component: component, Op: op, Code: code, Msg: msg}
}

// NewKeyedError creates a structured error scoped to a PID or OU name.
func NewKeyedError(component, op, key string, code ErrorCode, msg string) *Error {
	return &Error{Component: component, Op: op, Key: key, Code: code, Msg: msg}
}

// WrapError wraps an arbitrary error with tscout context, mapping known
// syscall errnos onto the taxonomy.
func WrapError(component, op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if te, ok := inner.(*Error); ok {
		return &Error{Component: component, Op: op, Key: te.Key, Code: te.Code, Errno: te.Errno, Msg: te.Msg, Inner: te.Inner}
	}
	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{Component: component, Op: op, Code: mapErrnoToCode(errno), Errno: errno, Msg: errno.Error(), Inner: inner}
	}
	return &Error{Component: component, Op: op, Code: ErrCodeIOError, Msg: inner.Error(), Inner: inner}
}

func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.ESRCH, syscall.ENOENT:
		return ErrCodeProcessVanish
	case syscall.EINVAL, syscall.E2BIG:
		return ErrCodeInvalidParameters
	case syscall.ENOSYS, syscall.EOPNOTSUPP, syscall.EPERM, syscall.EACCES:
		return ErrCodeLoad
	default:
		return ErrCodeIOError
	}
}

// IsCode reports whether err carries the given taxonomy code.
func IsCode(err error, code ErrorCode) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Code == code
	}
	return false
}
