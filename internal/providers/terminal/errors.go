package terminal

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by this package matches exactly one of
// these with errors.Is.
var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionTerminated = errors.New("session terminated")
	ErrSessionTimeout    = errors.New("session timed out")
	ErrPTY               = errors.New("pty error")
	ErrIO                = errors.New("i/o error")
	ErrInvalidKey        = errors.New("invalid key")
	ErrInvalidConfig     = errors.New("invalid config")
	ErrInvalidCommand    = errors.New("invalid command")
	ErrResourceLimit     = errors.New("resource limit exceeded")
	ErrPermissionDenied  = errors.New("permission denied")
)

// OpError describes a failed operation against a session.
type OpError struct {
	Op        string
	SessionID string
	Kind      error
	Err       error
}

func (e *OpError) Error() string {
	msg := "terminal: " + e.Op
	if e.SessionID != "" {
		msg += " " + e.SessionID
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the underlying cause.
func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func opError(op, sessionID string, kind, err error) *OpError {
	return &OpError{Op: op, SessionID: sessionID, Kind: kind, Err: err}
}

func notFound(op, sessionID string) error {
	return opError(op, sessionID, ErrSessionNotFound, nil)
}

func invalidConfig(op, sessionID, format string, args ...any) error {
	return opError(op, sessionID, ErrInvalidConfig, fmt.Errorf(format, args...))
}

// TerminatedError is returned by operations on a session that has left the
// Running state. It carries the exit status and whatever output was still
// buffered so callers can diagnose without another round trip.
type TerminatedError struct {
	SessionID   string
	Reason      Reason
	Exit        *ExitStatus
	FinalOutput string
}

func (e *TerminatedError) Error() string {
	msg := fmt.Sprintf("terminal: session %s terminated (%s)", e.SessionID, e.Reason)
	if e.Exit != nil {
		msg += ": " + e.Exit.String()
	}
	return msg
}

// Is reports ErrSessionTerminated for every terminated session and
// ErrSessionTimeout for sessions reclaimed by the idle timeout.
func (e *TerminatedError) Is(target error) bool {
	switch target {
	case ErrSessionTerminated:
		return true
	case ErrSessionTimeout:
		return e.Reason == ReasonTimedOut
	}
	return false
}

// ExitCode returns the recorded exit code, or -1 if none was recorded.
func (e *TerminatedError) ExitCode() int {
	if e.Exit == nil {
		return -1
	}
	return e.Exit.Code
}

// Code maps an error to a stable snake_case identifier for wire protocols.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrSessionTimeout):
		return "session_timeout"
	case errors.Is(err, ErrSessionTerminated):
		return "session_terminated"
	case errors.Is(err, ErrInvalidKey):
		return "invalid_key"
	case errors.Is(err, ErrInvalidConfig):
		return "invalid_config"
	case errors.Is(err, ErrInvalidCommand):
		return "invalid_command"
	case errors.Is(err, ErrResourceLimit):
		return "resource_limit_exceeded"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrPTY):
		return "pty_error"
	case errors.Is(err, ErrIO):
		return "io_error"
	}
	return "internal_error"
}
