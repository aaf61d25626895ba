package terminal

import (
	"fmt"
	"time"
)

// State is a session lifecycle state.
type State string

const (
	StateCreated    State = "created"
	StateRunning    State = "running"
	StateTerminated State = "terminated"
)

// Reason records why a session reached StateTerminated.
type Reason string

const (
	ReasonCompleted Reason = "completed" // child exited on its own
	ReasonKilled    Reason = "killed"    // explicit terminate or shutdown
	ReasonTimedOut  Reason = "timed_out" // idle timeout
)

// Bounds for caller-supplied parameters.
const (
	DefaultRows  = 24
	DefaultCols  = 80
	MaxDimension = 500

	DefaultReadTimeout = time.Second
	MaxReadTimeout     = 30 * time.Second
	DefaultReadBytes   = 64 * 1024
	MinReadBytes       = 1024
	MaxReadBytes       = 1024 * 1024
)

// Size is a terminal viewport in character cells.
type Size struct {
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`
}

// NewSize validates rows and cols (each 1..MaxDimension).
func NewSize(rows, cols int) (Size, error) {
	if rows < 1 || rows > MaxDimension {
		return Size{}, invalidConfig("resize", "", "rows must be within 1..%d, got %d", MaxDimension, rows)
	}
	if cols < 1 || cols > MaxDimension {
		return Size{}, invalidConfig("resize", "", "cols must be within 1..%d, got %d", MaxDimension, cols)
	}
	return Size{Rows: uint16(rows), Cols: uint16(cols)}, nil
}

// DefaultSize is the 24x80 viewport used when callers do not specify one.
func DefaultSize() Size {
	return Size{Rows: DefaultRows, Cols: DefaultCols}
}

// ExitStatus is how a child process ended.
type ExitStatus struct {
	Code   int    `json:"code"`
	Signal string `json:"signal,omitempty"`
}

func (e ExitStatus) String() string {
	if e.Signal != "" {
		return fmt.Sprintf("killed by signal %s", e.Signal)
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

// ReadResult is the outcome of a successful read.
type ReadResult struct {
	Text    string      `json:"text"`
	State   State       `json:"state"`
	Reason  Reason      `json:"reason,omitempty"`
	Exit    *ExitStatus `json:"exit_status,omitempty"`
	Dropped int         `json:"dropped_bytes,omitempty"`
}

// ReadOptions are the caller-facing read parameters.
type ReadOptions struct {
	Timeout  time.Duration
	MaxBytes int
}

// DefaultReadOptions returns a 1s timeout and a 64 KiB limit.
func DefaultReadOptions() ReadOptions {
	return ReadOptions{Timeout: DefaultReadTimeout, MaxBytes: DefaultReadBytes}
}

// Validate enforces timeout 0..30s and max bytes 1 KiB..1 MiB.
func (o ReadOptions) Validate() error {
	if o.Timeout < 0 || o.Timeout > MaxReadTimeout {
		return invalidConfig("read", "", "timeout must be within 0..%dms, got %dms", MaxReadTimeout.Milliseconds(), o.Timeout.Milliseconds())
	}
	if o.MaxBytes < MinReadBytes || o.MaxBytes > MaxReadBytes {
		return invalidConfig("read", "", "max_bytes must be within %d..%d, got %d", MinReadBytes, MaxReadBytes, o.MaxBytes)
	}
	return nil
}

// SessionInfo is the public representation of a session.
type SessionInfo struct {
	ID           string      `json:"id"`
	Command      string      `json:"command"`
	Args         []string    `json:"args,omitempty"`
	WorkingDir   string      `json:"working_dir,omitempty"`
	Rows         int         `json:"rows"`
	Cols         int         `json:"cols"`
	Pid          int         `json:"pid"`
	State        State       `json:"state"`
	Reason       Reason      `json:"reason,omitempty"`
	Exit         *ExitStatus `json:"exit_status,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	LastActivity time.Time   `json:"last_activity"`
	IdleSeconds  float64     `json:"idle_seconds"`
	Buffered     int         `json:"buffered_bytes"`
	Active       bool        `json:"active"`
}
