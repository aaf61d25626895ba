// Package terminaltest provides an in-memory terminal.Handle for testing
// code built on the session registry without allocating real PTYs.
package terminaltest

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/GriffinCanCode/ptyd/internal/providers/terminal"
)

// Handle echoes everything written to it back as output, like a terminal in
// cooked mode running cat. Writing the Ctrl+D byte on its own ends the
// child with exit code 0.
type Handle struct {
	pid int

	out    chan []byte
	done   chan struct{}
	status chan *terminal.ExitStatus

	mu      sync.Mutex
	pending []byte
	size    terminal.Size
	input   []byte

	exitOnce  sync.Once
	closeOnce sync.Once
	closed    chan struct{}
}

var pids atomic.Int32

// NewHandle returns a running echo handle.
func NewHandle(size terminal.Size) *Handle {
	return &Handle{
		pid:    int(40000 + pids.Add(1)),
		out:    make(chan []byte, 256),
		done:   make(chan struct{}),
		status: make(chan *terminal.ExitStatus, 1),
		closed: make(chan struct{}),
		size:   size,
	}
}

// Emit queues output as if the child printed it.
func (h *Handle) Emit(s string) {
	select {
	case h.out <- []byte(s):
	case <-h.done:
	}
}

// Exit ends the child with code.
func (h *Handle) Exit(code int) {
	h.exitOnce.Do(func() {
		h.status <- &terminal.ExitStatus{Code: code}
		close(h.done)
	})
}

// Input returns every byte written so far.
func (h *Handle) Input() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return string(h.input)
}

// Size returns the last size applied.
func (h *Handle) Size() terminal.Size {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size
}

func (h *Handle) Read(p []byte) (int, error) {
	h.mu.Lock()
	if len(h.pending) > 0 {
		n := copy(p, h.pending)
		h.pending = h.pending[n:]
		h.mu.Unlock()
		return n, nil
	}
	h.mu.Unlock()

	select {
	case b := <-h.out:
		return h.deliver(p, b), nil
	case <-h.done:
		// Output emitted before the exit is still delivered.
		select {
		case b := <-h.out:
			return h.deliver(p, b), nil
		default:
			return 0, io.EOF
		}
	case <-h.closed:
		return 0, os.ErrClosed
	}
}

func (h *Handle) deliver(p, b []byte) int {
	n := copy(p, b)
	if n < len(b) {
		h.mu.Lock()
		h.pending = append(h.pending, b[n:]...)
		h.mu.Unlock()
	}
	return n
}

func (h *Handle) Write(p []byte) (int, error) {
	select {
	case <-h.done:
		return 0, os.ErrClosed
	default:
	}

	h.mu.Lock()
	h.input = append(h.input, p...)
	h.mu.Unlock()

	if len(p) == 1 && p[0] == 0x04 {
		h.Exit(0)
		return 1, nil
	}
	h.Emit(string(p))
	return len(p), nil
}

func (h *Handle) Resize(size terminal.Size) error {
	h.mu.Lock()
	h.size = size
	h.mu.Unlock()
	return nil
}

func (h *Handle) Stop() error {
	h.exitOnce.Do(func() {
		h.status <- &terminal.ExitStatus{Code: -1, Signal: "hangup"}
		close(h.done)
	})
	return nil
}

func (h *Handle) Kill() error {
	h.exitOnce.Do(func() {
		h.status <- &terminal.ExitStatus{Code: -1, Signal: "killed"}
		close(h.done)
	})
	return nil
}

func (h *Handle) Wait() (*terminal.ExitStatus, error) {
	return <-h.status, nil
}

func (h *Handle) Pid() int { return h.pid }

func (h *Handle) Close() error {
	h.closeOnce.Do(func() { close(h.closed) })
	return nil
}

// Opener records every handle it opens.
type Opener struct {
	mu      sync.Mutex
	handles []*Handle
	cmds    []terminal.Command
}

// Open implements terminal.OpenFunc.
func (o *Opener) Open(cmd terminal.Command, size terminal.Size) (terminal.Handle, error) {
	h := NewHandle(size)
	o.mu.Lock()
	o.handles = append(o.handles, h)
	o.cmds = append(o.cmds, cmd)
	o.mu.Unlock()
	return h, nil
}

// Count returns how many handles were opened.
func (o *Opener) Count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.handles)
}

// Last returns the most recent handle and its command.
func (o *Opener) Last() (*Handle, terminal.Command) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.handles) == 0 {
		return nil, terminal.Command{}
	}
	return o.handles[len(o.handles)-1], o.cmds[len(o.cmds)-1]
}
