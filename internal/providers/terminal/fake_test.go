package terminal

import (
	"bytes"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeHandle is an in-memory Handle. Output is fed with emit; the child
// "exits" through exit, Stop (unless ignoreStop) or Kill.
type fakeHandle struct {
	pid        int
	ignoreStop bool

	out    chan []byte
	eof    chan struct{}
	closed chan struct{}
	status chan *ExitStatus

	mu        sync.Mutex
	pending   []byte
	written   bytes.Buffer
	size      Size
	writeErrs []error
	resizeErr error

	stops     atomic.Int32
	kills     atomic.Int32
	exitOnce  sync.Once
	closeOnce sync.Once
}

var fakePids atomic.Int32

func newFakeHandle(size Size) *fakeHandle {
	return &fakeHandle{
		pid:    int(1000 + fakePids.Add(1)),
		out:    make(chan []byte, 64),
		eof:    make(chan struct{}),
		closed: make(chan struct{}),
		status: make(chan *ExitStatus, 1),
		size:   size,
	}
}

func (h *fakeHandle) emit(s string) {
	h.out <- []byte(s)
}

func (h *fakeHandle) exit(status ExitStatus) {
	h.exitOnce.Do(func() {
		h.status <- &status
		close(h.eof)
	})
}

func (h *fakeHandle) Read(p []byte) (int, error) {
	h.mu.Lock()
	if len(h.pending) > 0 {
		n := copy(p, h.pending)
		h.pending = h.pending[n:]
		h.mu.Unlock()
		return n, nil
	}
	h.mu.Unlock()

	var chunk []byte
	select {
	case chunk = <-h.out:
	case <-h.closed:
		return 0, os.ErrClosed
	case <-h.eof:
		select {
		case chunk = <-h.out:
		default:
			return 0, io.EOF
		}
	}

	n := copy(p, chunk)
	if n < len(chunk) {
		h.mu.Lock()
		h.pending = append(h.pending, chunk[n:]...)
		h.mu.Unlock()
	}
	return n, nil
}

func (h *fakeHandle) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.writeErrs) > 0 {
		err := h.writeErrs[0]
		h.writeErrs = h.writeErrs[1:]
		return 0, err
	}
	return h.written.Write(p)
}

func (h *fakeHandle) Written() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.written.String()
}

func (h *fakeHandle) Resize(size Size) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.resizeErr != nil {
		return h.resizeErr
	}
	h.size = size
	return nil
}

func (h *fakeHandle) Size() Size {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size
}

func (h *fakeHandle) Stop() error {
	h.stops.Add(1)
	if !h.ignoreStop {
		h.exit(ExitStatus{Code: -1, Signal: "hangup"})
	}
	return nil
}

func (h *fakeHandle) Kill() error {
	h.kills.Add(1)
	h.exit(ExitStatus{Code: -1, Signal: "killed"})
	return nil
}

func (h *fakeHandle) Wait() (*ExitStatus, error) {
	return <-h.status, nil
}

func (h *fakeHandle) Pid() int {
	return h.pid
}

func (h *fakeHandle) Close() error {
	h.closeOnce.Do(func() { close(h.closed) })
	return nil
}

func (h *fakeHandle) isClosed() bool {
	return isClosed(h.closed)
}

// fakeOpener hands out fakeHandles and remembers them.
type fakeOpener struct {
	mu      sync.Mutex
	handles []*fakeHandle
	err     error
	delay   time.Duration
	setup   func(*fakeHandle)
}

func (o *fakeOpener) Open(cmd Command, size Size) (Handle, error) {
	if o.delay > 0 {
		time.Sleep(o.delay)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	h := newFakeHandle(size)
	if o.setup != nil {
		o.setup(h)
	}
	o.handles = append(o.handles, h)
	return h, nil
}

func (o *fakeOpener) Count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.handles)
}

func (o *fakeOpener) Last() *fakeHandle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.handles[len(o.handles)-1]
}

func newTestSession(h *fakeHandle) *Session {
	s := newSession("test", Command{Path: "fake"}, h.Size(), h, sessionConfig{grace: 100 * time.Millisecond})
	s.start()
	return s
}
