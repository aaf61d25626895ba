package terminal

import (
	"errors"
	"io"
	"os"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const (
	readChunkSize = 32 * 1024

	// Transient write failures are retried this many times with doubling
	// backoff before surfacing as ErrIO.
	writeRetries = 3
	writeBackoff = 10 * time.Millisecond

	// After the child exits, output still in flight (or held open by
	// grandchildren) is collected for at most this long before the master
	// is closed.
	drainGrace = 2 * time.Second

	// DefaultGracePeriod is how long Terminate waits between asking the
	// child to stop and killing it.
	DefaultGracePeriod = 5 * time.Second
)

// Observer receives session events. monitoring.Metrics implements it.
type Observer interface {
	SessionStarted()
	SessionEnded(reason string)
	OutputBytes(n int)
	InputBytes(n int)
	DroppedBytes(n int)
	Operation(op string, d time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) SessionStarted()                        {}
func (nopObserver) SessionEnded(string)                    {}
func (nopObserver) OutputBytes(int)                        {}
func (nopObserver) InputBytes(int)                         {}
func (nopObserver) DroppedBytes(int)                       {}
func (nopObserver) Operation(string, time.Duration, error) {}

// Session is one interactive program attached to a PTY.
//
// Write, SendKey, Resize and the drain step of Read are serialized by opMu.
// Read waits for output without holding it, so a slow reader never delays a
// writer. Terminate does not take opMu; a write stuck on a full PTY is
// released by closing the handle.
type Session struct {
	ID string

	cmd    Command
	handle Handle
	buf    *Buffer
	grace  time.Duration
	log    *zap.Logger
	obs    Observer
	now    func() time.Time

	opMu sync.Mutex

	mu           sync.RWMutex
	size         Size
	state        State
	reason       Reason
	exit         *ExitStatus
	createdAt    time.Time
	lastActivity time.Time

	exited     chan struct{} // child reaped, exit recorded
	readerDone chan struct{}
	finished   chan struct{} // no further output will arrive
	closing    chan struct{}
	termOnce   sync.Once
}

type sessionConfig struct {
	bufferSize int
	stripANSI  bool
	grace      time.Duration
	log        *zap.Logger
	obs        Observer
}

func newSession(id string, cmd Command, size Size, h Handle, cfg sessionConfig) *Session {
	if cfg.log == nil {
		cfg.log = zap.NewNop()
	}
	if cfg.obs == nil {
		cfg.obs = nopObserver{}
	}
	if cfg.grace <= 0 {
		cfg.grace = DefaultGracePeriod
	}

	now := time.Now()
	s := &Session{
		ID:           id,
		cmd:          cmd,
		handle:       h,
		buf:          NewBuffer(cfg.bufferSize, cfg.stripANSI),
		grace:        cfg.grace,
		log:          cfg.log.With(zap.String("session_id", id), zap.Int("pid", h.Pid())),
		obs:          cfg.obs,
		now:          time.Now,
		size:         size,
		state:        StateCreated,
		createdAt:    now,
		lastActivity: now,
		exited:       make(chan struct{}),
		readerDone:   make(chan struct{}),
		finished:     make(chan struct{}),
		closing:      make(chan struct{}),
	}
	return s
}

// start launches the background reader and waiter and moves the session to
// Running.
func (s *Session) start() {
	go s.readLoop()
	go s.waitLoop()

	s.mu.Lock()
	s.state = StateRunning
	s.mu.Unlock()

	s.obs.SessionStarted()
	s.log.Info("Session started", zap.String("command", s.cmd.String()))
}

func (s *Session) readLoop() {
	defer close(s.readerDone)

	chunk := make([]byte, readChunkSize)
	for {
		n, err := s.handle.Read(chunk)
		if n > 0 {
			s.buf.Write(chunk[:n])
			s.obs.OutputBytes(n)
		}
		if err != nil {
			// EIO is how Linux reports a master whose slave side has closed.
			if !errors.Is(err, io.EOF) && !errors.Is(err, syscall.EIO) && !errors.Is(err, os.ErrClosed) {
				s.log.Debug("PTY read stopped", zap.Error(err))
			}
			return
		}
	}
}

func (s *Session) waitLoop() {
	status, err := s.handle.Wait()
	if err != nil {
		s.log.Warn("Failed to wait for child", zap.Error(err))
		status = &ExitStatus{Code: -1}
	}

	s.mu.Lock()
	s.exit = status
	s.mu.Unlock()
	close(s.exited)

	s.log.Debug("Child exited", zap.Int("exit_code", status.Code), zap.String("signal", status.Signal))

	t := time.NewTimer(drainGrace)
	select {
	case <-s.readerDone:
	case <-t.C:
		s.log.Debug("Output still open after exit, closing PTY")
	}
	t.Stop()

	if err := s.handle.Close(); err != nil {
		s.log.Debug("Failed to close PTY", zap.Error(err))
	}
	close(s.finished)
}

// Write sends text to the child as typed input.
func (s *Session) Write(text string) error {
	return s.send("write", []byte(text))
}

// SendKey sends the byte sequence for a named key.
func (s *Session) SendKey(name string) error {
	seq, err := EncodeKey(name)
	if err != nil {
		return withSession(err, s.ID)
	}
	return s.send("send_key", seq)
}

func (s *Session) send(op string, p []byte) (err error) {
	start := time.Now()
	defer func() { s.obs.Operation(op, time.Since(start), err) }()

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.checkRunning(); err != nil {
		return err
	}
	if err := s.writeAll(p); err != nil {
		if s.gone() {
			return s.terminatedError()
		}
		return opError(op, s.ID, ErrIO, err)
	}
	s.obs.InputBytes(len(p))
	s.touch()
	return nil
}

func (s *Session) writeAll(p []byte) error {
	backoff := writeBackoff
	retries := 0
	for len(p) > 0 {
		n, err := s.handle.Write(p)
		p = p[n:]
		if n > 0 {
			retries = 0
			backoff = writeBackoff
		}
		if err == nil {
			if n > 0 {
				continue
			}
			err = io.ErrShortWrite
		} else if !isTransient(err) {
			return err
		}

		if retries >= writeRetries {
			return err
		}
		retries++

		t := time.NewTimer(backoff)
		select {
		case <-t.C:
		case <-s.closing:
			t.Stop()
			return os.ErrClosed
		}
		backoff *= 2
	}
	return nil
}

func isTransient(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.EINTR)
}

// Read returns buffered output, waiting up to opts.Timeout for some to
// arrive. A zero timeout returns immediately, possibly with empty text.
// Once the child has exited and its output is fully drained, Read returns
// a *TerminatedError.
func (s *Session) Read(opts ReadOptions) (res ReadResult, err error) {
	if err := opts.Validate(); err != nil {
		return ReadResult{}, withSession(err, s.ID)
	}

	start := time.Now()
	defer func() { s.obs.Operation("read", time.Since(start), err) }()

	deadline := start.Add(opts.Timeout)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		changed := s.buf.Changed()
		res, done, err := s.drain(opts.MaxBytes)
		if err != nil || done {
			return res, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return res, nil
		}
		if timer == nil {
			timer = time.NewTimer(remaining)
		}

		// A withheld partial tail becomes readable once it goes stale.
		var stale <-chan time.Time
		if s.buf.Len() > 0 {
			stale = time.After(inertAfter)
		}

		select {
		case <-changed:
		case <-s.finished:
		case <-stale:
		case <-timer.C:
			return s.drainOnce(opts.MaxBytes)
		}
	}
}

func (s *Session) drainOnce(limit int) (ReadResult, error) {
	res, _, err := s.drain(limit)
	return res, err
}

// drain takes one batch from the buffer. done reports whether the result
// should be returned to the caller without waiting.
func (s *Session) drain(limit int) (res ReadResult, done bool, err error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	final := isClosed(s.finished)
	text, dropped := s.buf.Drain(limit, final)
	if dropped > 0 {
		s.obs.DroppedBytes(dropped)
	}

	state, reason, exit := s.status()
	res = ReadResult{Text: text, State: state, Reason: reason, Exit: exit, Dropped: dropped}
	if text == "" && dropped == 0 {
		if final {
			return ReadResult{}, true, s.terminatedError()
		}
		return res, false, nil
	}
	s.touch()
	return res, true, nil
}

// Resize changes the terminal size. Out of range dimensions leave the
// current size unchanged.
func (s *Session) Resize(rows, cols int) error {
	size, err := NewSize(rows, cols)
	if err != nil {
		return withSession(err, s.ID)
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.checkRunning(); err != nil {
		return err
	}
	if err := s.handle.Resize(size); err != nil {
		if s.gone() {
			return s.terminatedError()
		}
		return opError("resize", s.ID, ErrPTY, err)
	}

	s.mu.Lock()
	s.size = size
	s.mu.Unlock()
	s.touch()
	return nil
}

// Terminate stops the child: hangup and terminate signals, a grace period,
// then a kill. It returns once the child is confirmed dead and the PTY is
// closed. Concurrent and repeated calls block until the first completes.
// If the child had already exited the reason is recorded as completed.
func (s *Session) Terminate(reason Reason) {
	s.termOnce.Do(func() {
		select {
		case <-s.exited:
			reason = ReasonCompleted
		default:
		}

		s.mu.Lock()
		s.state = StateTerminated
		s.reason = reason
		s.mu.Unlock()
		close(s.closing)

		if !isClosed(s.exited) {
			if err := s.handle.Stop(); err != nil {
				s.log.Debug("Failed to signal child", zap.Error(err))
			}
			t := time.NewTimer(s.grace)
			select {
			case <-s.exited:
			case <-t.C:
				s.log.Warn("Child ignored stop signal, killing", zap.Duration("grace", s.grace))
				if err := s.handle.Kill(); err != nil {
					s.log.Error("Failed to kill child", zap.Error(err))
				}
				<-s.exited
			}
			t.Stop()
		}

		if err := s.handle.Close(); err != nil {
			s.log.Debug("Failed to close PTY", zap.Error(err))
		}
		<-s.finished

		s.obs.SessionEnded(string(reason))
		fields := []zap.Field{zap.String("reason", string(reason))}
		if exit := s.exitStatus(); exit != nil {
			fields = append(fields, zap.Int("exit_code", exit.Code))
		}
		s.log.Info("Session terminated", fields...)
	})
}

// Done is closed once the child has exited and its output is complete.
func (s *Session) Done() <-chan struct{} {
	return s.finished
}

// Info returns a snapshot of the session's metadata.
func (s *Session) Info() SessionInfo {
	now := s.now()
	state, reason, exit := s.status()

	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionInfo{
		ID:           s.ID,
		Command:      s.cmd.Path,
		Args:         s.cmd.Args,
		WorkingDir:   s.cmd.Dir,
		Rows:         int(s.size.Rows),
		Cols:         int(s.size.Cols),
		Pid:          s.handle.Pid(),
		State:        state,
		Reason:       reason,
		Exit:         exit,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
		IdleSeconds:  now.Sub(s.lastActivity).Seconds(),
		Buffered:     s.buf.Len(),
		Active:       state == StateRunning,
	}
}

// Size returns the current terminal size.
func (s *Session) Size() Size {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// status reports the externally visible state. A child that exited on its
// own is terminated (completed) even before anyone calls Terminate.
func (s *Session) status() (State, Reason, *ExitStatus) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == StateTerminated {
		return s.state, s.reason, s.exit
	}
	if s.exit != nil {
		return StateTerminated, ReasonCompleted, s.exit
	}
	return s.state, "", nil
}

func (s *Session) exitStatus() *ExitStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exit
}

// expired reports whether the session should be reclaimed at now given the
// idle timeout. A negative idle timeout disables idle reclamation.
func (s *Session) expired(now time.Time, idle time.Duration) (Reason, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case s.state == StateTerminated:
		return s.reason, true
	case s.exit != nil:
		return ReasonCompleted, true
	case idle >= 0 && now.Sub(s.lastActivity) >= idle:
		return ReasonTimedOut, true
	}
	return "", false
}

// touch records activity. lastActivity never moves backwards.
func (s *Session) touch() {
	now := s.now()
	s.mu.Lock()
	if now.After(s.lastActivity) {
		s.lastActivity = now
	}
	s.mu.Unlock()
}

func (s *Session) checkRunning() error {
	if state, _, _ := s.status(); state == StateTerminated {
		return s.terminatedError()
	}
	return nil
}

func (s *Session) gone() bool {
	return isClosed(s.exited) || isClosed(s.closing)
}

func (s *Session) terminatedError() *TerminatedError {
	_, reason, exit := s.status()
	if reason == "" {
		reason = ReasonKilled
	}
	return &TerminatedError{
		SessionID:   s.ID,
		Reason:      reason,
		Exit:        exit,
		FinalOutput: s.buf.Recent(),
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func withSession(err error, id string) error {
	var opErr *OpError
	if errors.As(err, &opErr) && opErr.SessionID == "" {
		opErr.SessionID = id
	}
	return err
}
