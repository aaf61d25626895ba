package terminal

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readOpts(timeout time.Duration) ReadOptions {
	return ReadOptions{Timeout: timeout, MaxBytes: DefaultReadBytes}
}

func TestSessionWriteAndKeys(t *testing.T) {
	h := newFakeHandle(DefaultSize())
	s := newTestSession(h)
	defer s.Terminate(ReasonKilled)

	require.NoError(t, s.Write("ls\n"))
	require.NoError(t, s.SendKey("ctrl_c"))
	require.NoError(t, s.SendKey("enter"))
	require.NoError(t, s.SendKey("up"))

	assert.Equal(t, "ls\n\x03\r\x1b[A", h.Written())
}

func TestSessionSendKeyUnknown(t *testing.T) {
	h := newFakeHandle(DefaultSize())
	s := newTestSession(h)
	defer s.Terminate(ReasonKilled)

	err := s.SendKey("meta_x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidKey)

	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "test", opErr.SessionID)
	assert.Empty(t, h.Written())
}

func TestSessionReadWaitsForOutput(t *testing.T) {
	h := newFakeHandle(DefaultSize())
	s := newTestSession(h)
	defer s.Terminate(ReasonKilled)

	go func() {
		time.Sleep(50 * time.Millisecond)
		h.emit("hello\r\n")
	}()

	res, err := s.Read(readOpts(2 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, "hello\r\n", res.Text)
	assert.Equal(t, StateRunning, res.State)
	assert.Nil(t, res.Exit)
}

func TestSessionReadZeroTimeoutReturnsImmediately(t *testing.T) {
	h := newFakeHandle(DefaultSize())
	s := newTestSession(h)
	defer s.Terminate(ReasonKilled)

	start := time.Now()
	res, err := s.Read(readOpts(0))
	require.NoError(t, err)
	assert.Empty(t, res.Text)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestSessionReadTimeout(t *testing.T) {
	h := newFakeHandle(DefaultSize())
	s := newTestSession(h)
	defer s.Terminate(ReasonKilled)

	start := time.Now()
	res, err := s.Read(readOpts(100 * time.Millisecond))
	require.NoError(t, err)
	assert.Empty(t, res.Text)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSessionReadMaxBytes(t *testing.T) {
	h := newFakeHandle(DefaultSize())
	s := newTestSession(h)
	defer s.Terminate(ReasonKilled)

	payload := strings.Repeat("0123456789", 300)
	h.emit(payload)
	require.Eventually(t, func() bool { return s.buf.Len() == len(payload) }, time.Second, 5*time.Millisecond)

	opts := ReadOptions{Timeout: 0, MaxBytes: MinReadBytes}
	var got strings.Builder
	for got.Len() < len(payload) {
		res, err := s.Read(opts)
		require.NoError(t, err)
		require.NotEmpty(t, res.Text)
		require.LessOrEqual(t, len(res.Text), MinReadBytes)
		got.WriteString(res.Text)
	}
	assert.Equal(t, payload, got.String())
}

func TestSessionReadValidatesOptions(t *testing.T) {
	h := newFakeHandle(DefaultSize())
	s := newTestSession(h)
	defer s.Terminate(ReasonKilled)

	for _, opts := range []ReadOptions{
		{Timeout: -time.Millisecond, MaxBytes: DefaultReadBytes},
		{Timeout: MaxReadTimeout + time.Millisecond, MaxBytes: DefaultReadBytes},
		{Timeout: 0, MaxBytes: MinReadBytes - 1},
		{Timeout: 0, MaxBytes: MaxReadBytes + 1},
	} {
		_, err := s.Read(opts)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	}
}

func TestSessionExit(t *testing.T) {
	h := newFakeHandle(DefaultSize())
	s := newTestSession(h)
	defer s.Terminate(ReasonKilled)

	h.emit("bye\r\n")
	h.exit(ExitStatus{Code: 3})
	<-s.Done()

	res, err := s.Read(readOpts(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "bye\r\n", res.Text)
	assert.Equal(t, StateTerminated, res.State)
	assert.Equal(t, ReasonCompleted, res.Reason)
	require.NotNil(t, res.Exit)
	assert.Equal(t, 3, res.Exit.Code)

	_, err = s.Read(readOpts(time.Second))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionTerminated)
	assert.NotErrorIs(t, err, ErrSessionTimeout)

	var te *TerminatedError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 3, te.ExitCode())
	assert.Equal(t, ReasonCompleted, te.Reason)
	assert.Equal(t, "bye\r\n", te.FinalOutput)
	assert.Equal(t, "session_terminated", Code(err))

	err = s.Write("more")
	assert.ErrorIs(t, err, ErrSessionTerminated)
	err = s.Resize(30, 100)
	assert.ErrorIs(t, err, ErrSessionTerminated)
}

func TestSessionReadWakesOnExit(t *testing.T) {
	h := newFakeHandle(DefaultSize())
	s := newTestSession(h)
	defer s.Terminate(ReasonKilled)

	go func() {
		time.Sleep(50 * time.Millisecond)
		h.exit(ExitStatus{Code: 0})
	}()

	start := time.Now()
	_, err := s.Read(readOpts(10 * time.Second))
	assert.ErrorIs(t, err, ErrSessionTerminated)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSessionResize(t *testing.T) {
	h := newFakeHandle(DefaultSize())
	s := newTestSession(h)
	defer s.Terminate(ReasonKilled)

	require.NoError(t, s.Resize(30, 100))
	assert.Equal(t, Size{Rows: 30, Cols: 100}, s.Size())
	assert.Equal(t, Size{Rows: 30, Cols: 100}, h.Size())

	tests := []struct{ rows, cols int }{
		{24, 0},
		{0, 80},
		{501, 80},
		{24, 501},
		{-1, -1},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%dx%d", tt.rows, tt.cols), func(t *testing.T) {
			err := s.Resize(tt.rows, tt.cols)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Equal(t, Size{Rows: 30, Cols: 100}, s.Size())
			assert.Equal(t, Size{Rows: 30, Cols: 100}, h.Size())
		})
	}
}

func TestSessionResizeFailure(t *testing.T) {
	h := newFakeHandle(DefaultSize())
	h.resizeErr = errors.New("ioctl failed")
	s := newTestSession(h)
	defer s.Terminate(ReasonKilled)

	err := s.Resize(30, 100)
	assert.ErrorIs(t, err, ErrPTY)
	assert.Equal(t, DefaultSize(), s.Size())
}

func TestSessionWriteRetriesTransient(t *testing.T) {
	h := newFakeHandle(DefaultSize())
	h.writeErrs = []error{syscall.EAGAIN, syscall.EINTR}
	s := newTestSession(h)
	defer s.Terminate(ReasonKilled)

	require.NoError(t, s.Write("x"))
	assert.Equal(t, "x", h.Written())
}

func TestSessionWriteGivesUp(t *testing.T) {
	h := newFakeHandle(DefaultSize())
	h.writeErrs = []error{syscall.EAGAIN, syscall.EAGAIN, syscall.EAGAIN, syscall.EAGAIN}
	s := newTestSession(h)
	defer s.Terminate(ReasonKilled)

	err := s.Write("x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIO)
	assert.ErrorIs(t, err, syscall.EAGAIN)
	assert.Equal(t, "io_error", Code(err))
}

func TestSessionWritePermanentFailure(t *testing.T) {
	h := newFakeHandle(DefaultSize())
	h.writeErrs = []error{syscall.EBADF}
	s := newTestSession(h)
	defer s.Terminate(ReasonKilled)

	assert.ErrorIs(t, s.Write("x"), ErrIO)
	require.NoError(t, s.Write("y"))
	assert.Equal(t, "y", h.Written())
}

func TestSessionTerminateGraceful(t *testing.T) {
	h := newFakeHandle(DefaultSize())
	s := newTestSession(h)

	s.Terminate(ReasonKilled)

	assert.EqualValues(t, 1, h.stops.Load())
	assert.Zero(t, h.kills.Load())
	assert.True(t, h.isClosed())

	info := s.Info()
	assert.Equal(t, StateTerminated, info.State)
	assert.Equal(t, ReasonKilled, info.Reason)
	assert.False(t, info.Active)

	err := s.Write("x")
	var te *TerminatedError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ReasonKilled, te.Reason)
}

func TestSessionTerminateForceful(t *testing.T) {
	h := newFakeHandle(DefaultSize())
	h.ignoreStop = true
	s := newTestSession(h)

	start := time.Now()
	s.Terminate(ReasonTimedOut)

	assert.GreaterOrEqual(t, time.Since(start), s.grace)
	assert.EqualValues(t, 1, h.stops.Load())
	assert.EqualValues(t, 1, h.kills.Load())

	err := s.Write("x")
	assert.ErrorIs(t, err, ErrSessionTimeout)
	assert.ErrorIs(t, err, ErrSessionTerminated)
	assert.Equal(t, "session_timeout", Code(err))
}

func TestSessionTerminateAfterExit(t *testing.T) {
	h := newFakeHandle(DefaultSize())
	s := newTestSession(h)

	h.exit(ExitStatus{Code: 0})
	<-s.Done()
	s.Terminate(ReasonKilled)

	assert.Zero(t, h.stops.Load())
	assert.Equal(t, ReasonCompleted, s.Info().Reason)
}

func TestSessionTerminateIdempotent(t *testing.T) {
	h := newFakeHandle(DefaultSize())
	s := newTestSession(h)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Terminate(ReasonKilled)
			assert.True(t, isClosed(s.exited))
		}()
	}
	wg.Wait()
	s.Terminate(ReasonKilled)

	assert.EqualValues(t, 1, h.stops.Load())
}

func TestSessionConcurrentReadsNoDuplication(t *testing.T) {
	h := newFakeHandle(DefaultSize())
	s := newTestSession(h)
	defer s.Terminate(ReasonKilled)

	const lines = 500
	var want strings.Builder
	go func() {
		for i := 0; i < lines; i++ {
			line := fmt.Sprintf("line %04d\n", i)
			h.emit(line)
		}
		h.exit(ExitStatus{Code: 0})
	}()
	for i := 0; i < lines; i++ {
		fmt.Fprintf(&want, "line %04d\n", i)
	}

	var mu sync.Mutex
	var chunks []string
	var total int
	var wg sync.WaitGroup
	for r := 0; r < 2; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				res, err := s.Read(ReadOptions{Timeout: 200 * time.Millisecond, MaxBytes: MinReadBytes})
				if err != nil {
					assert.ErrorIs(t, err, ErrSessionTerminated)
					return
				}
				if res.Text != "" {
					mu.Lock()
					chunks = append(chunks, res.Text)
					total += len(res.Text)
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, want.Len(), total)

	// Every line appears exactly once across both readers.
	seen := make(map[string]int)
	var joined strings.Builder
	for _, c := range chunks {
		joined.WriteString(c)
	}
	for _, line := range strings.Split(strings.TrimSuffix(joined.String(), "\n"), "\n") {
		if len(line) == len("line 0000") {
			seen[line]++
		}
	}
	for i := 0; i < lines; i++ {
		key := fmt.Sprintf("line %04d", i)
		assert.LessOrEqual(t, seen[key], 1, key)
	}
}

func TestSessionActivity(t *testing.T) {
	h := newFakeHandle(DefaultSize())
	s := newTestSession(h)
	defer s.Terminate(ReasonKilled)

	clock := newFakeClock()
	first := clock.Now()
	s.now = clock.Now
	s.mu.Lock()
	s.lastActivity = first
	s.mu.Unlock()

	clock.Advance(time.Minute)
	require.NoError(t, s.Write("x"))
	assert.Equal(t, first.Add(time.Minute), s.Info().LastActivity)

	// Never moves backwards.
	clock.Advance(-time.Hour)
	require.NoError(t, s.Write("y"))
	assert.Equal(t, first.Add(time.Minute), s.Info().LastActivity)

	_, stale := s.expired(first.Add(time.Minute+DefaultIdleTimeout), DefaultIdleTimeout)
	assert.True(t, stale)
	_, stale = s.expired(first.Add(time.Minute), DefaultIdleTimeout)
	assert.False(t, stale)
	_, stale = s.expired(first.Add(24*time.Hour), -1)
	assert.False(t, stale)
}
