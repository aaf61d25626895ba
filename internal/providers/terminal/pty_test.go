//go:build !windows

package terminal

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requirePrograms(t *testing.T, names ...string) {
	t.Helper()
	if testing.Short() {
		t.Skip("spawns real processes")
	}
	for _, name := range names {
		if _, err := exec.LookPath(name); err != nil {
			t.Skipf("%s not available", name)
		}
	}
}

func newPTYRegistry(t *testing.T, mutate func(*Options)) *Registry {
	t.Helper()
	opts := DefaultOptions()
	opts.GracePeriod = 500 * time.Millisecond
	if mutate != nil {
		mutate(&opts)
	}
	r := NewRegistry(opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		assert.NoError(t, r.Shutdown(ctx))
	})
	return r
}

// readUntil reads from s until the accumulated output contains want or the
// deadline passes.
func readUntil(t *testing.T, s *Session, want string, within time.Duration) string {
	t.Helper()
	var out strings.Builder
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		res, err := s.Read(ReadOptions{Timeout: 200 * time.Millisecond, MaxBytes: DefaultReadBytes})
		require.NoError(t, err)
		out.WriteString(res.Text)
		if strings.Contains(out.String(), want) {
			return out.String()
		}
	}
	t.Fatalf("output never contained %q, got %q", want, out.String())
	return ""
}

func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

func TestPTYCatEcho(t *testing.T) {
	requirePrograms(t, "cat")
	r := newPTYRegistry(t, nil)

	s, err := r.GetOrCreate(context.Background(), "s1", Command{Path: "cat"}, DefaultSize())
	require.NoError(t, err)
	require.NoError(t, s.Write("hello\n"))

	out := readUntil(t, s, "hello", 5*time.Second)
	assert.Contains(t, out, "hello")
}

func TestPTYInterrupt(t *testing.T) {
	requirePrograms(t, "sh", "sleep")
	r := newPTYRegistry(t, nil)

	s, err := r.GetOrCreate(context.Background(), "s2", Command{Path: "sh", Env: map[string]string{"PS1": "$ "}}, DefaultSize())
	require.NoError(t, err)

	require.NoError(t, s.Write("sleep 30\n"))
	time.Sleep(300 * time.Millisecond)
	require.NoError(t, s.SendKey("ctrl_c"))
	require.NoError(t, s.Write("echo back-$((40+2))\n"))

	out := readUntil(t, s, "back-42", 5*time.Second)
	assert.Contains(t, out, "^C")
}

func TestPTYIdleTimeoutReplacesProcess(t *testing.T) {
	requirePrograms(t, "cat")
	r := newPTYRegistry(t, func(o *Options) { o.IdleTimeout = 0 })
	ctx := context.Background()

	old, err := r.GetOrCreate(ctx, "s3", Command{Path: "cat"}, DefaultSize())
	require.NoError(t, err)
	oldPid := old.Info().Pid
	require.True(t, processAlive(oldPid))

	time.Sleep(100 * time.Millisecond)

	fresh, err := r.GetOrCreate(ctx, "s3", Command{Path: "cat"}, DefaultSize())
	require.NoError(t, err)
	assert.NotSame(t, old, fresh)
	assert.NotEqual(t, oldPid, fresh.Info().Pid)
	assert.False(t, processAlive(oldPid), "old process must be gone")
	assert.Equal(t, ReasonTimedOut, old.Info().Reason)
}

func TestPTYResize(t *testing.T) {
	requirePrograms(t, "sh", "stty")
	r := newPTYRegistry(t, nil)

	s, err := r.GetOrCreate(context.Background(), "resize", Command{Path: "sh"}, DefaultSize())
	require.NoError(t, err)

	err = s.Resize(24, 0)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, DefaultSize(), s.Size())

	require.NoError(t, s.Resize(30, 100))
	require.NoError(t, s.Write("stty size\n"))
	readUntil(t, s, "30 100", 5*time.Second)
}

func TestPTYExitStatus(t *testing.T) {
	requirePrograms(t, "sh")
	r := newPTYRegistry(t, nil)

	s, err := r.GetOrCreate(context.Background(), "exit", Command{Path: "sh", Args: []string{"-c", "echo finished; exit 7"}}, DefaultSize())
	require.NoError(t, err)

	var out strings.Builder
	var te *TerminatedError
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		res, err := s.Read(ReadOptions{Timeout: 500 * time.Millisecond, MaxBytes: DefaultReadBytes})
		if err != nil {
			require.ErrorAs(t, err, &te)
			break
		}
		out.WriteString(res.Text)
	}

	require.NotNil(t, te, "session never reported termination")
	assert.Equal(t, 7, te.ExitCode())
	assert.Equal(t, ReasonCompleted, te.Reason)
	assert.Contains(t, out.String(), "finished")
}

func TestPTYTerminateKillsStubbornChild(t *testing.T) {
	requirePrograms(t, "sh", "sleep")
	r := newPTYRegistry(t, func(o *Options) { o.GracePeriod = 200 * time.Millisecond })

	script := `trap "" HUP TERM; echo ready; while :; do sleep 0.1; done`
	s, err := r.GetOrCreate(context.Background(), "stubborn", Command{Path: "sh", Args: []string{"-c", script}}, DefaultSize())
	require.NoError(t, err)
	readUntil(t, s, "ready", 5*time.Second)
	pid := s.Info().Pid

	assert.True(t, r.Remove("stubborn"))
	assert.False(t, processAlive(pid))

	info := s.Info()
	assert.Equal(t, ReasonKilled, info.Reason)
	require.NotNil(t, info.Exit)
	assert.NotEmpty(t, info.Exit.Signal)
}

func TestPTYInvalidCommand(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns real processes")
	}
	r := newPTYRegistry(t, nil)

	_, err := r.GetOrCreate(context.Background(), "bad", Command{Path: "definitely-not-a-real-program-xyz"}, DefaultSize())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCommand)
	assert.Zero(t, r.Len())

	_, err = r.GetOrCreate(context.Background(), "baddir", Command{Path: "sh", Dir: "/does/not/exist"}, DefaultSize())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig) || errors.Is(err, ErrInvalidCommand), err.Error())
	assert.Zero(t, r.Len())
}

func TestPTYStripANSI(t *testing.T) {
	requirePrograms(t, "printf")
	r := newPTYRegistry(t, func(o *Options) { o.StripANSI = true })

	s, err := r.GetOrCreate(context.Background(), "strip", Command{Path: "printf", Args: []string{`\033[31mred\033[0m plain\n`}}, DefaultSize())
	require.NoError(t, err)

	out := readUntil(t, s, "plain", 5*time.Second)
	assert.Contains(t, out, "red plain")
	assert.NotContains(t, out, "\x1b")
}

func TestProbe(t *testing.T) {
	if testing.Short() {
		t.Skip("allocates a pty")
	}
	if err := Probe(); err != nil {
		t.Skipf("no pty support: %v", err)
	}
}
