//go:build !windows

package terminal

import (
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// A write that cannot make progress for this long is reported as would-block
// and retried by the session.
const writeDeadline = 2 * time.Second

type unixHandle struct {
	cmd  *exec.Cmd
	ptmx *os.File

	closeOnce sync.Once
	closeErr  error
}

func openPTY(c Command, size Size) (Handle, error) {
	path, err := ResolveCommand(c.Path)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = buildEnv(c.Env)

	// StartWithSize puts the child in a new session with the PTY as its
	// controlling terminal, so its pid is also its process group id.
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: size.Rows, Cols: size.Cols})
	if err != nil {
		return nil, classifyStartError(err)
	}
	return &unixHandle{cmd: cmd, ptmx: ptmx}, nil
}

func probePTY() error {
	ptmx, tty, err := pty.Open()
	if err != nil {
		return opError("probe", "", ErrPTY, err)
	}
	tty.Close()
	ptmx.Close()
	return nil
}

func classifyStartError(err error) error {
	var pathErr *fs.PathError
	switch {
	case errors.As(err, &pathErr) && pathErr.Op == "chdir":
		return opError("open", "", ErrInvalidConfig, err)
	case errors.Is(err, fs.ErrPermission):
		return opError("open", "", ErrPermissionDenied, err)
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENOEXEC):
		return opError("open", "", ErrInvalidCommand, err)
	}
	return opError("open", "", ErrPTY, err)
}

func (h *unixHandle) Read(p []byte) (int, error) {
	return h.ptmx.Read(p)
}

func (h *unixHandle) Write(p []byte) (int, error) {
	// Deadlines are unsupported on some platforms' PTYs; the write then
	// simply blocks.
	_ = h.ptmx.SetWriteDeadline(time.Now().Add(writeDeadline))
	return h.ptmx.Write(p)
}

func (h *unixHandle) Resize(size Size) error {
	return pty.Setsize(h.ptmx, &pty.Winsize{Rows: size.Rows, Cols: size.Cols})
}

func (h *unixHandle) Stop() error {
	if err := h.signalGroup(syscall.SIGHUP); err != nil {
		return err
	}
	return h.signalGroup(syscall.SIGTERM)
}

func (h *unixHandle) Kill() error {
	if err := h.signalGroup(syscall.SIGKILL); err != nil {
		return h.cmd.Process.Kill()
	}
	return nil
}

func (h *unixHandle) signalGroup(sig syscall.Signal) error {
	err := syscall.Kill(-h.cmd.Process.Pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

func (h *unixHandle) Wait() (*ExitStatus, error) {
	err := h.cmd.Wait()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return nil, err
	}

	state := h.cmd.ProcessState
	status := &ExitStatus{Code: state.ExitCode()}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		status.Signal = ws.Signal().String()
	}
	return status, nil
}

func (h *unixHandle) Pid() int {
	return h.cmd.Process.Pid
}

func (h *unixHandle) Close() error {
	h.closeOnce.Do(func() {
		h.closeErr = h.ptmx.Close()
	})
	return h.closeErr
}
