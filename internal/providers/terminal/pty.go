package terminal

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

// Command describes the program a session runs.
type Command struct {
	Path string            `json:"command"`
	Args []string          `json:"args,omitempty"`
	Dir  string            `json:"working_dir,omitempty"`
	Env  map[string]string `json:"env,omitempty"`
}

func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Path
	}
	return c.Path + " " + strings.Join(c.Args, " ")
}

// Handle is one pseudo-terminal pair plus the child attached to its slave
// side. Read and Write operate on the master. Read blocks until output is
// available and returns an error once the child side is gone or Close is
// called.
type Handle interface {
	io.ReadWriter
	// Resize changes the window size; the kernel signals the child.
	Resize(size Size) error
	// Stop asks the child to exit (hangup, then terminate).
	Stop() error
	// Kill forcibly ends the child and its process group.
	Kill() error
	// Wait blocks until the child exits. It is called exactly once.
	Wait() (*ExitStatus, error)
	Pid() int
	// Close releases the master side. It is safe to call more than once.
	Close() error
}

// OpenFunc allocates a PTY and starts cmd attached to it.
type OpenFunc func(cmd Command, size Size) (Handle, error)

// DefaultOpen is the platform PTY implementation.
var DefaultOpen OpenFunc = openPTY

// ResolveCommand returns the absolute path of the executable cmd names.
func ResolveCommand(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", opError("open", "", ErrInvalidCommand, errors.New("empty command"))
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return "", opError("open", "", ErrPermissionDenied, err)
		}
		return "", opError("open", "", ErrInvalidCommand, err)
	}
	return resolved, nil
}

// Probe allocates and releases a PTY pair to check the host supports them.
func Probe() error {
	return probePTY()
}

// buildEnv returns the parent environment with TERM set and overrides
// applied in key order. Later entries win when exec deduplicates.
func buildEnv(overrides map[string]string) []string {
	env := append(os.Environ(), "TERM=xterm-256color")
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}
	return env
}
