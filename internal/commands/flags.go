package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/GriffinCanCode/ptyd/internal/client"
)

type Flags struct {
	URL     string
	Timeout time.Duration
	JSON    bool

	// Client is built in the Before hook and available to all commands
	Client *client.Client
}

// ExitStatus carries the exit code of a session the CLI was attached to,
// so the process can mirror it.
type ExitStatus struct {
	Code int
}

func (e *ExitStatus) Error() string {
	return fmt.Sprintf("session exited with code %d", e.Code)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
