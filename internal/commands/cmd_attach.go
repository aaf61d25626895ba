package commands

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/GriffinCanCode/ptyd/internal/api/ws"
	"github.com/GriffinCanCode/ptyd/internal/client"
	"github.com/GriffinCanCode/ptyd/internal/shared/types"
)

// detachKey is Ctrl+], the telnet escape.
const detachKey = 0x1d

type AttachCmd struct {
	flags *Flags

	create bool
}

// NewAttachCmd creates the interactive attach command.
func NewAttachCmd(flags *Flags) *AttachCmd {
	return &AttachCmd{flags: flags}
}

// Register adds attach to the application.
func (cmd *AttachCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "attach",
		Usage:     "Connect this terminal to a session",
		UsageText: "termctl attach [--create] <id>",
		Description: `Streams the session to this terminal over a websocket. Keystrokes are
forwarded raw. Press Ctrl+] to detach and leave the session running.

The stream consumes the session's output; do not run 'termctl read' on
the same session while attached.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "create",
				Usage:       "start the session if it does not exist",
				Destination: &cmd.create,
			},
		},
		Action: cmd.run,
	})
	return app
}

func (cmd *AttachCmd) run(ctx context.Context, c *cli.Command) error {
	id, err := requireID(c)
	if err != nil {
		return err
	}

	stream, err := cmd.flags.Client.Attach(ctx, id, cmd.create)
	if err != nil {
		return fmt.Errorf("attach: %w", err)
	}
	defer stream.Close()

	in := c.Root().Reader
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		state, err := term.MakeRaw(int(f.Fd()))
		if err != nil {
			return fmt.Errorf("raw mode: %w", err)
		}
		defer func() { _ = term.Restore(int(f.Fd()), state) }()

		fd := int(f.Fd())
		size := func() (int, int, error) { return term.GetSize(fd) }
		if cols, rows, err := size(); err == nil {
			_ = stream.Resize(rows, cols)
		}
		stop := watchWindowSize(size, stream.Resize)
		defer stop()
	}

	detached := make(chan struct{})
	go func() {
		if pumpInput(in, stream) {
			close(detached)
		}
	}()

	return cmd.pumpOutput(c.Root().Writer, c.Root().ErrWriter, stream, detached)
}

// pumpInput forwards keystrokes until EOF. It reports whether it stopped
// because the detach key was pressed.
func pumpInput(in io.Reader, stream *client.Stream) bool {
	buf := make([]byte, 4096)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if i := bytes.IndexByte(chunk, detachKey); i >= 0 {
				if i > 0 {
					_ = stream.Input(string(chunk[:i]))
				}
				return true
			}
			if stream.Input(string(chunk)) != nil {
				return false
			}
		}
		if err != nil {
			return false
		}
	}
}

type frame struct {
	msg types.WSMessage
	err error
}

func (cmd *AttachCmd) pumpOutput(out, errOut io.Writer, stream *client.Stream, detached <-chan struct{}) error {
	done := make(chan struct{})
	defer close(done)

	frames := make(chan frame, 1)
	go func() {
		for {
			msg, err := stream.Recv()
			select {
			case frames <- frame{msg: msg, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-detached:
			_, _ = fmt.Fprintf(errOut, "\r\n[detached]\r\n")
			return nil

		case f := <-frames:
			if f.err != nil {
				if client.IsClosed(f.err) {
					return nil
				}
				return fmt.Errorf("stream: %w", f.err)
			}
			switch f.msg.Type {
			case ws.TypeOutput:
				_, _ = io.WriteString(out, f.msg.Data)
			case ws.TypeError:
				_, _ = fmt.Fprintf(errOut, "\r\n[%s: %s]\r\n", f.msg.Code, f.msg.Message)
			case ws.TypeExit:
				_, _ = fmt.Fprintf(errOut, "\r\n[session ended: %s]\r\n", f.msg.Reason)
				if f.msg.ExitCode != nil && *f.msg.ExitCode != 0 {
					return &ExitStatus{Code: *f.msg.ExitCode}
				}
				return nil
			}
		}
	}
}
