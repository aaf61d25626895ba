package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/GriffinCanCode/ptyd/internal/client"
	"github.com/GriffinCanCode/ptyd/internal/providers/terminal"
)

type IOCmd struct {
	flags *Flags

	// write flags
	noNewline bool

	// read flags
	wait     time.Duration
	maxBytes int
	follow   bool
}

// NewIOCmd creates the commands that talk to a running session.
func NewIOCmd(flags *Flags) *IOCmd {
	return &IOCmd{flags: flags}
}

// Register adds write, key, read and resize to the application.
func (cmd *IOCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands,
		&cli.Command{
			Name:      "write",
			Usage:     "Type text into a session",
			UsageText: "termctl write <id> [text...]",
			Description: `Types the arguments joined by spaces followed by a newline. With no
text, stdin is sent as is. The session is started with the server's
default command if it does not exist.`,
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:        "no-newline",
					Aliases:     []string{"n"},
					Usage:       "do not append a newline",
					Destination: &cmd.noNewline,
				},
			},
			Action: cmd.write,
		},
		&cli.Command{
			Name:      "key",
			Usage:     "Send named keys",
			UsageText: "termctl key <id> <key> [key...]",
			Description: `Sends each key in order, e.g. 'termctl key build ctrl_c' or
'termctl key vim escape'. Use write for text. Run 'termctl keys' for the
accepted names.`,
			Action: cmd.key,
		},
		&cli.Command{
			Name:      "read",
			Usage:     "Print output accumulated since the last read",
			UsageText: "termctl read [--wait 2s] [--follow] <id>",
			Flags: []cli.Flag{
				&cli.DurationFlag{
					Name:        "wait",
					Aliases:     []string{"w"},
					Usage:       "how long to wait for output",
					Value:       time.Second,
					Destination: &cmd.wait,
				},
				&cli.IntFlag{
					Name:        "max-bytes",
					Usage:       "maximum bytes per read (0 for the server default)",
					Destination: &cmd.maxBytes,
				},
				&cli.BoolFlag{
					Name:        "follow",
					Aliases:     []string{"f"},
					Usage:       "keep reading until the session ends",
					Destination: &cmd.follow,
				},
			},
			Action: cmd.read,
		},
		&cli.Command{
			Name:      "resize",
			Usage:     "Resize a session's terminal",
			UsageText: "termctl resize <id> <rows> <cols>",
			Action:    cmd.resize,
		},
	)
	return app
}

func (cmd *IOCmd) write(ctx context.Context, c *cli.Command) error {
	id, err := requireID(c)
	if err != nil {
		return err
	}

	var text string
	if c.Args().Len() > 1 {
		text = strings.Join(c.Args().Tail(), " ")
		if !cmd.noNewline {
			text += "\n"
		}
	} else {
		data, err := io.ReadAll(c.Root().Reader)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		text = string(data)
	}

	if err := cmd.flags.Client.Write(ctx, id, text); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (cmd *IOCmd) key(ctx context.Context, c *cli.Command) error {
	id, err := requireID(c)
	if err != nil {
		return err
	}
	keys := c.Args().Tail()
	if len(keys) == 0 {
		return fmt.Errorf("at least one key is required")
	}

	for _, k := range keys {
		if err := cmd.flags.Client.SendKey(ctx, id, k); err != nil {
			return fmt.Errorf("send %s: %w", k, err)
		}
	}
	return nil
}

func (cmd *IOCmd) read(ctx context.Context, c *cli.Command) error {
	id, err := requireID(c)
	if err != nil {
		return err
	}
	out := c.Root().Writer
	printed := false

	for {
		res, err := cmd.flags.Client.Read(ctx, id, cmd.wait, cmd.maxBytes)
		if err != nil {
			var apiErr *client.APIError
			if errors.Is(err, terminal.ErrSessionTerminated) && errors.As(err, &apiErr) {
				if !printed {
					_, _ = io.WriteString(out, apiErr.FinalOutput)
				}
				if apiErr.ExitCode != nil {
					if *apiErr.ExitCode == 0 {
						return nil
					}
					return &ExitStatus{Code: *apiErr.ExitCode}
				}
			}
			return fmt.Errorf("read: %w", err)
		}

		if cmd.flags.JSON {
			if err := printJSON(out, res); err != nil {
				return err
			}
		} else {
			_, _ = io.WriteString(out, res.Text)
		}
		printed = printed || res.Text != ""
		if res.Dropped > 0 {
			_, _ = fmt.Fprintf(c.Root().ErrWriter, "[%d bytes dropped]\n", res.Dropped)
		}

		if !cmd.follow {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (cmd *IOCmd) resize(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() != 3 {
		return fmt.Errorf("usage: termctl resize <id> <rows> <cols>")
	}
	id := c.Args().Get(0)
	rows, err := strconv.Atoi(c.Args().Get(1))
	if err != nil {
		return fmt.Errorf("rows: %w", err)
	}
	cols, err := strconv.Atoi(c.Args().Get(2))
	if err != nil {
		return fmt.Errorf("cols: %w", err)
	}

	if err := cmd.flags.Client.Resize(ctx, id, rows, cols); err != nil {
		return fmt.Errorf("resize: %w", err)
	}
	return nil
}
