package commands

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/GriffinCanCode/ptyd/internal/shared/types"
)

type SessionsCmd struct {
	flags *Flags

	// create flags
	command string
	dir     string
	env     []string
	rows    int
	cols    int
}

// NewSessionsCmd creates the session management commands.
func NewSessionsCmd(flags *Flags) *SessionsCmd {
	return &SessionsCmd{flags: flags}
}

// Register adds create, ls, get, kill and keys to the application.
func (cmd *SessionsCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands,
		&cli.Command{
			Name:      "create",
			Usage:     "Start a session",
			UsageText: "termctl create [--command <path>] [id] [-- args...]",
			Description: `Starts a session running the given command, or the server's default
shell. An existing live session with the same id is returned unchanged.
The server picks an id when none is given.`,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:        "command",
					Usage:       "program to run",
					Destination: &cmd.command,
				},
				&cli.StringFlag{
					Name:        "dir",
					Usage:       "working directory",
					Destination: &cmd.dir,
				},
				&cli.StringSliceFlag{
					Name:        "env",
					Usage:       "extra environment, KEY=VALUE (repeatable)",
					Destination: &cmd.env,
				},
				&cli.IntFlag{
					Name:        "rows",
					Usage:       "terminal rows",
					Destination: &cmd.rows,
				},
				&cli.IntFlag{
					Name:        "cols",
					Usage:       "terminal columns",
					Destination: &cmd.cols,
				},
			},
			Action: cmd.create,
		},
		&cli.Command{
			Name:      "ls",
			Usage:     "List sessions",
			UsageText: "termctl ls",
			Action:    cmd.list,
		},
		&cli.Command{
			Name:      "get",
			Usage:     "Show one session",
			UsageText: "termctl get <id>",
			Action:    cmd.get,
		},
		&cli.Command{
			Name:      "kill",
			Usage:     "Terminate a session",
			UsageText: "termctl kill <id>",
			Action:    cmd.kill,
		},
		&cli.Command{
			Name:      "keys",
			Usage:     "List key names accepted by 'termctl key'",
			UsageText: "termctl keys",
			Action:    cmd.keys,
		},
	)
	return app
}

func requireID(c *cli.Command) (string, error) {
	id := c.Args().First()
	if id == "" {
		return "", fmt.Errorf("session id is required")
	}
	return id, nil
}

func (cmd *SessionsCmd) create(ctx context.Context, c *cli.Command) error {
	env := make(map[string]string, len(cmd.env))
	for _, kv := range cmd.env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return fmt.Errorf("invalid --env %q, want KEY=VALUE", kv)
		}
		env[k] = v
	}

	req := types.CreateSessionRequest{
		ID:         c.Args().First(),
		Command:    cmd.command,
		WorkingDir: cmd.dir,
		Env:        env,
		Rows:       cmd.rows,
		Cols:       cmd.cols,
	}
	if c.Args().Len() > 1 {
		req.Args = c.Args().Tail()
	}

	info, err := cmd.flags.Client.CreateSession(ctx, req)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	out := c.Root().Writer
	if cmd.flags.JSON {
		return printJSON(out, info)
	}
	_, _ = fmt.Fprintln(out, info.ID)
	return nil
}

func (cmd *SessionsCmd) list(ctx context.Context, c *cli.Command) error {
	sessions, err := cmd.flags.Client.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	out := c.Root().Writer
	if cmd.flags.JSON {
		return printJSON(out, sessions)
	}
	if len(sessions) == 0 {
		_, _ = fmt.Fprintln(out, "No sessions")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATE\tPID\tSIZE\tIDLE\tCOMMAND")
	for _, s := range sessions {
		idle := time.Duration(s.IdleSeconds * float64(time.Second)).Round(time.Second)
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%dx%d\t%s\t%s\n", s.ID, s.State, s.Pid, s.Cols, s.Rows, idle, s.Command)
	}
	return w.Flush()
}

func (cmd *SessionsCmd) get(ctx context.Context, c *cli.Command) error {
	id, err := requireID(c)
	if err != nil {
		return err
	}
	info, err := cmd.flags.Client.GetSession(ctx, id)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}
	return printJSON(c.Root().Writer, info)
}

func (cmd *SessionsCmd) kill(ctx context.Context, c *cli.Command) error {
	id, err := requireID(c)
	if err != nil {
		return err
	}
	removed, err := cmd.flags.Client.Kill(ctx, id)
	if err != nil {
		return fmt.Errorf("kill session: %w", err)
	}

	out := c.Root().Writer
	if removed {
		_, _ = fmt.Fprintf(out, "Killed %s\n", id)
	} else {
		_, _ = fmt.Fprintf(out, "No session %s\n", id)
	}
	return nil
}

func (cmd *SessionsCmd) keys(ctx context.Context, c *cli.Command) error {
	keys, err := cmd.flags.Client.Keys(ctx)
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}

	out := c.Root().Writer
	if cmd.flags.JSON {
		return printJSON(out, keys)
	}
	for _, k := range keys {
		_, _ = fmt.Fprintln(out, k)
	}
	return nil
}
