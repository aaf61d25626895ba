package commands

import (
	"context"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/GriffinCanCode/ptyd/internal/client"
)

// NewApp builds the termctl command tree.
func NewApp(version string) *cli.Command {
	flags := &Flags{}

	app := &cli.Command{
		Name:      "termctl",
		Usage:     "Drive ptyd terminal sessions",
		UsageText: "termctl [global options] command [command options]",
		Description: `termctl talks to a running ptyd server. Sessions are named by id and
survive between invocations, so a script can write, read and send keys
across separate calls.`,
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "url",
				Aliases:     []string{"u"},
				Usage:       "ptyd server address",
				Sources:     cli.EnvVars("PTYD_URL"),
				Value:       client.DefaultBaseURL,
				Destination: &flags.URL,
			},
			&cli.DurationFlag{
				Name:        "timeout",
				Usage:       "per-request timeout",
				Sources:     cli.EnvVars("PTYD_TIMEOUT"),
				Value:       30 * time.Second,
				Destination: &flags.Timeout,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print JSON instead of text",
				Destination: &flags.JSON,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			cfg := client.DefaultConfig()
			cfg.BaseURL = flags.URL
			cfg.Timeout = flags.Timeout
			flags.Client = client.New(cfg)
			return ctx, nil
		},
	}

	app = NewSessionsCmd(flags).Register(app)
	app = NewIOCmd(flags).Register(app)
	app = NewAttachCmd(flags).Register(app)
	return app
}
