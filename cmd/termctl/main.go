package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/GriffinCanCode/ptyd/internal/commands"
)

// Populated at build-time via -ldflags.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exitCode := 0
	if err := commands.NewApp(version).Run(ctx, os.Args); err != nil {
		var status *commands.ExitStatus
		if errors.As(err, &status) {
			exitCode = status.Code
		} else {
			fmt.Fprintf(os.Stderr, "termctl: %v\n", err)
			exitCode = 1
		}
	}

	stop()
	os.Exit(exitCode)
}
