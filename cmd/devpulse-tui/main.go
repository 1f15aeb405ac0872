package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"devpulse/internal/cli"
	"devpulse/internal/service"
)

// devpulse-tui starts straight into the dashboard; flags such as --config
// are passed through.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	args := append([]string{"tui"}, os.Args[1:]...)
	err := cli.Run(ctx, args, os.Stdin, os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", service.Message(err))
		os.Exit(1)
	}
}
