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

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.Run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", service.Message(err))
		os.Exit(1)
	}
}
