// internal/console/resize_unix.go
//go:build !windows
// +build !windows

package console

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	mobyterm "github.com/moby/term"
)

// watchResize reports terminal size changes signalled by SIGWINCH.
func watchResize(ctx context.Context, fd uintptr, cols, rows int, fn func(cols, rows int)) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGWINCH)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigChan:
			ws, err := mobyterm.GetWinsize(fd)
			if err != nil {
				continue
			}
			c, r := int(ws.Width), int(ws.Height)
			if c == cols && r == rows {
				continue
			}
			cols, rows = c, r
			fn(cols, rows)
		}
	}
}
