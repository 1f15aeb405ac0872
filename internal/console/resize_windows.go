// internal/console/resize_windows.go
//go:build windows
// +build windows

package console

import (
	"context"
	"time"

	mobyterm "github.com/moby/term"
)

// watchResize polls the console size; Windows has no SIGWINCH.
func watchResize(ctx context.Context, fd uintptr, cols, rows int, fn func(cols, rows int)) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
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
