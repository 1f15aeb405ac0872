// Package console bridges the local terminal to an interactive shell driven
// through the polling shell API.
package console

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/charmbracelet/log"
	mobyterm "github.com/moby/term"
	"github.com/muesli/cancelreader"
	"golang.org/x/term"

	apperr "devpulse/internal/error"
)

const (
	DefaultPollInterval = 20 * time.Millisecond
	defaultCols         = 80
	defaultRows         = 24
)

// ShellAPI is the slice of the service the console drives.
type ShellAPI interface {
	StartShell(ctx context.Context, id string, cols, rows int) error
	WriteShell(ctx context.Context, id string, data []byte) error
	ReadShell(ctx context.Context, id string) (string, error)
	ResizeShell(ctx context.Context, id string, cols, rows int) error
	StopShell(id string) error
}

type Bridge struct {
	API  ShellAPI
	In   io.Reader
	Out  io.Writer
	Poll time.Duration
}

// Run attaches in and out to a new shell on session id until ctx is done or
// the remote shell exits.
func Run(ctx context.Context, api ShellAPI, id string, in io.Reader, out io.Writer) error {
	b := &Bridge{API: api, In: in, Out: out}
	return b.Run(ctx, id)
}

func (b *Bridge) Run(ctx context.Context, id string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fd, isTerm := mobyterm.GetFdInfo(b.In)
	cols, rows := defaultCols, defaultRows
	if isTerm {
		if ws, err := mobyterm.GetWinsize(fd); err == nil && ws.Width > 0 && ws.Height > 0 {
			cols, rows = int(ws.Width), int(ws.Height)
		}
		state, err := term.MakeRaw(int(fd))
		if err != nil {
			return apperr.New(apperr.IOError, "failed to set raw terminal", err)
		}
		defer func() {
			if err := term.Restore(int(fd), state); err != nil {
				log.Error("failed to restore terminal state", "err", err)
			}
		}()
	}

	if err := b.API.StartShell(ctx, id, cols, rows); err != nil {
		return err
	}
	defer func() {
		if err := b.API.StopShell(id); err != nil {
			log.Debug("stop shell", "id", id, "err", err)
		}
	}()

	if isTerm {
		go watchResize(ctx, fd, cols, rows, func(c, r int) {
			if err := b.API.ResizeShell(ctx, id, c, r); err != nil {
				log.Debug("resize failed", "id", id, "err", err)
			}
		})
	}

	cr, err := cancelreader.NewReader(b.In)
	if err != nil {
		return apperr.New(apperr.IOError, "failed to attach stdin", err)
	}
	defer cr.Cancel()

	inputErr := make(chan error, 1)
	go b.pumpInput(ctx, cr, id, inputErr)

	poll := b.Poll
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-inputErr:
			if err != nil {
				return err
			}
			// stdin closed; keep showing output until the shell ends
			inputErr = nil
		case <-ticker.C:
			out, err := b.API.ReadShell(ctx, id)
			if out != "" {
				if _, werr := io.WriteString(b.Out, out); werr != nil {
					return apperr.New(apperr.IOError, "failed to write output", werr)
				}
			}
			if err != nil {
				if apperr.Is(err, apperr.IOError) {
					log.Debug("shell ended", "id", id, "err", err)
					return nil
				}
				return err
			}
		}
	}
}

// pumpInput forwards local keystrokes verbatim. It sends nil on EOF.
func (b *Bridge) pumpInput(ctx context.Context, r io.Reader, id string, done chan<- error) {
	buf := make([]byte, 1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if werr := b.API.WriteShell(ctx, id, buf[:n]); werr != nil {
				done <- werr
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, cancelreader.ErrCanceled) {
				done <- nil
			} else {
				done <- apperr.New(apperr.IOError, "failed to read stdin", err)
			}
			return
		}
	}
}
