package ssh

import (
	"errors"
	"time"

	"k8s.io/utils/clock"
)

// ErrWouldBlock is returned by a NonBlockingReader when nothing more is
// expected right now.
var ErrWouldBlock = errors.New("read would block")

// NonBlockingReader is a byte source that never blocks. TryRead returns
// (0, nil) when nothing is ready yet, ErrWouldBlock when the source has
// gone quiet, and any other error when the source is broken.
type NonBlockingReader interface {
	TryRead(p []byte) (int, error)
}

// Drainer collects whatever a NonBlockingReader yields within Budget.
// It does not preserve message boundaries: a burst of output may be split
// across two calls.
type Drainer struct {
	Budget    time.Duration
	Poll      time.Duration
	Trail     time.Duration
	ChunkSize int
	Clock     clock.Clock
}

// DefaultDrainer returns the interactive read parameters.
func DefaultDrainer() Drainer {
	return Drainer{
		Budget:    50 * time.Millisecond,
		Poll:      time.Millisecond,
		Trail:     5 * time.Millisecond,
		ChunkSize: 4096,
		Clock:     clock.RealClock{},
	}
}

// Drain reads until the budget is spent or r reports ErrWouldBlock. Once
// anything was read it waits Trail and makes one more best-effort read.
// An empty result with a nil error means nothing was available. Bytes read
// before a failure are returned first; the failure is reported once they
// have been delivered.
func (d Drainer) Drain(r NonBlockingReader) ([]byte, error) {
	clk := d.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	chunk := d.ChunkSize
	if chunk <= 0 {
		chunk = 4096
	}

	buf := make([]byte, chunk)
	var out []byte
	deadline := clk.Now().Add(d.Budget)

	for clk.Now().Before(deadline) {
		n, err := r.TryRead(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if errors.Is(err, ErrWouldBlock) {
			break
		}
		if err != nil {
			if len(out) > 0 {
				// the error is sticky and surfaces on the next call
				return out, nil
			}
			return nil, err
		}
		if n == 0 {
			clk.Sleep(d.Poll)
		}
	}

	if len(out) > 0 && d.Trail > 0 {
		clk.Sleep(d.Trail)
		// errors surface on the next call
		if n, _ := r.TryRead(buf); n > 0 {
			out = append(out, buf[:n]...)
		}
	}
	return out, nil
}
