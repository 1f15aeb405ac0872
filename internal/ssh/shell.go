package ssh

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"golang.org/x/crypto/ssh"
	"k8s.io/utils/clock"

	apperr "devpulse/internal/error"
)

// DefaultBufferLimit caps unread shell output; older bytes are dropped.
const DefaultBufferLimit = 1 << 20

var errShellExited = errors.New("remote shell exited")

// TerminalModes mirrors a typical interactive tty.
var TerminalModes = ssh.TerminalModes{
	ssh.ECHO:          1,
	ssh.TTY_OP_ISPEED: 14400,
	ssh.TTY_OP_OSPEED: 14400,
	ssh.VINTR:         3,  // Ctrl+C
	ssh.VQUIT:         28, // Ctrl+\
	ssh.VERASE:        127,
	ssh.VKILL:         21, // Ctrl+U
	ssh.VEOF:          4,  // Ctrl+D
	ssh.VWERASE:       23, // Ctrl+W
	ssh.VLNEXT:        22, // Ctrl+V
	ssh.VSUSP:         26, // Ctrl+Z
}

type ShellConfig struct {
	Term        string
	Env         map[string]string
	Modes       ssh.TerminalModes
	SettleDelay time.Duration
	WriteDelay  time.Duration
	Drainer     Drainer
	BufferLimit int
}

// DefaultShellConfig returns the interactive defaults.
func DefaultShellConfig() ShellConfig {
	return ShellConfig{
		Term: "xterm-256color",
		Env: map[string]string{
			"TERM":      "xterm-256color",
			"COLORTERM": "truecolor",
			"LANG":      "en_US.UTF-8",
		},
		Modes:       TerminalModes,
		SettleDelay: 500 * time.Millisecond,
		WriteDelay:  10 * time.Millisecond,
		Drainer:     DefaultDrainer(),
		BufferLimit: DefaultBufferLimit,
	}
}

// outputBuffer accumulates channel output so reads never block.
type outputBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	delivered bool
	pumps     int
	err       error
}

func (b *outputBuffer) pump(r io.Reader) {
	p := make([]byte, 4096)
	for {
		n, err := r.Read(p)
		if n > 0 {
			b.mu.Lock()
			b.buf.Write(p[:n])
			if b.limit > 0 && b.buf.Len() > b.limit {
				dropped := b.buf.Len() - b.limit
				b.buf.Next(dropped)
				log.Warn("shell output buffer full, dropping oldest bytes", "dropped", dropped, "limit", b.limit)
			}
			b.delivered = false
			b.mu.Unlock()
		}
		if err != nil {
			b.mu.Lock()
			b.pumps--
			if b.err == nil && !errors.Is(err, io.EOF) {
				b.err = err
			}
			if b.pumps == 0 && b.err == nil {
				b.err = errShellExited
			}
			b.mu.Unlock()
			return
		}
	}
}

// TryRead returns buffered output. After output has been handed out and
// nothing new arrived, it reports ErrWouldBlock.
func (b *outputBuffer) TryRead(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.buf.Len() > 0 {
		n, _ := b.buf.Read(p)
		if b.buf.Len() == 0 {
			b.delivered = true
		}
		return n, nil
	}
	if b.pumps == 0 && b.err != nil {
		return 0, b.err
	}
	if b.delivered {
		return 0, ErrWouldBlock
	}
	return 0, nil
}

// Shell is the PTY channel attached to a Session.
type Shell struct {
	remote  RemoteSession
	stdin   io.WriteCloser
	out     *outputBuffer
	pending []byte
	Cols    int
	Rows    int

	closeOnce sync.Once
}

func (sh *Shell) close() {
	sh.closeOnce.Do(func() {
		_ = sh.stdin.Close()
		_ = sh.remote.Close()
	})
}

// ShellEngine drives interactive shells on registered sessions.
type ShellEngine struct {
	registry *Registry
	cfg      ShellConfig
	clock    clock.Clock
}

func NewShellEngine(r *Registry, cfg ShellConfig) *ShellEngine {
	clk := cfg.Drainer.Clock
	if clk == nil {
		clk = clock.RealClock{}
		cfg.Drainer.Clock = clk
	}
	if cfg.Modes == nil {
		cfg.Modes = TerminalModes
	}
	if cfg.Term == "" {
		cfg.Term = "xterm-256color"
	}
	return &ShellEngine{registry: r, cfg: cfg, clock: clk}
}

// Start opens a PTY shell of cols x rows on the session.
func (e *ShellEngine) Start(id string, cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return apperr.Newf(apperr.ValidationError, nil, "invalid terminal size %dx%d", cols, rows)
	}
	return e.registry.With(id, func(s *Session) error {
		if s.shell != nil {
			return apperr.Newf(apperr.SessionError, ErrShellActive, "start shell on %s", id)
		}
		sh, err := e.open(s, cols, rows)
		if err != nil {
			return err
		}
		e.clock.Sleep(e.cfg.SettleDelay)
		s.shell = sh
		log.Info("interactive shell started", "id", id, "cols", cols, "rows", rows)
		return nil
	})
}

func (e *ShellEngine) open(s *Session, cols, rows int) (sh *Shell, err error) {
	rs, err := s.conn.NewSession()
	if err != nil {
		return nil, apperr.New(apperr.ProtocolError, "failed to open channel", err)
	}
	defer func() {
		if err != nil {
			rs.Close()
		}
	}()

	if err := rs.RequestPty(e.cfg.Term, rows, cols, e.cfg.Modes); err != nil {
		return nil, apperr.New(apperr.ProtocolError, "failed to request PTY", err)
	}
	for name, value := range e.cfg.Env {
		// servers commonly refuse variables outside AcceptEnv
		if err := rs.Setenv(name, value); err != nil {
			log.Debug("server refused environment variable", "id", s.ID, "name", name, "err", err)
		}
	}

	stdin, err := rs.StdinPipe()
	if err != nil {
		return nil, apperr.New(apperr.ProtocolError, "failed to open stdin", err)
	}
	stdout, err := rs.StdoutPipe()
	if err != nil {
		return nil, apperr.New(apperr.ProtocolError, "failed to open stdout", err)
	}
	stderr, err := rs.StderrPipe()
	if err != nil {
		return nil, apperr.New(apperr.ProtocolError, "failed to open stderr", err)
	}
	if err := rs.Shell(); err != nil {
		return nil, apperr.New(apperr.ProtocolError, "failed to start shell", err)
	}

	out := &outputBuffer{limit: e.cfg.BufferLimit, pumps: 2}
	go out.pump(stdout)
	go out.pump(stderr)

	return &Shell{remote: rs, stdin: stdin, out: out, Cols: cols, Rows: rows}, nil
}

// Write sends data to the shell verbatim.
func (e *ShellEngine) Write(id string, data []byte) error {
	return e.registry.With(id, func(s *Session) error {
		sh, err := shellOf(s)
		if err != nil {
			return err
		}
		if _, err := sh.stdin.Write(data); err != nil {
			return apperr.New(apperr.IOError, "failed to write to shell", err)
		}
		if f, ok := sh.stdin.(interface{ Flush() error }); ok {
			if err := f.Flush(); err != nil {
				return apperr.New(apperr.IOError, "failed to flush shell input", err)
			}
		}
		e.clock.Sleep(e.cfg.WriteDelay)
		return nil
	})
}

// Read returns whatever output arrived, possibly nothing. It never waits
// longer than the drain budget plus the trailing delay.
func (e *ShellEngine) Read(id string) (string, error) {
	var result string
	err := e.registry.With(id, func(s *Session) error {
		sh, err := shellOf(s)
		if err != nil {
			return err
		}
		data, err := e.cfg.Drainer.Drain(sh.out)
		if err != nil {
			return apperr.New(apperr.IOError, "failed to read from shell", err)
		}
		if len(sh.pending) > 0 {
			data = append(sh.pending, data...)
			sh.pending = nil
		}
		complete, rest := splitIncompleteRune(data)
		if len(rest) > 0 {
			sh.pending = append([]byte(nil), rest...)
		}
		result = string(complete)
		return nil
	})
	return result, err
}

// Resize changes the PTY window size.
func (e *ShellEngine) Resize(id string, cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return apperr.Newf(apperr.ValidationError, nil, "invalid terminal size %dx%d", cols, rows)
	}
	return e.registry.With(id, func(s *Session) error {
		sh, err := shellOf(s)
		if err != nil {
			return err
		}
		if err := sh.remote.WindowChange(rows, cols); err != nil {
			return apperr.New(apperr.ProtocolError, "failed to update window size", err)
		}
		sh.Cols, sh.Rows = cols, rows
		return nil
	})
}

// Stop closes the shell if there is one. It succeeds for unknown sessions
// and sessions without a shell.
func (e *ShellEngine) Stop(id string) error {
	err := e.registry.With(id, func(s *Session) error {
		if s.shell != nil {
			s.shell.close()
			s.shell = nil
			log.Info("interactive shell stopped", "id", id)
		}
		return nil
	})
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	return err
}

func shellOf(s *Session) (*Shell, error) {
	if s.shell == nil {
		return nil, apperr.Newf(apperr.SessionError, ErrShellNotFound, "session %s", s.ID)
	}
	return s.shell, nil
}

// splitIncompleteRune separates a trailing partial UTF-8 sequence so it can
// be prefixed to the next read.
func splitIncompleteRune(b []byte) (complete, rest []byte) {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if !utf8.FullRune(b[i:]) {
			return b[:i], b[i:]
		}
		break
	}
	return b, nil
}
