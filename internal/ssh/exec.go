package ssh

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"
)

const (
	stderrMarker   = "\n--- STDERR ---\n"
	exitCodeMarker = "\n--- EXIT CODE: %d ---"
)

// Executor runs one-shot commands on registered sessions.
type Executor struct {
	registry *Registry
}

func NewExecutor(r *Registry) *Executor {
	return &Executor{registry: r}
}

// Execute runs command on session id and returns the combined output.
func (e *Executor) Execute(id, command string) (string, error) {
	var out string
	err := e.registry.With(id, func(s *Session) error {
		res, err := RunCommand(s.conn, command)
		if err != nil {
			return err
		}
		out = res.Combined()
		log.Debug("command finished", "id", id, "exit", res.ExitCode)
		return nil
	})
	return out, err
}

// CommandResult keeps the streams apart for callers that want them.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Combined renders stdout, a delimited stderr block when stderr is not
// empty, and an exit code marker when the code is not zero.
func (r CommandResult) Combined() string {
	var b strings.Builder
	b.WriteString(r.Stdout)
	if r.Stderr != "" {
		b.WriteString(stderrMarker)
		b.WriteString(r.Stderr)
	}
	if r.ExitCode != 0 {
		fmt.Fprintf(&b, exitCodeMarker, r.ExitCode)
	}
	return b.String()
}

// RunCommand opens one channel on conn, runs command and collects both
// streams. Both streams are drained concurrently so a chatty stderr cannot
// stall stdout on the channel window.
func RunCommand(conn Conn, command string) (CommandResult, error) {
	sess, err := conn.NewSession()
	if err != nil {
		return CommandResult{}, stageError("open channel", err)
	}
	defer sess.Close()

	stdout, err := sess.StdoutPipe()
	if err != nil {
		return CommandResult{}, stageError("exec", err)
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		return CommandResult{}, stageError("exec", err)
	}
	if err := sess.Start(command); err != nil {
		return CommandResult{}, stageError("exec", err)
	}

	var outBuf, errBuf bytes.Buffer
	var g errgroup.Group
	g.Go(func() error {
		if _, err := io.Copy(&outBuf, stdout); err != nil {
			return stageError("read stdout", err)
		}
		return nil
	})
	g.Go(func() error {
		if _, err := io.Copy(&errBuf, stderr); err != nil {
			return stageError("read stderr", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return CommandResult{}, err
	}

	code := 0
	if err := sess.Wait(); err != nil {
		var exitErr *ssh.ExitError
		if !errors.As(err, &exitErr) {
			return CommandResult{}, stageError("wait close", err)
		}
		code = exitErr.ExitStatus()
	}

	return CommandResult{
		Stdout:   strings.ToValidUTF8(outBuf.String(), "\uFFFD"),
		Stderr:   strings.ToValidUTF8(errBuf.String(), "\uFFFD"),
		ExitCode: code,
	}, nil
}
