package power

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"

	"github.com/go-cmd/cmd"
)

// ErrHelperUnavailable means a strategy's external helper is not installed,
// so the next link of the chain should be tried.
var ErrHelperUnavailable = errors.New("helper not available")

// Process is the outcome of an external command.
type Process struct {
	Exit   int
	Stdout string
	Stderr string
}

// Runner runs local helper programs.
type Runner interface {
	LookPath(name string) (string, error)
	Run(ctx context.Context, name string, args, env []string) (Process, error)
}

// ExecRunner runs helpers as child processes with buffered output.
type ExecRunner struct{}

func (ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// Run starts name and waits for it. env is added to the current environment.
func (ExecRunner) Run(ctx context.Context, name string, args, env []string) (Process, error) {
	c := cmd.NewCmdOptions(cmd.Options{Buffered: true}, name, args...)
	c.Env = append(os.Environ(), env...)

	statusChan := c.Start()
	var status cmd.Status
	select {
	case status = <-statusChan:
	case <-ctx.Done():
		_ = c.Stop()
		<-statusChan
		return Process{}, ctx.Err()
	}

	p := Process{
		Exit:   status.Exit,
		Stdout: strings.Join(status.Stdout, "\n"),
		Stderr: strings.Join(status.Stderr, "\n"),
	}
	if status.Error != nil {
		if errors.Is(status.Error, exec.ErrNotFound) || errors.Is(status.Error, os.ErrNotExist) {
			return p, errors.Join(ErrHelperUnavailable, status.Error)
		}
		return p, status.Error
	}
	return p, nil
}
