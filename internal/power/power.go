// Package power shuts hosts down by trying shutdown commands over a chain of
// authentication strategies.
package power

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"devpulse/internal/models"
	"devpulse/internal/ssh"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultAttemptTimeout = 45 * time.Second
)

var DefaultCommands = []string{
	"sudo shutdown -h now",
	"sudo poweroff",
	"sudo halt",
	"shutdown -s -t 0",
}

// Target is the host a shutdown is sent to. A non-empty Password selects the
// password chain; otherwise the key file or the SSH agent is used.
type Target struct {
	Host          string
	Port          int
	User          string
	Password      string
	KeyPath       string
	KeyPassphrase string
}

func (t Target) port() int {
	if t.Port <= 0 {
		return models.DefaultSSHPort
	}
	return t.Port
}

func (t Target) address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.port()))
}

// Step is one (command, strategy) attempt.
type Step struct {
	Command  string
	Strategy Strategy
}

// Orchestrator holds no per-call state and is safe for concurrent use.
type Orchestrator struct {
	Runner         Runner
	Auth           *ssh.Authenticator
	Commands       []string
	ConnectTimeout time.Duration
	AttemptTimeout time.Duration
	KnownHostsFile string
	AgentSocket    string
}

// NewOrchestrator uses auth for native attempts. Its ConnectTimeout is
// replaced by the orchestrator's own.
func NewOrchestrator(auth *ssh.Authenticator, runner Runner, connectTimeout time.Duration, commands []string) *Orchestrator {
	if runner == nil {
		runner = ExecRunner{}
	}
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	if len(commands) == 0 {
		commands = DefaultCommands
	}
	native := *auth
	native.ConnectTimeout = connectTimeout
	o := &Orchestrator{
		Runner:         runner,
		Auth:           &native,
		Commands:       commands,
		ConnectTimeout: connectTimeout,
		AttemptTimeout: DefaultAttemptTimeout,
	}
	if hk, ok := auth.HostKeys.(*ssh.HostKeys); ok {
		o.KnownHostsFile = hk.Path()
	}
	return o
}

// Commands returns custom (when set) followed by defaults, without duplicates.
func Commands(custom string, defaults []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range append([]string{strings.TrimSpace(custom)}, defaults...) {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func (o *Orchestrator) strategy(t Target) Strategy {
	native := &nativeStrategy{auth: o.Auth, agentSocket: o.AgentSocket}
	if t.Password == "" {
		return native
	}
	return chain{
		&sshpassStrategy{runner: o.Runner, connectTimeout: o.ConnectTimeout, knownHosts: o.KnownHostsFile},
		&expectStrategy{runner: o.Runner, connectTimeout: o.ConnectTimeout, knownHosts: o.KnownHostsFile},
		native,
	}
}

// Plan lists the attempts Shutdown makes, in order.
func (o *Orchestrator) Plan(t Target, custom string) []Step {
	s := o.strategy(t)
	cmds := Commands(custom, o.Commands)
	steps := make([]Step, len(cmds))
	for i, c := range cmds {
		steps[i] = Step{Command: c, Strategy: s}
	}
	return steps
}

// Shutdown runs the plan until a step succeeds. It never returns an error;
// failures are aggregated into the result.
func (o *Orchestrator) Shutdown(ctx context.Context, t Target, custom string) models.PowerResult {
	return o.Run(ctx, t, o.Plan(t, custom))
}

// Run evaluates steps in order and short-circuits on the first success.
func (o *Orchestrator) Run(ctx context.Context, t Target, steps []Step) models.PowerResult {
	var errs []error
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		log.Info("shutdown attempt", "host", t.Host, "attempt", i+1, "command", step.Command, "strategy", step.Strategy.Name())

		err := o.attempt(ctx, t, step)
		if err == nil {
			log.Info("shutdown accepted", "host", t.Host, "command", step.Command)
			return models.PowerResult{
				Success: true,
				Message: "shutdown command accepted",
				Details: fmt.Sprintf("command: %s (via %s)", step.Command, step.Strategy.Name()),
			}
		}
		log.Warn("shutdown attempt failed", "host", t.Host, "command", step.Command, "err", err)
		errs = append(errs, fmt.Errorf("%q via %s: %w", step.Command, step.Strategy.Name(), err))
	}

	details := "no shutdown command configured"
	if len(errs) > 0 {
		details = strings.ReplaceAll(errors.Join(errs...).Error(), "\n", "; ")
	}
	return models.PowerResult{Success: false, Message: "could not shut down host", Details: details}
}

func (o *Orchestrator) attempt(ctx context.Context, t Target, step Step) error {
	if o.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.AttemptTimeout)
		defer cancel()
	}
	return step.Strategy.Run(ctx, t, step.Command)
}

// Helper describes one external program the password chain can use.
type Helper struct {
	Name      string
	Path      string
	Available bool
}

// Capabilities reports which helpers are installed.
func (o *Orchestrator) Capabilities() []Helper {
	names := []string{"sshpass", "expect", "ssh"}
	out := make([]Helper, len(names))
	for i, n := range names {
		path, err := o.Runner.LookPath(n)
		out[i] = Helper{Name: n, Path: path, Available: err == nil}
	}
	return out
}
