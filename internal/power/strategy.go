package power

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	apperr "devpulse/internal/error"
	"devpulse/internal/models"
	"devpulse/internal/ssh"
)

// Strategy runs one command on a target over a fresh connection.
type Strategy interface {
	Name() string
	Run(ctx context.Context, t Target, command string) error
}

func sshArgs(t Target, connectTimeout time.Duration, knownHosts string) []string {
	args := []string{
		"-o", "StrictHostKeyChecking=accept-new",
		"-o", "ConnectTimeout=" + strconv.Itoa(int(connectTimeout.Seconds())),
		"-o", "BatchMode=no",
	}
	if knownHosts != "" {
		args = append(args, "-o", "UserKnownHostsFile="+knownHosts)
	}
	return append(args, "-p", strconv.Itoa(t.port()), t.User+"@"+t.Host)
}

func helperFailure(helper string, p Process) error {
	msg := strings.TrimSpace(p.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(p.Stdout)
	}
	return fmt.Errorf("%s exited with code %d: %s", helper, p.Exit, msg)
}

// sshpassStrategy feeds the password through the SSHPASS variable so it never
// shows up in the process list.
type sshpassStrategy struct {
	runner         Runner
	connectTimeout time.Duration
	knownHosts     string
}

func (s *sshpassStrategy) Name() string { return "sshpass" }

func (s *sshpassStrategy) Run(ctx context.Context, t Target, command string) error {
	path, err := s.runner.LookPath("sshpass")
	if err != nil {
		return errors.Join(ErrHelperUnavailable, err)
	}
	args := append([]string{"-e", "ssh"}, sshArgs(t, s.connectTimeout, s.knownHosts)...)
	args = append(args, command)

	p, err := s.runner.Run(ctx, path, args, []string{"SSHPASS=" + t.Password})
	if err != nil {
		return err
	}
	if p.Exit != 0 {
		return helperFailure("sshpass", p)
	}
	return nil
}

// expectScript answers password prompts from the environment. Values are
// never interpolated into the script text.
const expectScript = `set timeout $env(DEVPULSE_EXPECT_TIMEOUT)
eval spawn ssh $env(DEVPULSE_SSH_ARGS) [list $env(DEVPULSE_SSH_COMMAND)]
expect {
	-nocase "password:" { send -- "$env(DEVPULSE_SSH_PASSWORD)\r"; exp_continue }
	eof
}
lassign [wait] pid spawnid oserr code
exit $code
`

type expectStrategy struct {
	runner         Runner
	connectTimeout time.Duration
	knownHosts     string
}

func (s *expectStrategy) Name() string { return "expect" }

func (s *expectStrategy) Run(ctx context.Context, t Target, command string) error {
	path, err := s.runner.LookPath("expect")
	if err != nil {
		return errors.Join(ErrHelperUnavailable, err)
	}
	quoted := make([]string, 0, 12)
	for _, a := range sshArgs(t, s.connectTimeout, s.knownHosts) {
		quoted = append(quoted, "{"+a+"}")
	}
	env := []string{
		"DEVPULSE_EXPECT_TIMEOUT=" + strconv.Itoa(int(s.connectTimeout.Seconds())*3),
		"DEVPULSE_SSH_ARGS=" + strings.Join(quoted, " "),
		"DEVPULSE_SSH_COMMAND=" + command,
		"DEVPULSE_SSH_PASSWORD=" + t.Password,
	}

	p, err := s.runner.Run(ctx, path, []string{"-c", expectScript}, env)
	if err != nil {
		return err
	}
	if p.Exit != 0 {
		return helperFailure("expect", p)
	}
	return nil
}

// nativeStrategy connects in-process. It is the last link for password
// targets and the only one for key targets.
type nativeStrategy struct {
	auth        *ssh.Authenticator
	agentSocket string
}

func (s *nativeStrategy) Name() string { return "native" }

func (s *nativeStrategy) methods(t Target) ([]gossh.AuthMethod, io.Closer, error) {
	switch {
	case t.Password != "":
		m, err := ssh.AuthMethods(ssh.Credentials{Method: models.AuthPassword, Password: t.Password})
		return m, nil, err
	case t.KeyPath != "":
		m, err := ssh.AuthMethods(ssh.Credentials{Method: models.AuthKey, KeyPath: t.KeyPath, KeyPassphrase: t.KeyPassphrase})
		return m, nil, err
	}

	sock := s.agentSocket
	if sock == "" {
		sock = os.Getenv("SSH_AUTH_SOCK")
	}
	if sock == "" {
		return nil, nil, apperr.New(apperr.ConfigError, "no password, key file or SSH agent", ssh.ErrMissingCredential)
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, nil, apperr.New(apperr.ConfigError, "failed to reach SSH agent", err)
	}
	client := agent.NewClient(conn)
	return []gossh.AuthMethod{gossh.PublicKeysCallback(client.Signers)}, conn, nil
}

func (s *nativeStrategy) Run(ctx context.Context, t Target, command string) error {
	methods, closer, err := s.methods(t)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	client, err := s.auth.Dial(ctx, t.address(), t.User, methods...)
	if err != nil {
		return err
	}
	defer client.Close()

	res, err := ssh.RunCommand(ssh.WrapClient(client), command)
	if err != nil {
		if droppedAfterAccept(err) {
			return nil
		}
		return err
	}
	if res.ExitCode != 0 {
		return apperr.Newf(apperr.ExecutionError, errors.New(strings.TrimSpace(res.Combined())),
			"%q exited with code %d", command, res.ExitCode)
	}
	return nil
}

// droppedAfterAccept reports a host going down before sending an exit status.
func droppedAfterAccept(err error) bool {
	var missing *gossh.ExitMissingError
	return errors.As(err, &missing) || errors.Is(err, io.EOF)
}

// chain tries links in order while they report ErrHelperUnavailable.
type chain []Strategy

func (c chain) Name() string {
	names := make([]string, len(c))
	for i, s := range c {
		names[i] = s.Name()
	}
	return strings.Join(names, ">")
}

func (c chain) Run(ctx context.Context, t Target, command string) error {
	var skipped []error
	for _, s := range c {
		err := s.Run(ctx, t, command)
		if !errors.Is(err, ErrHelperUnavailable) {
			return err
		}
		skipped = append(skipped, fmt.Errorf("%s: %w", s.Name(), err))
	}
	return errors.Join(skipped...)
}
