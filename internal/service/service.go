// Package service wires the session, shell, power and transfer components
// together and is the boundary the CLI and TUI talk to.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/semaphore"

	"devpulse/internal/config"
	"devpulse/internal/crypto"
	apperr "devpulse/internal/error"
	"devpulse/internal/models"
	"devpulse/internal/power"
	"devpulse/internal/probe"
	"devpulse/internal/ssh"
	"devpulse/internal/transfer"
	"devpulse/internal/wol"
)

// HostStore is the part of the host store the service reads.
type HostStore interface {
	Hosts() []models.Host
	FindHostByName(ref string) (models.Host, error)
	Cipher() *crypto.Cipher
}

type Service struct {
	settings *config.Settings
	store    HostStore

	registry *ssh.Registry
	hostKeys *ssh.HostKeys
	auth     *ssh.Authenticator
	exec     *ssh.Executor
	shells   *ssh.ShellEngine
	waker    *wol.Waker
	power    *power.Orchestrator
	prober   *probe.Prober
	transfer *transfer.Transfer

	sem *semaphore.Weighted
}

type Option func(*options)

type options struct {
	dialer ssh.Dialer
	runner power.Runner
	shell  *ssh.ShellConfig
	waker  *wol.Waker
}

// WithDialer replaces the TCP dialer used for sessions, probes and power.
func WithDialer(d ssh.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithRunner replaces the helper process runner of the power orchestrator.
func WithRunner(r power.Runner) Option {
	return func(o *options) { o.runner = r }
}

func WithShellConfig(cfg ssh.ShellConfig) Option {
	return func(o *options) { o.shell = &cfg }
}

func WithWaker(w *wol.Waker) Option {
	return func(o *options) { o.waker = w }
}

// New builds a Service from settings. store may be nil when only
// credential-based operations are used.
func New(settings *config.Settings, store HostStore, opts ...Option) *Service {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	hostKeys := ssh.NewHostKeys(settings.SSH.KnownHostsFile, ssh.HostKeyPolicy(settings.SSH.HostKeyPolicy))
	auth := &ssh.Authenticator{
		Dialer:           o.dialer,
		HostKeys:         hostKeys,
		ConnectTimeout:   settings.SSH.ConnectTimeout,
		HandshakeTimeout: settings.SSH.HandshakeTimeout,
	}
	registry := ssh.NewRegistry(ssh.WithKeepAlive(settings.SSH.KeepAlive))

	shellCfg := shellConfig(settings.Shell)
	if o.shell != nil {
		shellCfg = *o.shell
	}

	waker := o.waker
	if waker == nil {
		waker = wol.NewWaker()
	}

	prober := probe.New(settings.Probe.Timeout, settings.Probe.Concurrency)
	prober.Dialer = o.dialer

	return &Service{
		settings: settings,
		store:    store,
		registry: registry,
		hostKeys: hostKeys,
		auth:     auth,
		exec:     ssh.NewExecutor(registry),
		shells:   ssh.NewShellEngine(registry, shellCfg),
		waker:    waker,
		power:    power.NewOrchestrator(auth, o.runner, settings.Power.ConnectTimeout, settings.Power.Commands),
		prober:   prober,
		transfer: transfer.New(registry),
		sem:      semaphore.NewWeighted(settings.MaxConcurrentOps),
	}
}

func shellConfig(s config.ShellSettings) ssh.ShellConfig {
	cfg := ssh.DefaultShellConfig()
	if s.Term != "" {
		cfg.Term = s.Term
		cfg.Env["TERM"] = s.Term
	}
	if s.Lang != "" {
		cfg.Env["LANG"] = s.Lang
	}
	cfg.SettleDelay = s.SettleDelay
	cfg.WriteDelay = s.WriteDelay
	cfg.Drainer.Budget = s.DrainBudget
	cfg.Drainer.Poll = s.PollInterval
	cfg.Drainer.Trail = s.TrailDelay
	cfg.Drainer.ChunkSize = s.ChunkSize
	return cfg
}

// acquire takes a worker slot for the duration of one operation.
func (s *Service) acquire(ctx context.Context) (func(), error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, apperr.New(apperr.ConnectionError, "operation cancelled while queued", err)
	}
	return func() { s.sem.Release(1) }, nil
}

// Registry exposes the session table.
func (s *Service) Registry() *ssh.Registry {
	return s.registry
}

func (s *Service) HostKeys() *ssh.HostKeys {
	return s.hostKeys
}

// Authenticate opens a session with explicit credentials and registers it.
func (s *Service) Authenticate(ctx context.Context, c ssh.Credentials) (string, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	sess, err := s.auth.Authenticate(ctx, c)
	if err != nil {
		return "", err
	}
	if err := s.registry.Insert(sess); err != nil {
		sess.Close()
		return "", err
	}
	return sess.ID, nil
}

// Execute runs one command on a session and returns the combined output.
func (s *Service) Execute(ctx context.Context, id, command string) (string, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	start := time.Now()
	out, err := s.exec.Execute(id, command)
	log.Debug("command finished", "id", id, "command", command, "elapsed", time.Since(start), "err", err)
	return out, err
}

// CloseSession stops any shell and closes the transport. Closing an
// unknown id reports "not found" and changes nothing.
func (s *Service) CloseSession(id string) error {
	return s.registry.Remove(id)
}

func (s *Service) StartShell(ctx context.Context, id string, cols, rows int) error {
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return s.shells.Start(id, cols, rows)
}

func (s *Service) WriteShell(ctx context.Context, id string, data []byte) error {
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return s.shells.Write(id, data)
}

// ReadShell returns whatever output arrived since the last read, possibly "".
func (s *Service) ReadShell(ctx context.Context, id string) (string, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()
	return s.shells.Read(id)
}

func (s *Service) ResizeShell(ctx context.Context, id string, cols, rows int) error {
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return s.shells.Resize(id, cols, rows)
}

// StopShell always succeeds.
func (s *Service) StopShell(id string) error {
	return s.shells.Stop(id)
}

// Wake sends a magic packet. It never fails; see the result.
func (s *Service) Wake(mac, broadcast string) models.PowerResult {
	return s.waker.Wake(mac, broadcast)
}

// Shutdown sends a shutdown command over a one-shot connection.
func (s *Service) Shutdown(ctx context.Context, t power.Target, custom string) models.PowerResult {
	return s.power.Shutdown(ctx, t, custom)
}

func (s *Service) Capabilities() []power.Helper {
	return s.power.Capabilities()
}

func (s *Service) Ping(ctx context.Context, host string, port int) models.PingResult {
	return s.prober.Ping(ctx, host, port)
}

func (s *Service) Upload(ctx context.Context, id, localPath, remotePath string, progress chan<- transfer.Progress) error {
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return s.transfer.Upload(ctx, id, localPath, remotePath, progress)
}

func (s *Service) Download(ctx context.Context, id, remotePath, localPath string, progress chan<- transfer.Progress) error {
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return s.transfer.Download(ctx, id, remotePath, localPath, progress)
}

// List returns the entries of a remote directory, sorted by name.
func (s *Service) List(ctx context.Context, id, remoteDir string) ([]os.FileInfo, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	entries, err := s.transfer.List(id, remoteDir)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}

// SessionInfo describes a registered session.
type SessionInfo struct {
	ID        string
	Host      string
	Port      int
	User      string
	CreatedAt time.Time
	Shell     bool
}

// Sessions lists registered sessions ordered by id.
func (s *Service) Sessions() []SessionInfo {
	var out []SessionInfo
	for _, id := range s.registry.IDs() {
		_ = s.registry.With(id, func(sess *ssh.Session) error {
			out = append(out, SessionInfo{
				ID:        sess.ID,
				Host:      sess.Host,
				Port:      sess.Port,
				User:      sess.User,
				CreatedAt: sess.CreatedAt,
				Shell:     sess.HasShell(),
			})
			return nil
		})
	}
	return out
}

// Close closes every session.
func (s *Service) Close() {
	s.registry.CloseAll()
}

// Message renders err for a human: the AppError text, or a generic
// failure line for anything else.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var appErr *apperr.AppError
	if errors.As(err, &appErr) {
		return appErr.Error()
	}
	return fmt.Sprintf("operation failed: %v", err)
}
