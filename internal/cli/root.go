// Package cli implements the devpulse command line on top of the service
// layer.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"devpulse/internal/config"
	apperr "devpulse/internal/error"
	"devpulse/internal/logging"
	"devpulse/internal/service"
)

// PassphraseEnv holds the host store passphrase for non-interactive use.
const PassphraseEnv = "DEVPULSE_PASSPHRASE"

type app struct {
	cfgFile string
	verbose bool

	in     io.Reader
	out    io.Writer
	errOut io.Writer
	opts   []service.Option

	settings *config.Settings
	store    *config.Manager
	svc      *service.Service
}

// Run executes the command line in args. Sessions opened by the command are
// closed before it returns.
func Run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer, opts ...service.Option) error {
	a := &app{in: in, out: out, errOut: errOut, opts: opts}
	defer a.close()

	root := a.rootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:               "devpulse",
		Short:             "SSH sessions, interactive shells and power control for your machines",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "settings file (default <data dir>/config.yaml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		a.hostsCommand(),
		a.pingCommand(),
		a.execCommand(),
		a.shellCommand(),
		a.lsCommand(),
		a.pushCommand(),
		a.pullCommand(),
		a.trustCommand(),
		a.wakeCommand(),
		a.shutdownCommand(),
		a.doctorCommand(),
		a.tuiCommand(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	s, err := config.LoadSettings(a.cfgFile)
	if err != nil {
		return apperr.New(apperr.ConfigError, "failed to load settings", err)
	}
	level := s.LogLevel
	if a.verbose {
		level = "debug"
	}
	logging.Setup(level, a.errOut)
	a.settings = s
	log.Debug("settings loaded", "data_dir", s.DataDir, "hosts", s.HostsFile)
	return nil
}

// open unlocks the host store and builds the service on top of it.
func (a *app) open() (*service.Service, error) {
	if a.svc != nil {
		return a.svc, nil
	}
	pass, err := a.passphrase()
	if err != nil {
		return nil, err
	}
	store := config.NewManager(a.settings.HostsFile)
	if err := store.Load(pass); err != nil {
		return nil, err
	}
	a.store = store
	a.svc = service.New(a.settings, store, a.opts...)
	return a.svc, nil
}

// bare builds a service for operations that need no stored hosts.
func (a *app) bare() *service.Service {
	if a.svc == nil {
		a.svc = service.New(a.settings, nil, a.opts...)
	}
	return a.svc
}

func (a *app) close() {
	if a.svc != nil {
		a.svc.Close()
	}
}

func (a *app) passphrase() (string, error) {
	if p := os.Getenv(PassphraseEnv); p != "" {
		return p, nil
	}
	return a.prompt("Passphrase: ", "set "+PassphraseEnv+" for non-interactive use")
}

// prompt reads a secret from the terminal without echo. hint is added to
// the error when no terminal is attached.
func (a *app) prompt(label, hint string) (string, error) {
	f, ok := a.in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return "", apperr.New(apperr.ConfigError,
			fmt.Sprintf("%s prompt needs a terminal; %s", strings.TrimSuffix(label, ": "), hint), nil)
	}
	fmt.Fprint(a.errOut, label)
	b, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(a.errOut)
	if err != nil {
		return "", apperr.New(apperr.IOError, "failed to read from terminal", err)
	}
	return string(b), nil
}

// connect opens a session to a stored host and returns a closer for it.
func (a *app) connect(cmd *cobra.Command, ref string) (*service.Service, string, func(), error) {
	svc, err := a.open()
	if err != nil {
		return nil, "", nil, err
	}
	id, err := svc.Connect(cmd.Context(), ref)
	if err != nil {
		return nil, "", nil, err
	}
	return svc, id, func() {
		if err := svc.CloseSession(id); err != nil {
			log.Debug("close session", "id", id, "err", err)
		}
	}, nil
}
