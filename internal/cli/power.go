package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	apperr "devpulse/internal/error"
	"devpulse/internal/logging"
	"devpulse/internal/models"
	"devpulse/internal/ui/views"
)

// report prints a power result and turns a failure into an error so the
// process exits non-zero.
func (a *app) report(res models.PowerResult) error {
	fmt.Fprintln(a.out, res.Message)
	if res.Details != "" {
		fmt.Fprintln(a.out, "  "+res.Details)
	}
	if !res.Success {
		return apperr.New(apperr.ExecutionError, res.Message, nil)
	}
	return nil
}

func (a *app) wakeCommand() *cobra.Command {
	var mac, broadcast string
	cmd := &cobra.Command{
		Use:   "wake [host]",
		Short: "Send a Wake-on-LAN magic packet",
		Long:  "Wake a stored host, or any machine with --mac.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if mac != "" {
				return a.report(a.bare().Wake(mac, broadcast))
			}
			if len(args) == 0 {
				return apperr.New(apperr.ValidationError, "a host or --mac is required", nil)
			}
			svc, err := a.open()
			if err != nil {
				return err
			}
			return a.report(svc.WakeHost(args[0]))
		},
	}
	cmd.Flags().StringVar(&mac, "mac", "", "MAC address to wake")
	cmd.Flags().StringVar(&broadcast, "broadcast", "", "broadcast address (default 255.255.255.255)")
	return cmd
}

func (a *app) shutdownCommand() *cobra.Command {
	var command string
	cmd := &cobra.Command{
		Use:   "shutdown <host>",
		Short: "Power a host off over SSH",
		Long: `Runs the host's shutdown command, then the configured fallbacks, until one
is accepted. Password hosts go through sshpass or expect when installed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.open()
			if err != nil {
				return err
			}
			return a.report(svc.ShutdownHost(cmd.Context(), args[0], command))
		},
	}
	cmd.Flags().StringVar(&command, "command", "", "command to try first")
	return cmd
}

func (a *app) doctorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Show helper programs and file locations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "HELPER\tSTATUS\tPATH")
			for _, h := range a.bare().Capabilities() {
				status := "missing"
				if h.Available {
					status = "ok"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", h.Name, status, orDash(h.Path))
			}
			fmt.Fprintln(w)
			fmt.Fprintf(w, "hosts file\t%s\n", a.settings.HostsFile)
			fmt.Fprintf(w, "known_hosts\t%s\n", a.settings.SSH.KnownHostsFile)
			fmt.Fprintf(w, "host key policy\t%s\n", a.settings.SSH.HostKeyPolicy)
			return w.Flush()
		},
	}
}

func (a *app) tuiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the full-screen host dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.open()
			if err != nil {
				return err
			}
			restore, err := logging.Quiet(filepath.Join(a.settings.DataDir, "devpulse.log"))
			if err != nil {
				return err
			}
			defer restore()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			p := tea.NewProgram(views.New(ctx, svc), tea.WithAltScreen(), tea.WithContext(ctx))
			_, err = p.Run()
			return err
		},
	}
}
