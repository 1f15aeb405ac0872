package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	apperr "devpulse/internal/error"
	"devpulse/internal/config"
	"devpulse/internal/models"
	"devpulse/internal/wol"
)

func (a *app) hostsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hosts",
		Short: "Manage the encrypted host store",
	}
	cmd.AddCommand(
		a.hostsListCommand(),
		a.hostsShowCommand(),
		a.hostsAddCommand(),
		a.hostsEditCommand(),
		a.hostsRemoveCommand(),
		a.hostsExportCommand(),
		a.hostsImportCommand(),
		a.hostsRestoreCommand(),
	)
	return cmd
}

func (a *app) hostsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored hosts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.open()
			if err != nil {
				return err
			}
			hosts := svc.Hosts()
			if len(hosts) == 0 {
				fmt.Fprintln(a.out, "No hosts configured.")
				return nil
			}
			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tADDRESS\tUSER\tAUTH\tMAC")
			for _, h := range hosts {
				fmt.Fprintf(w, "%s\t%s:%d\t%s\t%s\t%s\n", h.Name, h.Address, h.SSHPort(), h.User, h.AuthMethod, orDash(h.MAC))
			}
			return w.Flush()
		},
	}
}

func (a *app) hostsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <host>",
		Short: "Show one stored host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.open(); err != nil {
				return err
			}
			h, err := a.store.FindHostByName(args[0])
			if err != nil {
				return apperr.New(apperr.ConfigError, fmt.Sprintf("unknown host %q", args[0]), err)
			}
			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "ID\t%s\n", h.ID)
			fmt.Fprintf(w, "Name\t%s\n", h.Name)
			fmt.Fprintf(w, "Address\t%s:%d\n", h.Address, h.SSHPort())
			fmt.Fprintf(w, "User\t%s\n", h.User)
			fmt.Fprintf(w, "Auth\t%s\n", h.AuthMethod)
			if h.AuthMethod == models.AuthKey {
				fmt.Fprintf(w, "Key\t%s\n", h.KeyPath)
			}
			fmt.Fprintf(w, "MAC\t%s\n", orDash(h.MAC))
			fmt.Fprintf(w, "Broadcast\t%s\n", orDash(h.BroadcastAddress))
			fmt.Fprintf(w, "Shutdown\t%s\n", orDash(h.ShutdownCommand))
			if h.Description != "" {
				fmt.Fprintf(w, "Description\t%s\n", h.Description)
			}
			return w.Flush()
		},
	}
}

func (a *app) hostsAddCommand() *cobra.Command {
	var (
		h        models.Host
		auth     string
		password string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.open(); err != nil {
				return err
			}
			h.AuthMethod = models.AuthMethod(strings.ToLower(auth))
			if h.AuthMethod == "" {
				h.AuthMethod = models.AuthKey
				if h.KeyPath == "" {
					h.AuthMethod = models.AuthPassword
				}
			}
			if h.MAC != "" {
				mac, err := wol.NormalizeMAC(h.MAC)
				if err != nil {
					return err
				}
				h.MAC = mac
			}
			if h.AuthMethod == models.AuthPassword && password == "" {
				p, err := a.prompt("Host password: ", "pass --password")
				if err != nil {
					return err
				}
				password = p
			}
			if err := h.SetPassword(password, a.store.Cipher()); err != nil {
				return apperr.New(apperr.CryptoError, "failed to encrypt password", err)
			}

			added, err := a.store.AddHost(h)
			if err != nil {
				return err
			}
			if err := a.store.Save(); err != nil {
				return err
			}
			log.Info("host added", "name", added.Name, "id", added.ID)
			fmt.Fprintf(a.out, "Added %s (%s)\n", added.Name, added.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&h.Name, "name", "", "display name")
	f.StringVar(&h.Address, "address", "", "hostname or IP address")
	f.IntVar(&h.Port, "port", models.DefaultSSHPort, "SSH port")
	f.StringVar(&h.User, "user", "", "login user")
	f.StringVar(&auth, "auth", "", "authentication method: password or key")
	f.StringVar(&password, "password", "", "login password (prompted when omitted)")
	f.StringVar(&h.KeyPath, "key", "", "private key file")
	f.StringVar(&h.MAC, "mac", "", "MAC address for Wake-on-LAN")
	f.StringVar(&h.BroadcastAddress, "broadcast", "", "broadcast address for Wake-on-LAN")
	f.StringVar(&h.ShutdownCommand, "shutdown-command", "", "command used to power the host off")
	f.StringVar(&h.Description, "description", "", "free-form notes")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("address")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func (a *app) hostsEditCommand() *cobra.Command {
	var (
		upd      models.Host
		auth     string
		password string
	)
	cmd := &cobra.Command{
		Use:   "edit <host>",
		Short: "Change fields of a stored host",
		Long:  "Only the flags given are changed. Pass an empty --mac to clear it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.open(); err != nil {
				return err
			}
			found, err := a.store.FindHostByName(args[0])
			if err != nil {
				return apperr.Newf(apperr.ConfigError, err, "unknown host %q", args[0])
			}
			h := found
			f := cmd.Flags()
			if f.Changed("name") {
				h.Name = upd.Name
			}
			if f.Changed("address") {
				h.Address = upd.Address
			}
			if f.Changed("port") {
				h.Port = upd.Port
			}
			if f.Changed("user") {
				h.User = upd.User
			}
			if f.Changed("key") {
				h.KeyPath = upd.KeyPath
			}
			if f.Changed("auth") {
				h.AuthMethod = models.AuthMethod(strings.ToLower(auth))
			}
			if f.Changed("mac") {
				h.MAC = ""
				if upd.MAC != "" {
					mac, err := wol.NormalizeMAC(upd.MAC)
					if err != nil {
						return err
					}
					h.MAC = mac
				}
			}
			if f.Changed("broadcast") {
				h.BroadcastAddress = upd.BroadcastAddress
			}
			if f.Changed("shutdown-command") {
				h.ShutdownCommand = upd.ShutdownCommand
			}
			if f.Changed("description") {
				h.Description = upd.Description
			}

			if f.Changed("password") || (h.AuthMethod == models.AuthPassword && h.Password == "") {
				if password == "" && h.AuthMethod == models.AuthPassword {
					p, err := a.prompt("Host password: ", "pass --password")
					if err != nil {
						return err
					}
					password = p
				}
				if err := h.SetPassword(password, a.store.Cipher()); err != nil {
					return apperr.New(apperr.CryptoError, "failed to encrypt password", err)
				}
			}

			if dup, err := a.store.FindHostByName(h.Name); err == nil && dup.ID != h.ID {
				return apperr.Newf(apperr.ValidationError, nil, "a host named %q already exists", h.Name)
			}
			if err := a.store.UpdateHost(h); err != nil {
				return err
			}
			if err := a.store.Save(); err != nil {
				return err
			}
			log.Info("host updated", "name", h.Name, "id", h.ID)
			fmt.Fprintf(a.out, "Updated %s\n", h.Name)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&upd.Name, "name", "", "display name")
	f.StringVar(&upd.Address, "address", "", "hostname or IP address")
	f.IntVar(&upd.Port, "port", models.DefaultSSHPort, "SSH port")
	f.StringVar(&upd.User, "user", "", "login user")
	f.StringVar(&auth, "auth", "", "authentication method: password or key")
	f.StringVar(&password, "password", "", "login password")
	f.StringVar(&upd.KeyPath, "key", "", "private key file")
	f.StringVar(&upd.MAC, "mac", "", "MAC address for Wake-on-LAN")
	f.StringVar(&upd.BroadcastAddress, "broadcast", "", "broadcast address for Wake-on-LAN")
	f.StringVar(&upd.ShutdownCommand, "shutdown-command", "", "command used to power the host off")
	f.StringVar(&upd.Description, "description", "", "free-form notes")
	return cmd
}

func (a *app) hostsRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <host>",
		Aliases: []string{"rm"},
		Short:   "Remove a host",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.open(); err != nil {
				return err
			}
			h, err := a.store.FindHostByName(args[0])
			if err != nil {
				return apperr.New(apperr.ConfigError, fmt.Sprintf("unknown host %q", args[0]), err)
			}
			if err := a.store.DeleteHost(h.ID); err != nil {
				return err
			}
			if err := a.store.Save(); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Removed %s\n", h.Name)
			return nil
		},
	}
}

func (a *app) hostsExportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Write hosts with plaintext passwords to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.open(); err != nil {
				return err
			}
			if err := a.store.Export(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Exported %d hosts to %s\n", len(a.store.Hosts()), args[0])
			return nil
		},
	}
}

func (a *app) hostsImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Add hosts from an exported file, skipping names already present",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.open(); err != nil {
				return err
			}
			n, err := a.store.Import(args[0])
			if err != nil {
				return err
			}
			if err := a.store.Save(); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Imported %d hosts\n", n)
			return nil
		},
	}
}

func (a *app) hostsRestoreCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Replace the host store with the copy taken before the last save",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pass, err := a.passphrase()
			if err != nil {
				return err
			}
			backup := a.settings.HostsFile + config.BackupSuffix
			if _, err := os.Stat(backup); err != nil {
				return apperr.Newf(apperr.FileError, err, "no backup at %s", backup)
			}
			// refuse a backup this passphrase cannot open
			prev := config.NewManager(backup)
			if err := prev.Load(pass); err != nil {
				return err
			}
			if err := config.RestoreFromBackup(a.settings.HostsFile); err != nil {
				return err
			}
			log.Info("host store restored", "from", backup)
			fmt.Fprintf(a.out, "Restored %d hosts from %s\n", len(prev.Hosts()), backup)
			return nil
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
