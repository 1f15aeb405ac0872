package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"devpulse/internal/console"
	"devpulse/internal/logging"
	"devpulse/internal/models"
	"devpulse/internal/transfer"
)

func (a *app) pingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ping [host]",
		Short: "Check whether hosts answer on their SSH port",
		Long:  "Without a host argument every stored host is probed concurrently.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.open()
			if err != nil {
				return err
			}
			hosts := svc.Hosts()
			names := make(map[string]string, len(hosts))
			for _, h := range hosts {
				names[h.ID] = h.Name
			}

			var results []models.PingResult
			if len(args) == 1 {
				r, err := svc.PingHost(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				results = append(results, r)
			} else {
				for _, r := range svc.PingAll(cmd.Context()) {
					results = append(results, r)
				}
				sort.Slice(results, func(i, j int) bool {
					return names[results[i].HostID] < names[results[j].HostID]
				})
			}

			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "HOST\tSTATUS\tTIME\tDETAIL")
			for _, r := range results {
				status, detail := "offline", r.Error
				if r.IsOnline {
					status, detail = "online", r.Banner
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", names[r.HostID], status, r.ResponseTime.Round(time.Millisecond), detail)
			}
			return w.Flush()
		},
	}
}

func (a *app) execCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "exec <host> -- <command>",
		Short: "Run one command on a host and print its output",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, id, done, err := a.connect(cmd, args[0])
			if err != nil {
				return err
			}
			defer done()

			out, err := svc.Execute(cmd.Context(), id, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Fprint(a.out, out)
			return nil
		},
	}
}

func (a *app) shellCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "shell <host>",
		Short: "Open an interactive shell on a host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, id, done, err := a.connect(cmd, args[0])
			if err != nil {
				return err
			}
			defer done()

			// log lines would corrupt the raw terminal
			restore, err := logging.Quiet(filepath.Join(a.settings.DataDir, "devpulse.log"))
			if err != nil {
				return err
			}
			defer restore()

			in := a.in
			if in == nil {
				in = os.Stdin
			}
			return console.Run(cmd.Context(), svc, id, in, a.out)
		},
	}
}

func (a *app) lsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <host> [dir]",
		Short: "List a remote directory over SFTP",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 2 {
				dir = args[1]
			}
			svc, id, done, err := a.connect(cmd, args[0])
			if err != nil {
				return err
			}
			defer done()

			entries, err := svc.List(cmd.Context(), id, dir)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			for _, e := range entries {
				name := e.Name()
				if e.IsDir() {
					name += "/"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Mode(), humanBytes(e.Size()), e.ModTime().Format(time.DateTime), name)
			}
			return w.Flush()
		},
	}
}

func (a *app) pushCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "push <host> <local> [remote]",
		Short: "Upload a file; a remote path ending in / is a directory",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			remote := ""
			if len(args) == 3 {
				remote = args[2]
			}
			svc, id, done, err := a.connect(cmd, args[0])
			if err != nil {
				return err
			}
			defer done()

			progress, wait := a.progress()
			err = svc.Upload(cmd.Context(), id, args[1], remote, progress)
			wait()
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Uploaded %s\n", args[1])
			return nil
		},
	}
}

func (a *app) pullCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pull <host> <remote> [local]",
		Short: "Download a file",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			local := "."
			if len(args) == 3 {
				local = args[2]
			}
			svc, id, done, err := a.connect(cmd, args[0])
			if err != nil {
				return err
			}
			defer done()

			progress, wait := a.progress()
			err = svc.Download(cmd.Context(), id, args[1], local, progress)
			wait()
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Downloaded %s\n", args[1])
			return nil
		},
	}
}

// progress prints transfer progress to stderr until wait is called.
func (a *app) progress() (chan transfer.Progress, func()) {
	ch := make(chan transfer.Progress, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		var last transfer.Progress
		for p := range ch {
			last = p
			fmt.Fprintf(a.errOut, "\r%s %s / %s", p.FileName, humanBytes(p.TransferredBytes), humanBytes(p.TotalBytes))
		}
		if last.FileName != "" {
			fmt.Fprintf(a.errOut, " (%s)\n", time.Since(last.StartTime).Round(time.Millisecond))
		}
	}()
	return ch, func() {
		close(ch)
		<-done
	}
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func (a *app) trustCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "trust <host>",
		Short: "Record a host's current key in known_hosts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.open()
			if err != nil {
				return err
			}
			fp, err := svc.Trust(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			log.Debug("known hosts", "path", svc.HostKeys().Path())
			fmt.Fprintf(a.out, "Trusted %s (%s)\n", args[0], fp)
			return nil
		},
	}
}
