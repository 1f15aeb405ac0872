package logging

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// Setup configures the package-level charmbracelet logger used across the
// module. Unknown levels fall back to info and are reported.
func Setup(level string, w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	log.SetOutput(w)
	log.SetTimeFormat("2006-01-02 15:04:05")
	log.SetReportTimestamp(true)
	log.SetPrefix("devpulse")

	lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		log.SetLevel(log.InfoLevel)
		log.Warn("invalid log level, defaulting to info", "level", level)
		return
	}
	log.SetLevel(lvl)
}

// Quiet routes log output away from a terminal that a full-screen program
// or raw-mode console owns.
func Quiet(path string) (func(), error) {
	if path == "" {
		log.SetOutput(io.Discard)
		return func() { log.SetOutput(os.Stderr) }, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}
	log.SetOutput(f)
	return func() {
		log.SetOutput(os.Stderr)
		f.Close()
	}, nil
}
