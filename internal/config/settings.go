// internal/config/settings.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvPrefix          = "DEVPULSE"
	SettingsFileName   = "config.yaml"
	KnownHostsFileName = "known_hosts"
)

type SSHSettings struct {
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	KeepAlive        time.Duration `mapstructure:"keepalive"`
	HostKeyPolicy    string        `mapstructure:"host_key_policy"`
	KnownHostsFile   string        `mapstructure:"known_hosts_file"`
}

type ShellSettings struct {
	Term         string        `mapstructure:"term"`
	Lang         string        `mapstructure:"lang"`
	SettleDelay  time.Duration `mapstructure:"settle_delay"`
	WriteDelay   time.Duration `mapstructure:"write_delay"`
	DrainBudget  time.Duration `mapstructure:"drain_budget"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	TrailDelay   time.Duration `mapstructure:"trail_delay"`
	ChunkSize    int           `mapstructure:"chunk_size"`
}

type PowerSettings struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	Commands       []string      `mapstructure:"commands"`
}

type ProbeSettings struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	Concurrency int           `mapstructure:"concurrency"`
}

// Settings are the tunables read from config.yaml and DEVPULSE_* variables.
type Settings struct {
	DataDir          string        `mapstructure:"data_dir"`
	HostsFile        string        `mapstructure:"hosts_file"`
	LogLevel         string        `mapstructure:"log_level"`
	MaxConcurrentOps int64         `mapstructure:"max_concurrent_ops"`
	SSH              SSHSettings   `mapstructure:"ssh"`
	Shell            ShellSettings `mapstructure:"shell"`
	Power            PowerSettings `mapstructure:"power"`
	Probe            ProbeSettings `mapstructure:"probe"`
}

var DefaultShutdownCommands = []string{
	"sudo shutdown -h now",
	"sudo poweroff",
	"sudo halt",
	"shutdown -s -t 0",
}

func setDefaults(v *viper.Viper, dataDir string) {
	v.SetDefault("data_dir", dataDir)
	v.SetDefault("hosts_file", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("max_concurrent_ops", 16)

	v.SetDefault("ssh.connect_timeout", 20*time.Second)
	v.SetDefault("ssh.handshake_timeout", 15*time.Second)
	v.SetDefault("ssh.keepalive", 30*time.Second)
	v.SetDefault("ssh.host_key_policy", "accept-new")
	v.SetDefault("ssh.known_hosts_file", "")

	v.SetDefault("shell.term", "xterm-256color")
	v.SetDefault("shell.lang", "en_US.UTF-8")
	v.SetDefault("shell.settle_delay", 500*time.Millisecond)
	v.SetDefault("shell.write_delay", 10*time.Millisecond)
	v.SetDefault("shell.drain_budget", 50*time.Millisecond)
	v.SetDefault("shell.poll_interval", time.Millisecond)
	v.SetDefault("shell.trail_delay", 5*time.Millisecond)
	v.SetDefault("shell.chunk_size", 4096)

	v.SetDefault("power.connect_timeout", 10*time.Second)
	v.SetDefault("power.commands", DefaultShutdownCommands)

	v.SetDefault("probe.timeout", 5*time.Second)
	v.SetDefault("probe.concurrency", 8)
}

// LoadSettings reads settings from path (or <data dir>/config.yaml when
// empty), then applies environment overrides. A missing file is not an error.
func LoadSettings(path string) (*Settings, error) {
	dataDir, err := DefaultDataDir()
	if err != nil {
		dataDir = "."
	}

	v := viper.New()
	setDefaults(v, dataDir)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = filepath.Join(dataDir, SettingsFileName)
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read settings %s: %v", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %v", err)
	}
	s.fillPaths()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) fillPaths() {
	if s.HostsFile == "" {
		s.HostsFile = filepath.Join(s.DataDir, DefaultConfigFileName)
	}
	if s.SSH.KnownHostsFile == "" {
		s.SSH.KnownHostsFile = filepath.Join(s.DataDir, "ssh", KnownHostsFileName)
	}
}

// Validate rejects values the runtime cannot work with.
func (s *Settings) Validate() error {
	switch s.SSH.HostKeyPolicy {
	case "accept-new", "strict", "insecure":
	default:
		return fmt.Errorf("invalid ssh.host_key_policy %q", s.SSH.HostKeyPolicy)
	}
	if s.Shell.DrainBudget <= 0 || s.Shell.PollInterval <= 0 {
		return errors.New("shell.drain_budget and shell.poll_interval must be positive")
	}
	if s.Shell.ChunkSize <= 0 {
		return errors.New("shell.chunk_size must be positive")
	}
	if s.MaxConcurrentOps <= 0 {
		return errors.New("max_concurrent_ops must be positive")
	}
	return nil
}
