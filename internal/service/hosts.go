package service

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	gossh "golang.org/x/crypto/ssh"

	apperr "devpulse/internal/error"
	"devpulse/internal/models"
	"devpulse/internal/power"
	"devpulse/internal/ssh"
	"devpulse/internal/utils"
)

func (s *Service) host(ref string) (models.Host, error) {
	if s.store == nil {
		return models.Host{}, apperr.New(apperr.ConfigError, "no host store configured", nil)
	}
	h, err := s.store.FindHostByName(ref)
	if err != nil {
		return models.Host{}, apperr.New(apperr.ConfigError, fmt.Sprintf("unknown host %q", ref), err)
	}
	return h, nil
}

// Hosts lists the stored hosts; nil without a store.
func (s *Service) Hosts() []models.Host {
	if s.store == nil {
		return nil
	}
	return s.store.Hosts()
}

func (s *Service) password(h models.Host) (string, error) {
	if h.Password == "" {
		return "", nil
	}
	cipher := s.store.Cipher()
	if cipher == nil {
		return "", apperr.New(apperr.CryptoError, "host store is locked", nil)
	}
	pw, err := h.GetPassword(cipher)
	if err != nil {
		return "", apperr.New(apperr.CryptoError, fmt.Sprintf("failed to decrypt password for %s", h.Name), err)
	}
	return pw, nil
}

// Credentials resolves a stored host into authentication input.
func (s *Service) Credentials(ref string) (ssh.Credentials, error) {
	h, err := s.host(ref)
	if err != nil {
		return ssh.Credentials{}, err
	}
	pw, err := s.password(h)
	if err != nil {
		return ssh.Credentials{}, err
	}
	return ssh.Credentials{
		Host:     h.Address,
		Port:     h.SSHPort(),
		User:     h.User,
		Method:   h.AuthMethod,
		Password: pw,
		KeyPath:  utils.ExpandHome(h.KeyPath),
	}, nil
}

// Connect authenticates to a stored host and registers the session.
func (s *Service) Connect(ctx context.Context, ref string) (string, error) {
	c, err := s.Credentials(ref)
	if err != nil {
		return "", err
	}
	return s.Authenticate(ctx, c)
}

// WakeHost wakes a stored host using its MAC and broadcast address.
func (s *Service) WakeHost(ref string) models.PowerResult {
	h, err := s.host(ref)
	if err != nil {
		return models.PowerResult{Message: "unknown host", Details: err.Error()}
	}
	if h.MAC == "" {
		return models.PowerResult{Message: "no MAC address configured", Details: h.Name}
	}
	return s.Wake(h.MAC, h.BroadcastAddress)
}

// ShutdownHost shuts a stored host down. custom overrides the host's own
// shutdown command.
func (s *Service) ShutdownHost(ctx context.Context, ref, custom string) models.PowerResult {
	h, err := s.host(ref)
	if err != nil {
		return models.PowerResult{Message: "unknown host", Details: err.Error()}
	}
	t := power.Target{Host: h.Address, Port: h.SSHPort(), User: h.User}
	switch h.AuthMethod {
	case models.AuthPassword:
		if t.Password, err = s.password(h); err != nil {
			return models.PowerResult{Message: "could not read credentials", Details: err.Error()}
		}
	case models.AuthKey:
		t.KeyPath = utils.ExpandHome(h.KeyPath)
	}
	if custom == "" {
		custom = h.ShutdownCommand
	}
	return s.Shutdown(ctx, t, custom)
}

// PingHost probes a stored host's SSH port.
func (s *Service) PingHost(ctx context.Context, ref string) (models.PingResult, error) {
	h, err := s.host(ref)
	if err != nil {
		return models.PingResult{}, err
	}
	r := s.Ping(ctx, h.Address, h.SSHPort())
	r.HostID = h.ID
	return r, nil
}

// PingAll probes every stored host; results are keyed by host id.
func (s *Service) PingAll(ctx context.Context) map[string]models.PingResult {
	if s.store == nil {
		return map[string]models.PingResult{}
	}
	return s.prober.PingAll(ctx, s.store.Hosts())
}

// Trust fetches a stored host's key and records it in known_hosts.
// It returns the key fingerprint.
func (s *Service) Trust(ctx context.Context, ref string) (string, error) {
	c, err := s.Credentials(ref)
	if err != nil {
		return "", err
	}
	key, err := ssh.FetchHostKey(ctx, s.auth.Dialer, c.Address(), s.settings.SSH.ConnectTimeout)
	if err != nil {
		return "", apperr.New(apperr.ConnectionError, "failed to fetch host key", err)
	}
	if err := s.hostKeys.Add(c.Address(), key); err != nil {
		return "", apperr.New(apperr.FileError, "failed to record host key", err)
	}
	fp := gossh.FingerprintSHA256(key)
	log.Info("host key trusted", "host", c.Address(), "fingerprint", fp)
	return fp, nil
}
