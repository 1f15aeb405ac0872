// internal/models/host.go

package models

import (
	"errors"
	"fmt"
	"strings"

	"devpulse/internal/crypto"
)

type AuthMethod string

const (
	AuthPassword AuthMethod = "password"
	AuthKey      AuthMethod = "key"

	DefaultSSHPort = 22
)

var (
	ErrMissingCredential = errors.New("missing credential")
	ErrUnsupportedMethod = errors.New("unsupported authentication method")
)

// Host is a registered remote machine.
type Host struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Description      string     `json:"description,omitempty"`
	Address          string     `json:"address"`
	Port             int        `json:"port"`
	User             string     `json:"user"`
	AuthMethod       AuthMethod `json:"auth_method"`
	Password         string     `json:"password,omitempty"` // encrypted
	KeyPath          string     `json:"key_path,omitempty"`
	MAC              string     `json:"mac,omitempty"`
	BroadcastAddress string     `json:"broadcast_address,omitempty"`
	ShutdownCommand  string     `json:"shutdown_command,omitempty"`
}

type Config struct {
	Salt  string `json:"salt"`
	Check string `json:"check"`
	Hosts []Host `json:"hosts"`
}

// Validate checks that the host carries what its auth method needs.
func (h *Host) Validate() error {
	if strings.TrimSpace(h.Name) == "" {
		return errors.New("name cannot be empty")
	}
	if strings.TrimSpace(h.Address) == "" {
		return errors.New("address cannot be empty")
	}
	if strings.TrimSpace(h.User) == "" {
		return errors.New("user cannot be empty")
	}
	if h.Port < 0 || h.Port > 65535 {
		return fmt.Errorf("invalid port %d", h.Port)
	}
	switch h.AuthMethod {
	case AuthPassword:
		if h.Password == "" {
			return fmt.Errorf("password auth: %w", ErrMissingCredential)
		}
	case AuthKey:
		if h.KeyPath == "" {
			return fmt.Errorf("key auth: %w", ErrMissingCredential)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedMethod, h.AuthMethod)
	}
	return nil
}

// SSHPort returns the configured port or 22.
func (h *Host) SSHPort() int {
	if h.Port == 0 {
		return DefaultSSHPort
	}
	return h.Port
}

// SetPassword encrypts and stores the plaintext password.
func (h *Host) SetPassword(plain string, cipher *crypto.Cipher) error {
	if plain == "" {
		h.Password = ""
		return nil
	}
	enc, err := cipher.Encrypt(plain)
	if err != nil {
		return err
	}
	h.Password = enc
	return nil
}

// GetPassword returns the decrypted password, or "" if none is stored.
func (h *Host) GetPassword(cipher *crypto.Cipher) (string, error) {
	if h.Password == "" {
		return "", nil
	}
	return cipher.Decrypt(h.Password)
}
