// internal/ssh/hostkeys.go

package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

type HostKeyPolicy string

const (
	// PolicyAcceptNew trusts and records keys of hosts never seen before,
	// and rejects changed keys.
	PolicyAcceptNew HostKeyPolicy = "accept-new"
	// PolicyStrict only accepts keys already present in known_hosts.
	PolicyStrict HostKeyPolicy = "strict"
	// PolicyInsecure accepts every key.
	PolicyInsecure HostKeyPolicy = "insecure"
)

var errKeyCaptured = errors.New("host key captured")

// HostKeys verifies server keys against the app-private known_hosts file.
type HostKeys struct {
	path   string
	policy HostKeyPolicy
	mu     sync.Mutex
}

func NewHostKeys(path string, policy HostKeyPolicy) *HostKeys {
	return &HostKeys{path: path, policy: policy}
}

func (h *HostKeys) Path() string {
	return h.path
}

func (h *HostKeys) ensureFile() error {
	if err := os.MkdirAll(filepath.Dir(h.path), 0700); err != nil {
		return fmt.Errorf("failed to create directory %s: %v", filepath.Dir(h.path), err)
	}
	f, err := os.OpenFile(h.path, os.O_CREATE|os.O_RDONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open known_hosts %s: %v", h.path, err)
	}
	return f.Close()
}

// Callback returns the verification callback for one handshake.
func (h *HostKeys) Callback() (ssh.HostKeyCallback, error) {
	if h.policy == PolicyInsecure {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if err := h.ensureFile(); err != nil {
		return nil, err
	}
	known, err := knownhosts.New(h.path)
	if err != nil {
		return nil, fmt.Errorf("failed to create hostKeyCallback: %v", err)
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := known(hostname, remote, key)
		if err == nil {
			return nil
		}
		var keyErr *knownhosts.KeyError
		if !errors.As(err, &keyErr) {
			return err
		}
		if len(keyErr.Want) > 0 {
			return fmt.Errorf("host key for %s changed (%s): %w", hostname, ssh.FingerprintSHA256(key), err)
		}
		if h.policy != PolicyAcceptNew {
			return fmt.Errorf("%w: %s %s", ErrHostKeyUnknown, hostname, ssh.FingerprintSHA256(key))
		}
		log.Info("trusting new host key", "host", hostname, "fingerprint", ssh.FingerprintSHA256(key))
		return h.Add(hostname, key)
	}, nil
}

// Add appends a known_hosts line for address (host:port or host).
func (h *HostKeys) Add(address string, key ssh.PublicKey) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.ensureFile(); err != nil {
		return err
	}
	line := knownhosts.Line([]string{knownhosts.Normalize(address)}, key)
	f, err := os.OpenFile(h.path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open known_hosts %s: %v", h.path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("failed to write known_hosts %s: %v", h.path, err)
	}
	return nil
}

// FetchHostKey runs a handshake far enough to learn the server key.
func FetchHostKey(ctx context.Context, dialer Dialer, addr string, timeout time.Duration) (ssh.PublicKey, error) {
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	var captured ssh.PublicKey
	cfg := &ssh.ClientConfig{
		User: "devpulse-probe",
		HostKeyCallback: func(_ string, _ net.Addr, key ssh.PublicKey) error {
			captured = key
			return errKeyCaptured
		},
	}
	_, _, _, err = ssh.NewClientConn(conn, addr, cfg)
	if captured != nil {
		return captured, nil
	}
	if err == nil {
		return nil, errors.New("handshake finished without a host key")
	}
	return nil, fmt.Errorf("failed to get host key from %s: %w", addr, err)
}
