// internal/ssh/auth.go

package ssh

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/crypto/ssh"

	apperr "devpulse/internal/error"
	"devpulse/internal/models"
)

// Dialer opens the raw network connection. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// HostKeySource provides the host key callback for each handshake.
type HostKeySource interface {
	Callback() (ssh.HostKeyCallback, error)
}

// Credentials is everything needed to authenticate one transport.
type Credentials struct {
	Host          string
	Port          int
	User          string
	Method        models.AuthMethod
	Password      string
	KeyPath       string
	KeyPassphrase string
}

func (c Credentials) Address() string {
	port := c.Port
	if port == 0 {
		port = models.DefaultSSHPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Authenticator opens authenticated transports. It never registers them.
type Authenticator struct {
	Dialer   Dialer
	HostKeys HostKeySource
	// ConnectTimeout bounds dial plus handshake; zero leaves it to ctx.
	ConnectTimeout time.Duration
	// HandshakeTimeout bounds the protocol handshake alone.
	HandshakeTimeout time.Duration
}

// AuthMethods validates the credentials and builds the ssh auth methods.
// It never touches the network.
func AuthMethods(c Credentials) ([]ssh.AuthMethod, error) {
	switch c.Method {
	case models.AuthPassword:
		if c.Password == "" {
			return nil, apperr.New(apperr.ConfigError, "password authentication", ErrMissingCredential)
		}
		password := c.Password
		return []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		}, nil
	case models.AuthKey:
		if c.KeyPath == "" {
			return nil, apperr.New(apperr.ConfigError, "key authentication", ErrMissingCredential)
		}
		signer, err := LoadSigner(c.KeyPath, c.KeyPassphrase)
		if err != nil {
			return nil, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	default:
		return nil, apperr.Newf(apperr.ConfigError, ErrUnsupportedMethod, "method %q", c.Method)
	}
}

// LoadSigner reads and parses a private key file.
func LoadSigner(path, passphrase string) (ssh.Signer, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.New(apperr.ConfigError, "failed to read SSH key", err)
	}
	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(key)
	}
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, apperr.New(apperr.ConfigError, "SSH key is passphrase protected", err)
		}
		return nil, apperr.New(apperr.ConfigError, "failed to parse SSH key", err)
	}
	return signer, nil
}

// Authenticate validates c, connects, and returns an unregistered Session.
func (a *Authenticator) Authenticate(ctx context.Context, c Credentials) (*Session, error) {
	methods, err := AuthMethods(c)
	if err != nil {
		return nil, err
	}
	client, err := a.Dial(ctx, c.Address(), c.User, methods...)
	if err != nil {
		return nil, err
	}
	port := c.Port
	if port == 0 {
		port = models.DefaultSSHPort
	}
	s := NewSession("", c.Host, port, c.User, WrapClient(client))
	log.Info("authenticated", "host", c.Host, "user", c.User, "method", c.Method, "id", s.ID)
	return s, nil
}

// Dial connects to addr and authenticates user with methods.
func (a *Authenticator) Dial(ctx context.Context, addr, user string, methods ...ssh.AuthMethod) (*ssh.Client, error) {
	if a.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.ConnectTimeout)
		defer cancel()
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if a.HostKeys != nil {
		cb, err := a.HostKeys.Callback()
		if err != nil {
			return nil, apperr.New(apperr.ConfigError, "host key verification setup", err)
		}
		hostKeyCallback = cb
	}

	dialer := a.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, apperr.Newf(apperr.ConnectionError, err, "failed to connect to %s", addr)
	}

	if a.HandshakeTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(a.HandshakeTimeout))
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            methods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         a.HandshakeTimeout,
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if !stop() {
		// ctx fired during the handshake and already closed conn
		if c != nil {
			c.Close()
		}
		return nil, apperr.Newf(apperr.ConnectionError, ctx.Err(), "connect to %s", addr)
	}
	if err != nil {
		conn.Close()
		return nil, classifyHandshake(addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	client := ssh.NewClient(c, chans, reqs)
	if err := verifyLogin(client, user, addr); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// verifyLogin checks that the handshake produced a session for user.
func verifyLogin(meta ssh.ConnMetadata, user, addr string) error {
	if len(meta.SessionID()) == 0 || meta.User() != user {
		return apperr.Newf(apperr.AuthError, ErrAuthRejected, "%s@%s", user, addr)
	}
	return nil
}

func classifyHandshake(addr string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "unable to authenticate"):
		return apperr.Newf(apperr.AuthError, errors.Join(ErrAuthRejected, err), "authentication to %s failed", addr)
	case errors.Is(err, ErrHostKeyUnknown) || strings.Contains(msg, "host key"):
		return apperr.Newf(apperr.ProtocolError, err, "host key verification for %s failed", addr)
	default:
		return apperr.Newf(apperr.ProtocolError, err, "ssh handshake with %s failed", addr)
	}
}
