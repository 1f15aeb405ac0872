// internal/ssh/session.go

package ssh

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"
)

// RemoteSession is the part of *ssh.Session used for commands and shells.
type RemoteSession interface {
	StdinPipe() (io.WriteCloser, error)
	StdoutPipe() (io.Reader, error)
	StderrPipe() (io.Reader, error)
	RequestPty(term string, h, w int, modes ssh.TerminalModes) error
	Setenv(name, value string) error
	Shell() error
	Start(cmd string) error
	Wait() error
	WindowChange(h, w int) error
	Close() error
}

// Conn is an authenticated transport able to open channels.
type Conn interface {
	NewSession() (RemoteSession, error)
	SendRequest(name string, wantReply bool, payload []byte) (bool, []byte, error)
	Close() error
}

type clientConn struct {
	*ssh.Client
}

func (c clientConn) NewSession() (RemoteSession, error) {
	s, err := c.Client.NewSession()
	if err != nil {
		return nil, err
	}
	return s, nil
}

// WrapClient adapts an *ssh.Client to Conn.
func WrapClient(c *ssh.Client) Conn {
	return clientConn{Client: c}
}

// Session is one authenticated transport, owned by a Registry once inserted.
type Session struct {
	ID        string
	Host      string
	Port      int
	User      string
	CreatedAt time.Time

	conn  Conn
	shell *Shell

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// NewSession wraps conn. The id is generated when empty.
func NewSession(id, host string, port int, user string, conn Conn) *Session {
	if id == "" {
		id = NewSessionID(host)
	}
	return &Session{
		ID:        id,
		Host:      host,
		Port:      port,
		User:      user,
		CreatedAt: time.Now(),
		conn:      conn,
		done:      make(chan struct{}),
	}
}

// NewSessionID returns ssh_<host>_<unix seconds>_<random>.
func NewSessionID(host string) string {
	return fmt.Sprintf("ssh_%s_%d_%s", host, time.Now().Unix(), uuid.NewString()[:8])
}

func (s *Session) Conn() Conn {
	return s.conn
}

// Client returns the underlying *ssh.Client, or nil when the transport is
// not a golang.org/x/crypto client.
func (s *Session) Client() *ssh.Client {
	if c, ok := s.conn.(clientConn); ok {
		return c.Client
	}
	return nil
}

// HasShell reports whether an interactive shell is attached.
func (s *Session) HasShell() bool {
	return s.shell != nil
}

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close stops the shell, if any, and closes the transport exactly once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.shell != nil {
			s.shell.close()
			s.shell = nil
		}
		close(s.done)
		s.closeErr = s.conn.Close()
		log.Debug("session closed", "id", s.ID, "host", s.Host)
	})
	return s.closeErr
}
