// Package sshtest runs an in-process SSH server for tests. It supports
// password and public key auth, canned exec replies with exit codes, PTY
// shells that echo their input, window-change reporting and an sftp
// subsystem.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Reply is the canned answer to an exec request.
type Reply struct {
	Stdout string
	Stderr string
	Exit   uint32
	// Drop closes the channel without an exit status, like a host that
	// powers off mid-command.
	Drop bool
}

// PtyRequest is what a client asked for in pty-req.
type PtyRequest struct {
	Term string
	Cols uint32
	Rows uint32
}

type Server struct {
	Addr    string
	Host    string
	Port    int
	HostKey ssh.PublicKey

	// AcceptEnv lists variables the server accepts; others are refused.
	AcceptEnv []string
	// NoSFTP disables the sftp subsystem.
	NoSFTP bool

	t        testing.TB
	config   *ssh.ServerConfig
	listener net.Listener

	mu        sync.Mutex
	passwords map[string]string
	keys      map[string]ssh.PublicKey
	replies   map[string]Reply
	executed  []string
	env       map[string]string
	ptys      []PtyRequest
	resizes   [][2]uint32
	conns     []ssh.Conn
	wg        sync.WaitGroup
}

// NewServer starts a server on 127.0.0.1 and stops it on test cleanup.
func NewServer(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		t:         t,
		AcceptEnv: []string{"LANG"},
		passwords: make(map[string]string),
		keys:      make(map[string]ssh.PublicKey),
		replies:   make(map[string]Reply),
		env:       make(map[string]string),
	}

	hostSigner, _ := NewSigner(t)
	s.HostKey = hostSigner.PublicKey()
	s.config = &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			s.mu.Lock()
			want, ok := s.passwords[c.User()]
			s.mu.Unlock()
			if ok && want == string(pass) {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		},
		PublicKeyCallback: func(c ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			s.mu.Lock()
			want, ok := s.keys[c.User()]
			s.mu.Unlock()
			if ok && ssh.FingerprintSHA256(want) == ssh.FingerprintSHA256(key) {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("unknown public key for %q", c.User())
		},
	}
	s.config.AddHostKey(hostSigner)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s.listener = l
	s.Addr = l.Addr().String()
	host, port, _ := net.SplitHostPort(s.Addr)
	s.Host = host
	s.Port, _ = strconv.Atoi(port)

	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// AddPassword lets user log in with password.
func (s *Server) AddPassword(user, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passwords[user] = password
}

// AddKey authorizes key for user.
func (s *Server) AddKey(user string, key ssh.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[user] = key
}

// Handle sets the reply for an exact command line.
func (s *Server) Handle(command string, r Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[command] = r
}

// Executed returns the exec'd command lines in arrival order.
func (s *Server) Executed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.executed...)
}

// Env returns the accepted environment variables.
func (s *Server) Env() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.env))
	for k, v := range s.env {
		out[k] = v
	}
	return out
}

func (s *Server) Ptys() []PtyRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PtyRequest(nil), s.ptys...)
}

// Resizes returns the (cols, rows) of every window-change received.
func (s *Server) Resizes() [][2]uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][2]uint32(nil), s.resizes...)
}

// DropConnections closes every client connection from the server side.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

func (s *Server) Close() {
	s.listener.Close()
	s.DropConnections()
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(nc)
	}
}

func (s *Server) handleConn(nc net.Conn) {
	conn, chans, reqs, err := ssh.NewServerConn(nc, s.config)
	if err != nil {
		nc.Close()
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()
	defer conn.Close()

	go ssh.DiscardRequests(reqs)

	for nch := range chans {
		if nch.ChannelType() != "session" {
			nch.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := nch.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(ch, requests)
	}
}

func (s *Server) handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	var mu sync.Mutex
	closed := false
	closeCh := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			ch.Close()
		}
	}
	defer closeCh()

	for req := range requests {
		switch req.Type {
		case "pty-req":
			var p struct {
				Term   string
				Cols   uint32
				Rows   uint32
				Width  uint32
				Height uint32
				Modes  string
			}
			if err := ssh.Unmarshal(req.Payload, &p); err != nil {
				req.Reply(false, nil)
				continue
			}
			s.mu.Lock()
			s.ptys = append(s.ptys, PtyRequest{Term: p.Term, Cols: p.Cols, Rows: p.Rows})
			s.mu.Unlock()
			req.Reply(true, nil)

		case "env":
			var e struct{ Name, Value string }
			ok := ssh.Unmarshal(req.Payload, &e) == nil && s.accepts(e.Name)
			if ok {
				s.mu.Lock()
				s.env[e.Name] = e.Value
				s.mu.Unlock()
			}
			req.Reply(ok, nil)

		case "window-change":
			var w struct{ Cols, Rows, Width, Height uint32 }
			if err := ssh.Unmarshal(req.Payload, &w); err == nil {
				s.mu.Lock()
				s.resizes = append(s.resizes, [2]uint32{w.Cols, w.Rows})
				s.mu.Unlock()
				fmt.Fprintf(ch, "resize:%dx%d\r\n", w.Cols, w.Rows)
			}
			if req.WantReply {
				req.Reply(true, nil)
			}

		case "exec":
			var e struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &e); err != nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			go func() {
				s.exec(ch, e.Command)
				closeCh()
			}()

		case "shell":
			req.Reply(true, nil)
			go func() {
				s.shell(ch)
				closeCh()
			}()

		case "subsystem":
			var sub struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &sub); err != nil || sub.Name != "sftp" || s.NoSFTP {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			go func() {
				srv, err := sftp.NewServer(ch)
				if err == nil {
					_ = srv.Serve()
				}
				closeCh()
			}()

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

func (s *Server) accepts(name string) bool {
	for _, n := range s.AcceptEnv {
		if n == name {
			return true
		}
	}
	return false
}

func (s *Server) exec(ch ssh.Channel, command string) {
	s.mu.Lock()
	s.executed = append(s.executed, command)
	r, ok := s.replies[command]
	s.mu.Unlock()

	if !ok {
		r = builtin(command)
	}
	if r.Drop {
		return
	}
	if r.Stdout != "" {
		ch.Write([]byte(r.Stdout))
	}
	if r.Stderr != "" {
		ch.Stderr().Write([]byte(r.Stderr))
	}
	ch.CloseWrite()
	ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{r.Exit}))
}

func builtin(command string) Reply {
	switch {
	case strings.HasPrefix(command, "echo "):
		return Reply{Stdout: strings.TrimPrefix(command, "echo ") + "\n"}
	case strings.HasPrefix(command, "exit "):
		code, _ := strconv.Atoi(strings.TrimPrefix(command, "exit "))
		return Reply{Exit: uint32(code)}
	default:
		name := strings.Fields(command + " x")[0]
		return Reply{Stderr: fmt.Sprintf("sh: 1: %s: not found\n", name), Exit: 127}
	}
}

// shell echoes input back and ends with status 0 on a line reading "exit".
func (s *Server) shell(ch ssh.Channel) {
	ch.Write([]byte("$ "))
	buf := make([]byte, 4096)
	var line []byte
	for {
		n, err := ch.Read(buf)
		if n > 0 {
			ch.Write(buf[:n])
			for _, b := range buf[:n] {
				if b != '\r' && b != '\n' {
					line = append(line, b)
					continue
				}
				if string(line) == "exit" {
					ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{0}))
					return
				}
				line = line[:0]
			}
		}
		if err != nil {
			return
		}
	}
}

// NewSigner returns a fresh ed25519 signer and its private key.
func NewSigner(t testing.TB) (ssh.Signer, ed25519.PrivateKey) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return signer, priv
}

// WriteKey writes an OpenSSH private key into dir and returns the path and
// the signer.
func WriteKey(t testing.TB, dir string) (string, ssh.Signer) {
	t.Helper()
	signer, priv := NewSigner(t)
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	path := filepath.Join(dir, "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return path, signer
}
