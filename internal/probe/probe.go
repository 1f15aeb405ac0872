package probe

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"devpulse/internal/models"
	"devpulse/internal/ssh"
)

const (
	DefaultTimeout     = 5 * time.Second
	DefaultConcurrency = 8
	bannerWait         = 500 * time.Millisecond
)

// Prober checks whether hosts accept TCP connections on their SSH port.
type Prober struct {
	Dialer      ssh.Dialer
	Timeout     time.Duration
	Concurrency int
}

func New(timeout time.Duration, concurrency int) *Prober {
	return &Prober{Timeout: timeout, Concurrency: concurrency}
}

func (p *Prober) timeout() time.Duration {
	if p.Timeout <= 0 {
		return DefaultTimeout
	}
	return p.Timeout
}

// Ping connects to host:port. An unreachable host is a result, not an error.
func (p *Prober) Ping(ctx context.Context, host string, port int) models.PingResult {
	if port <= 0 {
		port = models.DefaultSSHPort
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	dialer := p.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout())
	defer cancel()

	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		log.Debug("host offline", "addr", addr, "err", err)
		return models.PingResult{IsOnline: false, Error: "connection failed: " + err.Error()}
	}
	elapsed := time.Since(start)
	defer conn.Close()

	res := models.PingResult{IsOnline: true, ResponseTime: elapsed}
	res.Banner = readBanner(conn)
	log.Debug("host online", "addr", addr, "rtt", elapsed, "banner", res.Banner)
	return res
}

// readBanner returns the SSH identification line if the server sends one
// promptly.
func readBanner(conn net.Conn) string {
	_ = conn.SetReadDeadline(time.Now().Add(bannerWait))
	line, err := bufio.NewReaderSize(conn, 256).ReadString('\n')
	if err != nil && line == "" {
		return ""
	}
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "SSH-") {
		return ""
	}
	return line
}

// PingAll probes every host concurrently and returns results by host id.
func (p *Prober) PingAll(ctx context.Context, hosts []models.Host) map[string]models.PingResult {
	limit := p.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	var mu sync.Mutex
	results := make(map[string]models.PingResult, len(hosts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, h := range hosts {
		h := h
		g.Go(func() error {
			r := p.Ping(ctx, h.Address, h.SSHPort())
			r.HostID = h.ID
			mu.Lock()
			results[h.ID] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}
