package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devpulse/internal/config"
	apperr "devpulse/internal/error"
	"devpulse/internal/models"
	"devpulse/internal/power"
	"devpulse/internal/ssh"
	"devpulse/internal/sshtest"
)

func testSettings(t *testing.T) *config.Settings {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "data_dir: " + dir + `
max_concurrent_ops: 4
ssh:
  connect_timeout: 5s
  keepalive: 0s
shell:
  settle_delay: 0s
  write_delay: 0s
power:
  connect_timeout: 5s
probe:
  timeout: 1s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	s, err := config.LoadSettings(path)
	require.NoError(t, err)
	return s
}

// noHelpers makes the power chain go straight to the in-process client.
type noHelpers struct{}

func (noHelpers) LookPath(string) (string, error) { return "", os.ErrNotExist }
func (noHelpers) Run(context.Context, string, []string, []string) (power.Process, error) {
	return power.Process{}, power.ErrHelperUnavailable
}

type fixture struct {
	svc   *Service
	store *config.Manager
	srv   *sshtest.Server
	host  models.Host
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	settings := testSettings(t)
	store := config.NewManager(settings.HostsFile)
	require.NoError(t, store.Load("correct horse"))

	srv := sshtest.NewServer(t)
	srv.AddPassword("deploy", "hunter2")

	h := models.Host{
		Name: "lab-1", Address: srv.Host, Port: srv.Port, User: "deploy",
		AuthMethod: models.AuthPassword, MAC: "aa:bb:cc:dd:ee:ff",
	}
	require.NoError(t, h.SetPassword("hunter2", store.Cipher()))
	h, err := store.AddHost(h)
	require.NoError(t, err)

	svc := New(settings, store, WithRunner(noHelpers{}))
	t.Cleanup(svc.Close)
	return &fixture{svc: svc, store: store, srv: srv, host: h}
}

func TestConnectExecuteClose(t *testing.T) {
	f := newFixture(t)
	f.srv.Handle("whoami", sshtest.Reply{Stdout: "deploy\n"})
	ctx := context.Background()

	id, err := f.svc.Connect(ctx, "LAB-1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "ssh_"+f.srv.Host+"_"))

	out, err := f.svc.Execute(ctx, id, "whoami")
	require.NoError(t, err)
	assert.Equal(t, "deploy\n", out)

	sessions := f.svc.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "deploy", sessions[0].User)
	assert.False(t, sessions[0].Shell)

	require.NoError(t, f.svc.CloseSession(id))
	err = f.svc.CloseSession(id)
	require.ErrorIs(t, err, ssh.ErrSessionNotFound)
	assert.Contains(t, Message(err), "not found")
	assert.Empty(t, f.svc.Sessions())
}

func TestConnectByID(t *testing.T) {
	f := newFixture(t)
	id, err := f.svc.Connect(context.Background(), f.host.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestConnectUnknownHost(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Connect(context.Background(), "nowhere")
	require.ErrorIs(t, err, config.ErrHostNotFound)
	assert.True(t, apperr.Is(err, apperr.ConfigError))
}

func TestShellThroughService(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.svc.Connect(ctx, "lab-1")
	require.NoError(t, err)

	require.NoError(t, f.svc.StartShell(ctx, id, 80, 24))
	assert.True(t, f.svc.Sessions()[0].Shell)

	require.NoError(t, f.svc.WriteShell(ctx, id, []byte("ls\r")))
	var acc strings.Builder
	require.Eventually(t, func() bool {
		out, err := f.svc.ReadShell(ctx, id)
		if !assert.NoError(t, err) {
			return false
		}
		acc.WriteString(out)
		return strings.Contains(acc.String(), "ls\r")
	}, 3*time.Second, 5*time.Millisecond)

	require.NoError(t, f.svc.ResizeShell(ctx, id, 100, 30))
	require.NoError(t, f.svc.StopShell(id))
	require.NoError(t, f.svc.StopShell(id))
	require.NoError(t, f.svc.StartShell(ctx, id, 80, 24), "reconnect on the same session")
}

func TestShutdownHostNative(t *testing.T) {
	f := newFixture(t)
	f.srv.Handle("sudo shutdown -h now", sshtest.Reply{Drop: true})

	res := f.svc.ShutdownHost(context.Background(), "lab-1", "")
	require.True(t, res.Success, res.Details)
	assert.Equal(t, []string{"sudo shutdown -h now"}, f.srv.Executed())
	assert.Empty(t, f.svc.Sessions(), "power attempts are never registered")
}

func TestShutdownHostUsesStoredCommand(t *testing.T) {
	f := newFixture(t)
	h := f.host
	h.ShutdownCommand = "systemctl poweroff"
	require.NoError(t, f.store.UpdateHost(h))

	res := f.svc.ShutdownHost(context.Background(), "lab-1", "")
	require.True(t, res.Success, res.Details)
	assert.Equal(t, "systemctl poweroff", f.srv.Executed()[0])
}

func TestWakeHost(t *testing.T) {
	f := newFixture(t)

	res := f.svc.WakeHost("nowhere")
	assert.False(t, res.Success)

	h := f.host
	h.MAC = ""
	h.Name = "no-mac"
	h.ID = ""
	_, err := f.store.AddHost(h)
	require.NoError(t, err)
	res = f.svc.WakeHost("no-mac")
	assert.False(t, res.Success)
	assert.Equal(t, "no MAC address configured", res.Message)

	res = f.svc.Wake("zz:zz", "")
	assert.False(t, res.Success)
}

func TestPingAllAndTrust(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	results := f.svc.PingAll(ctx)
	require.Contains(t, results, f.host.ID)
	assert.True(t, results[f.host.ID].IsOnline)

	r, err := f.svc.PingHost(ctx, "lab-1")
	require.NoError(t, err)
	assert.True(t, r.IsOnline)

	fp, err := f.svc.Trust(ctx, "lab-1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(fp, "SHA256:"))
	known, err := os.ReadFile(f.svc.HostKeys().Path())
	require.NoError(t, err)
	assert.Contains(t, string(known), "ssh-ed25519")
}

func TestOperationsBoundedBySemaphore(t *testing.T) {
	f := newFixture(t)
	f.srv.Handle("sleep", sshtest.Reply{Stdout: "done\n"})
	ctx := context.Background()

	ids := make([]string, 6)
	for i := range ids {
		id, err := f.svc.Connect(ctx, "lab-1")
		require.NoError(t, err)
		ids[i] = id
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(ids))
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.svc.Execute(ctx, id, "sleep")
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestQueuedOperationHonoursContext(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.svc.sem.TryAcquire(4))
	defer f.svc.sem.Release(4)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.svc.Execute(ctx, "ssh_x_0_00000000", "true")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, apperr.Is(err, apperr.ConnectionError))
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "", Message(nil))
	assert.Equal(t, "operation failed: boom", Message(errors.New("boom")))
	assert.Equal(t, "queue: ctx", Message(apperr.New(apperr.ConnectionError, "queue", errors.New("ctx"))))
}
