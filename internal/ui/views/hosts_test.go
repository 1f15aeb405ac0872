package views

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "devpulse/internal/error"
	"devpulse/internal/models"
	"devpulse/internal/ui/messages"
)

type fakeBackend struct {
	mu sync.Mutex

	hosts    []models.Host
	ping     map[string]models.PingResult
	woken    []string
	shutdown map[string]string
	closed   []string
	connErr  error

	started []string
	reads   []string
	written bytes.Buffer
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		hosts: []models.Host{
			{ID: "h1", Name: "nas", Address: "10.0.0.5", User: "admin", AuthMethod: models.AuthKey, MAC: "AA:BB:CC:DD:EE:FF"},
			{ID: "h2", Name: "router", Address: "10.0.0.1", User: "root", AuthMethod: models.AuthPassword, ShutdownCommand: "poweroff"},
		},
		ping: map[string]models.PingResult{
			"h1": {HostID: "h1", IsOnline: true, ResponseTime: 3 * time.Millisecond, Banner: "SSH-2.0-OpenSSH_9.6"},
			"h2": {HostID: "h2", Error: "connection failed: timeout"},
		},
		shutdown: map[string]string{},
	}
}

func (f *fakeBackend) Hosts() []models.Host { return f.hosts }

func (f *fakeBackend) PingAll(context.Context) map[string]models.PingResult { return f.ping }

func (f *fakeBackend) WakeHost(ref string) models.PowerResult {
	f.woken = append(f.woken, ref)
	return models.PowerResult{Success: true, Message: "magic packet sent (4 targets)"}
}

func (f *fakeBackend) ShutdownHost(_ context.Context, ref, custom string) models.PowerResult {
	f.shutdown[ref] = custom
	return models.PowerResult{Message: "could not shut down host", Details: "auth failed"}
}

func (f *fakeBackend) Connect(_ context.Context, ref string) (string, error) {
	if f.connErr != nil {
		return "", f.connErr
	}
	return "ssh_" + ref + "_1", nil
}

func (f *fakeBackend) CloseSession(id string) error {
	f.closed = append(f.closed, id)
	return nil
}

func (f *fakeBackend) StartShell(_ context.Context, id string, cols, rows int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, id)
	return nil
}

func (f *fakeBackend) WriteShell(_ context.Context, _ string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written.Write(data)
	return nil
}

func (f *fakeBackend) ReadShell(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.reads) == 0 {
		return "", apperr.New(apperr.IOError, "shell closed", nil)
	}
	out := f.reads[0]
	f.reads = f.reads[1:]
	return out, nil
}

func (f *fakeBackend) ResizeShell(context.Context, string, int, int) error { return nil }

func (f *fakeBackend) StopShell(string) error { return nil }

func runeKey(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// send feeds msg to v and then the message produced by the returned
// command, if any.
func send(t *testing.T, v *HostsView, msg tea.Msg) tea.Msg {
	t.Helper()
	_, cmd := v.Update(msg)
	if cmd == nil {
		return nil
	}
	out := cmd()
	v.Update(out)
	return out
}

func TestHostsViewInitPings(t *testing.T) {
	b := newFakeBackend()
	v := New(context.Background(), b)

	cmd := v.Init()
	require.NotNil(t, cmd)
	assert.Contains(t, v.View(), "checking...")

	v.Update(cmd())
	assert.Equal(t, "1/2 hosts online", v.status)
	view := v.View()
	assert.Contains(t, view, "nas")
	assert.Contains(t, view, "SSH-2.0-OpenSSH_9.6")
}

func TestHostsViewNavigationWraps(t *testing.T) {
	v := New(context.Background(), newFakeBackend())

	send(t, v, runeKey("j"))
	assert.Equal(t, 1, v.selected)
	send(t, v, runeKey("j"))
	assert.Equal(t, 0, v.selected)
	send(t, v, tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, 1, v.selected)
	assert.Contains(t, v.View(), "router")
}

func TestHostsViewWake(t *testing.T) {
	b := newFakeBackend()
	v := New(context.Background(), b)

	out := send(t, v, runeKey("w"))
	require.IsType(t, messages.PowerResultMsg{}, out)
	assert.Equal(t, []string{"h1"}, b.woken)
	assert.Equal(t, "wake nas: magic packet sent (4 targets)", v.status)
	assert.False(t, v.isError)
}

func TestHostsViewShutdownPopup(t *testing.T) {
	b := newFakeBackend()
	v := New(context.Background(), b)
	send(t, v, runeKey("j"))

	send(t, v, runeKey("s"))
	require.NotNil(t, v.popup)
	assert.Contains(t, v.View(), "Stored command: poweroff")

	send(t, v, runeKey("sudo halt"))
	send(t, v, tea.KeyMsg{Type: tea.KeyEnter})

	assert.Nil(t, v.popup)
	assert.Equal(t, "sudo halt", b.shutdown["h2"])
	assert.True(t, v.isError)
	assert.Contains(t, v.status, "could not shut down host (auth failed)")
}

func TestHostsViewShutdownCancelled(t *testing.T) {
	b := newFakeBackend()
	v := New(context.Background(), b)

	send(t, v, runeKey("s"))
	require.NotNil(t, v.popup)
	send(t, v, runeKey("q"))
	require.NotNil(t, v.popup, "keys go to the popup input while it is open")
	send(t, v, tea.KeyMsg{Type: tea.KeyEsc})

	assert.Nil(t, v.popup)
	assert.Empty(t, b.shutdown)
}

func TestHostsViewConnectFailure(t *testing.T) {
	b := newFakeBackend()
	b.connErr = errors.New("auth rejected")
	v := New(context.Background(), b)

	out := send(t, v, tea.KeyMsg{Type: tea.KeyEnter})
	require.IsType(t, messages.ConnectFailedMsg{}, out)
	assert.True(t, v.isError)
	assert.Equal(t, "connect nas: auth rejected", v.status)
}

func TestHostsViewConnectStartsShell(t *testing.T) {
	v := New(context.Background(), newFakeBackend())

	_, cmd := v.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	connected, ok := cmd().(messages.ConnectedMsg)
	require.True(t, ok)
	assert.Equal(t, "ssh_h1_1", connected.SessionID)

	_, cmd = v.Update(connected)
	assert.NotNil(t, cmd, "the shell runs through tea.Exec")
}

func TestHostsViewShellExitClosesSession(t *testing.T) {
	b := newFakeBackend()
	v := New(context.Background(), b)

	v.Update(messages.ShellExitedMsg{SessionID: "ssh_h1_1"})
	assert.Equal(t, []string{"ssh_h1_1"}, b.closed)
	assert.Equal(t, "session closed", v.status)
}

func TestShellCommandRun(t *testing.T) {
	b := newFakeBackend()
	b.reads = []string{"welcome\r\n", "$ "}

	var out bytes.Buffer
	c := &shellCommand{ctx: context.Background(), api: b, id: "ssh_h1_1"}
	c.SetStdin(strings.NewReader("ls\r"))
	c.SetStdout(&out)

	require.NoError(t, c.Run())
	assert.Equal(t, "welcome\r\n$ ", out.String())
	assert.Equal(t, []string{"ssh_h1_1"}, b.started)
}

func TestHostsViewQuit(t *testing.T) {
	v := New(context.Background(), newFakeBackend())
	_, cmd := v.Update(runeKey("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
}

func TestHostsViewEmpty(t *testing.T) {
	b := newFakeBackend()
	b.hosts = nil
	v := New(context.Background(), b)

	_, cmd := v.Update(runeKey("w"))
	assert.Nil(t, cmd)
	assert.Contains(t, v.View(), "No hosts configured")
}
