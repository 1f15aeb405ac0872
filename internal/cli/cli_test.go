package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "devpulse/internal/error"
	"devpulse/internal/power"
	"devpulse/internal/service"
	"devpulse/internal/sshtest"
)

type noHelpers struct{}

func (noHelpers) LookPath(string) (string, error) { return "", os.ErrNotExist }
func (noHelpers) Run(context.Context, string, []string, []string) (power.Process, error) {
	return power.Process{}, power.ErrHelperUnavailable
}

func writeSettings(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "data_dir: " + dir + `
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
	t.Setenv(PassphraseEnv, "correct horse")
	return path
}

func run(t *testing.T, cfg string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := Run(context.Background(), append([]string{"--config", cfg}, args...),
		strings.NewReader(""), &out, io.Discard, service.WithRunner(noHelpers{}))
	return out.String(), err
}

// addLab registers the test server as host "lab".
func addLab(t *testing.T, cfg string, srv *sshtest.Server) {
	t.Helper()
	srv.AddPassword("deploy", "hunter2")
	_, err := run(t, cfg, "hosts", "add",
		"--name", "lab", "--address", srv.Host, "--port", strconv.Itoa(srv.Port),
		"--user", "deploy", "--password", "hunter2", "--mac", "aa-bb-cc-dd-ee-ff")
	require.NoError(t, err)
}

func TestHostsLifecycle(t *testing.T) {
	cfg := writeSettings(t)
	srv := sshtest.NewServer(t)
	addLab(t, cfg, srv)

	out, err := run(t, cfg, "hosts", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "lab")
	assert.Contains(t, out, "AABBCCDDEEFF")
	assert.Contains(t, out, "password")

	out, err = run(t, cfg, "hosts", "show", "LAB")
	require.NoError(t, err)
	assert.Contains(t, out, srv.Addr)
	assert.NotContains(t, out, "hunter2")

	_, err = run(t, cfg, "hosts", "add", "--name", "lab", "--address", "10.0.0.9", "--user", "x", "--password", "y")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ValidationError))

	out, err = run(t, cfg, "hosts", "remove", "lab")
	require.NoError(t, err)
	assert.Equal(t, "Removed lab\n", out)

	out, err = run(t, cfg, "hosts", "list")
	require.NoError(t, err)
	assert.Equal(t, "No hosts configured.\n", out)
}

func TestHostsEdit(t *testing.T) {
	cfg := writeSettings(t)
	srv := sshtest.NewServer(t)
	addLab(t, cfg, srv)

	out, err := run(t, cfg, "hosts", "edit", "lab",
		"--name", "lab2", "--mac", "11:22:33:44:55:66", "--shutdown-command", "poweroff")
	require.NoError(t, err)
	assert.Equal(t, "Updated lab2\n", out)

	out, err = run(t, cfg, "hosts", "show", "lab2")
	require.NoError(t, err)
	assert.Contains(t, out, "112233445566")
	assert.Contains(t, out, "poweroff")
	assert.Contains(t, out, srv.Addr, "untouched fields are kept")

	// the stored password still decrypts and logs in
	srv.Handle("hostname", sshtest.Reply{Stdout: "lab\n"})
	out, err = run(t, cfg, "exec", "lab2", "--", "hostname")
	require.NoError(t, err)
	assert.Equal(t, "lab\n", out)

	srv.AddPassword("deploy", "s3cret")
	_, err = run(t, cfg, "hosts", "edit", "lab2", "--password", "s3cret", "--mac", "")
	require.NoError(t, err)
	out, err = run(t, cfg, "hosts", "show", "lab2")
	require.NoError(t, err)
	assert.NotContains(t, out, "112233445566")
	assert.NotContains(t, out, "s3cret")

	_, err = run(t, cfg, "hosts", "edit", "lab2", "--address", "")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ValidationError))

	_, err = run(t, cfg, "hosts", "edit", "lab2", "--mac", "zz")
	require.Error(t, err)

	_, err = run(t, cfg, "hosts", "edit", "nowhere", "--port", "2222")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ConfigError))
}

func TestHostsRestore(t *testing.T) {
	cfg := writeSettings(t)

	_, err := run(t, cfg, "hosts", "restore")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.FileError))

	addLab(t, cfg, sshtest.NewServer(t))
	_, err = run(t, cfg, "hosts", "remove", "lab")
	require.NoError(t, err)

	out, err := run(t, cfg, "hosts", "restore")
	require.NoError(t, err)
	assert.Contains(t, out, "Restored 1 hosts")

	out, err = run(t, cfg, "hosts", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "lab")

	t.Setenv(PassphraseEnv, "battery staple")
	_, err = run(t, cfg, "hosts", "restore")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CryptoError))
}

func TestHostsExportImport(t *testing.T) {
	cfg := writeSettings(t)
	addLab(t, cfg, sshtest.NewServer(t))
	export := filepath.Join(t.TempDir(), "hosts.json")

	out, err := run(t, cfg, "hosts", "export", export)
	require.NoError(t, err)
	assert.Contains(t, out, "Exported 1 hosts")
	data, err := os.ReadFile(export)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hunter2")

	other := writeSettings(t)
	out, err = run(t, other, "hosts", "import", export)
	require.NoError(t, err)
	assert.Equal(t, "Imported 1 hosts\n", out)

	out, err = run(t, other, "hosts", "import", export)
	require.NoError(t, err)
	assert.Equal(t, "Imported 0 hosts\n", out)
}

func TestWrongPassphrase(t *testing.T) {
	cfg := writeSettings(t)
	addLab(t, cfg, sshtest.NewServer(t))

	t.Setenv(PassphraseEnv, "battery staple")
	_, err := run(t, cfg, "hosts", "list")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CryptoError))
}

func TestMissingPassphraseWithoutTerminal(t *testing.T) {
	cfg := writeSettings(t)
	t.Setenv(PassphraseEnv, "")

	_, err := run(t, cfg, "hosts", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), PassphraseEnv)
}

func TestExec(t *testing.T) {
	cfg := writeSettings(t)
	srv := sshtest.NewServer(t)
	srv.Handle("uptime -p", sshtest.Reply{Stdout: "up 3 days\n"})
	addLab(t, cfg, srv)

	out, err := run(t, cfg, "exec", "lab", "--", "uptime", "-p")
	require.NoError(t, err)
	assert.Equal(t, "up 3 days\n", out)

	out, err = run(t, cfg, "exec", "lab", "--", "exit 2")
	require.NoError(t, err)
	assert.Contains(t, out, "--- EXIT CODE: 2 ---")

	_, err = run(t, cfg, "exec", "nowhere", "--", "true")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ConfigError))
}

func TestPing(t *testing.T) {
	cfg := writeSettings(t)
	srv := sshtest.NewServer(t)
	addLab(t, cfg, srv)

	out, err := run(t, cfg, "ping")
	require.NoError(t, err)
	assert.Contains(t, out, "lab")
	assert.Contains(t, out, "online")
	assert.Contains(t, out, "SSH-2.0-")

	out, err = run(t, cfg, "ping", "lab")
	require.NoError(t, err)
	assert.Contains(t, out, "online")
}

func TestShutdown(t *testing.T) {
	cfg := writeSettings(t)
	srv := sshtest.NewServer(t)
	srv.Handle("systemctl poweroff", sshtest.Reply{Drop: true})
	addLab(t, cfg, srv)

	out, err := run(t, cfg, "shutdown", "lab", "--command", "systemctl poweroff")
	require.NoError(t, err)
	assert.Contains(t, out, "shutdown command accepted")
	assert.Contains(t, out, "command: systemctl poweroff (via sshpass>expect>native)")
	assert.Equal(t, []string{"systemctl poweroff"}, srv.Executed())
}

func TestShutdownFailureExitsNonZero(t *testing.T) {
	cfg := writeSettings(t)
	srv := sshtest.NewServer(t)
	addLab(t, cfg, srv)
	// every default command is unknown to the test server and exits 127

	out, err := run(t, cfg, "shutdown", "lab")
	require.Error(t, err)
	assert.Contains(t, out, "could not shut down host")
	assert.True(t, apperr.Is(err, apperr.ExecutionError))
}

func TestWakeValidation(t *testing.T) {
	cfg := writeSettings(t)

	out, err := run(t, cfg, "wake", "--mac", "not-a-mac")
	require.Error(t, err)
	assert.Contains(t, out, "invalid MAC address")

	_, err = run(t, cfg, "wake")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ValidationError))
}

func TestPushPull(t *testing.T) {
	cfg := writeSettings(t)
	srv := sshtest.NewServer(t)
	addLab(t, cfg, srv)

	local := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(local, []byte("remember the milk"), 0644))
	remoteDir := filepath.ToSlash(t.TempDir()) + "/inbox/"

	out, err := run(t, cfg, "push", "lab", local, remoteDir)
	require.NoError(t, err)
	assert.Contains(t, out, "Uploaded")

	back := t.TempDir()
	_, err = run(t, cfg, "pull", "lab", remoteDir+"notes.txt", back)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(back, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "remember the milk", string(data))
}

func TestList(t *testing.T) {
	cfg := writeSettings(t)
	srv := sshtest.NewServer(t)
	addLab(t, cfg, srv)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.log"), []byte("12345"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "a"), 0755))

	out, err := run(t, cfg, "ls", "lab", filepath.ToSlash(dir))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[0], "a/"))
	assert.True(t, strings.HasSuffix(lines[1], "b.log"))
	assert.Contains(t, lines[1], "5 B")

	_, err = run(t, cfg, "ls", "lab", filepath.ToSlash(filepath.Join(dir, "missing")))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.FileError))
}

func TestTrust(t *testing.T) {
	cfg := writeSettings(t)
	srv := sshtest.NewServer(t)
	addLab(t, cfg, srv)

	out, err := run(t, cfg, "trust", "lab")
	require.NoError(t, err)
	assert.Contains(t, out, "SHA256:")
}

func TestDoctor(t *testing.T) {
	cfg := writeSettings(t)

	out, err := run(t, cfg, "doctor")
	require.NoError(t, err)
	for _, name := range []string{"sshpass", "expect", "ssh", "known_hosts", "accept-new"} {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, "missing")
}

func TestHumanBytes(t *testing.T) {
	assert.Equal(t, "512 B", humanBytes(512))
	assert.Equal(t, "1.5 KiB", humanBytes(1536))
	assert.Equal(t, "2.0 MiB", humanBytes(2*1024*1024))
}
