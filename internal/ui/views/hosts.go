// internal/ui/views/hosts.go

package views

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"devpulse/internal/console"
	"devpulse/internal/models"
	"devpulse/internal/ui"
	"devpulse/internal/ui/components"
	"devpulse/internal/ui/messages"
)

// Backend is what the host view needs from the service.
type Backend interface {
	console.ShellAPI
	Hosts() []models.Host
	PingAll(ctx context.Context) map[string]models.PingResult
	WakeHost(ref string) models.PowerResult
	ShutdownHost(ctx context.Context, ref, custom string) models.PowerResult
	Connect(ctx context.Context, ref string) (string, error)
	CloseSession(id string) error
}

type KeyMap struct {
	Up       key.Binding
	Down     key.Binding
	Connect  key.Binding
	Ping     key.Binding
	Wake     key.Binding
	Shutdown key.Binding
	Theme    key.Binding
	Quit     key.Binding
}

var DefaultKeyMap = KeyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
	Connect: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "shell"),
	),
	Ping: key.NewBinding(
		key.WithKeys("p"),
		key.WithHelp("p", "ping all"),
	),
	Wake: key.NewBinding(
		key.WithKeys("w"),
		key.WithHelp("w", "wake"),
	),
	Shutdown: key.NewBinding(
		key.WithKeys("s"),
		key.WithHelp("s", "shutdown"),
	),
	Theme: key.NewBinding(
		key.WithKeys("t", " "),
		key.WithHelp("t", "theme"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// HostsView lists stored hosts with their reachability and drives power
// actions and interactive shells for the selected one.
type HostsView struct {
	ctx     context.Context
	backend Backend
	keys    KeyMap

	hosts    []models.Host
	selected int
	ping     map[string]models.PingResult
	pinging  bool

	status  string
	isError bool
	popup   *components.Popup

	width  int
	height int
}

func New(ctx context.Context, b Backend) *HostsView {
	return &HostsView{
		ctx:     ctx,
		backend: b,
		keys:    DefaultKeyMap,
		hosts:   b.Hosts(),
		ping:    map[string]models.PingResult{},
		width:   100,
		height:  30,
	}
}

func (v *HostsView) Init() tea.Cmd {
	v.pinging = true
	return v.pingCmd()
}

func (v *HostsView) current() (models.Host, bool) {
	if len(v.hosts) == 0 {
		return models.Host{}, false
	}
	return v.hosts[v.selected], true
}

func (v *HostsView) setStatus(msg string, isError bool) {
	v.status = msg
	v.isError = isError
}

func (v *HostsView) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		v.width, v.height = msg.Width, msg.Height
		return v, nil

	case messages.PingResultsMsg:
		v.pinging = false
		v.ping = msg
		online := 0
		for _, r := range msg {
			if r.IsOnline {
				online++
			}
		}
		v.setStatus(fmt.Sprintf("%d/%d hosts online", online, len(v.hosts)), false)
		return v, nil

	case messages.PowerResultMsg:
		text := fmt.Sprintf("%s %s: %s", msg.Action, msg.HostName, msg.Result.Message)
		if msg.Result.Details != "" {
			text += " (" + msg.Result.Details + ")"
		}
		v.setStatus(text, !msg.Result.Success)
		return v, nil

	case messages.ConnectedMsg:
		v.setStatus("", false)
		cmd := &shellCommand{ctx: v.ctx, api: v.backend, id: msg.SessionID}
		id := msg.SessionID
		return v, tea.Exec(cmd, func(err error) tea.Msg {
			return messages.ShellExitedMsg{SessionID: id, Err: err}
		})

	case messages.ConnectFailedMsg:
		v.setStatus(fmt.Sprintf("connect %s: %v", msg.HostName, msg.Err), true)
		return v, nil

	case messages.ShellExitedMsg:
		if err := v.backend.CloseSession(msg.SessionID); err != nil {
			v.setStatus(fmt.Sprintf("close session: %v", err), true)
			return v, nil
		}
		if msg.Err != nil {
			v.setStatus(fmt.Sprintf("shell ended: %v", msg.Err), true)
			return v, nil
		}
		v.setStatus("session closed", false)
		return v, nil

	case tea.KeyMsg:
		if v.popup != nil {
			return v, v.handlePopupKey(msg)
		}
		return v, v.handleKey(msg)
	}
	return v, nil
}

func (v *HostsView) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, v.keys.Quit):
		return tea.Quit

	case key.Matches(msg, v.keys.Up):
		if len(v.hosts) > 0 {
			v.selected = (v.selected - 1 + len(v.hosts)) % len(v.hosts)
		}

	case key.Matches(msg, v.keys.Down):
		if len(v.hosts) > 0 {
			v.selected = (v.selected + 1) % len(v.hosts)
		}

	case key.Matches(msg, v.keys.Theme):
		v.setStatus("theme: "+ui.SwitchTheme(), false)

	case key.Matches(msg, v.keys.Ping):
		if v.pinging {
			return nil
		}
		v.pinging = true
		v.setStatus("pinging hosts...", false)
		return v.pingCmd()

	case key.Matches(msg, v.keys.Wake):
		h, ok := v.current()
		if !ok {
			return nil
		}
		v.setStatus("waking "+h.Name+"...", false)
		return v.wakeCmd(h)

	case key.Matches(msg, v.keys.Shutdown):
		h, ok := v.current()
		if !ok {
			return nil
		}
		message := fmt.Sprintf("Shut down %s (%s)?", h.Name, h.Address)
		if h.ShutdownCommand != "" {
			message += "\nStored command: " + h.ShutdownCommand
		}
		v.popup = components.NewPopup(components.PopupShutdown, "Shutdown", message, 60, v.width, v.height)

	case key.Matches(msg, v.keys.Connect):
		h, ok := v.current()
		if !ok {
			return nil
		}
		v.setStatus("connecting to "+h.Name+"...", false)
		return v.connectCmd(h)
	}
	return nil
}

func (v *HostsView) handlePopupKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.Type {
	case tea.KeyEsc:
		v.popup = nil
		return nil
	case tea.KeyEnter:
		custom := v.popup.Value()
		v.popup = nil
		h, ok := v.current()
		if !ok {
			return nil
		}
		v.setStatus("shutting down "+h.Name+"...", false)
		return v.shutdownCmd(h, custom)
	}
	return v.popup.Update(msg)
}

func (v *HostsView) pingCmd() tea.Cmd {
	ctx, b := v.ctx, v.backend
	return func() tea.Msg {
		return messages.PingResultsMsg(b.PingAll(ctx))
	}
}

func (v *HostsView) wakeCmd(h models.Host) tea.Cmd {
	b := v.backend
	return func() tea.Msg {
		return messages.PowerResultMsg{HostName: h.Name, Action: "wake", Result: b.WakeHost(h.ID)}
	}
}

func (v *HostsView) shutdownCmd(h models.Host, custom string) tea.Cmd {
	ctx, b := v.ctx, v.backend
	return func() tea.Msg {
		return messages.PowerResultMsg{HostName: h.Name, Action: "shutdown", Result: b.ShutdownHost(ctx, h.ID, custom)}
	}
}

func (v *HostsView) connectCmd(h models.Host) tea.Cmd {
	ctx, b := v.ctx, v.backend
	return func() tea.Msg {
		id, err := b.Connect(ctx, h.ID)
		if err != nil {
			return messages.ConnectFailedMsg{HostName: h.Name, Err: err}
		}
		return messages.ConnectedMsg{HostName: h.Name, SessionID: id}
	}
}

func (v *HostsView) View() string {
	if v.popup != nil {
		return v.popup.Render()
	}

	layout := ui.NewBaseLayout(v.width, v.height)
	leftPanel, rightPanel := layout.SplitView()

	var b strings.Builder
	b.WriteString(ui.TitleStyle.Render("devpulse") + "\n\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		leftPanel.Render(v.renderHostList()),
		rightPanel.Render(v.renderDetails()),
	))
	b.WriteString("\n")

	if v.status != "" {
		style := ui.SuccessStyle
		if v.isError {
			style = ui.ErrorStyle
		}
		b.WriteString(style.Render(v.status))
	}
	b.WriteString("\n")
	b.WriteString(ui.CreateLipglossTable(
		[]string{"Shell", "Ping", "Wake", "Shutdown", "Theme", "Quit"},
		[][]string{{"enter", "p", "w", "s", "t", "q"}},
	))
	return b.String()
}

func (v *HostsView) statusMark(h models.Host) string {
	r, ok := v.ping[h.ID]
	switch {
	case !ok:
		return ui.UnknownStyle.Render("○")
	case r.IsOnline:
		return ui.OnlineStyle.Render("●")
	default:
		return ui.OfflineStyle.Render("●")
	}
}

func (v *HostsView) renderHostList() string {
	if len(v.hosts) == 0 {
		return ui.DescriptionStyle.Render("No hosts configured.\nAdd one with: devpulse hosts add")
	}
	var b strings.Builder
	b.WriteString(ui.LabelStyle.Render("Hosts") + "\n\n")
	for i, h := range v.hosts {
		line := fmt.Sprintf("%s %s", v.statusMark(h), h.Name)
		if i == v.selected {
			b.WriteString(ui.SelectedItemStyle.Render("> "+line) + "\n")
			continue
		}
		b.WriteString("  " + line + "\n")
	}
	return b.String()
}

func (v *HostsView) renderDetails() string {
	h, ok := v.current()
	if !ok {
		return ""
	}
	row := func(label, value string) string {
		if value == "" {
			value = "-"
		}
		return ui.LabelStyle.Render(fmt.Sprintf("%-10s", label)) + " " + ui.HostStyle.Render(value) + "\n"
	}

	var b strings.Builder
	b.WriteString(row("Name", h.Name))
	b.WriteString(row("Address", fmt.Sprintf("%s:%d", h.Address, h.SSHPort())))
	b.WriteString(row("User", h.User))
	b.WriteString(row("Auth", string(h.AuthMethod)))
	b.WriteString(row("MAC", h.MAC))
	if h.Description != "" {
		b.WriteString(row("Notes", h.Description))
	}

	b.WriteString("\n")
	r, pinged := v.ping[h.ID]
	switch {
	case v.pinging && !pinged:
		b.WriteString(ui.Infotext.Render("checking..."))
	case !pinged:
		b.WriteString(ui.UnknownStyle.Render("status unknown"))
	case r.IsOnline:
		text := fmt.Sprintf("online (%s)", r.ResponseTime.Round(time.Millisecond))
		if r.Banner != "" {
			text += "\n" + r.Banner
		}
		b.WriteString(ui.OnlineStyle.Render(text))
	default:
		b.WriteString(ui.OfflineStyle.Render("offline: " + r.Error))
	}
	return b.String()
}

// shellCommand runs an interactive console while bubbletea has released the
// terminal.
type shellCommand struct {
	ctx context.Context
	api console.ShellAPI
	id  string

	in  io.Reader
	out io.Writer
}

func (c *shellCommand) SetStdin(r io.Reader)  { c.in = r }
func (c *shellCommand) SetStdout(w io.Writer) { c.out = w }
func (c *shellCommand) SetStderr(io.Writer)   {}

func (c *shellCommand) Run() error {
	in, out := c.in, c.out
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	return console.Run(c.ctx, c.api, c.id, in, out)
}
