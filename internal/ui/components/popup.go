package components

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"devpulse/internal/ui"
)

type PopupType int

const (
	PopupNone PopupType = iota
	PopupShutdown
)

type Popup struct {
	Type         PopupType
	Title        string
	Message      string
	Input        textinput.Model
	Width        int
	ScreenWidth  int
	ScreenHeight int
}

func NewPopup(popupType PopupType, title, message string, width, screenWidth, screenHeight int) *Popup {
	input := textinput.New()
	input.Placeholder = "leave empty for the default chain"
	input.CharLimit = 256
	input.Width = width - 8
	input.Focus()

	return &Popup{
		Type:         popupType,
		Title:        title,
		Message:      message,
		Input:        input,
		Width:        width,
		ScreenWidth:  screenWidth,
		ScreenHeight: screenHeight,
	}
}

// HasInput reports whether the popup collects text.
func (p *Popup) HasInput() bool {
	return p.Type == PopupShutdown
}

// Update forwards key presses to the text input.
func (p *Popup) Update(msg tea.Msg) tea.Cmd {
	if !p.HasInput() {
		return nil
	}
	var cmd tea.Cmd
	p.Input, cmd = p.Input.Update(msg)
	return cmd
}

func (p *Popup) Value() string {
	return strings.TrimSpace(p.Input.Value())
}

func (p *Popup) Render() string {
	popupStyle := ui.DialogStyle.Width(p.Width)
	titleStyle := ui.TitleStyle.
		Align(lipgloss.Center).
		Width(p.Width - 4)

	var content strings.Builder
	content.WriteString(titleStyle.Render(p.Title) + "\n\n")
	content.WriteString(p.Message + "\n")
	if p.HasInput() {
		content.WriteString("\n" + p.Input.View())
	}

	content.WriteString("\n" + ui.DescriptionStyle.Render("ENTER - Confirm, ESC - Cancel"))

	return lipgloss.Place(
		p.ScreenWidth,
		p.ScreenHeight,
		lipgloss.Center,
		lipgloss.Center,
		popupStyle.Render(content.String()),
		lipgloss.WithWhitespaceForeground(lipgloss.Color("0")),
	)
}
