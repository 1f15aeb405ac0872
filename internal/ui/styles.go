// internal/ui/styles.go

package ui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	Subtle    lipgloss.Color
	Highlight lipgloss.Color
	Special   lipgloss.Color
	Error     lipgloss.Color
	StatusBar lipgloss.Color
	Border    lipgloss.Color

	TitleStyle        lipgloss.Style
	SelectedItemStyle lipgloss.Style
	DescriptionStyle  lipgloss.Style
	HostStyle         lipgloss.Style
	LabelStyle        lipgloss.Style
	Infotext          lipgloss.Style
	SuccessStyle      lipgloss.Style
	ErrorStyle        lipgloss.Style
	OnlineStyle       lipgloss.Style
	OfflineStyle      lipgloss.Style
	UnknownStyle      lipgloss.Style
	PanelStyle        lipgloss.Style
	DialogStyle       lipgloss.Style
)

func init() {
	updateStyles(themes[currentThemeIndex])
}
