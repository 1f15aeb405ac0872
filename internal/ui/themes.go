package ui

import "github.com/charmbracelet/lipgloss"

type Theme struct {
	Name      string
	Subtle    lipgloss.Color
	Highlight lipgloss.Color
	Special   lipgloss.Color
	Error     lipgloss.Color
	StatusBar lipgloss.Color
	Border    lipgloss.Color

	HostColor  lipgloss.Color
	LabelColor lipgloss.Color
	InfoColor  lipgloss.Color
	Online     lipgloss.Color
	Offline    lipgloss.Color
}

var (
	currentThemeIndex = 0

	themes = []Theme{
		{
			Name:      "default",
			Subtle:    lipgloss.Color("#6C7086"),
			Highlight: lipgloss.Color("#7DC4E4"),
			Special:   lipgloss.Color("#FF9E64"),
			Error:     lipgloss.Color("#F38BA8"),
			StatusBar: lipgloss.Color("#E7E7E7"),
			Border:    lipgloss.Color("#33B2FF"),

			HostColor:  lipgloss.Color("#2DAFFF"),
			LabelColor: lipgloss.Color("#A6ADC8"),
			InfoColor:  lipgloss.Color("#FF3A99"),
			Online:     lipgloss.Color("#A6E3A1"),
			Offline:    lipgloss.Color("#F38BA8"),
		},
		{
			Name:      "dracula",
			Subtle:    lipgloss.Color("#6272A4"),
			Highlight: lipgloss.Color("#8BE9FD"),
			Special:   lipgloss.Color("#FF79C6"),
			Error:     lipgloss.Color("#FF5555"),
			StatusBar: lipgloss.Color("#F8F8F2"),
			Border:    lipgloss.Color("#BD93F9"),

			HostColor:  lipgloss.Color("#50FA7B"),
			LabelColor: lipgloss.Color("#F8F8F2"),
			InfoColor:  lipgloss.Color("#F1FA8C"),
			Online:     lipgloss.Color("#50FA7B"),
			Offline:    lipgloss.Color("#FF5555"),
		},
		{
			Name:      "solarized",
			Subtle:    lipgloss.Color("#586E75"),
			Highlight: lipgloss.Color("#268BD2"),
			Special:   lipgloss.Color("#CB4B16"),
			Error:     lipgloss.Color("#DC322F"),
			StatusBar: lipgloss.Color("#EEE8D5"),
			Border:    lipgloss.Color("#2AA198"),

			HostColor:  lipgloss.Color("#859900"),
			LabelColor: lipgloss.Color("#93A1A1"),
			InfoColor:  lipgloss.Color("#B58900"),
			Online:     lipgloss.Color("#859900"),
			Offline:    lipgloss.Color("#DC322F"),
		},
	}
)

// SwitchTheme moves to the next theme, rebuilds every style and returns the
// theme name.
func SwitchTheme() string {
	currentThemeIndex = (currentThemeIndex + 1) % len(themes)
	updateStyles(themes[currentThemeIndex])
	return themes[currentThemeIndex].Name
}

func updateStyles(theme Theme) {
	Subtle = theme.Subtle
	Highlight = theme.Highlight
	Special = theme.Special
	Error = theme.Error
	StatusBar = theme.StatusBar
	Border = theme.Border

	TitleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(Highlight).
		MarginLeft(2)

	SelectedItemStyle = lipgloss.NewStyle().
		Foreground(Highlight).
		Bold(true)

	DescriptionStyle = lipgloss.NewStyle().
		Foreground(Subtle).
		MarginLeft(2)

	HostStyle = lipgloss.NewStyle().
		Foreground(theme.HostColor)

	LabelStyle = lipgloss.NewStyle().
		Foreground(theme.LabelColor)

	Infotext = lipgloss.NewStyle().
		Foreground(theme.InfoColor)

	SuccessStyle = lipgloss.NewStyle().
		Foreground(Special).
		Bold(true)

	ErrorStyle = lipgloss.NewStyle().
		Foreground(Error).
		Bold(true)

	OnlineStyle = lipgloss.NewStyle().
		Foreground(theme.Online)

	OfflineStyle = lipgloss.NewStyle().
		Foreground(theme.Offline)

	UnknownStyle = lipgloss.NewStyle().
		Foreground(Subtle)

	PanelStyle = lipgloss.NewStyle().
		Border(lipgloss.NormalBorder()).
		BorderForeground(Border).
		Padding(0, 1)

	DialogStyle = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Border).
		Padding(1, 2)
}
