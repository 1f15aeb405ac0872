// internal/ui/layout.go

package ui

import (
	"github.com/charmbracelet/lipgloss"
	ltable "github.com/charmbracelet/lipgloss/table"
)

// BaseLayout splits the screen into a header, a content area and a footer.
type BaseLayout struct {
	Width         int
	Height        int
	HeaderHeight  int
	FooterHeight  int
	ContentHeight int
}

func NewBaseLayout(width, height int) BaseLayout {
	const (
		headerHeight = 2
		footerHeight = 7
	)
	content := height - headerHeight - footerHeight
	if content < 3 {
		content = 3
	}
	return BaseLayout{
		Width:         width,
		Height:        height,
		HeaderHeight:  headerHeight,
		FooterHeight:  footerHeight,
		ContentHeight: content,
	}
}

// SplitView returns the styles of two side-by-side panels.
func (l BaseLayout) SplitView() (left, right lipgloss.Style) {
	panelWidth := (l.Width - 6) / 2
	if panelWidth < 30 {
		panelWidth = 30
	}
	base := PanelStyle.Height(l.ContentHeight)
	return base.Width(panelWidth), base.Width(panelWidth)
}

// CreateLipglossTable renders a bordered table with a dimmed header row.
func CreateLipglossTable(headers []string, rows [][]string) string {
	tableStyle := func(row, col int) lipgloss.Style {
		if row == -1 {
			return lipgloss.NewStyle().
				Padding(0, 1).
				Foreground(Subtle).
				Align(lipgloss.Center)
		}
		return lipgloss.NewStyle().
			Padding(0, 1).
			Foreground(Special)
	}

	return ltable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(StatusBar)).
		StyleFunc(tableStyle).
		Headers(headers...).
		Rows(rows...).
		Render()
}
