package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"lanchess/internal/rules"
)

var (
	lightSquare = lipgloss.NewStyle().Background(lipgloss.Color("#D6C7A1")).Foreground(lipgloss.Color("#111827"))
	darkSquare  = lipgloss.NewStyle().Background(lipgloss.Color("#8B6F4E")).Foreground(lipgloss.Color("#111827"))
	coordStyle  = lipgloss.NewStyle().Foreground(mutedColor)
)

// renderBoard draws pos with the given color's pieces at the bottom.
func renderBoard(pos rules.Position, bottom rules.Color) string {
	files := []int{0, 1, 2, 3, 4, 5, 6, 7}
	ranks := []int{7, 6, 5, 4, 3, 2, 1, 0}
	if bottom == rules.Black {
		files = []int{7, 6, 5, 4, 3, 2, 1, 0}
		ranks = []int{0, 1, 2, 3, 4, 5, 6, 7}
	}

	var b strings.Builder
	for _, r := range ranks {
		b.WriteString(coordStyle.Render(string(rune('1' + r))))
		b.WriteString(" ")
		for _, f := range files {
			sq := " "
			if pc, ok := pos.PieceAt(f, r); ok {
				sq = pc
			}
			style := darkSquare
			if (f+r)%2 == 1 {
				style = lightSquare
			}
			b.WriteString(style.Render(" " + sq + " "))
		}
		b.WriteString("\n")
	}
	b.WriteString("  ")
	for _, f := range files {
		b.WriteString(coordStyle.Render(" " + string(rune('a'+f)) + " "))
	}
	return b.String()
}
