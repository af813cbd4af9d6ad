// Package heatmap draws activity grids and period stats.
package heatmap

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/julianstephens/hagotchi/internal/activity"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	// empty to full
	levelStyles = []lipgloss.Style{
		lipgloss.NewStyle().Foreground(lipgloss.Color("237")),
		lipgloss.NewStyle().Foreground(lipgloss.Color("22")),
		lipgloss.NewStyle().Foreground(lipgloss.Color("28")),
		lipgloss.NewStyle().Foreground(lipgloss.Color("34")),
		lipgloss.NewStyle().Foreground(lipgloss.Color("40")),
	}

	weekdayLabels = [7]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}
)

// Level buckets a completion fraction into 0 (none) through 4 (full).
func Level(p float64) int {
	switch {
	case p <= 0:
		return 0
	case p < 0.25:
		return 1
	case p < 0.5:
		return 2
	case p < 1:
		return 3
	default:
		return 4
	}
}

// Glyph is the rune drawn for a cell. Future days are blank and today is
// marked.
func Glyph(c activity.Cell, today string) string {
	switch {
	case c.Future || c.Percentage == nil:
		return " "
	case c.Date == today:
		return "◆"
	default:
		return "■"
	}
}

// Render draws the grid as seven weekday rows of week columns.
func Render(g activity.Grid) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s  %s → %s", g.Period, g.Start, g.End)))
	b.WriteString("\n")
	for d := 0; d < 7; d++ {
		b.WriteString(labelStyle.Render(weekdayLabels[d]))
		b.WriteString(" ")
		for _, cell := range g.Rows[d] {
			glyph := Glyph(cell, g.Today)
			if glyph == " " {
				b.WriteString(glyph)
				continue
			}
			style := levelStyles[Level(*cell.Percentage)]
			if cell.Date == g.Today {
				style = style.Bold(true)
			}
			b.WriteString(style.Render(glyph))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// RenderStats draws the period summary.
func RenderStats(st activity.Stats) string {
	lines := []string{
		fmt.Sprintf("Active days:        %d", st.ActiveDays),
		fmt.Sprintf("Current streak:     %d", st.CurrentStreak),
		fmt.Sprintf("Longest streak:     %d", st.LongestStreak),
		fmt.Sprintf("Average completion: %d%%", st.AverageCompletion),
		fmt.Sprintf("Completions:        %d", st.TotalCompletions),
	}
	return strings.Join(lines, "\n")
}
