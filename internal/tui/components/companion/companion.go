// Package companion renders the spirit card.
package companion

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/julianstephens/hagotchi/internal/tracker"
	"github.com/julianstephens/hagotchi/internal/vitality"
)

var (
	nameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	fullHeartStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	partHeartStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)

	bandStyles = map[vitality.Band]lipgloss.Style{
		vitality.Thriving: lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		vitality.Content:  lipgloss.NewStyle().Foreground(lipgloss.Color("205")),
		vitality.Tired:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true),
		vitality.Dormant:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// Hearts draws live hearts as full, partial and empty glyphs.
func Hearts(live float64) string {
	var b strings.Builder
	for i := 0; i < 3; i++ {
		rest := live - float64(i)
		switch {
		case rest >= 1:
			b.WriteString(fullHeartStyle.Render("♥"))
		case rest > 0:
			b.WriteString(partHeartStyle.Render("♥"))
		default:
			b.WriteString(mutedStyle.Render("♡"))
		}
	}
	return b.String()
}

// Vitality renders the value in its band color.
func Vitality(v float64, b vitality.Band) string {
	return bandStyles[b].Render(fmt.Sprintf("%.0f (%s)", v, b))
}

// Card is the boxed companion summary.
func Card(view tracker.SpiritView) string {
	sp := view.Spirit
	lines := []string{
		nameStyle.Render(sp.ActiveCompanionID),
		fmt.Sprintf("Hearts    %s %.2f", Hearts(view.LiveHearts), view.LiveHearts),
		fmt.Sprintf("Vitality  %s", Vitality(view.Vitality, view.Band)),
		fmt.Sprintf("Today     %d%%", sp.TodayPercent),
		fmt.Sprintf("Coins     %d", sp.Coins),
		fmt.Sprintf("Streak    %d (best %d)", sp.CurrentStreak, sp.LongestStreak),
		fmt.Sprintf("Completed %d", sp.TotalHabitsCompleted),
		fmt.Sprintf("Unlocked  %s", strings.Join(sp.UnlockedCompanionIDs, ", ")),
	}
	if !view.Exists {
		lines = append(lines, mutedStyle.Render("Complete a habit to wake your companion."))
	}
	return cardStyle.Render(strings.Join(lines, "\n"))
}
