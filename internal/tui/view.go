package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/julianstephens/hagotchi/internal/tui/components/companion"
	"github.com/julianstephens/hagotchi/internal/tui/components/heatmap"
)

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var content string

	switch m.state {
	case StateToday:
		content = docStyle.Render(m.habits.View())
	case StateActivity:
		content = docStyle.Render(m.viewActivity())
	case StateSpirit:
		content = docStyle.Render(companion.Card(m.spirit))
	case StateAddHabit:
		content = docStyle.Render(m.form.View())
	case StateConfirmDelete:
		content = m.viewConfirmDelete()
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		m.viewTabs(),
		m.viewStatus(),
		content,
		m.help.View(m),
	)
}

func (m Model) viewTabs() string {
	active := m.state
	if active >= tabCount {
		active = StateToday
	}
	var tabs []string
	for i, title := range tabTitles {
		if active == SessionState(i) {
			tabs = append(tabs, activeTabStyle.Render(title))
		} else {
			tabs = append(tabs, inactiveTabStyle.Render(title))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (m Model) viewStatus() string {
	conn := onlineStyle.Render("● online")
	if !m.online {
		conn = offlineStyle.Render(fmt.Sprintf("○ offline · %d pending", m.pending))
	}
	line := statusStyle.Render(conn)
	if m.status != "" {
		style := statusStyle
		if m.statusErr {
			style = errorStyle
		}
		line = lipgloss.JoinHorizontal(lipgloss.Top, line, style.Render(m.status))
	}
	return line
}

func (m Model) viewActivity() string {
	if m.gridErr != nil {
		return errorStyle.Render("Activity unavailable: " + m.gridErr.Error())
	}
	if len(m.grid.Rows[0]) == 0 {
		return "Loading..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		heatmap.Render(m.grid),
		heatmap.RenderStats(m.stats),
	)
}

func (m Model) viewConfirmDelete() string {
	return lipgloss.Place(m.width, max(m.height-headerHeight, 1),
		lipgloss.Center, lipgloss.Center,
		lipgloss.JoinVertical(lipgloss.Center,
			dangerStyle.Render(fmt.Sprintf("Delete %q and its history?", m.deleteName)),
			"",
			"[y] Yes",
			"[n] No",
		),
	)
}
