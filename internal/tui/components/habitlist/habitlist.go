package habitlist

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/julianstephens/hagotchi/internal/models"
)

type AddHabitMsg struct{}

type ToggleHabitMsg struct {
	ID string
}

// SetCountMsg asks for today's count of a habit to become Count.
type SetCountMsg struct {
	ID    string
	Count int
}

type DeleteHabitMsg struct {
	ID   string
	Name string
}

type Item struct {
	Habit   models.Habit
	Weekday time.Weekday
}

func (i Item) Title() string {
	mark := "○"
	if i.Habit.CompletedToday {
		mark = "●"
	}
	return fmt.Sprintf("%s %s %s", mark, i.Habit.Icon, i.Habit.Name)
}

func (i Item) Description() string {
	h := i.Habit
	parts := []string{fmt.Sprintf("%d/%d", h.CompletionsToday, h.DailyGoal)}
	if h.Streak > 0 {
		parts = append(parts, fmt.Sprintf("🔥%d", h.Streak))
	}
	if !h.IsScheduledOn(i.Weekday) {
		parts = append(parts, "rest day")
	}
	if h.ScheduledTime != nil {
		parts = append(parts, *h.ScheduledTime)
	}
	return strings.Join(parts, " · ")
}

func (i Item) FilterValue() string { return i.Habit.Name }

type KeyMap struct {
	Add       key.Binding
	Toggle    key.Binding
	Increment key.Binding
	Decrement key.Binding
	Delete    key.Binding
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		Add: key.NewBinding(
			key.WithKeys("a"),
			key.WithHelp("a", "add"),
		),
		Toggle: key.NewBinding(
			key.WithKeys(" ", "x"),
			key.WithHelp("space", "toggle"),
		),
		Increment: key.NewBinding(
			key.WithKeys("+", "="),
			key.WithHelp("+", "one more"),
		),
		Decrement: key.NewBinding(
			key.WithKeys("-"),
			key.WithHelp("-", "one less"),
		),
		Delete: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "delete"),
		),
	}
}

type Model struct {
	list list.Model
	keys KeyMap
}

func New(habits []models.Habit, weekday time.Weekday, width, height int) Model {
	l := list.New(items(habits, weekday), list.NewDefaultDelegate(), width, height)
	l.Title = "Today"
	l.SetShowTitle(false)
	l.SetShowHelp(false)

	keys := DefaultKeyMap()
	l.AdditionalShortHelpKeys = func() []key.Binding {
		return []key.Binding{keys.Toggle, keys.Increment, keys.Decrement, keys.Add, keys.Delete}
	}
	l.AdditionalFullHelpKeys = func() []key.Binding {
		return []key.Binding{keys.Toggle, keys.Increment, keys.Decrement, keys.Add, keys.Delete}
	}

	return Model{list: l, keys: keys}
}

func items(habits []models.Habit, weekday time.Weekday) []list.Item {
	out := make([]list.Item, len(habits))
	for i, h := range habits {
		out[i] = Item{Habit: h, Weekday: weekday}
	}
	return out
}

// SetHabits replaces the items and keeps the cursor in range.
func (m *Model) SetHabits(habits []models.Habit, weekday time.Weekday) {
	m.list.SetItems(items(habits, weekday))
}

// Selected returns the habit under the cursor.
func (m Model) Selected() (models.Habit, bool) {
	i, ok := m.list.SelectedItem().(Item)
	return i.Habit, ok
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	var cmd tea.Cmd

	if msg, ok := msg.(tea.KeyMsg); ok && m.list.FilterState() != list.Filtering {
		if key.Matches(msg, m.keys.Add) {
			return m, func() tea.Msg { return AddHabitMsg{} }
		}
		if h, ok := m.Selected(); ok {
			switch {
			case key.Matches(msg, m.keys.Toggle):
				return m, func() tea.Msg { return ToggleHabitMsg{ID: h.ID} }
			case key.Matches(msg, m.keys.Increment):
				return m, func() tea.Msg { return SetCountMsg{ID: h.ID, Count: h.CompletionsToday + 1} }
			case key.Matches(msg, m.keys.Decrement):
				if h.CompletionsToday == 0 {
					return m, nil
				}
				return m, func() tea.Msg { return SetCountMsg{ID: h.ID, Count: h.CompletionsToday - 1} }
			case key.Matches(msg, m.keys.Delete):
				return m, func() tea.Msg { return DeleteHabitMsg{ID: h.ID, Name: h.Name} }
			}
		}
	}

	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if len(m.list.Items()) == 0 && m.list.FilterState() != list.Filtering {
		return "\n  No habits yet.\n  Press 'a' to add one."
	}
	return m.list.View()
}

func (m *Model) SetSize(width, height int) {
	m.list.SetSize(width, height)
}

// Filtering reports whether the filter input has focus.
func (m Model) Filtering() bool {
	return m.list.FilterState() == list.Filtering
}
