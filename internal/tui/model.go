// Package tui is the interactive dashboard: today's habits, the activity
// grid and the companion, kept current by background sync.
package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/julianstephens/hagotchi/internal/activity"
	"github.com/julianstephens/hagotchi/internal/models"
	"github.com/julianstephens/hagotchi/internal/rollover"
	"github.com/julianstephens/hagotchi/internal/sync"
	"github.com/julianstephens/hagotchi/internal/tracker"
	"github.com/julianstephens/hagotchi/internal/tui/components/habitlist"
	"github.com/julianstephens/hagotchi/internal/utils"
)

// Session is the part of the tracker the dashboard drives.
type Session interface {
	Habits() []models.Habit
	Today() string
	Spirit() tracker.SpiritView
	Status() (online bool, pending int)
	Updates() <-chan struct{}
	Activity(ctx context.Context, period activity.Period, remote bool) (activity.Grid, activity.Stats, error)
	AddHabit(ctx context.Context, op sync.CreateHabit) (tracker.Outcome, error)
	DeleteHabit(ctx context.Context, habitID string) (tracker.Outcome, error)
	SetCount(ctx context.Context, habitID string, count int) (tracker.Outcome, error)
	Toggle(ctx context.Context, habitID string) (tracker.Outcome, error)
	Sync(ctx context.Context) error
	Rollover(ctx context.Context) (rollover.Result, error)
}

type SessionState int

const (
	StateToday SessionState = iota
	StateActivity
	StateSpirit
	StateAddHabit
	StateConfirmDelete
)

const tabCount = 3

var tabTitles = [tabCount]string{"Today", "Activity", "Spirit"}

// header rows above the active view: tabs and the status line
const headerHeight = 4

type HabitFormModel struct {
	Name string
	Icon string
	Goal string
	Days []time.Weekday
	Time string
}

type Model struct {
	ctx     context.Context
	session Session
	state   SessionState
	keys    KeyMap
	help    help.Model
	habits  habitlist.Model

	form      *huh.Form
	habitForm *HabitFormModel

	period  activity.Period
	grid    activity.Grid
	stats   activity.Stats
	gridErr error

	spirit  tracker.SpiritView
	online  bool
	pending int

	deleteID   string
	deleteName string

	status    string
	statusErr bool

	quitting bool
	width    int
	height   int
}

func NewModel(ctx context.Context, s Session) Model {
	m := Model{
		ctx:     ctx,
		session: s,
		state:   StateToday,
		keys:    DefaultKeyMap(),
		help:    help.New(),
		habits:  habitlist.New(nil, time.Sunday, 0, 0),
		period:  activity.PeriodMonth,
	}
	m.refresh()
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.session.Updates()), m.loadActivity(), dayTick())
}

// refresh rereads the session into the views.
func (m *Model) refresh() {
	m.habits.SetHabits(m.session.Habits(), utils.WeekdayOf(m.session.Today()))
	m.spirit = m.session.Spirit()
	m.online, m.pending = m.session.Status()
}

func (m Model) ShortHelp() []key.Binding {
	keys := []key.Binding{m.keys.Tab, m.keys.Quit, m.keys.Help}
	switch m.state {
	case StateToday:
		hk := habitlist.DefaultKeyMap()
		keys = append(keys, hk.Toggle, hk.Increment, hk.Add)
	case StateActivity:
		keys = append(keys, m.keys.Period)
	case StateConfirmDelete:
		keys = []key.Binding{m.keys.Confirm, m.keys.Cancel}
	}
	return keys
}

func (m Model) FullHelp() [][]key.Binding {
	global := []key.Binding{m.keys.Tab, m.keys.ShiftTab, m.keys.Quit, m.keys.Help, m.keys.Sync}
	var actions []key.Binding
	switch m.state {
	case StateToday:
		hk := habitlist.DefaultKeyMap()
		actions = []key.Binding{hk.Toggle, hk.Increment, hk.Decrement, hk.Add, hk.Delete}
	case StateActivity:
		actions = []key.Binding{m.keys.Period}
	}
	return [][]key.Binding{global, actions}
}
