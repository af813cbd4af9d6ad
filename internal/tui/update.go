package tui

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/julianstephens/hagotchi/internal/activity"
	"github.com/julianstephens/hagotchi/internal/constants"
	"github.com/julianstephens/hagotchi/internal/rollover"
	"github.com/julianstephens/hagotchi/internal/tracker"
	"github.com/julianstephens/hagotchi/internal/tui/components/habitlist"
)

// stateChangedMsg arrives when background sync changed the session.
type stateChangedMsg struct{}

type activityMsg struct {
	period activity.Period
	grid   activity.Grid
	stats  activity.Stats
	err    error
}

// actionMsg carries the result of a habit action.
type actionMsg struct {
	verb string
	out  tracker.Outcome
	err  error
}

type syncedMsg struct {
	err error
}

// dayTickMsg schedules the periodic day check.
type dayTickMsg struct{}

// dayMsg reports a day check. skipped names an action dropped because it
// was picked from the previous day's counts.
type dayMsg struct {
	res     rollover.Result
	err     error
	skipped string
}

func dayTick() tea.Cmd {
	return tea.Tick(constants.DayCheckInterval, func(time.Time) tea.Msg { return dayTickMsg{} })
}

func (m Model) checkDay() tea.Cmd {
	ctx, s := m.ctx, m.session
	return func() tea.Msg {
		res, err := s.Rollover(ctx)
		return dayMsg{res: res, err: err}
	}
}

func waitForUpdate(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return stateChangedMsg{}
	}
}

func (m Model) loadActivity() tea.Cmd {
	ctx, s, period := m.ctx, m.session, m.period
	return func() tea.Msg {
		g, st, err := s.Activity(ctx, period, true)
		return activityMsg{period: period, grid: g, stats: st, err: err}
	}
}

// run performs a habit action off the UI loop since it may wait on the
// remote store. A day that ended while the view was open is closed first.
// With absolute set the action carries a count read from the view, which
// is stale once the day turned, so it is dropped.
func (m Model) run(verb string, absolute bool, fn func() (tracker.Outcome, error)) tea.Cmd {
	ctx, s := m.ctx, m.session
	return func() tea.Msg {
		res, err := s.Rollover(ctx)
		if err != nil {
			return actionMsg{verb: verb, err: err}
		}
		if res.Transitioned && absolute {
			return dayMsg{res: res, skipped: verb}
		}
		out, err := fn()
		return actionMsg{verb: verb, out: out, err: err}
	}
}

func (m Model) syncNow() tea.Cmd {
	ctx, s := m.ctx, m.session
	return func() tea.Msg {
		return syncedMsg{err: s.Sync(ctx)}
	}
}

func nextPeriod(p activity.Period) activity.Period {
	switch p {
	case activity.PeriodWeek:
		return activity.PeriodMonth
	case activity.PeriodMonth:
		return activity.PeriodYear
	case activity.PeriodYear:
		return activity.PeriodAll
	default:
		return activity.PeriodWeek
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.habits.SetSize(msg.Width, max(msg.Height-headerHeight-2, 1))
		return m, nil

	case stateChangedMsg:
		m.refresh()
		return m, tea.Batch(waitForUpdate(m.session.Updates()), m.loadActivity())

	case activityMsg:
		if msg.period == m.period && !errors.Is(msg.err, activity.ErrSuperseded) {
			m.grid, m.stats, m.gridErr = msg.grid, msg.stats, msg.err
		}
		return m, nil

	case actionMsg:
		m.refresh()
		m.setActionStatus(msg)
		return m, m.loadActivity()

	case dayTickMsg:
		return m, tea.Batch(m.checkDay(), dayTick())

	case dayMsg:
		switch {
		case msg.err != nil:
			m.status, m.statusErr = "Day check failed: "+msg.err.Error(), true
			return m, nil
		case !msg.res.Transitioned:
			return m, nil
		}
		m.refresh()
		m.status, m.statusErr = "New day: "+msg.res.To, false
		if msg.skipped != "" {
			m.status += fmt.Sprintf(" · %s skipped, try again", msg.skipped)
		}
		return m, m.loadActivity()

	case syncedMsg:
		m.refresh()
		if msg.err != nil {
			m.status, m.statusErr = "Sync failed: "+msg.err.Error(), true
		} else {
			m.status, m.statusErr = "Synced", false
		}
		return m, m.loadActivity()
	}

	switch m.state {
	case StateAddHabit:
		return m.updateAddHabit(msg)
	case StateConfirmDelete:
		return m.updateConfirmDelete(msg)
	}

	if msg, ok := msg.(tea.KeyMsg); ok && !m.habits.Filtering() {
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Tab):
			m.state = (m.state + 1) % tabCount
			return m, nil
		case key.Matches(msg, m.keys.ShiftTab):
			m.state = (m.state - 1 + tabCount) % tabCount
			return m, nil
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
			return m, nil
		case key.Matches(msg, m.keys.Sync):
			m.status, m.statusErr = "Syncing...", false
			return m, m.syncNow()
		case m.state == StateActivity && key.Matches(msg, m.keys.Period):
			m.period = nextPeriod(m.period)
			return m, m.loadActivity()
		}
	}

	switch msg := msg.(type) {
	case habitlist.AddHabitMsg:
		m.habitForm = newHabitFormModel()
		m.form = NewHabitForm(m.habitForm)
		m.state = StateAddHabit
		return m, m.form.Init()

	case habitlist.ToggleHabitMsg:
		ctx, s := m.ctx, m.session
		return m, m.run("toggle", false, func() (tracker.Outcome, error) { return s.Toggle(ctx, msg.ID) })

	case habitlist.SetCountMsg:
		ctx, s := m.ctx, m.session
		return m, m.run("update", true, func() (tracker.Outcome, error) { return s.SetCount(ctx, msg.ID, msg.Count) })

	case habitlist.DeleteHabitMsg:
		m.deleteID, m.deleteName = msg.ID, msg.Name
		m.state = StateConfirmDelete
		return m, nil
	}

	if m.state == StateToday {
		var cmd tea.Cmd
		m.habits, cmd = m.habits.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) updateAddHabit(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && msg.Type == tea.KeyEsc {
		m.state = StateToday
		return m, nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		m.state = StateToday
		ctx, s, op := m.ctx, m.session, m.habitForm.createOp()
		return m, tea.Batch(cmd, m.run("add", false, func() (tracker.Outcome, error) { return s.AddHabit(ctx, op) }))
	case huh.StateAborted:
		m.state = StateToday
	}
	return m, cmd
}

func (m Model) updateConfirmDelete(msg tea.Msg) (tea.Model, tea.Cmd) {
	km, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch {
	case key.Matches(km, m.keys.Confirm):
		m.state = StateToday
		ctx, s, id := m.ctx, m.session, m.deleteID
		return m, m.run("delete", false, func() (tracker.Outcome, error) { return s.DeleteHabit(ctx, id) })
	case key.Matches(km, m.keys.Cancel):
		m.state = StateToday
	}
	return m, nil
}

func (m *Model) setActionStatus(msg actionMsg) {
	if msg.err != nil {
		m.status, m.statusErr = fmt.Sprintf("Could not %s: %v", msg.verb, msg.err), true
		return
	}
	h := msg.out.Habit
	m.statusErr = false
	switch msg.verb {
	case "add":
		m.status = fmt.Sprintf("Added %s %s", h.Icon, h.Name)
	case "delete":
		m.status = fmt.Sprintf("Deleted %s", h.Name)
	default:
		m.status = fmt.Sprintf("%s %s: %d/%d", h.Icon, h.Name, h.CompletionsToday, h.DailyGoal)
	}
	if msg.out.Hearts.CoinsAwarded > 0 {
		m.status += fmt.Sprintf(" · +%d coin(s)", msg.out.Hearts.CoinsAwarded)
	}
	if msg.out.Hearts.Unlocked {
		m.status += " · unlocked " + msg.out.Hearts.UnlockedID
	}
	if msg.out.Queued {
		m.status += " · queued"
	}
}
