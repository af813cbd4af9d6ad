package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/julianstephens/hagotchi/internal/activity"
	"github.com/julianstephens/hagotchi/internal/models"
	"github.com/julianstephens/hagotchi/internal/rollover"
	"github.com/julianstephens/hagotchi/internal/sync"
	"github.com/julianstephens/hagotchi/internal/tracker"
	"github.com/julianstephens/hagotchi/internal/tui/components/habitlist"
)

var allDays = []time.Weekday{0, 1, 2, 3, 4, 5, 6}

type fakeSession struct {
	habits  []models.Habit
	updates chan struct{}
	online  bool
	pending int

	toggled  []string
	counts   map[string]int
	added    []sync.CreateHabit
	deleted  []string
	periods  []activity.Period
	syncErr  error
	toggleEr error

	today     string
	clockDay  string
	rollovers int
}

func newFakeSession(habits ...models.Habit) *fakeSession {
	return &fakeSession{
		habits:   habits,
		updates:  make(chan struct{}, 1),
		online:   true,
		counts:   map[string]int{},
		today:    "2026-10-15",
		clockDay: "2026-10-15",
	}
}

func (f *fakeSession) Habits() []models.Habit    { return append([]models.Habit(nil), f.habits...) }
func (f *fakeSession) Today() string             { return f.today }
func (f *fakeSession) Spirit() tracker.SpiritView { return tracker.SpiritView{} }
func (f *fakeSession) Status() (bool, int)       { return f.online, f.pending }
func (f *fakeSession) Updates() <-chan struct{}  { return f.updates }
func (f *fakeSession) Sync(context.Context) error { return f.syncErr }

// Rollover closes the shown day once clockDay moved past it.
func (f *fakeSession) Rollover(context.Context) (rollover.Result, error) {
	if f.clockDay == f.today {
		return rollover.Result{From: f.today, To: f.today}, nil
	}
	res := rollover.Result{From: f.today, To: f.clockDay, DaysElapsed: 1, Transitioned: true}
	f.today = f.clockDay
	f.rollovers++
	for i := range f.habits {
		f.habits[i].SetCompletions(0)
	}
	return res, nil
}

func (f *fakeSession) Activity(_ context.Context, p activity.Period, _ bool) (activity.Grid, activity.Stats, error) {
	f.periods = append(f.periods, p)
	return activity.Grid{Period: p}, activity.Stats{ActiveDays: 3}, nil
}

func (f *fakeSession) AddHabit(_ context.Context, op sync.CreateHabit) (tracker.Outcome, error) {
	f.added = append(f.added, op)
	h := models.Habit{ID: "new", Name: op.Name, DailyGoal: op.DailyGoal, ScheduledDays: op.ScheduledDays}
	f.habits = append(f.habits, h)
	return tracker.Outcome{Habit: h}, nil
}

func (f *fakeSession) DeleteHabit(_ context.Context, id string) (tracker.Outcome, error) {
	f.deleted = append(f.deleted, id)
	for i, h := range f.habits {
		if h.ID == id {
			f.habits = append(f.habits[:i], f.habits[i+1:]...)
			return tracker.Outcome{Habit: h}, nil
		}
	}
	return tracker.Outcome{}, sync.ErrHabitNotFound
}

func (f *fakeSession) SetCount(_ context.Context, id string, n int) (tracker.Outcome, error) {
	f.counts[id] = n
	for i := range f.habits {
		if f.habits[i].ID == id {
			f.habits[i].SetCompletions(n)
			return tracker.Outcome{Habit: f.habits[i], Queued: !f.online}, nil
		}
	}
	return tracker.Outcome{}, sync.ErrHabitNotFound
}

func (f *fakeSession) Toggle(_ context.Context, id string) (tracker.Outcome, error) {
	if f.toggleEr != nil {
		return tracker.Outcome{}, f.toggleEr
	}
	f.toggled = append(f.toggled, id)
	for i := range f.habits {
		if f.habits[i].ID == id {
			h := &f.habits[i]
			if h.CompletedToday {
				h.SetCompletions(0)
			} else {
				h.SetCompletions(h.DailyGoal)
			}
			return tracker.Outcome{Habit: *h}, nil
		}
	}
	return tracker.Outcome{}, sync.ErrHabitNotFound
}

func keyPress(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func newTestModel(t *testing.T, s *fakeSession) Model {
	t.Helper()
	m := NewModel(context.Background(), s)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return next.(Model)
}

// send feeds msg to the model and then every message its commands produce,
// following chains of single commands.
func send(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	for i := 0; msg != nil && i < 10; i++ {
		next, cmd := m.Update(msg)
		m = next.(Model)
		if cmd == nil {
			return m
		}
		msg = cmd()
		if _, ok := msg.(tea.BatchMsg); ok {
			return m
		}
	}
	return m
}

func TestToggleFromTodayTab(t *testing.T) {
	s := newFakeSession(models.Habit{ID: "h1", Name: "Walk", DailyGoal: 2, ScheduledDays: allDays})
	m := newTestModel(t, s)

	m = send(t, m, keyPress("x"))

	if len(s.toggled) != 1 || s.toggled[0] != "h1" {
		t.Fatalf("toggled = %v, want [h1]", s.toggled)
	}
	if !strings.Contains(m.status, "Walk: 2/2") {
		t.Errorf("status = %q, want the new count", m.status)
	}
	if h, _ := m.habits.Selected(); !h.CompletedToday {
		t.Errorf("list not refreshed after toggle")
	}
}

func TestActionErrorShowsInStatus(t *testing.T) {
	s := newFakeSession(models.Habit{ID: "h1", Name: "Walk", DailyGoal: 1, ScheduledDays: allDays})
	s.toggleEr = errors.New("remote rejected write")
	m := newTestModel(t, s)

	m = send(t, m, keyPress("x"))

	if !m.statusErr || !strings.Contains(m.status, "remote rejected write") {
		t.Errorf("status = %q (err %v), want the failure", m.status, m.statusErr)
	}
}

func TestIncrementAndDecrement(t *testing.T) {
	s := newFakeSession(models.Habit{ID: "h1", Name: "Water", DailyGoal: 3, ScheduledDays: allDays})
	s.online = false
	m := newTestModel(t, s)

	if _, cmd := m.Update(keyPress("-")); cmd != nil {
		t.Errorf("decrement at zero produced a command")
	}

	m = send(t, m, keyPress("+"))
	if s.counts["h1"] != 1 {
		t.Fatalf("SetCount = %d, want 1", s.counts["h1"])
	}
	if !strings.Contains(m.status, "queued") {
		t.Errorf("status = %q, want queued marker while offline", m.status)
	}

	send(t, m, keyPress("-"))
	if s.counts["h1"] != 0 {
		t.Errorf("SetCount = %d after decrement, want 0", s.counts["h1"])
	}
}

func TestDeleteNeedsConfirmation(t *testing.T) {
	s := newFakeSession(
		models.Habit{ID: "h1", Name: "Walk", DailyGoal: 1, ScheduledDays: allDays},
		models.Habit{ID: "h2", Name: "Read", DailyGoal: 1, ScheduledDays: allDays},
	)
	m := newTestModel(t, s)

	m = send(t, m, keyPress("d"))
	if m.state != StateConfirmDelete || m.deleteID != "h1" {
		t.Fatalf("state = %v, deleteID = %q after 'd'", m.state, m.deleteID)
	}
	if !strings.Contains(m.View(), `Delete "Walk"`) {
		t.Errorf("confirmation view does not name the habit")
	}

	m = send(t, m, keyPress("n"))
	if m.state != StateToday || len(s.deleted) != 0 {
		t.Fatalf("cancel: state = %v, deleted = %v", m.state, s.deleted)
	}

	m = send(t, m, keyPress("d"))
	m = send(t, m, keyPress("y"))
	if len(s.deleted) != 1 || s.deleted[0] != "h1" {
		t.Fatalf("deleted = %v, want [h1]", s.deleted)
	}
	if h, _ := m.habits.Selected(); h.ID != "h2" {
		t.Errorf("selected = %q after delete, want h2", h.ID)
	}
}

func TestTabsAndPeriod(t *testing.T) {
	s := newFakeSession()
	m := newTestModel(t, s)

	m = send(t, m, tea.KeyMsg{Type: tea.KeyTab})
	if m.state != StateActivity {
		t.Fatalf("state = %v after tab, want activity", m.state)
	}

	m = send(t, m, keyPress("p"))
	if m.period != activity.PeriodYear {
		t.Errorf("period = %s, want year after month", m.period)
	}
	if got := s.periods[len(s.periods)-1]; got != activity.PeriodYear {
		t.Errorf("loaded period = %s, want year", got)
	}
	if m.stats.ActiveDays != 3 {
		t.Errorf("stats not stored from the load")
	}

	m = send(t, m, tea.KeyMsg{Type: tea.KeyShiftTab})
	m = send(t, m, tea.KeyMsg{Type: tea.KeyShiftTab})
	if m.state != StateSpirit {
		t.Errorf("state = %v after two shift+tab, want spirit", m.state)
	}
}

func TestStaleActivityIgnored(t *testing.T) {
	m := newTestModel(t, newFakeSession())
	m = send(t, m, activityMsg{period: activity.PeriodAll, stats: activity.Stats{ActiveDays: 99}})
	if m.stats.ActiveDays == 99 {
		t.Errorf("stats from a different period were applied")
	}
	m = send(t, m, activityMsg{period: m.period, err: activity.ErrSuperseded})
	if m.gridErr != nil {
		t.Errorf("superseded load surfaced as %v", m.gridErr)
	}
}

func TestBackgroundUpdateRefreshes(t *testing.T) {
	s := newFakeSession()
	m := newTestModel(t, s)

	s.habits = append(s.habits, models.Habit{ID: "h9", Name: "Stretch", DailyGoal: 1, ScheduledDays: allDays})
	s.pending = 2
	s.online = false
	next, cmd := m.Update(stateChangedMsg{})
	m = next.(Model)

	if cmd == nil {
		t.Fatalf("update did not re-arm the listener")
	}
	if h, ok := m.habits.Selected(); !ok || h.ID != "h9" {
		t.Errorf("habit list not refreshed")
	}
	if !strings.Contains(m.viewStatus(), "2 pending") {
		t.Errorf("status line = %q, want pending count", m.viewStatus())
	}
}

func TestAddHabitFormBuildsOp(t *testing.T) {
	fm := newHabitFormModel()
	fm.Name = "  Journal "
	fm.Goal = "2"
	fm.Time = "21:30"
	op := fm.createOp()
	if op.Name != "Journal" || op.DailyGoal != 2 || len(op.ScheduledDays) != 7 {
		t.Errorf("createOp() = %+v", op)
	}
	if op.ScheduledTime == nil || *op.ScheduledTime != "21:30" {
		t.Errorf("ScheduledTime = %v, want 21:30", op.ScheduledTime)
	}

	fm.Time = ""
	if fm.createOp().ScheduledTime != nil {
		t.Errorf("empty time should leave ScheduledTime unset")
	}
}

func TestAddOpensFormAndEscCloses(t *testing.T) {
	m := newTestModel(t, newFakeSession())
	next, _ := m.Update(habitlist.AddHabitMsg{})
	m = next.(Model)
	if m.state != StateAddHabit || m.form == nil {
		t.Fatalf("state = %v, form = %v", m.state, m.form)
	}
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if next.(Model).state != StateToday {
		t.Errorf("esc did not leave the form")
	}
}

func TestQuit(t *testing.T) {
	m := newTestModel(t, newFakeSession())
	next, cmd := m.Update(keyPress("q"))
	if cmd == nil {
		t.Fatal("quit returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Errorf("quit command did not produce QuitMsg")
	}
	if next.(Model).View() != "" {
		t.Errorf("view not empty after quit")
	}
}

func TestDayTickClosesDayAfterMidnight(t *testing.T) {
	h := models.Habit{ID: "h1", Name: "Walk", DailyGoal: 2, ScheduledDays: allDays}
	h.SetCompletions(2)
	s := newFakeSession(h)
	m := newTestModel(t, s)

	next, cmd := m.Update(dayTickMsg{})
	m = next.(Model)
	if cmd == nil {
		t.Fatalf("day tick scheduled nothing")
	}

	m = send(t, m, m.checkDay()())
	if s.rollovers != 0 || m.status != "" {
		t.Fatalf("rollovers = %d status = %q before midnight, want none", s.rollovers, m.status)
	}

	s.clockDay = "2026-10-16"
	m = send(t, m, m.checkDay()())

	if s.rollovers != 1 {
		t.Fatalf("rollovers = %d, want 1", s.rollovers)
	}
	if !strings.Contains(m.status, "New day: 2026-10-16") {
		t.Errorf("status = %q, want the new day", m.status)
	}
	if got, ok := m.habits.Selected(); !ok || got.CompletionsToday != 0 {
		t.Errorf("habit list still shows yesterday's count")
	}
}

func TestIncrementAfterMidnightDropsStaleCount(t *testing.T) {
	h := models.Habit{ID: "h1", Name: "Water", DailyGoal: 3, ScheduledDays: allDays}
	h.SetCompletions(2)
	s := newFakeSession(h)
	m := newTestModel(t, s)

	s.clockDay = "2026-10-16"
	m = send(t, m, keyPress("+"))

	if _, ok := s.counts["h1"]; ok {
		t.Fatalf("SetCount(%d) applied a count read before midnight", s.counts["h1"])
	}
	if !strings.Contains(m.status, "skipped") {
		t.Errorf("status = %q, want the skipped action", m.status)
	}

	send(t, m, keyPress("+"))
	if s.counts["h1"] != 1 {
		t.Errorf("SetCount = %d on the new day, want 1", s.counts["h1"])
	}
}

func TestToggleAfterMidnightRunsOnNewDay(t *testing.T) {
	h := models.Habit{ID: "h1", Name: "Walk", DailyGoal: 1, ScheduledDays: allDays}
	h.SetCompletions(1)
	s := newFakeSession(h)
	m := newTestModel(t, s)

	s.clockDay = "2026-10-16"
	m = send(t, m, keyPress("x"))

	if s.rollovers != 1 || len(s.toggled) != 1 {
		t.Fatalf("rollovers = %d toggled = %v, want the day closed then the toggle", s.rollovers, s.toggled)
	}
	if !strings.Contains(m.status, "Walk: 1/1") {
		t.Errorf("status = %q, want the habit done on the new day", m.status)
	}
}
