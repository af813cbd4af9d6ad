package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/julianstephens/hagotchi/internal/errors"
	"github.com/julianstephens/hagotchi/internal/models"
	"github.com/julianstephens/hagotchi/internal/sync"
	"github.com/julianstephens/hagotchi/internal/tracker"
	"github.com/julianstephens/hagotchi/internal/utils"
)

type HabitCmd struct {
	Add    HabitAddCmd    `cmd:"" help:"Add a new habit."`
	List   HabitListCmd   `cmd:"" help:"List habits with today's progress."`
	Done   HabitDoneCmd   `cmd:"" help:"Record one more completion for today."`
	Undo   HabitUndoCmd   `cmd:"" help:"Remove one completion from today."`
	Set    HabitSetCmd    `cmd:"" help:"Set today's completion count."`
	Toggle HabitToggleCmd `cmd:"" help:"Complete a habit fully or clear it."`
	Edit   HabitEditCmd   `cmd:"" help:"Edit a habit."`
	Delete HabitDeleteCmd `cmd:"" help:"Delete a habit and its history."`
}

type HabitAddCmd struct {
	Name string `arg:"" help:"Habit name."`
	Goal int    `help:"Completions per day (1-10)." default:"1"`
	Days string `help:"Scheduled days, e.g. 'mon,wed,fri' or '1,3,5'." default:"daily"`
	Time string `help:"Scheduled time (HH:MM)."`
	Icon string `help:"Icon shown next to the name."`
}

func (c *HabitAddCmd) Run(ctx *Context) error {
	t, err := ctx.Tracker()
	if err != nil {
		return err
	}
	days, err := utils.ParseWeekdays(c.Days)
	if err != nil {
		return err
	}
	op := sync.CreateHabit{Name: c.Name, Icon: c.Icon, DailyGoal: c.Goal, ScheduledDays: days}
	if c.Time != "" {
		op.ScheduledTime = &c.Time
	}

	out, err := t.AddHabit(ctx.ctx(), op)
	if err != nil {
		return err
	}
	ctx.printf("Added habit: %s %s (%s)\n", out.Habit.Icon, out.Habit.Name, out.Habit.ID)
	ctx.reportQueued(out)
	return nil
}

type HabitListCmd struct{}

func (c *HabitListCmd) Run(ctx *Context) error {
	t, err := ctx.Tracker()
	if err != nil {
		return err
	}
	habits := t.Habits()
	if len(habits) == 0 {
		ctx.printf("No habits yet. Add one with 'hagotchi habit add'.\n")
		return nil
	}

	today := utils.WeekdayOf(t.Engine().Today())
	for _, h := range habits {
		ctx.printf("%s\n", formatHabitLine(h, today))
	}

	if dismissed, err := t.HintDismissed(); err == nil && !dismissed {
		ctx.printf("%s\n", mutedStyle.Render("Tip: reference habits by name or by the start of their ID."))
		if err := t.DismissHint(); err != nil {
			return err
		}
	}
	return nil
}

func formatHabitLine(h models.Habit, today time.Weekday) string {
	mark := mutedStyle.Render("○")
	if h.CompletedToday {
		mark = doneStyle.Render("●")
	}
	name := h.Name
	if !h.IsScheduledOn(today) {
		name = mutedStyle.Render(name + " (rest day)")
	}
	var details []string
	details = append(details, fmt.Sprintf("%d/%d", h.CompletionsToday, h.DailyGoal))
	if h.Streak > 0 {
		details = append(details, fmt.Sprintf("🔥%d", h.Streak))
	}
	details = append(details, FormatDays(h.ScheduledDays))
	if h.ScheduledTime != nil {
		details = append(details, *h.ScheduledTime)
	}
	return fmt.Sprintf("%s %s %s  %s  %s", mark, h.Icon, name,
		mutedStyle.Render(strings.Join(details, " · ")), mutedStyle.Render(shortID(h.ID)))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// reportQueued tells the user a change is waiting for the remote store.
func (c *Context) reportQueued(out tracker.Outcome) {
	if out.Queued {
		c.printf("%s\n", warningStyle.Render("Offline: change saved locally and queued for sync."))
	}
}

// reportProgress prints the result of a completion change.
func (c *Context) reportProgress(out tracker.Outcome) {
	h := out.Habit
	status := fmt.Sprintf("%d/%d", h.CompletionsToday, h.DailyGoal)
	if h.CompletedToday {
		status = doneStyle.Render(status + " done")
	}
	c.printf("%s %s: %s\n", h.Icon, h.Name, status)
	if out.Fed {
		c.printf("Your companion was fed. Vitality %.0f\n", out.Vitality)
	}
	if out.Hearts.CoinsAwarded > 0 {
		c.printf("+%d coin(s)\n", out.Hearts.CoinsAwarded)
	}
	if out.Hearts.Unlocked {
		c.printf("%s\n", titleStyle.Render("New companion unlocked: "+out.Hearts.UnlockedID))
	}
	c.reportQueued(out)
}

// habitAction resolves ref and runs fn against the tracker.
func habitAction(ctx *Context, ref string, fn func(t *tracker.Tracker, h models.Habit) (tracker.Outcome, error)) error {
	t, err := ctx.Tracker()
	if err != nil {
		return err
	}
	h, err := ResolveHabit(t.Habits(), ref)
	if err != nil {
		return err
	}
	out, err := fn(t, h)
	var remoteErr *apperrors.RemoteWriteError
	if errors.As(err, &remoteErr) {
		return fmt.Errorf("the server rejected the change, local state was restored: %w", err)
	}
	if err != nil {
		return err
	}
	ctx.reportProgress(out)
	return nil
}

type HabitDoneCmd struct {
	Habit string `arg:"" help:"Habit name or ID."`
}

func (c *HabitDoneCmd) Run(ctx *Context) error {
	return habitAction(ctx, c.Habit, func(t *tracker.Tracker, h models.Habit) (tracker.Outcome, error) {
		return t.Complete(ctx.ctx(), h.ID)
	})
}

type HabitUndoCmd struct {
	Habit string `arg:"" help:"Habit name or ID."`
}

func (c *HabitUndoCmd) Run(ctx *Context) error {
	return habitAction(ctx, c.Habit, func(t *tracker.Tracker, h models.Habit) (tracker.Outcome, error) {
		return t.Undo(ctx.ctx(), h.ID)
	})
}

type HabitSetCmd struct {
	Habit string `arg:"" help:"Habit name or ID."`
	Count int    `arg:"" help:"Completions today; clamped to the goal."`
}

func (c *HabitSetCmd) Run(ctx *Context) error {
	if c.Count < 0 {
		return fmt.Errorf("count must not be negative, got %d", c.Count)
	}
	return habitAction(ctx, c.Habit, func(t *tracker.Tracker, h models.Habit) (tracker.Outcome, error) {
		return t.SetCount(ctx.ctx(), h.ID, c.Count)
	})
}

type HabitToggleCmd struct {
	Habit string `arg:"" help:"Habit name or ID."`
}

func (c *HabitToggleCmd) Run(ctx *Context) error {
	return habitAction(ctx, c.Habit, func(t *tracker.Tracker, h models.Habit) (tracker.Outcome, error) {
		return t.Toggle(ctx.ctx(), h.ID)
	})
}

type HabitEditCmd struct {
	Habit     string  `arg:"" help:"Habit name or ID."`
	Name      *string `help:"New name."`
	Icon      *string `help:"New icon."`
	Goal      *int    `help:"New daily goal (1-10)."`
	Position  *int    `help:"New position in the list."`
	Days      *string `help:"New scheduled days."`
	Time      *string `help:"New scheduled time (HH:MM)."`
	ClearTime bool    `help:"Remove the scheduled time."`
}

func (c *HabitEditCmd) Run(ctx *Context) error {
	if c.Time != nil && c.ClearTime {
		return errors.New("--time and --clear-time cannot be used together")
	}
	t, err := ctx.Tracker()
	if err != nil {
		return err
	}
	h, err := ResolveHabit(t.Habits(), c.Habit)
	if err != nil {
		return err
	}

	op := sync.UpdateHabit{
		HabitID:            h.ID,
		Name:               c.Name,
		Icon:               c.Icon,
		DailyGoal:          c.Goal,
		Position:           c.Position,
		ScheduledTime:      c.Time,
		ClearScheduledTime: c.ClearTime,
	}
	if c.Days != nil {
		days, err := utils.ParseWeekdays(*c.Days)
		if err != nil {
			return err
		}
		op.ScheduledDays = &days
	}
	out, err := t.EditHabit(ctx.ctx(), op)
	if err != nil {
		return err
	}
	ctx.printf("Updated habit: %s\n", out.Habit.Name)
	ctx.reportQueued(out)
	return nil
}

type HabitDeleteCmd struct {
	Habit string `arg:"" help:"Habit name or ID."`
}

func (c *HabitDeleteCmd) Run(ctx *Context) error {
	t, err := ctx.Tracker()
	if err != nil {
		return err
	}
	h, err := ResolveHabit(t.Habits(), c.Habit)
	if err != nil {
		return err
	}
	out, err := t.DeleteHabit(ctx.ctx(), h.ID)
	if err != nil {
		return err
	}
	ctx.printf("Deleted habit: %s\n", h.Name)
	ctx.reportQueued(out)
	return nil
}
