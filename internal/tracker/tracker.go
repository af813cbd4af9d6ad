// Package tracker is the application service. It routes every user action
// through the sync engine and then runs the derived recomputations
// explicitly: hearts, vitality, lifetime totals and streak stats.
package tracker

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/julianstephens/hagotchi/internal/activity"
	"github.com/julianstephens/hagotchi/internal/cache"
	"github.com/julianstephens/hagotchi/internal/constants"
	"github.com/julianstephens/hagotchi/internal/logger"
	"github.com/julianstephens/hagotchi/internal/models"
	"github.com/julianstephens/hagotchi/internal/rollover"
	"github.com/julianstephens/hagotchi/internal/streak"
	"github.com/julianstephens/hagotchi/internal/sync"
	"github.com/julianstephens/hagotchi/internal/utils"
	"github.com/julianstephens/hagotchi/internal/vitality"
)

type Config struct {
	Engine   *sync.Engine
	Cache    *cache.Cache
	Vitality *vitality.Engine
	// Fetcher backs remote grid loads. Optional; without it grids come from
	// the local log.
	Fetcher activity.RangeFetcher
	// DayCheckEvery is how often Run looks for a passed midnight.
	DayCheckEvery time.Duration
	Logger        *log.Logger
}

// Tracker wires the engines together for one signed-in user.
type Tracker struct {
	engine   *sync.Engine
	cache    *cache.Cache
	vitality *vitality.Engine
	rollover *rollover.Rollover
	agg      *activity.Aggregator
	loader   *activity.Loader
	log      *log.Logger
	dayEvery time.Duration

	mu      stdsync.Mutex
	started rollover.Result
	// dayMu serializes day transition checks.
	dayMu stdsync.Mutex
}

func New(cfg Config) *Tracker {
	t := &Tracker{
		engine:   cfg.Engine,
		cache:    cfg.Cache,
		vitality: cfg.Vitality,
		log:      cfg.Logger,
		dayEvery: cfg.DayCheckEvery,
	}
	if t.dayEvery <= 0 {
		t.dayEvery = constants.DayCheckInterval
	}
	if t.log == nil {
		t.log = logger.With("component", "tracker")
	}
	if t.vitality == nil {
		t.vitality = vitality.NewEngine(nil, constants.DefaultCompanions)
	}
	t.agg = activity.NewAggregator(cfg.Engine.Now, cfg.Engine.Location())
	if cfg.Fetcher != nil {
		t.loader = activity.NewLoader(cfg.Fetcher, cfg.Engine.UserID())
	}
	t.rollover = rollover.New(rollover.Config{
		Marker:   cfg.Cache,
		Habits:   cfg.Engine,
		Spirit:   cfg.Engine,
		Vitality: t.vitality,
		Now:      cfg.Engine.Now,
		Location: cfg.Engine.Location(),
		Logger:   t.log,
	})
	return t
}

// Engine exposes the sync engine for background loops and status reads.
func (t *Tracker) Engine() *sync.Engine {
	return t.engine
}

// Start loads state and closes out any days that passed since the last
// visit.
func (t *Tracker) Start(ctx context.Context) ([]models.Habit, error) {
	if _, err := t.engine.LoadInitial(ctx); err != nil {
		return nil, err
	}
	res, err := t.Rollover(ctx)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.started = res
	t.mu.Unlock()
	return t.engine.Habits(), nil
}

// StartRollover is the rollover Start ran.
func (t *Tracker) StartRollover() rollover.Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

// Rollover runs the day transition check and refreshes streak stats when a
// day closed.
func (t *Tracker) Rollover(ctx context.Context) (rollover.Result, error) {
	t.dayMu.Lock()
	defer t.dayMu.Unlock()
	res, err := t.rollover.Check(ctx)
	if err != nil {
		return res, err
	}
	if res.Transitioned {
		if _, err := t.recompute(ctx, change{}); err != nil {
			return res, err
		}
	}
	return res, nil
}

// Run keeps the engine's background loop going and closes out the day once
// the clock passes midnight, until ctx ends.
func (t *Tracker) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return t.engine.Run(gctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(t.dayEvery)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				if _, err := t.Rollover(gctx); err != nil {
					t.log.Warn("Day check failed", "error", err)
				}
			}
		}
	})
	return g.Wait()
}

// sameDay closes out a day that ended since the last check, so an action
// never applies yesterday's counters to today.
func (t *Tracker) sameDay(ctx context.Context) error {
	if _, err := t.Rollover(ctx); err != nil {
		return fmt.Errorf("day check failed: %w", err)
	}
	return nil
}

// Outcome is what a habit action changed.
type Outcome struct {
	Habit  models.Habit
	Queued bool
	Hearts vitality.HeartsResult
	// Fed is set when the action fed the companion.
	Fed      bool
	Vitality float64
}

// change describes a habit transition feeding the recomputation.
type change struct {
	prev, next models.Habit
	feed       bool
}

// AddHabit creates a habit.
func (t *Tracker) AddHabit(ctx context.Context, op sync.CreateHabit) (Outcome, error) {
	if err := t.sameDay(ctx); err != nil {
		return Outcome{}, err
	}
	res, err := t.engine.Mutate(ctx, op)
	if err != nil {
		return Outcome{}, err
	}
	return t.finish(ctx, res, change{next: res.Habit})
}

// EditHabit updates a habit's fields.
func (t *Tracker) EditHabit(ctx context.Context, op sync.UpdateHabit) (Outcome, error) {
	if err := t.sameDay(ctx); err != nil {
		return Outcome{}, err
	}
	res, err := t.engine.Mutate(ctx, op)
	if err != nil {
		return Outcome{}, err
	}
	return t.finish(ctx, res, change{prev: res.Previous, next: res.Habit})
}

// DeleteHabit removes a habit and its history.
func (t *Tracker) DeleteHabit(ctx context.Context, habitID string) (Outcome, error) {
	if err := t.sameDay(ctx); err != nil {
		return Outcome{}, err
	}
	res, err := t.engine.Mutate(ctx, sync.DeleteHabit{HabitID: habitID})
	if err != nil {
		return Outcome{}, err
	}
	// lifetime totals keep what the deleted habit earned
	return t.finish(ctx, res, change{})
}

// SetCount sets today's completion count for a habit.
func (t *Tracker) SetCount(ctx context.Context, habitID string, count int) (Outcome, error) {
	if err := t.sameDay(ctx); err != nil {
		return Outcome{}, err
	}
	return t.setCount(ctx, habitID, count)
}

func (t *Tracker) setCount(ctx context.Context, habitID string, count int) (Outcome, error) {
	res, err := t.engine.Mutate(ctx, sync.RecordCompletion{HabitID: habitID, Count: count})
	if err != nil {
		return Outcome{}, err
	}
	c := change{prev: res.Previous, next: res.Habit}
	c.feed = res.Habit.CompletionsToday > res.Previous.CompletionsToday
	return t.finish(ctx, res, c)
}

// Complete records one more completion, up to the goal.
func (t *Tracker) Complete(ctx context.Context, habitID string) (Outcome, error) {
	if err := t.sameDay(ctx); err != nil {
		return Outcome{}, err
	}
	h, ok := t.engine.Habit(habitID)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", sync.ErrHabitNotFound, habitID)
	}
	return t.setCount(ctx, habitID, h.CompletionsToday+1)
}

// Undo removes one completion.
func (t *Tracker) Undo(ctx context.Context, habitID string) (Outcome, error) {
	if err := t.sameDay(ctx); err != nil {
		return Outcome{}, err
	}
	h, ok := t.engine.Habit(habitID)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", sync.ErrHabitNotFound, habitID)
	}
	if h.CompletionsToday == 0 {
		return Outcome{Habit: h}, nil
	}
	return t.setCount(ctx, habitID, h.CompletionsToday-1)
}

// Toggle completes a habit fully or clears it.
func (t *Tracker) Toggle(ctx context.Context, habitID string) (Outcome, error) {
	if err := t.sameDay(ctx); err != nil {
		return Outcome{}, err
	}
	h, ok := t.engine.Habit(habitID)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", sync.ErrHabitNotFound, habitID)
	}
	if h.CompletedToday {
		return t.setCount(ctx, habitID, 0)
	}
	return t.setCount(ctx, habitID, h.DailyGoal)
}

func (t *Tracker) finish(ctx context.Context, res sync.Result, c change) (Outcome, error) {
	out, err := t.recompute(ctx, c)
	out.Habit = res.Habit
	out.Queued = res.Queued
	if err != nil {
		// the habit change itself stands; only the derived write failed
		t.log.Warn("Failed to update companion state", "habit", res.Habit.ID, "error", err)
		return out, err
	}
	return out, nil
}

// recompute derives the companion state from the current habits and log.
func (t *Tracker) recompute(ctx context.Context, c change) (Outcome, error) {
	habits := t.engine.Habits()
	now := t.engine.Now()
	weekday := utils.WeekdayOf(t.engine.Today())
	percent := vitality.DayPercent(habits, weekday)
	current, longest := t.streakStats(habits)

	var out Outcome
	sp, err := t.engine.UpdateSpirit(ctx, func(s *models.Spirit) error {
		out.Hearts = t.vitality.ApplyProgress(s, percent)
		if c.feed {
			t.vitality.Feed(s, now)
			out.Fed = true
		}
		switch {
		case !c.prev.CompletedToday && c.next.CompletedToday:
			s.TotalHabitsCompleted++
		case c.prev.CompletedToday && !c.next.CompletedToday && s.TotalHabitsCompleted > 0:
			s.TotalHabitsCompleted--
		}
		s.CurrentStreak = current
		s.LongestStreak = max(s.LongestStreak, longest)
		s.LastActiveAt = now
		return nil
	})
	if err != nil {
		return out, err
	}
	out.Vitality = vitality.Current(sp, now)
	if out.Hearts.Unlocked {
		t.log.Info("Companion unlocked", "companion", out.Hearts.UnlockedID)
	}
	return out, nil
}

// streakStats returns the best current and best longest per-habit streak.
func (t *Tracker) streakStats(habits []models.Habit) (current, longest int) {
	for _, h := range habits {
		current = max(current, h.Streak)
		l := streak.Longest(t.engine.CompletionsFor(h.ID), streak.ConstantGoal(h.DailyGoal))
		longest = max(longest, l)
	}
	return current, max(current, longest)
}

// Habits lists habits in display order.
func (t *Tracker) Habits() []models.Habit {
	return t.engine.Habits()
}

// SpiritView is the companion as shown to the user.
type SpiritView struct {
	Spirit     models.Spirit
	LiveHearts float64
	Vitality   float64
	Band       vitality.Band
	Exists     bool
}

// Spirit returns the companion state with vitality decayed to now.
func (t *Tracker) Spirit() SpiritView {
	sp, ok := t.engine.Spirit()
	if !ok {
		sp = models.NewSpirit(t.engine.UserID(), constants.DefaultCompanionID, t.engine.Now())
	}
	v := vitality.Current(sp, t.engine.Now())
	return SpiritView{
		Spirit:     sp,
		LiveHearts: vitality.LiveTotal(sp),
		Vitality:   v,
		Band:       vitality.BandOf(v),
		Exists:     ok,
	}
}

// Activity builds the grid and stats for period. With remote set and a
// fetcher configured it loads the window from the remote store, falling
// back to the local log when that fails.
func (t *Tracker) Activity(ctx context.Context, period activity.Period, remote bool) (activity.Grid, activity.Stats, error) {
	records := t.engine.Completions()
	if remote && t.loader != nil {
		fetched, err := t.loader.Load(ctx, period, t.engine.Today())
		switch {
		case errors.Is(err, activity.ErrSuperseded):
			return activity.Grid{}, activity.Stats{}, err
		case err != nil:
			t.log.Warn("Remote activity load failed, using local log", "period", period, "error", err)
		default:
			records = fetched
		}
	}
	grid, stats := t.agg.Summary(records, period, len(t.engine.Habits()))
	return grid, stats, nil
}

// DismissHint records that the first-run hint was dismissed.
func (t *Tracker) DismissHint() error {
	return t.cache.SetFlag(constants.FlagHintDismissed, "1")
}

// HintDismissed reports whether the first-run hint was dismissed.
func (t *Tracker) HintDismissed() (bool, error) {
	v, err := t.cache.Flag(constants.FlagHintDismissed)
	return v != "", err
}

// ShowBriefing reports whether today's briefing is still due and marks it
// shown. It returns true at most once per local day.
func (t *Tracker) ShowBriefing() (bool, error) {
	today := t.engine.Today()
	v, err := t.cache.Flag(constants.FlagBriefingShown)
	if err != nil {
		return false, err
	}
	if v == today {
		return false, nil
	}
	return true, t.cache.SetFlag(constants.FlagBriefingShown, today)
}

// GoOffline stops remote writes until GoOnline, across sessions.
func (t *Tracker) GoOffline(ctx context.Context) error {
	if err := t.cache.SetFlag(constants.FlagForcedOffline, "1"); err != nil {
		return err
	}
	return t.engine.SetOnline(ctx, false)
}

// GoOnline clears a forced offline state and replays the queue.
func (t *Tracker) GoOnline(ctx context.Context) error {
	if err := t.cache.ClearFlag(constants.FlagForcedOffline); err != nil {
		return err
	}
	return t.engine.SetOnline(ctx, true)
}

// ForcedOffline reports whether GoOffline is in effect.
func (t *Tracker) ForcedOffline() (bool, error) {
	v, err := t.cache.Flag(constants.FlagForcedOffline)
	return v != "", err
}

// SignOut drops everything cached for the user.
func (t *Tracker) SignOut() error {
	t.engine.Wait()
	if n := len(t.engine.Pending()); n > 0 {
		t.log.Warn("Signing out with unsynced changes", "pending", n)
	}
	return t.cache.Clear()
}

// Now is the tracker clock.
func (t *Tracker) Now() time.Time {
	return t.engine.Now()
}

// Today is the current local date.
func (t *Tracker) Today() string {
	return t.engine.Today()
}

// Updates signals when background sync changed the state.
func (t *Tracker) Updates() <-chan struct{} {
	return t.engine.Updates()
}

// Status reports whether remote writes are live and how many wait in the
// queue.
func (t *Tracker) Status() (online bool, pending int) {
	return t.engine.Online(), len(t.engine.Pending())
}

// Sync pulls the remote state and, when online, replays the queue.
func (t *Tracker) Sync(ctx context.Context) error {
	if err := t.engine.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}
	if !t.engine.Online() {
		return nil
	}
	return t.engine.FlushQueue(ctx)
}
