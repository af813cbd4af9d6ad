package sync

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/julianstephens/hagotchi/internal/constants"
	"github.com/julianstephens/hagotchi/internal/models"
	"github.com/julianstephens/hagotchi/internal/validation"
)

// Op is a habit mutation accepted by Mutate. The concrete types are
// CreateHabit, UpdateHabit, DeleteHabit and RecordCompletion.
type Op interface {
	opName() string
}

// CreateHabit adds a habit. A nil Position appends it after the last one.
type CreateHabit struct {
	Name          string
	Icon          string
	DailyGoal     int
	ScheduledDays []time.Weekday
	ScheduledTime *string
	Position      *int
}

// UpdateHabit edits the fields that are set. Changing DailyGoal re-clamps
// today's count and rewrites today's record under the new goal; earlier
// records keep the goal they were recorded with.
type UpdateHabit struct {
	HabitID            string
	Name               *string
	Icon               *string
	DailyGoal          *int
	Position           *int
	ScheduledDays      *[]time.Weekday
	ScheduledTime      *string
	ClearScheduledTime bool
}

// DeleteHabit removes a habit together with its completion history.
type DeleteHabit struct {
	HabitID string
}

// RecordCompletion sets today's absolute completion count for a habit.
// Counts above the goal are clamped.
type RecordCompletion struct {
	HabitID string
	Count   int
}

func (CreateHabit) opName() string      { return "create_habit" }
func (UpdateHabit) opName() string      { return "update_habit" }
func (DeleteHabit) opName() string      { return "delete_habit" }
func (RecordCompletion) opName() string { return "record_completion" }

// Result describes an accepted mutation.
type Result struct {
	// Habit is the habit after the change. For deletes it is the removed
	// habit.
	Habit models.Habit
	// Previous is the habit before the change; zero for creates.
	Previous models.Habit
	// Queued is set when the write waits in the offline queue.
	Queued bool
}

// Mutate validates op, applies it to local state and the cache, and then
// writes it to the remote store or queues it. Validation failures return a
// *errors.ValidationError and change nothing. A rejected online write is
// reverted and returned as *errors.RemoteWriteError.
func (e *Engine) Mutate(ctx context.Context, op Op) (Result, error) {
	if err := validateOp(op); err != nil {
		return Result{}, err
	}

	e.mu.Lock()
	m, res, err := e.applyLocked(op)
	if err != nil {
		e.mu.Unlock()
		return Result{}, err
	}
	queued, err := e.commit(ctx, m)
	res.Queued = queued
	if err != nil {
		return res, err
	}
	e.log.Debug("Mutation applied", "op", m.name, "habit", m.habitID, "queued", queued)
	return res, nil
}

func validateOp(op Op) error {
	switch o := op.(type) {
	case CreateHabit:
		if err := validation.ValidateName(o.Name); err != nil {
			return err
		}
		if err := validation.ValidateDailyGoal(o.DailyGoal); err != nil {
			return err
		}
		if err := validation.ValidateScheduledDays(o.ScheduledDays); err != nil {
			return err
		}
		if o.Position != nil {
			if err := validation.ValidatePosition(*o.Position); err != nil {
				return err
			}
		}
		return validation.ValidateScheduledTime(o.ScheduledTime)
	case UpdateHabit:
		if o.Name != nil {
			if err := validation.ValidateName(*o.Name); err != nil {
				return err
			}
		}
		if o.DailyGoal != nil {
			if err := validation.ValidateDailyGoal(*o.DailyGoal); err != nil {
				return err
			}
		}
		if o.ScheduledDays != nil {
			if err := validation.ValidateScheduledDays(*o.ScheduledDays); err != nil {
				return err
			}
		}
		if o.Position != nil {
			if err := validation.ValidatePosition(*o.Position); err != nil {
				return err
			}
		}
		return validation.ValidateScheduledTime(o.ScheduledTime)
	case DeleteHabit:
		return nil
	case RecordCompletion:
		return validation.ValidateCompletionCount(o.Count)
	case nil:
		return fmt.Errorf("sync: nil op")
	}
	return fmt.Errorf("sync: unsupported op %T", op)
}

func (e *Engine) applyLocked(op Op) (*mutation, Result, error) {
	switch o := op.(type) {
	case CreateHabit:
		return e.createLocked(o)
	case UpdateHabit:
		return e.updateLocked(o)
	case DeleteHabit:
		return e.deleteLocked(o)
	case RecordCompletion:
		return e.recordLocked(o)
	}
	return nil, Result{}, fmt.Errorf("sync: unsupported op %T", op)
}

func (e *Engine) createLocked(o CreateHabit) (*mutation, Result, error) {
	now := e.now().UTC()
	h := models.Habit{
		ID:            e.newID(),
		UserID:        e.userID,
		Name:          strings.TrimSpace(o.Name),
		Icon:          o.Icon,
		DailyGoal:     o.DailyGoal,
		ScheduledDays: slices.Clone(o.ScheduledDays),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if h.Icon == "" {
		h.Icon = constants.DefaultHabitIcon
	}
	if o.ScheduledTime != nil {
		t := *o.ScheduledTime
		h.ScheduledTime = &t
	}
	if o.Position != nil {
		h.Position = *o.Position
	} else {
		h.Position = e.nextPositionLocked()
	}
	slices.Sort(h.ScheduledDays)

	e.habits[h.ID] = h
	a := e.newAction(models.ActionCreateHabit, h.ID)
	a.Habit = ptr(h.Clone())

	m := &mutation{
		name:    o.opName(),
		habitID: h.ID,
		lane:    "habit:" + h.ID,
		actions: []models.PendingAction{a},
		undo:    func() { delete(e.habits, h.ID) },
	}
	return m, Result{Habit: h.Clone()}, nil
}

func (e *Engine) nextPositionLocked() int {
	next := 0
	for _, h := range e.habits {
		if h.Position >= next {
			next = h.Position + 1
		}
	}
	return next
}

func (e *Engine) updateLocked(o UpdateHabit) (*mutation, Result, error) {
	prev, ok := e.habits[o.HabitID]
	if !ok {
		return nil, Result{}, fmt.Errorf("%w: %s", ErrHabitNotFound, o.HabitID)
	}
	h := prev.Clone()
	if o.Name != nil {
		h.Name = strings.TrimSpace(*o.Name)
	}
	if o.Icon != nil {
		h.Icon = *o.Icon
	}
	if o.Position != nil {
		h.Position = *o.Position
	}
	if o.ScheduledDays != nil {
		h.ScheduledDays = slices.Clone(*o.ScheduledDays)
		slices.Sort(h.ScheduledDays)
	}
	switch {
	case o.ClearScheduledTime:
		h.ScheduledTime = nil
	case o.ScheduledTime != nil:
		t := *o.ScheduledTime
		h.ScheduledTime = &t
	}
	h.UpdatedAt = e.now().UTC()

	var actions []models.PendingAction
	today := e.Today()
	prevRec, hadRec := e.completions.Get(h.ID, today)
	if o.DailyGoal != nil && *o.DailyGoal != prev.DailyGoal {
		h.DailyGoal = *o.DailyGoal
		h.SetCompletions(h.CompletionsToday)
		if hadRec || h.CompletionsToday > 0 {
			rec := e.todayRecord(h, today)
			e.completions.Set(rec)
			a := e.newAction(models.ActionRecordCompletion, h.ID)
			a.Completion = &rec
			actions = append(actions, a)
		}
	}
	e.recomputeStreakLocked(&h, today)
	e.habits[h.ID] = h

	a := e.newAction(models.ActionUpdateHabit, h.ID)
	a.Habit = ptr(h.Clone())
	actions = append(actions, a)

	m := &mutation{
		name:    o.opName(),
		habitID: h.ID,
		lane:    "habit:" + h.ID,
		actions: actions,
		undo: func() {
			e.habits[prev.ID] = prev
			e.restoreRecord(prev.ID, today, prevRec, hadRec)
		},
	}
	return m, Result{Habit: h.Clone(), Previous: prev.Clone()}, nil
}

func (e *Engine) deleteLocked(o DeleteHabit) (*mutation, Result, error) {
	prev, ok := e.habits[o.HabitID]
	if !ok {
		return nil, Result{}, fmt.Errorf("%w: %s", ErrHabitNotFound, o.HabitID)
	}
	delete(e.habits, prev.ID)
	removed := e.completions.DeleteHabit(prev.ID)

	a := e.newAction(models.ActionDeleteHabit, prev.ID)
	m := &mutation{
		name:    o.opName(),
		habitID: prev.ID,
		lane:    "habit:" + prev.ID,
		actions: []models.PendingAction{a},
		undo: func() {
			e.habits[prev.ID] = prev
			e.completions.Restore(removed)
		},
	}
	return m, Result{Habit: prev.Clone(), Previous: prev.Clone()}, nil
}

func (e *Engine) recordLocked(o RecordCompletion) (*mutation, Result, error) {
	prev, ok := e.habits[o.HabitID]
	if !ok {
		return nil, Result{}, fmt.Errorf("%w: %s", ErrHabitNotFound, o.HabitID)
	}
	today := e.Today()
	h := prev.Clone()
	h.SetCompletions(o.Count)
	h.UpdatedAt = e.now().UTC()

	rec := e.todayRecord(h, today)
	prevRec, hadRec := e.completions.Set(rec)
	e.recomputeStreakLocked(&h, today)
	e.habits[h.ID] = h

	ra := e.newAction(models.ActionRecordCompletion, h.ID)
	ra.Completion = &rec
	ha := e.newAction(models.ActionUpdateHabit, h.ID)
	ha.Habit = ptr(h.Clone())

	m := &mutation{
		name:    o.opName(),
		habitID: h.ID,
		lane:    "habit:" + h.ID,
		actions: []models.PendingAction{ra, ha},
		undo: func() {
			e.habits[prev.ID] = prev
			e.restoreRecord(prev.ID, today, prevRec, hadRec)
		},
	}
	return m, Result{Habit: h.Clone(), Previous: prev.Clone()}, nil
}

// todayRecord is the record matching h's current counters. A zero count
// yields a record that deletes the row.
func (e *Engine) todayRecord(h models.Habit, today string) models.CompletionRecord {
	return models.CompletionRecord{
		UserID:          e.userID,
		HabitID:         h.ID,
		Date:            today,
		CompletionCount: h.CompletionsToday,
		DailyGoal:       h.DailyGoal,
		UpdatedAt:       e.now().UTC(),
	}
}

func (e *Engine) restoreRecord(habitID, date string, prev models.CompletionRecord, existed bool) {
	if existed {
		e.completions.Set(prev)
		return
	}
	e.completions.Set(models.CompletionRecord{HabitID: habitID, Date: date})
}

// ShiftDays closes out days elapsed local days for every habit, the first
// of them being closed. The history ring takes closed's outcome from the
// completion log and a miss for each further day, today's counters reset,
// and the streak is recomputed from the log. The writes are never reverted;
// a failure queues them.
func (e *Engine) ShiftDays(ctx context.Context, closed string, days int) error {
	if days <= 0 {
		return nil
	}
	e.mu.Lock()
	ids := make([]string, 0, len(e.habits))
	for id := range e.habits {
		ids = append(ids, id)
		// a refresh already under way must not install unshifted rows
		e.touchLocked("habit:" + id)
	}
	e.mu.Unlock()
	slices.Sort(ids)

	for _, id := range ids {
		e.mu.Lock()
		h, ok := e.habits[id]
		if !ok {
			e.mu.Unlock()
			continue
		}
		h = h.Clone()
		rec, _ := e.completions.Get(id, closed)
		shiftHistory(&h, rec.Satisfied(), days)
		h.SetCompletions(0)
		h.UpdatedAt = e.now().UTC()
		e.recomputeStreakLocked(&h, e.Today())
		e.habits[id] = h

		a := e.newAction(models.ActionUpdateHabit, id)
		a.Habit = ptr(h.Clone())
		m := &mutation{name: "rollover", habitID: id, lane: "habit:" + id, actions: []models.PendingAction{a}}
		if _, err := e.commit(ctx, m); err != nil {
			return fmt.Errorf("sync: rollover habit %s: %w", id, err)
		}
	}
	e.log.Info("Shifted habit history", "closed", closed, "days", days, "habits", len(ids))
	return nil
}

func shiftHistory(h *models.Habit, closedDone bool, days int) {
	for i := 0; i < days && i < constants.HistoryLen+1; i++ {
		v := 0
		if i == 0 && closedDone {
			v = 1
		}
		copy(h.History[:], h.History[1:])
		h.History[constants.HistoryLen-1] = v
	}
}

// UpdateSpirit applies fn to the gamification state and writes the result
// along with any companion rows whose days or unlocks changed. A user with
// no state yet starts from onboarding defaults. A rejected online write is
// reverted. fn runs under the engine lock and must not call the Engine.
func (e *Engine) UpdateSpirit(ctx context.Context, fn func(*models.Spirit) error) (models.Spirit, error) {
	return e.updateSpirit(ctx, fn, true)
}

// UpdateSpiritDurable is UpdateSpirit for changes that must not be undone,
// such as closing out a day. Any remote failure queues the write.
func (e *Engine) UpdateSpiritDurable(ctx context.Context, fn func(*models.Spirit) error) (models.Spirit, error) {
	return e.updateSpirit(ctx, fn, false)
}

func (e *Engine) updateSpirit(ctx context.Context, fn func(*models.Spirit) error, revertable bool) (models.Spirit, error) {
	e.mu.Lock()
	prevPtr := e.spirit
	var cur models.Spirit
	if prevPtr != nil {
		cur = prevPtr.Clone()
	} else {
		cur = models.NewSpirit(e.userID, constants.DefaultCompanionID, e.now().UTC())
	}
	next := cur.Clone()
	if err := fn(&next); err != nil {
		e.mu.Unlock()
		return cur, err
	}
	next.UserID = e.userID
	e.spirit = &next

	now := e.now().UTC()
	sa := e.newAction(models.ActionUpsertSpirit, "")
	sa.Spirit = ptr(next.Clone())
	actions := []models.PendingAction{sa}
	for _, id := range changedSkins(prevPtr, next) {
		ka := e.newAction(models.ActionUpsertSkin, "")
		ka.Skin = &models.SkinProgress{UserID: e.userID, SkinID: id, DaysActive: next.CompanionDays[id], UnlockedAt: now}
		actions = append(actions, ka)
	}

	m := &mutation{name: "update_spirit", lane: "spirit", actions: actions}
	if revertable {
		m.undo = func() { e.spirit = prevPtr }
	}
	out := next.Clone()
	if _, err := e.commit(ctx, m); err != nil {
		return cur, err
	}
	return out, nil
}

// changedSkins lists companions whose row must be written: newly unlocked
// ones and ones whose days-active moved.
func changedSkins(prev *models.Spirit, next models.Spirit) []string {
	var before models.Spirit
	if prev != nil {
		before = *prev
	}
	set := map[string]bool{}
	for _, id := range next.UnlockedCompanionIDs {
		if prev == nil || !before.IsUnlocked(id) {
			set[id] = true
		}
	}
	for id, days := range next.CompanionDays {
		if before.CompanionDays[id] != days {
			set[id] = true
		}
	}
	return slices.Sorted(maps.Keys(set))
}

func ptr[T any](v T) *T {
	return &v
}
