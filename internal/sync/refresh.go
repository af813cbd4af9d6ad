package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/julianstephens/hagotchi/internal/errors"
	"github.com/julianstephens/hagotchi/internal/models"
	"github.com/julianstephens/hagotchi/internal/remote"
	"github.com/julianstephens/hagotchi/internal/utils"
)

// remoteState is one consistent fetch of everything the engine mirrors.
type remoteState struct {
	habits      []models.Habit
	completions []models.CompletionRecord
	spirit      *models.Spirit
}

func (e *Engine) fetch(ctx context.Context) (remoteState, error) {
	var st remoteState
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		habits, err := e.remote.ListHabits(gctx, e.userID)
		if err != nil {
			return fmt.Errorf("list habits: %w", err)
		}
		st.habits = habits
		return nil
	})
	g.Go(func() error {
		records, err := e.remote.ListCompletions(gctx, e.userID, "", "")
		if err != nil {
			return fmt.Errorf("list completions: %w", err)
		}
		st.completions = records
		return nil
	})
	g.Go(func() error {
		sp, err := e.remote.GetSpirit(gctx, e.userID)
		if errors.Is(err, remote.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get spirit: %w", err)
		}
		st.spirit = &sp
		return nil
	})
	if err := g.Wait(); err != nil {
		return remoteState{}, err
	}
	return st, nil
}

// LoadInitial makes local state available. With a cached snapshot it
// returns at once and refreshes in the background. Without one it blocks on
// the remote store for at most InitialLoadTimeout and returns a
// *errors.ConnectionError on failure, leaving the cache untouched.
func (e *Engine) LoadInitial(ctx context.Context) ([]models.Habit, error) {
	habits, ok, err := e.cache.Habits()
	if err != nil {
		e.log.Warn("Cached habits unreadable, loading from remote", "error", err)
		ok = false
	}
	if ok {
		if err := e.loadCached(habits); err != nil {
			return nil, err
		}
		out := e.Habits()
		e.refreshAsync()
		return out, nil
	}

	lctx, cancel := context.WithTimeout(ctx, e.loadTimeout)
	defer cancel()
	start := e.now()
	st, err := e.fetch(lctx)
	if err != nil {
		e.log.Error("Initial load failed", "error", err)
		return nil, &apperrors.ConnectionError{Op: "initial load", Err: err}
	}
	queue, err := e.cache.PendingActions()
	if err != nil {
		return nil, fmt.Errorf("sync: read pending actions: %w", err)
	}

	e.mu.Lock()
	e.setQueueLocked(e.wellDatedActions(queue))
	e.installLocked(st, start)
	err = e.persistLocked()
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	_ = e.cache.SetLastSync(e.now())
	e.log.Info("Loaded state from remote", "habits", len(st.habits), "completions", len(st.completions))
	return e.Habits(), nil
}

func (e *Engine) loadCached(habits []models.Habit) error {
	records, _, err := e.cache.Completions()
	if err != nil {
		return fmt.Errorf("sync: read cached completions: %w", err)
	}
	queue, err := e.cache.PendingActions()
	if err != nil {
		return fmt.Errorf("sync: read pending actions: %w", err)
	}
	sp, hasSpirit, err := e.cache.Spirit()
	if err != nil {
		return fmt.Errorf("sync: read cached spirit: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.habits = make(map[string]models.Habit, len(habits))
	for _, h := range habits {
		e.habits[h.ID] = h
	}
	records = e.wellDated(records, "cache")
	e.completions.Replace(records)
	e.setQueueLocked(e.wellDatedActions(queue))
	if hasSpirit {
		e.spirit = &sp
	}
	e.log.Debug("Loaded state from cache", "habits", len(habits), "completions", len(records), "pending", len(queue))
	return nil
}

// Refresh refetches remote state and merges it under local changes the
// remote store has not seen yet: queued actions are replayed on top, and
// rows with a write in flight or a local change made after the fetch began
// keep their local version. Concurrent calls share one fetch.
func (e *Engine) Refresh(ctx context.Context) error {
	_, err, _ := e.sf.Do("refresh", func() (any, error) {
		return nil, e.refresh(ctx)
	})
	return err
}

func (e *Engine) refresh(ctx context.Context) error {
	start := e.now()
	st, err := e.fetch(ctx)
	if err != nil {
		if remote.IsUnreachable(err) {
			e.setOffline(err)
		}
		e.log.Warn("Background refresh failed, keeping local state", "error", err)
		return err
	}

	e.mu.Lock()
	e.installLocked(st, start)
	err = e.persistLocked()
	e.mu.Unlock()
	if err != nil {
		return err
	}
	_ = e.cache.SetLastSync(e.now())
	e.notify()
	return nil
}

// refreshAsync starts a background Refresh bounded by RefreshTimeout.
func (e *Engine) refreshAsync() {
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.refreshEvery)
		defer cancel()
		_ = e.Refresh(ctx)
	}()
}

// installLocked replaces local state with st merged under pending local
// changes. start is when the fetch began.
func (e *Engine) installLocked(st remoteState, start time.Time) {
	habits := make(map[string]models.Habit, len(st.habits))
	for _, h := range st.habits {
		habits[h.ID] = h
	}
	merged := newLogOverlay(e.wellDated(st.completions, "remote"))
	spirit := st.spirit

	// Lanes the fetch may not reflect keep what we have locally.
	for lane := range e.protectedLanesLocked(start) {
		if lane == "spirit" {
			spirit = e.spirit
			continue
		}
		id := lane[len("habit:"):]
		if h, ok := e.habits[id]; ok {
			habits[id] = h
		} else {
			delete(habits, id)
		}
		merged.replaceHabit(id, e.completions.ForHabit(id))
	}

	for _, a := range e.queue {
		switch a.Type {
		case models.ActionCreateHabit, models.ActionUpdateHabit:
			habits[a.Habit.ID] = a.Habit.Clone()
		case models.ActionDeleteHabit:
			delete(habits, a.HabitID)
			merged.replaceHabit(a.HabitID, nil)
		case models.ActionRecordCompletion:
			merged.set(*a.Completion)
		case models.ActionUpsertSpirit:
			sp := a.Spirit.Clone()
			spirit = &sp
		}
	}

	e.completions.Replace(merged.records())
	today := e.Today()
	e.habits = make(map[string]models.Habit, len(habits))
	for id, h := range habits {
		// today's counters follow today's record, never a stale habit row
		count := 0
		if rec, ok := e.completions.Get(id, today); ok {
			count = rec.CompletionCount
		}
		h.SetCompletions(count)
		e.recomputeStreakLocked(&h, today)
		e.habits[id] = h
	}
	if spirit != nil {
		sp := spirit.Clone()
		e.spirit = &sp
	}
}

// wellDated drops completion records whose date does not parse. Streak and
// grid arithmetic assume every date in the log is valid.
func (e *Engine) wellDated(records []models.CompletionRecord, source string) []models.CompletionRecord {
	out := make([]models.CompletionRecord, 0, len(records))
	for _, r := range records {
		if !utils.ValidateDateFormat(r.Date) {
			e.log.Warn("Dropping completion with malformed date", "source", source, "habit", r.HabitID, "date", r.Date)
			continue
		}
		out = append(out, r)
	}
	return out
}

// wellDatedActions drops queued completions whose date does not parse.
func (e *Engine) wellDatedActions(queue []models.PendingAction) []models.PendingAction {
	out := make([]models.PendingAction, 0, len(queue))
	for _, a := range queue {
		if a.Type == models.ActionRecordCompletion && a.Completion != nil && !utils.ValidateDateFormat(a.Completion.Date) {
			e.log.Warn("Dropping queued completion with malformed date", "id", a.ID, "habit", a.HabitID, "date", a.Completion.Date)
			continue
		}
		out = append(out, a)
	}
	return out
}

// protectedLanesLocked returns lanes with a remote write in flight or a
// local change at or after since.
func (e *Engine) protectedLanesLocked(since time.Time) map[string]bool {
	out := map[string]bool{}
	for lane, n := range e.inflight {
		if n > 0 {
			out[lane] = true
		}
	}
	for lane, at := range e.lastLocal {
		if !at.Before(since) {
			out[lane] = true
		}
	}
	return out
}

// logOverlay is a mutable copy of a fetched completion log.
type logOverlay struct {
	byKey map[models.CompletionKey]models.CompletionRecord
}

func newLogOverlay(records []models.CompletionRecord) *logOverlay {
	o := &logOverlay{byKey: make(map[models.CompletionKey]models.CompletionRecord, len(records))}
	for _, r := range records {
		o.set(r)
	}
	return o
}

func (o *logOverlay) set(r models.CompletionRecord) {
	if r.CompletionCount <= 0 {
		delete(o.byKey, r.Key())
		return
	}
	o.byKey[r.Key()] = r
}

func (o *logOverlay) replaceHabit(habitID string, records []models.CompletionRecord) {
	for k := range o.byKey {
		if k.HabitID == habitID {
			delete(o.byKey, k)
		}
	}
	for _, r := range records {
		o.set(r)
	}
}

func (o *logOverlay) records() []models.CompletionRecord {
	out := make([]models.CompletionRecord, 0, len(o.byKey))
	for _, r := range o.byKey {
		out = append(out, r)
	}
	return out
}

// Run drives background sync until ctx is done: it consumes the remote
// change feed, flushes the queue when kicked and on every FlushInterval
// tick, and checks the remote store while offline.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.flushEvery)
	defer ticker.Stop()

	events := e.subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			e.bg.Wait()
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			e.handleChange(ev)

		case <-e.kick:
			e.flushInBackground(ctx)

		case <-ticker.C:
			if events == nil {
				events = e.subscribe(ctx)
			}
			if e.Online() {
				e.flushInBackground(ctx)
				continue
			}
			if err := e.Refresh(ctx); err != nil {
				continue
			}
			if !e.Held() {
				_ = e.SetOnline(ctx, true)
			}
			e.notify()
		}
	}
}

func (e *Engine) subscribe(ctx context.Context) <-chan models.ChangeEvent {
	ch, err := e.remote.Subscribe(ctx, e.userID)
	if err != nil {
		e.log.Warn("Change feed unavailable, will retry", "error", err)
		return nil
	}
	return ch
}

func (e *Engine) flushInBackground(ctx context.Context) {
	if len(e.Pending()) == 0 {
		return
	}
	if err := e.FlushQueue(ctx); err != nil {
		e.log.Debug("Flush deferred", "error", err)
		return
	}
	e.notify()
}

// handleChange reacts to one change feed event. Events no newer than the
// last local change of the same entity are echoes of our own writes or
// stale, and are ignored.
func (e *Engine) handleChange(ev models.ChangeEvent) {
	if ev.Op == remote.OpResync {
		e.refreshAsync()
		return
	}
	lane := "habit:" + ev.EntityID
	switch ev.Table {
	case models.TableSpirit, models.TableStats, models.TableSkins:
		lane = "spirit"
	}

	e.mu.Lock()
	last, touched := e.lastLocal[lane]
	e.mu.Unlock()
	if touched && !ev.At.After(last) {
		e.log.Debug("Ignoring stale change event", "table", ev.Table, "entity", ev.EntityID)
		return
	}
	e.refreshAsync()
}
