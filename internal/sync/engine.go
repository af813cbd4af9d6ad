// Package sync keeps the local habit state and the remote store in step.
// Mutations apply optimistically in memory and in the local cache, then go
// to the remote store directly when online or through a durable FIFO queue
// when not.
package sync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	stdsync "sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/julianstephens/hagotchi/internal/cache"
	"github.com/julianstephens/hagotchi/internal/completion"
	"github.com/julianstephens/hagotchi/internal/constants"
	apperrors "github.com/julianstephens/hagotchi/internal/errors"
	"github.com/julianstephens/hagotchi/internal/logger"
	"github.com/julianstephens/hagotchi/internal/models"
	"github.com/julianstephens/hagotchi/internal/remote"
	"github.com/julianstephens/hagotchi/internal/streak"
	"github.com/julianstephens/hagotchi/internal/utils"
)

// ErrHabitNotFound is returned for mutations naming an unknown habit.
var ErrHabitNotFound = errors.New("habit not found")

// Config holds the options for NewEngine.
type Config struct {
	UserID string
	Remote remote.Store
	Cache  *cache.Cache
	Logger *log.Logger

	InitialLoadTimeout time.Duration
	FlushActionTimeout time.Duration
	FlushInterval      time.Duration
	RefreshTimeout     time.Duration

	// Now and Location define "today". Defaults: time.Now, time.Local.
	Now      func() time.Time
	Location *time.Location
	// NewID mints habit and action ids. Default: uuid.NewString.
	NewID func() string
}

// Engine is the single writer of the remote store for one user.
type Engine struct {
	userID       string
	remote       remote.Store
	cache        *cache.Cache
	log          *log.Logger
	now          func() time.Time
	loc          *time.Location
	newID        func() string
	loadTimeout  time.Duration
	flushTimeout time.Duration
	flushEvery   time.Duration
	refreshEvery time.Duration

	mu          stdsync.Mutex
	habits      map[string]models.Habit
	completions *completion.Store
	spirit      *models.Spirit
	queue       []models.PendingAction
	online      bool
	held        bool // SetOnline(false) in effect; reconnect attempts leave it offline
	flushingID  string
	seq         uint64                // last Seq handed to a mutation
	stored      map[string]bool       // action ids in the cached queue as of our last read or write
	versions    map[string]uint64    // per lane, bumped on every local change
	lastLocal   map[string]time.Time // per lane, time of the last local change
	inflight    map[string]int       // per lane, remote writes not yet settled

	lanes   *lanes
	sf      singleflight.Group
	kick    chan struct{}
	updates chan struct{}
	bg      stdsync.WaitGroup
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.UserID == "" {
		return nil, fmt.Errorf("sync: engine requires a user id")
	}
	if cfg.Remote == nil || cfg.Cache == nil {
		return nil, fmt.Errorf("sync: engine requires a remote store and a cache")
	}

	e := &Engine{
		userID:       cfg.UserID,
		remote:       cfg.Remote,
		cache:        cfg.Cache,
		log:          cfg.Logger,
		now:          cfg.Now,
		loc:          cfg.Location,
		newID:        cfg.NewID,
		loadTimeout:  cfg.InitialLoadTimeout,
		flushTimeout: cfg.FlushActionTimeout,
		flushEvery:   cfg.FlushInterval,
		refreshEvery: cfg.RefreshTimeout,
		habits:       map[string]models.Habit{},
		completions:  completion.NewStore(nil),
		online:       true,
		versions:     map[string]uint64{},
		lastLocal:    map[string]time.Time{},
		stored:       map[string]bool{},
		inflight:     map[string]int{},
		lanes:        newLanes(),
		kick:         make(chan struct{}, 1),
		updates:      make(chan struct{}, 1),
	}
	if e.log == nil {
		e.log = logger.With("component", "sync")
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.loc == nil {
		e.loc = time.Local
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	if e.loadTimeout <= 0 {
		e.loadTimeout = constants.DefaultInitialLoadTimeout
	}
	if e.flushTimeout <= 0 {
		e.flushTimeout = constants.DefaultFlushActionTimeout
	}
	if e.flushEvery <= 0 {
		e.flushEvery = constants.DefaultFlushInterval
	}
	if e.refreshEvery <= 0 {
		e.refreshEvery = constants.DefaultRefreshTimeout
	}

	if err := e.cache.Init(cfg.UserID); err != nil {
		return nil, fmt.Errorf("sync: init cache: %w", err)
	}
	return e, nil
}

// Today is the local calendar date in the engine's location.
func (e *Engine) Today() string {
	return utils.DateIn(e.now(), e.loc)
}

// Now is the engine's clock.
func (e *Engine) Now() time.Time {
	return e.now()
}

// Location is the timezone that defines the local day.
func (e *Engine) Location() *time.Location {
	return e.loc
}

// UserID is the user the engine syncs.
func (e *Engine) UserID() string {
	return e.userID
}

// Habits returns the current habits in display order.
func (e *Engine) Habits() []models.Habit {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.habitListLocked()
}

func (e *Engine) habitListLocked() []models.Habit {
	out := make([]models.Habit, 0, len(e.habits))
	for _, h := range e.habits {
		out = append(out, h.Clone())
	}
	models.SortHabits(out)
	return out
}

// Habit returns one habit.
func (e *Engine) Habit(id string) (models.Habit, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.habits[id]
	return h.Clone(), ok
}

// Completions returns the whole completion log.
func (e *Engine) Completions() []models.CompletionRecord {
	return e.completions.All()
}

// CompletionsFor returns one habit's records, oldest first.
func (e *Engine) CompletionsFor(habitID string) []models.CompletionRecord {
	return e.completions.ForHabit(habitID)
}

// Spirit returns the gamification state, if one exists yet.
func (e *Engine) Spirit() (models.Spirit, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.spirit == nil {
		return models.Spirit{}, false
	}
	return e.spirit.Clone(), true
}

// Held reports whether SetOnline(false) is in effect.
func (e *Engine) Held() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.held
}

// Online reports whether writes go to the remote store directly.
func (e *Engine) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

// Pending returns a copy of the offline queue.
func (e *Engine) Pending() []models.PendingAction {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.PendingAction(nil), e.queue...)
}

// Updates signals after background work changed the local state, so the
// caller can recompute derived views. Signals coalesce.
func (e *Engine) Updates() <-chan struct{} {
	return e.updates
}

func (e *Engine) notify() {
	select {
	case e.updates <- struct{}{}:
	default:
	}
}

func (e *Engine) kickFlush() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Wait blocks until background refreshes started by the engine finish.
func (e *Engine) Wait() {
	e.bg.Wait()
}

// recomputeStreakLocked derives the habit's streak from the completion log.
func (e *Engine) recomputeStreakLocked(h *models.Habit, today string) {
	h.Streak = streak.Compute(e.completions.ForHabit(h.ID), today, streak.ConstantGoal(h.DailyGoal))
}

// persistLocked writes the full local snapshot. The cached queue is
// merged with ours first: other processes on the same cache may have
// queued or replayed actions since we last wrote it.
func (e *Engine) persistLocked() error {
	var adopted int
	err := e.cache.UpdateSnapshot(func(stored []models.PendingAction) cache.Snapshot {
		adopted = e.mergeQueueLocked(stored)
		snap := cache.Snapshot{
			Habits:      e.habitListLocked(),
			Completions: e.completions.All(),
			Queue:       e.queue,
		}
		if e.spirit != nil {
			sp := e.spirit.Clone()
			snap.Spirit = &sp
		}
		return snap
	})
	if err != nil {
		return fmt.Errorf("sync: persist local snapshot: %w", err)
	}
	e.stored = queueIDs(e.queue)
	if adopted > 0 {
		e.log.Info("Adopted actions queued by another session", "count", adopted, "pending", len(e.queue))
		e.notify()
		if e.online {
			e.kickFlush()
		}
	}
	return nil
}

// mergeQueueLocked reconciles e.queue with the cached queue and returns how
// many actions it adopted. An action we wrote that is gone from the cache
// was replayed elsewhere and leaves our queue, unless it is the head under
// replay. An action in the cache we never saw was queued elsewhere; it joins
// the tail and its change is applied to local state.
func (e *Engine) mergeQueueLocked(stored []models.PendingAction) int {
	onDisk := queueIDs(stored)
	ours := queueIDs(e.queue)

	kept := make([]models.PendingAction, 0, len(e.queue)+len(stored))
	for _, a := range e.queue {
		if e.stored[a.ID] && !onDisk[a.ID] && a.ID != e.flushingID {
			e.log.Debug("Dropping action replayed by another session", "id", a.ID, "type", a.Type)
			continue
		}
		kept = append(kept, a)
	}
	adopted := 0
	for _, a := range e.wellDatedActions(stored) {
		if ours[a.ID] || e.stored[a.ID] {
			continue
		}
		e.seq++
		a.Seq = e.seq
		e.adoptLocked(a)
		kept = append(kept, a)
		adopted++
	}
	e.queue = kept
	return adopted
}

// adoptLocked applies a queued action from another session to local state.
func (e *Engine) adoptLocked(a models.PendingAction) {
	switch a.Type {
	case models.ActionCreateHabit, models.ActionUpdateHabit:
		e.habits[a.Habit.ID] = a.Habit.Clone()
	case models.ActionDeleteHabit:
		delete(e.habits, a.HabitID)
		e.completions.DeleteHabit(a.HabitID)
	case models.ActionRecordCompletion:
		e.completions.Set(*a.Completion)
	case models.ActionUpsertSpirit:
		sp := a.Spirit.Clone()
		e.spirit = &sp
	}
	h, ok := e.habits[a.HabitID]
	if !ok {
		return
	}
	today := e.Today()
	count := 0
	if rec, ok := e.completions.Get(h.ID, today); ok {
		count = rec.CompletionCount
	}
	h.SetCompletions(count)
	e.recomputeStreakLocked(&h, today)
	e.habits[h.ID] = h
}

func queueIDs(queue []models.PendingAction) map[string]bool {
	ids := make(map[string]bool, len(queue))
	for _, a := range queue {
		ids[a.ID] = true
	}
	return ids
}

// touchLocked records a local change on lane and returns its new version.
func (e *Engine) touchLocked(lane string) uint64 {
	e.versions[lane]++
	e.lastLocal[lane] = e.now()
	return e.versions[lane]
}

// apply sends one action to the remote store.
func (e *Engine) apply(ctx context.Context, a models.PendingAction) error {
	switch a.Type {
	case models.ActionCreateHabit, models.ActionUpdateHabit:
		return e.remote.UpsertHabit(ctx, *a.Habit)
	case models.ActionDeleteHabit:
		return e.remote.DeleteHabit(ctx, e.userID, a.HabitID)
	case models.ActionRecordCompletion:
		return e.remote.UpsertCompletion(ctx, *a.Completion)
	case models.ActionUpsertSpirit:
		return e.remote.UpsertSpirit(ctx, *a.Spirit)
	case models.ActionUpsertSkin:
		return e.remote.UpsertSkin(ctx, *a.Skin)
	}
	return fmt.Errorf("unknown action type %q", a.Type)
}

func (e *Engine) applyWithTimeout(ctx context.Context, a models.PendingAction) error {
	ctx, cancel := context.WithTimeout(ctx, e.flushTimeout)
	defer cancel()
	return e.apply(ctx, a)
}

// mutation is one optimistic change ready to be routed.
type mutation struct {
	name    string
	habitID string
	lane    string
	actions []models.PendingAction
	version uint64
	// undo restores the pre-change state. It runs with e.mu held. A nil
	// undo means the change must never be reverted: failures queue it.
	undo func()
}

func (e *Engine) newAction(t models.ActionType, habitID string) models.PendingAction {
	return models.PendingAction{ID: e.newID(), Type: t, HabitID: habitID, QueuedAt: e.now().UTC()}
}

// commit persists an already applied mutation and routes its actions. It is
// called with e.mu held and returns with it released.
func (e *Engine) commit(ctx context.Context, m *mutation) (queued bool, err error) {
	m.version = e.touchLocked(m.lane)
	e.seq++
	for i := range m.actions {
		m.actions[i].Seq = e.seq
	}

	direct := e.online && len(e.queue) == 0
	var before []models.PendingAction
	if !direct {
		before = cloneQueue(e.queue)
		e.enqueueLocked(m.actions...)
	}
	if err := e.persistLocked(); err != nil {
		if !direct {
			e.queue = before
		}
		if m.undo != nil {
			m.undo()
			e.touchLocked(m.lane)
		}
		e.mu.Unlock()
		return false, err
	}
	if !direct {
		pending := len(e.queue)
		e.mu.Unlock()
		e.log.Debug("Queued mutation", "op", m.name, "habit", m.habitID, "pending", pending)
		e.kickFlush()
		return true, nil
	}

	wait, release := e.lanes.enter(m.lane)
	e.inflight[m.lane]++
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.inflight[m.lane]--
		if e.inflight[m.lane] <= 0 {
			delete(e.inflight, m.lane)
		}
		e.mu.Unlock()
		release()
	}()
	if wait != nil {
		<-wait
	}

	for i, a := range m.actions {
		e.mu.Lock()
		offline := !e.online || len(e.queue) > 0
		e.mu.Unlock()
		if offline {
			// an earlier write on this lane lost the connection
			return true, e.enqueueRemaining(m, m.actions[i:])
		}

		err := e.applyWithTimeout(ctx, a)
		if err == nil {
			continue
		}
		if remote.IsUnreachable(err) || m.undo == nil {
			if remote.IsUnreachable(err) {
				e.setOffline(err)
			}
			return true, e.enqueueRemaining(m, m.actions[i:])
		}

		e.log.Warn("Remote write rejected, reverting", "op", m.name, "habit", m.habitID, "action", a.Type, "error", err)
		if !e.revert(m) || i > 0 {
			// part of the mutation landed, or a newer change owns the lane
			e.refreshAsync()
		}
		return false, &apperrors.RemoteWriteError{Action: m.name, HabitID: m.habitID, Err: err}
	}

	_ = e.cache.SetLastSync(e.now())
	return false, nil
}

func (e *Engine) enqueueRemaining(m *mutation, actions []models.PendingAction) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requeueLocked(actions...)
	e.log.Info("Mutation queued for replay", "op", m.name, "habit", m.habitID, "pending", len(e.queue))
	if err := e.persistLocked(); err != nil {
		// Memory still holds the queue; the next successful persist saves it.
		e.log.Error("Failed to persist queue", "error", err)
	}
	return nil
}

// MarkUnreachable switches to queueing after the remote store failed
// outside a write, e.g. at connect time. Run lifts it once the store answers.
func (e *Engine) MarkUnreachable(cause error) {
	e.setOffline(cause)
}

func (e *Engine) setOffline(cause error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.online {
		e.log.Warn("Going offline", "error", cause)
	}
	e.online = false
}

// revert undoes m unless a later local change touched the same lane, in
// which case that change already superseded m's state. It reports whether
// the undo ran.
func (e *Engine) revert(m *mutation) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.versions[m.lane] != m.version {
		e.log.Debug("Skipping revert of superseded mutation", "op", m.name, "habit", m.habitID)
		return false
	}
	m.undo()
	e.touchLocked(m.lane)
	if err := e.persistLocked(); err != nil {
		e.log.Error("Failed to persist revert", "error", err)
	}
	return true
}

func cloneQueue(q []models.PendingAction) []models.PendingAction {
	out := make([]models.PendingAction, len(q))
	copy(out, q)
	return out
}

// enqueueLocked appends actions, folding a completion write into an earlier
// queued write of the same (habit, date) when nothing in between could
// depend on the intermediate value.
func (e *Engine) enqueueLocked(actions ...models.PendingAction) {
	for _, a := range actions {
		if a.Type == models.ActionRecordCompletion && e.coalesceLocked(a) {
			continue
		}
		e.queue = append(e.queue, a)
	}
}

func (e *Engine) coalesceLocked(a models.PendingAction) bool {
	key, lane := a.EntityKey(), a.LaneKey()
	for i := len(e.queue) - 1; i >= 0; i-- {
		q := e.queue[i]
		if q.LaneKey() != lane {
			continue
		}
		if q.Type == models.ActionCreateHabit || q.Type == models.ActionDeleteHabit {
			return false
		}
		if q.Type == models.ActionRecordCompletion && q.EntityKey() == key {
			if q.Seq > a.Seq {
				// a newer count is already queued
				return true
			}
			if q.ID == e.flushingID {
				return false
			}
			rec := *a.Completion
			// the rewritten action takes a's id so a cached copy under the
			// old one reads as replayed, not as ours
			e.queue[i].ID = a.ID
			e.queue[i].Seq = a.Seq
			e.queue[i].Completion = &rec
			return true
		}
	}
	return false
}

// requeueLocked queues the unsent actions of a direct write that lost the
// connection. They go ahead of any newer queued action on the same lane so
// replay keeps mutation order, and are dropped when a newer queued action
// rewrites the same row anyway. The head under replay is never displaced.
func (e *Engine) requeueLocked(actions ...models.PendingAction) {
	from := 0
	if e.flushingID != "" && len(e.queue) > 0 && e.queue[0].ID == e.flushingID {
		from = 1
	}
	for _, a := range actions {
		if e.supersededLocked(a) {
			e.log.Debug("Dropping superseded action", "id", a.ID, "type", a.Type, "habit", a.HabitID)
			continue
		}
		at := len(e.queue)
		for i := from; i < len(e.queue); i++ {
			if q := e.queue[i]; q.LaneKey() == a.LaneKey() && q.Seq > a.Seq {
				at = i
				break
			}
		}
		if at == len(e.queue) {
			e.enqueueLocked(a)
			from = len(e.queue)
			continue
		}
		e.queue = slices.Insert(e.queue, at, a)
		from = at + 1
	}
}

func (e *Engine) supersededLocked(a models.PendingAction) bool {
	for _, q := range e.queue {
		if q.Seq > a.Seq && q.Rewrites(a) {
			return true
		}
	}
	return false
}

// setQueueLocked installs a queue read from the cache and moves the Seq
// counter past it.
func (e *Engine) setQueueLocked(queue []models.PendingAction) {
	e.queue = queue
	e.stored = queueIDs(queue)
	for _, a := range queue {
		e.seq = max(e.seq, a.Seq)
	}
}

// FlushQueue replays queued actions in order. It stops at the first failure
// and returns a QueueReplayError; the failed action and everything behind it
// stay queued. Concurrent calls share one flush.
func (e *Engine) FlushQueue(ctx context.Context) error {
	_, err, _ := e.sf.Do("flush", func() (any, error) {
		return nil, e.flush(ctx)
	})
	return err
}

func (e *Engine) flush(ctx context.Context) error {
	flushed := 0
	defer func() {
		if flushed > 0 {
			e.log.Info("Flushed queued actions", "count", flushed)
			_ = e.cache.SetLastSync(e.now())
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		e.mu.Lock()
		if !e.online || len(e.queue) == 0 {
			e.mu.Unlock()
			return nil
		}
		head := e.queue[0]
		if err := head.Validate(); err != nil {
			e.log.Error("Dropping malformed queued action", "id", head.ID, "error", err)
			e.queue = e.queue[1:]
			_ = e.persistLocked()
			e.mu.Unlock()
			continue
		}
		e.flushingID = head.ID
		wait, release := e.lanes.enter(head.LaneKey())
		e.mu.Unlock()

		if wait != nil {
			<-wait
		}
		err := e.applyWithTimeout(ctx, head)
		release()

		e.mu.Lock()
		e.flushingID = ""
		if err != nil {
			remaining := len(e.queue)
			e.mu.Unlock()
			if remote.IsUnreachable(err) {
				e.setOffline(err)
			}
			e.log.Warn("Queue replay halted", "id", head.ID, "type", head.Type, "pending", remaining, "error", err)
			return &apperrors.QueueReplayError{ActionID: head.ID, Action: string(head.Type), Remaining: remaining, Err: err}
		}
		if len(e.queue) > 0 && e.queue[0].ID == head.ID {
			e.queue = e.queue[1:]
		}
		if err := e.persistLocked(); err != nil {
			e.log.Error("Failed to persist queue after replay", "error", err)
		}
		e.mu.Unlock()
		flushed++
	}
}

// SetOnline switches between direct writes and queueing. Coming online
// flushes the queue and returns the flush result.
// Going offline this way holds until SetOnline(true); background reconnect
// reconnect attempts do not lift it.
func (e *Engine) SetOnline(ctx context.Context, online bool) error {
	e.mu.Lock()
	was := e.online
	e.online = online
	e.held = !online
	e.mu.Unlock()

	if online && !was {
		e.log.Info("Back online, replaying queue")
	}
	if online {
		return e.FlushQueue(ctx)
	}
	return nil
}
