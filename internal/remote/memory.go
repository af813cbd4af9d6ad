package remote

import (
	"context"
	"fmt"
	"sort"
	stdsync "sync"
	"time"

	"github.com/julianstephens/hagotchi/internal/constants"
	"github.com/julianstephens/hagotchi/internal/models"
)

// Hook runs before every MemoryStore call. A non-nil error fails the call.
// op is the method name, key the row it touches ("" for list calls).
type Hook func(ctx context.Context, op, key string) error

// MemoryStore is an in-process Store. It backs tests and the CLI's --offline
// demo mode, and can simulate outages and rejected writes.
type MemoryStore struct {
	mu          stdsync.Mutex
	habits      map[string]models.Habit
	completions map[string]models.CompletionRecord
	spirits     map[string]models.Spirit
	skins       map[string]models.SkinProgress
	offline     bool
	hook        Hook
	writes      []string
	subs        map[int]memorySub
	nextSub     int
	now         func() time.Time
}

type memorySub struct {
	userID string
	ch     chan models.ChangeEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		habits:      map[string]models.Habit{},
		completions: map[string]models.CompletionRecord{},
		spirits:     map[string]models.Spirit{},
		skins:       map[string]models.SkinProgress{},
		subs:        map[int]memorySub{},
		now:         time.Now,
	}
}

// SetOffline makes every call fail with ErrUnreachable while true.
func (m *MemoryStore) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// SetHook installs h, replacing any previous hook. nil removes it.
func (m *MemoryStore) SetHook(h Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = h
}

// Writes returns the keys of successful writes in the order they landed.
func (m *MemoryStore) Writes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.writes...)
}

// before runs the offline check and hook without holding the lock, so hooks
// may block.
func (m *MemoryStore) before(ctx context.Context, op, key string) error {
	m.mu.Lock()
	offline, hook := m.offline, m.hook
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if offline {
		return fmt.Errorf("%w: %s", ErrUnreachable, op)
	}
	if hook != nil {
		if err := hook(ctx, op, key); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func habitKey(userID, id string) string {
	return userID + "/" + id
}

func completionKey(userID, habitID, date string) string {
	return userID + "/" + habitID + "/" + date
}

// publish records the write and fans it out. Callers hold m.mu.
func (m *MemoryStore) publish(table models.ChangeTable, op, userID, entityID, key string) {
	m.writes = append(m.writes, key)
	ev := models.ChangeEvent{Table: table, Op: op, UserID: userID, EntityID: entityID, At: m.now().UTC()}
	for _, sub := range m.subs {
		if sub.userID != userID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// slow subscriber; it will catch up on its next refresh
		}
	}
}

func (m *MemoryStore) ListHabits(ctx context.Context, userID string) ([]models.Habit, error) {
	if err := m.before(ctx, "ListHabits", ""); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var habits []models.Habit
	for _, h := range m.habits {
		if h.UserID == userID {
			habits = append(habits, h.Clone())
		}
	}
	models.SortHabits(habits)
	return habits, nil
}

func (m *MemoryStore) UpsertHabit(ctx context.Context, h models.Habit) error {
	key := "habit:" + h.ID
	if err := m.before(ctx, "UpsertHabit", key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	op := "INSERT"
	if _, ok := m.habits[habitKey(h.UserID, h.ID)]; ok {
		op = "UPDATE"
	}
	m.habits[habitKey(h.UserID, h.ID)] = h.Clone()
	m.publish(models.TableHabits, op, h.UserID, h.ID, key)
	return nil
}

func (m *MemoryStore) DeleteHabit(ctx context.Context, userID, habitID string) error {
	key := "habit:" + habitID
	if err := m.before(ctx, "DeleteHabit", key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, r := range m.completions {
		if r.UserID == userID && r.HabitID == habitID {
			delete(m.completions, k)
		}
	}
	delete(m.habits, habitKey(userID, habitID))
	m.publish(models.TableHabits, "DELETE", userID, habitID, key)
	return nil
}

func (m *MemoryStore) ListCompletions(ctx context.Context, userID, start, end string) ([]models.CompletionRecord, error) {
	if err := m.before(ctx, "ListCompletions", ""); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var records []models.CompletionRecord
	for _, r := range m.completions {
		if r.UserID != userID {
			continue
		}
		if (start != "" && r.Date < start) || (end != "" && r.Date > end) {
			continue
		}
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Date != records[j].Date {
			return records[i].Date < records[j].Date
		}
		return records[i].HabitID < records[j].HabitID
	})
	return records, nil
}

func (m *MemoryStore) UpsertCompletion(ctx context.Context, rec models.CompletionRecord) error {
	if rec.CompletionCount <= 0 {
		return m.DeleteCompletion(ctx, rec.UserID, rec.HabitID, rec.Date)
	}
	key := "completion:" + rec.HabitID + ":" + rec.Date
	if err := m.before(ctx, "UpsertCompletion", key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	k := completionKey(rec.UserID, rec.HabitID, rec.Date)
	op := "INSERT"
	if _, ok := m.completions[k]; ok {
		op = "UPDATE"
	}
	m.completions[k] = rec
	m.publish(models.TableCompletions, op, rec.UserID, rec.HabitID, key)
	return nil
}

func (m *MemoryStore) DeleteCompletion(ctx context.Context, userID, habitID, date string) error {
	key := "completion:" + habitID + ":" + date
	if err := m.before(ctx, "DeleteCompletion", key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.completions, completionKey(userID, habitID, date))
	m.publish(models.TableCompletions, "DELETE", userID, habitID, key)
	return nil
}

func (m *MemoryStore) GetSpirit(ctx context.Context, userID string) (models.Spirit, error) {
	if err := m.before(ctx, "GetSpirit", "spirit"); err != nil {
		return models.Spirit{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	sp, ok := m.spirits[userID]
	if !ok {
		return models.Spirit{}, ErrNotFound
	}
	sp = sp.Clone()
	sp.CompanionDays = map[string]int{}
	for _, sk := range m.skins {
		if sk.UserID == userID {
			sp.CompanionDays[sk.SkinID] = sk.DaysActive
		}
	}
	return sp, nil
}

func (m *MemoryStore) UpsertSpirit(ctx context.Context, sp models.Spirit) error {
	if err := m.before(ctx, "UpsertSpirit", "spirit"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	op := "INSERT"
	if _, ok := m.spirits[sp.UserID]; ok {
		op = "UPDATE"
	}
	m.spirits[sp.UserID] = sp.Clone()
	m.publish(models.TableSpirit, op, sp.UserID, sp.UserID, "spirit")
	return nil
}

func (m *MemoryStore) ListSkins(ctx context.Context, userID string) ([]models.SkinProgress, error) {
	if err := m.before(ctx, "ListSkins", ""); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var skins []models.SkinProgress
	for _, sk := range m.skins {
		if sk.UserID == userID {
			skins = append(skins, sk)
		}
	}
	sort.Slice(skins, func(i, j int) bool { return skins[i].SkinID < skins[j].SkinID })
	return skins, nil
}

func (m *MemoryStore) UpsertSkin(ctx context.Context, skin models.SkinProgress) error {
	key := "skin:" + skin.SkinID
	if err := m.before(ctx, "UpsertSkin", key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	k := habitKey(skin.UserID, skin.SkinID)
	op := "INSERT"
	if prev, ok := m.skins[k]; ok {
		op = "UPDATE"
		skin.UnlockedAt = prev.UnlockedAt
	}
	m.skins[k] = skin
	m.publish(models.TableSkins, op, skin.UserID, skin.SkinID, key)
	return nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, userID string) (<-chan models.ChangeEvent, error) {
	if err := m.before(ctx, "Subscribe", ""); err != nil {
		return nil, err
	}
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	ch := make(chan models.ChangeEvent, constants.ChangeFeedBuffer)
	m.subs[id] = memorySub{userID: userID, ch: ch}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs, id)
		close(ch)
		m.mu.Unlock()
	}()
	return ch, nil
}
