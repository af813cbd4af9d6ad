// Package cache persists the last known sync state per user so the app can
// start offline and survive restarts with queued writes intact.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/julianstephens/hagotchi/internal/constants"
	"github.com/julianstephens/hagotchi/internal/logger"
	"github.com/julianstephens/hagotchi/internal/models"
)

// ErrNotInitialized is returned by every accessor before Init.
var ErrNotInitialized = errors.New("cache not initialized for a user")

// Snapshot is the sync state written after every mutation.
type Snapshot struct {
	Habits      []models.Habit
	Completions []models.CompletionRecord
	Queue       []models.PendingAction
	// Spirit is written only when set.
	Spirit *models.Spirit
}

// Cache is a typed view over a KV, scoped to the signed-in user. Absent keys
// read as "nothing cached", never as an error.
type Cache struct {
	kv     KV
	mu     stdsync.RWMutex
	userID string
}

func New(kv KV) *Cache {
	return &Cache{kv: kv}
}

// Init binds the cache to a user. Calling it again switches users.
func (c *Cache) Init(userID string) error {
	if userID == "" {
		return fmt.Errorf("cache init requires a user id")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	return nil
}

// Clear removes every entry for the current user and unbinds the cache.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userID == "" {
		return nil
	}
	if err := c.kv.DeleteUser(c.userID); err != nil {
		return err
	}
	c.userID = ""
	return nil
}

// UserID returns the bound user, or "" before Init.
func (c *Cache) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Cache) user() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.userID == "" {
		return "", ErrNotInitialized
	}
	return c.userID, nil
}

func (c *Cache) read(key string, v any) (bool, error) {
	user, err := c.user()
	if err != nil {
		return false, err
	}
	raw, ok, err := c.kv.Get(user, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("failed to decode cached %s: %w", key, err)
	}
	return true, nil
}

func (c *Cache) write(values map[string]any) error {
	user, err := c.user()
	if err != nil {
		return err
	}
	entries, err := encode(values)
	if err != nil {
		return err
	}
	return c.kv.PutMany(user, entries)
}

func encode(values map[string]any) (map[string][]byte, error) {
	entries := make(map[string][]byte, len(values))
	for key, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s for cache: %w", key, err)
		}
		entries[key] = raw
	}
	return entries, nil
}

// Habits returns the cached habit list and whether one was cached.
func (c *Cache) Habits() ([]models.Habit, bool, error) {
	var habits []models.Habit
	ok, err := c.read(constants.CacheKeyHabits, &habits)
	return habits, ok, err
}

func (c *Cache) SaveHabits(habits []models.Habit) error {
	return c.write(map[string]any{constants.CacheKeyHabits: habits})
}

// Completions returns the cached completion log.
func (c *Cache) Completions() ([]models.CompletionRecord, bool, error) {
	var records []models.CompletionRecord
	ok, err := c.read(constants.CacheKeyCompletions, &records)
	return records, ok, err
}

func (c *Cache) SaveCompletions(records []models.CompletionRecord) error {
	return c.write(map[string]any{constants.CacheKeyCompletions: records})
}

// PendingActions returns the persisted offline queue in order. A missing
// queue is empty.
func (c *Cache) PendingActions() ([]models.PendingAction, error) {
	var queue []models.PendingAction
	_, err := c.read(constants.CacheKeyPendingActions, &queue)
	return queue, err
}

func (c *Cache) SavePendingActions(queue []models.PendingAction) error {
	if queue == nil {
		queue = []models.PendingAction{}
	}
	return c.write(map[string]any{constants.CacheKeyPendingActions: queue})
}

// SaveSnapshot writes the snapshot in one atomic write so a crash never
// leaves the queue out of step with the data it describes.
func (c *Cache) SaveSnapshot(s Snapshot) error {
	return c.write(s.values())
}

// UpdateSnapshot writes the snapshot build returns for the queue currently
// stored. The read and the write are one transaction, so a queue entry
// another process stores in between is never overwritten unseen. A stored
// queue that does not decode reads as empty.
func (c *Cache) UpdateSnapshot(build func(stored []models.PendingAction) Snapshot) error {
	user, err := c.user()
	if err != nil {
		return err
	}
	key := constants.CacheKeyPendingActions
	return c.kv.Update(user, []string{key}, func(current map[string][]byte) (map[string][]byte, error) {
		var stored []models.PendingAction
		if raw, ok := current[key]; ok {
			if err := json.Unmarshal(raw, &stored); err != nil {
				logger.Warn("Stored queue unreadable, replacing it", "error", err)
				stored = nil
			}
		}
		return encode(build(stored).values())
	})
}

func (s Snapshot) values() map[string]any {
	queue := s.Queue
	if queue == nil {
		queue = []models.PendingAction{}
	}
	values := map[string]any{
		constants.CacheKeyHabits:         s.Habits,
		constants.CacheKeyCompletions:    s.Completions,
		constants.CacheKeyPendingActions: queue,
	}
	if s.Spirit != nil {
		values[constants.CacheKeySpirit] = s.Spirit
	}
	return values
}

// LastSync returns when the cache last matched the remote store.
func (c *Cache) LastSync() (time.Time, bool, error) {
	var at time.Time
	ok, err := c.read(constants.CacheKeyLastSync, &at)
	return at, ok, err
}

func (c *Cache) SetLastSync(at time.Time) error {
	return c.write(map[string]any{constants.CacheKeyLastSync: at.UTC()})
}

// LastVisitDate returns the day-rollover marker.
func (c *Cache) LastVisitDate() (string, bool, error) {
	var date string
	ok, err := c.read(constants.CacheKeyLastVisitDate, &date)
	return date, ok, err
}

func (c *Cache) SetLastVisitDate(date string) error {
	return c.write(map[string]any{constants.CacheKeyLastVisitDate: date})
}

// Spirit returns the cached gamification state.
func (c *Cache) Spirit() (models.Spirit, bool, error) {
	var s models.Spirit
	ok, err := c.read(constants.CacheKeySpirit, &s)
	return s, ok, err
}

func (c *Cache) SaveSpirit(s models.Spirit) error {
	return c.write(map[string]any{constants.CacheKeySpirit: s})
}

// Flag returns a UI flag value, "" when unset.
func (c *Cache) Flag(name string) (string, error) {
	var v string
	_, err := c.read(constants.CacheKeyFlagPrefix+name, &v)
	return v, err
}

func (c *Cache) SetFlag(name, value string) error {
	return c.write(map[string]any{constants.CacheKeyFlagPrefix + name: value})
}

// ClearFlag removes a UI flag.
func (c *Cache) ClearFlag(name string) error {
	user, err := c.user()
	if err != nil {
		return err
	}
	return c.kv.Delete(user, constants.CacheKeyFlagPrefix+name)
}
