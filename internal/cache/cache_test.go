package cache

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/julianstephens/hagotchi/internal/models"
)

func setupSQLiteCache(t *testing.T) (*Cache, *SQLiteKV) {
	kv := NewSQLiteKV(filepath.Join(t.TempDir(), "cache.db"))
	if err := kv.Open(); err != nil {
		t.Fatalf("failed to open sqlite cache: %v", err)
	}
	t.Cleanup(func() { kv.Close() })

	c := New(kv)
	if err := c.Init("user-1"); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return c, kv
}

func TestCacheRequiresInit(t *testing.T) {
	c := New(NewMemoryKV())

	if _, _, err := c.Habits(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Habits() before Init error = %v, want ErrNotInitialized", err)
	}
	if err := c.SaveSpirit(models.Spirit{}); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("SaveSpirit() before Init error = %v, want ErrNotInitialized", err)
	}
	if err := c.Init(""); err == nil {
		t.Error("Init(\"\") should fail")
	}
}

func TestCacheAbsentKeys(t *testing.T) {
	for name, c := range map[string]*Cache{
		"memory": func() *Cache { c := New(NewMemoryKV()); _ = c.Init("u"); return c }(),
		"sqlite": func() *Cache { c, _ := setupSQLiteCache(t); return c }(),
	} {
		t.Run(name, func(t *testing.T) {
			habits, ok, err := c.Habits()
			if err != nil || ok || habits != nil {
				t.Errorf("Habits() = %v, %v, %v; want nil, false, nil", habits, ok, err)
			}
			queue, err := c.PendingActions()
			if err != nil || len(queue) != 0 {
				t.Errorf("PendingActions() = %v, %v", queue, err)
			}
			if _, ok, _ := c.LastVisitDate(); ok {
				t.Error("LastVisitDate() should be absent")
			}
			if v, _ := c.Flag("x"); v != "" {
				t.Errorf("Flag() = %q, want empty", v)
			}
		})
	}
}

func TestSQLiteCacheRoundTripAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	kv := NewSQLiteKV(path)
	if err := kv.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	c := New(kv)
	_ = c.Init("user-1")

	snap := Snapshot{
		Habits: []models.Habit{{ID: "h1", Name: "Read", DailyGoal: 2, CompletionsToday: 1}},
		Completions: []models.CompletionRecord{
			{HabitID: "h1", Date: "2026-10-14", CompletionCount: 2, DailyGoal: 2},
		},
		Queue: []models.PendingAction{
			{ID: "a1", Type: models.ActionDeleteHabit, HabitID: "h9"},
		},
	}
	if err := c.SaveSnapshot(snap); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	if err := c.SetLastVisitDate("2026-10-15"); err != nil {
		t.Fatalf("SetLastVisitDate failed: %v", err)
	}
	kv.Close()

	kv2 := NewSQLiteKV(path)
	if err := kv2.Open(); err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer kv2.Close()
	c2 := New(kv2)
	_ = c2.Init("user-1")

	habits, ok, err := c2.Habits()
	if err != nil || !ok {
		t.Fatalf("Habits() = %v, %v", ok, err)
	}
	if len(habits) != 1 || habits[0].CompletionsToday != 1 {
		t.Errorf("habits = %+v", habits)
	}
	records, _, _ := c2.Completions()
	if len(records) != 1 || !records[0].Satisfied() {
		t.Errorf("completions = %+v", records)
	}
	queue, _ := c2.PendingActions()
	if len(queue) != 1 || queue[0].ID != "a1" {
		t.Errorf("queue = %+v", queue)
	}
	date, ok, _ := c2.LastVisitDate()
	if !ok || date != "2026-10-15" {
		t.Errorf("LastVisitDate() = %q, %v", date, ok)
	}
}

func TestCacheUserIsolationAndClear(t *testing.T) {
	c, _ := setupSQLiteCache(t)
	if err := c.SaveHabits([]models.Habit{{ID: "h1"}}); err != nil {
		t.Fatalf("SaveHabits failed: %v", err)
	}

	_ = c.Init("user-2")
	if _, ok, _ := c.Habits(); ok {
		t.Error("user-2 should not see user-1 habits")
	}

	_ = c.Init("user-1")
	if err := c.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if c.UserID() != "" {
		t.Errorf("UserID() after Clear = %q", c.UserID())
	}

	_ = c.Init("user-1")
	if _, ok, _ := c.Habits(); ok {
		t.Error("habits should be gone after Clear")
	}
}

func TestCacheSpiritLastSyncAndFlags(t *testing.T) {
	c, _ := setupSQLiteCache(t)
	now := time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)

	s := models.NewSpirit("user-1", "sprout", now)
	s.Coins = 4
	if err := c.SaveSpirit(s); err != nil {
		t.Fatalf("SaveSpirit failed: %v", err)
	}
	got, ok, err := c.Spirit()
	if err != nil || !ok || got.Coins != 4 || !got.IsUnlocked("sprout") {
		t.Errorf("Spirit() = %+v, %v, %v", got, ok, err)
	}

	if err := c.SetLastSync(now); err != nil {
		t.Fatalf("SetLastSync failed: %v", err)
	}
	at, ok, _ := c.LastSync()
	if !ok || !at.Equal(now) {
		t.Errorf("LastSync() = %v, %v", at, ok)
	}

	_ = c.SetFlag("hint_dismissed", "1")
	if v, _ := c.Flag("hint_dismissed"); v != "1" {
		t.Errorf("Flag() = %q", v)
	}
	_ = c.ClearFlag("hint_dismissed")
	if v, _ := c.Flag("hint_dismissed"); v != "" {
		t.Errorf("Flag() after clear = %q", v)
	}
}

func TestMemoryKVFailWrites(t *testing.T) {
	kv := NewMemoryKV()
	c := New(kv)
	_ = c.Init("u")
	kv.FailWrites = true

	if err := c.SaveHabits(nil); err == nil {
		t.Error("expected write failure")
	}
}

func openShared(t *testing.T, path string) *Cache {
	t.Helper()
	kv := NewSQLiteKV(path)
	if err := kv.Open(); err != nil {
		t.Fatalf("failed to open sqlite cache: %v", err)
	}
	t.Cleanup(func() { kv.Close() })
	c := New(kv)
	if err := c.Init("user-1"); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return c
}

func TestSQLiteReadsSeeOtherConnectionWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	tui := openShared(t, path)
	cli := openShared(t, path)

	if err := tui.SavePendingActions(nil); err != nil {
		t.Fatalf("SavePendingActions failed: %v", err)
	}
	if queue, err := tui.PendingActions(); err != nil || len(queue) != 0 {
		t.Fatalf("PendingActions() = %v, %v; want empty", queue, err)
	}
	if err := cli.SavePendingActions([]models.PendingAction{{ID: "a1", Type: models.ActionDeleteHabit, HabitID: "h1"}}); err != nil {
		t.Fatalf("SavePendingActions failed: %v", err)
	}

	queue, err := tui.PendingActions()
	if err != nil {
		t.Fatalf("PendingActions failed: %v", err)
	}
	if len(queue) != 1 || queue[0].ID != "a1" {
		t.Errorf("PendingActions() = %v, want the other connection's [a1]", queue)
	}
}

func TestUpdateSnapshotKeepsQueueStoredByOtherConnection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	tui := openShared(t, path)
	cli := openShared(t, path)

	if err := tui.SaveSnapshot(Snapshot{Habits: []models.Habit{{ID: "h1", Name: "Walk"}}}); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	offline := models.PendingAction{ID: "a1", Type: models.ActionDeleteHabit, HabitID: "h1"}
	if err := cli.SavePendingActions([]models.PendingAction{offline}); err != nil {
		t.Fatalf("SavePendingActions failed: %v", err)
	}

	var seen []models.PendingAction
	err := tui.UpdateSnapshot(func(stored []models.PendingAction) Snapshot {
		seen = stored
		return Snapshot{Habits: []models.Habit{{ID: "h1", Name: "Walk"}}, Queue: stored}
	})
	if err != nil {
		t.Fatalf("UpdateSnapshot failed: %v", err)
	}
	if len(seen) != 1 || seen[0].ID != "a1" {
		t.Fatalf("stored queue = %v, want [a1]", seen)
	}

	queue, err := cli.PendingActions()
	if err != nil {
		t.Fatalf("PendingActions failed: %v", err)
	}
	if len(queue) != 1 || queue[0].ID != "a1" {
		t.Errorf("PendingActions() = %v after the merged write, want [a1]", queue)
	}
}

func TestUpdateSnapshotTreatsUndecodableQueueAsEmpty(t *testing.T) {
	kv := NewMemoryKV()
	c := New(kv)
	if err := c.Init("user-1"); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := kv.PutMany("user-1", map[string][]byte{"pending_actions": []byte("{not json")}); err != nil {
		t.Fatalf("PutMany failed: %v", err)
	}

	err := c.UpdateSnapshot(func(stored []models.PendingAction) Snapshot {
		if len(stored) != 0 {
			t.Errorf("stored = %v, want empty", stored)
		}
		return Snapshot{}
	})
	if err != nil {
		t.Fatalf("UpdateSnapshot failed: %v", err)
	}
	if queue, err := c.PendingActions(); err != nil || len(queue) != 0 {
		t.Errorf("PendingActions() = %v, %v; want an empty queue", queue, err)
	}
}
