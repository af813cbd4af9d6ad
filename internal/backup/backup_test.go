package backup

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/julianstephens/hagotchi/internal/cache"
)

func seedCache(t *testing.T, path, value string) {
	t.Helper()
	kv := cache.NewSQLiteKV(path)
	if err := kv.Open(); err != nil {
		t.Fatalf("failed to open cache: %v", err)
	}
	defer kv.Close()
	if err := kv.PutMany("user-1", map[string][]byte{"pending_actions": []byte(value)}); err != nil {
		t.Fatalf("failed to seed cache: %v", err)
	}
}

func readCache(t *testing.T, path string) string {
	t.Helper()
	kv := cache.NewSQLiteKV(path)
	if err := kv.Open(); err != nil {
		t.Fatalf("failed to open cache: %v", err)
	}
	defer kv.Close()
	v, ok, err := kv.Get("user-1", "pending_actions")
	if err != nil || !ok {
		t.Fatalf("Get() = %q, %v, %v", v, ok, err)
	}
	return string(v)
}

func steppingClock(start time.Time) func() time.Time {
	n := 0
	return func() time.Time {
		n++
		return start.Add(time.Duration(n) * time.Second)
	}
}

func TestCreateAndRestore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	seedCache(t, path, "queued-before")

	m := NewManager(path)
	m.now = steppingClock(time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC))
	snap, err := m.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if filepath.Dir(snap) != m.Dir() {
		t.Errorf("snapshot %s not in %s", snap, m.Dir())
	}

	seedCache(t, path, "queued-after")
	if err := m.Restore(snap); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if got := readCache(t, path); got != "queued-before" {
		t.Errorf("restored value = %q, want queued-before", got)
	}

	snaps, err := m.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("List() = %d snapshots, want the original plus the pre-restore one", len(snaps))
	}
	if !snaps[0].Taken.After(snaps[1].Taken) {
		t.Errorf("List() not newest first: %v then %v", snaps[0].Taken, snaps[1].Taken)
	}
}

func TestCreateWithoutCache(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "cache.db"))
	if _, err := m.Create(); !errors.Is(err, ErrNoCache) {
		t.Errorf("Create() error = %v, want ErrNoCache", err)
	}
}

func TestRotationKeepsNewest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	seedCache(t, path, "x")

	m := NewManager(path)
	m.now = steppingClock(time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC))
	var last string
	for i := 0; i < MaxSnapshots+3; i++ {
		p, err := m.Create()
		if err != nil {
			t.Fatalf("Create() #%d error = %v", i, err)
		}
		last = p
	}

	snaps, err := m.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(snaps) != MaxSnapshots {
		t.Errorf("kept %d snapshots, want %d", len(snaps), MaxSnapshots)
	}
	if snaps[0].Path != last {
		t.Errorf("newest snapshot = %s, want %s", snaps[0].Path, last)
	}
}

func TestSameSecondGetsCounter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	seedCache(t, path, "x")

	m := NewManager(path)
	fixed := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	a, err := m.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	b, err := m.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if a == b {
		t.Fatalf("both snapshots written to %s", a)
	}
	if _, ok := parseName(filepath.Base(b)); !ok {
		t.Errorf("parseName(%s) failed for a counter-suffixed name", filepath.Base(b))
	}
}

func TestRestoreRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.db")
	seedCache(t, path, "keep-me")

	bogus := filepath.Join(dir, "bogus.db")
	if err := os.WriteFile(bogus, []byte("not a database at all, just text"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := NewManager(path).Restore(bogus); err == nil {
		t.Error("Restore() of a non-database succeeded")
	}
	if got := readCache(t, path); got != "keep-me" {
		t.Errorf("cache = %q after failed restore, want untouched", got)
	}
}
