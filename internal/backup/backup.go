// Package backup snapshots the local cache database. Snapshots keep unsynced
// changes recoverable when the cache is about to be cleared.
package backup

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/julianstephens/hagotchi/internal/logger"
)

const (
	// MaxSnapshots is how many snapshots rotation keeps.
	MaxSnapshots = 14
	DirName      = "backups"
	filePrefix   = "cache-"
	fileSuffix   = ".db"
	stampLayout  = "20060102-150405"
)

// ErrNoCache is returned when there is no cache database to snapshot.
var ErrNoCache = errors.New("cache database does not exist")

// Snapshot describes one snapshot file.
type Snapshot struct {
	Path  string
	Taken time.Time
	Size  int64
}

// Manager takes and restores snapshots of one cache file. The cache must not
// be open while restoring.
type Manager struct {
	cachePath string
	dir       string
	now       func() time.Time
}

// NewManager keeps snapshots in a directory next to cachePath.
func NewManager(cachePath string) *Manager {
	return &Manager{
		cachePath: cachePath,
		dir:       filepath.Join(filepath.Dir(cachePath), DirName),
		now:       time.Now,
	}
}

func (m *Manager) Dir() string {
	return m.dir
}

// Create writes a new snapshot and rotates old ones.
func (m *Manager) Create() (string, error) {
	if _, err := os.Stat(m.cachePath); errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNoCache, m.cachePath)
	}
	if err := os.MkdirAll(m.dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	path, err := m.nextPath()
	if err != nil {
		return "", err
	}
	if err := vacuumInto(m.cachePath, path); err != nil {
		return "", fmt.Errorf("failed to snapshot cache: %w", err)
	}

	if err := m.rotate(); err != nil {
		logger.Warn("Failed to rotate cache snapshots", "dir", m.dir, "error", err)
	}
	return path, nil
}

// nextPath names a snapshot by time, adding a counter on collision.
func (m *Manager) nextPath() (string, error) {
	stamp := m.now().UTC().Format(stampLayout)
	path := filepath.Join(m.dir, filePrefix+stamp+fileSuffix)
	for n := 1; ; n++ {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return path, nil
		}
		if n > 100 {
			return "", errors.New("failed to pick a unique snapshot name")
		}
		path = filepath.Join(m.dir, fmt.Sprintf("%s%s-%d%s", filePrefix, stamp, n, fileSuffix))
	}
}

// vacuumInto copies src to dst through SQLite so a live WAL is included.
func vacuumInto(src, dst string) error {
	db, err := sql.Open("sqlite", src+"?mode=ro")
	if err != nil {
		return err
	}
	defer db.Close()
	if err := validate(db); err != nil {
		return fmt.Errorf("cache database appears corrupted: %w", err)
	}
	_, err = db.Exec("VACUUM INTO ?", dst)
	return err
}

func validate(db *sql.DB) error {
	var n int
	return db.QueryRow("SELECT COUNT(*) FROM sqlite_master").Scan(&n)
}

// List returns snapshots newest first.
func (m *Manager) List() ([]Snapshot, error) {
	entries, err := os.ReadDir(m.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var out []Snapshot
	for _, e := range entries {
		taken, ok := parseName(e.Name())
		if e.IsDir() || !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Snapshot{Path: filepath.Join(m.dir, e.Name()), Taken: taken, Size: info.Size()})
	}
	slices.SortFunc(out, func(a, b Snapshot) int {
		if c := b.Taken.Compare(a.Taken); c != 0 {
			return c
		}
		return strings.Compare(b.Path, a.Path)
	})
	return out, nil
}

// parseName reads the timestamp out of a snapshot file name.
func parseName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
	if len(stamp) > len(stampLayout) {
		stamp = stamp[:len(stampLayout)]
	}
	t, err := time.Parse(stampLayout, stamp)
	return t, err == nil
}

func (m *Manager) rotate() error {
	snaps, err := m.List()
	if err != nil {
		return err
	}
	for _, s := range snaps[min(len(snaps), MaxSnapshots):] {
		if err := os.Remove(s.Path); err != nil {
			return fmt.Errorf("failed to remove old snapshot %s: %w", s.Path, err)
		}
	}
	return nil
}

// Restore replaces the cache with a snapshot. The current cache is
// snapshotted first, outside rotation.
func (m *Manager) Restore(path string) error {
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return err
	}
	err = validate(db)
	db.Close()
	if err != nil {
		return fmt.Errorf("snapshot is corrupted or invalid: %w", err)
	}

	if _, err := os.Stat(m.cachePath); err == nil {
		if err := os.MkdirAll(m.dir, 0700); err != nil {
			return err
		}
		prev, err := m.nextPath()
		if err != nil {
			return err
		}
		if err := vacuumInto(m.cachePath, prev); err != nil {
			return fmt.Errorf("failed to snapshot current cache before restore: %w", err)
		}
		logger.Info("Snapshotted cache before restore", "path", prev)
	}

	tmp := m.cachePath + ".restore.tmp"
	if err := vacuumInto(path, tmp); err != nil {
		return fmt.Errorf("failed to copy snapshot: %w", err)
	}
	if err := os.Rename(tmp, m.cachePath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to restore cache: %w", err)
	}
	// stale WAL files from the replaced database must not be replayed
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(m.cachePath + suffix)
	}
	return nil
}
