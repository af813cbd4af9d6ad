// Package watchlock keeps a single background sync loop per cache. Two
// loops would replay the same queue against the remote store.
package watchlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mitchellh/go-ps"

	"github.com/julianstephens/hagotchi/internal/constants"
)

const FileName = "watch.pid"

var (
	findProcessFunc = ps.FindProcess
	getpidFunc      = os.Getpid
)

// ErrHeld is returned when a live process already holds the lock.
var ErrHeld = errors.New("another hagotchi sync loop is running")

// Lock is a held lock file.
type Lock struct {
	path string
	pid  int
}

// PathFor places the lock next to the cache database.
func PathFor(cachePath string) string {
	return filepath.Join(filepath.Dir(cachePath), FileName)
}

// Acquire writes the current PID to path. A lock left by a process that
// is gone, or that is not hagotchi, is taken over.
func Acquire(path string) (*Lock, error) {
	pid := getpidFunc()
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(pid))
			cerr := f.Close()
			if err := errors.Join(werr, cerr); err != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("failed to write lock file: %w", err)
			}
			return &Lock{path: path, pid: pid}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}

		if holder, ok := Holder(path); ok {
			return nil, fmt.Errorf("%w (pid %d)", ErrHeld, holder)
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove stale lock file: %w", err)
		}
	}
	return nil, fmt.Errorf("%w: lock file keeps reappearing", ErrHeld)
}

// Holder returns the PID of the live hagotchi process named in the lock
// file, if any.
func Holder(path string) (int, bool) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(content)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	process, err := findProcessFunc(pid)
	if err != nil || process == nil {
		return 0, false
	}
	if !strings.HasPrefix(process.Executable(), constants.AppName) {
		return 0, false
	}
	return pid, true
}

// Release removes the lock file if it still names this process.
func (l *Lock) Release() error {
	content, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if strings.TrimSpace(string(content)) != strconv.Itoa(l.pid) {
		return nil
	}
	return os.Remove(l.path)
}
