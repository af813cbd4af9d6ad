package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/julianstephens/hagotchi/internal/cache"
	"github.com/julianstephens/hagotchi/internal/config"
	"github.com/julianstephens/hagotchi/internal/keyring"
	"github.com/julianstephens/hagotchi/internal/logger"
	"github.com/julianstephens/hagotchi/internal/models"
	"github.com/julianstephens/hagotchi/internal/remote"
	"github.com/julianstephens/hagotchi/internal/sync"
	"github.com/julianstephens/hagotchi/internal/tracker"
	"github.com/julianstephens/hagotchi/internal/vitality"
)

// ErrNotSignedIn is returned by commands that need a user when none is
// configured.
var ErrNotSignedIn = errors.New("no user configured; run 'hagotchi init' first")

var errRemoteUnreachable = errors.New("remote store unreachable at startup")

// Context is passed to every command. The tracker session is opened on
// first use so commands like init and keyring run without one.
type Context struct {
	ConfigPath string
	Config     config.Config
	Out        io.Writer
	In         io.Reader
	// Base is cancelled on interrupt.
	Base context.Context

	// Remote, KV and Now replace the configured backends when set.
	Remote remote.Store
	KV     cache.KV
	Now    func() time.Time

	tracker *tracker.Tracker
	closers []func() error
}

func (c *Context) out() io.Writer {
	if c.Out == nil {
		return os.Stdout
	}
	return c.Out
}

func (c *Context) in() io.Reader {
	if c.In == nil {
		return os.Stdin
	}
	return c.In
}

func (c *Context) ctx() context.Context {
	if c.Base == nil {
		return context.Background()
	}
	return c.Base
}

func (c *Context) printf(format string, args ...any) {
	fmt.Fprintf(c.out(), format, args...)
}

// UserID returns the configured user, falling back to the one stored in the
// keyring by init.
func (c *Context) UserID() (string, error) {
	if c.Config.UserID != "" {
		return c.Config.UserID, nil
	}
	id, err := keyring.GetUserID()
	if err != nil {
		if errors.Is(err, keyring.ErrUnavailable) {
			logger.Warn("Keyring unavailable while looking up user", "error", err)
		}
		return "", ErrNotSignedIn
	}
	return id, nil
}

// Tracker opens the session: local cache, remote store, sync engine, then
// the initial load and day rollover.
func (c *Context) Tracker() (*tracker.Tracker, error) {
	if c.tracker != nil {
		return c.tracker, nil
	}
	ctx := c.ctx()

	userID, err := c.UserID()
	if err != nil {
		return nil, err
	}
	loc, err := c.Config.Location()
	if err != nil {
		return nil, err
	}

	kv, err := c.openKV()
	if err != nil {
		return nil, err
	}
	store, reachable, err := c.openRemote(ctx)
	if err != nil {
		return nil, err
	}

	cch := cache.New(kv)
	engine, err := sync.NewEngine(sync.Config{
		UserID:             userID,
		Remote:             store,
		Cache:              cch,
		InitialLoadTimeout: c.Config.Sync.InitialLoad(),
		FlushActionTimeout: c.Config.Sync.FlushAction(),
		FlushInterval:      c.Config.Sync.Flush(),
		RefreshTimeout:     c.Config.Sync.Refresh(),
		Now:                c.Now,
		Location:           loc,
	})
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, func() error {
		engine.Wait()
		return nil
	})

	t := tracker.New(tracker.Config{
		Engine:   engine,
		Cache:    cch,
		Vitality: vitality.NewEngine(nil, c.Config.Companions),
		Fetcher:  store,
	})
	forced, err := t.ForcedOffline()
	if err != nil {
		return nil, err
	}
	switch {
	case forced:
		if err := engine.SetOnline(ctx, false); err != nil {
			return nil, err
		}
	case !reachable:
		engine.MarkUnreachable(errRemoteUnreachable)
	}
	if _, err := t.Start(ctx); err != nil {
		return nil, err
	}
	c.tracker = t
	return t, nil
}

func (c *Context) openKV() (cache.KV, error) {
	if c.KV != nil {
		return c.KV, nil
	}
	if err := os.MkdirAll(filepath.Dir(c.Config.CachePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	kv := cache.NewSQLiteKV(c.Config.CachePath)
	if err := kv.Open(); err != nil {
		return nil, err
	}
	c.closers = append(c.closers, kv.Close)
	return kv, nil
}

// openRemote returns the remote store and whether it answered. An
// unreachable backend is not an error: the session starts offline and the
// store connects on a later call.
func (c *Context) openRemote(ctx context.Context) (remote.Store, bool, error) {
	if c.Remote != nil {
		return c.Remote, true, nil
	}
	connStr, err := c.Config.ResolveConnString()
	if err != nil {
		return nil, false, err
	}
	pg := remote.NewPostgresStore(connStr)
	c.closers = append(c.closers, pg.Close)

	openCtx, cancel := context.WithTimeout(ctx, c.Config.Remote.Connect())
	defer cancel()
	if err := pg.Open(openCtx); err != nil {
		if remote.IsUnreachable(err) {
			logger.Warn("Remote store unreachable, starting offline", "error", err)
			return pg, false, nil
		}
		return nil, false, err
	}
	return pg, true, nil
}

// Close waits for background sync work and releases the backends, newest
// first.
func (c *Context) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	c.tracker = nil
	return errors.Join(errs...)
}

// ResolveHabit finds a habit by ID, unique ID prefix, or case-insensitive
// name.
func ResolveHabit(habits []models.Habit, ref string) (models.Habit, error) {
	ref = strings.TrimSpace(ref)
	var byPrefix []models.Habit
	for _, h := range habits {
		if h.ID == ref || strings.EqualFold(h.Name, ref) {
			return h, nil
		}
		if ref != "" && strings.HasPrefix(h.ID, ref) {
			byPrefix = append(byPrefix, h)
		}
	}
	switch len(byPrefix) {
	case 1:
		return byPrefix[0], nil
	case 0:
		return models.Habit{}, fmt.Errorf("%w: %s", sync.ErrHabitNotFound, ref)
	default:
		return models.Habit{}, fmt.Errorf("habit reference %q is ambiguous (%d matches)", ref, len(byPrefix))
	}
}

// FormatDays renders scheduled weekdays as "daily" or a short day list.
func FormatDays(days []time.Weekday) string {
	if len(days) == 7 {
		return "daily"
	}
	names := make([]string, len(days))
	for i, d := range days {
		names[i] = d.String()[:3]
	}
	return strings.Join(names, ",")
}
