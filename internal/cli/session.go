package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/julianstephens/hagotchi/internal/backup"
	"github.com/julianstephens/hagotchi/internal/config"
	apperrors "github.com/julianstephens/hagotchi/internal/errors"
	"github.com/julianstephens/hagotchi/internal/keyring"
	"github.com/julianstephens/hagotchi/internal/logger"
	"github.com/julianstephens/hagotchi/internal/tracker"
	"github.com/julianstephens/hagotchi/internal/watchlock"
)

type InitCmd struct {
	UserID   string `help:"User ID to sign in as. A new one is generated when empty."`
	Timezone string `help:"IANA timezone that defines your day, e.g. 'Europe/Berlin'."`
	Force    bool   `help:"Overwrite an existing user in the config file."`
}

func (c *InitCmd) Run(ctx *Context) error {
	cfg := ctx.Config
	if cfg.UserID != "" && c.UserID != "" && cfg.UserID != c.UserID && !c.Force {
		return fmt.Errorf("config already signed in as %s; use --force to replace", cfg.UserID)
	}
	switch {
	case c.UserID != "":
		cfg.UserID = c.UserID
	case cfg.UserID == "":
		cfg.UserID = uuid.NewString()
	}
	if c.Timezone != "" {
		cfg.Timezone = c.Timezone
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := cfg.Save(ctx.ConfigPath); err != nil {
		return err
	}
	if err := keyring.SetUserID(cfg.UserID); err != nil {
		logger.Warn("Could not store user in keyring", "error", err)
	}
	ctx.Config = cfg
	ctx.printf("✓ Signed in as %s\n", cfg.UserID)
	ctx.printf("  Config written to %s\n", ctx.ConfigPath)

	t, err := ctx.Tracker()
	var connErr *apperrors.ConnectionError
	switch {
	case errors.Is(err, config.ErrNoConnString):
		ctx.printf("%s\n", warningStyle.Render("No remote configured; store one with 'hagotchi keyring set'."))
		return nil
	case errors.As(err, &connErr):
		ctx.printf("%s\n", warningStyle.Render("Could not reach the remote store; run 'hagotchi sync' once it is available."))
		return nil
	case err != nil:
		return err
	}
	ctx.printf("  Loaded %d habit(s)\n", len(t.Habits()))
	return nil
}

type SyncCmd struct {
	Watch bool `help:"Keep running: follow remote changes and flush the queue periodically."`
}

func (c *SyncCmd) Run(ctx *Context) error {
	t, err := ctx.Tracker()
	if err != nil {
		return err
	}
	engine := t.Engine()

	if err := t.Sync(ctx.ctx()); err != nil {
		var replayErr *apperrors.QueueReplayError
		if errors.As(err, &replayErr) {
			ctx.printf("%s\n", warningStyle.Render(fmt.Sprintf("%d change(s) still pending", replayErr.Remaining)))
		}
		return err
	}
	ctx.printf("✓ Synced %d habit(s), %d pending\n", len(t.Habits()), len(engine.Pending()))

	if !c.Watch {
		return nil
	}
	lock, err := watchlock.Acquire(watchlock.PathFor(ctx.Config.CachePath))
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("Failed to release sync lock", "error", err)
		}
	}()

	ctx.printf("Watching for changes, press Ctrl+C to stop.\n")
	go func() {
		for range engine.Updates() {
			logger.Debug("State updated", "habits", len(engine.Habits()), "pending", len(engine.Pending()))
		}
	}()
	err = t.Run(ctx.ctx())
	if ctx.ctx().Err() != nil {
		return nil
	}
	return err
}

// startSyncLoop runs the tracker's background loop until ctx ends, unless
// another process already runs one for this cache. The returned stop waits
// for the loop and releases the lock.
func (c *Context) startSyncLoop(ctx context.Context, t *tracker.Tracker) (func(), error) {
	lock, err := watchlock.Acquire(watchlock.PathFor(c.Config.CachePath))
	if errors.Is(err, watchlock.ErrHeld) {
		logger.Info("Leaving background sync to the running loop", "error", err)
		return func() {}, nil
	}
	if err != nil {
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := t.Run(loopCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("Sync loop stopped", "error", err)
		}
	}()
	return func() {
		cancel()
		<-done
		if err := lock.Release(); err != nil {
			logger.Warn("Failed to release sync lock", "error", err)
		}
	}, nil
}

type OnlineCmd struct{}

func (c *OnlineCmd) Run(ctx *Context) error {
	t, err := ctx.Tracker()
	if err != nil {
		return err
	}
	if err := t.GoOnline(ctx.ctx()); err != nil {
		return err
	}
	ctx.printf("✓ Online, %d change(s) pending\n", len(t.Engine().Pending()))
	return nil
}

type OfflineCmd struct{}

func (c *OfflineCmd) Run(ctx *Context) error {
	t, err := ctx.Tracker()
	if err != nil {
		return err
	}
	if err := t.GoOffline(ctx.ctx()); err != nil {
		return err
	}
	ctx.printf("✓ Offline: changes are kept locally until 'hagotchi online'\n")
	return nil
}

type RolloverCmd struct{}

func (c *RolloverCmd) Run(ctx *Context) error {
	t, err := ctx.Tracker()
	if err != nil {
		return err
	}
	res, err := t.Rollover(ctx.ctx())
	if err != nil {
		return err
	}
	if !res.Transitioned {
		res = t.StartRollover()
	}
	if res.Transitioned {
		ctx.printf("Closed %d day(s): %s → %s\n", res.DaysElapsed, res.From, res.To)
		return nil
	}
	ctx.printf("Already on %s\n", res.To)
	return nil
}

type SignOutCmd struct {
	Forget bool `help:"Also remove the stored user from the keyring."`
}

func (c *SignOutCmd) Run(ctx *Context) error {
	t, err := ctx.Tracker()
	if err != nil {
		return err
	}
	if n := len(t.Engine().Pending()); n > 0 {
		path, err := backup.NewManager(ctx.Config.CachePath).Create()
		switch {
		case err == nil:
			ctx.printf("%s\n", warningStyle.Render(fmt.Sprintf("%d unsynced change(s) saved to %s", n, path)))
		case errors.Is(err, backup.ErrNoCache):
			ctx.printf("%s\n", warningStyle.Render(fmt.Sprintf("Discarding %d unsynced change(s)", n)))
		default:
			return fmt.Errorf("not signing out, snapshot of unsynced changes failed: %w", err)
		}
	}
	if err := t.SignOut(); err != nil {
		return err
	}
	if c.Forget {
		if err := keyring.DeleteUserID(); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return err
		}
	}
	ctx.printf("✓ Signed out, local cache cleared\n")
	return nil
}
