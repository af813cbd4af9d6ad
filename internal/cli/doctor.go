package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/julianstephens/hagotchi/internal/backup"
	"github.com/julianstephens/hagotchi/internal/cache"
	"github.com/julianstephens/hagotchi/internal/keyring"
	"github.com/julianstephens/hagotchi/internal/remote"
	"github.com/julianstephens/hagotchi/internal/utils"
	"github.com/julianstephens/hagotchi/internal/watchlock"
)

type DoctorCmd struct{}

type check struct {
	name string
	// warnOnly checks do not fail the run
	warnOnly bool
	run      func() (string, error)
}

func (cmd *DoctorCmd) Run(ctx *Context) error {
	ctx.printf("Running diagnostics...\n\n")

	checks := []check{
		{name: "Config", run: func() (string, error) { return "", ctx.Config.Validate() }},
		{name: "User", run: func() (string, error) { return ctx.UserID() }},
		{name: "Clock/timezone", run: func() (string, error) { return checkClock(ctx) }},
		{name: "OS keyring", warnOnly: true, run: checkKeyring},
		{name: "Local cache", run: func() (string, error) { return checkCache(ctx) }},
		{name: "Remote store", run: func() (string, error) { return checkRemote(ctx) }},
		{name: "Cache snapshots", warnOnly: true, run: func() (string, error) { return checkSnapshots(ctx) }},
		{name: "Sync loop", warnOnly: true, run: func() (string, error) { return checkSyncLoop(ctx), nil }},
	}

	failed := 0
	for _, c := range checks {
		detail, err := c.run()
		switch {
		case err == nil && detail != "":
			ctx.printf("✓ %s: OK (%s)\n", c.name, detail)
		case err == nil:
			ctx.printf("✓ %s: OK\n", c.name)
		case c.warnOnly:
			ctx.printf("⚠ %s: WARNING\n   %v\n", c.name, err)
		default:
			ctx.printf("❌ %s: FAIL\n   Error: %v\n", c.name, err)
			failed++
		}
	}

	ctx.printf("\n")
	if failed > 0 {
		ctx.printf("Diagnostics completed with errors.\n")
		return fmt.Errorf("%d health check(s) failed", failed)
	}
	ctx.printf("All diagnostics passed!\n")
	return nil
}

func checkClock(ctx *Context) (string, error) {
	loc, err := ctx.Config.Location()
	if err != nil {
		return "", err
	}
	now := ctx.Now
	if now == nil {
		now = time.Now
	}
	return fmt.Sprintf("today is %s in %s", utils.DateIn(now(), loc), loc), nil
}

func checkKeyring() (string, error) {
	if !keyring.Available() {
		return "", keyring.ErrUnavailable
	}
	if _, err := keyring.GetConnectionString(); errors.Is(err, keyring.ErrNotFound) {
		return "no connection string stored", nil
	}
	return "connection string stored", nil
}

func checkCache(ctx *Context) (string, error) {
	if ctx.KV != nil {
		return "injected", nil
	}
	kv := cache.NewSQLiteKV(ctx.Config.CachePath)
	if err := kv.Open(); err != nil {
		return "", err
	}
	return ctx.Config.CachePath, kv.Close()
}

func checkRemote(ctx *Context) (string, error) {
	userID, err := ctx.UserID()
	if err != nil {
		return "", err
	}
	store := ctx.Remote
	if store == nil {
		connStr, err := ctx.Config.ResolveConnString()
		if err != nil {
			return "", err
		}
		pg := remote.NewPostgresStore(connStr)
		defer pg.Close()
		store = pg
	}

	pctx, cancel := context.WithTimeout(ctx.ctx(), ctx.Config.Remote.Connect())
	defer cancel()
	habits, err := store.ListHabits(pctx, userID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d habit(s)", len(habits)), nil
}

func checkSnapshots(ctx *Context) (string, error) {
	snaps, err := backup.NewManager(ctx.Config.CachePath).List()
	if err != nil {
		return "", err
	}
	if len(snaps) == 0 {
		return "", errors.New("no cache snapshots yet; create one with 'hagotchi backup'")
	}
	return fmt.Sprintf("%d, newest %s", len(snaps), snaps[0].Taken.Format("2006-01-02 15:04")), nil
}

func checkSyncLoop(ctx *Context) string {
	if pid, ok := watchlock.Holder(watchlock.PathFor(ctx.Config.CachePath)); ok {
		return fmt.Sprintf("running as pid %d", pid)
	}
	return "not running"
}
