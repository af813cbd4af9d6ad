package cli

import (
	"bufio"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/julianstephens/hagotchi/internal/backup"
)

type BackupCmd struct {
	Create  BackupCreateCmd  `cmd:"" help:"Snapshot the local cache." default:"1"`
	List    BackupListCmd    `cmd:"" help:"List cache snapshots."`
	Restore BackupRestoreCmd `cmd:"" help:"Replace the local cache with a snapshot."`
}

type BackupCreateCmd struct{}

func (c *BackupCreateCmd) Run(ctx *Context) error {
	path, err := backup.NewManager(ctx.Config.CachePath).Create()
	if err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}
	ctx.printf("✓ Snapshot created: %s\n", filepath.Base(path))
	return nil
}

type BackupListCmd struct{}

func (c *BackupListCmd) Run(ctx *Context) error {
	mgr := backup.NewManager(ctx.Config.CachePath)
	snaps, err := mgr.List()
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		ctx.printf("No snapshots found in %s\n", mgr.Dir())
		return nil
	}

	ctx.printf("Snapshots (%d, keeping the newest %d):\n\n", len(snaps), backup.MaxSnapshots)
	for _, s := range snaps {
		ctx.printf("  %s  %s  (%.1f KB)\n", s.Taken.Local().Format("2006-01-02 15:04:05"), filepath.Base(s.Path), float64(s.Size)/1024)
	}
	ctx.printf("\nDirectory: %s\n", mgr.Dir())
	return nil
}

type BackupRestoreCmd struct {
	Snapshot string `arg:"" help:"Snapshot file name or path."`
	Yes      bool   `short:"y" help:"Do not ask for confirmation."`
}

func (c *BackupRestoreCmd) Run(ctx *Context) error {
	mgr := backup.NewManager(ctx.Config.CachePath)
	path := c.Snapshot
	if !strings.ContainsRune(path, filepath.Separator) {
		path = filepath.Join(mgr.Dir(), path)
	}

	if !c.Yes {
		ctx.printf("%s\n", warningStyle.Render("This replaces the local cache, including unsynced changes."))
		ctx.printf("Restore %s? [y/N] ", filepath.Base(path))
		answer, _ := bufio.NewReader(ctx.in()).ReadString('\n')
		if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
			ctx.printf("Restore cancelled.\n")
			return nil
		}
	}

	if err := mgr.Restore(path); err != nil {
		return err
	}
	ctx.printf("✓ Cache restored from %s\n", filepath.Base(path))
	return nil
}
