package cli

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/julianstephens/hagotchi/internal/backup"
	"github.com/julianstephens/hagotchi/internal/logger"
	"github.com/julianstephens/hagotchi/internal/tui"
)

type TuiCmd struct {
	NoBackup bool `help:"Skip the cache snapshot taken on startup."`
}

func (c *TuiCmd) Run(ctx *Context) error {
	t, err := ctx.Tracker()
	if err != nil {
		return err
	}

	if !c.NoBackup && ctx.KV == nil {
		if _, err := backup.NewManager(ctx.Config.CachePath).Create(); err != nil {
			logger.Warn("Startup cache snapshot failed", "error", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx.ctx())
	defer cancel()

	stop, err := ctx.startSyncLoop(runCtx, t)
	if err != nil {
		return err
	}
	defer stop()

	p := tea.NewProgram(tui.NewModel(runCtx, t), tea.WithAltScreen(), tea.WithContext(runCtx))
	_, err = p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.ctx().Err() != nil {
		return nil
	}
	return err
}
