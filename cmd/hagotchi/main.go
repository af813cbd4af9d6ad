package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/julianstephens/hagotchi/internal/cli"
	"github.com/julianstephens/hagotchi/internal/config"
	"github.com/julianstephens/hagotchi/internal/constants"
	apperrors "github.com/julianstephens/hagotchi/internal/errors"
	"github.com/julianstephens/hagotchi/internal/logger"
)

var CLI struct {
	Version kong.VersionFlag
	Config  string `help:"Config file path. The remote connection string is never read from it; use the OS keyring or HAGOTCHI_REMOTE_CONN." type:"path" default:"~/.config/hagotchi/config.toml"`
	Debug   bool   `help:"Log debug output to stderr."`

	Init     cli.InitCmd     `cmd:"" help:"Sign in and write the config file."`
	Habit    cli.HabitCmd    `cmd:"" help:"Manage habits and today's completions."`
	Grid     cli.GridCmd     `cmd:"" help:"Show the completion heatmap."`
	Stats    cli.StatsCmd    `cmd:"" help:"Show completion statistics."`
	Spirit   cli.SpiritCmd   `cmd:"" help:"Show your companion." default:"1"`
	Tui      cli.TuiCmd      `cmd:"" help:"Open the interactive dashboard."`
	Sync     cli.SyncCmd     `cmd:"" help:"Refresh from the remote store and replay queued changes."`
	Rollover cli.RolloverCmd `cmd:"" help:"Close out days that passed since the last visit."`
	Online   cli.OnlineCmd   `cmd:"" help:"Resume remote writes and replay the queue."`
	Offline  cli.OfflineCmd  `cmd:"" help:"Queue remote writes until 'online'."`
	Signout  cli.SignOutCmd  `cmd:"" name:"signout" help:"Clear the local cache for the current user."`
	Doctor   cli.DoctorCmd   `cmd:"" help:"Run health checks and diagnostics."`
	Backup   cli.BackupCmd   `cmd:"" help:"Manage local cache snapshots."`
	Keyring  cli.KeyringCmd  `cmd:"" help:"Manage the remote connection string in the OS keyring."`
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name(constants.AppName),
		kong.Description("Habit tracker with a companion that grows with you"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{"version": constants.Version},
	)

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		apperrors.Fatal(err)
	}
	if err := logger.Init(logger.Config{Debug: CLI.Debug || cfg.Debug, ConfigDir: filepath.Dir(CLI.Config)}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: file logging disabled: %v\n", err)
		logger.InitWriter(os.Stderr, CLI.Debug || cfg.Debug)
	}

	base, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appCtx := &cli.Context{
		ConfigPath: CLI.Config,
		Config:     cfg,
		Base:       base,
	}

	err = ctx.Run(appCtx)
	if cerr := appCtx.Close(); cerr != nil {
		logger.Warn("Failed to close session", "error", cerr)
	}
	if err != nil {
		stop()
		apperrors.Fatal(err)
	}
}
