package cli

import (
	"fmt"

	"github.com/julianstephens/hagotchi/internal/activity"
	"github.com/julianstephens/hagotchi/internal/tui/components/heatmap"
)

type GridCmd struct {
	Period string `help:"Window to show: week, month, year or all." default:"month" enum:"week,month,year,all"`
	Local  bool   `help:"Build from the local log without querying the remote store."`
}

func (c *GridCmd) Run(ctx *Context) error {
	t, err := ctx.Tracker()
	if err != nil {
		return err
	}
	period, err := activity.ParsePeriod(c.Period)
	if err != nil {
		return err
	}
	grid, stats, err := t.Activity(ctx.ctx(), period, !c.Local)
	if err != nil {
		return err
	}
	ctx.printf("%s\n", heatmap.Render(grid))
	ctx.printf("%s\n", heatmap.RenderStats(stats))
	return nil
}

type StatsCmd struct {
	Period string `help:"Window to summarize: week, month, year or all." default:"year" enum:"week,month,year,all"`
	Local  bool   `help:"Use the local log only."`
}

func (c *StatsCmd) Run(ctx *Context) error {
	t, err := ctx.Tracker()
	if err != nil {
		return err
	}
	period, err := activity.ParsePeriod(c.Period)
	if err != nil {
		return err
	}
	_, stats, err := t.Activity(ctx.ctx(), period, !c.Local)
	if err != nil {
		return err
	}
	ctx.printf("%s\n", titleStyle.Render(fmt.Sprintf("Stats (%s)", period)))
	ctx.printf("%s\n", heatmap.RenderStats(stats))
	return nil
}
