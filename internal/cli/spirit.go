package cli

import (
	"fmt"

	"github.com/julianstephens/hagotchi/internal/tracker"
	"github.com/julianstephens/hagotchi/internal/tui/components/companion"
	"github.com/julianstephens/hagotchi/internal/utils"
	"github.com/julianstephens/hagotchi/internal/vitality"
)

type SpiritCmd struct{}

func (c *SpiritCmd) Run(ctx *Context) error {
	t, err := ctx.Tracker()
	if err != nil {
		return err
	}
	view := t.Spirit()

	if show, err := t.ShowBriefing(); err == nil && show {
		ctx.printf("%s\n", briefing(view, len(t.Habits()), t.Engine().Today()))
	}

	ctx.printf("%s\n", companion.Card(view))
	return nil
}

// briefing is the once-a-day greeting.
func briefing(view tracker.SpiritView, habits int, today string) string {
	var mood string
	switch view.Band {
	case vitality.Thriving:
		mood = "is bouncing around"
	case vitality.Content:
		mood = "is doing fine"
	case vitality.Tired:
		mood = "looks a little tired"
	default:
		mood = "is asleep and hungry"
	}
	day := utils.WeekdayOf(today)
	return warningStyle.Render(fmt.Sprintf("Happy %s! %s %s. %d habit(s) on your list.",
		day, view.Spirit.ActiveCompanionID, mood, habits))
}
