package companion

import (
	"strings"
	"testing"

	"github.com/julianstephens/hagotchi/internal/models"
	"github.com/julianstephens/hagotchi/internal/tracker"
	"github.com/julianstephens/hagotchi/internal/vitality"
)

func TestHearts(t *testing.T) {
	tests := []struct {
		live        float64
		full, empty int
	}{
		{0, 0, 3},
		{1, 1, 2},
		{1.5, 2, 1},
		{3, 3, 0},
	}
	for _, tt := range tests {
		got := Hearts(tt.live)
		if n := strings.Count(got, "♥"); n != tt.full {
			t.Errorf("Hearts(%v) has %d filled, want %d", tt.live, n, tt.full)
		}
		if n := strings.Count(got, "♡"); n != tt.empty {
			t.Errorf("Hearts(%v) has %d empty, want %d", tt.live, n, tt.empty)
		}
	}
}

func TestCard(t *testing.T) {
	view := tracker.SpiritView{
		Spirit: models.Spirit{
			ActiveCompanionID:    "ember",
			Coins:                4,
			UnlockedCompanionIDs: []string{"sprout", "ember"},
		},
		LiveHearts: 2.25,
		Vitality:   80,
		Band:       vitality.Thriving,
		Exists:     true,
	}
	out := Card(view)
	for _, want := range []string{"ember", "2.25", "Coins     4", "sprout, ember", "80 (" + vitality.Thriving.String() + ")"} {
		if !strings.Contains(out, want) {
			t.Errorf("Card() missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "wake your companion") {
		t.Errorf("existing companion shown with the wake hint")
	}

	view.Exists = false
	if !strings.Contains(Card(view), "wake your companion") {
		t.Errorf("missing wake hint for a new companion")
	}
}
