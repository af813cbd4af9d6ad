package heatmap

import (
	"strings"
	"testing"

	"github.com/julianstephens/hagotchi/internal/activity"
)

func pct(v float64) *float64 { return &v }

func TestLevel(t *testing.T) {
	tests := []struct {
		p    float64
		want int
	}{
		{0, 0},
		{0.1, 1},
		{0.25, 2},
		{0.5, 3},
		{0.99, 3},
		{1, 4},
	}
	for _, tt := range tests {
		if got := Level(tt.p); got != tt.want {
			t.Errorf("Level(%v) = %d, want %d", tt.p, got, tt.want)
		}
	}
}

func TestRender(t *testing.T) {
	g := activity.Grid{Period: activity.PeriodWeek, Start: "2026-10-11", End: "2026-10-17", Today: "2026-10-15"}
	dates := []string{"2026-10-11", "2026-10-12", "2026-10-13", "2026-10-14", "2026-10-15", "2026-10-16", "2026-10-17"}
	for d, date := range dates {
		cell := activity.Cell{Date: date}
		if date <= g.Today {
			cell.Percentage = pct(0.5)
		} else {
			cell.Future = true
		}
		g.Rows[d] = []activity.Cell{cell}
	}

	out := Render(g)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 8 {
		t.Fatalf("Render() = %d lines, want title plus 7 weekdays:\n%s", len(lines), out)
	}
	if strings.Count(out, "◆") != 1 {
		t.Errorf("today should be drawn once:\n%s", out)
	}
	if strings.Count(out, "■") != 4 {
		t.Errorf("want 4 past cells:\n%s", out)
	}
	if !strings.HasPrefix(lines[6], "Fri") || strings.Contains(lines[6], "■") {
		t.Errorf("future Friday should be blank, got %q", lines[6])
	}
}

func TestRenderStats(t *testing.T) {
	out := RenderStats(activity.Stats{ActiveDays: 4, CurrentStreak: 2, LongestStreak: 5, AverageCompletion: 75, TotalCompletions: 9})
	for _, want := range []string{"Active days:        4", "Longest streak:     5", "Average completion: 75%"} {
		if !strings.Contains(out, want) {
			t.Errorf("RenderStats() missing %q:\n%s", want, out)
		}
	}
}
