package streak

import (
	"testing"

	"github.com/julianstephens/hagotchi/internal/models"
	"github.com/julianstephens/hagotchi/internal/utils"
)

const today = "2026-10-15"

// days builds satisfied goal-1 records for today-offset for each offset.
func days(offsets ...int) []models.CompletionRecord {
	var out []models.CompletionRecord
	for _, off := range offsets {
		out = append(out, models.CompletionRecord{
			HabitID:         "h",
			Date:            utils.AddDays(today, -off),
			CompletionCount: 1,
			DailyGoal:       1,
		})
	}
	return out
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name    string
		records []models.CompletionRecord
		want    int
	}{
		{name: "empty", records: nil, want: 0},
		{name: "five consecutive including today", records: days(0, 1, 2, 3, 4), want: 5},
		{name: "today incomplete keeps yesterday's run", records: days(1, 2, 3), want: 3},
		{name: "gap truncates to nearest run", records: days(0, 1, 3, 4, 5), want: 2},
		{name: "gap yesterday with today done", records: days(0, 2, 3), want: 1},
		{name: "nothing since two days ago", records: days(2, 3, 4), want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compute(tt.records, today, nil); got != tt.want {
				t.Errorf("Compute() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestComputeNConsecutiveThenGapAnywhere(t *testing.T) {
	const n = 10
	var offsets []int
	for i := 0; i < n; i++ {
		offsets = append(offsets, i)
	}
	if got := Compute(days(offsets...), today, nil); got != n {
		t.Fatalf("Compute() = %d, want %d", got, n)
	}

	for gap := 0; gap < n; gap++ {
		var withGap []int
		for _, o := range offsets {
			if o != gap {
				withGap = append(withGap, o)
			}
		}
		want := gap
		if gap == 0 {
			// an unsatisfied today does not break the run ending yesterday
			want = n - 1
		}
		if got := Compute(days(withGap...), today, nil); got != want {
			t.Errorf("gap at -%d: Compute() = %d, want %d", gap, got, want)
		}
	}
}

func TestComputeUsesRecordedGoal(t *testing.T) {
	// Yesterday had 1 of 3 under the old goal. Lowering the goal to 1 today
	// must not make that day count.
	records := []models.CompletionRecord{
		{HabitID: "h", Date: utils.AddDays(today, -2), CompletionCount: 3, DailyGoal: 3},
		{HabitID: "h", Date: utils.AddDays(today, -1), CompletionCount: 1, DailyGoal: 3},
		{HabitID: "h", Date: today, CompletionCount: 1, DailyGoal: 1},
	}

	if got := Compute(records, today, ConstantGoal(1)); got != 1 {
		t.Errorf("Compute() = %d, want 1", got)
	}
}

func TestComputeLegacyRecordsUseResolver(t *testing.T) {
	records := []models.CompletionRecord{
		{HabitID: "h", Date: utils.AddDays(today, -1), CompletionCount: 2},
		{HabitID: "h", Date: today, CompletionCount: 2},
	}

	if got := Compute(records, today, ConstantGoal(2)); got != 2 {
		t.Errorf("Compute() with goal 2 = %d, want 2", got)
	}
	if got := Compute(records, today, ConstantGoal(3)); got != 0 {
		t.Errorf("Compute() with goal 3 = %d, want 0", got)
	}
	if got := Compute(records, today, nil); got != 0 {
		t.Errorf("Compute() without resolver = %d, want 0", got)
	}
}

func TestComputeStopsAtLookbackCap(t *testing.T) {
	var offsets []int
	for i := 0; i < 4000; i++ {
		offsets = append(offsets, i)
	}
	if got := Compute(days(offsets...), today, nil); got != 3650 {
		t.Errorf("Compute() = %d, want capped 3650", got)
	}
}

func TestLongest(t *testing.T) {
	tests := []struct {
		name    string
		records []models.CompletionRecord
		want    int
	}{
		{name: "empty", want: 0},
		{name: "single", records: days(5), want: 1},
		{name: "two runs", records: days(0, 1, 5, 6, 7, 8), want: 4},
		{name: "unordered input", records: days(8, 0, 6, 1, 7), want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Longest(tt.records, nil); got != tt.want {
				t.Errorf("Longest() = %d, want %d", got, tt.want)
			}
		})
	}
}
