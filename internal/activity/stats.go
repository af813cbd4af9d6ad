package activity

import (
	"math"
	"time"

	"github.com/julianstephens/hagotchi/internal/constants"
	"github.com/julianstephens/hagotchi/internal/models"
	"github.com/julianstephens/hagotchi/internal/utils"
)

// Stats summarizes a grid window up to today.
//
// The streaks here are cross-habit: a day counts when aggregate completion is
// at least GridStreakThreshold. They intentionally differ from the per-habit
// streaks of package streak.
type Stats struct {
	ActiveDays        int
	CurrentStreak     int
	LongestStreak     int
	AverageCompletion int // percent, over active days only
	TotalCompletions  int // completion records in the window
}

// ComputeStats derives Stats for period as seen on today.
func ComputeStats(records []models.CompletionRecord, period Period, totalHabits int, today string) Stats {
	start, end := period.Window(today)
	totals := totalsByDate(records, start, end)

	var st Stats
	var sum float64
	run := 0
	for date := start; date <= today && date <= end; date = utils.AddDays(date, 1) {
		t := totals[date]
		st.TotalCompletions += t.records

		pct := percentage(t, totalHabits)
		if pct > 0 {
			st.ActiveDays++
			sum += pct
		}

		if pct >= constants.GridStreakThreshold {
			run++
			if run > st.LongestStreak {
				st.LongestStreak = run
			}
		} else {
			run = 0
		}
	}

	if st.ActiveDays > 0 {
		st.AverageCompletion = int(math.Round(sum / float64(st.ActiveDays) * 100))
	}
	st.CurrentStreak = currentStreak(totals, totalHabits, start, today)
	return st
}

// currentStreak counts qualifying days back from today. Today only counts
// once it qualifies; until then the run ending yesterday stands.
func currentStreak(totals map[string]dayTotal, totalHabits int, start, today string) int {
	qualifies := func(date string) bool {
		return percentage(totals[date], totalHabits) >= constants.GridStreakThreshold
	}

	day := today
	if !qualifies(day) {
		day = utils.AddDays(day, -1)
	}
	count := 0
	for day >= start && qualifies(day) {
		count++
		day = utils.AddDays(day, -1)
	}
	return count
}

// Aggregator anchors grids and stats to a clock. Each call reads the clock
// exactly once.
type Aggregator struct {
	now func() time.Time
	loc *time.Location
}

// NewAggregator uses now for the current instant and loc for the local date.
// A nil now means time.Now, a nil loc means time.Local.
func NewAggregator(now func() time.Time, loc *time.Location) *Aggregator {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.Local
	}
	return &Aggregator{now: now, loc: loc}
}

func (a *Aggregator) today() string {
	return utils.DateIn(a.now(), a.loc)
}

func (a *Aggregator) BuildGrid(records []models.CompletionRecord, period Period, totalHabits int) Grid {
	return BuildGrid(records, period, totalHabits, a.today())
}

func (a *Aggregator) ComputeStats(records []models.CompletionRecord, period Period, totalHabits int) Stats {
	return ComputeStats(records, period, totalHabits, a.today())
}

// Summary returns the grid and stats anchored to the same instant.
func (a *Aggregator) Summary(records []models.CompletionRecord, period Period, totalHabits int) (Grid, Stats) {
	today := a.today()
	return BuildGrid(records, period, totalHabits, today), ComputeStats(records, period, totalHabits, today)
}
