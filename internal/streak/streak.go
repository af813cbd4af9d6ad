// Package streak derives per-habit streaks from the completion log.
package streak

import (
	"slices"

	"github.com/julianstephens/hagotchi/internal/constants"
	"github.com/julianstephens/hagotchi/internal/models"
	"github.com/julianstephens/hagotchi/internal/utils"
)

// GoalResolver supplies the goal for a date whose record predates stored
// goals (DailyGoal == 0). Records with a stored goal never consult it.
type GoalResolver func(date string) int

// ConstantGoal resolves every date to goal.
func ConstantGoal(goal int) GoalResolver {
	return func(string) int { return goal }
}

func satisfied(r models.CompletionRecord, resolve GoalResolver) bool {
	if r.DailyGoal > 0 || resolve == nil {
		return r.Satisfied()
	}
	goal := resolve(r.Date)
	return goal > 0 && r.CompletionCount >= goal
}

// Compute returns the number of consecutive satisfied days ending today, or
// ending yesterday when today is not yet satisfied. records must belong to a
// single habit. The walk stops at the first unsatisfied day, at the earliest
// record, or after MaxStreakLookbackDays.
func Compute(records []models.CompletionRecord, today string, resolve GoalResolver) int {
	if len(records) == 0 {
		return 0
	}

	byDate := make(map[string]models.CompletionRecord, len(records))
	earliest := records[0].Date
	for _, r := range records {
		byDate[r.Date] = r
		if r.Date < earliest {
			earliest = r.Date
		}
	}

	day := today
	if r, ok := byDate[today]; !ok || !satisfied(r, resolve) {
		day = utils.AddDays(today, -1)
	}

	count := 0
	for i := 0; i < constants.MaxStreakLookbackDays && day >= earliest; i++ {
		r, ok := byDate[day]
		if !ok || !satisfied(r, resolve) {
			break
		}
		count++
		day = utils.AddDays(day, -1)
	}
	return count
}

// Longest returns the longest run of consecutive satisfied days in records.
func Longest(records []models.CompletionRecord, resolve GoalResolver) int {
	var dates []string
	seen := make(map[string]bool, len(records))
	for _, r := range records {
		if satisfied(r, resolve) && !seen[r.Date] {
			seen[r.Date] = true
			dates = append(dates, r.Date)
		}
	}

	slices.Sort(dates)

	best, run := 0, 0
	prev := ""
	for _, d := range dates {
		if prev != "" && utils.AddDays(prev, 1) == d {
			run++
		} else {
			run = 1
		}
		if run > best {
			best = run
		}
		prev = d
	}
	return best
}
