// Package activity turns the completion log into calendar grids and summary
// statistics for a period.
package activity

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/julianstephens/hagotchi/internal/constants"
	"github.com/julianstephens/hagotchi/internal/models"
	"github.com/julianstephens/hagotchi/internal/utils"
)

// Period selects the grid window.
type Period string

const (
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
	PeriodAll   Period = "all"
)

// ParsePeriod accepts the period names case-insensitively.
func ParsePeriod(s string) (Period, error) {
	p := Period(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PeriodWeek, PeriodMonth, PeriodYear, PeriodAll:
		return p, nil
	}
	return "", fmt.Errorf("unknown period %q (expected week, month, year or all)", s)
}

// Weeks is the number of full week columns the period shows.
func (p Period) Weeks() int {
	switch p {
	case PeriodWeek:
		return constants.GridWeeksWeek
	case PeriodMonth:
		return constants.GridWeeksMonth
	case PeriodYear:
		return constants.GridWeeksYear
	default:
		return constants.GridWeeksAll
	}
}

// Window returns the inclusive date range shown for today. The end is the
// Saturday closing today's week so every column is a full Sunday-Saturday
// week.
func (p Period) Window(today string) (start, end string) {
	end = utils.AddDays(today, int(time.Saturday-utils.WeekdayOf(today)))
	start = utils.AddDays(end, -(p.Weeks()*7 - 1))
	return start, end
}

// Cell is one day of the grid. Percentage is nil for days after today.
type Cell struct {
	Date        string
	Percentage  *float64
	Completions int
	Future      bool
}

// Grid is indexed Rows[weekday][week], oldest week first.
type Grid struct {
	Period Period
	Start  string
	End    string
	Today  string
	Rows   [7][]Cell
}

// Cells returns the grid's days in date order.
func (g Grid) Cells() []Cell {
	if len(g.Rows[0]) == 0 {
		return nil
	}
	out := make([]Cell, 0, len(g.Rows[0])*7)
	for w := range g.Rows[0] {
		for d := 0; d < 7; d++ {
			out = append(out, g.Rows[d][w])
		}
	}
	return out
}

type dayTotal struct {
	fraction    float64
	completions int
	records     int
}

func totalsByDate(records []models.CompletionRecord, start, end string) map[string]dayTotal {
	totals := make(map[string]dayTotal)
	for _, r := range records {
		if r.Date < start || r.Date > end || r.CompletionCount <= 0 {
			continue
		}
		t := totals[r.Date]
		t.fraction += r.Fraction()
		t.completions += r.CompletionCount
		t.records++
		totals[r.Date] = t
	}
	return totals
}

func percentage(t dayTotal, totalHabits int) float64 {
	if totalHabits <= 0 {
		return 0
	}
	return math.Min(math.Max(t.fraction/float64(totalHabits), 0), 1)
}

// BuildGrid lays out the period ending in today's week. It is a pure
// function of its arguments.
func BuildGrid(records []models.CompletionRecord, period Period, totalHabits int, today string) Grid {
	start, end := period.Window(today)
	totals := totalsByDate(records, start, end)

	g := Grid{Period: period, Start: start, End: end, Today: today}
	weeks := period.Weeks()
	for d := range g.Rows {
		g.Rows[d] = make([]Cell, weeks)
	}

	date := start
	for w := 0; w < weeks; w++ {
		for d := 0; d < 7; d++ {
			c := Cell{Date: date}
			if date > today {
				c.Future = true
			} else {
				t := totals[date]
				pct := percentage(t, totalHabits)
				c.Percentage = &pct
				c.Completions = t.completions
			}
			g.Rows[d][w] = c
			date = utils.AddDays(date, 1)
		}
	}
	return g
}
