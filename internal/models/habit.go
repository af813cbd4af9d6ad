package models

import (
	"slices"
	"sort"
	"time"

	"github.com/julianstephens/hagotchi/internal/constants"
)

// Habit represents a recurring practice with a daily completion goal
type Habit struct {
	ID               string                    `json:"id"`
	UserID           string                    `json:"user_id"`
	Name             string                    `json:"name"`
	Icon             string                    `json:"icon"`
	DailyGoal        int                       `json:"daily_goal"`
	Position         int                       `json:"position"`
	ScheduledTime    *string                   `json:"scheduled_time,omitempty"` // HH:MM format
	ScheduledDays    []time.Weekday            `json:"scheduled_days"`
	History          [constants.HistoryLen]int `json:"history"`                  // oldest first, yesterday last
	CompletedToday   bool                      `json:"completed_today"`
	CompletionsToday int                       `json:"completions_today"`
	Streak           int                       `json:"streak"`
	CreatedAt        time.Time                 `json:"created_at"`
	UpdatedAt        time.Time                 `json:"updated_at"`
}

// SetCompletions sets today's completion count, clamped to [0, DailyGoal],
// and keeps CompletedToday consistent with it.
func (h *Habit) SetCompletions(n int) {
	if n < 0 {
		n = 0
	}
	if n > h.DailyGoal {
		n = h.DailyGoal
	}
	h.CompletionsToday = n
	h.CompletedToday = h.CompletionsToday >= h.DailyGoal
}

// Fraction returns today's completion as a value in [0, 1].
func (h Habit) Fraction() float64 {
	if h.DailyGoal <= 0 {
		return 0
	}
	f := float64(h.CompletionsToday) / float64(h.DailyGoal)
	if f > 1 {
		return 1
	}
	return f
}

// IsScheduledOn reports whether the habit is scheduled for the weekday.
func (h Habit) IsScheduledOn(wd time.Weekday) bool {
	return slices.Contains(h.ScheduledDays, wd)
}

// Clone returns a deep copy safe to mutate independently.
func (h Habit) Clone() Habit {
	c := h
	if h.ScheduledTime != nil {
		t := *h.ScheduledTime
		c.ScheduledTime = &t
	}
	c.ScheduledDays = slices.Clone(h.ScheduledDays)
	return c
}

// SortHabits orders habits by position, then creation time, then ID, which
// is the order the remote list query returns.
func SortHabits(habits []Habit) {
	sort.SliceStable(habits, func(i, j int) bool {
		if habits[i].Position != habits[j].Position {
			return habits[i].Position < habits[j].Position
		}
		if !habits[i].CreatedAt.Equal(habits[j].CreatedAt) {
			return habits[i].CreatedAt.Before(habits[j].CreatedAt)
		}
		return habits[i].ID < habits[j].ID
	})
}

// CloneHabits deep-copies a habit slice.
func CloneHabits(habits []Habit) []Habit {
	out := make([]Habit, len(habits))
	for i, h := range habits {
		out[i] = h.Clone()
	}
	return out
}
