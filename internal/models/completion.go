package models

import "time"

// CompletionRecord is the durable fact "habit X had count C against goal G on
// date D". A record with CompletionCount 0 is never stored.
type CompletionRecord struct {
	UserID          string    `json:"user_id"`
	HabitID         string    `json:"habit_id"`
	Date            string    `json:"completed_date"` // YYYY-MM-DD format
	CompletionCount int       `json:"completion_count"`
	DailyGoal       int       `json:"daily_goal"` // goal in effect on Date
	UpdatedAt       time.Time `json:"updated_at"`
}

// CompletionKey identifies a record within one user's log.
type CompletionKey struct {
	HabitID string
	Date    string
}

// Key returns the record's unique key.
func (r CompletionRecord) Key() CompletionKey {
	return CompletionKey{HabitID: r.HabitID, Date: r.Date}
}

// Satisfied reports whether the record met the goal recorded with it. Goal
// changes made later never alter this.
func (r CompletionRecord) Satisfied() bool {
	return r.DailyGoal > 0 && r.CompletionCount >= r.DailyGoal
}

// Fraction returns the record's completion against its own goal, capped at 1.
func (r CompletionRecord) Fraction() float64 {
	if r.DailyGoal <= 0 {
		return 0
	}
	f := float64(r.CompletionCount) / float64(r.DailyGoal)
	if f > 1 {
		return 1
	}
	return f
}
