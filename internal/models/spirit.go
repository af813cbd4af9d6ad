package models

import (
	"maps"
	"slices"
	"time"
)

// Spirit is the per-user gamification state. Hearts and vitality are two
// independent clocks: hearts drive permanent unlocks, vitality is a mood
// score that decays with wall time.
type Spirit struct {
	UserID               string    `json:"user_id"`
	ActiveCompanionID    string    `json:"active_companion_id"`
	HeartsBase           float64   `json:"hearts_base"` // whole days of completion folded in, [0, 3)
	Coins                int       `json:"coins"`
	UnlockedCompanionIDs []string  `json:"unlocked_companion_ids"`
	TotalHabitsCompleted int       `json:"total_habits_completed"`
	CurrentStreak        int       `json:"current_streak"`
	LongestStreak        int       `json:"longest_streak"`
	LastActiveAt         time.Time `json:"last_active_at"`

	Vitality  float64   `json:"vitality"`
	LastFedAt time.Time `json:"last_fed_at"`

	// Intraday tracker, reset by the day rollover
	TodayPercent         int `json:"today_percent"`
	TodayConsumedPercent int `json:"today_consumed_percent"` // part of today already spent on an unlock
	TodayCoinFloor       int `json:"today_coin_floor"`       // highest whole heart already paid out today

	CompanionDays map[string]int `json:"companion_days"`
}

// IsUnlocked reports whether the companion is already unlocked.
func (s Spirit) IsUnlocked(id string) bool {
	return slices.Contains(s.UnlockedCompanionIDs, id)
}

// Clone returns a deep copy safe to mutate independently.
func (s Spirit) Clone() Spirit {
	c := s
	c.UnlockedCompanionIDs = slices.Clone(s.UnlockedCompanionIDs)
	c.CompanionDays = maps.Clone(s.CompanionDays)
	return c
}

// NewSpirit returns the onboarding state for a user.
func NewSpirit(userID, companionID string, now time.Time) Spirit {
	return Spirit{
		UserID:               userID,
		ActiveCompanionID:    companionID,
		UnlockedCompanionIDs: []string{companionID},
		Vitality:             100,
		LastFedAt:            now,
		LastActiveAt:         now,
		CompanionDays:        map[string]int{},
	}
}

// SkinProgress is the per-companion row keyed on (user, skin).
type SkinProgress struct {
	UserID     string    `json:"user_id"`
	SkinID     string    `json:"skin_id"`
	DaysActive int       `json:"days_active"`
	UnlockedAt time.Time `json:"unlocked_at"`
}
