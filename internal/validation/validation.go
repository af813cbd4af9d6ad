package validation

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/julianstephens/hagotchi/internal/constants"
	apperrors "github.com/julianstephens/hagotchi/internal/errors"
	"github.com/julianstephens/hagotchi/internal/models"
	"github.com/julianstephens/hagotchi/internal/utils"
)

// ValidateHabit checks a habit before it enters the sync layer. The first
// problem found is returned as a *errors.ValidationError.
func ValidateHabit(h models.Habit) error {
	if h.ID == "" {
		return apperrors.Invalid("id", "must not be empty")
	}
	if err := ValidateName(h.Name); err != nil {
		return err
	}
	if err := ValidateDailyGoal(h.DailyGoal); err != nil {
		return err
	}
	if err := ValidateScheduledDays(h.ScheduledDays); err != nil {
		return err
	}
	if err := ValidateScheduledTime(h.ScheduledTime); err != nil {
		return err
	}
	return ValidatePosition(h.Position)
}

// ValidateScheduledTime accepts nil or an HH:MM time of day.
func ValidateScheduledTime(t *string) error {
	if t != nil && !utils.ValidateTimeFormat(*t) {
		return apperrors.Invalid("scheduled_time", "%q is not in HH:MM format", *t)
	}
	return nil
}

func ValidatePosition(pos int) error {
	if pos < 0 {
		return apperrors.Invalid("position", "must not be negative")
	}
	return nil
}

// ValidateName rejects blank or overly long habit names.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return apperrors.Invalid("name", "must not be empty")
	}
	if utf8.RuneCountInString(trimmed) > constants.MaxHabitNameLen {
		return apperrors.Invalid("name", "must be at most %d characters", constants.MaxHabitNameLen)
	}
	return nil
}

// ValidateDailyGoal enforces the goal range.
func ValidateDailyGoal(goal int) error {
	if goal < constants.MinDailyGoal || goal > constants.MaxDailyGoal {
		return apperrors.Invalid("daily_goal", "must be between %d and %d, got %d", constants.MinDailyGoal, constants.MaxDailyGoal, goal)
	}
	return nil
}

// ValidateScheduledDays requires at least one weekday, each within 0-6,
// without duplicates.
func ValidateScheduledDays(days []time.Weekday) error {
	if len(days) == 0 {
		return apperrors.Invalid("scheduled_days", "must contain at least one weekday")
	}
	seen := make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		if d < time.Sunday || d > time.Saturday {
			return apperrors.Invalid("scheduled_days", "weekday %d out of range 0-6", int(d))
		}
		if seen[d] {
			return apperrors.Invalid("scheduled_days", "weekday %s listed twice", d)
		}
		seen[d] = true
	}
	return nil
}

// ValidateCompletionCount rejects negative counts. Counts above the goal are
// clamped by the caller rather than rejected.
func ValidateCompletionCount(count int) error {
	if count < 0 {
		return apperrors.Invalid("completion_count", "must not be negative, got %d", count)
	}
	return nil
}
