package validation

import (
	"errors"
	"strings"
	"testing"
	"time"

	apperrors "github.com/julianstephens/hagotchi/internal/errors"
	"github.com/julianstephens/hagotchi/internal/models"
)

func validHabit() models.Habit {
	return models.Habit{
		ID:            "h1",
		Name:          "Read",
		DailyGoal:     1,
		ScheduledDays: []time.Weekday{time.Monday, time.Tuesday},
	}
}

func TestValidateHabit(t *testing.T) {
	badTime := "25:99"
	goodTime := "06:45"

	tests := []struct {
		name      string
		mutate    func(h *models.Habit)
		wantField string
	}{
		{name: "valid", mutate: func(h *models.Habit) {}},
		{name: "valid with time", mutate: func(h *models.Habit) { h.ScheduledTime = &goodTime }},
		{name: "missing id", mutate: func(h *models.Habit) { h.ID = "" }, wantField: "id"},
		{name: "blank name", mutate: func(h *models.Habit) { h.Name = "   " }, wantField: "name"},
		{name: "long name", mutate: func(h *models.Habit) { h.Name = strings.Repeat("x", 101) }, wantField: "name"},
		{name: "goal zero", mutate: func(h *models.Habit) { h.DailyGoal = 0 }, wantField: "daily_goal"},
		{name: "goal eleven", mutate: func(h *models.Habit) { h.DailyGoal = 11 }, wantField: "daily_goal"},
		{name: "goal ten", mutate: func(h *models.Habit) { h.DailyGoal = 10 }},
		{name: "no days", mutate: func(h *models.Habit) { h.ScheduledDays = nil }, wantField: "scheduled_days"},
		{name: "day out of range", mutate: func(h *models.Habit) { h.ScheduledDays = []time.Weekday{7} }, wantField: "scheduled_days"},
		{name: "duplicate day", mutate: func(h *models.Habit) { h.ScheduledDays = []time.Weekday{1, 1} }, wantField: "scheduled_days"},
		{name: "bad time", mutate: func(h *models.Habit) { h.ScheduledTime = &badTime }, wantField: "scheduled_time"},
		{name: "negative position", mutate: func(h *models.Habit) { h.Position = -1 }, wantField: "position"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := validHabit()
			tt.mutate(&h)

			err := ValidateHabit(h)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("ValidateHabit() unexpected error: %v", err)
				}
				return
			}

			var ve *apperrors.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("ValidateHabit() error = %v, want ValidationError", err)
			}
			if ve.Field != tt.wantField {
				t.Errorf("ValidationError.Field = %q, want %q", ve.Field, tt.wantField)
			}
		})
	}
}

func TestValidateCompletionCount(t *testing.T) {
	if err := ValidateCompletionCount(0); err != nil {
		t.Errorf("ValidateCompletionCount(0) = %v", err)
	}
	if err := ValidateCompletionCount(-1); err == nil {
		t.Error("ValidateCompletionCount(-1) should fail")
	}
}
