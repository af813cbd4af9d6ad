package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"

	"github.com/julianstephens/hagotchi/internal/constants"
	"github.com/julianstephens/hagotchi/internal/sync"
	"github.com/julianstephens/hagotchi/internal/utils"
)

func newHabitFormModel() *HabitFormModel {
	return &HabitFormModel{
		Goal: "1",
		Days: []time.Weekday{time.Sunday, time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday},
	}
}

// NewHabitForm creates the form for adding a habit
func NewHabitForm(fm *HabitFormModel) *huh.Form {
	days := make([]huh.Option[time.Weekday], 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		days[d] = huh.NewOption(d.String(), d)
	}
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Habit Name").
				Value(&fm.Name).
				Validate(func(s string) error {
					s = strings.TrimSpace(s)
					if s == "" {
						return fmt.Errorf("habit name cannot be empty")
					}
					if len(s) > constants.MaxHabitNameLen {
						return fmt.Errorf("habit name must be at most %d characters", constants.MaxHabitNameLen)
					}
					return nil
				}),
			huh.NewInput().
				Title("Icon").
				Description("Optional").
				Value(&fm.Icon),
			huh.NewInput().
				Title(fmt.Sprintf("Daily goal (%d-%d)", constants.MinDailyGoal, constants.MaxDailyGoal)).
				Value(&fm.Goal).
				Validate(func(s string) error {
					i, err := strconv.Atoi(strings.TrimSpace(s))
					if err != nil {
						return err
					}
					if i < constants.MinDailyGoal || i > constants.MaxDailyGoal {
						return fmt.Errorf("goal must be %d-%d", constants.MinDailyGoal, constants.MaxDailyGoal)
					}
					return nil
				}),
			huh.NewMultiSelect[time.Weekday]().
				Title("Scheduled days").
				Options(days...).
				Value(&fm.Days).
				Validate(func(d []time.Weekday) error {
					if len(d) == 0 {
						return fmt.Errorf("pick at least one day")
					}
					return nil
				}),
			huh.NewInput().
				Title("Time (HH:MM)").
				Description("Optional").
				Value(&fm.Time).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" || utils.ValidateTimeFormat(strings.TrimSpace(s)) {
						return nil
					}
					return fmt.Errorf("time must be HH:MM")
				}),
		),
	).WithTheme(huh.ThemeDracula())
}

// createOp converts a completed form.
func (fm *HabitFormModel) createOp() sync.CreateHabit {
	goal, _ := strconv.Atoi(strings.TrimSpace(fm.Goal))
	op := sync.CreateHabit{
		Name:          strings.TrimSpace(fm.Name),
		Icon:          strings.TrimSpace(fm.Icon),
		DailyGoal:     goal,
		ScheduledDays: fm.Days,
	}
	if t := strings.TrimSpace(fm.Time); t != "" {
		op.ScheduledTime = &t
	}
	return op
}
