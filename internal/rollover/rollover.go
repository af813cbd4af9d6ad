// Package rollover closes out local days. It compares the persisted
// last-visit date with today and, when the day changed, shifts habit
// history and finalizes the gamification day once per elapsed day.
package rollover

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/julianstephens/hagotchi/internal/logger"
	"github.com/julianstephens/hagotchi/internal/models"
	"github.com/julianstephens/hagotchi/internal/utils"
	"github.com/julianstephens/hagotchi/internal/vitality"
)

// State is the rollover state machine's position.
type State int

const (
	CurrentDay State = iota
	Transitioning
)

func (s State) String() string {
	if s == Transitioning {
		return "transitioning"
	}
	return "current_day"
}

// MarkerStore persists the last-visit date.
type MarkerStore interface {
	LastVisitDate() (string, bool, error)
	SetLastVisitDate(date string) error
}

// HabitShifter closes out elapsed days on every habit. closed is the last
// visited date, the first day being closed.
type HabitShifter interface {
	ShiftDays(ctx context.Context, closed string, days int) error
}

// SpiritStore reads and durably updates the gamification state.
type SpiritStore interface {
	Spirit() (models.Spirit, bool)
	UpdateSpiritDurable(ctx context.Context, fn func(*models.Spirit) error) (models.Spirit, error)
}

// Result reports what one Check did.
type Result struct {
	From         string
	To           string
	DaysElapsed  int
	Transitioned bool
	// Hearts holds one finalize result per elapsed day when a spirit exists.
	Hearts []vitality.HeartsResult
}

type Config struct {
	Marker   MarkerStore
	Habits   HabitShifter
	Spirit   SpiritStore
	Vitality *vitality.Engine
	Now      func() time.Time
	Location *time.Location
	Logger   *log.Logger
}

// Rollover runs day transitions. Check is safe to call from any number of
// goroutines; calls are serialized.
type Rollover struct {
	cfg   Config
	mu    stdsync.Mutex
	state State
}

func New(cfg Config) *Rollover {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.With("component", "rollover")
	}
	return &Rollover{cfg: cfg}
}

// State returns the current state.
func (r *Rollover) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Check runs a transition if the local date moved forward since the last
// visit. The first ever call only records today. A date earlier than the
// marker (clock moved backwards) changes nothing.
func (r *Rollover) Check(ctx context.Context) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	today := utils.DateIn(r.cfg.Now(), r.cfg.Location)
	last, ok, err := r.cfg.Marker.LastVisitDate()
	if err != nil {
		return Result{}, fmt.Errorf("rollover: read last visit date: %w", err)
	}
	res := Result{From: last, To: today}
	if !ok || last == "" {
		if err := r.cfg.Marker.SetLastVisitDate(today); err != nil {
			return res, fmt.Errorf("rollover: record first visit: %w", err)
		}
		r.cfg.Logger.Debug("Recorded first visit", "date", today)
		return res, nil
	}
	if !utils.ValidateDateFormat(last) {
		r.cfg.Logger.Warn("Discarding malformed last visit date", "value", last)
		return res, r.cfg.Marker.SetLastVisitDate(today)
	}

	days := utils.DaysBetween(last, today)
	if days <= 0 {
		if days < 0 {
			r.cfg.Logger.Warn("Local date moved backwards, skipping rollover", "last", last, "today", today)
		}
		return res, nil
	}

	r.state = Transitioning
	defer func() { r.state = CurrentDay }()

	// The marker goes first so a crash part way through never repeats the
	// transition.
	if err := r.cfg.Marker.SetLastVisitDate(today); err != nil {
		return res, fmt.Errorf("rollover: write last visit date: %w", err)
	}
	res.DaysElapsed = days
	res.Transitioned = true

	if err := r.cfg.Habits.ShiftDays(ctx, last, days); err != nil {
		return res, err
	}

	if r.cfg.Spirit != nil && r.cfg.Vitality != nil {
		if _, exists := r.cfg.Spirit.Spirit(); exists {
			_, err := r.cfg.Spirit.UpdateSpiritDurable(ctx, func(s *models.Spirit) error {
				for i := 0; i < days; i++ {
					res.Hearts = append(res.Hearts, r.cfg.Vitality.FinalizeDay(s))
				}
				return nil
			})
			if err != nil {
				return res, fmt.Errorf("rollover: finalize spirit day: %w", err)
			}
		}
	}

	r.cfg.Logger.Info("Rolled over to new day", "from", last, "to", today, "days", days)
	return res, nil
}
