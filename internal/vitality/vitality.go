// Package vitality runs the companion's two clocks: hearts, which fill from
// daily completion and unlock companions, and vitality, a mood score that
// decays with wall time and recovers when fed.
package vitality

import (
	"math"
	"math/rand/v2"
	"slices"
	stdsync "sync"
	"time"

	"github.com/julianstephens/hagotchi/internal/constants"
	"github.com/julianstephens/hagotchi/internal/models"
)

// Band is the presentation bucket for a vitality value.
type Band int

const (
	Dormant Band = iota
	Tired
	Content
	Thriving
)

func (b Band) String() string {
	switch b {
	case Thriving:
		return "thriving"
	case Content:
		return "content"
	case Tired:
		return "tired"
	default:
		return "dormant"
	}
}

// BandOf buckets a vitality value.
func BandOf(v float64) Band {
	switch {
	case v >= constants.VitalityThriving:
		return Thriving
	case v >= constants.VitalityContent:
		return Content
	case v >= constants.VitalityTired:
		return Tired
	default:
		return Dormant
	}
}

// Decay returns vitality after losing VitalityDecayPerHour for every hour
// since lastFedAt. A clock that went backwards decays nothing.
func Decay(vitality float64, lastFedAt, now time.Time) float64 {
	hours := now.Sub(lastFedAt).Hours()
	if hours < 0 {
		hours = 0
	}
	return clamp(vitality-hours*constants.VitalityDecayPerHour, 0, constants.VitalityMax)
}

// Current is the spirit's vitality at now.
func Current(s models.Spirit, now time.Time) float64 {
	return Decay(s.Vitality, s.LastFedAt, now)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

// HeartsResult reports what one hearts update did.
type HeartsResult struct {
	LiveTotal    float64
	CoinsAwarded int
	Unlocked     bool
	UnlockedID   string
	// AllUnlocked is set instead of UnlockedID when hearts filled but every
	// companion was already unlocked.
	AllUnlocked bool
}

// Engine applies hearts and vitality rules. Its random source is guarded so
// an Engine can be shared.
type Engine struct {
	mu         stdsync.Mutex
	rng        *rand.Rand
	companions []string
}

// NewEngine draws unlocks from companions. A nil rng gets a random seed.
func NewEngine(rng *rand.Rand, companions []string) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if len(companions) == 0 {
		companions = constants.DefaultCompanions
	}
	return &Engine{rng: rng, companions: slices.Clone(companions)}
}

// LiveTotal is heartsBase plus the part of today not yet spent on an unlock,
// clamped to [0, MaxHearts].
func LiveTotal(s models.Spirit) float64 {
	frac := float64(s.TodayPercent-s.TodayConsumedPercent) / 100
	if frac < 0 {
		frac = 0
	}
	return clamp(s.HeartsBase+frac, 0, constants.MaxHearts)
}

// wholeHearts floors v, tolerating float noise just below an integer.
func wholeHearts(v float64) int {
	return int(math.Floor(v + 1e-9))
}

// ApplyProgress records today's completion percent and settles coins and
// unlocks. A coin is paid for every whole heart crossed above the highest one
// already paid today, so a jump across several integers pays several coins
// and dropping back then recrossing pays nothing. Filling to MaxHearts
// unlocks one companion and resets heartsBase to 0 with no carry.
func (e *Engine) ApplyProgress(s *models.Spirit, percent int) HeartsResult {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	s.TodayPercent = percent
	if s.TodayConsumedPercent > percent {
		// today shrank below what an unlock already used
		s.TodayConsumedPercent = percent
	}

	res := HeartsResult{LiveTotal: LiveTotal(*s)}
	if res.LiveTotal >= constants.MaxHearts-1e-9 {
		res.LiveTotal = constants.MaxHearts
	}

	whole := wholeHearts(res.LiveTotal)
	if whole > s.TodayCoinFloor {
		res.CoinsAwarded = whole - s.TodayCoinFloor
		s.Coins += res.CoinsAwarded
		s.TodayCoinFloor = whole
	}

	if res.LiveTotal >= constants.MaxHearts {
		e.unlock(s, &res)
		s.HeartsBase = 0
		s.TodayConsumedPercent = percent
		s.TodayCoinFloor = 0
	}
	return res
}

func (e *Engine) unlock(s *models.Spirit, res *HeartsResult) {
	var locked []string
	for _, id := range e.companions {
		if !s.IsUnlocked(id) {
			locked = append(locked, id)
		}
	}
	if len(locked) == 0 {
		res.AllUnlocked = true
		return
	}

	e.mu.Lock()
	id := locked[e.rng.IntN(len(locked))]
	e.mu.Unlock()

	s.UnlockedCompanionIDs = append(s.UnlockedCompanionIDs, id)
	res.Unlocked = true
	res.UnlockedID = id
}

// Feed adds a random amount in [VitalityFeedMin, VitalityFeedMax] to the
// decayed vitality and restarts the decay clock. It returns the new value.
func (e *Engine) Feed(s *models.Spirit, now time.Time) float64 {
	e.mu.Lock()
	gain := constants.VitalityFeedMin + e.rng.IntN(constants.VitalityFeedMax-constants.VitalityFeedMin+1)
	e.mu.Unlock()

	s.Vitality = clamp(Current(*s, now)+float64(gain), 0, constants.VitalityMax)
	s.LastFedAt = now
	return s.Vitality
}

// FinalizeDay closes out a local day: the unspent part of today folds into
// heartsBase, the active companion gains a day, and the intraday trackers
// reset. Folding can fill the hearts, in which case the unlock happens here.
func (e *Engine) FinalizeDay(s *models.Spirit) HeartsResult {
	res := HeartsResult{LiveTotal: LiveTotal(*s)}
	s.HeartsBase = res.LiveTotal

	if s.CompanionDays == nil {
		s.CompanionDays = map[string]int{}
	}
	if s.ActiveCompanionID != "" {
		s.CompanionDays[s.ActiveCompanionID]++
	}

	if s.HeartsBase >= constants.MaxHearts-1e-9 {
		e.unlock(s, &res)
		s.HeartsBase = 0
	}

	s.TodayPercent = 0
	s.TodayConsumedPercent = 0
	s.TodayCoinFloor = wholeHearts(s.HeartsBase)
	return res
}

// DayPercent is today's completion percent across habits scheduled today,
// with partial credit for partial progress toward each goal.
func DayPercent(habits []models.Habit, weekday time.Weekday) int {
	var sum float64
	n := 0
	for _, h := range habits {
		if !h.IsScheduledOn(weekday) {
			continue
		}
		sum += h.Fraction()
		n++
	}
	if n == 0 {
		return 0
	}
	return int(math.Round(sum / float64(n) * 100))
}
