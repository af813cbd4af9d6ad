package rollover

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/julianstephens/hagotchi/internal/models"
	"github.com/julianstephens/hagotchi/internal/vitality"
)

type fakeMarker struct {
	date   string
	set    bool
	calls  *[]string
	failOn bool
}

func (m *fakeMarker) LastVisitDate() (string, bool, error) {
	return m.date, m.set, nil
}

func (m *fakeMarker) SetLastVisitDate(date string) error {
	if m.failOn {
		return errors.New("disk full")
	}
	*m.calls = append(*m.calls, "marker:"+date)
	m.date, m.set = date, true
	return nil
}

type fakeHabits struct {
	calls  *[]string
	days   []int
	closed []string
}

func (h *fakeHabits) ShiftDays(_ context.Context, closed string, days int) error {
	*h.calls = append(*h.calls, "shift")
	h.days = append(h.days, days)
	h.closed = append(h.closed, closed)
	return nil
}

type fakeSpirit struct {
	calls  *[]string
	spirit *models.Spirit
}

func (s *fakeSpirit) Spirit() (models.Spirit, bool) {
	if s.spirit == nil {
		return models.Spirit{}, false
	}
	return *s.spirit, true
}

func (s *fakeSpirit) UpdateSpiritDurable(_ context.Context, fn func(*models.Spirit) error) (models.Spirit, error) {
	*s.calls = append(*s.calls, "spirit")
	next := s.spirit.Clone()
	if err := fn(&next); err != nil {
		return *s.spirit, err
	}
	s.spirit = &next
	return next, nil
}

type harness struct {
	r      *Rollover
	marker *fakeMarker
	habits *fakeHabits
	spirit *fakeSpirit
	calls  *[]string
	now    time.Time
}

func newHarness(t *testing.T, last string, withSpirit bool) *harness {
	t.Helper()
	calls := &[]string{}
	h := &harness{
		marker: &fakeMarker{date: last, set: last != "", calls: calls},
		habits: &fakeHabits{calls: calls},
		spirit: &fakeSpirit{calls: calls},
		calls:  calls,
		now:    time.Date(2026, 10, 15, 8, 30, 0, 0, time.UTC),
	}
	if withSpirit {
		sp := models.NewSpirit("u", "sprout", h.now)
		h.spirit.spirit = &sp
	}
	h.r = New(Config{
		Marker:   h.marker,
		Habits:   h.habits,
		Spirit:   h.spirit,
		Vitality: vitality.NewEngine(rand.New(rand.NewPCG(1, 1)), []string{"sprout", "ember"}),
		Now:      func() time.Time { return h.now },
		Location: time.UTC,
	})
	return h
}

func TestCheckFirstRunRecordsMarkerOnly(t *testing.T) {
	h := newHarness(t, "", true)

	res, err := h.r.Check(context.Background())
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if res.Transitioned {
		t.Error("first run should not transition")
	}
	if len(*h.calls) != 1 || (*h.calls)[0] != "marker:2026-10-15" {
		t.Errorf("calls = %v, want only the marker write", *h.calls)
	}
}

func TestCheckSameDayIsNoop(t *testing.T) {
	h := newHarness(t, "2026-10-15", true)

	res, err := h.r.Check(context.Background())
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if res.Transitioned || len(*h.calls) != 0 {
		t.Errorf("res = %+v, calls = %v, want no-op", res, *h.calls)
	}
}

func TestCheckClockBackwardsIsNoop(t *testing.T) {
	h := newHarness(t, "2026-10-17", true)

	res, err := h.r.Check(context.Background())
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if res.Transitioned || len(*h.calls) != 0 {
		t.Errorf("res = %+v, calls = %v, want no-op", res, *h.calls)
	}
	if h.marker.date != "2026-10-17" {
		t.Errorf("marker moved back to %s", h.marker.date)
	}
}

func TestCheckMultiDayGap(t *testing.T) {
	h := newHarness(t, "2026-10-12", true)
	h.spirit.spirit.TodayPercent = 50
	h.spirit.spirit.HeartsBase = 1

	res, err := h.r.Check(context.Background())
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !res.Transitioned || res.DaysElapsed != 3 {
		t.Fatalf("res = %+v, want 3 elapsed days", res)
	}

	want := []string{"marker:2026-10-15", "shift", "spirit"}
	if len(*h.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", *h.calls, want)
	}
	for i := range want {
		if (*h.calls)[i] != want[i] {
			t.Errorf("calls[%d] = %s, want %s", i, (*h.calls)[i], want[i])
		}
	}
	if len(h.habits.days) != 1 || h.habits.days[0] != 3 {
		t.Errorf("ShiftDays calls = %v, want one call for 3 days", h.habits.days)
	}
	if len(h.habits.closed) != 1 || h.habits.closed[0] != "2026-10-12" {
		t.Errorf("ShiftDays closed = %v, want the last visit 2026-10-12", h.habits.closed)
	}

	sp := h.spirit.spirit
	if len(res.Hearts) != 3 {
		t.Errorf("finalize results = %d, want 3", len(res.Hearts))
	}
	if sp.HeartsBase < 1.499 || sp.HeartsBase > 1.501 {
		t.Errorf("HeartsBase = %v, want 1.5", sp.HeartsBase)
	}
	if sp.CompanionDays["sprout"] != 3 {
		t.Errorf("CompanionDays = %v, want sprout=3", sp.CompanionDays)
	}
	if sp.TodayPercent != 0 {
		t.Errorf("TodayPercent = %d, want reset", sp.TodayPercent)
	}
	if h.r.State() != CurrentDay {
		t.Errorf("State() = %s, want current_day", h.r.State())
	}
}

func TestCheckWithoutSpiritShiftsHabitsOnly(t *testing.T) {
	h := newHarness(t, "2026-10-14", false)

	if _, err := h.r.Check(context.Background()); err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	for _, c := range *h.calls {
		if c == "spirit" {
			t.Error("spirit finalized with no spirit present")
		}
	}
}

func TestCheckMarkerFailureStopsBeforeShifting(t *testing.T) {
	h := newHarness(t, "2026-10-14", true)
	h.marker.failOn = true

	if _, err := h.r.Check(context.Background()); err == nil {
		t.Fatal("Check() error = nil, want marker write failure")
	}
	if len(h.habits.days) != 0 {
		t.Error("habits shifted although the marker was not persisted")
	}
}

func TestCheckUsesConfiguredTimezone(t *testing.T) {
	h := newHarness(t, "2026-10-15", false)
	tokyo := time.FixedZone("JST", 9*60*60)
	h.now = time.Date(2026, 10, 15, 16, 0, 0, 0, time.UTC) // already the 16th in Tokyo
	h.r.cfg.Location = tokyo

	res, err := h.r.Check(context.Background())
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !res.Transitioned || res.To != "2026-10-16" {
		t.Errorf("res = %+v, want transition to 2026-10-16", res)
	}
}
