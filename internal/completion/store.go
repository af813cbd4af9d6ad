// Package completion holds the completion event log: one record per
// (habit, date), the source every streak and grid is derived from.
package completion

import (
	"sort"
	stdsync "sync"

	"github.com/julianstephens/hagotchi/internal/models"
)

// Store is an in-memory completion log for one user. It is safe for
// concurrent use; readers always get copies.
type Store struct {
	mu      stdsync.RWMutex
	records map[models.CompletionKey]models.CompletionRecord
}

func NewStore(records []models.CompletionRecord) *Store {
	s := &Store{records: make(map[models.CompletionKey]models.CompletionRecord, len(records))}
	for _, r := range records {
		if r.CompletionCount > 0 {
			s.records[r.Key()] = r
		}
	}
	return s
}

// Set upserts rec. A count of zero or less deletes the record. It returns
// the previous record, if any, so callers can revert.
func (s *Store) Set(rec models.CompletionRecord) (prev models.CompletionRecord, existed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rec.Key()
	prev, existed = s.records[key]
	if rec.CompletionCount <= 0 {
		delete(s.records, key)
	} else {
		s.records[key] = rec
	}
	return prev, existed
}

// Get returns the record for habitID on date.
func (s *Store) Get(habitID, date string) (models.CompletionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[models.CompletionKey{HabitID: habitID, Date: date}]
	return r, ok
}

// ForHabit returns the habit's records, oldest first.
func (s *Store) ForHabit(habitID string) []models.CompletionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.CompletionRecord
	for _, r := range s.records {
		if r.HabitID == habitID {
			out = append(out, r)
		}
	}
	sortRecords(out)
	return out
}

// Range returns records with start <= date <= end. Empty bounds are open.
func (s *Store) Range(start, end string) []models.CompletionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.CompletionRecord
	for _, r := range s.records {
		if (start != "" && r.Date < start) || (end != "" && r.Date > end) {
			continue
		}
		out = append(out, r)
	}
	sortRecords(out)
	return out
}

// All returns every record ordered by date, then habit.
func (s *Store) All() []models.CompletionRecord {
	return s.Range("", "")
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// DeleteHabit drops all of a habit's records and returns them.
func (s *Store) DeleteHabit(habitID string) []models.CompletionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []models.CompletionRecord
	for k, r := range s.records {
		if r.HabitID == habitID {
			removed = append(removed, r)
			delete(s.records, k)
		}
	}
	sortRecords(removed)
	return removed
}

// Restore puts back records previously removed.
func (s *Store) Restore(records []models.CompletionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		if r.CompletionCount > 0 {
			s.records[r.Key()] = r
		}
	}
}

// Replace swaps the whole log, used when a refresh lands.
func (s *Store) Replace(records []models.CompletionRecord) {
	fresh := make(map[models.CompletionKey]models.CompletionRecord, len(records))
	for _, r := range records {
		if r.CompletionCount > 0 {
			fresh[r.Key()] = r
		}
	}
	s.mu.Lock()
	s.records = fresh
	s.mu.Unlock()
}

func sortRecords(records []models.CompletionRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].Date != records[j].Date {
			return records[i].Date < records[j].Date
		}
		return records[i].HabitID < records[j].HabitID
	})
}
