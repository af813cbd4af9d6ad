package activity

import (
	"context"
	"errors"
	stdsync "sync"

	"github.com/julianstephens/hagotchi/internal/models"
)

// ErrSuperseded is returned by Loader.Load when a newer load started before
// this one finished. Its result must not be shown.
var ErrSuperseded = errors.New("activity load superseded by a newer request")

// RangeFetcher reads completion records for a date range.
type RangeFetcher interface {
	ListCompletions(ctx context.Context, userID, start, end string) ([]models.CompletionRecord, error)
}

// Loader fetches a period's records where only the latest request wins:
// starting a load cancels the one in flight.
type Loader struct {
	fetch  RangeFetcher
	userID string

	mu     stdsync.Mutex
	seq    uint64
	cancel context.CancelFunc
}

func NewLoader(fetch RangeFetcher, userID string) *Loader {
	return &Loader{fetch: fetch, userID: userID}
}

// Load fetches the records for period's window as seen on today.
func (l *Loader) Load(ctx context.Context, period Period, today string) ([]models.CompletionRecord, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
	}
	l.seq++
	mine := l.seq
	l.cancel = cancel
	l.mu.Unlock()

	start, end := period.Window(today)
	records, err := l.fetch.ListCompletions(ctx, l.userID, start, end)

	l.mu.Lock()
	defer l.mu.Unlock()
	if mine != l.seq {
		return nil, ErrSuperseded
	}
	l.cancel = nil
	if err != nil {
		return nil, err
	}
	return records, nil
}
