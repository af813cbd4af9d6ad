// Package remote is the authoritative backend: habits, completions and the
// gamification rows, plus a change feed.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	pq "github.com/lib/pq"

	"github.com/julianstephens/hagotchi/internal/models"
)

var (
	// ErrNotFound is returned when a single-row read finds nothing.
	ErrNotFound = errors.New("remote row not found")
	// ErrUnreachable marks failures where the backend could not be reached
	// at all, as opposed to a rejected write.
	ErrUnreachable = errors.New("remote store unreachable")

	ErrInvalidConnectionString = errors.New("invalid PostgreSQL connection string")
	ErrEmbeddedCredentials     = errors.New("connection string must not contain a password")
)

// OpResync is sent on the change feed when notifications may have been
// missed and the subscriber should refetch everything.
const OpResync = "RESYNC"

// Store is the remote source of truth. Every write is an idempotent upsert or
// delete keyed on the row's natural key, so replays are safe.
type Store interface {
	// ListHabits returns the user's habits ordered by position, then
	// creation time.
	ListHabits(ctx context.Context, userID string) ([]models.Habit, error)
	UpsertHabit(ctx context.Context, h models.Habit) error
	// DeleteHabit removes the habit and its completion rows.
	DeleteHabit(ctx context.Context, userID, habitID string) error

	// ListCompletions returns records with start <= date <= end. Empty
	// bounds are open.
	ListCompletions(ctx context.Context, userID, start, end string) ([]models.CompletionRecord, error)
	// UpsertCompletion writes on (user_id, habit_id, completed_date). A
	// count of zero deletes the row.
	UpsertCompletion(ctx context.Context, rec models.CompletionRecord) error
	DeleteCompletion(ctx context.Context, userID, habitID, date string) error

	GetSpirit(ctx context.Context, userID string) (models.Spirit, error)
	UpsertSpirit(ctx context.Context, s models.Spirit) error
	ListSkins(ctx context.Context, userID string) ([]models.SkinProgress, error)
	UpsertSkin(ctx context.Context, skin models.SkinProgress) error

	// Subscribe streams change events for the user until ctx is done. The
	// channel is closed when the subscription ends.
	Subscribe(ctx context.Context, userID string) (<-chan models.ChangeEvent, error)
}

// IsUnreachable reports whether err means the backend was never reached.
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}

// ValidateConnString checks that connStr is a PostgreSQL URI or DSN and does
// not carry a password. Passwords belong in .pgpass or PGPASSWORD.
func ValidateConnString(connStr string) error {
	if strings.TrimSpace(connStr) == "" {
		return fmt.Errorf("%w: connection string cannot be empty", ErrInvalidConnectionString)
	}

	if _, err := pq.NewConnector(connStr); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConnectionString, err)
	}

	if isURL(connStr) {
		u, err := url.Parse(connStr)
		if err != nil {
			return fmt.Errorf("%w: failed to parse connection URL: %v", ErrInvalidConnectionString, err)
		}
		if _, set := u.User.Password(); set {
			return ErrEmbeddedCredentials
		}
		if u.Host == "" && u.User == nil && (u.Path == "" || u.Path == "/") {
			return fmt.Errorf("%w: connection URL is incomplete", ErrInvalidConnectionString)
		}
		return nil
	}

	if hasDSNParam(connStr, "password") {
		return ErrEmbeddedCredentials
	}
	return nil
}

func isURL(connStr string) bool {
	return strings.HasPrefix(connStr, "postgres://") || strings.HasPrefix(connStr, "postgresql://")
}

// hasDSNParam reports whether a key=value DSN sets key (case-insensitive).
func hasDSNParam(connStr, key string) bool {
	for _, part := range strings.Fields(connStr) {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) == 2 && strings.EqualFold(strings.TrimSpace(kv[0]), key) {
			return true
		}
	}
	return false
}

// MaskPassword hides any password in a connection string for display.
func MaskPassword(connStr string) string {
	if isURL(connStr) {
		u, err := url.Parse(connStr)
		if err == nil && u.User != nil {
			if _, set := u.User.Password(); set {
				u.User = url.UserPassword(u.User.Username(), "****")
				// url escapes '*' in userinfo
				return strings.Replace(u.String(), "%2A%2A%2A%2A", "****", 1)
			}
		}
		return connStr
	}

	parts := strings.Fields(connStr)
	for i, part := range parts {
		if kv := strings.SplitN(part, "=", 2); len(kv) == 2 && strings.EqualFold(kv[0], "password") {
			parts[i] = kv[0] + "=****"
		}
	}
	return strings.Join(parts, " ")
}
