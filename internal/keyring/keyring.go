// Package keyring keeps secrets in the OS keyring: the remote connection
// string and the signed-in user's ID.
package keyring

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/julianstephens/hagotchi/internal/constants"
)

var (
	// ErrNotFound is returned when nothing is stored under the account
	ErrNotFound = errors.New("credentials not found in keyring")
	// ErrUnavailable is returned when the OS keyring cannot be used
	ErrUnavailable = errors.New("OS keyring is not available")
)

func get(account string) (string, error) {
	v, err := keyring.Get(constants.AppName, account)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return v, nil
}

func set(account, what, value string) error {
	if value == "" {
		return fmt.Errorf("%s cannot be empty", what)
	}
	if err := keyring.Set(constants.AppName, account, value); err != nil {
		return fmt.Errorf("failed to store %s in keyring: %w", what, err)
	}
	return nil
}

func del(account, what string) error {
	if err := keyring.Delete(constants.AppName, account); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete %s from keyring: %w", what, err)
	}
	return nil
}

// GetConnectionString returns the stored remote connection string.
// Returns ErrNotFound if none is stored.
func GetConnectionString() (string, error) {
	return get(constants.DefaultKeyringUser)
}

func SetConnectionString(connStr string) error {
	return set(constants.DefaultKeyringUser, "connection string", connStr)
}

func DeleteConnectionString() error {
	return del(constants.DefaultKeyringUser, "connection string")
}

// GetUserID returns the user the last session signed in as.
func GetUserID() (string, error) {
	return get(constants.SessionKeyringUser)
}

func SetUserID(userID string) error {
	return set(constants.SessionKeyringUser, "user ID", userID)
}

func DeleteUserID() error {
	return del(constants.SessionKeyringUser, "user ID")
}

// Available reports whether the OS keyring answers at all. Best effort:
// an empty keyring counts as available.
func Available() bool {
	_, err := keyring.Get(constants.AppName, "test-availability")
	return err == nil || errors.Is(err, keyring.ErrNotFound)
}
