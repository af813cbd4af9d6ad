package errors

import (
	"fmt"
	"os"

	"github.com/julianstephens/hagotchi/internal/logger"
)

// Format formats an error message with a consistent "Error: " prefix
func Format(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("Error: %v", err)
}

// Formatf formats an error message with a consistent "Error: " prefix using a format string
func Formatf(format string, args ...interface{}) string {
	return fmt.Sprintf("Error: "+format, args...)
}

// Fatal logs an error and exits the program with exit code 1
func Fatal(err error) {
	if err != nil {
		logger.Error("Command execution failed", "error", err)
		fmt.Fprintf(os.Stderr, "%s\n", Format(err))
		os.Exit(1)
	}
}

// Fatalf logs and formats an error message, then exits the program with exit code 1
func Fatalf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	logger.Error("Command execution failed", "error", msg)
	fmt.Fprintf(os.Stderr, "%s\n", Formatf(format, args...))
	os.Exit(1)
}

// ConnectionError is returned when the remote store cannot be reached during
// an initial load that has no local snapshot to fall back on.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// RemoteWriteError is returned when the remote store rejects a mutation while
// online. The optimistic local change has already been reverted.
type RemoteWriteError struct {
	Action  string
	HabitID string
	Err     error
}

func (e *RemoteWriteError) Error() string {
	if e.HabitID == "" {
		return fmt.Sprintf("remote write %s failed: %v", e.Action, e.Err)
	}
	return fmt.Sprintf("remote write %s for habit %s failed: %v", e.Action, e.HabitID, e.Err)
}

func (e *RemoteWriteError) Unwrap() error { return e.Err }

// ValidationError rejects input before any state changes.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Invalid builds a ValidationError for field.
func Invalid(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// QueueReplayError halts a queue flush. Remaining counts the actions still
// queued, including the one that failed.
type QueueReplayError struct {
	ActionID  string
	Action    string
	Remaining int
	Err       error
}

func (e *QueueReplayError) Error() string {
	return fmt.Sprintf("replay of queued %s (%s) failed, %d action(s) pending: %v", e.Action, e.ActionID, e.Remaining, e.Err)
}

func (e *QueueReplayError) Unwrap() error { return e.Err }
