package models

import (
	"fmt"
	"time"
)

// ActionType tags the payload carried by a PendingAction
type ActionType string

const (
	ActionCreateHabit      ActionType = "CREATE_HABIT"
	ActionUpdateHabit      ActionType = "UPDATE_HABIT"
	ActionDeleteHabit      ActionType = "DELETE_HABIT"
	ActionRecordCompletion ActionType = "RECORD_COMPLETION"
	ActionUpsertSpirit     ActionType = "UPSERT_SPIRIT"
	ActionUpsertSkin       ActionType = "UPSERT_SKIN"
)

// PendingAction is one remote write. Exactly one payload field is set,
// selected by Type. Actions are replayed in queue order and every type is
// safe to apply more than once.
type PendingAction struct {
	ID         string            `json:"id"`
	Type       ActionType        `json:"type"`
	HabitID    string            `json:"habit_id,omitempty"`
	Habit      *Habit            `json:"habit,omitempty"`
	Completion *CompletionRecord `json:"completion,omitempty"`
	Spirit     *Spirit           `json:"spirit,omitempty"`
	Skin       *SkinProgress     `json:"skin,omitempty"`
	QueuedAt   time.Time         `json:"queued_at"`
	// Seq orders the mutations that produced actions. Actions of one
	// mutation share it; a later mutation always has a higher Seq.
	Seq uint64 `json:"seq,omitempty"`
}

// Validate checks that the payload matches the action type.
func (a PendingAction) Validate() error {
	switch a.Type {
	case ActionCreateHabit, ActionUpdateHabit:
		if a.Habit == nil {
			return fmt.Errorf("%s action %s has no habit payload", a.Type, a.ID)
		}
	case ActionDeleteHabit:
		if a.HabitID == "" {
			return fmt.Errorf("%s action %s has no habit id", a.Type, a.ID)
		}
	case ActionRecordCompletion:
		if a.Completion == nil {
			return fmt.Errorf("%s action %s has no completion payload", a.Type, a.ID)
		}
	case ActionUpsertSpirit:
		if a.Spirit == nil {
			return fmt.Errorf("%s action %s has no spirit payload", a.Type, a.ID)
		}
	case ActionUpsertSkin:
		if a.Skin == nil {
			return fmt.Errorf("%s action %s has no skin payload", a.Type, a.ID)
		}
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	return nil
}

// EntityKey names the remote row the action writes. Actions sharing a key
// must reach the remote store in queue order.
func (a PendingAction) EntityKey() string {
	switch a.Type {
	case ActionRecordCompletion:
		return "completion:" + a.Completion.HabitID + ":" + a.Completion.Date
	case ActionUpsertSpirit:
		return "spirit"
	case ActionUpsertSkin:
		return "skin:" + a.Skin.SkinID
	default:
		return "habit:" + a.HabitID
	}
}

// Rewrites reports whether applying a replaces everything b would write, so
// b may be skipped once a is queued after it.
func (a PendingAction) Rewrites(b PendingAction) bool {
	if a.EntityKey() != b.EntityKey() || b.Type == ActionDeleteHabit {
		return false
	}
	return a.Type != ActionCreateHabit || b.Type == ActionCreateHabit
}

// LaneKey groups actions that must be serialized together: every action
// touching one habit shares a lane.
func (a PendingAction) LaneKey() string {
	switch a.Type {
	case ActionUpsertSpirit, ActionUpsertSkin:
		return "spirit"
	default:
		return "habit:" + a.HabitID
	}
}
