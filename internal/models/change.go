package models

import "time"

// ChangeTable names a remote table that emits change notifications
type ChangeTable string

const (
	TableHabits      ChangeTable = "habits"
	TableCompletions ChangeTable = "completions"
	TableSpirit      ChangeTable = "hagotchi_spirit"
	TableStats       ChangeTable = "hagotchi_stats"
	TableSkins       ChangeTable = "hagotchi_skins"
)

// ChangeEvent is one entry of the remote change feed.
type ChangeEvent struct {
	Table    ChangeTable `json:"table"`
	Op       string      `json:"op"` // INSERT, UPDATE or DELETE
	UserID   string      `json:"user_id"`
	EntityID string      `json:"entity_id"` // habit id for habits and completions
	At       time.Time   `json:"at"`
}
