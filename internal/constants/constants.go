package constants

import "time"

const (
	AppName            = "hagotchi"
	DefaultKeyringUser = "remote-connection"
	SessionKeyringUser = "session-user"
	DefaultConfigDir   = "~/.config/hagotchi"
	DefaultConfigFile  = "config.toml"
	DefaultCacheFile   = "cache.db"
	Version            = "v0.3.0"

	// DateFormat is the standard date format used throughout the application (YYYY-MM-DD)
	DateFormat = "2006-01-02"

	// TimeFormat is the standard time format used throughout the application (HH:MM)
	TimeFormat = "15:04"

	// DefaultTimezone uses the system local timezone
	DefaultTimezone = "Local"

	// EnvPrefix prefixes every environment override
	EnvPrefix = "HAGOTCHI_"
)

// Habit constraints
const (
	MinDailyGoal     = 1
	MaxDailyGoal     = 10
	MaxHabitNameLen  = 100
	HistoryLen       = 7
	DefaultHabitIcon = "✦"
)

// Sync tunables
const (
	DefaultInitialLoadTimeout = 30 * time.Second
	DefaultFlushActionTimeout = 15 * time.Second
	DefaultFlushInterval      = 60 * time.Second
	DefaultRefreshTimeout     = 45 * time.Second
	ChangeFeedBuffer          = 64
	DayCheckInterval          = time.Minute
)

// Streak lookback. Ten years of days is far beyond any real history and
// bounds the backwards walk on sparse logs.
const MaxStreakLookbackDays = 3650

// Gamification tunables
const (
	MaxHearts            = 3.0
	VitalityMax          = 100.0
	VitalityDecayPerHour = 2.0
	VitalityFeedMin      = 8
	VitalityFeedMax      = 15

	VitalityThriving = 75.0
	VitalityContent  = 50.0
	VitalityTired    = 25.0

	DefaultCompanionID = "sprout"
)

// DefaultCompanions is the catalog of unlockable companion skins. The first
// entry is granted on onboarding.
var DefaultCompanions = []string{"sprout", "ember", "tide", "moss", "glimmer", "pebble", "comet", "fern"}

// Activity grid windows, in weeks
const (
	GridWeeksWeek  = 1
	GridWeeksMonth = 5
	GridWeeksYear  = 53
	GridWeeksAll   = 156

	// GridStreakThreshold is the aggregate completion a day needs to count
	// toward the grid-level streak.
	GridStreakThreshold = 0.5
)

// Local cache keys
const (
	CacheKeyHabits         = "habits"
	CacheKeyCompletions    = "completions"
	CacheKeyPendingActions = "pending_actions"
	CacheKeyLastSync       = "last_sync"
	CacheKeyLastVisitDate  = "last_visit_date"
	CacheKeySpirit         = "spirit"
	CacheKeyFlagPrefix     = "flag:"

	FlagHintDismissed = "hint_dismissed"
	FlagBriefingShown = "briefing_shown"
	FlagForcedOffline = "forced_offline"
)
