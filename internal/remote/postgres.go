package remote

import (
	"context"
	"crypto/md5"
	"database/sql"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	stdsync "sync"
	"time"

	pq "github.com/lib/pq"

	"github.com/julianstephens/hagotchi/internal/constants"
	"github.com/julianstephens/hagotchi/internal/logger"
	"github.com/julianstephens/hagotchi/internal/migration"
	"github.com/julianstephens/hagotchi/internal/models"
	"github.com/julianstephens/hagotchi/migrations"
)

const changeChannelPrefix = "hagotchi_changes_"

// ChangeChannel is the LISTEN/NOTIFY channel carrying userID's row changes.
// The triggers derive the same name: the prefix plus the md5 of the user id,
// which keeps any id under the 63 byte channel name limit.
func ChangeChannel(userID string) string {
	sum := md5.Sum([]byte(userID))
	return changeChannelPrefix + hex.EncodeToString(sum[:])
}

// PostgresStore implements Store on PostgreSQL. All tables live in a schema
// named after the app, selected through search_path.
type PostgresStore struct {
	connStr string

	mu stdsync.Mutex
	db *sql.DB
}

func NewPostgresStore(connStr string) *PostgresStore {
	s := &PostgresStore{connStr: connStr}
	s.ensureSearchPath()
	return s
}

func (s *PostgresStore) ensureSearchPath() {
	if isURL(s.connStr) {
		u, err := url.Parse(s.connStr)
		if err != nil {
			logger.Warn("Failed to parse Postgres connection string", "connStr", MaskPassword(s.connStr), "error", err)
			return
		}
		q := u.Query()
		if q.Get("search_path") == "" {
			q.Set("search_path", constants.AppName)
			u.RawQuery = q.Encode()
			s.connStr = u.String()
		}
		return
	}
	if !hasDSNParam(s.connStr, "search_path") {
		s.connStr = strings.TrimSpace(s.connStr) + " search_path=" + constants.AppName
	}
}

// Open connects, creates the schema and applies migrations. It is a no-op
// once connected. Queries on a store that is not open yet try to open it
// first, so a store created while offline connects when the backend returns.
func (s *PostgresStore) Open(ctx context.Context) error {
	_, err := s.conn(ctx)
	return err
}

func (s *PostgresStore) conn(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}
	if err := s.openLocked(ctx); err != nil {
		return nil, err
	}
	return s.db, nil
}

func (s *PostgresStore) openLocked(ctx context.Context) error {
	db, err := sql.Open("postgres", s.connStr)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		if strings.Contains(err.Error(), "SSL is not enabled on the server") && !hasDSNParam(s.connStr, "sslmode") && !strings.Contains(s.connStr, "sslmode=") {
			return fmt.Errorf("failed to connect to database: %w (hint: try adding ?sslmode=disable to your connection string)", classify(err))
		}
		return fmt.Errorf("failed to connect to database: %w", classify(err))
	}

	if _, err := db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+constants.AppName); err != nil {
		db.Close()
		return fmt.Errorf("failed to create schema: %w", err)
	}

	runner := migration.New(db, migrations.Postgres(), migration.Postgres, logger.With("component", "pg-migrations"))
	if _, err := runner.Up(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	s.db = db
	return nil
}

func (s *PostgresStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// classify wraps transport-level failures in ErrUnreachable. Errors the server
// returned for a query it received pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// class 08: connection exception
		if pqErr.Code.Class() == "08" {
			return fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		return err
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return err
}

const habitColumns = `id, user_id, name, icon, daily_goal, position, scheduled_time, scheduled_days,
       history, completed_today, completions_today, streak, created_at, updated_at`

func (s *PostgresStore) ListHabits(ctx context.Context, userID string) ([]models.Habit, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
SELECT `+habitColumns+`
FROM habits WHERE user_id = $1
ORDER BY position, created_at, id`, userID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var habits []models.Habit
	for rows.Next() {
		var h models.Habit
		var scheduledTime sql.NullString
		var days, history []int64

		err := rows.Scan(
			&h.ID, &h.UserID, &h.Name, &h.Icon, &h.DailyGoal, &h.Position, &scheduledTime, pq.Array(&days),
			pq.Array(&history), &h.CompletedToday, &h.CompletionsToday, &h.Streak, &h.CreatedAt, &h.UpdatedAt,
		)
		if err != nil {
			return nil, classify(err)
		}

		if scheduledTime.Valid {
			h.ScheduledTime = &scheduledTime.String
		}
		for _, d := range days {
			h.ScheduledDays = append(h.ScheduledDays, time.Weekday(d))
		}
		for i := 0; i < len(history) && i < len(h.History); i++ {
			h.History[i] = int(history[i])
		}
		habits = append(habits, h)
	}
	return habits, classify(rows.Err())
}

func (s *PostgresStore) UpsertHabit(ctx context.Context, h models.Habit) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	days := make([]int64, len(h.ScheduledDays))
	for i, d := range h.ScheduledDays {
		days[i] = int64(d)
	}
	history := make([]int64, len(h.History))
	for i, v := range h.History {
		history[i] = int64(v)
	}

	_, err = db.ExecContext(ctx, `
INSERT INTO habits (`+habitColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name,
    icon = EXCLUDED.icon,
    daily_goal = EXCLUDED.daily_goal,
    position = EXCLUDED.position,
    scheduled_time = EXCLUDED.scheduled_time,
    scheduled_days = EXCLUDED.scheduled_days,
    history = EXCLUDED.history,
    completed_today = EXCLUDED.completed_today,
    completions_today = EXCLUDED.completions_today,
    streak = EXCLUDED.streak,
    updated_at = EXCLUDED.updated_at`,
		h.ID, h.UserID, h.Name, h.Icon, h.DailyGoal, h.Position, h.ScheduledTime, pq.Array(days),
		pq.Array(history), h.CompletedToday, h.CompletionsToday, h.Streak, h.CreatedAt, h.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert habit %s: %w", h.ID, classify(err))
	}
	return nil
}

func (s *PostgresStore) DeleteHabit(ctx context.Context, userID, habitID string) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM completions WHERE user_id = $1 AND habit_id = $2`, userID, habitID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to delete completions for habit %s: %w", habitID, classify(err))
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM habits WHERE user_id = $1 AND id = $2`, userID, habitID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to delete habit %s: %w", habitID, classify(err))
	}
	return classify(tx.Commit())
}

func (s *PostgresStore) ListCompletions(ctx context.Context, userID, start, end string) ([]models.CompletionRecord, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	query := `
SELECT user_id, habit_id, to_char(completed_date, 'YYYY-MM-DD'), completion_count, daily_goal, updated_at
FROM completions WHERE user_id = $1`
	args := []any{userID}
	if start != "" {
		args = append(args, start)
		query += fmt.Sprintf(" AND completed_date >= $%d::date", len(args))
	}
	if end != "" {
		args = append(args, end)
		query += fmt.Sprintf(" AND completed_date <= $%d::date", len(args))
	}
	query += " ORDER BY completed_date, habit_id"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var records []models.CompletionRecord
	for rows.Next() {
		var r models.CompletionRecord
		if err := rows.Scan(&r.UserID, &r.HabitID, &r.Date, &r.CompletionCount, &r.DailyGoal, &r.UpdatedAt); err != nil {
			return nil, classify(err)
		}
		records = append(records, r)
	}
	return records, classify(rows.Err())
}

func (s *PostgresStore) UpsertCompletion(ctx context.Context, rec models.CompletionRecord) error {
	if rec.CompletionCount <= 0 {
		return s.DeleteCompletion(ctx, rec.UserID, rec.HabitID, rec.Date)
	}
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
INSERT INTO completions (user_id, habit_id, completed_date, completion_count, daily_goal, updated_at)
VALUES ($1, $2, $3::date, $4, $5, $6)
ON CONFLICT (user_id, habit_id, completed_date) DO UPDATE SET
    completion_count = EXCLUDED.completion_count,
    daily_goal = EXCLUDED.daily_goal,
    updated_at = EXCLUDED.updated_at`,
		rec.UserID, rec.HabitID, rec.Date, rec.CompletionCount, rec.DailyGoal, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert completion %s/%s: %w", rec.HabitID, rec.Date, classify(err))
	}
	return nil
}

func (s *PostgresStore) DeleteCompletion(ctx context.Context, userID, habitID, date string) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
DELETE FROM completions WHERE user_id = $1 AND habit_id = $2 AND completed_date = $3::date`,
		userID, habitID, date)
	if err != nil {
		return fmt.Errorf("failed to delete completion %s/%s: %w", habitID, date, classify(err))
	}
	return nil
}

func (s *PostgresStore) GetSpirit(ctx context.Context, userID string) (models.Spirit, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return models.Spirit{}, err
	}
	var sp models.Spirit
	var unlocked pq.StringArray
	err = db.QueryRowContext(ctx, `
SELECT s.user_id, s.active_companion_id, s.hearts_base, s.unlocked_companion_ids, s.vitality,
       s.last_fed_at, s.last_active_at, s.today_percent, s.today_consumed_percent, s.today_coin_floor,
       COALESCE(st.coins, 0), COALESCE(st.total_habits_completed, 0),
       COALESCE(st.current_streak, 0), COALESCE(st.longest_streak, 0)
FROM hagotchi_spirit s
LEFT JOIN hagotchi_stats st ON st.user_id = s.user_id
WHERE s.user_id = $1`, userID).Scan(
		&sp.UserID, &sp.ActiveCompanionID, &sp.HeartsBase, &unlocked, &sp.Vitality,
		&sp.LastFedAt, &sp.LastActiveAt, &sp.TodayPercent, &sp.TodayConsumedPercent, &sp.TodayCoinFloor,
		&sp.Coins, &sp.TotalHabitsCompleted, &sp.CurrentStreak, &sp.LongestStreak,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Spirit{}, ErrNotFound
	}
	if err != nil {
		return models.Spirit{}, classify(err)
	}
	sp.UnlockedCompanionIDs = []string(unlocked)

	skins, err := s.ListSkins(ctx, userID)
	if err != nil {
		return models.Spirit{}, err
	}
	sp.CompanionDays = make(map[string]int, len(skins))
	for _, skin := range skins {
		sp.CompanionDays[skin.SkinID] = skin.DaysActive
	}
	return sp, nil
}

// UpsertSpirit writes the spirit and stats rows in one transaction.
func (s *PostgresStore) UpsertSpirit(ctx context.Context, sp models.Spirit) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	now := time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
INSERT INTO hagotchi_spirit (user_id, active_companion_id, hearts_base, unlocked_companion_ids, vitality,
    last_fed_at, last_active_at, today_percent, today_consumed_percent, today_coin_floor, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (user_id) DO UPDATE SET
    active_companion_id = EXCLUDED.active_companion_id,
    hearts_base = EXCLUDED.hearts_base,
    unlocked_companion_ids = EXCLUDED.unlocked_companion_ids,
    vitality = EXCLUDED.vitality,
    last_fed_at = EXCLUDED.last_fed_at,
    last_active_at = EXCLUDED.last_active_at,
    today_percent = EXCLUDED.today_percent,
    today_consumed_percent = EXCLUDED.today_consumed_percent,
    today_coin_floor = EXCLUDED.today_coin_floor,
    updated_at = EXCLUDED.updated_at`,
		sp.UserID, sp.ActiveCompanionID, sp.HeartsBase, pq.StringArray(sp.UnlockedCompanionIDs), sp.Vitality,
		sp.LastFedAt, sp.LastActiveAt, sp.TodayPercent, sp.TodayConsumedPercent, sp.TodayCoinFloor, now)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to upsert spirit: %w", classify(err))
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO hagotchi_stats (user_id, coins, total_habits_completed, current_streak, longest_streak, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (user_id) DO UPDATE SET
    coins = EXCLUDED.coins,
    total_habits_completed = EXCLUDED.total_habits_completed,
    current_streak = EXCLUDED.current_streak,
    longest_streak = EXCLUDED.longest_streak,
    updated_at = EXCLUDED.updated_at`,
		sp.UserID, sp.Coins, sp.TotalHabitsCompleted, sp.CurrentStreak, sp.LongestStreak, now)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to upsert stats: %w", classify(err))
	}

	return classify(tx.Commit())
}

func (s *PostgresStore) ListSkins(ctx context.Context, userID string) ([]models.SkinProgress, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
SELECT user_id, skin_id, days_active, unlocked_at
FROM hagotchi_skins WHERE user_id = $1 ORDER BY unlocked_at, skin_id`, userID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var skins []models.SkinProgress
	for rows.Next() {
		var sk models.SkinProgress
		if err := rows.Scan(&sk.UserID, &sk.SkinID, &sk.DaysActive, &sk.UnlockedAt); err != nil {
			return nil, classify(err)
		}
		skins = append(skins, sk)
	}
	return skins, classify(rows.Err())
}

func (s *PostgresStore) UpsertSkin(ctx context.Context, skin models.SkinProgress) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
INSERT INTO hagotchi_skins (user_id, skin_id, days_active, unlocked_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, skin_id) DO UPDATE SET
    days_active = EXCLUDED.days_active`,
		skin.UserID, skin.SkinID, skin.DaysActive, skin.UnlockedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert skin %s: %w", skin.SkinID, classify(err))
	}
	return nil
}

// Subscribe listens on the user's ChangeChannel with a dedicated
// connection. After the listener reconnects it emits an OpResync event,
// since notifications sent while disconnected are lost.
func (s *PostgresStore) Subscribe(ctx context.Context, userID string) (<-chan models.ChangeEvent, error) {
	log := logger.With("component", "pg-listener", "user", userID)
	listener := pq.NewListener(s.connStr, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Warn("Listener event", "event", ev, "error", err)
		}
	})
	channel := ChangeChannel(userID)
	if err := listener.Listen(channel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", channel, classify(err))
	}

	out := make(chan models.ChangeEvent, constants.ChangeFeedBuffer)
	go func() {
		defer close(out)
		defer listener.Close()

		ping := time.NewTicker(90 * time.Second)
		defer ping.Stop()

		send := func(ev models.ChangeEvent) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-listener.Notify:
				if !ok {
					return
				}
				if n == nil {
					if !send(models.ChangeEvent{Op: OpResync, UserID: userID, At: time.Now().UTC()}) {
						return
					}
					continue
				}
				var ev models.ChangeEvent
				if err := json.Unmarshal([]byte(n.Extra), &ev); err != nil {
					log.Warn("Dropping malformed change notification", "payload", n.Extra, "error", err)
					continue
				}
				if !send(ev) {
					return
				}
			case <-ping.C:
				go func() {
					if err := listener.Ping(); err != nil {
						log.Debug("Listener ping failed", "error", err)
					}
				}()
			}
		}
	}()
	return out, nil
}
