// Package sqlite implements the schedule store on an embedded SQLite
// database. It is the durable single-box backend; multi-instance deployments
// use the postgres store instead.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/example/panel-scheduler/internal/persistence"
)

const schema = `
CREATE TABLE IF NOT EXISTS schedules (
	id                   TEXT PRIMARY KEY,
	owner_id             TEXT NOT NULL,
	days_of_week         TEXT NOT NULL,
	hour                 INTEGER NOT NULL,
	minute               INTEGER NOT NULL,
	timezone             TEXT NOT NULL DEFAULT '',
	action_type          TEXT NOT NULL,
	zone_id              TEXT NOT NULL DEFAULT '',
	mode                 TEXT NOT NULL DEFAULT '',
	description          TEXT NOT NULL DEFAULT '',
	enabled              INTEGER NOT NULL,
	status               TEXT NOT NULL,
	next_execution       TEXT,
	last_execution_at    TEXT,
	last_execution_ok    INTEGER NOT NULL DEFAULT 0,
	last_execution_error TEXT NOT NULL DEFAULT '',
	execution_count      INTEGER NOT NULL DEFAULT 0,
	success_count        INTEGER NOT NULL DEFAULT 0,
	failure_count        INTEGER NOT NULL DEFAULT 0,
	version              INTEGER NOT NULL,
	claimed_until        TEXT,
	created_at           TEXT NOT NULL,
	updated_at           TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_schedules_owner ON schedules(owner_id);
CREATE INDEX IF NOT EXISTS idx_schedules_status_next ON schedules(status, next_execution);
`

// Store is a SQLite-backed persistence.ScheduleStore.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithNow overrides the clock used for CreatedAt/UpdatedAt stamps.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open connects to the database at dsn and applies the schema.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent claims.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite database: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies database connectivity for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// timeLayout is fixed width (UTC, zero-padded nanoseconds) so lexicographic
// order of the stored TEXT matches time order in SQL comparisons.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const scheduleColumns = `id, owner_id, days_of_week, hour, minute, timezone, action_type, zone_id, mode,
	description, enabled, status, next_execution, last_execution_at, last_execution_ok,
	last_execution_error, execution_count, success_count, failure_count, version, claimed_until,
	created_at, updated_at`

// Create inserts a new schedule at version 1.
func (s *Store) Create(ctx context.Context, schedule persistence.Schedule) (persistence.Schedule, error) {
	now := s.now().UTC()
	schedule.Version = 1
	schedule.CreatedAt = now
	schedule.UpdatedAt = now

	query := `INSERT INTO schedules (` + scheduleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		schedule.ID, schedule.OwnerID, encodeDays(schedule.DaysOfWeek), schedule.Hour, schedule.Minute,
		schedule.Timezone, schedule.ActionType, schedule.ZoneID, schedule.Mode, schedule.Description,
		boolToInt(schedule.Enabled), schedule.Status, encodeTime(schedule.NextExecution),
		encodeTime(schedule.LastExecutionAt), boolToInt(schedule.LastExecutionOK), schedule.LastExecutionError,
		schedule.ExecutionCount, schedule.SuccessCount, schedule.FailureCount, schedule.Version,
		encodeTime(schedule.ClaimedUntil), now.Format(timeLayout), now.Format(timeLayout))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return persistence.Schedule{}, persistence.ErrDuplicate
		}
		return persistence.Schedule{}, fmt.Errorf("inserting schedule: %w", err)
	}
	return schedule, nil
}

// Get retrieves a schedule by ID.
func (s *Store) Get(ctx context.Context, id string) (persistence.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	schedule, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.Schedule{}, persistence.ErrNotFound
	}
	if err != nil {
		return persistence.Schedule{}, fmt.Errorf("selecting schedule: %w", err)
	}
	return schedule, nil
}

// List returns schedules matching the filter. Day matching happens after the
// query because the day set is stored encoded.
func (s *Store) List(ctx context.Context, filter persistence.Filter) ([]persistence.Schedule, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.OwnerID != "" {
		conditions = append(conditions, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if len(filter.Statuses) > 0 {
		conditions = append(conditions, "status IN (?"+strings.Repeat(", ?", len(filter.Statuses)-1)+")")
		for _, status := range filter.Statuses {
			args = append(args, status)
		}
	}
	if filter.Enabled != nil {
		conditions = append(conditions, "enabled = ?")
		args = append(args, boolToInt(*filter.Enabled))
	}
	if len(filter.ActionTypes) > 0 {
		conditions = append(conditions, "action_type IN (?"+strings.Repeat(", ?", len(filter.ActionTypes)-1)+")")
		for _, actionType := range filter.ActionTypes {
			args = append(args, actionType)
		}
	}
	if filter.DueBefore != nil {
		conditions = append(conditions, "next_execution IS NOT NULL AND next_execution <= ?")
		args = append(args, filter.DueBefore.UTC().Format(timeLayout))
	}

	query := `SELECT ` + scheduleColumns + ` FROM schedules`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	switch filter.OrderBy {
	case persistence.OrderByNextExecution:
		query += " ORDER BY next_execution IS NULL, next_execution, id"
	default:
		query += " ORDER BY created_at, id"
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing schedules: %w", err)
	}
	defer rows.Close()

	matched := make([]persistence.Schedule, 0)
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning schedule: %w", err)
		}
		if len(filter.Days) > 0 && !intersectsWeekdays(schedule.DaysOfWeek, filter.Days) {
			continue
		}
		matched = append(matched, schedule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing schedules: %w", err)
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// Update writes the schedule when the expected version matches. Owner and
// creation stamp are immutable.
func (s *Store) Update(ctx context.Context, schedule persistence.Schedule, expectedVersion int64) (persistence.Schedule, error) {
	now := s.now().UTC()

	query := `UPDATE schedules SET
		days_of_week = ?, hour = ?, minute = ?, timezone = ?, action_type = ?, zone_id = ?, mode = ?,
		description = ?, enabled = ?, status = ?, next_execution = ?, last_execution_at = ?,
		last_execution_ok = ?, last_execution_error = ?, execution_count = ?, success_count = ?,
		failure_count = ?, version = version + 1, claimed_until = ?, updated_at = ?
		WHERE id = ? AND version = ?`

	result, err := s.db.ExecContext(ctx, query,
		encodeDays(schedule.DaysOfWeek), schedule.Hour, schedule.Minute, schedule.Timezone,
		schedule.ActionType, schedule.ZoneID, schedule.Mode, schedule.Description,
		boolToInt(schedule.Enabled), schedule.Status, encodeTime(schedule.NextExecution),
		encodeTime(schedule.LastExecutionAt), boolToInt(schedule.LastExecutionOK), schedule.LastExecutionError,
		schedule.ExecutionCount, schedule.SuccessCount, schedule.FailureCount,
		encodeTime(schedule.ClaimedUntil), now.Format(timeLayout),
		schedule.ID, expectedVersion)
	if err != nil {
		return persistence.Schedule{}, fmt.Errorf("updating schedule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.Schedule{}, fmt.Errorf("updating schedule: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.Get(ctx, schedule.ID); errors.Is(getErr, persistence.ErrNotFound) {
			return persistence.Schedule{}, persistence.ErrNotFound
		}
		return persistence.Schedule{}, persistence.ErrVersionMismatch
	}

	return s.Get(ctx, schedule.ID)
}

// Delete removes a schedule by ID.
func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting schedule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting schedule: %w", err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// Claim takes the firing lock for one schedule. The update is a single
// compare-and-set statement; with several engine instances only one wins.
func (s *Store) Claim(ctx context.Context, id string, expectedVersion int64, now, until time.Time) (persistence.Schedule, error) {
	query := `UPDATE schedules SET claimed_until = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ? AND (claimed_until IS NULL OR claimed_until <= ?)`

	result, err := s.db.ExecContext(ctx, query,
		until.UTC().Format(timeLayout), s.now().UTC().Format(timeLayout),
		id, expectedVersion, now.UTC().Format(timeLayout))
	if err != nil {
		return persistence.Schedule{}, fmt.Errorf("claiming schedule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.Schedule{}, fmt.Errorf("claiming schedule: %w", err)
	}
	if affected == 1 {
		return s.Get(ctx, id)
	}

	existing, err := s.Get(ctx, id)
	if err != nil {
		return persistence.Schedule{}, err
	}
	if existing.Version != expectedVersion {
		return persistence.Schedule{}, persistence.ErrVersionMismatch
	}
	return persistence.Schedule{}, persistence.ErrClaimHeld
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (persistence.Schedule, error) {
	var (
		schedule            persistence.Schedule
		days                string
		enabled             int
		lastOK              int
		next, lastAt, claim sql.NullString
		createdAt           string
		updatedAt           string
	)

	err := row.Scan(&schedule.ID, &schedule.OwnerID, &days, &schedule.Hour, &schedule.Minute,
		&schedule.Timezone, &schedule.ActionType, &schedule.ZoneID, &schedule.Mode,
		&schedule.Description, &enabled, &schedule.Status, &next, &lastAt, &lastOK,
		&schedule.LastExecutionError, &schedule.ExecutionCount, &schedule.SuccessCount,
		&schedule.FailureCount, &schedule.Version, &claim, &createdAt, &updatedAt)
	if err != nil {
		return persistence.Schedule{}, err
	}

	schedule.DaysOfWeek, err = decodeDays(days)
	if err != nil {
		return persistence.Schedule{}, err
	}
	schedule.Enabled = enabled != 0
	schedule.LastExecutionOK = lastOK != 0

	if schedule.NextExecution, err = decodeTime(next); err != nil {
		return persistence.Schedule{}, err
	}
	if schedule.LastExecutionAt, err = decodeTime(lastAt); err != nil {
		return persistence.Schedule{}, err
	}
	if schedule.ClaimedUntil, err = decodeTime(claim); err != nil {
		return persistence.Schedule{}, err
	}
	if schedule.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return persistence.Schedule{}, err
	}
	if schedule.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return persistence.Schedule{}, err
	}
	return schedule, nil
}

func encodeDays(days []time.Weekday) string {
	parts := make([]string, 0, len(days))
	for _, day := range days {
		parts = append(parts, strconv.Itoa(int(day)))
	}
	return strings.Join(parts, ",")
}

func decodeDays(value string) ([]time.Weekday, error) {
	if value == "" {
		return nil, nil
	}
	parts := strings.Split(value, ",")
	days := make([]time.Weekday, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("decoding day set %q: %w", value, err)
		}
		days = append(days, time.Weekday(n))
	}
	return days, nil
}

func encodeTime(value *time.Time) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: value.UTC().Format(timeLayout), Valid: true}
}

func decodeTime(value sql.NullString) (*time.Time, error) {
	if !value.Valid {
		return nil, nil
	}
	parsed, err := time.Parse(timeLayout, value.String)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func intersectsWeekdays(values, targets []time.Weekday) bool {
	set := make(map[time.Weekday]struct{}, len(values))
	for _, value := range values {
		set[value] = struct{}{}
	}
	for _, target := range targets {
		if _, ok := set[target]; ok {
			return true
		}
	}
	return false
}
