// Package postgres implements the schedule store on PostgreSQL. It is the
// backend for multi-instance deployments, where the claim compare-and-set
// arbitrates firings between engine instances.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/example/panel-scheduler/internal/persistence"
)

const uniqueViolation = "23505"

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
	enabled              BOOLEAN NOT NULL,
	status               TEXT NOT NULL,
	next_execution       TIMESTAMPTZ,
	last_execution_at    TIMESTAMPTZ,
	last_execution_ok    BOOLEAN NOT NULL DEFAULT FALSE,
	last_execution_error TEXT NOT NULL DEFAULT '',
	execution_count      BIGINT NOT NULL DEFAULT 0,
	success_count        BIGINT NOT NULL DEFAULT 0,
	failure_count        BIGINT NOT NULL DEFAULT 0,
	version              BIGINT NOT NULL,
	claimed_until        TIMESTAMPTZ,
	created_at           TIMESTAMPTZ NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_schedules_owner ON schedules(owner_id);
CREATE INDEX IF NOT EXISTS idx_schedules_status_next ON schedules(status, next_execution);
`

// Store is a PostgreSQL-backed persistence.ScheduleStore.
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
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres database: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres database: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`

	_, err := s.db.ExecContext(ctx, query,
		schedule.ID, schedule.OwnerID, encodeDays(schedule.DaysOfWeek), schedule.Hour, schedule.Minute,
		schedule.Timezone, schedule.ActionType, schedule.ZoneID, schedule.Mode, schedule.Description,
		schedule.Enabled, schedule.Status, nullTime(schedule.NextExecution), nullTime(schedule.LastExecutionAt),
		schedule.LastExecutionOK, schedule.LastExecutionError, schedule.ExecutionCount,
		schedule.SuccessCount, schedule.FailureCount, schedule.Version, nullTime(schedule.ClaimedUntil),
		now, now)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return persistence.Schedule{}, persistence.ErrDuplicate
		}
		return persistence.Schedule{}, fmt.Errorf("inserting schedule: %w", err)
	}
	return schedule, nil
}

// Get retrieves a schedule by ID.
func (s *Store) Get(ctx context.Context, id string) (persistence.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = $1`, id)
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
	arg := func(value any) string {
		args = append(args, value)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.OwnerID != "" {
		conditions = append(conditions, "owner_id = "+arg(filter.OwnerID))
	}
	if len(filter.Statuses) > 0 {
		conditions = append(conditions, "status = ANY("+arg(pq.Array(filter.Statuses))+")")
	}
	if filter.Enabled != nil {
		conditions = append(conditions, "enabled = "+arg(*filter.Enabled))
	}
	if len(filter.ActionTypes) > 0 {
		conditions = append(conditions, "action_type = ANY("+arg(pq.Array(filter.ActionTypes))+")")
	}
	if filter.DueBefore != nil {
		conditions = append(conditions, "next_execution IS NOT NULL AND next_execution <= "+arg(filter.DueBefore.UTC()))
	}

	query := `SELECT ` + scheduleColumns + ` FROM schedules`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	switch filter.OrderBy {
	case persistence.OrderByNextExecution:
		query += " ORDER BY next_execution NULLS LAST, id"
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
	query := `UPDATE schedules SET
		days_of_week = $1, hour = $2, minute = $3, timezone = $4, action_type = $5, zone_id = $6,
		mode = $7, description = $8, enabled = $9, status = $10, next_execution = $11,
		last_execution_at = $12, last_execution_ok = $13, last_execution_error = $14,
		execution_count = $15, success_count = $16, failure_count = $17, version = version + 1,
		claimed_until = $18, updated_at = $19
		WHERE id = $20 AND version = $21`

	result, err := s.db.ExecContext(ctx, query,
		encodeDays(schedule.DaysOfWeek), schedule.Hour, schedule.Minute, schedule.Timezone,
		schedule.ActionType, schedule.ZoneID, schedule.Mode, schedule.Description,
		schedule.Enabled, schedule.Status, nullTime(schedule.NextExecution),
		nullTime(schedule.LastExecutionAt), schedule.LastExecutionOK, schedule.LastExecutionError,
		schedule.ExecutionCount, schedule.SuccessCount, schedule.FailureCount,
		nullTime(schedule.ClaimedUntil), s.now().UTC(),
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
	result, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = $1`, id)
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

// Claim takes the firing lock for one schedule in a single compare-and-set
// statement, so concurrent engine instances cannot both win.
func (s *Store) Claim(ctx context.Context, id string, expectedVersion int64, now, until time.Time) (persistence.Schedule, error) {
	query := `UPDATE schedules SET claimed_until = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4 AND (claimed_until IS NULL OR claimed_until <= $5)`

	result, err := s.db.ExecContext(ctx, query, until.UTC(), s.now().UTC(), id, expectedVersion, now.UTC())
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
		next, lastAt, claim sql.NullTime
	)

	err := row.Scan(&schedule.ID, &schedule.OwnerID, &days, &schedule.Hour, &schedule.Minute,
		&schedule.Timezone, &schedule.ActionType, &schedule.ZoneID, &schedule.Mode,
		&schedule.Description, &schedule.Enabled, &schedule.Status, &next, &lastAt,
		&schedule.LastExecutionOK, &schedule.LastExecutionError, &schedule.ExecutionCount,
		&schedule.SuccessCount, &schedule.FailureCount, &schedule.Version, &claim,
		&schedule.CreatedAt, &schedule.UpdatedAt)
	if err != nil {
		return persistence.Schedule{}, err
	}

	schedule.DaysOfWeek, err = decodeDays(days)
	if err != nil {
		return persistence.Schedule{}, err
	}
	schedule.NextExecution = timePtr(next)
	schedule.LastExecutionAt = timePtr(lastAt)
	schedule.ClaimedUntil = timePtr(claim)
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

func nullTime(value *time.Time) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value.UTC(), Valid: true}
}

func timePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
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
