package persistence

import "time"

// Schedule is the stored representation of a security schedule. Recurrence
// fields are kept flat so every backend can index and filter on them without
// re-parsing expressions.
type Schedule struct {
	ID          string
	OwnerID     string
	DaysOfWeek  []time.Weekday
	Hour        int
	Minute      int
	Timezone    string
	ActionType  string
	ZoneID      string
	Mode        string
	Description string
	Enabled     bool
	Status      string

	NextExecution *time.Time

	LastExecutionAt    *time.Time
	LastExecutionOK    bool
	LastExecutionError string

	ExecutionCount int64
	SuccessCount   int64
	FailureCount   int64

	// Version increments on every successful write; writes carry the version
	// they read and fail with ErrVersionMismatch when stale. ClaimedUntil is
	// set only while a firing holds the schedule.
	Version      int64
	ClaimedUntil *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderBy selects the sort applied to listings.
type OrderBy string

const (
	// OrderByCreatedAt sorts oldest first, ties broken by ID.
	OrderByCreatedAt OrderBy = "created_at"
	// OrderByNextExecution sorts soonest firing first; schedules without a
	// next execution sort last.
	OrderByNextExecution OrderBy = "next_execution"
)

// Filter narrows schedule queries. Zero-value fields do not constrain.
type Filter struct {
	OwnerID     string
	Statuses    []string
	Enabled     *bool
	ActionTypes []string
	// Days matches schedules whose recurrence includes any of the given
	// weekdays.
	Days []time.Weekday
	// DueBefore matches schedules with a next execution at or before the
	// given instant.
	DueBefore *time.Time

	OrderBy OrderBy
	Limit   int
	Offset  int
}
