package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/panel-scheduler/internal/persistence"
)

var scheduleCounter uint64

// ScheduleOption overrides a field of the generated schedule record.
type ScheduleOption func(*persistence.Schedule)

// WithOwner sets the owning user.
func WithOwner(ownerID string) ScheduleOption {
	return func(s *persistence.Schedule) { s.OwnerID = ownerID }
}

// WithStatus sets the lifecycle status.
func WithStatus(status string) ScheduleOption {
	return func(s *persistence.Schedule) { s.Status = status }
}

// WithAction sets the action triple.
func WithAction(actionType, mode, zoneID string) ScheduleOption {
	return func(s *persistence.Schedule) {
		s.ActionType = actionType
		s.Mode = mode
		s.ZoneID = zoneID
	}
}

// WithRecurrence sets the day set and firing time.
func WithRecurrence(days []time.Weekday, hour, minute int) ScheduleOption {
	return func(s *persistence.Schedule) {
		s.DaysOfWeek = days
		s.Hour = hour
		s.Minute = minute
	}
}

// WithNextExecution sets the due instant.
func WithNextExecution(at time.Time) ScheduleOption {
	return func(s *persistence.Schedule) { s.NextExecution = &at }
}

// WithDisabled marks the schedule disabled and pending.
func WithDisabled() ScheduleOption {
	return func(s *persistence.Schedule) {
		s.Enabled = false
		s.Status = "PENDING"
		s.NextExecution = nil
	}
}

// NewSchedule returns a deterministic active arm schedule due at the next
// reference-time evening, with optional overrides.
func NewSchedule(opts ...ScheduleOption) persistence.Schedule {
	idx := atomic.AddUint64(&scheduleCounter, 1)
	next := referenceTime.Add(12 * time.Hour)

	schedule := persistence.Schedule{
		ID:            fmt.Sprintf("schedule-%03d", idx),
		OwnerID:       "user-1",
		DaysOfWeek:    []time.Weekday{time.Thursday},
		Hour:          21,
		Minute:        0,
		Timezone:      "UTC",
		ActionType:    "arm",
		Mode:          "away",
		Description:   fmt.Sprintf("fixture schedule %03d", idx),
		Enabled:       true,
		Status:        "ACTIVE",
		NextExecution: &next,
	}
	for _, opt := range opts {
		opt(&schedule)
	}
	return schedule
}
