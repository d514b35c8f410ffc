package application

import (
	"time"

	"github.com/example/panel-scheduler/internal/persistence"
	"github.com/example/panel-scheduler/internal/recurrence"
)

// ToRecord flattens a schedule into its stored representation.
func ToRecord(schedule Schedule) persistence.Schedule {
	tz := ""
	if loc := schedule.Rule.Location(); loc != time.Local {
		tz = loc.String()
	}

	record := persistence.Schedule{
		ID:             schedule.ID,
		OwnerID:        schedule.OwnerID,
		DaysOfWeek:     schedule.Rule.Weekdays(),
		Hour:           schedule.Rule.Hour(),
		Minute:         schedule.Rule.Minute(),
		Timezone:       tz,
		ActionType:     string(schedule.Action.Type),
		ZoneID:         schedule.Action.ZoneID,
		Mode:           string(schedule.Action.Mode),
		Description:    schedule.Description,
		Enabled:        schedule.Enabled,
		Status:         string(schedule.Status),
		NextExecution:  cloneTime(schedule.NextExecution),
		ExecutionCount: schedule.ExecutionCount,
		SuccessCount:   schedule.SuccessCount,
		FailureCount:   schedule.FailureCount,
		Version:        schedule.Version,
		ClaimedUntil:   cloneTime(schedule.ClaimedUntil),
		CreatedAt:      schedule.CreatedAt,
		UpdatedAt:      schedule.UpdatedAt,
	}

	if schedule.LastExecution != nil {
		at := schedule.LastExecution.At
		record.LastExecutionAt = &at
		record.LastExecutionOK = schedule.LastExecution.Success
		record.LastExecutionError = schedule.LastExecution.Error
	}

	return record
}

// FromRecord rebuilds a schedule from its stored representation. A stored
// timezone that no longer resolves falls back to the system timezone rather
// than failing the read.
func FromRecord(record persistence.Schedule) Schedule {
	var loc *time.Location
	if record.Timezone != "" {
		if parsed, err := time.LoadLocation(record.Timezone); err == nil {
			loc = parsed
		}
	}

	rule, err := recurrence.NewRule(record.DaysOfWeek, record.Hour, record.Minute, loc)
	if err != nil {
		// Stored rules were validated on write; keep the zero rule rather
		// than dropping the record.
		rule = recurrence.Rule{}
	}

	schedule := Schedule{
		ID:      record.ID,
		OwnerID: record.OwnerID,
		Rule:    rule,
		Action: Action{
			Type:   ActionType(record.ActionType),
			Mode:   ArmMode(record.Mode),
			ZoneID: record.ZoneID,
		},
		Description:    record.Description,
		Enabled:        record.Enabled,
		Status:         Status(record.Status),
		NextExecution:  cloneTime(record.NextExecution),
		ExecutionCount: record.ExecutionCount,
		SuccessCount:   record.SuccessCount,
		FailureCount:   record.FailureCount,
		Version:        record.Version,
		ClaimedUntil:   cloneTime(record.ClaimedUntil),
		CreatedAt:      record.CreatedAt,
		UpdatedAt:      record.UpdatedAt,
	}

	if record.LastExecutionAt != nil {
		schedule.LastExecution = &ExecutionOutcome{
			At:      *record.LastExecutionAt,
			Success: record.LastExecutionOK,
			Error:   record.LastExecutionError,
		}
	}

	return schedule
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	clone := *value
	return &clone
}
