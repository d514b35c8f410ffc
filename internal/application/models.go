package application

import (
	"time"

	"github.com/example/panel-scheduler/internal/recurrence"
)

// Principal represents the authenticated user invoking a service method.
type Principal struct {
	UserID  string
	IsAdmin bool
}

// Status is the engine-derived lifecycle state of a schedule. It is distinct
// from the user-controlled Enabled flag: Enabled records intent, Status
// records where the engine is in the lifecycle.
type Status string

const (
	// StatusPending marks a schedule created or switched disabled; it never
	// fires while pending.
	StatusPending Status = "PENDING"
	// StatusActive marks an enabled schedule with a future next execution.
	StatusActive Status = "ACTIVE"
	// StatusCompleted is terminal; reached only by explicit administrative
	// closure since recurrence is unbounded.
	StatusCompleted Status = "COMPLETED"
	// StatusCancelled is terminal; reached by explicit user or admin
	// cancellation.
	StatusCancelled Status = "CANCELLED"
)

// IsTerminal reports whether no transition out of the status exists.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ActionType identifies the security action a schedule performs.
type ActionType string

const (
	// ActionArm arms the whole system.
	ActionArm ActionType = "arm"
	// ActionDisarm disarms the whole system.
	ActionDisarm ActionType = "disarm"
	// ActionArmZone arms a single zone.
	ActionArmZone ActionType = "arm_zone"
	// ActionDisarmZone disarms a single zone.
	ActionDisarmZone ActionType = "disarm_zone"
)

// ArmMode selects the arming profile for arm actions.
type ArmMode string

const (
	// ArmModeHome arms with interior sensors bypassed.
	ArmModeHome ArmMode = "home"
	// ArmModeAway arms every sensor.
	ArmModeAway ArmMode = "away"
	// ArmModeNight arms the night profile.
	ArmModeNight ArmMode = "night"
	// ArmModeCustom arms a user-defined profile.
	ArmModeCustom ArmMode = "custom"
)

func validArmMode(mode ArmMode) bool {
	switch mode {
	case ArmModeHome, ArmModeAway, ArmModeNight, ArmModeCustom:
		return true
	}
	return false
}

// Action is the tagged security action a schedule fires. Mode is set for arm
// variants; ZoneID for zone variants.
type Action struct {
	Type   ActionType
	Mode   ArmMode
	ZoneID string
}

// IsZero reports whether no action was supplied.
func (a Action) IsZero() bool {
	return a.Type == ""
}

// TargetsZone reports whether the action addresses a single zone.
func (a Action) TargetsZone() bool {
	return a.Type == ActionArmZone || a.Type == ActionDisarmZone
}

// Arms reports whether the action arms rather than disarms.
func (a Action) Arms() bool {
	return a.Type == ActionArm || a.Type == ActionArmZone
}

// ExecutionOutcome records the most recent firing of a schedule.
type ExecutionOutcome struct {
	At      time.Time
	Success bool
	Error   string
}

// Schedule is the central entity: a recurring security action with a
// lifecycle, counters and claim state.
type Schedule struct {
	ID          string
	OwnerID     string
	Rule        recurrence.Rule
	Action      Action
	Description string
	Enabled     bool
	Status      Status

	NextExecution *time.Time
	LastExecution *ExecutionOutcome

	ExecutionCount int64
	SuccessCount   int64
	FailureCount   int64

	Version      int64
	ClaimedUntil *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ScheduleInput captures caller provided schedule fields. A recurrence is
// supplied either as a natural-language Expression or as structured
// Days/Hour/Minute parts; Expression wins when both are present.
type ScheduleInput struct {
	Expression string

	Days   []time.Weekday
	Hour   int
	Minute int

	Timezone    string
	Action      Action
	Description string
	Enabled     *bool
}

// CreateScheduleParams wraps the data required to create a schedule.
type CreateScheduleParams struct {
	Principal Principal
	Input     ScheduleInput
}

// UpdateScheduleParams wraps the data required to update an existing schedule.
type UpdateScheduleParams struct {
	Principal  Principal
	ScheduleID string
	Input      ScheduleInput
}

// ListSchedulesParams wraps the data required to list schedules. Non-admin
// principals only ever see their own schedules.
type ListSchedulesParams struct {
	Principal   Principal
	Statuses    []Status
	ActionTypes []ActionType
	Enabled     *bool
	Limit       int
	Offset      int
}

// Statistics aggregates schedule and execution counts for an owner (or the
// whole panel when requested by an admin).
type Statistics struct {
	Total     int
	Enabled   int
	ByStatus  map[Status]int
	ByAction  map[ActionType]int
	Firings   int64
	Successes int64
	Failures  int64
}

// UpcomingExecution is one projected future firing.
type UpcomingExecution struct {
	ScheduleID  string
	Description string
	Action      Action
	At          time.Time
}

// UpcomingParams bounds the upcoming-executions query.
type UpcomingParams struct {
	Principal Principal
	Days      int
	Limit     int
}

// ExpressionPreview is the dry-run result of parsing an expression without
// persisting anything.
type ExpressionPreview struct {
	Rule      recurrence.Rule
	Canonical string
	Action    Action
	Next      []time.Time
}
