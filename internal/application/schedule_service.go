package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/example/panel-scheduler/internal/persistence"
	"github.com/example/panel-scheduler/internal/recurrence"
)

// maxDescriptionLength bounds the free-text description field.
const maxDescriptionLength = 500

// ZoneDirectory exposes zone lookup for zone-scoped actions. The zone
// hierarchy itself lives outside the engine; only existence is checked here.
type ZoneDirectory interface {
	ZoneExists(ctx context.Context, zoneID string) (bool, error)
}

// ScheduleService orchestrates validation, authorization and persistence for
// schedule operations.
type ScheduleService struct {
	store       persistence.ScheduleStore
	zones       ZoneDirectory
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewScheduleService wires dependencies for schedule operations.
func NewScheduleService(store persistence.ScheduleStore, zones ZoneDirectory, idGenerator func() string, now func() time.Time) *ScheduleService {
	return NewScheduleServiceWithLogger(store, zones, idGenerator, now, nil)
}

// NewScheduleServiceWithLogger wires dependencies including a base logger.
func NewScheduleServiceWithLogger(store persistence.ScheduleStore, zones ZoneDirectory, idGenerator func() string, now func() time.Time, logger *slog.Logger) *ScheduleService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &ScheduleService{
		store:       store,
		zones:       zones,
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
	}
}

// CreateSchedule validates the request before delegating to persistence. An
// enabled schedule starts ACTIVE with a computed next execution; a disabled
// one starts PENDING with none.
func (s *ScheduleService) CreateSchedule(ctx context.Context, params CreateScheduleParams) (Schedule, error) {
	if s == nil || s.store == nil {
		return Schedule{}, fmt.Errorf("schedule store not configured")
	}
	log := serviceLogger(ctx, s.logger, "schedule", "create", "owner", params.Principal.UserID)

	rule, action, err := s.resolveInput(ctx, params.Input)
	if err != nil {
		log.Warn("create rejected", "kind", ErrorKind(err), "error", err)
		return Schedule{}, err
	}

	enabled := true
	if params.Input.Enabled != nil {
		enabled = *params.Input.Enabled
	}

	schedule := Schedule{
		ID:          s.idGenerator(),
		OwnerID:     params.Principal.UserID,
		Rule:        rule,
		Action:      action,
		Description: strings.TrimSpace(params.Input.Description),
		Enabled:     enabled,
		Status:      StatusPending,
	}

	if enabled {
		next, err := recurrence.NextAfter(rule, s.now())
		if err != nil {
			return Schedule{}, fmt.Errorf("computing next execution: %w", err)
		}
		schedule.Status = StatusActive
		schedule.NextExecution = &next
	}

	record, err := s.store.Create(ctx, ToRecord(schedule))
	if err != nil {
		return Schedule{}, mapStoreError(err)
	}

	created := FromRecord(record)
	log.Info("schedule created", "schedule_id", created.ID, "action", created.Action.Type, "status", created.Status)
	return created, nil
}

// GetSchedule retrieves a schedule visible to the principal.
func (s *ScheduleService) GetSchedule(ctx context.Context, principal Principal, scheduleID string) (Schedule, error) {
	if s == nil || s.store == nil {
		return Schedule{}, fmt.Errorf("schedule store not configured")
	}

	record, err := s.store.Get(ctx, scheduleID)
	if err != nil {
		return Schedule{}, mapStoreError(err)
	}

	schedule := FromRecord(record)
	if !canAccess(principal, schedule.OwnerID) {
		return Schedule{}, ErrPermissionDenied
	}
	return schedule, nil
}

// ListSchedules enumerates schedules visible to the principal. Non-admin
// callers are always scoped to their own schedules.
func (s *ScheduleService) ListSchedules(ctx context.Context, params ListSchedulesParams) ([]Schedule, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("schedule store not configured")
	}

	filter := persistence.Filter{
		Enabled: params.Enabled,
		Limit:   params.Limit,
		Offset:  params.Offset,
		OrderBy: persistence.OrderByCreatedAt,
	}
	if !params.Principal.IsAdmin {
		filter.OwnerID = params.Principal.UserID
	}
	for _, status := range params.Statuses {
		filter.Statuses = append(filter.Statuses, string(status))
	}
	for _, actionType := range params.ActionTypes {
		filter.ActionTypes = append(filter.ActionTypes, string(actionType))
	}

	records, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, mapStoreError(err)
	}

	schedules := make([]Schedule, 0, len(records))
	for _, record := range records {
		schedules = append(schedules, FromRecord(record))
	}
	return schedules, nil
}

// UpdateSchedule re-runs validation and parsing for the supplied fields and
// recomputes the next execution. The write is optimistic against the version
// read here; a concurrent firing's update wins and surfaces as a conflict
// the caller retries.
func (s *ScheduleService) UpdateSchedule(ctx context.Context, params UpdateScheduleParams) (Schedule, error) {
	if s == nil || s.store == nil {
		return Schedule{}, fmt.Errorf("schedule store not configured")
	}
	log := serviceLogger(ctx, s.logger, "schedule", "update", "schedule_id", params.ScheduleID)

	record, err := s.store.Get(ctx, params.ScheduleID)
	if err != nil {
		return Schedule{}, mapStoreError(err)
	}
	existing := FromRecord(record)

	if !canAccess(params.Principal, existing.OwnerID) {
		return Schedule{}, ErrPermissionDenied
	}
	if existing.Status.IsTerminal() {
		return Schedule{}, &InvalidTransitionError{From: existing.Status, To: existing.Status}
	}

	rule, action, err := s.resolveInput(ctx, params.Input)
	if err != nil {
		log.Warn("update rejected", "kind", ErrorKind(err), "error", err)
		return Schedule{}, err
	}

	enabled := existing.Enabled
	if params.Input.Enabled != nil {
		enabled = *params.Input.Enabled
	}

	updated := existing
	updated.Rule = rule
	updated.Action = action
	updated.Description = strings.TrimSpace(params.Input.Description)
	updated.Enabled = enabled

	target := StatusPending
	if enabled {
		target = StatusActive
	}
	// An edit that keeps the status is not a lifecycle transition.
	if target != existing.Status {
		if err := Transition(existing.Status, target, actorFor(params.Principal)); err != nil {
			return Schedule{}, err
		}
	}
	updated.Status = target

	// Edits take effect from the next computed occurrence, never
	// retroactively.
	updated.NextExecution = nil
	if enabled {
		next, err := recurrence.NextAfter(rule, s.now())
		if err != nil {
			return Schedule{}, fmt.Errorf("computing next execution: %w", err)
		}
		updated.NextExecution = &next
	}

	persisted, err := s.store.Update(ctx, ToRecord(updated), existing.Version)
	if err != nil {
		return Schedule{}, mapStoreError(err)
	}

	result := FromRecord(persisted)
	log.Info("schedule updated", "status", result.Status, "enabled", result.Enabled)
	return result, nil
}

// DeleteSchedule removes a schedule permanently. Deletion is terminal and is
// not a status value.
func (s *ScheduleService) DeleteSchedule(ctx context.Context, principal Principal, scheduleID string) error {
	if s == nil || s.store == nil {
		return fmt.Errorf("schedule store not configured")
	}

	record, err := s.store.Get(ctx, scheduleID)
	if err != nil {
		return mapStoreError(err)
	}
	if !canAccess(principal, record.OwnerID) {
		return ErrPermissionDenied
	}

	if err := s.store.Delete(ctx, scheduleID); err != nil {
		return mapStoreError(err)
	}

	serviceLogger(ctx, s.logger, "schedule", "delete", "schedule_id", scheduleID).Info("schedule deleted")
	return nil
}

// EnableSchedule activates a pending schedule, computing a fresh next
// execution strictly after now.
func (s *ScheduleService) EnableSchedule(ctx context.Context, principal Principal, scheduleID string) (Schedule, error) {
	return s.setLifecycle(ctx, principal, scheduleID, StatusActive, true)
}

// DisableSchedule pauses an active schedule; its next execution is cleared
// until re-enabled.
func (s *ScheduleService) DisableSchedule(ctx context.Context, principal Principal, scheduleID string) (Schedule, error) {
	return s.setLifecycle(ctx, principal, scheduleID, StatusPending, false)
}

// CancelSchedule terminates a schedule. No transition out of CANCELLED exists.
func (s *ScheduleService) CancelSchedule(ctx context.Context, principal Principal, scheduleID string) (Schedule, error) {
	return s.setLifecycle(ctx, principal, scheduleID, StatusCancelled, false)
}

// CompleteSchedule administratively closes a schedule. Recurring schedules
// never auto-complete; this is the only road to COMPLETED.
func (s *ScheduleService) CompleteSchedule(ctx context.Context, principal Principal, scheduleID string) (Schedule, error) {
	return s.setLifecycle(ctx, principal, scheduleID, StatusCompleted, false)
}

func (s *ScheduleService) setLifecycle(ctx context.Context, principal Principal, scheduleID string, target Status, enabled bool) (Schedule, error) {
	if s == nil || s.store == nil {
		return Schedule{}, fmt.Errorf("schedule store not configured")
	}
	log := serviceLogger(ctx, s.logger, "schedule", "lifecycle", "schedule_id", scheduleID, "target", target)

	record, err := s.store.Get(ctx, scheduleID)
	if err != nil {
		return Schedule{}, mapStoreError(err)
	}
	existing := FromRecord(record)

	if !canAccess(principal, existing.OwnerID) {
		return Schedule{}, ErrPermissionDenied
	}
	if target != existing.Status || existing.Status.IsTerminal() {
		if err := Transition(existing.Status, target, actorFor(principal)); err != nil {
			log.Warn("transition rejected", "from", existing.Status, "kind", ErrorKind(err))
			return Schedule{}, err
		}
	}

	updated := existing
	updated.Status = target
	updated.Enabled = enabled
	updated.NextExecution = nil

	if target == StatusActive {
		next, err := recurrence.NextAfter(updated.Rule, s.now())
		if err != nil {
			return Schedule{}, fmt.Errorf("computing next execution: %w", err)
		}
		updated.NextExecution = &next
	}

	persisted, err := s.store.Update(ctx, ToRecord(updated), existing.Version)
	if err != nil {
		return Schedule{}, mapStoreError(err)
	}

	result := FromRecord(persisted)
	log.Info("lifecycle applied", "from", existing.Status, "to", result.Status)
	return result, nil
}

// Statistics aggregates counts over the schedules visible to the principal.
func (s *ScheduleService) Statistics(ctx context.Context, principal Principal) (Statistics, error) {
	if s == nil || s.store == nil {
		return Statistics{}, fmt.Errorf("schedule store not configured")
	}

	filter := persistence.Filter{}
	if !principal.IsAdmin {
		filter.OwnerID = principal.UserID
	}

	records, err := s.store.List(ctx, filter)
	if err != nil {
		return Statistics{}, mapStoreError(err)
	}

	stats := Statistics{
		ByStatus: make(map[Status]int),
		ByAction: make(map[ActionType]int),
	}
	for _, record := range records {
		schedule := FromRecord(record)
		stats.Total++
		if schedule.Enabled {
			stats.Enabled++
		}
		stats.ByStatus[schedule.Status]++
		stats.ByAction[schedule.Action.Type]++
		stats.Firings += schedule.ExecutionCount
		stats.Successes += schedule.SuccessCount
		stats.Failures += schedule.FailureCount
	}
	return stats, nil
}

// Upcoming projects future firings for the principal's active schedules
// within the requested window.
func (s *ScheduleService) Upcoming(ctx context.Context, params UpcomingParams) ([]UpcomingExecution, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("schedule store not configured")
	}

	vErr := &ValidationError{}
	if params.Days < 1 || params.Days > 30 {
		vErr.add("days", "days must be between 1 and 30")
	}
	if params.Limit < 1 || params.Limit > 500 {
		vErr.add("limit", "limit must be between 1 and 500")
	}
	if vErr.HasErrors() {
		return nil, vErr
	}

	filter := persistence.Filter{Statuses: []string{string(StatusActive)}}
	if !params.Principal.IsAdmin {
		filter.OwnerID = params.Principal.UserID
	}

	records, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, mapStoreError(err)
	}

	now := s.now()
	window := time.Duration(params.Days) * 24 * time.Hour

	upcoming := make([]UpcomingExecution, 0)
	for _, record := range records {
		schedule := FromRecord(record)
		instants, err := recurrence.UpcomingWithin(schedule.Rule, now, window, params.Limit)
		if err != nil {
			continue
		}
		for _, at := range instants {
			upcoming = append(upcoming, UpcomingExecution{
				ScheduleID:  schedule.ID,
				Description: schedule.Description,
				Action:      schedule.Action,
				At:          at,
			})
		}
	}

	sortUpcoming(upcoming)
	if len(upcoming) > params.Limit {
		upcoming = upcoming[:params.Limit]
	}
	return upcoming, nil
}

// TestExpression parses an expression without persisting anything, returning
// the rule, its canonical form, the detected action and a short preview of
// occurrences.
func (s *ScheduleService) TestExpression(expression string) (ExpressionPreview, error) {
	rule, err := recurrence.Parse(expression)
	if err != nil {
		return ExpressionPreview{}, err
	}

	now := time.Now
	if s != nil && s.now != nil {
		now = s.now
	}
	next, err := recurrence.UpcomingWithin(rule, now(), 30*24*time.Hour, 3)
	if err != nil {
		return ExpressionPreview{}, err
	}

	return ExpressionPreview{
		Rule:      rule,
		Canonical: rule.Expression(),
		Action:    ParseAction(expression),
		Next:      next,
	}, nil
}

// resolveInput turns caller input into a validated rule and action.
func (s *ScheduleService) resolveInput(ctx context.Context, input ScheduleInput) (recurrence.Rule, Action, error) {
	vErr := &ValidationError{}

	if len(input.Description) > maxDescriptionLength {
		vErr.add("description", "description must be at most 500 characters")
	}

	var loc *time.Location
	if input.Timezone != "" {
		parsed, err := time.LoadLocation(input.Timezone)
		if err != nil {
			vErr.add("timezone", "unknown timezone")
		} else {
			loc = parsed
		}
	}

	var rule recurrence.Rule
	if strings.TrimSpace(input.Expression) != "" {
		parsed, err := recurrence.Parse(input.Expression)
		if err != nil {
			return recurrence.Rule{}, Action{}, err
		}
		rule = parsed.In(loc)
	} else {
		built, err := recurrence.NewRule(input.Days, input.Hour, input.Minute, loc)
		if err != nil {
			return recurrence.Rule{}, Action{}, err
		}
		rule = built
	}

	action := input.Action
	if action.IsZero() && strings.TrimSpace(input.Expression) != "" {
		action = ParseAction(input.Expression)
	}
	validateAction(action, vErr)

	if vErr.HasErrors() {
		return recurrence.Rule{}, Action{}, vErr
	}

	if action.TargetsZone() && s.zones != nil {
		exists, err := s.zones.ZoneExists(ctx, action.ZoneID)
		if err != nil {
			return recurrence.Rule{}, Action{}, err
		}
		if !exists {
			return recurrence.Rule{}, Action{}, fmt.Errorf("zone %s: %w", action.ZoneID, ErrNotFound)
		}
	}

	return rule, action, nil
}

func canAccess(principal Principal, ownerID string) bool {
	return principal.IsAdmin || (principal.UserID != "" && principal.UserID == ownerID)
}

func actorFor(principal Principal) Actor {
	if principal.IsAdmin {
		return ActorAdmin
	}
	return ActorOwner
}

func sortUpcoming(items []UpcomingExecution) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].At.Equal(items[j].At) {
			return items[i].ScheduleID < items[j].ScheduleID
		}
		return items[i].At.Before(items[j].At)
	})
}

// mapStoreError translates persistence errors into the application taxonomy.
func mapStoreError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrVersionMismatch),
		errors.Is(err, persistence.ErrClaimHeld),
		errors.Is(err, persistence.ErrDuplicate):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}
