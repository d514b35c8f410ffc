package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/panel-scheduler/internal/persistence"
)

// Store is an in-memory ScheduleStore. It backs tests and single-process
// deployments that do not need durability across restarts.
type Store struct {
	mu        sync.RWMutex
	schedules map[string]persistence.Schedule
	now       func() time.Time
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

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		schedules: make(map[string]persistence.Schedule),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a new schedule at version 1.
func (s *Store) Create(ctx context.Context, schedule persistence.Schedule) (persistence.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[schedule.ID]; ok {
		return persistence.Schedule{}, persistence.ErrDuplicate
	}

	now := s.now().UTC()
	schedule.Version = 1
	schedule.CreatedAt = now
	schedule.UpdatedAt = now

	s.schedules[schedule.ID] = cloneSchedule(schedule)
	return cloneSchedule(schedule), nil
}

// Get retrieves a schedule by ID.
func (s *Store) Get(ctx context.Context, id string) (persistence.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schedule, ok := s.schedules[id]
	if !ok {
		return persistence.Schedule{}, persistence.ErrNotFound
	}
	return cloneSchedule(schedule), nil
}

// List returns schedules matching the filter.
func (s *Store) List(ctx context.Context, filter persistence.Filter) ([]persistence.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]persistence.Schedule, 0)
	for _, schedule := range s.schedules {
		if !matchesFilter(schedule, filter) {
			continue
		}
		matched = append(matched, cloneSchedule(schedule))
	}

	sortSchedules(matched, filter.OrderBy)

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

// Update writes the schedule when the expected version matches.
func (s *Store) Update(ctx context.Context, schedule persistence.Schedule, expectedVersion int64) (persistence.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.schedules[schedule.ID]
	if !ok {
		return persistence.Schedule{}, persistence.ErrNotFound
	}
	if existing.Version != expectedVersion {
		return persistence.Schedule{}, persistence.ErrVersionMismatch
	}

	schedule.Version = existing.Version + 1
	schedule.CreatedAt = existing.CreatedAt
	schedule.OwnerID = existing.OwnerID
	schedule.UpdatedAt = s.now().UTC()

	s.schedules[schedule.ID] = cloneSchedule(schedule)
	return cloneSchedule(schedule), nil
}

// Delete removes a schedule by ID.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(s.schedules, id)
	return nil
}

// Claim takes the firing lock for a single schedule.
func (s *Store) Claim(ctx context.Context, id string, expectedVersion int64, now, until time.Time) (persistence.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.schedules[id]
	if !ok {
		return persistence.Schedule{}, persistence.ErrNotFound
	}
	if existing.Version != expectedVersion {
		return persistence.Schedule{}, persistence.ErrVersionMismatch
	}
	if existing.ClaimedUntil != nil && existing.ClaimedUntil.After(now) {
		return persistence.Schedule{}, persistence.ErrClaimHeld
	}

	deadline := until.UTC()
	existing.ClaimedUntil = &deadline
	existing.Version++
	existing.UpdatedAt = s.now().UTC()

	s.schedules[id] = cloneSchedule(existing)
	return cloneSchedule(existing), nil
}

func matchesFilter(schedule persistence.Schedule, filter persistence.Filter) bool {
	if filter.OwnerID != "" && schedule.OwnerID != filter.OwnerID {
		return false
	}
	if len(filter.Statuses) > 0 && !containsString(filter.Statuses, schedule.Status) {
		return false
	}
	if filter.Enabled != nil && schedule.Enabled != *filter.Enabled {
		return false
	}
	if len(filter.ActionTypes) > 0 && !containsString(filter.ActionTypes, schedule.ActionType) {
		return false
	}
	if len(filter.Days) > 0 && !intersectsWeekdays(schedule.DaysOfWeek, filter.Days) {
		return false
	}
	if filter.DueBefore != nil {
		if schedule.NextExecution == nil || schedule.NextExecution.After(*filter.DueBefore) {
			return false
		}
	}
	return true
}

func sortSchedules(schedules []persistence.Schedule, order persistence.OrderBy) {
	switch order {
	case persistence.OrderByNextExecution:
		sort.Slice(schedules, func(i, j int) bool {
			a, b := schedules[i].NextExecution, schedules[j].NextExecution
			switch {
			case a == nil && b == nil:
				return schedules[i].ID < schedules[j].ID
			case a == nil:
				return false
			case b == nil:
				return true
			case a.Equal(*b):
				return schedules[i].ID < schedules[j].ID
			default:
				return a.Before(*b)
			}
		})
	default:
		sort.Slice(schedules, func(i, j int) bool {
			if schedules[i].CreatedAt.Equal(schedules[j].CreatedAt) {
				return schedules[i].ID < schedules[j].ID
			}
			return schedules[i].CreatedAt.Before(schedules[j].CreatedAt)
		})
	}
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
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

func cloneSchedule(schedule persistence.Schedule) persistence.Schedule {
	days := make([]time.Weekday, len(schedule.DaysOfWeek))
	copy(days, schedule.DaysOfWeek)
	schedule.DaysOfWeek = days
	schedule.NextExecution = cloneTime(schedule.NextExecution)
	schedule.LastExecutionAt = cloneTime(schedule.LastExecutionAt)
	schedule.ClaimedUntil = cloneTime(schedule.ClaimedUntil)
	return schedule
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	clone := *value
	return &clone
}
