package persistence

import (
	"context"
	"time"
)

// ScheduleStore is the single point of coordination between the mutating
// request paths and the engine loop. Every write is optimistic: it carries
// the version the caller read and fails with ErrVersionMismatch when stale.
type ScheduleStore interface {
	// Create stores a new schedule at version 1.
	Create(ctx context.Context, schedule Schedule) (Schedule, error)
	// Get retrieves a schedule by ID.
	Get(ctx context.Context, id string) (Schedule, error)
	// List returns schedules matching the filter in the filter's order.
	List(ctx context.Context, filter Filter) ([]Schedule, error)
	// Update writes the schedule if expectedVersion matches the stored
	// version, bumping the version and refreshing UpdatedAt.
	Update(ctx context.Context, schedule Schedule, expectedVersion int64) (Schedule, error)
	// Delete removes a schedule by ID.
	Delete(ctx context.Context, id string) error
	// Claim takes the firing lock: it succeeds only when expectedVersion
	// matches and no live claim (ClaimedUntil after now) is held, setting
	// ClaimedUntil and bumping the version so concurrent claimers lose.
	Claim(ctx context.Context, id string, expectedVersion int64, now, until time.Time) (Schedule, error)
}
