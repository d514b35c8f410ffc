package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/panel-scheduler/internal/persistence"
)

func fixedNow() time.Time {
	return time.Date(2024, time.March, 14, 9, 0, 0, 0, time.UTC)
}

func seedSchedule(id string) persistence.Schedule {
	return persistence.Schedule{
		ID:         id,
		OwnerID:    "user-1",
		DaysOfWeek: []time.Weekday{time.Monday, time.Friday},
		Hour:       8,
		Minute:     0,
		ActionType: "arm",
		Mode:       "away",
		Enabled:    true,
		Status:     "ACTIVE",
	}
}

func TestStore_CreateAssignsVersionAndTimestamps(t *testing.T) {
	t.Parallel()

	store := New(WithNow(fixedNow))
	created, err := store.Create(context.Background(), seedSchedule("sched-1"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if created.Version != 1 {
		t.Fatalf("version = %d, want 1", created.Version)
	}
	if !created.CreatedAt.Equal(fixedNow()) || !created.UpdatedAt.Equal(fixedNow()) {
		t.Fatalf("timestamps not stamped: %v / %v", created.CreatedAt, created.UpdatedAt)
	}

	if _, err := store.Create(context.Background(), seedSchedule("sched-1")); !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestStore_UpdateEnforcesExpectedVersion(t *testing.T) {
	t.Parallel()

	store := New(WithNow(fixedNow))
	created, err := store.Create(context.Background(), seedSchedule("sched-1"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	created.Description = "night arm"
	updated, err := store.Update(context.Background(), created, created.Version)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("version = %d, want 2", updated.Version)
	}

	// Stale writer loses.
	created.Description = "stale"
	if _, err := store.Update(context.Background(), created, 1); !errors.Is(err, persistence.ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
}

func TestStore_UpdatePreservesOwnerAndCreation(t *testing.T) {
	t.Parallel()

	store := New(WithNow(fixedNow))
	created, err := store.Create(context.Background(), seedSchedule("sched-1"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	created.OwnerID = "someone-else"
	updated, err := store.Update(context.Background(), created, created.Version)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.OwnerID != "user-1" {
		t.Fatalf("owner changed on update: %s", updated.OwnerID)
	}
}

func TestStore_ClaimExcludesConcurrentClaimers(t *testing.T) {
	t.Parallel()

	store := New(WithNow(fixedNow))
	created, err := store.Create(context.Background(), seedSchedule("sched-1"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	now := fixedNow()
	until := now.Add(time.Minute)

	claimed, err := store.Claim(context.Background(), "sched-1", created.Version, now, until)
	if err != nil {
		t.Fatalf("first Claim failed: %v", err)
	}
	if claimed.ClaimedUntil == nil || !claimed.ClaimedUntil.Equal(until) {
		t.Fatalf("claim deadline not recorded: %v", claimed.ClaimedUntil)
	}

	// Same version: the claim bumped it, so this is a stale CAS.
	if _, err := store.Claim(context.Background(), "sched-1", created.Version, now, until); !errors.Is(err, persistence.ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}

	// Fresh version but live claim: still refused.
	if _, err := store.Claim(context.Background(), "sched-1", claimed.Version, now, until); !errors.Is(err, persistence.ErrClaimHeld) {
		t.Fatalf("expected ErrClaimHeld, got %v", err)
	}

	// An expired claim is reclaimable.
	later := until.Add(time.Second)
	if _, err := store.Claim(context.Background(), "sched-1", claimed.Version, later, later.Add(time.Minute)); err != nil {
		t.Fatalf("expected reclaim after expiry, got %v", err)
	}
}

func TestStore_ListFiltersAndOrders(t *testing.T) {
	t.Parallel()

	clock := fixedNow()
	store := New(WithNow(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))

	due := fixedNow().Add(time.Hour)
	later := fixedNow().Add(3 * time.Hour)

	a := seedSchedule("sched-a")
	a.NextExecution = &later
	b := seedSchedule("sched-b")
	b.Status = "PENDING"
	b.Enabled = false
	c := seedSchedule("sched-c")
	c.NextExecution = &due
	c.ActionType = "disarm"
	c.DaysOfWeek = []time.Weekday{time.Sunday}

	for _, schedule := range []persistence.Schedule{a, b, c} {
		if _, err := store.Create(context.Background(), schedule); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	pending, err := store.List(context.Background(), persistence.Filter{Statuses: []string{"PENDING"}})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "sched-b" {
		t.Fatalf("status filter returned %v", pending)
	}

	deadline := fixedNow().Add(2 * time.Hour)
	dueNow, err := store.List(context.Background(), persistence.Filter{
		Statuses:  []string{"ACTIVE"},
		DueBefore: &deadline,
	})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(dueNow) != 1 || dueNow[0].ID != "sched-c" {
		t.Fatalf("due filter returned %v", dueNow)
	}

	sunday, err := store.List(context.Background(), persistence.Filter{Days: []time.Weekday{time.Sunday}})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(sunday) != 1 || sunday[0].ID != "sched-c" {
		t.Fatalf("day filter returned %v", sunday)
	}

	ordered, err := store.List(context.Background(), persistence.Filter{OrderBy: persistence.OrderByNextExecution})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(ordered) != 3 || ordered[0].ID != "sched-c" || ordered[1].ID != "sched-a" || ordered[2].ID != "sched-b" {
		t.Fatalf("next-execution order wrong: %v", ordered)
	}
}

func TestStore_DeleteMissingFails(t *testing.T) {
	t.Parallel()

	store := New()
	if err := store.Delete(context.Background(), "absent"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
