package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/panel-scheduler/internal/persistence"
)

// fixedNow is Thursday 2024-03-14 09:00 UTC.
func fixedNow() time.Time {
	return time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC)
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "schedules.db")
	store, err := Open(context.Background(), dsn, WithNow(fixedNow))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleSchedule(id, ownerID string) persistence.Schedule {
	next := time.Date(2024, 3, 14, 21, 0, 0, 0, time.UTC)
	return persistence.Schedule{
		ID:            id,
		OwnerID:       ownerID,
		DaysOfWeek:    []time.Weekday{time.Monday, time.Thursday},
		Hour:          21,
		Minute:        0,
		Timezone:      "UTC",
		ActionType:    "arm",
		Mode:          "away",
		Description:   "night arm",
		Enabled:       true,
		Status:        "ACTIVE",
		NextExecution: &next,
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, sampleSchedule("s-1", "user-1"))
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if created.Version != 1 {
		t.Fatalf("expected version 1, got %d", created.Version)
	}
	if !created.CreatedAt.Equal(fixedNow()) {
		t.Fatalf("expected created at %v, got %v", fixedNow(), created.CreatedAt)
	}

	got, err := store.Get(ctx, "s-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.OwnerID != "user-1" || got.ActionType != "arm" || got.Mode != "away" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if len(got.DaysOfWeek) != 2 || got.DaysOfWeek[0] != time.Monday || got.DaysOfWeek[1] != time.Thursday {
		t.Fatalf("day set mismatch: %v", got.DaysOfWeek)
	}
	if got.NextExecution == nil || !got.NextExecution.Equal(*sampleSchedule("", "").NextExecution) {
		t.Fatalf("next execution mismatch: %v", got.NextExecution)
	}

	if _, err := store.Create(ctx, sampleSchedule("s-1", "user-1")); !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_Update_OptimisticVersioning(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, sampleSchedule("s-1", "user-1"))
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	created.Description = "weekday arm"
	updated, err := store.Update(ctx, created, created.Version)
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if updated.Version != 2 || updated.Description != "weekday arm" {
		t.Fatalf("unexpected update result: %+v", updated)
	}

	if _, err := store.Update(ctx, created, created.Version); !errors.Is(err, persistence.ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch for stale write, got %v", err)
	}

	missing := sampleSchedule("missing", "user-1")
	if _, err := store.Update(ctx, missing, 1); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_Claim(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, sampleSchedule("s-1", "user-1"))
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	now := fixedNow()
	claimed, err := store.Claim(ctx, "s-1", created.Version, now, now.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("Claim returned error: %v", err)
	}
	if claimed.Version != created.Version+1 {
		t.Fatalf("expected version bump, got %d", claimed.Version)
	}
	if claimed.ClaimedUntil == nil || !claimed.ClaimedUntil.Equal(now.Add(5*time.Minute)) {
		t.Fatalf("unexpected claim deadline: %v", claimed.ClaimedUntil)
	}

	// Stale version loses the race.
	if _, err := store.Claim(ctx, "s-1", created.Version, now, now.Add(5*time.Minute)); !errors.Is(err, persistence.ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
	// Fresh version but a live claim.
	if _, err := store.Claim(ctx, "s-1", claimed.Version, now, now.Add(5*time.Minute)); !errors.Is(err, persistence.ErrClaimHeld) {
		t.Fatalf("expected ErrClaimHeld, got %v", err)
	}

	// An expired claim is reclaimable.
	later := now.Add(10 * time.Minute)
	reclaimed, err := store.Claim(ctx, "s-1", claimed.Version, later, later.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("expected reclaim after expiry, got %v", err)
	}
	if reclaimed.Version != claimed.Version+1 {
		t.Fatalf("expected version bump on reclaim, got %d", reclaimed.Version)
	}

	if _, err := store.Claim(ctx, "missing", 1, now, now.Add(time.Minute)); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_List_Filters(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	first := sampleSchedule("s-1", "user-1")
	second := sampleSchedule("s-2", "user-1")
	second.Status = "PENDING"
	second.Enabled = false
	second.NextExecution = nil
	second.DaysOfWeek = []time.Weekday{time.Saturday, time.Sunday}
	third := sampleSchedule("s-3", "user-2")
	third.ActionType = "disarm"
	third.Mode = ""

	for _, schedule := range []persistence.Schedule{first, second, third} {
		if _, err := store.Create(ctx, schedule); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
	}

	owned, err := store.List(ctx, persistence.Filter{OwnerID: "user-1"})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(owned) != 2 {
		t.Fatalf("expected 2 owned schedules, got %d", len(owned))
	}

	active, err := store.List(ctx, persistence.Filter{Statuses: []string{"ACTIVE"}})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active schedules, got %d", len(active))
	}

	weekend, err := store.List(ctx, persistence.Filter{Days: []time.Weekday{time.Sunday}})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(weekend) != 1 || weekend[0].ID != "s-2" {
		t.Fatalf("expected only the weekend schedule, got %+v", weekend)
	}

	due := fixedNow().Add(13 * time.Hour)
	dueList, err := store.List(ctx, persistence.Filter{DueBefore: &due, OrderBy: persistence.OrderByNextExecution})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(dueList) != 2 {
		t.Fatalf("expected 2 due schedules, got %d", len(dueList))
	}

	disarm, err := store.List(ctx, persistence.Filter{ActionTypes: []string{"disarm"}})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(disarm) != 1 || disarm[0].ID != "s-3" {
		t.Fatalf("expected only the disarm schedule, got %+v", disarm)
	}

	limited, err := store.List(ctx, persistence.Filter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected 1 schedule with limit/offset, got %d", len(limited))
	}
}

func TestStore_List_DueBeforeFractionalSeconds(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, sampleSchedule("s-1", "user-1")); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	// The schedule is due on a whole second; a cutoff half a second later
	// must still see it as due under the stored TEXT ordering.
	cutoff := sampleSchedule("", "").NextExecution.Add(500 * time.Millisecond)
	due, err := store.List(ctx, persistence.Filter{DueBefore: &cutoff})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(due) != 1 || due[0].ID != "s-1" {
		t.Fatalf("expected the whole-second schedule due, got %+v", due)
	}
}

func TestStore_Claim_FractionalSecondExpiry(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, sampleSchedule("s-1", "user-1"))
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	now := fixedNow()
	claimed, err := store.Claim(ctx, "s-1", created.Version, now, now.Add(time.Second))
	if err != nil {
		t.Fatalf("Claim returned error: %v", err)
	}

	// A whole-second deadline must read as expired half a second after it.
	later := now.Add(1500 * time.Millisecond)
	if _, err := store.Claim(ctx, "s-1", claimed.Version, later, later.Add(time.Minute)); err != nil {
		t.Fatalf("expected reclaim after fractional expiry, got %v", err)
	}
}

func TestStore_Delete(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, sampleSchedule("s-1", "user-1")); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if err := store.Delete(ctx, "s-1"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if err := store.Delete(ctx, "s-1"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
