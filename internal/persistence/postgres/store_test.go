package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/example/panel-scheduler/internal/persistence"
)

func TestDayEncoding(t *testing.T) {
	t.Parallel()

	days := []time.Weekday{time.Monday, time.Wednesday, time.Friday}
	decoded, err := decodeDays(encodeDays(days))
	if err != nil {
		t.Fatalf("decodeDays returned error: %v", err)
	}
	if len(decoded) != len(days) {
		t.Fatalf("expected %d days, got %v", len(days), decoded)
	}
	for i, day := range days {
		if decoded[i] != day {
			t.Fatalf("expected %v at %d, got %v", day, i, decoded[i])
		}
	}

	if empty, err := decodeDays(""); err != nil || empty != nil {
		t.Fatalf("expected empty decode, got %v, %v", empty, err)
	}
	if _, err := decodeDays("1,x"); err == nil {
		t.Fatal("expected error for malformed day set")
	}
}

func TestNullTimeRoundTrip(t *testing.T) {
	t.Parallel()

	if got := timePtr(nullTime(nil)); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}

	at := time.Date(2024, 3, 14, 21, 0, 0, 0, time.UTC)
	got := timePtr(nullTime(&at))
	if got == nil || !got.Equal(at) {
		t.Fatalf("expected %v, got %v", at, got)
	}
}

// TestStore_Integration exercises the full store against a real database. It
// runs only when PANEL_TEST_POSTGRES_DSN points at a disposable instance.
func TestStore_Integration(t *testing.T) {
	dsn := os.Getenv("PANEL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PANEL_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	store, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer store.Close()

	next := time.Date(2024, 3, 14, 21, 0, 0, 0, time.UTC)
	created, err := store.Create(ctx, persistence.Schedule{
		ID:            "it-1",
		OwnerID:       "user-1",
		DaysOfWeek:    []time.Weekday{time.Thursday},
		Hour:          21,
		Timezone:      "UTC",
		ActionType:    "arm",
		Mode:          "away",
		Enabled:       true,
		Status:        "ACTIVE",
		NextExecution: &next,
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	defer store.Delete(ctx, created.ID)

	claimed, err := store.Claim(ctx, created.ID, created.Version, next, next.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("Claim returned error: %v", err)
	}
	if _, err := store.Claim(ctx, created.ID, claimed.Version, next, next.Add(5*time.Minute)); !errors.Is(err, persistence.ErrClaimHeld) {
		t.Fatalf("expected ErrClaimHeld, got %v", err)
	}
}
