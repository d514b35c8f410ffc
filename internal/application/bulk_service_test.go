package application

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/example/panel-scheduler/internal/persistence"
	"github.com/example/panel-scheduler/internal/persistence/memory"
)

func newTestBulkService() (*BulkService, *ScheduleService) {
	store := memory.New(memory.WithNow(testNow))
	schedules := NewScheduleService(store, &zoneDirectoryStub{exists: true}, sequentialIDs(), testNow)
	return NewBulkService(schedules, store, nil), schedules
}

func TestBulkService_BulkCreate_PartialSuccess(t *testing.T) {
	t.Parallel()

	bulk, _ := newTestBulkService()
	owner := Principal{UserID: "user-1"}

	inputs := []ScheduleInput{
		{Expression: "arm every monday at 9:00 pm"},
		{Expression: "every monday"},
		{Expression: "disarm every weekday at 7:00 am"},
	}

	result, err := bulk.BulkCreate(context.Background(), owner, inputs)
	if err != nil {
		t.Fatalf("BulkCreate returned error: %v", err)
	}

	if len(result.Items) != len(inputs) {
		t.Fatalf("expected %d items, got %d", len(inputs), len(result.Items))
	}
	if result.SuccessCount+result.FailureCount != len(inputs) {
		t.Fatalf("counts do not cover the batch: %d + %d != %d", result.SuccessCount, result.FailureCount, len(inputs))
	}
	if result.SuccessCount != 2 || result.FailureCount != 1 {
		t.Fatalf("expected 2 successes and 1 failure, got %d/%d", result.SuccessCount, result.FailureCount)
	}

	if !result.Items[0].Success || !result.Items[2].Success {
		t.Fatalf("expected items 0 and 2 to succeed: %+v", result.Items)
	}
	failed := result.Items[1]
	if failed.Success || failed.Index != 1 {
		t.Fatalf("expected item 1 to fail in place, got %+v", failed)
	}
	if failed.ErrorKind != "parse_error" {
		t.Fatalf("expected parse_error kind, got %q", failed.ErrorKind)
	}
}

func TestBulkService_BulkCreate_BatchBounds(t *testing.T) {
	t.Parallel()

	bulk, _ := newTestBulkService()
	owner := Principal{UserID: "user-1"}

	var vErr *ValidationError
	if _, err := bulk.BulkCreate(context.Background(), owner, nil); !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError for empty batch, got %v", err)
	}

	oversized := make([]ScheduleInput, maxBulkItems+1)
	for i := range oversized {
		oversized[i] = ScheduleInput{Expression: "arm every monday at 9:00 pm"}
	}
	if _, err := bulk.BulkCreate(context.Background(), owner, oversized); !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError for oversized batch, got %v", err)
	}
}

func TestBulkService_BulkUpdate_PreservesInputOrder(t *testing.T) {
	t.Parallel()

	bulk, schedules := newTestBulkService()
	ctx := context.Background()
	owner := Principal{UserID: "user-1"}

	created, err := schedules.CreateSchedule(ctx, CreateScheduleParams{
		Principal: owner,
		Input:     ScheduleInput{Expression: "arm every monday at 9:00 pm"},
	})
	if err != nil {
		t.Fatalf("CreateSchedule returned error: %v", err)
	}

	items := []BulkUpdateItem{
		{ScheduleID: "missing", Input: ScheduleInput{Expression: "arm every monday at 8:00 pm"}},
		{ScheduleID: created.ID, Input: ScheduleInput{Expression: "arm every friday at 6:00 am"}},
	}

	result, err := bulk.BulkUpdate(ctx, owner, items)
	if err != nil {
		t.Fatalf("BulkUpdate returned error: %v", err)
	}

	if result.SuccessCount != 1 || result.FailureCount != 1 {
		t.Fatalf("expected 1/1 split, got %d/%d", result.SuccessCount, result.FailureCount)
	}
	if result.Items[0].Success || result.Items[0].ErrorKind != "not_found" {
		t.Fatalf("expected item 0 to fail with not_found, got %+v", result.Items[0])
	}
	if !result.Items[1].Success || result.Items[1].ScheduleID != created.ID {
		t.Fatalf("expected item 1 to succeed for %s, got %+v", created.ID, result.Items[1])
	}

	updated, err := schedules.GetSchedule(ctx, owner, created.ID)
	if err != nil {
		t.Fatalf("GetSchedule returned error: %v", err)
	}
	want := time.Date(2024, 3, 15, 6, 0, 0, 0, time.UTC)
	if updated.NextExecution == nil || !updated.NextExecution.Equal(want) {
		t.Fatalf("expected updated next execution %v, got %v", want, updated.NextExecution)
	}
}

func TestBulkService_BulkDelete_ByIDs(t *testing.T) {
	t.Parallel()

	bulk, schedules := newTestBulkService()
	ctx := context.Background()
	owner := Principal{UserID: "user-1"}

	var ids []string
	for i := 0; i < 3; i++ {
		created, err := schedules.CreateSchedule(ctx, CreateScheduleParams{
			Principal: owner,
			Input:     ScheduleInput{Expression: "arm every monday at 9:00 pm"},
		})
		if err != nil {
			t.Fatalf("CreateSchedule returned error: %v", err)
		}
		ids = append(ids, created.ID)
	}

	result, err := bulk.BulkDelete(ctx, BulkDeleteParams{
		Principal: owner,
		IDs:       append(ids, "missing"),
	})
	if err != nil {
		t.Fatalf("BulkDelete returned error: %v", err)
	}

	if result.DeletedCount != 3 {
		t.Fatalf("expected 3 deletions, got %d", result.DeletedCount)
	}
	if len(result.Errors) != 1 || result.Errors[0].ErrorKind != "not_found" {
		t.Fatalf("expected one not_found error, got %+v", result.Errors)
	}

	remaining, err := schedules.ListSchedules(ctx, ListSchedulesParams{Principal: owner})
	if err != nil {
		t.Fatalf("ListSchedules returned error: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected empty list after delete, got %d", len(remaining))
	}
}

func TestBulkService_BulkDelete_ByCriteria(t *testing.T) {
	t.Parallel()

	bulk, schedules := newTestBulkService()
	ctx := context.Background()
	owner := Principal{UserID: "user-1"}

	active, err := schedules.CreateSchedule(ctx, CreateScheduleParams{
		Principal: owner,
		Input:     ScheduleInput{Expression: "arm every monday at 9:00 pm"},
	})
	if err != nil {
		t.Fatalf("CreateSchedule returned error: %v", err)
	}
	pending, err := schedules.CreateSchedule(ctx, CreateScheduleParams{
		Principal: owner,
		Input:     ScheduleInput{Expression: "disarm every friday at 7:00 am"},
	})
	if err != nil {
		t.Fatalf("CreateSchedule returned error: %v", err)
	}
	if _, err := schedules.DisableSchedule(ctx, owner, pending.ID); err != nil {
		t.Fatalf("DisableSchedule returned error: %v", err)
	}

	result, err := bulk.BulkDelete(ctx, BulkDeleteParams{
		Principal: owner,
		Criteria:  &DeleteCriteria{Statuses: []Status{StatusPending}},
	})
	if err != nil {
		t.Fatalf("BulkDelete returned error: %v", err)
	}
	if result.DeletedCount != 1 || len(result.Errors) != 0 {
		t.Fatalf("expected exactly the pending schedule deleted, got %+v", result)
	}

	if _, err := schedules.GetSchedule(ctx, owner, active.ID); err != nil {
		t.Fatalf("active schedule must survive criteria delete: %v", err)
	}
	if _, err := schedules.GetSchedule(ctx, owner, pending.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected pending schedule gone, got %v", err)
	}
}

func TestBulkService_BulkDelete_CriteriaMatchesAnyDay(t *testing.T) {
	t.Parallel()

	bulk, schedules := newTestBulkService()
	ctx := context.Background()
	owner := Principal{UserID: "user-1"}

	weekdays, err := schedules.CreateSchedule(ctx, CreateScheduleParams{
		Principal: owner,
		Input:     ScheduleInput{Expression: "arm every weekday at 9:00 pm"},
	})
	if err != nil {
		t.Fatalf("CreateSchedule returned error: %v", err)
	}
	weekend, err := schedules.CreateSchedule(ctx, CreateScheduleParams{
		Principal: owner,
		Input:     ScheduleInput{Expression: "arm every weekend at 10:00 pm"},
	})
	if err != nil {
		t.Fatalf("CreateSchedule returned error: %v", err)
	}

	// Monday matches the weekday schedule even though it also covers other days.
	result, err := bulk.BulkDelete(ctx, BulkDeleteParams{
		Principal: owner,
		Criteria:  &DeleteCriteria{Days: []time.Weekday{time.Monday}},
	})
	if err != nil {
		t.Fatalf("BulkDelete returned error: %v", err)
	}
	if result.DeletedCount != 1 {
		t.Fatalf("expected 1 deletion, got %d", result.DeletedCount)
	}
	if _, err := schedules.GetSchedule(ctx, owner, weekdays.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected weekday schedule gone, got %v", err)
	}
	if _, err := schedules.GetSchedule(ctx, owner, weekend.ID); err != nil {
		t.Fatalf("weekend schedule must survive, got %v", err)
	}
}

func TestBulkService_BulkDelete_RequestShape(t *testing.T) {
	t.Parallel()

	bulk, _ := newTestBulkService()
	owner := Principal{UserID: "user-1"}

	var vErr *ValidationError
	if _, err := bulk.BulkDelete(context.Background(), BulkDeleteParams{Principal: owner}); !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError for empty request, got %v", err)
	}

	enabled := true
	if _, err := bulk.BulkDelete(context.Background(), BulkDeleteParams{
		Principal: owner,
		IDs:       []string{"s-1"},
		Criteria:  &DeleteCriteria{Enabled: &enabled},
	}); !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError for ids and criteria together, got %v", err)
	}

	oversized := make([]string, maxBulkDeleteIDs+1)
	for i := range oversized {
		oversized[i] = fmt.Sprintf("s-%d", i)
	}
	if _, err := bulk.BulkDelete(context.Background(), BulkDeleteParams{Principal: owner, IDs: oversized}); !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError for oversized id list, got %v", err)
	}
}

func TestBulkService_BulkDelete_ScopesNonAdminCriteria(t *testing.T) {
	t.Parallel()

	store := memory.New(memory.WithNow(testNow))
	schedules := NewScheduleService(store, &zoneDirectoryStub{exists: true}, sequentialIDs(), testNow)
	bulk := NewBulkService(schedules, store, nil)
	ctx := context.Background()

	if _, err := schedules.CreateSchedule(ctx, CreateScheduleParams{
		Principal: Principal{UserID: "user-1"},
		Input:     ScheduleInput{Expression: "arm every monday at 9:00 pm"},
	}); err != nil {
		t.Fatalf("CreateSchedule returned error: %v", err)
	}
	if _, err := schedules.CreateSchedule(ctx, CreateScheduleParams{
		Principal: Principal{UserID: "user-2"},
		Input:     ScheduleInput{Expression: "arm every monday at 9:00 pm"},
	}); err != nil {
		t.Fatalf("CreateSchedule returned error: %v", err)
	}

	result, err := bulk.BulkDelete(ctx, BulkDeleteParams{
		Principal: Principal{UserID: "user-1"},
		Criteria:  &DeleteCriteria{Statuses: []Status{StatusActive}},
	})
	if err != nil {
		t.Fatalf("BulkDelete returned error: %v", err)
	}
	if result.DeletedCount != 1 {
		t.Fatalf("expected only the caller's schedule deleted, got %d", result.DeletedCount)
	}

	records, err := store.List(ctx, persistence.Filter{})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(records) != 1 || records[0].OwnerID != "user-2" {
		t.Fatalf("expected the other owner's schedule to survive, got %+v", records)
	}
}
