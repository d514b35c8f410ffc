package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/panel-scheduler/internal/persistence"
)

const (
	maxBulkItems     = 50
	maxBulkDeleteIDs = 100
	// bulkWorkers bounds concurrent item application so a large batch cannot
	// starve the store.
	bulkWorkers = 8
)

// ItemResult is the outcome of one bulk item, reported in input order.
type ItemResult struct {
	Index      int
	ScheduleID string
	Success    bool
	Error      string
	ErrorKind  string
}

// BulkResult aggregates per-item outcomes. SuccessCount+FailureCount always
// equals the number of submitted items; partial success is an expected
// outcome, not a batch failure.
type BulkResult struct {
	SuccessCount int
	FailureCount int
	Items        []ItemResult
}

// BulkUpdateItem pairs a schedule ID with its replacement fields.
type BulkUpdateItem struct {
	ScheduleID string
	Input      ScheduleInput
}

// DeleteCriteria selects schedules for criteria-based bulk delete. Days
// matches schedules whose recurrence includes any of the given weekdays.
type DeleteCriteria struct {
	Statuses    []Status
	ActionTypes []ActionType
	Days        []time.Weekday
	Enabled     *bool
}

func (c *DeleteCriteria) isZero() bool {
	return c == nil ||
		(len(c.Statuses) == 0 && len(c.ActionTypes) == 0 && len(c.Days) == 0 && c.Enabled == nil)
}

// BulkDeleteParams selects schedules either by explicit IDs or by criteria.
type BulkDeleteParams struct {
	Principal Principal
	IDs       []string
	Criteria  *DeleteCriteria
}

// BulkDeleteResult reports how many schedules were removed and which
// deletions failed.
type BulkDeleteResult struct {
	DeletedCount int
	Errors       []ItemResult
}

// BulkService applies multi-item mutations as independent units of work. One
// item's failure never aborts or rolls back its siblings.
type BulkService struct {
	schedules *ScheduleService
	store     persistence.ScheduleStore
	logger    *slog.Logger
}

// NewBulkService wires the bulk coordinator over the single-item service.
func NewBulkService(schedules *ScheduleService, store persistence.ScheduleStore, logger *slog.Logger) *BulkService {
	return &BulkService{
		schedules: schedules,
		store:     store,
		logger:    defaultLogger(logger),
	}
}

// BulkCreate creates up to 50 schedules, reporting a per-item outcome in
// input order. Only a structurally invalid batch fails as a whole.
func (b *BulkService) BulkCreate(ctx context.Context, principal Principal, inputs []ScheduleInput) (BulkResult, error) {
	if err := validateBatchSize(len(inputs), maxBulkItems); err != nil {
		return BulkResult{}, err
	}

	result := BulkResult{Items: make([]ItemResult, len(inputs))}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(bulkWorkers)
	for i, input := range inputs {
		group.Go(func() error {
			created, err := b.schedules.CreateSchedule(groupCtx, CreateScheduleParams{Principal: principal, Input: input})
			result.Items[i] = itemResult(i, created.ID, err)
			return nil
		})
	}
	// Item errors are captured per slot; the group itself never fails.
	_ = group.Wait()

	tally(&result)
	b.logOutcome(ctx, "bulk_create", result)
	return result, nil
}

// BulkUpdate updates up to 50 schedules, reporting a per-item outcome in
// input order.
func (b *BulkService) BulkUpdate(ctx context.Context, principal Principal, items []BulkUpdateItem) (BulkResult, error) {
	if err := validateBatchSize(len(items), maxBulkItems); err != nil {
		return BulkResult{}, err
	}

	result := BulkResult{Items: make([]ItemResult, len(items))}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(bulkWorkers)
	for i, item := range items {
		group.Go(func() error {
			_, err := b.schedules.UpdateSchedule(groupCtx, UpdateScheduleParams{
				Principal:  principal,
				ScheduleID: item.ScheduleID,
				Input:      item.Input,
			})
			result.Items[i] = itemResult(i, item.ScheduleID, err)
			return nil
		})
	}
	_ = group.Wait()

	tally(&result)
	b.logOutcome(ctx, "bulk_update", result)
	return result, nil
}

// BulkDelete removes schedules by explicit IDs (up to 100) or by criteria.
// Criteria deletion snapshots the matching set at operation start; schedules
// created concurrently are outside the snapshot and left alone.
func (b *BulkService) BulkDelete(ctx context.Context, params BulkDeleteParams) (BulkDeleteResult, error) {
	ids := params.IDs

	switch {
	case len(ids) > 0 && !params.Criteria.isZero():
		vErr := &ValidationError{}
		vErr.add("criteria", "supply either ids or criteria, not both")
		return BulkDeleteResult{}, vErr
	case len(ids) > 0:
		if len(ids) > maxBulkDeleteIDs {
			vErr := &ValidationError{}
			vErr.add("ids", fmt.Sprintf("at most %d ids per request", maxBulkDeleteIDs))
			return BulkDeleteResult{}, vErr
		}
	case params.Criteria.isZero():
		vErr := &ValidationError{}
		vErr.add("ids", "ids or criteria required")
		return BulkDeleteResult{}, vErr
	default:
		snapshot, err := b.snapshotCriteria(ctx, params.Principal, params.Criteria)
		if err != nil {
			return BulkDeleteResult{}, err
		}
		ids = snapshot
	}

	result := BulkDeleteResult{}
	for i, id := range ids {
		err := b.schedules.DeleteSchedule(ctx, params.Principal, id)
		if err != nil {
			result.Errors = append(result.Errors, itemResult(i, id, err))
			continue
		}
		result.DeletedCount++
	}

	serviceLogger(ctx, b.logger, "bulk", "bulk_delete").Info("bulk delete finished",
		"deleted", result.DeletedCount, "failed", len(result.Errors))
	return result, nil
}

// snapshotCriteria resolves the IDs matching the criteria at operation start.
func (b *BulkService) snapshotCriteria(ctx context.Context, principal Principal, criteria *DeleteCriteria) ([]string, error) {
	filter := persistence.Filter{
		Enabled: criteria.Enabled,
		Days:    criteria.Days,
	}
	if !principal.IsAdmin {
		filter.OwnerID = principal.UserID
	}
	for _, status := range criteria.Statuses {
		filter.Statuses = append(filter.Statuses, string(status))
	}
	for _, actionType := range criteria.ActionTypes {
		filter.ActionTypes = append(filter.ActionTypes, string(actionType))
	}

	records, err := b.store.List(ctx, filter)
	if err != nil {
		return nil, mapStoreError(err)
	}

	ids := make([]string, 0, len(records))
	for _, record := range records {
		ids = append(ids, record.ID)
	}
	return ids, nil
}

func (b *BulkService) logOutcome(ctx context.Context, operation string, result BulkResult) {
	serviceLogger(ctx, b.logger, "bulk", operation).Info("bulk operation finished",
		"succeeded", result.SuccessCount, "failed", result.FailureCount)
}

func validateBatchSize(n, max int) error {
	if n == 0 {
		vErr := &ValidationError{}
		vErr.add("items", "at least one item required")
		return vErr
	}
	if n > max {
		vErr := &ValidationError{}
		vErr.add("items", fmt.Sprintf("at most %d items per request", max))
		return vErr
	}
	return nil
}

func itemResult(index int, scheduleID string, err error) ItemResult {
	item := ItemResult{Index: index, ScheduleID: scheduleID, Success: err == nil}
	if err != nil {
		item.Error = err.Error()
		item.ErrorKind = ErrorKind(err)
	}
	return item
}

func tally(result *BulkResult) {
	for _, item := range result.Items {
		if item.Success {
			result.SuccessCount++
		} else {
			result.FailureCount++
		}
	}
}
