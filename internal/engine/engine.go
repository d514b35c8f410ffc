package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"github.com/example/panel-scheduler/internal/application"
	"github.com/example/panel-scheduler/internal/persistence"
	"github.com/example/panel-scheduler/internal/recurrence"
)

// Config carries the engine tunables. Zero values fall back to defaults, so a
// partially filled config is usable.
type Config struct {
	// TickInterval is how often the engine scans for due schedules.
	TickInterval time.Duration
	// ClaimTTL bounds how long a firing may hold its claim before another
	// engine instance may reclaim the schedule.
	ClaimTTL time.Duration
	// Workers bounds concurrent firings.
	Workers int64
	// OverdueThreshold is the due-schedule backlog above which the engine
	// reports itself unhealthy.
	OverdueThreshold int
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = 30 * time.Second
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = 5 * time.Minute
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.OverdueThreshold <= 0 {
		c.OverdueThreshold = 25
	}
	return c
}

// Health is a point-in-time view of the engine for monitoring endpoints.
type Health struct {
	Healthy      bool
	Running      bool
	LastTickAt   time.Time
	OverdueCount int
	LastError    string
}

// Engine is the scheduler loop. Each tick scans for due ACTIVE schedules,
// claims them one by one and dispatches their actions through a bounded
// worker pool. The claim is a compare-and-set on the schedule version, so
// with several engine instances over a shared store each due firing still
// executes exactly once.
type Engine struct {
	store    persistence.ScheduleStore
	executor ActionExecutor
	now      func() time.Time
	logger   *slog.Logger

	mu        sync.Mutex
	cfg       Config
	cron      *cron.Cron
	sem       *semaphore.Weighted
	running   bool
	startedAt time.Time
	lastTick  time.Time
	overdue   int
	lastError string

	wg sync.WaitGroup
}

// New assembles an engine. A nil now falls back to time.Now.
func New(store persistence.ScheduleStore, executor ActionExecutor, cfg Config, now func() time.Time, logger *slog.Logger) *Engine {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Engine{
		store:    store,
		executor: executor,
		now:      now,
		logger:   logger.With("component", "engine"),
		cfg:      cfg,
		sem:      semaphore.NewWeighted(cfg.Workers),
	}
}

// Start launches the periodic scan. It is a no-op when already running.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}

	c := cron.New()
	spec := fmt.Sprintf("@every %s", e.cfg.TickInterval)
	if _, err := c.AddFunc(spec, func() { e.Tick(ctx) }); err != nil {
		return fmt.Errorf("registering tick: %w", err)
	}
	c.Start()

	e.cron = c
	e.running = true
	e.startedAt = e.now()
	e.logger.Info("engine started", "tick_interval", e.cfg.TickInterval, "workers", e.cfg.Workers)
	return nil
}

// Stop halts the scan and waits for in-flight firings to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	c := e.cron
	e.cron = nil
	e.running = false
	e.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	e.wg.Wait()
	e.logger.Info("engine stopped")
}

// Apply updates the engine tunables. An interval change takes effect by
// restarting the scan schedule; worker and threshold changes apply to the
// next tick.
func (e *Engine) Apply(ctx context.Context, cfg Config) error {
	cfg = cfg.withDefaults()

	e.mu.Lock()
	intervalChanged := cfg.TickInterval != e.cfg.TickInterval
	workersChanged := cfg.Workers != e.cfg.Workers
	running := e.running
	e.cfg = cfg
	if workersChanged {
		e.sem = semaphore.NewWeighted(cfg.Workers)
	}
	e.mu.Unlock()

	if running && intervalChanged {
		e.Stop()
		return e.Start(ctx)
	}
	return nil
}

// Tick runs one due-schedule scan. The cron schedule calls it periodically;
// tests and the run-now path call it directly.
func (e *Engine) Tick(ctx context.Context) {
	now := e.now()

	e.mu.Lock()
	cfg := e.cfg
	sem := e.sem
	e.lastTick = now
	e.mu.Unlock()

	due, err := e.store.List(ctx, persistence.Filter{
		Statuses:  []string{string(application.StatusActive)},
		DueBefore: &now,
		OrderBy:   persistence.OrderByNextExecution,
	})
	if err != nil {
		e.recordError(fmt.Errorf("scanning due schedules: %w", err))
		return
	}

	// Freshly due records are this tick's normal work; only schedules whose
	// next execution lags more than one interval behind count as backlog.
	lagCutoff := now.Add(-cfg.TickInterval)
	overdue := 0
	for _, record := range due {
		if record.NextExecution != nil && record.NextExecution.Before(lagCutoff) {
			overdue++
		}
	}
	e.mu.Lock()
	e.overdue = overdue
	e.mu.Unlock()

	for _, record := range due {
		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}
		e.wg.Add(1)
		go func(record persistence.Schedule) {
			defer e.wg.Done()
			defer sem.Release(1)
			e.fire(ctx, record, now, cfg.ClaimTTL)
		}(record)
	}
}

// fire claims one due schedule and dispatches its action. A claim the store
// refuses means another instance (or an earlier tick) already owns the
// firing; that is a normal outcome, not an error.
func (e *Engine) fire(ctx context.Context, record persistence.Schedule, now time.Time, claimTTL time.Duration) {
	claimed, err := e.store.Claim(ctx, record.ID, record.Version, now, now.Add(claimTTL))
	if err != nil {
		if errors.Is(err, persistence.ErrClaimHeld) || errors.Is(err, persistence.ErrVersionMismatch) || errors.Is(err, persistence.ErrNotFound) {
			e.logger.Debug("skipping firing", "schedule_id", record.ID, "reason", err)
			return
		}
		e.recordError(fmt.Errorf("claiming %s: %w", record.ID, err))
		return
	}

	execErr := e.dispatch(ctx, claimed)
	if err := e.finalize(ctx, claimed, now, execErr, true); err != nil {
		e.recordError(fmt.Errorf("finalizing %s: %w", record.ID, err))
	}
}

// dispatch runs the executor and normalizes failures into ExecutionError.
func (e *Engine) dispatch(ctx context.Context, record persistence.Schedule) error {
	schedule := application.FromRecord(record)

	result, err := e.executor.Execute(ctx, schedule.Action)
	if err != nil {
		return &application.ExecutionError{ScheduleID: record.ID, Err: err}
	}
	if !result.Success {
		return &application.ExecutionError{ScheduleID: record.ID, Message: result.Message}
	}

	e.logger.Info("schedule fired",
		"schedule_id", record.ID, "action", record.ActionType, "message", result.Message)
	return nil
}

// finalizeAttempts bounds the merge-retry loop for the firing write-back.
const finalizeAttempts = 3

// finalize records the firing outcome, advances the next execution when the
// firing was a scheduled one and releases the claim. An edit landing between
// the claim and the write-back wins the version race; the outcome is then
// merged onto the edited record and rewritten, so a completed firing is
// recorded even when its schedule was changed or cancelled mid-flight.
func (e *Engine) finalize(ctx context.Context, claimed persistence.Schedule, firedAt time.Time, execErr error, advance bool) error {
	if execErr != nil {
		e.logger.Warn("firing failed", "schedule_id", claimed.ID, "error", execErr)
	}

	current := claimed
	for attempt := 0; attempt < finalizeAttempts; attempt++ {
		updated := current
		updated.ExecutionCount++
		at := firedAt
		updated.LastExecutionAt = &at
		if execErr != nil {
			updated.FailureCount++
			updated.LastExecutionOK = false
			updated.LastExecutionError = execErr.Error()
		} else {
			updated.SuccessCount++
			updated.LastExecutionOK = true
			updated.LastExecutionError = ""
		}

		// A concurrent edit that disabled, cancelled or rescheduled the
		// schedule owns the cadence; only the outcome fields land then.
		if advance && updated.Status == string(application.StatusActive) && sameRule(current, claimed) {
			if err := application.Transition(application.Status(updated.Status), application.StatusActive, application.ActorEngine); err != nil {
				return err
			}
			next, err := recurrence.NextAfter(application.FromRecord(current).Rule, firedAt)
			if err != nil {
				return fmt.Errorf("advancing %s: %w", claimed.ID, err)
			}
			updated.NextExecution = &next
		}

		updated.ClaimedUntil = nil
		_, err := e.store.Update(ctx, updated, current.Version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, persistence.ErrVersionMismatch) {
			return err
		}

		reread, getErr := e.store.Get(ctx, claimed.ID)
		if getErr != nil {
			return getErr
		}
		current = reread
	}
	return fmt.Errorf("recording firing for %s: retries exhausted", claimed.ID)
}

// sameRule reports whether two records share day set, firing time and
// timezone.
func sameRule(a, b persistence.Schedule) bool {
	if a.Hour != b.Hour || a.Minute != b.Minute || a.Timezone != b.Timezone {
		return false
	}
	if len(a.DaysOfWeek) != len(b.DaysOfWeek) {
		return false
	}
	for i := range a.DaysOfWeek {
		if a.DaysOfWeek[i] != b.DaysOfWeek[i] {
			return false
		}
	}
	return true
}

// ExecuteNow fires a schedule immediately on behalf of a user. It takes the
// same claim a scheduled firing would, so a manual run cannot race a due
// firing of the same schedule. The next scheduled execution is unaffected.
// Execution failures surface to the caller as an ExecutionError.
func (e *Engine) ExecuteNow(ctx context.Context, principal application.Principal, scheduleID string) (application.Schedule, error) {
	record, err := e.store.Get(ctx, scheduleID)
	if err != nil {
		return application.Schedule{}, mapStoreError(err)
	}
	if !principal.IsAdmin && record.OwnerID != principal.UserID {
		return application.Schedule{}, application.ErrPermissionDenied
	}

	schedule := application.FromRecord(record)
	if schedule.Status.IsTerminal() {
		return application.Schedule{}, &application.InvalidTransitionError{From: schedule.Status, To: schedule.Status}
	}

	now := e.now()
	e.mu.Lock()
	claimTTL := e.cfg.ClaimTTL
	e.mu.Unlock()

	claimed, err := e.store.Claim(ctx, scheduleID, record.Version, now, now.Add(claimTTL))
	if err != nil {
		return application.Schedule{}, mapStoreError(err)
	}

	execErr := e.dispatch(ctx, claimed)
	if err := e.finalize(ctx, claimed, now, execErr, false); err != nil {
		return application.Schedule{}, err
	}
	if execErr != nil {
		return application.Schedule{}, execErr
	}

	final, err := e.store.Get(ctx, scheduleID)
	if err != nil {
		return application.Schedule{}, mapStoreError(err)
	}
	return application.FromRecord(final), nil
}

// Health reports the engine's current health. The engine is unhealthy when
// it has stopped ticking for more than twice its interval or when the due
// backlog exceeds the configured threshold.
func (e *Engine) Health() Health {
	e.mu.Lock()
	defer e.mu.Unlock()

	h := Health{
		Running:      e.running,
		LastTickAt:   e.lastTick,
		OverdueCount: e.overdue,
		LastError:    e.lastError,
	}

	if !e.running {
		return h
	}

	reference := e.lastTick
	if reference.IsZero() {
		reference = e.startedAt
	}
	stale := e.now().Sub(reference) > 2*e.cfg.TickInterval
	h.Healthy = !stale && e.overdue <= e.cfg.OverdueThreshold
	return h
}

func (e *Engine) recordError(err error) {
	e.logger.Error("engine error", "error", err)
	e.mu.Lock()
	e.lastError = err.Error()
	e.mu.Unlock()
}

// mapStoreError translates persistence errors into the application taxonomy.
func mapStoreError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return application.ErrNotFound
	case errors.Is(err, persistence.ErrVersionMismatch), errors.Is(err, persistence.ErrClaimHeld):
		return fmt.Errorf("%w: %v", application.ErrConflict, err)
	}
	return err
}
