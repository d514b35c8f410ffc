package engine

import (
	"context"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/example/panel-scheduler/internal/application"
)

// ExecutionResult reports the outcome of one action dispatch. Success with a
// message is a normal completion; a failed dispatch is returned as an error
// and recorded on the schedule.
type ExecutionResult struct {
	Success bool
	Message string
}

// ActionExecutor dispatches a security action to the panel. Implementations
// must be safe for concurrent use; the engine bounds concurrency but several
// firings can be in flight at once.
type ActionExecutor interface {
	Execute(ctx context.Context, action application.Action) (ExecutionResult, error)
}

// ExecutorFunc adapts a function to the ActionExecutor interface.
type ExecutorFunc func(ctx context.Context, action application.Action) (ExecutionResult, error)

// Execute implements ActionExecutor.
func (f ExecutorFunc) Execute(ctx context.Context, action application.Action) (ExecutionResult, error) {
	return f(ctx, action)
}

// LogExecutor records actions without driving a panel. It backs dry-run
// deployments and development setups where no panel link exists.
type LogExecutor struct {
	Logger *slog.Logger
}

// Execute implements ActionExecutor.
func (l *LogExecutor) Execute(ctx context.Context, action application.Action) (ExecutionResult, error) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "action dispatched",
		"action", action.Type, "mode", action.Mode, "zone_id", action.ZoneID)
	return ExecutionResult{Success: true, Message: "logged"}, nil
}

// RateLimitedExecutor throttles dispatches so a burst of due schedules cannot
// flood the panel bus. Waiting respects the caller's context.
type RateLimitedExecutor struct {
	inner   ActionExecutor
	limiter *rate.Limiter
}

// NewRateLimitedExecutor wraps inner with a token bucket of the given rate
// and burst.
func NewRateLimitedExecutor(inner ActionExecutor, perSecond float64, burst int) *RateLimitedExecutor {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedExecutor{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Execute implements ActionExecutor.
func (r *RateLimitedExecutor) Execute(ctx context.Context, action application.Action) (ExecutionResult, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return ExecutionResult{}, err
	}
	return r.inner.Execute(ctx, action)
}
