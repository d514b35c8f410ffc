package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/panel-scheduler/internal/logging"
	"github.com/example/panel-scheduler/internal/recurrence"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

func serviceLogger(ctx context.Context, base *slog.Logger, serviceName, operation string, attrs ...any) *slog.Logger {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = base
	}
	if logger == nil {
		logger = slog.Default()
	}

	pairs := []any{"service", serviceName}
	if operation != "" {
		pairs = append(pairs, "operation", operation)
	}
	if len(attrs) > 0 {
		pairs = append(pairs, attrs...)
	}
	return logger.With(pairs...)
}

// ErrorKind maps sentinel and structured errors to a stable label for log
// fields and bulk item results. Matching is by type, never by substring.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	}

	var pErr *recurrence.ParseError
	if errors.As(err, &pErr) {
		return "parse_error"
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return "validation"
	}

	var xErr *ExecutionError
	if errors.As(err, &xErr) {
		return "execution_error"
	}

	return "unexpected"
}
