package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	workflowIDKey ctxKey = iota
	journeyIDKey
	runIDKey
	testIDKey
)

// WithWorkflowID returns a context with the workflow graph ID set.
func WithWorkflowID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, workflowIDKey, id)
}

// WithJourneyID returns a context with the journey graph ID set.
func WithJourneyID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, journeyIDKey, id)
}

// WithRunID returns a context with the suite run ID set.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// WithTestID returns a context with the test ID set.
func WithTestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, testIDKey, id)
}

// WorkflowID extracts the workflow ID from the context, or "" if absent.
func WorkflowID(ctx context.Context) string {
	v, _ := ctx.Value(workflowIDKey).(string)
	return v
}

// JourneyID extracts the journey ID from the context, or "" if absent.
func JourneyID(ctx context.Context) string {
	v, _ := ctx.Value(journeyIDKey).(string)
	return v
}

// RunID extracts the run ID from the context, or "" if absent.
func RunID(ctx context.Context) string {
	v, _ := ctx.Value(runIDKey).(string)
	return v
}

// TestID extracts the test ID from the context, or "" if absent.
func TestID(ctx context.Context) string {
	v, _ := ctx.Value(testIDKey).(string)
	return v
}

// WithGraphIDs sets both conversion-side correlation IDs at once.
func WithGraphIDs(ctx context.Context, workflowID, journeyID string) context.Context {
	ctx = WithWorkflowID(ctx, workflowID)
	ctx = WithJourneyID(ctx, journeyID)
	return ctx
}

// WithRunIDs sets both suite-side correlation IDs at once.
func WithRunIDs(ctx context.Context, runID, testID string) context.Context {
	ctx = WithRunID(ctx, runID)
	ctx = WithTestID(ctx, testID)
	return ctx
}

// LogWith returns a logger enriched with correlation IDs from the context.
// Only non-empty values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if id := WorkflowID(ctx); id != "" {
		logger = logger.With(slog.String("workflow_id", id))
	}
	if id := JourneyID(ctx); id != "" {
		logger = logger.With(slog.String("journey_id", id))
	}
	if id := RunID(ctx); id != "" {
		logger = logger.With(slog.String("run_id", id))
	}
	if id := TestID(ctx); id != "" {
		logger = logger.With(slog.String("test_id", id))
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation IDs from the context into every log record.
// Use with slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.InfoContext(ctx, ...) and IDs appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if v := WorkflowID(ctx); v != "" {
		r.AddAttrs(slog.String("workflow_id", v))
	}
	if v := JourneyID(ctx); v != "" {
		r.AddAttrs(slog.String("journey_id", v))
	}
	if v := RunID(ctx); v != "" {
		r.AddAttrs(slog.String("run_id", v))
	}
	if v := TestID(ctx); v != "" {
		r.AddAttrs(slog.String("test_id", v))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
