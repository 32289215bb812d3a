// Package audit records the activity trail of match engine runs.
package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"organlink.org/internal/obs"
)

type ctxKey string

const runIDKey ctxKey = "audit_run_id"

// WithRunID attaches the engine run identifier to the context for audit
// logging.
func WithRunID(ctx context.Context, runID string) context.Context {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey, runID)
}

// RunIDFromContext extracts the audit run id from context if present.
func RunIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(runIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with the run context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := []zap.Field{
		zap.String("type", "audit"),
		zap.String("event", event),
		zap.Time("at", time.Now().UTC()),
	}
	if runID := RunIDFromContext(ctx); runID != "" {
		entry = append(entry, zap.String("run_id", runID))
	}
	if len(fields) > 0 {
		entry = append(entry, zap.Any("fields", fields))
	}
	obs.Logger().Info("audit", entry...)
	return nil
}
