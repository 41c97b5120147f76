package extensions

import (
	"context"
	"time"
)

// AuditEvent records one security-relevant occurrence: a permission denial,
// an admin mutation, a fallback to an external provider.
type AuditEvent struct {
	// EventType categorizes the event, e.g. "permission.denied",
	// "settings.updated", "fallback.executed".
	EventType string

	Timestamp time.Time
	UserID    string
	CompanyID string

	// Action is the operation attempted ("chat", "pull", "update").
	Action string

	// Resource identifies what was acted on (a model name, "settings").
	Resource string

	// Outcome is "allowed", "denied", or "error".
	Outcome string

	// Metadata carries event-specific detail.
	Metadata map[string]any
}

// AuditLogger records security-relevant events.
//
// Implementations must be safe for concurrent use and must be cheap: the
// gateway calls Log inline on the request path and ignores the returned
// error beyond logging it.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
}

// NopAuditLogger discards all events. The default for deployments without
// a compliance sink.
type NopAuditLogger struct{}

// Log discards the event.
func (l *NopAuditLogger) Log(_ context.Context, _ AuditEvent) error { return nil }

var _ AuditLogger = (*NopAuditLogger)(nil)
