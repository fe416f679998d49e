// Package audit defines the append-only audit trail of booking transitions
// and mirrors each committed entry to the structured log.
package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"tripwise.org/internal/auth"
	"tripwise.org/internal/ids"
	"tripwise.org/internal/obs"
)

// Action names a recorded lifecycle event.
type Action string

const (
	ActionSubmit            Action = "SUBMIT"
	ActionSubmitAutoApprove Action = "SUBMIT_AUTO_APPROVE"
	ActionSubmitBlocked     Action = "SUBMIT_BLOCKED"
	ActionApprove           Action = "APPROVE"
	ActionReject            Action = "REJECT"
	ActionCancel            Action = "CANCEL"
)

const EntityBooking = "booking"

// Entry is one audit record. Entries are never updated or deleted.
type Entry struct {
	ID         string         `json:"id"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Action     Action         `json:"action"`
	FromState  string         `json:"from_state"`
	ToState    string         `json:"to_state"`
	Details    map[string]any `json:"details,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// NewEntry stamps a booking entry with an id and time.
func NewEntry(bookingID, actorID string, action Action, from, to string, details map[string]any) Entry {
	copied := make(map[string]any, len(details))
	for k, v := range details {
		copied[k] = v
	}
	return Entry{
		ID:         ids.New(),
		EntityType: EntityBooking,
		EntityID:   bookingID,
		ActorID:    actorID,
		Action:     action,
		FromState:  from,
		ToState:    to,
		Details:    copied,
		OccurredAt: time.Now().UTC(),
	}
}

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id attached by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes a committed entry to the log enriched with request context.
func LogEvent(ctx context.Context, e Entry) error {
	if strings.TrimSpace(string(e.Action)) == "" {
		return errors.New("audit action is required")
	}
	fields := []zap.Field{
		zap.String("type", "audit"),
		zap.String("event", string(e.Action)),
		zap.String("entity_type", e.EntityType),
		zap.String("entity_id", e.EntityID),
		zap.String("actor_id", e.ActorID),
		zap.String("from", e.FromState),
		zap.String("to", e.ToState),
		zap.Any("details", e.Details),
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		fields = append(fields, zap.String("request_id", rid))
	}
	if principal, ok := auth.ActorIDFromContext(ctx); ok && principal != e.ActorID {
		fields = append(fields, zap.String("principal_id", principal))
	}
	obs.Logger().Info("audit", fields...)
	return nil
}
