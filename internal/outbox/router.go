package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	v1 "github.com/aevon-lab/sliceflow/internal/api/v1"
	coreerr "github.com/aevon-lab/sliceflow/internal/core/errors"
	"github.com/google/uuid"
)

// Handler performs the side effect of one outbox entry.
type Handler interface {
	Handle(ctx context.Context, entry *v1.OutboxEntry) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, entry *v1.OutboxEntry) error

func (f HandlerFunc) Handle(ctx context.Context, entry *v1.OutboxEntry) error {
	return f(ctx, entry)
}

// Router dispatches entries by event type. Register all handlers before the
// worker starts; the router is read-only afterwards.
type Router struct {
	handlers map[string]Handler
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]Handler)}
}

// Register routes eventType to h.
func (r *Router) Register(eventType string, h Handler) {
	r.handlers[eventType] = h
}

// Handle dispatches entry. Unknown event types fail validation and are dead-lettered.
func (r *Router) Handle(ctx context.Context, entry *v1.OutboxEntry) error {
	h, ok := r.handlers[entry.EventType]
	if !ok {
		return coreerr.NewValidationError("event_type", "no handler registered for %q", entry.EventType)
	}
	return h.Handle(ctx, entry)
}

// NewEntry builds a PENDING outbox entry with a JSON payload.
func NewEntry(aggregateType v1.AggregateType, aggregateID, eventType string, payload interface{}) (*v1.OutboxEntry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return &v1.OutboxEntry{
		ID:            uuid.NewString(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       raw,
		Status:        v1.OutboxPending,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// DerivedID returns a stable entry id for the given identity parts. Inserting
// two entries with the same derived id yields storage.ErrDuplicate.
func DerivedID(parts ...string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(strings.Join(parts, "/"))).String()
}

// Decode unmarshals an entry payload, failing validation when it is malformed.
func Decode(entry *v1.OutboxEntry, v interface{}) error {
	if err := json.Unmarshal(entry.Payload, v); err != nil {
		return coreerr.NewValidationError("payload", "malformed %s payload: %v", entry.EventType, err)
	}
	return nil
}
