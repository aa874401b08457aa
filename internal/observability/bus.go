package observability

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Publisher sends JSON events with headers to the event bus.
type Publisher interface {
	PublishJSON(ctx context.Context, routingKey string, message any, headers map[string]string) error
}

var busPublisher atomic.Pointer[Publisher]

// SetPublisher installs the process-wide bus publisher. nil disables
// publishing.
func SetPublisher(publisher Publisher) {
	if publisher == nil {
		busPublisher.Store(nil)
		return
	}
	busPublisher.Store(&publisher)
}

// Event is a lifecycle notification for consumers outside the chat core.
type Event struct {
	Kind       string    `json:"kind"`
	Name       string    `json:"name"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// Correlation ties an event to the request and trace that caused it.
type Correlation struct {
	RequestID string
	TraceID   string
}

func (c Correlation) headers() map[string]string {
	headers := map[string]string{}
	if c.RequestID != "" {
		headers["x-request-id"] = c.RequestID
	}
	if c.TraceID != "" {
		headers["trace_id"] = c.TraceID
	}
	return headers
}

// PublishEvent sends ev through the installed publisher. It is a no-op
// without one; failures are counted.
func PublishEvent(ctx context.Context, routingKey string, ev Event, corr Correlation) error {
	p := busPublisher.Load()
	if p == nil {
		return nil
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	if err := (*p).PublishJSON(ctx, routingKey, ev, corr.headers()); err != nil {
		IncAMQPPublishError()
		return err
	}
	return nil
}

// TraceID returns the id of the span in ctx, empty when there is none.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
