package obs

import (
	"context"
	"time"
)

// Request outcome labels.
const (
	StatusOK              = "ok"
	StatusDegraded        = "degraded"
	StatusInvalid         = "invalid_intent"
	StatusSchemaViolation = "schema_violation"
	StatusError           = "error"
)

type RequestEvent struct {
	RequestID string
	Symbols   []string
	Horizon   string
	Status    string
	Duration  time.Duration
	Warnings  []string
	Err       error
}

type WorkerEvent struct {
	RequestID string
	Kind      string
	Symbol    string
	Status    string
	Detail    string
	Duration  time.Duration
}

// Hook receives orchestration events. Implementations must be safe for
// concurrent use and must not block.
type Hook interface {
	RequestStarted(ctx context.Context, ev RequestEvent)
	WorkerFinished(ctx context.Context, ev WorkerEvent)
	RequestFinished(ctx context.Context, ev RequestEvent)
}

type Nop struct{}

func (Nop) RequestStarted(context.Context, RequestEvent)  {}
func (Nop) WorkerFinished(context.Context, WorkerEvent)   {}
func (Nop) RequestFinished(context.Context, RequestEvent) {}

// Multi fans events out to every hook in order.
type Multi []Hook

func (m Multi) RequestStarted(ctx context.Context, ev RequestEvent) {
	for _, h := range m {
		h.RequestStarted(ctx, ev)
	}
}

func (m Multi) WorkerFinished(ctx context.Context, ev WorkerEvent) {
	for _, h := range m {
		h.WorkerFinished(ctx, ev)
	}
}

func (m Multi) RequestFinished(ctx context.Context, ev RequestEvent) {
	for _, h := range m {
		h.RequestFinished(ctx, ev)
	}
}
