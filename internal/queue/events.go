package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"
)

// EventKind names a workflow or step lifecycle transition worth notifying
// external observers about.
type EventKind string

const (
	EventWorkflowStarted   EventKind = "workflow.started"
	EventWorkflowCompleted EventKind = "workflow.completed"
	EventWorkflowFailed    EventKind = "workflow.failed"
	EventWorkflowCanceled  EventKind = "workflow.canceled"
	EventStepSleeping      EventKind = "step.sleeping"
	EventStepWoke          EventKind = "step.woke"
)

// LifecyclePublisher publishes best-effort workflow/step lifecycle events.
// A publish failure is logged and never propagated: lifecycle notification
// is a convenience for external observers, not part of the durable
// execution contract.
type LifecyclePublisher struct {
	queue    Queue
	exchange string
	timeout  time.Duration
	logger   *zap.Logger
}

// NewLifecyclePublisher builds a publisher over q. q may be nil, in which
// case Publish is a no-op — this lets the engine run with
// message_queue.enabled=false.
func NewLifecyclePublisher(q Queue, exchange string, timeout time.Duration, logger *zap.Logger) *LifecyclePublisher {
	return &LifecyclePublisher{
		queue:    q,
		exchange: exchange,
		timeout:  timeout,
		logger:   logger.With(zap.String("component", "lifecycle_publisher")),
	}
}

// Publish builds a small JSON envelope for the event via sjson (no struct
// needed for what is, on the wire, just a handful of flat fields) and fans
// it out over the configured exchange, routed by event kind.
func (p *LifecyclePublisher) Publish(ctx context.Context, kind EventKind, workflowInstanceID uuid.UUID, detail string) {
	if p.queue == nil {
		return
	}

	body := "{}"
	body, _ = sjson.Set(body, "kind", string(kind))
	body, _ = sjson.Set(body, "workflowInstanceId", workflowInstanceID.String())
	body, _ = sjson.Set(body, "detail", detail)
	body, _ = sjson.Set(body, "emittedAt", time.Now().UTC().Format(time.RFC3339Nano))

	pubCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.queue.Publish(pubCtx, p.exchange, string(kind), []byte(body)); err != nil {
		p.logger.Warn("lifecycle event publish failed",
			zap.String("kind", string(kind)),
			zap.String("workflow_instance_id", workflowInstanceID.String()),
			zap.Error(err),
		)
	}
}
