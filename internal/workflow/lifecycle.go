package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/durableflow/engine/internal/models"
	"github.com/durableflow/engine/internal/queue"
	"github.com/durableflow/engine/internal/repo"
)

// Cancel sets a workflow instance's status to CANCELED unconditionally,
// including over an already-terminal status — the simpler of the two
// policies the source design left open; see DESIGN.md for the alternative
// considered. The currently executing body, if any, is not interrupted:
// cancel is cooperative and observable only through subsequent state
// queries. publisher may be nil.
func Cancel(ctx context.Context, gw repo.Gateway, publisher *queue.LifecyclePublisher, workflowInstanceID uuid.UUID) error {
	wi, err := gw.GetWorkflowInstance(ctx, workflowInstanceID)
	if err != nil {
		return fmt.Errorf("get workflow instance: %w", err)
	}

	wi.Status = models.WorkflowCanceled
	wi.UpdatedAt = time.Now()
	if err := gw.UpdateWorkflowInstance(ctx, wi); err != nil {
		return fmt.Errorf("cancel workflow instance: %w", err)
	}

	if publisher != nil {
		publisher.Publish(ctx, queue.EventWorkflowCanceled, workflowInstanceID, "")
	}
	return nil
}
