package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/durableflow/engine/internal/durations"
	"github.com/durableflow/engine/internal/models"
	"github.com/durableflow/engine/internal/queue"
	"github.com/durableflow/engine/internal/repo"
)

// Sleep blocks until duration has elapsed since the timer was first
// started, surviving a process restart in between. The persist-then-wait
// pattern means a resumed call recomputes the remaining wait from the
// stored startedAt rather than waiting the full duration again.
func (ex *StepExecutor) Sleep(ctx context.Context, name string, duration string) error {
	if name == "" {
		return ErrEmptyStepName
	}

	ms, err := durations.Parse(duration)
	if err != nil {
		return fmt.Errorf("sleep %q: %w", name, err)
	}

	existing, err := ex.gw.FindSleepInstance(ctx, ex.workflowInstanceID, name)
	switch {
	case err == nil:
		if existing.Done() {
			return nil
		}
	case errors.Is(err, repo.ErrNotFound):
		existing, err = ex.startSleep(ctx, name, ms)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("find sleep instance %q: %w", name, err)
	}

	elapsed := time.Since(existing.StartedAt)
	remaining := time.Duration(existing.DurationMs)*time.Millisecond - elapsed
	if remaining > 0 {
		select {
		case <-time.After(remaining):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return ex.completeSleep(ctx, existing)
}

// startSleep creates the SleepInstance and moves the workflow to SLEEPING
// in a single transaction, so an observer never sees one without the
// other.
func (ex *StepExecutor) startSleep(ctx context.Context, name string, ms int64) (*models.SleepInstance, error) {
	ctx, span := ex.tracer.Start(ctx, "workflow.sleep.start",
		oteltrace.WithAttributes(
			attribute.String("workflow.sleep.name", name),
			attribute.Int64("workflow.sleep.duration_ms", ms),
		),
	)
	defer span.End()

	sl := &models.SleepInstance{
		ID:                 uuid.New(),
		WorkflowInstanceID: ex.workflowInstanceID,
		Name:               name,
		DurationMs:         ms,
		StartedAt:          time.Now(),
	}

	err := ex.gw.WithTransaction(ctx, func(tx repo.Gateway) error {
		if err := tx.CreateSleepInstance(ctx, sl); err != nil {
			return fmt.Errorf("create sleep instance: %w", err)
		}

		wi, err := tx.GetWorkflowInstance(ctx, ex.workflowInstanceID)
		if err != nil {
			return fmt.Errorf("load workflow instance: %w", err)
		}
		wi.Status = models.WorkflowSleeping
		wi.UpdatedAt = time.Now()
		if err := tx.UpdateWorkflowInstance(ctx, wi); err != nil {
			return fmt.Errorf("transition workflow to sleeping: %w", err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	ex.logger.Debug("sleep started", zap.String("name", name), zap.Int64("duration_ms", ms))
	if ex.metrics != nil {
		ex.metrics.ObserveSleepDuration(ex.workflowName, float64(ms)/1000)
	}
	if ex.publisher != nil {
		ex.publisher.Publish(ctx, queue.EventStepSleeping, ex.workflowInstanceID, name)
	}
	return sl, nil
}

// completeSleep marks the timer fired and moves the workflow back to
// RUNNING, again as one transaction.
func (ex *StepExecutor) completeSleep(ctx context.Context, sl *models.SleepInstance) error {
	ctx, span := ex.tracer.Start(ctx, "workflow.sleep.complete",
		oteltrace.WithAttributes(attribute.String("workflow.sleep.name", sl.Name)),
	)
	defer span.End()

	now := time.Now()

	err := ex.gw.WithTransaction(ctx, func(tx repo.Gateway) error {
		sl.CompletedAt = &now
		if err := tx.UpdateSleepInstance(ctx, sl); err != nil {
			return fmt.Errorf("complete sleep instance: %w", err)
		}

		wi, err := tx.GetWorkflowInstance(ctx, ex.workflowInstanceID)
		if err != nil {
			return fmt.Errorf("load workflow instance: %w", err)
		}
		wi.Status = models.WorkflowRunning
		wi.UpdatedAt = now
		if err := tx.UpdateWorkflowInstance(ctx, wi); err != nil {
			return fmt.Errorf("transition workflow back to running: %w", err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	if ex.publisher != nil {
		ex.publisher.Publish(ctx, queue.EventStepWoke, ex.workflowInstanceID, sl.Name)
	}
	return nil
}
