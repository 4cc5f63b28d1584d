package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/durableflow/engine/internal/models"
)

func TestMemoryGateway_CreateStepIsUniquePerWorkflowAndName(t *testing.T) {
	gw := NewMemoryGateway()
	ctx := context.Background()
	workflowID := uuid.New()

	s1 := &models.Step{ID: uuid.New(), WorkflowInstanceID: workflowID, Name: "charge", CreatedAt: time.Now()}
	if err := gw.CreateStep(ctx, s1); err != nil {
		t.Fatalf("create first step: %v", err)
	}

	s2 := &models.Step{ID: uuid.New(), WorkflowInstanceID: workflowID, Name: "charge", CreatedAt: time.Now()}
	if err := gw.CreateStep(ctx, s2); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestMemoryGateway_FindStepByNameNotFound(t *testing.T) {
	gw := NewMemoryGateway()
	_, err := gw.FindStepByName(context.Background(), uuid.New(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryGateway_CreateAndGetWorkflowInstanceDoNotAliasCallerMemory(t *testing.T) {
	gw := NewMemoryGateway()
	ctx := context.Background()

	wi := &models.WorkflowInstance{ID: uuid.New(), Name: "wf", Status: models.WorkflowPending, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := gw.CreateWorkflowInstance(ctx, wi); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Mutating the caller's struct after create must not affect the stored
	// copy, and reads must not leak a pointer an outside caller can mutate.
	wi.Status = models.WorkflowRunning

	stored, err := gw.GetWorkflowInstance(ctx, wi.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != models.WorkflowPending {
		t.Fatalf("expected stored status to remain PENDING, got %s", stored.Status)
	}

	stored.Status = models.WorkflowCompleted
	reread, err := gw.GetWorkflowInstance(ctx, wi.ID)
	if err != nil {
		t.Fatalf("re-get: %v", err)
	}
	if reread.Status != models.WorkflowPending {
		t.Fatalf("expected re-read to be unaffected by mutating the previous read, got %s", reread.Status)
	}
}

func TestMemoryGateway_WithTransactionRunsAgainstSameStore(t *testing.T) {
	gw := NewMemoryGateway()
	ctx := context.Background()

	wi := &models.WorkflowInstance{ID: uuid.New(), Name: "wf", Status: models.WorkflowPending, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := gw.CreateWorkflowInstance(ctx, wi); err != nil {
		t.Fatalf("create: %v", err)
	}

	err := gw.WithTransaction(ctx, func(tx Gateway) error {
		loaded, err := tx.GetWorkflowInstance(ctx, wi.ID)
		if err != nil {
			return err
		}
		loaded.Status = models.WorkflowRunning
		return tx.UpdateWorkflowInstance(ctx, loaded)
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	stored, err := gw.GetWorkflowInstance(ctx, wi.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != models.WorkflowRunning {
		t.Fatalf("expected RUNNING, got %s", stored.Status)
	}
}

func TestMemoryGateway_FindNonTerminalStepInstancePicksLatest(t *testing.T) {
	gw := NewMemoryGateway()
	ctx := context.Background()
	stepID := uuid.New()

	older := &models.StepInstance{ID: uuid.New(), StepID: stepID, Status: models.StepInstanceRetrying, StartedAt: time.Now().Add(-time.Minute)}
	newer := &models.StepInstance{ID: uuid.New(), StepID: stepID, Status: models.StepInstanceRunning, StartedAt: time.Now()}

	if err := gw.CreateStepInstance(ctx, older); err != nil {
		t.Fatalf("create older: %v", err)
	}
	if err := gw.CreateStepInstance(ctx, newer); err != nil {
		t.Fatalf("create newer: %v", err)
	}

	found, err := gw.FindNonTerminalStepInstance(ctx, stepID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found.ID != newer.ID {
		t.Fatalf("expected the latest non-terminal instance, got a different one")
	}
}
