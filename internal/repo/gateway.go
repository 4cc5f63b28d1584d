// Package repo defines the PersistenceGateway contract (spec §4.4/§6.2) and
// its two implementations: a Postgres-backed gateway for production use, and
// an in-memory gateway so the workflow package can be exercised without a
// live database.
package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/durableflow/engine/internal/models"
)

// ErrNotFound is returned by Find* methods when no matching row exists.
var ErrNotFound = errors.New("repo: not found")

// ErrAlreadyExists is returned when a unique constraint would be violated
// (duplicate (workflow_instance_id, name) on Step or SleepInstance).
var ErrAlreadyExists = errors.New("repo: already exists")

// Gateway is the minimal transactional CRUD surface the engine depends on.
// It intentionally knows nothing about retry policy, timeouts, or step
// execution — those live in internal/workflow.
type Gateway interface {
	CreateWorkflowInstance(ctx context.Context, wi *models.WorkflowInstance) error
	UpdateWorkflowInstance(ctx context.Context, wi *models.WorkflowInstance) error
	GetWorkflowInstance(ctx context.Context, id uuid.UUID) (*models.WorkflowInstance, error)

	// GetWorkflowInstanceWithSteps eagerly loads a WorkflowInstance together
	// with its Steps and all StepInstances and SleepInstances (§4.3.3).
	GetWorkflowInstanceWithSteps(ctx context.Context, id uuid.UUID) (*WorkflowSnapshot, error)

	FindStepByName(ctx context.Context, workflowInstanceID uuid.UUID, name string) (*models.Step, error)
	CreateStep(ctx context.Context, s *models.Step) error

	FindCompletedStepInstance(ctx context.Context, stepID uuid.UUID) (*models.StepInstance, error)
	FindNonTerminalStepInstance(ctx context.Context, stepID uuid.UUID) (*models.StepInstance, error)
	CreateStepInstance(ctx context.Context, si *models.StepInstance) error
	UpdateStepInstance(ctx context.Context, si *models.StepInstance) error

	FindSleepInstance(ctx context.Context, workflowInstanceID uuid.UUID, name string) (*models.SleepInstance, error)
	CreateSleepInstance(ctx context.Context, sl *models.SleepInstance) error
	UpdateSleepInstance(ctx context.Context, sl *models.SleepInstance) error

	// WithTransaction runs fn with a Gateway whose writes all commit
	// atomically, or none do if fn returns an error.
	WithTransaction(ctx context.Context, fn func(tx Gateway) error) error

	Close() error
}

// WorkflowSnapshot is the read-only aggregate returned by
// GetWorkflowInstanceWithSteps.
type WorkflowSnapshot struct {
	Workflow       *models.WorkflowInstance
	Steps          []*models.Step
	StepInstances  []*models.StepInstance
	SleepInstances []*models.SleepInstance
}
