package repo

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/durableflow/engine/internal/models"
)

// MemoryGateway is an in-process Gateway backed by maps guarded by a single
// mutex. It exists so internal/workflow can be exercised in tests without a
// live Postgres instance, per the testability requirement on the
// persistence boundary.
type MemoryGateway struct {
	mu sync.Mutex

	workflows      map[uuid.UUID]*models.WorkflowInstance
	steps          map[uuid.UUID]*models.Step
	stepInstances  map[uuid.UUID]*models.StepInstance
	sleepInstances map[uuid.UUID]*models.SleepInstance
}

// NewMemoryGateway returns an empty in-memory Gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		workflows:      make(map[uuid.UUID]*models.WorkflowInstance),
		steps:          make(map[uuid.UUID]*models.Step),
		stepInstances:  make(map[uuid.UUID]*models.StepInstance),
		sleepInstances: make(map[uuid.UUID]*models.SleepInstance),
	}
}

func (g *MemoryGateway) Close() error { return nil }

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneWorkflowInstance(wi *models.WorkflowInstance) *models.WorkflowInstance {
	c := *wi
	c.Input = append([]byte(nil), wi.Input...)
	c.Output = append([]byte(nil), wi.Output...)
	c.FailedReason = clonePtr(wi.FailedReason)
	c.CompletedAt = clonePtr(wi.CompletedAt)
	return &c
}

func cloneStepInstance(si *models.StepInstance) *models.StepInstance {
	c := *si
	c.Output = append([]byte(nil), si.Output...)
	c.FailedReason = clonePtr(si.FailedReason)
	c.CompletedAt = clonePtr(si.CompletedAt)
	return &c
}

func cloneSleepInstance(sl *models.SleepInstance) *models.SleepInstance {
	c := *sl
	c.CompletedAt = clonePtr(sl.CompletedAt)
	return &c
}

func (g *MemoryGateway) CreateWorkflowInstance(ctx context.Context, wi *models.WorkflowInstance) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.workflows[wi.ID] = cloneWorkflowInstance(wi)
	return nil
}

func (g *MemoryGateway) UpdateWorkflowInstance(ctx context.Context, wi *models.WorkflowInstance) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.workflows[wi.ID]; !ok {
		return ErrNotFound
	}
	g.workflows[wi.ID] = cloneWorkflowInstance(wi)
	return nil
}

func (g *MemoryGateway) GetWorkflowInstance(ctx context.Context, id uuid.UUID) (*models.WorkflowInstance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	wi, ok := g.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneWorkflowInstance(wi), nil
}

func (g *MemoryGateway) GetWorkflowInstanceWithSteps(ctx context.Context, id uuid.UUID) (*WorkflowSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	wi, ok := g.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}

	snap := &WorkflowSnapshot{Workflow: cloneWorkflowInstance(wi)}

	stepsByID := make(map[uuid.UUID]struct{})
	for _, s := range g.steps {
		if s.WorkflowInstanceID != id {
			continue
		}
		sc := *s
		snap.Steps = append(snap.Steps, &sc)
		stepsByID[s.ID] = struct{}{}
	}

	for _, si := range g.stepInstances {
		if _, ok := stepsByID[si.StepID]; !ok {
			continue
		}
		snap.StepInstances = append(snap.StepInstances, cloneStepInstance(si))
	}

	for _, sl := range g.sleepInstances {
		if sl.WorkflowInstanceID != id {
			continue
		}
		snap.SleepInstances = append(snap.SleepInstances, cloneSleepInstance(sl))
	}

	return snap, nil
}

func (g *MemoryGateway) FindStepByName(ctx context.Context, workflowInstanceID uuid.UUID, name string) (*models.Step, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, s := range g.steps {
		if s.WorkflowInstanceID == workflowInstanceID && s.Name == name {
			sc := *s
			return &sc, nil
		}
	}
	return nil, ErrNotFound
}

func (g *MemoryGateway) CreateStep(ctx context.Context, s *models.Step) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, existing := range g.steps {
		if existing.WorkflowInstanceID == s.WorkflowInstanceID && existing.Name == s.Name {
			return ErrAlreadyExists
		}
	}
	sc := *s
	g.steps[s.ID] = &sc
	return nil
}

func (g *MemoryGateway) FindCompletedStepInstance(ctx context.Context, stepID uuid.UUID) (*models.StepInstance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, si := range g.stepInstances {
		if si.StepID == stepID && si.Status == models.StepInstanceCompleted {
			return cloneStepInstance(si), nil
		}
	}
	return nil, ErrNotFound
}

func (g *MemoryGateway) FindNonTerminalStepInstance(ctx context.Context, stepID uuid.UUID) (*models.StepInstance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var latest *models.StepInstance
	for _, si := range g.stepInstances {
		if si.StepID != stepID || si.Status.Terminal() {
			continue
		}
		if latest == nil || si.StartedAt.After(latest.StartedAt) {
			latest = si
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return cloneStepInstance(latest), nil
}

func (g *MemoryGateway) CreateStepInstance(ctx context.Context, si *models.StepInstance) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.stepInstances[si.ID] = cloneStepInstance(si)
	return nil
}

func (g *MemoryGateway) UpdateStepInstance(ctx context.Context, si *models.StepInstance) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.stepInstances[si.ID]; !ok {
		return ErrNotFound
	}
	g.stepInstances[si.ID] = cloneStepInstance(si)
	return nil
}

func (g *MemoryGateway) FindSleepInstance(ctx context.Context, workflowInstanceID uuid.UUID, name string) (*models.SleepInstance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, sl := range g.sleepInstances {
		if sl.WorkflowInstanceID == workflowInstanceID && sl.Name == name {
			return cloneSleepInstance(sl), nil
		}
	}
	return nil, ErrNotFound
}

func (g *MemoryGateway) CreateSleepInstance(ctx context.Context, sl *models.SleepInstance) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, existing := range g.sleepInstances {
		if existing.WorkflowInstanceID == sl.WorkflowInstanceID && existing.Name == sl.Name {
			return ErrAlreadyExists
		}
	}
	g.sleepInstances[sl.ID] = cloneSleepInstance(sl)
	return nil
}

func (g *MemoryGateway) UpdateSleepInstance(ctx context.Context, sl *models.SleepInstance) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.sleepInstances[sl.ID]; !ok {
		return ErrNotFound
	}
	g.sleepInstances[sl.ID] = cloneSleepInstance(sl)
	return nil
}

// WithTransaction has no real isolation in the in-memory gateway: fn runs
// directly against g under g's own per-call locking. There is no rollback
// either: writes fn made before returning an error stay applied. This is
// sufficient for unit tests exercising workflow logic, which never rely on isolation
// between concurrent transactions the way the Postgres gateway's callers
// might.
func (g *MemoryGateway) WithTransaction(ctx context.Context, fn func(tx Gateway) error) error {
	return fn(g)
}

var _ Gateway = (*MemoryGateway)(nil)
var _ Gateway = (*PostgresGateway)(nil)
