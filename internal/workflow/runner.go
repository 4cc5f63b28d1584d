package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/durableflow/engine/internal/models"
	"github.com/durableflow/engine/internal/observability"
	"github.com/durableflow/engine/internal/queue"
	"github.com/durableflow/engine/internal/repo"
	"github.com/durableflow/engine/internal/resilience"
)

// Definition is satisfied by a user workflow body: a name and a run
// function taking the triggering event and a StepExecutor.
type Definition[TIn any, TOut any] interface {
	Name() string
	Run(ctx context.Context, event TIn, step *StepExecutor) (TOut, error)
}

// Runner drives the lifecycle of workflow instances of a single
// Definition type: create the persisted row, run the definition body to
// completion, record the terminal state. Multiple workflows may run
// concurrently on the same Runner — each Run call owns its own
// StepExecutor and in-memory caches, contending only on the database.
type Runner[TIn any, TOut any] struct {
	gw        repo.Gateway
	publisher *queue.LifecyclePublisher
	metrics   *observability.Metrics
	logger    *zap.Logger
	breakers  *resilience.CircuitBreakerManager
	sem       *semaphore.Weighted
	defaults  StepDefaults
}

// Config bounds the number of concurrent Run calls on one Runner and
// supplies the default retry/timeout policy every StepExecutor built by
// this Runner falls back to.
type Config struct {
	MaxConcurrentWorkflows int64
	Defaults               StepDefaults
}

// NewRunner builds a Runner sharing gw, publisher, metrics, and logger
// across every Run call.
func NewRunner[TIn any, TOut any](gw repo.Gateway, publisher *queue.LifecyclePublisher, metrics *observability.Metrics, logger *zap.Logger, cfg Config) *Runner[TIn, TOut] {
	maxConcurrent := cfg.MaxConcurrentWorkflows
	if maxConcurrent <= 0 {
		maxConcurrent = 100
	}
	return &Runner[TIn, TOut]{
		gw:        gw,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger.With(zap.String("component", "workflow_runner")),
		breakers:  resilience.NewCircuitBreakerManager(logger),
		sem:       semaphore.NewWeighted(maxConcurrent),
		defaults:  cfg.Defaults,
	}
}

// Run persists a PENDING workflow instance for def, injects env into def,
// transitions to RUNNING, invokes def.Run, and records the terminal state.
// It returns the workflow instance id whether or not def.Run succeeded, so
// callers can always inspect the persisted row; the error return mirrors
// the body's own failure.
func (r *Runner[TIn, TOut]) Run(ctx context.Context, def Definition[TIn, TOut], input TIn, env map[string]interface{}) (uuid.UUID, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return uuid.Nil, fmt.Errorf("acquire workflow run slot: %w", err)
	}
	defer r.sem.Release(1)

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal workflow input: %w", err)
	}

	now := time.Now()
	wi := &models.WorkflowInstance{
		ID:        uuid.New(),
		Name:      def.Name(),
		Status:    models.WorkflowPending,
		Input:     inputJSON,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.gw.CreateWorkflowInstance(ctx, wi); err != nil {
		r.logger.Error("failed to create workflow instance", zap.Error(err), zap.String("workflow", wi.Name))
		return uuid.Nil, fmt.Errorf("create workflow instance: %w", err)
	}

	if err := injectEnv(def, env); err != nil {
		r.logger.Warn("env injection failed, continuing with zero-value env", zap.Error(err))
	}

	ex := newStepExecutor(r.gw, wi.ID, wi.Name, r.logger, r.metrics, r.breakers, r.publisher, r.defaults)

	wi.Status = models.WorkflowRunning
	wi.UpdatedAt = time.Now()
	if err := r.gw.UpdateWorkflowInstance(ctx, wi); err != nil {
		return wi.ID, fmt.Errorf("transition workflow to running: %w", err)
	}
	r.recordTransition(ctx, wi, queue.EventWorkflowStarted, "")

	output, runErr := def.Run(ctx, input, ex)

	completedAt := time.Now()
	if runErr != nil {
		msg := runErr.Error()
		wi.Status = models.WorkflowFailed
		wi.FailedReason = &msg
		wi.UpdatedAt = completedAt
		wi.CompletedAt = &completedAt
		if err := r.gw.UpdateWorkflowInstance(ctx, wi); err != nil {
			r.logger.Error("failed to persist workflow failure", zap.Error(err), zap.String("workflow_instance_id", wi.ID.String()))
		}
		r.recordTransition(ctx, wi, queue.EventWorkflowFailed, msg)
		return wi.ID, runErr
	}

	outputJSON, err := json.Marshal(output)
	if err != nil {
		return wi.ID, fmt.Errorf("marshal workflow output: %w", err)
	}

	wi.Status = models.WorkflowCompleted
	wi.Output = outputJSON
	wi.UpdatedAt = completedAt
	wi.CompletedAt = &completedAt
	if err := r.gw.UpdateWorkflowInstance(ctx, wi); err != nil {
		return wi.ID, fmt.Errorf("persist workflow completion: %w", err)
	}
	r.recordTransition(ctx, wi, queue.EventWorkflowCompleted, "")

	return wi.ID, nil
}

// Cancel sets the workflow instance's status to CANCELED. It delegates to
// the package-level Cancel so callers that only hold a repo.Gateway (such
// as the CLI's cancel subcommand) can cancel a workflow without
// knowing its Definition's type parameters.
func (r *Runner[TIn, TOut]) Cancel(ctx context.Context, workflowInstanceID uuid.UUID) error {
	return Cancel(ctx, r.gw, r.publisher, workflowInstanceID)
}

// GetWorkflowState returns the workflow instance with its steps, step
// instances, and sleep instances eagerly loaded. Read-only.
func (r *Runner[TIn, TOut]) GetWorkflowState(ctx context.Context, workflowInstanceID uuid.UUID) (*repo.WorkflowSnapshot, error) {
	return r.gw.GetWorkflowInstanceWithSteps(ctx, workflowInstanceID)
}

func (r *Runner[TIn, TOut]) recordTransition(ctx context.Context, wi *models.WorkflowInstance, kind queue.EventKind, detail string) {
	if r.metrics != nil {
		r.metrics.RecordWorkflowTransition(wi.Name, string(wi.Status))
	}
	if r.publisher != nil {
		r.publisher.Publish(ctx, kind, wi.ID, detail)
	}
}

// injectEnv decodes env onto an exported "Env" field of def, if one
// exists, via mapstructure. def must be a pointer to a struct for
// injection to take effect; a value receiver definition or one with no Env
// field is left untouched.
func injectEnv(def interface{}, env map[string]interface{}) error {
	if len(env) == 0 {
		return nil
	}

	v := reflect.ValueOf(def)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return nil
	}

	field := v.Elem().FieldByName("Env")
	if !field.IsValid() || !field.CanSet() {
		return nil
	}

	target := reflect.New(field.Type())
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target.Interface(),
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("build env decoder: %w", err)
	}
	if err := decoder.Decode(env); err != nil {
		return fmt.Errorf("decode workflow env: %w", err)
	}

	field.Set(target.Elem())
	return nil
}
