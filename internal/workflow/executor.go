// Package workflow implements the durable step execution protocol: step
// memoization and resumption, retry with backoff, per-step timeout, and
// durable sleep, plus the workflow lifecycle driver that wraps a user
// workflow body in persisted bookkeeping.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/durableflow/engine/internal/durations"
	"github.com/durableflow/engine/internal/models"
	"github.com/durableflow/engine/internal/observability"
	"github.com/durableflow/engine/internal/queue"
	"github.com/durableflow/engine/internal/repo"
	"github.com/durableflow/engine/internal/resilience"
)

// tracerName identifies the workflow package's spans to the configured OTLP
// exporter, the same role a logger name plays for log lines.
const tracerName = "github.com/durableflow/engine/internal/workflow"

// StepExecutor is bound to a single workflow instance and offers do()/
// sleep()/getStateFromStep() to the workflow body running inside
// Runner.Run. It is not safe to share across workflow instances; a fresh
// StepExecutor is built for every run.
type StepExecutor struct {
	gw                 repo.Gateway
	workflowInstanceID uuid.UUID
	workflowName       string
	logger             *zap.Logger
	metrics            *observability.Metrics
	breakers           *resilience.CircuitBreakerManager
	publisher          *queue.LifecyclePublisher
	tracer             oteltrace.Tracer
	defaults           StepDefaults

	mu          sync.Mutex
	stepIDCache map[string]uuid.UUID
	stepState   map[string]json.RawMessage
}

func newStepExecutor(
	gw repo.Gateway,
	workflowInstanceID uuid.UUID,
	workflowName string,
	logger *zap.Logger,
	metrics *observability.Metrics,
	breakers *resilience.CircuitBreakerManager,
	publisher *queue.LifecyclePublisher,
	defaults StepDefaults,
) *StepExecutor {
	return &StepExecutor{
		gw:                 gw,
		workflowInstanceID: workflowInstanceID,
		workflowName:       workflowName,
		logger:             logger.With(zap.String("component", "step_executor"), zap.String("workflow_instance_id", workflowInstanceID.String())),
		metrics:            metrics,
		breakers:           breakers,
		publisher:          publisher,
		tracer:             observability.GetTracer(tracerName),
		defaults:           defaults,
		stepIDCache:        make(map[string]uuid.UUID),
		stepState:          make(map[string]json.RawMessage),
	}
}

// WorkflowInstanceID returns the workflow instance this executor is bound
// to, so a workflow body can poll GetWorkflowState for early-abort checks
// against a cooperative cancel.
func (ex *StepExecutor) WorkflowInstanceID() uuid.UUID {
	return ex.workflowInstanceID
}

func (ex *StepExecutor) getOrCreateStepID(ctx context.Context, name string) (uuid.UUID, error) {
	ex.mu.Lock()
	if id, ok := ex.stepIDCache[name]; ok {
		ex.mu.Unlock()
		return id, nil
	}
	ex.mu.Unlock()

	step, err := ex.gw.FindStepByName(ctx, ex.workflowInstanceID, name)
	if errors.Is(err, repo.ErrNotFound) {
		step = &models.Step{
			ID:                 uuid.New(),
			WorkflowInstanceID: ex.workflowInstanceID,
			Name:               name,
			CreatedAt:          time.Now(),
		}
		if createErr := ex.gw.CreateStep(ctx, step); createErr != nil {
			if errors.Is(createErr, repo.ErrAlreadyExists) {
				step, err = ex.gw.FindStepByName(ctx, ex.workflowInstanceID, name)
				if err != nil {
					return uuid.Nil, fmt.Errorf("find step after concurrent create: %w", err)
				}
			} else {
				return uuid.Nil, fmt.Errorf("create step %q: %w", name, createErr)
			}
		}
	} else if err != nil {
		return uuid.Nil, fmt.Errorf("find step %q: %w", name, err)
	}

	ex.mu.Lock()
	ex.stepIDCache[name] = step.ID
	ex.mu.Unlock()

	return step.ID, nil
}

// Do executes the named step, applying memoization, resumption, timeout,
// and retry semantics, and returns the step's typed result. Do is a
// package-level generic function — not a method — because Go methods
// cannot carry their own type parameters.
func Do[T any](ctx context.Context, ex *StepExecutor, name string, opts *StepOptions, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if name == "" {
		return zero, ErrEmptyStepName
	}
	if fn == nil {
		return zero, ErrMissingExecutor
	}
	if err := opts.Validate(); err != nil {
		return zero, fmt.Errorf("invalid step options for %q: %w", name, err)
	}

	stepID, err := ex.getOrCreateStepID(ctx, name)
	if err != nil {
		return zero, err
	}

	if completed, err := ex.gw.FindCompletedStepInstance(ctx, stepID); err == nil {
		var v T
		if len(completed.Output) > 0 {
			if err := json.Unmarshal(completed.Output, &v); err != nil {
				return zero, fmt.Errorf("decode memoized output of step %q: %w", name, err)
			}
		}
		ex.rememberState(name, completed.Output)
		ex.logger.Debug("step memoized, skipping execution", zap.String("step", name))
		if ex.metrics != nil {
			ex.metrics.RecordStepAttempt(opts.kind(), "memoized")
		}
		return v, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return zero, fmt.Errorf("check memoized step %q: %w", name, err)
	}

	si, k, err := ex.adoptOrCreateStepInstance(ctx, stepID)
	if err != nil {
		return zero, err
	}

	limit := ex.defaults.RetryLimit
	delayStr := ex.defaults.RetryDelay
	backoff := ex.defaults.Backoff
	if backoff == "" {
		backoff = BackoffFixed
	}
	if opts != nil && opts.Retries != nil {
		limit = opts.Retries.Limit
		delayStr = opts.Retries.Delay
		backoff = opts.Retries.Backoff
		if backoff == "" {
			backoff = BackoffFixed
		}
	}
	var delay time.Duration
	if delayStr != "" {
		ms, err := durations.Parse(delayStr)
		if err != nil {
			return zero, fmt.Errorf("invalid retry delay for step %q: %w", name, err)
		}
		delay = time.Duration(ms) * time.Millisecond
	}

	timeoutStr := ex.defaults.StepTimeout
	if opts != nil && opts.Timeout != "" {
		timeoutStr = opts.Timeout
	}
	var timeout time.Duration
	if timeoutStr != "" {
		ms, err := durations.Parse(timeoutStr)
		if err != nil {
			return zero, fmt.Errorf("invalid timeout for step %q: %w", name, err)
		}
		timeout = time.Duration(ms) * time.Millisecond
	}

	kind := opts.kind()

	for {
		if k > 0 {
			si.Status = models.StepInstanceRetrying
			si.Retries = k
			if err := ex.gw.UpdateStepInstance(ctx, si); err != nil {
				return zero, fmt.Errorf("persist retrying state for step %q: %w", name, err)
			}
			if ex.metrics != nil {
				ex.metrics.RecordStepRetry(kind, string(backoff))
			}

			waitDur := retryDelay(delay, backoff, k)
			select {
			case <-time.After(waitDur):
			case <-ctx.Done():
				return zero, ctx.Err()
			}

			si.Status = models.StepInstanceRunning
			if err := ex.gw.UpdateStepInstance(ctx, si); err != nil {
				return zero, fmt.Errorf("persist running state for step %q: %w", name, err)
			}
		}

		start := time.Now()
		val, attemptErr := runAttempt(ctx, ex, kind, name, timeout, timeoutStr, fn)
		if ex.metrics != nil {
			ex.metrics.ObserveStepDuration(kind, time.Since(start).Seconds())
		}

		if attemptErr == nil {
			output, marshalErr := json.Marshal(val)
			if marshalErr != nil {
				return zero, fmt.Errorf("encode output of step %q: %w", name, marshalErr)
			}
			now := time.Now()
			si.Status = models.StepInstanceCompleted
			si.Output = output
			si.CompletedAt = &now
			if err := ex.gw.UpdateStepInstance(ctx, si); err != nil {
				return zero, fmt.Errorf("persist completion of step %q: %w", name, err)
			}
			ex.rememberState(name, output)
			if ex.metrics != nil {
				ex.metrics.RecordStepAttempt(kind, "completed")
			}
			return val, nil
		}

		var timeoutErr *StepTimeoutError
		if errors.As(attemptErr, &timeoutErr) && ex.metrics != nil {
			ex.metrics.RecordStepTimeout(kind)
		}

		if k == limit {
			if err := ex.failStepAndWorkflow(ctx, si, name, attemptErr); err != nil {
				ex.logger.Error("failed to persist exhausted step failure", zap.Error(err), zap.String("step", name))
			}
			if ex.metrics != nil {
				ex.metrics.RecordStepAttempt(kind, "failed")
			}
			return zero, &StepFailedError{StepName: name, Err: attemptErr}
		}

		k++
	}
}

// adoptOrCreateStepInstance returns the non-terminal StepInstance for
// stepID if one exists (adopting its retry count), or creates a fresh
// RUNNING instance at retries=0.
func (ex *StepExecutor) adoptOrCreateStepInstance(ctx context.Context, stepID uuid.UUID) (*models.StepInstance, int, error) {
	existing, err := ex.gw.FindNonTerminalStepInstance(ctx, stepID)
	if err == nil {
		return existing, existing.Retries, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, 0, fmt.Errorf("find non-terminal step instance: %w", err)
	}

	si := &models.StepInstance{
		ID:        uuid.New(),
		StepID:    stepID,
		Status:    models.StepInstanceRunning,
		Retries:   0,
		StartedAt: time.Now(),
	}
	if err := ex.gw.CreateStepInstance(ctx, si); err != nil {
		return nil, 0, fmt.Errorf("create step instance: %w", err)
	}
	return si, 0, nil
}

type attemptResult[T any] struct {
	val T
	err error
}

// runAttempt invokes fn through the circuit breaker for kind, racing it
// against timeout if one is set, wrapped in a span covering the attempt. A
// breaker trip and a timeout both look like an ordinary attempt failure to
// the retry loop above; the underlying goroutine is never forcibly stopped
// on a timeout — it is left to complete and its result is discarded,
// matching the engine's documented no-safe-cancellation stance on arbitrary
// user code.
func runAttempt[T any](ctx context.Context, ex *StepExecutor, kind, name string, timeout time.Duration, timeoutStr string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	ctx, span := ex.tracer.Start(ctx, "workflow.do",
		oteltrace.WithAttributes(
			attribute.String("workflow.step.name", name),
			attribute.String("workflow.step.kind", kind),
		),
	)
	defer span.End()

	call := func(ctx context.Context) (interface{}, error) {
		resultCh := make(chan attemptResult[T], 1)
		go func() {
			v, err := fn(ctx)
			resultCh <- attemptResult[T]{val: v, err: err}
		}()

		if timeout <= 0 {
			r := <-resultCh
			return r.val, r.err
		}

		select {
		case r := <-resultCh:
			return r.val, r.err
		case <-time.After(timeout):
			return zero, &StepTimeoutError{StepName: name, Timeout: timeoutStr}
		}
	}

	var raw interface{}
	var cbErr error
	if ex.breakers == nil {
		raw, cbErr = call(ctx)
	} else {
		breaker := ex.breakers.GetOrCreate(kind, resilience.CircuitBreakerConfig{
			MaxRequests: 1,
			Timeout:     30 * time.Second,
		})
		raw, cbErr = breaker.ExecuteWithContext(ctx, call)
	}

	if cbErr != nil {
		span.RecordError(cbErr)
		return zero, cbErr
	}
	out, _ := raw.(T)
	return out, nil
}

// failStepAndWorkflow commits the exhausted-retry outcome: the StepInstance
// moves to FAILED and the owning WorkflowInstance moves to FAILED, as a
// single transaction so no external observer ever sees one without the
// other.
func (ex *StepExecutor) failStepAndWorkflow(ctx context.Context, si *models.StepInstance, name string, attemptErr error) error {
	now := time.Now()
	msg := attemptErr.Error()

	return ex.gw.WithTransaction(ctx, func(tx repo.Gateway) error {
		si.Status = models.StepInstanceFailed
		si.FailedReason = &msg
		si.CompletedAt = &now
		if err := tx.UpdateStepInstance(ctx, si); err != nil {
			return fmt.Errorf("update failed step instance: %w", err)
		}

		wi, err := tx.GetWorkflowInstance(ctx, ex.workflowInstanceID)
		if err != nil {
			return fmt.Errorf("load workflow instance: %w", err)
		}
		workflowMsg := fmt.Sprintf("Step %q failed: %s", name, msg)
		wi.Status = models.WorkflowFailed
		wi.FailedReason = &workflowMsg
		wi.UpdatedAt = now
		wi.CompletedAt = &now
		if err := tx.UpdateWorkflowInstance(ctx, wi); err != nil {
			return fmt.Errorf("update failed workflow instance: %w", err)
		}
		return nil
	})
}

func (ex *StepExecutor) rememberState(name string, output json.RawMessage) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.stepState[name] = output
}

// GetStateFromStep returns the in-memory result of a prior Do call within
// this run, if any. It is not a durable read: it only ever reflects steps
// that have already returned during the current process's invocation of
// this StepExecutor.
func GetStateFromStep[T any](ex *StepExecutor, name string) (T, bool) {
	var zero T

	ex.mu.Lock()
	raw, ok := ex.stepState[name]
	ex.mu.Unlock()
	if !ok {
		return zero, false
	}

	var v T
	if len(raw) == 0 {
		return zero, true
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, false
	}
	return v, true
}

// retryDelay applies the backoff multiplier for attempt k (k >= 1):
// fixed delay scales by 1, exponential scales by 2^(k-1).
func retryDelay(delay time.Duration, backoff BackoffKind, k int) time.Duration {
	if backoff != BackoffExponential {
		return delay
	}
	multiplier := time.Duration(1) << uint(k-1)
	return delay * multiplier
}
