package workflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/durableflow/engine/internal/models"
	"github.com/durableflow/engine/internal/repo"
)

func newTestExecutor(t *testing.T) (*StepExecutor, repo.Gateway) {
	t.Helper()
	gw := repo.NewMemoryGateway()
	wi := newRunningInstance(t, gw)
	ex := newStepExecutor(gw, wi, "test-workflow", zap.NewNop(), nil, nil, nil, StepDefaults{})
	return ex, gw
}

func newRunningInstance(t *testing.T, gw repo.Gateway) uuid.UUID {
	t.Helper()
	now := time.Now()
	wi := &models.WorkflowInstance{
		ID:        uuid.New(),
		Name:      "test-workflow",
		Status:    models.WorkflowRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := gw.CreateWorkflowInstance(context.Background(), wi); err != nil {
		t.Fatalf("create workflow instance: %v", err)
	}
	return wi.ID
}

func TestDo_MemoizedStepIsNotReinvoked(t *testing.T) {
	ex, gw := newTestExecutor(t)
	ctx := context.Background()

	var calls int32
	fn := func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 42, nil
	}

	v1, err := Do(ctx, ex, "compute", nil, fn)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if v1 != 42 {
		t.Fatalf("expected 42, got %d", v1)
	}

	// A fresh StepExecutor bound to the same workflow instance and gateway
	// simulates a resumed process: the step must replay from the
	// persisted StepInstance rather than calling fn again.
	resumed := newStepExecutor(gw, ex.WorkflowInstanceID(), "test-workflow", zap.NewNop(), nil, nil, nil, StepDefaults{})
	v2, err := Do(ctx, resumed, "compute", nil, fn)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if v2 != 42 {
		t.Fatalf("expected memoized 42, got %d", v2)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected fn to be called exactly once, got %d", got)
	}
}

func TestDo_ExhaustsRetriesThenFails(t *testing.T) {
	ex, _ := newTestExecutor(t)
	ctx := context.Background()

	var calls int32
	fn := func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, errors.New("boom")
	}

	opts := &StepOptions{Retries: &RetryPolicy{Limit: 3, Delay: "1 millisecond", Backoff: BackoffExponential}}

	start := time.Now()
	_, err := Do(ctx, ex, "flaky", opts, fn)
	elapsed := time.Since(start)

	var failed *StepFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected StepFailedError, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 4 {
		t.Fatalf("expected 4 attempts (1 + 3 retries), got %d", got)
	}
	// 1ms * (1+2+4) = 7ms of backoff sleep at minimum.
	if elapsed < 7*time.Millisecond {
		t.Fatalf("expected at least 7ms of backoff sleep, elapsed %v", elapsed)
	}
}

func TestDo_TimeoutThenRetrySucceeds(t *testing.T) {
	ex, _ := newTestExecutor(t)
	ctx := context.Background()

	var attempt int32
	fn := func(ctx context.Context) (string, error) {
		n := atomic.AddInt32(&attempt, 1)
		if n == 1 {
			time.Sleep(50 * time.Millisecond)
			return "too slow", nil
		}
		return "fast", nil
	}

	opts := &StepOptions{
		Timeout: "10 milliseconds",
		Retries: &RetryPolicy{Limit: 1, Delay: "1 millisecond", Backoff: BackoffFixed},
	}

	v, err := Do(ctx, ex, "slow-then-fast", opts, fn)
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if v != "fast" {
		t.Fatalf("expected %q, got %q", "fast", v)
	}
}

func TestDo_RejectsEmptyName(t *testing.T) {
	ex, _ := newTestExecutor(t)
	_, err := Do(context.Background(), ex, "", nil, func(ctx context.Context) (int, error) { return 0, nil })
	if !errors.Is(err, ErrEmptyStepName) {
		t.Fatalf("expected ErrEmptyStepName, got %v", err)
	}
}

func TestDo_RejectsUnknownDurationUnit(t *testing.T) {
	ex, _ := newTestExecutor(t)
	opts := &StepOptions{Timeout: "5 fortnights"}
	_, err := Do(context.Background(), ex, "bad-timeout", opts, func(ctx context.Context) (int, error) { return 0, nil })
	if err == nil {
		t.Fatal("expected an error for an unknown duration unit")
	}
}

func TestDo_ZeroRetryLimitFailsOnFirstError(t *testing.T) {
	ex, _ := newTestExecutor(t)
	var calls int32
	_, err := Do(context.Background(), ex, "no-retries", nil, func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, errors.New("nope")
	})
	var failed *StepFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected StepFailedError, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly one attempt, got %d", got)
	}
}

func TestGetStateFromStep_ReturnsPriorResult(t *testing.T) {
	ex, _ := newTestExecutor(t)
	ctx := context.Background()

	_, err := Do(ctx, ex, "seed", nil, func(ctx context.Context) (string, error) { return "hello", nil })
	if err != nil {
		t.Fatalf("seed step: %v", err)
	}

	v, ok := GetStateFromStep[string](ex, "seed")
	if !ok {
		t.Fatal("expected prior step state to be found")
	}
	if v != "hello" {
		t.Fatalf("expected %q, got %q", "hello", v)
	}

	if _, ok := GetStateFromStep[string](ex, "never-ran"); ok {
		t.Fatal("expected no state for a step that never ran")
	}
}

func TestDo_FallsBackToConfiguredDefaultsWhenOptsIsNil(t *testing.T) {
	gw := repo.NewMemoryGateway()
	wi := newRunningInstance(t, gw)
	ex := newStepExecutor(gw, wi, "test-workflow", zap.NewNop(), nil, nil, nil, StepDefaults{
		RetryLimit: 2,
		RetryDelay: "1 millisecond",
		Backoff:    BackoffFixed,
	})

	var calls int32
	_, err := Do(context.Background(), ex, "uses-defaults", nil, func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, errors.New("boom")
	})

	var failed *StepFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected StepFailedError, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 attempts (1 + 2 configured retries), got %d", got)
	}
}

func TestDo_OwnOptionsOverrideConfiguredDefaults(t *testing.T) {
	gw := repo.NewMemoryGateway()
	wi := newRunningInstance(t, gw)
	ex := newStepExecutor(gw, wi, "test-workflow", zap.NewNop(), nil, nil, nil, StepDefaults{
		RetryLimit: 5,
		RetryDelay: "1 millisecond",
	})

	var calls int32
	opts := &StepOptions{Retries: &RetryPolicy{Limit: 1, Delay: "1 millisecond"}}
	_, err := Do(context.Background(), ex, "overrides-defaults", opts, func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, errors.New("boom")
	})

	var failed *StepFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected StepFailedError, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 attempts (1 + 1 step-level retry), got %d", got)
	}
}

func TestConcurrentWorkflowsDoNotShareStepState(t *testing.T) {
	gw := repo.NewMemoryGateway()

	run := func(id uuid.UUID, value int) (int, error) {
		ex := newStepExecutor(gw, id, "concurrent-workflow", zap.NewNop(), nil, nil, nil, StepDefaults{})
		return Do(context.Background(), ex, "echo", nil, func(ctx context.Context) (int, error) {
			return value, nil
		})
	}

	idA, idB := uuid.New(), uuid.New()
	var a, b int
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		a, _ = run(idA, 1)
	}()
	go func() {
		defer wg.Done()
		b, _ = run(idB, 2)
	}()

	wg.Wait()
	got := [2]int{a, b}
	if got[0] != 1 || got[1] != 2 {
		t.Fatalf("expected independent results [1 2], got %v", got)
	}
}
