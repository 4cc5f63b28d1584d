package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/durableflow/engine/internal/models"
	"github.com/durableflow/engine/internal/queue"
	"github.com/durableflow/engine/internal/repo"
)

// recordingQueue captures every routing key it is asked to publish, so a
// test can assert on which lifecycle events fired without standing up a
// real broker.
type recordingQueue struct {
	mu          sync.Mutex
	routingKeys []string
}

func (q *recordingQueue) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.routingKeys = append(q.routingKeys, routingKey)
	return nil
}

func (q *recordingQueue) Subscribe(ctx context.Context, name string, handler queue.MessageHandler) error {
	return nil
}

func (q *recordingQueue) Close() error { return nil }

func (q *recordingQueue) keys() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.routingKeys))
	copy(out, q.routingKeys)
	return out
}

func TestSleep_ResumesFromPersistedStartTime(t *testing.T) {
	gw := repo.NewMemoryGateway()
	workflowID := newRunningInstance(t, gw)

	ctx := context.Background()

	// Simulate a sleep that was already started 40ms ago by a prior
	// process, with 10ms still remaining out of a 50ms timer.
	sl := &models.SleepInstance{
		ID:                 uuid.New(),
		WorkflowInstanceID: workflowID,
		Name:               "cooldown",
		DurationMs:         50,
		StartedAt:          time.Now().Add(-40 * time.Millisecond),
	}
	if err := gw.CreateSleepInstance(ctx, sl); err != nil {
		t.Fatalf("seed sleep instance: %v", err)
	}

	ex := newStepExecutor(gw, workflowID, "test-workflow", zap.NewNop(), nil, nil, nil, StepDefaults{})

	start := time.Now()
	if err := ex.Sleep(ctx, "cooldown", "50 milliseconds"); err != nil {
		t.Fatalf("sleep: %v", err)
	}
	elapsed := time.Since(start)

	if elapsed >= 40*time.Millisecond {
		t.Fatalf("expected resumed sleep to wait well under the full duration, waited %v", elapsed)
	}

	resumed, err := gw.FindSleepInstance(ctx, workflowID, "cooldown")
	if err != nil {
		t.Fatalf("find sleep instance: %v", err)
	}
	if !resumed.Done() {
		t.Fatal("expected sleep instance to be marked done")
	}
}

func TestSleep_AlreadyDoneIsANoOp(t *testing.T) {
	gw := repo.NewMemoryGateway()
	workflowID := newRunningInstance(t, gw)
	ctx := context.Background()

	now := time.Now()
	sl := &models.SleepInstance{
		ID:                 uuid.New(),
		WorkflowInstanceID: workflowID,
		Name:               "already-fired",
		DurationMs:         1000,
		StartedAt:          now.Add(-2 * time.Second),
		CompletedAt:        &now,
	}
	if err := gw.CreateSleepInstance(ctx, sl); err != nil {
		t.Fatalf("seed sleep instance: %v", err)
	}

	ex := newStepExecutor(gw, workflowID, "test-workflow", zap.NewNop(), nil, nil, nil, StepDefaults{})

	start := time.Now()
	if err := ex.Sleep(ctx, "already-fired", "1000 milliseconds"); err != nil {
		t.Fatalf("sleep: %v", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Fatal("expected a completed sleep to return immediately")
	}
}

func TestSleep_PublishesStepSleepingAndStepWokeEvents(t *testing.T) {
	gw := repo.NewMemoryGateway()
	workflowID := newRunningInstance(t, gw)
	ctx := context.Background()

	q := &recordingQueue{}
	publisher := queue.NewLifecyclePublisher(q, "workflow.events", time.Second, zap.NewNop())
	ex := newStepExecutor(gw, workflowID, "test-workflow", zap.NewNop(), nil, nil, publisher, StepDefaults{})

	if err := ex.Sleep(ctx, "nap", "1 millisecond"); err != nil {
		t.Fatalf("sleep: %v", err)
	}

	keys := q.keys()
	if len(keys) != 2 || keys[0] != string(queue.EventStepSleeping) || keys[1] != string(queue.EventStepWoke) {
		t.Fatalf("expected [%s %s], got %v", queue.EventStepSleeping, queue.EventStepWoke, keys)
	}
}

func TestSleep_RejectsEmptyName(t *testing.T) {
	gw := repo.NewMemoryGateway()
	workflowID := newRunningInstance(t, gw)
	ex := newStepExecutor(gw, workflowID, "test-workflow", zap.NewNop(), nil, nil, nil, StepDefaults{})

	if err := ex.Sleep(context.Background(), "", "1 second"); err == nil {
		t.Fatal("expected an error for an empty sleep name")
	}
}
