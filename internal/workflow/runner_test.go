package workflow

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/durableflow/engine/internal/models"
	"github.com/durableflow/engine/internal/repo"
)

type echoWorkflow struct {
	Env struct {
		Greeting string `mapstructure:"greeting"`
	}
	fail bool
}

func (w *echoWorkflow) Name() string { return "echo-workflow" }

func (w *echoWorkflow) Run(ctx context.Context, event string, step *StepExecutor) (string, error) {
	if w.fail {
		return "", errors.New("intentional failure")
	}
	return Do(ctx, step, "echo", nil, func(ctx context.Context) (string, error) {
		return w.Env.Greeting + event, nil
	})
}

func TestRunner_CompletesAndPersistsOutput(t *testing.T) {
	gw := repo.NewMemoryGateway()
	r := NewRunner[string, string](gw, nil, nil, zap.NewNop(), Config{})

	def := &echoWorkflow{}
	id, err := r.Run(context.Background(), def, "world", map[string]interface{}{"greeting": "hello "})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	wi, err := gw.GetWorkflowInstance(context.Background(), id)
	if err != nil {
		t.Fatalf("get workflow instance: %v", err)
	}
	if wi.Status != models.WorkflowCompleted {
		t.Fatalf("expected COMPLETED, got %s", wi.Status)
	}
	if string(wi.Output) != `"hello world"` {
		t.Fatalf("unexpected output: %s", wi.Output)
	}
}

func TestRunner_PersistsFailure(t *testing.T) {
	gw := repo.NewMemoryGateway()
	r := NewRunner[string, string](gw, nil, nil, zap.NewNop(), Config{})

	def := &echoWorkflow{fail: true}
	id, err := r.Run(context.Background(), def, "world", nil)
	if err == nil {
		t.Fatal("expected an error")
	}

	wi, getErr := gw.GetWorkflowInstance(context.Background(), id)
	if getErr != nil {
		t.Fatalf("get workflow instance: %v", getErr)
	}
	if wi.Status != models.WorkflowFailed {
		t.Fatalf("expected FAILED, got %s", wi.Status)
	}
	if wi.FailedReason == nil || *wi.FailedReason == "" {
		t.Fatal("expected a failure reason to be recorded")
	}
}

func TestRunner_CancelOverridesTerminalStatus(t *testing.T) {
	gw := repo.NewMemoryGateway()
	r := NewRunner[string, string](gw, nil, nil, zap.NewNop(), Config{})

	def := &echoWorkflow{}
	id, err := r.Run(context.Background(), def, "world", map[string]interface{}{"greeting": "hi "})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if err := r.Cancel(context.Background(), id); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	wi, err := gw.GetWorkflowInstance(context.Background(), id)
	if err != nil {
		t.Fatalf("get workflow instance: %v", err)
	}
	if wi.Status != models.WorkflowCanceled {
		t.Fatalf("expected CANCELED even though the workflow had already completed, got %s", wi.Status)
	}
}
