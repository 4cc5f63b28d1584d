// Package examples holds a small workflow definition exercising do, do
// with retries and a timeout, and sleep — the user-authored body the
// engine itself treats as an external collaborator.
package examples

import (
	"context"
	"fmt"
	"time"

	"github.com/durableflow/engine/internal/workflow"
)

// OrderEvent is the input to OrderWorkflow.Run.
type OrderEvent struct {
	OrderID string  `json:"orderId"`
	Amount  float64 `json:"amount"`
}

// OrderResult is OrderWorkflow.Run's return value.
type OrderResult struct {
	OrderID     string `json:"orderId"`
	ChargeID    string `json:"chargeId"`
	Shipped     bool   `json:"shipped"`
	ConfirmedAt string `json:"confirmedAt"`
}

// OrderEnv carries per-environment bindings injected by the runner before
// Run is invoked (§6.3 environment injection). The engine never interprets
// these values.
type OrderEnv struct {
	PaymentAPIKey string `mapstructure:"paymentApiKey"`
}

// OrderWorkflow charges a payment, waits for a cooling-off period, then
// ships the order. It is deliberately small: it exists to exercise the
// engine's do/do-with-retries/sleep surface end to end, not to model a
// real payments integration.
type OrderWorkflow struct {
	Env OrderEnv

	// ChargeFunc and ShipFunc are overridable so tests can substitute a
	// flaky or slow implementation without touching the workflow body.
	ChargeFunc func(ctx context.Context, orderID string, amount float64) (string, error)
	ShipFunc   func(ctx context.Context, orderID string) error
}

func (w *OrderWorkflow) Name() string { return "order-fulfillment" }

func (w *OrderWorkflow) Run(ctx context.Context, event OrderEvent, step *workflow.StepExecutor) (OrderResult, error) {
	chargeID, err := workflow.Do(ctx, step, "charge-payment", &workflow.StepOptions{
		Retries: &workflow.RetryPolicy{Limit: 3, Delay: "1 second", Backoff: workflow.BackoffExponential},
		Timeout: "10 seconds",
	}, func(ctx context.Context) (string, error) {
		return w.charge(ctx, event.OrderID, event.Amount)
	})
	if err != nil {
		return OrderResult{}, fmt.Errorf("charge payment: %w", err)
	}

	if err := step.Sleep(ctx, "fraud-review-window", "1 hour"); err != nil {
		return OrderResult{}, fmt.Errorf("fraud review window: %w", err)
	}

	_, err = workflow.Do(ctx, step, "ship-order", nil, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.ship(ctx, event.OrderID)
	})
	if err != nil {
		return OrderResult{}, fmt.Errorf("ship order: %w", err)
	}

	return OrderResult{
		OrderID:     event.OrderID,
		ChargeID:    chargeID,
		Shipped:     true,
		ConfirmedAt: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (w *OrderWorkflow) charge(ctx context.Context, orderID string, amount float64) (string, error) {
	if w.ChargeFunc != nil {
		return w.ChargeFunc(ctx, orderID, amount)
	}
	return "chg_" + orderID, nil
}

func (w *OrderWorkflow) ship(ctx context.Context, orderID string) error {
	if w.ShipFunc != nil {
		return w.ShipFunc(ctx, orderID)
	}
	return nil
}
