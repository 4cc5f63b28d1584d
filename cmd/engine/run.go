package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/durableflow/engine/internal/examples"
	"github.com/durableflow/engine/internal/workflow"
)

var (
	runOrderID string
	runAmount  float64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "start the order-fulfillment example workflow and wait for it to finish",
	RunE: func(cmd *cobra.Command, args []string) error {
		if runOrderID == "" {
			return fmt.Errorf("--order-id is required")
		}

		d, err := bootstrap()
		if err != nil {
			return err
		}
		defer d.close()

		runner := workflow.NewRunner[examples.OrderEvent, examples.OrderResult](
			d.gw, d.publisher, d.metrics, d.logger,
			workflow.Config{
				MaxConcurrentWorkflows: int64(d.cfg.Workflow.MaxConcurrentWorkflows),
				Defaults: workflow.StepDefaults{
					RetryLimit:  d.cfg.Workflow.DefaultRetryLimit,
					RetryDelay:  d.cfg.Workflow.DefaultRetryDelay,
					Backoff:     workflow.BackoffKind(d.cfg.Workflow.DefaultBackoff),
					StepTimeout: d.cfg.Workflow.DefaultStepTimeout,
				},
			},
		)

		def := &examples.OrderWorkflow{}
		event := examples.OrderEvent{OrderID: runOrderID, Amount: runAmount}

		id, err := runner.Run(cmd.Context(), def, event, nil)
		if err != nil {
			fmt.Printf("workflow instance %s failed: %v\n", id, err)
			return err
		}

		fmt.Printf("workflow instance %s completed\n", id)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runOrderID, "order-id", "", "order id to fulfill")
	runCmd.Flags().Float64Var(&runAmount, "amount", 0, "order amount")
}
