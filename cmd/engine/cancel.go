package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/durableflow/engine/internal/workflow"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <workflow-instance-id>",
	Short: "cancel a workflow instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid workflow instance id: %w", err)
		}

		d, err := bootstrap()
		if err != nil {
			return err
		}
		defer d.close()

		if err := workflow.Cancel(cmd.Context(), d.gw, d.publisher, id); err != nil {
			return fmt.Errorf("cancel workflow instance: %w", err)
		}

		fmt.Printf("workflow instance %s canceled\n", id)
		return nil
	},
}
