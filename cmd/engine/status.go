package main

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

var statusField string

var statusCmd = &cobra.Command{
	Use:   "status <workflow-instance-id>",
	Short: "print a workflow instance's current state, steps, and sleeps as JSON",
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

		snapshot, err := d.gw.GetWorkflowInstanceWithSteps(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("get workflow instance: %w", err)
		}

		out, err := json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			return fmt.Errorf("encode workflow snapshot: %w", err)
		}

		if statusField != "" {
			result := gjson.GetBytes(out, statusField)
			if !result.Exists() {
				return fmt.Errorf("field %q not found in workflow snapshot", statusField)
			}
			fmt.Println(result.String())
			return nil
		}

		fmt.Println(string(out))
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusField, "field", "", `project a single field from the snapshot instead of printing it whole, e.g. --field "Workflow.status"`)
}
