package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/c360studio/changeops/internal/dispatch"
)

func newDispatchCmd(flags *rootFlags, getApp func() *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "enqueue and drive workflow-execution intents",
	}

	var triggerID, definitionID, idempotencyKey, inputFile string
	enqueueCmd := &cobra.Command{
		Use:   "enqueue",
		Short: "enqueue a workflow-execution intent",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp()
			tc := tenantContext(flags)

			var input map[string]any
			if inputFile != "" {
				resolved, err := resolveModulePath(flags, inputFile)
				if err != nil {
					return err
				}
				data, err := os.ReadFile(resolved)
				if err != nil {
					return fmt.Errorf("read input file: %w", err)
				}
				if err := json.Unmarshal(data, &input); err != nil {
					return fmt.Errorf("parse input file: %w", err)
				}
			}
			key := idempotencyKey
			if key == "" {
				key = uuid.NewString()
			}
			intent := &dispatch.WorkflowExecutionIntent{
				ID:             uuid.NewString(),
				TenantID:       tc.Tenant.ID,
				TriggerID:      triggerID,
				DefinitionID:   definitionID,
				IdempotencyKey: key,
				Status:         dispatch.IntentPending,
				Input:          input,
			}
			result, err := app.Dispatch.Enqueue(cmd.Context(), intent)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	enqueueCmd.Flags().StringVar(&triggerID, "trigger", "", "trigger ID this intent originates from")
	enqueueCmd.Flags().StringVar(&definitionID, "definition", "", "workflow definition ID to execute")
	enqueueCmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "idempotency key (random UUID if omitted)")
	enqueueCmd.Flags().StringVar(&inputFile, "input-file", "", "optional path to a JSON input payload")
	enqueueCmd.MarkFlagRequired("trigger")
	enqueueCmd.MarkFlagRequired("definition")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "dispatch all pending intents for the current tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp()
			tc := tenantContext(flags)
			return app.Dispatch.DispatchPending(cmd.Context(), []string{tc.Tenant.ID})
		},
	}

	var recoverHorizon time.Duration
	recoverCmd := &cobra.Command{
		Use:   "recover",
		Short: "requeue pending intents stuck past the recovery horizon",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp()
			tc := tenantContext(flags)
			recovered, err := app.Dispatch.RecoverStalePending(cmd.Context(), tc.Tenant.ID, recoverHorizon)
			if err != nil {
				return err
			}
			return printJSON(recovered)
		},
	}
	recoverCmd.Flags().DurationVar(&recoverHorizon, "horizon", 5*time.Minute, "age past which a pending intent is considered stuck")

	cmd.AddCommand(enqueueCmd, runCmd, recoverCmd)
	return cmd
}
