package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/c360studio/changeops/internal/wfengine"
)

func newWorkflowCmd(flags *rootFlags, getApp func() *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "define, execute, and resume governed workflow executions",
	}

	var defFile string
	putDefCmd := &cobra.Command{
		Use:   "put-definition",
		Short: "create or update a workflow definition from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp()
			resolved, err := resolveModulePath(flags, defFile)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(resolved)
			if err != nil {
				return fmt.Errorf("read definition file: %w", err)
			}
			var def wfengine.WorkflowDefinition
			if err := json.Unmarshal(data, &def); err != nil {
				return fmt.Errorf("parse definition file: %w", err)
			}
			if err := app.Workflow.PutDefinition(cmd.Context(), tenantContext(flags), &def); err != nil {
				return err
			}
			return printJSON(def)
		},
	}
	putDefCmd.Flags().StringVar(&defFile, "file", "", "path to a JSON workflow definition")
	putDefCmd.MarkFlagRequired("file")

	var activateDefinitionID string
	activateCmd := &cobra.Command{
		Use:   "activate",
		Short: "activate a draft workflow definition",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp()
			def, err := app.Workflow.Activate(cmd.Context(), tenantContext(flags), activateDefinitionID)
			if err != nil {
				return err
			}
			return printJSON(def)
		},
	}
	activateCmd.Flags().StringVar(&activateDefinitionID, "definition", "", "workflow definition ID")
	activateCmd.MarkFlagRequired("definition")

	var retireDefinitionID string
	retireCmd := &cobra.Command{
		Use:   "retire",
		Short: "retire an active workflow definition",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp()
			def, err := app.Workflow.Retire(cmd.Context(), tenantContext(flags), retireDefinitionID)
			if err != nil {
				return err
			}
			return printJSON(def)
		},
	}
	retireCmd.Flags().StringVar(&retireDefinitionID, "definition", "", "workflow definition ID")
	retireCmd.MarkFlagRequired("definition")

	var definitionID, intentID, inputFile string
	executeCmd := &cobra.Command{
		Use:   "execute",
		Short: "execute a workflow definition under a governed change intent",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp()
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
			exec, err := app.Workflow.Execute(cmd.Context(), tenantContext(flags), definitionID, intentID, input)
			if err != nil {
				return err
			}
			return printJSON(exec)
		},
	}
	executeCmd.Flags().StringVar(&definitionID, "definition", "", "workflow definition ID")
	executeCmd.Flags().StringVar(&intentID, "intent", "", "governed change intent ID this execution belongs to")
	executeCmd.Flags().StringVar(&inputFile, "input-file", "", "optional path to a JSON input payload")
	executeCmd.MarkFlagRequired("definition")
	executeCmd.MarkFlagRequired("intent")

	var executionID, stepExecutionIDStr, outcome string
	resumeCmd := &cobra.Command{
		Use:   "resume",
		Short: "resume a paused execution at an approval or decision step",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp()
			stepExecutionID, err := strconv.Atoi(stepExecutionIDStr)
			if err != nil {
				return fmt.Errorf("invalid --step: %w", err)
			}
			exec, err := app.Workflow.Resume(cmd.Context(), tenantContext(flags), executionID, stepExecutionID, wfengine.ResumeOutcome(outcome))
			if err != nil {
				return err
			}
			return printJSON(exec)
		},
	}
	resumeCmd.Flags().StringVar(&executionID, "execution", "", "execution ID to resume")
	resumeCmd.Flags().StringVar(&stepExecutionIDStr, "step", "", "step execution index to resume")
	resumeCmd.Flags().StringVar(&outcome, "outcome", "", "resume outcome: approved or rejected")
	resumeCmd.MarkFlagRequired("execution")
	resumeCmd.MarkFlagRequired("step")
	resumeCmd.MarkFlagRequired("outcome")

	cmd.AddCommand(putDefCmd, activateCmd, retireCmd, executeCmd, resumeCmd)
	return cmd
}
