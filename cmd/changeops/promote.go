package main

import (
	"github.com/spf13/cobra"
)

func newPromoteCmd(flags *rootFlags, getApp func() *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "promote",
		Short: "move an installed package from one environment to another",
	}

	var projectID, fromEnv, toEnv string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "create a promotion intent from one environment to another",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp()
			intent, err := app.Promotion.Create(cmd.Context(), tenantContext(flags), projectID, fromEnv, toEnv)
			if err != nil {
				return err
			}
			return printJSON(intent)
		},
	}
	createCmd.Flags().StringVar(&projectID, "project", "", "project ID")
	createCmd.Flags().StringVar(&fromEnv, "from", "", "source environment ID")
	createCmd.Flags().StringVar(&toEnv, "to", "", "target environment ID")
	createCmd.MarkFlagRequired("project")
	createCmd.MarkFlagRequired("from")
	createCmd.MarkFlagRequired("to")

	var previewIntentID string
	previewCmd := &cobra.Command{
		Use:   "preview",
		Short: "diff a promotion intent's source baseline against its target",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp()
			intent, err := app.Promotion.Preview(cmd.Context(), tenantContext(flags), previewIntentID)
			if err != nil {
				return err
			}
			return printJSON(intent)
		},
	}
	previewCmd.Flags().StringVar(&previewIntentID, "intent", "", "promotion intent ID")
	previewCmd.MarkFlagRequired("intent")

	var approveIntentID string
	approveCmd := &cobra.Command{
		Use:   "approve",
		Short: "approve a previewed promotion intent",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp()
			intent, err := app.Promotion.Approve(cmd.Context(), tenantContext(flags), approveIntentID)
			if err != nil {
				return err
			}
			return printJSON(intent)
		},
	}
	approveCmd.Flags().StringVar(&approveIntentID, "intent", "", "promotion intent ID")
	approveCmd.MarkFlagRequired("intent")

	var executeIntentID string
	executeCmd := &cobra.Command{
		Use:   "execute",
		Short: "execute an approved promotion intent, writing the target baseline",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp()
			intent, err := app.Promotion.Execute(cmd.Context(), tenantContext(flags), executeIntentID, app.Override)
			if err != nil {
				return err
			}
			return printJSON(intent)
		},
	}
	executeCmd.Flags().StringVar(&executeIntentID, "intent", "", "promotion intent ID")
	executeCmd.MarkFlagRequired("intent")

	var rejectIntentID, rejectReason string
	rejectCmd := &cobra.Command{
		Use:   "reject",
		Short: "reject a promotion intent",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp()
			intent, err := app.Promotion.Reject(cmd.Context(), tenantContext(flags), rejectIntentID, rejectReason)
			if err != nil {
				return err
			}
			return printJSON(intent)
		},
	}
	rejectCmd.Flags().StringVar(&rejectIntentID, "intent", "", "promotion intent ID")
	rejectCmd.Flags().StringVar(&rejectReason, "reason", "", "reason for rejection")
	rejectCmd.MarkFlagRequired("intent")
	rejectCmd.MarkFlagRequired("reason")

	cmd.AddCommand(createCmd, previewCmd, approveCmd, executeCmd, rejectCmd)
	return cmd
}
