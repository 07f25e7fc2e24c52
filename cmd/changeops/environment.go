package main

import (
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/c360studio/changeops/internal/promotion"
)

func newEnvironmentCmd(flags *rootFlags, getApp func() *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "environment",
		Short: "create and inspect promotion environments",
	}

	var projectID, name string
	var isDefault, requiresApproval bool
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "create a dev, test, or prod environment for a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp()
			tc := tenantContext(flags)
			now := time.Now().UTC()
			env := &promotion.Environment{
				ID:                        uuid.NewString(),
				TenantID:                  tc.Tenant.ID,
				ProjectID:                 projectID,
				Name:                      promotion.EnvironmentName(name),
				IsDefault:                 isDefault,
				RequiresPromotionApproval: requiresApproval,
				CreatedAt:                 now,
				UpdatedAt:                 now,
			}
			if err := app.Environment.PutEnvironment(cmd.Context(), tc.Tenant.ID, env); err != nil {
				return err
			}
			return printJSON(env)
		},
	}
	createCmd.Flags().StringVar(&projectID, "project", "", "project ID")
	createCmd.Flags().StringVar(&name, "name", "", "environment name: dev, test, or prod")
	createCmd.Flags().BoolVar(&isDefault, "default", false, "mark as the project's default environment")
	createCmd.Flags().BoolVar(&requiresApproval, "requires-approval", false, "require approval before promotion execution")
	createCmd.MarkFlagRequired("project")
	createCmd.MarkFlagRequired("name")

	var getEnvironmentID string
	getCmd := &cobra.Command{
		Use:   "get",
		Short: "show an environment and its installed baseline state",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp()
			tc := tenantContext(flags)
			env, err := app.Environment.GetEnvironment(cmd.Context(), tc.Tenant.ID, getEnvironmentID)
			if err != nil {
				return err
			}
			state, _, err := app.Environment.GetBaselineState(cmd.Context(), tc.Tenant.ID, getEnvironmentID)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"environment": env, "baseline": state})
		},
	}
	getCmd.Flags().StringVar(&getEnvironmentID, "environment", "", "environment ID")
	getCmd.MarkFlagRequired("environment")

	cmd.AddCommand(createCmd, getCmd)
	return cmd
}
