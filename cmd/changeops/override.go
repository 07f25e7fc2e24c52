package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/c360studio/changeops/internal/override"
)

func newOverrideCmd(flags *rootFlags, getApp func() *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "override",
		Short: "activate and inspect module field overrides",
	}

	var moduleID, recordTypeKey, opsFile, environmentID string
	activateCmd := &cobra.Command{
		Use:   "activate",
		Short: "activate a new override against an environment's installed baseline",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp()
			tc := tenantContext(flags)

			resolved, err := resolveModulePath(flags, opsFile)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(resolved)
			if err != nil {
				return fmt.Errorf("read ops file: %w", err)
			}
			var ops []override.Op
			if err := json.Unmarshal(data, &ops); err != nil {
				return fmt.Errorf("parse ops file: %w", err)
			}

			baseline, _, err := app.Environment.GetBaseline(cmd.Context(), tc.Tenant.ID, environmentID)
			if err != nil {
				return err
			}

			ov := &override.Override{
				ID:            uuid.NewString(),
				TenantID:      tc.Tenant.ID,
				ModuleID:      moduleID,
				RecordTypeKey: recordTypeKey,
				Ops:           ops,
				Status:        override.StatusActive,
			}
			if err := app.Override.Activate(cmd.Context(), tc, ov, baseline); err != nil {
				return err
			}
			return printJSON(ov)
		},
	}
	activateCmd.Flags().StringVar(&moduleID, "module", "", "module ID the override applies to")
	activateCmd.Flags().StringVar(&recordTypeKey, "record-type", "", "record type key the override applies to")
	activateCmd.Flags().StringVar(&opsFile, "ops-file", "", "path to a JSON file containing the override's op list")
	activateCmd.Flags().StringVar(&environmentID, "environment", "", "environment ID whose installed baseline to validate against")
	activateCmd.MarkFlagRequired("module")
	activateCmd.MarkFlagRequired("record-type")
	activateCmd.MarkFlagRequired("ops-file")
	activateCmd.MarkFlagRequired("environment")

	var effModuleID, effRecordTypeKey string
	effectiveCmd := &cobra.Command{
		Use:   "effective",
		Short: "show a record type's effective shape after override composition",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp()
			tc := tenantContext(flags)
			eff, err := app.Override.GetEffective(cmd.Context(), tc.Tenant.ID, effModuleID, effRecordTypeKey)
			if err != nil {
				return err
			}
			return printJSON(eff)
		},
	}
	effectiveCmd.Flags().StringVar(&effModuleID, "module", "", "module ID")
	effectiveCmd.Flags().StringVar(&effRecordTypeKey, "record-type", "", "record type key")
	effectiveCmd.MarkFlagRequired("module")
	effectiveCmd.MarkFlagRequired("record-type")

	cmd.AddCommand(activateCmd, effectiveCmd)
	return cmd
}
