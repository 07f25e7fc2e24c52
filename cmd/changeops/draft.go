package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newDraftCmd(flags *rootFlags, getApp func() *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "draft",
		Short: "generate, refine, preview, and install AI-drafted module packages",
	}

	var projectID, appName string
	generateCmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "generate a new draft from a natural-language prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp()
			d, repair, err := app.Draft.Generate(cmd.Context(), tenantContext(flags), projectID, args[0], appName)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"draft": d, "repair": repair})
		},
	}
	generateCmd.Flags().StringVar(&projectID, "project", "", "project ID the draft belongs to")
	generateCmd.Flags().StringVar(&appName, "app-name", "", "application name for the generated module")
	generateCmd.MarkFlagRequired("project")
	generateCmd.MarkFlagRequired("app-name")

	var refineDraftID string
	refineCmd := &cobra.Command{
		Use:   "refine <prompt>",
		Short: "refine an existing draft with a follow-up instruction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp()
			d, repair, err := app.Draft.Refine(cmd.Context(), tenantContext(flags), refineDraftID, args[0])
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"draft": d, "repair": repair})
		},
	}
	refineCmd.Flags().StringVar(&refineDraftID, "draft", "", "draft ID to refine")
	refineCmd.MarkFlagRequired("draft")

	var previewDraftID, previewEnvID string
	previewCmd := &cobra.Command{
		Use:   "preview",
		Short: "diff a draft against an environment's installed baseline",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp()
			d, err := app.Draft.Preview(cmd.Context(), tenantContext(flags), previewDraftID, previewEnvID)
			if err != nil {
				return err
			}
			return printJSON(d)
		},
	}
	previewCmd.Flags().StringVar(&previewDraftID, "draft", "", "draft ID to preview")
	previewCmd.Flags().StringVar(&previewEnvID, "environment", "", "environment ID to diff against")
	previewCmd.MarkFlagRequired("draft")
	previewCmd.MarkFlagRequired("environment")

	var installDraftID string
	installCmd := &cobra.Command{
		Use:   "install",
		Short: "install a previewed draft onto its environment baseline",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp()
			d, result, err := app.Draft.Install(cmd.Context(), tenantContext(flags), installDraftID, app.Override)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"draft": d, "result": result})
		},
	}
	installCmd.Flags().StringVar(&installDraftID, "draft", "", "draft ID to install")
	installCmd.MarkFlagRequired("draft")

	var discardDraftID string
	discardCmd := &cobra.Command{
		Use:   "discard",
		Short: "discard a draft that hasn't been installed",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp()
			d, err := app.Draft.Discard(cmd.Context(), tenantContext(flags), discardDraftID)
			if err != nil {
				return err
			}
			return printJSON(d)
		},
	}
	discardCmd.Flags().StringVar(&discardDraftID, "draft", "", "draft ID to discard")
	discardCmd.MarkFlagRequired("draft")

	var versionsDraftID string
	versionsCmd := &cobra.Command{
		Use:   "versions",
		Short: "list the version history of a draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp()
			versions, err := app.Draft.ListVersions(cmd.Context(), tenantContext(flags), versionsDraftID)
			if err != nil {
				return err
			}
			return printJSON(versions)
		},
	}
	versionsCmd.Flags().StringVar(&versionsDraftID, "draft", "", "draft ID")
	versionsCmd.MarkFlagRequired("draft")

	cmd.AddCommand(generateCmd, refineCmd, previewCmd, installCmd, discardCmd, versionsCmd)
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}
