package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/c360studio/changeops/internal/audit"
)

func newAuditCmd(flags *rootFlags, getApp func() *App) *cobra.Command {
	var entityType, entityID, cursor string
	var limit int
	var markdown bool

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "query the tenant audit timeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp()
			filter := audit.Filter{
				EntityType: audit.EntityType(entityType),
				EntityID:   entityID,
			}
			events, next, err := app.Audit.Timeline(cmd.Context(), tenantContext(flags), filter, cursor, limit)
			if err != nil {
				return err
			}

			if markdown {
				rendered, err := audit.RenderMarkdown(events)
				if err != nil {
					return fmt.Errorf("render timeline as markdown: %w", err)
				}
				fmt.Println(rendered)
				return nil
			}
			return printJSON(map[string]any{"events": events, "nextCursor": next})
		},
	}
	cmd.Flags().StringVar(&entityType, "entity-type", "", "filter by entity type: change, draft, promotion-intent, pull-down")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "filter by entity ID")
	cmd.Flags().StringVar(&cursor, "cursor", "", "opaque pagination cursor from a prior response")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of events to return")
	cmd.Flags().BoolVar(&markdown, "markdown", false, "render the timeline as a markdown digest instead of JSON")

	return cmd
}
