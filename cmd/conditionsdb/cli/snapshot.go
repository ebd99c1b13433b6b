package cli

import (
	"context"

	"github.com/spf13/cobra"

	"conditionsdb/internal/catalog"
	"conditionsdb/internal/conditions"
)

func newSnapshotCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Resolve every condition at a point in time or under a tag",
		Long: "Resolve conditions valid at --at (default now). With --tag the frozen tag " +
			"contents are returned instead and --at is ignored.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := dateFlag(cmd, "at")
			if err != nil {
				return err
			}
			tag, _ := cmd.Flags().GetString("tag")
			sds, _ := cmd.Flags().GetStringSlice("subdetector")
			return a.withService(cmd, func(ctx context.Context, svc *catalog.Service) error {
				snap, err := svc.GetSnapshot(ctx, catalog.SnapshotRequest{At: at, Tag: tag, Subdetectors: sds})
				if err != nil {
					return err
				}
				return a.emit(cmd, snap, func(p *printer) { printSnapshot(p, snap) })
			})
		},
	}
	cmd.Flags().String("at", "", "resolution instant (date or RFC 3339; default now)")
	cmd.Flags().String("tag", "", "resolve from a global tag")
	cmd.Flags().StringSlice("subdetector", nil, "restrict to these subdetectors (repeatable)")
	return cmd
}

func printSnapshot(p *printer, snap conditions.Snapshot) {
	var rows [][]string
	for _, e := range snap.Entries {
		rows = append(rows, []string{
			e.Subdetector, e.Condition, formatTime(e.Version.ValidFrom), formatUntil(e.Version.ValidUntil),
			formatPayload(e.Version.Payload),
		})
	}
	p.table([]string{"SUBDETECTOR", "CONDITION", "VALID FROM", "VALID UNTIL", "PAYLOAD"}, rows)
}
