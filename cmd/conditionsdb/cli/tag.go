package cli

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"conditionsdb/internal/catalog"
	"conditionsdb/internal/conditions"
)

func newTagCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tag",
		Short: "Manage global tags",
	}
	cmd.AddCommand(
		newTagCreateCmd(a),
		newTagListCmd(a),
		newTagShowCmd(a),
	)
	return cmd
}

func newTagCreateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Freeze the conditions valid at --at under a new global tag",
		Long:  "Create a global tag. Without a name one is generated.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var name string
			if len(args) == 1 {
				name = args[0]
			}
			at, err := dateFlag(cmd, "at")
			if err != nil {
				return err
			}
			return a.withService(cmd, func(ctx context.Context, svc *catalog.Service) error {
				tag, err := svc.CreateGlobalTag(ctx, name, at)
				if err != nil {
					return err
				}
				return a.emit(cmd, tag, func(p *printer) { printTag(p, tag) })
			})
		},
	}
	cmd.Flags().String("at", "", "reference instant (date or RFC 3339; default now)")
	return cmd
}

func newTagListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List global tag names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd, func(ctx context.Context, svc *catalog.Service) error {
				names, err := svc.ListGlobalTags(ctx)
				if err != nil {
					return err
				}
				return a.emit(cmd, names, func(p *printer) {
					var rows [][]string
					for i, n := range names {
						rows = append(rows, []string{strconv.Itoa(i + 1), n})
					}
					p.table([]string{"#", "NAME"}, rows)
				})
			})
		},
	}
}

func newTagShowCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show a global tag and its frozen conditions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sd, _ := cmd.Flags().GetString("subdetector")
			return a.withService(cmd, func(ctx context.Context, svc *catalog.Service) error {
				if sd != "" {
					snap, err := svc.ShowConditionsByTag(ctx, sd, args[0])
					if err != nil {
						return err
					}
					return a.emit(cmd, snap, func(p *printer) { printSnapshot(p, snap) })
				}
				tag, err := svc.GetGlobalTag(ctx, args[0])
				if err != nil {
					return err
				}
				return a.emit(cmd, tag, func(p *printer) { printTag(p, tag) })
			})
		},
	}
	cmd.Flags().String("subdetector", "", "show only this subdetector's conditions")
	return cmd
}

func printTag(p *printer, tag *conditions.GlobalTag) {
	p.kv([][2]string{
		{"Name", tag.Name},
		{"Reference", formatTime(tag.Reference)},
		{"Created", formatTime(tag.CreatedAt)},
		{"Entries", strconv.Itoa(len(tag.Entries))},
	})
	if len(tag.Entries) == 0 {
		return
	}
	_, _ = p.w.Write([]byte("\n"))
	var rows [][]string
	for _, e := range tag.Entries {
		rows = append(rows, []string{
			e.Subdetector, e.Condition, e.VersionID.String(), formatTime(e.ValidFrom), formatUntil(e.ValidUntil),
		})
	}
	p.table([]string{"SUBDETECTOR", "CONDITION", "VERSION", "VALID FROM", "VALID UNTIL"}, rows)
}
