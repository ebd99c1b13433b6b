package cli

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"conditionsdb/internal/catalog"
	"conditionsdb/internal/conditions"
	"conditionsdb/internal/payload"
)

func newConditionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "condition",
		Aliases: []string{"cond"},
		Short:   "Inspect and append condition versions",
	}
	cmd.AddCommand(
		newConditionShowCmd(a),
		newConditionHistoryCmd(a),
		newConditionAppendCmd(a),
	)
	return cmd
}

func newConditionShowCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <subdetector> <condition>",
		Short: "Show the current version of a condition",
		Long: "Show the version valid now, or the latest version when none is valid now. " +
			"--path selects parts of the payload with a JSONPath expression.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("path")
			return a.withService(cmd, func(ctx context.Context, svc *catalog.Service) error {
				v, err := svc.ShowCondition(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if path == "" {
					return a.emit(cmd, v, func(p *printer) { printVersion(p, v) })
				}
				sel, err := payload.Select(v.Payload, path)
				if err != nil {
					return err
				}
				return a.emit(cmd, sel, func(p *printer) {
					p.kv([][2]string{{"Path", path}, {"Match", formatPayload(sel)}})
				})
			})
		},
	}
	cmd.Flags().String("path", "", "JSONPath expression selecting payload values, e.g. $.gain")
	return cmd
}

func newConditionHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history <subdetector> <condition>",
		Short: "List every version of a condition, oldest first",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd, func(ctx context.Context, svc *catalog.Service) error {
				history, err := svc.ConditionHistory(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return a.emit(cmd, history, func(p *printer) {
					var rows [][]string
					for _, v := range history {
						rows = append(rows, []string{
							v.ID.String(), formatTime(v.ValidFrom), formatUntil(v.ValidUntil), formatPayload(v.Payload),
						})
					}
					p.table([]string{"ID", "VALID FROM", "VALID UNTIL", "PAYLOAD"}, rows)
				})
			})
		},
	}
}

func newConditionAppendCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "append <subdetector> <condition>",
		Short: "Append a new version to a condition",
		Long: "Append a version whose validity starts at --from (default now). " +
			"An open-ended previous version is closed at that instant.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("payload")
			from, err := dateFlag(cmd, "from")
			if err != nil {
				return err
			}
			until, err := dateFlag(cmd, "until")
			if err != nil {
				return err
			}
			return a.withService(cmd, func(ctx context.Context, svc *catalog.Service) error {
				v, err := svc.AppendCondition(ctx, catalog.AppendRequest{
					Subdetector: args[0],
					Condition:   args[1],
					Payload:     json.RawMessage(raw),
					ValidFrom:   from,
					ValidUntil:  until,
				})
				if err != nil {
					return err
				}
				return a.emit(cmd, v, func(p *printer) { printVersion(p, v) })
			})
		},
	}
	cmd.Flags().String("payload", "", "JSON object payload")
	cmd.Flags().String("from", "", "start of validity (date or RFC 3339; default now)")
	cmd.Flags().String("until", "", "end of validity (date or RFC 3339; default open)")
	_ = cmd.MarkFlagRequired("payload")
	return cmd
}

func printVersion(p *printer, v conditions.Version) {
	p.kv([][2]string{
		{"Subdetector", v.Subdetector},
		{"Condition", v.Condition},
		{"ID", v.ID.String()},
		{"Valid from", formatTime(v.ValidFrom)},
		{"Valid until", formatUntil(v.ValidUntil)},
		{"Created", formatTime(v.CreatedAt)},
		{"Payload", formatPayload(v.Payload)},
	})
}
