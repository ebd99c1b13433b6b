package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"conditionsdb/internal/autotag"
	"conditionsdb/internal/catalog"
)

func newAutotagCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autotag",
		Short: "Create global tags on a cron schedule",
		Long: "Run in the foreground, creating a tag named <prefix>-<UTC timestamp> each time " +
			"the cron expression fires. Stop with Ctrl-C. --once creates a single tag and exits.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			expr, _ := cmd.Flags().GetString("cron")
			prefix, _ := cmd.Flags().GetString("prefix")
			once, _ := cmd.Flags().GetBool("once")
			if err := autotag.ValidateCron(expr); err != nil {
				return err
			}
			return a.withService(cmd, func(ctx context.Context, svc *catalog.Service) error {
				s, err := autotag.New(autotag.Options{
					Tagger:  svc,
					Cron:    expr,
					Prefix:  prefix,
					Clock:   a.clock,
					Logger:  a.logger,
					Timeout: a.settings.Timeout,
				})
				if err != nil {
					return err
				}
				if once {
					defer func() { _ = s.Stop() }()
					tag, err := s.RunOnce(ctx)
					if err != nil {
						return err
					}
					return a.emit(cmd, tag, func(p *printer) { printTag(p, tag) })
				}

				s.Start()
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "autotag running with schedule %q\n", expr)
				<-ctx.Done()
				return s.Stop()
			})
		},
	}
	cmd.Flags().String("cron", "", "cron expression (five fields, or six with seconds)")
	cmd.Flags().String("prefix", autotag.DefaultPrefix, "tag name prefix")
	cmd.Flags().Bool("once", false, "create one tag now and exit")
	_ = cmd.MarkFlagRequired("cron")
	return cmd
}
