package list

import (
	"context"
	"fmt"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"lifeboat/client/internal/cmdutil"
	"time"
)

func NewListSchedulesCmd(newService cmdutil.ServiceFunc) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List backup schedules",
		Run: func(cmd *cobra.Command, args []string) {
			svc, err := newService()
			if err != nil {
				cmdutil.PrintE(err.Error())
				return
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			cmdutil.StartLoading("Working...")
			schedules, err := svc.ListSchedules(ctx)
			cmdutil.StopLoading()
			if err != nil {
				cmdutil.PrintE(err.Error())
				return
			}

			rows := make([]table.Row, 0, len(schedules))
			for _, sc := range schedules {
				enabled := color.RedString("no")
				if sc.IsEnabled {
					enabled = color.GreenString("yes")
				}
				failures := fmt.Sprint(sc.ConsecutiveFailures)
				if sc.ConsecutiveFailures > 0 {
					failures = color.RedString(failures)
				}
				rows = append(rows, table.Row{
					sc.ID,
					sc.Name,
					sc.Kind,
					sc.CronExpression,
					enabled,
					cmdutil.Date(sc.LastRunAt),
					cmdutil.Status(sc.LastRunStatus),
					cmdutil.Date(sc.NextRunAt),
					failures,
				})
			}
			cmdutil.Table(table.Row{"ID", "Name", "Kind", "Expression", "Enabled", "Last Run", "Last Status", "Next Run", "Failures"}, rows)
		},
	}
}
