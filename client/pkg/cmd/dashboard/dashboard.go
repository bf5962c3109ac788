package dashboard

import (
	"context"
	"fmt"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"lifeboat/client/internal/cmdutil"
	"time"
)

func NewDashboardCmd(newService cmdutil.ServiceFunc) *cobra.Command {
	return &cobra.Command{
		Use:     "dashboard",
		Aliases: []string{"status"},
		Short:   "Show backup health at a glance",
		Run: func(cmd *cobra.Command, args []string) {
			svc, err := newService()
			if err != nil {
				cmdutil.PrintE(err.Error())
				return
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			cmdutil.StartLoading("Working...")
			d, err := svc.Dashboard(ctx)
			cmdutil.StopLoading()
			if err != nil {
				cmdutil.PrintE(err.Error())
				return
			}

			datastore := color.GreenString("healthy")
			if !d.DatastoreHealthy {
				datastore = color.RedString(d.DatastoreError)
			}
			lastBackup := "-"
			if d.LastBackup != nil {
				lastBackup = fmt.Sprintf("%s (%s)", d.LastBackup.Name, cmdutil.Date(d.LastBackup.CompletedAt))
			}

			writer := table.NewWriter()
			writer.AppendRows([]table.Row{
				{"Running", fmt.Sprintf("%d backups, %d restores, %d updates", d.RunningBackups, d.RunningRestores, d.RunningUpdates)},
				{"Schedules", d.RegisteredSchedules},
				{"Backups", fmt.Sprintf("%d total, %d completed, %d failed", d.TotalBackups, d.CompletedBackups, d.FailedBackups)},
				{"Success rate", fmt.Sprintf("%.1f%%", d.SuccessRate)},
				{"Stored", d.TotalSize},
				{"Last backup", lastBackup},
				{"Datastore", datastore},
			})
			cmdutil.Print("")
			cmdutil.Print(writer.Render())

			if len(d.FailingSchedules) == 0 {
				return
			}
			rows := make([]table.Row, 0, len(d.FailingSchedules))
			for _, sc := range d.FailingSchedules {
				rows = append(rows, table.Row{sc.ID, sc.Name, sc.ConsecutiveFailures, cmdutil.Date(sc.LastRunAt)})
			}
			color.Yellow("\nFailing schedules")
			cmdutil.Table(table.Row{"ID", "Name", "Failures", "Last Run"}, rows)
		},
	}
}
