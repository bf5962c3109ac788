package list

import (
	"context"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"lifeboat/client/internal/cmdutil"
	"time"
)

func NewListUpdatesCmd(newService cmdutil.ServiceFunc) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List system updates",
		Run: func(cmd *cobra.Command, args []string) {
			svc, err := newService()
			if err != nil {
				cmdutil.PrintE(err.Error())
				return
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			cmdutil.StartLoading("Working...")
			updates, err := svc.ListUpdates(ctx)
			cmdutil.StopLoading()
			if err != nil {
				cmdutil.PrintE(err.Error())
				return
			}

			rows := make([]table.Row, 0, len(updates))
			for _, u := range updates {
				backup := "-"
				if u.BackupID != nil {
					backup = u.BackupID.String()
				}
				rows = append(rows, table.Row{
					u.ID,
					u.Name,
					u.CurrentVersion + " -> " + u.Version,
					u.UpdateType,
					cmdutil.Status(string(u.Status)),
					cmdutil.Date(u.ScheduledAt),
					cmdutil.Date(u.CompletedAt),
					backup,
					u.ErrorMessage,
				})
			}
			cmdutil.Table(table.Row{"ID", "Name", "Version", "Type", "Status", "Scheduled", "Completed", "Safety Backup", "Error"}, rows)
		},
	}
}
