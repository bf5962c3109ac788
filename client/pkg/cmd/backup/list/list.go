package list

import (
	"context"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"lifeboat/client/internal/api"
	"lifeboat/client/internal/cmdutil"
	"lifeboat/internal/types"
	"os"
	"os/signal"
	"strings"
)

func NewListBackupsCmd(newService cmdutil.ServiceFunc) *cobra.Command {
	var kind, status string
	var limit int

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List backups",
		Long:    "List the backups visible to the configured tenant, newest first.",
		Example: "lifeboat backup list --kind database --status completed --limit 10",
		Run: func(cmd *cobra.Command, args []string) {
			svc, err := newService()
			if err != nil {
				cmdutil.PrintE(err.Error())
				return
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			cmdutil.StartLoading("Working...")
			backups, err := svc.ListBackups(ctx, api.ListBackupsFilter{
				Kind:   types.BackupKind(kind),
				Status: types.BackupStatus(status),
				Limit:  limit,
			})
			cmdutil.StopLoading()
			if err != nil {
				cmdutil.PrintE(err.Error())
				return
			}

			rows := make([]table.Row, 0, len(backups))
			for _, bk := range backups {
				rows = append(rows, table.Row{
					bk.ID,
					bk.Name,
					bk.Kind,
					cmdutil.Status(string(bk.Status)),
					cmdutil.Size(bk.FileSize),
					strings.Join(bk.Tags, ","),
					cmdutil.Date(&bk.CreatedAt),
					cmdutil.Date(bk.ExpiresAt),
				})
			}
			cmdutil.Table(table.Row{"ID", "Name", "Kind", "Status", "Size", "Tags", "Created", "Expires"}, rows)
		},
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", "", "Only show database or system backups")
	cmd.Flags().StringVarP(&status, "status", "s", "", "Only show backups with this status")
	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "Maximum number of backups to show")
	return cmd
}
