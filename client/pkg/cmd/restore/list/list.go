package list

import (
	"context"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"lifeboat/client/internal/cmdutil"
	"time"
)

func NewListRestoresCmd(newService cmdutil.ServiceFunc) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List restore operations",
		Run: func(cmd *cobra.Command, args []string) {
			svc, err := newService()
			if err != nil {
				cmdutil.PrintE(err.Error())
				return
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			cmdutil.StartLoading("Working...")
			ops, err := svc.ListRestores(ctx)
			cmdutil.StopLoading()
			if err != nil {
				cmdutil.PrintE(err.Error())
				return
			}

			rows := make([]table.Row, 0, len(ops))
			for _, op := range ops {
				rows = append(rows, table.Row{
					op.ID,
					op.BackupID,
					op.BackupKind,
					op.Scope,
					cmdutil.Status(string(op.Status)),
					cmdutil.Date(&op.CreatedAt),
					cmdutil.Date(op.CompletedAt),
					op.ErrorMessage,
				})
			}
			cmdutil.Table(table.Row{"ID", "Backup", "Kind", "Scope", "Status", "Created", "Completed", "Error"}, rows)
		},
	}
}
