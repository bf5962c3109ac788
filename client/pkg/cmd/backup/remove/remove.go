package remove

import (
	"context"
	"github.com/spf13/cobra"
	"lifeboat/client/internal/cmdutil"
	"time"
)

func NewDeleteBackupCmd(newService cmdutil.ServiceFunc) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:     "delete <backup-id>",
		Aliases: []string{"rm"},
		Short:   "Delete a backup and its artifact",
		Args:    cobra.ExactArgs(1),
		Example: "lifeboat backup delete 0b5c6c8e-0d4f-4f8e-9a43-2f0c1d7e5b11",
		Run: func(cmd *cobra.Command, args []string) {
			id, err := cmdutil.ParseID(args[0], "backup")
			if err != nil {
				cmdutil.PrintE(err.Error())
				return
			}
			if !yes && !cmdutil.Confirm("Delete backup "+id.String()+"? The artifact cannot be recovered") {
				return
			}

			svc, err := newService()
			if err != nil {
				cmdutil.PrintE(err.Error())
				return
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			if err := svc.DeleteBackup(ctx, id); err != nil {
				cmdutil.PrintE(err.Error())
				return
			}
			cmdutil.PrintS("Backup deleted")
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}
