package cancel

import (
	"context"
	"github.com/spf13/cobra"
	"lifeboat/client/internal/cmdutil"
	"time"
)

func NewCancelRestoreCmd(newService cmdutil.ServiceFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <restore-id>",
		Short: "Cancel a pending or running restore",
		Long:  "Cancel a restore. Work already written to disk is not undone.",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			id, err := cmdutil.ParseID(args[0], "restore")
			if err != nil {
				cmdutil.PrintE(err.Error())
				return
			}

			svc, err := newService()
			if err != nil {
				cmdutil.PrintE(err.Error())
				return
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			op, err := svc.CancelRestore(ctx, id)
			if err != nil {
				cmdutil.PrintE(err.Error())
				return
			}
			cmdutil.PrintS("Restore " + op.ID.String() + " is " + string(op.Status))
		},
	}
}
