package run

import (
	"github.com/spf13/cobra"
	"lifeboat/client/internal/cmdutil"
	"lifeboat/internal/types"
	"os"
	"os/signal"
)

func NewRunScheduleCmd(newService cmdutil.ServiceFunc) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "run <schedule-id>",
		Short: "Run a schedule now",
		Long:  "Start a backup with the schedule's settings right away. The regular cadence is unchanged.",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			id, err := cmdutil.ParseID(args[0], "schedule")
			if err != nil {
				cmdutil.PrintE(err.Error())
				return
			}

			svc, err := newService()
			if err != nil {
				cmdutil.PrintE(err.Error())
				return
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()

			bk, err := svc.RunSchedule(ctx, id)
			if err != nil {
				cmdutil.PrintE(err.Error())
				return
			}
			cmdutil.PrintS("Backup started: " + bk.ID.String())
			if !wait {
				return
			}
			if err := cmdutil.Follow(ctx, svc, types.OperationBackup, bk.ID); err != nil {
				cmdutil.PrintE(err.Error())
				return
			}
			cmdutil.PrintS("Backup completed")
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Follow progress until the backup finishes")
	return cmd
}
