package remove

import (
	"context"
	"github.com/spf13/cobra"
	"lifeboat/client/internal/cmdutil"
	"time"
)

func NewDeleteScheduleCmd(newService cmdutil.ServiceFunc) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:     "delete <schedule-id>",
		Aliases: []string{"rm"},
		Short:   "Delete a schedule",
		Long:    "Delete a schedule. Backups it already produced are kept.",
		Args:    cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			id, err := cmdutil.ParseID(args[0], "schedule")
			if err != nil {
				cmdutil.PrintE(err.Error())
				return
			}
			if !yes && !cmdutil.Confirm("Delete schedule "+id.String()) {
				return
			}

			svc, err := newService()
			if err != nil {
				cmdutil.PrintE(err.Error())
				return
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := svc.DeleteSchedule(ctx, id); err != nil {
				cmdutil.PrintE(err.Error())
				return
			}
			cmdutil.PrintS("Schedule deleted")
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}
