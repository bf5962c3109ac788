package rollback

import (
	"github.com/spf13/cobra"
	"lifeboat/client/internal/cmdutil"
	"os"
	"os/signal"
)

func NewRollbackUpdateCmd(newService cmdutil.ServiceFunc) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "rollback <update-id>",
		Short: "Roll back an applied update",
		Long:  "Restore the safety backup taken before the update. The database is restored only when the package declared a migration.",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			id, err := cmdutil.ParseID(args[0], "update")
			if err != nil {
				cmdutil.PrintE(err.Error())
				return
			}
			if !yes && !cmdutil.Confirm("Roll back update "+id.String()) {
				return
			}

			svc, err := newService()
			if err != nil {
				cmdutil.PrintE(err.Error())
				return
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()

			cmdutil.StartLoading("Rolling back...")
			upd, err := svc.RollbackUpdate(ctx, id)
			cmdutil.StopLoading()
			if err != nil {
				cmdutil.PrintE(err.Error())
				return
			}
			cmdutil.PrintS("Update " + upd.Name + " is " + string(upd.Status))
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}
