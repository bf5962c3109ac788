package watch

import (
	"fmt"
	"github.com/spf13/cobra"
	"lifeboat/client/internal/cmdutil"
	"lifeboat/internal/types"
	"os"
	"os/signal"
)

func NewWatchCmd(newService cmdutil.ServiceFunc) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:     "watch <operation-id>",
		Short:   "Follow a running backup, restore or update",
		Args:    cobra.ExactArgs(1),
		Example: "lifeboat watch --kind restore <restore-id>",
		Run: func(cmd *cobra.Command, args []string) {
			op := types.OperationKind(kind)
			switch op {
			case types.OperationBackup, types.OperationRestore, types.OperationUpdate:
			default:
				cmdutil.PrintE(fmt.Sprintf("unknown kind %q, use backup, restore or update", kind))
				return
			}
			id, err := cmdutil.ParseID(args[0], kind)
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

			p, err := svc.Progress(ctx, op, id)
			if err != nil {
				cmdutil.PrintE(err.Error())
				return
			}
			cmdutil.Print(fmt.Sprintf("%s %s: %s (%d%%)", op, id, p.Phase, p.Progress))

			if err := cmdutil.Follow(ctx, svc, op, id); err != nil {
				cmdutil.PrintE(err.Error())
				return
			}
			cmdutil.PrintS(fmt.Sprintf("%s finished", op))
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", string(types.OperationBackup), "Operation kind: backup, restore or update")
	return cmd
}
