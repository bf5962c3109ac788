package update

import (
	"github.com/spf13/cobra"
	"lifeboat/client/internal/cmdutil"
	"lifeboat/client/pkg/cmd/update/create"
	"lifeboat/client/pkg/cmd/update/list"
	"lifeboat/client/pkg/cmd/update/reschedule"
	"lifeboat/client/pkg/cmd/update/rollback"
)

func NewUpdateCmd(newService cmdutil.ServiceFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "update <command>",
		Aliases: []string{"up"},
		Short:   "Apply, schedule and roll back system updates",
		Long:    "System updates are restricted to the instance admin. Configure the client without a tenant to use them.",
	}

	cmd.AddCommand(create.NewCreateUpdateCmd(newService))
	cmd.AddCommand(list.NewListUpdatesCmd(newService))
	cmd.AddCommand(reschedule.NewRescheduleUpdateCmd(newService))
	cmd.AddCommand(rollback.NewRollbackUpdateCmd(newService))
	return cmd
}
