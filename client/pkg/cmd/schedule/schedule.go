package schedule

import (
	"github.com/spf13/cobra"
	"lifeboat/client/internal/cmdutil"
	"lifeboat/client/pkg/cmd/schedule/create"
	"lifeboat/client/pkg/cmd/schedule/list"
	"lifeboat/client/pkg/cmd/schedule/remove"
	"lifeboat/client/pkg/cmd/schedule/run"
	"lifeboat/client/pkg/cmd/schedule/toggle"
)

func NewScheduleCmd(newService cmdutil.ServiceFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedule <command>",
		Aliases: []string{"sc"},
		Short:   "Manage recurring backups",
	}

	cmd.AddCommand(create.NewCreateScheduleCmd(newService))
	cmd.AddCommand(list.NewListSchedulesCmd(newService))
	cmd.AddCommand(toggle.NewEnableScheduleCmd(newService))
	cmd.AddCommand(toggle.NewDisableScheduleCmd(newService))
	cmd.AddCommand(run.NewRunScheduleCmd(newService))
	cmd.AddCommand(remove.NewDeleteScheduleCmd(newService))
	return cmd
}
