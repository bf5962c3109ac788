package toggle

import (
	"context"
	"github.com/spf13/cobra"
	"lifeboat/client/internal/cmdutil"
	"time"
)

func NewEnableScheduleCmd(newService cmdutil.ServiceFunc) *cobra.Command {
	return newToggleCmd(newService, true)
}

func NewDisableScheduleCmd(newService cmdutil.ServiceFunc) *cobra.Command {
	return newToggleCmd(newService, false)
}

func newToggleCmd(newService cmdutil.ServiceFunc, enabled bool) *cobra.Command {
	use, short := "disable <schedule-id>", "Stop a schedule from firing"
	if enabled {
		use, short = "enable <schedule-id>", "Register a schedule and reset its failure count"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
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

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			sc, err := svc.ToggleSchedule(ctx, id, enabled)
			if err != nil {
				cmdutil.PrintE(err.Error())
				return
			}
			if sc.IsEnabled {
				cmdutil.PrintS("Schedule " + sc.Name + " enabled, next run " + cmdutil.Date(sc.NextRunAt))
				return
			}
			cmdutil.PrintS("Schedule " + sc.Name + " disabled")
		},
	}
}
