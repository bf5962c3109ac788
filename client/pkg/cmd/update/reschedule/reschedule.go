package reschedule

import (
	"context"
	"github.com/spf13/cobra"
	"lifeboat/client/internal/cmdutil"
	"lifeboat/internal/types"
	"time"
)

func NewRescheduleUpdateCmd(newService cmdutil.ServiceFunc) *cobra.Command {
	var at, notes string

	cmd := &cobra.Command{
		Use:     "reschedule <update-id>",
		Short:   "Move a pending update to another time",
		Args:    cobra.ExactArgs(1),
		Example: "lifeboat update reschedule <update-id> --at 2026-11-01T03:00:00Z",
		Run: func(cmd *cobra.Command, args []string) {
			id, err := cmdutil.ParseID(args[0], "update")
			if err != nil {
				cmdutil.PrintE(err.Error())
				return
			}

			var patch types.UpdatePatch
			if at != "" {
				when, err := time.Parse(time.RFC3339, at)
				if err != nil {
					cmdutil.PrintE("--at must be an RFC3339 time")
					return
				}
				patch.ScheduledAt = &when
			}
			if cmd.Flags().Changed("notes") {
				patch.ReleaseNotes = &notes
			}
			if patch.ScheduledAt == nil && patch.ReleaseNotes == nil {
				cmdutil.PrintE("nothing to change, pass --at or --notes")
				return
			}

			svc, err := newService()
			if err != nil {
				cmdutil.PrintE(err.Error())
				return
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			upd, err := svc.PatchUpdate(ctx, id, patch)
			if err != nil {
				cmdutil.PrintE(err.Error())
				return
			}
			cmdutil.PrintS("Update " + upd.Name + " scheduled for " + cmdutil.Date(upd.ScheduledAt))
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "New RFC3339 time to apply the update")
	cmd.Flags().StringVar(&notes, "notes", "", "Replace the release notes")
	return cmd
}
