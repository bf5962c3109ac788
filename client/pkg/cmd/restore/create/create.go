package create

import (
	"github.com/spf13/cobra"
	"lifeboat/client/internal/cmdutil"
	"lifeboat/internal/types"
	"os"
	"os/signal"
)

func NewCreateRestoreCmd(newService cmdutil.ServiceFunc) *cobra.Command {
	var params types.CreateRestoreParams
	var scope string
	var yes, wait bool

	cmd := &cobra.Command{
		Use:   "start <backup-id>",
		Short: "Restore a completed backup",
		Long: `Restore a completed backup. For a database backup the dump is loaded into the datastore.
For a system backup choose the components with --database, --files, --config, --media and --logs;
--target-path extracts into another directory instead of the live installation.`,
		Args:    cobra.ExactArgs(1),
		Example: "lifeboat restore start <backup-id> --files --config --reason 'bad deploy'",
		Run: func(cmd *cobra.Command, args []string) {
			id, err := cmdutil.ParseID(args[0], "backup")
			if err != nil {
				cmdutil.PrintE(err.Error())
				return
			}
			params.BackupID = id
			params.Scope = types.RestoreScope(scope)

			if !yes && params.TargetPath == "" && !cmdutil.Confirm("Restoring overwrites live data. Continue") {
				return
			}

			svc, err := newService()
			if err != nil {
				cmdutil.PrintE(err.Error())
				return
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()

			cmdutil.StartLoading("Working...")
			op, err := svc.CreateRestore(ctx, params)
			cmdutil.StopLoading()
			if err != nil {
				cmdutil.PrintE(err.Error())
				return
			}
			cmdutil.PrintS("Restore started: " + op.ID.String())
			if !wait {
				return
			}

			if err := cmdutil.Follow(ctx, svc, types.OperationRestore, op.ID); err != nil {
				cmdutil.PrintE(err.Error())
				return
			}
			cmdutil.PrintS("Restore completed")
		},
	}

	cmd.Flags().StringVarP(&scope, "scope", "s", "full", "Restore scope: full, partial or selective")
	cmd.Flags().BoolVar(&params.RestoreDatabase, "database", false, "Restore the database")
	cmd.Flags().BoolVar(&params.RestoreFiles, "files", false, "Restore application files")
	cmd.Flags().BoolVar(&params.RestoreConfig, "config", false, "Restore configuration")
	cmd.Flags().BoolVar(&params.RestoreMedia, "media", false, "Restore media")
	cmd.Flags().BoolVar(&params.RestoreLogs, "logs", false, "Restore logs")
	cmd.Flags().StringVar(&params.TargetPath, "target-path", "", "Extract into this directory instead of the live installation")
	cmd.Flags().StringVar(&params.Reason, "reason", "", "Why the restore is needed, kept with the record")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Follow progress until the restore finishes")
	return cmd
}
