package create

import (
	"fmt"
	"github.com/spf13/cobra"
	"lifeboat/client/internal/cmdutil"
	"lifeboat/internal/types"
	"os"
	"os/signal"
	"time"
)

func NewCreateUpdateCmd(newService cmdutil.ServiceFunc) *cobra.Command {
	var params types.CreateUpdateParams
	var updateType, at string
	var noBackup, noRollback, wait bool

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply or schedule a system update",
		Long: `Download an update package, verify it, take a safety backup and install it.
With --at the update is stored as pending and applied by the server's update sweep after that time.`,
		Example: "lifeboat update apply --name 'v1.4.0' --version 1.4.0 --type minor --package https://releases.example.com/app-1.4.0.tar.gz --sha256 <checksum> --wait",
		Run: func(cmd *cobra.Command, args []string) {
			if at != "" {
				when, err := time.Parse(time.RFC3339, at)
				if err != nil {
					cmdutil.PrintE(fmt.Sprintf("--at must be RFC3339, e.g. %s", time.Now().Add(time.Hour).Format(time.RFC3339)))
					return
				}
				params.ScheduledAt = &when
			}
			params.UpdateType = types.UpdateType(updateType)
			params.AutoBackup = !noBackup
			params.IsRollbackable = !noRollback

			svc, err := newService()
			if err != nil {
				cmdutil.PrintE(err.Error())
				return
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()

			cmdutil.StartLoading("Working...")
			upd, err := svc.CreateUpdate(ctx, params)
			cmdutil.StopLoading()
			if err != nil {
				cmdutil.PrintE(err.Error())
				return
			}

			if upd.ScheduledAt != nil && upd.Status == types.UpdateStatusPending {
				cmdutil.PrintS(fmt.Sprintf("Update %s scheduled for %s", upd.ID, cmdutil.Date(upd.ScheduledAt)))
				return
			}
			cmdutil.PrintS(fmt.Sprintf("Updating %s -> %s: %s", upd.CurrentVersion, upd.Version, upd.ID))
			if !wait {
				return
			}
			if err := cmdutil.Follow(ctx, svc, types.OperationUpdate, upd.ID); err != nil {
				cmdutil.PrintE(err.Error())
				return
			}
			cmdutil.PrintS("Update completed")
		},
	}

	cmd.Flags().StringVarP(&params.Name, "name", "n", "", "Name of the update")
	cmd.Flags().StringVarP(&params.Description, "description", "d", "", "Free text description")
	cmd.Flags().StringVarP(&updateType, "type", "t", "patch", "Update type: patch, minor, major, security or hotfix")
	cmd.Flags().StringVarP(&params.Version, "version", "v", "", "Semantic version the package installs")
	cmd.Flags().StringVarP(&params.PackageURL, "package", "p", "", "Package location: http(s), s3://bucket/key or a local path on the server")
	cmd.Flags().Int64Var(&params.PackageSize, "size", 0, "Expected package size in bytes")
	cmd.Flags().StringVar(&params.PackageChecksum, "sha256", "", "Expected SHA-256 of the package")
	cmd.Flags().StringVar(&params.ReleaseNotes, "notes", "", "Release notes")
	cmd.Flags().StringVar(&params.Requirements.MinCurrentVersion, "min-version", "", "Refuse unless the installed version is at least this")
	cmd.Flags().Int64Var(&params.Requirements.MinFreeDiskMB, "min-disk", 0, "Required free disk space in MB")
	cmd.Flags().Int64Var(&params.Requirements.MinMemoryMB, "min-memory", 0, "Required available memory in MB")
	cmd.Flags().StringSliceVar(&params.Dependencies, "depends", nil, "Executable that must be on the server, may be repeated")
	cmd.Flags().StringSliceVar(&params.Conflicts, "conflicts", nil, "Installed version this update cannot be applied over, may be repeated")
	cmd.Flags().StringVar(&at, "at", "", "Apply at this RFC3339 time instead of now")
	cmd.Flags().BoolVar(&noBackup, "no-backup", false, "Skip the safety backup")
	cmd.Flags().BoolVar(&noRollback, "no-rollback", false, "Do not roll back automatically on failure")
	cmd.Flags().BoolVar(&params.NotifyOnSuccess, "notify-success", false, "Notify recipients on success")
	cmd.Flags().BoolVar(&params.NotifyOnFailure, "notify-failure", true, "Notify recipients on failure")
	cmd.Flags().StringSliceVar(&params.Recipients, "recipient", nil, "Email address to notify, may be repeated")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Follow progress until the update finishes")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("version")
	_ = cmd.MarkFlagRequired("package")
	return cmd
}
