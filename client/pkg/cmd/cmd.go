package cmd

import (
	"github.com/spf13/cobra"
	"lifeboat/client/internal/api"
	"lifeboat/client/internal/auth"
	"lifeboat/client/internal/cmdutil"
	"lifeboat/client/internal/config"
	"lifeboat/client/pkg/cmd/backup"
	configcmd "lifeboat/client/pkg/cmd/config"
	"lifeboat/client/pkg/cmd/dashboard"
	"lifeboat/client/pkg/cmd/restore"
	"lifeboat/client/pkg/cmd/schedule"
	"lifeboat/client/pkg/cmd/update"
	"lifeboat/client/pkg/cmd/watch"
	"sync"
)

func New() *cobra.Command {
	newService := cmdutil.ServiceFunc(sync.OnceValues(func() (api.Service, error) {
		cfg, err := config.Parse()
		if err != nil {
			return nil, err
		}
		accessKey, err := auth.Get()
		if err != nil {
			return nil, err
		}
		apiClient := api.NewClient(api.Config{
			Host:      cfg.Host,
			AccessKey: accessKey,
			TenantID:  cfg.TenantID,
			Role:      cfg.Role,
		})
		return api.NewService(apiClient), nil
	}))

	cmd := &cobra.Command{
		Use:   "lifeboat",
		Short: "lifeboat - backup, restore and update your server",
	}

	cmd.AddCommand(configcmd.NewConfigCmd())
	cmd.AddCommand(backup.NewBackupCmd(newService))
	cmd.AddCommand(restore.NewRestoreCmd(newService))
	cmd.AddCommand(schedule.NewScheduleCmd(newService))
	cmd.AddCommand(update.NewUpdateCmd(newService))
	cmd.AddCommand(dashboard.NewDashboardCmd(newService))
	cmd.AddCommand(watch.NewWatchCmd(newService))
	return cmd
}
