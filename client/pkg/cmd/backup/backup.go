package backup

import (
	"github.com/spf13/cobra"
	"lifeboat/client/internal/cmdutil"
	"lifeboat/client/pkg/cmd/backup/create"
	"lifeboat/client/pkg/cmd/backup/list"
	"lifeboat/client/pkg/cmd/backup/remove"
)

func NewBackupCmd(newService cmdutil.ServiceFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "backup <command>",
		Aliases: []string{"bc"},
		Short:   "Manage backups",
		Long:    "Create database and system backups, list what is stored and delete backups you no longer need",
	}

	cmd.AddCommand(create.NewCreateBackupCmd(newService))
	cmd.AddCommand(list.NewListBackupsCmd(newService))
	cmd.AddCommand(remove.NewDeleteBackupCmd(newService))
	return cmd
}
