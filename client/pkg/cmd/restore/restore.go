package restore

import (
	"github.com/spf13/cobra"
	"lifeboat/client/internal/cmdutil"
	"lifeboat/client/pkg/cmd/restore/cancel"
	"lifeboat/client/pkg/cmd/restore/create"
	"lifeboat/client/pkg/cmd/restore/list"
)

func NewRestoreCmd(newService cmdutil.ServiceFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "restore <command>",
		Aliases: []string{"rs"},
		Short:   "Restore from a backup",
	}

	cmd.AddCommand(create.NewCreateRestoreCmd(newService))
	cmd.AddCommand(list.NewListRestoresCmd(newService))
	cmd.AddCommand(cancel.NewCancelRestoreCmd(newService))
	return cmd
}
