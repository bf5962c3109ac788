package configcmd

import (
	"github.com/spf13/cobra"
	"lifeboat/client/internal/api"
	initcmd "lifeboat/client/pkg/cmd/config/init"
)

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config <command>",
		Aliases: []string{"c"},
		Short:   "Manage lifeboat client configuration",
	}

	cmd.AddCommand(initcmd.NewConfigInitCmd(api.NewPinger()))
	return cmd
}
