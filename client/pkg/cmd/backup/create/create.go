package create

import (
	"context"
	"github.com/spf13/cobra"
	"lifeboat/client/internal/cmdutil"
	"lifeboat/internal/types"
	"os"
	"os/signal"
)

type common struct {
	name        string
	description string
	backupType  string
	compression string
	retention   int
	tags        []string
	maxSize     int64
	wait        bool
}

func (c *common) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&c.name, "name", "n", "", "Name of the backup")
	cmd.Flags().StringVarP(&c.description, "description", "d", "", "Free text description")
	cmd.Flags().StringVarP(&c.backupType, "type", "t", "full", "Backup type")
	cmd.Flags().StringVarP(&c.compression, "compression", "c", "gzip", "Compression: none, gzip or zstd")
	cmd.Flags().IntVarP(&c.retention, "retention", "r", 30, "Days to keep the backup; 0 keeps it forever")
	cmd.Flags().StringSliceVar(&c.tags, "tag", nil, "Tag to attach, may be repeated")
	cmd.Flags().Int64Var(&c.maxSize, "max-size", 0, "Fail the backup when the artifact exceeds this many bytes")
	cmd.Flags().BoolVarP(&c.wait, "wait", "w", false, "Follow progress until the backup finishes")
	_ = cmd.MarkFlagRequired("name")
}

func NewCreateBackupCmd(newService cmdutil.ServiceFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <command>",
		Short: "Start a backup",
	}
	cmd.AddCommand(newDatabaseCmd(newService))
	cmd.AddCommand(newSystemCmd(newService))
	return cmd
}

func newDatabaseCmd(newService cmdutil.ServiceFunc) *cobra.Command {
	var c common
	cmd := &cobra.Command{
		Use:     "database",
		Aliases: []string{"db"},
		Short:   "Dump the application datastore",
		Example: "lifeboat backup create database --name nightly --compression zstd --wait",
		Run: func(cmd *cobra.Command, args []string) {
			params := types.CreateDatabaseBackupParams{
				Name:            c.name,
				Description:     c.description,
				BackupType:      types.BackupType(c.backupType),
				CompressionType: types.CompressionType(c.compression),
				RetentionDays:   c.retention,
				Tags:            c.tags,
				MaxSizeBytes:    c.maxSize,
			}
			run(cmd, newService, c.wait, func(ctx context.Context) (*types.Backup, error) {
				svc, err := newService()
				if err != nil {
					return nil, err
				}
				return svc.CreateDatabaseBackup(ctx, params)
			})
		},
	}
	c.bind(cmd)
	return cmd
}

func newSystemCmd(newService cmdutil.ServiceFunc) *cobra.Command {
	var c common
	var database, files, config, media, logs bool
	cmd := &cobra.Command{
		Use:     "system",
		Short:   "Archive the installation, optionally with a database dump",
		Long:    "Archive application files, configuration, media and logs. Only the instance admin may run this.",
		Example: "lifeboat backup create system --name pre-upgrade --database --files --config",
		Run: func(cmd *cobra.Command, args []string) {
			params := types.CreateSystemBackupParams{
				Name:            c.name,
				Description:     c.description,
				BackupType:      types.BackupType(c.backupType),
				CompressionType: types.CompressionType(c.compression),
				IncludeDatabase: database,
				IncludeFiles:    files,
				IncludeConfig:   config,
				IncludeMedia:    media,
				IncludeLogs:     logs,
				RetentionDays:   c.retention,
				Tags:            c.tags,
				MaxSizeBytes:    c.maxSize,
			}
			run(cmd, newService, c.wait, func(ctx context.Context) (*types.Backup, error) {
				svc, err := newService()
				if err != nil {
					return nil, err
				}
				return svc.CreateSystemBackup(ctx, params)
			})
		},
	}
	c.bind(cmd)
	cmd.Flags().BoolVar(&database, "database", false, "Include a database dump")
	cmd.Flags().BoolVar(&files, "files", true, "Include application files")
	cmd.Flags().BoolVar(&config, "config", true, "Include configuration")
	cmd.Flags().BoolVar(&media, "media", false, "Include media uploads")
	cmd.Flags().BoolVar(&logs, "logs", false, "Include logs")
	return cmd
}

func run(cmd *cobra.Command, newService cmdutil.ServiceFunc, wait bool, start func(ctx context.Context) (*types.Backup, error)) {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	cmdutil.StartLoading("Working...")
	bk, err := start(ctx)
	cmdutil.StopLoading()
	if err != nil {
		cmdutil.PrintE(err.Error())
		return
	}
	cmdutil.PrintS("Backup started: " + bk.ID.String())
	if !wait {
		return
	}

	svc, _ := newService()
	if err := cmdutil.Follow(ctx, svc, types.OperationBackup, bk.ID); err != nil {
		cmdutil.PrintE(err.Error())
		return
	}
	cmdutil.PrintS("Backup completed")
}
