package create

import (
	"context"
	"fmt"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"lifeboat/client/internal/cmdutil"
	"lifeboat/internal/types"
	"os"
	"os/signal"
	"time"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

func NewCreateScheduleCmd(newService cmdutil.ServiceFunc) *cobra.Command {
	var params types.ScheduleParams
	var kind, backupType, compression string
	var disabled bool

	cmd := &cobra.Command{
		Use:     "create",
		Short:   "Create a backup schedule",
		Long:    "Schedule a recurring database or system backup using a five field cron expression.",
		Example: "lifeboat schedule create --name nightly --kind database --expression '0 2 * * *' --timezone Europe/Berlin --keep 7",
		Run: func(cmd *cobra.Command, args []string) {
			next, err := validateExpression(params.CronExpression, params.Timezone)
			if err != nil {
				cmdutil.PrintE(err.Error())
				return
			}
			params.Kind = types.BackupKind(kind)
			params.BackupType = types.BackupType(backupType)
			params.CompressionType = types.CompressionType(compression)
			params.IsEnabled = !disabled

			svc, err := newService()
			if err != nil {
				cmdutil.PrintE(err.Error())
				return
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			cmdutil.StartLoading("Working...")
			sc, err := svc.CreateSchedule(ctx, params)
			cmdutil.StopLoading()
			if err != nil {
				cmdutil.PrintE(err.Error())
				return
			}

			cmdutil.PrintS(fmt.Sprintf("Schedule %s created, next run %s", sc.ID, next.Local().Format(time.RFC1123)))
		},
	}

	cmd.Flags().StringVarP(&params.Name, "name", "n", "", "Name of the schedule")
	cmd.Flags().StringVarP(&params.Description, "description", "d", "", "Free text description")
	cmd.Flags().StringVarP(&kind, "kind", "k", "database", "What to back up: database or system")
	cmd.Flags().StringVarP(&backupType, "type", "t", "full", "Backup type")
	cmd.Flags().StringVarP(&params.CronExpression, "expression", "x", "", "The cron expression that defines how often the backup should run")
	cmd.Flags().StringVar(&params.Timezone, "timezone", "", "IANA timezone the expression is evaluated in, UTC when empty")
	cmd.Flags().IntVar(&params.RetentionDays, "retention", 30, "Days to keep each backup")
	cmd.Flags().IntVar(&params.MaxBackups, "keep", 0, "Keep at most this many backups from the schedule; 0 keeps all")
	cmd.Flags().StringVarP(&compression, "compression", "c", "gzip", "Compression: none, gzip or zstd")
	cmd.Flags().BoolVar(&params.NotifyOnSuccess, "notify-success", false, "Notify recipients when a run succeeds")
	cmd.Flags().BoolVar(&params.NotifyOnFailure, "notify-failure", true, "Notify recipients when a run fails")
	cmd.Flags().StringSliceVar(&params.Recipients, "recipient", nil, "Email address to notify, may be repeated")
	cmd.Flags().IntVar(&params.MaxDurationMinutes, "max-duration", 0, "Abort a run after this many minutes")
	cmd.Flags().Int64Var(&params.MaxSizeBytes, "max-size", 0, "Fail a run when the artifact exceeds this many bytes")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Create the schedule without registering it")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("expression")
	return cmd
}

func validateExpression(value, timezone string) (time.Time, error) {
	spec := value
	if timezone != "" {
		if _, err := time.LoadLocation(timezone); err != nil {
			return time.Time{}, fmt.Errorf("invalid timezone %q: %w", timezone, err)
		}
		spec = "CRON_TZ=" + timezone + " " + value
	}
	schedule, err := parser.Parse(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule.Next(time.Now()), nil
}
