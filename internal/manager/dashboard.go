package manager

import (
	"context"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"lifeboat/internal/types"
	"time"
)

const pingTimeout = 5 * time.Second

// Dashboard aggregates backup statistics, live operations and datastore
// health for the principal's scope.
func (m *manager) Dashboard(ctx context.Context, p types.Principal) (*types.Dashboard, error) {
	if err := requireTenantOrAdmin(p); err != nil {
		return nil, err
	}
	scope := scopeOf(p)
	dash := &types.Dashboard{
		RunningBackups:      m.backups.InFlight(),
		RunningRestores:     m.restores.Running(),
		RunningUpdates:      m.updates.Running(),
		RegisteredSchedules: m.schedules.RegisteredCount(),
		FailingSchedules:    make([]types.BackupSchedule, 0),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		stats, err := m.backupRepo.Stats(gctx, scope)
		if err != nil {
			return errors.Wrap(err, "failed to read backup statistics")
		}
		dash.TotalBackups = stats.Total
		dash.CompletedBackups = stats.Completed
		dash.FailedBackups = stats.Failed
		dash.TotalSizeBytes = stats.TotalSize
		dash.TotalSize = totalSize(stats.TotalSize)
		if finished := stats.Completed + stats.Failed; finished > 0 {
			dash.SuccessRate = float64(stats.Completed) / float64(finished) * 100
		}
		return nil
	})
	g.Go(func() error {
		latest, err := m.backups.ListBackups(gctx, types.BackupFilter{
			TenantID: scope,
			Status:   types.BackupStatusCompleted,
			Limit:    1,
		})
		if err != nil {
			return errors.Wrap(err, "failed to read latest backup")
		}
		if len(latest) > 0 {
			dash.LastBackup = latest[0]
		}
		return nil
	})
	g.Go(func() error {
		schedules, err := m.schedules.ListSchedules(gctx, scope)
		if err != nil {
			return errors.Wrap(err, "failed to read schedules")
		}
		dash.FailingSchedules = failingSchedules(schedules)
		return nil
	})
	g.Go(func() error {
		if m.pinger == nil {
			dash.DatastoreError = "datastore is not configured"
			return nil
		}
		pctx, cancel := context.WithTimeout(gctx, pingTimeout)
		defer cancel()
		if err := m.pinger.Ping(pctx); err != nil {
			dash.DatastoreError = err.Error()
			return nil
		}
		dash.DatastoreHealthy = true
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return dash, nil
}
