package manager

import (
	"context"
	"crypto/subtle"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"lifeboat/internal/database"
	"lifeboat/internal/integrations"
	"lifeboat/internal/metrics"
	"lifeboat/internal/service"
	"lifeboat/internal/types"
)

type (
	Manager interface {
		ValidateToken(token string) error

		CreateDatabaseBackup(ctx context.Context, p types.Principal, params types.CreateDatabaseBackupParams) (*types.Backup, error)
		CreateSystemBackup(ctx context.Context, p types.Principal, params types.CreateSystemBackupParams) (*types.Backup, error)
		GetBackup(ctx context.Context, p types.Principal, id uuid.UUID) (*types.Backup, error)
		ListBackups(ctx context.Context, p types.Principal, filter types.BackupFilter) ([]*types.Backup, error)
		DeleteBackup(ctx context.Context, p types.Principal, id uuid.UUID) error

		CreateRestore(ctx context.Context, p types.Principal, params types.CreateRestoreParams) (*types.RestoreOperation, error)
		GetRestore(ctx context.Context, p types.Principal, id uuid.UUID) (*types.RestoreOperation, error)
		ListRestores(ctx context.Context, p types.Principal) ([]*types.RestoreOperation, error)
		CancelRestore(ctx context.Context, p types.Principal, id uuid.UUID) (*types.RestoreOperation, error)

		CreateSchedule(ctx context.Context, p types.Principal, params types.ScheduleParams) (*types.BackupSchedule, error)
		UpdateSchedule(ctx context.Context, p types.Principal, id uuid.UUID, params types.ScheduleParams) (*types.BackupSchedule, error)
		DeleteSchedule(ctx context.Context, p types.Principal, id uuid.UUID) error
		ToggleSchedule(ctx context.Context, p types.Principal, id uuid.UUID, enabled bool) (*types.BackupSchedule, error)
		GetSchedule(ctx context.Context, p types.Principal, id uuid.UUID) (*types.BackupSchedule, error)
		ListSchedules(ctx context.Context, p types.Principal) ([]*types.BackupSchedule, error)
		RunSchedule(ctx context.Context, p types.Principal, id uuid.UUID) (*types.Backup, error)

		CreateUpdate(ctx context.Context, p types.Principal, params types.CreateUpdateParams) (*types.SystemUpdate, error)
		GetUpdate(ctx context.Context, p types.Principal, id uuid.UUID) (*types.SystemUpdate, error)
		ListUpdates(ctx context.Context, p types.Principal) ([]*types.SystemUpdate, error)
		PatchUpdate(ctx context.Context, p types.Principal, id uuid.UUID, patch types.UpdatePatch) (*types.SystemUpdate, error)
		RollbackUpdate(ctx context.Context, p types.Principal, id uuid.UUID) (*types.SystemUpdate, error)

		// Progress returns the live progress of an operation the principal can see.
		// A finished operation has no progress; read its record instead.
		Progress(ctx context.Context, p types.Principal, kind types.OperationKind, id uuid.UUID) (types.Progress, error)
		Dashboard(ctx context.Context, p types.Principal) (*types.Dashboard, error)
	}

	Params struct {
		AccessKey        string
		Backups          service.BackupService
		Restores         service.RestoreService
		Schedules        service.ScheduleService
		Updates          service.UpdateService
		BackupRepository database.BackupRepository
		// Pinger may be nil when no datastore is configured
		Pinger  integrations.Pinger
		Metrics *metrics.Metrics
	}
)

type manager struct {
	accessKey  string
	backups    service.BackupService
	restores   service.RestoreService
	schedules  service.ScheduleService
	updates    service.UpdateService
	backupRepo database.BackupRepository
	pinger     integrations.Pinger
}

func New(p Params) Manager {
	m := &manager{
		accessKey:  p.AccessKey,
		backups:    p.Backups,
		restores:   p.Restores,
		schedules:  p.Schedules,
		updates:    p.Updates,
		backupRepo: p.BackupRepository,
		pinger:     p.Pinger,
	}

	p.Metrics.RegisterGauge("backups_in_flight", "Backups currently running", func() float64 {
		return float64(m.backups.InFlight())
	})
	p.Metrics.RegisterGauge("restores_in_flight", "Restores currently running", func() float64 {
		return float64(m.restores.Running())
	})
	p.Metrics.RegisterGauge("updates_in_flight", "System updates currently running", func() float64 {
		return float64(m.updates.Running())
	})
	p.Metrics.RegisterGauge("schedules_registered", "Schedules with a live trigger", func() float64 {
		return float64(m.schedules.RegisteredCount())
	})
	return m
}

func (m *manager) ValidateToken(token string) error {
	if m.accessKey == "" || subtle.ConstantTimeCompare([]byte(m.accessKey), []byte(token)) != 1 {
		return errors.Wrap(types.ErrForbidden, "access denied")
	}
	return nil
}

func (m *manager) CreateDatabaseBackup(ctx context.Context, p types.Principal, params types.CreateDatabaseBackupParams) (*types.Backup, error) {
	if err := requireTenantOrAdmin(p); err != nil {
		return nil, err
	}
	return m.backups.CreateDatabaseBackup(ctx, p.TenantID, params)
}

func (m *manager) CreateSystemBackup(ctx context.Context, p types.Principal, params types.CreateSystemBackupParams) (*types.Backup, error) {
	if err := requireInstanceAdmin(p, "system backups"); err != nil {
		return nil, err
	}
	return m.backups.CreateSystemBackup(ctx, nil, params)
}

func (m *manager) GetBackup(ctx context.Context, p types.Principal, id uuid.UUID) (*types.Backup, error) {
	bk, err := m.backups.GetBackup(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.CanAccess(bk.TenantID) {
		return nil, notFound("backup", id)
	}
	return bk, nil
}

func (m *manager) ListBackups(ctx context.Context, p types.Principal, filter types.BackupFilter) ([]*types.Backup, error) {
	if err := requireTenantOrAdmin(p); err != nil {
		return nil, err
	}
	if !p.IsInstanceAdmin() {
		filter.TenantID = p.TenantID
	}
	return m.backups.ListBackups(ctx, filter)
}

func (m *manager) DeleteBackup(ctx context.Context, p types.Principal, id uuid.UUID) error {
	bk, err := m.GetBackup(ctx, p, id)
	if err != nil {
		return err
	}
	if err := requireAdmin(p); err != nil {
		return err
	}
	return m.backups.DeleteBackup(ctx, bk.ID)
}

// CreateRestore needs an admin of the backup's owner. System backups are
// restored by the instance admin only.
func (m *manager) CreateRestore(ctx context.Context, p types.Principal, params types.CreateRestoreParams) (*types.RestoreOperation, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	bk, err := m.GetBackup(ctx, p, params.BackupID)
	if err != nil {
		return nil, err
	}
	if bk.Kind == types.BackupKindSystem {
		if err := requireInstanceAdmin(p, "system restores"); err != nil {
			return nil, err
		}
	}
	return m.restores.CreateRestoreOperation(ctx, bk.TenantID, params)
}

func (m *manager) GetRestore(ctx context.Context, p types.Principal, id uuid.UUID) (*types.RestoreOperation, error) {
	op, err := m.restores.GetRestoreOperation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.CanAccess(op.TenantID) {
		return nil, notFound("restore operation", id)
	}
	return op, nil
}

func (m *manager) ListRestores(ctx context.Context, p types.Principal) ([]*types.RestoreOperation, error) {
	if err := requireTenantOrAdmin(p); err != nil {
		return nil, err
	}
	return m.restores.ListRestoreOperations(ctx, scopeOf(p))
}

func (m *manager) CancelRestore(ctx context.Context, p types.Principal, id uuid.UUID) (*types.RestoreOperation, error) {
	if _, err := m.GetRestore(ctx, p, id); err != nil {
		return nil, err
	}
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	return m.restores.CancelRestoreOperation(ctx, id)
}

func (m *manager) CreateSchedule(ctx context.Context, p types.Principal, params types.ScheduleParams) (*types.BackupSchedule, error) {
	if err := m.canSchedule(p, params.Kind); err != nil {
		return nil, err
	}
	return m.schedules.CreateSchedule(ctx, p.TenantID, params)
}

func (m *manager) UpdateSchedule(ctx context.Context, p types.Principal, id uuid.UUID, params types.ScheduleParams) (*types.BackupSchedule, error) {
	sc, err := m.GetSchedule(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if err := m.canSchedule(p, sc.Kind); err != nil {
		return nil, err
	}
	if err := m.canSchedule(p, params.Kind); err != nil {
		return nil, err
	}
	return m.schedules.UpdateSchedule(ctx, id, params)
}

func (m *manager) DeleteSchedule(ctx context.Context, p types.Principal, id uuid.UUID) error {
	sc, err := m.GetSchedule(ctx, p, id)
	if err != nil {
		return err
	}
	if err := m.canSchedule(p, sc.Kind); err != nil {
		return err
	}
	return m.schedules.DeleteSchedule(ctx, id)
}

func (m *manager) ToggleSchedule(ctx context.Context, p types.Principal, id uuid.UUID, enabled bool) (*types.BackupSchedule, error) {
	sc, err := m.GetSchedule(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if err := m.canSchedule(p, sc.Kind); err != nil {
		return nil, err
	}
	return m.schedules.ToggleSchedule(ctx, id, enabled)
}

func (m *manager) GetSchedule(ctx context.Context, p types.Principal, id uuid.UUID) (*types.BackupSchedule, error) {
	sc, err := m.schedules.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.CanAccess(sc.TenantID) {
		return nil, notFound("schedule", id)
	}
	return sc, nil
}

func (m *manager) ListSchedules(ctx context.Context, p types.Principal) ([]*types.BackupSchedule, error) {
	if err := requireTenantOrAdmin(p); err != nil {
		return nil, err
	}
	return m.schedules.ListSchedules(ctx, scopeOf(p))
}

func (m *manager) RunSchedule(ctx context.Context, p types.Principal, id uuid.UUID) (*types.Backup, error) {
	sc, err := m.GetSchedule(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if err := m.canSchedule(p, sc.Kind); err != nil {
		return nil, err
	}
	return m.schedules.RunSchedule(ctx, id)
}

func (m *manager) CreateUpdate(ctx context.Context, p types.Principal, params types.CreateUpdateParams) (*types.SystemUpdate, error) {
	if err := requireInstanceAdmin(p, "system updates"); err != nil {
		return nil, err
	}
	return m.updates.CreateSystemUpdate(ctx, nil, params)
}

func (m *manager) GetUpdate(ctx context.Context, p types.Principal, id uuid.UUID) (*types.SystemUpdate, error) {
	if err := requireInstanceAdmin(p, "system updates"); err != nil {
		return nil, err
	}
	return m.updates.GetSystemUpdate(ctx, id)
}

func (m *manager) ListUpdates(ctx context.Context, p types.Principal) ([]*types.SystemUpdate, error) {
	if err := requireInstanceAdmin(p, "system updates"); err != nil {
		return nil, err
	}
	return m.updates.ListSystemUpdates(ctx, nil)
}

func (m *manager) PatchUpdate(ctx context.Context, p types.Principal, id uuid.UUID, patch types.UpdatePatch) (*types.SystemUpdate, error) {
	if err := requireInstanceAdmin(p, "system updates"); err != nil {
		return nil, err
	}
	return m.updates.UpdateSystemUpdate(ctx, id, patch)
}

func (m *manager) RollbackUpdate(ctx context.Context, p types.Principal, id uuid.UUID) (*types.SystemUpdate, error) {
	if err := requireInstanceAdmin(p, "system updates"); err != nil {
		return nil, err
	}
	return m.updates.RollbackSystemUpdate(ctx, id)
}

func (m *manager) Progress(ctx context.Context, p types.Principal, kind types.OperationKind, id uuid.UUID) (types.Progress, error) {
	var (
		live types.Progress
		ok   bool
	)
	switch kind {
	case types.OperationBackup:
		if _, err := m.GetBackup(ctx, p, id); err != nil {
			return live, err
		}
		live, ok = m.backups.GetProgress(id)
	case types.OperationRestore:
		if _, err := m.GetRestore(ctx, p, id); err != nil {
			return live, err
		}
		live, ok = m.restores.GetProgress(id)
	case types.OperationUpdate:
		if _, err := m.GetUpdate(ctx, p, id); err != nil {
			return live, err
		}
		live, ok = m.updates.GetProgress(id)
	default:
		return live, errors.Wrapf(types.ErrValidation, "unknown operation kind %q", kind)
	}
	if !ok {
		return live, errors.Wrapf(types.ErrNotFound, "%s %s is not running", kind, id)
	}
	return live, nil
}

func (m *manager) canSchedule(p types.Principal, kind types.BackupKind) error {
	if kind == types.BackupKindSystem {
		return requireInstanceAdmin(p, "system schedules")
	}
	if err := requireTenantOrAdmin(p); err != nil {
		return err
	}
	return requireAdmin(p)
}

// scopeOf is the tenant filter for list queries; nil lists everything.
func scopeOf(p types.Principal) *string {
	if p.IsInstanceAdmin() {
		return nil
	}
	return p.TenantID
}

func requireAdmin(p types.Principal) error {
	if p.Role != types.RoleAdmin {
		return errors.Wrap(types.ErrForbidden, "admin role required")
	}
	return nil
}

func requireInstanceAdmin(p types.Principal, what string) error {
	if !p.IsInstanceAdmin() {
		return errors.Wrapf(types.ErrForbidden, "%s are restricted to the instance admin", what)
	}
	return nil
}

// requireTenantOrAdmin rejects principals that belong to no tenant and are
// not the instance admin.
func requireTenantOrAdmin(p types.Principal) error {
	if p.TenantID == nil && !p.IsInstanceAdmin() {
		return errors.Wrap(types.ErrForbidden, "principal has no tenant")
	}
	return nil
}

func notFound(what string, id uuid.UUID) error {
	return errors.Wrapf(types.ErrNotFound, "%s %s", what, id)
}

func failingSchedules(all []*types.BackupSchedule) []types.BackupSchedule {
	failing := lo.Filter(all, func(sc *types.BackupSchedule, _ int) bool {
		return sc.ConsecutiveFailures > 0
	})
	return lo.Map(failing, func(sc *types.BackupSchedule, _ int) types.BackupSchedule {
		return *sc
	})
}

func totalSize(bytes int64) string {
	if bytes <= 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(bytes))
}
