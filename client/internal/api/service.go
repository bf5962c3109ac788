package api

import (
	"bufio"
	"context"
	"fmt"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"lifeboat/internal/eventbus"
	"lifeboat/internal/types"
	"net/http"
	"strconv"
)

type (
	Service interface {
		BackupService
		RestoreService
		ScheduleService
		UpdateService

		Dashboard(ctx context.Context) (*types.Dashboard, error)
		Progress(ctx context.Context, kind types.OperationKind, id uuid.UUID) (types.Progress, error)
		WatchProgress(ctx context.Context, kind types.OperationKind, id uuid.UUID) (<-chan eventbus.Event, error)
	}

	BackupService interface {
		CreateDatabaseBackup(ctx context.Context, params types.CreateDatabaseBackupParams) (*types.Backup, error)
		CreateSystemBackup(ctx context.Context, params types.CreateSystemBackupParams) (*types.Backup, error)
		ListBackups(ctx context.Context, filter ListBackupsFilter) ([]types.Backup, error)
		GetBackup(ctx context.Context, id uuid.UUID) (*types.Backup, error)
		DeleteBackup(ctx context.Context, id uuid.UUID) error
	}

	RestoreService interface {
		CreateRestore(ctx context.Context, params types.CreateRestoreParams) (*types.RestoreOperation, error)
		ListRestores(ctx context.Context) ([]types.RestoreOperation, error)
		CancelRestore(ctx context.Context, id uuid.UUID) (*types.RestoreOperation, error)
	}

	ScheduleService interface {
		CreateSchedule(ctx context.Context, params types.ScheduleParams) (*types.BackupSchedule, error)
		ListSchedules(ctx context.Context) ([]types.BackupSchedule, error)
		ToggleSchedule(ctx context.Context, id uuid.UUID, enabled bool) (*types.BackupSchedule, error)
		DeleteSchedule(ctx context.Context, id uuid.UUID) error
		RunSchedule(ctx context.Context, id uuid.UUID) (*types.Backup, error)
	}

	UpdateService interface {
		CreateUpdate(ctx context.Context, params types.CreateUpdateParams) (*types.SystemUpdate, error)
		ListUpdates(ctx context.Context) ([]types.SystemUpdate, error)
		PatchUpdate(ctx context.Context, id uuid.UUID, patch types.UpdatePatch) (*types.SystemUpdate, error)
		RollbackUpdate(ctx context.Context, id uuid.UUID) (*types.SystemUpdate, error)
	}

	ListBackupsFilter struct {
		Kind   types.BackupKind
		Status types.BackupStatus
		Limit  int
	}

	envelope[T any] struct {
		Message string `json:"message"`
		Data    T      `json:"data"`
	}
)

type service struct {
	apiClient Client
}

func NewService(apiClient Client) Service {
	return service{apiClient: apiClient}
}

func call[T any](ctx context.Context, c Client, method, path string, body interface{}) (T, error) {
	var response envelope[T]
	err := c.Do(ctx, Params{
		Method:   method,
		Path:     path,
		Body:     body,
		Response: &response,
	})
	return response.Data, err
}

func (s service) CreateDatabaseBackup(ctx context.Context, params types.CreateDatabaseBackupParams) (*types.Backup, error) {
	return call[*types.Backup](ctx, s.apiClient, http.MethodPost, "backups/database", params)
}

func (s service) CreateSystemBackup(ctx context.Context, params types.CreateSystemBackupParams) (*types.Backup, error) {
	return call[*types.Backup](ctx, s.apiClient, http.MethodPost, "backups/system", params)
}

func (s service) ListBackups(ctx context.Context, filter ListBackupsFilter) ([]types.Backup, error) {
	var response envelope[[]types.Backup]
	query := map[string]string{
		"kind":   string(filter.Kind),
		"status": string(filter.Status),
	}
	if filter.Limit > 0 {
		query["limit"] = strconv.Itoa(filter.Limit)
	}
	err := s.apiClient.Do(ctx, Params{
		Method:      http.MethodGet,
		Path:        "backups",
		QueryParams: query,
		Response:    &response,
	})
	return response.Data, err
}

func (s service) GetBackup(ctx context.Context, id uuid.UUID) (*types.Backup, error) {
	return call[*types.Backup](ctx, s.apiClient, http.MethodGet, fmt.Sprintf("backups/%s", id), nil)
}

func (s service) DeleteBackup(ctx context.Context, id uuid.UUID) error {
	_, err := call[struct{}](ctx, s.apiClient, http.MethodDelete, fmt.Sprintf("backups/%s", id), nil)
	return err
}

func (s service) CreateRestore(ctx context.Context, params types.CreateRestoreParams) (*types.RestoreOperation, error) {
	return call[*types.RestoreOperation](ctx, s.apiClient, http.MethodPost, "restores", params)
}

func (s service) ListRestores(ctx context.Context) ([]types.RestoreOperation, error) {
	return call[[]types.RestoreOperation](ctx, s.apiClient, http.MethodGet, "restores", nil)
}

func (s service) CancelRestore(ctx context.Context, id uuid.UUID) (*types.RestoreOperation, error) {
	return call[*types.RestoreOperation](ctx, s.apiClient, http.MethodPost, fmt.Sprintf("restores/%s/cancel", id), nil)
}

func (s service) CreateSchedule(ctx context.Context, params types.ScheduleParams) (*types.BackupSchedule, error) {
	return call[*types.BackupSchedule](ctx, s.apiClient, http.MethodPost, "schedules", params)
}

func (s service) ListSchedules(ctx context.Context) ([]types.BackupSchedule, error) {
	return call[[]types.BackupSchedule](ctx, s.apiClient, http.MethodGet, "schedules", nil)
}

func (s service) ToggleSchedule(ctx context.Context, id uuid.UUID, enabled bool) (*types.BackupSchedule, error) {
	body := struct {
		Enabled bool `json:"enabled"`
	}{Enabled: enabled}
	return call[*types.BackupSchedule](ctx, s.apiClient, http.MethodPatch, fmt.Sprintf("schedules/%s/toggle", id), body)
}

func (s service) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	_, err := call[struct{}](ctx, s.apiClient, http.MethodDelete, fmt.Sprintf("schedules/%s", id), nil)
	return err
}

func (s service) RunSchedule(ctx context.Context, id uuid.UUID) (*types.Backup, error) {
	return call[*types.Backup](ctx, s.apiClient, http.MethodPost, fmt.Sprintf("schedules/%s/run", id), nil)
}

func (s service) CreateUpdate(ctx context.Context, params types.CreateUpdateParams) (*types.SystemUpdate, error) {
	return call[*types.SystemUpdate](ctx, s.apiClient, http.MethodPost, "updates", params)
}

func (s service) ListUpdates(ctx context.Context) ([]types.SystemUpdate, error) {
	return call[[]types.SystemUpdate](ctx, s.apiClient, http.MethodGet, "updates", nil)
}

func (s service) PatchUpdate(ctx context.Context, id uuid.UUID, patch types.UpdatePatch) (*types.SystemUpdate, error) {
	return call[*types.SystemUpdate](ctx, s.apiClient, http.MethodPatch, fmt.Sprintf("updates/%s", id), patch)
}

func (s service) RollbackUpdate(ctx context.Context, id uuid.UUID) (*types.SystemUpdate, error) {
	return call[*types.SystemUpdate](ctx, s.apiClient, http.MethodPost, fmt.Sprintf("updates/%s/rollback", id), nil)
}

func (s service) Dashboard(ctx context.Context) (*types.Dashboard, error) {
	return call[*types.Dashboard](ctx, s.apiClient, http.MethodGet, "dashboard", nil)
}

func (s service) Progress(ctx context.Context, kind types.OperationKind, id uuid.UUID) (types.Progress, error) {
	return call[types.Progress](ctx, s.apiClient, http.MethodGet, fmt.Sprintf("%s/%s/progress", route(kind), id), nil)
}

// WatchProgress follows the progress stream until the server ends it or ctx is done.
// A transport failure is delivered as a final Error event.
func (s service) WatchProgress(ctx context.Context, kind types.OperationKind, id uuid.UUID) (<-chan eventbus.Event, error) {
	resp, err := s.apiClient.Stream(ctx, Params{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("%s/%s/progress/stream", route(kind), id),
	})
	if err != nil {
		return nil, err
	}

	ch := make(chan eventbus.Event, 100)
	go func() {
		defer close(ch)
		defer func() {
			_ = resp.Close()
		}()

		sc := bufio.NewScanner(resp)
		for sc.Scan() {
			ev := eventbus.Event{}
			if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
				continue
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}

		if err := sc.Err(); err != nil && ctx.Err() == nil {
			ch <- eventbus.Event{Type: eventbus.Error, Message: err.Error()}
		}
	}()
	return ch, nil
}

func route(kind types.OperationKind) string {
	switch kind {
	case types.OperationRestore:
		return "restores"
	case types.OperationUpdate:
		return "updates"
	default:
		return "backups"
	}
}
