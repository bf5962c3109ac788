package httphandlers

import (
	"context"
	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"lifeboat/internal/eventbus"
	"lifeboat/internal/manager"
	"lifeboat/internal/types"
	"lifeboat/logger"
	"net/http"
	"strconv"
)

type (
	ApiHandler struct {
		mn      manager.Manager
		eb      eventbus.Bus
		metrics http.Handler
	}

	principalKey struct{}
)

// NewApiHandler builds the admin API. metrics may be nil.
func NewApiHandler(mn manager.Manager, eb eventbus.Bus, metrics http.Handler) *ApiHandler {
	return &ApiHandler{mn: mn, eb: eb, metrics: metrics}
}

// Authenticate checks the access token and attaches the caller principal.
// Without identity headers the caller is the instance admin.
func (handler *ApiHandler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := handler.mn.ValidateToken(r.Header.Get(authorizationHeader)); err != nil {
			unauthorized(w, err)
			return
		}
		p := types.Principal{Role: types.RoleAdmin}
		if tenant := r.Header.Get(tenantHeader); tenant != "" {
			p.TenantID = &tenant
		}
		if role := r.Header.Get(roleHeader); role != "" {
			p.Role = role
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	})
}

func principal(r *http.Request) types.Principal {
	p, _ := r.Context().Value(principalKey{}).(types.Principal)
	return p
}

func idParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, errors.Wrap(err, "invalid id")
	}
	return id, nil
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrap(err, "invalid request body")
	}
	return nil
}

func (handler *ApiHandler) CreateDatabaseBackup(w http.ResponseWriter, r *http.Request) {
	var params types.CreateDatabaseBackupParams
	if err := decode(r, &params); err != nil {
		badRequest(w, err)
		return
	}

	bk, err := handler.mn.CreateDatabaseBackup(r.Context(), principal(r), params)
	if err != nil {
		failed(w, err)
		return
	}
	accepted(w, "backup started", bk)
}

func (handler *ApiHandler) CreateSystemBackup(w http.ResponseWriter, r *http.Request) {
	var params types.CreateSystemBackupParams
	if err := decode(r, &params); err != nil {
		badRequest(w, err)
		return
	}

	bk, err := handler.mn.CreateSystemBackup(r.Context(), principal(r), params)
	if err != nil {
		failed(w, err)
		return
	}
	accepted(w, "backup started", bk)
}

func (handler *ApiHandler) ListBackups(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := types.BackupFilter{
		Kind:   types.BackupKind(query.Get("kind")),
		Status: types.BackupStatus(query.Get("status")),
	}
	if tenant := query.Get("tenant_id"); tenant != "" {
		filter.TenantID = &tenant
	}
	if limit := query.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			badRequest(w, errors.New("limit must be a positive number"))
			return
		}
		filter.Limit = n
	}

	backups, err := handler.mn.ListBackups(r.Context(), principal(r), filter)
	if err != nil {
		failed(w, err)
		return
	}
	ok(w, "backups", backups)
}

func (handler *ApiHandler) GetBackup(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		badRequest(w, err)
		return
	}

	bk, err := handler.mn.GetBackup(r.Context(), principal(r), id)
	if err != nil {
		failed(w, err)
		return
	}
	ok(w, "backup", bk)
}

func (handler *ApiHandler) DeleteBackup(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		badRequest(w, err)
		return
	}

	if err := handler.mn.DeleteBackup(r.Context(), principal(r), id); err != nil {
		failed(w, err)
		return
	}
	ok(w, "backup deleted", nil)
}

func (handler *ApiHandler) CreateRestore(w http.ResponseWriter, r *http.Request) {
	var params types.CreateRestoreParams
	if err := decode(r, &params); err != nil {
		badRequest(w, err)
		return
	}

	op, err := handler.mn.CreateRestore(r.Context(), principal(r), params)
	if err != nil {
		failed(w, err)
		return
	}
	accepted(w, "restore started", op)
}

func (handler *ApiHandler) ListRestores(w http.ResponseWriter, r *http.Request) {
	ops, err := handler.mn.ListRestores(r.Context(), principal(r))
	if err != nil {
		failed(w, err)
		return
	}
	ok(w, "restore operations", ops)
}

func (handler *ApiHandler) GetRestore(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		badRequest(w, err)
		return
	}

	op, err := handler.mn.GetRestore(r.Context(), principal(r), id)
	if err != nil {
		failed(w, err)
		return
	}
	ok(w, "restore operation", op)
}

func (handler *ApiHandler) CancelRestore(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		badRequest(w, err)
		return
	}

	op, err := handler.mn.CancelRestore(r.Context(), principal(r), id)
	if err != nil {
		failed(w, err)
		return
	}
	ok(w, "restore cancelled", op)
}

func (handler *ApiHandler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var params types.ScheduleParams
	if err := decode(r, &params); err != nil {
		badRequest(w, err)
		return
	}

	sc, err := handler.mn.CreateSchedule(r.Context(), principal(r), params)
	if err != nil {
		failed(w, err)
		return
	}
	ok(w, "schedule created", sc)
}

func (handler *ApiHandler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := handler.mn.ListSchedules(r.Context(), principal(r))
	if err != nil {
		failed(w, err)
		return
	}
	ok(w, "schedules", schedules)
}

func (handler *ApiHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		badRequest(w, err)
		return
	}

	sc, err := handler.mn.GetSchedule(r.Context(), principal(r), id)
	if err != nil {
		failed(w, err)
		return
	}
	ok(w, "schedule", sc)
}

func (handler *ApiHandler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	var params types.ScheduleParams
	if err := decode(r, &params); err != nil {
		badRequest(w, err)
		return
	}

	sc, err := handler.mn.UpdateSchedule(r.Context(), principal(r), id, params)
	if err != nil {
		failed(w, err)
		return
	}
	ok(w, "schedule updated", sc)
}

func (handler *ApiHandler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		badRequest(w, err)
		return
	}

	if err := handler.mn.DeleteSchedule(r.Context(), principal(r), id); err != nil {
		failed(w, err)
		return
	}
	ok(w, "schedule deleted", nil)
}

func (handler *ApiHandler) ToggleSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decode(r, &body); err != nil {
		badRequest(w, err)
		return
	}
	if body.Enabled == nil {
		badRequest(w, errors.New("enabled is required"))
		return
	}

	sc, err := handler.mn.ToggleSchedule(r.Context(), principal(r), id, *body.Enabled)
	if err != nil {
		failed(w, err)
		return
	}
	ok(w, "schedule toggled", sc)
}

func (handler *ApiHandler) RunSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		badRequest(w, err)
		return
	}

	bk, err := handler.mn.RunSchedule(r.Context(), principal(r), id)
	if err != nil {
		failed(w, err)
		return
	}
	accepted(w, "scheduled backup started", bk)
}

func (handler *ApiHandler) CreateUpdate(w http.ResponseWriter, r *http.Request) {
	var params types.CreateUpdateParams
	if err := decode(r, &params); err != nil {
		badRequest(w, err)
		return
	}

	up, err := handler.mn.CreateUpdate(r.Context(), principal(r), params)
	if err != nil {
		failed(w, err)
		return
	}
	accepted(w, "system update accepted", up)
}

func (handler *ApiHandler) ListUpdates(w http.ResponseWriter, r *http.Request) {
	updates, err := handler.mn.ListUpdates(r.Context(), principal(r))
	if err != nil {
		failed(w, err)
		return
	}
	ok(w, "system updates", updates)
}

func (handler *ApiHandler) GetUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		badRequest(w, err)
		return
	}

	up, err := handler.mn.GetUpdate(r.Context(), principal(r), id)
	if err != nil {
		failed(w, err)
		return
	}
	ok(w, "system update", up)
}

func (handler *ApiHandler) PatchUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	var patch types.UpdatePatch
	if err := decode(r, &patch); err != nil {
		badRequest(w, err)
		return
	}

	up, err := handler.mn.PatchUpdate(r.Context(), principal(r), id, patch)
	if err != nil {
		failed(w, err)
		return
	}
	ok(w, "system update changed", up)
}

func (handler *ApiHandler) RollbackUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		badRequest(w, err)
		return
	}

	up, err := handler.mn.RollbackUpdate(r.Context(), principal(r), id)
	if err != nil {
		failed(w, err)
		return
	}
	accepted(w, "rollback started", up)
}

func (handler *ApiHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	dash, err := handler.mn.Dashboard(r.Context(), principal(r))
	if err != nil {
		failed(w, err)
		return
	}
	ok(w, "dashboard", dash)
}

func (handler *ApiHandler) Progress(kind types.OperationKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r)
		if err != nil {
			badRequest(w, err)
			return
		}

		p, err := handler.mn.Progress(r.Context(), principal(r), kind, id)
		if err != nil {
			failed(w, err)
			return
		}
		ok(w, "progress", p)
	}
}

// StreamProgress writes one JSON event per line until the operation ends or
// the client goes away.
func (handler *ApiHandler) StreamProgress(kind types.OperationKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r)
		if err != nil {
			badRequest(w, err)
			return
		}

		// subscribe before the snapshot so no update falls in between
		ch := handler.eb.Register(id.String())
		defer handler.eb.Unregister(id.String(), ch)

		snapshot, err := handler.mn.Progress(r.Context(), principal(r), kind, id)
		if err != nil {
			failed(w, err)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		data, _ := json.Marshal(snapshot)
		_ = writeSSELine(w, eventbus.Event{Type: eventbus.Info, Message: snapshot.Phase, Data: data})

		for {
			select {
			case ev := <-ch:
				_ = writeSSELine(w, ev)
				if ev.Type == eventbus.Complete || ev.Type == eventbus.Error {
					return
				}
			case <-r.Context().Done():
				logger.Debug("progress stream client disconnected", zap.String("operation_id", id.String()))
				return
			}
		}
	}
}
