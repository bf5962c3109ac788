package httphandlers

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"lifeboat/internal/types"
	"net/http"
)

func Routes(h *ApiHandler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)

	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Route("/v1", func(rr chi.Router) {
		rr.Get("/h", func(writer http.ResponseWriter, request *http.Request) {
			ok(writer, "lifeboat is up", struct{}{})
		})

		rr.Group(func(ar chi.Router) {
			ar.Use(h.Authenticate)

			ar.Post("/backups/database", h.CreateDatabaseBackup)
			ar.Post("/backups/system", h.CreateSystemBackup)
			ar.Get("/backups", h.ListBackups)
			ar.Get("/backups/{id}", h.GetBackup)
			ar.Delete("/backups/{id}", h.DeleteBackup)
			ar.Get("/backups/{id}/progress", h.Progress(types.OperationBackup))
			ar.Get("/backups/{id}/progress/stream", h.StreamProgress(types.OperationBackup))

			ar.Post("/restores", h.CreateRestore)
			ar.Get("/restores", h.ListRestores)
			ar.Get("/restores/{id}", h.GetRestore)
			ar.Post("/restores/{id}/cancel", h.CancelRestore)
			ar.Get("/restores/{id}/progress", h.Progress(types.OperationRestore))
			ar.Get("/restores/{id}/progress/stream", h.StreamProgress(types.OperationRestore))

			ar.Post("/schedules", h.CreateSchedule)
			ar.Get("/schedules", h.ListSchedules)
			ar.Get("/schedules/{id}", h.GetSchedule)
			ar.Put("/schedules/{id}", h.UpdateSchedule)
			ar.Delete("/schedules/{id}", h.DeleteSchedule)
			ar.Patch("/schedules/{id}/toggle", h.ToggleSchedule)
			ar.Post("/schedules/{id}/run", h.RunSchedule)

			ar.Post("/updates", h.CreateUpdate)
			ar.Get("/updates", h.ListUpdates)
			ar.Get("/updates/{id}", h.GetUpdate)
			ar.Patch("/updates/{id}", h.PatchUpdate)
			ar.Post("/updates/{id}/rollback", h.RollbackUpdate)
			ar.Get("/updates/{id}/progress", h.Progress(types.OperationUpdate))
			ar.Get("/updates/{id}/progress/stream", h.StreamProgress(types.OperationUpdate))

			ar.Get("/dashboard", h.Dashboard)
		})
	})
	return r
}
