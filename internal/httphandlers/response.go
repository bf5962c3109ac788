package httphandlers

import (
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"lifeboat/internal/misc"
	"lifeboat/internal/types"
	"lifeboat/logger"
	"net/http"
)

const (
	authorizationHeader = "X-Access-Token"
	tenantHeader        = "X-Tenant-ID"
	roleHeader          = "X-Role"
)

type (
	response struct {
		Error   bool        `json:"error"`
		Message string      `json:"message"`
		Data    interface{} `json:"data"`
	}
)

func badRequest(w http.ResponseWriter, err error) {
	writeError(w, http.StatusBadRequest, err)
}

func unauthorized(w http.ResponseWriter, err error) {
	writeError(w, http.StatusUnauthorized, err)
}

// failed maps engine errors onto status codes. Anything unclassified is a 500.
func failed(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrCapacity):
		status = http.StatusTooManyRequests
	case errors.Is(err, types.ErrDuplicate), errors.Is(err, types.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, types.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, types.ErrForbidden):
		status = http.StatusForbidden
	}
	if status == http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
	}
	writeError(w, status, err)
}

func ok(w http.ResponseWriter, message string, data interface{}) {
	writeJSON(w, http.StatusOK, response{Message: message, Data: data})
}

func accepted(w http.ResponseWriter, message string, data interface{}) {
	writeJSON(w, http.StatusAccepted, response{Message: message, Data: data})
}

func writeError(w http.ResponseWriter, errorCode int, err error) {
	errmsg := ""
	if err != nil {
		errmsg = err.Error()
	}
	writeJSON(w, errorCode, response{Error: true, Message: errmsg})
}

func writeJSON(w http.ResponseWriter, status int, r response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	data, _ := json.Marshal(r)
	_, _ = w.Write(data)
}

func writeSSELine(w http.ResponseWriter, data interface{}) error {
	bytes, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, _ = w.Write(bytes)
	_, _ = w.Write([]byte(misc.Seperator))
	flusher, ok := w.(http.Flusher)
	if ok {
		flusher.Flush()
	}
	return nil
}
