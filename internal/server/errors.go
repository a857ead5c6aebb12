package server

import (
	"errors"
	"net/http"

	"github.com/ashita-ai/mogi/internal/engine"
	"github.com/ashita-ai/mogi/internal/model"
)

// mapError translates engine sentinels into an HTTP status and error code.
// Unrecognized errors become 500 INTERNAL_ERROR.
func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrInvalidArgument):
		return http.StatusBadRequest, model.ErrCodeInvalidInput
	case errors.Is(err, engine.ErrSimulationNotFound),
		errors.Is(err, engine.ErrRunNotFound),
		errors.Is(err, engine.ErrActorNotFound),
		errors.Is(err, engine.ErrOrganizationNotFound):
		return http.StatusNotFound, model.ErrCodeNotFound
	case errors.Is(err, engine.ErrSimulationArchived),
		errors.Is(err, engine.ErrSimulationReferenced):
		return http.StatusConflict, model.ErrCodeConflict
	case errors.Is(err, engine.ErrRunBusy):
		return http.StatusConflict, model.ErrCodeRunBusy
	case errors.Is(err, engine.ErrRunAlreadyTerminal):
		return http.StatusConflict, model.ErrCodeAlreadyTerminal
	case errors.Is(err, engine.ErrRunNotRunning):
		return http.StatusConflict, model.ErrCodeConflict
	case errors.Is(err, engine.ErrProviderFailure):
		return http.StatusBadGateway, model.ErrCodeProviderFailed
	default:
		return http.StatusInternalServerError, model.ErrCodeInternalError
	}
}

// writeServiceError maps err and writes the envelope. The sentinel's own
// message is returned for client-addressable errors; internals are masked.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := mapError(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	writeError(w, r, status, code, msg)
}
