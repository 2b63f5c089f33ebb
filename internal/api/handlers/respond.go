// Package handlers provides HTTP request handlers for the API endpoints.
package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/lumina-control/backend/internal/access"
	"github.com/lumina-control/backend/internal/api/middleware"
	"github.com/lumina-control/backend/internal/dispatch"
	"github.com/lumina-control/backend/internal/registry"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// requireActor fetches the caller set by the authentication middleware.
func requireActor(w http.ResponseWriter, r *http.Request) (access.Actor, bool) {
	actor, ok := middleware.ActorFrom(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, middleware.ErrUnauthorized, "Authentication required")
	}
	return actor, ok
}

func forbidden(w http.ResponseWriter) {
	middleware.WriteError(w, http.StatusForbidden, middleware.ErrForbidden, "You do not have access to this resource")
}

// writeDomainError maps registry and dispatcher errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dispatch.ErrPermissionDenied):
		middleware.WriteError(w, http.StatusForbidden, middleware.ErrForbidden, err.Error())
	case errors.Is(err, registry.ErrLampNotFound),
		errors.Is(err, registry.ErrScheduleNotFound):
		middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, err.Error())
	case errors.Is(err, registry.ErrControllerNotFound):
		middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, err.Error())
	case errors.Is(err, dispatch.ErrControllerMissing),
		errors.Is(err, registry.ErrPinInUse):
		middleware.WriteError(w, http.StatusConflict, middleware.ErrConflict, err.Error())
	case errors.Is(err, dispatch.ErrConnectionFailed):
		middleware.WriteError(w, http.StatusBadGateway, middleware.ErrControllerFailed, err.Error())
	case errors.Is(err, registry.ErrInvalid):
		middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, err.Error())
	default:
		log.Printf("Unhandled API error: %v", err)
		middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "An unexpected error occurred")
	}
}
