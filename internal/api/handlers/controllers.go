package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/lumina-control/backend/internal/access"
	"github.com/lumina-control/backend/internal/api/middleware"
	"github.com/lumina-control/backend/internal/registry"
	"github.com/lumina-control/backend/internal/storage/models"
)

// Prober runs an on-demand liveness probe.
type Prober interface {
	ProbeNow(ctx context.Context, controllerID string) (models.Controller, error)
}

// Recorder writes admin actions to the activity log.
type Recorder interface {
	Record(ctx context.Context, entry models.ActivityEntry)
}

// ControllerRequest is the body of controller create and update calls.
type ControllerRequest struct {
	Name         *string `json:"name"`
	Address      *string `json:"address"`
	SharedSecret *string `json:"shared_secret"`
	Model        *string `json:"model"`
	OwnerID      *string `json:"owner_id"`
}

// ControllerResponse is a controller with its lamp count. The shared secret is never included.
type ControllerResponse struct {
	models.Controller
	LampCount int `json:"lamp_count"`
}

func controllerResponse(reg *registry.Registry, c models.Controller) ControllerResponse {
	return ControllerResponse{
		Controller: c.Redacted(),
		LampCount:  len(reg.LampsByController(c.ID)),
	}
}

// ListControllers returns the controllers the caller administers.
func ListControllers(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		if !actor.Privileged() {
			forbidden(w)
			return
		}

		out := []ControllerResponse{}
		for _, c := range reg.Controllers() {
			if actor.ManagesController(c) {
				out = append(out, controllerResponse(reg, c))
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// CreateController registers a controller. Admins always own what they create.
func CreateController(reg *registry.Registry, activity Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		if !actor.Privileged() {
			forbidden(w)
			return
		}

		var req ControllerRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Name == nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "Name is required")
			return
		}

		c := models.Controller{Name: *req.Name, OwnerID: actor.ID}
		if req.Address != nil {
			c.Address = *req.Address
		}
		if req.SharedSecret != nil {
			c.SharedSecret = *req.SharedSecret
		}
		if req.Model != nil {
			c.Model = *req.Model
		}
		if req.OwnerID != nil && actor.Role == access.RoleSuperAdmin {
			c.OwnerID = *req.OwnerID
		}

		created, err := reg.AddController(r.Context(), c)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		record(r.Context(), activity, actor, "controller_added", fmt.Sprintf("Controller %s added", created.Name))
		writeJSON(w, http.StatusCreated, controllerResponse(reg, created))
	}
}

// managedController loads the {id} controller and checks the caller administers it.
func managedController(w http.ResponseWriter, r *http.Request, reg *registry.Registry) (access.Actor, models.Controller, bool) {
	actor, ok := requireActor(w, r)
	if !ok {
		return actor, models.Controller{}, false
	}
	c, found := reg.Controller(mux.Vars(r)["id"])
	if !found {
		middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Controller not found")
		return actor, models.Controller{}, false
	}
	if !actor.ManagesController(c) {
		forbidden(w)
		return actor, models.Controller{}, false
	}
	return actor, c, true
}

// GetController returns a single controller.
func GetController(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, c, ok := managedController(w, r, reg); ok {
			writeJSON(w, http.StatusOK, controllerResponse(reg, c))
		}
	}
}

// UpdateController edits a controller. Only super admins may reassign ownership.
func UpdateController(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, c, ok := managedController(w, r, reg)
		if !ok {
			return
		}

		var req ControllerRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.OwnerID != nil && *req.OwnerID != c.OwnerID && actor.Role != access.RoleSuperAdmin {
			forbidden(w)
			return
		}

		updated, err := reg.UpdateController(r.Context(), c.ID, registry.ControllerEdit{
			Name:         req.Name,
			Address:      req.Address,
			SharedSecret: req.SharedSecret,
			Model:        req.Model,
			OwnerID:      req.OwnerID,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, controllerResponse(reg, updated))
	}
}

// DeleteController removes a controller and its lamps.
func DeleteController(reg *registry.Registry, activity Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, c, ok := managedController(w, r, reg)
		if !ok {
			return
		}

		removed, err := reg.DeleteController(r.Context(), c.ID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		record(r.Context(), activity, actor, "controller_deleted",
			fmt.Sprintf("Controller %s deleted with %d lamp(s)", c.Name, len(removed)))
		w.WriteHeader(http.StatusNoContent)
	}
}

// ProbeController checks a controller right away instead of waiting for the next tick.
func ProbeController(reg *registry.Registry, prober Prober) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, c, ok := managedController(w, r, reg)
		if !ok {
			return
		}

		probed, err := prober.ProbeNow(r.Context(), c.ID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, controllerResponse(reg, probed))
	}
}

func record(ctx context.Context, activity Recorder, actor access.Actor, action, details string) {
	if activity == nil {
		return
	}
	activity.Record(ctx, models.ActivityEntry{
		Actor:   actor.DisplayName(),
		Action:  action,
		Details: details,
		Level:   models.LevelInfo,
	})
}
