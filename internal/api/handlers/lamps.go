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

// Commands switches lamps on behalf of an actor.
type Commands interface {
	Toggle(ctx context.Context, actor access.Actor, lampID string) (models.Lamp, error)
	SetState(ctx context.Context, actor access.Actor, lampID string, on bool) (models.Lamp, error)
}

// LampRequest is the body of lamp create and update calls.
type LampRequest struct {
	Name         *string           `json:"name"`
	Pin          *int              `json:"pin"`
	ControllerID *string           `json:"controller_id"`
	Schedules    []models.Schedule `json:"schedules"`
}

func visibleLamps(reg *registry.Registry, actor access.Actor) []models.Lamp {
	out := []models.Lamp{}
	for _, l := range reg.Lamps() {
		if actor.CanView(l, controllerOf(reg, l)) {
			out = append(out, l)
		}
	}
	return out
}

// managesLamp reports whether the actor may edit a lamp. Only super admins
// can touch orphans.
func managesLamp(actor access.Actor, ctrl *models.Controller) bool {
	if ctrl == nil {
		return actor.Role == access.RoleSuperAdmin
	}
	return actor.ManagesController(*ctrl)
}

// ListLamps returns the lamps visible to the caller, optionally for one controller.
func ListLamps(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		lamps := visibleLamps(reg, actor)
		if cid := r.URL.Query().Get("controller_id"); cid != "" {
			filtered := []models.Lamp{}
			for _, l := range lamps {
				if l.ControllerID == cid {
					filtered = append(filtered, l)
				}
			}
			lamps = filtered
		}
		writeJSON(w, http.StatusOK, lamps)
	}
}

// CreateLamp adds a lamp to a controller the caller administers.
func CreateLamp(reg *registry.Registry, activity Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		var req LampRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Name == nil || req.Pin == nil || req.ControllerID == nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "Name, pin and controller_id are required")
			return
		}
		ctrl, found := reg.Controller(*req.ControllerID)
		if !found {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Controller not found")
			return
		}
		if !actor.ManagesController(ctrl) {
			forbidden(w)
			return
		}

		created, err := reg.AddLamp(r.Context(), models.Lamp{
			Name:         *req.Name,
			Pin:          *req.Pin,
			ControllerID: ctrl.ID,
			Schedules:    req.Schedules,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		record(r.Context(), activity, actor, "lamp_added",
			fmt.Sprintf("Lamp %s added on %s pin %d", created.Name, ctrl.Name, created.Pin))
		writeJSON(w, http.StatusCreated, created)
	}
}

// lampFromPath loads the {id} lamp and checks the caller can see it.
func lampFromPath(w http.ResponseWriter, r *http.Request, reg *registry.Registry) (access.Actor, models.Lamp, *models.Controller, bool) {
	actor, ok := requireActor(w, r)
	if !ok {
		return actor, models.Lamp{}, nil, false
	}
	l, found := reg.Lamp(mux.Vars(r)["id"])
	if !found {
		middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Lamp not found")
		return actor, models.Lamp{}, nil, false
	}
	ctrl := controllerOf(reg, l)
	if !actor.CanView(l, ctrl) {
		forbidden(w)
		return actor, models.Lamp{}, nil, false
	}
	return actor, l, ctrl, true
}

// GetLamp returns a single lamp.
func GetLamp(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, l, _, ok := lampFromPath(w, r, reg); ok {
			writeJSON(w, http.StatusOK, l)
		}
	}
}

// UpdateLamp renames, re-pins or moves a lamp.
func UpdateLamp(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, l, ctrl, ok := lampFromPath(w, r, reg)
		if !ok {
			return
		}
		if !managesLamp(actor, ctrl) {
			forbidden(w)
			return
		}

		var req LampRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Schedules != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "Use the schedules endpoints to change schedules")
			return
		}
		if req.ControllerID != nil && *req.ControllerID != l.ControllerID {
			target, found := reg.Controller(*req.ControllerID)
			if !found {
				middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Controller not found")
				return
			}
			if !actor.ManagesController(target) {
				forbidden(w)
				return
			}
		}

		updated, err := reg.UpdateLamp(r.Context(), l.ID, registry.LampEdit{
			Name:         req.Name,
			Pin:          req.Pin,
			ControllerID: req.ControllerID,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

// DeleteLamp removes a lamp.
func DeleteLamp(reg *registry.Registry, activity Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, l, ctrl, ok := lampFromPath(w, r, reg)
		if !ok {
			return
		}
		if !managesLamp(actor, ctrl) {
			forbidden(w)
			return
		}

		if err := reg.DeleteLamp(r.Context(), l.ID); err != nil {
			writeDomainError(w, err)
			return
		}
		record(r.Context(), activity, actor, "lamp_deleted", fmt.Sprintf("Lamp %s deleted", l.Name))
		w.WriteHeader(http.StatusNoContent)
	}
}

// ToggleLamp flips a lamp.
func ToggleLamp(cmds Commands) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		lamp, err := cmds.Toggle(r.Context(), actor, mux.Vars(r)["id"])
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, lamp)
	}
}

// SetLampState drives a lamp to an explicit state.
func SetLampState(cmds Commands) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		var req struct {
			Status *bool `json:"status"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Status == nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "status is required")
			return
		}

		lamp, err := cmds.SetState(r.Context(), actor, mux.Vars(r)["id"], *req.Status)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, lamp)
	}
}

// LockLamp locks or unlocks a lamp against schedules and non-admin toggles.
func LockLamp(reg *registry.Registry, activity Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, l, ctrl, ok := lampFromPath(w, r, reg)
		if !ok {
			return
		}
		if !actor.Privileged() || !managesLamp(actor, ctrl) {
			forbidden(w)
			return
		}

		var req struct {
			Locked *bool `json:"locked"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Locked == nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "locked is required")
			return
		}

		updated, err := reg.SetLocked(r.Context(), l.ID, *req.Locked)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if updated.Version != l.Version {
			verb := "unlocked"
			if updated.IsLocked {
				verb = "locked"
			}
			record(r.Context(), activity, actor, "lamp_"+verb, fmt.Sprintf("Lamp %s %s", l.Name, verb))
		}
		writeJSON(w, http.StatusOK, updated)
	}
}
