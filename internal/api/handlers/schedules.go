package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/lumina-control/backend/internal/registry"
	"github.com/lumina-control/backend/internal/storage/models"
)

// ScheduleRequest is the body of schedule create and update calls.
type ScheduleRequest struct {
	Time    *string `json:"time"`
	Action  *string `json:"action"`
	Enabled *bool   `json:"enabled"`
}

// schedulableLamp loads the {id} lamp and checks the caller may switch it.
func schedulableLamp(w http.ResponseWriter, r *http.Request, reg *registry.Registry) (models.Lamp, bool) {
	actor, l, ctrl, ok := lampFromPath(w, r, reg)
	if !ok {
		return l, false
	}
	if !actor.CanControl(l, ctrl) {
		forbidden(w)
		return l, false
	}
	return l, true
}

// CreateSchedule adds a time-of-day rule to a lamp. New schedules default to enabled.
func CreateSchedule(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l, ok := schedulableLamp(w, r, reg)
		if !ok {
			return
		}

		var req ScheduleRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		s := models.Schedule{Enabled: true}
		if req.Time != nil {
			s.Time = *req.Time
		}
		if req.Action != nil {
			s.Action = *req.Action
		}
		if req.Enabled != nil {
			s.Enabled = *req.Enabled
		}

		created, err := reg.AddSchedule(r.Context(), l.ID, s)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

// UpdateSchedule edits a schedule.
func UpdateSchedule(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l, ok := schedulableLamp(w, r, reg)
		if !ok {
			return
		}

		var req ScheduleRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		updated, err := reg.UpdateSchedule(r.Context(), l.ID, mux.Vars(r)["scheduleId"], registry.ScheduleEdit{
			Time:    req.Time,
			Action:  req.Action,
			Enabled: req.Enabled,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

// DeleteSchedule removes a schedule.
func DeleteSchedule(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l, ok := schedulableLamp(w, r, reg)
		if !ok {
			return
		}
		if err := reg.DeleteSchedule(r.Context(), l.ID, mux.Vars(r)["scheduleId"]); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
