// Package api provides HTTP routing and handlers for the REST API.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/lumina-control/backend/internal/api/handlers"
	"github.com/lumina-control/backend/internal/api/middleware"
	"github.com/lumina-control/backend/internal/registry"
	"github.com/lumina-control/backend/internal/websocket"
)

// Services are the components the API is built on.
type Services struct {
	DB        handlers.Pinger
	Hub       *websocket.Hub
	Registry  *registry.Registry
	Commands  handlers.Commands
	Prober    handlers.Prober
	Activity  ActivityLog
	Tokens    middleware.TokenParser
	Version   string
	StaticDir string
}

// ActivityLog is read by the activity endpoint and written by admin actions.
type ActivityLog interface {
	handlers.ActivityReader
	handlers.Recorder
}

// NewRouter creates and configures the HTTP router with all API routes.
func NewRouter(svc Services) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.Logging)
	r.Use(middleware.ErrorRecovery)

	api := r.PathPrefix("/api").Subrouter()

	// Unauthenticated so container health checks work without a token.
	api.HandleFunc("/health", handlers.HealthCheck(svc.DB, svc.Version)).Methods("GET")

	protected := api.NewRoute().Subrouter()
	protected.Use(middleware.Authenticate(svc.Tokens))

	protected.HandleFunc("/status", handlers.Status(svc.Registry, svc.Hub)).Methods("GET")
	protected.HandleFunc("/ws", handlers.WebSocketUpgrade(svc.Hub, svc.Registry)).Methods("GET")
	protected.HandleFunc("/activity", handlers.ListActivity(svc.Activity)).Methods("GET")

	// Controller endpoints
	protected.HandleFunc("/controllers", handlers.ListControllers(svc.Registry)).Methods("GET")
	protected.HandleFunc("/controllers", handlers.CreateController(svc.Registry, svc.Activity)).Methods("POST")
	protected.HandleFunc("/controllers/{id}", handlers.GetController(svc.Registry)).Methods("GET")
	protected.HandleFunc("/controllers/{id}", handlers.UpdateController(svc.Registry)).Methods("PUT")
	protected.HandleFunc("/controllers/{id}", handlers.DeleteController(svc.Registry, svc.Activity)).Methods("DELETE")
	protected.HandleFunc("/controllers/{id}/probe", handlers.ProbeController(svc.Registry, svc.Prober)).Methods("POST")

	// Lamp endpoints
	protected.HandleFunc("/lamps", handlers.ListLamps(svc.Registry)).Methods("GET")
	protected.HandleFunc("/lamps", handlers.CreateLamp(svc.Registry, svc.Activity)).Methods("POST")
	protected.HandleFunc("/lamps/{id}", handlers.GetLamp(svc.Registry)).Methods("GET")
	protected.HandleFunc("/lamps/{id}", handlers.UpdateLamp(svc.Registry)).Methods("PUT")
	protected.HandleFunc("/lamps/{id}", handlers.DeleteLamp(svc.Registry, svc.Activity)).Methods("DELETE")
	protected.HandleFunc("/lamps/{id}/toggle", handlers.ToggleLamp(svc.Commands)).Methods("POST")
	protected.HandleFunc("/lamps/{id}/state", handlers.SetLampState(svc.Commands)).Methods("PUT")
	protected.HandleFunc("/lamps/{id}/lock", handlers.LockLamp(svc.Registry, svc.Activity)).Methods("PUT")

	// Schedule endpoints
	protected.HandleFunc("/lamps/{id}/schedules", handlers.CreateSchedule(svc.Registry)).Methods("POST")
	protected.HandleFunc("/lamps/{id}/schedules/{scheduleId}", handlers.UpdateSchedule(svc.Registry)).Methods("PUT")
	protected.HandleFunc("/lamps/{id}/schedules/{scheduleId}", handlers.DeleteSchedule(svc.Registry)).Methods("DELETE")

	if svc.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(svc.StaticDir)))
	}

	return r
}
