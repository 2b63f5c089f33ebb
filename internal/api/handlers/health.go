package handlers

import (
	"context"
	"net/http"

	"github.com/lumina-control/backend/internal/registry"
	"github.com/lumina-control/backend/internal/storage/models"
	"github.com/lumina-control/backend/internal/usage"
	"github.com/lumina-control/backend/internal/websocket"
)

// Pinger checks the database connection.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	DBConnected bool   `json:"db_connected"`
}

// HealthCheck returns a handler that performs a health check.
func HealthCheck(db Pinger, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbConnected := db.PingContext(r.Context()) == nil

		status := "healthy"
		code := http.StatusOK
		if !dbConnected {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		writeJSON(w, code, HealthResponse{
			Status:      status,
			Version:     version,
			DBConnected: dbConnected,
		})
	}
}

// LampUsage is one row of the usage leaderboard.
type LampUsage struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	TotalOnHours float64 `json:"total_on_hours"`
}

// StatusResponse summarises the devices visible to the caller.
type StatusResponse struct {
	ControllersCount  int         `json:"controllers_count"`
	ControllersOnline int         `json:"controllers_online"`
	LampsCount        int         `json:"lamps_count"`
	LampsOnline       int         `json:"lamps_online"`
	LampsOn           int         `json:"lamps_on"`
	TopUsage          []LampUsage `json:"top_usage"`
	WebSocketClients  int         `json:"websocket_clients"`
}

// Status returns a handler that provides dashboard counters.
func Status(reg *registry.Registry, hub *websocket.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		var resp StatusResponse
		for _, c := range reg.Controllers() {
			if !actor.ManagesController(c) {
				continue
			}
			resp.ControllersCount++
			if c.IsOnline {
				resp.ControllersOnline++
			}
		}

		lamps := visibleLamps(reg, actor)
		for _, l := range lamps {
			resp.LampsCount++
			if l.IsOnline {
				resp.LampsOnline++
			}
			if l.Status {
				resp.LampsOn++
			}
		}

		resp.TopUsage = []LampUsage{}
		for _, l := range usage.Top(lamps, 5) {
			resp.TopUsage = append(resp.TopUsage, LampUsage{ID: l.ID, Name: l.Name, TotalOnHours: l.TotalOnHours})
		}
		if hub != nil {
			resp.WebSocketClients = hub.ClientCount()
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func controllerOf(reg *registry.Registry, l models.Lamp) *models.Controller {
	if c, ok := reg.Controller(l.ControllerID); ok {
		return &c
	}
	return nil
}
