package websocket

import (
	"github.com/lumina-control/backend/internal/registry"
	"github.com/lumina-control/backend/internal/storage/models"
)

// EventBroadcaster turns registry changes and activity entries into hub messages.
type EventBroadcaster struct {
	hub *Hub
}

// NewEventBroadcaster creates a new event broadcaster.
func NewEventBroadcaster(hub *Hub) *EventBroadcaster {
	return &EventBroadcaster{hub: hub}
}

// ControllerChanged implements registry.Listener.
func (b *EventBroadcaster) ControllerChanged(ev registry.ControllerEvent) {
	payload := ControllerStatusPayload{
		Controller: ev.Controller.Redacted(),
		Deleted:    ev.Deleted,
		Cause:      string(ev.Cause),
	}
	if ev.Previous != nil {
		payload.PreviousOnline = ev.Previous.IsOnline
	}
	b.hub.Broadcast(NewMessage(TypeControllerStatusChanged, payload))
}

// LampChanged implements registry.Listener.
func (b *EventBroadcaster) LampChanged(ev registry.LampEvent) {
	payload := LampStatePayload{
		Lamp:    ev.Lamp,
		Deleted: ev.Deleted,
		Cause:   string(ev.Cause),
	}
	if ev.Previous != nil {
		prev := ev.Previous.Status
		payload.PreviousStatus = &prev
	}
	b.hub.Broadcast(NewMessage(TypeLampStateChanged, payload))
}

// BroadcastActivity sends an activity.logged event.
func (b *EventBroadcaster) BroadcastActivity(entry models.ActivityEntry) {
	b.hub.Broadcast(NewMessage(TypeActivityLogged, entry))
}

// BroadcastNotification sends a transient notification.
func (b *EventBroadcaster) BroadcastNotification(level, title, message string) {
	b.hub.Broadcast(NewMessage(TypeNotification, NotificationPayload{
		Level:       level,
		Title:       title,
		Message:     message,
		Dismissible: true,
	}))
}
