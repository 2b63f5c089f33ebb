package websocket

import (
	"encoding/json"
	"time"

	"github.com/lumina-control/backend/internal/storage/models"
)

// MessageType identifies the type of WebSocket message.
type MessageType string

const (
	// Server -> Client event types
	TypeControllerStatusChanged MessageType = "controller.status_changed"
	TypeLampStateChanged        MessageType = "lamp.state_changed"
	TypeActivityLogged          MessageType = "activity.logged"
	TypeNotification            MessageType = "notification"

	// Client -> Server command types
	TypePing MessageType = "ping"

	// Server -> Client response types
	TypePong  MessageType = "pong"
	TypeError MessageType = "error"
)

// Message represents a WebSocket message envelope.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   any         `json:"payload"`
}

// NewMessage creates a new message with the current timestamp.
func NewMessage(msgType MessageType, payload any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// JSON serializes the message to JSON bytes.
func (m Message) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// ControllerStatusPayload is the payload for controller.status_changed events.
type ControllerStatusPayload struct {
	Controller     models.Controller `json:"controller"`
	PreviousOnline bool              `json:"previous_online"`
	Deleted        bool              `json:"deleted,omitempty"`
	Cause          string            `json:"cause"`
}

// LampStatePayload is the payload for lamp.state_changed events.
type LampStatePayload struct {
	Lamp           models.Lamp `json:"lamp"`
	PreviousStatus *bool       `json:"previous_status,omitempty"`
	Deleted        bool        `json:"deleted,omitempty"`
	Cause          string      `json:"cause"`
}

// NotificationPayload is the payload for notification events.
type NotificationPayload struct {
	Level       string `json:"level"` // info, warning, error, success
	Title       string `json:"title"`
	Message     string `json:"message"`
	Dismissible bool   `json:"dismissible"`
}

// ErrorPayload is the payload for error messages.
type ErrorPayload struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	OriginalType string `json:"original_type,omitempty"`
}
