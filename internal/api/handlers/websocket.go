package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lumina-control/backend/internal/access"
	"github.com/lumina-control/backend/internal/registry"
	ws "github.com/lumina-control/backend/internal/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Tokens, not cookies, authenticate the socket.
		return true
	},
}

// WebSocketUpgrade returns a handler that upgrades HTTP connections to WebSocket.
// Each client only receives events about devices its actor can see.
func WebSocketUpgrade(hub *ws.Hub, reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WebSocket upgrade error: %v", err)
			return
		}

		client := ws.NewClient(hub, eventFilter(reg, actor))
		hub.Register(client)

		go writePump(conn, client)
		go readPump(conn, client, hub)
	}
}

// eventFilter decides which hub messages an actor may receive.
func eventFilter(reg *registry.Registry, actor access.Actor) func(ws.Message) bool {
	return func(msg ws.Message) bool {
		switch p := msg.Payload.(type) {
		case ws.ControllerStatusPayload:
			return actor.ManagesController(p.Controller)
		case ws.LampStatePayload:
			return actor.CanView(p.Lamp, controllerOf(reg, p.Lamp))
		}
		if msg.Type == ws.TypeActivityLogged {
			return actor.Privileged()
		}
		return true
	}
}

// writePump pumps messages from the hub to the WebSocket connection.
func writePump(conn *websocket.Conn, client *ws.Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads client messages until the connection drops.
func readPump(conn *websocket.Conn, client *ws.Client, hub *ws.Hub) {
	defer func() {
		hub.Unregister(client)
		conn.Close()
	}()

	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			return
		}
		hub.Deliver(client, replyTo(message))
	}
}

// replyTo answers application-level pings so dashboards can measure latency.
func replyTo(message []byte) []byte {
	var in struct {
		Type ws.MessageType `json:"type"`
	}
	if err := json.Unmarshal(message, &in); err != nil {
		data, _ := ws.NewMessage(ws.TypeError, ws.ErrorPayload{Code: "bad_message", Message: "Message is not valid JSON"}).JSON()
		return data
	}
	if in.Type != ws.TypePing {
		data, _ := ws.NewMessage(ws.TypeError, ws.ErrorPayload{
			Code:         "unsupported",
			Message:      "Unsupported message type",
			OriginalType: string(in.Type),
		}).JSON()
		return data
	}
	data, _ := ws.NewMessage(ws.TypePong, nil).JSON()
	return data
}
