package handlers

import (
	"net/http"
	"time"

	"curator/internal/core"
	"curator/internal/utils"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// EventsHandler streams pipeline events over a websocket. A session query
// parameter or header limits the stream to that session.
type EventsHandler struct {
	bus    *core.EventBus
	logger *utils.Logger
}

func NewEventsHandler(bus *core.EventBus, logger *utils.Logger) *EventsHandler {
	return &EventsHandler{bus: bus, logger: logger}
}

func (h *EventsHandler) Serve(w http.ResponseWriter, r *http.Request) {
	only := r.URL.Query().Get("session")
	if only == "" {
		only = session(r)
	}

	// Subscribe first so nothing published after the handshake is missed
	events, cancel := h.bus.Subscribe(64)
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Websocket upgrade failed:", err)
		return
	}
	defer conn.Close()

	// The read loop only notices the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug("Websocket closed:", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case e, ok := <-events:
			if !ok {
				return
			}
			if only != "" && e.Session != only {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				h.logger.Debug("Websocket write failed:", err)
				return
			}
		}
	}
}
