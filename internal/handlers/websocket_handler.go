package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"solver-backend/internal/services"
	"solver-backend/internal/utils"
)

// WebSocketHandler upgrades connections into the push hub
type WebSocketHandler struct {
	push     *services.PushService
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates the websocket handler
func NewWebSocketHandler(push *services.PushService) *WebSocketHandler {
	return &WebSocketHandler{
		push: push,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin policy is enforced by the CORS layer in front.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Subscribe handles GET /api/v1/ws. An optional user query parameter
// filters events to that address; without it the stream carries all
// intent lifecycle events.
func (h *WebSocketHandler) Subscribe(c *gin.Context) {
	user := c.Query("user")
	if user != "" {
		user = utils.NormalizeHex(user)
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	h.push.Register(conn, user)
}
