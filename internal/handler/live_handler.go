package handler

import (
	"log"
	"net/http"
	"strings"

	"shoplist-sync-server/internal/websocket"
	"shoplist-sync-server/pkg/jwt"
	"shoplist-sync-server/pkg/response"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
)

// LiveHandler upgrades GET /live to a websocket that only ever carries
// "lists_changed" hints. Browsers cannot set headers on a websocket dial, so
// the token may also come from the query string.
type LiveHandler struct {
	manager   *websocket.Manager
	jwtSecret string
	upgrader  ws.Upgrader
}

func NewLiveHandler(manager *websocket.Manager, jwtSecret string, readBufferSize, writeBufferSize int) *LiveHandler {
	return &LiveHandler{
		manager:   manager,
		jwtSecret: jwtSecret,
		upgrader: ws.Upgrader{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: writeBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *LiveHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		header := r.Header.Get("Authorization")
		if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
			token = header[7:]
		}
	}

	if token == "" {
		response.Unauthorized(w, "missing authorization token")
		return
	}

	claims, err := jwt.ValidateToken(token, h.jwtSecret)
	if err != nil {
		log.Printf("[Live] token validation failed: %v", err)
		response.Unauthorized(w, "invalid token")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Live] failed to upgrade connection: %v", err)
		return
	}

	client := websocket.NewClient(uuid.New().String(), claims.UserID, conn, h.manager)
	h.manager.Register <- client

	go client.WritePump()
	go client.ReadPump()
}

// LiveMessageHandler answers the few messages a client may send on /live.
type LiveMessageHandler struct{}

func NewLiveMessageHandler() *LiveMessageHandler {
	return &LiveMessageHandler{}
}

func (h *LiveMessageHandler) HandleWebSocketMessage(client *websocket.Client, msg *websocket.Message) error {
	switch msg.Type {
	case websocket.TypePing:
		pong, err := websocket.NewMessage(websocket.TypePong, nil)
		if err != nil {
			return err
		}
		return client.Manager.SendToClient(client, pong)
	default:
		log.Printf("[Live] ignoring message type %q from %s", msg.Type, client.ID)
	}
	return nil
}
