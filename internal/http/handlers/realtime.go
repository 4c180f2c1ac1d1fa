package handlers

import (
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/branchchat-backend/internal/platform/logger"
	"github.com/yungbote/branchchat-backend/internal/realtime"
)

type RealtimeHandler struct {
	Log *logger.Logger
	Hub *realtime.SSEHub

	mu      sync.Mutex
	clients map[uuid.UUID]*realtime.SSEClient
}

func NewRealtimeHandler(log *logger.Logger, hub *realtime.SSEHub) *RealtimeHandler {
	return &RealtimeHandler{
		Log:     log.With("handler", "RealtimeHandler"),
		Hub:     hub,
		clients: make(map[uuid.UUID]*realtime.SSEClient),
	}
}

// Open reports the number of live event streams.
func (h *RealtimeHandler) Open() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// GET /api/chats/:id/events
func (h *RealtimeHandler) ChatEvents(c *gin.Context) {
	chatID, ok := parseID(c, "id")
	if !ok {
		return
	}
	client := h.Hub.NewSSEClient()
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()

	h.Hub.AddChannel(client, realtime.ChatChannel(chatID))
	h.Hub.AddChannel(client, realtime.MetaChannel)
	h.Log.Info("SSE stream open", "chat_id", chatID.String(), "client_id", client.ID.String())

	h.Hub.ServeHTTP(c.Writer, c.Request, client)

	h.mu.Lock()
	delete(h.clients, client.ID)
	h.mu.Unlock()
	h.Hub.CloseClient(client)
	h.Log.Debug("SSE stream closed", "chat_id", chatID.String(), "client_id", client.ID.String())
}

// CloseAll ends every open stream. Used on shutdown.
func (h *RealtimeHandler) CloseAll() {
	h.mu.Lock()
	open := make([]*realtime.SSEClient, 0, len(h.clients))
	for _, cl := range h.clients {
		open = append(open, cl)
	}
	h.mu.Unlock()
	for _, cl := range open {
		h.Hub.CloseClient(cl)
	}
}
