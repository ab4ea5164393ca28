package wsgateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/orchestrator/internal/common/httpmw"
	"github.com/kandev/orchestrator/internal/common/logger"
	"github.com/kandev/orchestrator/internal/identity"
	"github.com/kandev/orchestrator/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The dashboard and the API always share an origin behind the same
	// reverse proxy; browsers that don't are rejected by UserAuth's bearer
	// check before the handshake ever gets here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades /ws/events connections and registers them with the hub.
type Handler struct {
	hub    *Hub
	store  *store.Store
	logger *logger.Logger
}

// NewHandler wires a connection handler atop the hub and the state store's
// accessible-agents query.
func NewHandler(hub *Hub, st *store.Store, log *logger.Logger) *Handler {
	return &Handler{hub: hub, store: st, logger: log.WithFields(zap.String("component", "ws_handler"))}
}

// RegisterRoutes mounts /ws/events behind UserAuth, the same caller
// authentication the human-facing HTTP API uses.
func (h *Handler) RegisterRoutes(router gin.IRouter) {
	router.GET("/ws/events", h.handleConnection)
}

func (h *Handler) handleConnection(c *gin.Context) {
	caller := httpmw.CallerFrom(c)
	if caller.Kind() != identity.KindUser {
		c.JSON(http.StatusForbidden, gin.H{"error": "only user-authenticated callers may open an events socket"})
		return
	}

	agents, err := h.store.AccessibleAgents(c.Request.Context(), caller.UserID(), caller.IsAdmin())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve accessible agents"})
		return
	}
	names := make([]string, len(agents))
	for i, a := range agents {
		names[i] = a.Name
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(uuid.NewString(), conn, h.hub, caller.IsAdmin(), names, h.logger)
	h.hub.register(client)

	go client.WritePump()
	go client.ReadPump()
}
