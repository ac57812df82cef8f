package handler

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/gigdesk/realtime-server/internal/auth"
	"github.com/gigdesk/realtime-server/internal/authz"
	"github.com/gigdesk/realtime-server/internal/chat"
	appctx "github.com/gigdesk/realtime-server/internal/context"
	"github.com/gigdesk/realtime-server/internal/model"
	"github.com/gigdesk/realtime-server/internal/notify"
	"github.com/gigdesk/realtime-server/internal/store"
	"github.com/gigdesk/realtime-server/internal/ws"
)

// Handler holds the HTTP/WS endpoint handlers.
type Handler struct {
	hub      *ws.Hub
	verifier *auth.Verifier
	authz    *authz.Checker
	chat     *chat.ChatStore
	store    *store.Store
	notifier *notify.Notifier
	upgrader websocket.Upgrader
}

// NewHandler creates the handler set.
func NewHandler(hub *ws.Hub, verifier *auth.Verifier, checker *authz.Checker, chatStore *chat.ChatStore, st *store.Store, notifier *notify.Notifier) *Handler {
	return &Handler{
		hub:      hub,
		verifier: verifier,
		authz:    checker,
		chat:     chatStore,
		store:    st,
		notifier: notifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes registers all routes on the Gin engine. bearerAuth
// protects user-facing endpoints; serviceAuth protects the internal
// push surface used by other backend services.
func (h *Handler) RegisterRoutes(r *gin.Engine, bearerAuth, serviceAuth gin.HandlerFunc) {
	r.GET("/api/v1/health", h.Health)

	// WebSocket endpoint; authenticates inside the upgraded connection.
	r.GET("/realtime", h.Realtime)

	api := r.Group("/api/v1", bearerAuth)
	{
		api.GET("/tasks/:id/messages", h.TaskMessages)
	}

	internal := r.Group("/api/v1/internal", serviceAuth)
	{
		internal.GET("/realtime/stats", h.Stats)
		internal.POST("/tasks/:id/status", h.TaskStatus)
		internal.POST("/tasks/:id/notify", h.NotifyTask)
	}
}

// ─────────────────────────────────────────────
// GET /realtime  (client WebSocket)
// ─────────────────────────────────────────────

// Realtime upgrades the connection and authenticates it. The bearer
// credential is taken from the first non-empty of: the "token" query
// parameter, the Authorization header, the X-Auth-Token header. A
// missing or invalid credential gets an error event and an immediate
// close; there is no unauthenticated grace window.
func (h *Handler) Realtime(c *gin.Context) {
	token := extractConnToken(c)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[handler] websocket upgrade error: %v", err)
		return
	}

	if token == "" {
		rejectConn(conn, "authentication required")
		return
	}

	claims, err := h.verifier.Verify(token)
	if err != nil {
		log.Printf("[handler] realtime auth failed: %v", err)
		rejectConn(conn, "invalid authentication token")
		return
	}

	role := claims.Role
	if role == "" {
		role = model.RoleClient
	}

	client := ws.NewClient(uuid.NewString(), claims.UserID, role, conn, h.hub)
	client.Run(c.Request.Context())
}

// extractConnToken tries the three credential locations in order and
// returns the first non-empty match.
func extractConnToken(c *gin.Context) string {
	if t := c.Query("token"); t != "" {
		return t
	}
	if t := extractBearerHeader(c.GetHeader("Authorization")); t != "" {
		return t
	}
	return c.GetHeader("X-Auth-Token")
}

func extractBearerHeader(h string) string {
	const prefix = "Bearer "
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

// rejectConn emits a terminal error event and closes the connection.
func rejectConn(conn *websocket.Conn, message string) {
	frame, err := json.Marshal(model.Envelope{
		Event: model.EventError,
		Data:  model.ErrorPayload{Message: message},
	})
	if err == nil {
		conn.WriteMessage(websocket.TextMessage, frame)
	}
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message))
	conn.Close()
}

// ─────────────────────────────────────────────
// GET /api/v1/tasks/:id/messages
// ─────────────────────────────────────────────

// TaskMessages returns the task's recent chat history, newest first.
// The caller must be a party to the task.
func (h *Handler) TaskMessages(c *gin.Context) {
	taskID := c.Param("id")
	userID := appctx.GetUserID(c)

	authorized, err := h.authz.IsAuthorizedForTask(c.Request.Context(), userID, taskID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "authorization lookup failed"})
		return
	}
	if !authorized {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for this task"})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	msgs, err := h.chat.RecentMessages(c.Request.Context(), taskID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// ─────────────────────────────────────────────
// Internal push surface
// ─────────────────────────────────────────────

// Stats returns the gateway snapshot.
func (h *Handler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.hub.Stats())
}

// taskStatusRequest is the internal status-broadcast request body.
type taskStatusRequest struct {
	Status    model.TaskStatus `json:"status" binding:"required"`
	UpdatedBy string           `json:"updated_by" binding:"required"`
}

// TaskStatus broadcasts a task lifecycle change to the task's room.
// Called by the task-management service on every status transition.
func (h *Handler) TaskStatus(c *gin.Context) {
	var req taskStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.hub.BroadcastTaskStatus(c.Param("id"), req.Status, req.UpdatedBy)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// NotifyTask ranks candidates for the task and pushes the availability
// notification to each one's live connection.
func (h *Handler) NotifyTask(c *gin.Context) {
	taskID := c.Param("id")

	task, err := h.store.GetTask(c.Request.Context(), taskID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if task == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}

	notified, err := h.notifier.NotifyAvailableContractors(c.Request.Context(), task)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"notified": notified})
}

// ─────────────────────────────────────────────
// GET /api/v1/health
// ─────────────────────────────────────────────

// Health returns basic server health info.
func (h *Handler) Health(c *gin.Context) {
	stats := h.hub.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": stats.Connections,
		"rooms":       stats.Rooms,
	})
}
