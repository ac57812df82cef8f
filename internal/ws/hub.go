package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gigdesk/realtime-server/internal/model"
	"github.com/gigdesk/realtime-server/internal/registry"
)

// ─────────────────────────────────────────────
// Collaborator interfaces
// ─────────────────────────────────────────────

// Authorizer gates task-scoped actions.
type Authorizer interface {
	IsAuthorizedForTask(ctx context.Context, userID, taskID string) (bool, error)
}

// ChatService persists messages and read receipts.
type ChatService interface {
	SaveMessage(ctx context.Context, msg *model.ChatMessage) (*model.ChatMessage, error)
	MarkRead(ctx context.Context, taskID, readerID string, readAt time.Time) error
}

// LocationWriter mirrors contractor locations into durable storage.
type LocationWriter interface {
	UpdateContractorLocation(ctx context.Context, userID string, lat, lng float64, observedAt time.Time) error
}

// TaskSource supplies the user's active task IDs for room auto-join.
type TaskSource interface {
	GetActiveTaskIDs(ctx context.Context, userID string) ([]string, error)
}

// ─────────────────────────────────────────────
// Hub: manages all authenticated connections
// ─────────────────────────────────────────────

// Hub owns the set of live clients and dispatches gateway events. The
// registry carries the identity/room/location state; the hub maps
// connection IDs back to writable clients for fan-out.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client // connectionID → Client
	registry *registry.Registry

	authz     Authorizer
	chat      ChatService
	locations LocationWriter
	tasks     TaskSource
}

// NewHub creates a new Hub.
func NewHub(reg *registry.Registry, authz Authorizer, chat ChatService, locations LocationWriter, tasks TaskSource) *Hub {
	return &Hub{
		clients:   make(map[string]*Client),
		registry:  reg,
		authz:     authz,
		chat:      chat,
		locations: locations,
		tasks:     tasks,
	}
}

// Register adds an authenticated client, auto-joins its active task
// rooms, and broadcasts the global presence signal.
func (h *Hub) Register(ctx context.Context, c *Client) {
	h.registry.Register(c.ID, c.UserID, c.Role)

	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()

	if h.tasks != nil {
		taskIDs, err := h.tasks.GetActiveTaskIDs(ctx, c.UserID)
		if err != nil {
			log.Printf("[hub] active task lookup for %s failed: %v", c.UserID, err)
		} else {
			for _, taskID := range taskIDs {
				h.registry.JoinRoom(c.ID, taskID)
			}
		}
	}

	h.BroadcastAll(model.EventUserOnline, model.PresencePayload{
		UserID: c.UserID,
		Role:   c.Role,
	})
}

// Unregister removes the client, cascades its room memberships, and
// broadcasts the offline presence signal. Only authenticated clients
// ever reach the hub, so the broadcast is unconditional.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.ID)
	h.mu.Unlock()

	h.registry.Remove(c.ID)

	h.BroadcastAll(model.EventUserOffline, model.PresencePayload{
		UserID: c.UserID,
		Role:   c.Role,
	})
}

// ─────────────────────────────────────────────
// Outbound fan-out
// ─────────────────────────────────────────────

// BroadcastAll sends an event to every connected client, sender included.
func (h *Hub) BroadcastAll(event model.Event, data interface{}) {
	frame, err := marshalEnvelope(event, data)
	if err != nil {
		log.Printf("[hub] marshal %s error: %v", event, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		c.enqueue(frame)
	}
}

// BroadcastRoom sends an event to every member of a task room.
func (h *Hub) BroadcastRoom(taskID string, event model.Event, data interface{}) {
	frame, err := marshalEnvelope(event, data)
	if err != nil {
		log.Printf("[hub] marshal %s error: %v", event, err)
		return
	}

	members := h.registry.RoomMembers(taskID)

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, connID := range members {
		if c, ok := h.clients[connID]; ok {
			c.enqueue(frame)
		}
	}
}

// SendToUser delivers an event to the user's live connection. Returns
// false without error when the user is offline: at-most-once delivery,
// no queuing.
func (h *Hub) SendToUser(userID string, event model.Event, data interface{}) bool {
	connID, ok := h.registry.SocketFor(userID)
	if !ok {
		return false
	}

	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	frame, err := marshalEnvelope(event, data)
	if err != nil {
		log.Printf("[hub] marshal %s error: %v", event, err)
		return false
	}
	c.enqueue(frame)
	return true
}

// BroadcastTaskStatus pushes a task lifecycle change to the task's room.
// Programmatic entry point for the task-management service.
func (h *Hub) BroadcastTaskStatus(taskID string, status model.TaskStatus, updatedBy string) {
	h.BroadcastRoom(taskID, model.EventTaskStatus, model.TaskStatusPayload{
		TaskID:    taskID,
		Status:    status,
		UpdatedAt: time.Now(),
		UpdatedBy: updatedBy,
	})
	log.Printf("[hub] task %s status broadcast: %s", taskID, status)
}

// Stats returns a read-only gateway snapshot.
func (h *Hub) Stats() model.GatewayStats {
	return model.GatewayStats{
		Connections: h.registry.ActiveCount(),
		Rooms:       h.registry.RoomCount(),
	}
}

// ─────────────────────────────────────────────
// Inbound event handlers
// ─────────────────────────────────────────────

// handleLocationUpdate persists and globally broadcasts a contractor's
// location. Clients get an error reply and no state change.
func (h *Hub) handleLocationUpdate(ctx context.Context, c *Client, req *model.LocationUpdateRequest) {
	if c.Role != model.RoleContractor {
		c.sendError("only contractors can update location")
		return
	}

	loc := model.ContractorLocation{
		UserID:     c.UserID,
		Latitude:   req.Latitude,
		Longitude:  req.Longitude,
		ObservedAt: time.Now(),
	}
	h.registry.UpdateLocation(loc)

	if err := h.locations.UpdateContractorLocation(ctx, loc.UserID, loc.Latitude, loc.Longitude, loc.ObservedAt); err != nil {
		log.Printf("[hub] location persist for %s failed: %v", c.UserID, err)
		c.sendError("internal error")
		return
	}

	h.BroadcastAll(model.EventLocationUpdate, model.LocationBroadcast{
		UserID:    loc.UserID,
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
		Timestamp: loc.ObservedAt,
	})
}

// handleTaskJoin adds the connection to the task room after the
// authorization check.
func (h *Hub) handleTaskJoin(ctx context.Context, c *Client, req *model.TaskJoinRequest) {
	authorized, err := h.authz.IsAuthorizedForTask(ctx, c.UserID, req.TaskID)
	if err != nil {
		log.Printf("[hub] authz lookup task=%s user=%s failed: %v", req.TaskID, c.UserID, err)
		c.sendReply(model.EventTaskJoinResult, model.ActionResult{Success: false, Error: "internal error"})
		return
	}
	if !authorized {
		c.sendReply(model.EventTaskJoinResult, model.ActionResult{Success: false, Error: "not authorized for this task"})
		return
	}

	h.registry.JoinRoom(c.ID, req.TaskID)
	c.sendReply(model.EventTaskJoinResult, model.ActionResult{Success: true})
}

// handleTaskLeave removes the connection from the task room. Always
// succeeds for an authenticated connection.
func (h *Hub) handleTaskLeave(c *Client, req *model.TaskLeaveRequest) {
	h.registry.LeaveRoom(c.ID, req.TaskID)
	c.sendReply(model.EventTaskLeaveResult, model.ActionResult{Success: true})
}

// handleMessageSend persists and room-broadcasts a chat message.
// Unauthorized senders get a failure reply and nothing is persisted.
func (h *Hub) handleMessageSend(ctx context.Context, c *Client, req *model.MessageSendRequest) {
	authorized, err := h.authz.IsAuthorizedForTask(ctx, c.UserID, req.TaskID)
	if err != nil {
		log.Printf("[hub] authz lookup task=%s user=%s failed: %v", req.TaskID, c.UserID, err)
		c.sendReply(model.EventMessageSendResult, model.ActionResult{Success: false, Error: "internal error"})
		return
	}
	if !authorized {
		c.sendReply(model.EventMessageSendResult, model.ActionResult{Success: false, Error: "not authorized for this task"})
		return
	}

	saved, err := h.chat.SaveMessage(ctx, &model.ChatMessage{
		TaskID:    req.TaskID,
		SenderID:  c.UserID,
		Content:   req.Content,
		CreatedAt: time.Now(),
	})
	if err != nil {
		log.Printf("[hub] message save task=%s failed: %v", req.TaskID, err)
		c.sendReply(model.EventMessageSendResult, model.ActionResult{Success: false, Error: "internal error"})
		return
	}

	h.BroadcastRoom(req.TaskID, model.EventMessageNew, model.MessageNewPayload{
		ID:        saved.ID,
		TaskID:    saved.TaskID,
		SenderID:  saved.SenderID,
		Content:   saved.Content,
		CreatedAt: saved.CreatedAt,
	})

	c.sendReply(model.EventMessageSendResult, model.ActionResult{Success: true, MessageID: saved.ID})
}

// handleMessageRead bulk-marks the task's unread messages and notifies
// the room.
func (h *Hub) handleMessageRead(ctx context.Context, c *Client, req *model.MessageReadRequest) {
	readAt := time.Now()
	if err := h.chat.MarkRead(ctx, req.TaskID, c.UserID, readAt); err != nil {
		log.Printf("[hub] mark read task=%s failed: %v", req.TaskID, err)
		c.sendError("internal error")
		return
	}

	h.BroadcastRoom(req.TaskID, model.EventMessageRead, model.MessageReadPayload{
		TaskID: req.TaskID,
		ReadBy: c.UserID,
		ReadAt: readAt,
	})
}

func marshalEnvelope(event model.Event, data interface{}) ([]byte, error) {
	return json.Marshal(model.Envelope{Event: event, Data: data})
}
