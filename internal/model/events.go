package model

import (
	"encoding/json"
	"time"
)

// ─────────────────────────────────────────────
// WebSocket Protocol Events
// ─────────────────────────────────────────────

type Event string

const (
	// Client → Server
	EventLocationUpdate Event = "location:update"
	EventTaskJoin       Event = "task:join"
	EventTaskLeave      Event = "task:leave"
	EventMessageSend    Event = "message:send"
	EventMessageRead    Event = "message:read"

	// Server → Client
	EventUserOnline       Event = "user:online"
	EventUserOffline      Event = "user:offline"
	EventTaskStatus       Event = "task:status"
	EventMessageNew       Event = "message:new"
	EventTaskNewAvailable Event = "task:new_available"
	EventError            Event = "error"

	// Server → Client, per-request replies to the sender only
	EventTaskJoinResult    Event = "task:join:result"
	EventTaskLeaveResult   Event = "task:leave:result"
	EventMessageSendResult Event = "message:send:result"
)

// Envelope is the top-level WebSocket frame in both directions.
type Envelope struct {
	Event Event       `json:"event"`
	Data  interface{} `json:"data"`
}

// InboundEnvelope keeps the payload raw until the event type is known.
type InboundEnvelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ─────────────────────────────────────────────
// Client → Server payloads
// ─────────────────────────────────────────────

type LocationUpdateRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type TaskJoinRequest struct {
	TaskID string `json:"task_id"`
}

type TaskLeaveRequest struct {
	TaskID string `json:"task_id"`
}

type MessageSendRequest struct {
	TaskID  string `json:"task_id"`
	Content string `json:"content"`
}

type MessageReadRequest struct {
	TaskID string `json:"task_id"`
}

// ─────────────────────────────────────────────
// Server → Client payloads
// ─────────────────────────────────────────────

// PresencePayload is the global user:online / user:offline signal.
type PresencePayload struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

type LocationBroadcast struct {
	UserID    string    `json:"user_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

// ActionResult answers task:join, task:leave and message:send requests.
// MessageID is set only for successful sends.
type ActionResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

type MessageNewPayload struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type MessageReadPayload struct {
	TaskID string    `json:"task_id"`
	ReadBy string    `json:"read_by"`
	ReadAt time.Time `json:"read_at"`
}

type TaskStatusPayload struct {
	TaskID    string     `json:"task_id"`
	Status    TaskStatus `json:"status"`
	UpdatedAt time.Time  `json:"updated_at"`
	UpdatedBy string     `json:"updated_by"`
}

// TaskSummary is the trimmed task view pushed to ranked candidates.
type TaskSummary struct {
	ID           string    `json:"id"`
	Category     string    `json:"category"`
	Title        string    `json:"title"`
	BudgetAmount float64   `json:"budget_amount"`
	Address      string    `json:"address"`
	LocationLat  float64   `json:"location_lat"`
	LocationLng  float64   `json:"location_lng"`
	CreatedAt    time.Time `json:"created_at"`
}

type TaskAvailablePayload struct {
	Task     TaskSummary `json:"task"`
	Score    float64     `json:"score"`
	Distance float64     `json:"distance"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
