package model

import (
	"time"
)

// ─────────────────────────────────────────────
// Roles & Task State Machine
// ─────────────────────────────────────────────

// Role is the connection-level role carried by the bearer token.
type Role string

const (
	RoleClient     Role = "client"
	RoleContractor Role = "contractor"
)

type TaskStatus string

const (
	TaskStatusCreated    TaskStatus = "created"
	TaskStatusAccepted   TaskStatus = "accepted"
	TaskStatusConfirmed  TaskStatus = "confirmed"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// TerminalTaskStatuses are statuses after which a task no longer has an
// active room worth auto-joining.
var TerminalTaskStatuses = []TaskStatus{TaskStatusCompleted, TaskStatusCancelled}

// ─────────────────────────────────────────────
// Core Domain Models
// ─────────────────────────────────────────────

// Task is the marketplace task as persisted by the task-management service.
// Only the fields the realtime layer reads are mapped here.
type Task struct {
	ID           string     `gorm:"primaryKey" json:"id"`
	ClientID     string     `gorm:"index" json:"client_id"`
	ContractorID string     `gorm:"index" json:"contractor_id"`
	Category     string     `json:"category"`
	Title        string     `json:"title"`
	Status       TaskStatus `json:"status"`
	BudgetAmount float64    `json:"budget_amount"`
	Address      string     `json:"address"`
	LocationLat  float64    `json:"location_lat"`
	LocationLng  float64    `json:"location_lng"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TaskParties is the minimal authorization view of a task.
type TaskParties struct {
	ClientID     string `json:"client_id"`
	ContractorID string `json:"contractor_id"`
}

// ChatMessage is a task-scoped chat message. ReadAt is set in bulk by the
// read-receipt path, never per message.
type ChatMessage struct {
	ID        string     `gorm:"primaryKey" json:"id"`
	TaskID    string     `gorm:"index" json:"task_id"`
	SenderID  string     `gorm:"index" json:"sender_id"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}

// ContractorProfile mirrors the contractor service's profile row.
type ContractorProfile struct {
	UserID              string     `gorm:"primaryKey" json:"user_id"`
	Categories          []string   `gorm:"serializer:json" json:"categories"`
	RatingAvg           float64    `json:"rating_avg"`
	CompletedTasksCount int        `json:"completed_tasks_count"`
	IsOnline            bool       `gorm:"index" json:"is_online"`
	LastLocationLat     *float64   `json:"last_location_lat,omitempty"`
	LastLocationLng     *float64   `json:"last_location_lng,omitempty"`
	LastLocationAt      *time.Time `json:"last_location_at,omitempty"`
}

// HasLocation reports whether the profile carries a usable last location.
func (p *ContractorProfile) HasLocation() bool {
	return p.LastLocationLat != nil && p.LastLocationLng != nil
}

// ContractorCandidate is a ranked contractor for one task. Derived per
// ranking request, never persisted.
type ContractorCandidate struct {
	ContractorID string  `json:"contractor_id"`
	Score        float64 `json:"score"`
	DistanceKm   float64 `json:"distance_km"`
}

// ─────────────────────────────────────────────
// Realtime Runtime State
// ─────────────────────────────────────────────

// Connection is one registered WebSocket channel. Owned exclusively by the
// connection registry.
type Connection struct {
	ConnectionID string    `json:"connection_id"`
	UserID       string    `json:"user_id"`
	Role         Role      `json:"role"`
	ConnectedAt  time.Time `json:"connected_at"`
}

// ContractorLocation is the last-write-wins location cache entry.
type ContractorLocation struct {
	UserID     string    `json:"user_id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	ObservedAt time.Time `json:"observed_at"`
}

// GatewayStats is the read-only gateway snapshot.
type GatewayStats struct {
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
}
