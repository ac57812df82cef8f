package registry

import (
	"log"
	"sync"
	"time"

	"github.com/gigdesk/realtime-server/internal/model"
)

// Registry tracks which user is connected on which channel, task-room
// membership, and the contractor-location cache. It is the only
// process-wide mutable store of the realtime layer; all access goes
// through the methods below so the connection map, the reverse user
// index and the room membership sets never diverge.
//
// No method performs I/O while holding the lock.
type Registry struct {
	mu        sync.RWMutex
	conns     map[string]*model.Connection        // connectionID → connection
	userConns map[string]string                   // userID → connectionID
	rooms     map[string]map[string]struct{}      // taskID → set of connectionIDs
	locations map[string]model.ContractorLocation // contractor userID → last location
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		conns:     make(map[string]*model.Connection),
		userConns: make(map[string]string),
		rooms:     make(map[string]map[string]struct{}),
		locations: make(map[string]model.ContractorLocation),
	}
}

// Register records a connection. A second login by the same user
// overwrites the reverse mapping: last registration wins, the prior
// connection stays in the registry until it disconnects on its own.
func (r *Registry) Register(connectionID, userID string, role model.Role) {
	r.mu.Lock()
	r.conns[connectionID] = &model.Connection{
		ConnectionID: connectionID,
		UserID:       userID,
		Role:         role,
		ConnectedAt:  time.Now(),
	}
	r.userConns[userID] = connectionID
	total := len(r.conns)
	r.mu.Unlock()

	log.Printf("[registry] user %s connected (%s) conn=%s total=%d", userID, role, connectionID, total)
}

// Remove deletes the connection record, drops the reverse mapping if it
// still points at this connection, and purges the connection from every
// task room. Rooms left empty are deleted, never kept as empty sets.
func (r *Registry) Remove(connectionID string) {
	r.mu.Lock()
	conn, ok := r.conns[connectionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, connectionID)
	if r.userConns[conn.UserID] == connectionID {
		delete(r.userConns, conn.UserID)
	}
	for taskID, members := range r.rooms {
		delete(members, connectionID)
		if len(members) == 0 {
			delete(r.rooms, taskID)
		}
	}
	total := len(r.conns)
	r.mu.Unlock()

	log.Printf("[registry] user %s disconnected conn=%s total=%d", conn.UserID, connectionID, total)
}

// JoinRoom adds the connection to a task room. Authorization is the
// caller's job, enforced before calling.
func (r *Registry) JoinRoom(connectionID, taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[taskID]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[taskID] = members
	}
	members[connectionID] = struct{}{}
}

// LeaveRoom removes the connection from a task room, deleting the room
// if it ends up empty.
func (r *Registry) LeaveRoom(connectionID, taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[taskID]
	if !ok {
		return
	}
	delete(members, connectionID)
	if len(members) == 0 {
		delete(r.rooms, taskID)
	}
}

// SocketFor returns the live connection ID for a user, if any.
func (r *Registry) SocketFor(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.userConns[userID]
	return id, ok
}

// RoomMembers returns the connection IDs in a task room. Order is
// unspecified; the slice is empty when the room does not exist.
func (r *Registry) RoomMembers(taskID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[taskID]
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// ConnectionInfo returns the registered record for a connection.
func (r *Registry) ConnectionInfo(connectionID string) (*model.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[connectionID]
	return conn, ok
}

// ActiveCount returns the number of registered connections.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// RoomCount returns the number of non-empty task rooms.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// IsOnline reports whether the user has a live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.userConns[userID]
	return ok
}

// OnlineContractors returns the user IDs of all connected contractors.
func (r *Registry) OnlineContractors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for _, conn := range r.conns {
		if conn.Role == model.RoleContractor {
			out = append(out, conn.UserID)
		}
	}
	return out
}

// UpdateLocation records a contractor's location, last write wins.
func (r *Registry) UpdateLocation(loc model.ContractorLocation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locations[loc.UserID] = loc
}

// LocationOf returns the cached location for a contractor.
func (r *Registry) LocationOf(userID string) (model.ContractorLocation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	loc, ok := r.locations[userID]
	return loc, ok
}
