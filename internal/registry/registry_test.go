package registry_test

import (
	"testing"
	"time"

	"github.com/gigdesk/realtime-server/internal/model"
	"github.com/gigdesk/realtime-server/internal/registry"
)

func TestConnectionLifecycle(t *testing.T) {
	r := registry.New()

	r.Register("conn-a", "user-1", model.RoleClient)

	if !r.IsOnline("user-1") {
		t.Fatal("user-1 should be online after register")
	}
	if got := r.ActiveCount(); got != 1 {
		t.Errorf("ActiveCount = %d, want 1", got)
	}
	if connID, ok := r.SocketFor("user-1"); !ok || connID != "conn-a" {
		t.Errorf("SocketFor = %q, %v; want conn-a, true", connID, ok)
	}

	info, ok := r.ConnectionInfo("conn-a")
	if !ok {
		t.Fatal("ConnectionInfo missing for registered connection")
	}
	if info.UserID != "user-1" || info.Role != model.RoleClient {
		t.Errorf("unexpected connection info: %+v", info)
	}
	if info.ConnectedAt.IsZero() {
		t.Error("ConnectedAt not set")
	}

	r.Remove("conn-a")

	if r.IsOnline("user-1") {
		t.Error("user-1 should be offline after remove")
	}
	if got := r.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount after remove = %d, want 0", got)
	}
	if _, ok := r.SocketFor("user-1"); ok {
		t.Error("SocketFor should miss after remove")
	}
}

func TestRemoveUnknownConnectionIsNoop(t *testing.T) {
	r := registry.New()
	r.Register("conn-a", "user-1", model.RoleClient)

	r.Remove("conn-unknown")

	if !r.IsOnline("user-1") || r.ActiveCount() != 1 {
		t.Error("removing an unknown connection must not touch existing state")
	}
}

func TestDuplicateLoginLastRegistrationWins(t *testing.T) {
	r := registry.New()

	r.Register("conn-a", "user-1", model.RoleClient)
	r.Register("conn-b", "user-1", model.RoleClient)

	if connID, _ := r.SocketFor("user-1"); connID != "conn-b" {
		t.Errorf("SocketFor = %q, want conn-b (last registration wins)", connID)
	}

	// The orphaned first connection disconnects later; it must not
	// clobber the newer reverse mapping.
	r.Remove("conn-a")

	if !r.IsOnline("user-1") {
		t.Error("user-1 must stay online through conn-b")
	}
	if connID, _ := r.SocketFor("user-1"); connID != "conn-b" {
		t.Errorf("SocketFor after orphan removal = %q, want conn-b", connID)
	}

	r.Remove("conn-b")
	if r.IsOnline("user-1") {
		t.Error("user-1 should be offline once conn-b is gone")
	}
}

func TestRoomMembershipAndCascadeCleanup(t *testing.T) {
	r := registry.New()
	r.Register("conn-a", "user-1", model.RoleClient)
	r.Register("conn-b", "user-2", model.RoleContractor)

	r.JoinRoom("conn-a", "task-1")
	r.JoinRoom("conn-b", "task-1")

	if got := len(r.RoomMembers("task-1")); got != 2 {
		t.Fatalf("room members = %d, want 2", got)
	}
	if got := r.RoomCount(); got != 1 {
		t.Errorf("RoomCount = %d, want 1", got)
	}

	r.Remove("conn-a")

	members := r.RoomMembers("task-1")
	if len(members) != 1 || members[0] != "conn-b" {
		t.Fatalf("room members after remove = %v, want [conn-b]", members)
	}

	// Removing the last member deletes the room, never an empty set.
	r.Remove("conn-b")

	if got := r.RoomMembers("task-1"); len(got) != 0 {
		t.Errorf("room members after last removal = %v, want empty", got)
	}
	if got := r.RoomCount(); got != 0 {
		t.Errorf("RoomCount after cleanup = %d, want 0", got)
	}
}

func TestLeaveRoomDeletesEmptyRoom(t *testing.T) {
	r := registry.New()
	r.Register("conn-a", "user-1", model.RoleClient)

	r.JoinRoom("conn-a", "task-1")
	r.LeaveRoom("conn-a", "task-1")

	if got := r.RoomCount(); got != 0 {
		t.Errorf("RoomCount = %d, want 0 after last member leaves", got)
	}

	// Leaving a nonexistent room is a no-op.
	r.LeaveRoom("conn-a", "task-unknown")
}

func TestOnlineContractors(t *testing.T) {
	r := registry.New()
	r.Register("conn-a", "client-1", model.RoleClient)
	r.Register("conn-b", "contractor-1", model.RoleContractor)
	r.Register("conn-c", "contractor-2", model.RoleContractor)

	contractors := r.OnlineContractors()
	if len(contractors) != 2 {
		t.Fatalf("OnlineContractors = %v, want 2 entries", contractors)
	}
	seen := map[string]bool{}
	for _, id := range contractors {
		seen[id] = true
	}
	if !seen["contractor-1"] || !seen["contractor-2"] || seen["client-1"] {
		t.Errorf("unexpected contractor set: %v", contractors)
	}
}

func TestLocationCacheLastWriteWins(t *testing.T) {
	r := registry.New()

	first := model.ContractorLocation{
		UserID: "contractor-1", Latitude: 52.1, Longitude: 21.0,
		ObservedAt: time.Now().Add(-time.Minute),
	}
	second := model.ContractorLocation{
		UserID: "contractor-1", Latitude: 52.2, Longitude: 21.1,
		ObservedAt: time.Now(),
	}

	r.UpdateLocation(first)
	r.UpdateLocation(second)

	loc, ok := r.LocationOf("contractor-1")
	if !ok {
		t.Fatal("LocationOf missed after update")
	}
	if loc.Latitude != 52.2 || loc.Longitude != 21.1 {
		t.Errorf("LocationOf = %+v, want the second write", loc)
	}

	if _, ok := r.LocationOf("contractor-unknown"); ok {
		t.Error("LocationOf should miss for unknown contractor")
	}
}
