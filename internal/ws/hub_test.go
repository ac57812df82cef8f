package ws

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/gigdesk/realtime-server/internal/model"
	"github.com/gigdesk/realtime-server/internal/registry"
)

// ─────────────────────────────────────────────
// Fakes
// ─────────────────────────────────────────────

type fakeAuthz struct {
	allowed map[string]bool // userID+"/"+taskID → allowed
	err     error
}

func (f *fakeAuthz) IsAuthorizedForTask(ctx context.Context, userID, taskID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.allowed[userID+"/"+taskID], nil
}

type fakeChat struct {
	saved     []*model.ChatMessage
	readCalls []string // taskID+"/"+readerID
	saveErr   error
}

func (f *fakeChat) SaveMessage(ctx context.Context, msg *model.ChatMessage) (*model.ChatMessage, error) {
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	stored := *msg
	stored.ID = "msg-1"
	f.saved = append(f.saved, &stored)
	return &stored, nil
}

func (f *fakeChat) MarkRead(ctx context.Context, taskID, readerID string, readAt time.Time) error {
	f.readCalls = append(f.readCalls, taskID+"/"+readerID)
	return nil
}

type fakeLocations struct {
	updates []model.ContractorLocation
	err     error
}

func (f *fakeLocations) UpdateContractorLocation(ctx context.Context, userID string, lat, lng float64, observedAt time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.updates = append(f.updates, model.ContractorLocation{
		UserID: userID, Latitude: lat, Longitude: lng, ObservedAt: observedAt,
	})
	return nil
}

type fakeTasks struct {
	active map[string][]string // userID → active task IDs
}

func (f *fakeTasks) GetActiveTaskIDs(ctx context.Context, userID string) ([]string, error) {
	return f.active[userID], nil
}

// ─────────────────────────────────────────────
// Harness
// ─────────────────────────────────────────────

type hubFixture struct {
	hub   *Hub
	reg   *registry.Registry
	authz *fakeAuthz
	chat  *fakeChat
	loc   *fakeLocations
	tasks *fakeTasks
}

func newFixture() *hubFixture {
	reg := registry.New()
	authz := &fakeAuthz{allowed: map[string]bool{}}
	chat := &fakeChat{}
	loc := &fakeLocations{}
	tasks := &fakeTasks{active: map[string][]string{}}
	return &hubFixture{
		hub:   NewHub(reg, authz, chat, loc, tasks),
		reg:   reg,
		authz: authz,
		chat:  chat,
		loc:   loc,
		tasks: tasks,
	}
}

// connect registers a client without running its pumps; handlers only
// enqueue frames, so no live socket is needed.
func (f *hubFixture) connect(t *testing.T, connID, userID string, role model.Role) *Client {
	t.Helper()
	c := NewClient(connID, userID, role, nil, f.hub)
	f.hub.Register(context.Background(), c)
	return c
}

// recv pops one queued frame from the client's send buffer.
func recv(t *testing.T, c *Client) model.InboundEnvelope {
	t.Helper()
	select {
	case frame := <-c.send:
		var env model.InboundEnvelope
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Fatalf("invalid frame %q: %v", frame, err)
		}
		return env
	default:
		t.Fatal("no frame queued")
		return model.InboundEnvelope{}
	}
}

// drain discards everything queued so far (setup presence traffic).
func drain(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

func expectNone(t *testing.T, c *Client) {
	t.Helper()
	select {
	case frame := <-c.send:
		t.Fatalf("unexpected frame: %s", frame)
	default:
	}
}

func decode(t *testing.T, env model.InboundEnvelope, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(env.Data, out); err != nil {
		t.Fatalf("decode %s payload: %v", env.Event, err)
	}
}

// ─────────────────────────────────────────────
// Lifecycle
// ─────────────────────────────────────────────

func TestRegisterBroadcastsPresenceAndAutoJoins(t *testing.T) {
	f := newFixture()
	f.tasks.active["user-1"] = []string{"task-9"}

	c := f.connect(t, "conn-a", "user-1", model.RoleClient)

	env := recv(t, c)
	if env.Event != model.EventUserOnline {
		t.Fatalf("event = %s, want user:online", env.Event)
	}
	var presence model.PresencePayload
	decode(t, env, &presence)
	if presence.UserID != "user-1" || presence.Role != model.RoleClient {
		t.Errorf("presence payload = %+v", presence)
	}

	members := f.reg.RoomMembers("task-9")
	if len(members) != 1 || members[0] != "conn-a" {
		t.Errorf("auto-join members = %v, want [conn-a]", members)
	}
}

func TestUnregisterBroadcastsOfflineAndCleansUp(t *testing.T) {
	f := newFixture()
	c1 := f.connect(t, "conn-a", "user-1", model.RoleContractor)
	c2 := f.connect(t, "conn-b", "user-2", model.RoleClient)
	f.reg.JoinRoom("conn-a", "task-1")
	drain(c1)
	drain(c2)

	f.hub.Unregister(c1)

	env := recv(t, c2)
	if env.Event != model.EventUserOffline {
		t.Fatalf("event = %s, want user:offline", env.Event)
	}
	var presence model.PresencePayload
	decode(t, env, &presence)
	if presence.UserID != "user-1" || presence.Role != model.RoleContractor {
		t.Errorf("presence payload = %+v", presence)
	}

	if f.reg.IsOnline("user-1") {
		t.Error("user-1 still online after unregister")
	}
	if len(f.reg.RoomMembers("task-1")) != 0 {
		t.Error("room membership not cascaded on unregister")
	}
}

// ─────────────────────────────────────────────
// location:update
// ─────────────────────────────────────────────

func TestLocationUpdateRejectsClients(t *testing.T) {
	f := newFixture()
	client := f.connect(t, "conn-a", "user-1", model.RoleClient)
	peer := f.connect(t, "conn-b", "user-2", model.RoleClient)
	drain(client)
	drain(peer)

	f.hub.handleLocationUpdate(context.Background(), client, &model.LocationUpdateRequest{
		Latitude: 52.0, Longitude: 21.0,
	})

	env := recv(t, client)
	if env.Event != model.EventError {
		t.Fatalf("event = %s, want error", env.Event)
	}
	var errPayload model.ErrorPayload
	decode(t, env, &errPayload)
	if errPayload.Message != "only contractors can update location" {
		t.Errorf("error message = %q", errPayload.Message)
	}

	if len(f.loc.updates) != 0 {
		t.Error("client location must not be persisted")
	}
	expectNone(t, peer)
}

func TestLocationUpdatePersistsAndBroadcasts(t *testing.T) {
	f := newFixture()
	contractor := f.connect(t, "conn-a", "contractor-1", model.RoleContractor)
	peer := f.connect(t, "conn-b", "user-2", model.RoleClient)
	drain(contractor)
	drain(peer)

	f.hub.handleLocationUpdate(context.Background(), contractor, &model.LocationUpdateRequest{
		Latitude: 52.23, Longitude: 21.01,
	})

	if len(f.loc.updates) != 1 || f.loc.updates[0].UserID != "contractor-1" {
		t.Fatalf("persisted updates = %+v", f.loc.updates)
	}

	if loc, ok := f.reg.LocationOf("contractor-1"); !ok || loc.Latitude != 52.23 {
		t.Errorf("registry cache = %+v, %v", loc, ok)
	}

	// Global broadcast reaches every peer, sender included.
	for _, c := range []*Client{contractor, peer} {
		env := recv(t, c)
		if env.Event != model.EventLocationUpdate {
			t.Fatalf("event = %s, want location:update", env.Event)
		}
		var loc model.LocationBroadcast
		decode(t, env, &loc)
		if loc.UserID != "contractor-1" || loc.Latitude != 52.23 || loc.Longitude != 21.01 {
			t.Errorf("broadcast payload = %+v", loc)
		}
	}
}

func TestLocationUpdatePersistFailure(t *testing.T) {
	f := newFixture()
	f.loc.err = errors.New("storage down")
	contractor := f.connect(t, "conn-a", "contractor-1", model.RoleContractor)
	peer := f.connect(t, "conn-b", "user-2", model.RoleClient)
	drain(contractor)
	drain(peer)

	f.hub.handleLocationUpdate(context.Background(), contractor, &model.LocationUpdateRequest{
		Latitude: 52.0, Longitude: 21.0,
	})

	env := recv(t, contractor)
	if env.Event != model.EventError {
		t.Fatalf("event = %s, want error reply to sender", env.Event)
	}
	expectNone(t, peer)
}

// ─────────────────────────────────────────────
// task:join / task:leave
// ─────────────────────────────────────────────

func TestTaskJoinAuthorized(t *testing.T) {
	f := newFixture()
	f.authz.allowed["user-1/task-1"] = true
	c := f.connect(t, "conn-a", "user-1", model.RoleClient)
	drain(c)

	f.hub.handleTaskJoin(context.Background(), c, &model.TaskJoinRequest{TaskID: "task-1"})

	env := recv(t, c)
	if env.Event != model.EventTaskJoinResult {
		t.Fatalf("event = %s, want task:join:result", env.Event)
	}
	var result model.ActionResult
	decode(t, env, &result)
	if !result.Success {
		t.Errorf("join result = %+v, want success", result)
	}

	if members := f.reg.RoomMembers("task-1"); len(members) != 1 {
		t.Errorf("room members = %v", members)
	}
}

func TestTaskJoinUnauthorized(t *testing.T) {
	f := newFixture()
	c := f.connect(t, "conn-a", "user-1", model.RoleClient)
	drain(c)

	f.hub.handleTaskJoin(context.Background(), c, &model.TaskJoinRequest{TaskID: "task-1"})

	var result model.ActionResult
	decode(t, recv(t, c), &result)
	if result.Success || result.Error == "" {
		t.Errorf("join result = %+v, want failure with error", result)
	}

	if members := f.reg.RoomMembers("task-1"); len(members) != 0 {
		t.Error("unauthorized join must not change room state")
	}
}

func TestTaskLeave(t *testing.T) {
	f := newFixture()
	c := f.connect(t, "conn-a", "user-1", model.RoleClient)
	f.reg.JoinRoom("conn-a", "task-1")
	drain(c)

	f.hub.handleTaskLeave(c, &model.TaskLeaveRequest{TaskID: "task-1"})

	env := recv(t, c)
	if env.Event != model.EventTaskLeaveResult {
		t.Fatalf("event = %s, want task:leave:result", env.Event)
	}
	if members := f.reg.RoomMembers("task-1"); len(members) != 0 {
		t.Errorf("room members after leave = %v", members)
	}
}

// ─────────────────────────────────────────────
// message:send / message:read
// ─────────────────────────────────────────────

func TestMessageSendUnauthorized(t *testing.T) {
	f := newFixture()
	c := f.connect(t, "conn-a", "user-1", model.RoleClient)
	drain(c)

	f.hub.handleMessageSend(context.Background(), c, &model.MessageSendRequest{
		TaskID: "task-1", Content: "hello",
	})

	var result model.ActionResult
	decode(t, recv(t, c), &result)
	if result.Success {
		t.Errorf("send result = %+v, want failure", result)
	}
	if len(f.chat.saved) != 0 {
		t.Error("unauthorized send must not persist a message")
	}
}

func TestMessageSendPersistsAndBroadcastsToRoom(t *testing.T) {
	f := newFixture()
	f.authz.allowed["user-1/task-1"] = true
	sender := f.connect(t, "conn-a", "user-1", model.RoleClient)
	member := f.connect(t, "conn-b", "user-2", model.RoleContractor)
	outsider := f.connect(t, "conn-c", "user-3", model.RoleClient)
	f.reg.JoinRoom("conn-a", "task-1")
	f.reg.JoinRoom("conn-b", "task-1")
	drain(sender)
	drain(member)
	drain(outsider)

	f.hub.handleMessageSend(context.Background(), sender, &model.MessageSendRequest{
		TaskID: "task-1", Content: "hello",
	})

	if len(f.chat.saved) != 1 || f.chat.saved[0].Content != "hello" {
		t.Fatalf("saved messages = %+v", f.chat.saved)
	}

	// Room members get the broadcast; the outsider gets nothing.
	for _, c := range []*Client{sender, member} {
		env := recv(t, c)
		if env.Event != model.EventMessageNew {
			t.Fatalf("event = %s, want message:new", env.Event)
		}
		var msg model.MessageNewPayload
		decode(t, env, &msg)
		if msg.ID != "msg-1" || msg.TaskID != "task-1" || msg.SenderID != "user-1" {
			t.Errorf("broadcast payload = %+v", msg)
		}
	}
	expectNone(t, outsider)

	// The sender additionally gets the reply with the message ID.
	env := recv(t, sender)
	if env.Event != model.EventMessageSendResult {
		t.Fatalf("event = %s, want message:send:result", env.Event)
	}
	var result model.ActionResult
	decode(t, env, &result)
	if !result.Success || result.MessageID != "msg-1" {
		t.Errorf("send result = %+v", result)
	}
}

func TestMessageSendPersistFailure(t *testing.T) {
	f := newFixture()
	f.authz.allowed["user-1/task-1"] = true
	f.chat.saveErr = errors.New("storage down")
	sender := f.connect(t, "conn-a", "user-1", model.RoleClient)
	f.reg.JoinRoom("conn-a", "task-1")
	drain(sender)

	f.hub.handleMessageSend(context.Background(), sender, &model.MessageSendRequest{
		TaskID: "task-1", Content: "hello",
	})

	var result model.ActionResult
	decode(t, recv(t, sender), &result)
	if result.Success || result.Error != "internal error" {
		t.Errorf("send result = %+v, want generic failure", result)
	}
	expectNone(t, sender)
}

func TestMessageReadMarksAndNotifiesRoom(t *testing.T) {
	f := newFixture()
	reader := f.connect(t, "conn-a", "user-1", model.RoleClient)
	member := f.connect(t, "conn-b", "user-2", model.RoleContractor)
	f.reg.JoinRoom("conn-a", "task-1")
	f.reg.JoinRoom("conn-b", "task-1")
	drain(reader)
	drain(member)

	f.hub.handleMessageRead(context.Background(), reader, &model.MessageReadRequest{TaskID: "task-1"})

	if len(f.chat.readCalls) != 1 || f.chat.readCalls[0] != "task-1/user-1" {
		t.Fatalf("read calls = %v", f.chat.readCalls)
	}

	env := recv(t, member)
	if env.Event != model.EventMessageRead {
		t.Fatalf("event = %s, want message:read", env.Event)
	}
	var payload model.MessageReadPayload
	decode(t, env, &payload)
	if payload.TaskID != "task-1" || payload.ReadBy != "user-1" || payload.ReadAt.IsZero() {
		t.Errorf("read payload = %+v", payload)
	}
}

// ─────────────────────────────────────────────
// Server-initiated sends
// ─────────────────────────────────────────────

func TestSendToUser(t *testing.T) {
	f := newFixture()
	c := f.connect(t, "conn-a", "user-1", model.RoleContractor)
	drain(c)

	if !f.hub.SendToUser("user-1", model.EventTaskNewAvailable, model.TaskAvailablePayload{Score: 0.9}) {
		t.Fatal("SendToUser returned false for an online user")
	}
	env := recv(t, c)
	if env.Event != model.EventTaskNewAvailable {
		t.Errorf("event = %s, want task:new_available", env.Event)
	}

	if f.hub.SendToUser("user-offline", model.EventTaskNewAvailable, nil) {
		t.Error("SendToUser must return false for an offline user, without error")
	}
}

func TestBroadcastTaskStatus(t *testing.T) {
	f := newFixture()
	member := f.connect(t, "conn-a", "user-1", model.RoleClient)
	outsider := f.connect(t, "conn-b", "user-2", model.RoleClient)
	f.reg.JoinRoom("conn-a", "task-1")
	drain(member)
	drain(outsider)

	f.hub.BroadcastTaskStatus("task-1", model.TaskStatusAccepted, "contractor-1")

	env := recv(t, member)
	if env.Event != model.EventTaskStatus {
		t.Fatalf("event = %s, want task:status", env.Event)
	}
	var payload model.TaskStatusPayload
	decode(t, env, &payload)
	if payload.TaskID != "task-1" || payload.Status != model.TaskStatusAccepted || payload.UpdatedBy != "contractor-1" {
		t.Errorf("status payload = %+v", payload)
	}
	expectNone(t, outsider)
}

func TestStats(t *testing.T) {
	f := newFixture()
	f.connect(t, "conn-a", "user-1", model.RoleClient)
	f.connect(t, "conn-b", "user-2", model.RoleContractor)
	f.reg.JoinRoom("conn-a", "task-1")

	stats := f.hub.Stats()
	if stats.Connections != 2 || stats.Rooms != 1 {
		t.Errorf("Stats = %+v, want 2 connections, 1 room", stats)
	}
}
