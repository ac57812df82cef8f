package ws

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gigdesk/realtime-server/internal/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 << 10 // 64 KB

	// Send buffer size
	sendBufSize = 256
)

// Client represents one authenticated WebSocket connection.
type Client struct {
	ID     string // connection ID, minted at upgrade
	UserID string
	Role   model.Role

	conn *websocket.Conn
	hub  *Hub
	send chan []byte
}

// NewClient wraps an authenticated WebSocket connection.
func NewClient(id, userID string, role model.Role, conn *websocket.Conn, hub *Hub) *Client {
	return &Client{
		ID:     id,
		UserID: userID,
		Role:   role,
		conn:   conn,
		hub:    hub,
		send:   make(chan []byte, sendBufSize),
	}
}

// Run registers the client and starts the read and write pumps. Blocks
// until the connection closes, then unwinds registry state.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(ctx, c)
	go c.writePump()
	c.readPump(ctx) // blocks
	c.hub.Unregister(c)
}

// enqueue puts a pre-marshalled frame on the send buffer, dropping it
// when the buffer is full. A frame queued for a just-removed connection
// is simply never flushed.
func (c *Client) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	default:
		log.Printf("[ws] send buffer full for conn %s, dropping", c.ID)
	}
}

// sendReply sends a per-request reply to this connection only.
func (c *Client) sendReply(event model.Event, data interface{}) {
	frame, err := marshalEnvelope(event, data)
	if err != nil {
		log.Printf("[ws] marshal %s error: %v", event, err)
		return
	}
	c.enqueue(frame)
}

// sendError sends an error event to this connection only.
func (c *Client) sendError(message string) {
	c.sendReply(model.EventError, model.ErrorPayload{Message: message})
}

// ─────────────────────────────────────────────
// Read pump: Client → Server
// ─────────────────────────────────────────────

func (c *Client) readPump(ctx context.Context) {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws] conn %s read error: %v", c.ID, err)
			}
			return
		}
		c.handleMessage(ctx, message)
	}
}

func (c *Client) handleMessage(ctx context.Context, raw []byte) {
	var env model.InboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("[ws] conn %s: invalid frame: %v", c.ID, err)
		c.sendError("invalid message")
		return
	}

	switch env.Event {
	case model.EventLocationUpdate:
		var req model.LocationUpdateRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			c.sendError("bad location:update payload")
			return
		}
		c.hub.handleLocationUpdate(ctx, c, &req)

	case model.EventTaskJoin:
		var req model.TaskJoinRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			c.sendError("bad task:join payload")
			return
		}
		c.hub.handleTaskJoin(ctx, c, &req)

	case model.EventTaskLeave:
		var req model.TaskLeaveRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			c.sendError("bad task:leave payload")
			return
		}
		c.hub.handleTaskLeave(c, &req)

	case model.EventMessageSend:
		var req model.MessageSendRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			c.sendError("bad message:send payload")
			return
		}
		c.hub.handleMessageSend(ctx, c, &req)

	case model.EventMessageRead:
		var req model.MessageReadRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			c.sendError("bad message:read payload")
			return
		}
		c.hub.handleMessageRead(ctx, c, &req)

	default:
		log.Printf("[ws] conn %s: unknown event: %s", c.ID, env.Event)
		c.sendError("unknown event")
	}
}

// ─────────────────────────────────────────────
// Write pump: Server → Client
// ─────────────────────────────────────────────

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// Flush queued frames without waiting for the next tick.
			n := len(c.send)
			for i := 0; i < n; i++ {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
