package wsgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentcore/agentcore/pkg/core"
)

// Connection tuning, grounded on the teacher's ws_control_plane.go
// constants (wsMaxPayloadBytes, wsPongWait, wsWriteWait, wsTickInterval).
const (
	maxPayloadBytes = 1 << 20
	pongWait        = 45 * time.Second
	writeWait       = 10 * time.Second
	pingInterval    = 15 * time.Second
	clientBuffer    = 256
)

// Client is one external connection multiplexed by the gateway. It may be
// attached to at most one session's event stream at a time (spec §4.6);
// re-attaching to a different session detaches the previous one. It
// implements agentd.Subscriber and agentd.Disconnector so the Engine's
// fan-out treats it like any other transport's connection.
type Client struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	identity Identity

	attachedMu sync.Mutex
	attached   string // current session_id, "" if none
}

func newClient(server *Server, conn *websocket.Conn, identity Identity) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		server:   server,
		conn:     conn,
		send:     make(chan []byte, clientBuffer),
		ctx:      ctx,
		cancel:   cancel,
		identity: identity,
	}
}

// run drives the connection until it closes, blocking the calling
// goroutine (mirrors the teacher's wsSession.run: one writer goroutine,
// reads on the caller's goroutine).
func (c *Client) run() {
	defer c.close()
	go c.writeLoop()
	c.readLoop()
}

func (c *Client) close() {
	c.cancel()
	c.server.engine.DetachSubscriber(c)
	close(c.send)
	_ = c.conn.Close()
}

// setAttached records which session this connection is currently
// streaming events for (spec §4.6: a client may attach to a different
// session, but only one at a time per connection). Detaching from the
// previous session's fan-out is the Engine's job, triggered by the next
// AttachSession call; setAttached only tracks the label.
func (c *Client) setAttached(sessionID string) {
	c.attachedMu.Lock()
	c.attached = sessionID
	c.attachedMu.Unlock()
}

func (c *Client) readLoop() {
	c.conn.SetReadLimit(maxPayloadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.sendError("", "invalid_frame", err.Error())
			continue
		}
		if f.Type == "" {
			f.Type = "req"
		}
		if f.Type != "req" {
			c.sendError(f.ID, "unsupported_frame", fmt.Sprintf("unsupported frame type %q", f.Type))
			continue
		}
		c.server.dispatch(c, &f)
	}
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

// Deliver satisfies agentd.Subscriber: a non-blocking send, reporting
// success so the Broadcaster can tell a full buffer from a delivered one.
func (c *Client) Deliver(ev core.Event) bool {
	data, err := json.Marshal(frame{Type: "event", Event: &ev})
	if err != nil {
		return true // malformed payload is not the client's fault; drop silently
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// DisconnectSlow satisfies agentd.Disconnector.
func (c *Client) DisconnectSlow() {
	c.cancel()
}

func (c *Client) sendResponse(id string, ok bool, payload any, ferr *frameError) {
	data, err := json.Marshal(frame{Type: "res", ID: id, OK: &ok, Payload: payload, Error: ferr})
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		c.DisconnectSlow()
	}
}

func (c *Client) sendError(id, code, message string) {
	c.sendResponse(id, false, nil, &frameError{Code: code, Message: message})
}
