package agentd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/agentcore/agentcore/internal/turn"
	"github.com/agentcore/agentcore/pkg/core"
)

// connBuffer bounds how many undelivered events queue per local
// connection; mirrors the websocket gateway's clientBuffer (spec §5's
// per-client backpressure watermark) since the local transport carries
// the same event volume.
const connBuffer = 256

// socketFrame is the newline-delimited JSON envelope spec §4.7 mandates
// for the daemon's local transport: "semantics mirror the client
// protocol minus authentication." It deliberately has no websocket-style
// "type" discriminator; framing is one object per line, and Event is
// only ever set on a line the daemon itself writes unprompted.
type socketFrame struct {
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload any             `json:"payload,omitempty"`
	Error   *socketError    `json:"error,omitempty"`
	Event   *core.Event     `json:"event,omitempty"`
}

type socketError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SocketServer listens on a Unix domain socket (POSIX) — a named pipe on
// platforms without one — and serves the same six operations the
// websocket gateway does, without authentication: spec §4.7 places the
// local socket behind the host's own filesystem permissions and treats
// the gateway as the sole authenticated edge.
//
// Grounded on _examples/sebastianxbutler-godex/pkg/admin/server.go's
// net.Listen("unix", path) + os.MkdirAll/os.Remove + ctx.Done shutdown
// pattern, adapted from one-shot HTTP handlers to a long-lived,
// bidirectional line-protocol connection per spec §4.7's framing.
type SocketServer struct {
	engine *Engine
	path   string
}

// NewSocketServer builds a SocketServer. path is removed and recreated
// on Serve, matching the teacher's stale-socket cleanup.
func NewSocketServer(engine *Engine, path string) *SocketServer {
	return &SocketServer{engine: engine, path: path}
}

// Serve listens and accepts connections until ctx is cancelled, then
// closes the listener and removes the socket file.
func (s *SocketServer) Serve(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	_ = os.Remove(s.path)
	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		_ = listener.Close()
		_ = os.Remove(s.path)
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.serveConn(ctx, conn)
	}
}

// socketConn is one accepted connection. It implements Subscriber and
// Disconnector identically to the websocket gateway's Client, so the
// Engine's fan-out does not distinguish the two transports.
type socketConn struct {
	conn net.Conn
	send chan []byte
}

func (c *socketConn) Deliver(ev core.Event) bool {
	data, err := json.Marshal(socketFrame{Event: &ev})
	if err != nil {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *socketConn) DisconnectSlow() {
	_ = c.conn.Close()
}

func (s *SocketServer) serveConn(ctx context.Context, conn net.Conn) {
	c := &socketConn{conn: conn, send: make(chan []byte, connBuffer)}
	connCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.engine.DetachSubscriber(c)
		_ = conn.Close()
	}()

	go c.writeLoop(connCtx)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var f socketFrame
		if err := json.Unmarshal(scanner.Bytes(), &f); err != nil {
			c.respond("", false, nil, "invalid_frame", err.Error())
			continue
		}
		s.dispatch(ctx, c, &f)
	}
}

func (c *socketConn) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if _, err := c.conn.Write(append(data, '\n')); err != nil {
				return
			}
		}
	}
}

func (c *socketConn) respond(id string, ok bool, payload any, code, message string) {
	f := socketFrame{ID: id, OK: &ok, Payload: payload}
	if code != "" {
		f.Error = &socketError{Code: code, Message: message}
	}
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		c.DisconnectSlow()
	}
}

// dispatch mirrors wsgateway.Server.dispatch's six operations exactly,
// over the Engine's plain-Go API instead of JSON frame params translated
// by a websocket-specific Server.
func (s *SocketServer) dispatch(ctx context.Context, c *socketConn, f *socketFrame) {
	switch f.Method {
	case "open_session":
		s.openSession(c, f)
	case "attach_session":
		s.attachSession(ctx, c, f)
	case "send_prompt":
		s.sendPrompt(c, f)
	case "resume_turn":
		s.resumeTurn(c, f)
	case "cancel_turn":
		s.cancelTurn(c, f)
	case "close_session":
		s.closeSession(c, f)
	default:
		c.respond(f.ID, false, nil, "unknown_method", fmt.Sprintf("unknown method %q", f.Method))
	}
}

func (s *SocketServer) openSession(c *socketConn, f *socketFrame) {
	var p struct {
		ProjectDir string              `json:"project_dir"`
		Persona    string              `json:"persona"`
		Target     string              `json:"target"`
		Mode       core.PermissionMode `json:"mode"`
	}
	if err := json.Unmarshal(f.Params, &p); err != nil {
		c.respond(f.ID, false, nil, "bad_params", err.Error())
		return
	}
	sessionID, err := s.engine.OpenSession(OpenSessionParams{
		ProjectDir: p.ProjectDir,
		Persona:    p.Persona,
		Target:     p.Target,
		Mode:       p.Mode,
	})
	if err != nil {
		c.respond(f.ID, false, nil, "internal", err.Error())
		return
	}
	c.respond(f.ID, true, map[string]string{"session_id": sessionID}, "", "")
}

func (s *SocketServer) attachSession(ctx context.Context, c *socketConn, f *socketFrame) {
	var p struct {
		SessionID     string `json:"session_id"`
		AttachFromSeq uint64 `json:"attach_from_seq"`
	}
	if err := json.Unmarshal(f.Params, &p); err != nil {
		c.respond(f.ID, false, nil, "bad_params", err.Error())
		return
	}
	s.engine.DetachSubscriber(c)
	replay, err := s.engine.AttachSession(ctx, p.SessionID, c, p.AttachFromSeq)
	if err != nil {
		c.respond(f.ID, false, nil, "unknown_session", err.Error())
		return
	}
	c.respond(f.ID, true, map[string]any{"replay": replay}, "", "")
}

func (s *SocketServer) sendPrompt(c *socketConn, f *socketFrame) {
	var p struct {
		SessionID string `json:"session_id"`
		Text      string `json:"text"`
	}
	if err := json.Unmarshal(f.Params, &p); err != nil {
		c.respond(f.ID, false, nil, "bad_params", err.Error())
		return
	}
	turnID, err := s.engine.SendPrompt(p.SessionID, p.Text)
	if err != nil {
		c.respond(f.ID, false, nil, "busy", err.Error())
		return
	}
	c.respond(f.ID, true, map[string]string{"turn_id": turnID}, "", "")
}

func (s *SocketServer) resumeTurn(c *socketConn, f *socketFrame) {
	var p struct {
		SessionID string `json:"session_id"`
		TurnID    string `json:"turn_id"`
		Approved  bool   `json:"approved"`
		Remember  string `json:"remember"`
	}
	if err := json.Unmarshal(f.Params, &p); err != nil {
		c.respond(f.ID, false, nil, "bad_params", err.Error())
		return
	}
	if err := s.engine.ResumeTurn(p.SessionID, p.TurnID, p.Approved, p.Remember); err != nil {
		code := "not_parked"
		if errors.Is(err, turn.ErrStaleResume) {
			code = string(core.ErrCodeStaleResume)
		}
		c.respond(f.ID, false, nil, code, err.Error())
		return
	}
	c.respond(f.ID, true, map[string]string{"turn_id": p.TurnID}, "", "")
}

func (s *SocketServer) cancelTurn(c *socketConn, f *socketFrame) {
	var p struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(f.Params, &p); err != nil {
		c.respond(f.ID, false, nil, "bad_params", err.Error())
		return
	}
	if err := s.engine.CancelTurn(p.SessionID); err != nil {
		c.respond(f.ID, false, nil, "not_running", err.Error())
		return
	}
	c.respond(f.ID, true, struct{}{}, "", "")
}

func (s *SocketServer) closeSession(c *socketConn, f *socketFrame) {
	var p struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(f.Params, &p); err != nil {
		c.respond(f.ID, false, nil, "bad_params", err.Error())
		return
	}
	if err := s.engine.CloseSession(p.SessionID); err != nil {
		c.respond(f.ID, false, nil, "unknown_session", err.Error())
		return
	}
	c.respond(f.ID, true, struct{}{}, "", "")
}
