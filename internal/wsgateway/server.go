// Package wsgateway implements the external transport (spec §4.6): a
// websocket endpoint multiplexing any number of remote clients into
// long-lived agent sessions, with approval-based suspend/resume surfaced
// as ResumeTurn. All session/turn bookkeeping lives in the Agent Daemon's
// Engine (internal/agentd); this package only translates wire frames to
// and from Engine calls and owns the client-auth and websocket-framing
// concerns the Engine knows nothing about.
//
// Grounded on the teacher's internal/gateway/ws_control_plane.go: one
// http.Handler upgrades to gorilla/websocket, one goroutine pair
// (read/write loop) per connection, and a JSON frame protocol
// discriminating request/response/event. This package narrows that
// general-purpose RPC surface to the six operations SPEC_FULL.md names
// and generalizes the teacher's one-connection-one-session assumption to
// many clients attaching to (and detaching from) one session's event
// stream.
package wsgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/agentcore/agentcore/internal/agentd"
	"github.com/agentcore/agentcore/internal/sessionstore"
	"github.com/agentcore/agentcore/internal/turn"
	"github.com/agentcore/agentcore/pkg/core"
)

// upgrader mirrors the teacher's wsControlPlane upgrader sizing.
// CheckOrigin always allows: the gateway's origin policy is enforced by
// Authenticator, not by the websocket handshake, matching the teacher's
// own rationale (API callers are rarely browsers with an Origin header).
var upgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Server is the gateway's websocket handler and operation dispatcher. One
// Server serves every session in a daemon process; the Engine it wraps
// owns the actual Session Store and Turn Runner, so Server itself is
// only an authenticated, framed façade over it.
type Server struct {
	engine *agentd.Engine
	auth   *Authenticator
}

// NewServer builds a Server wrapping engine.
func NewServer(engine *agentd.Engine, auth *Authenticator) *Server {
	return &Server{engine: engine, auth: auth}
}

// ServeHTTP upgrades the connection and hands it to a new Client, after
// validating the bearer token if auth is enabled (spec §4.6: "optional
// JWT-signed-bearer-token auth ... layered over the shared bearer
// token").
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := s.auth.Authenticate(bearerFromRequest(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := newClient(s, conn, identity)
	c.run()
}

func bearerFromRequest(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	h := r.Header.Get("Authorization")
	return strings.TrimPrefix(h, "Bearer ")
}

// dispatch routes one request frame to the matching operation and writes
// exactly one response frame back to the client (spec §4.6's six
// operations). Unknown methods and malformed params fail closed with an
// error frame rather than silently dropping the request.
func (s *Server) dispatch(c *Client, f *frame) {
	var (
		payload any
		ferr    *frameError
	)
	switch f.Method {
	case "open_session":
		payload, ferr = s.openSession(f.Params)
	case "attach_session":
		payload, ferr = s.attachSession(c, f.Params)
	case "send_prompt":
		payload, ferr = s.sendPrompt(f.Params)
	case "resume_turn":
		payload, ferr = s.resumeTurn(f.Params)
	case "cancel_turn":
		payload, ferr = s.cancelTurn(f.Params)
	case "close_session":
		payload, ferr = s.closeSession(f.Params)
	default:
		ferr = &frameError{Code: "unknown_method", Message: fmt.Sprintf("unknown method %q", f.Method)}
	}
	c.sendResponse(f.ID, ferr == nil, payload, ferr)
}

type openSessionResult struct {
	SessionID string `json:"session_id"`
}

func (s *Server) openSession(raw json.RawMessage) (any, *frameError) {
	var p openSessionParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &frameError{Code: "bad_params", Message: err.Error()}
	}
	if p.ProjectDir == "" || p.Target == "" {
		return nil, &frameError{Code: "bad_params", Message: "project_dir and target are required"}
	}
	mode := core.ModeDefault
	if p.Mode != "" {
		mode = core.PermissionMode(p.Mode)
	}

	sessionID, err := s.engine.OpenSession(agentd.OpenSessionParams{
		ProjectDir: p.ProjectDir,
		Persona:    p.Persona,
		Target:     p.Target,
		Mode:       mode,
	})
	if err != nil {
		return nil, &frameError{Code: "internal", Message: err.Error()}
	}
	return openSessionResult{SessionID: sessionID}, nil
}

type attachSessionResult struct {
	Replay []core.Event `json:"replay"`
}

// attachSession fans a session's future events to c and replays anything
// persisted after AttachFromSeq so a reconnecting client can catch up
// without losing history (spec §4.6 attach_from_seq). A connection may
// stream at most one session at a time, so attaching to a new one first
// detaches from whichever it was previously watching.
func (s *Server) attachSession(c *Client, raw json.RawMessage) (any, *frameError) {
	var p attachSessionParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &frameError{Code: "bad_params", Message: err.Error()}
	}

	s.engine.DetachSubscriber(c)
	replay, err := s.engine.AttachSession(context.Background(), p.SessionID, c, p.AttachFromSeq)
	if err != nil {
		return nil, &frameError{Code: "unknown_session", Message: err.Error()}
	}
	c.setAttached(p.SessionID)

	return attachSessionResult{Replay: replay}, nil
}

type sendPromptResult struct {
	TurnID string `json:"turn_id"`
}

// sendPrompt starts a new turn for the session in its own goroutine so
// the client's request completes (with the new turn_id) as soon as the
// turn is admitted; progress streams separately as events via
// AttachSession.
func (s *Server) sendPrompt(raw json.RawMessage) (any, *frameError) {
	var p sendPromptParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &frameError{Code: "bad_params", Message: err.Error()}
	}
	turnID, err := s.engine.SendPrompt(p.SessionID, p.Text)
	if err != nil {
		code := "busy"
		if errors.Is(err, sessionstore.ErrNotFound) || errors.Is(err, agentd.ErrUnknownSession) {
			code = "unknown_session"
		}
		return nil, &frameError{Code: code, Message: err.Error()}
	}
	return sendPromptResult{TurnID: turnID}, nil
}

type resumeTurnResult struct {
	TurnID string `json:"turn_id"`
}

// resumeTurn answers a parked turn's pending Ask (spec §4.4).
func (s *Server) resumeTurn(raw json.RawMessage) (any, *frameError) {
	var p resumeTurnParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &frameError{Code: "bad_params", Message: err.Error()}
	}
	if err := s.engine.ResumeTurn(p.SessionID, p.TurnID, p.Approved, p.Remember); err != nil {
		code := "not_parked"
		switch {
		case errors.Is(err, turn.ErrStaleResume):
			code = string(core.ErrCodeStaleResume)
		case errors.Is(err, sessionstore.ErrNotFound), errors.Is(err, agentd.ErrUnknownSession):
			code = "unknown_session"
		}
		return nil, &frameError{Code: code, Message: err.Error()}
	}
	return resumeTurnResult{TurnID: p.TurnID}, nil
}

func (s *Server) cancelTurn(raw json.RawMessage) (any, *frameError) {
	var p cancelTurnParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &frameError{Code: "bad_params", Message: err.Error()}
	}
	if err := s.engine.CancelTurn(p.SessionID); err != nil {
		return nil, &frameError{Code: "not_running", Message: err.Error()}
	}
	return struct{}{}, nil
}

func (s *Server) closeSession(raw json.RawMessage) (any, *frameError) {
	var p closeSessionParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &frameError{Code: "bad_params", Message: err.Error()}
	}
	if err := s.engine.CloseSession(p.SessionID); err != nil {
		return nil, &frameError{Code: "unknown_session", Message: err.Error()}
	}
	return struct{}{}, nil
}
