package wsgateway

import (
	"encoding/json"

	"github.com/agentcore/agentcore/pkg/core"
)

// frame is the gateway's one wire envelope, grounded on the teacher's
// internal/gateway/ws_control_plane.go wsFrame: a discriminated-by-Type
// JSON object carrying either a client request ("req"), a server response
// to one ("res"), or a server-pushed session event ("event"). Narrowed
// from the teacher's generic RPC-method dispatch to the six operations
// spec §4.6 names.
type frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload any             `json:"payload,omitempty"`
	Error   *frameError     `json:"error,omitempty"`
	Event   *core.Event     `json:"event,omitempty"`
}

type frameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// openSessionParams opens a new session bound to one model@backend target.
type openSessionParams struct {
	ProjectDir string `json:"project_dir"`
	Persona    string `json:"persona,omitempty"`
	Target     string `json:"target"`
	Mode       string `json:"mode,omitempty"`
}

// attachSessionParams attaches this connection to an existing session's
// event stream, optionally replaying everything since a given seq (spec
// §4.6 attach_from_seq).
type attachSessionParams struct {
	SessionID     string `json:"session_id"`
	AttachFromSeq uint64 `json:"attach_from_seq,omitempty"`
}

// sendPromptParams starts a new turn with a user message.
type sendPromptParams struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// resumeTurnParams answers a parked turn's pending Ask.
type resumeTurnParams struct {
	SessionID string `json:"session_id"`
	TurnID    string `json:"turn_id"`
	Approved  bool   `json:"approved"`
	Remember  string `json:"remember,omitempty"`
}

// cancelTurnParams aborts the session's active turn.
type cancelTurnParams struct {
	SessionID string `json:"session_id"`
}

// closeSessionParams evicts a session from the store.
type closeSessionParams struct {
	SessionID string `json:"session_id"`
}
