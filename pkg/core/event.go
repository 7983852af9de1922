package core

import (
	"encoding/json"
	"time"
)

// EventType discriminates the payload carried by an Event. The set mirrors
// spec §6's gateway-to-client event variants exactly.
type EventType string

const (
	EventThinking   EventType = "thinking"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventContent    EventType = "content"
	EventYield      EventType = "yield"
	EventDone       EventType = "done"
	EventError      EventType = "error"
)

// ErrorCode enumerates the closed set of terminal error codes an Event can
// carry, per spec §6.
type ErrorCode string

const (
	ErrCodeUnknownTool      ErrorCode = "unknown_tool"
	ErrCodeSchema           ErrorCode = "schema"
	ErrCodeDenied           ErrorCode = "denied"
	ErrCodeCancelled        ErrorCode = "cancelled"
	ErrCodeApprovalTimeout  ErrorCode = "approval_timeout"
	ErrCodeBackend          ErrorCode = "backend"
	ErrCodeInternal         ErrorCode = "internal"
	ErrCodeStaleResume      ErrorCode = "stale_resume"
	ErrCodeBusy             ErrorCode = "busy"
)

// Usage reports token accounting for a completed turn.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Event is the single discriminated-union wire type flowing from daemon to
// gateway to client. Every event carries the session id and a
// per-session, monotonically increasing sequence number; gateways forward
// seq verbatim and never renumber (spec §9 "Event numbering and fan-out").
type Event struct {
	SessionID string    `json:"session_id"`
	TurnID    string    `json:"turn_id,omitempty"`
	Seq       uint64    `json:"seq"`
	Type      EventType `json:"type"`
	Time      time.Time `json:"time"`

	// Thinking
	TextChunk string `json:"text_chunk,omitempty"`

	// ToolCall / ToolResult / Yield
	CallID   string          `json:"call_id,omitempty"`
	ToolName string          `json:"tool_name,omitempty"`
	Args     json.RawMessage `json:"args,omitempty"`

	// ToolResult
	OK         bool  `json:"ok,omitempty"`
	DurationMS int64 `json:"duration_ms,omitempty"`
	Content    string `json:"content,omitempty"`

	// Content
	Text string `json:"text,omitempty"`

	// Yield
	Reason string `json:"reason,omitempty"`

	// Done
	DoneReason string `json:"done_reason,omitempty"`
	Usage      *Usage `json:"usage,omitempty"`

	// Error
	Code    ErrorCode `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`
}
