package turn

import (
	"context"

	"github.com/agentcore/agentcore/pkg/core"
)

// ToolSchema is one entry of the tool-registry schemas sent to the model
// alongside a Completion request (spec §4.3 step 2).
type ToolSchema struct {
	Name   string
	Schema []byte
}

// CompletionRequest carries the full conversation history and the current
// tool schemas for one model call. Model is the model half of the
// session's `model@backend` target string; a Backend adapter is free to
// ignore it if it only ever serves one model.
type CompletionRequest struct {
	Model    string
	System   string
	Messages []core.Message
	Tools    []ToolSchema
}

// CompletionChunk is one unit of a streamed model response. TextDelta
// chunks are re-emitted as Thinking events by the runner; the final chunk
// carries Done=true with the completed Message and Usage.
type CompletionChunk struct {
	TextDelta string
	Done      bool
	Message   core.Message
	Usage     core.Usage
}

// Backend is the contract every language-model adapter satisfies,
// selected at session-open time by a `model@backend` target string
// (spec §4.9, §7). Implementations live in internal/backend.
type Backend interface {
	Complete(ctx context.Context, req CompletionRequest) (<-chan CompletionChunk, error)
}
