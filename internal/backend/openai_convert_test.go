package backend

import (
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/agentcore/agentcore/internal/turn"
	"github.com/agentcore/agentcore/pkg/core"
)

func TestConvertMessagesToOpenAIRoundTrip(t *testing.T) {
	call := core.ToolCall{ID: "c1", Name: "Echo", Arguments: json.RawMessage(`{"text":"hi"}`)}
	history := []core.Message{
		core.UserMessage("hello"),
		core.AssistantMessage("", call),
		core.ToolResultMessage(core.ToolResult{CallID: "c1", OK: true, Content: "hi"}),
	}

	out := convertMessagesToOpenAI(history, "be terse")
	if len(out) != 4 {
		t.Fatalf("want 4 messages (system + 3), got %d: %+v", len(out), out)
	}
	if out[0].Role != openai.ChatMessageRoleSystem || out[0].Content != "be terse" {
		t.Fatalf("expected leading system message, got %+v", out[0])
	}
	if out[1].Role != openai.ChatMessageRoleUser || out[1].Content != "hello" {
		t.Fatalf("unexpected user message: %+v", out[1])
	}
	if out[2].Role != openai.ChatMessageRoleAssistant || len(out[2].ToolCalls) != 1 {
		t.Fatalf("unexpected assistant message: %+v", out[2])
	}
	if out[2].ToolCalls[0].Function.Name != "Echo" {
		t.Fatalf("unexpected tool call: %+v", out[2].ToolCalls[0])
	}
	if out[3].Role != openai.ChatMessageRoleTool || out[3].ToolCallID != "c1" || out[3].Content != "hi" {
		t.Fatalf("unexpected tool result message: %+v", out[3])
	}
}

func TestConvertToolsToOpenAIFallsBackOnBadSchema(t *testing.T) {
	tools := []turn.ToolSchema{{Name: "Broken", Schema: []byte("not json")}}
	out := convertToolsToOpenAI(tools)
	if len(out) != 1 || out[0].Function.Name != "Broken" {
		t.Fatalf("unexpected conversion: %+v", out)
	}
	params, ok := out[0].Function.Parameters.(map[string]any)
	if !ok || params["type"] != "object" {
		t.Fatalf("expected fallback object schema, got %+v", out[0].Function.Parameters)
	}
}

func TestIsRetryableOpenAIErr(t *testing.T) {
	cases := map[string]bool{
		"rate limit exceeded":     true,
		"429 Too Many Requests":   true,
		"503 Service Unavailable": true,
		"invalid api key":         false,
	}
	for msg, want := range cases {
		got := isRetryableOpenAIErr(errString(msg))
		if got != want {
			t.Fatalf("isRetryableOpenAIErr(%q) = %v, want %v", msg, got, want)
		}
	}
}

type errString string

func (e errString) Error() string { return string(e) }
