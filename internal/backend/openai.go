package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/agentcore/agentcore/internal/turn"
	"github.com/agentcore/agentcore/pkg/core"
)

// OpenAIBackend implements turn.Backend against OpenAI's chat-completions
// streaming API. Grounded on the teacher's
// internal/agent/providers/openai.go OpenAIProvider, narrowed to text and
// function-call content (no vision attachments — core.Attachment carries
// no inline image bytes for a chat-completions multi-part message).
type OpenAIBackend struct {
	client       *openai.Client
	defaultModel string
	maxTokens    int
	retry        RetryConfig
}

// OpenAIConfig configures an OpenAIBackend.
type OpenAIConfig struct {
	APIKey       string
	DefaultModel string
	MaxTokens    int
	Retry        RetryConfig
}

// NewOpenAIBackend builds an OpenAIBackend.
func NewOpenAIBackend(cfg OpenAIConfig) (*OpenAIBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("backend: openai API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = openai.GPT4o
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	return &OpenAIBackend{
		client:       openai.NewClient(cfg.APIKey),
		defaultModel: cfg.DefaultModel,
		maxTokens:    cfg.MaxTokens,
		retry:        cfg.Retry,
	}, nil
}

func (b *OpenAIBackend) model(req turn.CompletionRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return b.defaultModel
}

// Complete satisfies turn.Backend.
func (b *OpenAIBackend) Complete(ctx context.Context, req turn.CompletionRequest) (<-chan turn.CompletionChunk, error) {
	messages := convertMessagesToOpenAI(req.Messages, req.System)
	chatReq := openai.ChatCompletionRequest{
		Model:    b.model(req),
		Messages: messages,
		Stream:   true,
	}
	if b.maxTokens > 0 {
		chatReq.MaxTokens = b.maxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertToolsToOpenAI(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	err := Retry(ctx, b.retry, isRetryableOpenAIErr, func() error {
		s, createErr := b.client.CreateChatCompletionStream(ctx, chatReq)
		if createErr != nil {
			return createErr
		}
		stream = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make(chan turn.CompletionChunk)
	go processOpenAIStream(stream, out)
	return out, nil
}

type openaiToolCallBuffer struct {
	id   string
	name string
	args strings.Builder
}

func processOpenAIStream(stream *openai.ChatCompletionStream, out chan<- turn.CompletionChunk) {
	defer close(out)
	defer stream.Close()

	var text strings.Builder
	calls := make(map[int]*openaiToolCallBuffer)
	order := make([]int, 0, 4)

	for {
		resp, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				out <- turn.CompletionChunk{Done: true, Message: finishOpenAIMessage(text.String(), calls, order)}
			}
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			text.WriteString(delta.Content)
		}
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			buf, ok := calls[idx]
			if !ok {
				buf = &openaiToolCallBuffer{}
				calls[idx] = buf
				order = append(order, idx)
			}
			if tc.ID != "" {
				buf.id = tc.ID
			}
			if tc.Function.Name != "" {
				buf.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				buf.args.WriteString(tc.Function.Arguments)
			}
		}
	}
}

func finishOpenAIMessage(text string, calls map[int]*openaiToolCallBuffer, order []int) core.Message {
	toolCalls := make([]core.ToolCall, 0, len(order))
	for _, idx := range order {
		buf := calls[idx]
		if buf.id == "" || buf.name == "" {
			continue
		}
		toolCalls = append(toolCalls, core.ToolCall{ID: buf.id, Name: buf.name, Arguments: json.RawMessage(buf.args.String())})
	}
	return core.AssistantMessage(text, toolCalls...)
}

func convertMessagesToOpenAI(messages []core.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, msg := range messages {
		switch msg.Role {
		case core.RoleSystem:
			continue
		case core.RoleTool:
			if msg.ToolResult == nil {
				continue
			}
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.ToolResult.Content,
				ToolCallID: msg.ToolResult.CallID,
			})
		case core.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Text}
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
			result = append(result, oaiMsg)
		default:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: msg.Text})
		}
	}
	return result
}

func convertToolsToOpenAI(tools []turn.ToolSchema) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, t := range tools {
		var schema map[string]any
		if err := json.Unmarshal(t.Schema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:       t.Name,
				Parameters: schema,
			},
		}
	}
	return result
}

func isRetryableOpenAIErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"rate limit", "429", "500", "502", "503", "504", "timeout", "deadline exceeded"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
