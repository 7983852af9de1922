package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/agentcore/agentcore/internal/turn"
	"github.com/agentcore/agentcore/pkg/core"
)

// AnthropicBackend implements turn.Backend against the Anthropic Messages
// API. Grounded on the teacher's internal/agent/providers/anthropic.go
// AnthropicProvider, narrowed to the text/tool-use surface this module's
// core.Message covers (no extended thinking, no beta computer-use tools —
// those live on the teacher's provider but have no corresponding
// SPEC_FULL.md component to drive them).
type AnthropicBackend struct {
	client       anthropic.Client
	defaultModel string
	retry        RetryConfig
	maxTokens    int64
}

// AnthropicConfig configures an AnthropicBackend.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string // used when a CompletionRequest.Model is empty
	MaxTokens    int64
	Retry        RetryConfig
}

// NewAnthropicBackend builds an AnthropicBackend.
func NewAnthropicBackend(cfg AnthropicConfig) (*AnthropicBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("backend: anthropic API key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	return &AnthropicBackend{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		retry:        cfg.Retry,
		maxTokens:    cfg.MaxTokens,
	}, nil
}

func (b *AnthropicBackend) model(req turn.CompletionRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return b.defaultModel
}

// Complete satisfies turn.Backend.
func (b *AnthropicBackend) Complete(ctx context.Context, req turn.CompletionRequest) (<-chan turn.CompletionChunk, error) {
	out := make(chan turn.CompletionChunk)

	go func() {
		defer close(out)

		model := b.model(req)
		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		err := Retry(ctx, b.retry, isRetryableAnthropicErr, func() error {
			s, createErr := b.createStream(ctx, req, model)
			if createErr != nil {
				return createErr
			}
			stream = s
			return nil
		})
		if err != nil {
			return
		}

		assistant, usage, procErr := processAnthropicStream(stream)
		if procErr != nil {
			return
		}
		out <- turn.CompletionChunk{Done: true, Message: assistant, Usage: usage}
	}()

	return out, nil
}

func (b *AnthropicBackend) createStream(ctx context.Context, req turn.CompletionRequest, model string) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	messages, err := convertMessagesToAnthropic(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("backend: anthropic message conversion: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: b.maxTokens,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertToolsToAnthropic(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("backend: anthropic tool conversion: %w", err)
		}
		params.Tools = tools
	}

	return b.client.Messages.NewStreaming(ctx, params), nil
}

func convertMessagesToAnthropic(messages []core.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		if msg.Role == core.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Text != "" {
			content = append(content, anthropic.NewTextBlock(msg.Text))
		}
		if msg.ToolResult != nil {
			content = append(content, anthropic.NewToolResultBlock(
				msg.ToolResult.CallID, msg.ToolResult.Content, !msg.ToolResult.OK,
			))
		}
		for _, call := range msg.ToolCalls {
			var input map[string]any
			if len(call.Arguments) > 0 {
				if err := json.Unmarshal(call.Arguments, &input); err != nil {
					return nil, fmt.Errorf("tool call %s: invalid arguments: %w", call.ID, err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(call.ID, input, call.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == core.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func convertToolsToAnthropic(tools []turn.ToolSchema) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.Schema, &schema); err != nil {
			return nil, fmt.Errorf("tool %s: invalid schema: %w", t.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		result = append(result, param)
	}
	return result, nil
}

// processAnthropicStream drains stream to completion, assembling the
// content blocks it carries into one core.Message plus token usage.
func processAnthropicStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion]) (core.Message, core.Usage, error) {
	var text strings.Builder
	var calls []core.ToolCall
	var currentCall *core.ToolCall
	var currentInput strings.Builder
	var usage core.Usage

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			if ms.Message.Usage.InputTokens > 0 {
				usage.PromptTokens = int(ms.Message.Usage.InputTokens)
			}

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentCall = &core.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				currentInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				text.WriteString(delta.Text)
			case "input_json_delta":
				currentInput.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if currentCall != nil {
				currentCall.Arguments = json.RawMessage(currentInput.String())
				calls = append(calls, *currentCall)
				currentCall = nil
			}

		case "message_delta":
			md := event.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				usage.CompletionTokens = int(md.Usage.OutputTokens)
			}

		case "message_stop":
			return core.AssistantMessage(text.String(), calls...), usage, nil
		}
	}
	if err := stream.Err(); err != nil {
		return core.Message{}, core.Usage{}, err
	}
	return core.AssistantMessage(text.String(), calls...), usage, nil
}

func isRetryableAnthropicErr(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
		return false
	}
	msg := err.Error()
	for _, s := range []string{"rate_limit", "429", "too many requests", "500", "502", "503", "504", "timeout", "connection reset", "eof"} {
		if strings.Contains(strings.ToLower(msg), s) {
			return true
		}
	}
	return false
}

