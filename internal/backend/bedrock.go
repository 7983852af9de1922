package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/agentcore/agentcore/internal/turn"
	"github.com/agentcore/agentcore/pkg/core"
)

// BedrockBackend implements turn.Backend against AWS Bedrock's Converse
// streaming API. Grounded on the teacher's
// internal/agent/providers/bedrock.go BedrockProvider and
// internal/agent/toolconv/bedrock.go's tool-schema conversion, narrowed to
// text and tool-use content blocks.
type BedrockBackend struct {
	client       *bedrockruntime.Client
	defaultModel string
	maxTokens    int32
	retry        RetryConfig
}

// BedrockConfig configures a BedrockBackend.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	DefaultModel    string
	MaxTokens       int32
	Retry           RetryConfig
}

// NewBedrockBackend builds a BedrockBackend, loading AWS credentials from
// explicit config fields if given, else the default credential chain (env,
// IAM role).
func NewBedrockBackend(ctx context.Context, cfg BedrockConfig) (*BedrockBackend, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-sonnet-20240229-v1:0"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("backend: load AWS config: %w", err)
	}

	return &BedrockBackend{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
		maxTokens:    cfg.MaxTokens,
		retry:        cfg.Retry,
	}, nil
}

func (b *BedrockBackend) model(req turn.CompletionRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return b.defaultModel
}

// Complete satisfies turn.Backend.
func (b *BedrockBackend) Complete(ctx context.Context, req turn.CompletionRequest) (<-chan turn.CompletionChunk, error) {
	model := b.model(req)
	messages := convertMessagesToBedrock(req.Messages)

	converseReq := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(model),
		Messages: messages,
	}
	if req.System != "" {
		converseReq.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.System}}
	}
	converseReq.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(min64(int64(b.maxTokens), math.MaxInt32)))}
	if len(req.Tools) > 0 {
		converseReq.ToolConfig = convertToolsToBedrock(req.Tools)
	}

	var stream *bedrockruntime.ConverseStreamOutput
	err := Retry(ctx, b.retry, isRetryableBedrockErr, func() error {
		s, createErr := b.client.ConverseStream(ctx, converseReq)
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
	go processBedrockStream(ctx, stream, out)
	return out, nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func processBedrockStream(ctx context.Context, stream *bedrockruntime.ConverseStreamOutput, out chan<- turn.CompletionChunk) {
	defer close(out)
	eventStream := stream.GetStream()
	defer eventStream.Close()

	var text strings.Builder
	var calls []core.ToolCall
	var currentID, currentName string
	var currentInput strings.Builder

	eventChan := eventStream.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-eventChan:
			if !ok {
				if currentID != "" {
					calls = append(calls, core.ToolCall{ID: currentID, Name: currentName, Arguments: json.RawMessage(currentInput.String())})
				}
				out <- turn.CompletionChunk{Done: true, Message: core.AssistantMessage(text.String(), calls...)}
				return
			}
			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					currentID = aws.ToString(toolUse.Value.ToolUseId)
					currentName = aws.ToString(toolUse.Value.Name)
					currentInput.Reset()
				}
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					text.WriteString(delta.Value)
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						currentInput.WriteString(*delta.Value.Input)
					}
				}
			case *types.ConverseStreamOutputMemberContentBlockStop:
				if currentID != "" {
					calls = append(calls, core.ToolCall{ID: currentID, Name: currentName, Arguments: json.RawMessage(currentInput.String())})
					currentID = ""
					currentInput.Reset()
				}
			case *types.ConverseStreamOutputMemberMessageStop:
				out <- turn.CompletionChunk{Done: true, Message: core.AssistantMessage(text.String(), calls...)}
				return
			}
		}
	}
}

func convertMessagesToBedrock(messages []core.Message) []types.Message {
	result := make([]types.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == core.RoleSystem {
			continue
		}
		var content []types.ContentBlock
		if msg.Text != "" {
			content = append(content, &types.ContentBlockMemberText{Value: msg.Text})
		}
		if msg.ToolResult != nil {
			content = append(content, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(msg.ToolResult.CallID),
					Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: msg.ToolResult.Content}},
				},
			})
		}
		for _, tc := range msg.ToolCalls {
			var input any
			if err := json.Unmarshal(tc.Arguments, &input); err != nil {
				input = map[string]any{}
			}
			content = append(content, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Name),
					Input:     document.NewLazyDocument(input),
				},
			})
		}
		if len(content) == 0 {
			continue
		}
		role := types.ConversationRoleUser
		if msg.Role == core.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		result = append(result, types.Message{Role: role, Content: content})
	}
	return result
}

func convertToolsToBedrock(tools []turn.ToolSchema) *types.ToolConfiguration {
	bedrockTools := make([]types.Tool, len(tools))
	for i, t := range tools {
		var schema any
		if err := json.Unmarshal(t.Schema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		bedrockTools[i] = &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(t.Name),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			},
		}
	}
	return &types.ToolConfiguration{Tools: bedrockTools}
}

func isRetryableBedrockErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"throttl", "429", "500", "502", "503", "504", "timeout", "connection reset"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
