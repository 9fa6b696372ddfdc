// Package anthropic implements provider.Strategy using the Anthropic Messages
// API with tool_use / tool_result content blocks.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/helmsman-ai/helmsman/conversation"
	"github.com/helmsman-ai/helmsman/provider"
	"github.com/helmsman-ai/helmsman/tool"
)

// Options configure the Anthropic strategy (model id, temperature, max tokens,
// API key). Extend via functional options to preserve stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Strategy wraps the Anthropic Messages API behind provider.Strategy.
type Strategy struct {
	client *anthropic.Client
	opts   Options
}

// New creates a new Anthropic strategy using the official client.
func New(optFns ...func(o *Options)) *Strategy {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Strategy{client: &client, opts: opts}
}

// NewFromClient creates a new Anthropic strategy from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Strategy {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Strategy{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// Name implements provider.Strategy.
func (s *Strategy) Name() string { return "anthropic" }

// Ready implements provider.Strategy.
func (s *Strategy) Ready() bool { return s.client != nil }

// ProcessMessage implements provider.Strategy. The Messages API is called
// non-streaming; when onChunk is set the final text is delivered as a single
// chunk so callers observe a uniform streaming surface across providers.
func (s *Strategy) ProcessMessage(
	ctx context.Context,
	messages []conversation.Message,
	tools []tool.FunctionSchema,
	onChunk provider.OnChunk,
) (*provider.Result, error) {
	params := anthropic.MessageNewParams{
		Model:       s.opts.Model,
		Messages:    convertMessages(messages),
		MaxTokens:   s.opts.MaxTokens,
		Temperature: anthropic.Float(s.opts.Temperature),
	}
	if system := extractSystem(messages); len(system) > 0 {
		params.System = system
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}

	resp, err := s.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic api error: %w", err)
	}

	result := &provider.Result{}
	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "tool_use":
			toolBlock := block.AsToolUse()
			args := "{}"
			if toolBlock.Input != nil {
				if b, err := json.Marshal(toolBlock.Input); err == nil {
					args = string(b)
				}
			}
			result.ToolCalls = append(result.ToolCalls, tool.Call{
				ID:   toolBlock.ID,
				Type: "function",
				Function: tool.CallFunction{
					Name:      toolBlock.Name,
					Arguments: args,
				},
			})
		}
	}
	result.Content = text.String()

	if onChunk != nil && len(result.ToolCalls) == 0 && result.Content != "" {
		onChunk(result.Content)
	}
	return result, nil
}

// convertMessages maps the normalized conversation onto Anthropic messages.
// Tool-role messages become tool_result blocks inside a user message directly
// after the assistant turn that requested them, as the Messages API requires.
func convertMessages(messages []conversation.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	var pendingResults []anthropic.ContentBlockParamUnion

	flushResults := func() {
		if len(pendingResults) > 0 {
			out = append(out, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, msg := range messages {
		switch msg.Role {
		case conversation.RoleSystem:
			continue // handled separately via params.System
		case conversation.RoleTool:
			pendingResults = append(pendingResults,
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		case conversation.RoleAssistant:
			flushResults()
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input any
				if tc.Function.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
						input = tc.Function.Arguments
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Function.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		default: // user and anything unrecognized
			flushResults()
			if msg.Content != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
			}
		}
	}
	flushResults()
	return out
}

// extractSystem collects system-role content into system prompt blocks.
func extractSystem(messages []conversation.Message) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam
	for _, msg := range messages {
		if msg.Role == conversation.RoleSystem && msg.Content != "" {
			blocks = append(blocks, anthropic.TextBlockParam{Text: msg.Content})
		}
	}
	return blocks
}

// convertTools maps function schemas to the Anthropic tool format.
func convertTools(tools []tool.FunctionSchema) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if t.Parameters != nil {
			if properties, ok := t.Parameters["properties"]; ok {
				inputSchema.Properties = properties
			}
			inputSchema.Required = requiredNames(t.Parameters["required"])
		}
		out[i] = anthropic.ToolUnionParamOfTool(inputSchema, t.Name)
	}
	return out
}

// requiredNames accepts both []string and []any shapes of a schema's required list.
func requiredNames(required any) []string {
	switch req := required.(type) {
	case []string:
		return req
	case []any:
		var names []string
		for _, r := range req {
			if s, ok := r.(string); ok {
				names = append(names, s)
			}
		}
		return names
	default:
		return nil
	}
}
