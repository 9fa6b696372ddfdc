// Package openai implements provider.Strategy using the OpenAI Chat
// Completions API (including streaming and function/tool calling). It adapts
// the normalized conversation format into the SDK's message format and back.
package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"

	"github.com/helmsman-ai/helmsman/conversation"
	"github.com/helmsman-ai/helmsman/provider"
	"github.com/helmsman-ai/helmsman/tool"
)

// Options configure the OpenAI strategy. Fields mirror a subset of Chat
// Completion parameters intentionally kept minimal; extend via functional
// options without breaking callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Strategy wraps the OpenAI Chat Completions API behind provider.Strategy.
type Strategy struct {
	client *openai.Client
	opts   Options
}

// New creates a new OpenAI strategy using the official client (credentials
// from the environment).
func New(optFns ...func(o *Options)) *Strategy {
	client := openai.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates a new OpenAI strategy from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Strategy {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Strategy{client: client, opts: opts}
}

// Name implements provider.Strategy.
func (s *Strategy) Name() string { return "openai" }

// Ready implements provider.Strategy.
func (s *Strategy) Ready() bool { return s.client != nil }

// ProcessMessage implements provider.Strategy. Streaming is used only when no
// tools are supplied for the turn; tool-bearing requests go through the
// non-streaming endpoint so function arguments arrive whole.
func (s *Strategy) ProcessMessage(
	ctx context.Context,
	messages []conversation.Message,
	tools []tool.FunctionSchema,
	onChunk provider.OnChunk,
) (*provider.Result, error) {
	params := s.buildParams(messages, tools)
	if onChunk != nil && len(tools) == 0 {
		return s.stream(ctx, params, onChunk)
	}
	return s.complete(ctx, params)
}

// buildParams assembles the request including messages and tool definitions.
func (s *Strategy) buildParams(
	messages []conversation.Message,
	tools []tool.FunctionSchema,
) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages:            convertMessages(messages),
		Model:               s.opts.Model,
		Temperature:         openai.Float(s.opts.Temperature),
		MaxCompletionTokens: openai.Int(s.opts.MaxCompletionTokens),
	}
	if len(tools) == 0 {
		return params
	}
	defs := make([]openai.ChatCompletionToolParam, len(tools))
	for i, t := range tools {
		defs[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  t.Parameters,
			},
		}
	}
	params.Tools = defs
	return params
}

// convertMessages maps the normalized conversation onto SDK message unions.
// The conversation manager guarantees tool results follow the assistant
// message that requested them, so a sequential mapping suffices.
func convertMessages(messages []conversation.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case conversation.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case conversation.RoleUser:
			out = append(out, openai.UserMessage(msg.Content))
		case conversation.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(msg.Content))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCallParam, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				toolCalls[i] = openai.ChatCompletionMessageToolCallParam{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				}
			}
			assistant := openai.ChatCompletionAssistantMessageParam{
				Role:      "assistant",
				ToolCalls: toolCalls,
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case conversation.RoleTool:
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			if msg.Content != "" {
				out = append(out, openai.UserMessage(msg.Content))
			}
		}
	}
	return out
}

// complete performs a non-streaming completion.
func (s *Strategy) complete(ctx context.Context, params openai.ChatCompletionNewParams) (*provider.Result, error) {
	resp, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices returned")
	}
	choice := resp.Choices[0]
	result := &provider.Result{Content: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, tool.Call{
			ID:   tc.ID,
			Type: "function",
			Function: tool.CallFunction{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return result, nil
}

// stream performs a streaming completion forwarding text deltas to onChunk.
func (s *Strategy) stream(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
	onChunk provider.OnChunk,
) (*provider.Result, error) {
	stream := s.client.Chat.Completions.NewStreaming(ctx, params)
	var text strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			text.WriteString(choice.Delta.Content)
			onChunk(choice.Delta.Content)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai streaming error: %w", err)
	}
	return &provider.Result{Content: text.String()}, nil
}
