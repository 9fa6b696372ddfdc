// Package gemini implements provider.Strategy using the Gemini API.
//
// Gemini does not accept a flat call/response pair: the model emits
// functionCall parts and expects matching functionResponse parts in the next
// request. The strategy therefore runs its own internal sub-loop that executes
// tool calls against the shared Handler and only returns once a turn yields no
// function call, keeping the outer orchestrator loop provider-agnostic.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/helmsman-ai/helmsman/conversation"
	"github.com/helmsman-ai/helmsman/provider"
	"github.com/helmsman-ai/helmsman/tool"
)

// DefaultModel is used when no model id is configured.
const DefaultModel = "gemini-2.0-flash"

// defaultMaxTurns bounds the internal functionCall/functionResponse sub-loop.
const defaultMaxTurns = 25

// Options configure the Gemini strategy.
type Options struct {
	Model    string
	APIKey   string
	MaxTurns int
}

// Strategy wraps the Gemini API behind provider.Strategy. It holds the tool
// Handler so the internal sub-loop can execute function calls directly.
type Strategy struct {
	client  *genai.Client
	handler *tool.Handler
	opts    Options
}

// New creates a new Gemini strategy.
func New(ctx context.Context, handler *tool.Handler, optFns ...func(o *Options)) (*Strategy, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Strategy{client: client, handler: handler, opts: opts}, nil
}

// NewFromClient creates a new Gemini strategy from an existing client.
func NewFromClient(client *genai.Client, handler *tool.Handler, optFns ...func(o *Options)) *Strategy {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Strategy{client: client, handler: handler, opts: opts}
}

func defaultOptions() Options {
	return Options{Model: DefaultModel, MaxTurns: defaultMaxTurns}
}

// Name implements provider.Strategy.
func (s *Strategy) Name() string { return "gemini" }

// Ready implements provider.Strategy.
func (s *Strategy) Ready() bool { return s.client != nil && s.handler != nil }

// ProcessMessage implements provider.Strategy by running the parts protocol
// sub-loop. The returned Result never carries tool calls: they have all been
// resolved internally by the time a turn produces plain text.
func (s *Strategy) ProcessMessage(
	ctx context.Context,
	messages []conversation.Message,
	tools []tool.FunctionSchema,
	onChunk provider.OnChunk,
) (*provider.Result, error) {
	contents, cfg := s.convertRequest(messages, tools)

	for turn := 0; turn < s.opts.MaxTurns; turn++ {
		resp, err := s.client.Models.GenerateContent(ctx, s.opts.Model, contents, cfg)
		if err != nil {
			return nil, fmt.Errorf("gemini api error: %w", err)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			return nil, fmt.Errorf("gemini: no candidates returned")
		}

		candidate := resp.Candidates[0]
		calls := resp.FunctionCalls()
		if len(calls) == 0 {
			text := collectText(candidate.Content)
			if onChunk != nil && text != "" {
				onChunk(text)
			}
			return &provider.Result{Content: text}, nil
		}

		// Append the model turn, then execute each call and answer it with a
		// functionResponse part in a single user turn.
		contents = append(contents, candidate.Content)
		responseParts := make([]*genai.Part, 0, len(calls))
		for _, fc := range calls {
			responseParts = append(responseParts, s.executeFunctionCall(ctx, fc))
		}
		contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: responseParts})
	}

	return nil, fmt.Errorf("gemini: exceeded %d tool-calling turns without a final answer", s.opts.MaxTurns)
}

// executeFunctionCall runs one model-issued function call through the Handler
// and wraps the outcome as a functionResponse part.
func (s *Strategy) executeFunctionCall(ctx context.Context, fc *genai.FunctionCall) *genai.Part {
	id := fc.ID
	if id == "" {
		id = uuid.NewString()
	}
	args := "{}"
	if fc.Args != nil {
		if b, err := json.Marshal(fc.Args); err == nil {
			args = string(b)
		}
	}

	call := tool.Call{
		ID:       id,
		Type:     "function",
		Function: tool.CallFunction{Name: fc.Name, Arguments: args},
	}
	result, err := s.handler.ExecuteToolCall(ctx, call)
	if err != nil {
		return genai.NewPartFromFunctionResponse(fc.Name, map[string]any{"error": err.Error()})
	}
	return genai.NewPartFromFunctionResponse(fc.Name, map[string]any{"output": result.Content})
}

// convertRequest maps the normalized conversation and tool schemas onto Gemini
// contents and generation config.
func (s *Strategy) convertRequest(
	messages []conversation.Message,
	tools []tool.FunctionSchema,
) ([]*genai.Content, *genai.GenerateContentConfig) {
	cfg := &genai.GenerateContentConfig{}

	if len(tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, len(tools))
		for i, t := range tools {
			decls[i] = &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.Parameters,
			}
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	// Resolve tool-call ids back to function names for functionResponse parts.
	callNames := map[string]string{}
	for _, msg := range messages {
		for _, tc := range msg.ToolCalls {
			callNames[tc.ID] = tc.Function.Name
		}
	}

	var contents []*genai.Content
	for _, msg := range messages {
		switch msg.Role {
		case conversation.RoleSystem:
			cfg.SystemInstruction = genai.NewContentFromText(msg.Content, genai.RoleUser)
		case conversation.RoleAssistant:
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				var args map[string]any
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
					args = map[string]any{}
				}
				parts = append(parts, genai.NewPartFromFunctionCall(tc.Function.Name, args))
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})
			}
		case conversation.RoleTool:
			name := callNames[msg.ToolCallID]
			part := genai.NewPartFromFunctionResponse(name, map[string]any{"output": msg.Content})
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{part}})
		default:
			if msg.Content != "" {
				contents = append(contents, &genai.Content{
					Role:  genai.RoleUser,
					Parts: []*genai.Part{{Text: msg.Content}},
				})
			}
		}
	}
	return contents, cfg
}

// collectText concatenates the text parts of a content.
func collectText(content *genai.Content) string {
	var b strings.Builder
	for _, part := range content.Parts {
		if part.Text != "" {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}
