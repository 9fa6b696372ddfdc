// Package provider normalizes each LLM vendor's tool-calling protocol behind a
// single Strategy interface so the orchestrator loop stays provider-agnostic.
//
// Three variants exist: openai and anthropic map the conversation onto a
// single request/response pair, while gemini runs its own internal sub-loop to
// satisfy that API's multi-turn functionCall/functionResponse parts protocol.
package provider

import (
	"context"

	"github.com/helmsman-ai/helmsman/conversation"
	"github.com/helmsman-ai/helmsman/tool"
)

// OnChunk receives incremental text while a response streams. May be nil.
type OnChunk func(text string)

// Result is the normalized outcome of one model round-trip. ToolCalls is empty
// when the model produced a final answer.
type Result struct {
	Content   string      `json:"content"`
	ToolCalls []tool.Call `json:"tool_calls,omitempty"`
}

// Strategy is the contract the orchestrator requires from a provider adapter.
type Strategy interface {
	// Name returns the provider identifier ("openai", "anthropic", "gemini").
	Name() string

	// Ready reports whether the underlying client can serve requests.
	Ready() bool

	// ProcessMessage sends the conversation with the given tool schemas and
	// returns the normalized response. Implementations stream text through
	// onChunk when no tools are supplied; with tools pending they use
	// non-streaming calls to avoid partial-argument corruption.
	ProcessMessage(
		ctx context.Context,
		messages []conversation.Message,
		tools []tool.FunctionSchema,
		onChunk OnChunk,
	) (*Result, error)
}
