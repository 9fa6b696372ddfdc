package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/helmsman-ai/helmsman/logging"
)

// Handler manages a name→tool registry and executes individual tool calls.
//
// Execution never panics outward: an unknown tool name, a tool-level failure
// or an execution error all surface as a Result whose Content the model can
// read. Only malformed argument JSON is returned as an error, letting the
// caller convert it into an error content block for the same conversation.
type Handler struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger logging.Logger
}

// NewHandler creates an empty Handler. A nil logger is replaced with NoOpLogger.
func NewHandler(logger logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Handler{tools: make(map[string]Tool), logger: logger}
}

// Register adds a tool to the registry. Last write wins on name collision.
func (h *Handler) Register(t Tool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.tools[t.Name()]; exists {
		h.logger.Warn("tool.register.overwrite", "tool", t.Name())
	}
	h.tools[t.Name()] = t
}

// Get returns the tool registered under name.
func (h *Handler) Get(name string) (Tool, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	t, ok := h.tools[name]
	return t, ok
}

// Tools returns all registered tools in name order.
func (h *Handler) Tools() []Tool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	tools := make([]Tool, 0, len(h.tools))
	for _, name := range h.sortedNames() {
		tools = append(tools, h.tools[name])
	}
	return tools
}

// Names returns the sorted names of all registered tools.
func (h *Handler) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sortedNames()
}

// sortedNames must be called with h.mu held.
func (h *Handler) sortedNames() []string {
	names := make([]string, 0, len(h.tools))
	for name := range h.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExecuteToolCall runs one tool call against the registry.
//
// Outcomes:
//   - unknown tool        → Result{Success: false} listing available tools, nil error
//   - malformed arguments → nil Result, *ToolError{Code: INVALID_ARGUMENTS}
//   - tool failure        → Result{Success: true}, Content encodes {"success": false, ...}
//   - tool success        → Result{Success: true}, Content encodes {"success": true, "data": ...}
func (h *Handler) ExecuteToolCall(ctx context.Context, call Call) (*Result, error) {
	name := call.Function.Name

	t, ok := h.Get(name)
	if !ok {
		h.logger.Warn("tool.call.unknown", "tool", name, "tool_call_id", call.ID)
		payload := mustMarshal(map[string]any{
			"error":           fmt.Sprintf("tool %q is not registered", name),
			"available_tools": h.Names(),
		})
		return &Result{Success: false, Content: payload, ToolCallID: call.ID}, nil
	}

	args, err := parseArguments(call.Function.Arguments)
	if err != nil {
		h.logger.Error("tool.call.bad_arguments", "tool", name, "error", err.Error())
		return nil, &ToolError{
			Tool:    name,
			Message: fmt.Sprintf("failed to parse arguments: %v", err),
			Code:    CodeInvalidArguments,
		}
	}

	h.logger.Debug("tool.call.start", "tool", name, "tool_call_id", call.ID)

	start := time.Now()
	out, execErr := t.Execute(ctx, args)
	elapsed := time.Since(start)

	metadata := map[string]any{"duration_ms": elapsed.Milliseconds()}
	if out != nil {
		for k, v := range out.Metadata {
			metadata[k] = v
		}
	}

	if execErr != nil {
		h.logger.Error("tool.call.error", "tool", name, "error", execErr.Error(), "duration_ms", elapsed.Milliseconds())
		payload := mustMarshal(map[string]any{
			"success":  false,
			"error":    execErr.Error(),
			"metadata": metadata,
		})
		return &Result{Success: true, Content: payload, ToolCallID: call.ID}, nil
	}

	if out != nil && !out.Success {
		h.logger.Warn("tool.call.failed", "tool", name, "error", out.Error, "duration_ms", elapsed.Milliseconds())
		payload := mustMarshal(map[string]any{
			"success":  false,
			"error":    out.Error,
			"metadata": metadata,
		})
		return &Result{Success: true, Content: payload, ToolCallID: call.ID}, nil
	}

	h.logger.Info("tool.call.success", "tool", name, "duration_ms", elapsed.Milliseconds())

	var data any
	if out != nil {
		data = out.Output
	}
	payload := mustMarshal(map[string]any{
		"success":  true,
		"data":     data,
		"metadata": metadata,
	})
	return &Result{Success: true, Content: payload, ToolCallID: call.ID}, nil
}

// parseArguments decodes a JSON argument string. Empty input yields an empty map.
func parseArguments(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// mustMarshal serializes a payload that is built from JSON-safe values only.
func mustMarshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":%q}`, err.Error())
	}
	return string(b)
}
