// Package orchestrator drives the iterative tool-calling loop at the heart of
// the assistant: build request, call the provider strategy, execute returned
// tool calls, append results, repeat until the model produces a final answer
// or a runaway-loop heuristic aborts the run.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/helmsman-ai/helmsman/config"
	"github.com/helmsman-ai/helmsman/conversation"
	"github.com/helmsman-ai/helmsman/logging"
	"github.com/helmsman-ai/helmsman/provider"
	"github.com/helmsman-ai/helmsman/tool"
)

// State identifies the current phase of a ProcessMessage run.
type State int

// Orchestrator states. Aborted is terminal for a run; the orchestrator itself
// stays reusable for subsequent ProcessMessage calls.
const (
	StateIdle State = iota
	StateRequesting
	StateToolCalls
	StateFinalizing
	StateDone
	StateAborted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateToolCalls:
		return "tool_calls"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// ErrNotReady is returned when the provider strategy cannot serve requests.
// The check runs before any conversation state is mutated.
var ErrNotReady = errors.New("orchestrator: provider strategy is not ready")

// LoopDetectedError aborts a run when a runaway tool-calling sequence is
// detected (repeating pattern, tool streak, volume cap or wall-clock ceiling).
type LoopDetectedError struct {
	Reason    string
	Iteration int
}

func (e *LoopDetectedError) Error() string {
	return fmt.Sprintf("loop detected at iteration %d: %s", e.Iteration, e.Reason)
}

// ProviderError wraps a fatal model/network failure with the iteration it
// occurred in.
type ProviderError struct {
	Iteration int
	Err       error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider call failed at iteration %d: %v", e.Iteration, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Options configure an Orchestrator.
type Options struct {
	// LoopDetection thresholds; defaults come from config.Default().
	LoopDetection config.LoopDetection

	// SystemPrompt is the base instruction prepended to every request.
	SystemPrompt string

	// ProjectContext is appended to the system message and copied into
	// sub-agents created for this orchestrator.
	ProjectContext string

	Logger logging.Logger
}

// Orchestrator owns one conversation and drives it to completion. It is safe
// for concurrent use in the sense that ProcessMessage calls serialize; callers
// wanting parallelism run multiple orchestrators (see subagent.Factory).
type Orchestrator struct {
	strategy provider.Strategy
	handler  *tool.Handler
	conv     *conversation.Manager
	cfg      config.LoopDetection
	logger   logging.Logger

	mu             sync.Mutex
	state          State
	systemPrompt   string
	projectContext string
	lastTools      []string
}

// New creates an Orchestrator around a provider strategy and tool handler.
func New(strategy provider.Strategy, handler *tool.Handler, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		LoopDetection: config.Default().LoopDetection,
		SystemPrompt:  "You are a helpful coding assistant.",
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Orchestrator{
		strategy:       strategy,
		handler:        handler,
		conv:           conversation.NewManager(),
		cfg:            opts.LoopDetection,
		logger:         opts.Logger,
		state:          StateIdle,
		systemPrompt:   opts.SystemPrompt,
		projectContext: opts.ProjectContext,
	}
}

// RegisterTool adds a tool to the orchestrator's registry.
func (o *Orchestrator) RegisterTool(t tool.Tool) { o.handler.Register(t) }

// RegisteredTools returns the names of all registered tools.
func (o *Orchestrator) RegisteredTools() []string { return o.handler.Names() }

// Handler exposes the underlying tool handler (used by sub-agent scoping).
func (o *Orchestrator) Handler() *tool.Handler { return o.handler }

// ClearHistory discards the conversation log.
func (o *Orchestrator) ClearHistory() { o.conv.ClearHistory() }

// History returns a defensive copy of the conversation log.
func (o *Orchestrator) History() []conversation.Message { return o.conv.History() }

// ConversationSummary renders a truncated debug view of the conversation.
func (o *Orchestrator) ConversationSummary() string { return o.conv.Summary() }

// SetProjectContext replaces the project context fragment of the system message.
func (o *Orchestrator) SetProjectContext(ctx string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.projectContext = ctx
}

// ProjectContext returns the current project context fragment.
func (o *Orchestrator) ProjectContext() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.projectContext
}

// State returns the phase of the most recent (or in-flight) run.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// ToolsUsed returns the distinct tool names the most recent run invoked, in
// first-use order.
func (o *Orchestrator) ToolsUsed() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.lastTools))
	copy(out, o.lastTools)
	return out
}

func (o *Orchestrator) recordToolsUsed(records []callRecord) {
	seen := map[string]struct{}{}
	var names []string
	for _, r := range records {
		if _, ok := seen[r.Tool]; ok {
			continue
		}
		seen[r.Tool] = struct{}{}
		names = append(names, r.Tool)
	}
	o.mu.Lock()
	o.lastTools = names
	o.mu.Unlock()
}

// Ready reports whether the orchestrator can process messages.
func (o *Orchestrator) Ready() bool {
	return o.strategy != nil && o.strategy.Ready()
}

// ProcessMessage runs the tool-calling loop for one user input and returns the
// model's final answer.
//
// Tool-level failures (unknown tools, bad arguments, execution errors) are
// converted into conversation content the model can recover from; provider
// failures and loop-detection aborts are fatal and returned as errors. The
// conversation is always left consistent: the last appended message completes
// its request/response interleaving.
func (o *Orchestrator) ProcessMessage(ctx context.Context, input string, onChunk provider.OnChunk) (string, error) {
	if !o.Ready() {
		return "", ErrNotReady
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.cfg.WallClockLimit)
	defer cancel()

	o.conv.AddUserMessage(input)

	limiter := NewCallLimiter(o.cfg.MaxToolCalls)
	var records []callRecord
	defer func() { o.recordToolsUsed(records) }()

	for iteration := 1; ; iteration++ {
		o.setState(StateRequesting)

		result, err := o.request(ctx, onChunk)
		if err != nil {
			o.setState(StateAborted)
			// A deadline hit after the wall-clock limit elapsed is the
			// orchestrator's own ceiling firing, not a provider fault.
			if errors.Is(err, context.DeadlineExceeded) && time.Since(start) >= o.cfg.WallClockLimit {
				return "", &LoopDetectedError{
					Reason:    fmt.Sprintf("execution exceeded the %s wall-clock limit (%s elapsed)", o.cfg.WallClockLimit, time.Since(start).Round(time.Second)),
					Iteration: iteration,
				}
			}
			return "", &ProviderError{Iteration: iteration, Err: err}
		}

		if len(result.ToolCalls) == 0 {
			o.setState(StateFinalizing)
			o.conv.AddAssistantMessage(result.Content, nil)
			o.setState(StateDone)
			return result.Content, nil
		}

		o.setState(StateToolCalls)
		o.conv.AddAssistantMessage(result.Content, result.ToolCalls)

		if elapsed := time.Since(start); elapsed > o.cfg.WallClockLimit {
			o.setState(StateAborted)
			return "", &LoopDetectedError{
				Reason:    fmt.Sprintf("execution exceeded the %s wall-clock limit (%s elapsed)", o.cfg.WallClockLimit, elapsed.Round(time.Second)),
				Iteration: iteration,
			}
		}

		// Tool calls execute strictly in order to preserve the 1:1 mapping
		// between tool_calls[] and their result messages.
		for _, call := range result.ToolCalls {
			o.executeCall(ctx, call)
			records = append(records, callRecord{Tool: call.Function.Name, Args: call.Function.Arguments})
		}

		limiter.Add(len(result.ToolCalls))
		if limiter.Exceeded() {
			o.setState(StateAborted)
			return "", &LoopDetectedError{
				Reason:    fmt.Sprintf("total tool calls exceeded the cap of %d", o.cfg.MaxToolCalls),
				Iteration: iteration,
			}
		}

		if reason, detected := detectLoop(records, o.cfg); detected {
			o.setState(StateAborted)
			o.logger.Warn("orchestrator.loop_detected", "reason", reason, "iteration", iteration)
			return "", &LoopDetectedError{Reason: reason, Iteration: iteration}
		}
	}
}

// request performs one provider round-trip with timing and structured logging.
func (o *Orchestrator) request(ctx context.Context, onChunk provider.OnChunk) (*provider.Result, error) {
	messages := o.conv.BuildMessages(o.buildSystemMessage())
	schemas := tool.Schemas(o.handler.Tools())

	start := time.Now()
	result, err := o.strategy.ProcessMessage(ctx, messages, schemas, onChunk)
	elapsed := time.Since(start)
	if err != nil {
		o.logger.Error("orchestrator.model_call.failed", "provider", o.strategy.Name(), "duration_ms", elapsed.Milliseconds(), "error", err.Error())
		return nil, err
	}
	o.logger.Debug("orchestrator.model_call.completed", "provider", o.strategy.Name(), "duration_ms", elapsed.Milliseconds(), "tool_calls", len(result.ToolCalls))
	return result, nil
}

// executeCall runs one tool call and appends its result to the conversation.
// All failure shapes end up as tool-role content the model can observe.
func (o *Orchestrator) executeCall(ctx context.Context, call tool.Call) {
	result, err := o.handler.ExecuteToolCall(ctx, call)
	if err != nil {
		payload, _ := json.Marshal(map[string]any{"success": false, "error": err.Error()})
		o.conv.AddToolResult(string(payload), call.ID)
		return
	}
	o.conv.AddToolResult(result.Content, result.ToolCallID)
}

// buildSystemMessage assembles the per-turn system prompt: base instructions,
// the tool roster and any project context.
func (o *Orchestrator) buildSystemMessage() string {
	o.mu.Lock()
	prompt := o.systemPrompt
	projectContext := o.projectContext
	o.mu.Unlock()

	var b strings.Builder
	b.WriteString(prompt)

	tools := o.handler.Tools()
	if len(tools) > 0 {
		b.WriteString("\n\nAvailable tools:\n")
		for _, t := range tools {
			fmt.Fprintf(&b, "- %s: %s\n", t.Name(), t.Description())
		}
	}
	if projectContext != "" {
		b.WriteString("\nProject context:\n")
		b.WriteString(projectContext)
	}
	return b.String()
}
