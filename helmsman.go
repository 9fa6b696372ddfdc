// Package helmsman provides a high-level façade over the orchestration core:
// a provider-backed tool-calling loop with runaway-loop protection, a shared
// tool registry, and a factory for specialized sub-agents. Most applications
// interact with this package by:
//  1. Creating a Helmsman via New() (or NewFromConfig for YAML-driven setup)
//  2. Registering tools
//  3. Calling ProcessMessage, or delegating classified tasks to sub-agents
//
// The façade delegates the request/execute/append loop to
// orchestrator.Orchestrator while keeping setup ergonomics concise. Defaults
// are safe for local development; production deployments typically supply a
// structured logger and tuned loop-detection thresholds.
package helmsman

import (
	"context"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/helmsman-ai/helmsman/config"
	"github.com/helmsman-ai/helmsman/logging"
	"github.com/helmsman-ai/helmsman/orchestrator"
	"github.com/helmsman-ai/helmsman/provider"
	"github.com/helmsman-ai/helmsman/provider/anthropic"
	"github.com/helmsman-ai/helmsman/provider/gemini"
	"github.com/helmsman-ai/helmsman/provider/openai"
	"github.com/helmsman-ai/helmsman/subagent"
	"github.com/helmsman-ai/helmsman/tool"
)

// Options configure a Helmsman instance.
type Options struct {
	// Config supplies the provider selection, loop-detection thresholds,
	// communication settings and specialization overrides.
	Config *config.Config

	// SystemPrompt is the base instruction for the main orchestrator.
	SystemPrompt string

	// ProjectContext is appended to the system message and inherited by
	// sub-agents.
	ProjectContext string

	// Strategy overrides provider selection entirely. When set, the
	// Config.Provider / Config.Model fields are ignored for the main agent.
	Strategy provider.Strategy

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Helmsman is the high-level façade aggregating the main orchestrator, its
// tool registry and the sub-agent factory.
type Helmsman struct {
	opts    Options
	orch    *orchestrator.Orchestrator
	handler *tool.Handler
	factory *subagent.Factory
}

// New creates a Helmsman instance with optional overrides. Provider selection
// follows Config.Provider; unknown provider names fall back to the
// OpenAI-shaped strategy, which most compatible inference servers speak.
func New(ctx context.Context, optFns ...func(o *Options)) (*Helmsman, error) {
	opts := Options{
		Config: config.Default(),
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	handler := tool.NewHandler(opts.Logger)

	strategy := opts.Strategy
	if strategy == nil {
		var err error
		strategy, err = NewStrategy(ctx, opts.Config.Provider, opts.Config.Model, handler)
		if err != nil {
			return nil, err
		}
	}

	orch := orchestrator.New(strategy, handler, func(o *orchestrator.Options) {
		o.LoopDetection = opts.Config.LoopDetection
		if opts.SystemPrompt != "" {
			o.SystemPrompt = opts.SystemPrompt
		}
		o.ProjectContext = opts.ProjectContext
		o.Logger = opts.Logger
	})

	cfg := opts.Config
	factory := subagent.NewFactory(
		func(model string, agentTools *tool.Handler) (provider.Strategy, error) {
			if model == "" {
				model = cfg.Model
			}
			return NewStrategy(ctx, cfg.Provider, model, agentTools)
		},
		func(o *subagent.FactoryOptions) {
			o.Config = cfg
			o.ParentTools = handler
			o.ParentContext = opts.ProjectContext
			o.Logger = opts.Logger
		},
	)

	return &Helmsman{opts: opts, orch: orch, handler: handler, factory: factory}, nil
}

// NewFromConfig loads a YAML configuration file and creates a Helmsman from it.
func NewFromConfig(ctx context.Context, path string, optFns ...func(o *Options)) (*Helmsman, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("helmsman: %w", err)
	}
	fns := append([]func(o *Options){func(o *Options) { o.Config = cfg }}, optFns...)
	return New(ctx, fns...)
}

// NewStrategy builds a provider strategy by name. Unknown names fall back to
// the OpenAI strategy. The tool handler is only needed for Gemini, whose
// function-calling protocol executes tools inside the strategy.
func NewStrategy(ctx context.Context, name, model string, handler *tool.Handler) (provider.Strategy, error) {
	switch name {
	case "anthropic":
		return anthropic.New(func(o *anthropic.Options) {
			if model != "" {
				o.Model = anthropicsdk.Model(model)
			}
		}), nil
	case "gemini":
		if handler == nil {
			handler = tool.NewHandler(nil)
		}
		s, err := gemini.New(ctx, handler, func(o *gemini.Options) {
			if model != "" {
				o.Model = model
			}
		})
		if err != nil {
			return nil, fmt.Errorf("helmsman: create gemini strategy: %w", err)
		}
		return s, nil
	default:
		return openai.New(func(o *openai.Options) {
			if model != "" {
				o.Model = model
			}
		}), nil
	}
}

// RegisterTool adds a tool to the shared registry used by the main
// orchestrator and inherited (subject to allow-lists) by sub-agents.
func (h *Helmsman) RegisterTool(t tool.Tool) { h.handler.Register(t) }

// Tools returns the names of all registered tools.
func (h *Helmsman) Tools() []string { return h.handler.Names() }

// Orchestrator exposes the main orchestrator for advanced use.
func (h *Helmsman) Orchestrator() *orchestrator.Orchestrator { return h.orch }

// SubAgents exposes the sub-agent factory.
func (h *Helmsman) SubAgents() *subagent.Factory { return h.factory }

// ProcessMessage runs one user message through the main tool-calling loop and
// returns the model's final answer. onChunk, when non-nil, receives streamed
// response text for providers that support it.
func (h *Helmsman) ProcessMessage(ctx context.Context, input string, onChunk provider.OnChunk) (string, error) {
	return h.orch.ProcessMessage(ctx, input, onChunk)
}

// DelegateTask classifies the task, creates (or reuses) an agent of the
// matching specialization and runs the task on it synchronously.
func (h *Helmsman) DelegateTask(ctx context.Context, task string) (subagent.TaskResult, error) {
	spec := h.factory.AnalyzeTaskForSpecialization(task)

	var agent *subagent.SubAgent
	for _, a := range h.factory.Agents() {
		if a.Specialization() == spec && a.IsReady() {
			agent = a
			break
		}
	}
	if agent == nil {
		var err error
		agent, err = h.factory.CreateSpecializedAgent(spec)
		if err != nil {
			return subagent.TaskResult{}, err
		}
	}

	return agent.ProcessTask(ctx, subagent.NewTaskDelegation(task)), nil
}

// ClearHistory resets the main conversation.
func (h *Helmsman) ClearHistory() { h.orch.ClearHistory() }

// Shutdown stops all sub-agents and their message bus. The main orchestrator
// remains usable.
func (h *Helmsman) Shutdown() { h.factory.ShutdownAllAgents() }
