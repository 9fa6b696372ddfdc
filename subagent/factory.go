package subagent

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/helmsman-ai/helmsman/config"
	"github.com/helmsman-ai/helmsman/logging"
	"github.com/helmsman-ai/helmsman/orchestrator"
	"github.com/helmsman-ai/helmsman/provider"
	"github.com/helmsman-ai/helmsman/tool"
)

// StrategyFactory builds a provider strategy for a sub-agent. The model is the
// specialization's override, or empty for the provider default. The handler is
// the agent's own scoped tool registry; strategies that execute tools
// themselves (Gemini) must use it so they see the tools registered during
// agent initialization.
type StrategyFactory func(model string, handler *tool.Handler) (provider.Strategy, error)

// FactoryOptions configure a Factory.
type FactoryOptions struct {
	// ParentID identifies the parent orchestrator on the coordinator's bus.
	ParentID string

	// Config supplies communication settings and specialization overrides.
	Config *config.Config

	// ParentTools is the full tool registry agents are scoped against.
	ParentTools *tool.Handler

	// ParentContext is copied into each agent's orchestrator.
	ParentContext string

	Logger logging.Logger
}

// Factory creates and tracks specialized sub-agents. It owns the Coordinator
// all agent channels register with, and the per-specialization semaphores that
// bound concurrent task execution across an agent pool. Factories are plain
// dependencies: construct one per parent orchestrator and inject it.
type Factory struct {
	newStrategy StrategyFactory
	coordinator *Coordinator
	parentID    string
	parentComm  *Communication
	parentTools *tool.Handler
	parentCtx   string
	cfg         *config.Config
	specs       map[Specialization]SpecializationConfig
	logger      logging.Logger

	mu     sync.Mutex
	agents map[string]*SubAgent

	// sems is one counting semaphore per specialization, shared by every
	// agent of that specialization this factory creates.
	sems map[Specialization]chan struct{}
}

// NewFactory wires a factory, its coordinator and the parent's own channel.
func NewFactory(newStrategy StrategyFactory, optFns ...func(o *FactoryOptions)) *Factory {
	opts := FactoryOptions{
		ParentID: "parent",
		Config:   config.Default(),
		Logger:   logging.NoOpLogger{},
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

	coord := NewCoordinator(opts.Config.Communication, opts.Logger)
	parentComm := coord.CreateChannel(opts.ParentID, "")

	f := &Factory{
		newStrategy: newStrategy,
		coordinator: coord,
		parentID:    opts.ParentID,
		parentComm:  parentComm,
		parentTools: opts.ParentTools,
		parentCtx:   opts.ParentContext,
		cfg:         opts.Config,
		specs:       mergeSpecializations(opts.Config.Specializations),
		logger:      opts.Logger,
		agents:      map[string]*SubAgent{},
		sems:        map[Specialization]chan struct{}{},
	}
	for spec, sc := range f.specs {
		if sc.MaxConcurrentTasks > 0 {
			f.sems[spec] = make(chan struct{}, sc.MaxConcurrentTasks)
		}
	}
	return f
}

// mergeSpecializations overlays YAML overrides on the built-in defaults.
func mergeSpecializations(overrides map[string]config.SpecializationOverride) map[Specialization]SpecializationConfig {
	specs := DefaultSpecializations()
	for name, ov := range overrides {
		spec := Specialization(name)
		sc, ok := specs[spec]
		if !ok {
			sc = SpecializationConfig{Specialization: spec}
		}
		if len(ov.AllowedTools) > 0 {
			sc.AllowedTools = ov.AllowedTools
		}
		if ov.Model != "" {
			sc.Model = ov.Model
		}
		if ov.SystemPromptAddition != "" {
			sc.SystemPromptAddition = ov.SystemPromptAddition
		}
		if ov.MaxConcurrentTasks > 0 {
			sc.MaxConcurrentTasks = ov.MaxConcurrentTasks
		}
		specs[spec] = sc
	}
	return specs
}

// Coordinator returns the message bus shared by this factory's agents.
func (f *Factory) Coordinator() *Coordinator { return f.coordinator }

// ParentCommunication returns the parent's own channel, used to receive
// progress and result messages from sub-agents.
func (f *Factory) ParentCommunication() *Communication { return f.parentComm }

// AnalyzeTaskForSpecialization classifies a task description into the
// specialization best suited to handle it.
func (f *Factory) AnalyzeTaskForSpecialization(task string) Specialization {
	return AnalyzeTask(task)
}

// CreateSpecializedAgent builds and initializes one agent for a built-in or
// configured specialization.
func (f *Factory) CreateSpecializedAgent(spec Specialization) (*SubAgent, error) {
	sc, ok := f.specs[spec]
	if !ok {
		return nil, fmt.Errorf("subagent: unknown specialization %q", spec)
	}
	id := fmt.Sprintf("%s-%s", spec, uuid.NewString()[:8])
	return f.CreateCustomAgent(id, sc)
}

// CreateCustomAgent builds an agent with an explicit id and configuration. A
// failed initialization tears the agent's channel back down and returns an
// error; partially constructed agents are never tracked.
func (f *Factory) CreateCustomAgent(id string, sc SpecializationConfig) (*SubAgent, error) {
	handler := tool.NewHandler(f.logger)
	strategy, err := f.newStrategy(sc.Model, handler)
	if err != nil {
		return nil, fmt.Errorf("subagent: create strategy for %s: %w", id, err)
	}

	inner := orchestrator.New(strategy, handler, func(o *orchestrator.Options) {
		o.LoopDetection = f.cfg.LoopDetection
		o.Logger = f.logger
	})
	comm := f.coordinator.CreateChannel(id, f.parentID)
	agent := newSubAgent(id, sc, inner, comm, f.sems[sc.Specialization], f.logger)

	if !agent.Initialize(f.parentTools, f.parentCtx) {
		f.coordinator.RemoveChannel(id)
		return nil, fmt.Errorf("subagent: initialize %s (%s) failed", id, sc.Specialization)
	}

	f.mu.Lock()
	f.agents[id] = agent
	f.mu.Unlock()
	f.logger.Info("subagent.created", "agent_id", id, "specialization", string(sc.Specialization))
	return agent, nil
}

// CreateAgentPool builds agents for several specializations concurrently.
// Individual failures do not abort the pool; the successes are returned along
// with an aggregate error naming every specialization that failed.
func (f *Factory) CreateAgentPool(specs []Specialization) ([]*SubAgent, error) {
	type outcome struct {
		agent *SubAgent
		spec  Specialization
		err   error
	}

	results := make([]outcome, len(specs))
	var wg sync.WaitGroup
	for i, spec := range specs {
		wg.Add(1)
		go func(i int, spec Specialization) {
			defer wg.Done()
			agent, err := f.CreateSpecializedAgent(spec)
			results[i] = outcome{agent: agent, spec: spec, err: err}
		}(i, spec)
	}
	wg.Wait()

	var agents []*SubAgent
	var failures []string
	for _, r := range results {
		if r.err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", r.spec, r.err))
			continue
		}
		agents = append(agents, r.agent)
	}
	if len(failures) > 0 {
		f.logger.Warn("subagent.pool.partial", "requested", len(specs), "created", len(agents))
		return agents, fmt.Errorf("subagent: pool creation had %d failure(s): %s", len(failures), joinErrors(failures))
	}
	return agents, nil
}

func joinErrors(msgs []string) string {
	out := ""
	for i, m := range msgs {
		if i > 0 {
			out += "; "
		}
		out += m
	}
	return out
}

// Agent returns a tracked agent by id.
func (f *Factory) Agent(id string) (*SubAgent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[id]
	return a, ok
}

// Agents returns a snapshot of all tracked agents.
func (f *Factory) Agents() []*SubAgent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*SubAgent, 0, len(f.agents))
	for _, a := range f.agents {
		out = append(out, a)
	}
	return out
}

// AgentStatuses returns a snapshot of every tracked agent's status.
func (f *Factory) AgentStatuses() []Status {
	agents := f.Agents()
	out := make([]Status, 0, len(agents))
	for _, a := range agents {
		out = append(out, a.Status())
	}
	return out
}

// RemoveAgent shuts one agent down and stops tracking it.
func (f *Factory) RemoveAgent(id string) {
	f.mu.Lock()
	agent, ok := f.agents[id]
	delete(f.agents, id)
	f.mu.Unlock()
	if !ok {
		return
	}
	agent.Shutdown()
	f.coordinator.RemoveChannel(id)
}

// ShutdownAllAgents stops every tracked agent and the coordinator itself.
func (f *Factory) ShutdownAllAgents() {
	f.mu.Lock()
	agents := f.agents
	f.agents = map[string]*SubAgent{}
	f.mu.Unlock()

	for _, a := range agents {
		a.Shutdown()
	}
	f.coordinator.Shutdown()
	f.logger.Info("subagent.factory.shutdown", "agents", len(agents))
}
