// Package subagent implements specialization-scoped, tool-restricted
// orchestrator instances for delegated sub-tasks, the pub/sub channels they
// report through, and the factory that builds and pools them.
package subagent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/helmsman-ai/helmsman/logging"
	"github.com/helmsman-ai/helmsman/orchestrator"
	"github.com/helmsman-ai/helmsman/tool"
)

// AgentState is a sub-agent lifecycle state.
type AgentState string

// Lifecycle: created → idle (Initialize) → busy (ProcessTask) → idle|error →
// stopped (Shutdown, terminal).
const (
	StateCreated AgentState = "created"
	StateIdle    AgentState = "idle"
	StateBusy    AgentState = "busy"
	StateError   AgentState = "error"
	StateStopped AgentState = "stopped"
)

// Status is a point-in-time snapshot of a sub-agent.
type Status struct {
	ID             string         `json:"id"`
	State          AgentState     `json:"state"`
	Specialization Specialization `json:"specialization"`
	CurrentTaskID  string         `json:"current_task_id,omitempty"`
	LastActivity   time.Time      `json:"last_activity"`
}

// SubAgent wraps one inner orchestrator constrained to a specialization's tool
// subset and persona. Each sub-agent owns its orchestrator, conversation and
// handler outright, so multiple sub-agents run concurrently without shared
// mutable state beyond the Coordinator's channel map.
type SubAgent struct {
	id     string
	spec   SpecializationConfig
	inner  *orchestrator.Orchestrator
	comm   *Communication
	logger logging.Logger

	// sem bounds concurrent ProcessTask calls across the specialization's
	// pool; nil means unbounded.
	sem chan struct{}

	mu            sync.Mutex
	state         AgentState
	currentTaskID string
	lastActivity  time.Time
}

// newSubAgent assembles an uninitialized sub-agent. Callers go through the
// Factory, which wires the channel and inner orchestrator.
func newSubAgent(id string, spec SpecializationConfig, inner *orchestrator.Orchestrator, comm *Communication, sem chan struct{}, logger logging.Logger) *SubAgent {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &SubAgent{
		id:           id,
		spec:         spec,
		inner:        inner,
		comm:         comm,
		sem:          sem,
		logger:       logger,
		state:        StateCreated,
		lastActivity: time.Now(),
	}
}

// ID returns the agent identifier.
func (a *SubAgent) ID() string { return a.id }

// Specialization returns the agent's role.
func (a *SubAgent) Specialization() Specialization { return a.spec.Specialization }

// Communication returns the agent's channel.
func (a *SubAgent) Communication() *Communication { return a.comm }

// Initialize prepares the agent for task processing: it scopes the parent's
// tool registry down to the specialization's allow-list and copies the parent
// project context into the inner orchestrator. Initialize never panics or
// returns an error; any failure sets state=error and returns false.
func (a *SubAgent) Initialize(parentTools *tool.Handler, parentContext string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StateCreated {
		return a.state == StateIdle
	}
	if a.inner == nil || a.comm == nil {
		a.state = StateError
		a.logger.Error("subagent.initialize.failed", "agent_id", a.id, "error", "missing orchestrator or channel")
		return false
	}

	if parentTools != nil {
		for _, name := range a.spec.AllowedTools {
			if t, ok := parentTools.Get(name); ok {
				a.inner.RegisterTool(t)
			}
		}
	}
	if parentContext != "" {
		a.inner.SetProjectContext(parentContext)
	}
	if !a.inner.Ready() {
		a.state = StateError
		a.logger.Error("subagent.initialize.failed", "agent_id", a.id, "error", "inner orchestrator not ready")
		return false
	}

	a.state = StateIdle
	a.lastActivity = time.Now()
	a.logger.Info("subagent.initialized", "agent_id", a.id, "specialization", string(a.spec.Specialization), "tools", len(a.inner.RegisteredTools()))
	return true
}

// IsReady reports whether the agent can accept a task right now.
func (a *SubAgent) IsReady() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == StateIdle && a.inner != nil && a.inner.Ready()
}

// ProcessTask runs one delegated task through the inner orchestrator.
//
// Failures never propagate as errors: a not-ready agent returns an
// AGENT_NOT_READY result without touching state, and execution failures come
// back as TASK_EXECUTION_ERROR results. The agent always ends in state idle
// (success) or error (failure), never busy.
func (a *SubAgent) ProcessTask(ctx context.Context, delegation TaskDelegation) TaskResult {
	if !a.transitionToBusy(delegation.TaskID) {
		return TaskResult{
			TaskID:  delegation.TaskID,
			Success: false,
			Error: &TaskError{
				Code:    CodeAgentNotReady,
				Message: fmt.Sprintf("agent %s is not ready (state=%s)", a.id, a.currentState()),
			},
		}
	}

	if a.sem != nil {
		select {
		case a.sem <- struct{}{}:
			defer func() { <-a.sem }()
		case <-ctx.Done():
			a.setState(StateIdle, "")
			return TaskResult{
				TaskID:  delegation.TaskID,
				Success: false,
				Error:   &TaskError{Code: CodeTaskExecutionError, Message: ctx.Err().Error()},
			}
		}
	}

	a.notifyParent(MessageProgressUpdate, map[string]any{
		"task_id": delegation.TaskID,
		"status":  "started",
	})

	start := time.Now()
	answer, err := a.inner.ProcessMessage(ctx, a.buildTaskInput(delegation), nil)
	elapsed := time.Since(start)

	if err != nil {
		a.setState(StateError, "")
		a.notifyParent(MessageError, map[string]any{
			"task_id": delegation.TaskID,
			"error":   err.Error(),
		})
		a.logger.Error("subagent.task.failed", "agent_id", a.id, "task_id", delegation.TaskID, "error", err.Error())
		return TaskResult{
			TaskID:  delegation.TaskID,
			Success: false,
			Error: &TaskError{
				Code:    CodeTaskExecutionError,
				Message: err.Error(),
				Details: map[string]any{"execution_time_ms": elapsed.Milliseconds()},
			},
			Metadata: TaskMetadata{ExecutionTime: elapsed},
		}
	}

	a.setState(StateIdle, "")
	a.notifyParent(MessageResult, map[string]any{
		"task_id": delegation.TaskID,
		"result":  answer,
	})
	a.logger.Info("subagent.task.completed", "agent_id", a.id, "task_id", delegation.TaskID, "duration_ms", elapsed.Milliseconds())
	return TaskResult{
		TaskID:  delegation.TaskID,
		Success: true,
		Result:  answer,
		Metadata: TaskMetadata{
			ToolsUsed:     a.inner.ToolsUsed(),
			ExecutionTime: elapsed,
		},
	}
}

// buildTaskInput prepends the persona and tool roster to the delegated input.
func (a *SubAgent) buildTaskInput(delegation TaskDelegation) string {
	var b strings.Builder
	if a.spec.SystemPromptAddition != "" {
		b.WriteString(a.spec.SystemPromptAddition)
		b.WriteString("\n")
	}
	if tools := a.inner.RegisteredTools(); len(tools) > 0 {
		fmt.Fprintf(&b, "Tools available to you: %s.\n", strings.Join(tools, ", "))
	}
	b.WriteString("\nTask:\n")
	b.WriteString(delegation.Input)
	return b.String()
}

// notifyParent sends a status message on a best-effort basis; failures are
// logged and never block task completion.
func (a *SubAgent) notifyParent(t MessageType, payload any) {
	if a.comm == nil || a.comm.ParentID() == "" {
		return
	}
	msg := NewMessage(t, a.id, a.comm.ParentID(), payload)
	if err := a.comm.SendToParent(msg); err != nil {
		a.logger.Warn("subagent.notify.failed", "agent_id", a.id, "type", string(t), "error", err.Error())
	}
}

// transitionToBusy atomically claims the agent for one task.
func (a *SubAgent) transitionToBusy(taskID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateIdle || a.inner == nil || !a.inner.Ready() {
		return false
	}
	a.state = StateBusy
	a.currentTaskID = taskID
	a.lastActivity = time.Now()
	return true
}

func (a *SubAgent) setState(s AgentState, taskID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateStopped {
		return
	}
	a.state = s
	a.currentTaskID = taskID
	a.lastActivity = time.Now()
}

func (a *SubAgent) currentState() AgentState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Status returns a snapshot of the agent.
func (a *SubAgent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Status{
		ID:             a.id,
		State:          a.state,
		Specialization: a.spec.Specialization,
		CurrentTaskID:  a.currentTaskID,
		LastActivity:   a.lastActivity,
	}
}

// Shutdown moves the agent to its terminal state and closes its channel.
// Idempotent.
func (a *SubAgent) Shutdown() {
	a.mu.Lock()
	alreadyStopped := a.state == StateStopped
	a.state = StateStopped
	a.currentTaskID = ""
	a.lastActivity = time.Now()
	a.mu.Unlock()

	if alreadyStopped {
		return
	}
	if a.comm != nil {
		a.comm.Close()
	}
	a.logger.Info("subagent.stopped", "agent_id", a.id)
}
