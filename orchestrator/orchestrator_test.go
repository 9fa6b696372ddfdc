package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/helmsman-ai/helmsman/config"
	"github.com/helmsman-ai/helmsman/conversation"
	"github.com/helmsman-ai/helmsman/provider"
	"github.com/helmsman-ai/helmsman/tool"
)

// scriptedStrategy replays a fixed sequence of provider results, recording
// every request it receives.
type scriptedStrategy struct {
	ready   bool
	results []*provider.Result
	errs    []error

	calls    int
	messages [][]conversation.Message
	schemas  [][]tool.FunctionSchema
}

func (s *scriptedStrategy) Name() string { return "scripted" }
func (s *scriptedStrategy) Ready() bool  { return s.ready }

func (s *scriptedStrategy) ProcessMessage(
	_ context.Context,
	messages []conversation.Message,
	tools []tool.FunctionSchema,
	_ provider.OnChunk,
) (*provider.Result, error) {
	i := s.calls
	s.calls++
	s.messages = append(s.messages, messages)
	s.schemas = append(s.schemas, tools)

	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.results) {
		return s.results[i], nil
	}
	return &provider.Result{Content: "done"}, nil
}

func scripted(results ...*provider.Result) *scriptedStrategy {
	return &scriptedStrategy{ready: true, results: results}
}

func toolCall(id, name, args string) tool.Call {
	return tool.Call{ID: id, Type: "function", Function: tool.CallFunction{Name: name, Arguments: args}}
}

func echoTool() tool.Tool {
	return tool.NewFunctionTool("echo", "echo text back",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []string{"text"},
		},
		func(_ context.Context, args map[string]any) (any, error) {
			return args["text"], nil
		})
}

func TestOrchestrator_NotReady(t *testing.T) {
	o := New(&scriptedStrategy{ready: false}, tool.NewHandler(nil))

	_, err := o.ProcessMessage(context.Background(), "hi", nil)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Empty(t, o.History(), "conversation must stay untouched")
}

func TestOrchestrator_SingleRoundTrip(t *testing.T) {
	strategy := scripted(&provider.Result{Content: "hello back"})
	o := New(strategy, tool.NewHandler(nil))

	answer, err := o.ProcessMessage(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello back", answer)
	assert.Equal(t, StateDone, o.State())

	history := o.History()
	require.Len(t, history, 2)
	assert.Equal(t, conversation.RoleUser, history[0].Role)
	assert.Equal(t, "hello", history[0].Content)
	assert.Equal(t, conversation.RoleAssistant, history[1].Role)
	assert.Equal(t, "hello back", history[1].Content)
}

func TestOrchestrator_ToolCallRoundTrip(t *testing.T) {
	strategy := scripted(
		&provider.Result{ToolCalls: []tool.Call{toolCall("call_1", "echo", `{"text":"hello"}`)}},
		&provider.Result{Content: "done"},
	)
	o := New(strategy, tool.NewHandler(nil))
	o.RegisterTool(echoTool())

	answer, err := o.ProcessMessage(context.Background(), "say hello via the tool", nil)
	require.NoError(t, err)
	assert.Equal(t, "done", answer)
	assert.Equal(t, 2, strategy.calls)

	history := o.History()
	require.Len(t, history, 4)
	assert.Equal(t, conversation.RoleUser, history[0].Role)
	assert.Equal(t, conversation.RoleAssistant, history[1].Role)
	require.Len(t, history[1].ToolCalls, 1)
	assert.Equal(t, conversation.RoleTool, history[2].Role)
	assert.Equal(t, "call_1", history[2].ToolCallID)
	assert.Equal(t, conversation.RoleAssistant, history[3].Role)

	parsed := gjson.Parse(history[2].Content)
	assert.True(t, parsed.Get("success").Bool())
	assert.Equal(t, "hello", parsed.Get("data").String())

	assert.Equal(t, []string{"echo"}, o.ToolsUsed())
}

func TestOrchestrator_UnknownToolIsRecoverable(t *testing.T) {
	strategy := scripted(
		&provider.Result{ToolCalls: []tool.Call{toolCall("call_1", "nonexistent", "{}")}},
		&provider.Result{Content: "recovered"},
	)
	o := New(strategy, tool.NewHandler(nil))
	o.RegisterTool(echoTool())

	answer, err := o.ProcessMessage(context.Background(), "use a bad tool", nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", answer)

	history := o.History()
	require.Len(t, history, 4)
	parsed := gjson.Parse(history[2].Content)
	assert.Contains(t, parsed.Get("error").String(), "not registered")
	assert.Equal(t, "echo", parsed.Get("available_tools.0").String())
}

func TestOrchestrator_MalformedArgumentsAreRecoverable(t *testing.T) {
	strategy := scripted(
		&provider.Result{ToolCalls: []tool.Call{toolCall("call_1", "echo", "{broken")}},
		&provider.Result{Content: "recovered"},
	)
	o := New(strategy, tool.NewHandler(nil))
	o.RegisterTool(echoTool())

	answer, err := o.ProcessMessage(context.Background(), "bad args", nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", answer)

	history := o.History()
	require.Len(t, history, 4)
	parsed := gjson.Parse(history[2].Content)
	assert.False(t, parsed.Get("success").Bool())
	assert.Contains(t, parsed.Get("error").String(), "failed to parse arguments")
}

func TestOrchestrator_ToolExecutionFailureIsRecoverable(t *testing.T) {
	failing := tool.NewFunctionTool("fail", "always fails", map[string]any{"type": "object"},
		func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("disk full")
		})
	strategy := scripted(
		&provider.Result{ToolCalls: []tool.Call{toolCall("call_1", "fail", "{}")}},
		&provider.Result{Content: "recovered"},
	)
	o := New(strategy, tool.NewHandler(nil))
	o.RegisterTool(failing)

	answer, err := o.ProcessMessage(context.Background(), "try the failing tool", nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", answer)

	parsed := gjson.Parse(o.History()[2].Content)
	assert.False(t, parsed.Get("success").Bool())
	assert.Contains(t, parsed.Get("error").String(), "disk full")
}

func TestOrchestrator_ProviderFailureIsFatal(t *testing.T) {
	strategy := &scriptedStrategy{ready: true, errs: []error{errors.New("connection refused")}}
	o := New(strategy, tool.NewHandler(nil))

	_, err := o.ProcessMessage(context.Background(), "hi", nil)
	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, 1, provErr.Iteration)
	assert.Contains(t, provErr.Error(), "connection refused")
	assert.Equal(t, StateAborted, o.State())
}

func TestOrchestrator_VolumeCapAborts(t *testing.T) {
	strategy := scripted(
		&provider.Result{ToolCalls: []tool.Call{
			toolCall("c1", "alpha", `{"n":1}`),
			toolCall("c2", "beta", `{"n":2}`),
			toolCall("c3", "gamma", `{"n":3}`),
		}},
	)
	o := New(strategy, tool.NewHandler(nil), func(opts *Options) {
		opts.LoopDetection.MaxToolCalls = 2
	})

	_, err := o.ProcessMessage(context.Background(), "go wild", nil)
	var loopErr *LoopDetectedError
	require.ErrorAs(t, err, &loopErr)
	assert.Contains(t, loopErr.Reason, "cap of 2")
	assert.Equal(t, StateAborted, o.State())
}

func TestOrchestrator_StreakAborts(t *testing.T) {
	results := make([]*provider.Result, 3)
	for i := range results {
		results[i] = &provider.Result{ToolCalls: []tool.Call{
			toolCall(fmt.Sprintf("c%d", i), "write", fmt.Sprintf(`{"path":"unique/dir%d/file%d.go","body":"totally different content %d"}`, i*7, i*13, i*101)),
		}}
	}
	strategy := scripted(results...)
	o := New(strategy, tool.NewHandler(nil), func(opts *Options) {
		opts.LoopDetection.StreakLimit = 3
	})

	_, err := o.ProcessMessage(context.Background(), "write forever", nil)
	var loopErr *LoopDetectedError
	require.ErrorAs(t, err, &loopErr)
	assert.Contains(t, loopErr.Reason, "consecutive calls")
	assert.Equal(t, 3, strategy.calls)
}

func TestOrchestrator_RepeatedPatternAborts(t *testing.T) {
	pair := []tool.Call{
		toolCall("a", "read", `{"path":"main.go"}`),
		toolCall("b", "write", `{"path":"main.go","content":"x"}`),
	}
	strategy := scripted(
		&provider.Result{ToolCalls: pair},
		&provider.Result{ToolCalls: pair},
	)
	o := New(strategy, tool.NewHandler(nil))

	_, err := o.ProcessMessage(context.Background(), "loop forever", nil)
	var loopErr *LoopDetectedError
	require.ErrorAs(t, err, &loopErr)
	assert.Contains(t, loopErr.Reason, "repeating pattern")
}

// blockingStrategy waits for the context to expire and surfaces its error,
// mimicking a provider client that honors deadlines.
type blockingStrategy struct{}

func (blockingStrategy) Name() string { return "blocking" }
func (blockingStrategy) Ready() bool  { return true }

func (blockingStrategy) ProcessMessage(ctx context.Context, _ []conversation.Message, _ []tool.FunctionSchema, _ provider.OnChunk) (*provider.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestOrchestrator_WallClockDeadlineReportsTimingAbort(t *testing.T) {
	o := New(blockingStrategy{}, tool.NewHandler(nil), func(opts *Options) {
		opts.LoopDetection.WallClockLimit = 20 * time.Millisecond
	})

	_, err := o.ProcessMessage(context.Background(), "hi", nil)
	var loopErr *LoopDetectedError
	require.ErrorAs(t, err, &loopErr)
	assert.Contains(t, loopErr.Reason, "wall-clock limit")
	assert.Equal(t, StateAborted, o.State())
}

func TestOrchestrator_CallerDeadlineStaysProviderError(t *testing.T) {
	o := New(blockingStrategy{}, tool.NewHandler(nil))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := o.ProcessMessage(ctx, "hi", nil)
	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOrchestrator_SystemMessageComposition(t *testing.T) {
	strategy := scripted(&provider.Result{Content: "ok"})
	o := New(strategy, tool.NewHandler(nil), func(opts *Options) {
		opts.SystemPrompt = "Base prompt."
		opts.ProjectContext = "Repo uses Go 1.24."
	})
	o.RegisterTool(echoTool())

	_, err := o.ProcessMessage(context.Background(), "hi", nil)
	require.NoError(t, err)

	require.Len(t, strategy.messages, 1)
	system := strategy.messages[0][0]
	assert.Equal(t, conversation.RoleSystem, system.Role)
	assert.Contains(t, system.Content, "Base prompt.")
	assert.Contains(t, system.Content, "- echo: echo text back")
	assert.Contains(t, system.Content, "Repo uses Go 1.24.")

	require.Len(t, strategy.schemas[0], 1)
	assert.Equal(t, "echo", strategy.schemas[0][0].Name)
}

func TestOrchestrator_MultiTurnKeepsHistory(t *testing.T) {
	strategy := scripted(
		&provider.Result{Content: "first answer"},
		&provider.Result{Content: "second answer"},
	)
	o := New(strategy, tool.NewHandler(nil))

	_, err := o.ProcessMessage(context.Background(), "first", nil)
	require.NoError(t, err)
	_, err = o.ProcessMessage(context.Background(), "second", nil)
	require.NoError(t, err)

	assert.Len(t, o.History(), 4)
	// the second request sees the full prior exchange
	assert.Len(t, strategy.messages[1], 4) // system + user + assistant + user

	o.ClearHistory()
	assert.Empty(t, o.History())
}

func TestOrchestrator_DefaultsFromConfig(t *testing.T) {
	o := New(scripted(), tool.NewHandler(nil))
	assert.Equal(t, config.Default().LoopDetection.MaxToolCalls, o.cfg.MaxToolCalls)
	assert.Equal(t, StateIdle, o.State())
	assert.True(t, o.Ready())
}
