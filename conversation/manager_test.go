package conversation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/helmsman-ai/helmsman/tool"
)

func TestManager_AppendAndBuild(t *testing.T) {
	m := NewManager()
	m.AddUserMessage("hello")
	m.AddAssistantMessage("", []tool.Call{{
		ID:       "call_1",
		Type:     "function",
		Function: tool.CallFunction{Name: "echo", Arguments: `{"text":"hello"}`},
	}})
	m.AddToolResult(`{"success":true,"data":"hello"}`, "call_1")
	m.AddAssistantMessage("done", nil)

	assert.Equal(t, 4, m.Len())

	msgs := m.BuildMessages("system prompt")
	assert.Len(t, msgs, 5)
	assert.Equal(t, RoleSystem, msgs[0].Role)
	assert.Equal(t, "system prompt", msgs[0].Content)
	assert.Equal(t, RoleUser, msgs[1].Role)
	assert.Equal(t, RoleAssistant, msgs[2].Role)
	assert.Equal(t, "call_1", msgs[2].ToolCalls[0].ID)
	assert.Equal(t, RoleTool, msgs[3].Role)
	assert.Equal(t, "call_1", msgs[3].ToolCallID)
	assert.Equal(t, RoleAssistant, msgs[4].Role)
	assert.Equal(t, "done", msgs[4].Content)
}

func TestManager_HistoryIsCopy(t *testing.T) {
	m := NewManager()
	m.AddUserMessage("original")

	h := m.History()
	h[0].Content = "mutated"

	assert.Equal(t, "original", m.History()[0].Content)
}

func TestManager_LastMessage(t *testing.T) {
	m := NewManager()
	_, ok := m.LastMessage()
	assert.False(t, ok)

	m.AddUserMessage("first")
	m.AddAssistantMessage("second", nil)
	last, ok := m.LastMessage()
	assert.True(t, ok)
	assert.Equal(t, "second", last.Content)
}

func TestManager_ClearHistory(t *testing.T) {
	m := NewManager()
	m.AddUserMessage("one")
	m.AddAssistantMessage("two", nil)
	assert.Equal(t, 2, m.Len())

	m.ClearHistory()
	assert.Equal(t, 0, m.Len())

	// still usable after clearing
	m.AddUserMessage("three")
	assert.Equal(t, 1, m.Len())
}

func TestManager_SummaryTruncation(t *testing.T) {
	m := NewManager()
	long := strings.Repeat("x", 200)
	m.AddUserMessage(long)
	m.AddAssistantMessage("", []tool.Call{
		{ID: "c1", Function: tool.CallFunction{Name: "read"}},
		{ID: "c2", Function: tool.CallFunction{Name: "glob"}},
	})

	summary := m.Summary()
	lines := strings.Split(strings.TrimSpace(summary), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "[user]")
	assert.Contains(t, lines[0], "...")
	assert.Less(t, len(lines[0]), 120)
	assert.Contains(t, lines[1], "(tool_calls: read, glob)")
}

func TestManager_BuildMessagesDoesNotMutateHistory(t *testing.T) {
	m := NewManager()
	m.AddUserMessage("hi")

	msgs := m.BuildMessages("sys")
	msgs[1].Content = "changed"

	assert.Equal(t, "hi", m.History()[0].Content)
	assert.Equal(t, 1, m.Len())
}
