// Package conversation maintains the append-only message log an orchestrator
// feeds to its provider strategy. Ordering is the caller's responsibility; the
// orchestrator's loop structure guarantees the request/response interleaving
// (user → assistant[+tool_calls] → tool* → assistant …).
package conversation

import (
	"fmt"
	"strings"
	"sync"

	"github.com/helmsman-ai/helmsman/tool"
)

// Role identifies the author of a conversation message.
type Role string

// Conversation roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of the conversation log.
//
// Invariant: a tool message's ToolCallID references a ToolCalls[].ID emitted
// by the immediately preceding assistant message.
type Message struct {
	Role       Role        `json:"role"`
	Content    string      `json:"content"`
	ToolCalls  []tool.Call `json:"tool_calls,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
}

// Manager is the append-only conversation log. It performs no validation
// beyond appending and has no failure modes.
type Manager struct {
	mu      sync.Mutex
	history []Message
}

// NewManager creates an empty conversation log.
func NewManager() *Manager {
	return &Manager{history: make([]Message, 0)}
}

// AddUserMessage appends a user message.
func (m *Manager) AddUserMessage(content string) {
	m.append(Message{Role: RoleUser, Content: content})
}

// AddAssistantMessage appends an assistant message, optionally carrying tool calls.
func (m *Manager) AddAssistantMessage(content string, toolCalls []tool.Call) {
	m.append(Message{Role: RoleAssistant, Content: content, ToolCalls: toolCalls})
}

// AddToolResult appends a tool-role message correlated to a prior tool call.
func (m *Manager) AddToolResult(content, toolCallID string) {
	m.append(Message{Role: RoleTool, Content: content, ToolCallID: toolCallID})
}

func (m *Manager) append(msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, msg)
}

// BuildMessages returns the full request payload: the system message followed
// by the conversation history.
func (m *Manager) BuildMessages(systemMessage string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	messages := make([]Message, 0, len(m.history)+1)
	messages = append(messages, Message{Role: RoleSystem, Content: systemMessage})
	messages = append(messages, m.history...)
	return messages
}

// ClearHistory discards all messages.
func (m *Manager) ClearHistory() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = m.history[:0]
}

// History returns a defensive copy of the conversation log.
func (m *Manager) History() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.history))
	copy(out, m.history)
	return out
}

// LastMessage returns the newest message, or false for an empty log.
func (m *Manager) LastMessage() (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return Message{}, false
	}
	return m.history[len(m.history)-1], true
}

// Len returns the number of messages in the log.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.history)
}

// summaryContentLimit bounds per-message content in Summary output.
const summaryContentLimit = 80

// Summary renders a truncated debug view of the conversation.
func (m *Manager) Summary() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var b strings.Builder
	for i, msg := range m.history {
		content := msg.Content
		if len(content) > summaryContentLimit {
			content = content[:summaryContentLimit] + "..."
		}
		line := fmt.Sprintf("%d. [%s] %s", i+1, msg.Role, content)
		if len(msg.ToolCalls) > 0 {
			names := make([]string, len(msg.ToolCalls))
			for j, tc := range msg.ToolCalls {
				names[j] = tc.Function.Name
			}
			line += fmt.Sprintf(" (tool_calls: %s)", strings.Join(names, ", "))
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}
