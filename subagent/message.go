package subagent

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType categorizes sub-agent channel messages.
type MessageType string

// Message types exchanged over sub-agent channels.
const (
	MessageProgressUpdate MessageType = "progress_update"
	MessageResult         MessageType = "result"
	MessageError          MessageType = "error"
)

// Message is one entry on a sub-agent communication channel. Messages are
// immutable once sent and retained in the channel's bounded history.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	From      string      `json:"from"`
	To        string      `json:"to"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewMessage builds a Message with a fresh id and timestamp.
func NewMessage(t MessageType, from, to string, payload any) Message {
	return Message{
		ID:        uuid.NewString(),
		Type:      t,
		From:      from,
		To:        to,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// TaskDelegation is the input for one sub-agent invocation. TaskID correlates
// the delegation with its TaskResult.
type TaskDelegation struct {
	TaskID string `json:"task_id"`
	Input  string `json:"input"`
}

// NewTaskDelegation builds a delegation with a generated task id.
func NewTaskDelegation(input string) TaskDelegation {
	return TaskDelegation{TaskID: uuid.NewString(), Input: input}
}

// Task error codes.
const (
	CodeAgentNotReady      = "AGENT_NOT_READY"
	CodeTaskExecutionError = "TASK_EXECUTION_ERROR"
)

// TaskError describes why a delegated task failed. It is always returned
// inside a TaskResult, never thrown past ProcessTask, letting the delegator
// decide whether to retry, reassign or surface.
type TaskError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task error [%s]: %s", e.Code, e.Message)
}

// TaskMetadata carries execution statistics for a completed task.
type TaskMetadata struct {
	ToolsUsed     []string      `json:"tools_used,omitempty"`
	ExecutionTime time.Duration `json:"execution_time"`
}

// TaskResult is the outcome of one sub-agent invocation.
type TaskResult struct {
	TaskID   string       `json:"task_id"`
	Success  bool         `json:"success"`
	Result   string       `json:"result,omitempty"`
	Error    *TaskError   `json:"error,omitempty"`
	Metadata TaskMetadata `json:"metadata"`
}
