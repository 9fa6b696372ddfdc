package tool

// Call represents one model-issued request to invoke a tool. Unified across
// vendors so downstream logic does not need per-provider branching. A Call is
// owned transiently by one orchestrator loop iteration.
type Call struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"` // "function"
	Function CallFunction `json:"function"`
}

// CallFunction describes the concrete function target of a tool call.
type CallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string of arguments
}

// Result is what the Handler reports back for one tool call. Success reflects
// whether the Handler itself could execute and report the call; a tool-level
// failure is encoded inside Content so the model can observe and recover from it.
type Result struct {
	Success    bool   `json:"success"`
	Content    string `json:"content"` // JSON payload for the tool-role message
	ToolCallID string `json:"tool_call_id"`
}
