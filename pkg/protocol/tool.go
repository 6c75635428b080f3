package protocol

// ToolDefinition describes a tool exposed to the provider. Immutable for the
// duration of a turn.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  ToolParameters `json:"parameters"`
}

// ToolParameters is the JSON-schema-shaped parameter spec of a tool.
type ToolParameters struct {
	Type       string         `json:"type"` // always "object"
	Properties map[string]any `json:"properties"`
	Required   []string       `json:"required"`
}

// ToolExecution is the uniform result shape every executor returns,
// regardless of whether a built-in, a capability server, or the subagent
// orchestrator ran the call.
type ToolExecution struct {
	Output  string         `json:"output"`
	Error   string         `json:"error,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// IsError reports whether the execution failed.
func (t ToolExecution) IsError() bool {
	return t.Error != ""
}

// TokenUsage tracks token counts accumulated per turn, not per provider
// round.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Add accumulates another round's usage.
func (u *TokenUsage) Add(other TokenUsage) {
	u.Input += other.Input
	u.Output += other.Output
}
