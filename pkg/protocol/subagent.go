package protocol

// SubagentRole selects the provider/model/iteration profile a subagent runs
// with.
type SubagentRole string

const (
	RoleSimple     SubagentRole = "simple"
	RoleComplex    SubagentRole = "complex"
	RoleResearcher SubagentRole = "researcher"
)

// SubagentTask describes one nested agent run requested by the parent turn.
type SubagentTask struct {
	ID         string       `json:"id"`
	Role       SubagentRole `json:"role"`
	Prompt     string       `json:"prompt"`
	WorkingDir string       `json:"workingDir,omitempty"`
}

// SubagentStatus is the terminal state of a subagent run.
type SubagentStatus string

const (
	SubagentSuccess SubagentStatus = "success"
	SubagentError   SubagentStatus = "error"
	SubagentTimeout SubagentStatus = "timeout"
	SubagentPaused  SubagentStatus = "paused"
)

// SubagentResult is the outcome of one subagent run. Only Summary is merged
// back into the parent conversation; FullHistory is retained so a paused run
// can be resumed and for audit. TaskID and Role identify the task that
// actually ran: a confirmation may replace the proposed batch, so callers
// must not correlate results back to the list they proposed.
type SubagentResult struct {
	TaskID      string         `json:"taskId"`
	Role        SubagentRole   `json:"role,omitempty"`
	Status      SubagentStatus `json:"status"`
	Summary     string         `json:"summary,omitempty"`
	Error       string         `json:"error,omitempty"`
	FullHistory []Message      `json:"fullHistory,omitempty"`
	Usage       TokenUsage     `json:"usage"`
}
