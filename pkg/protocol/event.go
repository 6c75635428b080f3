package protocol

// EventType tags a canonical event variant. Consumers must treat unknown
// tags as ignorable so the event vocabulary can grow.
type EventType string

const (
	EventTextDelta       EventType = "text_delta"
	EventToolStart       EventType = "tool_start"
	EventToolInputDelta  EventType = "tool_input_delta"
	EventToolRunning     EventType = "tool_running"
	EventToolResult      EventType = "tool_result"
	EventTurnComplete    EventType = "turn_complete"
	EventError           EventType = "error"
	EventRetryCountdown  EventType = "retry_countdown"
	EventSubagentRequest EventType = "subagent_request"
	EventSubagentUpdate  EventType = "subagent_progress"
	EventCommandExpanded EventType = "command_expanded"
)

// Event is one normalized unit of turn progress, independent of the vendor
// wire format that produced it. Exactly the fields relevant to Type are set.
type Event struct {
	Type EventType `json:"type"`

	// text_delta
	Delta string `json:"delta,omitempty"`

	// tool_start, tool_input_delta, tool_running, tool_result
	ToolID   string `json:"id,omitempty"`
	ToolName string `json:"name,omitempty"`

	// tool_input_delta: the cumulative raw argument JSON seen so far, not
	// the increment.
	PartialJSON string `json:"partialJson,omitempty"`

	// tool_result
	Output  string         `json:"output,omitempty"`
	Failed  bool           `json:"failed,omitempty"`
	Details map[string]any `json:"details,omitempty"`

	// turn_complete
	Usage *TokenUsage `json:"usage,omitempty"`

	// error
	Error string `json:"error,omitempty"`

	// retry_countdown
	Seconds int `json:"seconds,omitempty"`

	// subagent_request
	RequestID string         `json:"requestId,omitempty"`
	Tasks     []SubagentTask `json:"tasks,omitempty"`

	// subagent_progress
	TaskID     string `json:"taskId,omitempty"`
	TaskStatus string `json:"taskStatus,omitempty"`
	Summary    string `json:"summary,omitempty"`

	// command_expanded
	Command string `json:"command,omitempty"`
}

// TextDeltaEvent builds a text_delta event.
func TextDeltaEvent(delta string) Event {
	return Event{Type: EventTextDelta, Delta: delta}
}

// ToolStartEvent builds a tool_start event, emitted the first time a call's
// name becomes known.
func ToolStartEvent(id, name string) Event {
	return Event{Type: EventToolStart, ToolID: id, ToolName: name}
}

// ToolInputDeltaEvent builds a tool_input_delta event carrying the
// cumulative argument JSON text.
func ToolInputDeltaEvent(id, cumulative string) Event {
	return Event{Type: EventToolInputDelta, ToolID: id, PartialJSON: cumulative}
}

// ToolRunningEvent builds a tool_running event.
func ToolRunningEvent(id string) Event {
	return Event{Type: EventToolRunning, ToolID: id}
}

// ToolResultEvent builds a tool_result event from an execution.
func ToolResultEvent(id string, exec ToolExecution) Event {
	return Event{
		Type:    EventToolResult,
		ToolID:  id,
		Output:  exec.Output,
		Failed:  exec.IsError(),
		Error:   exec.Error,
		Details: exec.Details,
	}
}

// TurnCompleteEvent builds the terminal success event for a turn.
func TurnCompleteEvent(usage TokenUsage) Event {
	return Event{Type: EventTurnComplete, Usage: &usage}
}

// ErrorEvent builds the terminal failure event for a turn.
func ErrorEvent(err error) Event {
	return Event{Type: EventError, Error: err.Error()}
}

// RetryCountdownEvent builds one tick of a rate-limit backoff countdown.
func RetryCountdownEvent(seconds int) Event {
	return Event{Type: EventRetryCountdown, Seconds: seconds}
}

// SubagentRequestEvent builds a confirmation request for a proposed task
// batch.
func SubagentRequestEvent(requestID string, tasks []SubagentTask) Event {
	return Event{Type: EventSubagentRequest, RequestID: requestID, Tasks: tasks}
}

// SubagentProgressEvent reports a state change of one subagent task.
func SubagentProgressEvent(taskID, status, summary string) Event {
	return Event{Type: EventSubagentUpdate, TaskID: taskID, TaskStatus: status, Summary: summary}
}
