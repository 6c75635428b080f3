// Package tools provides a unified tool registry with schemas, executors,
// and capability server routing.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"goa.design/clue/log"

	"github.com/praxis-ai/praxis/internal/capability"
	"github.com/praxis-ai/praxis/internal/tools/executor"
	"github.com/praxis-ai/praxis/internal/tools/schemas"
	"github.com/praxis-ai/praxis/pkg/protocol"
)

// Registry combines schemas and executors for built-in tools and routes
// prefixed names to capability servers.
type Registry struct {
	schemas   *schemas.Registry
	executors *executor.Registry
	caps      *capability.Manager
	prefix    string
}

// NewRegistry creates a registry. caps may be nil when no capability
// servers are configured; prefix defaults to the standard capability
// prefix when empty.
func NewRegistry(caps *capability.Manager, prefix string) *Registry {
	if prefix == "" {
		prefix = capability.DefaultPrefix
	}
	return &Registry{
		schemas:   schemas.NewRegistry(),
		executors: executor.NewRegistry(),
		caps:      caps,
		prefix:    prefix,
	}
}

// Register registers both a schema and an executor for a built-in tool.
func (r *Registry) Register(tool executor.Tool, def protocol.ToolDefinition) {
	r.executors.Register(tool)
	r.schemas.Register(def)
}

// Definitions returns every tool visible to the provider: built-ins plus
// one synthetic entry per connected capability server tool.
func (r *Registry) Definitions() []protocol.ToolDefinition {
	defs := r.schemas.Definitions()
	if r.caps != nil {
		defs = append(defs, r.caps.ToolDefinitions(r.prefix)...)
	}
	return defs
}

// Dispatch runs a tool call and always returns the uniform execution
// shape. Failures inside a tool are reported in the result, never as a
// panic or an aborted turn.
func (r *Registry) Dispatch(ctx context.Context, name string, input json.RawMessage, workDir string) protocol.ToolExecution {
	args := make(map[string]any)
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return protocol.ToolExecution{
				Error: fmt.Sprintf("tool %s: malformed input: %v", name, err),
			}
		}
	}

	if tool, ok := r.executors.Get(name); ok {
		start := time.Now()
		result := tool.Execute(ctx, args, workDir)
		log.Printf(ctx, "tool %s finished in %s (error=%t)", name, time.Since(start), result.Error != "")
		return protocol.ToolExecution{
			Output:  result.Output,
			Error:   result.Error,
			Details: result.Details,
		}
	}

	if serverID, remote, ok := capability.ParseToolName(r.prefix, name); ok && r.caps != nil {
		output, isErr, err := r.caps.CallTool(ctx, serverID, remote, args)
		if err != nil {
			return protocol.ToolExecution{
				Error:   err.Error(),
				Details: map[string]any{"server": serverID, "tool": remote},
			}
		}
		exec := protocol.ToolExecution{
			Output:  output,
			Details: map[string]any{"server": serverID, "tool": remote},
		}
		if isErr {
			exec.Error = fmt.Sprintf("capability server %s reported an error", serverID)
		}
		return exec
	}

	return protocol.ToolExecution{Error: fmt.Sprintf("unknown tool: %s", name)}
}

// Initialize registers the built-in tool set. The task tool is included
// only when a runner is provided; subagents run without it so delegation
// cannot nest.
func (r *Registry) Initialize(runner executor.SubagentRunner) {
	r.Register(&executor.ReadFile{}, schemas.NewSchema("read_file", "Read file contents with optional line windowing").
		AddParam("path", "string", "Path to the file, absolute or relative to the working directory", true).
		AddParam("offset", "integer", "Starting line number (0-based)", false).
		AddParam("limit", "integer", "Maximum number of lines to read", false).
		Build())

	r.Register(&executor.WriteFile{}, schemas.NewSchema("write_file", "Write content to a file, creating parent directories as needed").
		AddParam("path", "string", "Path to the file, absolute or relative to the working directory", true).
		AddParam("content", "string", "Content to write to the file", true).
		Build())

	r.Register(&executor.EditFile{}, schemas.NewSchema("edit_file", "Replace an exact text match in a file").
		AddParam("path", "string", "Path to the file, absolute or relative to the working directory", true).
		AddParam("old_text", "string", "Exact text to replace; must match exactly one location", true).
		AddParam("new_text", "string", "Replacement text", true).
		Build())

	r.Register(&executor.Bash{}, schemas.NewSchema("bash", "Execute a shell command in the working directory").
		AddParam("command", "string", "Command to execute", true).
		Build())

	r.Register(&executor.FetchURL{Client: &http.Client{Timeout: 30 * time.Second}},
		schemas.NewSchema("fetch_url", "Fetch a URL and read its content as markdown").
			AddParam("url", "string", "URL to fetch (http or https)", true).
			Build())

	if runner != nil {
		r.Register(&executor.Task{Runner: runner}, schemas.NewSchema("task", "Delegate work to parallel subagent runs").
			AddArrayParam("tasks", "Subagent tasks to run", map[string]any{
				"type": "object",
				"properties": map[string]any{
					"role": map[string]any{
						"type":        "string",
						"description": "Subagent role",
						"enum":        []string{"simple", "complex", "researcher"},
					},
					"prompt": map[string]any{
						"type":        "string",
						"description": "Task instructions for the subagent",
					},
					"workingDir": map[string]any{
						"type":        "string",
						"description": "Working directory override for this task",
					},
				},
				"required": []string{"role", "prompt"},
			}, true).
			Build())
	}
}
