// Package executor provides the subagent delegation tool.
package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/praxis-ai/praxis/pkg/protocol"
)

// SubagentRunner runs a batch of subagent tasks and blocks until every task
// in the batch has a terminal result. The agent package provides the
// implementation; the tool only shapes input and output.
type SubagentRunner interface {
	RunBatch(ctx context.Context, tasks []protocol.SubagentTask) ([]protocol.SubagentResult, error)
}

// Task delegates work to nested agent runs. The tool result carries only the
// summaries; full histories stay with the orchestrator.
type Task struct {
	Runner SubagentRunner
}

func (t *Task) Name() string { return "task" }

func (t *Task) Execute(ctx context.Context, input map[string]any, workDir string) *Result {
	rawTasks, ok := input["tasks"].([]any)
	if !ok || len(rawTasks) == 0 {
		return Failf("parameter tasks is required and must be a non-empty array")
	}

	tasks := make([]protocol.SubagentTask, 0, len(rawTasks))
	for i, raw := range rawTasks {
		entry, ok := raw.(map[string]any)
		if !ok {
			return Failf("tasks[%d] must be an object", i)
		}
		role, _ := entry["role"].(string)
		prompt, _ := entry["prompt"].(string)
		if prompt == "" {
			return Failf("tasks[%d].prompt is required", i)
		}
		switch protocol.SubagentRole(role) {
		case protocol.RoleSimple, protocol.RoleComplex, protocol.RoleResearcher:
		default:
			return Failf("tasks[%d].role must be one of simple, complex, researcher", i)
		}
		task := protocol.SubagentTask{
			ID:         uuid.NewString(),
			Role:       protocol.SubagentRole(role),
			Prompt:     prompt,
			WorkingDir: workDir,
		}
		if dir, ok := entry["workingDir"].(string); ok && dir != "" {
			task.WorkingDir = dir
		}
		tasks = append(tasks, task)
	}

	results, err := t.Runner.RunBatch(ctx, tasks)
	if err != nil {
		return Fail(err)
	}

	// The confirmation gate may replace the proposed batch, so the report
	// is built from the results alone, never indexed back into tasks.
	var (
		sections []string
		failed   int
	)
	for i, res := range results {
		header := fmt.Sprintf("Task %d (%s): %s", i+1, res.Role, res.Status)
		body := res.Summary
		if res.Status != protocol.SubagentSuccess {
			failed++
			if res.Error != "" {
				body = res.Error
			}
		}
		sections = append(sections, header+"\n"+body)
	}

	result := Success(strings.Join(sections, "\n\n")).
		WithDetail("task_count", len(results)).
		WithDetail("failed_count", failed)
	if failed > 0 {
		result.Error = fmt.Sprintf("%d of %d tasks did not succeed", failed, len(results))
	}
	return result
}
