// Package agent: reduced agent loops for subagent tasks.
package agent

import (
	"context"

	"github.com/praxis-ai/praxis/internal/subagent"
	"github.com/praxis-ai/praxis/internal/tools"
	"github.com/praxis-ai/praxis/pkg/protocol"
)

// batchAdapter bridges the task tool to the orchestrator, carrying the
// parent turn's emitter so confirmation and progress events reach its
// stream.
type batchAdapter struct {
	orch *subagent.Orchestrator
	emit func(protocol.Event)
}

func (b *batchAdapter) RunBatch(ctx context.Context, tasks []protocol.SubagentTask) ([]protocol.SubagentResult, error) {
	return b.orch.RunBatch(ctx, tasks, subagent.Emit(b.emit))
}

// taskRunner runs one subagent task as a reduced loop: no task tool, a
// role-specific provider/model/iteration budget, and internal events
// discarded. Only the result merges back.
type taskRunner struct {
	engine *Engine
}

func (r *taskRunner) RunTask(ctx context.Context, task protocol.SubagentTask) protocol.SubagentResult {
	history := []protocol.Message{protocol.TextMessage(protocol.RoleUser, task.Prompt)}
	return r.run(ctx, task, history)
}

func (r *taskRunner) ContinueTask(ctx context.Context, task protocol.SubagentTask, history []protocol.Message) protocol.SubagentResult {
	history = append(append([]protocol.Message(nil), history...),
		protocol.TextMessage(protocol.RoleUser, "Continue the task from where you left off."))
	return r.run(ctx, task, history)
}

func (r *taskRunner) run(ctx context.Context, task protocol.SubagentTask, history []protocol.Message) protocol.SubagentResult {
	role := r.engine.cfg.RoleFor(task.Role)

	provider, err := r.engine.providerFor(ctx, role.Provider)
	if err != nil {
		return protocol.SubagentResult{Status: protocol.SubagentError, Error: err.Error()}
	}

	// No runner: the reduced registry has no task tool, so delegation
	// cannot nest.
	registry := tools.NewRegistry(r.engine.caps, r.engine.cfg.Capability.Prefix)
	registry.Initialize(nil)

	maxIterations := role.MaxIterations
	if maxIterations <= 0 {
		maxIterations = r.engine.cfg.Agent.MaxIterations
	}

	lc := loopConfig{
		provider:            provider,
		model:               role.Model,
		system:              subagent.SystemPrompt(task.Role),
		workDir:             task.WorkingDir,
		registry:            registry,
		maxIterations:       maxIterations,
		maxOutputTokens:     r.engine.cfg.Agent.MaxOutputTokens,
		maxRateLimitRetries: r.engine.cfg.Agent.MaxRateLimitRetries,
		emit:                func(protocol.Event) {},
	}

	result, err := runLoop(ctx, lc, history)
	if err != nil {
		return protocol.SubagentResult{
			Status:      protocol.SubagentError,
			Error:       err.Error(),
			FullHistory: result.history,
			Usage:       result.usage,
		}
	}
	if result.exhausted {
		return protocol.SubagentResult{
			Status:      protocol.SubagentPaused,
			FullHistory: result.history,
			Usage:       result.usage,
		}
	}
	return protocol.SubagentResult{
		Status:      protocol.SubagentSuccess,
		Summary:     subagent.Summarize(result.finalText),
		FullHistory: result.history,
		Usage:       result.usage,
	}
}

var _ subagent.Runner = (*taskRunner)(nil)
