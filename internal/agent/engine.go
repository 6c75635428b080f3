// Package agent wires providers, tools, and the subagent orchestrator into
// the turn engine that callers drive.
package agent

import (
	"context"
	"strings"

	"goa.design/clue/log"

	"github.com/praxis-ai/praxis/internal/capability"
	"github.com/praxis-ai/praxis/internal/config"
	"github.com/praxis-ai/praxis/internal/model"
	"github.com/praxis-ai/praxis/internal/subagent"
	"github.com/praxis-ai/praxis/internal/tools"
	"github.com/praxis-ai/praxis/pkg/protocol"
)

// Engine is the entry point for turns. One Engine serves many sequential or
// concurrent turns; per-turn state lives in the loop, not here.
type Engine struct {
	cfg  *config.Config
	caps *capability.Manager
	orch *subagent.Orchestrator

	// providerFor resolves a provider by name. Overridable in tests.
	providerFor func(ctx context.Context, name string) (model.Provider, error)
}

// New creates an engine. recorder may be nil to disable run persistence.
func New(cfg *config.Config, caps *capability.Manager, recorder subagent.Recorder) *Engine {
	e := &Engine{
		cfg:         cfg,
		caps:        caps,
		providerFor: model.ForProvider,
	}
	e.orch = subagent.New(cfg, &taskRunner{engine: e}, recorder)
	return e
}

// TurnRequest describes one user turn.
type TurnRequest struct {
	UserMessage string
	History     []protocol.Message
	WorkingDir  string

	// Provider and Model override the configured defaults when set.
	Provider string
	Model    string
}

// RunTurn starts a turn and returns its event stream. The channel is
// unbuffered and closes after the terminal event (turn_complete or error).
// Cancelling ctx aborts the in-flight provider call, tool executions, and
// subagents.
func (e *Engine) RunTurn(ctx context.Context, req TurnRequest) <-chan protocol.Event {
	events := make(chan protocol.Event)
	go func() {
		defer close(events)
		emit := emitter(ctx, events)
		e.runTurn(ctx, req, emit)
	}()
	return events
}

// ResolveConfirmation consumes a pending subagent confirmation token. A nil
// task list rejects the batch.
func (e *Engine) ResolveConfirmation(requestID string, approvedTasks []protocol.SubagentTask) error {
	return e.orch.Resolve(requestID, approvedTasks)
}

// ContinueSubagent resumes a paused subagent run and returns its event
// stream: subagent_progress updates followed by turn_complete with the
// continuation's usage, or error. With an empty history the recorded run is
// resumed; otherwise the supplied task and history are used as-is.
func (e *Engine) ContinueSubagent(ctx context.Context, task protocol.SubagentTask, history []protocol.Message) <-chan protocol.Event {
	events := make(chan protocol.Event)
	go func() {
		defer close(events)
		emit := emitter(ctx, events)
		result, err := e.orch.Continue(ctx, task, history, emit)
		if err != nil {
			emit(protocol.ErrorEvent(err))
			return
		}
		emit(protocol.TurnCompleteEvent(result.Usage))
	}()
	return events
}

// Capabilities exposes the capability manager for config reconciliation and
// state inspection.
func (e *Engine) Capabilities() *capability.Manager {
	return e.caps
}

func (e *Engine) runTurn(ctx context.Context, req TurnRequest, emit func(protocol.Event)) {
	providerName := req.Provider
	if providerName == "" {
		providerName = e.cfg.Agent.Provider
	}
	modelName := req.Model
	if modelName == "" {
		modelName = e.cfg.Agent.Model
	}

	provider, err := e.providerFor(ctx, providerName)
	if err != nil {
		emit(protocol.ErrorEvent(err))
		return
	}

	registry := tools.NewRegistry(e.caps, e.cfg.Capability.Prefix)
	registry.Initialize(&batchAdapter{orch: e.orch, emit: emit})

	history := append(append([]protocol.Message(nil), req.History...),
		protocol.TextMessage(protocol.RoleUser, req.UserMessage))

	lc := loopConfig{
		provider:            provider,
		model:               modelName,
		system:              systemPrompt(req.WorkingDir),
		workDir:             req.WorkingDir,
		registry:            registry,
		maxIterations:       e.cfg.Agent.MaxIterations,
		maxOutputTokens:     e.cfg.Agent.MaxOutputTokens,
		maxRateLimitRetries: e.cfg.Agent.MaxRateLimitRetries,
		emit:                emit,
	}

	result, err := runLoop(ctx, lc, history)
	if err != nil {
		log.Errorf(ctx, err, "turn failed")
		emit(protocol.ErrorEvent(err))
		return
	}
	if result.exhausted {
		emit(protocol.Event{Type: protocol.EventError, Error: "turn reached its iteration budget without completing"})
		return
	}
	emit(protocol.TurnCompleteEvent(result.usage))
}

// emitter wraps the event channel so producers never block past turn
// cancellation.
func emitter(ctx context.Context, events chan<- protocol.Event) func(protocol.Event) {
	return func(ev protocol.Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}
}

func systemPrompt(workDir string) string {
	var sections []string
	sections = append(sections, "Identity:\nYou are Praxis, a coding assistant agent. Be concise and action-oriented.")
	sections = append(sections, "Tooling:\nUse the provided tools to read, edit, and run code. Prefer small verified steps over large speculative changes.")
	if workDir != "" {
		sections = append(sections, "Workspace:\nWorking directory: "+workDir)
	}
	sections = append(sections, "Delegation:\nUse the task tool for work that splits into independent pieces; summarize delegated results for the user.")
	return strings.Join(sections, "\n\n")
}
