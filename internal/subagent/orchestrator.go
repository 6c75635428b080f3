// Package subagent: batch orchestration of nested agent runs.
package subagent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"goa.design/clue/log"
	"golang.org/x/sync/errgroup"

	"github.com/praxis-ai/praxis/internal/config"
	"github.com/praxis-ai/praxis/internal/errors"
	"github.com/praxis-ai/praxis/pkg/protocol"
)

// Runner executes a single subagent task as a reduced agent loop. The agent
// package supplies the implementation; the orchestrator never imports it.
type Runner interface {
	// RunTask runs one task to a terminal status, honoring ctx for both
	// cancellation and the per-task deadline.
	RunTask(ctx context.Context, task protocol.SubagentTask) protocol.SubagentResult

	// ContinueTask resumes a paused task from its accumulated history.
	ContinueTask(ctx context.Context, task protocol.SubagentTask, history []protocol.Message) protocol.SubagentResult
}

// Recorder persists terminal run results. Implemented by runstore.
type Recorder interface {
	Record(ctx context.Context, task protocol.SubagentTask, result protocol.SubagentResult) error
	Load(ctx context.Context, taskID string) (protocol.SubagentTask, protocol.SubagentResult, error)
}

// Emit delivers orchestrator events into the parent turn's stream. Safe for
// concurrent use by running tasks.
type Emit func(protocol.Event)

// Orchestrator gates, schedules, and collects subagent task batches.
type Orchestrator struct {
	cfg      *config.Config
	runner   Runner
	recorder Recorder
	confirms *confirmRegistry
}

// New creates an orchestrator. recorder may be nil; runs are then not
// persisted and continuation requires the caller to supply history.
func New(cfg *config.Config, runner Runner, recorder Recorder) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		runner:   runner,
		recorder: recorder,
		confirms: newConfirmRegistry(),
	}
}

// Resolve consumes a pending confirmation token. A nil approvedTasks is a
// rejection; a non-nil list approves and replaces the proposed batch.
// Exactly-once: a second resolution of the same token fails with
// CONFIRMATION_NOT_FOUND.
func (o *Orchestrator) Resolve(token string, approvedTasks []protocol.SubagentTask) error {
	return o.confirms.resolve(token, Decision{Approved: approvedTasks != nil, Tasks: approvedTasks})
}

// RunBatch gates the batch behind the confirmation policy, runs the approved
// tasks with bounded concurrency, and returns one result per task in task
// order. A rejected or expired confirmation discards the whole batch; an
// approval may substitute a modified task list.
func (o *Orchestrator) RunBatch(ctx context.Context, tasks []protocol.SubagentTask, emit Emit) ([]protocol.SubagentResult, error) {
	if len(tasks) == 0 {
		return nil, errors.User(errors.CodeToolBadParams, "no subagent tasks to run")
	}

	if o.needsConfirmation(len(tasks)) {
		approved, err := o.awaitConfirmation(ctx, tasks, emit)
		if err != nil {
			return nil, err
		}
		tasks = approved
	}

	results := make([]protocol.SubagentResult, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.maxConcurrent())

	for i, task := range tasks {
		g.Go(func() error {
			emit(protocol.SubagentProgressEvent(task.ID, "running", ""))
			results[i] = o.runOne(gctx, task)
			emit(protocol.SubagentProgressEvent(task.ID, string(results[i].Status), results[i].Summary))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeSubagentTimeout, "subagent batch cancelled", errors.CategoryPermanent)
	}
	return results, nil
}

// Continue resumes a paused task. When history is empty the recorded run's
// task and history are used; without a recorder that is an error.
func (o *Orchestrator) Continue(ctx context.Context, task protocol.SubagentTask, history []protocol.Message, emit Emit) (protocol.SubagentResult, error) {
	if len(history) == 0 {
		if o.recorder == nil {
			return protocol.SubagentResult{}, errors.User(errors.CodeToolBadParams,
				"no history supplied and no run store configured")
		}
		stored, result, err := o.recorder.Load(ctx, task.ID)
		if err != nil {
			return protocol.SubagentResult{}, err
		}
		if result.Status != protocol.SubagentPaused {
			return protocol.SubagentResult{}, errors.User(errors.CodeToolBadParams,
				fmt.Sprintf("task %s is %s, only paused tasks can be continued", task.ID, result.Status))
		}
		task = stored
		history = result.FullHistory
	}

	emit(protocol.SubagentProgressEvent(task.ID, "running", ""))
	taskCtx, cancel := o.taskContext(ctx, task.Role)
	defer cancel()
	result := o.runner.ContinueTask(taskCtx, task, history)
	result = o.finalize(ctx, taskCtx, task, result)
	emit(protocol.SubagentProgressEvent(task.ID, string(result.Status), result.Summary))
	return result, nil
}

func (o *Orchestrator) runOne(ctx context.Context, task protocol.SubagentTask) protocol.SubagentResult {
	taskCtx, cancel := o.taskContext(ctx, task.Role)
	defer cancel()

	start := time.Now()
	result := o.runner.RunTask(taskCtx, task)
	result = o.finalize(ctx, taskCtx, task, result)
	log.Printf(ctx, "subagent task %s (%s) finished %s in %s", task.ID, task.Role, result.Status, time.Since(start))
	return result
}

// finalize normalizes a runner result: deadline overruns become timeout
// status and terminal results are recorded.
func (o *Orchestrator) finalize(parent, taskCtx context.Context, task protocol.SubagentTask, result protocol.SubagentResult) protocol.SubagentResult {
	result.TaskID = task.ID
	result.Role = task.Role
	if taskCtx.Err() == context.DeadlineExceeded && parent.Err() == nil {
		result.Status = protocol.SubagentTimeout
		result.Error = fmt.Sprintf("task exceeded its %s timeout", o.timeoutFor(task.Role))
		result.Summary = ""
	}
	if o.recorder != nil {
		if err := o.recorder.Record(parent, task, result); err != nil {
			log.Errorf(parent, err, "record subagent run %s", task.ID)
		}
	}
	return result
}

func (o *Orchestrator) needsConfirmation(batchSize int) bool {
	switch o.cfg.Subagents.Policy {
	case config.ConfirmNever:
		return false
	case config.ConfirmMultipleOnly:
		return batchSize > 1
	default:
		return true
	}
}

func (o *Orchestrator) awaitConfirmation(ctx context.Context, tasks []protocol.SubagentTask, emit Emit) ([]protocol.SubagentTask, error) {
	token := uuid.NewString()
	ch := o.confirms.add(token, o.confirmTTL())
	emit(protocol.SubagentRequestEvent(token, tasks))
	log.Printf(ctx, "subagent batch of %d awaiting confirmation %s", len(tasks), token)

	select {
	case decision := <-ch:
		if !decision.Approved {
			return nil, errors.User(errors.CodeSubagentRejected, "subagent batch was rejected or the confirmation expired")
		}
		if len(decision.Tasks) > 0 {
			return decision.Tasks, nil
		}
		return tasks, nil
	case <-ctx.Done():
		o.confirms.drop(token)
		return nil, errors.Wrap(ctx.Err(), errors.CodeSubagentRejected, "turn cancelled while awaiting confirmation", errors.CategoryPermanent)
	}
}

func (o *Orchestrator) taskContext(ctx context.Context, role protocol.SubagentRole) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.timeoutFor(role))
}

func (o *Orchestrator) timeoutFor(role protocol.SubagentRole) time.Duration {
	secs := o.cfg.RoleFor(role).TimeoutSecs
	if secs <= 0 {
		secs = 600
	}
	return time.Duration(secs) * time.Second
}

func (o *Orchestrator) confirmTTL() time.Duration {
	secs := o.cfg.Subagents.ConfirmTimeoutSecs
	if secs <= 0 {
		secs = 300
	}
	return time.Duration(secs) * time.Second
}

func (o *Orchestrator) maxConcurrent() int {
	if n := o.cfg.Subagents.MaxConcurrent; n > 0 {
		return n
	}
	return 3
}
