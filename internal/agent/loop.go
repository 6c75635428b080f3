// Package agent: the per-turn loop state machine.
package agent

import (
	"context"
	"io"
	"time"

	"goa.design/clue/log"

	"github.com/praxis-ai/praxis/internal/errors"
	"github.com/praxis-ai/praxis/internal/model"
	"github.com/praxis-ai/praxis/internal/tools"
	"github.com/praxis-ai/praxis/pkg/protocol"
)

const defaultRetryAfter = 5 * time.Second

// loopConfig parameterizes one loop run. The parent turn and subagent runs
// share the same loop with different registries, prompts, and budgets.
type loopConfig struct {
	provider            model.Provider
	model               string
	system              string
	workDir             string
	registry            *tools.Registry
	maxIterations       int
	maxOutputTokens     int
	maxRateLimitRetries int
	emit                func(protocol.Event)
}

// loopResult is the outcome of a loop run. Exhausted is set when the
// iteration budget ran out before a round without tool calls.
type loopResult struct {
	history   []protocol.Message
	usage     protocol.TokenUsage
	finalText string
	exhausted bool
}

// roundOutcome collects what one provider round produced.
type roundOutcome struct {
	text  string
	calls []protocol.ContentBlock
	usage protocol.TokenUsage
}

// runLoop drives Thinking/Executing rounds until a round finishes with no
// tool calls, the iteration budget runs out, or an error terminates the
// turn. history must already contain the user message.
func runLoop(ctx context.Context, lc loopConfig, history []protocol.Message) (loopResult, error) {
	res := loopResult{history: history}

	for round := 0; round < lc.maxIterations; round++ {
		outcome, err := runRound(ctx, lc, res.history)
		if err != nil {
			return res, err
		}
		res.usage.Add(outcome.usage)
		res.finalText = outcome.text
		res.history = append(res.history, assistantMessage(outcome))

		if len(outcome.calls) == 0 {
			return res, nil
		}

		log.Printf(ctx, "round %d: executing %d tool calls", round, len(outcome.calls))
		for _, call := range outcome.calls {
			lc.emit(protocol.ToolRunningEvent(call.ID))
			exec := lc.registry.Dispatch(ctx, call.Name, call.Input, lc.workDir)
			lc.emit(protocol.ToolResultEvent(call.ID, exec))
			res.history = append(res.history, protocol.Message{
				Role:   protocol.RoleTool,
				Blocks: []protocol.ContentBlock{protocol.ToolResultBlock(call.ID, resultContent(exec), exec.IsError())},
			})
			if err := ctx.Err(); err != nil {
				return res, errors.Wrap(err, errors.CodeProviderStream, "turn cancelled during tool execution", errors.CategoryPermanent)
			}
		}
	}

	res.exhausted = true
	return res, nil
}

// runRound issues one provider call, retrying identically on rate limits
// with a per-second countdown, bounded by maxRateLimitRetries.
func runRound(ctx context.Context, lc loopConfig, history []protocol.Message) (roundOutcome, error) {
	req := model.Request{
		Model:           lc.model,
		System:          lc.system,
		History:         history,
		Tools:           lc.registry.Definitions(),
		MaxOutputTokens: lc.maxOutputTokens,
	}

	for attempt := 0; ; attempt++ {
		outcome, err := streamRound(ctx, lc, req)
		if err == nil {
			return outcome, nil
		}
		if !errors.IsRateLimit(err) {
			return roundOutcome{}, err
		}
		if attempt >= lc.maxRateLimitRetries {
			return roundOutcome{}, errors.Wrap(err, errors.CodeProviderRateLimit,
				"rate limit retries exhausted", errors.CategoryPermanent)
		}
		if err := countdown(ctx, lc.emit, errors.GetRetryAfter(err)); err != nil {
			return roundOutcome{}, err
		}
	}
}

func streamRound(ctx context.Context, lc loopConfig, req model.Request) (roundOutcome, error) {
	stream, err := lc.provider.Stream(ctx, req)
	if err != nil {
		return roundOutcome{}, err
	}
	defer stream.Close()

	var outcome roundOutcome
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			return outcome, nil
		}
		if err != nil {
			return roundOutcome{}, err
		}

		switch chunk.Kind {
		case model.ChunkText:
			outcome.text += chunk.Text
			lc.emit(protocol.TextDeltaEvent(chunk.Text))
		case model.ChunkToolStart:
			lc.emit(protocol.ToolStartEvent(chunk.ToolID, chunk.ToolName))
		case model.ChunkToolDelta:
			lc.emit(protocol.ToolInputDeltaEvent(chunk.ToolID, chunk.PartialJSON))
		case model.ChunkToolCall:
			outcome.calls = append(outcome.calls, protocol.ToolUseBlock(chunk.ToolID, chunk.ToolName, chunk.Input))
		case model.ChunkUsage:
			// Later usage frames supersede earlier ones within a round.
			outcome.usage = chunk.Usage
		case model.ChunkStop:
		}
	}
}

// countdown emits retry_countdown once per remaining second of the backoff.
func countdown(ctx context.Context, emit func(protocol.Event), wait time.Duration) error {
	if wait <= 0 {
		wait = defaultRetryAfter
	}
	seconds := int(wait.Round(time.Second) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	for s := seconds; s > 0; s-- {
		emit(protocol.RetryCountdownEvent(s))
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), errors.CodeProviderRateLimit,
				"turn cancelled during rate limit backoff", errors.CategoryPermanent)
		}
	}
	return nil
}

// resultContent is what the model reads back: the output, with the error
// text prepended on failures so the model can react to it.
func resultContent(exec protocol.ToolExecution) string {
	if !exec.IsError() {
		return exec.Output
	}
	if exec.Output == "" {
		return "Error: " + exec.Error
	}
	return "Error: " + exec.Error + "\n" + exec.Output
}

func assistantMessage(outcome roundOutcome) protocol.Message {
	var blocks []protocol.ContentBlock
	if outcome.text != "" {
		blocks = append(blocks, protocol.ContentBlock{Type: protocol.BlockText, Text: outcome.text})
	}
	blocks = append(blocks, outcome.calls...)
	return protocol.Message{Role: protocol.RoleAssistant, Blocks: blocks}
}
