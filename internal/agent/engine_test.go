package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/praxis-ai/praxis/internal/capability"
	"github.com/praxis-ai/praxis/internal/config"
	"github.com/praxis-ai/praxis/internal/errors"
	"github.com/praxis-ai/praxis/internal/model"
	"github.com/praxis-ai/praxis/internal/runstore"
	"github.com/praxis-ai/praxis/pkg/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// roundScript is one scripted provider call: an error, or a chunk sequence.
type roundScript struct {
	err    error
	chunks []model.Chunk
}

type scriptProvider struct {
	mu       sync.Mutex
	rounds   []roundScript
	requests []model.Request
}

func (p *scriptProvider) Name() string { return "scripted" }

func (p *scriptProvider) Stream(ctx context.Context, req model.Request) (model.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.rounds) == 0 {
		return nil, fmt.Errorf("no scripted round left")
	}
	round := p.rounds[0]
	p.rounds = p.rounds[1:]
	if round.err != nil {
		return nil, round.err
	}
	return &scriptStream{ctx: ctx, chunks: round.chunks}, nil
}

type scriptStream struct {
	ctx    context.Context
	chunks []model.Chunk
	i      int
}

func (s *scriptStream) Recv() (model.Chunk, error) {
	if err := s.ctx.Err(); err != nil {
		return model.Chunk{}, err
	}
	if s.i >= len(s.chunks) {
		return model.Chunk{}, io.EOF
	}
	c := s.chunks[s.i]
	s.i++
	return c, nil
}

func (s *scriptStream) Close() error { return nil }

func textRound(text string, in, out int) roundScript {
	return roundScript{chunks: []model.Chunk{
		{Kind: model.ChunkText, Text: text},
		{Kind: model.ChunkUsage, Usage: protocol.TokenUsage{Input: in, Output: out}},
		{Kind: model.ChunkStop, StopReason: "end_turn"},
	}}
}

func toolRound(id, name, input string, in, out int) roundScript {
	return roundScript{chunks: []model.Chunk{
		{Kind: model.ChunkToolStart, ToolID: id, ToolName: name},
		{Kind: model.ChunkToolDelta, ToolID: id, PartialJSON: input},
		{Kind: model.ChunkToolCall, ToolID: id, ToolName: name, Input: json.RawMessage(input)},
		{Kind: model.ChunkUsage, Usage: protocol.TokenUsage{Input: in, Output: out}},
		{Kind: model.ChunkStop, StopReason: "tool_use"},
	}}
}

func newTestEngine(t *testing.T, provider model.Provider) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.Subagents.Policy = config.ConfirmNever
	e := New(cfg, capability.NewManager(), nil)
	e.providerFor = func(ctx context.Context, name string) (model.Provider, error) {
		return provider, nil
	}
	return e
}

func collect(t *testing.T, ch <-chan protocol.Event) []protocol.Event {
	t.Helper()
	var events []protocol.Event
	timeout := time.After(30 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("event stream never closed")
		}
	}
}

func eventsOf(events []protocol.Event, kind protocol.EventType) []protocol.Event {
	var out []protocol.Event
	for _, ev := range events {
		if ev.Type == kind {
			out = append(out, ev)
		}
	}
	return out
}

func TestTextOnlyTurn(t *testing.T) {
	provider := &scriptProvider{rounds: []roundScript{textRound("Hello there.", 10, 4)}}
	e := newTestEngine(t, provider)

	events := collect(t, e.RunTurn(context.Background(), TurnRequest{UserMessage: "hi"}))

	deltas := eventsOf(events, protocol.EventTextDelta)
	require.Len(t, deltas, 1)
	assert.Equal(t, "Hello there.", deltas[0].Delta)

	final := events[len(events)-1]
	require.Equal(t, protocol.EventTurnComplete, final.Type)
	assert.Equal(t, &protocol.TokenUsage{Input: 10, Output: 4}, final.Usage)
}

func TestToolRoundThenCompletion(t *testing.T) {
	provider := &scriptProvider{rounds: []roundScript{
		toolRound("call_1", "bash", `{"command":"echo hi"}`, 20, 8),
		textRound("Ran it.", 30, 5),
	}}
	e := newTestEngine(t, provider)

	events := collect(t, e.RunTurn(context.Background(), TurnRequest{
		UserMessage: "run echo",
		WorkingDir:  t.TempDir(),
	}))

	// Every tool_start has exactly one tool_result before the terminal event.
	starts := eventsOf(events, protocol.EventToolStart)
	results := eventsOf(events, protocol.EventToolResult)
	require.Len(t, starts, 1)
	require.Len(t, results, 1)
	assert.Equal(t, starts[0].ToolID, results[0].ToolID)
	assert.False(t, results[0].Failed)
	assert.Contains(t, results[0].Output, "hi")

	running := eventsOf(events, protocol.EventToolRunning)
	require.Len(t, running, 1)

	// Usage sums across both rounds.
	final := events[len(events)-1]
	require.Equal(t, protocol.EventTurnComplete, final.Type)
	assert.Equal(t, &protocol.TokenUsage{Input: 50, Output: 13}, final.Usage)

	// Second round saw the tool result appended to history.
	provider.mu.Lock()
	defer provider.mu.Unlock()
	require.Len(t, provider.requests, 2)
	secondHistory := provider.requests[1].History
	last := secondHistory[len(secondHistory)-1]
	assert.Equal(t, protocol.RoleTool, last.Role)
	require.Len(t, last.Blocks, 1)
	assert.Equal(t, "call_1", last.Blocks[0].ToolUseID)
}

func TestToolErrorDoesNotAbortTurn(t *testing.T) {
	provider := &scriptProvider{rounds: []roundScript{
		toolRound("call_1", "read_file", `{"path":"missing.txt"}`, 5, 2),
		textRound("The file is missing.", 6, 3),
	}}
	e := newTestEngine(t, provider)

	events := collect(t, e.RunTurn(context.Background(), TurnRequest{
		UserMessage: "read it",
		WorkingDir:  t.TempDir(),
	}))

	results := eventsOf(events, protocol.EventToolResult)
	require.Len(t, results, 1)
	assert.True(t, results[0].Failed)
	assert.Contains(t, results[0].Error, "file not found")

	assert.Equal(t, protocol.EventTurnComplete, events[len(events)-1].Type)
}

func TestRateLimitRetryWithCountdown(t *testing.T) {
	provider := &scriptProvider{rounds: []roundScript{
		{err: errors.RateLimit(errors.CodeProviderRateLimit, "slow down", time.Second)},
		textRound("Recovered.", 7, 2),
	}}
	e := newTestEngine(t, provider)

	events := collect(t, e.RunTurn(context.Background(), TurnRequest{UserMessage: "hi"}))

	countdowns := eventsOf(events, protocol.EventRetryCountdown)
	require.Len(t, countdowns, 1)
	assert.Equal(t, 1, countdowns[0].Seconds)
	assert.Equal(t, protocol.EventTurnComplete, events[len(events)-1].Type)
}

func TestRateLimitRetriesExhausted(t *testing.T) {
	limited := func() roundScript {
		return roundScript{err: errors.RateLimit(errors.CodeProviderRateLimit, "slow down", time.Second)}
	}
	provider := &scriptProvider{rounds: []roundScript{limited(), limited(), limited()}}

	cfg := config.Default()
	cfg.Subagents.Policy = config.ConfirmNever
	cfg.Agent.MaxRateLimitRetries = 2
	e := New(cfg, capability.NewManager(), nil)
	e.providerFor = func(ctx context.Context, name string) (model.Provider, error) {
		return provider, nil
	}

	events := collect(t, e.RunTurn(context.Background(), TurnRequest{UserMessage: "hi"}))

	final := events[len(events)-1]
	require.Equal(t, protocol.EventError, final.Type)
	assert.Contains(t, final.Error, "rate limit retries exhausted")
	assert.Len(t, eventsOf(events, protocol.EventRetryCountdown), 2)
}

func TestProviderErrorTerminatesTurn(t *testing.T) {
	provider := &scriptProvider{rounds: []roundScript{
		{err: errors.Permanent(errors.CodeProviderResponse, "bad request")},
	}}
	e := newTestEngine(t, provider)

	events := collect(t, e.RunTurn(context.Background(), TurnRequest{UserMessage: "hi"}))
	require.NotEmpty(t, events)
	final := events[len(events)-1]
	assert.Equal(t, protocol.EventError, final.Type)
	assert.Contains(t, final.Error, "bad request")
}

func TestCancellationClosesStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	provider := &scriptProvider{rounds: []roundScript{
		// Never-ending text rounds; cancellation must win.
		textRound("a", 1, 1), textRound("b", 1, 1),
	}}
	e := newTestEngine(t, provider)

	ch := e.RunTurn(ctx, TurnRequest{UserMessage: "hi"})
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range ch {
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not close after cancellation")
	}
}

func TestSubagentDelegationEndToEnd(t *testing.T) {
	taskInput := `{"tasks":[{"role":"simple","prompt":"count the tests"}]}`
	provider := &scriptProvider{rounds: []roundScript{
		// Parent round 1: delegate.
		toolRound("call_1", "task", taskInput, 40, 10),
		// Subagent round: answer directly.
		textRound("There are 12 tests. All pass.", 15, 6),
		// Parent round 2: wrap up.
		textRound("Delegated and done.", 25, 4),
	}}
	e := newTestEngine(t, provider)

	events := collect(t, e.RunTurn(context.Background(), TurnRequest{UserMessage: "delegate this"}))

	results := eventsOf(events, protocol.EventToolResult)
	require.Len(t, results, 1)
	assert.False(t, results[0].Failed)
	assert.Contains(t, results[0].Output, "There are 12 tests.")

	progress := eventsOf(events, protocol.EventSubagentUpdate)
	require.NotEmpty(t, progress)
	terminal := progress[len(progress)-1]
	assert.Equal(t, "success", terminal.TaskStatus)

	// Subagent rounds expose no task tool.
	provider.mu.Lock()
	defer provider.mu.Unlock()
	require.Len(t, provider.requests, 3)
	for _, def := range provider.requests[1].Tools {
		assert.NotEqual(t, "task", def.Name, "subagents must not see the task tool")
	}
}

func TestSubagentPausedOnIterationExhaustion(t *testing.T) {
	cfg := config.Default()
	cfg.Subagents.Policy = config.ConfirmNever
	cfg.Subagents.Roles["simple"] = config.RoleConfig{MaxIterations: 1, TimeoutSecs: 30}

	dir := t.TempDir()
	toolArgs := fmt.Sprintf(`{"path":%q,"content":"x"}`, dir+"/f.txt")
	provider := &scriptProvider{rounds: []roundScript{
		// The only subagent round ends with a pending tool call, so the
		// budget runs out before a natural stop.
		toolRound("call_s1", "write_file", toolArgs, 9, 3),
	}}

	e := New(cfg, capability.NewManager(), nil)
	e.providerFor = func(ctx context.Context, name string) (model.Provider, error) {
		return provider, nil
	}

	runner := &taskRunner{engine: e}
	result := runner.RunTask(context.Background(), protocol.SubagentTask{
		ID: "t1", Role: protocol.RoleSimple, Prompt: "loop forever",
	})
	assert.Equal(t, protocol.SubagentPaused, result.Status)
	assert.NotEmpty(t, result.FullHistory, "paused runs carry their history")
	assert.Equal(t, protocol.TokenUsage{Input: 9, Output: 3}, result.Usage)
}

func TestContinueSubagentWithHistory(t *testing.T) {
	provider := &scriptProvider{rounds: []roundScript{
		textRound("Finished the remaining rename. Two files changed.", 11, 5),
	}}
	e := newTestEngine(t, provider)

	history := []protocol.Message{protocol.TextMessage(protocol.RoleUser, "rename the handlers")}
	task := protocol.SubagentTask{ID: "t1", Role: protocol.RoleSimple, Prompt: "rename the handlers"}
	events := collect(t, e.ContinueSubagent(context.Background(), task, history))

	final := events[len(events)-1]
	require.Equal(t, protocol.EventTurnComplete, final.Type)
	assert.Equal(t, &protocol.TokenUsage{Input: 11, Output: 5}, final.Usage)

	progress := eventsOf(events, protocol.EventSubagentUpdate)
	require.NotEmpty(t, progress)
	assert.Equal(t, "success", progress[len(progress)-1].TaskStatus)
	assert.Contains(t, progress[len(progress)-1].Summary, "Finished the remaining rename.")
}

func TestContinueSubagentFromRunStore(t *testing.T) {
	store, err := runstore.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer store.Close()

	task := protocol.SubagentTask{ID: "t9", Role: protocol.RoleSimple, Prompt: "finish the rename"}
	require.NoError(t, store.Record(context.Background(), task, protocol.SubagentResult{
		Status:      protocol.SubagentPaused,
		FullHistory: []protocol.Message{protocol.TextMessage(protocol.RoleUser, "finish the rename")},
	}))

	provider := &scriptProvider{rounds: []roundScript{
		textRound("Renamed the remaining two files. Done.", 5, 2),
	}}
	cfg := config.Default()
	cfg.Subagents.Policy = config.ConfirmNever
	e := New(cfg, capability.NewManager(), store)
	e.providerFor = func(ctx context.Context, name string) (model.Provider, error) {
		return provider, nil
	}

	// Empty history: the recorded task and history drive the continuation.
	events := collect(t, e.ContinueSubagent(context.Background(), protocol.SubagentTask{ID: "t9"}, nil))
	final := events[len(events)-1]
	require.Equal(t, protocol.EventTurnComplete, final.Type)

	// The continuation result replaced the paused row.
	_, stored, err := store.Load(context.Background(), "t9")
	require.NoError(t, err)
	assert.Equal(t, protocol.SubagentSuccess, stored.Status)
}
