package model

import (
	"context"
	"encoding/json"
	"testing"

	oresponses "github.com/openai/openai-go/responses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxis-ai/praxis/internal/errors"
)

type fakeOpenAISSE struct {
	events []oresponses.ResponseStreamEventUnion
	pos    int
	err    error
}

func (f *fakeOpenAISSE) Next() bool {
	if f.pos < len(f.events) {
		f.pos++
		return true
	}
	return false
}

func (f *fakeOpenAISSE) Current() oresponses.ResponseStreamEventUnion { return f.events[f.pos-1] }
func (f *fakeOpenAISSE) Err() error                                   { return f.err }
func (f *fakeOpenAISSE) Close() error                                 { return nil }

func openaiEvents(t *testing.T, raws ...string) []oresponses.ResponseStreamEventUnion {
	t.Helper()
	out := make([]oresponses.ResponseStreamEventUnion, 0, len(raws))
	for _, raw := range raws {
		var ev oresponses.ResponseStreamEventUnion
		require.NoError(t, json.Unmarshal([]byte(raw), &ev))
		out = append(out, ev)
	}
	return out
}

func TestOpenAIStreamNormalizesToolCall(t *testing.T) {
	sse := &fakeOpenAISSE{events: openaiEvents(t,
		`{"type":"response.output_text.delta","item_id":"msg_1","output_index":0,"content_index":0,"delta":"Reading the file."}`,
		`{"type":"response.output_item.added","output_index":1,"item":{"type":"function_call","id":"item_1","call_id":"call_1","name":"read_file","arguments":""}}`,
		`{"type":"response.function_call_arguments.delta","item_id":"item_1","output_index":1,"delta":"{\"path\":"}`,
		`{"type":"response.function_call_arguments.delta","item_id":"item_1","output_index":1,"delta":"\"main.go\"}"}`,
		`{"type":"response.output_item.done","output_index":1,"item":{"type":"function_call","id":"item_1","call_id":"call_1","name":"read_file","arguments":"{\"path\":\"main.go\"}"}}`,
		`{"type":"response.completed","response":{"id":"resp_1","status":"completed","usage":{"input_tokens":11,"output_tokens":5}}}`,
	)}

	s := newChunkStream(context.Background(), nil)
	go runOpenAIStream(s, sse)

	chunks, err := drain(t, s)
	require.NoError(t, err)

	wantKinds := []ChunkKind{
		ChunkText, ChunkToolStart,
		ChunkToolDelta, ChunkToolDelta, ChunkToolCall,
		ChunkUsage, ChunkStop,
	}
	gotKinds := make([]ChunkKind, len(chunks))
	for i, c := range chunks {
		gotKinds[i] = c.Kind
	}
	require.Equal(t, wantKinds, gotKinds)

	assert.Equal(t, "Reading the file.", chunks[0].Text)
	// The conversation-visible id is the call id, not the item id.
	assert.Equal(t, "call_1", chunks[1].ToolID)
	assert.Equal(t, `{"path":`, chunks[2].PartialJSON)
	assert.Equal(t, `{"path":"main.go"}`, chunks[3].PartialJSON)
	assert.Equal(t, `{"path":"main.go"}`, string(chunks[4].Input))
	assert.Equal(t, 11, chunks[5].Usage.Input)
	assert.Equal(t, "completed", chunks[6].StopReason)
}

// Both fragment-based vendors must produce the same canonical shape for
// an equivalent exchange; only the usage frame position may differ.
func TestFragmentVendorsAgreeOnShape(t *testing.T) {
	anthropicSrc := &fakeAnthropicSSE{events: anthropicEvents(t,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi"}}`,
		`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"bash","input":{}}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"command\":\"ls\"}"}}`,
		`{"type":"content_block_stop","index":1}`,
		`{"type":"message_stop"}`,
	)}
	openaiSrc := &fakeOpenAISSE{events: openaiEvents(t,
		`{"type":"response.output_text.delta","item_id":"msg_1","output_index":0,"content_index":0,"delta":"hi"}`,
		`{"type":"response.output_item.added","output_index":1,"item":{"type":"function_call","id":"item_1","call_id":"call_1","name":"bash","arguments":""}}`,
		`{"type":"response.function_call_arguments.delta","item_id":"item_1","output_index":1,"delta":"{\"command\":\"ls\"}"}`,
		`{"type":"response.output_item.done","output_index":1,"item":{"type":"function_call","id":"item_1","call_id":"call_1","name":"bash","arguments":"{\"command\":\"ls\"}"}}`,
		`{"type":"response.completed","response":{"id":"resp_1","status":"completed","usage":{"input_tokens":1,"output_tokens":1}}}`,
	)}

	collect := func(run func(*chunkStream)) []Chunk {
		s := newChunkStream(context.Background(), nil)
		go run(s)
		chunks, err := drain(t, s)
		require.NoError(t, err)
		out := chunks[:0]
		for _, c := range chunks {
			if c.Kind == ChunkUsage {
				continue
			}
			out = append(out, c)
		}
		return out
	}

	a := collect(func(s *chunkStream) { runAnthropicStream(s, anthropicSrc) })
	o := collect(func(s *chunkStream) { runOpenAIStream(s, openaiSrc) })

	require.Equal(t, len(a), len(o))
	for i := range a {
		assert.Equal(t, a[i].Kind, o[i].Kind, "chunk %d", i)
		assert.Equal(t, a[i].Text, o[i].Text, "chunk %d", i)
		assert.Equal(t, a[i].ToolName, o[i].ToolName, "chunk %d", i)
		assert.Equal(t, a[i].PartialJSON, o[i].PartialJSON, "chunk %d", i)
		assert.Equal(t, string(a[i].Input), string(o[i].Input), "chunk %d", i)
	}
}

func TestOpenAIStreamFinalizesOpenToolCallAtCompleted(t *testing.T) {
	// No output_item.done for the function call; response.completed must
	// finalize it from the accumulated fragments.
	sse := &fakeOpenAISSE{events: openaiEvents(t,
		`{"type":"response.output_item.added","output_index":0,"item":{"type":"function_call","id":"item_1","call_id":"call_1","name":"bash","arguments":""}}`,
		`{"type":"response.function_call_arguments.delta","item_id":"item_1","output_index":0,"delta":"{\"command\":\"ls\"}"}`,
		`{"type":"response.completed","response":{"id":"resp_1","status":"completed","usage":{"input_tokens":3,"output_tokens":2}}}`,
	)}

	s := newChunkStream(context.Background(), nil)
	go runOpenAIStream(s, sse)

	chunks, err := drain(t, s)
	require.NoError(t, err)

	wantKinds := []ChunkKind{ChunkToolStart, ChunkToolDelta, ChunkUsage, ChunkToolCall, ChunkStop}
	gotKinds := make([]ChunkKind, len(chunks))
	for i, c := range chunks {
		gotKinds[i] = c.Kind
	}
	require.Equal(t, wantKinds, gotKinds)
	assert.Equal(t, "call_1", chunks[3].ToolID)
	assert.Equal(t, `{"command":"ls"}`, string(chunks[3].Input))
}

func TestOpenAIStreamMissingCompletedIsError(t *testing.T) {
	sse := &fakeOpenAISSE{events: openaiEvents(t,
		`{"type":"response.output_text.delta","item_id":"msg_1","output_index":0,"content_index":0,"delta":"hi"}`,
	)}

	s := newChunkStream(context.Background(), nil)
	go runOpenAIStream(s, sse)

	_, err := drain(t, s)
	require.Error(t, err)
	assert.Equal(t, errors.CategoryTemporary, errors.GetCategory(err))
	assert.True(t, errors.IsRetryable(err))
}
