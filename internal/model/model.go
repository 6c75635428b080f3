// Package model normalizes vendor streaming APIs into a single canonical
// chunk stream. Each supported vendor (Anthropic, OpenAI, Gemini) speaks a
// different wire dialect for incremental text, tool calls, and usage; the
// providers in this package translate all of them into the same Chunk
// sequence so the agent loop never sees vendor shapes.
package model

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/praxis-ai/praxis/pkg/protocol"
)

// ============================================================
// Requests
// ============================================================

// Request describes one provider round: the full conversation so far plus
// the tool surface the model may call.
type Request struct {
	Model           string
	System          string
	History         []protocol.Message
	Tools           []protocol.ToolDefinition
	MaxOutputTokens int
}

// ============================================================
// Canonical Chunks
// ============================================================

// ChunkKind identifies a canonical stream chunk variant.
type ChunkKind string

const (
	// ChunkText carries an incremental piece of assistant text.
	ChunkText ChunkKind = "text"

	// ChunkToolStart announces a tool call: id and name are known, input
	// is still streaming.
	ChunkToolStart ChunkKind = "tool_start"

	// ChunkToolDelta carries the tool input JSON accumulated so far. The
	// payload is cumulative: each delta replaces the previous one.
	ChunkToolDelta ChunkKind = "tool_delta"

	// ChunkToolCall finalizes a tool call with its complete input.
	ChunkToolCall ChunkKind = "tool_call"

	// ChunkUsage reports token usage. Later usage chunks supersede
	// earlier ones within the same round.
	ChunkUsage ChunkKind = "usage"

	// ChunkStop marks the end of the assistant turn.
	ChunkStop ChunkKind = "stop"
)

// Chunk is one canonical streaming event. Which fields are set depends on
// Kind.
type Chunk struct {
	Kind ChunkKind

	// ChunkText
	Text string

	// Tool call chunks
	ToolID   string
	ToolName string

	// ChunkToolDelta: cumulative raw JSON of the input so far.
	PartialJSON string

	// ChunkToolCall: complete decoded input. Never nil; malformed or
	// empty vendor payloads decode to an empty object.
	Input json.RawMessage

	// ChunkUsage
	Usage protocol.TokenUsage

	// ChunkStop
	StopReason string
}

// ============================================================
// Streams and Providers
// ============================================================

// Stream delivers canonical chunks for one provider round. Recv blocks
// until a chunk is available and returns io.EOF after the final chunk.
// Close releases the underlying vendor stream; it is safe to call more
// than once.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Provider streams assistant turns from one model vendor.
type Provider interface {
	// Name returns the vendor identifier ("anthropic", "openai", "gemini").
	Name() string

	// Stream opens a streaming round. The returned Stream must be
	// consumed until io.EOF or closed.
	Stream(ctx context.Context, req Request) (Stream, error)
}

// ============================================================
// Channel-backed Stream
// ============================================================

// chunkStream adapts a producer goroutine to the Stream interface. The
// channel is unbuffered so at most one chunk is pending: the producer
// blocks until the consumer takes the previous chunk, which propagates
// consumer backpressure into the vendor read loop.
type chunkStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	chunks chan Chunk
	closer func() error

	errMu  sync.Mutex
	errSet bool
	final  error
}

func newChunkStream(ctx context.Context, closer func() error) *chunkStream {
	cctx, cancel := context.WithCancel(ctx)
	return &chunkStream{
		ctx:    cctx,
		cancel: cancel,
		chunks: make(chan Chunk),
		closer: closer,
	}
}

// Recv returns the next chunk, io.EOF after the stream finished cleanly,
// or the stream's terminal error.
func (s *chunkStream) Recv() (Chunk, error) {
	select {
	case chunk, ok := <-s.chunks:
		if ok {
			return chunk, nil
		}
		if err := s.err(); err != nil {
			return Chunk{}, err
		}
		return Chunk{}, io.EOF
	case <-s.ctx.Done():
		err := s.ctx.Err()
		s.setErr(err)
		return Chunk{}, err
	}
}

// Close cancels the producer and releases the vendor stream.
func (s *chunkStream) Close() error {
	s.cancel()
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// emit hands one chunk to the consumer. Returns the context error if the
// consumer went away.
func (s *chunkStream) emit(chunk Chunk) error {
	select {
	case s.chunks <- chunk:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// finish records the terminal error (nil for clean end) and closes the
// chunk channel. Must be called exactly once by the producer.
func (s *chunkStream) finish(err error) {
	s.setErr(err)
	close(s.chunks)
}

func (s *chunkStream) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errSet {
		return
	}
	s.errSet = true
	s.final = err
}

func (s *chunkStream) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.final
}
