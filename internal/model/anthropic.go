package model

import (
	"context"
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/praxis-ai/praxis/internal/errors"
	"github.com/praxis-ai/praxis/pkg/protocol"
)

const anthropicDefaultMaxTokens = 8192

// AnthropicProvider streams turns from the Anthropic Messages API.
// Anthropic is the incremental-fragment vendor: tool input arrives as
// partial JSON fragments scoped to a content block index.
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropic builds a provider backed by the official SDK.
func NewAnthropic(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{
		client: anthropic.NewClient(aoption.WithAPIKey(apiKey)),
	}
}

// Name implements Provider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Stream implements Provider.
func (p *AnthropicProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	if req.Model == "" {
		return nil, errors.User(errors.CodeConfigInvalid, "anthropic: model is required")
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: anthropicDefaultMaxTokens,
		Messages:  encodeAnthropicMessages(req.History),
		Tools:     encodeAnthropicTools(req.Tools),
	}
	if req.MaxOutputTokens > 0 {
		params.MaxTokens = int64(req.MaxOutputTokens)
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	sse := p.client.Messages.NewStreaming(ctx, params)
	s := newChunkStream(ctx, sse.Close)
	go runAnthropicStream(s, sse)
	return s, nil
}

// anthropicSSE is the vendor stream surface the translation loop reads.
// Satisfied by *ssestream.Stream[anthropic.MessageStreamEventUnion].
type anthropicSSE interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
	Close() error
}

func runAnthropicStream(s *chunkStream, sse anthropicSSE) {
	defer func() { _ = sse.Close() }()

	arena := newToolCallArena()
	stopReason := ""

	for sse.Next() {
		event := sse.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.MessageStartEvent:
			if err := s.emit(Chunk{Kind: ChunkUsage, Usage: protocol.TokenUsage{
				Input:  int(ev.Message.Usage.InputTokens),
				Output: int(ev.Message.Usage.OutputTokens),
			}}); err != nil {
				s.finish(err)
				return
			}

		case anthropic.ContentBlockStartEvent:
			block, ok := ev.ContentBlock.AsAny().(anthropic.ToolUseBlock)
			if !ok {
				continue
			}
			key := strconv.FormatInt(ev.Index, 10)
			arena.start(key, block.ID, block.Name)
			if err := s.emit(Chunk{Kind: ChunkToolStart, ToolID: block.ID, ToolName: block.Name}); err != nil {
				s.finish(err)
				return
			}

		case anthropic.ContentBlockDeltaEvent:
			key := strconv.FormatInt(ev.Index, 10)
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text == "" {
					continue
				}
				if err := s.emit(Chunk{Kind: ChunkText, Text: delta.Text}); err != nil {
					s.finish(err)
					return
				}
			case anthropic.InputJSONDelta:
				if delta.PartialJSON == "" {
					continue
				}
				cumulative, ok := arena.appendDelta(key, delta.PartialJSON)
				if !ok {
					continue
				}
				rec := arena.lookup(key)
				if err := s.emit(Chunk{
					Kind:        ChunkToolDelta,
					ToolID:      rec.id,
					ToolName:    rec.name,
					PartialJSON: cumulative,
				}); err != nil {
					s.finish(err)
					return
				}
			}

		case anthropic.ContentBlockStopEvent:
			key := strconv.FormatInt(ev.Index, 10)
			rec := arena.finish(key)
			if rec == nil {
				continue
			}
			if err := s.emit(Chunk{
				Kind:     ChunkToolCall,
				ToolID:   rec.id,
				ToolName: rec.name,
				Input:    decodeToolInput(rec.buf.String()),
			}); err != nil {
				s.finish(err)
				return
			}

		case anthropic.MessageDeltaEvent:
			stopReason = string(ev.Delta.StopReason)
			// The message_delta usage frame is the vendor's final word
			// and supersedes the message_start counts.
			if err := s.emit(Chunk{Kind: ChunkUsage, Usage: protocol.TokenUsage{
				Input:  int(ev.Usage.InputTokens),
				Output: int(ev.Usage.OutputTokens),
			}}); err != nil {
				s.finish(err)
				return
			}

		case anthropic.MessageStopEvent:
			// message_stop implicitly finalizes any tool block that never
			// got its content_block_stop.
			for _, rec := range arena.drain() {
				if err := s.emit(Chunk{
					Kind:     ChunkToolCall,
					ToolID:   rec.id,
					ToolName: rec.name,
					Input:    decodeToolInput(rec.buf.String()),
				}); err != nil {
					s.finish(err)
					return
				}
			}
			if err := s.emit(Chunk{Kind: ChunkStop, StopReason: stopReason}); err != nil {
				s.finish(err)
				return
			}
		}
	}

	s.finish(classifyAnthropicErr(sse.Err()))
}

// classifyAnthropicErr maps vendor transport errors onto the app error
// taxonomy. Rate limits are surfaced, not retried here; the agent loop
// owns the retry budget.
func classifyAnthropicErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *anthropic.Error
	if stderrors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			return errors.RateLimit(errors.CodeProviderRateLimit,
				"anthropic: rate limited", retryAfterHeader(apiErr.Response))
		}
		if apiErr.StatusCode >= 500 {
			return errors.Wrap(err, errors.CodeProviderUnavailable,
				"anthropic: service unavailable", errors.CategoryTemporary)
		}
		return errors.Wrap(err, errors.CodeProviderResponse,
			"anthropic: request rejected", errors.CategoryPermanent)
	}
	return errors.Wrap(err, errors.CodeProviderStream,
		"anthropic: stream interrupted", errors.CategoryTemporary)
}

// retryAfterHeader parses the Retry-After response header as seconds.
func retryAfterHeader(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// ============================================================
// Request Encoding
// ============================================================

func encodeAnthropicTools(defs []protocol.ToolDefinition) []anthropic.ToolUnionParam {
	if len(defs) == 0 {
		return nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		schema := anthropic.ToolInputSchemaParam{
			Properties: def.Parameters.Properties,
			Required:   def.Parameters.Required,
		}
		u := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if u.OfTool != nil && def.Description != "" {
			u.OfTool.Description = anthropic.String(def.Description)
		}
		out = append(out, u)
	}
	return out
}

func encodeAnthropicMessages(history []protocol.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(history))
	for _, msg := range history {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Blocks)+1)
		if msg.Content != "" {
			blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
		}
		for _, b := range msg.Blocks {
			switch b.Type {
			case protocol.BlockText:
				if b.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(b.Text))
				}
			case protocol.BlockToolUse:
				blocks = append(blocks, anthropic.NewToolUseBlock(b.ID, b.Input, b.Name))
			case protocol.BlockToolResult:
				blocks = append(blocks, anthropic.NewToolResultBlock(b.ToolUseID, b.Content, b.IsError))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		// Tool results travel in user-role messages on this wire.
		if msg.Role == protocol.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}
