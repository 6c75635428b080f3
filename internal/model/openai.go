package model

import (
	"context"
	stderrors "errors"
	"net/http"

	openai "github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"
	oresponses "github.com/openai/openai-go/responses"
	oshared "github.com/openai/openai-go/shared"

	"github.com/praxis-ai/praxis/internal/errors"
	"github.com/praxis-ai/praxis/pkg/protocol"
)

// OpenAIProvider streams turns from the OpenAI Responses API. OpenAI is
// the item-scoped vendor: tool calls are output items addressed by item
// id, with argument fragments delivered per item.
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAI builds a provider backed by the official SDK.
func NewOpenAI(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{
		client: openai.NewClient(ooption.WithAPIKey(apiKey)),
	}
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return "openai" }

// Stream implements Provider.
func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	if req.Model == "" {
		return nil, errors.User(errors.CodeConfigInvalid, "openai: model is required")
	}

	params := oresponses.ResponseNewParams{
		Model: oshared.ResponsesModel(req.Model),
		Input: oresponses.ResponseNewParamsInputUnion{
			OfInputItemList: encodeOpenAIInput(req.History),
		},
	}
	if req.MaxOutputTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(req.MaxOutputTokens))
	}
	if req.System != "" {
		params.Instructions = openai.String(req.System)
	}
	if tools := encodeOpenAITools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}

	sse := p.client.Responses.NewStreaming(ctx, params)
	s := newChunkStream(ctx, sse.Close)
	go runOpenAIStream(s, sse)
	return s, nil
}

// openaiSSE is the vendor stream surface the translation loop reads.
// Satisfied by *ssestream.Stream[responses.ResponseStreamEventUnion].
type openaiSSE interface {
	Next() bool
	Current() oresponses.ResponseStreamEventUnion
	Err() error
	Close() error
}

func runOpenAIStream(s *chunkStream, sse openaiSSE) {
	defer func() { _ = sse.Close() }()

	// The wire addresses argument deltas by output item id while the
	// conversation references the call id, so records are keyed by item
	// id and carry the call id.
	arena := newToolCallArena()
	sawCompleted := false
	stopReason := ""

	for sse.Next() {
		event := sse.Current()
		switch event.Type {
		case "response.output_text.delta":
			delta := event.Delta.OfString
			if delta == "" {
				continue
			}
			if err := s.emit(Chunk{Kind: ChunkText, Text: delta}); err != nil {
				s.finish(err)
				return
			}

		case "response.output_item.added":
			item := event.Item
			if item.Type != "function_call" {
				continue
			}
			callID := item.CallID
			if callID == "" {
				callID = item.ID
			}
			arena.start(item.ID, callID, item.Name)
			if err := s.emit(Chunk{Kind: ChunkToolStart, ToolID: callID, ToolName: item.Name}); err != nil {
				s.finish(err)
				return
			}
			if item.Arguments != "" {
				arena.replace(item.ID, item.Arguments)
			}

		case "response.function_call_arguments.delta":
			delta := event.Delta.OfString
			if delta == "" {
				continue
			}
			cumulative, ok := arena.appendDelta(event.ItemID, delta)
			if !ok {
				continue
			}
			rec := arena.lookup(event.ItemID)
			if err := s.emit(Chunk{
				Kind:        ChunkToolDelta,
				ToolID:      rec.id,
				ToolName:    rec.name,
				PartialJSON: cumulative,
			}); err != nil {
				s.finish(err)
				return
			}

		case "response.output_item.done":
			item := event.Item
			if item.Type != "function_call" {
				continue
			}
			// The done frame carries the complete arguments; it is
			// authoritative over whatever fragments accumulated.
			if item.Arguments != "" {
				arena.replace(item.ID, item.Arguments)
			}
			rec := arena.finish(item.ID)
			if rec == nil {
				continue
			}
			if item.CallID != "" {
				rec.id = item.CallID
			}
			if item.Name != "" {
				rec.name = item.Name
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

		case "response.completed":
			sawCompleted = true
			stopReason = string(event.Response.Status)
			if err := s.emit(Chunk{Kind: ChunkUsage, Usage: protocol.TokenUsage{
				Input:  int(event.Response.Usage.InputTokens),
				Output: int(event.Response.Usage.OutputTokens),
			}}); err != nil {
				s.finish(err)
				return
			}
		}
	}

	if err := sse.Err(); err != nil {
		s.finish(classifyOpenAIErr(err))
		return
	}
	if !sawCompleted {
		s.finish(errors.Temporary(errors.CodeProviderStream,
			"openai: stream ended without a completed frame"))
		return
	}
	// A completed response implicitly finalizes any function call that
	// never got its output_item.done.
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
	s.finish(nil)
}

func classifyOpenAIErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.Error
	if stderrors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			return errors.RateLimit(errors.CodeProviderRateLimit,
				"openai: rate limited", retryAfterHeader(apiErr.Response))
		}
		if apiErr.StatusCode >= 500 {
			return errors.Wrap(err, errors.CodeProviderUnavailable,
				"openai: service unavailable", errors.CategoryTemporary)
		}
		return errors.Wrap(err, errors.CodeProviderResponse,
			"openai: request rejected", errors.CategoryPermanent)
	}
	return errors.Wrap(err, errors.CodeProviderStream,
		"openai: stream interrupted", errors.CategoryTemporary)
}

// ============================================================
// Request Encoding
// ============================================================

func encodeOpenAITools(defs []protocol.ToolDefinition) []oresponses.ToolUnionParam {
	if len(defs) == 0 {
		return nil
	}
	out := make([]oresponses.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		schema := map[string]any{
			"type":       "object",
			"properties": def.Parameters.Properties,
		}
		if len(def.Parameters.Required) > 0 {
			schema["required"] = def.Parameters.Required
		}
		u := oresponses.ToolParamOfFunction(def.Name, schema, false)
		if u.OfFunction != nil && def.Description != "" {
			u.OfFunction.Description = openai.String(def.Description)
		}
		out = append(out, u)
	}
	return out
}

func encodeOpenAIInput(history []protocol.Message) oresponses.ResponseInputParam {
	items := make(oresponses.ResponseInputParam, 0, len(history))
	for _, msg := range history {
		role := oresponses.EasyInputMessageRoleUser
		if msg.Role == protocol.RoleAssistant {
			role = oresponses.EasyInputMessageRoleAssistant
		}
		if msg.Content != "" {
			items = append(items, oresponses.ResponseInputItemParamOfMessage(msg.Content, role))
		}
		for _, b := range msg.Blocks {
			switch b.Type {
			case protocol.BlockText:
				if b.Text != "" {
					items = append(items, oresponses.ResponseInputItemParamOfMessage(b.Text, role))
				}
			case protocol.BlockToolUse:
				args := string(b.Input)
				if args == "" {
					args = "{}"
				}
				items = append(items, oresponses.ResponseInputItemParamOfFunctionCall(args, b.ID, b.Name))
			case protocol.BlockToolResult:
				items = append(items, oresponses.ResponseInputItemParamOfFunctionCallOutput(b.ToolUseID, b.Content))
			}
		}
	}
	return items
}
