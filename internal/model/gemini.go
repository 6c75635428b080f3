package model

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"iter"
	"net/http"
	"time"

	"google.golang.org/genai"

	"github.com/praxis-ai/praxis/internal/errors"
	"github.com/praxis-ai/praxis/pkg/protocol"
)

// GeminiProvider streams turns from the Gemini API. Gemini is the
// whole-block vendor: tool calls arrive as complete FunctionCall parts
// with fully-decoded arguments, never as fragments. The translation
// still emits the full start/delta/finalize triple so consumers see one
// shape regardless of vendor.
type GeminiProvider struct {
	client *genai.Client
}

// NewGemini builds a provider backed by the official SDK.
func NewGemini(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeProviderUnavailable,
			"gemini: client init failed", errors.CategoryPermanent)
	}
	return &GeminiProvider{client: client}, nil
}

// Name implements Provider.
func (p *GeminiProvider) Name() string { return "gemini" }

// Stream implements Provider.
func (p *GeminiProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	if req.Model == "" {
		return nil, errors.User(errors.CodeConfigInvalid, "gemini: model is required")
	}

	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.MaxOutputTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxOutputTokens)
	}
	if decls := encodeGeminiTools(req.Tools); len(decls) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	contents := encodeGeminiContents(req.History)
	seq := p.client.Models.GenerateContentStream(ctx, req.Model, contents, config)
	s := newChunkStream(ctx, nil)
	go runGeminiStream(s, seq)
	return s, nil
}

func runGeminiStream(s *chunkStream, seq iter.Seq2[*genai.GenerateContentResponse, error]) {
	callSerial := 0
	finishReason := ""

	for resp, err := range seq {
		if err != nil {
			s.finish(classifyGeminiErr(err))
			return
		}
		if resp == nil {
			continue
		}
		if resp.UsageMetadata != nil {
			if err := s.emit(Chunk{Kind: ChunkUsage, Usage: protocol.TokenUsage{
				Input:  int(resp.UsageMetadata.PromptTokenCount),
				Output: int(resp.UsageMetadata.CandidatesTokenCount),
			}}); err != nil {
				s.finish(err)
				return
			}
		}
		if len(resp.Candidates) == 0 {
			continue
		}
		cand := resp.Candidates[0]
		if cand.FinishReason != "" {
			finishReason = string(cand.FinishReason)
		}
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" {
				if err := s.emit(Chunk{Kind: ChunkText, Text: part.Text}); err != nil {
					s.finish(err)
					return
				}
			}
			if part.FunctionCall == nil {
				continue
			}
			callSerial++
			if err := emitGeminiCall(s, part.FunctionCall, callSerial); err != nil {
				s.finish(err)
				return
			}
		}
	}

	if err := s.emit(Chunk{Kind: ChunkStop, StopReason: finishReason}); err != nil {
		s.finish(err)
		return
	}
	s.finish(nil)
}

// emitGeminiCall expands one complete FunctionCall part into the
// canonical start/delta/finalize sequence.
func emitGeminiCall(s *chunkStream, fc *genai.FunctionCall, serial int) error {
	id := fc.ID
	if id == "" {
		id = fmt.Sprintf("gemini_call_%d", serial)
	}
	raw := "{}"
	if len(fc.Args) > 0 {
		if data, err := json.Marshal(fc.Args); err == nil {
			raw = string(data)
		}
	}
	if err := s.emit(Chunk{Kind: ChunkToolStart, ToolID: id, ToolName: fc.Name}); err != nil {
		return err
	}
	if err := s.emit(Chunk{Kind: ChunkToolDelta, ToolID: id, ToolName: fc.Name, PartialJSON: raw}); err != nil {
		return err
	}
	return s.emit(Chunk{
		Kind:     ChunkToolCall,
		ToolID:   id,
		ToolName: fc.Name,
		Input:    decodeToolInput(raw),
	})
}

func classifyGeminiErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr genai.APIError
	if stderrors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests {
			// Gemini carries no usable retry delay on the error; the
			// loop falls back to its own backoff.
			return errors.RateLimit(errors.CodeProviderRateLimit,
				"gemini: rate limited", time.Duration(0))
		}
		if apiErr.Code >= 500 {
			return errors.Wrap(err, errors.CodeProviderUnavailable,
				"gemini: service unavailable", errors.CategoryTemporary)
		}
		return errors.Wrap(err, errors.CodeProviderResponse,
			"gemini: request rejected", errors.CategoryPermanent)
	}
	return errors.Wrap(err, errors.CodeProviderStream,
		"gemini: stream interrupted", errors.CategoryTemporary)
}

// ============================================================
// Request Encoding
// ============================================================

func encodeGeminiTools(defs []protocol.ToolDefinition) []*genai.FunctionDeclaration {
	if len(defs) == 0 {
		return nil
	}
	out := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, def := range defs {
		out = append(out, &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			ParametersJsonSchema: map[string]any{
				"type":       "object",
				"properties": def.Parameters.Properties,
				"required":   def.Parameters.Required,
			},
		})
	}
	return out
}

func encodeGeminiContents(history []protocol.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(history))
	// Function responses must echo the function name, which only the
	// earlier tool_use block knows.
	callNames := make(map[string]string)

	for _, msg := range history {
		role := genai.RoleUser
		if msg.Role == protocol.RoleAssistant {
			role = genai.RoleModel
		}
		parts := make([]*genai.Part, 0, len(msg.Blocks)+1)
		if msg.Content != "" {
			parts = append(parts, genai.NewPartFromText(msg.Content))
		}
		for _, b := range msg.Blocks {
			switch b.Type {
			case protocol.BlockText:
				if b.Text != "" {
					parts = append(parts, genai.NewPartFromText(b.Text))
				}
			case protocol.BlockToolUse:
				callNames[b.ID] = b.Name
				var args map[string]any
				_ = json.Unmarshal(b.Input, &args)
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   b.ID,
					Name: b.Name,
					Args: args,
				}})
			case protocol.BlockToolResult:
				parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					ID:       b.ToolUseID,
					Name:     callNames[b.ToolUseID],
					Response: map[string]any{"output": b.Content},
				}})
			}
		}
		if len(parts) == 0 {
			continue
		}
		out = append(out, &genai.Content{Role: role, Parts: parts})
	}
	return out
}
