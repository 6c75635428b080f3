package model

import (
	"context"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/praxis-ai/praxis/pkg/protocol"
)

func geminiSeq(resps []*genai.GenerateContentResponse, err error) iter.Seq2[*genai.GenerateContentResponse, error] {
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for _, r := range resps {
			if !yield(r, nil) {
				return
			}
		}
		if err != nil {
			yield(nil, err)
		}
	}
}

func TestGeminiStreamExpandsWholeCallIntoTriple(t *testing.T) {
	resps := []*genai.GenerateContentResponse{
		{
			Candidates: []*genai.Candidate{{
				Content: &genai.Content{
					Role:  genai.RoleModel,
					Parts: []*genai.Part{{Text: "Listing files."}},
				},
			}},
			UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
				PromptTokenCount:     9,
				CandidatesTokenCount: 2,
			},
		},
		{
			Candidates: []*genai.Candidate{{
				Content: &genai.Content{
					Role: genai.RoleModel,
					Parts: []*genai.Part{{
						FunctionCall: &genai.FunctionCall{
							Name: "bash",
							Args: map[string]any{"command": "ls"},
						},
					}},
				},
				FinishReason: genai.FinishReasonStop,
			}},
			UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
				PromptTokenCount:     9,
				CandidatesTokenCount: 14,
			},
		},
	}

	s := newChunkStream(context.Background(), nil)
	go runGeminiStream(s, geminiSeq(resps, nil))

	chunks, err := drain(t, s)
	require.NoError(t, err)

	wantKinds := []ChunkKind{
		ChunkUsage, ChunkText,
		ChunkUsage, ChunkToolStart, ChunkToolDelta, ChunkToolCall,
		ChunkStop,
	}
	gotKinds := make([]ChunkKind, len(chunks))
	for i, c := range chunks {
		gotKinds[i] = c.Kind
	}
	require.Equal(t, wantKinds, gotKinds)

	// No vendor id on the wire, so the provider synthesizes one.
	assert.Equal(t, "gemini_call_1", chunks[3].ToolID)
	assert.Equal(t, "bash", chunks[3].ToolName)

	// The single delta already carries the whole input.
	assert.Equal(t, `{"command":"ls"}`, chunks[4].PartialJSON)
	assert.Equal(t, `{"command":"ls"}`, string(chunks[5].Input))

	// Later usage frames supersede earlier ones.
	assert.Equal(t, 14, chunks[2].Usage.Output)
	assert.Equal(t, string(genai.FinishReasonStop), chunks[6].StopReason)
}

func TestGeminiStreamArgumentlessCall(t *testing.T) {
	resps := []*genai.GenerateContentResponse{{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{FunctionCall: &genai.FunctionCall{Name: "task"}}},
			},
		}},
	}}

	s := newChunkStream(context.Background(), nil)
	go runGeminiStream(s, geminiSeq(resps, nil))

	chunks, err := drain(t, s)
	require.NoError(t, err)
	require.Len(t, chunks, 4)
	assert.Equal(t, "{}", chunks[1].PartialJSON)
	assert.Equal(t, "{}", string(chunks[2].Input))
}

func TestGeminiStreamMidStreamErrorStopsDelivery(t *testing.T) {
	resps := []*genai.GenerateContentResponse{{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{Text: "partial"}},
			},
		}},
	}}

	s := newChunkStream(context.Background(), nil)
	go runGeminiStream(s, geminiSeq(resps, assert.AnError))

	chunks, err := drain(t, s)
	require.Error(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "partial", chunks[0].Text)
}

func TestEncodeGeminiContentsPairsFunctionResponse(t *testing.T) {
	history := []protocol.Message{
		protocol.TextMessage(protocol.RoleUser, "list files"),
		{Role: protocol.RoleAssistant, Blocks: []protocol.ContentBlock{
			protocol.ToolUseBlock("call_1", "bash", []byte(`{"command":"ls"}`)),
		}},
		{Role: protocol.RoleTool, Blocks: []protocol.ContentBlock{
			protocol.ToolResultBlock("call_1", "a.go\nb.go", false),
		}},
	}

	contents := encodeGeminiContents(history)
	require.Len(t, contents, 3)

	assert.Equal(t, genai.RoleUser, contents[0].Role)
	assert.Equal(t, genai.RoleModel, contents[1].Role)
	require.NotNil(t, contents[1].Parts[0].FunctionCall)

	fr := contents[2].Parts[0].FunctionResponse
	require.NotNil(t, fr)
	assert.Equal(t, "call_1", fr.ID)
	// The response echoes the name recorded from the earlier call.
	assert.Equal(t, "bash", fr.Name)
}
