package model

import (
	"encoding/json"
	"sort"
	"strings"
)

// ============================================================
// Tool Call Arena
// ============================================================

// toolCallArena tracks in-flight tool call blocks during one provider
// round. Records are keyed by the vendor's block identity (Anthropic
// content-block index, OpenAI output item id, synthetic for Gemini) so
// interleaved deltas for different calls never mix.
type toolCallArena struct {
	records map[string]*toolRecord
}

// toolRecord accumulates the streamed input JSON for one tool call.
type toolRecord struct {
	id   string
	name string
	buf  strings.Builder
	done bool
}

func newToolCallArena() *toolCallArena {
	return &toolCallArena{records: make(map[string]*toolRecord)}
}

// start registers a new record for key. If a record already exists it is
// returned unchanged so duplicate start frames are harmless.
func (a *toolCallArena) start(key, id, name string) *toolRecord {
	if rec, ok := a.records[key]; ok {
		if rec.id == "" {
			rec.id = id
		}
		if rec.name == "" {
			rec.name = name
		}
		return rec
	}
	rec := &toolRecord{id: id, name: name}
	a.records[key] = rec
	return rec
}

// lookup returns the record for key, or nil when the vendor sent a delta
// for a block that was never started.
func (a *toolCallArena) lookup(key string) *toolRecord {
	return a.records[key]
}

// appendDelta adds a fragment to the record's input buffer and returns the
// cumulative JSON so far. Returns false when key is unknown.
func (a *toolCallArena) appendDelta(key, fragment string) (string, bool) {
	rec := a.records[key]
	if rec == nil || rec.done {
		return "", false
	}
	rec.buf.WriteString(fragment)
	return rec.buf.String(), true
}

// replace substitutes the accumulated buffer with the vendor's complete
// arguments payload. Some vendors resend the whole input in their terminal
// frame; that copy is authoritative.
func (a *toolCallArena) replace(key, raw string) {
	rec := a.records[key]
	if rec == nil || rec.done {
		return
	}
	rec.buf.Reset()
	rec.buf.WriteString(raw)
}

// finish seals the record and returns it, or nil when key is unknown or
// already finished.
func (a *toolCallArena) finish(key string) *toolRecord {
	rec := a.records[key]
	if rec == nil || rec.done {
		return nil
	}
	rec.done = true
	return rec
}

// drain seals and returns every record that never saw its terminal frame,
// in key order. The vendor's end-of-turn frame implicitly finalizes any
// calls still in flight; whatever input accumulated so far is their input.
func (a *toolCallArena) drain() []*toolRecord {
	var keys []string
	for key, rec := range a.records {
		if !rec.done {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	out := make([]*toolRecord, 0, len(keys))
	for _, key := range keys {
		rec := a.records[key]
		rec.done = true
		out = append(out, rec)
	}
	return out
}

// decodeToolInput turns accumulated raw JSON into the finalized tool
// input. Empty or malformed payloads decode to an empty object so a
// confused model never crashes dispatch; the tool surfaces its own
// validation error instead.
func decodeToolInput(raw string) json.RawMessage {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || !json.Valid([]byte(trimmed)) {
		return json.RawMessage("{}")
	}
	return json.RawMessage(trimmed)
}
