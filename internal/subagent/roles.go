// Package subagent: role profiles and summary shaping.
package subagent

import (
	"strings"

	"github.com/praxis-ai/praxis/pkg/protocol"
)

const summaryMaxSentences = 4

// SystemPrompt returns the role-specific system prompt for a subagent run.
// Subagents never get the task tool, so delegation cannot nest.
func SystemPrompt(role protocol.SubagentRole) string {
	var sections []string
	sections = append(sections, "Identity:\nYou are a focused subagent working on one delegated task. Be concise and action-oriented.")

	switch role {
	case protocol.RoleSimple:
		sections = append(sections, "Task Profile:\nSmall, well-scoped change. Make the edit, verify it, stop. Do not refactor beyond the task.")
	case protocol.RoleComplex:
		sections = append(sections, "Task Profile:\nMulti-step change. Read the relevant code before editing, work incrementally, and keep the changes consistent with the surrounding style.")
	case protocol.RoleResearcher:
		sections = append(sections, "Task Profile:\nInvestigation only. Read code and fetch references; do not modify files. Report what you found and where.")
	}

	sections = append(sections, "Reporting:\nEnd with a 2-4 sentence summary of what you did and what the caller should know. The summary is the only text merged back into the parent conversation.")
	return strings.Join(sections, "\n\n")
}

// Summarize trims final assistant text to at most four sentences for the
// parent conversation. Full output stays in the run history.
func Summarize(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return "The task completed without a report."
	}

	var (
		sentences []string
		start     int
	)
	for i, r := range text {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		// Sentence ends at punctuation followed by whitespace or EOF.
		if i+1 < len(text) && !isSpace(text[i+1]) {
			continue
		}
		sentences = append(sentences, strings.TrimSpace(text[start:i+1]))
		start = i + 1
		if len(sentences) == summaryMaxSentences {
			return strings.Join(sentences, " ")
		}
	}
	if start < len(text) {
		if rest := strings.TrimSpace(text[start:]); rest != "" {
			sentences = append(sentences, rest)
		}
	}
	return strings.Join(sentences, " ")
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}
