// Package prompt assembles the generation prompt: a task instruction that
// pins the exact output format, plus a window of recent conversation turns.
package prompt

import (
	"fmt"
	"strings"

	"github.com/seralys/lorekeeper/internal/record"
)

// DefaultMaxTurns bounds the conversation window included in the prompt.
const DefaultMaxTurns = 20

// DefaultSystemPrompt is used when settings carry no override.
const DefaultSystemPrompt = "You are a meticulous archivist. You extract structured profiles from conversations and answer with nothing but the requested format."

// instructionTemplate pins the output contract: one tagged block, a fixed
// field count, the exact delimiter. %s slots are the tag pair, the delimiter,
// the field count and the ordered field list.
const instructionTemplate = `Summarize everything known about the subject from the conversation below.

Answer with exactly one %s...%s block and nothing outside it. Inside the block, write %d fields separated by the %s character, in this order:
%s

Leave a field empty if the conversation gives no information for it. Never use the delimiter character inside a field.`

// Turn is one conversation message offered to the builder.
type Turn struct {
	Speaker string
	Text    string
}

// Builder renders the system and user prompts for a profile extraction call.
type Builder struct {
	systemPrompt string
	prefix       string
	maxTurns     int
}

// New builds a prompt builder. systemPrompt and prefix may be empty; maxTurns
// below one falls back to the default window.
func New(systemPrompt, prefix string, maxTurns int) *Builder {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	if maxTurns < 1 {
		maxTurns = DefaultMaxTurns
	}
	return &Builder{systemPrompt: systemPrompt, prefix: prefix, maxTurns: maxTurns}
}

// System returns the system prompt for the call.
func (b *Builder) System() string { return b.systemPrompt }

// Build renders the user prompt from the most recent turns. Older turns
// beyond the window are dropped from the front so the tail of the
// conversation always survives.
func (b *Builder) Build(turns []Turn) string {
	if len(turns) > b.maxTurns {
		turns = turns[len(turns)-b.maxTurns:]
	}

	var sb strings.Builder
	if b.prefix != "" {
		sb.WriteString(b.prefix)
		sb.WriteString("\n\n")
	}
	sb.WriteString(instruction())
	sb.WriteString("\n\nConversation:\n")
	for _, t := range turns {
		speaker := t.Speaker
		if speaker == "" {
			speaker = "unknown"
		}
		sb.WriteString(speaker)
		sb.WriteString(": ")
		sb.WriteString(strings.TrimSpace(t.Text))
		sb.WriteString("\n")
	}
	return sb.String()
}

func instruction() string {
	return fmt.Sprintf(instructionTemplate,
		record.OpenTag, record.CloseTag,
		record.FieldCount, record.FieldDelimiter,
		strings.Join(record.FieldNames[:], ", "))
}
