package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultPromptType is used when no technique label is given.
const DefaultPromptType = "base"

// Prompt is one literal text instance submitted to a model, labelled with a technique.
// Prompts are append-only.
type Prompt struct {
	ID             uuid.UUID  `json:"id"`
	ExperimentID   uuid.UUID  `json:"experiment_id"`
	Type           string     `json:"type"`
	Content        string     `json:"content"`
	ParentPromptID *uuid.UUID `json:"parent_prompt_id,omitempty"`
	ModifierUsed   *string    `json:"modifier_used,omitempty"`
	Tags           []string   `json:"tags"`
	CreatedAt      time.Time  `json:"created_at"`
}

// NormalizePromptType lower-cases and trims a technique label and collapses
// runs of whitespace, hyphens and underscores into a single underscore.
// Empty labels become DefaultPromptType.
func NormalizePromptType(promptType string) string {
	s := strings.ToLower(strings.TrimSpace(promptType))
	if s == "" {
		return DefaultPromptType
	}

	var b strings.Builder
	b.Grow(len(s))
	pendingSep := false
	for _, r := range s {
		if r == '-' || r == '_' || r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			pendingSep = true
			continue
		}
		if pendingSep && b.Len() > 0 {
			b.WriteByte('_')
		}
		pendingSep = false
		b.WriteRune(r)
	}

	if b.Len() == 0 {
		return DefaultPromptType
	}
	return b.String()
}
