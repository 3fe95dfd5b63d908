package models

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Generation is the persisted record of one model invocation's output.
// Immutable once written.
type Generation struct {
	ID               uuid.UUID      `json:"id"`
	ExperimentID     uuid.UUID      `json:"experiment_id"`
	PromptID         uuid.UUID      `json:"prompt_id"`
	ModelID          uuid.UUID      `json:"model_id"`
	ConversationID   *string        `json:"conversation_id,omitempty"`
	StepNumber       int            `json:"step_number"`
	Output           string         `json:"output"`
	SVGContent       *string        `json:"svg_content,omitempty"`
	GenerationTimeMs *int64         `json:"generation_time_ms,omitempty"`
	Metadata         map[string]any `json:"metadata"`
	CreatedAt        time.Time      `json:"created_at"`
}

// GenerationView is a Generation enriched with its prompt and model for display.
// It is a read view, never stored.
type GenerationView struct {
	Generation
	PromptContent string `json:"prompt_content"`
	PromptType    string `json:"prompt_type"`
	ModelName     string `json:"model_name"`
}

var svgPattern = regexp.MustCompile(`(?is)<svg[\s>].*?</svg>`)

// ExtractSVG returns the first complete <svg>...</svg> element in output, if any.
func ExtractSVG(output string) *string {
	match := svgPattern.FindString(output)
	if match == "" {
		return nil
	}
	return &match
}
