package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultTemplateCreator is recorded when a template is saved without an author.
const DefaultTemplateCreator = "user"

// Template is a reusable named prompt. Names are not unique.
type Template struct {
	ID        uuid.UUID `json:"id" yaml:"-"`
	Name      string    `json:"name" yaml:"name"`
	Prompt    string    `json:"prompt" yaml:"prompt"`
	Tags      []string  `json:"tags" yaml:"tags"`
	Animated  bool      `json:"animated" yaml:"animated"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
	CreatedBy string    `json:"created_by" yaml:"created_by"`
}

// TemplateUpdate lists the fields to merge into an existing Template.
type TemplateUpdate struct {
	Name     *string   `json:"name,omitempty"`
	Prompt   *string   `json:"prompt,omitempty"`
	Tags     *[]string `json:"tags,omitempty"`
	Animated *bool     `json:"animated,omitempty"`
}

// IsEmpty reports whether the update sets no fields.
func (u TemplateUpdate) IsEmpty() bool {
	return u.Name == nil && u.Prompt == nil && u.Tags == nil && u.Animated == nil
}
