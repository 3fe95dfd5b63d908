package models

import (
	"time"

	"github.com/google/uuid"
)

// Model types
const (
	ModelTypeBase       = "base"
	ModelTypeConsortium = "consortium"
)

// Model is a registered language model. Name is the logical key: registering
// an existing name replaces the row's attributes but keeps its id.
type Model struct {
	ID               uuid.UUID      `json:"id"`
	Name             string         `json:"name"`
	Type             string         `json:"type"`
	ConsortiumConfig map[string]any `json:"consortium_config"`
	IsActive         bool           `json:"is_active"`
	CreatedAt        time.Time      `json:"created_at"`
}

// IsConsortium reports whether the model is an ensemble of other models.
func (m *Model) IsConsortium() bool {
	return m.Type == ModelTypeConsortium
}

// IsValidModelType reports whether t is a known model type.
func IsValidModelType(t string) bool {
	return t == ModelTypeBase || t == ModelTypeConsortium
}
