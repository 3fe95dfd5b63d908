package models

import (
	"time"

	"github.com/google/uuid"
)

// Experiment status values
const (
	ExperimentStatusActive    = "active"
	ExperimentStatusCompleted = "completed"
	ExperimentStatusArchived  = "archived"
)

// Experiment is a named research run grouping prompts, generations and rankings.
// Stored in experiments table.
type Experiment struct {
	ID          uuid.UUID      `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Config      map[string]any `json:"config"`
	Status      string         `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ExperimentUpdate lists the mutable fields of an Experiment.
// Nil fields are left untouched.
type ExperimentUpdate struct {
	Name        *string         `json:"name,omitempty"`
	Description *string         `json:"description,omitempty"`
	Status      *string         `json:"status,omitempty"`
	Config      *map[string]any `json:"config,omitempty"`
}

// IsEmpty reports whether the update sets no fields.
func (u ExperimentUpdate) IsEmpty() bool {
	return u.Name == nil && u.Description == nil && u.Status == nil && u.Config == nil
}

// ExperimentDetail is an experiment together with its enriched generations.
type ExperimentDetail struct {
	Experiment  *Experiment       `json:"experiment"`
	Generations []*GenerationView `json:"generations"`
}
