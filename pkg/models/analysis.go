package models

import (
	"time"

	"github.com/google/uuid"
)

// AnalysisResult is derived data computed over an experiment. Append-only.
type AnalysisResult struct {
	ID           uuid.UUID      `json:"id"`
	ExperimentID uuid.UUID      `json:"experiment_id"`
	AnalysisType string         `json:"analysis_type"`
	Results      map[string]any `json:"results"`
	CreatedAt    time.Time      `json:"created_at"`
}

// ExperimentExport is the closure of an experiment's data, for backup or reporting.
type ExperimentExport struct {
	Experiment  *Experiment       `json:"experiment"`
	Prompts     []*Prompt         `json:"prompts"`
	Generations []*GenerationView `json:"generations"`
	Rankings    []*RankingView    `json:"rankings"`
	Analysis    []*AnalysisResult `json:"analysis"`
	ExportedAt  time.Time         `json:"exported_at"`
}

// LegacyStoragePrefix marks experiment keys in the browser local-storage dump
// written by the pre-database version of the app.
const LegacyStoragePrefix = "vibelab_"

// LegacyExport is a browser local-storage dump: keys are LegacyStoragePrefix
// plus the experiment name. Other keys are ignored on import.
type LegacyExport map[string]LegacyExperiment

type LegacyExperiment struct {
	Config  map[string]any `json:"config"`
	Results []LegacyResult `json:"results"`
}

type LegacyResult struct {
	Prompt    string `json:"prompt"`
	Technique string `json:"technique"`
	Model     string `json:"model"`
	Result    string `json:"result"`
}

// ImportResult summarizes a legacy import.
type ImportResult struct {
	ExperimentIDs    []uuid.UUID `json:"experiment_ids"`
	Prompts          int         `json:"prompts"`
	Generations      int         `json:"generations"`
	ModelsRegistered int         `json:"models_registered"`
}
