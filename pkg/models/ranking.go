package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// DefaultEvaluatorID identifies a human evaluator.
const DefaultEvaluatorID = "human"

// Batch submission outcomes
const (
	BatchStatusSuccess = "success"
	BatchStatusPartial = "partial"
	BatchStatusFailed  = "failed"
)

// Ranking is an ordinal judgment of one generation relative to its siblings
// for the same prompt. Rank 1 is best. Immutable once written.
type Ranking struct {
	ID           uuid.UUID `json:"id"`
	ExperimentID uuid.UUID `json:"experiment_id"`
	PromptID     uuid.UUID `json:"prompt_id"`
	GenerationID uuid.UUID `json:"generation_id"`
	Rank         int       `json:"rank"`
	QualityScore *float64  `json:"quality_score,omitempty"`
	EvaluatorID  string    `json:"evaluator_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// RankingView is a Ranking enriched with the ranked output, its prompt and model.
type RankingView struct {
	Ranking
	Output        string `json:"output"`
	PromptContent string `json:"prompt_content"`
	PromptType    string `json:"prompt_type"`
	ModelName     string `json:"model_name"`
}

// RankingEntry is one element of a batch submission.
type RankingEntry struct {
	PromptID     uuid.UUID `json:"prompt_id"`
	GenerationID uuid.UUID `json:"generation_id"`
	Rank         int       `json:"rank"`
	QualityScore *float64  `json:"quality_score,omitempty"`
	EvaluatorID  string    `json:"evaluator_id,omitempty"`
}

// BatchRankingError describes why one batch entry was not written.
type BatchRankingError struct {
	Index        int       `json:"index"`
	GenerationID uuid.UUID `json:"generation_id"`
	Kind         string    `json:"kind"`
	Message      string    `json:"message"`
}

// BatchRankingResult reports the outcome of a batch submission.
type BatchRankingResult struct {
	CreatedIDs []uuid.UUID         `json:"created_ids"`
	Errors     []BatchRankingError `json:"errors"`
	Status     string              `json:"status"`
}

// BatchStatus derives the overall outcome from created and failed counts.
func BatchStatus(created, failed int) string {
	switch {
	case failed == 0:
		return BatchStatusSuccess
	case created == 0:
		return BatchStatusFailed
	default:
		return BatchStatusPartial
	}
}

// TechniqueStat is the win record of one technique.
// WinRate is nil when Total is zero.
type TechniqueStat struct {
	Technique string   `json:"technique"`
	Wins      int      `json:"wins"`
	Total     int      `json:"total"`
	WinRate   *float64 `json:"win_rate"`
}

// TechniqueRanking is the minimal input to ComputeTechniqueStats.
type TechniqueRanking struct {
	Technique string
	Rank      int
}

// ComputeTechniqueStats counts, per technique, rankings with rank 1 (wins) and all rankings (total).
// Results are sorted by technique name.
func ComputeTechniqueStats(rankings []TechniqueRanking) []TechniqueStat {
	wins := make(map[string]int)
	totals := make(map[string]int)
	for _, r := range rankings {
		totals[r.Technique]++
		if r.Rank == 1 {
			wins[r.Technique]++
		}
	}

	stats := make([]TechniqueStat, 0, len(totals))
	for technique, total := range totals {
		stat := TechniqueStat{Technique: technique, Wins: wins[technique], Total: total}
		if total > 0 {
			rate := float64(stat.Wins) / float64(total)
			stat.WinRate = &rate
		}
		stats = append(stats, stat)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Technique < stats[j].Technique })
	return stats
}
