package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vibelab/vibelab-engine/pkg/auth"
	"github.com/vibelab/vibelab-engine/pkg/models"
	"github.com/vibelab/vibelab-engine/pkg/services"
)

// SubmitRankingRequest for POST /api/v1/experiments/{id}/rankings
type SubmitRankingRequest struct {
	PromptID     uuid.UUID `json:"prompt_id"`
	GenerationID uuid.UUID `json:"generation_id"`
	Rank         int       `json:"rank"`
	QualityScore *float64  `json:"quality_score,omitempty"`
	EvaluatorID  string    `json:"evaluator_id,omitempty"`
}

// SubmitBatchRequest for POST /api/v1/experiments/{id}/rankings/batch
type SubmitBatchRequest struct {
	Rankings []models.RankingEntry `json:"rankings"`
}

// TechniqueStatsResponse for GET /api/v1/experiments/{id}/stats
type TechniqueStatsResponse struct {
	ExperimentID uuid.UUID              `json:"experiment_id"`
	Techniques   []models.TechniqueStat `json:"techniques"`
}

// RankingsHandler handles ranking submission and aggregation requests.
type RankingsHandler struct {
	rankingService services.RankingService
	logger         *zap.Logger
}

// NewRankingsHandler creates a new rankings handler.
func NewRankingsHandler(rankingService services.RankingService, logger *zap.Logger) *RankingsHandler {
	return &RankingsHandler{
		rankingService: rankingService,
		logger:         logger,
	}
}

// RegisterRoutes registers the ranking routes. mw wraps every route.
func (h *RankingsHandler) RegisterRoutes(mux *http.ServeMux, mw Middleware) {
	base := "/api/v1/experiments/{id}"
	wrap := Chain(mw)

	mux.HandleFunc("POST "+base+"/rankings", wrap(h.Submit))
	mux.HandleFunc("POST "+base+"/rankings/batch", wrap(h.SubmitBatch))
	mux.HandleFunc("GET "+base+"/rankings", wrap(h.List))
	mux.HandleFunc("GET "+base+"/stats", wrap(h.Stats))
}

// Submit handles POST /api/v1/experiments/{id}/rankings
// The evaluator defaults to the authenticated user, then to "human".
func (h *RankingsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	experimentID, ok := ParseExperimentID(w, r, h.logger)
	if !ok {
		return
	}

	var req SubmitRankingRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	ranking, err := h.rankingService.Submit(r.Context(), &services.SubmitRankingRequest{
		ExperimentID: experimentID,
		PromptID:     req.PromptID,
		GenerationID: req.GenerationID,
		Rank:         req.Rank,
		QualityScore: req.QualityScore,
		EvaluatorID:  auth.EvaluatorID(r.Context(), req.EvaluatorID, models.DefaultEvaluatorID),
	})
	if err != nil {
		writeServiceError(w, err, "Failed to submit ranking", h.logger,
			zap.String("experiment_id", experimentID.String()),
			zap.String("generation_id", req.GenerationID.String()))
		return
	}

	writeData(w, http.StatusCreated, ranking, h.logger)
}

// SubmitBatch handles POST /api/v1/experiments/{id}/rankings/batch
// Entries succeed or fail independently; a partial batch still returns 200.
func (h *RankingsHandler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	experimentID, ok := ParseExperimentID(w, r, h.logger)
	if !ok {
		return
	}

	var req SubmitBatchRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	for i := range req.Rankings {
		req.Rankings[i].EvaluatorID = auth.EvaluatorID(r.Context(), req.Rankings[i].EvaluatorID, models.DefaultEvaluatorID)
	}

	result, err := h.rankingService.SubmitBatch(r.Context(), experimentID, req.Rankings)
	if err != nil {
		writeServiceError(w, err, "Failed to submit ranking batch", h.logger, zap.String("experiment_id", experimentID.String()))
		return
	}

	if result.Status == models.BatchStatusFailed {
		h.logger.Info("Ranking batch failed entirely",
			zap.String("experiment_id", experimentID.String()),
			zap.Int("entries", len(req.Rankings)))
	}

	writeData(w, http.StatusOK, result, h.logger)
}

// List handles GET /api/v1/experiments/{id}/rankings
func (h *RankingsHandler) List(w http.ResponseWriter, r *http.Request) {
	experimentID, ok := ParseExperimentID(w, r, h.logger)
	if !ok {
		return
	}

	rankings, err := h.rankingService.List(r.Context(), experimentID)
	if err != nil {
		writeServiceError(w, err, "Failed to list rankings", h.logger, zap.String("experiment_id", experimentID.String()))
		return
	}

	writeData(w, http.StatusOK, rankings, h.logger)
}

// Stats handles GET /api/v1/experiments/{id}/stats
func (h *RankingsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	experimentID, ok := ParseExperimentID(w, r, h.logger)
	if !ok {
		return
	}

	stats, err := h.rankingService.TechniqueStats(r.Context(), experimentID)
	if err != nil {
		writeServiceError(w, err, "Failed to compute technique stats", h.logger, zap.String("experiment_id", experimentID.String()))
		return
	}

	writeData(w, http.StatusOK, TechniqueStatsResponse{
		ExperimentID: experimentID,
		Techniques:   stats,
	}, h.logger)
}
