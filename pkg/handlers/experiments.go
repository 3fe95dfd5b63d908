package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/vibelab/vibelab-engine/pkg/models"
	"github.com/vibelab/vibelab-engine/pkg/services"
)

// ExperimentListResponse for GET /api/v1/experiments
type ExperimentListResponse struct {
	Experiments []*models.Experiment `json:"experiments"`
	Total       int                  `json:"total"`
}

// ExperimentsHandler handles experiment, prompt and analysis requests.
type ExperimentsHandler struct {
	experimentService services.ExperimentService
	logger            *zap.Logger
}

// NewExperimentsHandler creates a new experiments handler.
func NewExperimentsHandler(experimentService services.ExperimentService, logger *zap.Logger) *ExperimentsHandler {
	return &ExperimentsHandler{
		experimentService: experimentService,
		logger:            logger,
	}
}

// RegisterRoutes registers the experiment routes. mw wraps every route.
func (h *ExperimentsHandler) RegisterRoutes(mux *http.ServeMux, mw Middleware) {
	base := "/api/v1/experiments"
	wrap := Chain(mw)

	mux.HandleFunc("POST "+base, wrap(h.Create))
	mux.HandleFunc("GET "+base, wrap(h.List))
	mux.HandleFunc("GET "+base+"/{id}", wrap(h.Get))
	mux.HandleFunc("PATCH "+base+"/{id}", wrap(h.Update))
	mux.HandleFunc("POST "+base+"/{id}/prompts", wrap(h.CreatePrompt))
	mux.HandleFunc("GET "+base+"/{id}/prompts", wrap(h.ListPrompts))
	mux.HandleFunc("GET "+base+"/{id}/generations", wrap(h.ListGenerations))
	mux.HandleFunc("POST "+base+"/{id}/analysis", wrap(h.SaveAnalysis))
	mux.HandleFunc("GET "+base+"/{id}/analysis", wrap(h.ListAnalysis))
}

// Create handles POST /api/v1/experiments
func (h *ExperimentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req services.CreateExperimentRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	experiment, err := h.experimentService.Create(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err, "Failed to create experiment", h.logger, zap.String("name", req.Name))
		return
	}

	writeData(w, http.StatusCreated, experiment, h.logger)
}

// List handles GET /api/v1/experiments
func (h *ExperimentsHandler) List(w http.ResponseWriter, r *http.Request) {
	experiments, err := h.experimentService.List(r.Context())
	if err != nil {
		writeServiceError(w, err, "Failed to list experiments", h.logger)
		return
	}

	writeData(w, http.StatusOK, ExperimentListResponse{
		Experiments: experiments,
		Total:       len(experiments),
	}, h.logger)
}

// Get handles GET /api/v1/experiments/{id}
// Returns the experiment with its enriched generations.
func (h *ExperimentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	experimentID, ok := ParseExperimentID(w, r, h.logger)
	if !ok {
		return
	}

	detail, err := h.experimentService.GetDetail(r.Context(), experimentID)
	if err != nil {
		writeServiceError(w, err, "Failed to get experiment", h.logger, zap.String("experiment_id", experimentID.String()))
		return
	}

	writeData(w, http.StatusOK, detail, h.logger)
}

// Update handles PATCH /api/v1/experiments/{id}
func (h *ExperimentsHandler) Update(w http.ResponseWriter, r *http.Request) {
	experimentID, ok := ParseExperimentID(w, r, h.logger)
	if !ok {
		return
	}

	var update models.ExperimentUpdate
	if !decodeBody(w, r, &update, h.logger) {
		return
	}

	experiment, err := h.experimentService.Update(r.Context(), experimentID, update)
	if err != nil {
		writeServiceError(w, err, "Failed to update experiment", h.logger, zap.String("experiment_id", experimentID.String()))
		return
	}

	writeData(w, http.StatusOK, experiment, h.logger)
}

// CreatePrompt handles POST /api/v1/experiments/{id}/prompts
func (h *ExperimentsHandler) CreatePrompt(w http.ResponseWriter, r *http.Request) {
	experimentID, ok := ParseExperimentID(w, r, h.logger)
	if !ok {
		return
	}

	var req services.CreatePromptRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	prompt, err := h.experimentService.CreatePrompt(r.Context(), experimentID, &req)
	if err != nil {
		writeServiceError(w, err, "Failed to create prompt", h.logger, zap.String("experiment_id", experimentID.String()))
		return
	}

	writeData(w, http.StatusCreated, prompt, h.logger)
}

// ListPrompts handles GET /api/v1/experiments/{id}/prompts
func (h *ExperimentsHandler) ListPrompts(w http.ResponseWriter, r *http.Request) {
	experimentID, ok := ParseExperimentID(w, r, h.logger)
	if !ok {
		return
	}

	prompts, err := h.experimentService.ListPrompts(r.Context(), experimentID)
	if err != nil {
		writeServiceError(w, err, "Failed to list prompts", h.logger, zap.String("experiment_id", experimentID.String()))
		return
	}

	writeData(w, http.StatusOK, prompts, h.logger)
}

// ListGenerations handles GET /api/v1/experiments/{id}/generations
func (h *ExperimentsHandler) ListGenerations(w http.ResponseWriter, r *http.Request) {
	experimentID, ok := ParseExperimentID(w, r, h.logger)
	if !ok {
		return
	}

	generations, err := h.experimentService.ListGenerations(r.Context(), experimentID)
	if err != nil {
		writeServiceError(w, err, "Failed to list generations", h.logger, zap.String("experiment_id", experimentID.String()))
		return
	}

	writeData(w, http.StatusOK, generations, h.logger)
}

// SaveAnalysis handles POST /api/v1/experiments/{id}/analysis
func (h *ExperimentsHandler) SaveAnalysis(w http.ResponseWriter, r *http.Request) {
	experimentID, ok := ParseExperimentID(w, r, h.logger)
	if !ok {
		return
	}

	var req services.SaveAnalysisRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	result, err := h.experimentService.SaveAnalysis(r.Context(), experimentID, &req)
	if err != nil {
		writeServiceError(w, err, "Failed to save analysis", h.logger, zap.String("experiment_id", experimentID.String()))
		return
	}

	writeData(w, http.StatusCreated, result, h.logger)
}

// ListAnalysis handles GET /api/v1/experiments/{id}/analysis
func (h *ExperimentsHandler) ListAnalysis(w http.ResponseWriter, r *http.Request) {
	experimentID, ok := ParseExperimentID(w, r, h.logger)
	if !ok {
		return
	}

	results, err := h.experimentService.ListAnalysis(r.Context(), experimentID)
	if err != nil {
		writeServiceError(w, err, "Failed to list analysis", h.logger, zap.String("experiment_id", experimentID.String()))
		return
	}

	writeData(w, http.StatusOK, results, h.logger)
}
