package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/vibelab/vibelab-engine/pkg/services"
)

// GenerateBatchRequest for POST /api/v1/generate/batch
type GenerateBatchRequest struct {
	Requests []*services.GenerateRequest `json:"requests"`
}

// GenerateBatchResponse reports each request's outcome in input order.
type GenerateBatchResponse struct {
	Results   []services.BatchGenerateItem `json:"results"`
	Succeeded int                          `json:"succeeded"`
	Failed    int                          `json:"failed"`
}

// GenerationHandler handles model invocation requests.
type GenerationHandler struct {
	generationService services.GenerationService
	logger            *zap.Logger
}

// NewGenerationHandler creates a new generation handler.
func NewGenerationHandler(generationService services.GenerationService, logger *zap.Logger) *GenerationHandler {
	return &GenerationHandler{
		generationService: generationService,
		logger:            logger,
	}
}

// RegisterRoutes registers the generation routes. mw wraps every route.
func (h *GenerationHandler) RegisterRoutes(mux *http.ServeMux, mw Middleware) {
	wrap := Chain(mw)

	mux.HandleFunc("POST /api/v1/generate", wrap(h.Generate))
	mux.HandleFunc("POST /api/v1/generate/batch", wrap(h.GenerateBatch))
}

// Generate handles POST /api/v1/generate
// Without experiment_id the output is returned and nothing is stored.
func (h *GenerationHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req services.GenerateRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	result, err := h.generationService.Generate(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err, "Generation failed", h.logger, zap.String("model", req.Model))
		return
	}

	status := http.StatusOK
	if result.GenerationID != nil {
		status = http.StatusCreated
	}
	writeData(w, status, result, h.logger)
}

// GenerateBatch handles POST /api/v1/generate/batch
func (h *GenerationHandler) GenerateBatch(w http.ResponseWriter, r *http.Request) {
	var req GenerateBatchRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	items, err := h.generationService.GenerateBatch(r.Context(), req.Requests)
	if err != nil {
		writeServiceError(w, err, "Batch generation failed", h.logger, zap.Int("requests", len(req.Requests)))
		return
	}

	response := GenerateBatchResponse{Results: items}
	for _, item := range items {
		if item.Result != nil {
			response.Succeeded++
		} else {
			response.Failed++
		}
	}

	writeData(w, http.StatusOK, response, h.logger)
}
