package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/vibelab/vibelab-engine/pkg/services"
)

// ModelsHandler handles model registry requests.
type ModelsHandler struct {
	modelService services.ModelService
	logger       *zap.Logger
}

// NewModelsHandler creates a new models handler.
func NewModelsHandler(modelService services.ModelService, logger *zap.Logger) *ModelsHandler {
	return &ModelsHandler{
		modelService: modelService,
		logger:       logger,
	}
}

// RegisterRoutes registers the model routes. mw wraps every route.
func (h *ModelsHandler) RegisterRoutes(mux *http.ServeMux, mw Middleware) {
	base := "/api/v1/models"
	wrap := Chain(mw)

	mux.HandleFunc("POST "+base, wrap(h.Register))
	mux.HandleFunc("GET "+base, wrap(h.List))
	mux.HandleFunc("GET "+base+"/{name}", wrap(h.Get))
}

// Register handles POST /api/v1/models
// Registering an existing name replaces its type and consortium config.
func (h *ModelsHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req services.RegisterModelRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	model, err := h.modelService.Register(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err, "Failed to register model", h.logger, zap.String("name", req.Name))
		return
	}

	writeData(w, http.StatusOK, model, h.logger)
}

// List handles GET /api/v1/models?active=true
func (h *ModelsHandler) List(w http.ResponseWriter, r *http.Request) {
	activeOnly := false
	if raw := r.URL.Query().Get("active"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeBadRequest(w, "active must be true or false", h.logger)
			return
		}
		activeOnly = parsed
	}

	list, err := h.modelService.List(r.Context(), activeOnly)
	if err != nil {
		writeServiceError(w, err, "Failed to list models", h.logger)
		return
	}

	writeData(w, http.StatusOK, list, h.logger)
}

// Get handles GET /api/v1/models/{name}
func (h *ModelsHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	model, err := h.modelService.Get(r.Context(), name)
	if err != nil {
		writeServiceError(w, err, "Failed to get model", h.logger, zap.String("name", name))
		return
	}

	writeData(w, http.StatusOK, model, h.logger)
}
