package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/vibelab/vibelab-engine/pkg/models"
	"github.com/vibelab/vibelab-engine/pkg/services"
)

// TemplatesHandler handles prompt template requests.
type TemplatesHandler struct {
	templateService services.TemplateService
	logger          *zap.Logger
}

// NewTemplatesHandler creates a new templates handler.
func NewTemplatesHandler(templateService services.TemplateService, logger *zap.Logger) *TemplatesHandler {
	return &TemplatesHandler{
		templateService: templateService,
		logger:          logger,
	}
}

// RegisterRoutes registers the template routes. mw wraps every route.
func (h *TemplatesHandler) RegisterRoutes(mux *http.ServeMux, mw Middleware) {
	base := "/api/v1/templates"
	wrap := Chain(mw)

	mux.HandleFunc("POST "+base, wrap(h.Create))
	mux.HandleFunc("GET "+base, wrap(h.List))
	mux.HandleFunc("GET "+base+"/{id}", wrap(h.Get))
	mux.HandleFunc("PATCH "+base+"/{id}", wrap(h.Update))
	mux.HandleFunc("DELETE "+base+"/{id}", wrap(h.Delete))
}

// Create handles POST /api/v1/templates
func (h *TemplatesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req services.CreateTemplateRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	tmpl, err := h.templateService.Create(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err, "Failed to create template", h.logger, zap.String("name", req.Name))
		return
	}

	writeData(w, http.StatusCreated, tmpl, h.logger)
}

// List handles GET /api/v1/templates
func (h *TemplatesHandler) List(w http.ResponseWriter, r *http.Request) {
	templates, err := h.templateService.List(r.Context())
	if err != nil {
		writeServiceError(w, err, "Failed to list templates", h.logger)
		return
	}

	writeData(w, http.StatusOK, templates, h.logger)
}

// Get handles GET /api/v1/templates/{id}
func (h *TemplatesHandler) Get(w http.ResponseWriter, r *http.Request) {
	templateID, ok := ParseTemplateID(w, r, h.logger)
	if !ok {
		return
	}

	tmpl, err := h.templateService.Get(r.Context(), templateID)
	if err != nil {
		writeServiceError(w, err, "Failed to get template", h.logger, zap.String("template_id", templateID.String()))
		return
	}

	writeData(w, http.StatusOK, tmpl, h.logger)
}

// Update handles PATCH /api/v1/templates/{id}
func (h *TemplatesHandler) Update(w http.ResponseWriter, r *http.Request) {
	templateID, ok := ParseTemplateID(w, r, h.logger)
	if !ok {
		return
	}

	var update models.TemplateUpdate
	if !decodeBody(w, r, &update, h.logger) {
		return
	}

	tmpl, err := h.templateService.Update(r.Context(), templateID, update)
	if err != nil {
		writeServiceError(w, err, "Failed to update template", h.logger, zap.String("template_id", templateID.String()))
		return
	}

	writeData(w, http.StatusOK, tmpl, h.logger)
}

// Delete handles DELETE /api/v1/templates/{id}
func (h *TemplatesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	templateID, ok := ParseTemplateID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.templateService.Delete(r.Context(), templateID); err != nil {
		writeServiceError(w, err, "Failed to delete template", h.logger, zap.String("template_id", templateID.String()))
		return
	}

	writeData(w, http.StatusOK, map[string]string{"id": templateID.String()}, h.logger)
}
