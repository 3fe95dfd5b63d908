package handlers

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/vibelab/vibelab-engine/pkg/models"
	"github.com/vibelab/vibelab-engine/pkg/services"
)

// maxImportBytes caps the size of a legacy dump upload.
const maxImportBytes = 32 << 20

// ExportHandler handles experiment export and legacy import.
type ExportHandler struct {
	exportService services.ExportService
	logger        *zap.Logger
}

// NewExportHandler creates a new export handler.
func NewExportHandler(exportService services.ExportService, logger *zap.Logger) *ExportHandler {
	return &ExportHandler{
		exportService: exportService,
		logger:        logger,
	}
}

// RegisterRoutes registers the export routes. mw wraps every route.
func (h *ExportHandler) RegisterRoutes(mux *http.ServeMux, mw Middleware) {
	wrap := Chain(mw)

	mux.HandleFunc("GET /api/v1/experiments/{id}/export", wrap(h.Export))
	mux.HandleFunc("POST /api/v1/import", wrap(h.Import))
}

// Export handles GET /api/v1/experiments/{id}/export
// With ?download=true the export is sent as an attachment.
func (h *ExportHandler) Export(w http.ResponseWriter, r *http.Request) {
	experimentID, ok := ParseExperimentID(w, r, h.logger)
	if !ok {
		return
	}

	export, err := h.exportService.Export(r.Context(), experimentID)
	if err != nil {
		writeServiceError(w, err, "Failed to export experiment", h.logger, zap.String("experiment_id", experimentID.String()))
		return
	}

	if r.URL.Query().Get("download") == "true" {
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="experiment-%s.json"`, experimentID))
	}

	writeData(w, http.StatusOK, export, h.logger)
}

// Import handles POST /api/v1/import
// The body is a browser local-storage dump; keys without the vibelab_ prefix are ignored.
func (h *ExportHandler) Import(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)

	var dump models.LegacyExport
	if !decodeBody(w, r, &dump, h.logger) {
		return
	}

	result, err := h.exportService.Import(r.Context(), dump)
	if err != nil {
		writeServiceError(w, err, "Legacy import failed", h.logger, zap.Int("keys", len(dump)))
		return
	}

	h.logger.Info("Imported legacy experiments",
		zap.Int("experiments", len(result.ExperimentIDs)),
		zap.Int("generations", result.Generations),
		zap.Int("models_registered", result.ModelsRegistered))

	writeData(w, http.StatusCreated, result, h.logger)
}
