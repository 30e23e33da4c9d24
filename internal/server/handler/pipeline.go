package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/caseledger/internal/domain"
)

// CycleTrigger queues a valuation cycle.
type CycleTrigger interface {
	Trigger() bool
}

// QuoteArchives lists archived quote batches.
type QuoteArchives interface {
	Archives(ctx context.Context) ([]domain.BlobInfo, error)
}

// PipelineHandler serves the operator pipeline endpoints.
type PipelineHandler struct {
	trigger  CycleTrigger
	archives QuoteArchives
	logger   *slog.Logger
}

// NewPipelineHandler creates a PipelineHandler. Either dependency may be nil
// when this process does not run that part of the pipeline.
func NewPipelineHandler(trigger CycleTrigger, archives QuoteArchives, logger *slog.Logger) *PipelineHandler {
	return &PipelineHandler{trigger: trigger, archives: archives, logger: logger}
}

// TriggerPipeline queues one price cycle. A trigger already waiting is
// reported as coalesced.
// POST /api/admin/pipeline/trigger
func (h *PipelineHandler) TriggerPipeline(w http.ResponseWriter, r *http.Request) {
	if h.trigger == nil {
		writeError(w, http.StatusServiceUnavailable, "price cycle not running in this process")
		return
	}
	queued := h.trigger.Trigger()
	h.logger.InfoContext(r.Context(), "handler: pipeline trigger requested", slog.Bool("queued", queued))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"coalesced":    !queued,
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// ListArchives returns the quote archive objects.
// GET /api/admin/archives
func (h *PipelineHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	if h.archives == nil {
		writeError(w, http.StatusServiceUnavailable, "archive storage not configured")
		return
	}
	infos, err := h.archives.Archives(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list archives", err)
		return
	}
	if infos == nil {
		infos = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": infos})
}
