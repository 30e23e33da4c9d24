package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/caseledger/internal/domain"
)

// ValuationReader reads the valuation index.
type ValuationReader interface {
	Current(ctx context.Context, itemKey string) (domain.CatalogItem, error)
	History(ctx context.Context, itemKey string, opts domain.ListOpts) ([]domain.ValuationHistoryEntry, error)
	Catalog(ctx context.Context, opts domain.ListOpts) ([]domain.CatalogItem, error)
}

// ValuationHandler serves valuation index reads.
type ValuationHandler struct {
	valuations ValuationReader
	logger     *slog.Logger
}

// NewValuationHandler creates a ValuationHandler.
func NewValuationHandler(valuations ValuationReader, logger *slog.Logger) *ValuationHandler {
	return &ValuationHandler{valuations: valuations, logger: logger}
}

// ListValuations returns a page of the catalog.
// GET /api/valuations
func (h *ValuationHandler) ListValuations(w http.ResponseWriter, r *http.Request) {
	items, err := h.valuations.Catalog(r.Context(), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list valuations", err)
		return
	}
	if items == nil {
		items = []domain.CatalogItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// GetValuation returns the current valuation of one item.
// GET /api/valuations/{itemKey}
func (h *ValuationHandler) GetValuation(w http.ResponseWriter, r *http.Request) {
	item, err := h.valuations.Current(r.Context(), r.PathValue("itemKey"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get valuation", err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// GetHistory returns the material valuation changes of one item, newest
// first.
// GET /api/valuations/{itemKey}/history
func (h *ValuationHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.valuations.History(r.Context(), r.PathValue("itemKey"), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "valuation history", err)
		return
	}
	if entries == nil {
		entries = []domain.ValuationHistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}
