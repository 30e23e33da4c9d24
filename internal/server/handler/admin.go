package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/caseledger/internal/domain"
	"github.com/alanyoungcy/caseledger/internal/service"
)

// StockLoader loads fulfillable units.
type StockLoader interface {
	AddStock(ctx context.Context, itemKey, botID string, n int) ([]domain.StockUnit, error)
	Available(ctx context.Context, itemKey string) (int, error)
}

// IntegrityAlerter is told about ledger chains that fail verification.
type IntegrityAlerter interface {
	LedgerInconsistent(ctx context.Context, userID string, cause error)
}

// AdminHandler serves operator endpoints. Routes are mounted behind the API
// key middleware.
type AdminHandler struct {
	ledger LedgerService
	stock  StockLoader
	alerts IntegrityAlerter
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler. alerts may be nil.
func NewAdminHandler(ledger LedgerService, stock StockLoader, alerts IntegrityAlerter, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{ledger: ledger, stock: stock, alerts: alerts, logger: logger}
}

type addStockRequest struct {
	ItemKey string `json:"item_key"`
	BotID   string `json:"bot_id"`
	Count   int    `json:"count"`
}

// AddStock loads count units of an item held by a bot.
// POST /api/admin/stock
func (h *AdminHandler) AddStock(w http.ResponseWriter, r *http.Request) {
	var req addStockRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ItemKey == "" || req.BotID == "" || req.Count <= 0 {
		writeError(w, http.StatusBadRequest, "item_key, bot_id and a positive count are required")
		return
	}
	units, err := h.stock.AddStock(r.Context(), req.ItemKey, req.BotID, req.Count)
	if err != nil {
		writeServiceError(w, r, h.logger, "add stock", err)
		return
	}
	available, err := h.stock.Available(r.Context(), req.ItemKey)
	if err != nil {
		writeServiceError(w, r, h.logger, "count stock", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"units": units, "available": available})
}

type adjustRequest struct {
	Delta domain.Money      `json:"delta"`
	Type  domain.LedgerType `json:"type"`
	Note  string            `json:"note,omitempty"`
}

// AdjustBalance applies an operator credit or debit through the ledger.
// POST /api/admin/balance/{userId}
func (h *AdminHandler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Delta == 0 {
		writeError(w, http.StatusBadRequest, "delta must be non-zero")
		return
	}
	if req.Type == "" {
		req.Type = domain.LedgerAdjustment
	}
	var meta map[string]any
	if req.Note != "" {
		meta = map[string]any{"note": req.Note}
	}
	entry, err := h.ledger.Adjust(r.Context(), service.DeltaRequest{
		UserID: r.PathValue("userId"),
		Delta:  req.Delta,
		Type:   req.Type,
		Meta:   meta,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "adjust balance", err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// VerifyLedger replays a user's ledger against the stored balance.
// GET /api/admin/ledger/{userId}/verify
func (h *AdminHandler) VerifyLedger(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	report, err := h.ledger.Verify(r.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrInternalInconsistency) {
			if h.alerts != nil {
				h.alerts.LedgerInconsistent(r.Context(), userID, err)
			}
			writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeServiceError(w, r, h.logger, "verify ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "report": report})
}
