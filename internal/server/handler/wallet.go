package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/caseledger/internal/domain"
	"github.com/alanyoungcy/caseledger/internal/service"
)

// LedgerService is what the wallet and admin handlers need from the ledger.
type LedgerService interface {
	Adjust(ctx context.Context, req service.DeltaRequest) (domain.LedgerEntry, error)
	Balance(ctx context.Context, userID string) (domain.UserBalance, error)
	Entries(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.LedgerEntry, error)
	Verify(ctx context.Context, userID string) (service.VerifyReport, error)
}

// WithdrawalService reserves and settles stock for won items.
type WithdrawalService interface {
	Reserve(ctx context.Context, userID, inventoryID string) (service.ReserveResult, error)
	Complete(ctx context.Context, userID, inventoryID string) error
	Cancel(ctx context.Context, userID, inventoryID string) error
}

// InventoryService lists and sells won items.
type InventoryService interface {
	List(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.InventoryItem, error)
	Sell(ctx context.Context, userID, inventoryID string) (service.SellResult, error)
}

// WalletHandler serves balance, ledger, inventory and withdrawal endpoints
// for the calling user.
type WalletHandler struct {
	ledger      LedgerService
	withdrawals WithdrawalService
	inventory   InventoryService
	logger      *slog.Logger
}

// NewWalletHandler creates a WalletHandler.
func NewWalletHandler(ledger LedgerService, withdrawals WithdrawalService, inventory InventoryService, logger *slog.Logger) *WalletHandler {
	return &WalletHandler{ledger: ledger, withdrawals: withdrawals, inventory: inventory, logger: logger}
}

// GetBalance returns the caller's balance.
// GET /api/balance
func (h *WalletHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	bal, err := h.ledger.Balance(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, h.logger, "get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

// ListLedger returns a page of the caller's ledger, newest first.
// GET /api/ledger?limit=50&offset=0
func (h *WalletHandler) ListLedger(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	entries, err := h.ledger.Entries(r.Context(), userID, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list ledger", err)
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// ListInventory returns the caller's won items.
// GET /api/inventory
func (h *WalletHandler) ListInventory(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	items, err := h.inventory.List(r.Context(), userID, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list inventory", err)
		return
	}
	if items == nil {
		items = []domain.InventoryItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// SellItem sells a held item back at its live valuation.
// POST /api/inventory/{id}/sell
func (h *WalletHandler) SellItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	res, err := h.inventory.Sell(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "sell item", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Reserve claims a stock unit for a won item.
// POST /api/withdraw/{inventoryId}/reserve
func (h *WalletHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	res, err := h.withdrawals.Reserve(r.Context(), userID, r.PathValue("inventoryId"))
	if err != nil {
		writeServiceError(w, r, h.logger, "reserve withdrawal", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":           true,
		"stockUnitId":  res.StockUnitID,
		"withdrawalId": res.WithdrawalID,
	})
}

// Complete marks a pending withdrawal as sent.
// POST /api/withdraw/{inventoryId}/complete
func (h *WalletHandler) Complete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.withdrawals.Complete(r.Context(), userID, r.PathValue("inventoryId")); err != nil {
		writeServiceError(w, r, h.logger, "complete withdrawal", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Cancel releases a pending withdrawal.
// POST /api/withdraw/{inventoryId}/cancel
func (h *WalletHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.withdrawals.Cancel(r.Context(), userID, r.PathValue("inventoryId")); err != nil {
		writeServiceError(w, r, h.logger, "cancel withdrawal", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
