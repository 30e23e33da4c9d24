package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/caseledger/internal/domain"
	"github.com/alanyoungcy/caseledger/internal/outcome"
	"github.com/alanyoungcy/caseledger/internal/service"
)

// CaseService opens and lists cases.
type CaseService interface {
	Open(ctx context.Context, userID, caseID string) (service.OpenResult, error)
	List(ctx context.Context) ([]service.CaseView, error)
}

// CasinoService plays single-shot games and mines rounds.
type CasinoService interface {
	Play(ctx context.Context, userID, game string, bet domain.Money, p outcome.Params) (service.PlayResult, error)
	StartMines(ctx context.Context, userID string, bet domain.Money, mines int) (service.MinesView, error)
	RevealMines(ctx context.Context, userID, roundID string, cell int) (service.MinesView, error)
	CashoutMines(ctx context.Context, userID, roundID string) (service.MinesView, error)
}

// GameHandler serves case and casino endpoints.
type GameHandler struct {
	cases  CaseService
	casino CasinoService
	logger *slog.Logger
}

// NewGameHandler creates a GameHandler.
func NewGameHandler(cases CaseService, casino CasinoService, logger *slog.Logger) *GameHandler {
	return &GameHandler{cases: cases, casino: casino, logger: logger}
}

// ListCases returns every case with live item valuations.
// GET /api/cases
func (h *GameHandler) ListCases(w http.ResponseWriter, r *http.Request) {
	views, err := h.cases.List(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list cases", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cases": views})
}

// OpenCase charges the case price and returns the drop.
// POST /api/cases/{id}/open
func (h *GameHandler) OpenCase(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	res, err := h.cases.Open(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "open case", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type playRequest struct {
	Bet    domain.Money `json:"bet"`
	Target int          `json:"target,omitempty"`
	Side   string       `json:"side,omitempty"`
}

// Play resolves one round of a single-shot game.
// POST /api/casino/{game}/play
func (h *GameHandler) Play(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req playRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.casino.Play(r.Context(), userID, r.PathValue("game"), req.Bet,
		outcome.Params{Target: req.Target, Side: req.Side})
	if err != nil {
		writeServiceError(w, r, h.logger, "play", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type startMinesRequest struct {
	Bet   domain.Money `json:"bet"`
	Mines int          `json:"mines"`
}

// StartMines opens a new mines round.
// POST /api/casino/mines/start
func (h *GameHandler) StartMines(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req startMinesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	view, err := h.casino.StartMines(r.Context(), userID, req.Bet, req.Mines)
	if err != nil {
		writeServiceError(w, r, h.logger, "start mines", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type revealRequest struct {
	Cell *int `json:"cell"`
}

// RevealMines reveals one cell of an active round.
// POST /api/casino/mines/{id}/reveal
func (h *GameHandler) RevealMines(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req revealRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Cell == nil {
		if v := r.URL.Query().Get("cell"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				req.Cell = &n
			}
		}
	}
	if req.Cell == nil {
		writeError(w, http.StatusBadRequest, "cell is required")
		return
	}
	view, err := h.casino.RevealMines(r.Context(), userID, r.PathValue("id"), *req.Cell)
	if err != nil {
		writeServiceError(w, r, h.logger, "reveal mines", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// CashoutMines settles an active round at its current multiplier.
// POST /api/casino/mines/{id}/cashout
func (h *GameHandler) CashoutMines(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	view, err := h.casino.CashoutMines(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "cashout mines", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
