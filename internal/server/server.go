// Package server exposes the wallet, games and valuation API over HTTP and
// relays committed events over WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/caseledger/internal/domain"
	"github.com/alanyoungcy/caseledger/internal/server/handler"
	"github.com/alanyoungcy/caseledger/internal/server/middleware"
	"github.com/alanyoungcy/caseledger/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey guards /api/admin routes. Empty disables them.
	APIKey string

	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates the route handlers.
type Handlers struct {
	Health     *handler.HealthHandler
	Wallet     *handler.WalletHandler
	Games      *handler.GameHandler
	Valuations *handler.ValuationHandler
	Admin      *handler.AdminHandler
	Pipeline   *handler.PipelineHandler
	// Stream is optional.
	Stream     *handler.StreamHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware
// chain. limiter and hub may be nil.
func NewServer(cfg Config, h Handlers, limiter domain.RateLimiter, hub *ws.Hub, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewRouter(cfg, h, limiter, hub, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// NewRouter builds the routed handler without a listener.
func NewRouter(cfg Config, h Handlers, limiter domain.RateLimiter, hub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)

	// Wallet.
	mux.HandleFunc("GET /api/balance", h.Wallet.GetBalance)
	mux.HandleFunc("GET /api/ledger", h.Wallet.ListLedger)
	mux.HandleFunc("GET /api/inventory", h.Wallet.ListInventory)
	mux.HandleFunc("POST /api/inventory/{id}/sell", h.Wallet.SellItem)
	mux.HandleFunc("POST /api/withdraw/{inventoryId}/reserve", h.Wallet.Reserve)
	mux.HandleFunc("POST /api/withdraw/{inventoryId}/complete", h.Wallet.Complete)
	mux.HandleFunc("POST /api/withdraw/{inventoryId}/cancel", h.Wallet.Cancel)

	// Games.
	mux.HandleFunc("GET /api/cases", h.Games.ListCases)
	mux.HandleFunc("POST /api/cases/{id}/open", h.Games.OpenCase)
	mux.HandleFunc("POST /api/casino/mines/start", h.Games.StartMines)
	mux.HandleFunc("POST /api/casino/mines/{id}/reveal", h.Games.RevealMines)
	mux.HandleFunc("POST /api/casino/mines/{id}/cashout", h.Games.CashoutMines)
	mux.HandleFunc("POST /api/casino/{game}/play", h.Games.Play)

	// Valuations.
	mux.HandleFunc("GET /api/valuations", h.Valuations.ListValuations)
	mux.HandleFunc("GET /api/valuations/{itemKey}", h.Valuations.GetValuation)
	mux.HandleFunc("GET /api/valuations/{itemKey}/history", h.Valuations.GetHistory)

	// Operator routes.
	admin := http.NewServeMux()
	admin.HandleFunc("POST /api/admin/pipeline/trigger", h.Pipeline.TriggerPipeline)
	admin.HandleFunc("GET /api/admin/archives", h.Pipeline.ListArchives)
	admin.HandleFunc("POST /api/admin/stock", h.Admin.AddStock)
	admin.HandleFunc("POST /api/admin/balance/{userId}", h.Admin.AdjustBalance)
	admin.HandleFunc("GET /api/admin/ledger/{userId}/verify", h.Admin.VerifyLedger)
	if h.Stream != nil {
		admin.HandleFunc("GET /api/admin/ledger/stream", h.Stream.ReplayLedger)
	}
	mux.Handle("/api/admin/", middleware.Auth(cfg.APIKey)(admin))

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var out http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		out = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateLimitWindow, logger)(out)
	}
	out = middleware.Logging(logger)(out)
	out = middleware.User(out)
	out = middleware.CORS(cfg.CORSOrigins)(out)
	return out
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
