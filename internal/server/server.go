// Package server is the HTTP and WebSocket front of the settlement service.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/marketsettle/internal/server/handler"
	"github.com/alanyoungcy/marketsettle/internal/server/middleware"
	"github.com/alanyoungcy/marketsettle/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, X-Caller is trusted without a key
	WalletSkew  time.Duration

	RateLimit  int // requests per RateWindow per client; 0 disables
	RateWindow time.Duration

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Config  *handler.ConfigHandler
	Markets *handler.MarketHandler
	Votes   *handler.VoteHandler
	Trades  *handler.TradeHandler
	Ledger  *handler.LedgerHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (CORS, logging, auth, rate limiting) and attaches
// the WebSocket hub. A nil limiter disables rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter middleware.Limiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handlers.Health.HealthCheck)

	// Protocol configuration and administration.
	mux.HandleFunc("GET /api/config", handlers.Config.GetConfig)
	mux.HandleFunc("POST /api/config", handlers.Config.InitializeConfig)
	mux.HandleFunc("PATCH /api/config", handlers.Config.UpdateConfig)
	mux.HandleFunc("POST /api/admin/pause", handlers.Config.TogglePause)
	mux.HandleFunc("POST /api/admin/deposit", handlers.Config.Deposit)

	// Market lifecycle and pricing.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("POST /api/markets", handlers.Markets.CreateMarket)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/quote", handlers.Markets.GetQuote)
	mux.HandleFunc("POST /api/markets/{id}/approve", handlers.Markets.ApproveProposal)
	mux.HandleFunc("POST /api/markets/{id}/activate", handlers.Markets.ActivateMarket)
	mux.HandleFunc("POST /api/markets/{id}/resolve", handlers.Markets.ResolveMarket)
	mux.HandleFunc("POST /api/markets/{id}/dispute", handlers.Markets.InitiateDispute)
	mux.HandleFunc("POST /api/markets/{id}/finalize", handlers.Markets.FinalizeMarket)
	mux.HandleFunc("POST /api/markets/{id}/cancel", handlers.Markets.CancelMarket)

	// Voting.
	mux.HandleFunc("POST /api/markets/{id}/votes", handlers.Votes.RecordVote)
	mux.HandleFunc("GET /api/markets/{id}/votes", handlers.Votes.ListVotes)
	mux.HandleFunc("POST /api/markets/{id}/votes/aggregate", handlers.Votes.AggregateVotes)

	// Trading and settlement.
	mux.HandleFunc("POST /api/markets/{id}/buy", handlers.Trades.Buy)
	mux.HandleFunc("POST /api/markets/{id}/sell", handlers.Trades.Sell)
	mux.HandleFunc("POST /api/markets/{id}/claim", handlers.Trades.ClaimWinnings)
	mux.HandleFunc("POST /api/markets/{id}/withdraw", handlers.Trades.WithdrawLiquidity)

	// Ledger reads.
	mux.HandleFunc("GET /api/markets/{id}/positions/{user}", handlers.Ledger.GetPosition)
	mux.HandleFunc("GET /api/markets/{id}/events", handlers.Ledger.ListEvents)
	mux.HandleFunc("GET /api/balances/{account}", handlers.Ledger.GetBalance)

	public := []string{"/health"}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
		public = append(public, "/ws")
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	h = middleware.Auth(middleware.AuthConfig{
		APIKey:     cfg.APIKey,
		WalletSkew: cfg.WalletSkew,
		Public:     public,
	})(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
