package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketsettle/internal/domain"
	"github.com/alanyoungcy/marketsettle/internal/engine"
)

// TradeService executes trades, claims and liquidity withdrawal.
type TradeService interface {
	Buy(ctx context.Context, caller common.Address, req engine.BuyRequest) (*engine.TradeResult, error)
	BuyWithBudget(ctx context.Context, caller common.Address, req engine.BudgetBuyRequest) (*engine.TradeResult, error)
	Sell(ctx context.Context, caller common.Address, req engine.SellRequest) (*engine.TradeResult, error)
	ClaimWinnings(ctx context.Context, caller common.Address, id domain.MarketID) (*engine.ClaimResult, error)
	WithdrawLiquidity(ctx context.Context, caller common.Address, id domain.MarketID) (uint64, error)
}

// TradeHandler serves the trading and settlement endpoints.
type TradeHandler struct {
	trades TradeService
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(trades TradeService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, logger: logHandler(logger, "trade")}
}

// buyRequest takes either an exact share quantity with a cost cap, or a
// budget to spend.
type buyRequest struct {
	Side    string `json:"side" validate:"required,oneof=yes no"`
	Shares  string `json:"shares" validate:"required_without=Budget,excluded_with=Budget,omitempty,amount"`
	MaxCost string `json:"max_cost" validate:"required_with=Shares,omitempty,amount"`
	Budget  string `json:"budget" validate:"required_without=Shares,omitempty,amount"`
}

type sellRequest struct {
	Side        string `json:"side" validate:"required,oneof=yes no"`
	Shares      string `json:"shares" validate:"required,amount"`
	MinProceeds string `json:"min_proceeds" validate:"omitempty,amount"`
}

type withdrawResponse struct {
	MarketID string `json:"market_id"`
	Amount   string `json:"amount"`
}

// Buy purchases shares from the market maker.
// POST /api/markets/{id}/buy
func (h *TradeHandler) Buy(w http.ResponseWriter, r *http.Request) {
	id, who, ok := marketAndCaller(w, r)
	if !ok {
		return
	}
	var req buyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	side := domain.Side(req.Side)

	var (
		res *engine.TradeResult
		err error
	)
	if req.Budget != "" {
		res, err = h.trades.BuyWithBudget(r.Context(), who, engine.BudgetBuyRequest{
			MarketID: id,
			Side:     side,
			Budget:   amount(req.Budget),
		})
	} else {
		res, err = h.trades.Buy(r.Context(), who, engine.BuyRequest{
			MarketID: id,
			Side:     side,
			Shares:   amount(req.Shares),
			MaxCost:  amount(req.MaxCost),
		})
	}
	if err != nil {
		writeServiceError(w, r, h.logger, "buy", err)
		return
	}
	writeJSON(w, http.StatusOK, newTradeResponse(res))
}

// Sell returns shares to the market maker.
// POST /api/markets/{id}/sell
func (h *TradeHandler) Sell(w http.ResponseWriter, r *http.Request) {
	id, who, ok := marketAndCaller(w, r)
	if !ok {
		return
	}
	var req sellRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.trades.Sell(r.Context(), who, engine.SellRequest{
		MarketID:    id,
		Side:        domain.Side(req.Side),
		Shares:      amount(req.Shares),
		MinProceeds: amount(req.MinProceeds),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "sell", err)
		return
	}
	writeJSON(w, http.StatusOK, newTradeResponse(res))
}

// ClaimWinnings pays out the caller's position in a finalized market.
// POST /api/markets/{id}/claim
func (h *TradeHandler) ClaimWinnings(w http.ResponseWriter, r *http.Request) {
	id, who, ok := marketAndCaller(w, r)
	if !ok {
		return
	}
	res, err := h.trades.ClaimWinnings(r.Context(), who, id)
	if err != nil {
		writeServiceError(w, r, h.logger, "claim winnings", err)
		return
	}
	writeJSON(w, http.StatusOK, newClaimResponse(res))
}

// WithdrawLiquidity returns the remaining pool to the creator after
// settlement.
// POST /api/markets/{id}/withdraw
func (h *TradeHandler) WithdrawLiquidity(w http.ResponseWriter, r *http.Request) {
	id, who, ok := marketAndCaller(w, r)
	if !ok {
		return
	}
	amt, err := h.trades.WithdrawLiquidity(r.Context(), who, id)
	if err != nil {
		writeServiceError(w, r, h.logger, "withdraw liquidity", err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawResponse{MarketID: id.Hex(), Amount: fixedpointString(amt)})
}
