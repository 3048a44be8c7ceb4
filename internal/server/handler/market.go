package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/alanyoungcy/marketsettle/internal/domain"
	"github.com/alanyoungcy/marketsettle/internal/engine"
	"github.com/alanyoungcy/marketsettle/internal/lmsr"
)

// MarketService defines the methods that the market handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	Market(ctx context.Context, id domain.MarketID) (*domain.Market, error)
	ListMarkets(ctx context.Context, filter domain.MarketFilter, opts domain.ListOpts) ([]domain.Market, error)
	Quote(ctx context.Context, id domain.MarketID) (domain.MarketQuote, error)
	PreviewTrade(ctx context.Context, id domain.MarketID, side domain.Side, shares uint64, sell bool) (lmsr.TradeQuote, error)

	CreateMarket(ctx context.Context, caller common.Address, p engine.CreateMarketParams) (*domain.Market, error)
	ActivateMarket(ctx context.Context, caller common.Address, id domain.MarketID) (*domain.Market, error)
	ResolveMarket(ctx context.Context, caller common.Address, id domain.MarketID, outcome domain.Outcome, evidence string) (*domain.Market, error)
	InitiateDispute(ctx context.Context, caller common.Address, id domain.MarketID) (*domain.Market, error)
	FinalizeMarket(ctx context.Context, caller common.Address, id domain.MarketID, counts *engine.VoteCounts) (*domain.Market, error)
	CancelMarket(ctx context.Context, caller common.Address, id domain.MarketID) (*domain.Market, error)
	ApproveProposal(ctx context.Context, caller common.Address, id domain.MarketID) (*engine.Decision, error)
}

// MarketHandler serves market lifecycle and pricing endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logHandler(logger, "market"),
	}
}

type createMarketRequest struct {
	// ID is optional; a random id is derived when empty.
	ID               string `json:"id" validate:"omitempty,hexadecimal,len=66"`
	// BParameter may be left empty when MaxLoss names the subsidy the
	// creator is prepared to lose instead.
	BParameter       string `json:"b_parameter" validate:"omitempty,amount"`
	MaxLoss          string `json:"max_loss" validate:"omitempty,amount"`
	InitialLiquidity string `json:"initial_liquidity" validate:"required,amount"`
	EvidenceHash     string `json:"evidence_hash" validate:"required,max=128"`
}

type resolveRequest struct {
	Outcome  string `json:"outcome" validate:"required,oneof=yes no invalid"`
	Evidence string `json:"evidence" validate:"required,max=128"`
}

type finalizeRequest struct {
	Agree    *uint64 `json:"agree" validate:"required_with=Disagree"`
	Disagree *uint64 `json:"disagree" validate:"required_with=Agree"`
}

// ListMarkets returns markets with pagination, optionally filtered by state
// and creator.
// GET /api/markets?state=active&creator=0x..&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	var filter domain.MarketFilter
	if s := r.URL.Query().Get("state"); s != "" {
		st, err := domain.ParseMarketState(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "InvalidInput", err.Error())
			return
		}
		filter.State = st
	}
	if c := r.URL.Query().Get("creator"); c != "" {
		addr, ok := address(w, "creator", c)
		if !ok {
			return
		}
		filter.Creator = &addr
	}

	markets, err := h.markets.ListMarkets(r.Context(), filter, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list markets", err)
		return
	}
	writeJSON(w, http.StatusOK, newList(markets, opts, newMarketResponse))
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	market, err := h.markets.Market(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, newMarketResponse(market))
}

// GetQuote returns current prices. With side and shares it also previews
// that trade (sell=true for the sell direction).
// GET /api/markets/{id}/quote?side=yes&shares=10&sell=false
func (h *MarketHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	q, err := h.markets.Quote(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "quote", err)
		return
	}
	resp := newQuoteResponse(q)

	query := r.URL.Query()
	if query.Get("side") != "" || query.Get("shares") != "" {
		side, err := domain.ParseSide(query.Get("side"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "InvalidInput", err.Error())
			return
		}
		if validate.Var(query.Get("shares"), "required,amount") != nil {
			writeError(w, http.StatusBadRequest, "InvalidInput", "shares must be a positive decimal amount")
			return
		}
		sell := false
		if v := query.Get("sell"); v != "" {
			if sell, err = strconv.ParseBool(v); err != nil {
				writeError(w, http.StatusBadRequest, "InvalidInput", "sell must be a boolean")
				return
			}
		}
		preview, err := h.markets.PreviewTrade(r.Context(), id, side, amount(query.Get("shares")), sell)
		if err != nil {
			writeServiceError(w, r, h.logger, "preview trade", err)
			return
		}
		resp.Preview = newPreviewResponse(preview, sell)
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateMarket proposes a market funded from the caller's wallet.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req createMarketRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := newMarketID(who)
	if req.ID != "" {
		if id, ok = parseHash(req.ID); !ok {
			writeError(w, http.StatusBadRequest, "InvalidInput", "id must be 0x-prefixed 32-byte hex")
			return
		}
	}
	b := amount(req.BParameter)
	switch {
	case req.BParameter != "" && req.MaxLoss != "":
		writeError(w, http.StatusBadRequest, "InvalidInput", "set b_parameter or max_loss, not both")
		return
	case req.MaxLoss != "":
		var err error
		if b, err = lmsr.BParameterForMaxLoss(amount(req.MaxLoss)); err != nil {
			writeServiceError(w, r, h.logger, "create market", err)
			return
		}
	case req.BParameter == "":
		writeError(w, http.StatusBadRequest, "InvalidInput", "b_parameter or max_loss is required")
		return
	}
	m, err := h.markets.CreateMarket(r.Context(), who, engine.CreateMarketParams{
		ID:               id,
		BParameter:       b,
		InitialLiquidity: amount(req.InitialLiquidity),
		EvidenceHash:     req.EvidenceHash,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "create market", err)
		return
	}
	writeJSON(w, http.StatusCreated, newMarketResponse(m))
}

// newMarketID derives a fresh id from the creator and a random uuid.
func newMarketID(creator common.Address) domain.MarketID {
	u := uuid.New()
	return crypto.Keccak256Hash(creator.Bytes(), u[:])
}

// ApproveProposal approves a proposal from its recorded votes. Admin only.
// POST /api/markets/{id}/approve
func (h *MarketHandler) ApproveProposal(w http.ResponseWriter, r *http.Request) {
	id, who, ok := marketAndCaller(w, r)
	if !ok {
		return
	}
	d, err := h.markets.ApproveProposal(r.Context(), who, id)
	if err != nil {
		writeServiceError(w, r, h.logger, "approve proposal", err)
		return
	}
	writeJSON(w, http.StatusOK, newDecisionResponse(d))
}

// ActivateMarket opens an approved market for trading.
// POST /api/markets/{id}/activate
func (h *MarketHandler) ActivateMarket(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "activate market", h.markets.ActivateMarket)
}

// InitiateDispute challenges the proposed outcome.
// POST /api/markets/{id}/dispute
func (h *MarketHandler) InitiateDispute(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "initiate dispute", h.markets.InitiateDispute)
}

// CancelMarket cancels a market before activation. Admin only.
// POST /api/markets/{id}/cancel
func (h *MarketHandler) CancelMarket(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "cancel market", h.markets.CancelMarket)
}

// ResolveMarket proposes an outcome with evidence.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	id, who, ok := marketAndCaller(w, r)
	if !ok {
		return
	}
	var req resolveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	outcome, err := domain.ParseOutcome(req.Outcome)
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidOutcome", err.Error())
		return
	}
	m, err := h.markets.ResolveMarket(r.Context(), who, id, outcome, req.Evidence)
	if err != nil {
		writeServiceError(w, r, h.logger, "resolve market", err)
		return
	}
	writeJSON(w, http.StatusOK, newMarketResponse(m))
}

// FinalizeMarket settles a market. A disputed market needs the dispute
// vote counts. Backend authority only.
// POST /api/markets/{id}/finalize
func (h *MarketHandler) FinalizeMarket(w http.ResponseWriter, r *http.Request) {
	id, who, ok := marketAndCaller(w, r)
	if !ok {
		return
	}
	var req finalizeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var counts *engine.VoteCounts
	if req.Agree != nil && req.Disagree != nil {
		counts = &engine.VoteCounts{Agree: *req.Agree, Disagree: *req.Disagree}
	}
	m, err := h.markets.FinalizeMarket(r.Context(), who, id, counts)
	if err != nil {
		writeServiceError(w, r, h.logger, "finalize market", err)
		return
	}
	writeJSON(w, http.StatusOK, newMarketResponse(m))
}

func (h *MarketHandler) transition(w http.ResponseWriter, r *http.Request, op string,
	fn func(context.Context, common.Address, domain.MarketID) (*domain.Market, error)) {
	id, who, ok := marketAndCaller(w, r)
	if !ok {
		return
	}
	m, err := fn(r.Context(), who, id)
	if err != nil {
		writeServiceError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, newMarketResponse(m))
}

func marketAndCaller(w http.ResponseWriter, r *http.Request) (domain.MarketID, common.Address, bool) {
	id, ok := marketID(w, r)
	if !ok {
		return domain.MarketID{}, common.Address{}, false
	}
	who, ok := caller(w, r)
	if !ok {
		return domain.MarketID{}, common.Address{}, false
	}
	return id, who, true
}
