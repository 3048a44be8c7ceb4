package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketsettle/internal/domain"
	"github.com/alanyoungcy/marketsettle/internal/service"
)

// LedgerService exposes read access to positions, balances and the event
// journal.
type LedgerService interface {
	Position(ctx context.Context, id domain.MarketID, user common.Address) (*domain.Position, error)
	Balance(ctx context.Context, account domain.Account) (uint64, error)
	ListEvents(ctx context.Context, id domain.MarketID, opts domain.ListOpts) ([]domain.Event, error)
}

// LedgerHandler serves position, balance and event reads.
type LedgerHandler struct {
	ledger LedgerService
	logger *slog.Logger
}

// NewLedgerHandler creates a LedgerHandler.
func NewLedgerHandler(ledger LedgerService, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: ledger, logger: logHandler(logger, "ledger")}
}

type balanceResponse struct {
	Account string `json:"account"`
	Balance string `json:"balance"`
}

// GetPosition returns a user's position in a market.
// GET /api/markets/{id}/positions/{user}
func (h *LedgerHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	user, ok := address(w, "user", pathParam(r, "user"))
	if !ok {
		return
	}
	p, err := h.ledger.Position(r.Context(), id, user)
	if err != nil {
		writeServiceError(w, r, h.logger, "get position", err)
		return
	}
	writeJSON(w, http.StatusOK, newPositionResponse(p))
}

// ListEvents returns a market's journal in commit order.
// GET /api/markets/{id}/events?limit=50&offset=0
func (h *LedgerHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	opts := parseListOpts(r)
	events, err := h.ledger.ListEvents(r.Context(), id, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list events", err)
		return
	}
	writeJSON(w, http.StatusOK, newList(events, opts, func(e *domain.Event) service.EventMessage {
		return service.NewEventMessage(*e)
	}))
}

// GetBalance returns a value-ledger balance. The account is a wallet
// address or a market pool ("market:0x..").
// GET /api/balances/{account}
func (h *LedgerHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	raw := pathParam(r, "account")
	var account domain.Account
	if rest, ok := strings.CutPrefix(raw, "market:"); ok {
		id, ok := parseHash(rest)
		if !ok {
			writeError(w, http.StatusBadRequest, "InvalidInput", "pool account must be market:<32-byte hex>")
			return
		}
		account = domain.PoolAccount(id)
	} else {
		addr, ok := address(w, "account", raw)
		if !ok {
			return
		}
		account = domain.WalletAccount(addr)
	}

	bal, err := h.ledger.Balance(r.Context(), account)
	if err != nil {
		writeServiceError(w, r, h.logger, "get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Account: account.String(), Balance: fixedpointString(bal)})
}
