// Package service hosts the settlement engine: it serializes operations per
// market, runs each one inside a ledger transaction, and fans committed
// events out to the bus, the audit log, the quote cache and operators.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketsettle/internal/crypto"
	"github.com/alanyoungcy/marketsettle/internal/domain"
	"github.com/alanyoungcy/marketsettle/internal/engine"
)

// Lock defaults. The TTL outlives any single transaction; the wait covers
// a short queue of operations on one market.
const (
	DefaultLockTTL  = 10 * time.Second
	DefaultLockWait = 3 * time.Second
	lockRetryEvery  = 25 * time.Millisecond
)

// ReceiptSigner signs decision receipts.
type ReceiptSigner interface {
	SignDecision(r crypto.DecisionReceipt) (string, error)
	Address() common.Address
}

// EventNotifier alerts operators about committed events.
type EventNotifier interface {
	NotifyEvents(ctx context.Context, events []domain.Event) error
}

// SettlementService runs engine operations against a ledger. Every
// collaborator other than the ledger is optional.
type SettlementService struct {
	ledger   domain.Ledger
	engine   *engine.Engine
	locks    domain.LockManager
	bus      domain.SignalBus
	audit    domain.AuditStore
	quotes   domain.QuoteCache
	notifier EventNotifier
	signer   ReceiptSigner
	lockTTL  time.Duration
	lockWait time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewSettlementService creates a SettlementService over ledger.
func NewSettlementService(ledger domain.Ledger, eng *engine.Engine, logger *slog.Logger) *SettlementService {
	return &SettlementService{
		ledger:   ledger,
		engine:   eng,
		lockTTL:  DefaultLockTTL,
		lockWait: DefaultLockWait,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With(slog.String("component", "settlement_service")),
	}
}

// WithLocks serializes operations per market across processes.
func (s *SettlementService) WithLocks(locks domain.LockManager, ttl, wait time.Duration) *SettlementService {
	s.locks = locks
	if ttl > 0 {
		s.lockTTL = ttl
	}
	if wait > 0 {
		s.lockWait = wait
	}
	return s
}

// WithBus publishes committed events.
func (s *SettlementService) WithBus(bus domain.SignalBus) *SettlementService {
	s.bus = bus
	return s
}

// WithAudit records one audit entry per committed operation.
func (s *SettlementService) WithAudit(audit domain.AuditStore) *SettlementService {
	s.audit = audit
	return s
}

// WithQuoteCache refreshes market quotes after every mutation.
func (s *SettlementService) WithQuoteCache(quotes domain.QuoteCache) *SettlementService {
	s.quotes = quotes
	return s
}

// WithNotifier forwards committed events to operator alerts.
func (s *SettlementService) WithNotifier(n EventNotifier) *SettlementService {
	s.notifier = n
	return s
}

// WithSigner attaches signed receipts to decision events.
func (s *SettlementService) WithSigner(signer ReceiptSigner) *SettlementService {
	s.signer = signer
	return s
}

// WithClock overrides the wall clock.
func (s *SettlementService) WithClock(now func() time.Time) *SettlementService {
	s.now = now
	return s
}

// Ledger exposes the underlying ledger for read paths.
func (s *SettlementService) Ledger() domain.Ledger { return s.ledger }

// Now is the service clock.
func (s *SettlementService) Now() time.Time { return s.now() }

// execute runs fn in one ledger transaction under the market lock and
// publishes its events after commit. A zero market skips the lock.
func execute[T any](ctx context.Context, s *SettlementService, op string, market domain.MarketID, caller common.Address, fn func(domain.LedgerTx, engine.Call) (T, error)) (T, error) {
	var zero T
	if market != (domain.MarketID{}) && s.locks != nil {
		unlock, err := s.acquire(ctx, market)
		if err != nil {
			return zero, fmt.Errorf("settlement_service: %s: %w", op, err)
		}
		defer unlock()
	}

	call := engine.Call{Caller: caller, Now: s.now()}
	var out T
	events, err := s.ledger.InTx(ctx, func(tx domain.LedgerTx) error {
		var err error
		out, err = fn(tx, call)
		return err
	})
	if err != nil {
		s.logger.DebugContext(ctx, "operation rejected",
			slog.String("op", op),
			slog.String("caller", caller.Hex()),
			slog.String("code", domain.ErrorCode(err)),
			slog.String("error", err.Error()),
		)
		return zero, fmt.Errorf("settlement_service: %s: %w", op, err)
	}

	s.logger.InfoContext(ctx, "operation committed",
		slog.String("op", op),
		slog.String("caller", caller.Hex()),
		slog.String("market_id", market.Hex()),
		slog.Int("events", len(events)),
	)
	s.afterCommit(ctx, op, caller, market, events)
	return out, nil
}

func (s *SettlementService) acquire(ctx context.Context, market domain.MarketID) (func(), error) {
	key := "market:" + market.Hex()
	deadline := time.Now().Add(s.lockWait)
	for {
		unlock, err := s.locks.Acquire(ctx, key, s.lockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) || time.Now().After(deadline) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryEvery):
		}
	}
}

// InitializeConfig creates the protocol config with the caller as admin.
func (s *SettlementService) InitializeConfig(ctx context.Context, caller common.Address, params domain.ConfigUpdate) (*domain.GlobalConfig, error) {
	return execute(ctx, s, "initialize_config", domain.MarketID{}, caller, func(tx domain.LedgerTx, call engine.Call) (*domain.GlobalConfig, error) {
		return s.engine.InitializeConfig(ctx, tx, call, params)
	})
}

// UpdateConfig applies u. Admin only.
func (s *SettlementService) UpdateConfig(ctx context.Context, caller common.Address, u domain.ConfigUpdate) (*domain.GlobalConfig, error) {
	return execute(ctx, s, "update_config", domain.MarketID{}, caller, func(tx domain.LedgerTx, call engine.Call) (*domain.GlobalConfig, error) {
		return s.engine.UpdateConfig(ctx, tx, call, u)
	})
}

// EmergencyPause toggles the pause flag and returns the new value.
func (s *SettlementService) EmergencyPause(ctx context.Context, caller common.Address) (bool, error) {
	return execute(ctx, s, "emergency_pause", domain.MarketID{}, caller, func(tx domain.LedgerTx, call engine.Call) (bool, error) {
		return s.engine.EmergencyPause(ctx, tx, call)
	})
}

// Deposit credits wallet and returns its new balance.
func (s *SettlementService) Deposit(ctx context.Context, caller, wallet common.Address, amount uint64) (uint64, error) {
	return execute(ctx, s, "deposit", domain.MarketID{}, caller, func(tx domain.LedgerTx, call engine.Call) (uint64, error) {
		return s.engine.Deposit(ctx, tx, call, wallet, amount)
	})
}

// CreateMarket proposes a market funded by the caller.
func (s *SettlementService) CreateMarket(ctx context.Context, caller common.Address, p engine.CreateMarketParams) (*domain.Market, error) {
	return execute(ctx, s, "create_market", p.ID, caller, func(tx domain.LedgerTx, call engine.Call) (*domain.Market, error) {
		return s.engine.CreateMarket(ctx, tx, call, p)
	})
}

// ActivateMarket opens an approved market for trading.
func (s *SettlementService) ActivateMarket(ctx context.Context, caller common.Address, id domain.MarketID) (*domain.Market, error) {
	return execute(ctx, s, "activate_market", id, caller, func(tx domain.LedgerTx, call engine.Call) (*domain.Market, error) {
		return s.engine.ActivateMarket(ctx, tx, call, id)
	})
}

// ResolveMarket proposes an outcome.
func (s *SettlementService) ResolveMarket(ctx context.Context, caller common.Address, id domain.MarketID, outcome domain.Outcome, evidence string) (*domain.Market, error) {
	return execute(ctx, s, "resolve_market", id, caller, func(tx domain.LedgerTx, call engine.Call) (*domain.Market, error) {
		return s.engine.ResolveMarket(ctx, tx, call, id, outcome, evidence)
	})
}

// InitiateDispute challenges the proposed outcome.
func (s *SettlementService) InitiateDispute(ctx context.Context, caller common.Address, id domain.MarketID) (*domain.Market, error) {
	return execute(ctx, s, "initiate_dispute", id, caller, func(tx domain.LedgerTx, call engine.Call) (*domain.Market, error) {
		return s.engine.InitiateDispute(ctx, tx, call, id)
	})
}

// FinalizeMarket settles a market; counts apply only to disputed markets.
func (s *SettlementService) FinalizeMarket(ctx context.Context, caller common.Address, id domain.MarketID, counts *engine.VoteCounts) (*domain.Market, error) {
	return execute(ctx, s, "finalize_market", id, caller, func(tx domain.LedgerTx, call engine.Call) (*domain.Market, error) {
		return s.engine.FinalizeMarket(ctx, tx, call, id, counts)
	})
}

// CancelMarket cancels a market that never traded.
func (s *SettlementService) CancelMarket(ctx context.Context, caller common.Address, id domain.MarketID) (*domain.Market, error) {
	return execute(ctx, s, "cancel_market", id, caller, func(tx domain.LedgerTx, call engine.Call) (*domain.Market, error) {
		return s.engine.CancelMarket(ctx, tx, call, id)
	})
}

// RecordVote stores the caller's ballot.
func (s *SettlementService) RecordVote(ctx context.Context, caller common.Address, id domain.MarketID, kind domain.VoteKind, value bool) (*domain.Vote, error) {
	return execute(ctx, s, "record_vote", id, caller, func(tx domain.LedgerTx, call engine.Call) (*domain.Vote, error) {
		return s.engine.RecordVote(ctx, tx, call, id, kind, value)
	})
}

// AggregateVotes applies externally tallied votes.
func (s *SettlementService) AggregateVotes(ctx context.Context, caller common.Address, id domain.MarketID, kind domain.VoteKind, agree, disagree uint64) (*engine.Decision, error) {
	return execute(ctx, s, "aggregate_votes", id, caller, func(tx domain.LedgerTx, call engine.Call) (*engine.Decision, error) {
		return s.engine.AggregateVotes(ctx, tx, call, id, kind, agree, disagree)
	})
}

// ApproveProposal approves a proposal whose recorded tally passes.
func (s *SettlementService) ApproveProposal(ctx context.Context, caller common.Address, id domain.MarketID) (*engine.Decision, error) {
	return execute(ctx, s, "approve_proposal", id, caller, func(tx domain.LedgerTx, call engine.Call) (*engine.Decision, error) {
		return s.engine.ApproveProposal(ctx, tx, call, id)
	})
}

// Buy purchases an exact share quantity.
func (s *SettlementService) Buy(ctx context.Context, caller common.Address, req engine.BuyRequest) (*engine.TradeResult, error) {
	return execute(ctx, s, "buy", req.MarketID, caller, func(tx domain.LedgerTx, call engine.Call) (*engine.TradeResult, error) {
		return s.engine.Buy(ctx, tx, call, req)
	})
}

// BuyWithBudget spends up to a budget.
func (s *SettlementService) BuyWithBudget(ctx context.Context, caller common.Address, req engine.BudgetBuyRequest) (*engine.TradeResult, error) {
	return execute(ctx, s, "buy_with_budget", req.MarketID, caller, func(tx domain.LedgerTx, call engine.Call) (*engine.TradeResult, error) {
		return s.engine.BuyWithBudget(ctx, tx, call, req)
	})
}

// Sell returns shares to the market maker.
func (s *SettlementService) Sell(ctx context.Context, caller common.Address, req engine.SellRequest) (*engine.TradeResult, error) {
	return execute(ctx, s, "sell", req.MarketID, caller, func(tx domain.LedgerTx, call engine.Call) (*engine.TradeResult, error) {
		return s.engine.Sell(ctx, tx, call, req)
	})
}

// ClaimWinnings pays out the caller's finalized position.
func (s *SettlementService) ClaimWinnings(ctx context.Context, caller common.Address, id domain.MarketID) (*engine.ClaimResult, error) {
	return execute(ctx, s, "claim_winnings", id, caller, func(tx domain.LedgerTx, call engine.Call) (*engine.ClaimResult, error) {
		return s.engine.ClaimWinnings(ctx, tx, call, id)
	})
}

// WithdrawLiquidity returns the creator's remaining pool.
func (s *SettlementService) WithdrawLiquidity(ctx context.Context, caller common.Address, id domain.MarketID) (uint64, error) {
	return execute(ctx, s, "withdraw_liquidity", id, caller, func(tx domain.LedgerTx, call engine.Call) (uint64, error) {
		return s.engine.WithdrawLiquidity(ctx, tx, call, id)
	})
}
