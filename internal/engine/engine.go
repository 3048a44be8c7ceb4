// Package engine implements the settlement rules of the prediction market:
// lifecycle transitions, vote aggregation, LMSR trading, claims and
// liquidity withdrawal.
//
// Every operation is a guard-then-mutate function over a domain.LedgerTx.
// All guards run before the first write, and the hosting transaction
// discards every write when an operation returns an error, so a failed call
// leaves the ledger unchanged. The engine performs no I/O of its own and
// never reads the wall clock: the caller identity and the current time
// arrive in a Call.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketsettle/internal/domain"
	"github.com/alanyoungcy/marketsettle/internal/fixedpoint"
)

// Default engine options.
const (
	DefaultMarketReserve  uint64 = 10_000
	DefaultMinTradeAmount uint64 = 10_000
)

// Options tunes host-specific limits.
type Options struct {
	// MarketReserve stays in a market pool after WithdrawLiquidity.
	MarketReserve uint64
	// MinTradeAmount is the smallest gross cost or proceeds accepted.
	MinTradeAmount uint64
}

// DefaultOptions returns the default limits.
func DefaultOptions() Options {
	return Options{
		MarketReserve:  DefaultMarketReserve,
		MinTradeAmount: DefaultMinTradeAmount,
	}
}

// Call carries the authenticated caller and the time the call is evaluated
// at.
type Call struct {
	Caller common.Address
	Now    time.Time
}

// Engine executes settlement operations.
type Engine struct {
	opts Options
}

// New creates an Engine.
func New(opts Options) *Engine {
	return &Engine{opts: opts}
}

// Options returns the engine limits.
func (e *Engine) Options() Options { return e.opts }

func loadConfig(ctx context.Context, tx domain.LedgerTx) (*domain.GlobalConfig, error) {
	cfg, err := tx.Config(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func loadMarket(ctx context.Context, tx domain.LedgerTx, id domain.MarketID) (*domain.Market, error) {
	m, err := tx.Market(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load market: %w", err)
	}
	return m, nil
}

// loadPosition returns the caller's position, or a fresh one when the
// caller has never traded the market.
func loadPosition(ctx context.Context, tx domain.LedgerTx, id domain.MarketID, user common.Address, now time.Time) (*domain.Position, error) {
	p, err := tx.Position(ctx, id, user)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewPosition(id, user, now), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load position: %w", err)
	}
	return p, nil
}

func requireAdmin(cfg *domain.GlobalConfig, caller common.Address) error {
	if caller != cfg.Admin {
		return fmt.Errorf("%w: admin only", domain.ErrUnauthorized)
	}
	return nil
}

func requireBackend(cfg *domain.GlobalConfig, caller common.Address) error {
	if caller != cfg.BackendAuthority {
		return fmt.Errorf("%w: backend authority only", domain.ErrUnauthorized)
	}
	return nil
}

func requireNotPaused(cfg *domain.GlobalConfig) error {
	if cfg.IsPaused {
		return domain.ErrProtocolPaused
	}
	return nil
}

func validateEvidence(ref string) error {
	if ref == "" || len(ref) > domain.MaxEvidenceLen {
		return fmt.Errorf("%w: length %d", domain.ErrInvalidEvidence, len(ref))
	}
	return nil
}

// add sums checked values.
func add(vals ...uint64) (uint64, error) {
	var sum uint64
	for _, v := range vals {
		var err error
		if sum, err = fixedpoint.Add(sum, v); err != nil {
			return 0, err
		}
	}
	return sum, nil
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// pnl is gain - basis as a signed amount.
func pnl(gain, basis uint64) (int64, error) {
	if gain > math.MaxInt64 || basis > math.MaxInt64 {
		return 0, domain.ErrOverflow
	}
	return int64(gain) - int64(basis), nil
}

func addPnL(acc, delta int64) (int64, error) {
	if (delta > 0 && acc > math.MaxInt64-delta) || (delta < 0 && acc < math.MinInt64-delta) {
		return 0, domain.ErrOverflow
	}
	return acc + delta, nil
}
