package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketsettle/internal/domain"
	"github.com/alanyoungcy/marketsettle/internal/fixedpoint"
)

// ClaimResult reports a settled claim.
type ClaimResult struct {
	MarketID    domain.MarketID
	User        common.Address
	Outcome     domain.Outcome
	Winnings    uint64
	ResolverFee uint64
	Resolver    common.Address
	Position    *domain.Position
}

// ClaimWinnings pays the caller one unit per winning share, or both sides
// back when the market finalized INVALID. The first successful claim also
// pays the accumulated resolver fee, except on INVALID. A position claims
// at most once.
func (e *Engine) ClaimWinnings(ctx context.Context, tx domain.LedgerTx, call Call, id domain.MarketID) (*ClaimResult, error) {
	m, err := loadMarket(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if m.State != domain.MarketStateFinalized {
		return nil, fmt.Errorf("%w: market is %s", domain.ErrMarketNotFinalized, m.State)
	}
	pos, err := tx.Position(ctx, id, call.Caller)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrNoWinnings
	}
	if err != nil {
		return nil, fmt.Errorf("load position: %w", err)
	}
	if pos.HasClaimed {
		return nil, domain.ErrAlreadyClaimed
	}
	winnings, err := pos.Winnings(m.FinalOutcome)
	if err != nil {
		return nil, err
	}
	if winnings == 0 {
		return nil, domain.ErrNoWinnings
	}

	var (
		resolverFee uint64
		resolver    common.Address
	)
	if m.FinalOutcome != domain.OutcomeInvalid && m.AccumulatedResolverFee > 0 {
		resolverFee = m.AccumulatedResolverFee
		resolver = m.Resolver
		if resolver == (common.Address{}) {
			cfg, err := loadConfig(ctx, tx)
			if err != nil {
				return nil, err
			}
			resolver = cfg.ResolverWallet
		}
	}
	needed, err := fixedpoint.Add(winnings, resolverFee)
	if err != nil {
		return nil, err
	}
	poolBal, err := tx.Balance(ctx, m.PoolAccount())
	if err != nil {
		return nil, err
	}
	if poolBal < needed {
		return nil, fmt.Errorf("%w: pool %d < owed %d", domain.ErrInsufficientLiquidity, poolBal, needed)
	}
	delta, err := pnl(winnings, pos.TotalInvested)
	if err != nil {
		return nil, err
	}
	realized, err := addPnL(pos.RealizedPnL, delta)
	if err != nil {
		return nil, err
	}

	if err := tx.Transfer(ctx, m.PoolAccount(), domain.WalletAccount(call.Caller), winnings); err != nil {
		return nil, fmt.Errorf("pay winnings: %w", err)
	}
	if resolverFee > 0 {
		if err := tx.Transfer(ctx, m.PoolAccount(), domain.WalletAccount(resolver), resolverFee); err != nil {
			return nil, fmt.Errorf("pay resolver: %w", err)
		}
		m.AccumulatedResolverFee = 0
		m.UpdatedAt = call.Now
		if err := tx.UpdateMarket(ctx, m); err != nil {
			return nil, err
		}
	}

	pos.HasClaimed = true
	pos.ClaimedAmount = winnings
	pos.RealizedPnL = realized
	if err := tx.PutPosition(ctx, pos); err != nil {
		return nil, err
	}

	tx.Emit(domain.NewEvent(domain.EventWinningsClaimed, m.ID, call.Caller, call.Now, map[string]any{
		"outcome":      string(m.FinalOutcome),
		"winnings":     winnings,
		"resolver_fee": resolverFee,
		"resolver":     resolver.Hex(),
	}))
	return &ClaimResult{
		MarketID:    m.ID,
		User:        call.Caller,
		Outcome:     m.FinalOutcome,
		Winnings:    winnings,
		ResolverFee: resolverFee,
		Resolver:    resolver,
		Position:    pos,
	}, nil
}

// WithdrawLiquidity sends the creator everything in the pool above the
// market reserve and zeroes the liquidity and LP fee bookkeeping.
func (e *Engine) WithdrawLiquidity(ctx context.Context, tx domain.LedgerTx, call Call, id domain.MarketID) (uint64, error) {
	m, err := loadMarket(ctx, tx, id)
	if err != nil {
		return 0, err
	}
	if m.State != domain.MarketStateFinalized {
		return 0, fmt.Errorf("%w: market is %s", domain.ErrMarketNotFinalized, m.State)
	}
	if call.Caller != m.Creator {
		return 0, fmt.Errorf("%w: creator only", domain.ErrUnauthorized)
	}
	bal, err := tx.Balance(ctx, m.PoolAccount())
	if err != nil {
		return 0, err
	}
	if bal <= e.opts.MarketReserve {
		return 0, domain.ErrNoLiquidityToWithdraw
	}
	amount := bal - e.opts.MarketReserve

	if err := tx.Transfer(ctx, m.PoolAccount(), domain.WalletAccount(m.Creator), amount); err != nil {
		return 0, fmt.Errorf("pay creator: %w", err)
	}
	m.CurrentLiquidity = 0
	m.AccumulatedLPFee = 0
	m.UpdatedAt = call.Now
	if err := tx.UpdateMarket(ctx, m); err != nil {
		return 0, err
	}
	tx.Emit(domain.NewEvent(domain.EventLiquidityWithdrawn, m.ID, call.Caller, call.Now, map[string]any{
		"amount":  amount,
		"reserve": e.opts.MarketReserve,
	}))
	return amount, nil
}
