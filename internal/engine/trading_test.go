package engine_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketsettle/internal/domain"
	"github.com/alanyoungcy/marketsettle/internal/engine"
	"github.com/alanyoungcy/marketsettle/internal/lmsr"
)

func TestBuy(t *testing.T) {
	h := newHarness(t)
	h.activeMarket(mkt(1))
	aliceBefore := h.balance(alice)
	poolBefore := h.pool(mkt(1))

	r, err := h.buy(mkt(1), alice, domain.SideYes, 10*one, math.MaxUint64)
	require.NoError(t, err)

	assert.Equal(t, r.Gross+r.Fees.Total(), r.Amount)
	assert.Greater(t, r.PriceYes, one/2)
	assert.Equal(t, one, r.PriceYes+r.PriceNo)

	assert.Equal(t, aliceBefore-r.Amount, h.balance(alice))
	assert.Equal(t, poolBefore+r.Amount-r.Fees.Protocol, h.pool(mkt(1)))
	assert.Equal(t, r.Fees.Protocol, h.balance(protocol))

	m := h.market(mkt(1))
	assert.Equal(t, 10*one, m.SharesYes)
	assert.Zero(t, m.SharesNo)
	assert.Equal(t, r.Amount, m.TotalVolume)
	assert.Equal(t, 1_000*one+r.Fees.Resolver+r.Fees.LP, m.CurrentLiquidity)
	assert.Equal(t, r.Fees.Protocol, m.AccumulatedProtocolFee)
	assert.Equal(t, r.Fees.Resolver, m.AccumulatedResolverFee)
	assert.Equal(t, r.Fees.LP, m.AccumulatedLPFee)

	p := h.position(mkt(1), alice)
	assert.Equal(t, 10*one, p.SharesYes)
	assert.Equal(t, r.Amount, p.TotalInvested)
	assert.Equal(t, uint32(1), p.TradesCount)
	assert.Equal(t, t0, p.LastTradeAt)

	// A second buy accumulates rather than resetting the position.
	r2, err := h.buy(mkt(1), alice, domain.SideNo, 5*one, math.MaxUint64)
	require.NoError(t, err)
	p = h.position(mkt(1), alice)
	assert.Equal(t, 10*one, p.SharesYes)
	assert.Equal(t, 5*one, p.SharesNo)
	assert.Equal(t, r.Amount+r2.Amount, p.TotalInvested)
	assert.Equal(t, uint32(2), p.TradesCount)
}

func TestBuy_SlippageLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t)
	h.activeMarket(mkt(1))

	m := h.market(mkt(1))
	cfg, err := h.l.GetConfig(h.ctx)
	require.NoError(t, err)
	q, err := engine.QuoteTrade(m, cfg, domain.SideYes, 10*one, false)
	require.NoError(t, err)

	aliceBefore := h.balance(alice)
	poolBefore := h.pool(mkt(1))

	_, err = h.buy(mkt(1), alice, domain.SideYes, 10*one, q.Net-1)
	require.ErrorIs(t, err, domain.ErrSlippageExceeded)

	assert.Equal(t, m, h.market(mkt(1)))
	assert.Equal(t, aliceBefore, h.balance(alice))
	assert.Equal(t, poolBefore, h.pool(mkt(1)))
	_, err = h.l.GetPosition(h.ctx, mkt(1), alice)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	r, err := h.buy(mkt(1), alice, domain.SideYes, 10*one, q.Net)
	require.NoError(t, err)
	assert.Equal(t, q.Net, r.Amount)
}

func TestBuy_Guards(t *testing.T) {
	h := newHarness(t)
	h.create(mkt(1), 1_000*one, 1_000*one)
	h.activeMarket(mkt(2))

	_, err := h.buy(mkt(1), alice, domain.SideYes, one, math.MaxUint64)
	assert.ErrorIs(t, err, domain.ErrMarketNotActive)

	_, err = h.buy(mkt(2), alice, domain.SideYes, 0, math.MaxUint64)
	assert.ErrorIs(t, err, domain.ErrZeroAmount)

	_, err = h.buy(mkt(2), alice, domain.Side("maybe"), one, math.MaxUint64)
	assert.Error(t, err)

	_, err = h.buy(mkt(2), alice, domain.SideYes, 10, math.MaxUint64)
	assert.ErrorIs(t, err, domain.ErrTradeTooSmall)

	_, err = h.buy(mkt(2), alice, domain.SideYes, 5_000*one, math.MaxUint64)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	_, _, err = do(h, func(tx domain.LedgerTx) (bool, error) {
		return h.e.EmergencyPause(h.ctx, tx, h.as(admin))
	})
	require.NoError(t, err)
	_, err = h.buy(mkt(2), alice, domain.SideYes, one, math.MaxUint64)
	assert.ErrorIs(t, err, domain.ErrProtocolPaused)
}

func TestBuySell_RoundTrip(t *testing.T) {
	h := newHarness(t)
	h.activeMarket(mkt(1))
	start := h.balance(alice)

	bought, err := h.buy(mkt(1), alice, domain.SideYes, 10*one, math.MaxUint64)
	require.NoError(t, err)
	sold, err := h.sell(mkt(1), alice, domain.SideYes, 10*one, 0)
	require.NoError(t, err)

	assert.Equal(t, bought.Gross, sold.Gross, "no spread on an immediate round trip")
	assert.Less(t, sold.Amount, bought.Amount)
	assert.Equal(t, start-bought.Amount+sold.Amount, h.balance(alice))

	p := h.position(mkt(1), alice)
	assert.Zero(t, p.SharesYes)
	assert.Zero(t, p.TotalInvested)
	assert.Equal(t, int64(sold.Amount)-int64(bought.Amount), p.RealizedPnL)
	assert.Equal(t, uint32(2), p.TradesCount)

	m := h.market(mkt(1))
	assert.Zero(t, m.SharesYes)
	assert.Equal(t, bought.Amount+sold.Gross, m.TotalVolume)
	assert.Equal(t, one/2, sold.PriceYes)
}

func TestSell_Guards(t *testing.T) {
	h := newHarness(t)
	h.activeMarket(mkt(1))

	_, err := h.sell(mkt(1), alice, domain.SideYes, one, 0)
	assert.ErrorIs(t, err, domain.ErrInsufficientShares, "no position")

	_, err = h.buy(mkt(1), alice, domain.SideYes, 10*one, math.MaxUint64)
	require.NoError(t, err)

	_, err = h.sell(mkt(1), alice, domain.SideYes, 11*one, 0)
	assert.ErrorIs(t, err, domain.ErrInsufficientShares)
	_, err = h.sell(mkt(1), alice, domain.SideNo, one, 0)
	assert.ErrorIs(t, err, domain.ErrInsufficientShares)

	before := h.market(mkt(1))
	_, err = h.sell(mkt(1), alice, domain.SideYes, 10*one, 10*one)
	assert.ErrorIs(t, err, domain.ErrSlippageExceeded)
	assert.Equal(t, before, h.market(mkt(1)))
	assert.Equal(t, 10*one, h.position(mkt(1), alice).SharesYes)
}

func TestBuyWithBudget(t *testing.T) {
	h := newHarness(t)
	h.activeMarket(mkt(1))
	budget := 50 * one

	r, _, err := do(h, func(tx domain.LedgerTx) (*engine.TradeResult, error) {
		return h.e.BuyWithBudget(h.ctx, tx, h.as(alice), engine.BudgetBuyRequest{MarketID: mkt(1), Side: domain.SideNo, Budget: budget})
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, r.Amount, budget)
	assert.Greater(t, r.Shares, 80*one, "about 90 shares at ~0.5 after fees")
	assert.Equal(t, r.Shares, h.position(mkt(1), alice).SharesNo)

	// A slightly larger order would break the budget.
	cfg, err := h.l.GetConfig(h.ctx)
	require.NoError(t, err)
	m := h.market(mkt(1))
	m.SharesNo -= r.Shares
	q, err := engine.QuoteTrade(m, cfg, domain.SideNo, r.Shares+one/100, false)
	require.NoError(t, err)
	assert.Greater(t, q.Net, budget)
}

func TestQuoteTrade(t *testing.T) {
	h := newHarness(t)
	h.activeMarket(mkt(1))
	m := h.market(mkt(1))
	cfg, err := h.l.GetConfig(h.ctx)
	require.NoError(t, err)

	q, err := engine.QuoteTrade(m, cfg, domain.SideYes, 10*one, false)
	require.NoError(t, err)
	assert.Equal(t, one/2, q.PriceBefore)
	assert.Greater(t, q.PriceAfter, q.PriceBefore)

	_, err = engine.QuoteTrade(m, cfg, domain.SideYes, 10*one, true)
	assert.ErrorIs(t, err, domain.ErrInsufficientShares)

	mq, err := engine.MarketQuote(m, h.pool(mkt(1)), t0)
	require.NoError(t, err)
	assert.Equal(t, one/2, mq.PriceYes)
	assert.Equal(t, one/2, mq.PriceNo)
	assert.Equal(t, uint64(693_147_180_000), mq.MaxLoss)
	assert.Equal(t, 1_000*one, mq.PoolBalance)
	assert.Zero(t, mq.Exposure)
	assert.True(t, mq.Solvent)
}

func TestSell_RepeatedRoundTrips(t *testing.T) {
	h := newHarness(t)
	h.activeMarket(mkt(1))
	h.deposit(alice, 10_000*one)

	for round := 1; round <= 5; round++ {
		bought, err := h.buy(mkt(1), alice, domain.SideYes, 800*one, math.MaxUint64)
		require.NoError(t, err, "round %d buy", round)
		sold, err := h.sell(mkt(1), alice, domain.SideYes, 800*one, 0)
		require.NoError(t, err, "round %d sell", round)
		assert.Equal(t, bought.Gross, sold.Gross, "round %d", round)
	}

	m := h.market(mkt(1))
	assert.Zero(t, m.SharesYes)
	// Resolver and LP fees from both legs of every round stay pooled.
	pooled := m.AccumulatedResolverFee + m.AccumulatedLPFee
	assert.Equal(t, 1_000*one+pooled, h.pool(mkt(1)))

	sol, err := engine.CheckSolvency(m, h.pool(mkt(1)))
	require.NoError(t, err)
	assert.Zero(t, sol.Exposure)
	assert.Zero(t, sol.Subsidy)
}

func TestSell_PoolGatesPayout(t *testing.T) {
	h := newHarness(t)
	h.activeMarket(mkt(1))
	_, err := h.buy(mkt(1), alice, domain.SideYes, 100*one, math.MaxUint64)
	require.NoError(t, err)

	// Drain the pool behind the engine's back: the sell must now fail
	// on the balance, whatever the liquidity bookkeeping says.
	_, err = h.l.InTx(h.ctx, func(tx domain.LedgerTx) error {
		bal, err := tx.Balance(h.ctx, domain.PoolAccount(mkt(1)))
		if err != nil {
			return err
		}
		return tx.Transfer(h.ctx, domain.PoolAccount(mkt(1)), domain.WalletAccount(bob), bal-one)
	})
	require.NoError(t, err)

	before := h.market(mkt(1))
	_, err = h.sell(mkt(1), alice, domain.SideYes, 100*one, 0)
	assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)
	assert.Equal(t, before, h.market(mkt(1)))
}

func TestCheckSolvency(t *testing.T) {
	h := newHarness(t)
	h.activeMarket(mkt(1))
	h.deposit(alice, 10_000*one)

	_, err := h.buy(mkt(1), alice, domain.SideYes, 3_000*one, math.MaxUint64)
	require.NoError(t, err)
	_, err = h.buy(mkt(1), bob, domain.SideNo, 10*one, math.MaxUint64)
	require.NoError(t, err)

	m := h.market(mkt(1))
	pool := h.pool(mkt(1))
	sol, err := engine.CheckSolvency(m, pool)
	require.NoError(t, err)
	assert.Equal(t, 3_000*one, sol.Exposure)
	assert.Equal(t, 3_010*one, sol.InvalidExposure)
	assert.Greater(t, sol.Subsidy, uint64(0))
	assert.LessOrEqual(t, sol.Subsidy, lmsr.MaxLoss(m.BParameter)+lmsr.CostTolerance(m.BParameter))
	assert.GreaterOrEqual(t, pool, sol.Exposure)

	_, err = engine.CheckSolvency(m, sol.Exposure-1)
	assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)

	mq, err := engine.MarketQuote(m, sol.Exposure-1, t0)
	require.NoError(t, err, "insolvency is reported, not returned")
	assert.False(t, mq.Solvent)
	assert.Equal(t, sol.Exposure, mq.Exposure)
}
