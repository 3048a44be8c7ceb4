package engine_test

import (
	"math"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketsettle/internal/domain"
	"github.com/alanyoungcy/marketsettle/internal/engine"
)

func TestClaim_InvalidRefundsBothSides(t *testing.T) {
	h := newHarness(t)
	h.activeMarket(mkt(1))

	_, err := h.buy(mkt(1), alice, domain.SideYes, 15*one, math.MaxUint64)
	require.NoError(t, err)
	_, err = h.buy(mkt(1), alice, domain.SideNo, 5*one, math.MaxUint64)
	require.NoError(t, err)
	resolverFees := h.market(mkt(1)).AccumulatedResolverFee
	require.NotZero(t, resolverFees)

	h.settle(mkt(1), domain.OutcomeInvalid)

	before := h.balance(alice)
	r, err := h.claim(mkt(1), alice)
	require.NoError(t, err)
	assert.Equal(t, 20*one, r.Winnings)
	assert.Zero(t, r.ResolverFee)
	assert.Equal(t, before+20*one, h.balance(alice))
	assert.Zero(t, h.balance(oracle), "resolver is not paid on INVALID")
	assert.Equal(t, resolverFees, h.market(mkt(1)).AccumulatedResolverFee)

	p := h.position(mkt(1), alice)
	assert.True(t, p.HasClaimed)
	assert.Equal(t, 20*one, p.ClaimedAmount)
}

func TestClaim_NoDoubleClaim(t *testing.T) {
	h := newHarness(t)
	h.activeMarket(mkt(1))
	_, err := h.buy(mkt(1), alice, domain.SideYes, 10*one, math.MaxUint64)
	require.NoError(t, err)
	h.settle(mkt(1), domain.OutcomeYes)

	_, err = h.claim(mkt(1), alice)
	require.NoError(t, err)
	paid := h.balance(alice)
	pool := h.pool(mkt(1))

	_, err = h.claim(mkt(1), alice)
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
	assert.Equal(t, paid, h.balance(alice))
	assert.Equal(t, pool, h.pool(mkt(1)))
}

func TestClaim_ResolverPaidOnce(t *testing.T) {
	h := newHarness(t)
	h.activeMarket(mkt(1))
	_, err := h.buy(mkt(1), alice, domain.SideYes, 10*one, math.MaxUint64)
	require.NoError(t, err)
	_, err = h.buy(mkt(1), bob, domain.SideYes, 20*one, math.MaxUint64)
	require.NoError(t, err)
	fee := h.market(mkt(1)).AccumulatedResolverFee
	h.settle(mkt(1), domain.OutcomeYes)

	first, err := h.claim(mkt(1), alice)
	require.NoError(t, err)
	assert.Equal(t, fee, first.ResolverFee)
	assert.Equal(t, oracle, first.Resolver)
	assert.Equal(t, fee, h.balance(oracle))
	assert.Zero(t, h.market(mkt(1)).AccumulatedResolverFee)

	second, err := h.claim(mkt(1), bob)
	require.NoError(t, err)
	assert.Zero(t, second.ResolverFee)
	assert.Equal(t, 20*one, second.Winnings)
	assert.Equal(t, fee, h.balance(oracle))
}

func TestClaim_Guards(t *testing.T) {
	h := newHarness(t)
	h.activeMarket(mkt(1))
	_, err := h.buy(mkt(1), alice, domain.SideNo, 10*one, math.MaxUint64)
	require.NoError(t, err)

	_, err = h.claim(mkt(1), alice)
	assert.ErrorIs(t, err, domain.ErrMarketNotFinalized)

	h.settle(mkt(1), domain.OutcomeYes)

	_, err = h.claim(mkt(1), alice)
	assert.ErrorIs(t, err, domain.ErrNoWinnings, "holds only the losing side")
	_, err = h.claim(mkt(1), bob)
	assert.ErrorIs(t, err, domain.ErrNoWinnings, "never traded")
	assert.False(t, h.position(mkt(1), alice).HasClaimed)
}

func TestWithdrawLiquidity(t *testing.T) {
	h := newHarness(t)
	h.activeMarket(mkt(1))
	_, err := h.buy(mkt(1), alice, domain.SideYes, 10*one, math.MaxUint64)
	require.NoError(t, err)

	withdraw := func(who common.Address) (uint64, error) {
		amt, _, err := do(h, func(tx domain.LedgerTx) (uint64, error) {
			return h.e.WithdrawLiquidity(h.ctx, tx, h.as(who), mkt(1))
		})
		return amt, err
	}

	_, err = withdraw(creator)
	assert.ErrorIs(t, err, domain.ErrMarketNotFinalized)

	h.settle(mkt(1), domain.OutcomeNo)

	_, err = withdraw(alice)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	pool := h.pool(mkt(1))
	before := h.balance(creator)
	amt, err := withdraw(creator)
	require.NoError(t, err)
	assert.Equal(t, pool-engine.DefaultMarketReserve, amt)
	assert.Equal(t, before+amt, h.balance(creator))
	assert.Equal(t, engine.DefaultMarketReserve, h.pool(mkt(1)))

	m := h.market(mkt(1))
	assert.Zero(t, m.CurrentLiquidity)
	assert.Zero(t, m.AccumulatedLPFee)

	_, err = withdraw(creator)
	assert.ErrorIs(t, err, domain.ErrNoLiquidityToWithdraw)
}
