package lmsr_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/alanyoungcy/marketsettle/internal/domain"
	"github.com/alanyoungcy/marketsettle/internal/fixedpoint"
	"github.com/alanyoungcy/marketsettle/internal/lmsr"
)

const one = fixedpoint.Precision

func newMaker(t testing.TB, b uint64) *lmsr.LMSR {
	t.Helper()
	m, err := lmsr.New(b)
	require.NoError(t, err)
	return m
}

func floatCost(b, qYes, qNo float64) float64 {
	return b * math.Log(math.Exp(qYes/b)+math.Exp(qNo/b))
}

func TestNew_RejectsZeroB(t *testing.T) {
	_, err := lmsr.New(0)
	assert.ErrorIs(t, err, domain.ErrInvalidLMSRParameter)
}

func TestCost(t *testing.T) {
	m := newMaker(t, 100*one)

	c, err := m.Cost(0, 0)
	require.NoError(t, err)
	assert.InDelta(t, 100*math.Ln2*float64(one), float64(c), 200)

	tests := []struct {
		name      string
		qYes, qNo uint64
	}{
		{"yes heavy", 50 * one, 0},
		{"no heavy", 0, 80 * one},
		{"balanced", 40 * one, 40 * one},
		{"skewed", 300 * one, 10 * one},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Cost(tt.qYes, tt.qNo)
			require.NoError(t, err)
			want := floatCost(100, float64(tt.qYes)/float64(one), float64(tt.qNo)/float64(one)) * float64(one)
			assert.InEpsilon(t, want, float64(got), 1e-6)
		})
	}
}

func TestPrice(t *testing.T) {
	m := newMaker(t, 100*one)

	p, err := m.PriceYes(0, 0)
	require.NoError(t, err)
	assert.Equal(t, one/2, p)

	p, err = m.PriceYes(100*one, 0)
	require.NoError(t, err)
	assert.InDelta(t, 731_058_579, float64(p), 2)

	p, err = m.PriceNo(100*one, 0)
	require.NoError(t, err)
	assert.InDelta(t, 268_941_421, float64(p), 2)

	// Far past the exponent cutoff the price saturates instead of failing.
	p, err = m.PriceYes(5_000*one, 0)
	require.NoError(t, err)
	assert.Equal(t, one, p)
	p, err = m.Price(5_000*one, 0, domain.SideNo)
	require.NoError(t, err)
	assert.Zero(t, p)
}

func TestBuyCost(t *testing.T) {
	m := newMaker(t, 100*one)

	cost, err := m.BuyCost(0, 0, domain.SideYes, 10*one)
	require.NoError(t, err)
	want := (floatCost(100, 10, 0) - floatCost(100, 0, 0)) * float64(one)
	assert.InEpsilon(t, want, float64(cost), 1e-5)

	// Symmetric book prices both sides identically.
	costNo, err := m.BuyCost(0, 0, domain.SideNo, 10*one)
	require.NoError(t, err)
	assert.Equal(t, cost, costNo)

	// Cost exceeds price * shares because the price moves against the buyer.
	assert.Greater(t, cost, 5*one)
	assert.Less(t, cost, 10*one)
}

func TestSellProceeds(t *testing.T) {
	m := newMaker(t, 100*one)

	_, err := m.SellProceeds(5*one, 0, domain.SideYes, 6*one)
	assert.ErrorIs(t, err, domain.ErrInsufficientShares)

	cost, err := m.BuyCost(0, 0, domain.SideYes, 10*one)
	require.NoError(t, err)
	proceeds, err := m.SellProceeds(10*one, 0, domain.SideYes, 10*one)
	require.NoError(t, err)
	assert.Equal(t, cost, proceeds)
}

func TestSharesForCost(t *testing.T) {
	m := newMaker(t, 1_000*one)

	shares, cost, err := m.SharesForCost(0, 0, domain.SideYes, 50*one)
	require.NoError(t, err)
	assert.LessOrEqual(t, cost, 50*one)
	assert.Greater(t, shares, 50*one, "price is below one so the budget buys more than its face value")

	exact, err := m.BuyCost(0, 0, domain.SideYes, shares)
	require.NoError(t, err)
	assert.Equal(t, cost, exact)

	next, err := m.BuyCost(0, 0, domain.SideYes, shares+1)
	require.NoError(t, err)
	assert.Greater(t, next, 50*one)

	shares, cost, err = m.SharesForCost(0, 0, domain.SideNo, 0)
	require.NoError(t, err)
	assert.Zero(t, shares)
	assert.Zero(t, cost)
}

func TestSharesForCost_CapsAtUpperBound(t *testing.T) {
	m := newMaker(t, 10*one)
	shares, _, err := m.SharesForCost(0, 0, domain.SideYes, 1_000_000*one)
	require.NoError(t, err)
	assert.Equal(t, uint64(lmsr.MaxShareFactor)*10*one, shares)
}

func TestSubsidy(t *testing.T) {
	m := newMaker(t, 100*one)

	s, err := m.Subsidy(0, 0)
	require.NoError(t, err)
	assert.Zero(t, s)

	// Heavily one-sided book approaches but never exceeds b * ln 2.
	s, err = m.Subsidy(2_000*one, 0)
	require.NoError(t, err)
	assert.InDelta(t, float64(lmsr.MaxLoss(100*one)), float64(s), 300)
}

func TestRoundTrip_LargeB(t *testing.T) {
	fees := domain.FeeSchedule{ProtocolBps: 300, ResolverBps: 200, LPBps: 500}
	m := newMaker(t, 1_000*one)

	buy, err := m.QuoteBuy(0, 0, domain.SideYes, 10*one, fees)
	require.NoError(t, err)
	sell, err := m.QuoteSell(10*one, 0, domain.SideYes, 10*one, fees)
	require.NoError(t, err)

	assert.Equal(t, buy.Gross, sell.Gross)
	assert.Less(t, sell.Net, buy.Net)
	assert.Greater(t, buy.PriceAfter, buy.PriceBefore)
	assert.Less(t, sell.PriceAfter, sell.PriceBefore)
}

func TestProperty_PricesSumToOne(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := rapid.Uint64Range(1_000_000, 10_000*one).Draw(t, "b")
		qYes := rapid.Uint64Range(0, 1_000_000*one).Draw(t, "qYes")
		qNo := rapid.Uint64Range(0, 1_000_000*one).Draw(t, "qNo")
		m, err := lmsr.New(b)
		require.NoError(t, err)

		yes, err := m.PriceYes(qYes, qNo)
		require.NoError(t, err)
		no, err := m.PriceNo(qYes, qNo)
		require.NoError(t, err)
		assert.Equal(t, one, yes+no)
		assert.LessOrEqual(t, yes, one)
	})
}

func TestProperty_BuyingRaisesPrice(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := rapid.Uint64Range(one, 10_000*one).Draw(t, "b")
		qYes := rapid.Uint64Range(0, 100_000*one).Draw(t, "qYes")
		qNo := rapid.Uint64Range(0, 100_000*one).Draw(t, "qNo")
		delta := rapid.Uint64Range(1, 1_000*one).Draw(t, "delta")
		m, err := lmsr.New(b)
		require.NoError(t, err)

		before, err := m.PriceYes(qYes, qNo)
		require.NoError(t, err)
		after, err := m.PriceYes(qYes+delta, qNo)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, after, before)
	})
}

func TestProperty_SellingLowersPrice(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := rapid.Uint64Range(one, 10_000*one).Draw(t, "b")
		delta := rapid.Uint64Range(1, 1_000*one).Draw(t, "delta")
		qYes := rapid.Uint64Range(delta, delta+100_000*one).Draw(t, "qYes")
		qNo := rapid.Uint64Range(0, 100_000*one).Draw(t, "qNo")
		m, err := lmsr.New(b)
		require.NoError(t, err)

		before, err := m.PriceYes(qYes, qNo)
		require.NoError(t, err)
		after, err := m.PriceYes(qYes-delta, qNo)
		require.NoError(t, err)
		assert.LessOrEqual(t, after, before)

		// The NO price moves the other way.
		noBefore, err := m.PriceNo(qYes, qNo)
		require.NoError(t, err)
		noAfter, err := m.PriceNo(qYes-delta, qNo)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, noAfter, noBefore)
	})
}

func TestProperty_SellProceedsDecline(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := rapid.Uint64Range(one, 10_000*one).Draw(t, "b")
		delta := rapid.Uint64Range(one, 1_000*one).Draw(t, "delta")
		qYes := rapid.Uint64Range(2*delta, 2*delta+50_000*one).Draw(t, "qYes")
		qNo := rapid.Uint64Range(0, 50_000*one).Draw(t, "qNo")
		m, err := lmsr.New(b)
		require.NoError(t, err)
		// Two differences of rounded costs are compared.
		tol := 2 * lmsr.CostTolerance(b)

		// Each successive chunk sells at a lower price.
		first, err := m.SellProceeds(qYes, qNo, domain.SideYes, delta)
		require.NoError(t, err)
		second, err := m.SellProceeds(qYes-delta, qNo, domain.SideYes, delta)
		require.NoError(t, err)
		assert.LessOrEqual(t, second, first+tol)

		// Selling returns no more than buying the same shares back costs.
		buyBack, err := m.BuyCost(qYes-delta, qNo, domain.SideYes, delta)
		require.NoError(t, err)
		assert.LessOrEqual(t, first, buyBack+tol)
		assert.LessOrEqual(t, first, delta+tol, "a share never sells above one unit")
	})
}

func TestProperty_BoundedLoss(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := rapid.Uint64Range(one, 10_000*one).Draw(t, "b")
		m, err := lmsr.New(b)
		require.NoError(t, err)

		var qYes, qNo uint64
		n := rapid.IntRange(1, 20).Draw(t, "trades")
		for i := 0; i < n; i++ {
			amt := rapid.Uint64Range(1, 5*b).Draw(t, "amt")
			if rapid.Bool().Draw(t, "yes") {
				qYes += amt
			} else {
				qNo += amt
			}
		}
		s, err := m.VerifySubsidy(qYes, qNo)
		require.NoError(t, err)
		assert.LessOrEqual(t, s, lmsr.MaxLoss(b)+lmsr.CostTolerance(b))
	})
}

func TestProperty_SharesForCostIsTight(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := rapid.Uint64Range(one, 10_000*one).Draw(t, "b")
		qYes := rapid.Uint64Range(0, 10*b).Draw(t, "qYes")
		budget := rapid.Uint64Range(1, 10*b).Draw(t, "budget")
		m, err := lmsr.New(b)
		require.NoError(t, err)

		shares, cost, err := m.SharesForCost(qYes, 0, domain.SideYes, budget)
		require.NoError(t, err)
		assert.LessOrEqual(t, cost, budget)
		if shares < lmsr.MaxShareFactor*b {
			next, err := m.BuyCost(qYes, 0, domain.SideYes, shares+1)
			require.NoError(t, err)
			assert.Greater(t, next, budget)
		}
	})
}
