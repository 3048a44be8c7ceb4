// Package lmsr implements the Logarithmic Market Scoring Rule for binary
// markets in 9-decimal fixed point.
//
// LMSR provides:
//   - bounded loss for the market maker (b * ln 2 for two outcomes)
//   - always-available liquidity
//   - prices that read as probabilities and sum to one
//
// The cost function is evaluated with the log-sum-exp shift
// ln(e^x + e^y) = max(x, y) + ln(1 + e^-|x-y|), so no positive exponent is
// ever taken and large q/b ratios cannot overflow.
package lmsr

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/marketsettle/internal/domain"
	"github.com/alanyoungcy/marketsettle/internal/fixedpoint"
)

const (
	// MaxShareFactor bounds a single purchase to MaxShareFactor * b shares,
	// keeping q/b within the exponent range of the approximation.
	MaxShareFactor = 20
	// MaxSearchIterations caps SharesForCost. The search interval is at
	// most 2^64 wide so 64 halvings always suffice.
	MaxSearchIterations = 64
)

// LMSR is a market maker with liquidity parameter b.
type LMSR struct {
	b uint64
}

// New creates a market maker. b must be positive.
func New(b uint64) (*LMSR, error) {
	if b == 0 {
		return nil, fmt.Errorf("%w: b must be > 0", domain.ErrInvalidLMSRParameter)
	}
	return &LMSR{b: b}, nil
}

// B returns the liquidity parameter.
func (l *LMSR) B() uint64 { return l.b }

// Cost evaluates C(qYes, qNo) = b * ln(e^(qYes/b) + e^(qNo/b)).
func (l *LMSR) Cost(qYes, qNo uint64) (uint64, error) {
	x, err := fixedpoint.Div(qYes, l.b)
	if err != nil {
		return 0, err
	}
	y, err := fixedpoint.Div(qNo, l.b)
	if err != nil {
		return 0, err
	}
	lse, err := logSumExp(x, y)
	if err != nil {
		return 0, err
	}
	return fixedpoint.Mul(l.b, lse)
}

// PriceYes is e^(qYes/b) / (e^(qYes/b) + e^(qNo/b)), in [0, Precision].
func (l *LMSR) PriceYes(qYes, qNo uint64) (uint64, error) {
	if qYes >= qNo {
		d, err := fixedpoint.Div(qYes-qNo, l.b)
		if err != nil {
			return 0, err
		}
		t := fixedpoint.ExpNeg(d)
		return fixedpoint.Div(fixedpoint.Precision, fixedpoint.Precision+t)
	}
	d, err := fixedpoint.Div(qNo-qYes, l.b)
	if err != nil {
		return 0, err
	}
	t := fixedpoint.ExpNeg(d)
	return fixedpoint.Div(t, fixedpoint.Precision+t)
}

// PriceNo is 1 - PriceYes, so the two always sum to exactly one.
func (l *LMSR) PriceNo(qYes, qNo uint64) (uint64, error) {
	p, err := l.PriceYes(qYes, qNo)
	if err != nil {
		return 0, err
	}
	return fixedpoint.Precision - p, nil
}

// Price returns the instantaneous price of side.
func (l *LMSR) Price(qYes, qNo uint64, side domain.Side) (uint64, error) {
	if side == domain.SideYes {
		return l.PriceYes(qYes, qNo)
	}
	return l.PriceNo(qYes, qNo)
}

// BuyCost is C(q + shares on side) - C(q).
func (l *LMSR) BuyCost(qYes, qNo uint64, side domain.Side, shares uint64) (uint64, error) {
	nYes, nNo, err := shift(qYes, qNo, side, shares, true)
	if err != nil {
		return 0, err
	}
	return l.costDelta(qYes, qNo, nYes, nNo)
}

// SellProceeds is C(q) - C(q - shares on side). Selling more than is
// outstanding fails with ErrInsufficientShares.
func (l *LMSR) SellProceeds(qYes, qNo uint64, side domain.Side, shares uint64) (uint64, error) {
	nYes, nNo, err := shift(qYes, qNo, side, shares, false)
	if err != nil {
		return 0, err
	}
	return l.costDelta(nYes, nNo, qYes, qNo)
}

// SharesForCost finds the largest share quantity on side whose BuyCost
// does not exceed budget, searching [0, MaxShareFactor*b]. It returns the
// quantity and its exact cost.
func (l *LMSR) SharesForCost(qYes, qNo uint64, side domain.Side, budget uint64) (shares, cost uint64, err error) {
	if budget == 0 {
		return 0, 0, nil
	}
	upper, err := fixedpoint.MulDiv(MaxShareFactor, l.b, 1)
	if err != nil {
		upper = math.MaxUint64
	}
	held := qYes
	if side == domain.SideNo {
		held = qNo
	}
	if headroom := math.MaxUint64 - held; upper > headroom {
		upper = headroom
	}

	before, err := l.Cost(qYes, qNo)
	if err != nil {
		return 0, 0, err
	}
	costAt := func(s uint64) (uint64, error) {
		nYes, nNo, err := shift(qYes, qNo, side, s, true)
		if err != nil {
			return 0, err
		}
		after, err := l.Cost(nYes, nNo)
		if err != nil {
			return 0, err
		}
		if after < before {
			return 0, nil
		}
		return after - before, nil
	}

	top, err := costAt(upper)
	if err != nil {
		return 0, 0, err
	}
	if top <= budget {
		return upper, top, nil
	}

	lo, hi := uint64(0), upper
	loCost := uint64(0)
	for iter := 0; hi-lo > 1; iter++ {
		if iter == MaxSearchIterations {
			return 0, 0, domain.ErrSearchDiverged
		}
		mid := lo + (hi-lo)/2
		c, err := costAt(mid)
		if err != nil {
			return 0, 0, err
		}
		if c <= budget {
			lo, loCost = mid, c
		} else {
			hi = mid
		}
	}
	return lo, loCost, nil
}

// Subsidy is the market maker's worst-case payout minus what traders have
// paid in: max(qYes, qNo) - (C(q) - C(0)), floored at zero. LMSR keeps this
// at or below MaxLoss(b).
func (l *LMSR) Subsidy(qYes, qNo uint64) (uint64, error) {
	payout, collected, err := l.exposure(qYes, qNo)
	if err != nil {
		return 0, err
	}
	if payout <= collected {
		return 0, nil
	}
	return payout - collected, nil
}

// exposure returns the payout owed to the larger side and the cost traders
// have paid in to reach q.
func (l *LMSR) exposure(qYes, qNo uint64) (payout, collected uint64, err error) {
	c0, err := l.Cost(0, 0)
	if err != nil {
		return 0, 0, err
	}
	cq, err := l.Cost(qYes, qNo)
	if err != nil {
		return 0, 0, err
	}
	if cq > c0 {
		collected = cq - c0
	}
	return max(qYes, qNo), collected, nil
}

func (l *LMSR) costDelta(fromYes, fromNo, toYes, toNo uint64) (uint64, error) {
	before, err := l.Cost(fromYes, fromNo)
	if err != nil {
		return 0, err
	}
	after, err := l.Cost(toYes, toNo)
	if err != nil {
		return 0, err
	}
	// Rounding can make a sub-unit move evaluate one unit lower.
	if after < before {
		return 0, nil
	}
	return after - before, nil
}

func logSumExp(x, y uint64) (uint64, error) {
	hi, diff := x, x-y
	if y > x {
		hi, diff = y, y-x
	}
	onePlus, err := fixedpoint.Add(fixedpoint.Precision, fixedpoint.ExpNeg(diff))
	if err != nil {
		return 0, err
	}
	tail, err := fixedpoint.LnUnsigned(onePlus)
	if err != nil {
		return 0, err
	}
	return fixedpoint.Add(hi, tail)
}

func shift(qYes, qNo uint64, side domain.Side, shares uint64, add bool) (uint64, uint64, error) {
	q := qYes
	if side == domain.SideNo {
		q = qNo
	}
	var (
		n   uint64
		err error
	)
	if add {
		n, err = fixedpoint.Add(q, shares)
	} else if shares > q {
		err = domain.ErrInsufficientShares
	} else {
		n = q - shares
	}
	if err != nil {
		return 0, 0, err
	}
	if side == domain.SideYes {
		return n, qNo, nil
	}
	return qYes, n, nil
}
