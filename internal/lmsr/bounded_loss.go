package lmsr

import (
	"fmt"

	"github.com/alanyoungcy/marketsettle/internal/domain"
	"github.com/alanyoungcy/marketsettle/internal/fixedpoint"
)

// MaxLoss is the worst-case market-maker loss for a binary market: b * ln 2.
func MaxLoss(b uint64) uint64 {
	// Ln2 < Precision, so the result never exceeds b.
	v, _ := fixedpoint.MulDiv(b, fixedpoint.Ln2, fixedpoint.Precision)
	return v
}

// BParameterForMaxLoss is the b that caps the market-maker loss at maxLoss.
func BParameterForMaxLoss(maxLoss uint64) (uint64, error) {
	if maxLoss == 0 {
		return 0, fmt.Errorf("%w: max loss must be > 0", domain.ErrInvalidLMSRParameter)
	}
	return fixedpoint.MulDiv(maxLoss, fixedpoint.Precision, fixedpoint.Ln2)
}

// VerifyBoundedLoss fails when liquidity has fallen more than MaxLoss(b)
// below the initial subsidy.
func VerifyBoundedLoss(initial, current, b uint64) error {
	if current >= initial {
		return nil
	}
	if loss, bound := initial-current, MaxLoss(b); loss > bound {
		return fmt.Errorf("%w: loss %d > bound %d", domain.ErrBoundedLossExceeded, loss, bound)
	}
	return nil
}

// CostTolerance is the rounding error two Cost evaluations at b may carry.
func CostTolerance(b uint64) uint64 {
	return 2*(b/fixedpoint.Precision) + 2
}

// VerifySubsidy returns the maker subsidy at q and fails with
// ErrBoundedLossExceeded when it exceeds MaxLoss(b) beyond rounding.
func (l *LMSR) VerifySubsidy(qYes, qNo uint64) (uint64, error) {
	payout, collected, err := l.exposure(qYes, qNo)
	if err != nil {
		return 0, err
	}
	var subsidy uint64
	if payout > collected {
		subsidy = payout - collected
	}
	if err := VerifyBoundedLoss(payout, collected+CostTolerance(l.b), l.b); err != nil {
		return subsidy, err
	}
	return subsidy, nil
}
