package lmsr

import (
	"github.com/alanyoungcy/marketsettle/internal/domain"
	"github.com/alanyoungcy/marketsettle/internal/fixedpoint"
)

// FeeBreakdown is the three-way split of a trade fee.
type FeeBreakdown struct {
	Protocol uint64
	Resolver uint64
	LP       uint64
}

// Total sums the three components.
func (f FeeBreakdown) Total() uint64 {
	return f.Protocol + f.Resolver + f.LP
}

// SplitFees charges the schedule on amount. The total is rounded up, the
// resolver and LP shares are rounded down, and the protocol takes the
// remainder, so fees are never under-collected and rounding dust always
// lands with the protocol.
func SplitFees(amount uint64, s domain.FeeSchedule) (FeeBreakdown, error) {
	total, err := fixedpoint.MulDivUp(amount, uint64(s.TotalBps()), domain.BpsDenominator)
	if err != nil {
		return FeeBreakdown{}, err
	}
	resolver, err := fixedpoint.MulDiv(amount, uint64(s.ResolverBps), domain.BpsDenominator)
	if err != nil {
		return FeeBreakdown{}, err
	}
	lp, err := fixedpoint.MulDiv(amount, uint64(s.LPBps), domain.BpsDenominator)
	if err != nil {
		return FeeBreakdown{}, err
	}
	return FeeBreakdown{
		Protocol: total - resolver - lp,
		Resolver: resolver,
		LP:       lp,
	}, nil
}
