package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketsettle/internal/fixedpoint"
)

// Position is a user's holdings in one market. It doubles as the claim
// receipt once HasClaimed is set.
type Position struct {
	MarketID      MarketID
	User          common.Address
	SharesYes     uint64
	SharesNo      uint64
	TotalInvested uint64
	RealizedPnL   int64
	HasClaimed    bool
	ClaimedAmount uint64
	TradesCount   uint32
	LastTradeAt   time.Time
	CreatedAt     time.Time
}

// NewPosition returns an empty position for (market, user).
func NewPosition(market MarketID, user common.Address, at time.Time) *Position {
	return &Position{MarketID: market, User: user, CreatedAt: at}
}

// Shares returns the holdings on side.
func (p *Position) Shares(side Side) uint64 {
	if side == SideYes {
		return p.SharesYes
	}
	return p.SharesNo
}

// SetShares overwrites the holdings on side.
func (p *Position) SetShares(side Side, v uint64) {
	if side == SideYes {
		p.SharesYes = v
		return
	}
	p.SharesNo = v
}

// TotalShares is SharesYes + SharesNo.
func (p *Position) TotalShares() (uint64, error) {
	return fixedpoint.Add(p.SharesYes, p.SharesNo)
}

// AveragePrice is the cost basis per share in fixed point, 0 when flat.
func (p *Position) AveragePrice() (uint64, error) {
	total, err := p.TotalShares()
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	return fixedpoint.Div(p.TotalInvested, total)
}

// NetProfit is realized PnL including the claim payout. The boolean is
// false until the position has claimed.
func (p *Position) NetProfit() (int64, bool) {
	if !p.HasClaimed {
		return 0, false
	}
	return p.RealizedPnL, true
}

// Winnings computes the payout for a finalized outcome: one unit per
// winning share, or a full refund of both sides for INVALID.
func (p *Position) Winnings(outcome Outcome) (uint64, error) {
	switch outcome {
	case OutcomeYes:
		return p.SharesYes, nil
	case OutcomeNo:
		return p.SharesNo, nil
	case OutcomeInvalid:
		return fixedpoint.Add(p.SharesYes, p.SharesNo)
	default:
		return 0, ErrInvalidOutcome
	}
}
