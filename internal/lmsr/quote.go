package lmsr

import (
	"github.com/alanyoungcy/marketsettle/internal/domain"
	"github.com/alanyoungcy/marketsettle/internal/fixedpoint"
)

// TradeQuote previews one trade against the current share vector.
type TradeQuote struct {
	Side        domain.Side
	Shares      uint64
	Gross       uint64 // raw LMSR cost (buy) or proceeds (sell)
	Fees        FeeBreakdown
	Net         uint64 // gross + fees for a buy, gross - fees for a sell
	PriceBefore uint64
	PriceAfter  uint64
}

// QuoteBuy prices buying shares on side including fees.
func (l *LMSR) QuoteBuy(qYes, qNo uint64, side domain.Side, shares uint64, fees domain.FeeSchedule) (TradeQuote, error) {
	cost, err := l.BuyCost(qYes, qNo, side, shares)
	if err != nil {
		return TradeQuote{}, err
	}
	split, err := SplitFees(cost, fees)
	if err != nil {
		return TradeQuote{}, err
	}
	total := cost + split.Total()
	if total < cost {
		return TradeQuote{}, domain.ErrOverflow
	}
	nYes, nNo, _ := shift(qYes, qNo, side, shares, true)
	return l.quote(qYes, qNo, nYes, nNo, TradeQuote{
		Side: side, Shares: shares, Gross: cost, Fees: split, Net: total,
	})
}

// QuoteSell prices selling shares on side net of fees. Proceeds smaller
// than the fee quote as zero net.
func (l *LMSR) QuoteSell(qYes, qNo uint64, side domain.Side, shares uint64, fees domain.FeeSchedule) (TradeQuote, error) {
	proceeds, err := l.SellProceeds(qYes, qNo, side, shares)
	if err != nil {
		return TradeQuote{}, err
	}
	split, err := SplitFees(proceeds, fees)
	if err != nil {
		return TradeQuote{}, err
	}
	net := uint64(0)
	if t := split.Total(); proceeds > t {
		net = proceeds - t
	}
	nYes, nNo, _ := shift(qYes, qNo, side, shares, false)
	return l.quote(qYes, qNo, nYes, nNo, TradeQuote{
		Side: side, Shares: shares, Gross: proceeds, Fees: split, Net: net,
	})
}

func (l *LMSR) quote(qYes, qNo, nYes, nNo uint64, q TradeQuote) (TradeQuote, error) {
	before, err := l.Price(qYes, qNo, q.Side)
	if err != nil {
		return TradeQuote{}, err
	}
	after, err := l.Price(nYes, nNo, q.Side)
	if err != nil {
		return TradeQuote{}, err
	}
	q.PriceBefore, q.PriceAfter = before, after
	return q, nil
}

// Snapshot is the pricing state of a share vector.
type Snapshot struct {
	PriceYes uint64
	PriceNo  uint64
	Cost     uint64
	MaxLoss  uint64
}

// Snapshot prices the current share vector.
func (l *LMSR) Snapshot(qYes, qNo uint64) (Snapshot, error) {
	yes, err := l.PriceYes(qYes, qNo)
	if err != nil {
		return Snapshot{}, err
	}
	cost, err := l.Cost(qYes, qNo)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		PriceYes: yes,
		PriceNo:  fixedpoint.Precision - yes,
		Cost:     cost,
		MaxLoss:  MaxLoss(l.b),
	}, nil
}
