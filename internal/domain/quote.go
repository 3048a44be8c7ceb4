package domain

import "time"

// MarketQuote is a cached pricing snapshot of a market, refreshed after
// every committed mutation.
type MarketQuote struct {
	MarketID         MarketID    `json:"market_id"`
	State            MarketState `json:"state"`
	PriceYes         uint64      `json:"price_yes"`
	PriceNo          uint64      `json:"price_no"`
	SharesYes        uint64      `json:"shares_yes"`
	SharesNo         uint64      `json:"shares_no"`
	BParameter       uint64      `json:"b_parameter"`
	CurrentLiquidity uint64      `json:"current_liquidity"`
	TotalVolume      uint64      `json:"total_volume"`
	MaxLoss          uint64      `json:"max_loss"`
	PoolBalance      uint64      `json:"pool_balance"`
	Exposure         uint64      `json:"exposure"`
	Subsidy          uint64      `json:"subsidy"`
	Solvent          bool        `json:"solvent"`
	UpdatedAt        time.Time   `json:"updated_at"`
}
