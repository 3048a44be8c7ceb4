package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/marketsettle/internal/domain"
	"github.com/alanyoungcy/marketsettle/internal/fixedpoint"
	"github.com/alanyoungcy/marketsettle/internal/lmsr"
)

// QuoteTrade previews a buy or sell of shares on side against a market
// snapshot. It mutates nothing and applies the same fee split as the
// executing operations.
func QuoteTrade(m *domain.Market, cfg *domain.GlobalConfig, side domain.Side, shares uint64, sell bool) (lmsr.TradeQuote, error) {
	if _, err := domain.ParseSide(string(side)); err != nil {
		return lmsr.TradeQuote{}, err
	}
	if shares == 0 {
		return lmsr.TradeQuote{}, domain.ErrZeroAmount
	}
	maker, err := lmsr.New(m.BParameter)
	if err != nil {
		return lmsr.TradeQuote{}, err
	}
	if sell {
		return maker.QuoteSell(m.SharesYes, m.SharesNo, side, shares, cfg.Fees())
	}
	return maker.QuoteBuy(m.SharesYes, m.SharesNo, side, shares, cfg.Fees())
}

// MarketQuote builds the cacheable pricing view of m given its pool
// balance. Solvency problems are reported in the quote, not returned.
func MarketQuote(m *domain.Market, pool uint64, at time.Time) (domain.MarketQuote, error) {
	maker, err := lmsr.New(m.BParameter)
	if err != nil {
		return domain.MarketQuote{}, err
	}
	snap, err := maker.Snapshot(m.SharesYes, m.SharesNo)
	if err != nil {
		return domain.MarketQuote{}, fmt.Errorf("snapshot %s: %w", m.ID.Hex(), err)
	}
	sol, solErr := CheckSolvency(m, pool)
	if solErr != nil && !isSolvencyError(solErr) {
		return domain.MarketQuote{}, fmt.Errorf("solvency %s: %w", m.ID.Hex(), solErr)
	}
	return domain.MarketQuote{
		MarketID:         m.ID,
		State:            m.State,
		PriceYes:         snap.PriceYes,
		PriceNo:          snap.PriceNo,
		SharesYes:        m.SharesYes,
		SharesNo:         m.SharesNo,
		BParameter:       m.BParameter,
		CurrentLiquidity: m.CurrentLiquidity,
		TotalVolume:      m.TotalVolume,
		MaxLoss:          snap.MaxLoss,
		PoolBalance:      pool,
		Exposure:         sol.Exposure,
		Subsidy:          sol.Subsidy,
		Solvent:          solErr == nil,
		UpdatedAt:        at,
	}, nil
}

// Solvency measures a market's pool against what it may have to pay out.
type Solvency struct {
	Pool uint64
	// Exposure is owed to the larger side if it wins.
	Exposure uint64
	// InvalidExposure is owed if the market finalizes INVALID and every
	// share is refunded. LMSR does not bound it.
	InvalidExposure uint64
	// Subsidy is the part of Exposure traders have not paid for.
	Subsidy uint64
}

// CheckSolvency compares pool, the balance of m's pool account, with the
// payout owed on a decisive outcome. It fails with ErrBoundedLossExceeded
// when the maker subsidy exceeds b * ln 2 and with ErrInsufficientLiquidity
// when the pool cannot cover the exposure.
func CheckSolvency(m *domain.Market, pool uint64) (Solvency, error) {
	maker, err := lmsr.New(m.BParameter)
	if err != nil {
		return Solvency{}, err
	}
	sol := Solvency{
		Pool:     pool,
		Exposure: max(m.SharesYes, m.SharesNo),
	}
	if sol.InvalidExposure, err = fixedpoint.Add(m.SharesYes, m.SharesNo); err != nil {
		return sol, err
	}
	if sol.Subsidy, err = maker.VerifySubsidy(m.SharesYes, m.SharesNo); err != nil {
		return sol, err
	}
	if pool < sol.Exposure {
		return sol, fmt.Errorf("%w: pool %d < exposure %d", domain.ErrInsufficientLiquidity, pool, sol.Exposure)
	}
	return sol, nil
}

func isSolvencyError(err error) bool {
	return errors.Is(err, domain.ErrBoundedLossExceeded) || errors.Is(err, domain.ErrInsufficientLiquidity)
}
