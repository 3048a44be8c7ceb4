package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/alanyoungcy/marketsettle/internal/domain"
	"github.com/alanyoungcy/marketsettle/internal/fixedpoint"
	"github.com/alanyoungcy/marketsettle/internal/lmsr"
)

// BuyRequest buys an exact share quantity, paying at most MaxCost including
// fees.
type BuyRequest struct {
	MarketID domain.MarketID
	Side     domain.Side
	Shares   uint64
	MaxCost  uint64
}

// BudgetBuyRequest buys as many shares as Budget covers including fees.
type BudgetBuyRequest struct {
	MarketID domain.MarketID
	Side     domain.Side
	Budget   uint64
}

// SellRequest sells an exact share quantity, receiving at least
// MinProceeds after fees.
type SellRequest struct {
	MarketID    domain.MarketID
	Side        domain.Side
	Shares      uint64
	MinProceeds uint64
}

// TradeResult reports an executed trade. Amount is the total paid for a buy
// and the net received for a sell.
type TradeResult struct {
	MarketID domain.MarketID
	Side     domain.Side
	Shares   uint64
	Gross    uint64
	Fees     lmsr.FeeBreakdown
	Amount   uint64
	PriceYes uint64
	PriceNo  uint64
	Position *domain.Position
}

func (r *TradeResult) data() map[string]any {
	return map[string]any{
		"side":         string(r.Side),
		"shares":       r.Shares,
		"gross":        r.Gross,
		"protocol_fee": r.Fees.Protocol,
		"resolver_fee": r.Fees.Resolver,
		"lp_fee":       r.Fees.LP,
		"amount":       r.Amount,
		"price_yes":    r.PriceYes,
		"price_no":     r.PriceNo,
	}
}

// tradeContext is the state every trade guard needs.
type tradeContext struct {
	cfg   *domain.GlobalConfig
	m     *domain.Market
	maker *lmsr.LMSR
}

func (e *Engine) loadTrade(ctx context.Context, tx domain.LedgerTx, id domain.MarketID, side domain.Side, shares uint64) (*tradeContext, error) {
	if _, err := domain.ParseSide(string(side)); err != nil {
		return nil, err
	}
	if shares == 0 {
		return nil, domain.ErrZeroAmount
	}
	cfg, err := loadConfig(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := requireNotPaused(cfg); err != nil {
		return nil, err
	}
	m, err := loadMarket(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if m.State != domain.MarketStateActive {
		return nil, fmt.Errorf("%w: market is %s", domain.ErrMarketNotActive, m.State)
	}
	maker, err := lmsr.New(m.BParameter)
	if err != nil {
		return nil, err
	}
	return &tradeContext{cfg: cfg, m: m, maker: maker}, nil
}

// Buy purchases req.Shares on req.Side. The user pays cost plus fees: the
// protocol fee goes straight to the protocol wallet and the rest is pooled
// in the market.
func (e *Engine) Buy(ctx context.Context, tx domain.LedgerTx, call Call, req BuyRequest) (*TradeResult, error) {
	tc, err := e.loadTrade(ctx, tx, req.MarketID, req.Side, req.Shares)
	if err != nil {
		return nil, err
	}
	m := tc.m

	q, err := tc.maker.QuoteBuy(m.SharesYes, m.SharesNo, req.Side, req.Shares, tc.cfg.Fees())
	if err != nil {
		return nil, err
	}
	if q.Gross < e.opts.MinTradeAmount {
		return nil, fmt.Errorf("%w: cost %d < %d", domain.ErrTradeTooSmall, q.Gross, e.opts.MinTradeAmount)
	}
	if q.Net > req.MaxCost {
		return nil, fmt.Errorf("%w: total cost %d > max %d", domain.ErrSlippageExceeded, q.Net, req.MaxCost)
	}

	pos, err := loadPosition(ctx, tx, m.ID, call.Caller, call.Now)
	if err != nil {
		return nil, err
	}
	newMarketShares, err := fixedpoint.Add(m.Shares(req.Side), req.Shares)
	if err != nil {
		return nil, err
	}
	newPosShares, err := fixedpoint.Add(pos.Shares(req.Side), req.Shares)
	if err != nil {
		return nil, err
	}
	volume, err := fixedpoint.Add(m.TotalVolume, q.Net)
	if err != nil {
		return nil, err
	}
	liquidity, err := add(m.CurrentLiquidity, q.Fees.Resolver, q.Fees.LP)
	if err != nil {
		return nil, err
	}
	protocolAcc, err := fixedpoint.Add(m.AccumulatedProtocolFee, q.Fees.Protocol)
	if err != nil {
		return nil, err
	}
	resolverAcc, err := fixedpoint.Add(m.AccumulatedResolverFee, q.Fees.Resolver)
	if err != nil {
		return nil, err
	}
	lpAcc, err := fixedpoint.Add(m.AccumulatedLPFee, q.Fees.LP)
	if err != nil {
		return nil, err
	}
	invested, err := fixedpoint.Add(pos.TotalInvested, q.Net)
	if err != nil {
		return nil, err
	}

	user := domain.WalletAccount(call.Caller)
	if err := tx.Transfer(ctx, user, m.PoolAccount(), q.Net-q.Fees.Protocol); err != nil {
		return nil, fmt.Errorf("pay market: %w", err)
	}
	if err := tx.Transfer(ctx, user, domain.WalletAccount(tc.cfg.ProtocolWallet), q.Fees.Protocol); err != nil {
		return nil, fmt.Errorf("pay protocol fee: %w", err)
	}

	m.SetShares(req.Side, newMarketShares)
	m.TotalVolume = volume
	m.CurrentLiquidity = liquidity
	m.AccumulatedProtocolFee = protocolAcc
	m.AccumulatedResolverFee = resolverAcc
	m.AccumulatedLPFee = lpAcc
	m.UpdatedAt = call.Now
	if err := tx.UpdateMarket(ctx, m); err != nil {
		return nil, err
	}

	pos.SetShares(req.Side, newPosShares)
	pos.TotalInvested = invested
	pos.TradesCount++
	pos.LastTradeAt = call.Now
	if err := tx.PutPosition(ctx, pos); err != nil {
		return nil, err
	}

	res, err := tradeResult(tc, req.Side, req.Shares, q, pos)
	if err != nil {
		return nil, err
	}
	tx.Emit(domain.NewEvent(domain.EventSharesBought, m.ID, call.Caller, call.Now, res.data()))
	return res, nil
}

// BuyWithBudget spends at most req.Budget, fees included, on req.Side. The
// share quantity is the largest whose cost plus fees fits the budget.
func (e *Engine) BuyWithBudget(ctx context.Context, tx domain.LedgerTx, call Call, req BudgetBuyRequest) (*TradeResult, error) {
	if req.Budget == 0 {
		return nil, domain.ErrZeroAmount
	}
	tc, err := e.loadTrade(ctx, tx, req.MarketID, req.Side, req.Budget)
	if err != nil {
		return nil, err
	}
	// cost * (1 + bps/10000) <= budget keeps the rounded-up fee inside it.
	costBudget, err := fixedpoint.MulDiv(req.Budget, domain.BpsDenominator, domain.BpsDenominator+uint64(tc.cfg.Fees().TotalBps()))
	if err != nil {
		return nil, err
	}
	shares, _, err := tc.maker.SharesForCost(tc.m.SharesYes, tc.m.SharesNo, req.Side, costBudget)
	if err != nil {
		return nil, err
	}
	if shares == 0 {
		return nil, fmt.Errorf("%w: budget %d buys no shares", domain.ErrTradeTooSmall, req.Budget)
	}
	return e.Buy(ctx, tx, call, BuyRequest{
		MarketID: req.MarketID,
		Side:     req.Side,
		Shares:   shares,
		MaxCost:  req.Budget,
	})
}

// Sell returns req.Shares on req.Side to the market maker. The pool pays
// the user the net proceeds and the protocol its fee; resolver and LP fees
// stay pooled.
func (e *Engine) Sell(ctx context.Context, tx domain.LedgerTx, call Call, req SellRequest) (*TradeResult, error) {
	tc, err := e.loadTrade(ctx, tx, req.MarketID, req.Side, req.Shares)
	if err != nil {
		return nil, err
	}
	m := tc.m

	pos, err := tx.Position(ctx, m.ID, call.Caller)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: no position", domain.ErrInsufficientShares)
	}
	if err != nil {
		return nil, fmt.Errorf("load position: %w", err)
	}
	held := pos.Shares(req.Side)
	if held < req.Shares {
		return nil, fmt.Errorf("%w: hold %d, selling %d", domain.ErrInsufficientShares, held, req.Shares)
	}

	q, err := tc.maker.QuoteSell(m.SharesYes, m.SharesNo, req.Side, req.Shares, tc.cfg.Fees())
	if err != nil {
		return nil, err
	}
	if q.Gross < e.opts.MinTradeAmount {
		return nil, fmt.Errorf("%w: proceeds %d < %d", domain.ErrTradeTooSmall, q.Gross, e.opts.MinTradeAmount)
	}
	net, err := fixedpoint.Sub(q.Gross, q.Fees.Total())
	if err != nil {
		return nil, err
	}
	if net < req.MinProceeds {
		return nil, fmt.Errorf("%w: net proceeds %d < min %d", domain.ErrSlippageExceeded, net, req.MinProceeds)
	}
	payout, err := fixedpoint.Add(net, q.Fees.Protocol)
	if err != nil {
		return nil, err
	}
	poolBal, err := tx.Balance(ctx, m.PoolAccount())
	if err != nil {
		return nil, err
	}
	if poolBal < payout {
		return nil, fmt.Errorf("%w: need %d, pool %d", domain.ErrInsufficientLiquidity, payout, poolBal)
	}

	volume, err := fixedpoint.Add(m.TotalVolume, q.Gross)
	if err != nil {
		return nil, err
	}
	protocolAcc, err := fixedpoint.Add(m.AccumulatedProtocolFee, q.Fees.Protocol)
	if err != nil {
		return nil, err
	}
	resolverAcc, err := fixedpoint.Add(m.AccumulatedResolverFee, q.Fees.Resolver)
	if err != nil {
		return nil, err
	}
	lpAcc, err := fixedpoint.Add(m.AccumulatedLPFee, q.Fees.LP)
	if err != nil {
		return nil, err
	}
	// Cost basis leaves the position in proportion to the shares sold.
	totalHeld, err := pos.TotalShares()
	if err != nil {
		return nil, err
	}
	basis, err := fixedpoint.MulDiv(pos.TotalInvested, req.Shares, totalHeld)
	if err != nil {
		return nil, err
	}
	delta, err := pnl(net, basis)
	if err != nil {
		return nil, err
	}
	realized, err := addPnL(pos.RealizedPnL, delta)
	if err != nil {
		return nil, err
	}

	if err := tx.Transfer(ctx, m.PoolAccount(), domain.WalletAccount(call.Caller), net); err != nil {
		return nil, fmt.Errorf("pay seller: %w", err)
	}
	if err := tx.Transfer(ctx, m.PoolAccount(), domain.WalletAccount(tc.cfg.ProtocolWallet), q.Fees.Protocol); err != nil {
		return nil, fmt.Errorf("pay protocol fee: %w", err)
	}

	m.SetShares(req.Side, m.Shares(req.Side)-req.Shares)
	m.TotalVolume = volume
	// Bookkeeping only; the pool balance gates payouts.
	m.CurrentLiquidity = saturatingSub(m.CurrentLiquidity, payout)
	m.AccumulatedProtocolFee = protocolAcc
	m.AccumulatedResolverFee = resolverAcc
	m.AccumulatedLPFee = lpAcc
	m.UpdatedAt = call.Now
	if err := tx.UpdateMarket(ctx, m); err != nil {
		return nil, err
	}

	pos.SetShares(req.Side, held-req.Shares)
	pos.TotalInvested -= basis
	pos.RealizedPnL = realized
	pos.TradesCount++
	pos.LastTradeAt = call.Now
	if err := tx.PutPosition(ctx, pos); err != nil {
		return nil, err
	}

	q.Net = net
	res, err := tradeResult(tc, req.Side, req.Shares, q, pos)
	if err != nil {
		return nil, err
	}
	tx.Emit(domain.NewEvent(domain.EventSharesSold, m.ID, call.Caller, call.Now, res.data()))
	return res, nil
}

func tradeResult(tc *tradeContext, side domain.Side, shares uint64, q lmsr.TradeQuote, pos *domain.Position) (*TradeResult, error) {
	yes, err := tc.maker.PriceYes(tc.m.SharesYes, tc.m.SharesNo)
	if err != nil {
		return nil, err
	}
	return &TradeResult{
		MarketID: tc.m.ID,
		Side:     side,
		Shares:   shares,
		Gross:    q.Gross,
		Fees:     q.Fees,
		Amount:   q.Net,
		PriceYes: yes,
		PriceNo:  fixedpoint.Precision - yes,
		Position: pos,
	}, nil
}
