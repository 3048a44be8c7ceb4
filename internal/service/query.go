package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketsettle/internal/domain"
	"github.com/alanyoungcy/marketsettle/internal/engine"
	"github.com/alanyoungcy/marketsettle/internal/lmsr"
)

// Config returns the protocol config.
func (s *SettlementService) Config(ctx context.Context) (*domain.GlobalConfig, error) {
	cfg, err := s.ledger.GetConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("settlement_service: get config: %w", err)
	}
	return cfg, nil
}

// Market returns one market.
func (s *SettlementService) Market(ctx context.Context, id domain.MarketID) (*domain.Market, error) {
	m, err := s.ledger.GetMarket(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("settlement_service: get market: %w", err)
	}
	return m, nil
}

// ListMarkets returns markets matching filter.
func (s *SettlementService) ListMarkets(ctx context.Context, filter domain.MarketFilter, opts domain.ListOpts) ([]domain.Market, error) {
	ms, err := s.ledger.ListMarkets(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("settlement_service: list markets: %w", err)
	}
	return ms, nil
}

// Position returns a user's position in a market.
func (s *SettlementService) Position(ctx context.Context, id domain.MarketID, user common.Address) (*domain.Position, error) {
	p, err := s.ledger.GetPosition(ctx, id, user)
	if err != nil {
		return nil, fmt.Errorf("settlement_service: get position: %w", err)
	}
	return p, nil
}

// ListPositions returns the positions of a market.
func (s *SettlementService) ListPositions(ctx context.Context, id domain.MarketID, opts domain.ListOpts) ([]domain.Position, error) {
	ps, err := s.ledger.ListPositions(ctx, id, opts)
	if err != nil {
		return nil, fmt.Errorf("settlement_service: list positions: %w", err)
	}
	return ps, nil
}

// ListVotes returns the ballots of one kind cast on a market.
func (s *SettlementService) ListVotes(ctx context.Context, id domain.MarketID, kind domain.VoteKind, opts domain.ListOpts) ([]domain.Vote, error) {
	vs, err := s.ledger.ListVotes(ctx, id, kind, opts)
	if err != nil {
		return nil, fmt.Errorf("settlement_service: list votes: %w", err)
	}
	return vs, nil
}

// Balance returns an account balance.
func (s *SettlementService) Balance(ctx context.Context, account domain.Account) (uint64, error) {
	b, err := s.ledger.GetBalance(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("settlement_service: get balance: %w", err)
	}
	return b, nil
}

// ListEvents returns a market's journal. A zero id lists every event.
func (s *SettlementService) ListEvents(ctx context.Context, id domain.MarketID, opts domain.ListOpts) ([]domain.Event, error) {
	es, err := s.ledger.ListEvents(ctx, id, opts)
	if err != nil {
		return nil, fmt.Errorf("settlement_service: list events: %w", err)
	}
	return es, nil
}

// Quote returns the market's pricing snapshot, from the cache when one is
// configured and warm.
func (s *SettlementService) Quote(ctx context.Context, id domain.MarketID) (domain.MarketQuote, error) {
	if s.quotes != nil {
		q, err := s.quotes.GetQuote(ctx, id)
		if err == nil {
			return q, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "quote cache read",
				slog.String("market_id", id.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
	m, err := s.Market(ctx, id)
	if err != nil {
		return domain.MarketQuote{}, err
	}
	q, err := s.buildQuote(ctx, m)
	if err != nil {
		return domain.MarketQuote{}, fmt.Errorf("settlement_service: quote: %w", err)
	}
	if s.quotes != nil {
		if err := s.quotes.SetQuote(ctx, q); err != nil {
			s.logger.WarnContext(ctx, "quote cache write",
				slog.String("market_id", id.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
	return q, nil
}

// PreviewTrade prices a buy or sell without executing it.
func (s *SettlementService) PreviewTrade(ctx context.Context, id domain.MarketID, side domain.Side, shares uint64, sell bool) (lmsr.TradeQuote, error) {
	cfg, err := s.Config(ctx)
	if err != nil {
		return lmsr.TradeQuote{}, err
	}
	m, err := s.Market(ctx, id)
	if err != nil {
		return lmsr.TradeQuote{}, err
	}
	q, err := engine.QuoteTrade(m, cfg, side, shares, sell)
	if err != nil {
		return lmsr.TradeQuote{}, fmt.Errorf("settlement_service: preview trade: %w", err)
	}
	return q, nil
}
