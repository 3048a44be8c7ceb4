package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketsettle/internal/domain"
)

const sweepPageSize = 200

// SweepService performs the backend authority's periodic duties: it
// finalizes markets whose dispute window elapsed undisputed and archives
// the journals of settled markets.
type SweepService struct {
	settle    *SettlementService
	authority common.Address
	archiver  domain.JournalArchiver
	logger    *slog.Logger
}

// NewSweepService creates a SweepService acting as authority. archiver may
// be nil.
func NewSweepService(settle *SettlementService, authority common.Address, archiver domain.JournalArchiver, logger *slog.Logger) *SweepService {
	return &SweepService{
		settle:    settle,
		authority: authority,
		archiver:  archiver,
		logger:    logger.With(slog.String("component", "sweep_service")),
	}
}

// listAll pages through every market in state.
func (s *SweepService) listAll(ctx context.Context, state domain.MarketState) ([]domain.Market, error) {
	var out []domain.Market
	for offset := 0; ; offset += sweepPageSize {
		page, err := s.settle.ListMarkets(ctx, domain.MarketFilter{State: state}, domain.ListOpts{Limit: sweepPageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < sweepPageSize {
			return out, nil
		}
	}
}

// FinalizeDue finalizes every Resolving market past its dispute deadline
// and returns how many it finalized. One failing market does not stop the
// sweep.
func (s *SweepService) FinalizeDue(ctx context.Context) (int, error) {
	cfg, err := s.settle.Config(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweep_service: finalize due: %w", err)
	}
	if cfg.BackendAuthority != s.authority {
		return 0, fmt.Errorf("sweep_service: finalize due: %w: operator %s is not the backend authority",
			domain.ErrUnauthorized, s.authority.Hex())
	}
	markets, err := s.listAll(ctx, domain.MarketStateResolving)
	if err != nil {
		return 0, fmt.Errorf("sweep_service: finalize due: %w", err)
	}

	now := s.settle.Now()
	var (
		done int
		errs []error
	)
	for _, m := range markets {
		if m.ProposedOutcome == domain.OutcomeUnset || now.Before(m.DisputeDeadline(cfg.DisputePeriod())) {
			continue
		}
		if _, err := s.settle.FinalizeMarket(ctx, s.authority, m.ID, nil); err != nil {
			// A dispute or another worker may have moved the market since
			// the listing.
			if errors.Is(err, domain.ErrInvalidStateTransition) || errors.Is(err, domain.ErrLockHeld) {
				s.logger.DebugContext(ctx, "market moved during sweep",
					slog.String("market_id", m.ID.Hex()),
					slog.String("error", err.Error()),
				)
				continue
			}
			s.logger.ErrorContext(ctx, "finalize failed",
				slog.String("market_id", m.ID.Hex()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
			continue
		}
		done++
	}
	if done > 0 {
		s.logger.InfoContext(ctx, "finalization sweep", slog.Int("finalized", done))
	}
	return done, errors.Join(errs...)
}

// ArchiveSettled archives the journal of every finalized or cancelled
// market. The archiver skips journals already stored.
func (s *SweepService) ArchiveSettled(ctx context.Context) (int, error) {
	if s.archiver == nil {
		return 0, nil
	}
	var (
		archived int
		errs     []error
	)
	for _, state := range []domain.MarketState{domain.MarketStateFinalized, domain.MarketStateCancelled} {
		markets, err := s.listAll(ctx, state)
		if err != nil {
			return archived, fmt.Errorf("sweep_service: archive settled: %w", err)
		}
		for _, m := range markets {
			path, n, err := s.archiver.ArchiveMarket(ctx, m.ID)
			if err != nil {
				s.logger.ErrorContext(ctx, "archive failed",
					slog.String("market_id", m.ID.Hex()),
					slog.String("error", err.Error()),
				)
				errs = append(errs, err)
				continue
			}
			if n > 0 {
				archived++
				s.logger.InfoContext(ctx, "journal archived",
					slog.String("market_id", m.ID.Hex()),
					slog.String("path", path),
					slog.Int("events", n),
				)
			}
		}
	}
	return archived, errors.Join(errs...)
}
