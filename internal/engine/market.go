package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/marketsettle/internal/domain"
)

// CreateMarketParams describes a new market proposal.
type CreateMarketParams struct {
	ID               domain.MarketID
	BParameter       uint64
	InitialLiquidity uint64
	EvidenceHash     string
}

// CreateMarket records a market in Proposed with the caller as creator and
// moves the initial liquidity from the creator's wallet into the market
// pool.
func (e *Engine) CreateMarket(ctx context.Context, tx domain.LedgerTx, call Call, p CreateMarketParams) (*domain.Market, error) {
	cfg, err := loadConfig(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := requireNotPaused(cfg); err != nil {
		return nil, err
	}
	if p.BParameter == 0 {
		return nil, fmt.Errorf("%w: b must be > 0", domain.ErrInvalidLMSRParameter)
	}
	if p.InitialLiquidity == 0 {
		return nil, fmt.Errorf("%w: initial liquidity must be > 0", domain.ErrInvalidLiquidity)
	}
	if err := validateEvidence(p.EvidenceHash); err != nil {
		return nil, err
	}

	m := &domain.Market{
		ID:               p.ID,
		Creator:          call.Caller,
		BParameter:       p.BParameter,
		InitialLiquidity: p.InitialLiquidity,
		EvidenceHash:     p.EvidenceHash,
		CurrentLiquidity: p.InitialLiquidity,
		State:            domain.MarketStateProposed,
		CreatedAt:        call.Now,
		UpdatedAt:        call.Now,
	}
	if err := tx.InsertMarket(ctx, m); err != nil {
		return nil, err
	}
	if err := tx.Transfer(ctx, domain.WalletAccount(call.Caller), m.PoolAccount(), p.InitialLiquidity); err != nil {
		return nil, fmt.Errorf("fund market: %w", err)
	}
	tx.Emit(domain.NewEvent(domain.EventMarketCreated, m.ID, call.Caller, call.Now, map[string]any{
		"b_parameter":       m.BParameter,
		"initial_liquidity": m.InitialLiquidity,
		"evidence_hash":     m.EvidenceHash,
	}))
	return m, nil
}

// ActivateMarket opens an approved market for trading. The caller must be
// the admin or the market creator.
func (e *Engine) ActivateMarket(ctx context.Context, tx domain.LedgerTx, call Call, id domain.MarketID) (*domain.Market, error) {
	cfg, err := loadConfig(ctx, tx)
	if err != nil {
		return nil, err
	}
	m, err := loadMarket(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if call.Caller != cfg.Admin && call.Caller != m.Creator {
		return nil, fmt.Errorf("%w: admin or creator only", domain.ErrUnauthorized)
	}
	if err := m.RequireState(domain.MarketStateApproved); err != nil {
		return nil, err
	}
	if m.CurrentLiquidity < m.InitialLiquidity {
		return nil, fmt.Errorf("%w: liquidity %d below initial %d", domain.ErrInsufficientLiquidity, m.CurrentLiquidity, m.InitialLiquidity)
	}
	if err := m.Transition(domain.MarketStateActive, call.Now); err != nil {
		return nil, err
	}
	if err := tx.UpdateMarket(ctx, m); err != nil {
		return nil, err
	}
	tx.Emit(domain.NewEvent(domain.EventMarketActivated, m.ID, call.Caller, call.Now, map[string]any{
		"creator":           m.Creator.Hex(),
		"initial_liquidity": m.InitialLiquidity,
	}))
	return m, nil
}

// ResolveMarket proposes an outcome and opens the dispute window. It is
// accepted from Active, or from Resolving after a successful dispute has
// cleared the previous proposal.
func (e *Engine) ResolveMarket(ctx context.Context, tx domain.LedgerTx, call Call, id domain.MarketID, outcome domain.Outcome, evidence string) (*domain.Market, error) {
	if _, err := domain.ParseOutcome(string(outcome)); err != nil {
		return nil, err
	}
	if err := validateEvidence(evidence); err != nil {
		return nil, err
	}
	m, err := loadMarket(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	switch m.State {
	case domain.MarketStateActive:
		if err := m.Transition(domain.MarketStateResolving, call.Now); err != nil {
			return nil, err
		}
	case domain.MarketStateResolving:
		if m.ProposedOutcome != domain.OutcomeUnset {
			return nil, domain.ErrAlreadyResolved
		}
	default:
		return nil, fmt.Errorf("%w: market is %s", domain.ErrInvalidStateTransition, m.State)
	}

	m.ProposedOutcome = outcome
	m.ResolutionEvidence = evidence
	m.Resolver = call.Caller
	m.ResolutionProposedAt = call.Now
	m.UpdatedAt = call.Now
	if err := tx.UpdateMarket(ctx, m); err != nil {
		return nil, err
	}
	tx.Emit(domain.NewEvent(domain.EventMarketResolved, m.ID, call.Caller, call.Now, map[string]any{
		"proposed_outcome": string(outcome),
		"evidence":         evidence,
		"dispute_round":    m.DisputeRounds,
	}))
	return m, nil
}

// InitiateDispute challenges the pending resolution. It must land strictly
// after the proposal and strictly before the dispute window closes.
func (e *Engine) InitiateDispute(ctx context.Context, tx domain.LedgerTx, call Call, id domain.MarketID) (*domain.Market, error) {
	cfg, err := loadConfig(ctx, tx)
	if err != nil {
		return nil, err
	}
	m, err := loadMarket(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case m.State == domain.MarketStateDisputed:
		return nil, domain.ErrAlreadyDisputed
	case m.State != domain.MarketStateResolving:
		return nil, fmt.Errorf("%w: market is %s", domain.ErrInvalidStateTransition, m.State)
	case m.ProposedOutcome == domain.OutcomeUnset:
		return nil, domain.ErrNoResolutionProposed
	}
	if !call.Now.After(m.ResolutionProposedAt) {
		return nil, fmt.Errorf("%w: dispute at or before proposal", domain.ErrInvalidTimestamp)
	}
	if !call.Now.Before(m.DisputeDeadline(cfg.DisputePeriod())) {
		return nil, domain.ErrDisputePeriodEnded
	}

	if err := m.Transition(domain.MarketStateDisputed, call.Now); err != nil {
		return nil, err
	}
	m.DisputeInitiator = call.Caller
	m.DisputeAgree = 0
	m.DisputeDisagree = 0
	m.DisputeTotalVotes = 0
	if err := tx.UpdateMarket(ctx, m); err != nil {
		return nil, err
	}
	tx.Emit(domain.NewEvent(domain.EventDisputeInitiated, m.ID, call.Caller, call.Now, map[string]any{
		"proposed_outcome": string(m.ProposedOutcome),
		"deadline":         m.DisputeDeadline(cfg.DisputePeriod()).Unix(),
	}))
	return m, nil
}

// VoteCounts are externally aggregated dispute votes supplied to
// FinalizeMarket.
type VoteCounts struct {
	Agree    uint64
	Disagree uint64
}

// FinalizeMarket settles a market. Backend authority only.
//
// From Resolving it requires the dispute window to have elapsed and adopts
// the proposed outcome. From Disputed it applies counts as the dispute
// decision: a successful dispute returns the market to Resolving for a new
// proposal, a failed one finalizes with the proposed outcome.
func (e *Engine) FinalizeMarket(ctx context.Context, tx domain.LedgerTx, call Call, id domain.MarketID, counts *VoteCounts) (*domain.Market, error) {
	cfg, err := loadConfig(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := requireBackend(cfg, call.Caller); err != nil {
		return nil, err
	}
	m, err := loadMarket(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	switch m.State {
	case domain.MarketStateResolving:
		if m.ProposedOutcome == domain.OutcomeUnset {
			return nil, domain.ErrNoResolutionProposed
		}
		if call.Now.Before(m.DisputeDeadline(cfg.DisputePeriod())) {
			return nil, domain.ErrDisputePeriodNotEnded
		}
		if err := finalize(m, call.Now); err != nil {
			return nil, err
		}
		if err := tx.UpdateMarket(ctx, m); err != nil {
			return nil, err
		}
		emitFinalized(tx, m, call)
		return m, nil

	case domain.MarketStateDisputed:
		if counts == nil || (counts.Agree == 0 && counts.Disagree == 0) {
			return nil, domain.ErrNoVotesRecorded
		}
		if _, err := e.applyDisputeDecision(ctx, tx, call, cfg, m, counts.Agree, counts.Disagree); err != nil {
			return nil, err
		}
		return m, nil

	default:
		return nil, fmt.Errorf("%w: market is %s", domain.ErrInvalidStateTransition, m.State)
	}
}

// CancelMarket cancels a market that has not started trading and returns
// the pool balance to the creator. Admin only.
func (e *Engine) CancelMarket(ctx context.Context, tx domain.LedgerTx, call Call, id domain.MarketID) (*domain.Market, error) {
	cfg, err := loadConfig(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := requireAdmin(cfg, call.Caller); err != nil {
		return nil, err
	}
	m, err := loadMarket(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if m.State != domain.MarketStateProposed && m.State != domain.MarketStateApproved {
		return nil, fmt.Errorf("%w: market is %s", domain.ErrCannotCancelMarket, m.State)
	}
	refund, err := tx.Balance(ctx, m.PoolAccount())
	if err != nil {
		return nil, err
	}

	if err := m.Transition(domain.MarketStateCancelled, call.Now); err != nil {
		return nil, err
	}
	m.CurrentLiquidity = 0
	if err := tx.UpdateMarket(ctx, m); err != nil {
		return nil, err
	}
	if err := tx.Transfer(ctx, m.PoolAccount(), domain.WalletAccount(m.Creator), refund); err != nil {
		return nil, fmt.Errorf("refund creator: %w", err)
	}
	tx.Emit(domain.NewEvent(domain.EventMarketCancelled, m.ID, call.Caller, call.Now, map[string]any{
		"refund": refund,
	}))
	return m, nil
}

// finalize adopts the proposed outcome as final.
func finalize(m *domain.Market, now time.Time) error {
	if err := m.Transition(domain.MarketStateFinalized, now); err != nil {
		return err
	}
	m.FinalOutcome = m.ProposedOutcome
	return nil
}

func emitFinalized(tx domain.LedgerTx, m *domain.Market, call Call) {
	tx.Emit(domain.NewEvent(domain.EventMarketFinalized, m.ID, call.Caller, call.Now, map[string]any{
		"final_outcome": string(m.FinalOutcome),
		"was_disputed":  m.WasDisputed,
	}))
}
