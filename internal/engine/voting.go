package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/alanyoungcy/marketsettle/internal/domain"
	"github.com/alanyoungcy/marketsettle/internal/fixedpoint"
)

// ApprovalRate is agree * 10000 / (agree + disagree) in basis points,
// truncated, and 0 when no votes were cast. Truncation rounds borderline
// rates toward failure.
func ApprovalRate(agree, disagree uint64) (uint64, error) {
	total, err := fixedpoint.Add(agree, disagree)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	return fixedpoint.MulDiv(agree, domain.BpsDenominator, total)
}

// Decision is the outcome of one aggregation.
type Decision struct {
	MarketID     domain.MarketID
	Kind         domain.VoteKind
	Agree        uint64
	Disagree     uint64
	Total        uint64
	RateBps      uint64
	ThresholdBps uint16
	Passed       bool
	State        domain.MarketState
}

func (d *Decision) data() map[string]any {
	return map[string]any{
		"kind":          string(d.Kind),
		"agree":         d.Agree,
		"disagree":      d.Disagree,
		"total":         d.Total,
		"rate_bps":      d.RateBps,
		"threshold_bps": d.ThresholdBps,
		"passed":        d.Passed,
		"state":         string(d.State),
	}
}

func decide(id domain.MarketID, kind domain.VoteKind, agree, disagree uint64, threshold uint16) (*Decision, error) {
	total, err := fixedpoint.Add(agree, disagree)
	if err != nil {
		return nil, err
	}
	rate, err := ApprovalRate(agree, disagree)
	if err != nil {
		return nil, err
	}
	return &Decision{
		MarketID:     id,
		Kind:         kind,
		Agree:        agree,
		Disagree:     disagree,
		Total:        total,
		RateBps:      rate,
		ThresholdBps: threshold,
		Passed:       total > 0 && rate >= uint64(threshold),
	}, nil
}

// RecordVote stores one ballot. A second ballot of the same kind from the
// same user fails with ErrAlreadyVoted. Ballots are kept for audit only;
// tallies change solely through aggregation.
func (e *Engine) RecordVote(ctx context.Context, tx domain.LedgerTx, call Call, id domain.MarketID, kind domain.VoteKind, value bool) (*domain.Vote, error) {
	if _, err := domain.ParseVoteKind(string(kind)); err != nil {
		return nil, err
	}
	m, err := loadMarket(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := m.RequireState(kind.RequiredState()); err != nil {
		return nil, err
	}

	v := &domain.Vote{
		MarketID: id,
		User:     call.Caller,
		Kind:     kind,
		Value:    value,
		VotedAt:  call.Now,
	}
	if err := tx.InsertVote(ctx, v); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return nil, domain.ErrAlreadyVoted
		}
		return nil, err
	}
	tx.Emit(domain.NewEvent(domain.EventVoteSubmitted, id, call.Caller, call.Now, map[string]any{
		"kind":  string(kind),
		"value": value,
	}))
	return v, nil
}

// AggregateVotes records externally tallied counts and drives the matching
// transition. Backend authority only. The decision event is emitted whether
// or not the vote passes. Proposal aggregation may repeat while the market
// is still Proposed; once a decision has moved the market on, further
// aggregation is rejected.
func (e *Engine) AggregateVotes(ctx context.Context, tx domain.LedgerTx, call Call, id domain.MarketID, kind domain.VoteKind, agree, disagree uint64) (*Decision, error) {
	cfg, err := loadConfig(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := requireBackend(cfg, call.Caller); err != nil {
		return nil, err
	}
	if _, err := domain.ParseVoteKind(string(kind)); err != nil {
		return nil, err
	}
	m, err := loadMarket(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := m.RequireState(kind.RequiredState()); err != nil {
		return nil, err
	}
	if kind == domain.VoteKindDispute {
		return e.applyDisputeDecision(ctx, tx, call, cfg, m, agree, disagree)
	}
	return e.applyProposalDecision(ctx, tx, call, cfg, m, agree, disagree)
}

func (e *Engine) applyProposalDecision(ctx context.Context, tx domain.LedgerTx, call Call, cfg *domain.GlobalConfig, m *domain.Market, agree, disagree uint64) (*Decision, error) {
	d, err := decide(m.ID, domain.VoteKindProposal, agree, disagree, cfg.ProposalApprovalThresholdBps)
	if err != nil {
		return nil, err
	}
	m.ProposalLikes = agree
	m.ProposalDislikes = disagree
	m.ProposalTotalVotes = d.Total
	m.UpdatedAt = call.Now
	if d.Passed {
		if err := m.Transition(domain.MarketStateApproved, call.Now); err != nil {
			return nil, err
		}
	}
	d.State = m.State

	if err := tx.UpdateMarket(ctx, m); err != nil {
		return nil, err
	}
	tx.Emit(domain.NewEvent(domain.EventProposalAggregated, m.ID, call.Caller, call.Now, d.data()))
	if d.Passed {
		tx.Emit(domain.NewEvent(domain.EventProposalApproved, m.ID, call.Caller, call.Now, d.data()))
	}
	return d, nil
}

// applyDisputeDecision settles a Disputed market. Success clears the
// proposal and reopens resolution; nothing caps the number of rounds, which
// DisputeRounds counts. Failure finalizes with the proposed outcome.
func (e *Engine) applyDisputeDecision(ctx context.Context, tx domain.LedgerTx, call Call, cfg *domain.GlobalConfig, m *domain.Market, agree, disagree uint64) (*Decision, error) {
	d, err := decide(m.ID, domain.VoteKindDispute, agree, disagree, cfg.DisputeSuccessThresholdBps)
	if err != nil {
		return nil, err
	}
	m.DisputeAgree = agree
	m.DisputeDisagree = disagree
	m.DisputeTotalVotes = d.Total
	m.WasDisputed = true
	m.UpdatedAt = call.Now

	if d.Passed {
		if err := m.Transition(domain.MarketStateResolving, call.Now); err != nil {
			return nil, err
		}
		m.ProposedOutcome = domain.OutcomeUnset
		m.ResolutionEvidence = ""
		m.DisputeRounds++
	} else if err := finalize(m, call.Now); err != nil {
		return nil, err
	}
	d.State = m.State

	if err := tx.UpdateMarket(ctx, m); err != nil {
		return nil, err
	}
	tx.Emit(domain.NewEvent(domain.EventDisputeAggregated, m.ID, call.Caller, call.Now, d.data()))
	if !d.Passed {
		emitFinalized(tx, m, call)
	}
	return d, nil
}

// ApproveProposal lets the admin approve a Proposed market using the
// recorded proposal tally.
func (e *Engine) ApproveProposal(ctx context.Context, tx domain.LedgerTx, call Call, id domain.MarketID) (*Decision, error) {
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
	if err := m.RequireState(domain.MarketStateProposed); err != nil {
		return nil, err
	}
	if m.ProposalTotalVotes == 0 {
		return nil, domain.ErrNoVotesRecorded
	}
	d, err := decide(m.ID, domain.VoteKindProposal, m.ProposalLikes, m.ProposalDislikes, cfg.ProposalApprovalThresholdBps)
	if err != nil {
		return nil, err
	}
	if !d.Passed {
		return nil, fmt.Errorf("%w: %d bps < %d bps", domain.ErrInsufficientVotes, d.RateBps, d.ThresholdBps)
	}
	if err := m.Transition(domain.MarketStateApproved, call.Now); err != nil {
		return nil, err
	}
	d.State = m.State
	if err := tx.UpdateMarket(ctx, m); err != nil {
		return nil, err
	}
	tx.Emit(domain.NewEvent(domain.EventProposalApproved, m.ID, call.Caller, call.Now, d.data()))
	return d, nil
}
