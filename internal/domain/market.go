package domain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MarketID is the opaque 32-byte market key.
type MarketID = common.Hash

// MarketState is the lifecycle state of a market.
type MarketState string

const (
	MarketStateProposed  MarketState = "proposed"
	MarketStateApproved  MarketState = "approved"
	MarketStateActive    MarketState = "active"
	MarketStateResolving MarketState = "resolving"
	MarketStateDisputed  MarketState = "disputed"
	MarketStateFinalized MarketState = "finalized"
	MarketStateCancelled MarketState = "cancelled"
)

// MarketStates lists every state in lifecycle order.
var MarketStates = []MarketState{
	MarketStateProposed,
	MarketStateApproved,
	MarketStateActive,
	MarketStateResolving,
	MarketStateDisputed,
	MarketStateFinalized,
	MarketStateCancelled,
}

// ParseMarketState validates s as a MarketState.
func ParseMarketState(s string) (MarketState, error) {
	for _, st := range MarketStates {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown market state %q", s)
}

// CanTransitionTo reports whether next is a legal successor of s.
// Resolving and Disputed form the only cycle.
func (s MarketState) CanTransitionTo(next MarketState) bool {
	switch s {
	case MarketStateProposed:
		return next == MarketStateApproved || next == MarketStateCancelled
	case MarketStateApproved:
		return next == MarketStateActive || next == MarketStateCancelled
	case MarketStateActive:
		return next == MarketStateResolving
	case MarketStateResolving:
		return next == MarketStateDisputed || next == MarketStateFinalized
	case MarketStateDisputed:
		return next == MarketStateResolving || next == MarketStateFinalized
	case MarketStateFinalized, MarketStateCancelled:
		return false
	default:
		panic(fmt.Sprintf("domain: unhandled market state %q", string(s)))
	}
}

// Terminal reports whether no further transitions are possible.
func (s MarketState) Terminal() bool {
	return s == MarketStateFinalized || s == MarketStateCancelled
}

// Outcome is the tri-state market result. OutcomeUnset means no outcome has
// been proposed (or it was cleared by a successful dispute).
type Outcome string

const (
	OutcomeUnset   Outcome = ""
	OutcomeYes     Outcome = "yes"
	OutcomeNo      Outcome = "no"
	OutcomeInvalid Outcome = "invalid"
)

// ParseOutcome validates s as a settled outcome (unset is rejected).
func ParseOutcome(s string) (Outcome, error) {
	switch o := Outcome(s); o {
	case OutcomeYes, OutcomeNo, OutcomeInvalid:
		return o, nil
	default:
		return OutcomeUnset, fmt.Errorf("%w: %q", ErrInvalidOutcome, s)
	}
}

// Side selects the YES or NO share book.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// ParseSide validates s as a Side.
func ParseSide(s string) (Side, error) {
	switch side := Side(s); side {
	case SideYes, SideNo:
		return side, nil
	default:
		return "", fmt.Errorf("unknown side %q", s)
	}
}

// MaxEvidenceLen bounds evidence references (an IPFS CID or URL digest).
const MaxEvidenceLen = 128

// Market is the ledger record of one binary prediction market.
type Market struct {
	ID               MarketID
	Creator          common.Address
	BParameter       uint64
	InitialLiquidity uint64
	EvidenceHash     string

	SharesYes        uint64
	SharesNo         uint64
	CurrentLiquidity uint64
	TotalVolume      uint64

	AccumulatedProtocolFee uint64
	AccumulatedResolverFee uint64
	AccumulatedLPFee       uint64

	ProposalLikes      uint64
	ProposalDislikes   uint64
	ProposalTotalVotes uint64

	DisputeAgree      uint64
	DisputeDisagree   uint64
	DisputeTotalVotes uint64

	State              MarketState
	ProposedOutcome    Outcome
	FinalOutcome       Outcome
	ResolutionEvidence string
	Resolver           common.Address
	WasDisputed        bool
	DisputeRounds      uint32
	DisputeInitiator   common.Address

	CreatedAt            time.Time
	ApprovedAt           time.Time
	ActivatedAt          time.Time
	ResolutionProposedAt time.Time
	DisputeInitiatedAt   time.Time
	FinalizedAt          time.Time
	CancelledAt          time.Time
	UpdatedAt            time.Time
}

// Transition moves the market to next after checking the transition table,
// stamping the matching timestamp. Resolving is stamped by the resolve
// operation itself because a dispute reversal re-enters it without a new
// proposal.
func (m *Market) Transition(next MarketState, at time.Time) error {
	if !m.State.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, m.State, next)
	}
	switch next {
	case MarketStateApproved:
		m.ApprovedAt = at
	case MarketStateActive:
		m.ActivatedAt = at
	case MarketStateDisputed:
		m.DisputeInitiatedAt = at
	case MarketStateFinalized:
		m.FinalizedAt = at
	case MarketStateCancelled:
		m.CancelledAt = at
	}
	m.State = next
	m.UpdatedAt = at
	return nil
}

// RequireState returns ErrInvalidStateTransition unless the market is in
// one of the given states.
func (m *Market) RequireState(states ...MarketState) error {
	for _, s := range states {
		if m.State == s {
			return nil
		}
	}
	return fmt.Errorf("%w: market is %s", ErrInvalidStateTransition, m.State)
}

// Shares returns the outstanding shares on side.
func (m *Market) Shares(side Side) uint64 {
	if side == SideYes {
		return m.SharesYes
	}
	return m.SharesNo
}

// SetShares overwrites the outstanding shares on side.
func (m *Market) SetShares(side Side, v uint64) {
	if side == SideYes {
		m.SharesYes = v
		return
	}
	m.SharesNo = v
}

// PoolAccount is the value-ledger account holding the market's funds.
func (m *Market) PoolAccount() Account {
	return PoolAccount(m.ID)
}

// DisputeDeadline is the end of the dispute window for the pending
// resolution.
func (m *Market) DisputeDeadline(period time.Duration) time.Time {
	return m.ResolutionProposedAt.Add(period)
}

// TotalFees sums the three fee accumulators.
func (m *Market) TotalFees() uint64 {
	return m.AccumulatedProtocolFee + m.AccumulatedResolverFee + m.AccumulatedLPFee
}
