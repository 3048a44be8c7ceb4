package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// EventKind names a ledger event. Every successful operation emits at
// least one.
type EventKind string

const (
	EventConfigInitialized  EventKind = "config_initialized"
	EventConfigUpdated      EventKind = "config_updated"
	EventPauseToggled       EventKind = "protocol_pause_toggled"
	EventDeposit            EventKind = "deposit"
	EventMarketCreated      EventKind = "market_created"
	EventVoteSubmitted      EventKind = "vote_submitted"
	EventProposalAggregated EventKind = "proposal_aggregated"
	EventProposalApproved   EventKind = "proposal_approved"
	EventMarketActivated    EventKind = "market_activated"
	EventMarketResolved     EventKind = "market_resolved"
	EventDisputeInitiated   EventKind = "dispute_initiated"
	EventDisputeAggregated  EventKind = "dispute_aggregated"
	EventMarketFinalized    EventKind = "market_finalized"
	EventMarketCancelled    EventKind = "market_cancelled"
	EventSharesBought       EventKind = "shares_bought"
	EventSharesSold         EventKind = "shares_sold"
	EventWinningsClaimed    EventKind = "winnings_claimed"
	EventLiquidityWithdrawn EventKind = "liquidity_withdrawn"
)

// IsDecision reports whether the event records a vote-driven decision that
// off-chain bookkeeping must mirror.
func (k EventKind) IsDecision() bool {
	return k == EventProposalAggregated || k == EventDisputeAggregated || k == EventProposalApproved
}

// Event is an append-only journal entry. Seq is assigned by the ledger on
// commit.
type Event struct {
	ID       string
	Seq      int64
	Kind     EventKind
	MarketID MarketID
	Actor    common.Address
	Data     map[string]any
	At       time.Time
}

// NewEvent builds an event with a fresh id.
func NewEvent(kind EventKind, market MarketID, actor common.Address, at time.Time, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{
		ID:       uuid.NewString(),
		Kind:     kind,
		MarketID: market,
		Actor:    actor,
		Data:     data,
		At:       at,
	}
}
