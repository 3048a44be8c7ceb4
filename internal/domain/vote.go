package domain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// VoteKind distinguishes proposal votes from dispute votes.
type VoteKind string

const (
	VoteKindProposal VoteKind = "proposal"
	VoteKindDispute  VoteKind = "dispute"
)

// ParseVoteKind validates s as a VoteKind.
func ParseVoteKind(s string) (VoteKind, error) {
	switch k := VoteKind(s); k {
	case VoteKindProposal, VoteKindDispute:
		return k, nil
	default:
		return "", fmt.Errorf("unknown vote kind %q", s)
	}
}

// RequiredState is the market state in which votes of this kind are
// accepted.
func (k VoteKind) RequiredState() MarketState {
	if k == VoteKindDispute {
		return MarketStateDisputed
	}
	return MarketStateProposed
}

// Vote is an individual, immutable ballot. At most one exists per
// (market, user, kind); the ledger's uniqueness on that key is the
// duplicate-vote guard.
type Vote struct {
	MarketID MarketID
	User     common.Address
	Kind     VoteKind
	Value    bool
	VotedAt  time.Time
}
