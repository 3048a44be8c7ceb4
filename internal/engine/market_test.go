package engine_test

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketsettle/internal/domain"
	"github.com/alanyoungcy/marketsettle/internal/engine"
)

func mkt(n byte) domain.MarketID {
	return common.BytesToHash([]byte{0xaa, n})
}

func TestCreateMarket(t *testing.T) {
	h := newHarness(t)
	before := h.balance(creator)

	h.create(mkt(1), 100*one, 500*one)

	m := h.market(mkt(1))
	assert.Equal(t, domain.MarketStateProposed, m.State)
	assert.Equal(t, creator, m.Creator)
	assert.Equal(t, 500*one, m.CurrentLiquidity)
	assert.Equal(t, t0, m.CreatedAt)
	assert.Equal(t, before-500*one, h.balance(creator))
	assert.Equal(t, 500*one, h.pool(mkt(1)))
}

func TestCreateMarket_Guards(t *testing.T) {
	h := newHarness(t)
	h.create(mkt(1), one, one)

	tests := []struct {
		name   string
		caller common.Address
		params engine.CreateMarketParams
		want   error
	}{
		{"zero b", creator, engine.CreateMarketParams{ID: mkt(2), InitialLiquidity: one, EvidenceHash: "q"}, domain.ErrInvalidLMSRParameter},
		{"zero liquidity", creator, engine.CreateMarketParams{ID: mkt(2), BParameter: one, EvidenceHash: "q"}, domain.ErrInvalidLiquidity},
		{"missing evidence", creator, engine.CreateMarketParams{ID: mkt(2), BParameter: one, InitialLiquidity: one}, domain.ErrInvalidEvidence},
		{"duplicate id", creator, engine.CreateMarketParams{ID: mkt(1), BParameter: one, InitialLiquidity: one, EvidenceHash: "q"}, domain.ErrMarketExists},
		{"unfunded creator", common.HexToAddress("0xdead"), engine.CreateMarketParams{ID: mkt(2), BParameter: one, InitialLiquidity: one, EvidenceHash: "q"}, domain.ErrInsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := do(h, func(tx domain.LedgerTx) (*domain.Market, error) {
				return h.e.CreateMarket(h.ctx, tx, h.as(tt.caller), tt.params)
			})
			assert.ErrorIs(t, err, tt.want)
		})
	}
	_, err := h.l.GetMarket(h.ctx, mkt(2))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestActivateMarket(t *testing.T) {
	h := newHarness(t)
	h.create(mkt(1), one, one)

	activate := func(who common.Address) error {
		_, _, err := do(h, func(tx domain.LedgerTx) (*domain.Market, error) {
			return h.e.ActivateMarket(h.ctx, tx, h.as(who), mkt(1))
		})
		return err
	}

	assert.ErrorIs(t, activate(creator), domain.ErrInvalidStateTransition, "still proposed")

	_, _, err := h.aggregate(mkt(1), domain.VoteKindProposal, 1, 0)
	require.NoError(t, err)

	assert.ErrorIs(t, activate(alice), domain.ErrUnauthorized)
	require.NoError(t, activate(admin))
	assert.Equal(t, domain.MarketStateActive, h.market(mkt(1)).State)
	assert.ErrorIs(t, activate(creator), domain.ErrInvalidStateTransition)
}

func TestResolveAndFinalize(t *testing.T) {
	h := newHarness(t)
	h.activeMarket(mkt(1))

	assert.ErrorIs(t, h.resolve(mkt(1), domain.Outcome("maybe")), domain.ErrInvalidOutcome)
	require.NoError(t, h.resolve(mkt(1), domain.OutcomeYes))
	assert.ErrorIs(t, h.resolve(mkt(1), domain.OutcomeNo), domain.ErrAlreadyResolved)

	m := h.market(mkt(1))
	assert.Equal(t, domain.MarketStateResolving, m.State)
	assert.Equal(t, oracle, m.Resolver)
	assert.Equal(t, t0, m.ResolutionProposedAt)

	assert.ErrorIs(t, h.finalize(mkt(1), nil), domain.ErrDisputePeriodNotEnded)

	h.advance(time.Duration(domain.DefaultDisputePeriodSeconds)*time.Second - time.Second)
	assert.ErrorIs(t, h.finalize(mkt(1), nil), domain.ErrDisputePeriodNotEnded)

	_, _, err := do(h, func(tx domain.LedgerTx) (*domain.Market, error) {
		return h.e.FinalizeMarket(h.ctx, tx, h.as(alice), mkt(1), nil)
	})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	h.advance(time.Second)
	require.NoError(t, h.finalize(mkt(1), nil))

	m = h.market(mkt(1))
	assert.Equal(t, domain.MarketStateFinalized, m.State)
	assert.Equal(t, domain.OutcomeYes, m.FinalOutcome)
	assert.False(t, m.WasDisputed)
	assert.Equal(t, h.now, m.FinalizedAt)
}

func TestResolveMarket_RejectsOutsideActiveOrResolving(t *testing.T) {
	h := newHarness(t)

	h.create(mkt(1), 1_000*one, 1_000*one)
	assert.ErrorIs(t, h.resolve(mkt(1), domain.OutcomeYes), domain.ErrInvalidStateTransition, "proposed")

	h.activeMarket(mkt(2))
	require.NoError(t, h.resolve(mkt(2), domain.OutcomeYes))
	h.advance(time.Second)
	require.NoError(t, h.dispute(mkt(2), bob))
	err := h.resolve(mkt(2), domain.OutcomeNo)
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition, "disputed")
	assert.NotErrorIs(t, err, domain.ErrAlreadyResolved)

	h.activeMarket(mkt(3))
	h.settle(mkt(3), domain.OutcomeNo)
	err = h.resolve(mkt(3), domain.OutcomeYes)
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition, "finalized")
	assert.NotErrorIs(t, err, domain.ErrAlreadyResolved)

	m := h.market(mkt(3))
	assert.Equal(t, domain.MarketStateFinalized, m.State)
	assert.Equal(t, domain.OutcomeNo, m.FinalOutcome)
}

func TestInitiateDispute_Window(t *testing.T) {
	h := newHarness(t)
	h.activeMarket(mkt(1))

	assert.ErrorIs(t, h.dispute(mkt(1), bob), domain.ErrInvalidStateTransition, "nothing to dispute while active")

	require.NoError(t, h.resolve(mkt(1), domain.OutcomeYes))
	assert.ErrorIs(t, h.dispute(mkt(1), bob), domain.ErrInvalidTimestamp, "same instant as the proposal")

	h.advance(time.Duration(domain.DefaultDisputePeriodSeconds) * time.Second)
	assert.ErrorIs(t, h.dispute(mkt(1), bob), domain.ErrDisputePeriodEnded, "window is half-open")

	h2 := newHarness(t)
	h2.activeMarket(mkt(1))
	require.NoError(t, h2.resolve(mkt(1), domain.OutcomeYes))
	h2.advance(time.Hour)
	require.NoError(t, h2.dispute(mkt(1), bob))
	assert.ErrorIs(t, h2.dispute(mkt(1), alice), domain.ErrAlreadyDisputed)

	m := h2.market(mkt(1))
	assert.Equal(t, domain.MarketStateDisputed, m.State)
	assert.Equal(t, bob, m.DisputeInitiator)
	assert.Equal(t, h2.now, m.DisputeInitiatedAt)
}

func TestDispute_SuccessReopensResolution(t *testing.T) {
	h := newHarness(t)
	h.activeMarket(mkt(1))
	require.NoError(t, h.resolve(mkt(1), domain.OutcomeYes))
	h.advance(time.Hour)
	require.NoError(t, h.dispute(mkt(1), bob))

	d, events, err := h.aggregate(mkt(1), domain.VoteKindDispute, 6, 4)
	require.NoError(t, err)
	assert.True(t, d.Passed)
	assert.Equal(t, uint64(6000), d.RateBps)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventDisputeAggregated, events[0].Kind)

	m := h.market(mkt(1))
	assert.Equal(t, domain.MarketStateResolving, m.State)
	assert.Equal(t, domain.OutcomeUnset, m.ProposedOutcome)
	assert.True(t, m.WasDisputed)
	assert.Equal(t, uint32(1), m.DisputeRounds)

	assert.ErrorIs(t, h.finalize(mkt(1), nil), domain.ErrNoResolutionProposed)

	h.advance(time.Hour)
	require.NoError(t, h.resolve(mkt(1), domain.OutcomeNo))
	h.advance(time.Duration(domain.DefaultDisputePeriodSeconds) * time.Second)
	require.NoError(t, h.finalize(mkt(1), nil))

	m = h.market(mkt(1))
	assert.Equal(t, domain.MarketStateFinalized, m.State)
	assert.Equal(t, domain.OutcomeNo, m.FinalOutcome)
	assert.True(t, m.WasDisputed)
}

func TestFinalizeMarket_FromDisputed(t *testing.T) {
	h := newHarness(t)
	h.activeMarket(mkt(1))
	require.NoError(t, h.resolve(mkt(1), domain.OutcomeYes))
	h.advance(time.Hour)
	require.NoError(t, h.dispute(mkt(1), bob))

	assert.ErrorIs(t, h.finalize(mkt(1), nil), domain.ErrNoVotesRecorded)
	assert.ErrorIs(t, h.finalize(mkt(1), &engine.VoteCounts{}), domain.ErrNoVotesRecorded)

	// 5999 bps is one below the default dispute threshold.
	require.NoError(t, h.finalize(mkt(1), &engine.VoteCounts{Agree: 5_999, Disagree: 4_001}))

	m := h.market(mkt(1))
	assert.Equal(t, domain.MarketStateFinalized, m.State)
	assert.Equal(t, domain.OutcomeYes, m.FinalOutcome)
	assert.True(t, m.WasDisputed)
	assert.Equal(t, uint64(10_000), m.DisputeTotalVotes)
}

func TestCancelMarket(t *testing.T) {
	h := newHarness(t)
	start := h.balance(creator)
	h.create(mkt(1), one, 100*one)

	cancel := func(who common.Address, id domain.MarketID) error {
		_, _, err := do(h, func(tx domain.LedgerTx) (*domain.Market, error) {
			return h.e.CancelMarket(h.ctx, tx, h.as(who), id)
		})
		return err
	}
	assert.ErrorIs(t, cancel(creator, mkt(1)), domain.ErrUnauthorized)
	require.NoError(t, cancel(admin, mkt(1)))

	m := h.market(mkt(1))
	assert.Equal(t, domain.MarketStateCancelled, m.State)
	assert.Equal(t, start, h.balance(creator), "pool refunded")
	assert.Zero(t, h.pool(mkt(1)))
	assert.ErrorIs(t, cancel(admin, mkt(1)), domain.ErrCannotCancelMarket)

	h.activeMarket(mkt(2))
	assert.ErrorIs(t, cancel(admin, mkt(2)), domain.ErrCannotCancelMarket)
}
