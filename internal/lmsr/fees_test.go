package lmsr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketsettle/internal/domain"
	"github.com/alanyoungcy/marketsettle/internal/lmsr"
)

func TestSplitFees(t *testing.T) {
	schedule := domain.FeeSchedule{ProtocolBps: 300, ResolverBps: 200, LPBps: 500}

	tests := []struct {
		name   string
		amount uint64
		want   lmsr.FeeBreakdown
	}{
		{"exact", 1_000, lmsr.FeeBreakdown{Protocol: 30, Resolver: 20, LP: 50}},
		{"dust goes to protocol", 1_001, lmsr.FeeBreakdown{Protocol: 31, Resolver: 20, LP: 50}},
		{"tiny", 1, lmsr.FeeBreakdown{Protocol: 1}},
		{"zero", 0, lmsr.FeeBreakdown{}},
		{"whole units", 100 * one, lmsr.FeeBreakdown{Protocol: 3 * one, Resolver: 2 * one, LP: 5 * one}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := lmsr.SplitFees(tt.amount, schedule)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplitFees_ZeroSchedule(t *testing.T) {
	got, err := lmsr.SplitFees(123_456, domain.FeeSchedule{})
	require.NoError(t, err)
	assert.Zero(t, got.Total())
}

func TestMaxLoss(t *testing.T) {
	assert.Equal(t, uint64(69_314_718_000), lmsr.MaxLoss(100*one))

	b, err := lmsr.BParameterForMaxLoss(lmsr.MaxLoss(100 * one))
	require.NoError(t, err)
	assert.InDelta(t, float64(100*one), float64(b), 2)

	_, err = lmsr.BParameterForMaxLoss(0)
	assert.ErrorIs(t, err, domain.ErrInvalidLMSRParameter)
}

func TestVerifyBoundedLoss(t *testing.T) {
	b := 100 * one
	assert.NoError(t, lmsr.VerifyBoundedLoss(1_000*one, 1_200*one, b))
	assert.NoError(t, lmsr.VerifyBoundedLoss(1_000*one, 1_000*one-lmsr.MaxLoss(b), b))
	assert.ErrorIs(t,
		lmsr.VerifyBoundedLoss(1_000*one, 1_000*one-lmsr.MaxLoss(b)-1, b),
		domain.ErrBoundedLossExceeded)
}

func TestVerifySubsidy(t *testing.T) {
	m := newMaker(t, 100*one)

	s, err := m.VerifySubsidy(0, 0)
	require.NoError(t, err)
	assert.Zero(t, s)

	// A one-sided book sits just under the bound and still passes.
	s, err = m.VerifySubsidy(2_000*one, 0)
	require.NoError(t, err)
	assert.InDelta(t, float64(lmsr.MaxLoss(100*one)), float64(s), 300)

	// Traders on a balanced book have paid for everything they are owed.
	s, err = m.VerifySubsidy(50*one, 50*one)
	require.NoError(t, err)
	assert.LessOrEqual(t, s, lmsr.CostTolerance(100*one))
}
