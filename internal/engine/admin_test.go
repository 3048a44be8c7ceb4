package engine_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketsettle/internal/domain"
	"github.com/alanyoungcy/marketsettle/internal/engine"
	"github.com/alanyoungcy/marketsettle/internal/store/memory"
)

func TestInitializeConfig_Defaults(t *testing.T) {
	h := newHarness(t)
	cfg, err := h.l.GetConfig(h.ctx)
	require.NoError(t, err)

	assert.Equal(t, admin, cfg.Admin)
	assert.Equal(t, domain.DefaultProtocolFeeBps, cfg.ProtocolFeeBps)
	assert.Equal(t, domain.DefaultResolverFeeBps, cfg.ResolverFeeBps)
	assert.Equal(t, domain.DefaultLPFeeBps, cfg.LPFeeBps)
	assert.Equal(t, domain.DefaultProposalThresholdBps, cfg.ProposalApprovalThresholdBps)
	assert.Equal(t, domain.DefaultDisputePeriodSeconds, cfg.DisputePeriodSeconds)
	assert.False(t, cfg.IsPaused)
}

func TestInitializeConfig_OnlyOnce(t *testing.T) {
	h := newHarness(t)
	_, _, err := do(h, func(tx domain.LedgerTx) (*domain.GlobalConfig, error) {
		return h.e.InitializeConfig(h.ctx, tx, h.as(bob), domain.ConfigUpdate{})
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyInitialized)

	cfg, err := h.l.GetConfig(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, admin, cfg.Admin)
}

func TestInitializeConfig_ExplicitZeros(t *testing.T) {
	ctx := context.Background()
	l := memory.NewLedger()
	e := engine.New(engine.DefaultOptions())

	_, err := l.InTx(ctx, func(tx domain.LedgerTx) error {
		_, err := e.InitializeConfig(ctx, tx, engine.Call{Caller: admin, Now: t0}, domain.ConfigUpdate{
			ProtocolFeeBps:               bps(0),
			LPFeeBps:                     bps(0),
			ProposalApprovalThresholdBps: bps(0),
		})
		return err
	})
	require.NoError(t, err)

	cfg, err := l.GetConfig(ctx)
	require.NoError(t, err)
	assert.Zero(t, cfg.ProtocolFeeBps)
	assert.Zero(t, cfg.LPFeeBps)
	assert.Zero(t, cfg.ProposalApprovalThresholdBps)
	// Omitted fields still take defaults.
	assert.Equal(t, domain.DefaultResolverFeeBps, cfg.ResolverFeeBps)
	assert.Equal(t, domain.DefaultDisputeThresholdBps, cfg.DisputeSuccessThresholdBps)
	assert.Equal(t, domain.DefaultResolutionPeriodSeconds, cfg.ResolutionPeriodSeconds)
}

func TestInitializeConfig_Concurrent(t *testing.T) {
	ctx := context.Background()
	l := memory.NewLedger()
	e := engine.New(engine.DefaultOptions())

	const n = 8
	callers := make([]common.Address, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		callers[i] = common.BigToAddress(big.NewInt(int64(0xa000 + i)))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = l.InTx(ctx, func(tx domain.LedgerTx) error {
				_, err := e.InitializeConfig(ctx, tx, engine.Call{Caller: callers[i], Now: t0}, domain.ConfigUpdate{})
				return err
			})
		}()
	}
	wg.Wait()

	winner := -1
	for i, err := range errs {
		if err == nil {
			require.Equal(t, -1, winner, "two initializations succeeded")
			winner = i
			continue
		}
		assert.True(t, errors.Is(err, domain.ErrAlreadyInitialized), "caller %d: %v", i, err)
	}
	require.NotEqual(t, -1, winner)

	cfg, err := l.GetConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, callers[winner], cfg.Admin)
}

func TestInitializeConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  domain.ConfigUpdate
		want error
	}{
		{"fees over 100%", domain.ConfigUpdate{ProtocolFeeBps: bps(6000), LPFeeBps: bps(5000)}, domain.ErrInvalidFeeConfiguration},
		{"threshold over 100%", domain.ConfigUpdate{ProposalApprovalThresholdBps: bps(10_001)}, domain.ErrInvalidThreshold},
		{"negative period", domain.ConfigUpdate{DisputePeriodSeconds: secs(-1)}, domain.ErrInvalidTimeLimit},
		{"zero period", domain.ConfigUpdate{ResolutionPeriodSeconds: secs(0)}, domain.ErrInvalidTimeLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			l := memory.NewLedger()
			e := engine.New(engine.DefaultOptions())
			_, err := l.InTx(ctx, func(tx domain.LedgerTx) error {
				_, err := e.InitializeConfig(ctx, tx, engine.Call{Caller: admin, Now: t0}, tt.cfg)
				return err
			})
			assert.ErrorIs(t, err, tt.want)

			_, err = l.GetConfig(ctx)
			assert.ErrorIs(t, err, domain.ErrNotInitialized)
		})
	}
}

func TestUpdateConfig(t *testing.T) {
	h := newHarness(t)
	threshold := uint16(5000)

	_, _, err := do(h, func(tx domain.LedgerTx) (*domain.GlobalConfig, error) {
		return h.e.UpdateConfig(h.ctx, tx, h.as(bob), domain.ConfigUpdate{ProposalApprovalThresholdBps: &threshold})
	})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	cfg, events, err := do(h, func(tx domain.LedgerTx) (*domain.GlobalConfig, error) {
		return h.e.UpdateConfig(h.ctx, tx, h.as(admin), domain.ConfigUpdate{ProposalApprovalThresholdBps: &threshold})
	})
	require.NoError(t, err)
	assert.Equal(t, threshold, cfg.ProposalApprovalThresholdBps)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventConfigUpdated, events[0].Kind)

	tooHigh := uint16(9000)
	_, _, err = do(h, func(tx domain.LedgerTx) (*domain.GlobalConfig, error) {
		return h.e.UpdateConfig(h.ctx, tx, h.as(admin), domain.ConfigUpdate{ProtocolFeeBps: &tooHigh, LPFeeBps: &tooHigh})
	})
	assert.ErrorIs(t, err, domain.ErrInvalidFeeConfiguration)
}

func TestEmergencyPause(t *testing.T) {
	h := newHarness(t)

	_, _, err := do(h, func(tx domain.LedgerTx) (bool, error) {
		return h.e.EmergencyPause(h.ctx, tx, h.as(alice))
	})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	paused, _, err := do(h, func(tx domain.LedgerTx) (bool, error) {
		return h.e.EmergencyPause(h.ctx, tx, h.as(admin))
	})
	require.NoError(t, err)
	assert.True(t, paused)

	_, _, err = do(h, func(tx domain.LedgerTx) (*domain.Market, error) {
		return h.e.CreateMarket(h.ctx, tx, h.as(creator), engine.CreateMarketParams{
			ID: mkt(1), BParameter: one, InitialLiquidity: one, EvidenceHash: "q",
		})
	})
	assert.ErrorIs(t, err, domain.ErrProtocolPaused)

	paused, _, err = do(h, func(tx domain.LedgerTx) (bool, error) {
		return h.e.EmergencyPause(h.ctx, tx, h.as(admin))
	})
	require.NoError(t, err)
	assert.False(t, paused)
}

func TestDeposit(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, 1_000*one, h.balance(alice))

	_, _, err := do(h, func(tx domain.LedgerTx) (uint64, error) {
		return h.e.Deposit(h.ctx, tx, h.as(alice), alice, one)
	})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, _, err = do(h, func(tx domain.LedgerTx) (uint64, error) {
		return h.e.Deposit(h.ctx, tx, h.as(admin), alice, 0)
	})
	assert.ErrorIs(t, err, domain.ErrZeroAmount)
}

func bps(v uint16) *uint16 { return &v }

func secs(v int64) *int64 { return &v }
