package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketsettle/internal/domain"
)

// InitializeConfig creates the global config with the caller as admin.
// Fields left nil in params take their defaults; explicit zeros are kept.
// It succeeds once per ledger, concurrent callers included.
func (e *Engine) InitializeConfig(ctx context.Context, tx domain.LedgerTx, call Call, params domain.ConfigUpdate) (*domain.GlobalConfig, error) {
	_, err := tx.Config(ctx)
	switch {
	case err == nil:
		return nil, domain.ErrAlreadyInitialized
	case !errors.Is(err, domain.ErrNotInitialized):
		return nil, fmt.Errorf("load config: %w", err)
	}

	cfg := params.Apply(domain.DefaultConfig())
	cfg.Admin = call.Caller
	cfg.IsPaused = false
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.CreatedAt = call.Now
	cfg.UpdatedAt = call.Now

	if err := tx.InsertConfig(ctx, &cfg); err != nil {
		return nil, err
	}
	tx.Emit(domain.NewEvent(domain.EventConfigInitialized, domain.MarketID{}, call.Caller, call.Now, configData(&cfg)))
	return &cfg, nil
}

// UpdateConfig applies u to the global config. Admin only.
func (e *Engine) UpdateConfig(ctx context.Context, tx domain.LedgerTx, call Call, u domain.ConfigUpdate) (*domain.GlobalConfig, error) {
	cfg, err := loadConfig(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := requireAdmin(cfg, call.Caller); err != nil {
		return nil, err
	}
	next := u.Apply(*cfg)
	if err := next.Validate(); err != nil {
		return nil, err
	}
	next.UpdatedAt = call.Now

	if err := tx.PutConfig(ctx, &next); err != nil {
		return nil, err
	}
	tx.Emit(domain.NewEvent(domain.EventConfigUpdated, domain.MarketID{}, call.Caller, call.Now, configData(&next)))
	return &next, nil
}

// EmergencyPause toggles the protocol pause flag and returns the new value.
func (e *Engine) EmergencyPause(ctx context.Context, tx domain.LedgerTx, call Call) (bool, error) {
	cfg, err := loadConfig(ctx, tx)
	if err != nil {
		return false, err
	}
	if err := requireAdmin(cfg, call.Caller); err != nil {
		return false, err
	}
	cfg.IsPaused = !cfg.IsPaused
	cfg.UpdatedAt = call.Now
	if err := tx.PutConfig(ctx, cfg); err != nil {
		return false, err
	}
	tx.Emit(domain.NewEvent(domain.EventPauseToggled, domain.MarketID{}, call.Caller, call.Now, map[string]any{
		"paused": cfg.IsPaused,
	}))
	return cfg.IsPaused, nil
}

// Deposit credits amount to a wallet. It is the operator's entry point for
// funds that arrive from outside the ledger. Admin only.
func (e *Engine) Deposit(ctx context.Context, tx domain.LedgerTx, call Call, wallet common.Address, amount uint64) (uint64, error) {
	cfg, err := loadConfig(ctx, tx)
	if err != nil {
		return 0, err
	}
	if err := requireAdmin(cfg, call.Caller); err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, domain.ErrZeroAmount
	}
	acct := domain.WalletAccount(wallet)
	if err := tx.Credit(ctx, acct, amount); err != nil {
		return 0, err
	}
	bal, err := tx.Balance(ctx, acct)
	if err != nil {
		return 0, err
	}
	tx.Emit(domain.NewEvent(domain.EventDeposit, domain.MarketID{}, call.Caller, call.Now, map[string]any{
		"wallet":  wallet.Hex(),
		"amount":  amount,
		"balance": bal,
	}))
	return bal, nil
}

func configData(c *domain.GlobalConfig) map[string]any {
	return map[string]any{
		"admin":                  c.Admin.Hex(),
		"protocol_wallet":        c.ProtocolWallet.Hex(),
		"resolver_wallet":        c.ResolverWallet.Hex(),
		"backend_authority":      c.BackendAuthority.Hex(),
		"protocol_fee_bps":       c.ProtocolFeeBps,
		"resolver_fee_bps":       c.ResolverFeeBps,
		"lp_fee_bps":             c.LPFeeBps,
		"proposal_threshold_bps": c.ProposalApprovalThresholdBps,
		"dispute_threshold_bps":  c.DisputeSuccessThresholdBps,
		"resolution_period_secs": c.ResolutionPeriodSeconds,
		"dispute_period_secs":    c.DisputePeriodSeconds,
		"paused":                 c.IsPaused,
	}
}
