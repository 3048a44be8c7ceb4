package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketsettle/internal/domain"
)

// ConfigService is the protocol administration surface the config handler
// needs from the service layer.
type ConfigService interface {
	Config(ctx context.Context) (*domain.GlobalConfig, error)
	InitializeConfig(ctx context.Context, caller common.Address, params domain.ConfigUpdate) (*domain.GlobalConfig, error)
	UpdateConfig(ctx context.Context, caller common.Address, u domain.ConfigUpdate) (*domain.GlobalConfig, error)
	EmergencyPause(ctx context.Context, caller common.Address) (bool, error)
	Deposit(ctx context.Context, caller, wallet common.Address, amount uint64) (uint64, error)
}

// ConfigHandler serves the global config and admin endpoints.
type ConfigHandler struct {
	svc    ConfigService
	logger *slog.Logger
}

// NewConfigHandler creates a ConfigHandler.
func NewConfigHandler(svc ConfigService, logger *slog.Logger) *ConfigHandler {
	return &ConfigHandler{svc: svc, logger: logHandler(logger, "config")}
}

type initConfigRequest struct {
	ProtocolWallet               string  `json:"protocol_wallet" validate:"required,eth_addr"`
	ResolverWallet               string  `json:"resolver_wallet" validate:"required,eth_addr"`
	BackendAuthority             string  `json:"backend_authority" validate:"required,eth_addr"`
	ProtocolFeeBps               *uint16 `json:"protocol_fee_bps" validate:"omitempty,max=10000"`
	ResolverFeeBps               *uint16 `json:"resolver_fee_bps" validate:"omitempty,max=10000"`
	LPFeeBps                     *uint16 `json:"lp_fee_bps" validate:"omitempty,max=10000"`
	ProposalApprovalThresholdBps *uint16 `json:"proposal_approval_threshold_bps" validate:"omitempty,max=10000"`
	DisputeSuccessThresholdBps   *uint16 `json:"dispute_success_threshold_bps" validate:"omitempty,max=10000"`
	ResolutionPeriodSeconds      *int64  `json:"resolution_period_seconds" validate:"omitempty,min=1"`
	DisputePeriodSeconds         *int64  `json:"dispute_period_seconds" validate:"omitempty,min=1"`
}

type updateConfigRequest struct {
	ProtocolWallet               *string `json:"protocol_wallet" validate:"omitempty,eth_addr"`
	ResolverWallet               *string `json:"resolver_wallet" validate:"omitempty,eth_addr"`
	BackendAuthority             *string `json:"backend_authority" validate:"omitempty,eth_addr"`
	ProtocolFeeBps               *uint16 `json:"protocol_fee_bps" validate:"omitempty,max=10000"`
	ResolverFeeBps               *uint16 `json:"resolver_fee_bps" validate:"omitempty,max=10000"`
	LPFeeBps                     *uint16 `json:"lp_fee_bps" validate:"omitempty,max=10000"`
	ProposalApprovalThresholdBps *uint16 `json:"proposal_approval_threshold_bps" validate:"omitempty,max=10000"`
	DisputeSuccessThresholdBps   *uint16 `json:"dispute_success_threshold_bps" validate:"omitempty,max=10000"`
	ResolutionPeriodSeconds      *int64  `json:"resolution_period_seconds" validate:"omitempty,min=1"`
	DisputePeriodSeconds         *int64  `json:"dispute_period_seconds" validate:"omitempty,min=1"`
}

type depositRequest struct {
	Wallet string `json:"wallet" validate:"required,eth_addr"`
	Amount string `json:"amount" validate:"required,amount"`
}

// GetConfig returns the global config.
// GET /api/config
func (h *ConfigHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.svc.Config(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "get config", err)
		return
	}
	writeJSON(w, http.StatusOK, newConfigResponse(cfg))
}

// InitializeConfig creates the global config with the caller as admin.
// POST /api/config
func (h *ConfigHandler) InitializeConfig(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req initConfigRequest
	if !decodeBody(w, r, &req) {
		return
	}
	// Omitted numeric fields take defaults; an explicit 0 is kept.
	params := domain.ConfigUpdate{
		ProtocolWallet:               optionalAddress(&req.ProtocolWallet),
		ResolverWallet:               optionalAddress(&req.ResolverWallet),
		BackendAuthority:             optionalAddress(&req.BackendAuthority),
		ProtocolFeeBps:               req.ProtocolFeeBps,
		ResolverFeeBps:               req.ResolverFeeBps,
		LPFeeBps:                     req.LPFeeBps,
		ProposalApprovalThresholdBps: req.ProposalApprovalThresholdBps,
		DisputeSuccessThresholdBps:   req.DisputeSuccessThresholdBps,
		ResolutionPeriodSeconds:      req.ResolutionPeriodSeconds,
		DisputePeriodSeconds:         req.DisputePeriodSeconds,
	}
	cfg, err := h.svc.InitializeConfig(r.Context(), who, params)
	if err != nil {
		writeServiceError(w, r, h.logger, "initialize config", err)
		return
	}
	writeJSON(w, http.StatusCreated, newConfigResponse(cfg))
}

// UpdateConfig applies a partial config update. Admin only.
// PATCH /api/config
func (h *ConfigHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req updateConfigRequest
	if !decodeBody(w, r, &req) {
		return
	}
	u := domain.ConfigUpdate{
		ProtocolWallet:               optionalAddress(req.ProtocolWallet),
		ResolverWallet:               optionalAddress(req.ResolverWallet),
		BackendAuthority:             optionalAddress(req.BackendAuthority),
		ProtocolFeeBps:               req.ProtocolFeeBps,
		ResolverFeeBps:               req.ResolverFeeBps,
		LPFeeBps:                     req.LPFeeBps,
		ProposalApprovalThresholdBps: req.ProposalApprovalThresholdBps,
		DisputeSuccessThresholdBps:   req.DisputeSuccessThresholdBps,
		ResolutionPeriodSeconds:      req.ResolutionPeriodSeconds,
		DisputePeriodSeconds:         req.DisputePeriodSeconds,
	}
	cfg, err := h.svc.UpdateConfig(r.Context(), who, u)
	if err != nil {
		writeServiceError(w, r, h.logger, "update config", err)
		return
	}
	writeJSON(w, http.StatusOK, newConfigResponse(cfg))
}

// TogglePause flips the protocol pause flag. Admin only.
// POST /api/admin/pause
func (h *ConfigHandler) TogglePause(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	paused, err := h.svc.EmergencyPause(r.Context(), who)
	if err != nil {
		writeServiceError(w, r, h.logger, "toggle pause", err)
		return
	}
	h.logger.WarnContext(r.Context(), "protocol pause toggled",
		slog.String("admin", who.Hex()),
		slog.Bool("is_paused", paused),
	)
	writeJSON(w, http.StatusOK, map[string]bool{"is_paused": paused})
}

// Deposit credits a wallet from outside the ledger. Admin only.
// POST /api/admin/deposit
func (h *ConfigHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if !decodeBody(w, r, &req) {
		return
	}
	wallet := common.HexToAddress(req.Wallet)
	balance, err := h.svc.Deposit(r.Context(), who, wallet, amount(req.Amount))
	if err != nil {
		writeServiceError(w, r, h.logger, "deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		Account: domain.WalletAccount(wallet).String(),
		Balance: fixedpointString(balance),
	})
}

func optionalAddress(s *string) *common.Address {
	if s == nil {
		return nil
	}
	a := common.HexToAddress(*s)
	return &a
}
