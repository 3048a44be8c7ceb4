package domain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BpsDenominator is 100% in basis points.
const BpsDenominator = 10_000

// Defaults applied by InitializeGlobalConfig when a field is left unset.
const (
	DefaultProtocolFeeBps          uint16 = 300
	DefaultResolverFeeBps          uint16 = 200
	DefaultLPFeeBps                uint16 = 500
	DefaultProposalThresholdBps    uint16 = 7000
	DefaultDisputeThresholdBps     uint16 = 6000
	DefaultResolutionPeriodSeconds int64  = 172_800
	DefaultDisputePeriodSeconds    int64  = 259_200
)

// FeeSchedule is the three-way fee split in basis points.
type FeeSchedule struct {
	ProtocolBps uint16
	ResolverBps uint16
	LPBps       uint16
}

// TotalBps sums the three components.
func (f FeeSchedule) TotalBps() uint32 {
	return uint32(f.ProtocolBps) + uint32(f.ResolverBps) + uint32(f.LPBps)
}

// GlobalConfig is the process-wide protocol configuration singleton.
type GlobalConfig struct {
	Admin            common.Address
	ProtocolWallet   common.Address
	ResolverWallet   common.Address
	BackendAuthority common.Address

	ProtocolFeeBps uint16
	ResolverFeeBps uint16
	LPFeeBps       uint16

	ProposalApprovalThresholdBps uint16
	DisputeSuccessThresholdBps   uint16

	ResolutionPeriodSeconds int64
	DisputePeriodSeconds    int64

	IsPaused  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Fees returns the configured fee schedule.
func (c *GlobalConfig) Fees() FeeSchedule {
	return FeeSchedule{
		ProtocolBps: c.ProtocolFeeBps,
		ResolverBps: c.ResolverFeeBps,
		LPBps:       c.LPFeeBps,
	}
}

// DisputePeriod is the dispute window as a duration.
func (c *GlobalConfig) DisputePeriod() time.Duration {
	return time.Duration(c.DisputePeriodSeconds) * time.Second
}

// ResolutionPeriod is the resolution window as a duration.
func (c *GlobalConfig) ResolutionPeriod() time.Duration {
	return time.Duration(c.ResolutionPeriodSeconds) * time.Second
}

// Validate enforces the config invariants: total fees and thresholds within
// 100%, periods positive.
func (c *GlobalConfig) Validate() error {
	if total := c.Fees().TotalBps(); total > BpsDenominator {
		return fmt.Errorf("%w: total fee %d bps exceeds %d", ErrInvalidFeeConfiguration, total, BpsDenominator)
	}
	if c.ProposalApprovalThresholdBps > BpsDenominator {
		return fmt.Errorf("%w: proposal threshold %d bps", ErrInvalidThreshold, c.ProposalApprovalThresholdBps)
	}
	if c.DisputeSuccessThresholdBps > BpsDenominator {
		return fmt.Errorf("%w: dispute threshold %d bps", ErrInvalidThreshold, c.DisputeSuccessThresholdBps)
	}
	if c.ResolutionPeriodSeconds <= 0 {
		return fmt.Errorf("%w: resolution period %ds", ErrInvalidTimeLimit, c.ResolutionPeriodSeconds)
	}
	if c.DisputePeriodSeconds <= 0 {
		return fmt.Errorf("%w: dispute period %ds", ErrInvalidTimeLimit, c.DisputePeriodSeconds)
	}
	return nil
}

// DefaultConfig is the config InitializeGlobalConfig starts from before
// applying the caller's fields.
func DefaultConfig() GlobalConfig {
	return GlobalConfig{
		ProtocolFeeBps:               DefaultProtocolFeeBps,
		ResolverFeeBps:               DefaultResolverFeeBps,
		LPFeeBps:                     DefaultLPFeeBps,
		ProposalApprovalThresholdBps: DefaultProposalThresholdBps,
		DisputeSuccessThresholdBps:   DefaultDisputeThresholdBps,
		ResolutionPeriodSeconds:      DefaultResolutionPeriodSeconds,
		DisputePeriodSeconds:         DefaultDisputePeriodSeconds,
	}
}

// ConfigUpdate carries optional config fields; nil fields are left
// untouched. UpdateGlobalConfig applies it to the stored config and
// InitializeGlobalConfig applies it to DefaultConfig, so an explicit zero
// is kept in both.
type ConfigUpdate struct {
	ProtocolWallet               *common.Address
	ResolverWallet               *common.Address
	BackendAuthority             *common.Address
	ProtocolFeeBps               *uint16
	ResolverFeeBps               *uint16
	LPFeeBps                     *uint16
	ProposalApprovalThresholdBps *uint16
	DisputeSuccessThresholdBps   *uint16
	ResolutionPeriodSeconds      *int64
	DisputePeriodSeconds         *int64
}

// Apply returns a copy of c with the update applied.
func (u ConfigUpdate) Apply(c GlobalConfig) GlobalConfig {
	if u.ProtocolWallet != nil {
		c.ProtocolWallet = *u.ProtocolWallet
	}
	if u.ResolverWallet != nil {
		c.ResolverWallet = *u.ResolverWallet
	}
	if u.BackendAuthority != nil {
		c.BackendAuthority = *u.BackendAuthority
	}
	if u.ProtocolFeeBps != nil {
		c.ProtocolFeeBps = *u.ProtocolFeeBps
	}
	if u.ResolverFeeBps != nil {
		c.ResolverFeeBps = *u.ResolverFeeBps
	}
	if u.LPFeeBps != nil {
		c.LPFeeBps = *u.LPFeeBps
	}
	if u.ProposalApprovalThresholdBps != nil {
		c.ProposalApprovalThresholdBps = *u.ProposalApprovalThresholdBps
	}
	if u.DisputeSuccessThresholdBps != nil {
		c.DisputeSuccessThresholdBps = *u.DisputeSuccessThresholdBps
	}
	if u.ResolutionPeriodSeconds != nil {
		c.ResolutionPeriodSeconds = *u.ResolutionPeriodSeconds
	}
	if u.DisputePeriodSeconds != nil {
		c.DisputePeriodSeconds = *u.DisputePeriodSeconds
	}
	return c
}
