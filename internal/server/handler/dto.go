package handler

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketsettle/internal/domain"
	"github.com/alanyoungcy/marketsettle/internal/engine"
	"github.com/alanyoungcy/marketsettle/internal/fixedpoint"
	"github.com/alanyoungcy/marketsettle/internal/lmsr"
)

// Amounts cross the API as decimal strings ("12.5") and are held as 9-decimal
// fixed point inside.

type configResponse struct {
	Admin                        string    `json:"admin"`
	ProtocolWallet               string    `json:"protocol_wallet"`
	ResolverWallet               string    `json:"resolver_wallet"`
	BackendAuthority             string    `json:"backend_authority"`
	ProtocolFeeBps               uint16    `json:"protocol_fee_bps"`
	ResolverFeeBps               uint16    `json:"resolver_fee_bps"`
	LPFeeBps                     uint16    `json:"lp_fee_bps"`
	ProposalApprovalThresholdBps uint16    `json:"proposal_approval_threshold_bps"`
	DisputeSuccessThresholdBps   uint16    `json:"dispute_success_threshold_bps"`
	ResolutionPeriodSeconds      int64     `json:"resolution_period_seconds"`
	DisputePeriodSeconds         int64     `json:"dispute_period_seconds"`
	IsPaused                     bool      `json:"is_paused"`
	CreatedAt                    time.Time `json:"created_at"`
	UpdatedAt                    time.Time `json:"updated_at"`
}

func newConfigResponse(c *domain.GlobalConfig) configResponse {
	return configResponse{
		Admin:                        c.Admin.Hex(),
		ProtocolWallet:               c.ProtocolWallet.Hex(),
		ResolverWallet:               c.ResolverWallet.Hex(),
		BackendAuthority:             c.BackendAuthority.Hex(),
		ProtocolFeeBps:               c.ProtocolFeeBps,
		ResolverFeeBps:               c.ResolverFeeBps,
		LPFeeBps:                     c.LPFeeBps,
		ProposalApprovalThresholdBps: c.ProposalApprovalThresholdBps,
		DisputeSuccessThresholdBps:   c.DisputeSuccessThresholdBps,
		ResolutionPeriodSeconds:      c.ResolutionPeriodSeconds,
		DisputePeriodSeconds:         c.DisputePeriodSeconds,
		IsPaused:                     c.IsPaused,
		CreatedAt:                    c.CreatedAt,
		UpdatedAt:                    c.UpdatedAt,
	}
}

type marketResponse struct {
	ID                     string     `json:"id"`
	Creator                string     `json:"creator"`
	State                  string     `json:"state"`
	BParameter             string     `json:"b_parameter"`
	InitialLiquidity       string     `json:"initial_liquidity"`
	CurrentLiquidity       string     `json:"current_liquidity"`
	EvidenceHash           string     `json:"evidence_hash,omitempty"`
	SharesYes              string     `json:"shares_yes"`
	SharesNo               string     `json:"shares_no"`
	TotalVolume            string     `json:"total_volume"`
	AccumulatedProtocolFee string     `json:"accumulated_protocol_fee"`
	AccumulatedResolverFee string     `json:"accumulated_resolver_fee"`
	AccumulatedLPFee       string     `json:"accumulated_lp_fee"`
	ProposalLikes          uint64     `json:"proposal_likes"`
	ProposalDislikes       uint64     `json:"proposal_dislikes"`
	DisputeAgree           uint64     `json:"dispute_agree"`
	DisputeDisagree        uint64     `json:"dispute_disagree"`
	ProposedOutcome        string     `json:"proposed_outcome,omitempty"`
	FinalOutcome           string     `json:"final_outcome,omitempty"`
	ResolutionEvidence     string     `json:"resolution_evidence,omitempty"`
	Resolver               string     `json:"resolver,omitempty"`
	WasDisputed            bool       `json:"was_disputed"`
	DisputeRounds          uint32     `json:"dispute_rounds"`
	DisputeInitiator       string     `json:"dispute_initiator,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	ActivatedAt            *time.Time `json:"activated_at,omitempty"`
	ResolutionProposedAt   *time.Time `json:"resolution_proposed_at,omitempty"`
	DisputeInitiatedAt     *time.Time `json:"dispute_initiated_at,omitempty"`
	FinalizedAt            *time.Time `json:"finalized_at,omitempty"`
	CancelledAt            *time.Time `json:"cancelled_at,omitempty"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

func newMarketResponse(m *domain.Market) marketResponse {
	out := marketResponse{
		ID:                     m.ID.Hex(),
		Creator:                m.Creator.Hex(),
		State:                  string(m.State),
		BParameter:             fixedpointString(m.BParameter),
		InitialLiquidity:       fixedpointString(m.InitialLiquidity),
		CurrentLiquidity:       fixedpointString(m.CurrentLiquidity),
		EvidenceHash:           m.EvidenceHash,
		SharesYes:              fixedpointString(m.SharesYes),
		SharesNo:               fixedpointString(m.SharesNo),
		TotalVolume:            fixedpointString(m.TotalVolume),
		AccumulatedProtocolFee: fixedpointString(m.AccumulatedProtocolFee),
		AccumulatedResolverFee: fixedpointString(m.AccumulatedResolverFee),
		AccumulatedLPFee:       fixedpointString(m.AccumulatedLPFee),
		ProposalLikes:          m.ProposalLikes,
		ProposalDislikes:       m.ProposalDislikes,
		DisputeAgree:           m.DisputeAgree,
		DisputeDisagree:        m.DisputeDisagree,
		ProposedOutcome:        string(m.ProposedOutcome),
		FinalOutcome:           string(m.FinalOutcome),
		ResolutionEvidence:     m.ResolutionEvidence,
		WasDisputed:            m.WasDisputed,
		DisputeRounds:          m.DisputeRounds,
		CreatedAt:              m.CreatedAt,
		ActivatedAt:            optionalTime(m.ActivatedAt),
		ResolutionProposedAt:   optionalTime(m.ResolutionProposedAt),
		DisputeInitiatedAt:     optionalTime(m.DisputeInitiatedAt),
		FinalizedAt:            optionalTime(m.FinalizedAt),
		CancelledAt:            optionalTime(m.CancelledAt),
		UpdatedAt:              m.UpdatedAt,
	}
	if m.Resolver != (common.Address{}) {
		out.Resolver = m.Resolver.Hex()
	}
	if m.DisputeInitiator != (common.Address{}) {
		out.DisputeInitiator = m.DisputeInitiator.Hex()
	}
	return out
}

type positionResponse struct {
	MarketID      string     `json:"market_id"`
	User          string     `json:"user"`
	SharesYes     string     `json:"shares_yes"`
	SharesNo      string     `json:"shares_no"`
	TotalInvested string     `json:"total_invested"`
	AveragePrice  string     `json:"average_price"`
	RealizedPnL   string     `json:"realized_pnl"`
	HasClaimed    bool       `json:"has_claimed"`
	ClaimedAmount string     `json:"claimed_amount"`
	TradesCount   uint32     `json:"trades_count"`
	LastTradeAt   *time.Time `json:"last_trade_at,omitempty"`
}

func newPositionResponse(p *domain.Position) positionResponse {
	avg, _ := p.AveragePrice()
	return positionResponse{
		MarketID:      p.MarketID.Hex(),
		User:          p.User.Hex(),
		SharesYes:     fixedpointString(p.SharesYes),
		SharesNo:      fixedpointString(p.SharesNo),
		TotalInvested: fixedpointString(p.TotalInvested),
		AveragePrice:  fixedpointString(avg),
		RealizedPnL:   signedString(p.RealizedPnL),
		HasClaimed:    p.HasClaimed,
		ClaimedAmount: fixedpointString(p.ClaimedAmount),
		TradesCount:   p.TradesCount,
		LastTradeAt:   optionalTime(p.LastTradeAt),
	}
}

type quoteResponse struct {
	MarketID         string    `json:"market_id"`
	State            string    `json:"state"`
	PriceYes         string    `json:"price_yes"`
	PriceNo          string    `json:"price_no"`
	SharesYes        string    `json:"shares_yes"`
	SharesNo         string    `json:"shares_no"`
	BParameter       string    `json:"b_parameter"`
	CurrentLiquidity string    `json:"current_liquidity"`
	TotalVolume      string    `json:"total_volume"`
	MaxLoss          string    `json:"max_loss"`
	PoolBalance      string    `json:"pool_balance"`
	Exposure         string    `json:"exposure"`
	Subsidy          string    `json:"subsidy"`
	Solvent          bool      `json:"solvent"`
	UpdatedAt        time.Time `json:"updated_at"`

	Preview *previewResponse `json:"preview,omitempty"`
}

func newQuoteResponse(q domain.MarketQuote) quoteResponse {
	return quoteResponse{
		MarketID:         q.MarketID.Hex(),
		State:            string(q.State),
		PriceYes:         fixedpointString(q.PriceYes),
		PriceNo:          fixedpointString(q.PriceNo),
		SharesYes:        fixedpointString(q.SharesYes),
		SharesNo:         fixedpointString(q.SharesNo),
		BParameter:       fixedpointString(q.BParameter),
		CurrentLiquidity: fixedpointString(q.CurrentLiquidity),
		TotalVolume:      fixedpointString(q.TotalVolume),
		MaxLoss:          fixedpointString(q.MaxLoss),
		PoolBalance:      fixedpointString(q.PoolBalance),
		Exposure:         fixedpointString(q.Exposure),
		Subsidy:          fixedpointString(q.Subsidy),
		Solvent:          q.Solvent,
		UpdatedAt:        q.UpdatedAt,
	}
}

type feesResponse struct {
	Protocol string `json:"protocol"`
	Resolver string `json:"resolver"`
	LP       string `json:"lp"`
	Total    string `json:"total"`
}

func newFeesResponse(f lmsr.FeeBreakdown) feesResponse {
	return feesResponse{
		Protocol: fixedpointString(f.Protocol),
		Resolver: fixedpointString(f.Resolver),
		LP:       fixedpointString(f.LP),
		Total:    fixedpointString(f.Total()),
	}
}

type previewResponse struct {
	Side        string       `json:"side"`
	Direction   string       `json:"direction"`
	Shares      string       `json:"shares"`
	Gross       string       `json:"gross"`
	Fees        feesResponse `json:"fees"`
	Net         string       `json:"net"`
	PriceBefore string       `json:"price_before"`
	PriceAfter  string       `json:"price_after"`
}

func newPreviewResponse(q lmsr.TradeQuote, sell bool) *previewResponse {
	dir := "buy"
	if sell {
		dir = "sell"
	}
	return &previewResponse{
		Side:        string(q.Side),
		Direction:   dir,
		Shares:      fixedpointString(q.Shares),
		Gross:       fixedpointString(q.Gross),
		Fees:        newFeesResponse(q.Fees),
		Net:         fixedpointString(q.Net),
		PriceBefore: fixedpointString(q.PriceBefore),
		PriceAfter:  fixedpointString(q.PriceAfter),
	}
}

type tradeResponse struct {
	MarketID string           `json:"market_id"`
	Side     string           `json:"side"`
	Shares   string           `json:"shares"`
	Gross    string           `json:"gross"`
	Fees     feesResponse     `json:"fees"`
	Amount   string           `json:"amount"`
	PriceYes string           `json:"price_yes"`
	PriceNo  string           `json:"price_no"`
	Position positionResponse `json:"position"`
}

func newTradeResponse(t *engine.TradeResult) tradeResponse {
	return tradeResponse{
		MarketID: t.MarketID.Hex(),
		Side:     string(t.Side),
		Shares:   fixedpointString(t.Shares),
		Gross:    fixedpointString(t.Gross),
		Fees:     newFeesResponse(t.Fees),
		Amount:   fixedpointString(t.Amount),
		PriceYes: fixedpointString(t.PriceYes),
		PriceNo:  fixedpointString(t.PriceNo),
		Position: newPositionResponse(t.Position),
	}
}

type claimResponse struct {
	MarketID    string           `json:"market_id"`
	User        string           `json:"user"`
	Outcome     string           `json:"outcome"`
	Winnings    string           `json:"winnings"`
	ResolverFee string           `json:"resolver_fee"`
	Resolver    string           `json:"resolver,omitempty"`
	Position    positionResponse `json:"position"`
}

func newClaimResponse(c *engine.ClaimResult) claimResponse {
	out := claimResponse{
		MarketID:    c.MarketID.Hex(),
		User:        c.User.Hex(),
		Outcome:     string(c.Outcome),
		Winnings:    fixedpointString(c.Winnings),
		ResolverFee: fixedpointString(c.ResolverFee),
		Position:    newPositionResponse(c.Position),
	}
	if c.ResolverFee > 0 {
		out.Resolver = c.Resolver.Hex()
	}
	return out
}

type decisionResponse struct {
	MarketID     string `json:"market_id"`
	Kind         string `json:"kind"`
	Agree        uint64 `json:"agree"`
	Disagree     uint64 `json:"disagree"`
	Total        uint64 `json:"total"`
	RateBps      uint64 `json:"rate_bps"`
	ThresholdBps uint16 `json:"threshold_bps"`
	Passed       bool   `json:"passed"`
	State        string `json:"state"`
}

func newDecisionResponse(d *engine.Decision) decisionResponse {
	return decisionResponse{
		MarketID:     d.MarketID.Hex(),
		Kind:         string(d.Kind),
		Agree:        d.Agree,
		Disagree:     d.Disagree,
		Total:        d.Total,
		RateBps:      d.RateBps,
		ThresholdBps: d.ThresholdBps,
		Passed:       d.Passed,
		State:        string(d.State),
	}
}

type voteResponse struct {
	MarketID string    `json:"market_id"`
	User     string    `json:"user"`
	Kind     string    `json:"kind"`
	Value    bool      `json:"value"`
	VotedAt  time.Time `json:"voted_at"`
}

func newVoteResponse(v *domain.Vote) voteResponse {
	return voteResponse{
		MarketID: v.MarketID.Hex(),
		User:     v.User.Hex(),
		Kind:     string(v.Kind),
		Value:    v.Value,
		VotedAt:  v.VotedAt,
	}
}

type listResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func newList[S any, T any](in []S, opts domain.ListOpts, conv func(*S) T) listResponse[T] {
	items := make([]T, 0, len(in))
	for i := range in {
		items = append(items, conv(&in[i]))
	}
	return listResponse[T]{Items: items, Limit: opts.Limit, Offset: opts.Offset}
}

func fixedpointString(v uint64) string { return fixedpoint.Format(v) }

func signedString(v int64) string {
	if v >= 0 {
		return fixedpoint.Format(uint64(v))
	}
	return "-" + fixedpoint.Format(uint64(-(v+1))+1)
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
