package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/marketsettle/internal/domain"
)

const configCols = `admin, protocol_wallet, resolver_wallet, backend_authority,
	protocol_fee_bps, resolver_fee_bps, lp_fee_bps,
	proposal_approval_threshold_bps, dispute_success_threshold_bps,
	resolution_period_seconds, dispute_period_seconds,
	is_paused, created_at, updated_at`

const marketCols = `id, creator, b_parameter, initial_liquidity, evidence_hash,
	shares_yes, shares_no, current_liquidity, total_volume,
	accumulated_protocol_fee, accumulated_resolver_fee, accumulated_lp_fee,
	proposal_likes, proposal_dislikes, proposal_total_votes,
	dispute_agree, dispute_disagree, dispute_total_votes,
	state, proposed_outcome, final_outcome, resolution_evidence,
	resolver, was_disputed, dispute_rounds, dispute_initiator,
	created_at, approved_at, activated_at, resolution_proposed_at,
	dispute_initiated_at, finalized_at, cancelled_at, updated_at`

const positionCols = `market_id, user_address, shares_yes, shares_no,
	total_invested, realized_pnl, has_claimed, claimed_amount,
	trades_count, last_trade_at, created_at`

// marketDest returns scan targets in marketCols order. String enums are
// scanned through the typed fields' underlying string.
func marketDest(m *domain.Market) []any {
	return []any{
		hashCol{&m.ID}, addrCol{&m.Creator},
		amountCol{&m.BParameter}, amountCol{&m.InitialLiquidity}, &m.EvidenceHash,
		amountCol{&m.SharesYes}, amountCol{&m.SharesNo},
		amountCol{&m.CurrentLiquidity}, amountCol{&m.TotalVolume},
		amountCol{&m.AccumulatedProtocolFee}, amountCol{&m.AccumulatedResolverFee}, amountCol{&m.AccumulatedLPFee},
		amountCol{&m.ProposalLikes}, amountCol{&m.ProposalDislikes}, amountCol{&m.ProposalTotalVotes},
		amountCol{&m.DisputeAgree}, amountCol{&m.DisputeDisagree}, amountCol{&m.DisputeTotalVotes},
		(*string)(&m.State), (*string)(&m.ProposedOutcome), (*string)(&m.FinalOutcome), &m.ResolutionEvidence,
		addrCol{&m.Resolver}, &m.WasDisputed, &m.DisputeRounds, addrCol{&m.DisputeInitiator},
		timeCol{&m.CreatedAt}, timeCol{&m.ApprovedAt}, timeCol{&m.ActivatedAt}, timeCol{&m.ResolutionProposedAt},
		timeCol{&m.DisputeInitiatedAt}, timeCol{&m.FinalizedAt}, timeCol{&m.CancelledAt}, timeCol{&m.UpdatedAt},
	}
}

func marketArgs(m *domain.Market) []any {
	return []any{
		m.ID.Hex(), addrText(m.Creator),
		amount(m.BParameter), amount(m.InitialLiquidity), m.EvidenceHash,
		amount(m.SharesYes), amount(m.SharesNo),
		amount(m.CurrentLiquidity), amount(m.TotalVolume),
		amount(m.AccumulatedProtocolFee), amount(m.AccumulatedResolverFee), amount(m.AccumulatedLPFee),
		amount(m.ProposalLikes), amount(m.ProposalDislikes), amount(m.ProposalTotalVotes),
		amount(m.DisputeAgree), amount(m.DisputeDisagree), amount(m.DisputeTotalVotes),
		string(m.State), string(m.ProposedOutcome), string(m.FinalOutcome), m.ResolutionEvidence,
		addrText(m.Resolver), m.WasDisputed, int32(m.DisputeRounds), addrText(m.DisputeInitiator),
		m.CreatedAt, nullTime(m.ApprovedAt), nullTime(m.ActivatedAt), nullTime(m.ResolutionProposedAt),
		nullTime(m.DisputeInitiatedAt), nullTime(m.FinalizedAt), nullTime(m.CancelledAt), m.UpdatedAt,
	}
}

func positionDest(p *domain.Position) []any {
	return []any{
		hashCol{&p.MarketID}, addrCol{&p.User},
		amountCol{&p.SharesYes}, amountCol{&p.SharesNo},
		amountCol{&p.TotalInvested}, &p.RealizedPnL, &p.HasClaimed, amountCol{&p.ClaimedAmount},
		&p.TradesCount, timeCol{&p.LastTradeAt}, timeCol{&p.CreatedAt},
	}
}

func positionArgs(p *domain.Position) []any {
	return []any{
		p.MarketID.Hex(), p.User.Hex(),
		amount(p.SharesYes), amount(p.SharesNo),
		amount(p.TotalInvested), p.RealizedPnL, p.HasClaimed, amount(p.ClaimedAmount),
		int32(p.TradesCount), nullTime(p.LastTradeAt), p.CreatedAt,
	}
}

func selectConfig(ctx context.Context, q querier, lock string) (*domain.GlobalConfig, error) {
	var (
		c                                   domain.GlobalConfig
		protocolBps, resolverBps, lpBps     int32
		proposalThreshold, disputeThreshold int32
	)
	err := q.QueryRow(ctx, `SELECT `+configCols+` FROM global_config WHERE id = 1`+lock).Scan(
		addrCol{&c.Admin}, addrCol{&c.ProtocolWallet}, addrCol{&c.ResolverWallet}, addrCol{&c.BackendAuthority},
		&protocolBps, &resolverBps, &lpBps,
		&proposalThreshold, &disputeThreshold,
		&c.ResolutionPeriodSeconds, &c.DisputePeriodSeconds,
		&c.IsPaused, timeCol{&c.CreatedAt}, timeCol{&c.UpdatedAt},
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get config: %w", err)
	}
	c.ProtocolFeeBps = uint16(protocolBps)
	c.ResolverFeeBps = uint16(resolverBps)
	c.LPFeeBps = uint16(lpBps)
	c.ProposalApprovalThresholdBps = uint16(proposalThreshold)
	c.DisputeSuccessThresholdBps = uint16(disputeThreshold)
	return &c, nil
}

func selectMarket(ctx context.Context, q querier, id domain.MarketID, lock string) (*domain.Market, error) {
	var m domain.Market
	err := q.QueryRow(ctx, `SELECT `+marketCols+` FROM markets WHERE id = $1`+lock, id.Hex()).Scan(marketDest(&m)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("market %s: %w", id.Hex(), domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get market %s: %w", id.Hex(), err)
	}
	return &m, nil
}

func selectPosition(ctx context.Context, q querier, market domain.MarketID, user common.Address, lock string) (*domain.Position, error) {
	var p domain.Position
	err := q.QueryRow(ctx,
		`SELECT `+positionCols+` FROM positions WHERE market_id = $1 AND user_address = $2`+lock,
		market.Hex(), user.Hex(),
	).Scan(positionDest(&p)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("position %s/%s: %w", market.Hex(), user.Hex(), domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get position %s/%s: %w", market.Hex(), user.Hex(), err)
	}
	return &p, nil
}

func selectBalance(ctx context.Context, q querier, account domain.Account, lock string) (uint64, error) {
	var bal uint64
	err := q.QueryRow(ctx, `SELECT amount FROM balances WHERE account = $1`+lock, string(account)).Scan(amountCol{&bal})
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: get balance %s: %w", account, err)
	}
	return bal, nil
}
