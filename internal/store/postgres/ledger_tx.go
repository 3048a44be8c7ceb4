package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alanyoungcy/marketsettle/internal/domain"
)

const forUpdate = " FOR UPDATE"

// ledgerTx implements domain.LedgerTx over one pgx transaction. Reads lock
// the rows they return; events are buffered and inserted just before
// commit.
type ledgerTx struct {
	tx     pgx.Tx
	events []domain.Event
}

func (t *ledgerTx) Config(ctx context.Context) (*domain.GlobalConfig, error) {
	return selectConfig(ctx, t.tx, forUpdate)
}

// InsertConfig relies on the primary key of the single config row: a
// concurrent initializer blocks on it and then inserts nothing.
func (t *ledgerTx) InsertConfig(ctx context.Context, c *domain.GlobalConfig) error {
	const query = `
		INSERT INTO global_config (id, ` + configCols + `)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING`

	tag, err := t.tx.Exec(ctx, query, configArgs(c)...)
	if err != nil {
		return fmt.Errorf("postgres: insert config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyInitialized
	}
	return nil
}

func (t *ledgerTx) PutConfig(ctx context.Context, c *domain.GlobalConfig) error {
	const query = `
		UPDATE global_config SET
			admin                           = $1,
			protocol_wallet                 = $2,
			resolver_wallet                 = $3,
			backend_authority               = $4,
			protocol_fee_bps                = $5,
			resolver_fee_bps                = $6,
			lp_fee_bps                      = $7,
			proposal_approval_threshold_bps = $8,
			dispute_success_threshold_bps   = $9,
			resolution_period_seconds       = $10,
			dispute_period_seconds          = $11,
			is_paused                       = $12,
			created_at                      = $13,
			updated_at                      = $14
		WHERE id = 1`

	tag, err := t.tx.Exec(ctx, query, configArgs(c)...)
	if err != nil {
		return fmt.Errorf("postgres: put config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotInitialized
	}
	return nil
}

func configArgs(c *domain.GlobalConfig) []any {
	return []any{
		addrText(c.Admin), addrText(c.ProtocolWallet), addrText(c.ResolverWallet), addrText(c.BackendAuthority),
		int32(c.ProtocolFeeBps), int32(c.ResolverFeeBps), int32(c.LPFeeBps),
		int32(c.ProposalApprovalThresholdBps), int32(c.DisputeSuccessThresholdBps),
		c.ResolutionPeriodSeconds, c.DisputePeriodSeconds,
		c.IsPaused, c.CreatedAt, c.UpdatedAt,
	}
}

func (t *ledgerTx) Market(ctx context.Context, id domain.MarketID) (*domain.Market, error) {
	return selectMarket(ctx, t.tx, id, forUpdate)
}

func (t *ledgerTx) InsertMarket(ctx context.Context, m *domain.Market) error {
	const query = `
		INSERT INTO markets (` + marketCols + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24,
			$25, $26, $27, $28, $29, $30, $31, $32, $33, $34
		)
		ON CONFLICT (id) DO NOTHING`

	tag, err := t.tx.Exec(ctx, query, marketArgs(m)...)
	if err != nil {
		return fmt.Errorf("postgres: insert market %s: %w", m.ID.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("market %s: %w", m.ID.Hex(), domain.ErrMarketExists)
	}
	return nil
}

func (t *ledgerTx) UpdateMarket(ctx context.Context, m *domain.Market) error {
	const query = `
		UPDATE markets SET
			creator                  = $2,
			b_parameter              = $3,
			initial_liquidity        = $4,
			evidence_hash            = $5,
			shares_yes               = $6,
			shares_no                = $7,
			current_liquidity        = $8,
			total_volume             = $9,
			accumulated_protocol_fee = $10,
			accumulated_resolver_fee = $11,
			accumulated_lp_fee       = $12,
			proposal_likes           = $13,
			proposal_dislikes        = $14,
			proposal_total_votes     = $15,
			dispute_agree            = $16,
			dispute_disagree         = $17,
			dispute_total_votes      = $18,
			state                    = $19,
			proposed_outcome         = $20,
			final_outcome            = $21,
			resolution_evidence      = $22,
			resolver                 = $23,
			was_disputed             = $24,
			dispute_rounds           = $25,
			dispute_initiator        = $26,
			created_at               = $27,
			approved_at              = $28,
			activated_at             = $29,
			resolution_proposed_at   = $30,
			dispute_initiated_at     = $31,
			finalized_at             = $32,
			cancelled_at             = $33,
			updated_at               = $34
		WHERE id = $1`

	tag, err := t.tx.Exec(ctx, query, marketArgs(m)...)
	if err != nil {
		return fmt.Errorf("postgres: update market %s: %w", m.ID.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("market %s: %w", m.ID.Hex(), domain.ErrNotFound)
	}
	return nil
}

func (t *ledgerTx) Position(ctx context.Context, market domain.MarketID, user common.Address) (*domain.Position, error) {
	return selectPosition(ctx, t.tx, market, user, forUpdate)
}

func (t *ledgerTx) PutPosition(ctx context.Context, p *domain.Position) error {
	const query = `
		INSERT INTO positions (` + positionCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (market_id, user_address) DO UPDATE SET
			shares_yes     = EXCLUDED.shares_yes,
			shares_no      = EXCLUDED.shares_no,
			total_invested = EXCLUDED.total_invested,
			realized_pnl   = EXCLUDED.realized_pnl,
			has_claimed    = EXCLUDED.has_claimed,
			claimed_amount = EXCLUDED.claimed_amount,
			trades_count   = EXCLUDED.trades_count,
			last_trade_at  = EXCLUDED.last_trade_at`

	if _, err := t.tx.Exec(ctx, query, positionArgs(p)...); err != nil {
		return fmt.Errorf("postgres: put position %s/%s: %w", p.MarketID.Hex(), p.User.Hex(), err)
	}
	return nil
}

func (t *ledgerTx) InsertVote(ctx context.Context, v *domain.Vote) error {
	const query = `
		INSERT INTO votes (market_id, user_address, kind, value, voted_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (market_id, user_address, kind) DO NOTHING`

	tag, err := t.tx.Exec(ctx, query, v.MarketID.Hex(), v.User.Hex(), string(v.Kind), v.Value, v.VotedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert vote: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s vote by %s: %w", v.Kind, v.User.Hex(), domain.ErrAlreadyExists)
	}
	return nil
}

func (t *ledgerTx) Balance(ctx context.Context, account domain.Account) (uint64, error) {
	return selectBalance(ctx, t.tx, account, forUpdate)
}

// Transfer debits from with a conditional update so a concurrent debit can
// never drive the balance negative.
func (t *ledgerTx) Transfer(ctx context.Context, from, to domain.Account, amt uint64) error {
	if amt == 0 || from == to {
		return nil
	}
	const debit = `
		UPDATE balances SET amount = amount - $2, updated_at = NOW()
		WHERE account = $1 AND amount >= $2`

	tag, err := t.tx.Exec(ctx, debit, string(from), amount(amt))
	if err != nil {
		return fmt.Errorf("postgres: debit %s: %w", from, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", from, domain.ErrInsufficientFunds)
	}
	return t.Credit(ctx, to, amt)
}

func (t *ledgerTx) Credit(ctx context.Context, account domain.Account, amt uint64) error {
	if amt == 0 {
		return nil
	}
	const credit = `
		INSERT INTO balances (account, amount, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (account) DO UPDATE SET
			amount     = balances.amount + EXCLUDED.amount,
			updated_at = NOW()`

	if _, err := t.tx.Exec(ctx, credit, string(account), amount(amt)); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23514" {
			// The amount domain rejects a sum past uint64.
			return fmt.Errorf("credit %s: %w", account, domain.ErrOverflow)
		}
		return fmt.Errorf("postgres: credit %s: %w", account, err)
	}
	return nil
}

func (t *ledgerTx) Emit(e domain.Event) {
	t.events = append(t.events, e)
}

func (t *ledgerTx) flushEvents(ctx context.Context) ([]domain.Event, error) {
	if len(t.events) == 0 {
		return nil, nil
	}
	const insert = `
		INSERT INTO events (id, kind, market_id, actor, data, at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq`

	batch := &pgx.Batch{}
	for _, e := range t.events {
		data, err := json.Marshal(e.Data)
		if err != nil {
			return nil, fmt.Errorf("postgres: marshal event %s: %w", e.Kind, err)
		}
		batch.Queue(insert, e.ID, string(e.Kind), e.MarketID.Hex(), addrText(e.Actor), data, e.At)
	}

	br := t.tx.SendBatch(ctx, batch)
	defer br.Close()

	out := make([]domain.Event, len(t.events))
	for i, e := range t.events {
		if err := br.QueryRow().Scan(&e.Seq); err != nil {
			return nil, fmt.Errorf("postgres: journal event %d: %w", i, err)
		}
		out[i] = e
	}
	return out, nil
}

var (
	_ domain.Ledger   = (*Ledger)(nil)
	_ domain.LedgerTx = (*ledgerTx)(nil)
)
