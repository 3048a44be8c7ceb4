package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketsettle/internal/domain"
)

// maxTxAttempts bounds retries of a transaction aborted by a deadlock or a
// serialization failure.
const maxTxAttempts = 3

// Ledger implements domain.Ledger on PostgreSQL. Every row a transaction
// reads for update is locked with SELECT ... FOR UPDATE, so transactions
// touching the same market serialize on its row.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger creates a Ledger backed by the given connection pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// InTx runs fn inside a database transaction and journals the emitted
// events before committing.
func (l *Ledger) InTx(ctx context.Context, fn func(tx domain.LedgerTx) error) ([]domain.Event, error) {
	var lastErr error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		events, err := l.runTx(ctx, fn)
		if err == nil || !retryable(err) {
			return events, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("postgres: transaction retries exhausted: %w", lastErr)
}

func (l *Ledger) runTx(ctx context.Context, fn func(tx domain.LedgerTx) error) ([]domain.Event, error) {
	pgtx, err := l.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = pgtx.Rollback(ctx) }()

	t := &ledgerTx{tx: pgtx}
	if err := fn(t); err != nil {
		return nil, err
	}
	events, err := t.flushEvents(ctx)
	if err != nil {
		return nil, err
	}
	if err := pgtx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit: %w", err)
	}
	return events, nil
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// 40001 serialization_failure, 40P01 deadlock_detected.
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// GetConfig returns the protocol configuration or ErrNotInitialized.
func (l *Ledger) GetConfig(ctx context.Context) (*domain.GlobalConfig, error) {
	return selectConfig(ctx, l.pool, "")
}

// GetMarket retrieves a market by id.
func (l *Ledger) GetMarket(ctx context.Context, id domain.MarketID) (*domain.Market, error) {
	return selectMarket(ctx, l.pool, id, "")
}

// ListMarkets returns markets in creation order, filtered by state and
// creator.
func (l *Ledger) ListMarkets(ctx context.Context, filter domain.MarketFilter, opts domain.ListOpts) ([]domain.Market, error) {
	q := newQuery(`SELECT ` + marketCols + ` FROM markets WHERE 1=1`)
	if filter.State != "" {
		q.where("state = %s", string(filter.State))
	}
	if filter.Creator != nil {
		q.where("creator = %s", filter.Creator.Hex())
	}
	q.window("created_at", opts)
	q.order("seq ASC")
	q.page(opts)

	rows, err := l.pool.Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	markets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Market, error) {
		var m domain.Market
		err := row.Scan(marketDest(&m)...)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan markets: %w", err)
	}
	return markets, nil
}

// GetPosition retrieves the position of user in market.
func (l *Ledger) GetPosition(ctx context.Context, market domain.MarketID, user common.Address) (*domain.Position, error) {
	return selectPosition(ctx, l.pool, market, user, "")
}

// ListPositions returns a market's positions oldest first.
func (l *Ledger) ListPositions(ctx context.Context, market domain.MarketID, opts domain.ListOpts) ([]domain.Position, error) {
	q := newQuery(`SELECT ` + positionCols + ` FROM positions WHERE 1=1`)
	q.where("market_id = %s", market.Hex())
	q.window("created_at", opts)
	q.order("created_at ASC, user_address ASC")
	q.page(opts)

	rows, err := l.pool.Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	positions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Position, error) {
		var p domain.Position
		err := row.Scan(positionDest(&p)...)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return positions, nil
}

// ListVotes returns a market's votes in submission order. An empty kind
// lists both kinds.
func (l *Ledger) ListVotes(ctx context.Context, market domain.MarketID, kind domain.VoteKind, opts domain.ListOpts) ([]domain.Vote, error) {
	q := newQuery(`SELECT market_id, user_address, kind, value, voted_at FROM votes WHERE 1=1`)
	q.where("market_id = %s", market.Hex())
	if kind != "" {
		q.where("kind = %s", string(kind))
	}
	q.window("voted_at", opts)
	q.order("seq ASC")
	q.page(opts)

	rows, err := l.pool.Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list votes: %w", err)
	}
	votes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Vote, error) {
		var (
			v    domain.Vote
			kind string
		)
		err := row.Scan(hashCol{&v.MarketID}, addrCol{&v.User}, &kind, &v.Value, timeCol{&v.VotedAt})
		v.Kind = domain.VoteKind(kind)
		return v, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan votes: %w", err)
	}
	return votes, nil
}

// GetBalance returns the balance of account, zero if it never held funds.
func (l *Ledger) GetBalance(ctx context.Context, account domain.Account) (uint64, error) {
	return selectBalance(ctx, l.pool, account, "")
}

// ListEvents returns journaled events in commit order. A zero market id
// lists every market.
func (l *Ledger) ListEvents(ctx context.Context, market domain.MarketID, opts domain.ListOpts) ([]domain.Event, error) {
	q := newQuery(`SELECT seq, id, kind, market_id, actor, data, at FROM events WHERE 1=1`)
	if market != (domain.MarketID{}) {
		q.where("market_id = %s", market.Hex())
	}
	q.window("at", opts)
	q.order("seq ASC")
	q.page(opts)

	rows, err := l.pool.Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Event, error) {
		var (
			e    domain.Event
			kind string
			data []byte
		)
		err := row.Scan(&e.Seq, &e.ID, &kind, hashCol{&e.MarketID}, addrCol{&e.Actor}, &data, timeCol{&e.At})
		if err != nil {
			return e, err
		}
		e.Kind = domain.EventKind(kind)
		e.Data, err = decodeData(data)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan events: %w", err)
	}
	return events, nil
}
