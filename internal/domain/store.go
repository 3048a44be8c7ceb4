package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketFilter narrows ListMarkets. A zero State matches every state.
type MarketFilter struct {
	State   MarketState
	Creator *common.Address
}

// LedgerTx is the view of the ledger inside one transaction. Reads see the
// transaction's own writes; nothing is visible to other transactions until
// the enclosing InTx commits.
type LedgerTx interface {
	Config(ctx context.Context) (*GlobalConfig, error)
	// InsertConfig stores the first config and returns
	// ErrAlreadyInitialized if one exists, including one committed
	// concurrently.
	InsertConfig(ctx context.Context, cfg *GlobalConfig) error
	// PutConfig replaces an existing config or returns ErrNotInitialized.
	PutConfig(ctx context.Context, cfg *GlobalConfig) error

	Market(ctx context.Context, id MarketID) (*Market, error)
	InsertMarket(ctx context.Context, m *Market) error
	UpdateMarket(ctx context.Context, m *Market) error

	// Position returns ErrNotFound when the user never traded the market.
	Position(ctx context.Context, market MarketID, user common.Address) (*Position, error)
	PutPosition(ctx context.Context, p *Position) error

	// InsertVote returns ErrAlreadyExists if a vote with the same
	// (market, user, kind) exists.
	InsertVote(ctx context.Context, v *Vote) error

	Balance(ctx context.Context, account Account) (uint64, error)
	// Transfer moves amount between accounts or returns
	// ErrInsufficientFunds.
	Transfer(ctx context.Context, from, to Account, amount uint64) error
	Credit(ctx context.Context, account Account, amount uint64) error

	// Emit queues an event to be journaled with the transaction.
	Emit(e Event)
}

// Ledger is the transactional record store hosting the engine.
type Ledger interface {
	// InTx runs fn as one all-or-nothing unit and returns the events it
	// emitted once they are durable. Transactions touching the same
	// records are serialized.
	InTx(ctx context.Context, fn func(tx LedgerTx) error) ([]Event, error)

	GetConfig(ctx context.Context) (*GlobalConfig, error)
	GetMarket(ctx context.Context, id MarketID) (*Market, error)
	ListMarkets(ctx context.Context, filter MarketFilter, opts ListOpts) ([]Market, error)
	GetPosition(ctx context.Context, market MarketID, user common.Address) (*Position, error)
	ListPositions(ctx context.Context, market MarketID, opts ListOpts) ([]Position, error)
	ListVotes(ctx context.Context, market MarketID, kind VoteKind, opts ListOpts) ([]Vote, error)
	GetBalance(ctx context.Context, account Account) (uint64, error)
	ListEvents(ctx context.Context, market MarketID, opts ListOpts) ([]Event, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
