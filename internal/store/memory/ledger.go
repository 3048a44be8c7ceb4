// Package memory implements domain.Ledger in process memory. It backs tests
// and single-node deployments that do not configure PostgreSQL.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketsettle/internal/domain"
	"github.com/alanyoungcy/marketsettle/internal/fixedpoint"
)

type positionKey struct {
	market domain.MarketID
	user   common.Address
}

type voteKey struct {
	market domain.MarketID
	user   common.Address
	kind   domain.VoteKind
}

// Ledger is an in-memory domain.Ledger. Transactions are fully serialized:
// InTx holds the write lock for the duration of fn and writes are buffered
// in the transaction until it commits.
type Ledger struct {
	mu sync.RWMutex

	config    *domain.GlobalConfig
	markets   map[domain.MarketID]domain.Market
	order     []domain.MarketID
	positions map[positionKey]domain.Position
	votes     []domain.Vote
	voteIndex map[voteKey]struct{}
	balances  map[domain.Account]uint64
	events    []domain.Event
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		markets:   make(map[domain.MarketID]domain.Market),
		positions: make(map[positionKey]domain.Position),
		voteIndex: make(map[voteKey]struct{}),
		balances:  make(map[domain.Account]uint64),
	}
}

// InTx runs fn against a buffered view of the ledger and applies the
// buffer only if fn returns nil.
func (l *Ledger) InTx(ctx context.Context, fn func(tx domain.LedgerTx) error) ([]domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	t := newTx(l)
	if err := fn(t); err != nil {
		return nil, err
	}
	return l.commit(t), nil
}

func (l *Ledger) commit(t *tx) []domain.Event {
	if t.config != nil {
		c := *t.config
		l.config = &c
	}
	l.order = append(l.order, t.inserted...)
	for id, m := range t.markets {
		l.markets[id] = *m
	}
	for k, p := range t.positions {
		l.positions[k] = *p
	}
	for _, v := range t.votes {
		l.votes = append(l.votes, v)
		l.voteIndex[voteKey{v.MarketID, v.User, v.Kind}] = struct{}{}
	}
	for acct, bal := range t.balances {
		l.balances[acct] = bal
	}
	committed := make([]domain.Event, 0, len(t.events))
	for _, e := range t.events {
		e.Seq = int64(len(l.events) + 1)
		l.events = append(l.events, e)
		committed = append(committed, e)
	}
	return committed
}

func (l *Ledger) GetConfig(_ context.Context) (*domain.GlobalConfig, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.config == nil {
		return nil, domain.ErrNotInitialized
	}
	c := *l.config
	return &c, nil
}

func (l *Ledger) GetMarket(_ context.Context, id domain.MarketID) (*domain.Market, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", id.Hex(), domain.ErrNotFound)
	}
	return &m, nil
}

func (l *Ledger) ListMarkets(_ context.Context, filter domain.MarketFilter, opts domain.ListOpts) ([]domain.Market, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Market, 0, len(l.order))
	for _, id := range l.order {
		m := l.markets[id]
		if filter.State != "" && m.State != filter.State {
			continue
		}
		if filter.Creator != nil && m.Creator != *filter.Creator {
			continue
		}
		if !inWindow(m.CreatedAt, opts) {
			continue
		}
		out = append(out, m)
	}
	return paginate(out, opts), nil
}

func (l *Ledger) GetPosition(_ context.Context, market domain.MarketID, user common.Address) (*domain.Position, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[positionKey{market, user}]
	if !ok {
		return nil, fmt.Errorf("position %s/%s: %w", market.Hex(), user.Hex(), domain.ErrNotFound)
	}
	return &p, nil
}

func (l *Ledger) ListPositions(_ context.Context, market domain.MarketID, opts domain.ListOpts) ([]domain.Position, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.Position
	for k, p := range l.positions {
		if k.market == market {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].User.Cmp(out[j].User) < 0
	})
	return paginate(out, opts), nil
}

func (l *Ledger) ListVotes(_ context.Context, market domain.MarketID, kind domain.VoteKind, opts domain.ListOpts) ([]domain.Vote, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.Vote
	for _, v := range l.votes {
		if v.MarketID != market || (kind != "" && v.Kind != kind) {
			continue
		}
		if !inWindow(v.VotedAt, opts) {
			continue
		}
		out = append(out, v)
	}
	return paginate(out, opts), nil
}

func (l *Ledger) GetBalance(_ context.Context, account domain.Account) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[account], nil
}

// ListEvents returns the journal in commit order. A zero market id lists
// every market.
func (l *Ledger) ListEvents(_ context.Context, market domain.MarketID, opts domain.ListOpts) ([]domain.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.Event
	for _, e := range l.events {
		if market != (domain.MarketID{}) && e.MarketID != market {
			continue
		}
		if !inWindow(e.At, opts) {
			continue
		}
		out = append(out, e)
	}
	return paginate(out, opts), nil
}

// tx buffers writes on top of the committed ledger state. The parent lock
// is held for its whole lifetime.
type tx struct {
	l *Ledger

	config    *domain.GlobalConfig
	markets   map[domain.MarketID]*domain.Market
	inserted  []domain.MarketID
	positions map[positionKey]*domain.Position
	votes     []domain.Vote
	voteIndex map[voteKey]struct{}
	balances  map[domain.Account]uint64
	events    []domain.Event
}

func newTx(l *Ledger) *tx {
	return &tx{
		l:         l,
		markets:   make(map[domain.MarketID]*domain.Market),
		positions: make(map[positionKey]*domain.Position),
		voteIndex: make(map[voteKey]struct{}),
		balances:  make(map[domain.Account]uint64),
	}
}

func (t *tx) Config(_ context.Context) (*domain.GlobalConfig, error) {
	src := t.config
	if src == nil {
		src = t.l.config
	}
	if src == nil {
		return nil, domain.ErrNotInitialized
	}
	c := *src
	return &c, nil
}

func (t *tx) InsertConfig(_ context.Context, cfg *domain.GlobalConfig) error {
	if t.config != nil || t.l.config != nil {
		return domain.ErrAlreadyInitialized
	}
	c := *cfg
	t.config = &c
	return nil
}

func (t *tx) PutConfig(_ context.Context, cfg *domain.GlobalConfig) error {
	if t.config == nil && t.l.config == nil {
		return domain.ErrNotInitialized
	}
	c := *cfg
	t.config = &c
	return nil
}

func (t *tx) Market(_ context.Context, id domain.MarketID) (*domain.Market, error) {
	if m, ok := t.markets[id]; ok {
		cp := *m
		return &cp, nil
	}
	m, ok := t.l.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", id.Hex(), domain.ErrNotFound)
	}
	return &m, nil
}

func (t *tx) InsertMarket(_ context.Context, m *domain.Market) error {
	if _, ok := t.markets[m.ID]; ok {
		return domain.ErrMarketExists
	}
	if _, ok := t.l.markets[m.ID]; ok {
		return domain.ErrMarketExists
	}
	cp := *m
	t.markets[m.ID] = &cp
	t.inserted = append(t.inserted, m.ID)
	return nil
}

func (t *tx) UpdateMarket(ctx context.Context, m *domain.Market) error {
	if _, err := t.Market(ctx, m.ID); err != nil {
		return err
	}
	cp := *m
	t.markets[m.ID] = &cp
	return nil
}

func (t *tx) Position(_ context.Context, market domain.MarketID, user common.Address) (*domain.Position, error) {
	k := positionKey{market, user}
	if p, ok := t.positions[k]; ok {
		cp := *p
		return &cp, nil
	}
	p, ok := t.l.positions[k]
	if !ok {
		return nil, fmt.Errorf("position %s/%s: %w", market.Hex(), user.Hex(), domain.ErrNotFound)
	}
	return &p, nil
}

func (t *tx) PutPosition(_ context.Context, p *domain.Position) error {
	cp := *p
	t.positions[positionKey{p.MarketID, p.User}] = &cp
	return nil
}

func (t *tx) InsertVote(_ context.Context, v *domain.Vote) error {
	k := voteKey{v.MarketID, v.User, v.Kind}
	if _, ok := t.voteIndex[k]; ok {
		return domain.ErrAlreadyExists
	}
	if _, ok := t.l.voteIndex[k]; ok {
		return domain.ErrAlreadyExists
	}
	t.voteIndex[k] = struct{}{}
	t.votes = append(t.votes, *v)
	return nil
}

func (t *tx) Balance(_ context.Context, account domain.Account) (uint64, error) {
	if b, ok := t.balances[account]; ok {
		return b, nil
	}
	return t.l.balances[account], nil
}

func (t *tx) Transfer(ctx context.Context, from, to domain.Account, amount uint64) error {
	if amount == 0 || from == to {
		return nil
	}
	fromBal, _ := t.Balance(ctx, from)
	if fromBal < amount {
		return fmt.Errorf("%s has %d, needs %d: %w", from, fromBal, amount, domain.ErrInsufficientFunds)
	}
	toBal, _ := t.Balance(ctx, to)
	next, err := fixedpoint.Add(toBal, amount)
	if err != nil {
		return err
	}
	t.balances[from] = fromBal - amount
	t.balances[to] = next
	return nil
}

func (t *tx) Credit(ctx context.Context, account domain.Account, amount uint64) error {
	bal, _ := t.Balance(ctx, account)
	next, err := fixedpoint.Add(bal, amount)
	if err != nil {
		return err
	}
	t.balances[account] = next
	return nil
}

func (t *tx) Emit(e domain.Event) {
	t.events = append(t.events, e)
}
