package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketsettle/internal/domain"
	"github.com/alanyoungcy/marketsettle/internal/store/memory"
)

var (
	alice  = common.HexToAddress("0xa11ce")
	bob    = common.HexToAddress("0xb0b")
	market = common.HexToHash("0x01")
)

func TestInTx_CommitsWrites(t *testing.T) {
	ctx := context.Background()
	l := memory.NewLedger()
	now := time.Unix(1_700_000_000, 0).UTC()

	events, err := l.InTx(ctx, func(tx domain.LedgerTx) error {
		require.NoError(t, tx.Credit(ctx, domain.WalletAccount(alice), 100))
		require.NoError(t, tx.InsertMarket(ctx, &domain.Market{ID: market, Creator: alice, State: domain.MarketStateProposed, CreatedAt: now}))
		tx.Emit(domain.NewEvent(domain.EventMarketCreated, market, alice, now, nil))
		tx.Emit(domain.NewEvent(domain.EventDeposit, market, alice, now, nil))
		return nil
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(1), events[0].Seq)
	assert.Equal(t, int64(2), events[1].Seq)

	bal, err := l.GetBalance(ctx, domain.WalletAccount(alice))
	require.NoError(t, err)
	assert.Equal(t, uint64(100), bal)

	m, err := l.GetMarket(ctx, market)
	require.NoError(t, err)
	assert.Equal(t, alice, m.Creator)
}

func TestInTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	l := memory.NewLedger()
	boom := errors.New("boom")

	_, err := l.InTx(ctx, func(tx domain.LedgerTx) error {
		require.NoError(t, tx.Credit(ctx, domain.WalletAccount(alice), 100))
		require.NoError(t, tx.InsertMarket(ctx, &domain.Market{ID: market}))
		tx.Emit(domain.NewEvent(domain.EventDeposit, market, alice, time.Now(), nil))
		return boom
	})
	require.ErrorIs(t, err, boom)

	bal, err := l.GetBalance(ctx, domain.WalletAccount(alice))
	require.NoError(t, err)
	assert.Zero(t, bal)
	_, err = l.GetMarket(ctx, market)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	events, err := l.ListEvents(ctx, domain.MarketID{}, domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestTx_ReadsOwnWrites(t *testing.T) {
	ctx := context.Background()
	l := memory.NewLedger()

	_, err := l.InTx(ctx, func(tx domain.LedgerTx) error {
		require.NoError(t, tx.InsertMarket(ctx, &domain.Market{ID: market, State: domain.MarketStateProposed}))
		m, err := tx.Market(ctx, market)
		require.NoError(t, err)
		m.State = domain.MarketStateApproved
		require.NoError(t, tx.UpdateMarket(ctx, m))

		again, err := tx.Market(ctx, market)
		require.NoError(t, err)
		assert.Equal(t, domain.MarketStateApproved, again.State)

		assert.ErrorIs(t, tx.InsertMarket(ctx, &domain.Market{ID: market}), domain.ErrMarketExists)
		return nil
	})
	require.NoError(t, err)
}

func TestTx_Transfer(t *testing.T) {
	ctx := context.Background()
	l := memory.NewLedger()
	from, to := domain.WalletAccount(alice), domain.PoolAccount(market)

	_, err := l.InTx(ctx, func(tx domain.LedgerTx) error {
		require.NoError(t, tx.Credit(ctx, from, 50))
		require.NoError(t, tx.Transfer(ctx, from, to, 30))
		err := tx.Transfer(ctx, from, to, 21)
		assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
		return nil
	})
	require.NoError(t, err)

	fb, _ := l.GetBalance(ctx, from)
	tb, _ := l.GetBalance(ctx, to)
	assert.Equal(t, uint64(20), fb)
	assert.Equal(t, uint64(30), tb)
}

func TestTx_DuplicateVote(t *testing.T) {
	ctx := context.Background()
	l := memory.NewLedger()
	vote := &domain.Vote{MarketID: market, User: alice, Kind: domain.VoteKindProposal, Value: true}

	_, err := l.InTx(ctx, func(tx domain.LedgerTx) error {
		return tx.InsertVote(ctx, vote)
	})
	require.NoError(t, err)

	_, err = l.InTx(ctx, func(tx domain.LedgerTx) error {
		return tx.InsertVote(ctx, vote)
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	// The same user may still cast a dispute vote.
	_, err = l.InTx(ctx, func(tx domain.LedgerTx) error {
		return tx.InsertVote(ctx, &domain.Vote{MarketID: market, User: alice, Kind: domain.VoteKindDispute})
	})
	require.NoError(t, err)

	votes, err := l.ListVotes(ctx, market, domain.VoteKindProposal, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, votes, 1)
	votes, err = l.ListVotes(ctx, market, "", domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, votes, 2)
}

func TestListMarkets_FilterAndPaginate(t *testing.T) {
	ctx := context.Background()
	l := memory.NewLedger()
	base := time.Unix(1_700_000_000, 0).UTC()

	_, err := l.InTx(ctx, func(tx domain.LedgerTx) error {
		for i := 0; i < 5; i++ {
			creator := alice
			if i%2 == 1 {
				creator = bob
			}
			m := &domain.Market{
				ID:        common.BytesToHash([]byte{byte(i + 10)}),
				Creator:   creator,
				State:     domain.MarketStateProposed,
				CreatedAt: base.Add(time.Duration(i) * time.Minute),
			}
			if err := tx.InsertMarket(ctx, m); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	all, err := l.ListMarkets(ctx, domain.MarketFilter{}, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, all, 5)

	mine, err := l.ListMarkets(ctx, domain.MarketFilter{Creator: &bob}, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	page, err := l.ListMarkets(ctx, domain.MarketFilter{}, domain.ListOpts{Offset: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, all[1].ID, page[0].ID)

	none, err := l.ListMarkets(ctx, domain.MarketFilter{State: domain.MarketStateActive}, domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestConfig_NotInitialized(t *testing.T) {
	_, err := memory.NewLedger().GetConfig(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
}

func TestTx_InsertConfigOnce(t *testing.T) {
	ctx := context.Background()
	l := memory.NewLedger()
	cfg := &domain.GlobalConfig{Admin: alice}

	_, err := l.InTx(ctx, func(tx domain.LedgerTx) error {
		return tx.PutConfig(ctx, cfg)
	})
	assert.ErrorIs(t, err, domain.ErrNotInitialized)

	_, err = l.InTx(ctx, func(tx domain.LedgerTx) error {
		if err := tx.InsertConfig(ctx, cfg); err != nil {
			return err
		}
		// A second insert in the same transaction sees the first.
		return tx.InsertConfig(ctx, &domain.GlobalConfig{Admin: bob})
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyInitialized)
	_, err = l.GetConfig(ctx)
	assert.ErrorIs(t, err, domain.ErrNotInitialized)

	_, err = l.InTx(ctx, func(tx domain.LedgerTx) error {
		return tx.InsertConfig(ctx, cfg)
	})
	require.NoError(t, err)
	_, err = l.InTx(ctx, func(tx domain.LedgerTx) error {
		return tx.InsertConfig(ctx, &domain.GlobalConfig{Admin: bob})
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyInitialized)

	got, err := l.GetConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, alice, got.Admin)
}
