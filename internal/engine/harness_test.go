package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketsettle/internal/domain"
	"github.com/alanyoungcy/marketsettle/internal/engine"
	"github.com/alanyoungcy/marketsettle/internal/fixedpoint"
	"github.com/alanyoungcy/marketsettle/internal/store/memory"
)

const one = fixedpoint.Precision

var (
	admin    = common.HexToAddress("0xad01")
	protocol = common.HexToAddress("0xfee0")
	treasury = common.HexToAddress("0xfee1")
	backend  = common.HexToAddress("0xbac0")
	creator  = common.HexToAddress("0xc0de")
	oracle   = common.HexToAddress("0x0ac1e")
	alice    = common.HexToAddress("0xa11ce")
	bob      = common.HexToAddress("0xb0b")
)

var t0 = time.Unix(1_700_000_000, 0).UTC()

type harness struct {
	t   *testing.T
	ctx context.Context
	l   *memory.Ledger
	e   *engine.Engine
	now time.Time
}

// newHarness returns an initialized ledger with funded creator, alice and
// bob wallets.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:   t,
		ctx: context.Background(),
		l:   memory.NewLedger(),
		e:   engine.New(engine.DefaultOptions()),
		now: t0,
	}
	_, _, err := do(h, func(tx domain.LedgerTx) (*domain.GlobalConfig, error) {
		return h.e.InitializeConfig(h.ctx, tx, h.as(admin), domain.ConfigUpdate{
			ProtocolWallet:   &protocol,
			ResolverWallet:   &treasury,
			BackendAuthority: &backend,
		})
	})
	require.NoError(t, err)
	h.deposit(creator, 10_000*one)
	h.deposit(alice, 1_000*one)
	h.deposit(bob, 1_000*one)
	return h
}

func do[T any](h *harness, fn func(tx domain.LedgerTx) (T, error)) (T, []domain.Event, error) {
	var out T
	events, err := h.l.InTx(h.ctx, func(tx domain.LedgerTx) error {
		var err error
		out, err = fn(tx)
		return err
	})
	return out, events, err
}

func (h *harness) as(who common.Address) engine.Call {
	return engine.Call{Caller: who, Now: h.now}
}

func (h *harness) advance(d time.Duration) { h.now = h.now.Add(d) }

func (h *harness) deposit(who common.Address, amount uint64) {
	h.t.Helper()
	_, _, err := do(h, func(tx domain.LedgerTx) (uint64, error) {
		return h.e.Deposit(h.ctx, tx, h.as(admin), who, amount)
	})
	require.NoError(h.t, err)
}

func (h *harness) balance(who common.Address) uint64 {
	h.t.Helper()
	b, err := h.l.GetBalance(h.ctx, domain.WalletAccount(who))
	require.NoError(h.t, err)
	return b
}

func (h *harness) pool(id domain.MarketID) uint64 {
	h.t.Helper()
	b, err := h.l.GetBalance(h.ctx, domain.PoolAccount(id))
	require.NoError(h.t, err)
	return b
}

func (h *harness) market(id domain.MarketID) *domain.Market {
	h.t.Helper()
	m, err := h.l.GetMarket(h.ctx, id)
	require.NoError(h.t, err)
	return m
}

func (h *harness) position(id domain.MarketID, who common.Address) *domain.Position {
	h.t.Helper()
	p, err := h.l.GetPosition(h.ctx, id, who)
	require.NoError(h.t, err)
	return p
}

func (h *harness) create(id domain.MarketID, b, liquidity uint64) {
	h.t.Helper()
	_, _, err := do(h, func(tx domain.LedgerTx) (*domain.Market, error) {
		return h.e.CreateMarket(h.ctx, tx, h.as(creator), engine.CreateMarketParams{
			ID:               id,
			BParameter:       b,
			InitialLiquidity: liquidity,
			EvidenceHash:     "bafkreiquestion",
		})
	})
	require.NoError(h.t, err)
}

func (h *harness) aggregate(id domain.MarketID, kind domain.VoteKind, agree, disagree uint64) (*engine.Decision, []domain.Event, error) {
	return do(h, func(tx domain.LedgerTx) (*engine.Decision, error) {
		return h.e.AggregateVotes(h.ctx, tx, h.as(backend), id, kind, agree, disagree)
	})
}

// activeMarket creates, approves and activates a market with b = 1000.
func (h *harness) activeMarket(id domain.MarketID) {
	h.t.Helper()
	h.create(id, 1_000*one, 1_000*one)
	_, _, err := h.aggregate(id, domain.VoteKindProposal, 8, 2)
	require.NoError(h.t, err)
	_, _, err = do(h, func(tx domain.LedgerTx) (*domain.Market, error) {
		return h.e.ActivateMarket(h.ctx, tx, h.as(creator), id)
	})
	require.NoError(h.t, err)
}

func (h *harness) buy(id domain.MarketID, who common.Address, side domain.Side, shares, maxCost uint64) (*engine.TradeResult, error) {
	r, _, err := do(h, func(tx domain.LedgerTx) (*engine.TradeResult, error) {
		return h.e.Buy(h.ctx, tx, h.as(who), engine.BuyRequest{MarketID: id, Side: side, Shares: shares, MaxCost: maxCost})
	})
	return r, err
}

func (h *harness) sell(id domain.MarketID, who common.Address, side domain.Side, shares, minProceeds uint64) (*engine.TradeResult, error) {
	r, _, err := do(h, func(tx domain.LedgerTx) (*engine.TradeResult, error) {
		return h.e.Sell(h.ctx, tx, h.as(who), engine.SellRequest{MarketID: id, Side: side, Shares: shares, MinProceeds: minProceeds})
	})
	return r, err
}

func (h *harness) resolve(id domain.MarketID, outcome domain.Outcome) error {
	_, _, err := do(h, func(tx domain.LedgerTx) (*domain.Market, error) {
		return h.e.ResolveMarket(h.ctx, tx, h.as(oracle), id, outcome, "bafkreievidence")
	})
	return err
}

func (h *harness) dispute(id domain.MarketID, who common.Address) error {
	_, _, err := do(h, func(tx domain.LedgerTx) (*domain.Market, error) {
		return h.e.InitiateDispute(h.ctx, tx, h.as(who), id)
	})
	return err
}

func (h *harness) finalize(id domain.MarketID, counts *engine.VoteCounts) error {
	_, _, err := do(h, func(tx domain.LedgerTx) (*domain.Market, error) {
		return h.e.FinalizeMarket(h.ctx, tx, h.as(backend), id, counts)
	})
	return err
}

func (h *harness) claim(id domain.MarketID, who common.Address) (*engine.ClaimResult, error) {
	r, _, err := do(h, func(tx domain.LedgerTx) (*engine.ClaimResult, error) {
		return h.e.ClaimWinnings(h.ctx, tx, h.as(who), id)
	})
	return r, err
}

// settle resolves outcome and finalizes after the dispute window.
func (h *harness) settle(id domain.MarketID, outcome domain.Outcome) {
	h.t.Helper()
	require.NoError(h.t, h.resolve(id, outcome))
	h.advance(time.Duration(domain.DefaultDisputePeriodSeconds) * time.Second)
	require.NoError(h.t, h.finalize(id, nil))
}
