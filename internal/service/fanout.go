package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketsettle/internal/crypto"
	"github.com/alanyoungcy/marketsettle/internal/domain"
	"github.com/alanyoungcy/marketsettle/internal/engine"
)

// EventMessage is the JSON form of a committed event on the bus, the
// stream and the WebSocket hub.
type EventMessage struct {
	ID       string         `json:"id"`
	Seq      int64          `json:"seq"`
	Kind     string         `json:"kind"`
	MarketID string         `json:"market_id"`
	Actor    string         `json:"actor"`
	Data     map[string]any `json:"data"`
	At       time.Time      `json:"at"`
	Receipt  *SignedReceipt `json:"receipt,omitempty"`
}

// SignedReceipt is a decision receipt with the operator signature.
type SignedReceipt struct {
	crypto.DecisionReceipt
	Signer    string `json:"signer"`
	Signature string `json:"signature"`
}

// NewEventMessage converts e without a receipt.
func NewEventMessage(e domain.Event) EventMessage {
	return EventMessage{
		ID:       e.ID,
		Seq:      e.Seq,
		Kind:     string(e.Kind),
		MarketID: e.MarketID.Hex(),
		Actor:    e.Actor.Hex(),
		Data:     e.Data,
		At:       e.At.UTC(),
	}
}

// afterCommit runs the side effects of a committed operation. Failures are
// logged and never undo the commit.
func (s *SettlementService) afterCommit(ctx context.Context, op string, caller common.Address, market domain.MarketID, events []domain.Event) {
	kinds := make([]string, 0, len(events))
	var receipts []string
	for _, e := range events {
		kinds = append(kinds, string(e.Kind))
		msg := NewEventMessage(e)
		if r := s.signReceipt(ctx, e); r != nil {
			msg.Receipt = r
			receipts = append(receipts, r.Signature)
		}
		s.publish(ctx, msg, e.MarketID)
	}

	if s.audit != nil {
		detail := map[string]any{
			"caller": caller.Hex(),
			"events": kinds,
		}
		if market != (domain.MarketID{}) {
			detail["market_id"] = market.Hex()
		}
		if len(receipts) > 0 {
			detail["receipts"] = receipts
		}
		if err := s.audit.Log(ctx, "settlement."+op, detail); err != nil {
			s.logger.WarnContext(ctx, "audit log failed",
				slog.String("op", op),
				slog.String("error", err.Error()),
			)
		}
	}

	if market != (domain.MarketID{}) {
		s.refreshQuote(ctx, market)
	}

	if s.notifier != nil {
		if err := s.notifier.NotifyEvents(ctx, events); err != nil {
			s.logger.WarnContext(ctx, "notify failed",
				slog.String("op", op),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *SettlementService) signReceipt(ctx context.Context, e domain.Event) *SignedReceipt {
	if s.signer == nil {
		return nil
	}
	r, ok := crypto.ReceiptFromEvent(e)
	if !ok {
		return nil
	}
	sig, err := s.signer.SignDecision(r)
	if err != nil {
		s.logger.ErrorContext(ctx, "sign decision receipt",
			slog.String("event_id", e.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return &SignedReceipt{DecisionReceipt: r, Signer: s.signer.Address().Hex(), Signature: sig}
}

func (s *SettlementService) publish(ctx context.Context, msg EventMessage, market domain.MarketID) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		s.logger.ErrorContext(ctx, "marshal event",
			slog.String("event_id", msg.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	channels := []string{domain.ChannelEvents}
	if market != (domain.MarketID{}) {
		channels = append(channels, domain.MarketChannel(market))
	}
	for _, ch := range channels {
		if err := s.bus.Publish(ctx, ch, payload); err != nil {
			s.logger.WarnContext(ctx, "publish event",
				slog.String("channel", ch),
				slog.String("error", err.Error()),
			)
		}
	}
	if err := s.bus.StreamAppend(ctx, domain.StreamMarketEvents, payload); err != nil {
		s.logger.WarnContext(ctx, "stream event",
			slog.String("stream", domain.StreamMarketEvents),
			slog.String("error", err.Error()),
		)
	}
}

func (s *SettlementService) refreshQuote(ctx context.Context, id domain.MarketID) {
	if s.quotes == nil {
		return
	}
	m, err := s.ledger.GetMarket(ctx, id)
	if err != nil {
		s.logger.WarnContext(ctx, "reload market for quote",
			slog.String("market_id", id.Hex()),
			slog.String("error", err.Error()),
		)
		return
	}
	q, err := s.buildQuote(ctx, m)
	if err == nil {
		err = s.quotes.SetQuote(ctx, q)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "refresh quote",
			slog.String("market_id", id.Hex()),
			slog.String("error", err.Error()),
		)
		_ = s.quotes.Invalidate(ctx, id)
	}
}

// buildQuote prices m against its current pool balance.
func (s *SettlementService) buildQuote(ctx context.Context, m *domain.Market) (domain.MarketQuote, error) {
	pool, err := s.ledger.GetBalance(ctx, m.PoolAccount())
	if err != nil {
		return domain.MarketQuote{}, fmt.Errorf("pool balance: %w", err)
	}
	return engine.MarketQuote(m, pool, s.now())
}
