// Package notify turns committed ledger events into operator alerts and
// fans them out to Telegram, Discord and signed webhooks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketsettle/internal/domain"
)

// Alert is one rendered notification.
type Alert struct {
	Title string
	Body  string
	Event domain.Event
}

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, a Alert) error
	Name() string
}

// DefaultKinds are the events operators hear about when no filter is
// configured. Trades and claims are too frequent to alert on.
var DefaultKinds = []domain.EventKind{
	domain.EventPauseToggled,
	domain.EventConfigUpdated,
	domain.EventProposalAggregated,
	domain.EventDisputeInitiated,
	domain.EventDisputeAggregated,
	domain.EventMarketFinalized,
	domain.EventMarketCancelled,
}

// Notifier filters events by kind and dispatches the rest to every sender.
type Notifier struct {
	senders []Sender
	kinds   map[domain.EventKind]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty kinds list selects DefaultKinds;
// "*" selects everything.
func NewNotifier(senders []Sender, kinds []string, logger *slog.Logger) *Notifier {
	n := &Notifier{
		senders: senders,
		kinds:   map[domain.EventKind]bool{},
		logger:  logger.With(slog.String("component", "notifier")),
	}
	if len(kinds) == 0 {
		for _, k := range DefaultKinds {
			n.kinds[k] = true
		}
		return n
	}
	for _, k := range kinds {
		k = strings.TrimSpace(k)
		if k == "*" {
			n.kinds = nil
			return n
		}
		n.kinds[domain.EventKind(k)] = true
	}
	return n
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Wants reports whether kind passes the filter.
func (n *Notifier) Wants(kind domain.EventKind) bool {
	return n.kinds == nil || n.kinds[kind]
}

// NotifyEvents alerts on each event that passes the filter. Delivery
// failures are joined; one failing sender does not stop the others.
func (n *Notifier) NotifyEvents(ctx context.Context, events []domain.Event) error {
	if !n.Enabled() {
		return nil
	}
	var errs []error
	for _, e := range events {
		if !n.Wants(e.Kind) {
			continue
		}
		if err := n.dispatch(ctx, Format(e)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NotifyText sends a free-form alert to every sender, bypassing the filter.
func (n *Notifier) NotifyText(ctx context.Context, title, body string) error {
	if !n.Enabled() {
		return nil
	}
	return n.dispatch(ctx, Alert{Title: title, Body: body})
}

func (n *Notifier) dispatch(ctx context.Context, a Alert) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, a); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("title", a.Title),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", a.Title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

var titles = map[domain.EventKind]string{
	domain.EventConfigInitialized:  "Protocol initialized",
	domain.EventConfigUpdated:      "Protocol config updated",
	domain.EventPauseToggled:       "Protocol pause toggled",
	domain.EventMarketCreated:      "Market proposed",
	domain.EventProposalAggregated: "Proposal votes tallied",
	domain.EventProposalApproved:   "Market approved",
	domain.EventMarketActivated:    "Market activated",
	domain.EventMarketResolved:     "Resolution proposed",
	domain.EventDisputeInitiated:   "Resolution disputed",
	domain.EventDisputeAggregated:  "Dispute votes tallied",
	domain.EventMarketFinalized:    "Market finalized",
	domain.EventMarketCancelled:    "Market cancelled",
	domain.EventLiquidityWithdrawn: "Liquidity withdrawn",
}

// Format renders e as a plain-text alert.
func Format(e domain.Event) Alert {
	title, ok := titles[e.Kind]
	if !ok {
		title = string(e.Kind)
	}
	var b strings.Builder
	if e.MarketID != (domain.MarketID{}) {
		fmt.Fprintf(&b, "market: %s\n", e.MarketID.Hex())
	}
	if e.Actor != (common.Address{}) {
		fmt.Fprintf(&b, "by: %s\n", e.Actor.Hex())
	}
	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, e.Data[k])
	}
	return Alert{Title: title, Body: strings.TrimSuffix(b.String(), "\n"), Event: e}
}
