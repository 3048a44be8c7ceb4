package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/alanyoungcy/marketsettle/internal/crypto"
)

// webhookPayload is the JSON body of a webhook delivery.
type webhookPayload struct {
	Title string        `json:"title"`
	Kind  string        `json:"kind,omitempty"`
	Event *webhookEvent `json:"event,omitempty"`
}

type webhookEvent struct {
	ID     string         `json:"id"`
	Seq    int64          `json:"seq"`
	Market string         `json:"market_id"`
	Actor  string         `json:"actor"`
	Data   map[string]any `json:"data"`
	At     time.Time      `json:"at"`
}

// WebhookSender posts alerts as JSON to an HTTP endpoint, signed with
// crypto.WebhookSigner when a secret is configured.
type WebhookSender struct {
	url    string
	signer *crypto.WebhookSigner
	client *http.Client
	now    func() time.Time
}

// NewWebhookSender creates a WebhookSender. An empty secret sends unsigned.
func NewWebhookSender(url, secret string) *WebhookSender {
	w := &WebhookSender{
		url:    url,
		client: &http.Client{Timeout: defaultSendTimeout},
		now:    time.Now,
	}
	if secret != "" {
		w.signer = crypto.NewWebhookSigner(secret)
	}
	return w
}

// Send delivers the alert. Free-form alerts carry no event.
func (w *WebhookSender) Send(ctx context.Context, a Alert) error {
	p := webhookPayload{Title: a.Title}
	if a.Event.ID != "" {
		p.Kind = string(a.Event.Kind)
		p.Event = &webhookEvent{
			ID:     a.Event.ID,
			Seq:    a.Event.Seq,
			Market: a.Event.MarketID.Hex(),
			Actor:  a.Event.Actor.Hex(),
			Data:   a.Event.Data,
			At:     a.Event.At.UTC(),
		}
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}
	var headers map[string]string
	if w.signer != nil {
		headers = w.signer.Headers(body, w.now())
	}
	if err := postJSON(ctx, w.client, w.url, body, headers); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

// Name returns "webhook".
func (w *WebhookSender) Name() string {
	return "webhook"
}
