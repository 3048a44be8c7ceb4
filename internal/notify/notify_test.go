package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketsettle/internal/crypto"
	"github.com/alanyoungcy/marketsettle/internal/domain"
)

type recordSender struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (r *recordSender) Send(_ context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return r.err
}

func (r *recordSender) Name() string { return "record" }

var logger = slog.New(slog.DiscardHandler)

func event(kind domain.EventKind) domain.Event {
	return domain.NewEvent(kind, common.HexToHash("0x01"), common.HexToAddress("0x02"), time.Unix(1700000000, 0), map[string]any{
		"outcome": "yes",
		"amount":  uint64(5),
	})
}

func TestNotifier_DefaultFilter(t *testing.T) {
	rec := &recordSender{}
	n := NewNotifier([]Sender{rec}, nil, logger)

	err := n.NotifyEvents(context.Background(), []domain.Event{
		event(domain.EventSharesBought),
		event(domain.EventMarketFinalized),
		event(domain.EventWinningsClaimed),
	})
	require.NoError(t, err)
	require.Len(t, rec.alerts, 1)
	assert.Equal(t, "Market finalized", rec.alerts[0].Title)
}

func TestNotifier_ExplicitAndWildcard(t *testing.T) {
	rec := &recordSender{}
	n := NewNotifier([]Sender{rec}, []string{" shares_bought "}, logger)
	assert.True(t, n.Wants(domain.EventSharesBought))
	assert.False(t, n.Wants(domain.EventMarketFinalized))

	all := NewNotifier([]Sender{rec}, []string{"*"}, logger)
	assert.True(t, all.Wants(domain.EventWinningsClaimed))
}

func TestNotifier_SenderFailureDoesNotStopOthers(t *testing.T) {
	bad := &recordSender{err: errors.New("boom")}
	good := &recordSender{}
	n := NewNotifier([]Sender{bad, good}, nil, logger)

	err := n.NotifyEvents(context.Background(), []domain.Event{event(domain.EventMarketCancelled)})
	require.Error(t, err)
	assert.ErrorContains(t, err, "1 sender(s) failed")
	assert.Len(t, good.alerts, 1)
}

func TestNotifier_NoSenders(t *testing.T) {
	n := NewNotifier(nil, nil, logger)
	assert.False(t, n.Enabled())
	assert.NoError(t, n.NotifyText(context.Background(), "t", "b"))
}

func TestFormat(t *testing.T) {
	a := Format(event(domain.EventMarketResolved))
	assert.Equal(t, "Resolution proposed", a.Title)
	assert.Equal(t,
		"market: 0x0000000000000000000000000000000000000000000000000000000000000001\n"+
			"by: 0x0000000000000000000000000000000000000002\n"+
			"amount: 5\n"+
			"outcome: yes",
		a.Body)

	unknown := Format(domain.Event{Kind: "custom"})
	assert.Equal(t, "custom", unknown.Title)
	assert.Empty(t, unknown.Body)
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42").WithBaseURL(srv.URL + "/")
	require.NoError(t, s.Send(context.Background(), Alert{Title: "A<b>", Body: "x & y"}))
	assert.Equal(t, "/bottok/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "HTML", got["parse_mode"])
	assert.Equal(t, "<b>A&lt;b&gt;</b>\n<pre>x &amp; y</pre>", got["text"])
}

func TestTelegramSender_ErrorHidesToken(t *testing.T) {
	s := NewTelegramSender("secret-token", "1").WithBaseURL("http://127.0.0.1:1")
	err := s.Send(context.Background(), Alert{Title: "x"})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret-token")
}

func TestDiscordSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), Alert{Title: "T", Body: "b"}))
	assert.Equal(t, "**T**\n```\nb\n```", got["content"])
}

func TestDiscordSender_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), Alert{Title: "T"})
	assert.ErrorContains(t, err, "unexpected status 400")
}

func TestWebhookSender_Signed(t *testing.T) {
	now := time.Unix(1700000000, 0)
	var (
		body []byte
		hdr  http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr = r.Header.Clone()
		body, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL, "k")
	s.now = func() time.Time { return now }
	e := event(domain.EventMarketFinalized)
	require.NoError(t, s.Send(context.Background(), Format(e)))

	verifier := crypto.NewWebhookSigner("k")
	require.NoError(t, verifier.Verify(body,
		hdr.Get(crypto.HeaderWebhookTimestamp), hdr.Get(crypto.HeaderWebhookSignature), now, time.Minute))

	var p struct {
		Kind  string `json:"kind"`
		Event struct {
			ID     string `json:"id"`
			Market string `json:"market_id"`
		} `json:"event"`
	}
	require.NoError(t, json.Unmarshal(body, &p))
	assert.Equal(t, "market_finalized", p.Kind)
	assert.Equal(t, e.ID, p.Event.ID)
	assert.Equal(t, e.MarketID.Hex(), p.Event.Market)
}

func TestWebhookSender_Unsigned(t *testing.T) {
	var sig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig = r.Header.Get(crypto.HeaderWebhookSignature)
	}))
	defer srv.Close()

	require.NoError(t, NewWebhookSender(srv.URL, "").Send(context.Background(), Alert{Title: "hi"}))
	assert.Empty(t, sig)
}
