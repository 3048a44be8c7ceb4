package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/marketsettle/internal/cache/local"
	"github.com/alanyoungcy/marketsettle/internal/domain"
)

var marketA = common.HexToHash("0xaaaa")

func startHub(t *testing.T) (*local.SignalBus, string) {
	t.Helper()
	bus := local.NewSignalBus()
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Mode: "api"})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- hub.Run(ctx) }()
	<-hub.Ready()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-errCh
	})
	return bus, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, kind)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func readProto(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, kind)
	var s structpb.Struct
	require.NoError(t, proto.Unmarshal(data, &s))
	return s.AsMap()
}

func publish(t *testing.T, bus *local.SignalBus, channel, kind string, market common.Hash) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":        "evt-1",
		"seq":       7,
		"kind":      kind,
		"market_id": market.Hex(),
	})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), channel, payload))
}

func TestHub_JSONClientReceivesGlobalEvents(t *testing.T) {
	bus, url := startHub(t)
	conn := dial(t, url+"?format=json")

	status := readJSON(t, conn)
	assert.Equal(t, "hub_status", status["type"])
	assert.Equal(t, "api", status["mode"])
	assert.Equal(t, []any{domain.ChannelEvents}, status["channels"])

	publish(t, bus, domain.ChannelEvents, "config_updated", common.Hash{})

	msg := readJSON(t, conn)
	assert.Equal(t, "event", msg["type"])
	assert.Equal(t, domain.ChannelEvents, msg["channel"])
	payload := msg["payload"].(map[string]any)
	assert.Equal(t, "config_updated", payload["kind"])
	assert.Equal(t, float64(7), payload["seq"])
}

func TestHub_ProtoClientMarketSubscription(t *testing.T) {
	bus, url := startHub(t)
	conn := dial(t, url)

	status := readProto(t, conn)
	assert.Equal(t, "hub_status", status["type"])

	require.NoError(t, conn.WriteJSON(map[string]any{
		"action":   "unsubscribe",
		"channels": []string{domain.ChannelEvents},
	}))
	ack := readProto(t, conn)
	assert.Equal(t, "subscriptions", ack["type"])
	assert.Empty(t, ack["channels"])

	require.NoError(t, conn.WriteJSON(map[string]any{
		"action":  "subscribe",
		"markets": []string{marketA.Hex()},
	}))
	ack = readProto(t, conn)
	assert.Equal(t, []any{domain.MarketChannel(marketA)}, ack["channels"])

	// Unsubscribed from the global channel, so only the market event arrives.
	publish(t, bus, domain.ChannelEvents, "market_created", marketA)
	publish(t, bus, domain.MarketChannel(marketA), "shares_bought", marketA)

	msg := readProto(t, conn)
	assert.Equal(t, domain.MarketChannel(marketA), msg["channel"])
	payload := msg["payload"].(map[string]any)
	assert.Equal(t, "shares_bought", payload["kind"])
}

func TestHub_MarketQueryParam(t *testing.T) {
	bus, url := startHub(t)
	conn := dial(t, url+"?format=json&market="+marketA.Hex())
	status := readJSON(t, conn)
	assert.ElementsMatch(t, []any{domain.ChannelEvents, domain.MarketChannel(marketA)}, status["channels"])

	publish(t, bus, domain.MarketChannel(marketA), "shares_sold", marketA)
	msg := readJSON(t, conn)
	assert.Equal(t, domain.MarketChannel(marketA), msg["channel"])
}

func TestHub_BadRequestFrame(t *testing.T) {
	_, url := startHub(t)
	conn := dial(t, url+"?format=json")
	readJSON(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	msg := readJSON(t, conn)
	assert.Equal(t, "error", msg["type"])
}

func TestHub_UnknownFormat(t *testing.T) {
	_, url := startHub(t)
	_, resp, err := websocket.DefaultDialer.Dial(url+"?format=xml", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestClient_IsSubscribedWildcard(t *testing.T) {
	c := &client{subs: map[string]bool{domain.ChannelMarketPrefix + "*": true}}
	assert.True(t, c.isSubscribed(domain.MarketChannel(marketA)))
	assert.False(t, c.isSubscribed(domain.ChannelEvents))
}
