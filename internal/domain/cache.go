package domain

import (
	"context"
	"time"
)

// QuoteCache provides fast access to the latest market pricing snapshot.
type QuoteCache interface {
	SetQuote(ctx context.Context, q MarketQuote) error
	GetQuote(ctx context.Context, id MarketID) (MarketQuote, error)
	Invalidate(ctx context.Context, id MarketID) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Bus channel and stream names.
const (
	ChannelEvents       = "ch:events"
	ChannelMarketPrefix = "ch:market:"
	StreamMarketEvents  = "stream:market_events"
)

// MarketChannel is the pub/sub channel carrying one market's events.
func MarketChannel(id MarketID) string {
	return ChannelMarketPrefix + id.Hex()
}
