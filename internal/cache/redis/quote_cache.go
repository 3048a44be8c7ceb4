package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/marketsettle/internal/domain"
)

// DefaultQuoteTTL expires quotes of markets that stop changing.
const DefaultQuoteTTL = 10 * time.Minute

// QuoteCache implements domain.QuoteCache with one hash per market:
//
//	quote:{id}  data       JSON MarketQuote
//	            price_yes  fixed-point price, readable from redis-cli
//	            price_no
//	            state
type QuoteCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewQuoteCache creates a QuoteCache; ttl <= 0 selects DefaultQuoteTTL.
func NewQuoteCache(c *Client, ttl time.Duration) *QuoteCache {
	if ttl <= 0 {
		ttl = DefaultQuoteTTL
	}
	return &QuoteCache{rdb: c.Underlying(), ttl: ttl}
}

func quoteKey(id domain.MarketID) string { return "quote:" + id.Hex() }

// SetQuote stores q, replacing any previous snapshot.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.MarketQuote) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("redis: marshal quote %s: %w", q.MarketID.Hex(), err)
	}
	key := quoteKey(q.MarketID)

	pipe := qc.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"data", data,
		"price_yes", strconv.FormatUint(q.PriceYes, 10),
		"price_no", strconv.FormatUint(q.PriceNo, 10),
		"state", string(q.State),
	)
	pipe.Expire(ctx, key, qc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.MarketID.Hex(), err)
	}
	return nil
}

// GetQuote returns the cached snapshot or domain.ErrNotFound.
func (qc *QuoteCache) GetQuote(ctx context.Context, id domain.MarketID) (domain.MarketQuote, error) {
	data, err := qc.rdb.HGet(ctx, quoteKey(id), "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.MarketQuote{}, fmt.Errorf("quote %s: %w", id.Hex(), domain.ErrNotFound)
	}
	if err != nil {
		return domain.MarketQuote{}, fmt.Errorf("redis: get quote %s: %w", id.Hex(), err)
	}
	var q domain.MarketQuote
	if err := json.Unmarshal(data, &q); err != nil {
		return domain.MarketQuote{}, fmt.Errorf("redis: unmarshal quote %s: %w", id.Hex(), err)
	}
	return q, nil
}

// Invalidate drops the cached snapshot.
func (qc *QuoteCache) Invalidate(ctx context.Context, id domain.MarketID) error {
	if err := qc.rdb.Del(ctx, quoteKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate quote %s: %w", id.Hex(), err)
	}
	return nil
}

var _ domain.QuoteCache = (*QuoteCache)(nil)
