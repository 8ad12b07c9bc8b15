package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"PLPLedger/internal/amm"
	"PLPLedger/internal/state"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotCached is returned when a market has no cached quote.
var ErrNotCached = errors.New("redis: market not cached")

// MarketQuote is the cached read view of a market's AMM.
type MarketQuote struct {
	MarketID    uuid.UUID
	YesPrice    int64 // Probability scaled to 1e9
	NoPrice     int64
	YesPool     int64
	NoPool      int64
	PoolBalance int64
	Resolution  string
	Version     int64
}

// PriceCache stores one hash per market at "plp:market:{id}".
type PriceCache struct {
	rdb *redis.Client
}

func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.rdb}
}

func marketKey(id uuid.UUID) string {
	return "plp:market:" + id.String()
}

// PutMarket caches m's quote. Older versions never overwrite newer ones.
func (pc *PriceCache) PutMarket(ctx context.Context, m *state.Market) error {
	yes, no, err := amm.Prices(m.YesPool, m.NoPool)
	if err != nil {
		return fmt.Errorf("redis: price market %s: %w", m.ID, err)
	}

	key := marketKey(m.ID)
	err = pc.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.HGet(ctx, key, "version").Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil && cur >= m.Version {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, map[string]interface{}{
				"yes_price":    yes,
				"no_price":     no,
				"yes_pool":     m.YesPool,
				"no_pool":      m.NoPool,
				"pool_balance": m.PoolBalance,
				"resolution":   m.Resolution.String(),
				"version":      m.Version,
			})
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("redis: put market %s: %w", m.ID, err)
	}
	return nil
}

// GetQuote returns the cached quote for id, or ErrNotCached.
func (pc *PriceCache) GetQuote(ctx context.Context, id uuid.UUID) (*MarketQuote, error) {
	vals, err := pc.rdb.HGetAll(ctx, marketKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get market %s: %w", id, err)
	}
	if len(vals) == 0 {
		return nil, ErrNotCached
	}

	q := &MarketQuote{MarketID: id, Resolution: vals["resolution"]}
	fields := []struct {
		name string
		dst  *int64
	}{
		{"yes_price", &q.YesPrice},
		{"no_price", &q.NoPrice},
		{"yes_pool", &q.YesPool},
		{"no_pool", &q.NoPool},
		{"pool_balance", &q.PoolBalance},
		{"version", &q.Version},
	}
	for _, f := range fields {
		v, err := strconv.ParseInt(vals[f.name], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis: parse %s for %s: %w", f.name, id, err)
		}
		*f.dst = v
	}
	return q, nil
}

// Evict drops a market from the cache.
func (pc *PriceCache) Evict(ctx context.Context, id uuid.UUID) error {
	return pc.rdb.Del(ctx, marketKey(id)).Err()
}
