package redis_test

import (
	"context"
	"testing"
	"time"

	"PLPLedger/internal/cache/redis"
	"PLPLedger/internal/state"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, redis.Wrap(rdb)
}

func market(version int64) *state.Market {
	return &state.Market{
		ID:          uuid.MustParse("550e8400-e29b-41d4-a716-446655440000"),
		YesPool:     10_000_000_000,
		NoPool:      10_000_000_000,
		PoolBalance: 0,
		Resolution:  state.ResolutionUnresolved,
		Version:     version,
	}
}

func TestPriceCache_PutGet(t *testing.T) {
	_, c := newClient(t)
	pc := redis.NewPriceCache(c)
	ctx := context.Background()

	m := market(1)
	require.NoError(t, pc.PutMarket(ctx, m))

	q, err := pc.GetQuote(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500_000_000), q.YesPrice)
	assert.Equal(t, int64(500_000_000), q.NoPrice)
	assert.Equal(t, int64(1), q.Version)
	assert.Equal(t, state.ResolutionUnresolved.String(), q.Resolution)
}

func TestPriceCache_StaleVersionIgnored(t *testing.T) {
	_, c := newClient(t)
	pc := redis.NewPriceCache(c)
	ctx := context.Background()

	newer := market(5)
	newer.PoolBalance = 42
	require.NoError(t, pc.PutMarket(ctx, newer))
	require.NoError(t, pc.PutMarket(ctx, market(3)))

	q, err := pc.GetQuote(ctx, newer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), q.Version)
	assert.Equal(t, int64(42), q.PoolBalance)
}

func TestPriceCache_Miss(t *testing.T) {
	_, c := newClient(t)
	pc := redis.NewPriceCache(c)
	ctx := context.Background()

	_, err := pc.GetQuote(ctx, uuid.New())
	assert.ErrorIs(t, err, redis.ErrNotCached)

	m := market(1)
	require.NoError(t, pc.PutMarket(ctx, m))
	require.NoError(t, pc.Evict(ctx, m.ID))
	_, err = pc.GetQuote(ctx, m.ID)
	assert.ErrorIs(t, err, redis.ErrNotCached)
}

func TestLeaderLock_Exclusive(t *testing.T) {
	mr, c := newClient(t)
	ctx := context.Background()

	a := redis.NewLeaderLock(c, "engine", 3*time.Second)
	b := redis.NewLeaderLock(c, "engine", 3*time.Second)

	require.NoError(t, a.Acquire(ctx))
	assert.ErrorIs(t, b.Acquire(ctx), redis.ErrLockHeld)

	// b cannot release a's lock
	b.Release()
	assert.ErrorIs(t, b.Acquire(ctx), redis.ErrLockHeld)
	require.NoError(t, a.Refresh(ctx))

	a.Release()
	require.NoError(t, b.Acquire(ctx))

	mr.FastForward(4 * time.Second)
	assert.ErrorIs(t, b.Refresh(ctx), redis.ErrLockLost)
}
