package ratelimit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func TestMemoryLimiter_FixedWindow(t *testing.T) {
	clock := newClock()
	l := NewMemoryLimiter(time.Minute)
	l.now = clock.Now
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "U1", 3)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d, err := l.Allow(ctx, "U1", 3)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, clock.Now().Add(time.Minute), d.ResetAt)

	// Other users have their own counters.
	d, err = l.Allow(ctx, "U2", 3)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	clock.Advance(time.Minute)
	d, err = l.Allow(ctx, "U1", 3)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemoryLimiter_Unlimited(t *testing.T) {
	l := NewMemoryLimiter(time.Minute)
	for i := 0; i < 100; i++ {
		d, err := l.Allow(context.Background(), "U1", 0)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	assert.Empty(t, l.windows)
}

func TestMemoryLimiter_Sweep(t *testing.T) {
	clock := newClock()
	l := NewMemoryLimiter(time.Minute)
	l.now = clock.Now

	_, _ = l.Allow(context.Background(), "U1", 1)
	l.Sweep()
	assert.Len(t, l.windows, 1)

	clock.Advance(2 * time.Minute)
	l.Sweep()
	assert.Empty(t, l.windows)
}

type countingSweeper struct{ n atomic.Int32 }

func (c *countingSweeper) Sweep() { c.n.Add(1) }

func TestRunSweeper_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &countingSweeper{}
	done := make(chan struct{})
	go func() {
		RunSweeper(ctx, s, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return s.n.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func newMiniredisLimiter(t *testing.T, cfg RedisConfig) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLimiter(NewRedisGoAdapter(client), cfg, nil), mr
}

func TestRedisLimiter_CountsInRedis(t *testing.T) {
	cfg := DefaultRedisConfig()
	l, mr := newMiniredisLimiter(t, cfg)
	clock := newClock()
	l.now = clock.Now
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := l.Allow(ctx, "U1", 2)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	d, err := l.Allow(ctx, "U1", 2)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	key := l.buildKey("U1", clock.Now().Truncate(time.Minute).Unix())
	assert.True(t, strings.HasPrefix(key, cfg.KeyPrefix+"U1:"))
	val, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "3", val)
	assert.Equal(t, time.Minute+time.Second, mr.TTL(key))
}

func TestRedisLimiter_HashedKeys(t *testing.T) {
	cfg := DefaultRedisConfig()
	cfg.KeyHashSecret = []byte("secret")
	l, mr := newMiniredisLimiter(t, cfg)

	_, err := l.Allow(context.Background(), "user-123", 5)
	require.NoError(t, err)

	for _, k := range mr.Keys() {
		assert.NotContains(t, k, "user-123")
	}
	assert.Len(t, hashUserID("user-123", cfg.KeyHashSecret), 16)
}

func TestRedisLimiter_FallbackWhenRedisDown(t *testing.T) {
	cfg := DefaultRedisConfig()
	l, mr := newMiniredisLimiter(t, cfg)
	mr.Close()

	d, err := l.Allow(context.Background(), "U1", 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.False(t, l.IsRedisAvailable())

	d, err = l.Allow(context.Background(), "U1", 1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

type failingClient struct{}

func (failingClient) Incr(context.Context, string) (int64, error) {
	return 0, errors.New("down")
}
func (failingClient) Expire(context.Context, string, time.Duration) error { return errors.New("down") }
func (failingClient) Del(context.Context, string) error                   { return errors.New("down") }
func (failingClient) Ping(context.Context) error                          { return errors.New("down") }

func TestRedisLimiter_NoFallback(t *testing.T) {
	cfg := DefaultRedisConfig()
	cfg.EnableFallback = false

	closed := NewRedisLimiter(failingClient{}, cfg, nil)
	d, err := closed.Allow(context.Background(), "U1", 5)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.False(t, d.Allowed)

	cfg.FailureOpen = true
	open := NewRedisLimiter(failingClient{}, cfg, nil)
	d, err = open.Allow(context.Background(), "U1", 5)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisLimiter_SweepPrunesFallback(t *testing.T) {
	l := NewRedisLimiter(failingClient{}, DefaultRedisConfig(), nil)
	clock := newClock()
	l.now = clock.Now
	l.fallback.now = clock.Now

	_, err := l.Allow(context.Background(), "U1", 5)
	require.NoError(t, err)
	assert.Len(t, l.fallback.windows, 1)

	clock.Advance(2 * time.Minute)
	l.Sweep()
	assert.Empty(t, l.fallback.windows)
}

func TestRedisLimiter_CallerCancellationKeepsRedis(t *testing.T) {
	l := NewRedisLimiter(failingClient{}, DefaultRedisConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Allow(ctx, "U1", 5)
	require.NoError(t, err)
	assert.True(t, l.IsRedisAvailable())

	_, err = l.Allow(context.Background(), "U1", 5)
	require.NoError(t, err)
	assert.False(t, l.IsRedisAvailable())
}

func TestRedisLimiter_CheckHealthRestoresRedis(t *testing.T) {
	l, _ := newMiniredisLimiter(t, DefaultRedisConfig())
	l.markRedisUnavailable()
	assert.False(t, l.IsRedisAvailable())

	require.NoError(t, l.CheckHealth(context.Background()))
	assert.True(t, l.IsRedisAvailable())
}
