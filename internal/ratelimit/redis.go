package ratelimit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RedisClient is the subset of Redis operations the limiter needs.
type RedisClient interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, expiration time.Duration) error
	Del(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// RedisConfig contains configuration for the Redis limiter
type RedisConfig struct {
	// KeyPrefix is the prefix for all counter keys
	KeyPrefix string
	// KeyHashSecret, when set, replaces user ids in keys with an HMAC-SHA256 digest.
	KeyHashSecret []byte
	// Window is the fixed window length
	Window time.Duration
	// EnableFallback switches to in-memory counters while Redis is unreachable
	EnableFallback bool
	// FailureOpen allows requests when neither Redis nor a fallback can answer
	FailureOpen bool
	// RetryAfter is how long Redis is skipped after a failure
	RetryAfter time.Duration
}

// DefaultRedisConfig returns default configuration
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		KeyPrefix:      "postcode:ratelimit:",
		Window:         time.Minute,
		EnableFallback: true,
		RetryAfter:     5 * time.Second,
	}
}

// RedisLimiter implements Limiter with shared counters in Redis (INCR + EXPIRE
// per window key), so every server instance sees the same counts.
type RedisLimiter struct {
	client   RedisClient
	config   RedisConfig
	fallback *MemoryLimiter
	logger   *zap.Logger
	now      func() time.Time

	mu          sync.RWMutex
	skipRedisTo time.Time
}

// NewRedisLimiter creates a limiter backed by client.
func NewRedisLimiter(client RedisClient, config RedisConfig, logger *zap.Logger) *RedisLimiter {
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if config.RetryAfter <= 0 {
		config.RetryAfter = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &RedisLimiter{
		client: client,
		config: config,
		logger: logger,
		now:    time.Now,
	}
	if config.EnableFallback {
		l.fallback = NewMemoryLimiter(config.Window)
	}
	return l
}

// buildKey constructs the counter key for a user's window.
func (r *RedisLimiter) buildKey(userID string, windowStart int64) string {
	keyID := userID
	if len(r.config.KeyHashSecret) > 0 {
		keyID = hashUserID(userID, r.config.KeyHashSecret)
	}
	return fmt.Sprintf("%s%s:%d", r.config.KeyPrefix, keyID, windowStart)
}

// hashUserID returns the first 16 hex characters of HMAC-SHA256(userID).
func hashUserID(userID string, secret []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(userID))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Allow implements Limiter.
func (r *RedisLimiter) Allow(ctx context.Context, userID string, limit int) (Decision, error) {
	if limit <= 0 {
		return unlimited(), nil
	}
	if !r.redisUsable() {
		return r.handleFallback(ctx, userID, limit)
	}

	start := r.now().Truncate(r.config.Window)
	key := r.buildKey(userID, start.Unix())

	count, err := r.client.Incr(ctx, key)
	if err != nil {
		r.logger.Warn("Redis rate limit counter failed", zap.Error(err))
		// A caller's cancellation says nothing about Redis health.
		if ctx.Err() == nil {
			r.markRedisUnavailable()
		}
		return r.handleFallback(ctx, userID, limit)
	}

	if count == 1 {
		// Orphaned keys without TTL only cost memory; the window key is never reused.
		_ = r.client.Expire(ctx, key, r.config.Window+time.Second)
	}
	return decide(count, limit, start.Add(r.config.Window)), nil
}

// handleFallback answers when Redis is unavailable.
func (r *RedisLimiter) handleFallback(ctx context.Context, userID string, limit int) (Decision, error) {
	if r.fallback != nil {
		return r.fallback.Allow(ctx, userID, limit)
	}
	if r.config.FailureOpen {
		return Decision{Allowed: true, Limit: limit}, nil
	}
	return Decision{Limit: limit}, ErrBackendUnavailable
}

func (r *RedisLimiter) redisUsable() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.now().Before(r.skipRedisTo)
}

func (r *RedisLimiter) markRedisUnavailable() {
	r.mu.Lock()
	r.skipRedisTo = r.now().Add(r.config.RetryAfter)
	r.mu.Unlock()
}

// Sweep prunes the in-memory fallback counters, if any.
func (r *RedisLimiter) Sweep() {
	if r.fallback != nil {
		r.fallback.Sweep()
	}
}

// IsRedisAvailable reports whether Redis is currently used for counting.
func (r *RedisLimiter) IsRedisAvailable() bool {
	return r.redisUsable()
}

// CheckHealth pings Redis and resumes using it when the ping succeeds.
func (r *RedisLimiter) CheckHealth(ctx context.Context) error {
	if err := r.client.Ping(ctx); err != nil {
		if ctx.Err() == nil {
			r.markRedisUnavailable()
		}
		return fmt.Errorf("redis health check failed: %w", err)
	}
	r.mu.Lock()
	r.skipRedisTo = time.Time{}
	r.mu.Unlock()
	return nil
}
