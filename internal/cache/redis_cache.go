package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/contentops/promoflow/pkg/api"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisCache is a Cache backed by Redis. Progress projections live as
// JSON strings under the workflow namespace, rate-limit windows as
// sorted sets of timestamped members, and pub/sub rides on native Redis
// channels.
//
// All operations fail open: a Redis error is logged at warn level and
// the call behaves as a miss / no-op / allow.
type RedisCache struct {
	client *redis.Client
	keys   Keys
	logger *slog.Logger
}

// NewRedisCache creates a RedisCache using the given client and key
// namespace. If logger is nil, slog.Default() is used.
func NewRedisCache(client *redis.Client, keys Keys, logger *slog.Logger) *RedisCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{
		client: client,
		keys:   keys,
		logger: logger,
	}
}

var _ Cache = (*RedisCache)(nil)

// failOpen logs a backend failure once per operation. redis.Nil is a
// plain miss and is not logged.
func (r *RedisCache) failOpen(ctx context.Context, op, key string, err error) {
	if err == nil || errors.Is(err, redis.Nil) {
		return
	}
	r.logger.WarnContext(ctx, "cache_unavailable",
		slog.String("op", op),
		slog.String("key", key),
		slog.Any("error", err),
	)
}

func (r *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		r.failOpen(ctx, "get", key, err)
		return "", false
	}
	return val, true
}

func (r *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		r.failOpen(ctx, "set", key, err)
	}
}

func (r *RedisCache) Del(ctx context.Context, key string) {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		r.failOpen(ctx, "del", key, err)
	}
}

func (r *RedisCache) Exists(ctx context.Context, key string) bool {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		r.failOpen(ctx, "exists", key, err)
		return false
	}
	return n > 0
}

func (r *RedisCache) SetProgress(ctx context.Context, p *api.Progress) {
	data, err := encodeProgress(p)
	if err != nil {
		r.failOpen(ctx, "set_progress", p.SessionID, err)
		return
	}
	r.Set(ctx, r.keys.Workflow(p.SessionID), data, ProgressTTL)
}

func (r *RedisCache) GetProgress(ctx context.Context, sessionID string) (*api.Progress, bool) {
	data, ok := r.Get(ctx, r.keys.Workflow(sessionID))
	if !ok {
		return nil, false
	}
	p, err := decodeProgress(data)
	if err != nil {
		// A corrupt entry is as good as a miss; the durable store is the
		// source of truth.
		r.failOpen(ctx, "get_progress", sessionID, err)
		return nil, false
	}
	return p, true
}

func (r *RedisCache) RemoveProgress(ctx context.Context, sessionID string) {
	r.Del(ctx, r.keys.Workflow(sessionID))
}

// rateLimitLua trims the window, counts it, and records the new entry in
// one server-side script, so concurrent requests for the same identifier
// cannot race between check and increment.
//
// KEYS[1] = window key
// ARGV[1] = now (unix ms), ARGV[2] = window (ms), ARGV[3] = max, ARGV[4] = member
// Returns {allowed, remaining}.
var rateLimitLua = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
if count >= max then
	return {0, 0}
end
redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window + 1000)
return {1, max - count - 1}
`)

func (r *RedisCache) CheckRateLimit(ctx context.Context, identifier string, window time.Duration, maxRequests int) RateLimitResult {
	now := time.Now()
	key := r.keys.RateLimit(identifier)
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())

	res, err := rateLimitLua.Run(ctx, r.client, []string{key},
		now.UnixMilli(),
		window.Milliseconds(),
		maxRequests,
		member,
	).Int64Slice()
	if err != nil || len(res) != 2 {
		// Fail open: with the limiter's backend down we allow traffic
		// rather than block it.
		r.failOpen(ctx, "rate_limit", key, err)
		return RateLimitResult{
			Allowed:   true,
			Remaining: maxRequests - 1,
			ResetTime: now.Add(window),
		}
	}
	return RateLimitResult{
		Allowed:   res[0] == 1,
		Remaining: int(res[1]),
		ResetTime: now.Add(window),
	}
}

func (r *RedisCache) PublishUpdate(ctx context.Context, p *api.Progress) {
	data, err := encodeProgress(p)
	if err != nil {
		r.failOpen(ctx, "publish", p.SessionID, err)
		return
	}
	if err := r.client.Publish(ctx, r.keys.Updates(p.SessionID), data).Err(); err != nil {
		r.failOpen(ctx, "publish", p.SessionID, err)
	}
}

func (r *RedisCache) Subscribe(ctx context.Context, sessionID string) (<-chan *api.Progress, func()) {
	channel := r.keys.Updates(sessionID)
	sub := r.client.Subscribe(ctx, channel)
	out := make(chan *api.Progress, 16)

	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			p, err := decodeProgress(msg.Payload)
			if err != nil {
				r.failOpen(ctx, "subscribe", sessionID, err)
				continue
			}
			select {
			case out <- p:
			default:
				// Slow consumer: drop, same best-effort contract as the
				// publisher side.
			}
		}
	}()

	cancel := func() {
		_ = sub.Close()
	}
	return out, cancel
}
