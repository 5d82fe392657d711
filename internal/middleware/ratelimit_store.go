package middleware

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/charlesng35/quorum/internal/cache"
)

// RatePolicy is a token bucket: Burst requests at once, refilled at
// RequestsPerMinute.
type RatePolicy struct {
	RequestsPerMinute int
	Burst             int
}

func (p RatePolicy) perSecond() float64 {
	return float64(p.RequestsPerMinute) / 60.0
}

func (p RatePolicy) burst() int {
	if p.Burst > 0 {
		return p.Burst
	}
	return max(1, p.RequestsPerMinute)
}

// refillSeconds is how long a drained bucket waits for its next token.
func (p RatePolicy) refillSeconds() int {
	if p.RequestsPerMinute <= 0 {
		return 1
	}
	return max(1, int(math.Ceil(60/float64(p.RequestsPerMinute))))
}

// Enabled reports whether the policy limits anything.
func (p RatePolicy) Enabled() bool {
	return p.RequestsPerMinute > 0
}

// RateStore decides whether a request identified by key may proceed.
type RateStore interface {
	Allow(ctx context.Context, key string) (bool, error)
}

const idleBucketTTL = 10 * time.Minute

// memoryRateStore keeps one limiter per key in process memory.
type memoryRateStore struct {
	policy    RatePolicy
	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
	clock     func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMemoryRateStore constructs a process-local rate store.
func NewMemoryRateStore(policy RatePolicy) RateStore {
	return newMemoryRateStore(policy, time.Now)
}

func newMemoryRateStore(policy RatePolicy, clock func() time.Time) *memoryRateStore {
	return &memoryRateStore{
		policy:    policy,
		buckets:   make(map[string]*bucket),
		lastSweep: clock(),
		clock:     clock,
	}
}

func (s *memoryRateStore) Allow(_ context.Context, key string) (bool, error) {
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) > idleBucketTTL {
		for k, b := range s.buckets {
			if now.Sub(b.lastSeen) > idleBucketTTL {
				delete(s.buckets, k)
			}
		}
		s.lastSweep = now
	}

	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(s.policy.perSecond()), s.policy.burst())}
		s.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1), nil
}

// redisTokenBucket refills and consumes atomically.
// KEYS[1] bucket key, ARGV[1] refill rate per second, ARGV[2] capacity,
// ARGV[3] unix time in seconds, ARGV[4] idle expiry in seconds.
var redisTokenBucket = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * rate)
    last_refill = now
end

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call("HSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, ttl)

return allowed
`)

// redisRateStore shares buckets between replicas.
type redisRateStore struct {
	client redis.Scripter
	policy RatePolicy
	clock  func() time.Time
}

// NewRedisRateStore constructs a RateStore backed by a Redis token bucket script.
func NewRedisRateStore(client redis.Scripter, policy RatePolicy) RateStore {
	return &redisRateStore{client: client, policy: policy, clock: time.Now}
}

func (s *redisRateStore) Allow(ctx context.Context, key string) (bool, error) {
	now := float64(s.clock().UnixMicro()) / 1e6
	ttl := int(math.Ceil(float64(s.policy.burst())/s.policy.perSecond())) + 1

	allowed, err := redisTokenBucket.Run(ctx, s.client,
		[]string{cache.Key("ratelimit", key)},
		s.policy.perSecond(), s.policy.burst(), now, ttl,
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis rate limiter: %w", err)
	}
	return allowed == 1, nil
}
