package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// Token bucket atómico.
// KEYS[1] = key
// ARGV[1] = capacidad (burst)
// ARGV[2] = tokens por milisegundo
// ARGV[3] = now (unix ms)
// ARGV[4] = ttl de la key en segundos
// Devuelve {allowed (1/0), tokens restantes (entero)}
var tokenBucket = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local info = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(info[1])
local last_refill = tonumber(info[2])

if not tokens then
	tokens = capacity
	last_refill = now
end

local filled = math.min(capacity, tokens + math.max(0, now - last_refill) * rate)

local allowed = 0
if filled >= 1 then
	allowed = 1
	filled = filled - 1
end

redis.call("HSET", key, "tokens", filled, "last_refill", now)
redis.call("EXPIRE", key, ttl)

return {allowed, math.floor(filled)}
`)

// TokenBucket limita por key usando Redis; sirve para varias réplicas del API.
type TokenBucket struct {
	client redis.Scripter
	prefix string

	perMs float64
	burst int
	ttl   int

	now func() time.Time
}

// NewTokenBucket: perMinute tokens por minuto, burst de capacidad.
func NewTokenBucket(client redis.Scripter, prefix string, perMinute, burst int) *TokenBucket {
	if perMinute <= 0 {
		perMinute = 1
	}
	if burst <= 0 {
		burst = 1
	}
	perMs := float64(perMinute) / float64(time.Minute.Milliseconds())
	// la key vive lo que tarda en rellenarse el bucket completo
	ttl := int(math.Ceil(float64(burst)/perMs/1000)) + 1

	return &TokenBucket{
		client: client,
		prefix: prefix,
		perMs:  perMs,
		burst:  burst,
		ttl:    ttl,
		now:    time.Now,
	}
}

func (l *TokenBucket) Allow(ctx context.Context, key string) (bool, int, error) {
	res, err := tokenBucket.Run(ctx, l.client,
		[]string{l.prefix + key},
		l.burst, l.perMs, l.now().UnixMilli(), l.ttl,
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("ratelimit: unexpected script reply %v", res)
	}
	return res[0] == 1, int(res[1]), nil
}

func (l *TokenBucket) Burst() int { return l.burst }
