package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/redis/go-redis/v9"

	"github.com/acetrade/session-bridge/internal/config"
)

// Bucket scopes for the terminal API.
const (
	ScopeRedeem  = "redeem"
	ScopeAccount = "account"
)

// bucketScript refills whole intervals, then takes one token.  It
// returns {allowed, remaining, retry_after_ms}.
var bucketScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local per_interval = tonumber(ARGV[3])
local interval = tonumber(ARGV[4])
local ttl_ms = tonumber(ARGV[5])

local tokens = tonumber(redis.call('HGET', key, 'tokens'))
local stamp = tonumber(redis.call('HGET', key, 'stamp'))
if tokens == nil or stamp == nil then
	tokens, stamp = capacity, now
end

local steps = math.floor(math.max(0, now - stamp) / interval)
if steps > 0 then
	tokens = math.min(capacity, tokens + steps * per_interval)
	stamp = stamp + steps * interval
end

local retry = 0
local allowed = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
else
	retry = math.max(0, stamp + interval - now)
end

redis.call('HSET', key, 'tokens', tokens, 'stamp', stamp)
redis.call('PEXPIRE', key, ttl_ms)
return {allowed, tokens, retry}
`)

// NewTokenBucket throttles terminal requests in the given scope with a
// token bucket kept in Redis.  Without Redis, or when disabled, every
// request passes; a Redis error also lets the request through.
func NewTokenBucket(cfg config.RateLimitConfig, scope string, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	limit := cfg.Account
	if scope == ScopeRedeem {
		limit = cfg.Redeem
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := bucketKey(cfg.Prefix, scope, c)
			vals, err := bucketScript.Run(c.Request().Context(), rdb, []string{key},
				time.Now().UnixMilli(),
				limit.Capacity,
				limit.RefillTokens,
				limit.RefillInterval.Milliseconds(),
				cfg.TTL.Milliseconds(),
			).Result()
			if err != nil {
				c.Logger().Warnj(log.JSON{"action": "ratelimit_redis_error", "key": key, "error": err.Error()})
				return next(c)
			}
			allowed, remaining, retryMs, ok := parseBucketResult(vals)
			if !ok {
				c.Logger().Warnj(log.JSON{"action": "ratelimit_bad_result", "key": key, "result": fmt.Sprintf("%#v", vals)})
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(limit.Capacity))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			if cfg.Debug {
				h.Set("X-RateLimit-Key", key)
			}
			if allowed {
				return next(c)
			}

			secs := int(math.Ceil(float64(retryMs) / 1000.0))
			h.Set("Retry-After", strconv.Itoa(secs))
			c.Logger().Warnj(log.JSON{"action": "ratelimit_block", "scope": scope, "key": key, "retry_ms": retryMs})
			return c.JSON(http.StatusTooManyRequests, map[string]any{
				"error":       "too_many_requests",
				"message":     "rate limit exceeded",
				"retry_after": secs,
			})
		}
	}
}

func parseBucketResult(vals interface{}) (allowed bool, remaining, retryMs int64, ok bool) {
	arr, isArr := vals.([]interface{})
	if !isArr || len(arr) != 3 {
		return false, 0, 0, false
	}
	return asInt64(arr[0]) == 1, asInt64(arr[1]), asInt64(arr[2]), true
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// bucketKey is prefix:scope:caller, plus the account id for routes under
// /users/:id.
func bucketKey(prefix, scope string, c echo.Context) string {
	parts := []string{prefix, scope, currentCaller(c)}
	if id := c.Param("id"); id != "" {
		parts = append(parts, id)
	}
	return strings.Join(parts, ":")
}

func currentCaller(c echo.Context) string {
	if s, ok := c.Get(CtxCaller).(string); ok && s != "" {
		return s
	}
	return "anon"
}
