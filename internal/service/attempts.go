package service

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/redis/go-redis/v9"
)

// Verification purposes tracked by an AttemptThrottle.
const (
	PurposeCode     = "code"
	PurposeTOTP     = "totp"
	PurposeRecovery = "recovery"
)

// Defaults for failed verification throttling.
const (
	DefaultAttemptLimit  = 5
	DefaultAttemptWindow = 15 * time.Minute
)

// AttemptThrottle counts failed verifications per user and purpose.  While
// a user is over the limit, verification is refused before any secret is
// compared.
type AttemptThrottle interface {
	Allow(ctx context.Context, userID uint64, purpose string) bool
	Failed(ctx context.Context, userID uint64, purpose string)
	Succeeded(ctx context.Context, userID uint64, purpose string)
}

// NoopThrottle never blocks.  It is used when Redis is unavailable.
type NoopThrottle struct{}

func (NoopThrottle) Allow(context.Context, uint64, string) bool { return true }
func (NoopThrottle) Failed(context.Context, uint64, string)     {}
func (NoopThrottle) Succeeded(context.Context, uint64, string)  {}

// failScript increments the failure counter and starts its window on the
// first failure, so the window is fixed from the first miss.
var failScript = redis.NewScript(`
	local n = redis.call('INCR', KEYS[1])
	if n == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return n
`)

// RedisAttemptThrottle keeps fixed-window failure counters in Redis so the
// limit holds across instances.  Redis errors fail open and are logged.
type RedisAttemptThrottle struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	prefix string
	logger *log.Logger
}

// NewRedisAttemptThrottle returns a throttle backed by rdb, or a
// NoopThrottle when rdb is nil.
func NewRedisAttemptThrottle(rdb *redis.Client, limit int, window time.Duration, logger *log.Logger) AttemptThrottle {
	if rdb == nil {
		return NoopThrottle{}
	}
	if limit <= 0 {
		limit = DefaultAttemptLimit
	}
	if window <= 0 {
		window = DefaultAttemptWindow
	}
	return &RedisAttemptThrottle{rdb: rdb, limit: limit, window: window, prefix: "verify", logger: logger}
}

func (t *RedisAttemptThrottle) key(userID uint64, purpose string) string {
	return fmt.Sprintf("%s:%s:%d", t.prefix, purpose, userID)
}

func (t *RedisAttemptThrottle) Allow(ctx context.Context, userID uint64, purpose string) bool {
	n, err := t.rdb.Get(ctx, t.key(userID, purpose)).Int()
	if err == redis.Nil {
		return true
	}
	if err != nil {
		t.logger.Warnj(log.JSON{"action": "attempt_throttle_read_failed", "purpose": purpose, "error": err.Error()})
		return true
	}
	return n < t.limit
}

func (t *RedisAttemptThrottle) Failed(ctx context.Context, userID uint64, purpose string) {
	n, err := failScript.Run(ctx, t.rdb, []string{t.key(userID, purpose)}, t.window.Milliseconds()).Int()
	if err != nil {
		t.logger.Warnj(log.JSON{"action": "attempt_throttle_write_failed", "purpose": purpose, "error": err.Error()})
		return
	}
	if n == t.limit {
		t.logger.Warnj(log.JSON{"action": "verification_throttled", "purpose": purpose, "user_id": userID})
	}
}

func (t *RedisAttemptThrottle) Succeeded(ctx context.Context, userID uint64, purpose string) {
	if err := t.rdb.Del(ctx, t.key(userID, purpose)).Err(); err != nil {
		t.logger.Warnj(log.JSON{"action": "attempt_throttle_reset_failed", "purpose": purpose, "error": err.Error()})
	}
}
