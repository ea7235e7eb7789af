package config

import (
	"os"
	"strconv"
	"time"
)

// BucketLimit sizes one token bucket.
type BucketLimit struct {
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
}

// RateLimitConfig configures the Redis token buckets in front of the
// terminal API.  Redemption gets its own, tighter bucket because a caller
// guessing tokens hits only that route.  Account routes are bucketed per
// account so one busy account cannot drain the others.  Per-user token
// issuance is limited separately by the session service.
type RateLimitConfig struct {
	Enabled bool
	Redeem  BucketLimit
	Account BucketLimit
	TTL     time.Duration
	Prefix  string
	Debug   bool
}

// LoadRateLimitConfig reads RATE_LIMIT_* variables.
func LoadRateLimitConfig() RateLimitConfig {
	cfg := RateLimitConfig{
		Enabled: envBool("RATE_LIMIT_ENABLED", true),
		Redeem: BucketLimit{
			Capacity:       envInt("RATE_LIMIT_REDEEM_CAPACITY", 30),
			RefillTokens:   envInt("RATE_LIMIT_REDEEM_REFILL_TOKENS", 1),
			RefillInterval: envDur("RATE_LIMIT_REDEEM_REFILL_INTERVAL", 2*time.Second),
		},
		Account: BucketLimit{
			Capacity:       envInt("RATE_LIMIT_ACCOUNT_CAPACITY", 60),
			RefillTokens:   envInt("RATE_LIMIT_ACCOUNT_REFILL_TOKENS", 1),
			RefillInterval: envDur("RATE_LIMIT_ACCOUNT_REFILL_INTERVAL", time.Second),
		},
		TTL:    envDur("RATE_LIMIT_TTL", 10*time.Minute),
		Prefix: envStr("RATE_LIMIT_PREFIX", "sb:rl"),
		Debug:  envBool("RATE_LIMIT_DEBUG", false),
	}
	cfg.Redeem = cfg.Redeem.normalized()
	cfg.Account = cfg.Account.normalized()

	// Keys must outlive a full refill of the slowest bucket.
	minTTL := 5 * cfg.Redeem.RefillInterval
	if a := 5 * cfg.Account.RefillInterval; a > minTTL {
		minTTL = a
	}
	if cfg.TTL < minTTL {
		cfg.TTL = minTTL
	}
	return cfg
}

func (b BucketLimit) normalized() BucketLimit {
	if b.Capacity < 1 {
		b.Capacity = 1
	}
	if b.RefillTokens < 1 {
		b.RefillTokens = 1
	}
	if b.RefillInterval <= 0 {
		b.RefillInterval = time.Second
	}
	return b
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	if n, err := strconv.Atoi(os.Getenv(k)); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	if dur, err := time.ParseDuration(os.Getenv(k)); err == nil {
		return dur
	}
	return d
}
