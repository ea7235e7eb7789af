package service

import (
	"context"
	"time"

	"github.com/acetrade/session-bridge/internal/clock"
	"github.com/acetrade/session-bridge/internal/repository"
)

// Defaults for session issuance throttling.
const (
	DefaultMaxSessionsPerHour = 10
	DefaultRateWindow         = time.Hour
)

// SessionRateLimiter caps how many one-time sessions a user may create
// within a trailing window.  It counts existing rows; the record step is
// the insert performed by TokenService.Issue.  Under heavy concurrency a
// request or two may slip past the ceiling, which is acceptable for a
// throttle.
type SessionRateLimiter struct {
	sessions *repository.SessionRepo
	clock    clock.Clock
	max      int
	window   time.Duration
}

// NewSessionRateLimiter builds a limiter.  Non-positive values select the
// defaults (10 per hour).
func NewSessionRateLimiter(sessions *repository.SessionRepo, clk clock.Clock, max int, window time.Duration) *SessionRateLimiter {
	if max <= 0 {
		max = DefaultMaxSessionsPerHour
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &SessionRateLimiter{sessions: sessions, clock: clk, max: max, window: window}
}

// Window is the trailing span issuance is counted over.
func (l *SessionRateLimiter) Window() time.Duration { return l.window }

// Allow reports whether userID may create another session now.
func (l *SessionRateLimiter) Allow(ctx context.Context, userID uint64) (bool, error) {
	since := l.clock.Now().Add(-l.window)
	n, err := l.sessions.CountSince(ctx, userID, since)
	if err != nil {
		return false, err
	}
	return n < l.max, nil
}
