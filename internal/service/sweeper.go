package service

import (
	"context"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/acetrade/session-bridge/internal/clock"
	"github.com/acetrade/session-bridge/internal/repository"
)

// DefaultCleanupInterval is how often expired credentials are purged.
const DefaultCleanupInterval = time.Hour

// Sweeper periodically removes expired one-time sessions and 2FA codes.
type Sweeper struct {
	tokens   *TokenService
	codes    *repository.TwoFACodeRepo
	clock    clock.Clock
	interval time.Duration
	logger   *log.Logger
}

func NewSweeper(tokens *TokenService, codes *repository.TwoFACodeRepo, clk clock.Clock, interval time.Duration, logger *log.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	return &Sweeper{tokens: tokens, codes: codes, clock: clk, interval: interval, logger: logger}
}

// RunOnce performs a single sweep and returns the rows removed from each
// table.
func (s *Sweeper) RunOnce(ctx context.Context) (sessions, codes int64, err error) {
	sessions, err = s.tokens.Cleanup(ctx)
	if err != nil {
		return 0, 0, err
	}
	codes, err = s.codes.DeleteExpired(ctx, s.clock.Now())
	if err != nil {
		return sessions, 0, err
	}
	return sessions, codes, nil
}

// Start launches the sweep loop in a goroutine.  It stops when ctx is
// cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sessions, codes, err := s.RunOnce(ctx)
				if err != nil {
					s.logger.Errorj(log.JSON{"action": "cleanup_failed", "error": err.Error()})
					continue
				}
				if codes > 0 {
					s.logger.Infoj(log.JSON{"action": "expired_codes_cleaned", "count": codes, "sessions": sessions})
				}
			}
		}
	}()
	s.logger.Infoj(log.JSON{"action": "sweeper_started", "interval": s.interval.String()})
}
