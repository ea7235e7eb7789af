package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/acetrade/session-bridge/internal/clock"
	"github.com/acetrade/session-bridge/internal/model"
	"github.com/acetrade/session-bridge/internal/repository"
)

// EventPublisher forwards persisted security events to downstream
// consumers.  queue.Publisher is the production implementation.
type EventPublisher interface {
	PublishSecurityEvent(ctx context.Context, e model.SecurityLogEntry) error
}

// ActivityOptions tunes the activity log.  Zero values select defaults.
type ActivityOptions struct {
	WindowDays int           // default window for Recent (7)
	Limit      int           // maximum entries returned by Recent (20)
	QueueSize  int           // buffered entries awaiting the writer (1000)
	Retries    int           // extra attempts for transient write failures (3)
	Backoff    time.Duration // base delay between attempts (200ms)
}

func (o ActivityOptions) withDefaults() ActivityOptions {
	if o.WindowDays <= 0 {
		o.WindowDays = 7
	}
	if o.Limit <= 0 {
		o.Limit = 20
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 1000
	}
	if o.Retries < 0 {
		o.Retries = 0
	} else if o.Retries == 0 {
		o.Retries = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 200 * time.Millisecond
	}
	return o
}

// ActivityLog is the append-only security activity log.  Append never
// fails the operation that triggered it: entries are handed to a
// background writer that retries transient failures and only logs what it
// could not store.  Operations whose audit entry must commit together
// with their state change use AppendTx instead.
type ActivityLog struct {
	repo   *repository.SecurityLogRepo
	pub    EventPublisher
	clock  clock.Clock
	logger *log.Logger
	opts   ActivityOptions

	mu      sync.RWMutex
	queue   chan model.SecurityLogEntry
	started bool
	closed  bool
	wg      sync.WaitGroup
}

// NewActivityLog builds the log.  pub may be nil.  Call Start to enable
// the background writer; until then Append writes synchronously.
func NewActivityLog(repo *repository.SecurityLogRepo, pub EventPublisher, clk clock.Clock, logger *log.Logger, opts ActivityOptions) *ActivityLog {
	opts = opts.withDefaults()
	return &ActivityLog{
		repo:   repo,
		pub:    pub,
		clock:  clk,
		logger: logger,
		opts:   opts,
		queue:  make(chan model.SecurityLogEntry, opts.QueueSize),
	}
}

// Start launches the background writer.
func (a *ActivityLog) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started || a.closed {
		return
	}
	a.started = true
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for e := range a.queue {
			a.write(context.Background(), e)
		}
	}()
}

// Close stops accepting queued entries and waits for the writer to drain.
// Entries appended after Close are written synchronously.
func (a *ActivityLog) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()
	a.wg.Wait()
}

// Append records e without reporting failure to the caller.  CreatedAt
// defaults to the current time.
func (a *ActivityLog) Append(ctx context.Context, e model.SecurityLogEntry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = a.clock.Now()
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.started && !a.closed {
		select {
		case a.queue <- e:
			return
		default:
			a.logger.Warnj(log.JSON{"action": "security_log_queue_full", "event": e.Event, "user_id": e.UserID})
		}
	}
	a.write(context.WithoutCancel(ctx), e)
}

// AppendTx writes e inside tx.  The error is returned so the caller's
// transaction rolls back when the entry cannot be stored.
func (a *ActivityLog) AppendTx(ctx context.Context, tx *sql.Tx, e *model.SecurityLogEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = a.clock.Now()
	}
	return a.repo.InsertTx(ctx, tx, e)
}

// Published forwards an entry that was committed through AppendTx.
func (a *ActivityLog) Published(ctx context.Context, e model.SecurityLogEntry) {
	a.publish(context.WithoutCancel(ctx), e)
}

// Recent returns the user's entries from the last windowDays days, newest
// first and capped at the configured limit.  A non-positive windowDays
// selects the configured default.
func (a *ActivityLog) Recent(ctx context.Context, userID uint64, windowDays int) ([]model.SecurityLogEntry, error) {
	if windowDays <= 0 {
		windowDays = a.opts.WindowDays
	}
	since := a.clock.Now().Add(-time.Duration(windowDays) * 24 * time.Hour)
	return a.repo.Recent(ctx, userID, since, a.opts.Limit)
}

func (a *ActivityLog) write(ctx context.Context, e model.SecurityLogEntry) {
	var err error
	for attempt := 0; attempt <= a.opts.Retries; attempt++ {
		if attempt > 0 {
			time.Sleep(a.opts.Backoff * time.Duration(attempt))
		}
		if err = a.repo.Insert(ctx, &e); err == nil || !errors.Is(err, ErrTransient) {
			break
		}
	}
	if err != nil {
		a.logger.Errorj(log.JSON{
			"action":  "security_log_insert_failed",
			"event":   e.Event,
			"user_id": e.UserID,
			"error":   err.Error(),
		})
		return
	}
	a.publish(ctx, e)
}

func (a *ActivityLog) publish(ctx context.Context, e model.SecurityLogEntry) {
	if a.pub == nil {
		return
	}
	if err := a.pub.PublishSecurityEvent(ctx, e); err != nil {
		a.logger.Warnj(log.JSON{
			"action":  "security_event_publish_failed",
			"event":   e.Event,
			"user_id": e.UserID,
			"error":   err.Error(),
		})
	}
}
