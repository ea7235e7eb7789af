package repository

import (
	"context"
	"database/sql"
	"time"
)

// DefaultTimeout bounds a single datastore call when no timeout is set.
const DefaultTimeout = 5 * time.Second

// Gateway is the datastore handle shared by the repositories.  Every call
// made through it carries a bounded timeout so a stalled datastore
// surfaces as ErrTransient instead of hanging the caller.
type Gateway struct {
	DB      *sql.DB
	Timeout time.Duration
}

// NewGateway wraps db.  A non-positive timeout selects DefaultTimeout.
func NewGateway(db *sql.DB, timeout time.Duration) Gateway {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return Gateway{DB: db, Timeout: timeout}
}

func (g Gateway) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	d := g.Timeout
	if d <= 0 {
		d = DefaultTimeout
	}
	return context.WithTimeout(ctx, d)
}

// InTx runs fn inside a transaction and commits when fn returns nil.  Any
// error from fn or from the commit rolls the whole transaction back, so
// fn's writes apply together or not at all.
func (g Gateway) InTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	ctx, cancel := g.bound(ctx)
	defer cancel()

	tx, err := g.DB.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify(err)
	}
	committed = true
	return nil
}

// ts normalizes a timestamp before it is stored.  DATETIME columns keep
// whole seconds.
func ts(t time.Time) time.Time { return t.UTC().Truncate(time.Second) }

func nullString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func affected(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}
