package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/acetrade/session-bridge/internal/model"
)

// TwoFACodeRepo persists short-lived authorization codes (twofa_codes).
type TwoFACodeRepo struct{ gw Gateway }

func NewTwoFACodeRepo(gw Gateway) *TwoFACodeRepo { return &TwoFACodeRepo{gw: gw} }

// Replace supersedes every pending code of the same user and action and
// inserts c, in one transaction.  Afterwards c is the only code that can
// validate for that pair.
func (r *TwoFACodeRepo) Replace(ctx context.Context, c *model.TwoFactorCode) error {
	return r.gw.InTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := affected(tx.ExecContext(ctx,
			"UPDATE twofa_codes SET used=1 WHERE user_id=? AND action_type=? AND used=0",
			c.UserID, string(c.Action))); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			"INSERT INTO twofa_codes (user_id, code, action_type, expires_at, used) VALUES (?,?,?,?,0)",
			c.UserID, c.Code, string(c.Action), ts(c.ExpiresAt))
		if err != nil {
			return classify(err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return classify(err)
		}
		c.ID = uint64(id)
		return nil
	})
}

// Consume marks a matching unused, unexpired code as used and reports
// whether one existed.  Verification and consumption are the same
// statement.
func (r *TwoFACodeRepo) Consume(ctx context.Context, userID uint64, code string, action model.ActionKind, now time.Time) (bool, error) {
	ctx, cancel := r.gw.bound(ctx)
	defer cancel()
	n, err := affected(r.gw.DB.ExecContext(ctx,
		`UPDATE twofa_codes SET used=1
		 WHERE user_id=? AND code=? AND action_type=? AND used=0 AND expires_at > ?`,
		userID, code, string(action), now.UTC()))
	return n > 0, err
}

// DeleteExpired purges codes whose expiry is at or before now.
func (r *TwoFACodeRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := r.gw.bound(ctx)
	defer cancel()
	return affected(r.gw.DB.ExecContext(ctx, "DELETE FROM twofa_codes WHERE expires_at <= ?", now.UTC()))
}
