package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/acetrade/session-bridge/internal/model"
)

const userColumns = `user_id, account_id, external_chat_id, tier, is_2fa_enabled, totp_secret,
	recovery_key_hash, recovery_key_used, account_locked, registered_at, last_login, referred_by`

// UserRepo reads and mutates the users table.  The 2FA, recovery-key and
// lock columns are only ever changed through guarded UPDATE statements.
type UserRepo struct{ gw Gateway }

func NewUserRepo(gw Gateway) *UserRepo { return &UserRepo{gw: gw} }

// Gateway exposes the handle so services can open transactions spanning
// several repositories.
func (r *UserRepo) Gateway() Gateway { return r.gw }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (model.User, error) {
	var (
		u         model.User
		tier      string
		secret    sql.NullString
		keyHash   sql.NullString
		lastLogin sql.NullTime
		referrer  sql.NullInt64
	)
	err := row.Scan(&u.ID, &u.AccountID, &u.ExternalChatID, &tier, &u.TwoFAEnabled, &secret,
		&keyHash, &u.RecoveryKeyUsed, &u.Locked, &u.RegisteredAt, &lastLogin, &referrer)
	if err != nil {
		return model.User{}, classify(err)
	}
	u.Tier = model.Tier(tier)
	u.TOTPSecret = stringPtr(secret)
	u.RecoveryKeyHash = stringPtr(keyHash)
	u.RegisteredAt = u.RegisteredAt.UTC()
	if lastLogin.Valid {
		t := lastLogin.Time.UTC()
		u.LastLogin = &t
	}
	if referrer.Valid {
		id := uint64(referrer.Int64)
		u.ReferredBy = &id
	}
	return u, nil
}

// Create inserts a user and returns its id.  A clash on account_id or
// external_chat_id yields ErrDuplicate.
func (r *UserRepo) Create(ctx context.Context, u *model.User) (uint64, error) {
	ctx, cancel := r.gw.bound(ctx)
	defer cancel()

	var referrer any
	if u.ReferredBy != nil {
		referrer = *u.ReferredBy
	}
	res, err := r.gw.DB.ExecContext(ctx,
		`INSERT INTO users (account_id, external_chat_id, tier, registered_at, referred_by) VALUES (?,?,?,?,?)`,
		u.AccountID, u.ExternalChatID, string(u.Tier), ts(u.RegisteredAt), referrer)
	if err != nil {
		return 0, classify(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, classify(err)
	}
	u.ID = uint64(id)
	return u.ID, nil
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	ctx, cancel := r.gw.bound(ctx)
	defer cancel()
	return scanUser(r.gw.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE user_id=? LIMIT 1", id))
}

// GetByChatID fetches a user by chat identity.
func (r *UserRepo) GetByChatID(ctx context.Context, chatID int64) (model.User, error) {
	ctx, cancel := r.gw.bound(ctx)
	defer cancel()
	return scanUser(r.gw.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE external_chat_id=? LIMIT 1", chatID))
}

// GetByAccountID fetches a user by shareable account id.
func (r *UserRepo) GetByAccountID(ctx context.Context, accountID string) (model.User, error) {
	ctx, cancel := r.gw.bound(ctx)
	defer cancel()
	return scanUser(r.gw.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE account_id=? LIMIT 1", accountID))
}

// IsLocked reports the lock flag of a user.
func (r *UserRepo) IsLocked(ctx context.Context, id uint64) (bool, error) {
	ctx, cancel := r.gw.bound(ctx)
	defer cancel()
	var locked bool
	err := r.gw.DB.QueryRowContext(ctx,
		"SELECT account_locked FROM users WHERE user_id=? LIMIT 1", id).Scan(&locked)
	if err != nil {
		return false, classify(err)
	}
	return locked, nil
}

// UpdateLastLogin stamps last_login.
func (r *UserRepo) UpdateLastLogin(ctx context.Context, id uint64, at time.Time) error {
	ctx, cancel := r.gw.bound(ctx)
	defer cancel()
	_, err := affected(r.gw.DB.ExecContext(ctx,
		"UPDATE users SET last_login=? WHERE user_id=?", ts(at), id))
	return err
}

// UpdateTier sets the tier and reports whether the user exists.
func (r *UserRepo) UpdateTier(ctx context.Context, id uint64, tier model.Tier) (bool, error) {
	ctx, cancel := r.gw.bound(ctx)
	defer cancel()
	n, err := affected(r.gw.DB.ExecContext(ctx,
		"UPDATE users SET tier=? WHERE user_id=?", string(tier), id))
	return n > 0, err
}

// SetPendingTOTPSecret stores a freshly generated secret for a user whose
// 2FA is not yet enabled.  It returns false when 2FA is already on.
func (r *UserRepo) SetPendingTOTPSecret(ctx context.Context, id uint64, secret string) (bool, error) {
	ctx, cancel := r.gw.bound(ctx)
	defer cancel()
	n, err := affected(r.gw.DB.ExecContext(ctx,
		"UPDATE users SET totp_secret=? WHERE user_id=? AND is_2fa_enabled=0", secret, id))
	return n > 0, err
}

// EnableTwoFATx flips is_2fa_enabled on when a pending secret exists.
func (r *UserRepo) EnableTwoFATx(ctx context.Context, tx *sql.Tx, id uint64) (bool, error) {
	n, err := affected(tx.ExecContext(ctx,
		"UPDATE users SET is_2fa_enabled=1 WHERE user_id=? AND is_2fa_enabled=0 AND totp_secret IS NOT NULL", id))
	return n > 0, err
}

// DisableTwoFA clears the second factor and recovery key of an unlocked
// account.  A locked account is left untouched and false is returned.
func (r *UserRepo) DisableTwoFA(ctx context.Context, id uint64) (bool, error) {
	ctx, cancel := r.gw.bound(ctx)
	defer cancel()
	n, err := affected(r.gw.DB.ExecContext(ctx,
		`UPDATE users SET is_2fa_enabled=0, totp_secret=NULL, recovery_key_hash=NULL, recovery_key_used=0
		 WHERE user_id=? AND account_locked=0`, id))
	return n > 0, err
}

// SetRecoveryKeyHash stores a new recovery-key hash and resets the used
// flag, replacing any earlier key.
func (r *UserRepo) SetRecoveryKeyHash(ctx context.Context, id uint64, hash string) (bool, error) {
	ctx, cancel := r.gw.bound(ctx)
	defer cancel()
	return r.SetRecoveryKeyHashTx(ctx, r.gw.DB, id, hash)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SetRecoveryKeyHashTx is SetRecoveryKeyHash on a caller-supplied
// transaction (or handle).
func (r *UserRepo) SetRecoveryKeyHashTx(ctx context.Context, tx execer, id uint64, hash string) (bool, error) {
	n, err := affected(tx.ExecContext(ctx,
		"UPDATE users SET recovery_key_hash=?, recovery_key_used=0 WHERE user_id=?", hash, id))
	return n > 0, err
}

// ConsumeRecoveryKey marks the recovery key used, provided the stored hash
// is still the one the caller verified against and it has not been used.
// Exactly one of several concurrent callers sees true.
func (r *UserRepo) ConsumeRecoveryKey(ctx context.Context, id uint64, hash string) (bool, error) {
	ctx, cancel := r.gw.bound(ctx)
	defer cancel()
	n, err := affected(r.gw.DB.ExecContext(ctx,
		"UPDATE users SET recovery_key_used=1 WHERE user_id=? AND recovery_key_hash=? AND recovery_key_used=0",
		id, hash))
	return n > 0, err
}

// LockTx sets account_locked for a user that has 2FA enabled.  False means
// the user is missing or has no second factor.
func (r *UserRepo) LockTx(ctx context.Context, tx *sql.Tx, id uint64) (bool, error) {
	n, err := affected(tx.ExecContext(ctx,
		"UPDATE users SET account_locked=1 WHERE user_id=? AND is_2fa_enabled=1", id))
	return n > 0, err
}

// UnlockTx clears account_locked.  False means the account was not locked.
func (r *UserRepo) UnlockTx(ctx context.Context, tx *sql.Tx, id uint64) (bool, error) {
	n, err := affected(tx.ExecContext(ctx,
		"UPDATE users SET account_locked=0 WHERE user_id=? AND account_locked=1", id))
	return n > 0, err
}
