package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/acetrade/session-bridge/internal/model"
)

// SessionRepo persists one-time login tokens (one_time_sessions).
type SessionRepo struct{ gw Gateway }

func NewSessionRepo(gw Gateway) *SessionRepo { return &SessionRepo{gw: gw} }

// Redemption is the state of a one-time session joined with its owner,
// read back after the used flag has been claimed.
type Redemption struct {
	SessionID    uint64
	UserID       uint64
	ExpiresAt    time.Time
	Tier         model.Tier
	TwoFAEnabled bool
	Locked       bool
}

// Create inserts a one-time session and fills in its id.  A token clash
// yields ErrDuplicate.
func (r *SessionRepo) Create(ctx context.Context, s *model.OneTimeSession) error {
	ctx, cancel := r.gw.bound(ctx)
	defer cancel()
	res, err := r.gw.DB.ExecContext(ctx,
		`INSERT INTO one_time_sessions (user_id, token, ip, device, expires_at, used, created_at)
		 VALUES (?,?,?,?,?,0,?)`,
		s.UserID, s.Token, nullString(s.IP), nullString(s.Device), ts(s.ExpiresAt), ts(s.CreatedAt))
	if err != nil {
		return classify(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return classify(err)
	}
	s.ID = uint64(id)
	return nil
}

// CountSince counts the sessions a user created after since.
func (r *SessionRepo) CountSince(ctx context.Context, userID uint64, since time.Time) (int, error) {
	ctx, cancel := r.gw.bound(ctx)
	defer cancel()
	var n int
	err := r.gw.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM one_time_sessions WHERE user_id=? AND created_at > ?",
		userID, since.UTC()).Scan(&n)
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

// GetByToken looks a session up by token.
func (r *SessionRepo) GetByToken(ctx context.Context, token string) (model.OneTimeSession, error) {
	ctx, cancel := r.gw.bound(ctx)
	defer cancel()
	var (
		s      model.OneTimeSession
		ip     sql.NullString
		device sql.NullString
	)
	err := r.gw.DB.QueryRowContext(ctx,
		`SELECT session_id, user_id, token, ip, device, expires_at, used, created_at
		 FROM one_time_sessions WHERE token=? LIMIT 1`, token).
		Scan(&s.ID, &s.UserID, &s.Token, &ip, &device, &s.ExpiresAt, &s.Used, &s.CreatedAt)
	if err != nil {
		return model.OneTimeSession{}, classify(err)
	}
	s.IP, s.Device = stringPtr(ip), stringPtr(device)
	s.ExpiresAt, s.CreatedAt = s.ExpiresAt.UTC(), s.CreatedAt.UTC()
	return s, nil
}

// ClaimToken atomically flips used from false to true.  It returns true
// for exactly one caller per token; every other caller, concurrent or
// later, gets false.
func (r *SessionRepo) ClaimToken(ctx context.Context, token string) (bool, error) {
	ctx, cancel := r.gw.bound(ctx)
	defer cancel()
	n, err := affected(r.gw.DB.ExecContext(ctx,
		"UPDATE one_time_sessions SET used=1 WHERE token=? AND used=0", token))
	return n > 0, err
}

// GetRedemption reads a session together with its owner's tier, 2FA and
// lock state.
func (r *SessionRepo) GetRedemption(ctx context.Context, token string) (Redemption, error) {
	ctx, cancel := r.gw.bound(ctx)
	defer cancel()
	var (
		rd   Redemption
		tier string
	)
	err := r.gw.DB.QueryRowContext(ctx,
		`SELECT s.session_id, s.user_id, s.expires_at, u.tier, u.is_2fa_enabled, u.account_locked
		 FROM one_time_sessions s
		 JOIN users u ON s.user_id = u.user_id
		 WHERE s.token=? LIMIT 1`, token).
		Scan(&rd.SessionID, &rd.UserID, &rd.ExpiresAt, &tier, &rd.TwoFAEnabled, &rd.Locked)
	if err != nil {
		return Redemption{}, classify(err)
	}
	rd.Tier = model.Tier(tier)
	rd.ExpiresAt = rd.ExpiresAt.UTC()
	return rd, nil
}

// DeleteExpired removes sessions whose expiry is at or before now and
// that were created at or before createdBefore, and returns how many were
// removed.  Rows newer than createdBefore still feed the issuance count.
func (r *SessionRepo) DeleteExpired(ctx context.Context, now, createdBefore time.Time) (int64, error) {
	ctx, cancel := r.gw.bound(ctx)
	defer cancel()
	return affected(r.gw.DB.ExecContext(ctx,
		"DELETE FROM one_time_sessions WHERE expires_at <= ? AND created_at <= ?",
		now.UTC(), createdBefore.UTC()))
}

// ListByUser returns a user's most recent sessions, newest first.  Token
// values are not selected.
func (r *SessionRepo) ListByUser(ctx context.Context, userID uint64, limit int) ([]model.OneTimeSession, error) {
	ctx, cancel := r.gw.bound(ctx)
	defer cancel()
	rows, err := r.gw.DB.QueryContext(ctx,
		`SELECT session_id, user_id, ip, device, expires_at, used, created_at
		 FROM one_time_sessions WHERE user_id=?
		 ORDER BY created_at DESC, session_id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var out []model.OneTimeSession
	for rows.Next() {
		var (
			s      model.OneTimeSession
			ip     sql.NullString
			device sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.UserID, &ip, &device, &s.ExpiresAt, &s.Used, &s.CreatedAt); err != nil {
			return nil, classify(err)
		}
		s.IP, s.Device = stringPtr(ip), stringPtr(device)
		s.ExpiresAt, s.CreatedAt = s.ExpiresAt.UTC(), s.CreatedAt.UTC()
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}
