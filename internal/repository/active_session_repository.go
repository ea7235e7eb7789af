package repository

import (
	"context"
	"database/sql"

	"github.com/acetrade/session-bridge/internal/model"
)

// ActiveSessionRepo provides access to active_sessions.
type ActiveSessionRepo struct{ gw Gateway }

func NewActiveSessionRepo(gw Gateway) *ActiveSessionRepo { return &ActiveSessionRepo{gw: gw} }

// Create inserts an active session and fills in its id.
func (r *ActiveSessionRepo) Create(ctx context.Context, s *model.ActiveSession) error {
	ctx, cancel := r.gw.bound(ctx)
	defer cancel()
	res, err := r.gw.DB.ExecContext(ctx,
		"INSERT INTO active_sessions (user_id, ip, device, created_at) VALUES (?,?,?,?)",
		s.UserID, nullString(s.IP), nullString(s.Device), ts(s.CreatedAt))
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

// ListByUser returns a user's active sessions, newest first.
func (r *ActiveSessionRepo) ListByUser(ctx context.Context, userID uint64) ([]model.ActiveSession, error) {
	ctx, cancel := r.gw.bound(ctx)
	defer cancel()
	rows, err := r.gw.DB.QueryContext(ctx,
		`SELECT active_session_id, user_id, ip, device, created_at
		 FROM active_sessions WHERE user_id=?
		 ORDER BY created_at DESC, active_session_id DESC`, userID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	sessions := []model.ActiveSession{}
	for rows.Next() {
		var (
			s      model.ActiveSession
			ip     sql.NullString
			device sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.UserID, &ip, &device, &s.CreatedAt); err != nil {
			return nil, classify(err)
		}
		s.IP, s.Device = stringPtr(ip), stringPtr(device)
		s.CreatedAt = s.CreatedAt.UTC()
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return sessions, nil
}

// CountByUser counts a user's active sessions.
func (r *ActiveSessionRepo) CountByUser(ctx context.Context, userID uint64) (int, error) {
	ctx, cancel := r.gw.bound(ctx)
	defer cancel()
	var n int
	if err := r.gw.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM active_sessions WHERE user_id=?", userID).Scan(&n); err != nil {
		return 0, classify(err)
	}
	return n, nil
}

// DeleteOwned removes a session only when it belongs to userID.  The
// ownership check is part of the DELETE so there is no window between a
// lookup and the removal.
func (r *ActiveSessionRepo) DeleteOwned(ctx context.Context, userID, sessionID uint64) (bool, error) {
	ctx, cancel := r.gw.bound(ctx)
	defer cancel()
	n, err := affected(r.gw.DB.ExecContext(ctx,
		"DELETE FROM active_sessions WHERE user_id=? AND active_session_id=?", userID, sessionID))
	return n > 0, err
}

// DeleteAllForUserTx removes every active session of a user inside tx.
func (r *ActiveSessionRepo) DeleteAllForUserTx(ctx context.Context, tx *sql.Tx, userID uint64) (int64, error) {
	return affected(tx.ExecContext(ctx, "DELETE FROM active_sessions WHERE user_id=?", userID))
}
