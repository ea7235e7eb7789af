package service

import (
	"context"
	"time"

	"github.com/acetrade/session-bridge/internal/clock"
	"github.com/acetrade/session-bridge/internal/model"
	"github.com/acetrade/session-bridge/internal/repository"
)

// SessionDirectory lists and revokes the sessions a user holds on the
// trading terminal.
type SessionDirectory struct {
	users    *repository.UserRepo
	active   *repository.ActiveSessionRepo
	activity *ActivityLog
	clock    clock.Clock
}

func NewSessionDirectory(users *repository.UserRepo, active *repository.ActiveSessionRepo, activity *ActivityLog, clk clock.Clock) *SessionDirectory {
	return &SessionDirectory{users: users, active: active, activity: activity, clock: clk}
}

// List returns the user's active sessions, newest first.
func (d *SessionDirectory) List(ctx context.Context, userID uint64) ([]model.ActiveSession, error) {
	return d.active.ListByUser(ctx, userID)
}

// Count returns how many active sessions the user holds.
func (d *SessionDirectory) Count(ctx context.Context, userID uint64) (int, error) {
	return d.active.CountByUser(ctx, userID)
}

// Revoke deletes sessionID if it belongs to userID and reports whether a
// session was removed.  A session owned by someone else is treated the
// same as a missing one.
func (d *SessionDirectory) Revoke(ctx context.Context, userID, sessionID uint64) (bool, error) {
	removed, err := d.active.DeleteOwned(ctx, userID, sessionID)
	if err != nil || !removed {
		return false, err
	}
	d.activity.Append(ctx, model.SecurityLogEntry{
		UserID: userID,
		Event:  model.EventSessionRevoked,
		Detail: map[string]any{"active_session_id": sessionID},
	})
	return true, nil
}

// Register records a terminal login for userID.  Locked accounts cannot
// hold sessions.
func (d *SessionDirectory) Register(ctx context.Context, userID uint64, ip, device *string) (model.ActiveSession, error) {
	locked, err := d.users.IsLocked(ctx, userID)
	if err != nil {
		return model.ActiveSession{}, err
	}
	if locked {
		return model.ActiveSession{}, ErrAccountLocked
	}
	s := model.ActiveSession{UserID: userID, IP: ip, Device: device, CreatedAt: d.clock.Now().Truncate(time.Second)}
	if err := d.active.Create(ctx, &s); err != nil {
		return model.ActiveSession{}, err
	}
	return s, nil
}
