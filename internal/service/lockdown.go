package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/labstack/gommon/log"

	"github.com/acetrade/session-bridge/internal/clock"
	"github.com/acetrade/session-bridge/internal/model"
	"github.com/acetrade/session-bridge/internal/repository"
)

// SecurityStatus summarizes a user's protection settings.
type SecurityStatus struct {
	TwoFAEnabled         bool
	RecoveryKeyAvailable bool
	ActiveSessions       int
	Locked               bool
}

var (
	errLockRefused   = errors.New("lock refused")
	errAlreadyActive = errors.New("already active")
)

// LockdownService moves accounts between Active and Locked.  Entering
// Locked destroys every active session; leaving it requires a valid TOTP.
type LockdownService struct {
	users    *repository.UserRepo
	active   *repository.ActiveSessionRepo
	twofa    *TwoFactorService
	activity *ActivityLog
	clock    clock.Clock
	logger   *log.Logger
}

func NewLockdownService(users *repository.UserRepo, active *repository.ActiveSessionRepo, twofa *TwoFactorService,
	activity *ActivityLog, clk clock.Clock, logger *log.Logger) *LockdownService {
	return &LockdownService{users: users, active: active, twofa: twofa, activity: activity, clock: clk, logger: logger}
}

// Lockdown locks the account, terminates all of its active sessions and
// records the event, all in one transaction.  It returns the number of
// sessions terminated.  Users without 2FA get ErrTwoFARequired and nothing
// changes.  Locking an already locked account terminates any sessions
// that appeared since and succeeds.
func (s *LockdownService) Lockdown(ctx context.Context, userID uint64) (int64, error) {
	entry := model.SecurityLogEntry{UserID: userID, Event: model.EventAccountLockdown, CreatedAt: s.clock.Now()}
	var removed int64

	err := s.users.Gateway().InTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		ok, err := s.users.LockTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		if !ok {
			return errLockRefused
		}
		removed, err = s.active.DeleteAllForUserTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		entry.Detail = map[string]any{"sessions_terminated": removed}
		return s.activity.AppendTx(ctx, tx, &entry)
	})
	if errors.Is(err, errLockRefused) {
		if _, err := s.users.GetByID(ctx, userID); err != nil {
			return 0, err
		}
		return 0, ErrTwoFARequired
	}
	if err != nil {
		return 0, err
	}

	s.activity.Published(ctx, entry)
	s.logger.Warnj(log.JSON{"action": "account_lockdown", "user_id": userID, "sessions_terminated": removed})
	return removed, nil
}

// Unlock returns a locked account to Active once code verifies against
// the user's TOTP secret.  It reports false without error when the account
// was not locked.  A wrong code yields ErrInvalidTwoFACode and leaves the
// account locked.
func (s *LockdownService) Unlock(ctx context.Context, userID uint64, code string) (bool, error) {
	locked, err := s.users.IsLocked(ctx, userID)
	if err != nil {
		return false, err
	}
	if !locked {
		return false, nil
	}
	ok, err := s.twofa.VerifyTOTP(ctx, userID, code)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrInvalidTwoFACode
	}

	entry := model.SecurityLogEntry{UserID: userID, Event: model.EventAccountUnlock, CreatedAt: s.clock.Now()}
	err = s.users.Gateway().InTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		unlocked, err := s.users.UnlockTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		if !unlocked {
			return errAlreadyActive
		}
		return s.activity.AppendTx(ctx, tx, &entry)
	})
	if errors.Is(err, errAlreadyActive) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.activity.Published(ctx, entry)
	s.logger.Infoj(log.JSON{"action": "account_unlock", "user_id": userID})
	return true, nil
}

// IsLocked reports whether the account is locked.
func (s *LockdownService) IsLocked(ctx context.Context, userID uint64) (bool, error) {
	return s.users.IsLocked(ctx, userID)
}

// Status returns the security dashboard view for userID.
func (s *LockdownService) Status(ctx context.Context, userID uint64) (SecurityStatus, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return SecurityStatus{}, err
	}
	n, err := s.active.CountByUser(ctx, userID)
	if err != nil {
		return SecurityStatus{}, err
	}
	return SecurityStatus{
		TwoFAEnabled:         u.TwoFAEnabled,
		RecoveryKeyAvailable: u.HasUsableRecoveryKey(),
		ActiveSessions:       n,
		Locked:               u.Locked,
	}, nil
}
