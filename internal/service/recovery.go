package service

import (
	"context"
	"database/sql"
	"io"
	"strings"

	"github.com/acetrade/session-bridge/internal/model"
	"github.com/acetrade/session-bridge/internal/repository"
	"github.com/acetrade/session-bridge/internal/utils"
)

const recoveryKeyBytes = 16

// RecoveryService manages the single-use recovery key that backs up a
// user's authenticator.  Only a bcrypt hash of the key is stored.
type RecoveryService struct {
	users    *repository.UserRepo
	activity *ActivityLog
	throttle AttemptThrottle
	rand     io.Reader
	cost     int
}

// NewRecoveryService wires the service.  cost is the bcrypt work factor
// shared by every recovery key; out-of-range values select
// utils.DefaultSecretCost.
func NewRecoveryService(users *repository.UserRepo, activity *ActivityLog, throttle AttemptThrottle, rand io.Reader, cost int) *RecoveryService {
	if throttle == nil {
		throttle = NoopThrottle{}
	}
	return &RecoveryService{users: users, activity: activity, throttle: throttle, rand: rand, cost: cost}
}

func (s *RecoveryService) newKey() (plain, hash string, err error) {
	plain, err = utils.RandomCode(s.rand, recoveryKeyBytes)
	if err != nil {
		return "", "", err
	}
	hash, err = utils.HashSecret(plain, s.cost)
	if err != nil {
		return "", "", err
	}
	return plain, hash, nil
}

// Issue replaces the user's recovery key and returns the new plaintext.
// Any earlier key stops verifying.  The user must have 2FA enabled.
func (s *RecoveryService) Issue(ctx context.Context, userID uint64) (string, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if !u.TwoFAEnabled {
		return "", ErrTwoFARequired
	}
	plain, hash, err := s.newKey()
	if err != nil {
		return "", err
	}
	ok, err := s.users.SetRecoveryKeyHash(ctx, userID, hash)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotFound
	}
	s.activity.Append(ctx, model.SecurityLogEntry{UserID: userID, Event: model.EventRecoveryKeyIssued})
	return plain, nil
}

// IssueTx is Issue without the 2FA check and audit entry, for callers
// that enable 2FA in the same transaction.
func (s *RecoveryService) IssueTx(ctx context.Context, tx *sql.Tx, userID uint64) (string, error) {
	plain, hash, err := s.newKey()
	if err != nil {
		return "", err
	}
	ok, err := s.users.SetRecoveryKeyHashTx(ctx, tx, userID, hash)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotFound
	}
	return plain, nil
}

// Exists reports whether the user holds an issued, unused recovery key.
func (s *RecoveryService) Exists(ctx context.Context, userID uint64) (bool, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return false, err
	}
	return u.HasUsableRecoveryKey(), nil
}

// Verify checks key against the stored hash and, on a match, marks the
// key used.  The used flag is claimed with a conditional update guarded
// on the verified hash, so of several concurrent callers exactly one gets
// true and a replaced key can never be consumed.
func (s *RecoveryService) Verify(ctx context.Context, userID uint64, key string) (bool, error) {
	if !s.throttle.Allow(ctx, userID, PurposeRecovery) {
		return false, ErrTooManyAttempts
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return false, err
	}
	key = strings.ToUpper(strings.TrimSpace(key))
	if !u.HasUsableRecoveryKey() || key == "" || !utils.VerifySecret(*u.RecoveryKeyHash, key) {
		s.throttle.Failed(ctx, userID, PurposeRecovery)
		return false, nil
	}
	ok, err := s.users.ConsumeRecoveryKey(ctx, userID, *u.RecoveryKeyHash)
	if err != nil || !ok {
		return false, err
	}
	s.throttle.Succeeded(ctx, userID, PurposeRecovery)
	s.activity.Append(ctx, model.SecurityLogEntry{UserID: userID, Event: model.EventRecoveryKeyUsed})
	return true, nil
}
