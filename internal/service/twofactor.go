package service

import (
	"context"
	"database/sql"
	"io"
	"strings"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/acetrade/session-bridge/internal/clock"
	"github.com/acetrade/session-bridge/internal/model"
	"github.com/acetrade/session-bridge/internal/repository"
	"github.com/acetrade/session-bridge/internal/utils"
)

// Fixed second-factor parameters.
const (
	TwoFACodeTTL   = 90 * time.Second
	TOTPPeriod     = 30
	TOTPSkew       = 2
	DefaultIssuer  = "Ace Trade"
	twoFACodeBytes = 4
)

// Enrollment is the material a user needs to add the account to an
// authenticator app.  It is shown once.
type Enrollment struct {
	Secret string
	URL    string
}

// TwoFactorService issues and verifies short-lived action codes and TOTP
// codes, and drives 2FA enrollment.
type TwoFactorService struct {
	users    *repository.UserRepo
	codes    *repository.TwoFACodeRepo
	recovery *RecoveryService
	activity *ActivityLog
	throttle AttemptThrottle
	box      *utils.SecretBox
	clock    clock.Clock
	rand     io.Reader
	logger   *log.Logger
	issuer   string
}

// NewTwoFactorService wires the service.  A nil throttle disables attempt
// limiting; a nil box stores TOTP secrets unencrypted.
func NewTwoFactorService(users *repository.UserRepo, codes *repository.TwoFACodeRepo, recovery *RecoveryService,
	activity *ActivityLog, throttle AttemptThrottle, box *utils.SecretBox, clk clock.Clock, rand io.Reader,
	logger *log.Logger, issuer string) *TwoFactorService {
	if throttle == nil {
		throttle = NoopThrottle{}
	}
	if issuer == "" {
		issuer = DefaultIssuer
	}
	return &TwoFactorService{
		users:    users,
		codes:    codes,
		recovery: recovery,
		activity: activity,
		throttle: throttle,
		box:      box,
		clock:    clk,
		rand:     rand,
		logger:   logger,
		issuer:   issuer,
	}
}

// IssueCode creates a code authorizing action for userID and returns it.
// Any older pending code for the same user and action stops validating.
// Retrying after an ambiguous failure is safe for the same reason: the
// retry supersedes whatever the failed attempt may have stored.
func (s *TwoFactorService) IssueCode(ctx context.Context, userID uint64, action model.ActionKind) (string, error) {
	if !action.Valid() {
		return "", ErrInvalidAction
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return "", err
	}
	code, err := utils.RandomCode(s.rand, twoFACodeBytes)
	if err != nil {
		return "", err
	}
	c := model.TwoFactorCode{
		UserID:    userID,
		Code:      code,
		Action:    action,
		ExpiresAt: clock.Deadline(s.clock.Now(), TwoFACodeTTL),
	}
	if err := s.codes.Replace(ctx, &c); err != nil {
		return "", err
	}
	return code, nil
}

// VerifyCode consumes a matching unused, unexpired code.  Checking and
// consuming happen in one statement, so a code verifies at most once.
func (s *TwoFactorService) VerifyCode(ctx context.Context, userID uint64, code string, action model.ActionKind) (bool, error) {
	if !action.Valid() {
		return false, ErrInvalidAction
	}
	if !s.throttle.Allow(ctx, userID, PurposeCode) {
		return false, ErrTooManyAttempts
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		s.throttle.Failed(ctx, userID, PurposeCode)
		return false, nil
	}
	ok, err := s.codes.Consume(ctx, userID, code, action, s.clock.Now())
	if err != nil {
		return false, err
	}
	if !ok {
		s.throttle.Failed(ctx, userID, PurposeCode)
		return false, nil
	}
	s.throttle.Succeeded(ctx, userID, PurposeCode)
	return true, nil
}

// VerifyTOTP checks code against the user's enrolled secret, accepting
// up to two time steps of drift either way.  A user without 2FA gets
// ErrTwoFARequired.
func (s *TwoFactorService) VerifyTOTP(ctx context.Context, userID uint64, code string) (bool, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return false, err
	}
	if !u.TwoFAEnabled || u.TOTPSecret == nil {
		return false, ErrTwoFARequired
	}
	return s.checkTOTP(ctx, userID, *u.TOTPSecret, code)
}

func (s *TwoFactorService) checkTOTP(ctx context.Context, userID uint64, stored, code string) (bool, error) {
	if !s.throttle.Allow(ctx, userID, PurposeTOTP) {
		return false, ErrTooManyAttempts
	}
	if !validTOTP(s.box.OpenOrPlaintext(stored), code, s.clock.Now()) {
		s.throttle.Failed(ctx, userID, PurposeTOTP)
		return false, nil
	}
	s.throttle.Succeeded(ctx, userID, PurposeTOTP)
	return true, nil
}

func validTOTP(secret, code string, at time.Time) bool {
	code = strings.TrimSpace(code)
	if secret == "" || code == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, at.UTC(), totp.ValidateOpts{
		Period:    TOTPPeriod,
		Skew:      TOTPSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// BeginEnrollment generates a TOTP secret for a user without 2FA and
// stores it (encrypted when configured) as pending.  2FA stays off until
// ConfirmEnable succeeds.  Calling it again replaces the pending secret.
func (s *TwoFactorService) BeginEnrollment(ctx context.Context, userID uint64, accountName string) (Enrollment, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return Enrollment{}, err
	}
	if u.TwoFAEnabled {
		return Enrollment{}, ErrTwoFAAlreadyEnabled
	}
	if accountName == "" {
		accountName = u.AccountID
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: accountName,
		Period:      TOTPPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
		Rand:        s.rand,
	})
	if err != nil {
		return Enrollment{}, err
	}
	sealed, err := s.box.Seal(key.Secret())
	if err != nil {
		return Enrollment{}, err
	}
	ok, err := s.users.SetPendingTOTPSecret(ctx, userID, sealed)
	if err != nil {
		return Enrollment{}, err
	}
	if !ok {
		return Enrollment{}, ErrTwoFAAlreadyEnabled
	}
	return Enrollment{Secret: key.Secret(), URL: key.URL()}, nil
}

// ConfirmEnable turns 2FA on.  It needs an unused enable code and a TOTP
// from the pending secret.  The flag and a fresh recovery key are stored
// in one transaction; the plaintext key is returned exactly once.
func (s *TwoFactorService) ConfirmEnable(ctx context.Context, userID uint64, code, totpCode string) (string, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if u.TwoFAEnabled {
		return "", ErrTwoFAAlreadyEnabled
	}
	if u.TOTPSecret == nil {
		return "", ErrEnrollmentNotStarted
	}
	ok, err := s.checkTOTP(ctx, userID, *u.TOTPSecret, totpCode)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrInvalidTwoFACode
	}
	ok, err = s.VerifyCode(ctx, userID, code, model.ActionEnable)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrInvalidTwoFACode
	}

	var key string
	err = s.users.Gateway().InTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		enabled, err := s.users.EnableTwoFATx(ctx, tx, userID)
		if err != nil {
			return err
		}
		if !enabled {
			return ErrTwoFAAlreadyEnabled
		}
		key, err = s.recovery.IssueTx(ctx, tx, userID)
		return err
	})
	if err != nil {
		return "", err
	}

	s.activity.Append(ctx, model.SecurityLogEntry{UserID: userID, Event: model.EventTwoFAEnabled})
	s.activity.Append(ctx, model.SecurityLogEntry{UserID: userID, Event: model.EventRecoveryKeyIssued})
	s.logger.Infoj(log.JSON{"action": "twofa_enabled", "user_id": userID})
	return key, nil
}

// Disable turns 2FA off after consuming a disable code.  The secret and
// recovery key are cleared with it.  A locked account keeps its second
// factor, since unlocking depends on it.
func (s *TwoFactorService) Disable(ctx context.Context, userID uint64, code string) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !u.TwoFAEnabled {
		return ErrTwoFARequired
	}
	if u.Locked {
		return ErrAccountLocked
	}
	ok, err := s.VerifyCode(ctx, userID, code, model.ActionDisable)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidTwoFACode
	}
	disabled, err := s.users.DisableTwoFA(ctx, userID)
	if err != nil {
		return err
	}
	if !disabled {
		// Locked between the read and the update.
		return ErrAccountLocked
	}
	s.activity.Append(ctx, model.SecurityLogEntry{UserID: userID, Event: model.EventTwoFADisabled})
	s.logger.Infoj(log.JSON{"action": "twofa_disabled", "user_id": userID})
	return nil
}
