package service

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/gommon/log"

	"github.com/acetrade/session-bridge/internal/clock"
	"github.com/acetrade/session-bridge/internal/model"
	"github.com/acetrade/session-bridge/internal/repository"
)

// Defaults for one-time session tokens.
const (
	DefaultSessionTTL   = 5 * time.Minute
	DefaultAuthPath     = "/auth/login"
	defaultHistoryLimit = 10

	// maxGenerateAttempts bounds regeneration after a uniqueness clash.
	maxGenerateAttempts = 3
)

// TokenConfig configures token issuance.
type TokenConfig struct {
	TTL         time.Duration // lifetime of an issued token
	TerminalURL string        // base URL of the trading terminal
	AuthPath    string        // path of the terminal's token login route
}

// IssuedToken is returned to the caller of Issue.  Token is the only copy
// of the credential outside the datastore.
type IssuedToken struct {
	SessionID  uint64
	Token      string
	ExpiresAt  time.Time
	TTLMinutes int
}

// Redemption describes the identity behind a successfully redeemed token.
type Redemption struct {
	UserID       uint64
	Tier         model.Tier
	TwoFAEnabled bool
}

// TokenService issues and redeems one-time login tokens.
type TokenService struct {
	users    *repository.UserRepo
	sessions *repository.SessionRepo
	limiter  *SessionRateLimiter
	activity *ActivityLog
	clock    clock.Clock
	rand     io.Reader
	logger   *log.Logger
	cfg      TokenConfig
}

// NewTokenService wires the token service.  rand must be a
// cryptographically secure source.
func NewTokenService(users *repository.UserRepo, sessions *repository.SessionRepo, limiter *SessionRateLimiter,
	activity *ActivityLog, clk clock.Clock, rand io.Reader, logger *log.Logger, cfg TokenConfig) *TokenService {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSessionTTL
	}
	if cfg.AuthPath == "" {
		cfg.AuthPath = DefaultAuthPath
	}
	return &TokenService{
		users:    users,
		sessions: sessions,
		limiter:  limiter,
		activity: activity,
		clock:    clk,
		rand:     rand,
		logger:   logger,
		cfg:      cfg,
	}
}

// Issue creates a one-time session for userID.  The rate ceiling is
// checked before anything is written.  A token clash is regenerated a
// bounded number of times and then reported as ErrConflict.  When the
// insert fails ambiguously the token is looked up before giving up, so a
// credential that did get stored is returned rather than orphaned.
func (s *TokenService) Issue(ctx context.Context, userID uint64, ip, device *string) (IssuedToken, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return IssuedToken{}, err
	}
	if u.Locked {
		return IssuedToken{}, ErrAccountLocked
	}
	ok, err := s.limiter.Allow(ctx, userID)
	if err != nil {
		return IssuedToken{}, err
	}
	if !ok {
		return IssuedToken{}, ErrRateLimitExceeded
	}

	now := s.clock.Now()
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		token, err := s.newToken()
		if err != nil {
			return IssuedToken{}, err
		}
		sess := model.OneTimeSession{
			UserID:    userID,
			Token:     token,
			IP:        ip,
			Device:    device,
			ExpiresAt: clock.Deadline(now, s.cfg.TTL),
			CreatedAt: now.Truncate(time.Second),
		}
		err = s.sessions.Create(ctx, &sess)
		switch {
		case err == nil:
			return s.issued(ctx, sess), nil
		case errors.Is(err, repository.ErrDuplicate):
			continue
		case errors.Is(err, ErrTransient):
			stored, lookupErr := s.sessions.GetByToken(ctx, token)
			if lookupErr == nil && stored.UserID == userID {
				return s.issued(ctx, stored), nil
			}
			return IssuedToken{}, err
		default:
			return IssuedToken{}, err
		}
	}
	return IssuedToken{}, ErrConflict
}

func (s *TokenService) issued(ctx context.Context, sess model.OneTimeSession) IssuedToken {
	s.activity.Append(ctx, model.SecurityLogEntry{
		UserID: sess.UserID,
		Event:  model.EventSessionGenerated,
		IP:     sess.IP,
		Device: sess.Device,
		Detail: map[string]any{"session_id": sess.ID},
	})
	return IssuedToken{
		SessionID:  sess.ID,
		Token:      sess.Token,
		ExpiresAt:  sess.ExpiresAt,
		TTLMinutes: int(s.cfg.TTL / time.Minute),
	}
}

func (s *TokenService) newToken() (string, error) {
	id, err := uuid.NewRandomFromReader(s.rand)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// RedemptionURL returns the terminal login link carrying token.
func (s *TokenService) RedemptionURL(token string) string {
	return strings.TrimRight(s.cfg.TerminalURL, "/") + s.cfg.AuthPath + "?token=" + url.QueryEscape(token)
}

// IsActionableURL reports whether a redemption link may be shown as a
// clickable action: it must use https and must not point at a loopback
// or unspecified host.
func IsActionableURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || !strings.EqualFold(u.Scheme, "https") {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" || host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return false
	}
	if ip := net.ParseIP(host); ip != nil && (ip.IsLoopback() || ip.IsUnspecified()) {
		return false
	}
	return true
}

// Redeem consumes token.  The used flag is claimed with a single
// conditional update, so concurrent redeemers of one token get exactly one
// success.  An expired token reports ErrExpiredToken whether or not it was
// used before; a locked account reports ErrAccountLocked and the token
// stays consumed.
func (s *TokenService) Redeem(ctx context.Context, token string) (Redemption, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Redemption{}, ErrInvalidToken
	}

	claimed, err := s.sessions.ClaimToken(ctx, token)
	if err != nil {
		return Redemption{}, err
	}
	now := s.clock.Now()

	rd, err := s.sessions.GetRedemption(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Only expired rows are swept, so a claimed row that vanished
			// was already dead.
			if claimed {
				return Redemption{}, ErrExpiredToken
			}
			return Redemption{}, ErrInvalidToken
		}
		return Redemption{}, err
	}
	if !now.Before(rd.ExpiresAt) {
		return Redemption{}, ErrExpiredToken
	}
	if !claimed {
		return Redemption{}, ErrAlreadyUsed
	}
	if rd.Locked {
		return Redemption{}, ErrAccountLocked
	}

	if err := s.users.UpdateLastLogin(ctx, rd.UserID, now); err != nil {
		s.logger.Warnj(log.JSON{"action": "last_login_update_failed", "user_id": rd.UserID, "error": err.Error()})
	}
	s.activity.Append(ctx, model.SecurityLogEntry{
		UserID: rd.UserID,
		Event:  model.EventSessionValidated,
		Detail: map[string]any{"session_id": rd.SessionID},
	})
	return Redemption{UserID: rd.UserID, Tier: rd.Tier, TwoFAEnabled: rd.TwoFAEnabled}, nil
}

// Cleanup deletes one-time sessions past their expiry and returns the
// number removed.  It only touches rows that can no longer be redeemed,
// and keeps those still inside the rate limiter's window so a sweep never
// lowers a user's issuance count.
func (s *TokenService) Cleanup(ctx context.Context) (int64, error) {
	now := s.clock.Now()
	n, err := s.sessions.DeleteExpired(ctx, now, now.Add(-s.limiter.Window()))
	if err != nil {
		return 0, err
	}
	s.logger.Infoj(log.JSON{"action": "expired_sessions_cleaned", "count": n})
	return n, nil
}

// History lists a user's recent one-time sessions without their tokens.
func (s *TokenService) History(ctx context.Context, userID uint64, limit int) ([]model.OneTimeSession, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return s.sessions.ListByUser(ctx, userID, limit)
}
