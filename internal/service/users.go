package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/acetrade/session-bridge/internal/clock"
	"github.com/acetrade/session-bridge/internal/model"
	"github.com/acetrade/session-bridge/internal/repository"
	"github.com/acetrade/session-bridge/internal/utils"
)

const accountIDBytes = 6

// UserService handles registration and tier bookkeeping.
type UserService struct {
	users    *repository.UserRepo
	activity *ActivityLog
	clock    clock.Clock
	rand     io.Reader
	logger   *log.Logger
}

func NewUserService(users *repository.UserRepo, activity *ActivityLog, clk clock.Clock, rand io.Reader, logger *log.Logger) *UserService {
	return &UserService{users: users, activity: activity, clock: clk, rand: rand, logger: logger}
}

// Register creates a basic-tier user for chatID.  referrer is an optional
// account id; an unknown referrer is ignored.  A chat id that is already
// registered yields ErrConflict.
func (s *UserService) Register(ctx context.Context, chatID int64, referrer string) (model.User, error) {
	u := model.User{
		ExternalChatID: chatID,
		Tier:           model.TierBasic,
		RegisteredAt:   s.clock.Now().Truncate(time.Second),
	}

	var ref *model.User
	if referrer = strings.ToUpper(strings.TrimSpace(referrer)); referrer != "" {
		r, err := s.users.GetByAccountID(ctx, referrer)
		switch {
		case err == nil && r.ExternalChatID != chatID:
			ref = &r
			u.ReferredBy = &r.ID
		case err != nil && !errors.Is(err, ErrNotFound):
			return model.User{}, err
		default:
			s.logger.Infoj(log.JSON{"action": "referrer_ignored", "chat_id": chatID})
		}
	}

	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		accountID, err := utils.RandomCode(s.rand, accountIDBytes)
		if err != nil {
			return model.User{}, err
		}
		u.AccountID = accountID
		_, err = s.users.Create(ctx, &u)
		if err == nil {
			s.registered(ctx, u, ref)
			return u, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return model.User{}, err
		}
		if _, lookupErr := s.users.GetByChatID(ctx, chatID); lookupErr == nil {
			return model.User{}, ErrConflict
		}
	}
	return model.User{}, ErrConflict
}

func (s *UserService) registered(ctx context.Context, u model.User, ref *model.User) {
	s.activity.Append(ctx, model.SecurityLogEntry{
		UserID: u.ID,
		Event:  model.EventUserRegistered,
		Detail: map[string]any{"account_id": u.AccountID},
	})
	if ref != nil {
		s.activity.Append(ctx, model.SecurityLogEntry{
			UserID: ref.ID,
			Event:  model.EventReferralRegistration,
			Detail: map[string]any{"referred_user_id": u.ID},
		})
	}
	s.logger.Infoj(log.JSON{"action": "user_registered", "user_id": u.ID})
}

func (s *UserService) Get(ctx context.Context, userID uint64) (model.User, error) {
	return s.users.GetByID(ctx, userID)
}

func (s *UserService) GetByChatID(ctx context.Context, chatID int64) (model.User, error) {
	return s.users.GetByChatID(ctx, chatID)
}

func (s *UserService) GetByAccountID(ctx context.Context, accountID string) (model.User, error) {
	return s.users.GetByAccountID(ctx, strings.ToUpper(strings.TrimSpace(accountID)))
}

// UpgradeTier sets the user's tier.
func (s *UserService) UpgradeTier(ctx context.Context, userID uint64, tier model.Tier) error {
	if !tier.Valid() {
		return ErrInvalidTier
	}
	ok, err := s.users.UpdateTier(ctx, userID, tier)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	s.activity.Append(ctx, model.SecurityLogEntry{
		UserID: userID,
		Event:  model.EventTierUpgraded,
		Detail: map[string]any{"tier": string(tier)},
	})
	return nil
}
