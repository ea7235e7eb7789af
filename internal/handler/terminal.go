package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/acetrade/session-bridge/internal/model"
	"github.com/acetrade/session-bridge/internal/service"
)

// Redeemer consumes one-time login tokens.
type Redeemer interface {
	Redeem(ctx context.Context, token string) (service.Redemption, error)
}

// Sessions manages a user's terminal sessions.
type Sessions interface {
	List(ctx context.Context, userID uint64) ([]model.ActiveSession, error)
	Register(ctx context.Context, userID uint64, ip, device *string) (model.ActiveSession, error)
	Revoke(ctx context.Context, userID, sessionID uint64) (bool, error)
}

// LockState answers whether an account is locked.
type LockState interface {
	IsLocked(ctx context.Context, userID uint64) (bool, error)
}

// TerminalHandler serves the API the trading terminal calls after a user
// follows a login link.
type TerminalHandler struct {
	Tokens   Redeemer
	Sessions Sessions
	Lock     LockState
	Logger   *log.Logger
	Timeout  time.Duration
}

func NewTerminalHandler(tokens Redeemer, sessions Sessions, lock LockState, logger *log.Logger) *TerminalHandler {
	return &TerminalHandler{Tokens: tokens, Sessions: sessions, Lock: lock, Logger: logger, Timeout: 5 * time.Second}
}

// ----- DTOs -----

type redeemReq struct {
	Token string `json:"token"`
}
type redeemResp struct {
	UserID       uint64 `json:"user_id"`
	Tier         string `json:"tier"`
	TwoFAEnabled bool   `json:"twofa_enabled"`
}
type registerSessionReq struct {
	IP     string `json:"ip"`
	Device string `json:"device"`
}
type activeSessionResp struct {
	ID        uint64    `json:"id"`
	IP        *string   `json:"ip"`
	Device    *string   `json:"device"`
	CreatedAt time.Time `json:"created_at"`
}
type lockResp struct {
	UserID uint64 `json:"user_id"`
	Locked bool   `json:"locked"`
}

func toActiveSessionResp(s model.ActiveSession) activeSessionResp {
	return activeSessionResp{ID: s.ID, IP: s.IP, Device: s.Device, CreatedAt: s.CreatedAt}
}

func (h *TerminalHandler) ctx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), h.Timeout)
}

// Redeem: POST /v1/sessions/redeem
func (h *TerminalHandler) Redeem(c echo.Context) error {
	var req redeemReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if strings.TrimSpace(req.Token) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "token required"})
	}

	ctx, cancel := h.ctx(c)
	defer cancel()

	rd, err := h.Tokens.Redeem(ctx, req.Token)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, redeemResp{UserID: rd.UserID, Tier: string(rd.Tier), TwoFAEnabled: rd.TwoFAEnabled})
}

// ListSessions: GET /v1/users/:id/active-sessions
func (h *TerminalHandler) ListSessions(c echo.Context) error {
	userID, err := parseID(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user id"})
	}

	ctx, cancel := h.ctx(c)
	defer cancel()

	sessions, err := h.Sessions.List(ctx, userID)
	if err != nil {
		return h.fail(c, err)
	}
	out := make([]activeSessionResp, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toActiveSessionResp(s))
	}
	return c.JSON(http.StatusOK, echo.Map{"sessions": out})
}

// RegisterSession: POST /v1/users/:id/active-sessions
func (h *TerminalHandler) RegisterSession(c echo.Context) error {
	userID, err := parseID(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user id"})
	}
	var req registerSessionReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ctx, cancel := h.ctx(c)
	defer cancel()

	s, err := h.Sessions.Register(ctx, userID, optional(req.IP), optional(req.Device))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, toActiveSessionResp(s))
}

// RevokeSession: DELETE /v1/users/:id/active-sessions/:sid
func (h *TerminalHandler) RevokeSession(c echo.Context) error {
	userID, err := parseID(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user id"})
	}
	sessionID, err := parseID(c.Param("sid"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid session id"})
	}

	ctx, cancel := h.ctx(c)
	defer cancel()

	removed, err := h.Sessions.Revoke(ctx, userID, sessionID)
	if err != nil {
		return h.fail(c, err)
	}
	if !removed {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "session not found"})
	}
	return c.NoContent(http.StatusNoContent)
}

// LockStatus: GET /v1/users/:id/lock
func (h *TerminalHandler) LockStatus(c echo.Context) error {
	userID, err := parseID(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user id"})
	}

	ctx, cancel := h.ctx(c)
	defer cancel()

	locked, err := h.Lock.IsLocked(ctx, userID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, lockResp{UserID: userID, Locked: locked})
}

// fail maps service outcomes to HTTP responses.  Unexpected errors are
// logged and hidden from the caller.
func (h *TerminalHandler) fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidToken):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid_token"})
	case errors.Is(err, service.ErrExpiredToken):
		return c.JSON(http.StatusGone, echo.Map{"error": "expired_token"})
	case errors.Is(err, service.ErrAlreadyUsed):
		return c.JSON(http.StatusConflict, echo.Map{"error": "already_used"})
	case errors.Is(err, service.ErrAccountLocked):
		return c.JSON(http.StatusLocked, echo.Map{"error": "account_locked"})
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not_found"})
	case service.IsRetryable(err):
		c.Response().Header().Set("Retry-After", "1")
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "temporarily_unavailable"})
	}
	h.Logger.Errorj(log.JSON{"action": "terminal_request_failed", "path": c.Path(), "error": err.Error()})
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal_error"})
}

func parseID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
