package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/acetrade/session-bridge/internal/config"
	"github.com/acetrade/session-bridge/internal/handler"
	"github.com/acetrade/session-bridge/internal/middleware"
	"github.com/acetrade/session-bridge/internal/utils"
)

// RegisterRoutes registers routes that do not require authentication.
// Currently it exposes only a health check for load balancers.
func RegisterRoutes(e *echo.Echo, db handler.Pinger) {
	e.GET("/healthz", handler.Health(db))
}

// RegisterTerminal registers the terminal API under /v1.  Every route
// requires a service token carrying the terminal role.  Redemption and the
// account routes are throttled by separate Redis token buckets, which are
// no-ops when rdb is nil.
func RegisterTerminal(e *echo.Echo, t *handler.TerminalHandler, jwtSecret string, rl config.RateLimitConfig, rdb *redis.Client) {
	g := e.Group("/v1")
	g.Use(middleware.JWTAuth(jwtSecret))
	g.Use(middleware.RequireRole(utils.RoleTerminal))

	g.POST("/sessions/redeem", t.Redeem, middleware.NewTokenBucket(rl, middleware.ScopeRedeem, rdb))

	users := g.Group("/users/:id", middleware.NewTokenBucket(rl, middleware.ScopeAccount, rdb))
	users.GET("/active-sessions", t.ListSessions)
	users.POST("/active-sessions", t.RegisterSession)
	users.DELETE("/active-sessions/:sid", t.RevokeSession)
	users.GET("/lock", t.LockStatus)
}
