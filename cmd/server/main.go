package main // Entry point package

import (
	"context"
	"crypto/rand"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/acetrade/session-bridge/internal/clock"
	"github.com/acetrade/session-bridge/internal/config"
	"github.com/acetrade/session-bridge/internal/database"
	"github.com/acetrade/session-bridge/internal/handler"
	"github.com/acetrade/session-bridge/internal/queue"
	"github.com/acetrade/session-bridge/internal/repository"
	"github.com/acetrade/session-bridge/internal/router"
	"github.com/acetrade/session-bridge/internal/service"
	"github.com/acetrade/session-bridge/internal/utils"
)

func main() {
	cfg := config.Load()

	logger := log.New("session-bridge")
	logger.SetHeader(`{"time":"${time_rfc3339}","level":"${level}","prefix":"${prefix}"}`)
	if cfg.Env == "dev" {
		logger.SetLevel(log.DEBUG)
	} else {
		logger.SetLevel(log.INFO)
	}

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		logger.Fatalj(log.JSON{"action": "db_open_failed", "error": err.Error()})
	}
	defer db.Close()
	if cfg.DBAutoMigrate {
		if err := database.Migrate(context.Background(), db); err != nil {
			logger.Fatalj(log.JSON{"action": "db_migrate_failed", "error": err.Error()})
		}
	}

	rdb, err := config.NewRedisClient(config.LoadRedisConfig())
	if err != nil {
		logger.Warnj(log.JSON{"action": "redis_unavailable", "error": err.Error()})
	}

	box, err := utils.NewSecretBox(cfg.TOTPEncryptionKey)
	if err != nil {
		logger.Fatalj(log.JSON{"action": "secret_box_failed", "error": err.Error()})
	}
	if !box.Enabled() {
		logger.Warnj(log.JSON{"action": "totp_encryption_disabled"})
	}

	clk := clock.System{}
	gw := repository.NewGateway(db, cfg.DBQueryTimeout)
	users := repository.NewUserRepo(gw)
	sessions := repository.NewSessionRepo(gw)
	active := repository.NewActiveSessionRepo(gw)
	codes := repository.NewTwoFACodeRepo(gw)
	logs := repository.NewSecurityLogRepo(gw)

	activity := service.NewActivityLog(logs, queue.NewPublisher(cfg.AMQPURL), clk, logger, service.ActivityOptions{
		WindowDays: cfg.ActivityWindowDays,
		Limit:      cfg.ActivityLimit,
	})
	activity.Start()
	defer activity.Close()

	throttle := service.NewRedisAttemptThrottle(rdb, cfg.VerifyAttemptLimit, cfg.VerifyAttemptWindow, logger)
	limiter := service.NewSessionRateLimiter(sessions, clk, cfg.MaxSessionsPerHour, time.Hour)
	tokens := service.NewTokenService(users, sessions, limiter, activity, clk, rand.Reader, logger, service.TokenConfig{
		TTL:         cfg.SessionTTL,
		TerminalURL: cfg.TerminalURL,
		AuthPath:    cfg.TerminalAuthPath,
	})
	if !service.IsActionableURL(tokens.RedemptionURL("probe")) {
		logger.Warnj(log.JSON{"action": "terminal_url_not_actionable", "url": cfg.TerminalURL})
	}
	directory := service.NewSessionDirectory(users, active, activity, clk)
	recovery := service.NewRecoveryService(users, activity, throttle, rand.Reader, cfg.BcryptCost)
	twofa := service.NewTwoFactorService(users, codes, recovery, activity, throttle, box, clk, rand.Reader, logger, cfg.TOTPIssuer)
	lockdown := service.NewLockdownService(users, active, twofa, activity, clk, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	service.NewSweeper(tokens, codes, clk, cfg.CleanupInterval, logger).Start(ctx)

	e := echo.New()
	e.HideBanner = true
	e.Logger = logger
	router.RegisterRoutes(e, db)
	router.RegisterTerminal(e, handler.NewTerminalHandler(tokens, directory, lockdown, logger),
		cfg.TerminalJWTSecret, config.LoadRateLimitConfig(), rdb)

	go func() {
		addr := ":" + cfg.Port
		logger.Infoj(log.JSON{"action": "listening", "addr": addr, "env": cfg.Env})
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalj(log.JSON{"action": "server_failed", "error": err.Error()})
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Errorj(log.JSON{"action": "shutdown_failed", "error": err.Error()})
	}
}
