// Command security-consumer appends security events from RabbitMQ to
// <SECURITY_LOG_DIR>/security.log.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/gommon/log"

	"github.com/acetrade/session-bridge/internal/config"
	"github.com/acetrade/session-bridge/internal/queue"
)

func main() {
	logger := log.New("security-consumer")
	logger.SetLevel(log.INFO)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dir := os.Getenv("SECURITY_LOG_DIR")
	c := queue.NewConsumer(config.AMQPURL(), dir, logger)
	logger.Infoj(log.JSON{"action": "consumer_started", "queue": c.Queue, "dir": c.Dir})
	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalj(log.JSON{"action": "consumer_failed", "error": err.Error()})
	}
}
