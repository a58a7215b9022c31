package main

import (
	"context"
	"encoding/json"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"gitlab.com/parcelmkt/fulfillment/internal/config"
	"gitlab.com/parcelmkt/fulfillment/internal/logger"
	"gitlab.com/parcelmkt/fulfillment/internal/repository"
)

const groupID = "notification-sender"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log := logger.New()
	defer func() { _ = log.Sync() }()

	cfg := config.Load()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		GroupID:        groupID,
		Topic:          cfg.NotificationsTopic,
		MinBytes:       10e3,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		MaxWait:        3 * time.Second,
	})
	defer func() {
		if err := reader.Close(); err != nil {
			log.Error("failed to close reader", zap.Error(err))
		}
	}()

	log.Info("notifier started",
		zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.NotificationsTopic))

	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("notifier stopped")
				return
			}
			log.Error("failed to read message", zap.Error(err))
			time.Sleep(5 * time.Second)
			continue
		}

		var payload repository.NotificationPayload
		if err := json.Unmarshal(m.Value, &payload); err != nil {
			log.Warn("skipping malformed notification",
				zap.String("key", string(m.Key)), zap.Error(err))
			continue
		}

		// SMS gateway integration point. Until one is wired, delivery is a
		// structured log line.
		log.Info("notification delivered",
			zap.String("phone", payload.Phone),
			zap.Int64("order_id", payload.OrderID),
			zap.String("text", payload.Text))
	}
}
