package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gitlab.com/parcelmkt/fulfillment/internal/carrier/registry"
	"gitlab.com/parcelmkt/fulfillment/internal/config"
	"gitlab.com/parcelmkt/fulfillment/internal/db"
	"gitlab.com/parcelmkt/fulfillment/internal/logger"
	"gitlab.com/parcelmkt/fulfillment/internal/notify"
	"gitlab.com/parcelmkt/fulfillment/internal/payment"
	"gitlab.com/parcelmkt/fulfillment/internal/repository/postgresql"
	"gitlab.com/parcelmkt/fulfillment/internal/server"
	"gitlab.com/parcelmkt/fulfillment/internal/settings"
	"gitlab.com/parcelmkt/fulfillment/internal/shipment"
	"gitlab.com/parcelmkt/fulfillment/internal/status"
	"gitlab.com/parcelmkt/fulfillment/internal/tariff"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log := logger.New()
	defer func() { _ = log.Sync() }()

	cfg := config.Load()

	database, err := db.NewDb(ctx)
	if err != nil {
		log.Fatal("database init failed", zap.Error(err))
	}
	defer database.GetPool().Close()

	db.InitOperator(database, cfg.OperatorUsername, cfg.OperatorPassword)

	orderRepo := postgresql.NewOrderRepo(database)
	eventRepo := postgresql.NewOrderEventRepo(database)
	paymentRepo := postgresql.NewPaymentRepo(database)
	companyRepo := postgresql.NewCompanyRepo(database)
	settingsRepo := postgresql.NewSettingsRepo(database)
	userRepo := postgresql.NewUserRepo(database)
	taskRepo := postgresql.NewNotificationTaskRepo()

	appSettings := settings.New(settingsRepo)
	backends := registry.New(companyRepo, cfg.CDEKTestMode, log)
	calculator := tariff.NewCalculator(companyRepo, backends, appSettings, log)

	enqueuer := notify.NewEnqueuer(taskRepo, cfg.NotificationsTopic)
	orchestrator := shipment.NewOrchestrator(orderRepo, eventRepo, companyRepo, backends, appSettings, log)

	provider := payment.NewHTTPProvider(cfg.PaymentAPIURL, cfg.PaymentShopID, cfg.PaymentSecretKey)
	reconciler := payment.NewReconciler(database, orderRepo, paymentRepo, eventRepo, provider, orchestrator, enqueuer, userRepo, cfg.PaymentReturnURL, cfg.ConfirmationURLBase, log)

	synchronizer := status.NewSynchronizer(orderRepo, eventRepo, companyRepo, backends, log)
	syncWorker := status.NewWorker(synchronizer, cfg.StatusSyncInterval, log)

	var producer notify.Producer
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaBrokers[0] != "" {
		producer = notify.NewKafkaProducer(cfg.KafkaBrokers)
	} else {
		producer = notify.NewLogProducer(log)
	}
	publisher := notify.NewPublisher(database, taskRepo, producer, notify.PublisherConfig{
		PollInterval: cfg.OutboxPollInterval,
		BatchSize:    cfg.OutboxBatchSize,
		MaxAttempts:  cfg.OutboxMaxAttempts,
	}, log)

	srv := server.New(calculator, orderRepo, eventRepo, companyRepo, reconciler, orchestrator, synchronizer, backends, userRepo, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx, cfg.HTTPPort)
	})
	g.Go(func() error {
		syncWorker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		publisher.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("service stopped with error", zap.Error(err))
		return
	}
	log.Info("service stopped")
}
