package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/halcyonlabs/halcyon-backend/api/routes"
	"github.com/halcyonlabs/halcyon-backend/internal/commissions"
	"github.com/halcyonlabs/halcyon-backend/internal/engagement"
	"github.com/halcyonlabs/halcyon-backend/internal/events"
	"github.com/halcyonlabs/halcyon-backend/internal/ledger"
	"github.com/halcyonlabs/halcyon-backend/internal/realtime"
	"github.com/halcyonlabs/halcyon-backend/internal/referrals"
	stripewebhook "github.com/halcyonlabs/halcyon-backend/internal/webhooks/stripe"
	"github.com/halcyonlabs/halcyon-backend/pkg/auth/session"
	"github.com/halcyonlabs/halcyon-backend/pkg/config"
	"github.com/halcyonlabs/halcyon-backend/pkg/db"
	"github.com/halcyonlabs/halcyon-backend/pkg/logger"
	"github.com/halcyonlabs/halcyon-backend/pkg/metrics"
	"github.com/halcyonlabs/halcyon-backend/pkg/redis"
	"github.com/halcyonlabs/halcyon-backend/pkg/stripe"
)

const webhookIdempotencyScope = "stripe"

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	if cfg.DB.AutoMigrate {
		requireResource(ctx, logg, "migrations", dbClient.AutoMigrate(ctx))
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	requireResource(ctx, logg, "session manager", err)

	dispatcher, err := events.NewDispatcher(cfg.Eventing.QueueDepth, logg)
	requireResource(ctx, logg, "event dispatcher", err)
	defer dispatcher.Close()

	ledgerService, err := ledger.NewService(ledger.NewRepository(dbClient.DB()), dbClient, cfg.Credits, dispatcher, logg)
	requireResource(ctx, logg, "ledger service", err)

	engagementService, err := engagement.NewService(engagement.NewRepository(dbClient.DB()), dbClient, cfg.Engagement, dispatcher, logg)
	requireResource(ctx, logg, "engagement service", err)

	referralService, err := referrals.NewService(referrals.NewRepository(dbClient.DB()), dbClient, cfg.Referral, logg)
	requireResource(ctx, logg, "referral service", err)

	commissionRepo := commissions.NewRepository(dbClient.DB())
	commissionEngine, err := commissions.NewEngine(commissionRepo, referralService, ledgerService, dbClient, dispatcher, logg)
	requireResource(ctx, logg, "commission engine", err)

	realtimeMetrics := metrics.NewRealtimeMetrics(prometheus.DefaultRegisterer)
	hub, err := realtime.NewHub(cfg.Realtime.SendBuffer, realtimeMetrics, logg)
	requireResource(ctx, logg, "realtime hub", err)

	publisher, err := realtime.NewPublisher(hub, logg)
	requireResource(ctx, logg, "realtime publisher", err)

	realtimeHandler, err := realtime.NewHandler(hub, cfg.Realtime, logg)
	requireResource(ctx, logg, "realtime handler", err)

	recorder, err := engagement.NewRecorder(engagementService, logg)
	requireResource(ctx, logg, "engagement recorder", err)

	// Commission payouts must land before the resulting notifications go out.
	dispatcher.Register(commissionEngine)
	dispatcher.Register(recorder)
	dispatcher.Register(publisher)

	stripeClient, err := stripe.NewClient(ctx, cfg.Stripe, logg)
	requireResource(ctx, logg, "stripe client", err)

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Ledger: ledgerService,
		Logger: logg,
	})
	requireResource(ctx, logg, "stripe webhook service", err)

	webhookGuard, err := stripewebhook.NewIdempotencyGuard(redisClient, cfg.Eventing.IdempotencyTTL, webhookIdempotencyScope)
	requireResource(ctx, logg, "stripe webhook guard", err)

	router := routes.NewRouter(routes.RouterParams{
		Config:       cfg,
		Logger:       logg,
		DB:           dbClient,
		Redis:        redisClient,
		Sessions:     sessionManager,
		Ledger:       ledgerService,
		Engagement:   engagementService,
		Referrals:    referralService,
		Commissions:  commissionRepo,
		Realtime:     realtimeHandler,
		StripeClient: stripeClient,
		Webhooks:     webhookService,
		WebhookGuard: webhookGuard,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	runCtx := logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(runCtx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(runCtx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
