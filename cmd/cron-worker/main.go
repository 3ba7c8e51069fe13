package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/halcyonlabs/halcyon-backend/internal/commissions"
	"github.com/halcyonlabs/halcyon-backend/internal/cron"
	"github.com/halcyonlabs/halcyon-backend/internal/engagement"
	"github.com/halcyonlabs/halcyon-backend/internal/ledger"
	"github.com/halcyonlabs/halcyon-backend/internal/referrals"
	"github.com/halcyonlabs/halcyon-backend/pkg/config"
	"github.com/halcyonlabs/halcyon-backend/pkg/db"
	"github.com/halcyonlabs/halcyon-backend/pkg/logger"
	"github.com/halcyonlabs/halcyon-backend/pkg/metrics"
	"github.com/halcyonlabs/halcyon-backend/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	ledgerRepo := ledger.NewRepository(dbClient.DB())
	ledgerService, err := ledger.NewService(ledgerRepo, dbClient, cfg.Credits, nil, logg)
	requireResource(ctx, logg, "ledger service", err)

	referralService, err := referrals.NewService(referrals.NewRepository(dbClient.DB()), dbClient, cfg.Referral, logg)
	requireResource(ctx, logg, "referral service", err)

	engagementService, err := engagement.NewService(engagement.NewRepository(dbClient.DB()), dbClient, cfg.Engagement, nil, logg)
	requireResource(ctx, logg, "engagement service", err)

	commissionEngine, err := commissions.NewEngine(commissions.NewRepository(dbClient.DB()), referralService, ledgerService, dbClient, nil, logg)
	requireResource(ctx, logg, "commission engine", err)

	resetJob, err := cron.NewMonthlyResetJob(cron.MonthlyResetJobParams{
		Logger:   logg,
		Accounts: ledgerRepo,
		Ledger:   ledgerService,
	})
	requireResource(ctx, logg, "monthly reset job", err)

	expiryJob, err := cron.NewReferralExpiryJob(cron.ReferralExpiryJobParams{
		Logger:    logg,
		Referrals: referralService,
	})
	requireResource(ctx, logg, "referral expiry job", err)

	rolloverJob, err := cron.NewEngagementRolloverJob(cron.EngagementRolloverJobParams{
		Logger:     logg,
		Engagement: engagementService,
	})
	requireResource(ctx, logg, "engagement rollover job", err)

	reconcileJob, err := cron.NewCommissionReconcileJob(cron.CommissionReconcileJobParams{
		Logger:    logg,
		Purchases: ledgerRepo,
		Engine:    commissionEngine,
	})
	requireResource(ctx, logg, "commission reconcile job", err)

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker"), cfg.Cron.LockTTL)
	requireResource(ctx, logg, "cron lock", err)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(resetJob, expiryJob, rolloverJob, reconcileJob),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	requireResource(ctx, logg, "cron service", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(runCtx, "starting cron worker")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(runCtx, "cron worker shutting down gracefully")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
