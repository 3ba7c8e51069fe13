package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/halcyonlabs/halcyon-backend/api/controllers"
	webhookcontrollers "github.com/halcyonlabs/halcyon-backend/api/controllers/webhooks"
	"github.com/halcyonlabs/halcyon-backend/api/middleware"
	"github.com/halcyonlabs/halcyon-backend/internal/commissions"
	"github.com/halcyonlabs/halcyon-backend/internal/engagement"
	"github.com/halcyonlabs/halcyon-backend/internal/ledger"
	"github.com/halcyonlabs/halcyon-backend/internal/realtime"
	"github.com/halcyonlabs/halcyon-backend/internal/referrals"
	stripewebhook "github.com/halcyonlabs/halcyon-backend/internal/webhooks/stripe"
	"github.com/halcyonlabs/halcyon-backend/pkg/auth/session"
	"github.com/halcyonlabs/halcyon-backend/pkg/config"
	"github.com/halcyonlabs/halcyon-backend/pkg/db"
	"github.com/halcyonlabs/halcyon-backend/pkg/logger"
	"github.com/halcyonlabs/halcyon-backend/pkg/redis"
	"github.com/halcyonlabs/halcyon-backend/pkg/stripe"
)

// RouterParams carries everything the HTTP surface depends on.
type RouterParams struct {
	Config       *config.Config
	Logger       *logger.Logger
	DB           db.Pinger
	Redis        *redis.Client
	Sessions     session.AccessSessionChecker
	Ledger       ledger.Service
	Engagement   engagement.Service
	Referrals    referrals.Service
	Commissions  commissions.Repository
	Realtime     *realtime.Handler
	StripeClient *stripe.Client
	Webhooks     *stripewebhook.Service
	WebhookGuard *stripewebhook.IdempotencyGuard
}

func NewRouter(p RouterParams) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, p.DB, p.Redis, logg))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(p.Webhooks, p.StripeClient, p.WebhookGuard, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, p.Sessions, logg))
		r.Use(middleware.RateLimit(p.Redis, cfg.RateLimit.Requests, cfg.RateLimit.Window, logg))

		r.Route("/credits", func(r chi.Router) {
			r.Get("/balance", controllers.GetCreditBalance(p.Ledger, logg))
			r.Get("/transactions", controllers.ListCreditTransactions(p.Ledger, logg))
			r.Post("/debit", controllers.DebitUsage(p.Ledger, logg))
			r.Put("/tier", controllers.ChangeTier(p.Ledger, logg))
		})

		r.Route("/engagement", func(r chi.Router) {
			r.Get("/snapshot", controllers.GetEngagementSnapshot(p.Engagement, logg))
			r.Post("/interactions", controllers.RecordInteraction(p.Engagement, logg))
		})

		r.Route("/referrals", func(r chi.Router) {
			r.Post("/", controllers.CreateReferral(p.Referrals, logg))
			r.Get("/", controllers.ListReferrals(p.Referrals, logg))
			r.Post("/{referralID}/activate", controllers.ActivateReferral(p.Referrals, logg))
			r.Post("/{referralID}/revoke", controllers.RevokeReferral(p.Referrals, logg))
			r.Get("/commissions", controllers.ListCommissions(p.Commissions, logg))
		})

		r.Get("/realtime/ws", controllers.RealtimeWS(p.Realtime, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, p.Sessions, logg))

		r.Route("/credits", func(r chi.Router) {
			r.Post("/grant", controllers.GrantCredits(p.Ledger, logg))
			r.Post("/{userID}/verify-replay", controllers.VerifyLedgerReplay(p.Ledger, logg))
		})
	})

	return r
}
