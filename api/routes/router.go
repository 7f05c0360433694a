package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/loyalty-core/api/controllers"
	"github.com/angelmondragon/loyalty-core/api/middleware"
	"github.com/angelmondragon/loyalty-core/internal/loyalty"
	pkgAuth "github.com/angelmondragon/loyalty-core/pkg/auth"
	"github.com/angelmondragon/loyalty-core/pkg/config"
	"github.com/angelmondragon/loyalty-core/pkg/logger"
	"github.com/angelmondragon/loyalty-core/pkg/redis"
)

// RouterParams carries what the HTTP surface needs. Redis and Gatherer are optional.
type RouterParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	Services *loyalty.Services
	Redis    *redis.Client
	Gatherer prometheus.Gatherer
	Ready    []controllers.Dependency
}

func NewRouter(p RouterParams) http.Handler {
	cfg, logg, svc := p.Config, p.Logger, p.Services

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.Ready...))
	})

	if p.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{}))
	}

	limiter := middleware.NewTenantLimiter(cfg.RateLimit, nil)
	idempotency := func(next http.Handler) http.Handler { return next }
	if p.Redis != nil {
		limiter = middleware.NewTenantLimiter(cfg.RateLimit, p.Redis)
		idempotency = middleware.Idempotency(p.Redis, logg)
	}
	managers := middleware.RequireRole(logg, pkgAuth.RoleManager, pkgAuth.RolePlatform)

	r.With(
		middleware.Auth(cfg.JWT, logg),
		middleware.RequireRole(logg, pkgAuth.RolePlatform),
	).Get("/api/v1/users/{userId}/memberships", controllers.ListUserMemberships(svc.Memberships, logg))

	r.Route("/api/v1/tenants", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.With(middleware.RequireRole(logg, pkgAuth.RolePlatform)).Post("/", controllers.CreateTenant(svc.Tenants, logg))

		r.Route("/{tenantId}", func(r chi.Router) {
			r.Use(
				middleware.TenantScope(logg),
				middleware.RateLimit(limiter, logg),
				idempotency,
			)

			r.Get("/", controllers.GetTenant(svc.Tenants, logg))
			r.With(managers).Delete("/", controllers.DeleteTenant(svc.Tenants, logg))
			r.With(managers).Post("/usage/recalculate", controllers.RecalculateUsage(svc.Usage, logg))

			r.Route("/memberships", func(r chi.Router) {
				r.Post("/", controllers.JoinMembership(svc.Memberships, logg))
				r.Get("/", controllers.ListMembers(svc.Memberships, logg))

				r.Route("/{membershipId}", func(r chi.Router) {
					r.Get("/", controllers.GetMembership(svc.Memberships, logg))
					r.Delete("/", controllers.DeactivateMembership(svc.Memberships, logg))

					r.Post("/transactions", controllers.AppendTransaction(svc.Loyalty, logg))
					r.Get("/transactions", controllers.ListTransactions(svc.Ledger, svc.Memberships, logg))
					r.Get("/balance", controllers.GetBalance(svc.Ledger, svc.Memberships, logg))
					r.Get("/expiring", controllers.GetExpiringSoon(svc.Ledger, svc.Memberships, cfg.Ledger.ExpiringHorizonDays, logg))
					r.Post("/purchases", controllers.RecordPurchase(svc.Loyalty, logg))
					r.Post("/recompute", controllers.RecomputeBalance(svc.Ledger, svc.Memberships, logg))

					r.Post("/tier/evaluate", controllers.EvaluateTier(svc.Tiers, svc.Memberships, logg))
					r.Get("/tier", controllers.GetTierStatus(svc.Tiers, svc.Memberships, logg))
					r.Get("/tier/history", controllers.GetTierHistory(svc.Tiers, svc.Memberships, logg))

					r.Get("/referrals", controllers.ListReferralsByReferrer(svc.Referrals, logg))
				})
			})

			r.Route("/tiers", func(r chi.Router) {
				r.Get("/", controllers.ListTiers(svc.Tiers, logg))
				r.With(managers).Post("/", controllers.CreateTier(svc.Tiers, logg))
			})
			r.With(managers).Put("/tier-policy", controllers.SetTierPolicy(svc.Tiers, logg))

			r.Route("/branches", func(r chi.Router) {
				r.Get("/", controllers.ListBranches(svc.Tenants, logg))
				r.With(managers).Post("/", controllers.CreateBranch(svc.Tenants, logg))
				r.With(managers).Delete("/{branchId}", controllers.DeleteBranch(svc.Tenants, logg))
			})

			r.Route("/rewards", func(r chi.Router) {
				r.Get("/", controllers.ListRewards(svc.Tenants, logg))
				r.With(managers).Post("/", controllers.CreateReward(svc.Tenants, logg))
				r.With(managers).Delete("/{rewardId}", controllers.DeleteReward(svc.Tenants, logg))
			})

			r.Route("/referrals", func(r chi.Router) {
				r.Post("/", controllers.CreateReferral(svc.Referrals, logg))
				r.Get("/{referralId}", controllers.GetReferral(svc.Referrals, logg))
				r.Post("/{referralId}/cancel", controllers.CancelReferral(svc.Referrals, logg))
			})
		})
	})

	return r
}
