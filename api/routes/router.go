package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/creditshare-backend/api/controllers"
	"github.com/angelmondragon/creditshare-backend/api/middleware"
	"github.com/angelmondragon/creditshare-backend/internal/identity"
	"github.com/angelmondragon/creditshare-backend/internal/products"
	"github.com/angelmondragon/creditshare-backend/internal/purchases"
	"github.com/angelmondragon/creditshare-backend/internal/referrals"
	"github.com/angelmondragon/creditshare-backend/pkg/config"
	"github.com/angelmondragon/creditshare-backend/pkg/db"
	"github.com/angelmondragon/creditshare-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/creditshare-backend/pkg/redis"
)

// RedisStore is the slice of the redis client the HTTP layer needs.
type RedisStore interface {
	pkgredis.IdempotencyStore
	pkgredis.Pinger
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisStore RedisStore,
	gatherer prometheus.Gatherer,
	userFinder controllers.UserFinder,
	identityService identity.Service,
	productService products.Service,
	purchaser controllers.Purchaser,
	purchaseService purchases.Service,
	referralService referrals.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.FrontendURL),
	)

	syncPolicy := middleware.SyncRateLimitPolicy(cfg.AuthRateLimit)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"database": dbP,
			"redis":    redisStore,
		}))
	})
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Get("/api/v1/products", controllers.ListProducts(productService, logg))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.Identity, logg))
		r.Use(middleware.Idempotency(redisStore, logg))

		r.With(middleware.AuthRateLimit(syncPolicy, redisStore, logg)).
			Post("/auth/sync", controllers.AuthSync(identityService, logg))

		r.Route("/purchases", func(r chi.Router) {
			r.Post("/", controllers.CreatePurchase(purchaser, userFinder, logg))
			r.Get("/", controllers.ListPurchases(purchaseService, userFinder, logg))
		})
		r.Get("/users/dashboard", controllers.Dashboard(referralService, userFinder, logg))
		r.Get("/referrals/stats", controllers.ReferralStats(referralService, userFinder, logg))
	})

	return r
}
