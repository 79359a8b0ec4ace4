package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/puttlab-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/puttlab-backend/api/controllers/webhooks"
	"github.com/angelmondragon/puttlab-backend/api/middleware"
	"github.com/angelmondragon/puttlab-backend/internal/cron"
	"github.com/angelmondragon/puttlab-backend/internal/players"
	"github.com/angelmondragon/puttlab-backend/internal/webhooks"
	"github.com/angelmondragon/puttlab-backend/pkg/config"
	"github.com/angelmondragon/puttlab-backend/pkg/db"
	"github.com/angelmondragon/puttlab-backend/pkg/logger"
	"github.com/angelmondragon/puttlab-backend/pkg/redis"
)

// NewRouter mounts the public webhook endpoint, the shared-secret internal
// endpoints and the probes. redisP is nil when Redis is disabled.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisP redis.Pinger,
	gatherer prometheus.Gatherer,
	ingestor *webhooks.Ingestor,
	cronService *cron.Service,
	playerService *players.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/provider", webhookcontrollers.ProviderWebhook(ingestor, cfg.Webhook, logg))
	})

	r.Route("/internal", func(r chi.Router) {
		r.With(middleware.SharedSecret(middleware.CronSecretHeader, cfg.Scheduler.Secret, logg)).
			Post("/cron/{job}", controllers.CronTrigger(cronService, logg))
		r.With(middleware.SharedSecret(middleware.AdminSecretHeader, cfg.Admin.Secret, logg)).
			Post("/admin/players/{playerId}/subscription", controllers.AdminSubscriptionOverride(playerService, logg))
	})

	return r
}
