// Package engine assembles the reconciliation engine from configuration:
// repositories, event sinks, the event processor, the provider client and
// the scheduled jobs. Both the API and the cron worker build from here.
package engine

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/puttlab-backend/internal/billing"
	"github.com/angelmondragon/puttlab-backend/internal/cron"
	"github.com/angelmondragon/puttlab-backend/internal/events"
	"github.com/angelmondragon/puttlab-backend/internal/giftcodes"
	"github.com/angelmondragon/puttlab-backend/internal/players"
	"github.com/angelmondragon/puttlab-backend/internal/subscriptions"
	"github.com/angelmondragon/puttlab-backend/internal/webhookevents"
	"github.com/angelmondragon/puttlab-backend/internal/webhooks"
	"github.com/angelmondragon/puttlab-backend/pkg/config"
	"github.com/angelmondragon/puttlab-backend/pkg/db"
	"github.com/angelmondragon/puttlab-backend/pkg/logger"
	"github.com/angelmondragon/puttlab-backend/pkg/metrics"
	"github.com/angelmondragon/puttlab-backend/pkg/provider"
	redisclient "github.com/angelmondragon/puttlab-backend/pkg/redis"
)

const cronLockScope = "cron-worker"

// Params wire the engine. Redis is nil when it is not configured.
type Params struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         *db.Client
	Redis      *redisclient.Client
	Registerer prometheus.Registerer
	Now        func() time.Time
}

// Engine holds the shared components.
type Engine struct {
	cfg   *config.Config
	logg  *logger.Logger
	db    *db.Client
	redis *redisclient.Client
	now   func() time.Time

	Players  players.Repository
	Events   webhookevents.Repository
	Gifts    giftcodes.Repository
	Billing  billing.Repository
	Catalog  *subscriptions.Catalog
	Sink     events.Sink
	Provider *provider.Client

	Processor     *subscriptions.Processor
	PlayerService *players.Service

	SubscriptionMetrics *metrics.SubscriptionMetrics
	CronMetrics         *metrics.CronJobMetrics
}

func New(params Params) (*Engine, error) {
	if params.Config == nil {
		return nil, fmt.Errorf("config required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("database client required")
	}
	reg := params.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}

	e := &Engine{
		cfg:                 params.Config,
		logg:                params.Logger,
		db:                  params.DB,
		redis:               params.Redis,
		now:                 now,
		Players:             players.NewRepository(params.DB.DB()),
		Events:              webhookevents.NewRepository(params.DB.DB()),
		Gifts:               giftcodes.NewRepository(params.DB.DB()),
		Billing:             billing.NewRepository(params.DB.DB()),
		Catalog:             subscriptions.DefaultCatalog(),
		SubscriptionMetrics: metrics.NewSubscriptionMetrics(reg),
		CronMetrics:         metrics.NewCronJobMetrics(reg),
	}
	e.Sink = e.buildSink()

	client, err := provider.NewFromConfig(params.Config.Provider, params.Logger, metrics.NewProviderMetrics(reg))
	if err != nil {
		return nil, fmt.Errorf("provider client: %w", err)
	}
	e.Provider = client

	e.Processor, err = subscriptions.NewProcessor(subscriptions.ProcessorParams{
		TxRunner: params.DB,
		Events:   e.Events,
		Players:  e.Players,
		Gifts:    e.Gifts,
		Catalog:  e.Catalog,
		Sink:     e.Sink,
		Metrics:  e.SubscriptionMetrics,
		Logger:   params.Logger,
		Now:      now,
	})
	if err != nil {
		return nil, fmt.Errorf("event processor: %w", err)
	}

	e.PlayerService, err = players.NewService(players.ServiceParams{
		Repo:   e.Players,
		Logger: params.Logger,
		Sink:   e.Sink,
		Now:    now,
	})
	if err != nil {
		return nil, fmt.Errorf("player service: %w", err)
	}
	return e, nil
}

func (e *Engine) buildSink() events.Sink {
	fanout := events.Fanout{
		events.NewLogSink(e.logg),
		events.NewMetricsSink(e.SubscriptionMetrics),
	}
	if e.redis != nil {
		fanout = append(fanout, events.NewRedisSink(e.redis, e.cfg.Redis.EventChannel, e.logg))
	}
	return fanout
}

// NewIngestor builds the webhook ingestion path on top of dispatcher.
func (e *Engine) NewIngestor(dispatcher *webhooks.Dispatcher) (*webhooks.Ingestor, error) {
	return webhooks.NewIngestor(webhooks.IngestorParams{
		Verifier:   webhooks.NewVerifier(e.cfg.Webhook.Secret, e.cfg.App.IsProd(), e.logg),
		Events:     e.Events,
		Processor:  e.Processor,
		Dispatcher: dispatcher,
		Metrics:    e.SubscriptionMetrics,
		Logger:     e.logg,
		Now:        e.now,
	})
}

// NewDispatcher sizes the background processing pool from configuration.
func (e *Engine) NewDispatcher() *webhooks.Dispatcher {
	return webhooks.NewDispatcher(e.cfg.Webhook.Workers, e.cfg.Webhook.ProcessTimeout, e.logg)
}

// CronRegistry registers the scheduled jobs in run order: renewals first so a
// charge can land before the expiry sweep looks at the same player.
func (e *Engine) CronRegistry() (*cron.Registry, error) {
	sched := e.cfg.Scheduler

	renewal, err := cron.NewRenewalSweepJob(cron.RenewalSweepParams{
		Logger:    e.logg,
		DB:        e.db,
		Players:   e.Players,
		Billing:   e.Billing,
		Provider:  e.Provider,
		Catalog:   e.Catalog,
		Sink:      e.Sink,
		Currency:  e.cfg.Provider.Currency,
		Lookahead: sched.RenewalLookahead,
		ItemDelay: sched.ItemDelay,
		Limit:     sched.BatchLimit,
		Now:       e.now,
	})
	if err != nil {
		return nil, fmt.Errorf("renewal sweep: %w", err)
	}

	lapse := cron.LapseSweepParams{
		Logger:       e.logg,
		Players:      e.Players,
		Sink:         e.Sink,
		ItemDelay:    sched.ItemDelay,
		Limit:        sched.BatchLimit,
		Now:          e.now,
		PastDueGrace: sched.PastDueGrace,
	}
	expiry, err := cron.NewExpirySweepJob(lapse)
	if err != nil {
		return nil, fmt.Errorf("expiry sweep: %w", err)
	}
	cancellation, err := cron.NewCancellationSweepJob(lapse)
	if err != nil {
		return nil, fmt.Errorf("cancellation sweep: %w", err)
	}

	replay, err := cron.NewReplayJob(cron.ReplayJobParams{
		Logger:     e.logg,
		Events:     e.Events,
		Processor:  e.Processor,
		Delay:      sched.ReplayDelay,
		MaxRetries: sched.ReplayMaxRetries,
		ItemDelay:  sched.ItemDelay,
		Limit:      sched.BatchLimit,
		Now:        e.now,
	})
	if err != nil {
		return nil, fmt.Errorf("replay job: %w", err)
	}

	return cron.NewRegistry(renewal, expiry, cancellation, replay), nil
}

// CronLock returns the Redis-backed cycle lock, or a no-op lock when Redis
// is disabled.
func (e *Engine) CronLock() (cron.Lock, error) {
	if e.redis == nil {
		return cron.NoopLock{}, nil
	}
	return cron.NewRedisLock(e.redis, e.redis.LockKey(cronLockScope, e.cfg.App.Env), e.cfg.Scheduler.LockTTL)
}

// NewCronService builds the scheduler with the registered jobs.
func (e *Engine) NewCronService() (*cron.Service, error) {
	registry, err := e.CronRegistry()
	if err != nil {
		return nil, err
	}
	lock, err := e.CronLock()
	if err != nil {
		return nil, fmt.Errorf("cron lock: %w", err)
	}
	return cron.NewService(cron.ServiceParams{
		Logger:   e.logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  e.CronMetrics,
		Interval: e.cfg.Scheduler.Interval,
	})
}
