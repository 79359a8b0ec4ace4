package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Provider     ProviderConfig
	Webhook      WebhookConfig
	Scheduler    SchedulerConfig
	Admin        AdminConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Webhook.validate(cfg.App); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PUTTLAB_APP_ENV" required:"true"`
	Port         string `envconfig:"PUTTLAB_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"PUTTLAB_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PUTTLAB_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev) || strings.EqualFold(a.Env, "development")
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"PUTTLAB_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"PUTTLAB_DB_DSN"`
	Driver string `envconfig:"PUTTLAB_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"PUTTLAB_DB_HOST"`
	Port     int    `envconfig:"PUTTLAB_DB_PORT" default:"5432"`
	User     string `envconfig:"PUTTLAB_DB_USER"`
	Password string `envconfig:"PUTTLAB_DB_PASSWORD"`
	Name     string `envconfig:"PUTTLAB_DB_NAME"`
	SSLMode  string `envconfig:"PUTTLAB_DB_SSLMODE" default:"disable"`

	SQLitePath string `envconfig:"PUTTLAB_SQLITE_PATH" default:"puttlab.db"`

	MaxOpenConns    int           `envconfig:"PUTTLAB_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PUTTLAB_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PUTTLAB_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PUTTLAB_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// RedisConfig is optional: without a URL or address the services run with a
// no-op scheduler lock and no event fan-out.
type RedisConfig struct {
	URL          string        `envconfig:"PUTTLAB_REDIS_URL"`
	Address      string        `envconfig:"PUTTLAB_REDIS_ADDR"`
	Password     string        `envconfig:"PUTTLAB_REDIS_PASSWORD"`
	DB           int           `envconfig:"PUTTLAB_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PUTTLAB_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PUTTLAB_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PUTTLAB_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PUTTLAB_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PUTTLAB_REDIS_WRITE_TIMEOUT" default:"5s"`
	EventChannel string        `envconfig:"PUTTLAB_REDIS_EVENT_CHANNEL" default:"subscription-events"`
}

// Enabled reports whether a Redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type ProviderConfig struct {
	BaseURL     string        `envconfig:"PUTTLAB_PROVIDER_BASE_URL" default:"https://api.payments.example.com"`
	APIKey      string        `envconfig:"PUTTLAB_PROVIDER_API_KEY"`
	Timeout     time.Duration `envconfig:"PUTTLAB_PROVIDER_TIMEOUT" default:"10s"`
	MaxRetries  uint64        `envconfig:"PUTTLAB_PROVIDER_MAX_RETRIES" default:"3"`
	BaseBackoff time.Duration `envconfig:"PUTTLAB_PROVIDER_BASE_BACKOFF" default:"1s"`
	MaxJitter   time.Duration `envconfig:"PUTTLAB_PROVIDER_MAX_JITTER" default:"1s"`
	Currency    string        `envconfig:"PUTTLAB_PROVIDER_CURRENCY" default:"USD"`
}

type WebhookConfig struct {
	Secret          string        `envconfig:"PUTTLAB_WEBHOOK_SECRET"`
	SignatureHeader string        `envconfig:"PUTTLAB_WEBHOOK_SIGNATURE_HEADER" default:"X-Provider-Signature"`
	MaxBodyBytes    int64         `envconfig:"PUTTLAB_WEBHOOK_MAX_BODY_BYTES" default:"1048576"`
	Workers         int64         `envconfig:"PUTTLAB_WEBHOOK_WORKERS" default:"8"`
	ProcessTimeout  time.Duration `envconfig:"PUTTLAB_WEBHOOK_PROCESS_TIMEOUT" default:"30s"`
}

// A missing secret is only a hard failure in production; elsewhere the
// verifier bypasses with a warning on every request.
func (w WebhookConfig) validate(app AppConfig) error {
	if app.IsProd() && strings.TrimSpace(w.Secret) == "" {
		return fmt.Errorf("%s is required in production", EnvWebhookSecret)
	}
	return nil
}

type SchedulerConfig struct {
	Interval         time.Duration `envconfig:"PUTTLAB_SCHEDULER_INTERVAL" default:"1h"`
	Secret           string        `envconfig:"PUTTLAB_SCHEDULER_SECRET"`
	RenewalLookahead time.Duration `envconfig:"PUTTLAB_RENEWAL_LOOKAHEAD" default:"72h"`
	ItemDelay        time.Duration `envconfig:"PUTTLAB_SWEEP_ITEM_DELAY" default:"250ms"`
	PastDueGrace     time.Duration `envconfig:"PUTTLAB_PAST_DUE_GRACE" default:"168h"`
	BatchLimit       int           `envconfig:"PUTTLAB_SWEEP_BATCH_LIMIT" default:"500"`
	ReplayDelay      time.Duration `envconfig:"PUTTLAB_REPLAY_DELAY" default:"5m"`
	ReplayMaxRetries int           `envconfig:"PUTTLAB_REPLAY_MAX_RETRIES" default:"10"`
	LockTTL          time.Duration `envconfig:"PUTTLAB_SCHEDULER_LOCK_TTL" default:"55m"`
}

type AdminConfig struct {
	Secret string `envconfig:"PUTTLAB_ADMIN_SECRET"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"PUTTLAB_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"PUTTLAB_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if useSQLite {
		db.Driver = DriverSQLite
	}
	if db.DSN != "" || strings.EqualFold(db.Driver, DriverSQLite) {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range discreteDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
