package config

const EnvPrefix = "PUTTLAB"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const DriverSQLite = "sqlite"

const (
	EnvAppEnv        = "PUTTLAB_APP_ENV"
	EnvPort          = "PUTTLAB_APP_PORT"
	EnvDBDSN         = "PUTTLAB_DB_DSN"
	EnvDBHost        = "PUTTLAB_DB_HOST"
	EnvDBUser        = "PUTTLAB_DB_USER"
	EnvDBName        = "PUTTLAB_DB_NAME"
	EnvDBPassword    = "PUTTLAB_DB_PASSWORD"
	EnvRedisURL      = "PUTTLAB_REDIS_URL"
	EnvUseSQLite     = "PUTTLAB_USE_SQLITE"
	EnvProviderURL   = "PUTTLAB_PROVIDER_BASE_URL"
	EnvProviderKey   = "PUTTLAB_PROVIDER_API_KEY"
	EnvWebhookSecret = "PUTTLAB_WEBHOOK_SECRET"
	EnvCronSecret    = "PUTTLAB_SCHEDULER_SECRET"
	EnvLookahead     = "PUTTLAB_RENEWAL_LOOKAHEAD"
)

var discreteDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
