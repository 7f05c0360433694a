package config

// EnvPrefix is handed to envconfig; every field carries an explicit tag so the prefix
// only matters for untagged additions.
const EnvPrefix = "LOYALTY"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "LOYALTY_APP_ENV"
	EnvPort     = "LOYALTY_APP_PORT"
	EnvLogLevel = "LOYALTY_LOG_LEVEL"

	EnvDBDSN  = "LOYALTY_DB_DSN"
	EnvDBHost = "LOYALTY_DB_HOST"
	EnvDBUser = "LOYALTY_DB_USER"
	EnvDBName = "LOYALTY_DB_NAME"

	EnvRedisURL = "LOYALTY_REDIS_URL"

	EnvJWTSecret = "LOYALTY_JWT_SECRET"
	EnvJWTIssuer = "LOYALTY_JWT_ISSUER"

	EnvGCPProjectID = "LOYALTY_GCP_PROJECT_ID"

	EnvPubSubLoyaltyTopic       = "LOYALTY_PUBSUB_LOYALTY_TOPIC"
	EnvPubSubActivitySub        = "LOYALTY_PUBSUB_ACTIVITY_SUBSCRIPTION"
	EnvPubSubNotificationTopic  = "LOYALTY_PUBSUB_NOTIFICATION_TOPIC"
	EnvTierGracePeriodDays      = "LOYALTY_TIER_GRACE_PERIOD_DAYS"
	EnvTierDowngradeStrategy    = "LOYALTY_TIER_DOWNGRADE_STRATEGY"
	EnvTierEvaluationWindow     = "LOYALTY_TIER_EVALUATION_WINDOW"
	EnvLedgerExpiringHorizon    = "LOYALTY_LEDGER_EXPIRING_HORIZON_DAYS"
	EnvLedgerConcurrencyRetries = "LOYALTY_LEDGER_CONCURRENCY_RETRIES"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
