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
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
	Tier         TierConfig
	Ledger       LedgerConfig
	Referral     ReferralConfig
	Usage        UsageConfig
	Cron         CronConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Tier.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"LOYALTY_APP_ENV" required:"true"`
	Port         string `envconfig:"LOYALTY_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"LOYALTY_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"LOYALTY_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"LOYALTY_LOG_WARN_STACK" default:"false"`

	// CORSOrigins is a comma separated allow list for browser clients.
	CORSOrigins []string `envconfig:"LOYALTY_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"LOYALTY_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN string `envconfig:"LOYALTY_DB_DSN"`

	LegacyHost     string `envconfig:"LOYALTY_DB_HOST"`
	LegacyPort     int    `envconfig:"LOYALTY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"LOYALTY_DB_USER"`
	LegacyPassword string `envconfig:"LOYALTY_DB_PASSWORD"`
	LegacyName     string `envconfig:"LOYALTY_DB_NAME"`
	LegacySSLMode  string `envconfig:"LOYALTY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LOYALTY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LOYALTY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LOYALTY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LOYALTY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"LOYALTY_REDIS_URL"`
	Address      string        `envconfig:"LOYALTY_REDIS_ADDR"`
	Password     string        `envconfig:"LOYALTY_REDIS_PASSWORD"`
	DB           int           `envconfig:"LOYALTY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LOYALTY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LOYALTY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LOYALTY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LOYALTY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LOYALTY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret string `envconfig:"LOYALTY_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"LOYALTY_JWT_ISSUER" default:"loyalty-core"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"LOYALTY_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"LOYALTY_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"LOYALTY_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"LOYALTY_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"LOYALTY_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	LoyaltyTopic         string `envconfig:"LOYALTY_PUBSUB_LOYALTY_TOPIC" default:"loyalty-events"`
	NotificationTopic    string `envconfig:"LOYALTY_PUBSUB_NOTIFICATION_TOPIC" default:"loyalty-notifications"`
	ActivitySubscription string `envconfig:"LOYALTY_PUBSUB_ACTIVITY_SUBSCRIPTION" default:"loyalty-activity"`
}

type BigQueryConfig struct {
	Dataset       string `envconfig:"LOYALTY_BIGQUERY_DATASET" default:"loyalty"`
	ActivityTable string `envconfig:"LOYALTY_BIGQUERY_ACTIVITY_TABLE" default:"loyalty_activity"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"LOYALTY_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"LOYALTY_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"LOYALTY_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"LOYALTY_OUTBOX_RETENTION_DAYS" default:"30"`
}

// TierConfig holds the default tier policy. Tenants may override it with a tier_policies row.
type TierConfig struct {
	GracePeriodDays     int    `envconfig:"LOYALTY_TIER_GRACE_PERIOD_DAYS" default:"30"`
	EvaluationWindow    string `envconfig:"LOYALTY_TIER_EVALUATION_WINDOW" default:"MONTHLY"`
	DowngradeStrategy   string `envconfig:"LOYALTY_TIER_DOWNGRADE_STRATEGY" default:"GRACE_PERIOD"`
	MinTierDurationDays int    `envconfig:"LOYALTY_TIER_MIN_DURATION_DAYS" default:"0"`
	SweepBatchSize      int    `envconfig:"LOYALTY_TIER_SWEEP_BATCH_SIZE" default:"500"`
}

func (t TierConfig) validate() error {
	if t.GracePeriodDays < 0 {
		return fmt.Errorf("%s must be non-negative", EnvTierGracePeriodDays)
	}
	if t.MinTierDurationDays < 0 {
		return fmt.Errorf("tier min duration must be non-negative")
	}
	return nil
}

type LedgerConfig struct {
	ExpiringHorizonDays int `envconfig:"LOYALTY_LEDGER_EXPIRING_HORIZON_DAYS" default:"30"`
	ConcurrencyRetries  int `envconfig:"LOYALTY_LEDGER_CONCURRENCY_RETRIES" default:"3"`
	ExpirationBatchSize int `envconfig:"LOYALTY_LEDGER_EXPIRATION_BATCH_SIZE" default:"500"`
}

type ReferralConfig struct {
	BonusPoints           int64         `envconfig:"LOYALTY_REFERRAL_BONUS_POINTS" default:"100"`
	RewardOnFirstPurchase bool          `envconfig:"LOYALTY_REFERRAL_REWARD_ON_FIRST_PURCHASE" default:"true"`
	MaxPerMonth           int           `envconfig:"LOYALTY_REFERRAL_MAX_PER_MONTH" default:"50"`
	Cooldown              time.Duration `envconfig:"LOYALTY_REFERRAL_COOLDOWN" default:"24h"`
}

type UsageConfig struct {
	EnforceLimits      bool `envconfig:"LOYALTY_USAGE_ENFORCE_LIMITS" default:"false"`
	ReconcileBatchSize int  `envconfig:"LOYALTY_USAGE_RECONCILE_BATCH_SIZE" default:"200"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"LOYALTY_CRON_INTERVAL" default:"1h"`
	LockTTL  time.Duration `envconfig:"LOYALTY_CRON_LOCK_TTL" default:"55m"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `envconfig:"LOYALTY_RATE_LIMIT_RPS" default:"50"`
	Burst             int     `envconfig:"LOYALTY_RATE_LIMIT_BURST" default:"100"`

	// WindowLimit caps requests per tenant across all API replicas. Zero disables it.
	WindowLimit int64         `envconfig:"LOYALTY_RATE_LIMIT_WINDOW_LIMIT" default:"0"`
	Window      time.Duration `envconfig:"LOYALTY_RATE_LIMIT_WINDOW" default:"1m"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
