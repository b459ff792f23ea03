package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	Identity      IdentityConfig
	AuthRateLimit AuthRateLimitConfig
	FeatureFlags  FeatureFlagsConfig
	Settlement    SettlementConfig
	Outbox        OutboxConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	Cron          CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CREDITSHARE_APP_ENV" required:"true"`
	Port         string `envconfig:"CREDITSHARE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"CREDITSHARE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CREDITSHARE_LOG_WARN_STACK" default:"false"`
	FrontendURL  string `envconfig:"CREDITSHARE_FRONTEND_URL" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"CREDITSHARE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CREDITSHARE_DB_DSN"`
	Driver string `envconfig:"CREDITSHARE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CREDITSHARE_DB_HOST"`
	LegacyPort     int    `envconfig:"CREDITSHARE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CREDITSHARE_DB_USER"`
	LegacyPassword string `envconfig:"CREDITSHARE_DB_PASSWORD"`
	LegacyName     string `envconfig:"CREDITSHARE_DB_NAME"`
	LegacySSLMode  string `envconfig:"CREDITSHARE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CREDITSHARE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CREDITSHARE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CREDITSHARE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CREDITSHARE_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// SlowQueryThreshold logs statements slower than this; 0 disables.
	SlowQueryThreshold time.Duration `envconfig:"CREDITSHARE_DB_SLOW_QUERY_THRESHOLD" default:"250ms"`
}

// IsSQLite reports whether the sqlite driver was selected.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"CREDITSHARE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CREDITSHARE_REDIS_ADDR"`
	Password     string        `envconfig:"CREDITSHARE_REDIS_PASSWORD"`
	DB           int           `envconfig:"CREDITSHARE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CREDITSHARE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CREDITSHARE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CREDITSHARE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CREDITSHARE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CREDITSHARE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// IdentityConfig describes how tokens minted by the identity provider are verified.
type IdentityConfig struct {
	Secret    string        `envconfig:"CREDITSHARE_IDENTITY_SECRET" required:"true"`
	Issuer    string        `envconfig:"CREDITSHARE_IDENTITY_ISSUER" required:"true"`
	Audience  string        `envconfig:"CREDITSHARE_IDENTITY_AUDIENCE"`
	ClockSkew time.Duration `envconfig:"CREDITSHARE_IDENTITY_CLOCK_SKEW" default:"30s"`
}

// AuthRateLimitConfig throttles POST /api/v1/auth/sync per client IP and per email.
type AuthRateLimitConfig struct {
	SyncWindow     time.Duration `envconfig:"CREDITSHARE_AUTH_SYNC_WINDOW" default:"1m"`
	SyncIPLimit    int           `envconfig:"CREDITSHARE_AUTH_SYNC_IP_LIMIT" default:"30"`
	SyncEmailLimit int           `envconfig:"CREDITSHARE_AUTH_SYNC_EMAIL_LIMIT" default:"10"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"CREDITSHARE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"CREDITSHARE_AUTO_MIGRATE" default:"false"`
}

type SettlementConfig struct {
	Timeout time.Duration `envconfig:"CREDITSHARE_SETTLEMENT_TIMEOUT" default:"10s"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"CREDITSHARE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"CREDITSHARE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"CREDITSHARE_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

// GCPConfig falls back to application default credentials when neither
// credential source is set. PUBSUB_EMULATOR_HOST is honoured by the client.
type GCPConfig struct {
	ProjectID              string `envconfig:"CREDITSHARE_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"CREDITSHARE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"CREDITSHARE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	ReferralTopic string `envconfig:"CREDITSHARE_PUBSUB_REFERRAL_TOPIC" default:"cs-referral-events"`
	PurchaseTopic string `envconfig:"CREDITSHARE_PUBSUB_PURCHASE_TOPIC" default:"cs-purchase-events"`
}

type CronConfig struct {
	Interval            time.Duration `envconfig:"CREDITSHARE_CRON_INTERVAL" default:"1h"`
	LockTTL             time.Duration `envconfig:"CREDITSHARE_CRON_LOCK_TTL" default:"55m"`
	OutboxRetentionDays int           `envconfig:"CREDITSHARE_CRON_OUTBOX_RETENTION_DAYS" default:"30"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if useSQLite {
		db.Driver = DriverSQLite
		if db.DSN == "" {
			db.DSN = defaultSQLiteDSN
		}
		return nil
	}
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
