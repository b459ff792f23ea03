package config

// EnvPrefix is handed to envconfig; every field carries its full variable name.
const EnvPrefix = "CREDITSHARE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	defaultSQLiteDSN = "file:creditshare.db?_busy_timeout=5000&_foreign_keys=on"
)

const (
	EnvAppEnv         = "CREDITSHARE_APP_ENV"
	EnvPort           = "CREDITSHARE_APP_PORT"
	EnvLogLevel       = "CREDITSHARE_LOG_LEVEL"
	EnvFrontendURL    = "CREDITSHARE_FRONTEND_URL"
	EnvDBDSN          = "CREDITSHARE_DB_DSN"
	EnvDBHost         = "CREDITSHARE_DB_HOST"
	EnvDBPort         = "CREDITSHARE_DB_PORT"
	EnvDBUser         = "CREDITSHARE_DB_USER"
	EnvDBPassword     = "CREDITSHARE_DB_PASSWORD"
	EnvDBName         = "CREDITSHARE_DB_NAME"
	EnvDBSSLMode      = "CREDITSHARE_DB_SSLMODE"
	EnvRedisURL       = "CREDITSHARE_REDIS_URL"
	EnvIdentitySecret = "CREDITSHARE_IDENTITY_SECRET"
	EnvIdentityIssuer = "CREDITSHARE_IDENTITY_ISSUER"
	EnvUseSQLite      = "CREDITSHARE_USE_SQLITE"
	EnvSettleTimeout  = "CREDITSHARE_SETTLEMENT_TIMEOUT"
	EnvGCPProjectID   = "CREDITSHARE_GCP_PROJECT_ID"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
