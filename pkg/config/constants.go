package config

const EnvPrefix = "REAPEARS"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	MediaBackendLocal = "local"
	MediaBackendGCS   = "gcs"

	ReaperShutdownWait    = "wait"
	ReaperShutdownAbandon = "abandon"
)

const (
	EnvAppEnv         = "REAPEARS_APP_ENV"
	EnvPort           = "REAPEARS_APP_PORT"
	EnvLogLevel       = "REAPEARS_LOG_LEVEL"
	EnvDBDSN          = "REAPEARS_DB_DSN"
	EnvDBDriver       = "REAPEARS_DB_DRIVER"
	EnvDBHost         = "REAPEARS_DB_HOST"
	EnvDBUser         = "REAPEARS_DB_USER"
	EnvDBName         = "REAPEARS_DB_NAME"
	EnvRedisURL       = "REAPEARS_REDIS_URL"
	EnvMediaBackend   = "REAPEARS_MEDIA_BACKEND"
	EnvMediaRoot      = "REAPEARS_MEDIA_ROOT"
	EnvGCSBucket      = "REAPEARS_GCS_BUCKET_NAME"
	EnvArchiveMaxAge  = "REAPEARS_ARCHIVE_MAX_AGE_DAYS"
	EnvReaperWorkers  = "REAPEARS_REAPER_WORKERS"
	EnvReaperShutdown = "REAPEARS_REAPER_SHUTDOWN_MODE"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
