package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App     AppConfig
	Service ServiceConfig
	DB      DBConfig
	Redis   RedisConfig
	Media   MediaConfig
	GCP     GCPConfig
	Archive ArchiveConfig
	Reaper  ReaperConfig
	Cron    CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks numeric ranges and enumerations the env parser cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return nil
}

type AppConfig struct {
	Env            string        `envconfig:"REAPEARS_APP_ENV" required:"true"`
	Port           string        `envconfig:"REAPEARS_APP_PORT" required:"true"`
	LogLevel       string        `envconfig:"REAPEARS_LOG_LEVEL" default:"info"`
	LogWarnStack   bool          `envconfig:"REAPEARS_LOG_WARN_STACK" default:"false"`
	RequestTimeout time.Duration `envconfig:"REAPEARS_REQUEST_TIMEOUT" default:"30s"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"REAPEARS_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"REAPEARS_DB_DSN"`
	Driver string `envconfig:"REAPEARS_DB_DRIVER" default:"postgres" validate:"oneof=postgres sqlite"`

	LegacyHost     string `envconfig:"REAPEARS_DB_HOST"`
	LegacyPort     int    `envconfig:"REAPEARS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"REAPEARS_DB_USER"`
	LegacyPassword string `envconfig:"REAPEARS_DB_PASSWORD"`
	LegacyName     string `envconfig:"REAPEARS_DB_NAME"`
	LegacySSLMode  string `envconfig:"REAPEARS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"REAPEARS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"REAPEARS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"REAPEARS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"REAPEARS_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	AutoMigrate bool `envconfig:"REAPEARS_DB_AUTO_MIGRATE" default:"false"`
}

// IsSQLite reports whether the sqlite driver was selected.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(db.Driver, DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"REAPEARS_REDIS_URL"`
	Address      string        `envconfig:"REAPEARS_REDIS_ADDR"`
	Password     string        `envconfig:"REAPEARS_REDIS_PASSWORD"`
	DB           int           `envconfig:"REAPEARS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"REAPEARS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"REAPEARS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"REAPEARS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"REAPEARS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"REAPEARS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// MediaConfig locates the stored image renditions.
type MediaConfig struct {
	Backend       string   `envconfig:"REAPEARS_MEDIA_BACKEND" default:"local" validate:"oneof=local gcs"`
	Root          string   `envconfig:"REAPEARS_MEDIA_ROOT" default:"static/media/uploads"`
	HarvestDir    string   `envconfig:"REAPEARS_MEDIA_HARVEST_DIR" default:"harvest" validate:"required"`
	FarmLogoDir   string   `envconfig:"REAPEARS_MEDIA_FARM_LOGO_DIR" default:"farm_logo" validate:"required"`
	ImageFormats  []string `envconfig:"REAPEARS_MEDIA_IMAGE_FORMATS" default:"jpg,webp" validate:"min=1,dive,required"`
	GCSBucketName string   `envconfig:"REAPEARS_GCS_BUCKET_NAME" validate:"required_if=Backend gcs"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"REAPEARS_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"REAPEARS_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"REAPEARS_GOOGLE_APPLICATION_CREDENTIALS"`
}

// ArchiveConfig holds the age policy threshold.
type ArchiveConfig struct {
	MaxAgeDays int `envconfig:"REAPEARS_ARCHIVE_MAX_AGE_DAYS" default:"4" validate:"min=1,max=3650"`
}

// MaxAge returns the archive window as a duration.
func (a ArchiveConfig) MaxAge() time.Duration {
	return time.Duration(a.MaxAgeDays) * 24 * time.Hour
}

// ReaperConfig sizes the deferred image cleanup queue.
type ReaperConfig struct {
	Workers         int           `envconfig:"REAPEARS_REAPER_WORKERS" default:"2" validate:"min=1,max=64"`
	QueueSize       int           `envconfig:"REAPEARS_REAPER_QUEUE_SIZE" default:"256" validate:"min=1"`
	Parallelism     int           `envconfig:"REAPEARS_REAPER_PARALLELISM" default:"8" validate:"min=1,max=256"`
	ShutdownMode    string        `envconfig:"REAPEARS_REAPER_SHUTDOWN_MODE" default:"wait" validate:"oneof=wait abandon"`
	ShutdownTimeout time.Duration `envconfig:"REAPEARS_REAPER_SHUTDOWN_TIMEOUT" default:"15s"`
}

// CronConfig configures the cron worker and its orphan sweep.
type CronConfig struct {
	Interval          time.Duration `envconfig:"REAPEARS_CRON_INTERVAL" default:"24h"`
	OrphanSweep       bool          `envconfig:"REAPEARS_CRON_ORPHAN_SWEEP" default:"false"`
	OrphanGrace       time.Duration `envconfig:"REAPEARS_CRON_ORPHAN_GRACE" default:"24h"`
	OrphanSweepDryRun bool          `envconfig:"REAPEARS_CRON_ORPHAN_SWEEP_DRY_RUN" default:"true"`
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
