package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Module provides application configuration. Load failures abort startup
// before any sync run begins.
var Module = fx.Provide(Load)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	// Prometheus scrape listener. Empty disables it.
	MetricsAddr string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	// SteVe OCPP backend.
	SteveBaseURL  string
	SteveAPIKey   string
	SteveIDPrefix string

	// Lago billing platform.
	LagoBaseURL        string
	LagoAPIKey         string
	LagoMetricCode     string
	LagoEventBatchSize int

	// Sync engine.
	SyncCron           string
	SyncRunOnStart     bool
	SyncLookbackWindow time.Duration

	// Redis backs the manual-trigger channel and the cross-instance run lock.
	// Empty address disables both.
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	TriggerChannel string
	RunLockTTL     time.Duration
}

var (
	ErrMissingSteveBaseURL = errors.New("STEVE_BASE_URL is required")
	ErrMissingLagoBaseURL  = errors.New("LAGO_BASE_URL is required")
	ErrMissingLagoAPIKey   = errors.New("LAGO_API_KEY is required")
)

// Load loads configuration from environment variables and .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "chargesync"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		MetricsAddr: strings.TrimSpace(getenv("METRICS_ADDR", ":9464")),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "chargesync"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 2),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 10),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),

		SteveBaseURL:  strings.TrimRight(getenv("STEVE_BASE_URL", ""), "/"),
		SteveAPIKey:   strings.TrimSpace(getenv("STEVE_API_KEY", "")),
		SteveIDPrefix: getenv("STEVE_ID_PREFIX", "steve"),

		LagoBaseURL:        strings.TrimRight(getenv("LAGO_BASE_URL", ""), "/"),
		LagoAPIKey:         strings.TrimSpace(getenv("LAGO_API_KEY", "")),
		LagoMetricCode:     getenv("LAGO_METRIC_CODE", "energy_kwh"),
		LagoEventBatchSize: getenvInt("LAGO_EVENT_BATCH_SIZE", 100),

		SyncCron:           getenv("SYNC_CRON", "*/5 * * * *"),
		SyncRunOnStart:     getenvBool("SYNC_RUN_ON_START", false),
		SyncLookbackWindow: time.Duration(getenvInt("SYNC_LOOKBACK_HOURS", 24)) * time.Hour,

		RedisAddr:      strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:  getenv("REDIS_PASSWORD", ""),
		RedisDB:        getenvInt("REDIS_DB", 0),
		TriggerChannel: getenv("SYNC_TRIGGER_CHANNEL", "chargesync:trigger"),
		RunLockTTL:     time.Duration(getenvInt("SYNC_RUN_LOCK_TTL_MINUTES", 30)) * time.Minute,
	}

	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.SteveBaseURL == "" {
		return ErrMissingSteveBaseURL
	}
	if c.LagoBaseURL == "" {
		return ErrMissingLagoBaseURL
	}
	if c.LagoAPIKey == "" {
		return ErrMissingLagoAPIKey
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}
