package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	LogLevel    string
	NodeID      int64

	HTTPAddr string

	LogFormat string

	OTLPEndpoint      string
	OTLPProtocol      string
	OTelEnabled       bool
	OTelSamplingRatio float64
	Metrics           MetricsConfig

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
	DBAutoMigrate     bool

	Redis     RedisConfig
	OSCU      OSCUConfig
	RateLimit RateLimitConfig

	Scheduler SchedulerConfig
}

type MetricsConfig struct {
	Enabled  bool
	Exporter string
	Endpoint string
	Interval time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a redis address was configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

// RateLimitConfig bounds how fast one merchant may push documents through
// the API. It needs redis.
type RateLimitConfig struct {
	Enabled       bool
	MerchantRate  float64
	MerchantBurst int
}

type OSCUConfig struct {
	// Adapter selects the regulator transport: "http" or "stub".
	Adapter           string
	SandboxBaseURL    string
	ProductionBaseURL string
	Timeout           time.Duration
}

type SchedulerConfig struct {
	Enabled          bool
	Jobs             []string
	RunInterval      time.Duration
	BatchSize        int
	Concurrency      int
	RecoveryAfter    time.Duration
	StuckAfter       time.Duration
	RetryBackoff     time.Duration
	JobLockTTL       time.Duration
	JobTimeout       time.Duration
	DisableRedisLock bool
}

const (
	AdapterHTTP = "http"
	AdapterStub = "stub"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "etimsbridge"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: environment,
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		NodeID:      getenvInt64("SNOWFLAKE_NODE_ID", 1),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		LogFormat:   strings.ToLower(getenv("LOG_FORMAT", "json")),
		// the standard OTEL_EXPORTER_OTLP_* variables win over the short forms
		OTLPEndpoint:      getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "")),
		OTLPProtocol:      strings.ToLower(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", getenv("OTLP_PROTOCOL", "grpc"))),
		OTelEnabled:       getenvBool("OTEL_ENABLED", true),
		OTelSamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		Metrics: MetricsConfig{
			Enabled:  getenvBool("METRICS_ENABLED", true),
			Exporter: strings.ToLower(getenv("METRICS_EXPORTER", "")),
			Endpoint: strings.TrimSpace(getenv("METRICS_ENDPOINT", "")),
			Interval: getenvDuration("METRICS_INTERVAL", 30*time.Second),
		},
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "etimsbridge"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 5)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 20)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", true),
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       int(getenvInt64("REDIS_DB", 0)),
		},
		OSCU: OSCUConfig{
			Adapter:           normalizeAdapter(getenv("OSCU_ADAPTER", defaultAdapter(environment))),
			SandboxBaseURL:    strings.TrimSpace(getenv("OSCU_SANDBOX_BASE_URL", "")),
			ProductionBaseURL: strings.TrimSpace(getenv("OSCU_PRODUCTION_BASE_URL", "")),
			Timeout:           getenvDuration("OSCU_TIMEOUT", 30*time.Second),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getenvBool("RATE_LIMIT_ENABLED", false),
			MerchantRate:  getenvFloat("RATE_LIMIT_MERCHANT_RATE", 10),
			MerchantBurst: int(getenvInt64("RATE_LIMIT_MERCHANT_BURST", 20)),
		},
		Scheduler: SchedulerConfig{
			Enabled:          getenvBool("SCHEDULER_ENABLED", true),
			Jobs:             parseList(getenv("SCHEDULER_JOBS", "")),
			RunInterval:      getenvDuration("SCHEDULER_RUN_INTERVAL", time.Minute),
			BatchSize:        int(getenvInt64("SCHEDULER_BATCH_SIZE", 50)),
			Concurrency:      int(getenvInt64("SCHEDULER_CONCURRENCY", 4)),
			RecoveryAfter:    getenvDuration("SCHEDULER_RECOVERY_AFTER", 5*time.Minute),
			StuckAfter:       getenvDuration("SCHEDULER_STUCK_AFTER", 15*time.Minute),
			RetryBackoff:     getenvDuration("SCHEDULER_RETRY_BACKOFF", 30*time.Second),
			JobLockTTL:       getenvDuration("SCHEDULER_JOB_LOCK_TTL", 2*time.Minute),
			JobTimeout:       getenvDuration("SCHEDULER_JOB_TIMEOUT", time.Minute),
			DisableRedisLock: getenvBool("SCHEDULER_DISABLE_REDIS_LOCK", false),
		},
	}

	return cfg
}

// IsProduction reports whether the service runs against production.
func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func defaultAdapter(environment string) string {
	if environment == "development" || environment == "test" {
		return AdapterStub
	}
	return AdapterHTTP
}

func normalizeAdapter(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case AdapterStub:
		return AdapterStub
	default:
		return AdapterHTTP
	}
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

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
