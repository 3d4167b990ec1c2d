package config

import (
	"log"
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

	HTTPAddr string

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

	RedisAddr     string
	RedisPassword string

	StripeSecretKey string
	PlatformFeeBPS  int64

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	SMSEndpoint  string
	SMSAuthToken string

	DispatchToken string

	Dispatcher DispatcherConfig
}

// DispatcherConfig controls the notification dispatch worker.
type DispatcherConfig struct {
	RunInterval        time.Duration
	BatchSize          int
	MaxAttempts        int
	RetryBase          time.Duration
	StalenessThreshold time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "tithi"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		LogLevel:    getenv("LOG_LEVEL", "info"),

		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "tithi"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),

		StripeSecretKey: strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
		PlatformFeeBPS:  int64(getenvInt("PLATFORM_FEE_BPS", 100)),

		SMTPHost:     getenv("SMTP_HOST", ""),
		SMTPPort:     getenvInt("SMTP_PORT", 587),
		SMTPUsername: getenv("SMTP_USERNAME", ""),
		SMTPPassword: getenv("SMTP_PASSWORD", ""),
		SMTPFrom:     getenv("SMTP_FROM", "noreply@tithi.app"),

		SMSEndpoint:  strings.TrimSpace(getenv("SMS_ENDPOINT", "")),
		SMSAuthToken: strings.TrimSpace(getenv("SMS_AUTH_TOKEN", "")),

		DispatchToken: strings.TrimSpace(getenv("DISPATCH_TOKEN", "")),

		Dispatcher: DispatcherConfig{
			RunInterval:        getenvDuration("DISPATCHER_RUN_INTERVAL", time.Minute),
			BatchSize:          getenvInt("DISPATCHER_BATCH_SIZE", 50),
			MaxAttempts:        getenvInt("DISPATCHER_MAX_ATTEMPTS", 3),
			RetryBase:          getenvDuration("DISPATCHER_RETRY_BASE", 30*time.Minute),
			StalenessThreshold: getenvDuration("DISPATCHER_STALENESS_THRESHOLD", 15*time.Minute),
		},
	}
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid int for %s: %q, using default %d", key, raw, fallback)
		return fallback
	}
	return v
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid duration for %s: %q, using default %s", key, raw, fallback)
		return fallback
	}
	return v
}
