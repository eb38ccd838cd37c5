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
	HTTPAddr    string
	LogLevel    string

	DefaultPlanCode string

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

	Mpesa MpesaConfig
	Redis RedisConfig
	Email EmailConfig

	Scheduler SchedulerConfig
}

// MpesaConfig configures the Daraja gateway client. Consumer credentials here are
// the platform-wide fallback; tenants may carry their own paybill credentials.
type MpesaConfig struct {
	BaseURL         string
	ConsumerKey     string
	ConsumerSecret  string
	ShortCode       string
	Passkey         string
	CallbackBaseURL string
	RequestTimeout  time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Enabled  bool
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

// SchedulerConfig carries the sweep/expiry knobs read from the environment.
// Zero values fall back to the scheduler package defaults.
type SchedulerConfig struct {
	RunInterval     time.Duration
	BatchSize       int
	StuckAfter      time.Duration
	RetentionWindow time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:         getenv("APP_SERVICE", "dukapos"),
		AppVersion:      getenv("APP_VERSION", "0.1.0"),
		Environment:     getenv("ENVIRONMENT", "development"),
		HTTPAddr:        getenv("HTTP_ADDR", ":8080"),
		LogLevel:        strings.ToLower(getenv("LOG_LEVEL", "info")),
		DefaultPlanCode: getenv("DEFAULT_PLAN_CODE", "free"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "dukapos"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),

		Mpesa: MpesaConfig{
			BaseURL:         getenv("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke"),
			ConsumerKey:     strings.TrimSpace(getenv("MPESA_CONSUMER_KEY", "")),
			ConsumerSecret:  strings.TrimSpace(getenv("MPESA_CONSUMER_SECRET", "")),
			ShortCode:       strings.TrimSpace(getenv("MPESA_SHORTCODE", "")),
			Passkey:         strings.TrimSpace(getenv("MPESA_PASSKEY", "")),
			CallbackBaseURL: strings.TrimRight(getenv("MPESA_CALLBACK_BASE_URL", ""), "/"),
			RequestTimeout:  getenvDuration("MPESA_REQUEST_TIMEOUT", 30*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", ""),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
			Enabled:  strings.TrimSpace(getenv("REDIS_ADDR", "")) != "",
		},
		Email: EmailConfig{
			SMTPHost:     getenv("SMTP_HOST", ""),
			SMTPPort:     getenvInt("SMTP_PORT", 587),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "billing@dukapos.africa"),
		},
		Scheduler: SchedulerConfig{
			RunInterval:     getenvDuration("SCHEDULER_RUN_INTERVAL", 0),
			BatchSize:       getenvInt("SCHEDULER_BATCH_SIZE", 0),
			StuckAfter:      getenvDuration("SCHEDULER_STUCK_AFTER", 0),
			RetentionWindow: getenvDuration("SCHEDULER_RETENTION_WINDOW", 0),
		},
	}
}

func getenv(key, def string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return def
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

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
