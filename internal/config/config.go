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
	InstanceID  string
	HTTPAddr    string

	OTLPEndpoint string

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

	Redis      RedisConfig
	Mux        MuxConfig
	Anonymizer AnonymizerConfig
	Metrics    MetricsPushConfig
	RateLimit  RateLimitConfig
	Bootstrap  BootstrapConfig
	Scheduler  SchedulerConfig

	// EnabledJobs restricts the scheduler to the named jobs. Empty means all.
	EnabledJobs []string
}

// RedisConfig is optional. An empty Addr disables dedup markers, the
// sweeper lock and upload rate limiting.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MuxConfig configures the encoding/streaming provider.
type MuxConfig struct {
	BaseURL         string
	TokenID         string
	TokenSecret     string
	WebhookSecret   string
	PlaybackBaseURL string
	CORSOrigin      string
	RequestTimeout  time.Duration
}

// AnonymizerConfig configures the content anonymization provider.
type AnonymizerConfig struct {
	BaseURL        string
	APIKey         string
	WebhookSecret  string
	CallbackURL    string
	RequestTimeout time.Duration
}

type MetricsPushConfig struct {
	Enabled   bool
	Exporter  string
	Endpoint  string
	AuthToken string
}

type RateLimitConfig struct {
	UploadDriverRate  float64
	UploadDriverBurst int
}

// SchedulerConfig tunes the background recovery and health jobs.
type SchedulerConfig struct {
	RunInterval  time.Duration
	SweepTimeout time.Duration
	LockTTL      time.Duration
	SignalWindow time.Duration
}

type BootstrapConfig struct {
	OperatorKey     string
	OperatorKeyName string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "dashvault"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		InstanceID:   strings.TrimSpace(getenv("INSTANCE_ID", hostname())),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "dashvault"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Mux: MuxConfig{
			BaseURL:         strings.TrimRight(getenv("MUX_API_BASE_URL", "https://api.mux.com"), "/"),
			TokenID:         strings.TrimSpace(getenv("MUX_TOKEN_ID", "")),
			TokenSecret:     strings.TrimSpace(getenv("MUX_TOKEN_SECRET", "")),
			WebhookSecret:   strings.TrimSpace(getenv("MUX_WEBHOOK_SECRET", "")),
			PlaybackBaseURL: strings.TrimRight(getenv("MUX_PLAYBACK_BASE_URL", "https://stream.mux.com"), "/"),
			CORSOrigin:      strings.TrimSpace(getenv("MUX_CORS_ORIGIN", "*")),
			RequestTimeout:  getenvDuration("MUX_REQUEST_TIMEOUT", 10*time.Second),
		},
		Anonymizer: AnonymizerConfig{
			BaseURL:        strings.TrimRight(getenv("ANONYMIZER_API_BASE_URL", ""), "/"),
			APIKey:         strings.TrimSpace(getenv("ANONYMIZER_API_KEY", "")),
			WebhookSecret:  strings.TrimSpace(getenv("ANONYMIZER_WEBHOOK_SECRET", "")),
			CallbackURL:    strings.TrimSpace(getenv("ANONYMIZER_CALLBACK_URL", "")),
			RequestTimeout: getenvDuration("ANONYMIZER_REQUEST_TIMEOUT", 15*time.Second),
		},
		Metrics: MetricsPushConfig{
			Enabled:   getenvBool("METRICS_PUSH_ENABLED", false),
			Exporter:  strings.ToLower(getenv("METRICS_PUSH_EXPORTER", "")),
			Endpoint:  strings.TrimSpace(getenv("METRICS_PUSH_ENDPOINT", "")),
			AuthToken: strings.TrimSpace(getenv("METRICS_PUSH_AUTH_TOKEN", "")),
		},
		RateLimit: RateLimitConfig{
			UploadDriverRate:  getenvFloat("UPLOAD_DRIVER_RATE", 0.2),
			UploadDriverBurst: getenvInt("UPLOAD_DRIVER_BURST", 5),
		},
		Bootstrap: BootstrapConfig{
			OperatorKey:     strings.TrimSpace(getenv("BOOTSTRAP_OPERATOR_KEY", "")),
			OperatorKeyName: getenv("BOOTSTRAP_OPERATOR_KEY_NAME", "bootstrap"),
		},
		Scheduler: SchedulerConfig{
			RunInterval:  getenvDuration("SCHEDULER_RUN_INTERVAL", time.Minute),
			SweepTimeout: getenvDuration("SCHEDULER_SWEEP_TIMEOUT", 5*time.Minute),
			LockTTL:      getenvDuration("SCHEDULER_LOCK_TTL", 10*time.Minute),
			SignalWindow: getenvDuration("SCHEDULER_SIGNAL_WINDOW", 24*time.Hour),
		},
		EnabledJobs: parseList(getenv("SCHEDULER_ENABLED_JOBS", "")),
	}

	return cfg
}

// IsProduction reports whether the deployment is production.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

// AnonymizerEnabled reports whether provider B is configured.
func (c Config) AnonymizerEnabled() bool {
	return c.Anonymizer.BaseURL != "" && c.Anonymizer.APIKey != ""
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
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
