package config

import (
	"strings"
	"time"
)

// Config holds runtime configuration for the telemetry service. Every knob
// is environment-driven so deployments tune the pipeline without code
// changes.
type Config struct {
	Environment   string
	LogLevel      string
	Addr          string
	DatabaseURL   string
	MigrationsDir string
	JWTSecret     string

	QueueCapacity      int
	QueueBatchSize     int
	QueueFlushInterval time.Duration
	QueueMaxRetries    int
	ShutdownGrace      time.Duration

	HealthProbeInterval time.Duration
	MetricsEmitInterval time.Duration
	WindowHorizons      []string
	DefaultHorizon      string
	PollInterval        time.Duration

	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// Load constructs a Config from environment variables.
func Load() Config {
	return Config{
		Environment:   GetString("APP_ENV", "development"),
		LogLevel:      GetString("LOG_LEVEL", "info"),
		Addr:          GetString("TELEMETRY_ADDR", ":4500"),
		DatabaseURL:   GetString("DATABASE_URL", "postgres://telemetry:telemetry@db:5432/telemetry?sslmode=disable"),
		MigrationsDir: GetString("DB_MIGRATIONS_DIR", "./db/migrations"),
		JWTSecret:     GetString("JWT_SECRET", "supersecuresecret"),

		QueueCapacity:      GetInt("QUEUE_CAPACITY", 10000),
		QueueBatchSize:     GetInt("QUEUE_BATCH_SIZE", 100),
		QueueFlushInterval: time.Duration(GetInt("QUEUE_FLUSH_MS", 1000)) * time.Millisecond,
		QueueMaxRetries:    GetInt("QUEUE_MAX_RETRIES", 3),
		ShutdownGrace:      time.Duration(GetInt("SHUTDOWN_GRACE_SECONDS", 5)) * time.Second,

		HealthProbeInterval: time.Duration(GetInt("HEALTH_PROBE_SECONDS", 30)) * time.Second,
		MetricsEmitInterval: time.Duration(GetInt("METRICS_EMIT_SECONDS", 5)) * time.Second,
		WindowHorizons:      splitList(GetString("METRIC_WINDOWS", "1h,24h,7d")),
		DefaultHorizon:      GetString("METRIC_DEFAULT_WINDOW", "1h"),
		PollInterval:        time.Duration(GetInt("POLL_FALLBACK_SECONDS", 15)) * time.Second,

		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
