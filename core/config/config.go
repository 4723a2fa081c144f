package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"basegraph.app/chorus/core/db"
)

type Config struct {
	OTel          OTelConfig
	Pipeline      PipelineConfig
	PrimaryLLM    LLMConfig
	DirectLLM     LLMConfig
	ClassifierLLM LLMConfig
	Notify        NotifyConfig
	Worker        WorkerConfig
	Env           string
	Port          string
	APIKey        string // Optional: required on /api/v1 when set
	APIRateLimit  int    // Requests per minute per client IP; 0 disables
	Debug         bool
	DB            db.Config
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
	Environment    string
	SampleRatio    float64 // fraction of root spans kept; child spans follow the parent
}

type PipelineConfig struct {
	RedisURL        string
	RedisStream     string
	RedisGroup      string
	RedisDLQStream  string
	RedisConsumer   string
	TraceHeaderName string
}

type LLMConfig struct {
	Provider  string // "openai" or "anthropic"
	APIKey    string
	BaseURL   string // Optional: OpenAI-compatible gateways
	Model     string
	MaxTokens int
}

type NotifyConfig struct {
	Channel    string // Redis pub/sub channel for delivered segments
	WebhookURL string // Optional: push gateway receiving a POST per segment
}

type WorkerConfig struct {
	NodeID         int64
	AdminPort      string
	TuningFile     string
	MaxAttempts    int
	RecoveryLock   string
	ReclaimMinIdle time.Duration
	ReclaimEvery   time.Duration
	EntityCache    int
}

type ServiceType string

const (
	ServiceTypeServer ServiceType = "server"
	ServiceTypeWorker ServiceType = "worker"
)

// Load loads configuration from environment variables.
// In development, it loads from service-specific .env files:
//   - .env.server for the API server
//   - .env.worker for the engine worker
//
// Falls back to .env if service-specific file doesn't exist.
func Load(serviceType ServiceType) (Config, error) {
	env := getEnv("CHORUS_ENV", "development")
	if env == "development" {
		envFile := fmt.Sprintf(".env.%s", serviceType)
		if err := godotenv.Load(envFile); err != nil {
			_ = godotenv.Load(".env")
		}
	}

	cfg := Config{
		Env:          env,
		Port:         getEnv("PORT", "8080"),
		APIKey:       getEnv("CHORUS_API_KEY", ""),
		APIRateLimit: getEnvInt("CHORUS_API_RATE_LIMIT", 600),
		Debug:        getEnvBool("CHORUS_DEBUG", false),
		DB: db.Config{
			DSN:      getEnv("DATABASE_URL", ""),
			MaxConns: getEnvInt32("DB_MAX_CONNS", 10),
			MinConns: getEnvInt32("DB_MIN_CONNS", 2),
			AppName:  "chorus-" + string(serviceType),
		},
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "chorus"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
			Environment:    env,
			SampleRatio:    getEnvFloat("OTEL_TRACES_SAMPLER_ARG", 1),
		},
		Pipeline: PipelineConfig{
			RedisURL:        getEnv("REDIS_URL", ""),
			RedisStream:     getEnv("REDIS_STREAM", "chorus_events"),
			RedisGroup:      getEnv("REDIS_CONSUMER_GROUP", "chorus_engine"),
			RedisDLQStream:  getEnv("REDIS_DLQ_STREAM", "chorus_events_dlq"),
			RedisConsumer:   getEnv("REDIS_CONSUMER_NAME", "engine-1"),
			TraceHeaderName: getEnv("TRACE_HEADER_NAME", "X-Trace-Id"),
		},
		PrimaryLLM: LLMConfig{
			Provider:  getEnv("PRIMARY_LLM_PROVIDER", "openai"),
			APIKey:    getEnv("PRIMARY_LLM_API_KEY", ""),
			BaseURL:   getEnv("PRIMARY_LLM_BASE_URL", ""),
			Model:     getEnv("PRIMARY_LLM_MODEL", "gpt-4o-mini"),
			MaxTokens: getEnvInt("PRIMARY_LLM_MAX_TOKENS", 1024),
		},
		DirectLLM: LLMConfig{
			Provider:  getEnv("DIRECT_LLM_PROVIDER", "anthropic"),
			APIKey:    getEnv("DIRECT_LLM_API_KEY", ""),
			BaseURL:   getEnv("DIRECT_LLM_BASE_URL", ""),
			Model:     getEnv("DIRECT_LLM_MODEL", "claude-sonnet-4-5-20250514"),
			MaxTokens: getEnvInt("DIRECT_LLM_MAX_TOKENS", 1024),
		},
		ClassifierLLM: LLMConfig{
			Provider:  getEnv("CLASSIFIER_LLM_PROVIDER", "openai"),
			APIKey:    getEnv("CLASSIFIER_LLM_API_KEY", ""),
			BaseURL:   getEnv("CLASSIFIER_LLM_BASE_URL", ""),
			Model:     getEnv("CLASSIFIER_LLM_MODEL", "gpt-4o-mini"),
			MaxTokens: getEnvInt("CLASSIFIER_LLM_MAX_TOKENS", 256),
		},
		Notify: NotifyConfig{
			Channel:    getEnv("NOTIFY_CHANNEL", "chorus:deliveries"),
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		},
		Worker: WorkerConfig{
			NodeID:         int64(getEnvInt("WORKER_NODE_ID", 2)),
			AdminPort:      getEnv("WORKER_ADMIN_PORT", "9090"),
			TuningFile:     getEnv("TUNING_FILE", "chorus.toml"),
			MaxAttempts:    getEnvInt("WORKER_MAX_ATTEMPTS", 3),
			RecoveryLock:   getEnv("WORKER_RECOVERY_LOCK", "chorus:countdown:recovery"),
			ReclaimMinIdle: getEnvDuration("WORKER_RECLAIM_MIN_IDLE", 5*time.Minute),
			ReclaimEvery:   getEnvDuration("WORKER_RECLAIM_INTERVAL", time.Minute),
			EntityCache:    getEnvInt("WORKER_ENTITY_CACHE", 512),
		},
	}

	if cfg.DB.DSN == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Pipeline.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL is required")
	}

	// Only the worker talks to the generation backend.
	if serviceType == ServiceTypeWorker && !cfg.PrimaryLLM.Enabled() {
		return Config{}, fmt.Errorf("PRIMARY_LLM_API_KEY is required and PRIMARY_LLM_PROVIDER must be openai or anthropic")
	}

	return cfg, nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

func (c LLMConfig) Enabled() bool {
	return c.APIKey != "" && (c.Provider == "openai" || c.Provider == "anthropic")
}

func (c NotifyConfig) WebhookEnabled() bool {
	return c.WebhookURL != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt32(key string, fallback int32) int32 {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(i)
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}
