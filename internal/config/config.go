package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the minimum environment-variable set spec §6 names: model
// endpoint/key, worker concurrency, strategy timeouts, cache TTLs,
// telemetry sink, redaction policy. Unrecognized variables are ignored.
type Config struct {
	Model     ModelConfig
	Worker    WorkerConfig
	Strategy  StrategyConfig
	Cache     CacheConfig
	Telemetry TelemetryConfig
	Redaction RedactionConfig
}

// ModelConfig configures the Model Client (C4).
type ModelConfig struct {
	Provider   string // "googleai" (only backend wired, see SPEC_FULL.md §2)
	APIKey     string
	ModelFast  string // contract generation, validation
	ModelSmart string // augmentation
}

// WorkerConfig drives the Job Manager's (C10) worker pool.
type WorkerConfig struct {
	MaxConcurrent  int
	QueueHighWater int
}

// StrategyConfig carries default per-strategy timeouts for Strategy &
// Fallback (C9); individual chains may override these (spec §4.9).
type StrategyConfig struct {
	StaticFetchTimeout   time.Duration
	BrowserRenderTimeout time.Duration
	BrowserJSTimeout     time.Duration
	HybridTimeout        time.Duration
}

// CacheConfig sets TTLs for the Cache's (C11) entry kinds.
type CacheConfig struct {
	NegativeTTL time.Duration // abstention entries, default 1h (spec §4.11)
	ResultTTL   time.Duration
}

// TelemetryConfig configures the telemetry event sink.
type TelemetryConfig struct {
	WebsocketAddr string
}

// RedactionConfig controls which PII classes may appear unmasked in
// evidence records (spec §3, §6).
type RedactionConfig struct {
	AllowedPII []string
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == ',' {
			if i > start {
				out = append(out, v[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// Load reads `.env` (if present), then environment variables, applying
// defaults, and fails fast if a required variable is missing.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	modelFast := os.Getenv("LLM_MODEL_FAST")
	modelSmart := os.Getenv("LLM_MODEL_SMART")
	if modelFast == "" {
		return nil, errors.New("LLM_MODEL_FAST environment variable is required but not set")
	}
	if modelSmart == "" {
		return nil, errors.New("LLM_MODEL_SMART environment variable is required but not set")
	}

	return &Config{
		Model: ModelConfig{
			Provider:   getEnvOrDefault("LLM_PROVIDER", "googleai"),
			APIKey:     os.Getenv("LLM_API_KEY"),
			ModelFast:  modelFast,
			ModelSmart: modelSmart,
		},
		Worker: WorkerConfig{
			MaxConcurrent:  getEnvIntOrDefault("WORKER_MAX_CONCURRENT", 3),
			QueueHighWater: getEnvIntOrDefault("WORKER_QUEUE_HIGH_WATER", 100),
		},
		Strategy: StrategyConfig{
			StaticFetchTimeout:   getEnvDurationOrDefault("STRATEGY_STATIC_TIMEOUT", 5*time.Second),
			BrowserRenderTimeout: getEnvDurationOrDefault("STRATEGY_BROWSER_RENDER_TIMEOUT", 15*time.Second),
			BrowserJSTimeout:     getEnvDurationOrDefault("STRATEGY_BROWSER_JS_TIMEOUT", 20*time.Second),
			HybridTimeout:        getEnvDurationOrDefault("STRATEGY_HYBRID_TIMEOUT", 25*time.Second),
		},
		Cache: CacheConfig{
			NegativeTTL: getEnvDurationOrDefault("CACHE_NEGATIVE_TTL", time.Hour),
			ResultTTL:   getEnvDurationOrDefault("CACHE_RESULT_TTL", 24*time.Hour),
		},
		Telemetry: TelemetryConfig{
			WebsocketAddr: getEnvOrDefault("TELEMETRY_WS_ADDR", ":8089"),
		},
		Redaction: RedactionConfig{
			AllowedPII: splitCSV(os.Getenv("REDACTION_ALLOWED_PII")),
		},
	}, nil
}
