package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv             string
	Port               string
	StoreDriver        string
	DatabaseURL        string
	SQLitePath         string
	StoragePath        string
	StorageBaseURL     string
	AssetTTL           time.Duration
	StatusCacheTTL     time.Duration
	LockTTL            time.Duration
	ProviderChainFile  string
	TestMode           bool
	MaxPlaceholders    int
	TextProvider       string
	OpenAIAPIKey       string
	OpenAIModel        string
	OpenAIBaseURL      string
	GeminiAPIKey       string
	GeminiModel        string
	GeminiBaseURL      string
	QwenAPIKey         string
	QwenBaseURL        string
	Retry              RetryConfig
	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	RateLimitPerMin    int
	CORSAllowedOrigins []string
	JanitorInterval    time.Duration
}

// RetryConfig carries the image fallback policy knobs.
type RetryConfig struct {
	MaxAttempts         int
	BackoffInitial      time.Duration
	BackoffMax          time.Duration
	AttemptTimeout      time.Duration
	PlaceholderDeadline time.Duration
	Parallelism         int
	RatePerSecond       float64
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:            getEnv("APP_ENV", "development"),
		Port:              port,
		StoreDriver:       strings.ToLower(getEnv("STORE_DRIVER", "sqlite")),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		SQLitePath:        getEnv("SQLITE_PATH", "./data/pageforge.db"),
		StoragePath:       getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:    getEnv("STORAGE_BASE_URL", fmt.Sprintf("http://localhost:%s/assets", port)),
		AssetTTL:          time.Hour * time.Duration(getEnvInt("ASSET_TTL_HOURS", 72)),
		StatusCacheTTL:    time.Second * time.Duration(getEnvInt("STATUS_CACHE_TTL_SECONDS", 600)),
		LockTTL:           time.Second * time.Duration(getEnvInt("PROCESSING_LOCK_TTL_SECONDS", 300)),
		ProviderChainFile: os.Getenv("PROVIDER_CHAIN_FILE"),
		TestMode:          getEnvBool("TEST_MODE", false),
		MaxPlaceholders:   getEnvInt("MAX_PLACEHOLDERS", 12),
		TextProvider:      getEnv("TEXT_PROVIDER", "openai"),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiBaseURL:     getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		QwenAPIKey:        os.Getenv("QWEN_API_KEY"),
		QwenBaseURL:       getEnv("QWEN_BASE_URL", "https://dashscope-intl.aliyuncs.com/api/v1"),
		Retry: RetryConfig{
			MaxAttempts:         getEnvInt("IMAGE_MAX_ATTEMPTS", 3),
			BackoffInitial:      time.Millisecond * time.Duration(getEnvInt("IMAGE_BACKOFF_INITIAL_MS", 500)),
			BackoffMax:          time.Millisecond * time.Duration(getEnvInt("IMAGE_BACKOFF_MAX_MS", 4000)),
			AttemptTimeout:      time.Second * time.Duration(getEnvInt("IMAGE_ATTEMPT_TIMEOUT_SECONDS", 45)),
			PlaceholderDeadline: time.Second * time.Duration(getEnvInt("IMAGE_PLACEHOLDER_DEADLINE_SECONDS", 120)),
			Parallelism:         getEnvInt("IMAGE_PARALLELISM", 3),
			RatePerSecond:       getEnvFloat("IMAGE_RATE_PER_SECOND", 2),
		},
		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 600)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
		CORSAllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		JanitorInterval:    time.Minute * time.Duration(getEnvInt("JANITOR_INTERVAL_MINUTES", 15)),
	}

	switch cfg.StoreDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	case "sqlite":
		if strings.TrimSpace(cfg.SQLitePath) == "" {
			return nil, fmt.Errorf("SQLITE_PATH is required when STORE_DRIVER=sqlite")
		}
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}

	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry.MaxAttempts = 1
	}
	if cfg.Retry.Parallelism < 1 {
		cfg.Retry.Parallelism = 1
	}
	// The lease must outlive one full placeholder resolution or a slow but
	// healthy stage would be taken over mid-flight.
	if cfg.LockTTL <= cfg.Retry.PlaceholderDeadline {
		cfg.LockTTL = cfg.Retry.PlaceholderDeadline + time.Minute
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
