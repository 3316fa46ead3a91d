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
	AppEnv         string
	Port           string
	MetricsPort    string
	DatabaseURL    string
	RedisURL       string
	StoragePath    string
	StorageBaseURL string

	// Pipeline tuning.
	GPUSlots        int
	StageMaxRetries int
	RetryBackoff    time.Duration
	LeaseMaxWait    time.Duration
	VariantTimeout  time.Duration
	SynthTimeout    time.Duration
	OverlayTimeout  time.Duration
	PublishTimeout  time.Duration
	RetentionDays   int

	// Video synthesis inference server.
	SynthBaseURL string
	SynthAPIKey  string
	SynthModel   string

	// Meta ads integration.
	MetaAccessToken string
	MetaAdAccountID string
	MetaPageID      string
	MetaSandbox     bool

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	AllowedOrigins   []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		MetricsPort: getEnv("METRICS_PORT", "9090"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		StoragePath: getEnv("STORAGE_PATH", "./storage"),

		GPUSlots:        getEnvInt("GPU_SLOTS", 1),
		StageMaxRetries: getEnvInt("STAGE_MAX_RETRIES", 2),
		RetryBackoff:    getEnvDuration("RETRY_BACKOFF_SECONDS", 5*time.Second),
		LeaseMaxWait:    getEnvDuration("LEASE_MAX_WAIT_SECONDS", 5*time.Minute),
		VariantTimeout:  getEnvDuration("VARIANT_TIMEOUT_SECONDS", time.Minute),
		SynthTimeout:    getEnvDuration("VIDEO_SYNTH_TIMEOUT_SECONDS", 10*time.Minute),
		OverlayTimeout:  getEnvDuration("OVERLAY_TIMEOUT_SECONDS", 2*time.Minute),
		PublishTimeout:  getEnvDuration("PUBLISH_TIMEOUT_SECONDS", 2*time.Minute),
		RetentionDays:   getEnvInt("JOB_RETENTION_DAYS", 7),

		SynthBaseURL: os.Getenv("SYNTH_BASE_URL"),
		SynthAPIKey:  os.Getenv("SYNTH_API_KEY"),
		SynthModel:   getEnv("SYNTH_MODEL", "stable-video-diffusion-img2vid-xt"),

		MetaAccessToken: os.Getenv("META_ACCESS_TOKEN"),
		MetaAdAccountID: os.Getenv("META_AD_ACCOUNT_ID"),
		MetaPageID:      os.Getenv("META_PAGE_ID"),
		MetaSandbox:     getEnvBool("META_SANDBOX_MODE", true),

		HTTPReadTimeout:  getEnvDuration("HTTP_READ_TIMEOUT_SECONDS", 15*time.Second),
		HTTPWriteTimeout: getEnvDuration("HTTP_WRITE_TIMEOUT_SECONDS", 30*time.Second),
		HTTPIdleTimeout:  getEnvDuration("HTTP_IDLE_TIMEOUT_SECONDS", 60*time.Second),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		AllowedOrigins:   getEnvList("CORS_ALLOWED_ORIGINS", nil),
	}

	cfg.StorageBaseURL = getEnv("STORAGE_BASE_URL", fmt.Sprintf("http://localhost:%s/static", cfg.Port))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.GPUSlots < 1 {
		return nil, fmt.Errorf("GPU_SLOTS must be at least 1")
	}
	if cfg.StageMaxRetries < 0 {
		return nil, fmt.Errorf("STAGE_MAX_RETRIES must not be negative")
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

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			return time.Duration(i) * time.Second
		}
	}
	return fallback
}
