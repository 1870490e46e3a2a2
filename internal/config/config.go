package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the fleetsignal server.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Reader      ReaderConfig
	VectorIndex VectorIndexConfig
	Jobs        JobsConfig
}

type ServerConfig struct {
	Port               int
	MetricsPort        int
	Env                string
	RateLimitPerMinute int
	// BootstrapAdminKey names an admin key minted at startup when no keys exist.
	BootstrapAdminKey string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectAttempts int
}

type RedisConfig struct {
	URL string
}

// ReaderConfig configures the time-series read path and its decorators.
type ReaderConfig struct {
	BaseURL       string
	Token         string
	Timeout       time.Duration
	RPS           float64
	Burst         int
	RetryAttempts int
	RetryDelay    time.Duration
	CacheSize     int
}

type VectorIndexConfig struct {
	Provider string
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
}

type JobsConfig struct {
	Workers         int
	StatusTTL       time.Duration
	Retention       time.Duration
	GCInterval      time.Duration
	PreviewTimeout  time.Duration
	PreviewCacheTTL time.Duration
	PolicyFile      string
}

var validIndexProviders = map[string]bool{
	"none": true,
	"http": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:               envInt("FLEETSIGNAL_PORT", 8080),
			MetricsPort:        envInt("FLEETSIGNAL_METRICS_PORT", 9090),
			Env:                envString("FLEETSIGNAL_ENV", "development"),
			RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
			BootstrapAdminKey:  os.Getenv("BOOTSTRAP_ADMIN_KEY_NAME"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnectAttempts: envInt("DATABASE_CONNECT_ATTEMPTS", 5),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Reader: ReaderConfig{
			BaseURL:       os.Getenv("READER_BASE_URL"),
			Token:         os.Getenv("READER_TOKEN"),
			Timeout:       envDuration("READER_TIMEOUT", 30*time.Second),
			RPS:           envFloat("READER_RPS", 50),
			Burst:         envInt("READER_BURST", 10),
			RetryAttempts: envInt("READER_RETRY_ATTEMPTS", 3),
			RetryDelay:    envDuration("READER_RETRY_DELAY", 200*time.Millisecond),
			CacheSize:     envInt("READER_CACHE_SIZE", 512),
		},
		VectorIndex: VectorIndexConfig{
			Provider: envString("VECTOR_INDEX_PROVIDER", "none"),
			BaseURL:  os.Getenv("VECTOR_INDEX_URL"),
			APIKey:   os.Getenv("VECTOR_INDEX_API_KEY"),
			Timeout:  envDuration("VECTOR_INDEX_TIMEOUT", 10*time.Second),
		},
		Jobs: JobsConfig{
			Workers:         envInt("JOB_WORKERS", 4),
			StatusTTL:       envDuration("JOB_STATUS_TTL", 30*time.Minute),
			Retention:       envDuration("JOB_RETENTION", 7*24*time.Hour),
			GCInterval:      envDuration("JOB_GC_INTERVAL", time.Hour),
			PreviewTimeout:  envDurationSecs("PREVIEW_TIMEOUT_SECS", 15*time.Second),
			PreviewCacheTTL: envDuration("PREVIEW_CACHE_TTL", time.Minute),
			PolicyFile:      os.Getenv("ANALYSIS_POLICY_FILE"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Reader.BaseURL == "" {
		return fmt.Errorf("READER_BASE_URL is required")
	}
	if !isHTTPURL(c.Reader.BaseURL) {
		return fmt.Errorf("READER_BASE_URL must start with http:// or https://, got %q", c.Reader.BaseURL)
	}
	if c.Reader.RetryAttempts < 1 {
		return fmt.Errorf("READER_RETRY_ATTEMPTS must be >= 1, got %d", c.Reader.RetryAttempts)
	}
	if c.Reader.CacheSize < 1 {
		return fmt.Errorf("READER_CACHE_SIZE must be >= 1, got %d", c.Reader.CacheSize)
	}

	if !validIndexProviders[c.VectorIndex.Provider] {
		return fmt.Errorf("VECTOR_INDEX_PROVIDER must be one of none, http; got %q", c.VectorIndex.Provider)
	}
	if c.VectorIndex.Provider == "http" && !isHTTPURL(c.VectorIndex.BaseURL) {
		return fmt.Errorf("VECTOR_INDEX_URL must be an http(s) URL when VECTOR_INDEX_PROVIDER is http")
	}

	if c.Jobs.Workers < 1 {
		return fmt.Errorf("JOB_WORKERS must be >= 1, got %d", c.Jobs.Workers)
	}

	return nil
}

func isHTTPURL(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
