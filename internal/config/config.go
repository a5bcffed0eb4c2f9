package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v9"
)

// DefaultFallbackModel is used when neither the request nor LLM_MODEL names a model.
const DefaultFallbackModel = "ai/gpt-oss-20b"

// Config holds configuration for the gateway.
type Config struct {
	HTTPPort      string `env:"HTTP_PORT" envDefault:"8080"`
	JWTSecret     string `env:"JWT_SECRET"`
	Log           LogConfig
	Database      DatabaseConfig
	Cache         CacheConfig
	Redis         RedisConfig
	Upstream      UpstreamConfig
	RequestLogger RequestLoggerConfig
	Export        ExportConfig

	// TrustProxyHeaders honours X-Forwarded-For/X-Real-IP for client IPs
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS" envDefault:"false"`
}

// LogConfig controls the process-wide structured logger
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string        `env:"DB_DRIVER" envDefault:"postgres"`
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"5m"`
	ConnMaxIdleTime time.Duration `env:"DB_CONN_MAX_IDLE_TIME" envDefault:"1m"`
	AutoMigrate     bool          `env:"DB_AUTO_MIGRATE" envDefault:"true"`
}

// CacheConfig holds in-process API key cache settings
type CacheConfig struct {
	APIKeyCacheSize int           `env:"CACHE_API_KEY_SIZE" envDefault:"1000"`
	APIKeyCacheTTL  time.Duration `env:"CACHE_API_KEY_TTL" envDefault:"30s"`
}

// RedisConfig holds settings for the optional shared key cache
type RedisConfig struct {
	Enabled      bool          `env:"REDIS_ENABLED" envDefault:"false"`
	Address      string        `env:"REDIS_ADDRESS" envDefault:"localhost:6379"`
	Password     string        `env:"REDIS_PASSWORD"`
	DB           int           `env:"REDIS_DB" envDefault:"0"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
	KeyPrefix    string        `env:"REDIS_KEY_PREFIX" envDefault:"gateway:apikey:"`
}

// UpstreamConfig describes the OpenAI-compatible inference server
type UpstreamConfig struct {
	BaseURL      string        `env:"LLM_BASE_URL" envDefault:"http://localhost:12434/engines/llama.cpp/v1"`
	DefaultModel string        `env:"LLM_MODEL"`
	APIKey       string        `env:"LLM_API_KEY" envDefault:"not-needed"`
	Timeout      time.Duration `env:"LLM_TIMEOUT" envDefault:"120s"`
}

// ResolveModel picks the model for a request: the requested id, then the
// configured default, then the built-in fallback.
func (c UpstreamConfig) ResolveModel(requested string) string {
	if requested != "" {
		return requested
	}
	if c.DefaultModel != "" {
		return c.DefaultModel
	}
	return DefaultFallbackModel
}

// RequestLoggerConfig controls the rotating JSONL access log
type RequestLoggerConfig struct {
	Enabled    bool   `env:"REQUEST_LOG_ENABLED" envDefault:"false"`
	FilePath   string `env:"REQUEST_LOG_FILE" envDefault:"/var/log/inference-gateway/requests.jsonl"`
	MaxSizeMB  int    `env:"REQUEST_LOG_MAX_SIZE_MB" envDefault:"10"`
	MaxBackups int    `env:"REQUEST_LOG_MAX_BACKUPS" envDefault:"5"`
	MaxAgeDays int    `env:"REQUEST_LOG_MAX_AGE_DAYS" envDefault:"30"`
	Compress   bool   `env:"REQUEST_LOG_COMPRESS" envDefault:"true"`
	BufferSize int    `env:"REQUEST_LOG_BUFFER_SIZE" envDefault:"100"`
}

// ExportConfig holds the S3 target for usage exports
type ExportConfig struct {
	S3Bucket string `env:"EXPORT_S3_BUCKET"`
	S3Region string `env:"EXPORT_S3_REGION" envDefault:"us-east-1"`
	S3Prefix string `env:"EXPORT_S3_PREFIX" envDefault:"usage/"`
	PodName  string `env:"POD_NAME" envDefault:"gateway-0"`
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg, err := Parse()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse reads configuration from environment variables without validating it.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Validate checks that the settings required to serve traffic are present.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite3, got %q", c.Database.Driver)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.JWTSecret) < 16 {
		return fmt.Errorf("JWT_SECRET must be at least 16 characters")
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("LLM_BASE_URL is required")
	}
	if c.Upstream.Timeout < 0 {
		return fmt.Errorf("LLM_TIMEOUT must not be negative")
	}
	if c.Redis.Enabled && c.Redis.Address == "" {
		return fmt.Errorf("REDIS_ADDRESS is required when REDIS_ENABLED is set")
	}
	return nil
}

// JWTSecretBytes returns the session signing secret
func (c *Config) JWTSecretBytes() []byte {
	return []byte(c.JWTSecret)
}

// Addr returns the HTTP listen address
func (c *Config) Addr() string {
	return ":" + c.HTTPPort
}
