package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the Stager server and worker.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Worker   WorkerConfig
	Staging  StagingConfig
	Credits  CreditsConfig
	Render   RenderConfig
	Storage  StorageConfig
	Auth     AuthConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

// DatabaseConfig selects the job store. An empty URL means the in-memory store.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type RedisConfig struct {
	URL string
}

type WorkerConfig struct {
	Mode        string
	Concurrency int
}

type StagingConfig struct {
	ProcessingDelay time.Duration
	CompletionDelay time.Duration
}

type CreditsConfig struct {
	Total   int
	Initial int
}

type RenderConfig struct {
	Provider string
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
}

type StorageConfig struct {
	Driver string
	MinIO  MinIOConfig
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

type AuthConfig struct {
	AdminAPIKey        string
	RateLimitPerMinute int
}

const (
	WorkerModeInline = "inline"
	WorkerModeQueue  = "queue"

	RenderProviderSimulated = "simulated"
	RenderProviderRemote    = "remote"

	StorageDriverMemory = "memory"
	StorageDriverMinIO  = "minio"
)

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("STAGER_PORT", 8080),
			Env:  envString("STAGER_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("DATABASE_MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Worker: WorkerConfig{
			Mode:        envString("WORKER_MODE", WorkerModeInline),
			Concurrency: envInt("WORKER_CONCURRENCY", 10),
		},
		Staging: StagingConfig{
			ProcessingDelay: envDuration("STAGING_PROCESSING_DELAY", 1*time.Second),
			CompletionDelay: envDuration("STAGING_COMPLETION_DELAY", 5*time.Second),
		},
		Credits: CreditsConfig{
			Total:   envInt("CREDITS_TOTAL", 100),
			Initial: envInt("CREDITS_INITIAL", 100),
		},
		Render: RenderConfig{
			Provider: envString("RENDER_PROVIDER", RenderProviderSimulated),
			BaseURL:  os.Getenv("RENDER_BASE_URL"),
			APIKey:   os.Getenv("RENDER_API_KEY"),
			Timeout:  envDurationSecs("RENDER_TIMEOUT_SECS", 60*time.Second),
		},
		Storage: StorageConfig{
			Driver: envString("STORAGE_DRIVER", StorageDriverMemory),
			MinIO: MinIOConfig{
				Endpoint:  os.Getenv("MINIO_ENDPOINT"),
				AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
				SecretKey: os.Getenv("MINIO_SECRET_KEY"),
				UseSSL:    envBool("MINIO_USE_SSL", false),
				Bucket:    envString("MINIO_BUCKET", "stager"),
			},
		},
		Auth: AuthConfig{
			AdminAPIKey:        os.Getenv("ADMIN_API_KEY"),
			RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("STAGER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Worker.Mode {
	case WorkerModeInline:
	case WorkerModeQueue:
		if c.Redis.URL == "" {
			return fmt.Errorf("REDIS_URL is required when WORKER_MODE is queue")
		}
	default:
		return fmt.Errorf("WORKER_MODE must be one of inline, queue; got %q", c.Worker.Mode)
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive, got %d", c.Worker.Concurrency)
	}

	if c.Staging.ProcessingDelay < 0 {
		return fmt.Errorf("STAGING_PROCESSING_DELAY must not be negative")
	}
	if c.Staging.CompletionDelay < c.Staging.ProcessingDelay {
		return fmt.Errorf("STAGING_COMPLETION_DELAY (%s) must not be shorter than STAGING_PROCESSING_DELAY (%s)",
			c.Staging.CompletionDelay, c.Staging.ProcessingDelay)
	}

	if c.Credits.Total <= 0 {
		return fmt.Errorf("CREDITS_TOTAL must be positive, got %d", c.Credits.Total)
	}
	if c.Credits.Initial < 0 || c.Credits.Initial > c.Credits.Total {
		return fmt.Errorf("CREDITS_INITIAL must be between 0 and CREDITS_TOTAL, got %d", c.Credits.Initial)
	}

	switch c.Render.Provider {
	case RenderProviderSimulated:
	case RenderProviderRemote:
		if c.Render.BaseURL == "" {
			return fmt.Errorf("RENDER_BASE_URL is required when RENDER_PROVIDER is remote")
		}
		if !strings.HasPrefix(c.Render.BaseURL, "http://") && !strings.HasPrefix(c.Render.BaseURL, "https://") {
			return fmt.Errorf("RENDER_BASE_URL must start with http:// or https://, got %q", c.Render.BaseURL)
		}
	default:
		return fmt.Errorf("RENDER_PROVIDER must be one of simulated, remote; got %q", c.Render.Provider)
	}

	switch c.Storage.Driver {
	case StorageDriverMemory:
	case StorageDriverMinIO:
		if c.Storage.MinIO.Endpoint == "" {
			return fmt.Errorf("MINIO_ENDPOINT is required when STORAGE_DRIVER is minio")
		}
		if c.Storage.MinIO.AccessKey == "" || c.Storage.MinIO.SecretKey == "" {
			return fmt.Errorf("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required when STORAGE_DRIVER is minio")
		}
	default:
		return fmt.Errorf("STORAGE_DRIVER must be one of memory, minio; got %q", c.Storage.Driver)
	}

	return nil
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

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
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
