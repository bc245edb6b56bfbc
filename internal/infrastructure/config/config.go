package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Store drivers
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Cache backends
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Store    StoreConfig
	Cache    CacheConfig
	Redis    RedisConfig
	Log      LogConfig
	SeedFile string // Optional YAML seed applied at startup
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host        string
	Port        int
	MetricsPort int // Port for Prometheus metrics HTTP server
}

// StoreConfig selects the persistent store
type StoreConfig struct {
	Driver  string        // postgres or memory
	Timeout time.Duration // Upper bound of a single store load
}

// CacheConfig represents cache configuration
type CacheConfig struct {
	Enabled        bool
	Backend        string // memory or redis
	MaxMemoryBytes int64  // Maximum memory usage in bytes (e.g., 104857600 = 100MB)
	Metrics        bool
	DefaultTTL     time.Duration // TTL of the "default" region
	LongTermTTL    time.Duration // TTL of the "auth_long_term" region
	Timeout        time.Duration // Upper bound of a single backend call
	Notify         bool          // Broadcast invalidations via LISTEN/NOTIFY
}

// RedisConfig represents the redis cache backend
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level      string
	Format     string // text or json
	File       string // Empty logs to stderr only
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// findProjectRoot finds the project root directory by looking for go.mod
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	// Walk up the directory tree until we find go.mod
	for {
		goModPath := filepath.Join(dir, "go.mod")
		if _, err := os.Stat(goModPath); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached the root directory
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
		dir = parent
	}
}

// ProjectRoot returns the directory holding go.mod
func ProjectRoot() (string, error) {
	return findProjectRoot()
}

// InitConfig initializes viper configuration
// env: environment name (dev, test, prod)
func InitConfig(env string) error {
	if env == "" {
		env = "dev"
	}

	// Find project root
	projectRoot, err := findProjectRoot()
	if err != nil {
		return fmt.Errorf("failed to find project root: %w", err)
	}

	// Set config file name based on environment
	viper.SetConfigName(fmt.Sprintf(".env.%s", env))
	viper.SetConfigType("env")
	viper.AddConfigPath(projectRoot) // Project root

	// Read config file (optional, ignore error if not found)
	_ = viper.ReadInConfig()

	// Environment variables take precedence over config file
	viper.AutomaticEnv()

	setDefaults()
	return nil
}

func setDefaults() {
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_PORT", 50051)
	viper.SetDefault("METRICS_PORT", 9090)
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", 15432)
	viper.SetDefault("DB_USER", "restree")
	viper.SetDefault("DB_NAME", "restree_dev")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("DB_MAX_OPEN_CONNS", 25)
	viper.SetDefault("DB_MAX_IDLE_CONNS", 5)

	viper.SetDefault("STORE_DRIVER", StoreDriverPostgres)
	viper.SetDefault("STORE_TIMEOUT_MS", 2000)

	// Cache defaults
	viper.SetDefault("CACHE_ENABLED", true)
	viper.SetDefault("CACHE_BACKEND", CacheBackendMemory)
	viper.SetDefault("CACHE_MAX_MEMORY_BYTES", 100*1024*1024) // 100MB
	viper.SetDefault("CACHE_METRICS", true)
	viper.SetDefault("CACHE_DEFAULT_TTL_SECONDS", 300)
	viper.SetDefault("CACHE_LONG_TERM_TTL_MINUTES", 60)
	viper.SetDefault("CACHE_TIMEOUT_MS", 200)
	viper.SetDefault("CACHE_NOTIFY", true)

	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("REDIS_KEY_PREFIX", "restree:")

	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "text")
	viper.SetDefault("LOG_MAX_SIZE_MB", 100)
	viper.SetDefault("LOG_MAX_BACKUPS", 3)
	viper.SetDefault("LOG_MAX_AGE_DAYS", 28)
	viper.SetDefault("LOG_COMPRESS", false)
}

// Load loads configuration from viper
func Load() (*Config, error) {
	driver := viper.GetString("STORE_DRIVER")
	if driver == "" {
		driver = StoreDriverPostgres
	}
	if driver != StoreDriverPostgres && driver != StoreDriverMemory {
		return nil, fmt.Errorf("unknown STORE_DRIVER '%s' (want postgres or memory)", driver)
	}

	// DB_PASSWORD is required for security
	dbPassword := viper.GetString("DB_PASSWORD")
	if dbPassword == "" && driver == StoreDriverPostgres {
		return nil, fmt.Errorf("DB_PASSWORD is required (set via environment variable or .env file)")
	}

	backend := viper.GetString("CACHE_BACKEND")
	if backend == "" {
		backend = CacheBackendMemory
	}
	if backend != CacheBackendMemory && backend != CacheBackendRedis {
		return nil, fmt.Errorf("unknown CACHE_BACKEND '%s' (want memory or redis)", backend)
	}

	config := &Config{
		Server: ServerConfig{
			Host:        viper.GetString("SERVER_HOST"),
			Port:        viper.GetInt("SERVER_PORT"),
			MetricsPort: viper.GetInt("METRICS_PORT"),
		},
		Database: DatabaseConfig{
			Host:         viper.GetString("DB_HOST"),
			Port:         viper.GetInt("DB_PORT"),
			User:         viper.GetString("DB_USER"),
			Password:     dbPassword,
			Database:     viper.GetString("DB_NAME"),
			SSLMode:      viper.GetString("DB_SSLMODE"),
			MaxOpenConns: viper.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns: viper.GetInt("DB_MAX_IDLE_CONNS"),
		},
		Store: StoreConfig{
			Driver:  driver,
			Timeout: time.Duration(viper.GetInt("STORE_TIMEOUT_MS")) * time.Millisecond,
		},
		Cache: CacheConfig{
			Enabled:        viper.GetBool("CACHE_ENABLED"),
			Backend:        backend,
			MaxMemoryBytes: viper.GetInt64("CACHE_MAX_MEMORY_BYTES"),
			Metrics:        viper.GetBool("CACHE_METRICS"),
			DefaultTTL:     time.Duration(viper.GetInt("CACHE_DEFAULT_TTL_SECONDS")) * time.Second,
			LongTermTTL:    time.Duration(viper.GetInt("CACHE_LONG_TERM_TTL_MINUTES")) * time.Minute,
			Timeout:        time.Duration(viper.GetInt("CACHE_TIMEOUT_MS")) * time.Millisecond,
			Notify:         viper.GetBool("CACHE_NOTIFY"),
		},
		Redis: RedisConfig{
			Addr:      viper.GetString("REDIS_ADDR"),
			Password:  viper.GetString("REDIS_PASSWORD"),
			DB:        viper.GetInt("REDIS_DB"),
			KeyPrefix: viper.GetString("REDIS_KEY_PREFIX"),
		},
		Log: LogConfig{
			Level:      viper.GetString("LOG_LEVEL"),
			Format:     viper.GetString("LOG_FORMAT"),
			File:       viper.GetString("LOG_FILE"),
			MaxSizeMB:  viper.GetInt("LOG_MAX_SIZE_MB"),
			MaxBackups: viper.GetInt("LOG_MAX_BACKUPS"),
			MaxAgeDays: viper.GetInt("LOG_MAX_AGE_DAYS"),
			Compress:   viper.GetBool("LOG_COMPRESS"),
		},
		SeedFile: viper.GetString("SEED_FILE"),
	}

	return config, nil
}

// ConnectionString returns PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Database,
		c.SSLMode,
	)
}
