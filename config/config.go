// Package config provides configuration management and environment variable handling for the application
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/snowflake-id/utils"
)

// Config holds all configuration for the id service
type Config struct {
	Database   DatabaseConfig   `json:"database"`
	Server     ServerConfig     `json:"server"`
	JWT        JWTConfig        `json:"jwt"`
	Logging    LoggingConfig    `json:"logging"`
	Metrics    MetricsConfig    `json:"metrics"`
	Redis      RedisConfig      `json:"redis"`
	Snowflake  SnowflakeConfig  `json:"snowflake"`
	Deployment DeploymentConfig `json:"deployment"`

	// loadErrors collects values that were set but could not be parsed
	loadErrors []string
}

type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"-"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	SlowQueryLog    bool          `json:"slow_query_log"`
	SlowQueryTime   time.Duration `json:"slow_query_time"`
}

// DSN returns the libpq connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

type ServerConfig struct {
	Host              string        `json:"host"`
	Port              int           `json:"port"`
	ReadTimeout       time.Duration `json:"read_timeout"`
	WriteTimeout      time.Duration `json:"write_timeout"`
	IdleTimeout       time.Duration `json:"idle_timeout"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout"`
	BodyLimit         int           `json:"body_limit"`
	EnableCompression bool          `json:"enable_compression"`
	AllowedOrigins    []string      `json:"allowed_origins"`
	GlobalRateLimit   int           `json:"global_rate_limit"`
	RateLimitWindow   time.Duration `json:"rate_limit_window"`
	EnableAdminAPI    bool          `json:"enable_admin_api"`
}

type JWTConfig struct {
	SecretKey      string        `json:"-"`
	PrivateKey     string        `json:"-"`            // RSA private key in PEM format
	PublicKey      string        `json:"public_key"`   // RSA public key in PEM format
	UseRSAKeys     bool          `json:"use_rsa_keys"` // Whether to use RSA keys instead of secret key
	AccessTokenTTL time.Duration `json:"access_token_ttl"`
	Issuer         string        `json:"issuer"`
	Audience       string        `json:"audience"`
}

type LoggingConfig struct {
	Level      string `json:"level"`  // debug, info, warn, error
	Output     string `json:"output"` // stdout, file, both
	FilePath   string `json:"file_path"`
	MaxSize    int    `json:"max_size"` // MB
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"` // days
	Compress   bool   `json:"compress"`

	// Access Logs
	EnableAccessLog bool `json:"enable_access_log"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type RedisConfig struct {
	Enabled             bool          `json:"enabled"`
	URL                 string        `json:"url"`
	DB                  int           `json:"db"`
	Prefix              string        `json:"prefix"`
	HealthCheckInterval time.Duration `json:"health_check_interval"`
}

// SnowflakeConfig controls id layout and counter provisioning
type SnowflakeConfig struct {
	Backend              string        `json:"backend"` // postgres_sequence, table, redis
	Epoch                time.Time     `json:"epoch"`
	CounterSuffix        string        `json:"counter_suffix"`
	LazyProvision        bool          `json:"lazy_provision"`
	Entities             []string      `json:"entities"`
	ProvisionOnStart     bool          `json:"provision_on_start"`
	ProvisionConcurrency int           `json:"provision_concurrency"`
	ProvisionInterval    time.Duration `json:"provision_interval"` // 0 disables the scheduler
	AutoMigrate          bool          `json:"auto_migrate"`
}

type DeploymentConfig struct {
	Environment string `json:"environment"`
	Version     string `json:"version"`
	CommitHash  string `json:"commit_hash"`
	BuildTime   string `json:"build_time"`
}

// UsesDatabase reports whether the configured backend needs PostgreSQL
func (c *Config) UsesDatabase() bool {
	return c.Snowflake.Backend != utils.BackendRedis
}

// UsesRedis reports whether a redis client is needed
func (c *Config) UsesRedis() bool {
	return c.Redis.Enabled || c.Snowflake.Backend == utils.BackendRedis
}

// LoadConfig loads and validates configuration from .env and environment variables
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := loadEnvFile(".env"); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	var loadErrors []string
	epoch, err := getEnvTime("SNOWFLAKE_EPOCH", utils.DefaultEpoch)
	if err != nil {
		loadErrors = append(loadErrors, err.Error())
	}

	cfg := &Config{
		loadErrors: loadErrors,
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "postgres"),
			User:            getEnvString("DB_USER", "postgres"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 50),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 15*time.Minute),
			SlowQueryLog:    getEnvBool("DB_SLOW_QUERY_LOG", true),
			SlowQueryTime:   getEnvDuration("DB_SLOW_QUERY_TIME", 200*time.Millisecond),
		},
		Server: ServerConfig{
			Host:              getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:              getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:       getEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:      getEnvDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:       getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout:   getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			BodyLimit:         getEnvInt("SERVER_BODY_LIMIT", 64*1024), // 64KB
			EnableCompression: getEnvBool("SERVER_ENABLE_COMPRESSION", true),
			AllowedOrigins:    getEnvStringSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			GlobalRateLimit:   getEnvInt("GLOBAL_RATE_LIMIT", 6000),
			RateLimitWindow:   getEnvDuration("RATE_LIMIT_WINDOW", 1*time.Minute),
			EnableAdminAPI:    getEnvBool("SERVER_ENABLE_ADMIN_API", true),
		},
		JWT: JWTConfig{
			SecretKey:      getEnvString("JWT_SECRET_KEY", ""),
			PrivateKey:     getEnvString("JWT_PRIVATE_KEY", ""),
			PublicKey:      getEnvString("JWT_PUBLIC_KEY", ""),
			UseRSAKeys:     getEnvBool("JWT_USE_RSA_KEYS", false),
			AccessTokenTTL: getEnvDuration("JWT_ACCESS_TOKEN_TTL", 1*time.Hour),
			Issuer:         getEnvString("JWT_ISSUER", "snowflake-id"),
			Audience:       getEnvString("JWT_AUDIENCE", "snowflake-id-admin"),
		},
		Logging: LoggingConfig{
			Level:           getEnvString("LOG_LEVEL", "info"),
			Output:          getEnvString("LOG_OUTPUT", "stdout"),
			FilePath:        getEnvString("LOG_FILE_PATH", "/var/log/snowflake-id/app.log"),
			MaxSize:         getEnvInt("LOG_MAX_SIZE", 100),
			MaxBackups:      getEnvInt("LOG_MAX_BACKUPS", 10),
			MaxAge:          getEnvInt("LOG_MAX_AGE", 30),
			Compress:        getEnvBool("LOG_COMPRESS", true),
			EnableAccessLog: getEnvBool("LOG_ENABLE_ACCESS", true),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnvString("METRICS_PATH", "/metrics"),
		},
		Redis: RedisConfig{
			Enabled:             getEnvBool("REDIS_ENABLED", false),
			URL:                 getEnvString("REDIS_URL", "redis://localhost:6379"),
			DB:                  getEnvInt("REDIS_DB", 0),
			Prefix:              getEnvString("REDIS_PREFIX", "snowflake:"),
			HealthCheckInterval: getEnvDuration("REDIS_HEALTH_CHECK_INTERVAL", 30*time.Second),
		},
		Snowflake: SnowflakeConfig{
			Backend:              getEnvString("SNOWFLAKE_BACKEND", utils.BackendPostgresSequence),
			Epoch:                epoch,
			CounterSuffix:        getEnvString("SNOWFLAKE_COUNTER_SUFFIX", utils.DefaultCounterSuffix),
			LazyProvision:        getEnvBool("SNOWFLAKE_LAZY_PROVISION", false),
			Entities:             utils.UniqueStrings(getEnvStringSlice("SNOWFLAKE_ENTITIES", nil)),
			ProvisionOnStart:     getEnvBool("SNOWFLAKE_PROVISION_ON_START", true),
			ProvisionConcurrency: getEnvInt("SNOWFLAKE_PROVISION_CONCURRENCY", utils.DefaultProvisionConcurrency),
			ProvisionInterval:    getEnvDuration("SNOWFLAKE_PROVISION_INTERVAL", 0),
			AutoMigrate:          getEnvBool("SNOWFLAKE_AUTO_MIGRATE", true),
		},
		Deployment: DeploymentConfig{
			Environment: getEnvString("APP_ENV", "development"),
			Version:     getEnvString("VERSION", "1.0.0"),
			CommitHash:  getEnvString("COMMIT_HASH", "unknown"),
			BuildTime:   getEnvString("BUILD_TIME", "unknown"),
		},
	}

	// Validate the loaded configuration
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadEnvFile loads environment variables from path if it exists; variables already set win
func loadEnvFile(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		// Remove quotes if present
		if len(value) >= 2 && ((strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`)) ||
			(strings.HasPrefix(value, `'`) && strings.HasSuffix(value, `'`))) {
			value = value[1 : len(value)-1]
		}

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading %s: %w", path, err)
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, item := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

// getEnvTime accepts RFC3339, a plain date (UTC midnight) or unix milliseconds.
// A value that is set but matches none of them is an error, never the default.
func getEnvTime(key string, defaultValue time.Time) (time.Time, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		return parsed.UTC(), nil
	}
	if parsed, err := time.Parse(time.DateOnly, value); err == nil {
		return parsed.UTC(), nil
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return defaultValue, fmt.Errorf("%s=%q is not an RFC3339 timestamp with zone, a YYYY-MM-DD date or unix milliseconds", key, value)
}

// ValidateConfig validates the loaded configuration
func ValidateConfig(cfg *Config) error {
	errors := append([]string(nil), cfg.loadErrors...)

	// Validate snowflake configuration
	switch cfg.Snowflake.Backend {
	case utils.BackendPostgresSequence, utils.BackendTable, utils.BackendRedis:
	default:
		errors = append(errors, fmt.Sprintf("SNOWFLAKE_BACKEND must be one of: %s, %s, %s",
			utils.BackendPostgresSequence, utils.BackendTable, utils.BackendRedis))
	}
	now := utils.UTCNow()
	if cfg.Snowflake.Epoch.After(now) {
		errors = append(errors, "SNOWFLAKE_EPOCH must not be in the future")
	} else if utils.MillisSince(cfg.Snowflake.Epoch, now) > utils.MaxTimestamp {
		errors = append(errors, fmt.Sprintf("SNOWFLAKE_EPOCH %s is too old: the %d-bit timestamp field is already exhausted",
			cfg.Snowflake.Epoch.Format(time.RFC3339), utils.TimestampBits))
	}
	if !validSuffix(cfg.Snowflake.CounterSuffix) {
		errors = append(errors, "SNOWFLAKE_COUNTER_SUFFIX must be 1-32 letters, digits or underscores")
	} else {
		for _, entity := range cfg.Snowflake.Entities {
			if err := utils.ValidateEntityName(entity, cfg.Snowflake.CounterSuffix); err != nil {
				errors = append(errors, fmt.Sprintf("SNOWFLAKE_ENTITIES contains %q: %v", entity, err))
			}
		}
	}
	if cfg.Snowflake.ProvisionConcurrency < 1 {
		errors = append(errors, "SNOWFLAKE_PROVISION_CONCURRENCY must be at least 1")
	}
	if cfg.Snowflake.ProvisionInterval < 0 {
		errors = append(errors, "SNOWFLAKE_PROVISION_INTERVAL must not be negative")
	}

	// Validate database configuration
	if cfg.UsesDatabase() {
		if cfg.Database.Host == "" {
			errors = append(errors, "DB_HOST is required")
		}
		if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
			errors = append(errors, "DB_PORT must be between 1 and 65535")
		}
		if cfg.Database.Name == "" {
			errors = append(errors, "DB_NAME is required")
		}
		if cfg.Database.User == "" {
			errors = append(errors, "DB_USER is required")
		}
		if cfg.Deployment.Environment == "production" && cfg.Database.Password == "" {
			errors = append(errors, "DB_PASSWORD is required in production")
		}
	}

	// Validate redis configuration
	if cfg.UsesRedis() && cfg.Redis.URL == "" {
		errors = append(errors, "REDIS_URL is required when redis is enabled or SNOWFLAKE_BACKEND=redis")
	}

	// Validate JWT configuration
	if cfg.Server.EnableAdminAPI {
		if cfg.JWT.UseRSAKeys {
			if cfg.JWT.PrivateKey == "" || cfg.JWT.PublicKey == "" {
				errors = append(errors, "JWT_PRIVATE_KEY and JWT_PUBLIC_KEY are required when JWT_USE_RSA_KEYS is set")
			}
		} else if len(cfg.JWT.SecretKey) < 32 {
			errors = append(errors, "JWT_SECRET_KEY must be at least 32 characters long when the admin API is enabled")
		}
		if cfg.JWT.AccessTokenTTL <= 0 {
			errors = append(errors, "JWT_ACCESS_TOKEN_TTL must be positive")
		}
		if cfg.JWT.Issuer == "" {
			errors = append(errors, "JWT_ISSUER is required")
		}
		if cfg.JWT.Audience == "" {
			errors = append(errors, "JWT_AUDIENCE is required")
		}
	}

	// Validate server configuration
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errors = append(errors, "SERVER_PORT must be between 1 and 65535")
	}
	if cfg.Server.ReadTimeout <= 0 {
		errors = append(errors, "SERVER_READ_TIMEOUT must be positive")
	}
	if cfg.Server.WriteTimeout <= 0 {
		errors = append(errors, "SERVER_WRITE_TIMEOUT must be positive")
	}

	// Validate logging configuration
	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errors = append(errors, "LOG_LEVEL must be one of: debug, info, warn, error")
	}
	switch cfg.Logging.Output {
	case "stdout":
	case "file", "both":
		if cfg.Logging.FilePath == "" {
			errors = append(errors, "LOG_FILE_PATH is required when LOG_OUTPUT writes to a file")
		}
	default:
		errors = append(errors, "LOG_OUTPUT must be one of: stdout, file, both")
	}

	// Return validation errors if any
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

func validSuffix(s string) bool {
	if s == "" || len(s) > 32 {
		return false
	}
	for _, r := range s {
		if !(r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return true
}
