package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/upb/audit-collector/utils"
)

// Store drivers
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config represents the complete application configuration
type Config struct {
	Environment   string `validate:"required"`
	StoreDriver   string `validate:"oneof=postgres memory"`
	Server        ServerConfig
	Database      DatabaseConfig
	Collector     CollectorConfig
	Evaluator     EvaluatorConfig
	Redis         RedisConfig
	Cmdb          CmdbConfig
	Auth          AuthConfig
	Observability ObservabilityConfig
}

// ServerConfig holds the ops HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int           `validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `validate:"gt=0"`
	WriteTimeout    time.Duration `validate:"gt=0"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
	AllowedOrigins  []string
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// CollectorConfig holds the defaults of the audit collector. Values persisted in the
// collectors table take precedence at run time.
type CollectorConfig struct {
	Name          string `validate:"required"`
	DashboardType string `validate:"required"`
	LookbackDays  int    `validate:"gte=0,lte=36500"`
	Schedule      string `validate:"required"` // cron with seconds field
	Workers       int    `validate:"gte=1"`
	// EntityTimeout bounds one dashboard's evaluation and refresh, 0 disables it
	EntityTimeout time.Duration `validate:"gte=0"`
	TargetSources []string      `validate:"dive,url"`
}

// EvaluatorConfig holds the audit API client configuration
type EvaluatorConfig struct {
	BaseURL    string `validate:"required,url"`
	Token      string
	Timeout    time.Duration `validate:"gt=0"`
	MaxRetries int           `validate:"gte=0"`
}

// RedisConfig holds the distributed refresh lock configuration. Empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int           `validate:"gte=0"`
	LockTTL  time.Duration `validate:"gt=0"`
}

// CmdbConfig holds the CMDB metadata cache configuration
type CmdbConfig struct {
	CacheSize int           `validate:"gte=0"`
	CacheTTL  time.Duration `validate:"gte=0"`
}

// AuthConfig holds the bearer token configuration of the ops API
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string `validate:"oneof=debug info warn error"`
	LogFormat      string `validate:"oneof=json text"`
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		StoreDriver: getEnv("STORE_DRIVER", StoreDriverPostgres),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: loadDatabaseConfig(),
		Collector: CollectorConfig{
			Name:          getEnv("COLLECTOR_NAME", "AuditCollector"),
			DashboardType: getEnv("COLLECTOR_DASHBOARD_TYPE", "Team"),
			LookbackDays:  getEnvAsInt("AUDIT_DAYS", 90),
			Schedule:      getEnv("AUDIT_CRON", "0 0 */6 * * *"),
			Workers:       getEnvAsInt("COLLECTOR_WORKERS", 1),
			EntityTimeout: getEnvAsDuration("COLLECTOR_ENTITY_TIMEOUT", 0),
			TargetSources: getEnvAsSlice("AUDIT_SERVERS", nil),
		},
		Evaluator: EvaluatorConfig{
			BaseURL:    getEnv("AUDIT_API_URL", "http://localhost:8081"),
			Token:      getEnv("AUDIT_API_TOKEN", ""),
			Timeout:    getEnvAsDuration("AUDIT_API_TIMEOUT", 60*time.Second),
			MaxRetries: getEnvAsInt("AUDIT_API_MAX_RETRIES", 0),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			LockTTL:  getEnvAsDuration("REDIS_LOCK_TTL", 2*time.Minute),
		},
		Cmdb: CmdbConfig{
			CacheSize: getEnvAsInt("CMDB_CACHE_SIZE", 1024),
			CacheTTL:  getEnvAsDuration("CMDB_CACHE_TTL", 10*time.Minute),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
			Issuer:    getEnv("AUTH_JWT_ISSUER", "audit-collector"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}
	cfg.Server.TLS.Enabled = getEnvAsBool("TLS_ENABLED", false)
	cfg.Server.TLS.CertFile = getEnv("TLS_CERT_FILE", "certs/cert.pem")
	cfg.Server.TLS.KeyFile = getEnv("TLS_KEY_FILE", "certs/key.pem")

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks struct constraints and the cross-field rules
func (c *Config) Validate() error {
	if err := utils.ValidateStruct(c); err != nil {
		if fields := utils.GetValidationFields(err); len(fields) > 0 {
			return fmt.Errorf("%w: %v", err, fields)
		}
		return err
	}

	// Database validation (DATABASE_URL or DB_* vars)
	if c.StoreDriver == StoreDriverPostgres {
		if c.Database.ConnectionString == "" && c.Database.Host == "" {
			return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
		}
		if c.Database.ConnectionString == "" {
			if c.Database.User == "" {
				return fmt.Errorf("database user is required")
			}
			if c.Database.Database == "" {
				return fmt.Errorf("database name is required")
			}
		}
	}

	// The manual trigger endpoint must be protected in production
	if c.IsProduction() && c.Auth.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required in production")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// Enabled reports whether the distributed lock is configured
func (c *RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "dev"),
		Password:        getEnv("DB_PASSWORD", "audit_password"),
		Database:        getEnv("DB_NAME", "audit"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice splits a comma separated value, dropping empty entries
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
