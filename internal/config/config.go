// Package config handles loading application configuration from environment
// variables. All config is centralized here so no other package reads env
// vars directly. Sensible defaults are provided for development, except for
// the envelope-encryption key which is always required and validated at
// startup -- a malformed key must stop the process before it listens.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
)

// encryptionKeyLength is the required length of the operator-supplied
// ENCRYPTION_KEY. The 256-bit envelope key is derived from it once at
// startup via SHA-256 (see internal/vault).
const encryptionKeyLength = 64

// Config holds all application configuration. Populated from environment
// variables at startup. Passed to other packages via dependency injection.
type Config struct {
	// Env is the runtime environment: "development" or "production".
	Env string

	// Port is the HTTP listen port (default: 8080).
	Port int

	// BaseURL is the public-facing URL used for links and redirects.
	BaseURL string

	// Database holds MariaDB connection settings.
	Database DatabaseConfig

	// Redis holds Redis connection settings.
	Redis RedisConfig

	// Auth holds authentication-related settings.
	Auth AuthConfig
}

// DatabaseConfig holds MariaDB connection parameters. Individual fields
// (Host, User, Password, Name) are read from separate env vars so container
// orchestrators can manage each independently. If DATABASE_URL is set, it
// takes precedence over the individual fields.
type DatabaseConfig struct {
	// Host is the MariaDB address in host:port format (default: "localhost:3306").
	// If no port is specified, 3306 is appended automatically.
	Host string

	// User is the MariaDB username (default: "signet").
	User string

	// Password is the MariaDB password (default: "signet").
	Password string

	// Name is the database name (default: "signet").
	Name string

	// dsnOverride is set when DATABASE_URL is provided, bypassing individual fields.
	dsnOverride string

	// MaxOpenConns is the maximum number of open connections in the pool.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections in the pool.
	MaxIdleConns int

	// ConnMaxLifetime is how long a connection can be reused.
	ConnMaxLifetime time.Duration
}

// DSN returns the go-sql-driver/mysql connection string. If DATABASE_URL was
// set, it is returned as-is. Otherwise the DSN is built from the individual
// Host/User/Password/Name fields using the driver's Config.FormatDSN()
// to safely handle special characters in passwords.
func (d DatabaseConfig) DSN() string {
	if d.dsnOverride != "" {
		return d.dsnOverride
	}
	cfg := mysql.NewConfig()
	cfg.User = d.User
	cfg.Passwd = d.Password
	cfg.Net = "tcp"
	cfg.Addr = ensurePort(d.Host, "3306")
	cfg.DBName = d.Name
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

// ensurePort appends the default port if the host string doesn't include one.
func ensurePort(host, defaultPort string) string {
	_, _, err := net.SplitHostPort(host)
	if err != nil {
		return net.JoinHostPort(host, defaultPort)
	}
	return host
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379").
	URL string
}

// AuthConfig holds authentication and lockout settings.
type AuthConfig struct {
	// EncryptionKey is the 64-character operator secret the process-wide
	// envelope key is derived from. Required; validated in Load.
	EncryptionKey string

	// SessionTTL is how long sessions last before expiring.
	SessionTTL time.Duration

	// MaxAttempts is the failed sign-in count that locks an identifier.
	MaxAttempts int

	// LockoutWindow is the sliding lockout window for failed sign-ins.
	LockoutWindow time.Duration

	// SignInDelay is the fixed artificial delay added to every sign-in
	// attempt, success or failure, to blunt response-time enumeration.
	SignInDelay time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
// Returns an error if ENCRYPTION_KEY is missing or malformed -- the caller
// must treat that as fatal.
func Load() (*Config, error) {
	cfg := &Config{
		Env:     getEnv("ENV", "development"),
		Port:    getEnvInt("PORT", 8080),
		BaseURL: getEnv("BASE_URL", "http://localhost:8080"),

		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost:3306"),
			User:            getEnv("DB_USER", "signet"),
			Password:        getEnv("DB_PASSWORD", "signet"),
			Name:            getEnv("DB_NAME", "signet"),
			dsnOverride:     getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},

		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379"),
		},

		Auth: AuthConfig{
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
			SessionTTL:    getEnvDuration("SESSION_TTL", 24*time.Hour),
			MaxAttempts:   getEnvInt("SIGNIN_MAX_ATTEMPTS", 5),
			LockoutWindow: getEnvDuration("SIGNIN_LOCKOUT_WINDOW", 300*time.Second),
			SignInDelay:   getEnvDuration("SIGNIN_DELAY", 500*time.Millisecond),
		},
	}

	// Fail fast, never fail silent: every envelope in the database is bound
	// to this key, so starting with a wrong or missing one would make stored
	// TOTP secrets unreadable and write new data under a different key.
	if cfg.Auth.EncryptionKey == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if len(cfg.Auth.EncryptionKey) != encryptionKeyLength {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be exactly %d characters long, got %d",
			encryptionKeyLength, len(cfg.Auth.EncryptionKey))
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development" || c.Env == "dev"
}

// IsProduction returns true if running in production mode. Controls the
// Secure attribute on the session cookie.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// --- Helper functions for reading environment variables ---

// getEnv reads a string env var or returns the default.
func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvInt reads an integer env var or returns the default.
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvDuration reads a duration env var (e.g., "24h") or returns the default.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
