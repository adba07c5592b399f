package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the full application configuration, assembled from the
// environment with optional .env overrides.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Logging   LoggingConfig
	Ingestion IngestionConfig
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig holds PostgreSQL connection and pool settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level string
}

// IngestionConfig holds ingestion defaults
type IngestionConfig struct {
	DataDir string
}

// LoadConfig reads configuration from the environment. A .env file in
// the working directory is loaded first when present; real environment
// variables win over .env entries.
func LoadConfig() (*Config, error) {
	godotenv.Load()

	reader := &envReader{}

	cfg := &Config{
		Server: ServerConfig{
			Host:         reader.str("SERVER_HOST", "0.0.0.0"),
			Port:         reader.integer("SERVER_PORT", 8080),
			ReadTimeout:  reader.duration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: reader.duration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  reader.duration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			Host:            reader.str("DB_HOST", "localhost"),
			Port:            reader.integer("DB_PORT", 5432),
			User:            reader.str("DB_USER", "postgres"),
			Password:        reader.str("DB_PASSWORD", "postgres"),
			Database:        reader.str("DB_NAME", "weather"),
			SSLMode:         reader.str("DB_SSLMODE", "disable"),
			MaxOpenConns:    reader.integer("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    reader.integer("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: reader.duration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: reader.duration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
		},
		Logging: LoggingConfig{
			Level: reader.str("LOG_LEVEL", "info"),
		},
		Ingestion: IngestionConfig{
			DataDir: reader.str("INGESTION_DATA_DIR", "data/wx_data"),
		},
	}

	if reader.err != nil {
		return nil, reader.err
	}

	return cfg, nil
}

// Validate checks the configuration for values no component can run
// with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("database port out of range: %d", c.Database.Port)
	}

	if c.Database.User == "" {
		return fmt.Errorf("database user is required")
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.Database.MaxOpenConns < 1 {
		return fmt.Errorf("database max open connections must be positive, got %d", c.Database.MaxOpenConns)
	}

	if c.Database.MaxIdleConns < 0 || c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database max idle connections must be between 0 and %d, got %d",
			c.Database.MaxOpenConns, c.Database.MaxIdleConns)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level: %q", c.Logging.Level)
	}

	if c.Ingestion.DataDir == "" {
		return fmt.Errorf("ingestion data directory is required")
	}

	return nil
}

// envReader reads typed environment variables, remembering the first
// malformed value it sees.
type envReader struct {
	err error
}

func (r *envReader) str(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func (r *envReader) integer(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		r.setErr(fmt.Errorf("invalid integer for %s: %q", key, raw))
		return fallback
	}
	return value
}

func (r *envReader) duration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}

	value, err := time.ParseDuration(raw)
	if err != nil {
		r.setErr(fmt.Errorf("invalid duration for %s: %q", key, raw))
		return fallback
	}
	return value
}

func (r *envReader) setErr(err error) {
	if r.err == nil {
		r.err = err
	}
}
