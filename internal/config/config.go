package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents runtime configuration derived from environment variables.
type Config struct {
	Server    ServerConfig
	Logging   LoggingConfig
	Store     StoreConfig
	Ingestion IngestionConfig
	OpenAI    OpenAIConfig
}

// ServerConfig holds HTTP server runtime parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigin   string
}

// LoggingConfig represents structured logging configuration.
type LoggingConfig struct {
	Level  slog.Level
	Format string
}

// StoreConfig selects and tunes the persistence backend.
type StoreConfig struct {
	Backend        string // "postgres" or "memory"
	DatabaseURL    string
	MaxConnections int
	CallTimeout    time.Duration
	RecordsSchema  string
}

// IngestionConfig tunes the ingestion pipeline.
type IngestionConfig struct {
	StrictSchema      bool
	MaxBodyBytes      int64
	MaxBatchSize      int
	IdempotencyWindow time.Duration

	// RunRetention bounds how long ingestion history is kept. Zero keeps it forever.
	RunRetention        time.Duration
	MaintenanceInterval time.Duration
}

// OpenAIConfig configures the language model used for config derivation.
// An empty APIKey selects the rule-based deriver.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	Timeout     time.Duration
}

const (
	defaultPort            = "8080"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second

	defaultLogFormat = "json"

	BackendPostgres = "postgres"
	BackendMemory   = "memory"

	defaultMaxConnections = 25
	defaultStoreTimeout   = 10 * time.Second
	defaultRecordsSchema  = "ingest"

	defaultMaxBodyBytes = 10 << 20
	defaultMaxBatchSize = 5000

	defaultRunRetention        = 30 * 24 * time.Hour
	defaultMaintenanceInterval = 10 * time.Minute

	defaultOpenAIModel       = "gpt-4o-mini"
	defaultOpenAITemperature = 0.2
	defaultOpenAITimeout     = 60 * time.Second
)

// Load reads configuration from environment variables, applying defaults when
// values are not provided or invalid.
func Load() (Config, error) {
	// Cloud Run sets PORT, but allow SERVER_PORT override for local dev
	port := getEnv("PORT", "")
	if port == "" {
		port = getEnv("SERVER_PORT", defaultPort)
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            port,
			ReadTimeout:     defaultReadTimeout,
			WriteTimeout:    defaultWriteTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
			AllowedOrigin:   os.Getenv("CORS_ALLOWED_ORIGIN"),
		},
		Logging: LoggingConfig{
			Level:  slog.LevelInfo,
			Format: defaultLogFormat,
		},
		Store: StoreConfig{
			Backend:        BackendPostgres,
			MaxConnections: defaultMaxConnections,
			CallTimeout:    defaultStoreTimeout,
			RecordsSchema:  defaultRecordsSchema,
		},
		Ingestion: IngestionConfig{
			MaxBodyBytes:        defaultMaxBodyBytes,
			MaxBatchSize:        defaultMaxBatchSize,
			RunRetention:        defaultRunRetention,
			MaintenanceInterval: defaultMaintenanceInterval,
		},
		OpenAI: OpenAIConfig{
			APIKey:      os.Getenv("OPENAI_API_KEY"),
			Model:       getEnv("OPENAI_MODEL", defaultOpenAIModel),
			Temperature: defaultOpenAITemperature,
			Timeout:     defaultOpenAITimeout,
		},
	}

	if v := os.Getenv("SERVER_READ_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_READ_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.ReadTimeout = d
	}

	if v := os.Getenv("SERVER_WRITE_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_WRITE_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.WriteTimeout = d
	}

	if v := os.Getenv("SERVER_SHUTDOWN_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_SHUTDOWN_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.ShutdownTimeout = d
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		cfg.Logging.Level = level
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		switch v {
		case "json", "text":
			cfg.Logging.Format = v
		default:
			return Config{}, fmt.Errorf("invalid LOG_FORMAT: must be 'json' or 'text'")
		}
	}

	if err := loadStore(&cfg.Store); err != nil {
		return Config{}, err
	}

	if err := loadIngestion(&cfg.Ingestion); err != nil {
		return Config{}, err
	}

	if v := os.Getenv("OPENAI_TEMPERATURE"); v != "" {
		temp, err := strconv.ParseFloat(v, 32)
		if err != nil || temp < 0 || temp > 2 {
			return Config{}, fmt.Errorf("invalid OPENAI_TEMPERATURE: must be a number between 0 and 2")
		}
		cfg.OpenAI.Temperature = float32(temp)
	}

	if v := os.Getenv("OPENAI_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid OPENAI_TIMEOUT_SECONDS: %w", err)
		}
		cfg.OpenAI.Timeout = d
	}

	return cfg, nil
}

func loadStore(cfg *StoreConfig) error {
	if v := os.Getenv("STORE_BACKEND"); v != "" {
		switch v {
		case BackendPostgres, BackendMemory:
			cfg.Backend = v
		default:
			return fmt.Errorf("invalid STORE_BACKEND: must be 'postgres' or 'memory'")
		}
	}

	if v := os.Getenv("STORE_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil || d == 0 {
			return fmt.Errorf("invalid STORE_TIMEOUT_SECONDS: must be a positive integer")
		}
		cfg.CallTimeout = d
	}

	if v := os.Getenv("DB_MAX_CONNECTIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid DB_MAX_CONNECTIONS: must be a positive integer")
		}
		cfg.MaxConnections = n
	}

	if v := os.Getenv("RECORDS_SCHEMA"); v != "" {
		cfg.RecordsSchema = v
	}

	// A missing database URL surfaces when the store is opened.
	if cfg.Backend == BackendPostgres {
		if url, err := BuildDatabaseURL(); err == nil {
			cfg.DatabaseURL = url
		}
	}

	return nil
}

func loadIngestion(cfg *IngestionConfig) error {
	if v := os.Getenv("INGEST_STRICT_SCHEMA"); v != "" {
		strict, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid INGEST_STRICT_SCHEMA: must be a boolean")
		}
		cfg.StrictSchema = strict
	}

	if v := os.Getenv("INGEST_MAX_BODY_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid INGEST_MAX_BODY_BYTES: must be a positive integer")
		}
		cfg.MaxBodyBytes = n
	}

	if v := os.Getenv("INGEST_MAX_BATCH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid INGEST_MAX_BATCH: must be a positive integer")
		}
		cfg.MaxBatchSize = n
	}

	if v := os.Getenv("IDEMPOTENCY_WINDOW_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("invalid IDEMPOTENCY_WINDOW_SECONDS: %w", err)
		}
		cfg.IdempotencyWindow = d
	}

	if v := os.Getenv("RUN_RETENTION_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid RUN_RETENTION_DAYS: must be a non-negative integer")
		}
		cfg.RunRetention = time.Duration(n) * 24 * time.Hour
	}

	if v := os.Getenv("MAINTENANCE_INTERVAL_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil || d == 0 {
			return fmt.Errorf("invalid MAINTENANCE_INTERVAL_SECONDS: must be a positive integer")
		}
		cfg.MaintenanceInterval = d
	}

	return nil
}

// BuildDatabaseURL returns DATABASE_URL when set, otherwise a Unix socket
// connection string for a Cloud SQL instance mounted at
// /cloudsql/INSTANCE_CONNECTION_NAME.
func BuildDatabaseURL() (string, error) {
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		return dbURL, nil
	}

	instance := os.Getenv("INSTANCE_CONNECTION_NAME")
	dbUser := os.Getenv("DB_USER")
	dbPassword := os.Getenv("DB_PASSWORD")
	dbName := os.Getenv("DB_NAME")

	if instance == "" {
		return "", fmt.Errorf("neither DATABASE_URL nor INSTANCE_CONNECTION_NAME is set")
	}

	if dbUser == "" || dbName == "" {
		return "", fmt.Errorf("DB_USER and DB_NAME must be set when using INSTANCE_CONNECTION_NAME")
	}

	socketPath := fmt.Sprintf("/cloudsql/%s", instance)
	if dbPassword == "" {
		// IAM authentication
		return fmt.Sprintf("host=%s user=%s dbname=%s sslmode=disable", socketPath, dbUser, dbName), nil
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s sslmode=disable",
		socketPath, dbUser, dbPassword, dbName), nil
}

// RedactDatabaseURL hides the password of a postgres:// URL for logging.
func RedactDatabaseURL(connStr string) string {
	if !strings.HasPrefix(connStr, "postgresql://") && !strings.HasPrefix(connStr, "postgres://") {
		if strings.Contains(connStr, "password=") {
			return "host=<redacted>"
		}
		return connStr
	}

	parts := strings.SplitN(connStr, "@", 2)
	if len(parts) != 2 {
		return connStr
	}
	userParts := strings.Split(parts[0], ":")
	if len(userParts) >= 3 {
		return userParts[0] + ":" + userParts[1] + ":***@" + parts[1]
	}
	return connStr
}

func parseSeconds(raw string) (time.Duration, error) {
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0, fmt.Errorf("must be a non-negative integer")
	}
	return time.Duration(seconds) * time.Second, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch raw {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("must be one of debug, info, warn, error")
	}
}
