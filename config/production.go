// Package config provides configuration management and environment variable handling for the application
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/welleazyhts/Renewal-Backend/utils"
)

// ProductionConfig holds all configuration for production environment
type ProductionConfig struct {
	Database  DatabaseConfig  `json:"database"`
	Server    ServerConfig    `json:"server"`
	Cache     CacheConfig     `json:"cache"`
	Logging   LoggingConfig   `json:"logging"`
	Metrics   MetricsConfig   `json:"metrics"`
	Queue     QueueConfig     `json:"queue"`
	Ingestion IngestionConfig `json:"ingestion"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Email     EmailConfig     `json:"email"`
	SMS       SMSConfig       `json:"sms"`
	WhatsApp  WhatsAppConfig  `json:"whatsapp"`
}

type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	SlowQueryLog    bool          `json:"slow_query_log"`
	SlowQueryTime   time.Duration `json:"slow_query_time"`
}

type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	BodyLimit       int           `json:"body_limit"`
	EnableMetrics   bool          `json:"enable_metrics"`
	TrustedProxies  []string      `json:"trusted_proxies"`
	ProxyHeader     string        `json:"proxy_header"`
}

type CacheConfig struct {
	Enabled     bool          `json:"enabled"`
	RedisURL    string        `json:"redis_url"`
	RedisDB     int           `json:"redis_db"`
	RedisPrefix string        `json:"redis_prefix"`
	DefaultTTL  time.Duration `json:"default_ttl"`
}

type LoggingConfig struct {
	Level      string `json:"level"`  // debug, info, warn, error
	Output     string `json:"output"` // stdout, file, both
	FilePath   string `json:"file_path"`
	MaxSize    int    `json:"max_size"` // MB
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"` // days
	Compress   bool   `json:"compress"`
}

type MetricsConfig struct {
	Enabled        bool   `json:"enabled"`
	PrometheusPath string `json:"prometheus_path"`
}

// QueueConfig tunes the durable message task queue and its workers.
type QueueConfig struct {
	LeaseWindow          time.Duration `json:"lease_window"`
	MaxAttempts          int           `json:"max_attempts"`
	BackoffBase          time.Duration `json:"backoff_base"`
	BackoffMax           time.Duration `json:"backoff_max"`
	WorkerCount          int           `json:"worker_count"`
	ClaimBatch           int           `json:"claim_batch"`
	ExpireQueuedOnResume bool          `json:"expire_queued_on_resume"`
}

type IngestionConfig struct {
	ProgressCheckpoint int   `json:"progress_checkpoint"`
	MaxRows            int   `json:"max_rows"`
	AbortAfterErrors   int   `json:"abort_after_errors"` // 0 disables the abort threshold
	MaxFileSize        int64 `json:"max_file_size"`      // bytes
}

type SchedulerConfig struct {
	CampaignInterval       time.Duration `json:"campaign_interval"`
	RequeueInterval        time.Duration `json:"requeue_interval"`
	ReconciliationInterval time.Duration `json:"reconciliation_interval"`
	DeliverySLA            time.Duration `json:"delivery_sla"`
}

type EmailConfig struct {
	ProviderURL   string        `json:"provider_url"`
	APIKey        string        `json:"api_key"`
	FromEmail     string        `json:"from_email"`
	FromName      string        `json:"from_name"`
	RateLimit     int           `json:"rate_limit"` // messages per second
	RetryAttempts int           `json:"retry_attempts"`
	Timeout       time.Duration `json:"timeout"`
}

type SMSConfig struct {
	ProviderURL   string        `json:"provider_url"`
	APIKey        string        `json:"api_key"`
	SourceNumber  string        `json:"source_number"`
	RateLimit     int           `json:"rate_limit"` // messages per second
	RetryAttempts int           `json:"retry_attempts"`
	Timeout       time.Duration `json:"timeout"`
}

type WhatsAppConfig struct {
	ProviderURL   string        `json:"provider_url"`
	APIKey        string        `json:"api_key"`
	SourceNumber  string        `json:"source_number"`
	RateLimit     int           `json:"rate_limit"` // messages per second
	RetryAttempts int           `json:"retry_attempts"`
	Timeout       time.Duration `json:"timeout"`
}

// LoadProductionConfig loads and validates configuration from environment variables
func LoadProductionConfig() (*ProductionConfig, error) {
	// Load environment variables from .env file
	if err := loadEnvFile(); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &ProductionConfig{
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "renewal"),
			User:            getEnvString("DB_USER", "postgres"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "require"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 100),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 15*time.Minute),
			SlowQueryLog:    getEnvBool("DB_SLOW_QUERY_LOG", true),
			SlowQueryTime:   getEnvDuration("DB_SLOW_QUERY_TIME", 1*time.Second),
		},
		Server: ServerConfig{
			Host:            getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			BodyLimit:       getEnvInt("SERVER_BODY_LIMIT", 32*1024*1024), // 32MB, uploads come through here
			EnableMetrics:   getEnvBool("SERVER_ENABLE_METRICS", true),
			TrustedProxies:  getEnvStringSlice("SERVER_TRUSTED_PROXIES", []string{"127.0.0.1"}),
			ProxyHeader:     getEnvString("SERVER_PROXY_HEADER", "X-Real-IP"),
		},
		Cache: CacheConfig{
			Enabled:     getEnvBool("CACHE_ENABLED", true),
			RedisURL:    getEnvString("REDIS_URL", "redis://localhost:6379"),
			RedisDB:     getEnvInt("REDIS_DB", 0),
			RedisPrefix: getEnvString("REDIS_PREFIX", "renewal:"),
			DefaultTTL:  getEnvDuration("CACHE_DEFAULT_TTL", 1*time.Hour),
		},
		Logging: LoggingConfig{
			Level:      getEnvString("LOG_LEVEL", "info"),
			Output:     getEnvString("LOG_OUTPUT", "both"),
			FilePath:   getEnvString("LOG_FILE_PATH", "/var/log/renewal/app.log"),
			MaxSize:    getEnvInt("LOG_MAX_SIZE", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 10),
			MaxAge:     getEnvInt("LOG_MAX_AGE", 30),
			Compress:   getEnvBool("LOG_COMPRESS", true),
		},
		Metrics: MetricsConfig{
			Enabled:        getEnvBool("METRICS_ENABLED", true),
			PrometheusPath: getEnvString("PROMETHEUS_PATH", "/metrics"),
		},
		Queue: QueueConfig{
			LeaseWindow:          getEnvDuration("QUEUE_LEASE_WINDOW", utils.DefaultLeaseWindow),
			MaxAttempts:          getEnvInt("QUEUE_MAX_ATTEMPTS", utils.DefaultMaxAttempts),
			BackoffBase:          getEnvDuration("QUEUE_BACKOFF_BASE", utils.DefaultBackoffBase),
			BackoffMax:           getEnvDuration("QUEUE_BACKOFF_MAX", utils.DefaultBackoffMax),
			WorkerCount:          getEnvInt("QUEUE_WORKER_COUNT", 8),
			ClaimBatch:           getEnvInt("QUEUE_CLAIM_BATCH", 10),
			ExpireQueuedOnResume: getEnvBool("QUEUE_EXPIRE_QUEUED_ON_RESUME", false),
		},
		Ingestion: IngestionConfig{
			ProgressCheckpoint: getEnvInt("INGESTION_PROGRESS_CHECKPOINT", utils.DefaultProgressCheckpoint),
			MaxRows:            getEnvInt("INGESTION_MAX_ROWS", utils.DefaultMaxRows),
			AbortAfterErrors:   getEnvInt("INGESTION_ABORT_AFTER_ERRORS", 0),
			MaxFileSize:        int64(getEnvInt("INGESTION_MAX_FILE_SIZE", 25*1024*1024)),
		},
		Scheduler: SchedulerConfig{
			CampaignInterval:       getEnvDuration("SCHEDULER_CAMPAIGN_INTERVAL", 30*time.Second),
			RequeueInterval:        getEnvDuration("SCHEDULER_REQUEUE_INTERVAL", 1*time.Minute),
			ReconciliationInterval: getEnvDuration("SCHEDULER_RECONCILIATION_INTERVAL", 10*time.Minute),
			DeliverySLA:            getEnvDuration("SCHEDULER_DELIVERY_SLA", utils.DefaultDeliverySLA),
		},
		Email: EmailConfig{
			ProviderURL:   getEnvString("EMAIL_PROVIDER_URL", "https://api.mailprovider.example.com/v1"),
			APIKey:        getEnvString("EMAIL_API_KEY", ""),
			FromEmail:     getEnvString("EMAIL_FROM_EMAIL", "renewals@welleazy.example.com"),
			FromName:      getEnvString("EMAIL_FROM_NAME", "Renewal Desk"),
			RateLimit:     getEnvInt("EMAIL_RATE_LIMIT", 50),
			RetryAttempts: getEnvInt("EMAIL_RETRY_ATTEMPTS", 2),
			Timeout:       getEnvDuration("EMAIL_TIMEOUT", 15*time.Second),
		},
		SMS: SMSConfig{
			ProviderURL:   getEnvString("SMS_PROVIDER_URL", "https://api.smsprovider.example.com/v2"),
			APIKey:        getEnvString("SMS_API_KEY", ""),
			SourceNumber:  getEnvString("SMS_SOURCE_NUMBER", ""),
			RateLimit:     getEnvInt("SMS_RATE_LIMIT", 30),
			RetryAttempts: getEnvInt("SMS_RETRY_ATTEMPTS", 2),
			Timeout:       getEnvDuration("SMS_TIMEOUT", 10*time.Second),
		},
		WhatsApp: WhatsAppConfig{
			ProviderURL:   getEnvString("WHATSAPP_PROVIDER_URL", "https://graph.waprovider.example.com/v17.0"),
			APIKey:        getEnvString("WHATSAPP_API_KEY", ""),
			SourceNumber:  getEnvString("WHATSAPP_SOURCE_NUMBER", ""),
			RateLimit:     getEnvInt("WHATSAPP_RATE_LIMIT", 20),
			RetryAttempts: getEnvInt("WHATSAPP_RETRY_ATTEMPTS", 2),
			Timeout:       getEnvDuration("WHATSAPP_TIMEOUT", 15*time.Second),
		},
	}

	if err := ValidateProductionConfig(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadEnvFile() error {
	envFile := ".env"

	// Check if .env file exists
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		// .env file doesn't exist, continue with environment variables
		return nil
	}

	// Open .env file
	file, err := os.Open(envFile)
	if err != nil {
		return fmt.Errorf("failed to open .env file: %w", err)
	}
	defer file.Close()

	// Read file line by line
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse key=value pairs
		if strings.Contains(line, "=") {
			parts := strings.SplitN(line, "=", 2)
			if len(parts) == 2 {
				key := strings.TrimSpace(parts[0])
				value := strings.TrimSpace(parts[1])

				// Remove quotes if present
				if (strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`)) ||
					(strings.HasPrefix(value, `'`) && strings.HasSuffix(value, `'`)) {
					value = value[1 : len(value)-1]
				}

				// Set environment variable if not already set
				if os.Getenv(key) == "" {
					os.Setenv(key, value)
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading .env file: %w", err)
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

// ValidateProductionConfig validates the production configuration
func ValidateProductionConfig(cfg *ProductionConfig) error {
	var errors []string

	if cfg.Database.Host == "" {
		errors = append(errors, "database host is required")
	}
	if cfg.Database.Name == "" {
		errors = append(errors, "database name is required")
	}
	if cfg.Database.User == "" {
		errors = append(errors, "database user is required")
	}
	if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
		errors = append(errors, "database port must be between 1 and 65535")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errors = append(errors, "server port must be between 1 and 65535")
	}
	if cfg.Queue.LeaseWindow <= 0 {
		errors = append(errors, "queue lease window must be positive")
	}
	if cfg.Queue.MaxAttempts < 1 {
		errors = append(errors, "queue max attempts must be at least 1")
	}
	if cfg.Queue.BackoffBase <= 0 || cfg.Queue.BackoffMax < cfg.Queue.BackoffBase {
		errors = append(errors, "queue backoff window is invalid")
	}
	if cfg.Queue.WorkerCount < 1 {
		errors = append(errors, "queue worker count must be at least 1")
	}
	if cfg.Ingestion.ProgressCheckpoint < 1 {
		errors = append(errors, "ingestion progress checkpoint must be at least 1")
	}
	if cfg.Ingestion.MaxRows < 1 {
		errors = append(errors, "ingestion max rows must be at least 1")
	}
	if cfg.Scheduler.DeliverySLA <= 0 {
		errors = append(errors, "scheduler delivery SLA must be positive")
	}

	if len(errors) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

// DSN builds the postgres connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}
