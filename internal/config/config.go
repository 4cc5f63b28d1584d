package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the workflow engine.
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	HTTP          HTTPConfig          `mapstructure:"http"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	MessageQueue  MessageQueueConfig  `mapstructure:"message_queue"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Workflow      WorkflowConfig      `mapstructure:"workflow"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// HTTPConfig is the debug/metrics surface — not a workflow-invocation API.
type HTTPConfig struct {
	Address string `mapstructure:"address"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// Enabled toggles the read-through step-index cache. When false the
	// engine runs directly against the PersistenceGateway.
	Enabled bool `mapstructure:"enabled"`
}

type MessageQueueConfig struct {
	URL      string          `mapstructure:"url"`
	Exchange string          `mapstructure:"exchange"`
	Enabled  bool            `mapstructure:"enabled"`
	Consumer ConsumerConfig  `mapstructure:"consumer"`
}

type ConsumerConfig struct {
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

type ObservabilityConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
	Environment  string `mapstructure:"environment"`
	MetricsAddr  string `mapstructure:"metrics_addr"`
}

// WorkflowConfig governs the default retry/timeout policy applied when a
// step's own StepOptions leaves a field unset, and process-wide execution
// limits.
type WorkflowConfig struct {
	MaxConcurrentWorkflows int    `mapstructure:"max_concurrent_workflows"`
	DefaultRetryLimit      int    `mapstructure:"default_retry_limit"`
	DefaultRetryDelay      string `mapstructure:"default_retry_delay"`
	DefaultBackoff         string `mapstructure:"default_backoff"`
	DefaultStepTimeout     string `mapstructure:"default_step_timeout"`
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/durableflow")

	setDefaults()
	bindEnvVars()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("app.name", "durableflow-engine")
	viper.SetDefault("app.version", "0.1.0")
	viper.SetDefault("app.environment", "development")

	viper.SetDefault("http.address", ":8080")

	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 10)
	viper.SetDefault("database.conn_max_lifetime", "5m")

	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.enabled", true)

	viper.SetDefault("message_queue.exchange", "workflow.events")
	viper.SetDefault("message_queue.enabled", true)
	viper.SetDefault("message_queue.consumer.publish_timeout", "2s")

	viper.SetDefault("observability.otlp_endpoint", "http://localhost:4317")
	viper.SetDefault("observability.service_name", "durableflow-engine")
	viper.SetDefault("observability.environment", "development")
	viper.SetDefault("observability.metrics_addr", ":9090")

	viper.SetDefault("workflow.max_concurrent_workflows", 100)
	viper.SetDefault("workflow.default_retry_limit", 0)
	viper.SetDefault("workflow.default_retry_delay", "1 second")
	viper.SetDefault("workflow.default_backoff", "fixed")
	viper.SetDefault("workflow.default_step_timeout", "30 seconds")
}

func bindEnvVars() {
	viper.BindEnv("app.environment", "APP_ENV")

	viper.BindEnv("http.address", "HTTP_ADDR")

	viper.BindEnv("database.url", "POSTGRES_URL")
	viper.BindEnv("database.max_open_conns", "DB_MAX_OPEN_CONNS")
	viper.BindEnv("database.max_idle_conns", "DB_MAX_IDLE_CONNS")
	viper.BindEnv("database.conn_max_lifetime", "DB_CONN_MAX_LIFETIME")

	viper.BindEnv("redis.url", "REDIS_URL")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")
	viper.BindEnv("redis.enabled", "REDIS_ENABLED")

	viper.BindEnv("message_queue.url", "RABBITMQ_URL")
	viper.BindEnv("message_queue.enabled", "RABBITMQ_ENABLED")

	viper.BindEnv("observability.otlp_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	viper.BindEnv("observability.service_name", "OTEL_SERVICE_NAME")

	viper.BindEnv("workflow.max_concurrent_workflows", "WORKFLOW_MAX_CONCURRENCY")
	viper.BindEnv("workflow.default_retry_limit", "WORKFLOW_DEFAULT_RETRY_LIMIT")
	viper.BindEnv("workflow.default_step_timeout", "WORKFLOW_DEFAULT_STEP_TIMEOUT")
}

func validate(cfg *Config) error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}

	if cfg.MessageQueue.Enabled && cfg.MessageQueue.URL == "" {
		return fmt.Errorf("message_queue.url is required when message_queue.enabled is true")
	}

	if cfg.Workflow.MaxConcurrentWorkflows <= 0 {
		return fmt.Errorf("workflow.max_concurrent_workflows must be greater than 0")
	}

	return nil
}

// GetEnvAsInt retrieves an environment variable as an integer with a default value.
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsBool retrieves an environment variable as a boolean with a default value.
func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value.
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
