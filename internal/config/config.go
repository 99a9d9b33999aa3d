package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Redis       RedisConfig       `yaml:"redis"`
	DynamoDB    DynamoDBConfig    `yaml:"dynamodb"`
	Conversions ConversionsConfig `yaml:"conversions"`
	Retry       RetryConfig       `yaml:"retry"`
	Attribution AttributionConfig `yaml:"attribution"`
	Identity    IdentityConfig    `yaml:"identity"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// RedisConfig holds the device-tier store connection settings
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DynamoDBConfig holds the durable user-record table settings
type DynamoDBConfig struct {
	TableName  string `yaml:"table_name"`
	Region     string `yaml:"region"`
	AWSProfile string `yaml:"aws_profile"`
}

// ConversionsConfig holds the external conversion events API settings
type ConversionsConfig struct {
	BaseURL        string `yaml:"base_url"`
	AppID          string `yaml:"app_id"`
	AccessToken    string `yaml:"access_token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Enabled        bool   `yaml:"enabled"`
}

// RetryConfig bounds conversion-event delivery attempts
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	BaseDelayMS int `yaml:"base_delay_ms"`
}

// BaseDelay returns the configured base backoff delay.
func (r RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMS) * time.Millisecond
}

// AttributionConfig holds device-tier retention settings
type AttributionConfig struct {
	// How long an unconsumed device-local record is kept. Zero disables
	// expiry.
	DeviceRecordTTLHours int `yaml:"device_record_ttl_hours"`
}

// DeviceRecordTTL returns the device-tier retention as a duration.
func (a AttributionConfig) DeviceRecordTTL() time.Duration {
	return time.Duration(a.DeviceRecordTTLHours) * time.Hour
}

// IdentityConfig holds the identity provider settings for the auth
// readiness gate
type IdentityConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TokenURL     string `yaml:"token_url"`
}

// TelemetryConfig holds the dispatch-outcome audit queue settings
type TelemetryConfig struct {
	QueueURL  string `yaml:"queue_url"`
	AWSRegion string `yaml:"aws_region"`
	Enabled   bool   `yaml:"enabled"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.DynamoDB.Region == "" {
		cfg.DynamoDB.Region = "us-west-2"
	}
	if cfg.DynamoDB.TableName == "" {
		cfg.DynamoDB.TableName = "attribution-relay-users"
	}
	if cfg.Conversions.TimeoutSeconds == 0 {
		cfg.Conversions.TimeoutSeconds = 30
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.BaseDelayMS == 0 {
		cfg.Retry.BaseDelayMS = 500
	}
	if cfg.Attribution.DeviceRecordTTLHours == 0 {
		cfg.Attribution.DeviceRecordTTLHours = 24 * 30
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}
	if table := os.Getenv("DYNAMODB_TABLE"); table != "" {
		cfg.DynamoDB.TableName = table
	}
	if region := os.Getenv("AWS_REGION_OVERRIDE"); region != "" {
		cfg.DynamoDB.Region = region
	}
	if token := os.Getenv("CONVERSIONS_ACCESS_TOKEN"); token != "" {
		cfg.Conversions.AccessToken = token
	}
	if appID := os.Getenv("CONVERSIONS_APP_ID"); appID != "" {
		cfg.Conversions.AppID = appID
	}
	if baseURL := os.Getenv("CONVERSIONS_BASE_URL"); baseURL != "" {
		cfg.Conversions.BaseURL = baseURL
	}
	if secret := os.Getenv("IDENTITY_CLIENT_SECRET"); secret != "" {
		cfg.Identity.ClientSecret = secret
	}
	if queueURL := os.Getenv("TELEMETRY_QUEUE_URL"); queueURL != "" {
		cfg.Telemetry.QueueURL = queueURL
		cfg.Telemetry.Enabled = true
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid SERVER_PORT %q: %w", port, err)
		}
		cfg.Server.Port = p
	}

	return cfg, nil
}

// Validate checks that required settings for enabled subsystems are present.
func (c *Config) Validate() error {
	if c.Conversions.Enabled {
		if c.Conversions.BaseURL == "" {
			return fmt.Errorf("conversions.base_url is required when conversions are enabled")
		}
		if c.Conversions.AppID == "" {
			return fmt.Errorf("conversions.app_id is required when conversions are enabled")
		}
		if c.Conversions.AccessToken == "" {
			return fmt.Errorf("conversions.access_token is required when conversions are enabled")
		}
	}
	if c.Telemetry.Enabled && c.Telemetry.QueueURL == "" {
		return fmt.Errorf("telemetry.queue_url is required when telemetry is enabled")
	}
	return nil
}
