package config

import (
	"math"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the telemetry service
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Transport TransportConfig `yaml:"transport"`
	Backend   BackendConfig   `yaml:"backend"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	Alerts    AlertsConfig    `yaml:"alerts"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// LogConfig holds logger settings
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// TelemetryConfig holds engine tuning knobs
type TelemetryConfig struct {
	SampleRate          *float64 `yaml:"sample_rate"` // nil means 1
	AlertThreshold      int      `yaml:"alert_threshold"`
	MaxRetries          int      `yaml:"max_retries"`
	RetryBaseMS         int      `yaml:"retry_base_ms"`
	RetentionDays       int      `yaml:"retention_days"`
	SweepIntervalHours  int      `yaml:"sweep_interval_hours"`
	MemoryPollSeconds   int      `yaml:"memory_poll_seconds"`
	MaxSeriesLength     int      `yaml:"max_series_length"` // 0 keeps every observation
	SendTimeoutSeconds  int      `yaml:"send_timeout_seconds"`
	DisableMemoryPoll   bool     `yaml:"disable_memory_poll"`
	DistributedSweeping bool     `yaml:"distributed_sweeping"`
}

// SamplingRate returns the session sampling rate in [0, 1].
func (c TelemetryConfig) SamplingRate() float64 {
	if c.SampleRate == nil {
		return 1
	}
	return *c.SampleRate
}

// RetryBase returns the lifecycle retry step as a duration
func (c TelemetryConfig) RetryBase() time.Duration {
	return time.Duration(c.RetryBaseMS) * time.Millisecond
}

// Retention returns the ledger retention window
func (c TelemetryConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// SweepInterval returns how often the ledger sweep runs
func (c TelemetryConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalHours) * time.Hour
}

// MemoryPollInterval returns how often memory pressure is sampled
func (c TelemetryConfig) MemoryPollInterval() time.Duration {
	return time.Duration(c.MemoryPollSeconds) * time.Second
}

// SendTimeout bounds each fire-and-forget network call
func (c TelemetryConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

// TransportConfig holds the analytics backend the engine forwards to
type TransportConfig struct {
	Type           string `yaml:"type"` // "http", "sqs" or "none"
	APIKey         string `yaml:"api_key"`
	Host           string `yaml:"host"`
	QueueURL       string `yaml:"queue_url"`
	AWSRegion      string `yaml:"aws_region"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c TransportConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// BackendConfig holds the optional affiliate HTTP logging endpoint
type BackendConfig struct {
	Enabled        bool   `yaml:"enabled"`
	APIURL         string `yaml:"api_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c BackendConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// StorageConfig holds durable key-value store configuration
type StorageConfig struct {
	Type          string `yaml:"type"` // memory, local, redis, s3, dynamodb, postgres
	LocalPath     string `yaml:"local_path"`
	S3Bucket      string `yaml:"s3_bucket"`
	DynamoDBTable string `yaml:"dynamodb_table"`
	AWSRegion     string `yaml:"aws_region"`
	AWSProfile    string `yaml:"aws_profile"` // Empty string uses default credential chain
	DatabaseURL   string `yaml:"database_url"`
	KeyPrefix     string `yaml:"key_prefix"`
}

// GetAWSProfile returns the AWS profile, with environment variable override
func (c StorageConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return ""
		}
		return envProfile
	}
	// On ECS/Lambda, don't use a profile - use IAM role
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// RedisConfig holds redis connection settings
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AlertsConfig holds degradation alert delivery settings
type AlertsConfig struct {
	EmailEnabled bool     `yaml:"email_enabled"`
	From         string   `yaml:"from"`
	To           []string `yaml:"to"`
	Region       string   `yaml:"region"`
	AccessKey    string   `yaml:"access_key"`
	SecretKey    string   `yaml:"secret_key"`
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

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied, for running
// without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	// an explicit sample_rate 0 means collect nothing; an absent one means
	// collect everything
	rate := 1.0
	if cfg.Telemetry.SampleRate != nil {
		rate = math.Max(0, math.Min(1, *cfg.Telemetry.SampleRate))
	}
	cfg.Telemetry.SampleRate = &rate
	if cfg.Telemetry.AlertThreshold == 0 {
		cfg.Telemetry.AlertThreshold = 3
	}
	if cfg.Telemetry.MaxRetries == 0 {
		cfg.Telemetry.MaxRetries = 3
	}
	if cfg.Telemetry.RetryBaseMS == 0 {
		cfg.Telemetry.RetryBaseMS = 1000
	}
	if cfg.Telemetry.RetentionDays == 0 {
		cfg.Telemetry.RetentionDays = 30
	}
	if cfg.Telemetry.SweepIntervalHours == 0 {
		cfg.Telemetry.SweepIntervalHours = 24
	}
	if cfg.Telemetry.MemoryPollSeconds == 0 {
		cfg.Telemetry.MemoryPollSeconds = 30
	}
	if cfg.Telemetry.SendTimeoutSeconds == 0 {
		cfg.Telemetry.SendTimeoutSeconds = 5
	}
	if cfg.Transport.Type == "" {
		cfg.Transport.Type = "http"
	}
	if cfg.Transport.TimeoutSeconds == 0 {
		cfg.Transport.TimeoutSeconds = 10
	}
	if cfg.Transport.AWSRegion == "" {
		cfg.Transport.AWSRegion = "us-east-1"
	}
	if cfg.Backend.TimeoutSeconds == 0 {
		cfg.Backend.TimeoutSeconds = 10
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "local"
	}
	if cfg.Storage.LocalPath == "" {
		cfg.Storage.LocalPath = "./data"
	}
	if cfg.Storage.AWSRegion == "" {
		cfg.Storage.AWSRegion = "us-east-1"
	}
	if cfg.Storage.KeyPrefix == "" {
		cfg.Storage.KeyPrefix = "giftscout"
	}
	if cfg.Alerts.Region == "" {
		cfg.Alerts.Region = "us-east-1"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars, so secrets can
// live in .env locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg *Config
	if path == "" {
		cfg = Default()
	} else {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("TELEMETRY_SAMPLE_RATE"); v != "" {
		if rate, err := strconv.ParseFloat(v, 64); err == nil && rate >= 0 && rate <= 1 {
			cfg.Telemetry.SampleRate = &rate
		}
	}
	if v := os.Getenv("TRANSPORT_TYPE"); v != "" {
		cfg.Transport.Type = v
	}
	if v := os.Getenv("TRANSPORT_API_KEY"); v != "" {
		cfg.Transport.APIKey = v
	}
	if v := os.Getenv("TRANSPORT_HOST"); v != "" {
		cfg.Transport.Host = v
	}
	if v := os.Getenv("SQS_QUEUE_URL"); v != "" {
		cfg.Transport.QueueURL = v
	}
	if v := os.Getenv("BACKEND_API_URL"); v != "" {
		cfg.Backend.APIURL = v
		cfg.Backend.Enabled = true
	}
	if v := os.Getenv("STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	// Database override (ECS deployments keep local defaults in config.yaml)
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DatabaseURL = v
	}
	if v := os.Getenv("ALERT_EMAIL_TO"); v != "" {
		cfg.Alerts.To = []string{v}
		cfg.Alerts.EmailEnabled = true
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Alerts.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Alerts.SecretKey = v
	}

	return cfg, nil
}
