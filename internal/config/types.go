package config

import "time"

// Config represents the complete chatrelay configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Server  ServerConfig  `yaml:"server"`
	Webhook WebhookConfig `yaml:"webhook"`
	Threads ThreadsConfig `yaml:"threads"`
	Backend BackendConfig `yaml:"backend"`
	Reply   ReplyConfig   `yaml:"reply,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// ServerConfig defines the HTTP listener.
type ServerConfig struct {
	Listen       string        `yaml:"listen"`
	Path         string        `yaml:"path"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// WebhookConfig holds the platform-facing credentials.
type WebhookConfig struct {
	VerifyToken     string `yaml:"verify_token"`
	AppSecret       string `yaml:"app_secret"`
	SignatureHeader string `yaml:"signature_header"`
	MaxBodySize     string `yaml:"max_body_size"`
}

// ThreadsConfig selects and configures the thread store.
type ThreadsConfig struct {
	Driver     string         `yaml:"driver"`      // sqlite, redis, dynamodb, memory
	IDStrategy string         `yaml:"id_strategy"` // derived, random
	SQLite     SQLiteConfig   `yaml:"sqlite"`
	Redis      RedisConfig    `yaml:"redis"`
	DynamoDB   DynamoDBConfig `yaml:"dynamodb"`
}

// SQLiteConfig defines the file-backed store.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig defines the networked Redis store.
type RedisConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

// DynamoDBConfig defines the DynamoDB store.
type DynamoDBConfig struct {
	Table    string `yaml:"table"`
	Region   string `yaml:"region,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"` // e.g. DynamoDB Local
}

// BackendConfig defines the completion backend.
type BackendConfig struct {
	Kind         string        `yaml:"kind"` // hosted, local
	Endpoint     string        `yaml:"endpoint"`
	APIKey       string        `yaml:"api_key,omitempty"`
	Model        string        `yaml:"model"`
	MaxTokens    int           `yaml:"max_tokens"`
	Timeout      time.Duration `yaml:"timeout"`
	Stream       bool          `yaml:"stream"`
	Greeting     string        `yaml:"greeting"`
	SystemPrompt string        `yaml:"system_prompt,omitempty"`
	Retry        RetryConfig   `yaml:"retry"`
}

// RetryConfig defines the explicit retry wrapper around the backend.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
}

// ReplyConfig defines delivery of generated replies back to the user.
type ReplyConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BaseURL       string        `yaml:"base_url"`
	APIVersion    string        `yaml:"api_version"`
	PhoneNumberID string        `yaml:"phone_number_id"`
	AccessToken   string        `yaml:"access_token"`
	Timeout       time.Duration `yaml:"timeout"`
}

// Backend kinds.
const (
	BackendHosted = "hosted"
	BackendLocal  = "local"
)

// Thread store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
	DriverDynamoDB = "dynamodb"
	DriverMemory   = "memory"
)

// Thread id strategies.
const (
	IDDerived = "derived"
	IDRandom  = "random"
)

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "chatrelay",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Server: ServerConfig{
			Listen:      "0.0.0.0:8000",
			Path:        "/webhook",
			ReadTimeout: 10 * time.Second,
		},
		Webhook: WebhookConfig{
			SignatureHeader: "X-Hub-Signature-256",
			MaxBodySize:     "1MB",
		},
		Threads: ThreadsConfig{
			Driver:     DriverSQLite,
			IDStrategy: IDDerived,
			SQLite:     SQLiteConfig{Path: "./data/threads.db"},
			Redis:      RedisConfig{Prefix: "thread:"},
		},
		Backend: BackendConfig{
			Kind:      BackendLocal,
			MaxTokens: 1000,
			Timeout:   30 * time.Second,
			Greeting:  "Hello",
			Retry: RetryConfig{
				MaxAttempts: 1,
				Backoff:     500 * time.Millisecond,
			},
		},
		Reply: ReplyConfig{
			BaseURL:    "https://graph.facebook.com",
			APIVersion: "v18.0",
			Timeout:    DefaultReplyTimeout,
		},
	}
}
