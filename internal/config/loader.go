package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// SSMPrefix marks a secret value that must be fetched from AWS SSM Parameter Store.
const SSMPrefix = "ssm:"

// Load reads and parses configuration from a file or a directory holding config.yaml.
// Defaults are applied before validation; any validation failure is returned as an error
// so that startup aborts instead of failing at request time.
func Load(configPath string) (*Config, error) {
	cfg, err := ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ReadFile locates and parses the configuration without validating it.
func ReadFile(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data)
}

// Parse interpolates ${VAR} references and decodes YAML on top of Defaults().
// It does not validate.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	interpolated := interpolateEnv(string(data))
	if err := yaml.Unmarshal([]byte(interpolated), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	applyConfigDefaults(cfg)
	return cfg, nil
}

// DiscoverConfigDir finds the config by checking standard locations.
// Priority order: $CHATRELAY_CONFIG_DIR, ~/.config/chatrelay, /etc/chatrelay, ./config.yaml
func DiscoverConfigDir() (string, error) {
	if dir := os.Getenv("CHATRELAY_CONFIG_DIR"); dir != "" {
		if _, err := os.Stat(dir); err == nil {
			return dir, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfigDir := filepath.Join(homeDir, ".config", "chatrelay")
		if _, err := os.Stat(userConfigDir); err == nil {
			return userConfigDir, nil
		}
	}

	systemConfigDir := "/etc/chatrelay"
	if _, err := os.Stat(systemConfigDir); err == nil {
		return systemConfigDir, nil
	}

	legacyConfigPath := "./config.yaml"
	if _, err := os.Stat(legacyConfigPath); err == nil {
		return legacyConfigPath, nil
	}

	return "", fmt.Errorf("no config found (checked: $CHATRELAY_CONFIG_DIR, ~/.config/chatrelay, /etc/chatrelay, ./config.yaml)")
}

// applyConfigDefaults fills values that depend on other settings.
func applyConfigDefaults(cfg *Config) {
	cfg.Service.LogLevel = strings.ToLower(cfg.Service.LogLevel)
	cfg.Backend.Kind = strings.ToLower(cfg.Backend.Kind)
	cfg.Threads.Driver = strings.ToLower(cfg.Threads.Driver)

	if cfg.Server.WriteTimeout == 0 {
		// The response is written after the backend call and the reply return.
		cfg.Server.WriteTimeout = cfg.HandlerBudget()
	}
	if cfg.Backend.Retry.MaxAttempts <= 0 {
		cfg.Backend.Retry.MaxAttempts = 1
	}
	if !strings.HasPrefix(cfg.Server.Path, "/") {
		cfg.Server.Path = "/" + cfg.Server.Path
	}
}

// Secrets returns pointers to every secret-bearing field keyed by its YAML path.
// Callers use it to resolve ssm: references in place.
func (c *Config) Secrets() map[string]*string {
	return map[string]*string{
		"webhook.verify_token": &c.Webhook.VerifyToken,
		"webhook.app_secret":   &c.Webhook.AppSecret,
		"backend.api_key":      &c.Backend.APIKey,
		"reply.access_token":   &c.Reply.AccessToken,
	}
}

// HandlerBudget is the longest one webhook request can take to answer: every
// backend attempt at its full timeout, the doubling backoff sleeps between
// them, the reply call when replies are enabled, and writeSlack.
func (c *Config) HandlerBudget() time.Duration {
	attempts := c.Backend.Retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	budget := time.Duration(attempts) * c.Backend.Timeout
	wait := c.Backend.Retry.Backoff
	for i := 1; i < attempts; i++ {
		budget += wait
		wait *= 2
	}
	if c.Reply.Enabled {
		replyTimeout := c.Reply.Timeout
		if replyTimeout <= 0 {
			replyTimeout = DefaultReplyTimeout
		}
		budget += replyTimeout
	}
	return budget + writeSlack
}

// Validate performs validation on the configuration. Mandatory values are the
// verification token, the signing secret, the backend endpoint and model, and the
// API key for hosted backends.
func Validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if f := cfg.Service.LogFormat; f != "json" && f != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", f)
	}

	if cfg.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}

	for _, field := range []string{"webhook.verify_token", "webhook.app_secret"} {
		if err := requireSecret(field, *cfg.Secrets()[field]); err != nil {
			return err
		}
	}
	if cfg.Webhook.SignatureHeader == "" {
		return fmt.Errorf("webhook.signature_header is required")
	}
	if _, err := ParseSize(cfg.Webhook.MaxBodySize); err != nil {
		return fmt.Errorf("webhook.max_body_size %q: %w", cfg.Webhook.MaxBodySize, err)
	}

	if err := validateThreads(&cfg.Threads); err != nil {
		return err
	}
	if err := validateBackend(cfg); err != nil {
		return err
	}

	if cfg.Reply.Enabled {
		if cfg.Reply.PhoneNumberID == "" {
			return fmt.Errorf("reply.phone_number_id is required when reply.enabled is true")
		}
		if err := requireSecret("reply.access_token", cfg.Reply.AccessToken); err != nil {
			return err
		}
	}
	return nil
}

func validateThreads(tc *ThreadsConfig) error {
	switch tc.Driver {
	case DriverSQLite:
		if tc.SQLite.Path == "" {
			return fmt.Errorf("threads.sqlite.path is required")
		}
	case DriverRedis:
		if tc.Redis.URL == "" {
			return fmt.Errorf("threads.redis.url is required")
		}
	case DriverDynamoDB:
		if tc.DynamoDB.Table == "" {
			return fmt.Errorf("threads.dynamodb.table is required")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("threads.driver must be one of: sqlite, redis, dynamodb, memory (got %q)", tc.Driver)
	}

	if tc.IDStrategy != IDDerived && tc.IDStrategy != IDRandom {
		return fmt.Errorf("threads.id_strategy must be derived or random (got %q)", tc.IDStrategy)
	}
	return nil
}

func validateBackend(cfg *Config) error {
	bc := &cfg.Backend
	if bc.Kind != BackendHosted && bc.Kind != BackendLocal {
		return fmt.Errorf("backend.kind must be hosted or local (got %q)", bc.Kind)
	}
	if bc.Endpoint == "" {
		return fmt.Errorf("backend.endpoint is required")
	}
	if err := checkUnresolved("backend.endpoint", bc.Endpoint); err != nil {
		return err
	}
	u, err := url.Parse(bc.Endpoint)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("backend.endpoint must be an http(s) URL (got %q)", bc.Endpoint)
	}
	if bc.Model == "" {
		return fmt.Errorf("backend.model is required")
	}
	if err := checkUnresolved("backend.model", bc.Model); err != nil {
		return err
	}
	if bc.Kind == BackendHosted {
		if err := requireSecret("backend.api_key", bc.APIKey); err != nil {
			return err
		}
	}
	if bc.Timeout <= 0 {
		return fmt.Errorf("backend.timeout must be positive")
	}
	if bc.MaxTokens <= 0 {
		return fmt.Errorf("backend.max_tokens must be positive")
	}
	if bc.Retry.Backoff < 0 {
		return fmt.Errorf("backend.retry.backoff must not be negative")
	}
	return nil
}

func requireSecret(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	return checkUnresolved(field, value)
}

// checkUnresolved reports ${VAR} placeholders left behind by interpolation.
func checkUnresolved(field, value string) error {
	if matches := envVarPattern.FindStringSubmatch(value); len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Left in place so validation can name the missing variable.
		return match
	})
}

// DefaultMaxBodySize is used when webhook.max_body_size is empty.
const DefaultMaxBodySize = 1048576 // 1 MB

const writeSlack = 5 * time.Second

// DefaultReplyTimeout bounds one reply delivery when reply.timeout is unset.
const DefaultReplyTimeout = 10 * time.Second

// ParseSize parses size strings like "1MB", "512KB", "2048576" to bytes.
// Returns DefaultMaxBodySize if empty.
func ParseSize(size string) (int64, error) {
	if size == "" {
		return DefaultMaxBodySize, nil
	}

	upper := strings.ToUpper(strings.TrimSpace(size))
	multiplier := int64(1)

	switch {
	case strings.HasSuffix(upper, "KB"):
		multiplier = 1024
		upper = strings.TrimSuffix(upper, "KB")
	case strings.HasSuffix(upper, "MB"):
		multiplier = 1024 * 1024
		upper = strings.TrimSuffix(upper, "MB")
	case strings.HasSuffix(upper, "GB"):
		multiplier = 1024 * 1024 * 1024
		upper = strings.TrimSuffix(upper, "GB")
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}

	result := value * multiplier
	if result/multiplier != value {
		return 0, fmt.Errorf("size too large")
	}
	return result, nil
}
