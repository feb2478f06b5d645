package webhook

import (
	"fmt"

	"github.com/mattjoyce/chatrelay/internal/config"
)

// FromGlobalConfig converts the service configuration into webhook.Config.
// Secrets must already be resolved.
func FromGlobalConfig(cfg *config.Config) (Config, error) {
	if cfg == nil {
		return Config{}, fmt.Errorf("config is nil")
	}
	if cfg.Webhook.AppSecret == "" {
		return Config{}, fmt.Errorf("webhook.app_secret is empty")
	}
	if cfg.Webhook.VerifyToken == "" {
		return Config{}, fmt.Errorf("webhook.verify_token is empty")
	}

	maxBody, err := config.ParseSize(cfg.Webhook.MaxBodySize)
	if err != nil {
		return Config{}, fmt.Errorf("invalid webhook.max_body_size %q: %w", cfg.Webhook.MaxBodySize, err)
	}

	wc := Config{
		Listen:          cfg.Server.Listen,
		Path:            cfg.Server.Path,
		VerifyToken:     cfg.Webhook.VerifyToken,
		AppSecret:       cfg.Webhook.AppSecret,
		SignatureHeader: cfg.Webhook.SignatureHeader,
		MaxBodySize:     maxBody,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
	}
	wc.applyDefaults()
	return wc, nil
}

func (c *Config) applyDefaults() {
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.SignatureHeader == "" {
		c.SignatureHeader = DefaultSignatureHeader
	}
	if c.MaxBodySize <= 0 {
		c.MaxBodySize = DefaultMaxBodySize
	}
}
