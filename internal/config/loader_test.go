package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
webhook:
  verify_token: verify-me
  app_secret: s3cret
backend:
  kind: local
  endpoint: http://localhost:11434
  model: llama3
`

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal valid config gets defaults",
			yaml: minimalYAML,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Server.Listen != "0.0.0.0:8000" {
					t.Errorf("server.listen default = %q", cfg.Server.Listen)
				}
				if cfg.Server.Path != "/webhook" {
					t.Errorf("server.path default = %q", cfg.Server.Path)
				}
				if cfg.Webhook.SignatureHeader != "X-Hub-Signature-256" {
					t.Errorf("signature_header default = %q", cfg.Webhook.SignatureHeader)
				}
				if cfg.Threads.Driver != DriverSQLite || cfg.Threads.SQLite.Path == "" {
					t.Errorf("threads defaults not applied: %+v", cfg.Threads)
				}
				if cfg.Threads.IDStrategy != IDDerived {
					t.Errorf("id_strategy default = %q", cfg.Threads.IDStrategy)
				}
				if cfg.Backend.Timeout != 30*time.Second {
					t.Errorf("backend.timeout default = %v", cfg.Backend.Timeout)
				}
				if cfg.Server.WriteTimeout != 35*time.Second {
					t.Errorf("server.write_timeout should follow backend timeout, got %v", cfg.Server.WriteTimeout)
				}
				if cfg.Backend.Retry.MaxAttempts != 1 {
					t.Errorf("retry.max_attempts default = %d", cfg.Backend.Retry.MaxAttempts)
				}
				if cfg.Webhook.MaxBodySize != "1MB" {
					t.Errorf("max_body_size default = %q", cfg.Webhook.MaxBodySize)
				}
			},
		},
		{
			name: "env var interpolation",
			yaml: `
webhook:
  verify_token: ${VERIFY_TOKEN}
  app_secret: ${APP_SECRET}
backend:
  kind: hosted
  endpoint: https://api.openai.com/v1
  api_key: ${OPENAI_API_KEY}
  model: gpt-4o-mini
  timeout: 5s
threads:
  driver: redis
  redis:
    url: ${REDIS_URL}
`,
			env: map[string]string{
				"VERIFY_TOKEN":   "tok",
				"APP_SECRET":     "sec",
				"OPENAI_API_KEY": "sk-test",
				"REDIS_URL":      "redis://localhost:6379/0",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Webhook.VerifyToken != "tok" || cfg.Webhook.AppSecret != "sec" {
					t.Errorf("webhook secrets not interpolated: %+v", cfg.Webhook)
				}
				if cfg.Backend.APIKey != "sk-test" {
					t.Errorf("api_key not interpolated: %q", cfg.Backend.APIKey)
				}
				if cfg.Threads.Redis.URL != "redis://localhost:6379/0" {
					t.Errorf("redis url not interpolated: %q", cfg.Threads.Redis.URL)
				}
				if cfg.Threads.Redis.Prefix != "thread:" {
					t.Errorf("redis prefix default lost: %q", cfg.Threads.Redis.Prefix)
				}
			},
		},
		{
			name: "missing env var fails validation",
			yaml: `
webhook:
  verify_token: tok
  app_secret: ${MISSING_SECRET}
backend:
  endpoint: http://localhost:11434
  model: llama3
`,
			wantErr: "${MISSING_SECRET} is not set",
		},
		{
			name: "missing verify token",
			yaml: `
webhook:
  app_secret: s
backend:
  endpoint: http://localhost:11434
  model: llama3
`,
			wantErr: "webhook.verify_token is required",
		},
		{
			name: "missing backend endpoint",
			yaml: `
webhook:
  verify_token: t
  app_secret: s
backend:
  model: llama3
`,
			wantErr: "backend.endpoint is required",
		},
		{
			name: "hosted backend needs api key",
			yaml: `
webhook:
  verify_token: t
  app_secret: s
backend:
  kind: hosted
  endpoint: https://api.openai.com/v1
  model: gpt-4o-mini
`,
			wantErr: "backend.api_key is required",
		},
		{
			name: "ssm reference passes validation",
			yaml: `
webhook:
  verify_token: t
  app_secret: ssm:/chatrelay/app-secret
backend:
  kind: hosted
  endpoint: https://api.openai.com/v1
  model: gpt-4o-mini
  api_key: ssm:/chatrelay/openai
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if !strings.HasPrefix(cfg.Backend.APIKey, SSMPrefix) {
					t.Errorf("ssm reference should be kept for later resolution, got %q", cfg.Backend.APIKey)
				}
			},
		},
		{
			name: "invalid log level",
			yaml: minimalYAML + `
service:
  log_level: chatty
`,
			wantErr: "service.log_level",
		},
		{
			name: "unknown driver",
			yaml: minimalYAML + `
threads:
  driver: postgres
`,
			wantErr: "threads.driver",
		},
		{
			name: "dynamodb requires table",
			yaml: minimalYAML + `
threads:
  driver: dynamodb
`,
			wantErr: "threads.dynamodb.table is required",
		},
		{
			name: "reply enabled requires phone number id",
			yaml: minimalYAML + `
reply:
  enabled: true
  access_token: tok
`,
			wantErr: "reply.phone_number_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}

			cfg, err := Load(path)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("expected error containing %q, got nil", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want substring %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(minimalYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(dir); err != nil {
		t.Fatalf("Load(dir): %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestValidateRejectsBadBodySize(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg.Webhook.MaxBodySize = "lots"
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "max_body_size") {
		t.Fatalf("expected max_body_size error, got %v", err)
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", DefaultMaxBodySize, false},
		{"2048", 2048, false},
		{"512KB", 512 * 1024, false},
		{"1mb", 1024 * 1024, false},
		{"2GB", 2 * 1024 * 1024 * 1024, false},
		{"0", 0, true},
		{"-5", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSize(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseSize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestSecretsPointsAtFields(t *testing.T) {
	cfg := Defaults()
	*cfg.Secrets()["backend.api_key"] = "resolved"
	if cfg.Backend.APIKey != "resolved" {
		t.Fatalf("Secrets() must return pointers into the config, got %q", cfg.Backend.APIKey)
	}
}

func TestHandlerBudget(t *testing.T) {
	tests := []struct {
		name     string
		attempts int
		timeout  time.Duration
		backoff  time.Duration
		reply    bool
		replyTO  time.Duration
		want     time.Duration
	}{
		{"single attempt", 1, 30 * time.Second, 0, false, 0, 35 * time.Second},
		{"zero attempts counts as one", 0, 30 * time.Second, 0, false, 0, 35 * time.Second},
		{"reply adds its timeout", 1, 30 * time.Second, 0, true, 8 * time.Second, 43 * time.Second},
		{"reply without timeout uses default", 1, 30 * time.Second, 0, true, 0, 45 * time.Second},
		// 3 x 10s + (1s + 2s) backoff + 5s slack
		{"retries with doubling backoff", 3, 10 * time.Second, time.Second, false, 0, 38 * time.Second},
		{"short backend with reply", 1, 100 * time.Millisecond, 0, true, 10 * time.Second, 15*time.Second + 100*time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Backend.Retry.MaxAttempts = tt.attempts
			cfg.Backend.Timeout = tt.timeout
			cfg.Backend.Retry.Backoff = tt.backoff
			cfg.Reply.Enabled = tt.reply
			cfg.Reply.Timeout = tt.replyTO
			if got := cfg.HandlerBudget(); got != tt.want {
				t.Errorf("HandlerBudget() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWriteTimeoutCoversRetriesAndReply(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML + `
  timeout: 100ms
  retry:
    max_attempts: 2
    backoff: 1s
reply:
  enabled: true
  phone_number_id: "5550001"
  access_token: tok
  timeout: 10s
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	// 2 x 100ms + 1s backoff + 10s reply + 5s slack
	want := 16*time.Second + 200*time.Millisecond
	if cfg.Server.WriteTimeout != want {
		t.Errorf("server.write_timeout = %v, want %v", cfg.Server.WriteTimeout, want)
	}
	if cfg.Server.WriteTimeout <= cfg.Reply.Timeout {
		t.Errorf("write timeout %v does not outlast the reply timeout", cfg.Server.WriteTimeout)
	}
}

func TestExplicitWriteTimeoutKept(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML + `
server:
  write_timeout: 90s
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Server.WriteTimeout != 90*time.Second {
		t.Errorf("server.write_timeout = %v, want 90s", cfg.Server.WriteTimeout)
	}
}
