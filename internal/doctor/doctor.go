// Package doctor checks a chatrelay configuration and reports errors and warnings.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/chatrelay/internal/config"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

const minVerifyTokenLen = 16

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Doctor validates a parsed, not yet validated, configuration.
type Doctor struct {
	cfg *config.Config
}

// New creates a Doctor for cfg.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateConfig(r)
	d.warnThreadStore(r)
	d.warnBackend(r)
	d.warnWebhook(r)
	d.warnServer(r)
	d.warnReply(r)
	d.warnSecrets(r)
	d.warnMissingEnvVars(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateConfig reports the startup validation failure, if any.
func (d *Doctor) validateConfig(r *Result) {
	if err := config.Validate(d.cfg); err != nil {
		d.addError(r, "config", "", err.Error())
	}
}

func (d *Doctor) warnThreadStore(r *Result) {
	if d.cfg.Threads.Driver == config.DriverMemory {
		d.addWarning(r, "threads", "threads.driver",
			"memory driver loses every thread on restart; use sqlite, redis or dynamodb")
	}
	if d.cfg.Threads.Driver == config.DriverRedis && strings.HasPrefix(d.cfg.Threads.Redis.URL, "redis://") &&
		!isLocalHost(hostOf(d.cfg.Threads.Redis.URL)) {
		d.addWarning(r, "threads", "threads.redis.url", "remote redis without TLS; prefer rediss://")
	}
}

func (d *Doctor) warnBackend(r *Result) {
	bc := d.cfg.Backend
	u, err := url.Parse(bc.Endpoint)
	if err != nil || u.Host == "" {
		return
	}
	switch bc.Kind {
	case config.BackendHosted:
		if u.Scheme != "https" {
			d.addWarning(r, "backend", "backend.endpoint",
				"hosted backend reached over plain http; the API key is sent in clear")
		}
	case config.BackendLocal:
		if !isLocalHost(u.Hostname()) {
			d.addWarning(r, "backend", "backend.endpoint",
				fmt.Sprintf("local backend host %q is not loopback or private", u.Hostname()))
		}
		if bc.SystemPrompt != "" {
			d.addWarning(r, "backend", "backend.system_prompt", "system_prompt is ignored by local backends")
		}
	}
	if bc.Timeout > time.Minute {
		d.addWarning(r, "backend", "backend.timeout",
			fmt.Sprintf("timeout %s is long; the platform may redeliver the event before it expires", bc.Timeout))
	}
	if bc.Retry.MaxAttempts > 1 && bc.Retry.Backoff == 0 {
		d.addWarning(r, "backend", "backend.retry.backoff", "retries without backoff")
	}
}

func (d *Doctor) warnWebhook(r *Result) {
	tok := d.cfg.Webhook.VerifyToken
	if tok != "" && !strings.HasPrefix(tok, config.SSMPrefix) && len(tok) < minVerifyTokenLen {
		d.addWarning(r, "webhook", "webhook.verify_token",
			fmt.Sprintf("verify token is shorter than %d characters", minVerifyTokenLen))
	}
	if d.cfg.Webhook.SignatureHeader != "" && !strings.EqualFold(d.cfg.Webhook.SignatureHeader, "X-Hub-Signature-256") {
		d.addWarning(r, "webhook", "webhook.signature_header",
			fmt.Sprintf("WhatsApp signs with X-Hub-Signature-256, not %q", d.cfg.Webhook.SignatureHeader))
	}
}

// warnServer flags a write timeout that can expire before the handler answers.
// The turn is already recorded by then, so the platform redelivers it.
func (d *Doctor) warnServer(r *Result) {
	wt := d.cfg.Server.WriteTimeout
	if wt <= 0 {
		return
	}
	if budget := d.cfg.HandlerBudget(); wt < budget {
		d.addWarning(r, "server", "server.write_timeout",
			fmt.Sprintf("write timeout %s is below the worst-case handler time %s (backend attempts, backoff and reply)", wt, budget))
	}
}

func (d *Doctor) warnReply(r *Result) {
	if !d.cfg.Reply.Enabled {
		d.addWarning(r, "reply", "reply.enabled", "replies are disabled; users will not receive answers")
	}
}

func (d *Doctor) warnSecrets(r *Result) {
	for _, field := range sortedKeys(d.cfg.Secrets()) {
		v := *d.cfg.Secrets()[field]
		if strings.HasPrefix(v, config.SSMPrefix) {
			d.addWarning(r, "secrets", field,
				fmt.Sprintf("resolved from SSM parameter %q at startup; not checked here", strings.TrimPrefix(v, config.SSMPrefix)))
		}
	}
}

// warnMissingEnvVars reports ${VAR} placeholders that interpolation left behind.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	fields := d.cfg.Secrets()
	fields["backend.endpoint"] = &d.cfg.Backend.Endpoint
	fields["threads.redis.url"] = &d.cfg.Threads.Redis.URL
	for _, field := range sortedKeys(fields) {
		for _, m := range envVarRe.FindAllStringSubmatch(*fields[field], -1) {
			if os.Getenv(m[1]) == "" {
				d.addWarning(r, "env_vars", field, fmt.Sprintf("environment variable ${%s} not set", m[1]))
			}
		}
	}
}

func sortedKeys(m map[string]*string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// isLocalHost reports loopback, private and link-local addresses and "localhost".
func isLocalHost(host string) bool {
	if host == "" || strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
