// Package app assembles a running relay from a loaded configuration.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/mattjoyce/chatrelay/internal/backend"
	"github.com/mattjoyce/chatrelay/internal/config"
	"github.com/mattjoyce/chatrelay/internal/lock"
	"github.com/mattjoyce/chatrelay/internal/log"
	"github.com/mattjoyce/chatrelay/internal/reply"
	"github.com/mattjoyce/chatrelay/internal/secrets"
	"github.com/mattjoyce/chatrelay/internal/thread"
	"github.com/mattjoyce/chatrelay/internal/webhook"
)

const secretsTimeout = 15 * time.Second

// App is the wired relay: thread store, backend, optional reply client and
// the webhook server in front of them.
type App struct {
	Config  *config.Config
	Store   thread.Store
	Backend backend.Dispatcher
	Webhook webhook.Config
	Server  *webhook.Server

	pidLock *lock.PIDLock
}

type options struct {
	secrets secrets.Getter
}

// Option customises Build.
type Option func(*options)

// WithSecrets resolves ssm: references through g instead of AWS SSM.
func WithSecrets(g secrets.Getter) Option {
	return func(o *options) { o.secrets = g }
}

// Build resolves secrets, takes the SQLite PID lock, opens the thread store
// and wires backend, reply client and webhook server, in that order. cfg is
// modified in place when secrets are resolved. On error everything opened so
// far is released.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	logger := log.WithComponent("app")

	if err := resolveSecrets(ctx, cfg, o.secrets); err != nil {
		return nil, fmt.Errorf("resolve secrets: %w", err)
	}

	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if cfg.Threads.Driver == config.DriverSQLite {
		pidLockPath := lock.PathFor(cfg.Threads.SQLite.Path)
		a.pidLock, err = lock.AcquirePIDLock(pidLockPath)
		if err != nil {
			return nil, fmt.Errorf("acquire PID lock %s (another instance may be running): %w", pidLockPath, err)
		}
		logger.Info("acquired PID lock", "path", pidLockPath)
	}

	a.Store, err = thread.Open(ctx, cfg.Threads)
	if err != nil {
		return nil, fmt.Errorf("open thread store: %w", err)
	}
	logger.Info("thread store opened", "driver", cfg.Threads.Driver, "id_strategy", cfg.Threads.IDStrategy)

	disp, err := backend.New(cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("configure backend: %w", err)
	}
	a.Backend = backend.WithRetry(disp, cfg.Backend.Retry.MaxAttempts, cfg.Backend.Retry.Backoff)
	logger.Info("backend configured",
		"kind", cfg.Backend.Kind,
		"endpoint", cfg.Backend.Endpoint,
		"model", cfg.Backend.Model,
		"stream", cfg.Backend.Stream,
		"max_attempts", cfg.Backend.Retry.MaxAttempts,
	)

	var replier webhook.Replier
	if cfg.Reply.Enabled {
		client, err := reply.New(cfg.Reply)
		if err != nil {
			return nil, fmt.Errorf("configure reply client: %w", err)
		}
		replier = client
		logger.Info("replies enabled", "phone_number_id", cfg.Reply.PhoneNumberID)
	}

	a.Webhook, err = webhook.FromGlobalConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("configure webhook: %w", err)
	}
	webhookLogger := log.WithComponent("webhook")
	ctrl := webhook.NewController(a.Webhook, a.Store, a.Backend, replier, webhookLogger)
	a.Server = webhook.New(a.Webhook, ctrl, webhookLogger)
	logger.Info("webhook configured",
		"listen", a.Webhook.Listen,
		"path", a.Webhook.Path,
		"write_timeout", a.Webhook.WriteTimeout.String(),
	)
	return a, nil
}

// Run serves the webhook until ctx ends.
func (a *App) Run(ctx context.Context) error {
	return a.Server.Start(ctx)
}

// Close closes the thread store and releases the PID lock.
func (a *App) Close() error {
	var firstErr error
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			firstErr = err
		}
	}
	if a.pidLock != nil {
		if err := a.pidLock.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
		a.pidLock = nil
	}
	return firstErr
}

// resolveSecrets swaps ssm: references for their Parameter Store values and
// re-validates. AWS credentials are only loaded when a reference is present
// and no getter was supplied.
func resolveSecrets(ctx context.Context, cfg *config.Config, g secrets.Getter) error {
	fields := cfg.Secrets()
	if !secrets.HasRefs(fields) {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, secretsTimeout)
	defer cancel()

	if g == nil {
		client, err := secrets.OpenSSM(ctx)
		if err != nil {
			return err
		}
		g = client
	}
	if err := secrets.Resolve(ctx, g, fields); err != nil {
		return err
	}
	return config.Validate(cfg)
}
