// Package backend sends conversation turns to a language-model service.
//
// Two variants share the Dispatcher contract: Hosted speaks the OpenAI
// chat-completions protocol over authenticated HTTPS, Local speaks the Ollama
// generate protocol over plain HTTP. Each Send is one classified attempt with
// a hard deadline; retries are opt-in through WithRetry.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mattjoyce/chatrelay/internal/config"
)

// Request is one conversation turn.
type Request struct {
	ThreadID string
	UserName string
	Prompt   string
}

// Result is a successful completion.
type Result struct {
	Text string
}

// Dispatcher sends a turn and returns the generated text or an *Error.
type Dispatcher interface {
	Send(ctx context.Context, req Request) (Result, error)
	Name() string
}

// Streamer is implemented by dispatchers that can return incremental output.
type Streamer interface {
	Stream(ctx context.Context, req Request) (*Stream, error)
}

// Kind classifies a backend failure.
type Kind int

const (
	// Transport covers connection failures, timeouts and non-2xx responses.
	Transport Kind = iota + 1
	// UnexpectedShape is a 2xx response without the expected text field.
	UnexpectedShape
)

func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case UnexpectedShape:
		return "unexpected_shape"
	default:
		return "unknown"
	}
}

// Error is a classified backend failure.
type Error struct {
	Kind       Kind
	Backend    string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("backend %s: %s (status %d): %v", e.Backend, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("backend %s: %s: %v", e.Backend, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is a Transport-class *Error.
func IsTransport(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Kind == Transport
}

func transportErr(backend string, status int, err error) error {
	return &Error{Kind: Transport, Backend: backend, StatusCode: status, Err: err}
}

func shapeErr(backend string, err error) error {
	return &Error{Kind: UnexpectedShape, Backend: backend, Err: err}
}

// BuildPrompt frames the user's text with a greeting addressed to them.
func BuildPrompt(greeting, name, text string) string {
	greeting = strings.TrimSpace(greeting)
	name = strings.TrimSpace(name)
	switch {
	case greeting == "":
		return text
	case name == "":
		return greeting + ". " + text
	default:
		return greeting + ", " + name + ". " + text
	}
}

// New builds the dispatcher selected by cfg.Kind. When cfg.Stream is set the
// dispatcher consumes the streaming endpoint and folds it into one Result.
func New(cfg config.BackendConfig, opts ...Option) (Dispatcher, error) {
	var d interface {
		Dispatcher
		Streamer
	}
	var err error
	switch cfg.Kind {
	case config.BackendHosted:
		d, err = NewHosted(cfg, opts...)
	case config.BackendLocal:
		d, err = NewLocal(cfg, opts...)
	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Kind)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Stream {
		return Streaming(d), nil
	}
	return d, nil
}
