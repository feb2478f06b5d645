package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mattjoyce/chatrelay/internal/config"
)

type generateOptions struct {
	NumPredict int `json:"num_predict,omitempty"`
}

type generateRequest struct {
	Model   string           `json:"model"`
	Prompt  string           `json:"prompt"`
	Stream  bool             `json:"stream"`
	Options *generateOptions `json:"options,omitempty"`
}

type generateResponse struct {
	Response *string `json:"response"`
	Text     *string `json:"text"`
	Done     bool    `json:"done"`
	Error    string  `json:"error"`
}

// Local is an Ollama-compatible inference server reached over plain HTTP.
type Local struct {
	client
	url       string
	model     string
	maxTokens int
	greeting  string
}

// NewLocal builds a Local backend. endpoint is the server root, e.g.
// http://localhost:11434.
func NewLocal(cfg config.BackendConfig, opts ...Option) (*Local, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("local backend: endpoint must not be empty")
	}
	if cfg.Model == "" {
		return nil, errors.New("local backend: model must not be empty")
	}
	l := &Local{
		client:    newClient(config.BackendLocal, cfg.Timeout, opts),
		url:       joinURL(cfg.Endpoint, "/api/generate"),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		greeting:  cfg.Greeting,
	}
	if cfg.APIKey != "" {
		l.headers["Authorization"] = "Bearer " + cfg.APIKey
	}
	return l, nil
}

func (l *Local) Name() string { return l.name }

func (l *Local) request(req Request, stream bool) generateRequest {
	r := generateRequest{
		Model:  l.model,
		Prompt: BuildPrompt(l.greeting, req.UserName, req.Prompt),
		Stream: stream,
	}
	if l.maxTokens > 0 {
		r.Options = &generateOptions{NumPredict: l.maxTokens}
	}
	return r
}

func (l *Local) Send(ctx context.Context, req Request) (Result, error) {
	var out generateResponse
	if err := l.postJSON(ctx, l.url, l.request(req, false), &out); err != nil {
		return Result{}, err
	}
	switch {
	case out.Error != "":
		return Result{}, shapeErr(l.name, fmt.Errorf("server reported: %s", out.Error))
	case out.Response != nil:
		return Result{Text: *out.Response}, nil
	case out.Text != nil:
		return Result{Text: *out.Text}, nil
	}
	return Result{}, shapeErr(l.name, errors.New("response has no response field"))
}

func (l *Local) Stream(ctx context.Context, req Request) (*Stream, error) {
	return l.openStream(ctx, l.url, l.request(req, true), l.decodeNDJSON)
}

// decodeNDJSON handles one newline-delimited JSON chunk.
func (l *Local) decodeNDJSON(line string) (string, bool, error) {
	var chunk generateResponse
	if err := json.Unmarshal([]byte(line), &chunk); err != nil {
		return "", false, shapeErr(l.name, fmt.Errorf("decode stream chunk: %w", err))
	}
	if chunk.Error != "" {
		return "", false, transportErr(l.name, 0, fmt.Errorf("server reported: %s", chunk.Error))
	}
	var delta string
	if chunk.Response != nil {
		delta = *chunk.Response
	}
	return delta, chunk.Done, nil
}
