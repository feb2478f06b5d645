package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mattjoyce/chatrelay/internal/config"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	Stream    bool          `json:"stream"`
	User      string        `json:"user,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message *struct {
			Content *string `json:"content"`
		} `json:"message"`
		Text *string `json:"text"`
	} `json:"choices"`
	Text *string `json:"text"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Hosted is an OpenAI-compatible chat-completions backend.
type Hosted struct {
	client
	url          string
	model        string
	maxTokens    int
	greeting     string
	systemPrompt string
}

// NewHosted builds a Hosted backend. endpoint is the API base, e.g.
// https://api.openai.com/v1.
func NewHosted(cfg config.BackendConfig, opts ...Option) (*Hosted, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("hosted backend: endpoint must not be empty")
	}
	if cfg.Model == "" {
		return nil, errors.New("hosted backend: model must not be empty")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("hosted backend: api key must not be empty")
	}
	h := &Hosted{
		client:       newClient(config.BackendHosted, cfg.Timeout, opts),
		url:          joinURL(cfg.Endpoint, "/chat/completions"),
		model:        cfg.Model,
		maxTokens:    cfg.MaxTokens,
		greeting:     cfg.Greeting,
		systemPrompt: cfg.SystemPrompt,
	}
	h.headers["Authorization"] = "Bearer " + cfg.APIKey
	return h, nil
}

func (h *Hosted) Name() string { return h.name }

func (h *Hosted) request(req Request, stream bool) chatRequest {
	var msgs []chatMessage
	if h.systemPrompt != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: h.systemPrompt})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: BuildPrompt(h.greeting, req.UserName, req.Prompt)})
	return chatRequest{
		Model:     h.model,
		Messages:  msgs,
		MaxTokens: h.maxTokens,
		Stream:    stream,
		User:      req.ThreadID,
	}
}

func (h *Hosted) Send(ctx context.Context, req Request) (Result, error) {
	var out chatResponse
	if err := h.postJSON(ctx, h.url, h.request(req, false), &out); err != nil {
		return Result{}, err
	}
	if len(out.Choices) > 0 {
		c := out.Choices[0]
		if c.Message != nil && c.Message.Content != nil {
			return Result{Text: *c.Message.Content}, nil
		}
		if c.Text != nil {
			return Result{Text: *c.Text}, nil
		}
	}
	if out.Text != nil {
		return Result{Text: *out.Text}, nil
	}
	return Result{}, shapeErr(h.name, errors.New("response has no choices[0].message.content"))
}

func (h *Hosted) Stream(ctx context.Context, req Request) (*Stream, error) {
	return h.openStream(ctx, h.url, h.request(req, true), h.decodeSSE)
}

// decodeSSE handles one server-sent-events line. Only data lines matter.
func (h *Hosted) decodeSSE(line string) (string, bool, error) {
	if !strings.HasPrefix(line, "data:") {
		return "", false, nil
	}
	data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if data == "[DONE]" {
		return "", true, nil
	}
	var chunk chatChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return "", false, shapeErr(h.name, fmt.Errorf("decode stream chunk: %w", err))
	}
	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == nil {
		return "", false, nil
	}
	return *chunk.Choices[0].Delta.Content, false, nil
}
