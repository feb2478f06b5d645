// Package reply delivers generated text to the end user through the
// WhatsApp Cloud API.
package reply

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mattjoyce/chatrelay/internal/config"
)

type textBody struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type messageRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

// HTTPStatusError captures a non-2xx answer from the Graph API.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("whatsapp: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Client sends text messages from one business phone number.
type Client struct {
	url         string
	accessToken string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New builds a Client from the reply configuration.
func New(cfg config.ReplyConfig, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.PhoneNumberID) == "" {
		return nil, errors.New("whatsapp: phone number id must not be empty")
	}
	if cfg.AccessToken == "" {
		return nil, errors.New("whatsapp: access token must not be empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		url:         messagesURL(cfg.BaseURL, cfg.APIVersion, cfg.PhoneNumberID),
		accessToken: cfg.AccessToken,
		httpClient:  &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func messagesURL(baseURL, version, phoneNumberID string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = "https://graph.facebook.com"
	}
	return fmt.Sprintf("%s/%s/%s/messages", base, strings.Trim(version, "/"), phoneNumberID)
}

// Reply formats text for WhatsApp and sends it to the user's wa_id.
func (c *Client) Reply(ctx context.Context, to, text string) error {
	text = FormatText(text)
	if text == "" {
		return errors.New("whatsapp: nothing to send")
	}
	body, err := json.Marshal(messageRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             textBody{Body: text},
	})
	if err != nil {
		return fmt.Errorf("whatsapp: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("whatsapp: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp: send: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &HTTPStatusError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(buf))}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<16))
	return nil
}
