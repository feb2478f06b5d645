package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/chatrelay/internal/config"
)

func hostedConfig(endpoint string) config.BackendConfig {
	return config.BackendConfig{
		Kind:      config.BackendHosted,
		Endpoint:  endpoint,
		APIKey:    "sk-test",
		Model:     "gpt-test",
		MaxTokens: 1000,
		Timeout:   2 * time.Second,
		Greeting:  "Hello",
	}
}

func TestNewHostedValidation(t *testing.T) {
	cfg := hostedConfig("https://api.example.com/v1")
	cfg.APIKey = ""
	_, err := NewHosted(cfg)
	require.Error(t, err)

	cfg = hostedConfig("")
	_, err = NewHosted(cfg)
	require.Error(t, err)
}

func TestHostedSend(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello!"}}]}`))
	}))
	defer srv.Close()

	cfg := hostedConfig(srv.URL + "/v1/")
	cfg.SystemPrompt = "Be brief."
	h, err := NewHosted(cfg)
	require.NoError(t, err)

	res, err := h.Send(context.Background(), Request{ThreadID: "thr_1", UserName: "Ada", Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello!", res.Text)

	assert.Equal(t, "gpt-test", got.Model)
	assert.Equal(t, 1000, got.MaxTokens)
	assert.False(t, got.Stream)
	assert.Equal(t, "thr_1", got.User)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, chatMessage{Role: "system", Content: "Be brief."}, got.Messages[0])
	assert.Equal(t, chatMessage{Role: "user", Content: "Hello, Ada. hi"}, got.Messages[1])
}

func TestHostedSendAcceptsTopLevelText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"text":"hello!"}`))
	}))
	defer srv.Close()

	h, err := NewHosted(hostedConfig(srv.URL))
	require.NoError(t, err)
	res, err := h.Send(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello!", res.Text)
}

func TestHostedSendClassifiesFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   Kind
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`, Transport},
		{"unauthorized", http.StatusUnauthorized, `{"error":"bad key"}`, Transport},
		{"missing field", http.StatusOK, `{"choices":[]}`, UnexpectedShape},
		{"not json", http.StatusOK, `<html>`, UnexpectedShape},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			h, err := NewHosted(hostedConfig(srv.URL))
			require.NoError(t, err)
			_, err = h.Send(context.Background(), Request{Prompt: "hi"})

			var be *Error
			require.True(t, errors.As(err, &be), "got %v", err)
			assert.Equal(t, tt.kind, be.Kind)
			assert.Equal(t, "hosted", be.Backend)
			if tt.kind == Transport {
				assert.Equal(t, tt.status, be.StatusCode)
			}
		})
	}
}

func TestHostedSendTimeoutIsTransport(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := hostedConfig(srv.URL)
	cfg.Timeout = 50 * time.Millisecond
	h, err := NewHosted(cfg)
	require.NoError(t, err)

	start := time.Now()
	_, err = h.Send(context.Background(), Request{Prompt: "hi"})
	require.True(t, IsTransport(err), "got %v", err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestHostedSendConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	h, err := NewHosted(hostedConfig(url))
	require.NoError(t, err)
	_, err = h.Send(context.Background(), Request{Prompt: "hi"})
	assert.True(t, IsTransport(err), "got %v", err)
}

func TestHostedStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"hel", "lo", "!"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	h, err := NewHosted(hostedConfig(srv.URL))
	require.NoError(t, err)

	st, err := h.Stream(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	text, err := Collect(st)
	require.NoError(t, err)
	assert.Equal(t, "hello!", text)
}

func TestHostedStreamWithoutDoneIsUnexpectedShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
	}))
	defer srv.Close()

	h, err := NewHosted(hostedConfig(srv.URL))
	require.NoError(t, err)
	st, err := h.Stream(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)

	_, err = Collect(st)
	var be *Error
	require.True(t, errors.As(err, &be), "got %v", err)
	assert.Equal(t, UnexpectedShape, be.Kind)
}

func TestJoinURL(t *testing.T) {
	cases := []struct {
		base, path, want string
	}{
		{"https://api.openai.com/v1", "/chat/completions", "https://api.openai.com/v1/chat/completions"},
		{"https://api.openai.com/v1/", "/chat/completions", "https://api.openai.com/v1/chat/completions"},
		{"http://localhost:11434", "/api/generate", "http://localhost:11434/api/generate"},
		{"http://localhost:11434/api/generate", "/api/generate", "http://localhost:11434/api/generate"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, joinURL(tc.base, tc.path), "base=%q", tc.base)
	}
}
