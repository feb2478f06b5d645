package webhook

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mattjoyce/chatrelay/internal/config"
	"github.com/mattjoyce/chatrelay/internal/thread"
)

func TestHealthz(t *testing.T) {
	h := newTestHandler(t, thread.NewMemoryStore(nil), &fakeDispatcher{}, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
	if resp := decodeResponse(t, rr); resp.Status != "ok" {
		t.Errorf("response = %+v", resp)
	}
}

func TestUnknownPathIsNotFound(t *testing.T) {
	h := newTestHandler(t, thread.NewMemoryStore(nil), &fakeDispatcher{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/other", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestServerStartStops(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	cfg := testConfig()
	cfg.Listen = addr
	ctrl := NewController(cfg, thread.NewMemoryStore(nil), &fakeDispatcher{}, nil, discardLogger())
	srv := New(cfg, ctrl, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://" + addr + "/healthz")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server never came up: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Start() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestFromGlobalConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Webhook.VerifyToken = "tok"
	cfg.Webhook.AppSecret = "sec"
	cfg.Webhook.MaxBodySize = "2MB"
	cfg.Server.Path = "/hook"

	wc, err := FromGlobalConfig(cfg)
	if err != nil {
		t.Fatalf("FromGlobalConfig() error = %v", err)
	}
	if wc.MaxBodySize != 2*1024*1024 {
		t.Errorf("MaxBodySize = %d", wc.MaxBodySize)
	}
	if wc.Path != "/hook" || wc.SignatureHeader != DefaultSignatureHeader {
		t.Errorf("config = %+v", wc)
	}
	if wc.Listen != cfg.Server.Listen {
		t.Errorf("Listen = %q", wc.Listen)
	}
}

func TestFromGlobalConfigErrors(t *testing.T) {
	if _, err := FromGlobalConfig(nil); err == nil {
		t.Error("nil config should fail")
	}

	cfg := config.Defaults()
	cfg.Webhook.VerifyToken = "tok"
	if _, err := FromGlobalConfig(cfg); err == nil {
		t.Error("missing app secret should fail")
	}

	cfg.Webhook.AppSecret = "sec"
	cfg.Webhook.MaxBodySize = "lots"
	if _, err := FromGlobalConfig(cfg); err == nil {
		t.Error("bad body size should fail")
	}
}
