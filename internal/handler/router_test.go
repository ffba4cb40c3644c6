package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/ligochat/internal/handler"
	chatService "github.com/zhouzirui/ligochat/internal/service/chat"
	"github.com/zhouzirui/ligochat/internal/service/session"
	"github.com/zhouzirui/ligochat/internal/service/session/sessiontest"
)

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	svc := chatService.NewService(func() session.Transport { return sessiontest.NewTransport() }, zerolog.Nop())
	t.Cleanup(func() { _ = svc.CloseAll() })
	return handler.NewRouter(svc, zerolog.Nop(), handler.RouterOptions{})
}

func TestHealthz(t *testing.T) {
	r := newRouter(t)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestAPIPrefix(t *testing.T) {
	r := newRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", strings.NewReader(`{"username":"alice"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "http://localhost:5173")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}
	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("unexpected allow-origin %q", got)
	}
}
