package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"chat-gateway-go/internal/config"
)

func TestHealthHandler_Healthz(t *testing.T) {
	h := NewHealthHandler(&config.Config{}, "1.2.3")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	rec := httptest.NewRecorder()

	if err := h.Healthz(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Healthz() error = %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want %q", body["status"], "ok")
	}
}

func TestHealthHandler_Status(t *testing.T) {
	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			ChatURL:   "https://chat.example.com/v1/chat/completions",
			ModelsURL: "https://chat.example.com/v1/models",
		},
	}
	h := NewHealthHandler(cfg, "1.2.3")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/gateway/status", http.NoBody)
	rec := httptest.NewRecorder()

	if err := h.Status(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Status() error = %v", err)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["version"] != "1.2.3" {
		t.Errorf("version = %q, want %q", body["version"], "1.2.3")
	}
	if body["chat_url"] != cfg.Upstream.ChatURL {
		t.Errorf("chat_url = %q, want %q", body["chat_url"], cfg.Upstream.ChatURL)
	}
}
