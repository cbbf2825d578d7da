package metrics

import (
	"testing"
)

func TestNew_RegistersCollectors(t *testing.T) {
	m := New()

	m.RequestsTotal.WithLabelValues("GET", "200", "/v1/models").Inc()
	m.RequestDuration.WithLabelValues("POST", "200", "/v1/chat/completions").Observe(0.1)
	m.RequestsInFlight.Inc()
	m.UpstreamDuration.WithLabelValues("POST").Observe(0.2)
	m.UpstreamResponses.WithLabelValues("POST", "500").Inc()
	m.UpstreamRetries.Inc()
	m.CacheHits.Inc()
	m.CacheMisses.Inc()
	m.StreamEvents.Inc()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	gathered := make(map[string]bool, len(families))
	for _, mf := range families {
		gathered[mf.GetName()] = true
	}

	for _, name := range []string{
		"chat_gateway_http_requests_total",
		"chat_gateway_http_request_duration_seconds",
		"chat_gateway_http_requests_in_flight",
		"chat_gateway_upstream_request_duration_seconds",
		"chat_gateway_upstream_responses_total",
		"chat_gateway_upstream_retries_total",
		"chat_gateway_models_cache_hits_total",
		"chat_gateway_models_cache_misses_total",
		"chat_gateway_stream_events_total",
	} {
		if !gathered[name] {
			t.Errorf("metric %q not gathered", name)
		}
	}
}

func TestNormalizeMethod(t *testing.T) {
	tests := []struct {
		method string
		want   string
	}{
		{"GET", "GET"},
		{"POST", "POST"},
		{"PROPFIND", "other"},
		{"", "other"},
	}

	for _, tt := range tests {
		if got := NormalizeMethod(tt.method); got != tt.want {
			t.Errorf("NormalizeMethod(%q) = %q, want %q", tt.method, got, tt.want)
		}
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/v1/chat/completions", "/v1/chat/completions"},
		{"/v1/models", "/v1/models"},
		{"/v1/models/chat-large", "/v1/models"},
		{"/healthz", "/healthz"},
		{"/gateway/status", "/gateway/status"},
		{"/metrics", "/metrics"},
		{"/v1/embeddings", "other"},
		{"/", "other"},
	}

	for _, tt := range tests {
		if got := NormalizePath(tt.path); got != tt.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
