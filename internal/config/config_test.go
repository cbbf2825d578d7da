package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const upstreamTOML = `
[upstream]
chat_url = "https://chat.example.com/v1/chat/completions"
models_url = "https://chat.example.com/v1/models"
`

const validTOML = `
[server]
host = "127.0.0.1"
port = 9000
` + upstreamTOML

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Valid(t *testing.T) {
	path := writeConfig(t, validTOML)

	cfg, err := Load(&CLI{Config: path})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want 127.0.0.1", cfg.Server.Host)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Upstream.ChatURL != "https://chat.example.com/v1/chat/completions" {
		t.Errorf("ChatURL = %q", cfg.Upstream.ChatURL)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
[upstream]
chat_url = "https://chat.example.com/v1/chat/completions"
models_url = "https://chat.example.com/v1/models"
`)

	cfg, err := Load(&CLI{Config: path})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"host", cfg.Server.Host, "0.0.0.0"},
		{"port", cfg.Server.Port, 8000},
		{"body_max_bytes", cfg.Server.BodyMaxBytes, int64(10 * 1024 * 1024)},
		{"timeout_seconds", cfg.Upstream.TimeoutSeconds, 30},
		{"idle_connections", cfg.Upstream.IdleConnections, 100},
		{"max_attempts", cfg.Retry.MaxAttempts, 3},
		{"base_delay_ms", cfg.Retry.BaseDelayMillis, 1000},
		{"models_ttl_seconds", cfg.Cache.ModelsTTLSeconds, 3600},
		{"log_level", cfg.Log.Level, "info"},
		{"log_format", cfg.Log.Format, "json"},
		{"metrics_path", cfg.Metrics.Path, "/metrics"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, validTOML)

	cfg, err := Load(&CLI{
		Config:   path,
		Host:     "10.0.0.1",
		Port:     8443,
		LogLevel: "debug",
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "10.0.0.1" {
		t.Errorf("Host = %q, want override", cfg.Server.Host)
	}
	if cfg.Server.Port != 8443 {
		t.Errorf("Port = %d, want override", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Level = %q, want override", cfg.Log.Level)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing chat_url",
			content: "[upstream]\nmodels_url = \"https://x.example.com\"\n",
			wantErr: "chat_url is required",
		},
		{
			name:    "missing models_url",
			content: "[upstream]\nchat_url = \"https://x.example.com\"\n",
			wantErr: "models_url is required",
		},
		{
			name:    "http chat_url rejected",
			content: "[upstream]\nchat_url = \"http://x.example.com\"\nmodels_url = \"https://x.example.com\"\n",
			wantErr: "must use HTTPS",
		},
		{
			name:    "port out of range",
			content: upstreamTOML + "\n[server]\nport = 70000\n",
			wantErr: "server.port",
		},
		{
			name:    "negative retry attempts",
			content: upstreamTOML + "\n[retry]\nmax_attempts = -1\n",
			wantErr: "retry.max_attempts",
		},
		{
			name:    "bad log level",
			content: upstreamTOML + "\n[log]\nlevel = \"verbose\"\n",
			wantErr: "log.level",
		},
		{
			name:    "rate limit without rps",
			content: upstreamTOML + "\n[server.rate_limit]\nenabled = true\n",
			wantErr: "requests_per_second",
		},
		{
			name:    "metrics path conflicts with api route",
			content: upstreamTOML + "\n[metrics]\nenabled = true\npath = \"/v1/metrics\"\n",
			wantErr: "conflicts with reserved route",
		},
		{
			name:    "metrics path missing slash",
			content: upstreamTOML + "\n[metrics]\nenabled = true\npath = \"metrics\"\n",
			wantErr: "must start with '/'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := Load(&CLI{Config: path})
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(&CLI{Config: filepath.Join(t.TempDir(), "nope.toml")})
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestFindConfigInPaths(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "present.toml")
	if err := os.WriteFile(existing, []byte(""), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := findConfigInPaths([]string{
		filepath.Join(dir, "missing.toml"),
		existing,
	})
	if got != existing {
		t.Errorf("findConfigInPaths() = %q, want %q", got, existing)
	}

	if got := findConfigInPaths([]string{filepath.Join(dir, "missing.toml")}); got != "" {
		t.Errorf("findConfigInPaths() = %q, want empty", got)
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := ServerConfig{Host: "127.0.0.1", Port: 8000}
	if got := sc.Addr(); got != "127.0.0.1:8000" {
		t.Errorf("Addr() = %q, want 127.0.0.1:8000", got)
	}
}
