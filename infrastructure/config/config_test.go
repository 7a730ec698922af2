package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Store.Backend = "postgres" }},
		{"missing table", func(c *Config) { c.Store.Table = "" }},
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
		{"oversized batch", func(c *Config) { c.Queue.BatchSize = 11 }},
		{"zero retry attempts", func(c *Config) { c.Delivery.RetryMaxAttempts = 0 }},
		{"sub-unit multiplier", func(c *Config) { c.Delivery.RetryMultiplier = 0.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestLoadYAMLWithEnvExpansion(t *testing.T) {
	t.Setenv("TEST_RELAY_WEBHOOK", "https://consumer.example.com/hooks")
	t.Setenv("TEST_RELAY_TABLE", "")

	content := `
server:
  addr: ":9090"
store:
  backend: memory
  table: ${TEST_RELAY_TABLE:-relay_events_test}
delivery:
  webhook_url: ${TEST_RELAY_WEBHOOK}
  timeout: 5s
logging:
  level: debug
`
	path := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("backend = %q", cfg.Store.Backend)
	}
	if cfg.Store.Table != "relay_events_test" {
		t.Errorf("table = %q, want default applied for empty env var", cfg.Store.Table)
	}
	if cfg.Delivery.WebhookURL != "https://consumer.example.com/hooks" {
		t.Errorf("webhook_url = %q", cfg.Delivery.WebhookURL)
	}
	if cfg.Delivery.Timeout != 5*time.Second {
		t.Errorf("timeout = %v", cfg.Delivery.Timeout)
	}
	// Unset fields keep defaults.
	if cfg.Delivery.RetryMaxAttempts != 5 {
		t.Errorf("retry_max_attempts = %d, want default 5", cfg.Delivery.RetryMaxAttempts)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/relay.yaml"); err == nil {
		t.Error("Load() = nil, want error for missing file")
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(path, []byte("store:\n  backend: sqlite\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() = nil, want validation error")
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("RELAY_SERVER_ADDR", ":7070")
	t.Setenv("RELAY_STORE_BACKEND", "memory")
	t.Setenv("RELAY_WEBHOOK_URL", "https://consumer.example.com/hooks")
	t.Setenv("RELAY_DELIVERY_TIMEOUT", "3s")
	t.Setenv("RELAY_QUEUE_BATCH_SIZE", "5")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Delivery.Timeout != 3*time.Second {
		t.Errorf("timeout = %v", cfg.Delivery.Timeout)
	}
	if cfg.Queue.BatchSize != 5 {
		t.Errorf("batch_size = %d", cfg.Queue.BatchSize)
	}
}

func TestFromEnvRejectsMalformedDuration(t *testing.T) {
	t.Setenv("RELAY_DELIVERY_TIMEOUT", "not-a-duration")

	if _, err := FromEnv(); err == nil {
		t.Error("FromEnv() = nil, want parse error")
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("TEST_EXPAND_SET", "value")

	tests := []struct {
		in   string
		want string
	}{
		{"${TEST_EXPAND_SET}", "value"},
		{"${TEST_EXPAND_UNSET}", ""},
		{"${TEST_EXPAND_UNSET:-fallback}", "fallback"},
		{"${TEST_EXPAND_SET:-fallback}", "value"},
		{"prefix-${TEST_EXPAND_SET}-suffix", "prefix-value-suffix"},
		{"no refs here", "no refs here"},
	}
	for _, tt := range tests {
		if got := expandEnv(tt.in); got != tt.want {
			t.Errorf("expandEnv(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
