package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Storage.Backend != "pebble" {
		t.Fatalf("default backend should be pebble")
	}
	if cfg.Stream.MaxLen != 1000 {
		t.Fatalf("max len default")
	}
	if cfg.Stream.Retention != time.Minute {
		t.Fatalf("retention default")
	}
	if cfg.Relay.BatchSize != 10 || cfg.Relay.PollInterval != 100*time.Millisecond {
		t.Fatalf("relay defaults")
	}
	if cfg.Broadcast.IntakeDepth != 16 {
		t.Fatalf("intake depth default")
	}
	if cfg.Broadcast.LagLimit != 1024 {
		t.Fatalf("lag limit default")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	cfg.Broadcast.LagLimit = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("zero lag limit must not validate")
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "mediaflo.json")
	data := []byte(`{"storage":{"backend":"redis"},"stream":{"max_len":50,"key_prefix":"tx:"},"relay":{"poll_interval":"250ms"}}`)
	if err := os.WriteFile(file, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Backend != "redis" {
		t.Fatalf("expected redis, got %q", cfg.Storage.Backend)
	}
	if cfg.Stream.MaxLen != 50 || cfg.Stream.KeyPrefix != "tx:" {
		t.Fatalf("stream overrides not applied: %+v", cfg.Stream)
	}
	if cfg.Relay.PollInterval != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %v", cfg.Relay.PollInterval)
	}
	if cfg.Relay.BatchSize != 10 {
		t.Fatalf("untouched keys keep defaults")
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "mediaflo.yaml")
	data := []byte("broadcast:\n  intake_depth: 32\nauth:\n  allow_anonymous: false\n  tokens:\n    secret: alice\n")
	if err := os.WriteFile(file, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Broadcast.IntakeDepth != 32 {
		t.Fatalf("expected 32")
	}
	if cfg.Auth.AllowAnonymous {
		t.Fatalf("expected anonymous disabled")
	}
	if cfg.Auth.Tokens["secret"] != "alice" {
		t.Fatalf("token map: %v", cfg.Auth.Tokens)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(file, []byte(`{"storage":{"backend":"mysql"}}`), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(file); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestFromEnv(t *testing.T) {
	cfg := Default()
	t.Setenv("MEDIAFLO_STORAGE_BACKEND", "redis")
	t.Setenv("MEDIAFLO_STREAM_MAX_LEN", "24")
	t.Setenv("MEDIAFLO_RELAY_POLL_INTERVAL", "1s")
	if err := FromEnv(&cfg); err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.Storage.Backend != "redis" {
		t.Fatalf("env override backend")
	}
	if cfg.Stream.MaxLen != 24 {
		t.Fatalf("env override max len")
	}
	if cfg.Relay.PollInterval != time.Second {
		t.Fatalf("env override poll interval")
	}
	if cfg.Stream.QueueKey != "queue" {
		t.Fatalf("non-overridden keys keep their values")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad fsync", func(c *Config) { c.Storage.Fsync = "sometimes" }},
		{"bad compression", func(c *Config) { c.Stream.Compression = "brotli" }},
		{"zero max len", func(c *Config) { c.Stream.MaxLen = 0 }},
		{"zero batch", func(c *Config) { c.Relay.BatchSize = 0 }},
		{"zero poll", func(c *Config) { c.Relay.PollInterval = 0 }},
		{"slash prefix", func(c *Config) { c.Stream.KeyPrefix = "a/b" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
