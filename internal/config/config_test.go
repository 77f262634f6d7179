package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Server.BasePath != "/v0" || cfg.Notifications.Sink != SinkLog {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.HookInterval() != 2*time.Second {
		t.Fatalf("unexpected hook interval %s", cfg.HookInterval())
	}
}

func TestFromYAMLKeepsDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("notifications:\n  sink: redis\n  redis_url: redis://localhost:6379/0\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:8080" {
		t.Fatalf("server defaults lost: %q", cfg.Server.Addr)
	}
	if cfg.Notifications.Sink != SinkRedis {
		t.Fatalf("sink not applied: %q", cfg.Notifications.Sink)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"unknown sink":      "notifications:\n  sink: fcm\n",
		"redis without url": "notifications:\n  sink: redis\n",
		"webhook bad url":   "notifications:\n  sink: webhook\n  webhook_url: ftp://x\n",
		"base path":         "server:\n  base_path: v0\n",
		"log level":         "log:\n  level: loud\n",
		"negative batch":    "hooks:\n  batch_size: -1\n",
		"negative attempts": "hooks:\n  max_attempts: -2\n",
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestLoadOptionalMissingFile(t *testing.T) {
	cfg, err := LoadOptional(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Hooks.Consumer != "hooks" {
		t.Fatalf("expected default consumer, got %q", cfg.Hooks.Consumer)
	}
	if cfg.Hooks.MaxAttempts != 5 {
		t.Fatalf("expected default max attempts, got %d", cfg.Hooks.MaxAttempts)
	}
	if cfg.Auth.DevLogin {
		t.Fatalf("dev login must be off by default")
	}
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatalf("expected error for missing config")
	}
}

func TestLoadFromWorkspace(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "helpling.yml"), []byte("auth:\n  jwt_secret: s3cret\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	out, err := cfg.YAML()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "s3cret") {
		t.Fatalf("secret leaked in rendered config")
	}
	if cfg.Auth.JWTSecret != "s3cret" {
		t.Fatalf("render must not mutate config")
	}
}
