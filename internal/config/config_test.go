package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "netpulse.yml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("expected sqlite driver, got %q", cfg.Store.Driver)
	}
	if cfg.AI.Cache.TTL != time.Hour {
		t.Errorf("expected 1h ttl, got %v", cfg.AI.Cache.TTL)
	}
	if cfg.AI.Cache.MaxEntries != 30 {
		t.Errorf("expected 30 max entries, got %d", cfg.AI.Cache.MaxEntries)
	}
	if cfg.Server.Addr != "127.0.0.1:7878" {
		t.Errorf("unexpected addr %q", cfg.Server.Addr)
	}
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	path := writeConfig(t, `
store:
  driver: memory
ai:
  provider: deepseek
  language: zh
  cache:
    ttl: 15m
    max_entries: 5
tracker:
  authorized_domains: [example.com, api.example.org]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("expected memory driver, got %q", cfg.Store.Driver)
	}
	if cfg.AI.Provider != "deepseek" || cfg.AI.Language != "zh" {
		t.Errorf("unexpected ai config %+v", cfg.AI)
	}
	if cfg.AI.Cache.TTL != 15*time.Minute || cfg.AI.Cache.MaxEntries != 5 {
		t.Errorf("unexpected cache config %+v", cfg.AI.Cache)
	}
	if len(cfg.Tracker.AuthorizedDomains) != 2 {
		t.Errorf("expected 2 seeded domains, got %v", cfg.Tracker.AuthorizedDomains)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("NETPULSE_AI_PROVIDER", "anthropic")
	t.Setenv("NETPULSE_CACHE_TTL", "2h")
	t.Setenv("NETPULSE_LOG_DEV", "yes")
	path := writeConfig(t, "ai:\n  provider: openai\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AI.Provider != "anthropic" {
		t.Errorf("expected env to win, got %q", cfg.AI.Provider)
	}
	if cfg.AI.Cache.TTL != 2*time.Hour {
		t.Errorf("expected 2h ttl, got %v", cfg.AI.Cache.TTL)
	}
	if !cfg.Log.Development {
		t.Error("expected development logging from env")
	}
}

func TestEnvFileLoaded(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "test.env")
	os.WriteFile(envPath, []byte("NETPULSE_AI_MODEL=gpt-4o\n"), 0o644)
	t.Setenv("ENV_FILE", envPath)
	t.Cleanup(func() { os.Unsetenv("NETPULSE_AI_MODEL") })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AI.Model != "gpt-4o" {
		t.Errorf("expected model from env file, got %q", cfg.AI.Model)
	}
}

func TestValidateLanguage(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	path := writeConfig(t, "ai:\n  language: fr\n")

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !IsValidationError(err) {
		t.Errorf("expected ValidationError, got %T", err)
	}
}

func TestInvalidYAML(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	path := writeConfig(t, "store: [unterminated\n")

	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}
