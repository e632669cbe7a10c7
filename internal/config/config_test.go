package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CTX_JWT_SECRET", "")
	t.Setenv("CTX_PUBLIC_URL", "https://sync.example.com/")
	t.Setenv("CTX_AUTH_ISSUER", "")
	t.Setenv("CTX_TOUCH_INTERVAL_SECONDS", "not-a-number")

	cfg := Load()
	if cfg.JWTSecret != "" {
		t.Fatalf("expected empty JWT secret, got %q", cfg.JWTSecret)
	}
	if cfg.AuthIssuer != "https://sync.example.com/auth/v1" {
		t.Fatalf("unexpected issuer %q", cfg.AuthIssuer)
	}
	if cfg.TouchInterval != time.Minute {
		t.Fatalf("expected fallback touch interval, got %s", cfg.TouchInterval)
	}
	if cfg.Addr != ":8787" {
		t.Fatalf("unexpected addr %q", cfg.Addr)
	}
}

func TestLoadClientRequiresEveryValue(t *testing.T) {
	t.Setenv(EnvRemoteURL, "https://remote.example.com")
	t.Setenv(EnvRemoteAnonKey, "")
	t.Setenv(EnvSyncURL, "")
	t.Setenv(EnvAPIKey, "ctx_secret")

	_, err := LoadClient()
	var missing *MissingEnvError
	if !errors.As(err, &missing) {
		t.Fatalf("LoadClient() error = %v, want *MissingEnvError", err)
	}
	if len(missing.Keys) != 2 || missing.Keys[0] != EnvRemoteAnonKey || missing.Keys[1] != EnvSyncURL {
		t.Fatalf("unexpected missing keys: %v", missing.Keys)
	}
}

func TestLoadClient(t *testing.T) {
	t.Setenv(EnvRemoteURL, " https://remote.example.com ")
	t.Setenv(EnvRemoteAnonKey, "anon")
	t.Setenv(EnvSyncURL, "https://sync.example.com")
	t.Setenv(EnvAPIKey, "ctx_secret")
	t.Setenv(EnvDataDir, "")

	cfg, err := LoadClient()
	if err != nil {
		t.Fatalf("LoadClient() error = %v", err)
	}
	if cfg.RemoteURL != "https://remote.example.com" {
		t.Fatalf("expected trimmed remote url, got %q", cfg.RemoteURL)
	}
	if cfg.DataDir != "./data" {
		t.Fatalf("expected default data dir, got %q", cfg.DataDir)
	}
}
