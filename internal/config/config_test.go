package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadFillsDefaultsForZeroValuedFields(t *testing.T) {
	path := writeTempConfig(t, "auth:\n  signing_secret: test-secret\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Fatalf("ListenAddr = %q, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.Scheduler.TickPeriod != 5*time.Second {
		t.Fatalf("TickPeriod = %v, want 5s", cfg.Scheduler.TickPeriod)
	}
	if cfg.Scheduler.DisconnectTTL != 15*time.Second {
		t.Fatalf("DisconnectTTL = %v, want 15s", cfg.Scheduler.DisconnectTTL)
	}
	if cfg.RateLimit.TradePerSecond != 5 {
		t.Fatalf("TradePerSecond = %d, want 5", cfg.RateLimit.TradePerSecond)
	}
}

func TestLoadRequiresASigningSecret(t *testing.T) {
	path := writeTempConfig(t, "server:\n  listen_addr: \":9000\"\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected Load to fail without a signing secret configured")
	}
}

func TestEnvOverridesTakePrecedenceOverTheFile(t *testing.T) {
	path := writeTempConfig(t, "auth:\n  signing_secret: from-file\n")

	t.Setenv("CANDLEDUEL_SIGNING_SECRET", "from-env")
	t.Setenv("CANDLEDUEL_BROADCAST_PORT", "6380")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.SigningSecret != "from-env" {
		t.Fatalf("SigningSecret = %q, want from-env to win over the file", cfg.Auth.SigningSecret)
	}
	if cfg.Broadcast.Port != 6380 {
		t.Fatalf("Broadcast.Port = %d, want 6380", cfg.Broadcast.Port)
	}
}
