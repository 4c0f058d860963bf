package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bank-recon/pkg/bank"
	"bank-recon/pkg/resilience"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}

	if cfg.HTTP.Address != ":8080" {
		t.Errorf("Expected address :8080, got %s", cfg.HTTP.Address)
	}
	if cfg.Integration.MaxSpan != 90*24*time.Hour {
		t.Errorf("Expected 90 day max span, got %v", cfg.Integration.MaxSpan)
	}
	if cfg.Cache.TTLs.Pending != 30*time.Minute || cfg.Cache.TTLs.List != time.Hour || cfg.Cache.TTLs.Balance != 5*time.Minute {
		t.Errorf("Unexpected cache TTLs %+v", cfg.Cache.TTLs)
	}
	if cfg.Redis.Enabled() {
		t.Error("Expected Redis disabled without an address")
	}
	if len(cfg.Banks) != 0 {
		t.Errorf("Expected no banks configured, got %v", cfg.Banks)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STATEMENT_MAX_SPAN", "30d")
	t.Setenv("CACHE_TTL_BALANCE", "90s")
	t.Setenv("REDIS_CLUSTER_ADDRS", "r1:6379, r2:6379,")
	t.Setenv("ITAU_BASE_URL", "https://api.itau.test")
	t.Setenv("ITAU_CLIENT_ID", "id")
	t.Setenv("ITAU_CLIENT_SECRET", "secret")
	t.Setenv("ITAU_SCOPES", "readonly,extrato")
	t.Setenv("CAIXA_BASE_URL", "https://api.caixa.test")
	t.Setenv("CAIXA_API_KEY", "key")
	t.Setenv("BANK_BREAKER_FAILURES", "3")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}

	if cfg.HTTP.Address != ":9090" {
		t.Errorf("Expected :9090, got %s", cfg.HTTP.Address)
	}
	if cfg.Integration.MaxSpan != 30*24*time.Hour {
		t.Errorf("Expected 30 days, got %v", cfg.Integration.MaxSpan)
	}
	if cfg.Cache.TTLs.Balance != 90*time.Second {
		t.Errorf("Expected 90s, got %v", cfg.Cache.TTLs.Balance)
	}
	if len(cfg.Redis.ClusterAddrs) != 2 || !cfg.Redis.Enabled() {
		t.Errorf("Expected 2 cluster addresses, got %v", cfg.Redis.ClusterAddrs)
	}

	itau, ok := cfg.Banks[bank.Itau]
	if !ok || itau.ClientID != "id" || len(itau.Scopes) != 2 {
		t.Errorf("Unexpected Itau config %+v", itau)
	}
	if _, ok := cfg.Banks[bank.Caixa]; !ok {
		t.Error("Expected Caixa configured")
	}
	if _, ok := cfg.Banks[bank.Bradesco]; ok {
		t.Error("Expected Bradesco not configured")
	}

	cb := cfg.BankBreaker()
	if cb.ReadyToTrip(resilience.Counts{ConsecutiveFailures: 2}) {
		t.Error("Expected breaker closed after 2 failures")
	}
	if !cb.ReadyToTrip(resilience.Counts{ConsecutiveFailures: 3}) {
		t.Error("Expected breaker to trip after 3 failures")
	}
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"caixa without key", map[string]string{"CAIXA_BASE_URL": "https://x"}, "CAIXA_API_KEY"},
		{"bb without credentials", map[string]string{"BB_BASE_URL": "https://x"}, "BB_CLIENT_ID"},
		{"zero breaker", map[string]string{"BANK_BREAKER_FAILURES": "0"}, "BANK_BREAKER_FAILURES"},
		{"negative breaker timeout", map[string]string{"BANK_BREAKER_OPEN_TIMEOUT": "-5s"}, "breaker open timeout"},
		{"bloom rate", map[string]string{"BLOOM_FP_RATE": "1.5"}, "BLOOM_FP_RATE"},
		{"sentinel without master", map[string]string{"REDIS_SENTINEL_ADDRS": "s1:26379,s2:26379"}, "REDIS_SENTINEL_MASTER"},
		{"negative span", map[string]string{"STATEMENT_MAX_SPAN": "-1h"}, "STATEMENT_MAX_SPAN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %s, got %v", tt.want, err)
			}
		})
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "JWT_SECRET=from-file\nHTTP_ADDR=:7000\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("HTTP_ADDR", ":7100")
	t.Cleanup(func() { os.Unsetenv("JWT_SECRET") })

	cfg, err := Load(path, filepath.Join(dir, "missing.env"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.JWT.Secret != "from-file" {
		t.Errorf("Expected secret from file, got %q", cfg.JWT.Secret)
	}
	if cfg.HTTP.Address != ":7100" {
		t.Errorf("Expected environment to win over .env, got %s", cfg.HTTP.Address)
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		value    string
		expected time.Duration
	}{
		{"", time.Minute},
		{"2h", 2 * time.Hour},
		{"7d", 7 * 24 * time.Hour},
		{"soon", time.Minute},
	}
	for _, tt := range tests {
		t.Setenv("TEST_DURATION", tt.value)
		if got := getEnvDuration("TEST_DURATION", time.Minute); got != tt.expected {
			t.Errorf("getEnvDuration(%q) = %v, want %v", tt.value, got, tt.expected)
		}
	}
}
