package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "ALLOWED_ORIGIN", "DATABASE_URL", "REDIS_ADDR", "AUTH_SECRET",
		"ACCESS_TOKEN_TTL_MINUTES", "RECEIPT_CACHE_TTL_SECONDS", "SALE_TIMEOUT_SECONDS", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Port != "8080" {
		t.Errorf("Port = %s, want 8080", cfg.Port)
	}
	if cfg.Address() != ":8080" {
		t.Errorf("Address() = %s, want :8080", cfg.Address())
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Errorf("AccessTokenTTLMinutes = %d, want 480", cfg.AccessTokenTTLMinutes)
	}
	if cfg.ReceiptCacheTTLSeconds != 3600 {
		t.Errorf("ReceiptCacheTTLSeconds = %d, want 3600", cfg.ReceiptCacheTTLSeconds)
	}
	if cfg.SaleTimeoutSeconds != 15 {
		t.Errorf("SaleTimeoutSeconds = %d, want 15", cfg.SaleTimeoutSeconds)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %s, want info", cfg.LogLevel)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "60")
	t.Setenv("SALE_TIMEOUT_SECONDS", "30")
	t.Setenv("AUTH_SECRET", "  secret-value  ")

	cfg := Load()
	if cfg.Port != "9090" {
		t.Errorf("Port = %s, want 9090", cfg.Port)
	}
	if cfg.AccessTokenTTLMinutes != 60 {
		t.Errorf("AccessTokenTTLMinutes = %d, want 60", cfg.AccessTokenTTLMinutes)
	}
	if cfg.SaleTimeoutSeconds != 30 {
		t.Errorf("SaleTimeoutSeconds = %d, want 30", cfg.SaleTimeoutSeconds)
	}
	if cfg.AuthSecret != "secret-value" {
		t.Errorf("AuthSecret = %q, want trimmed value", cfg.AuthSecret)
	}
}

func TestLoadRejectsGarbageNumbers(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "not-a-number")
	t.Setenv("RECEIPT_CACHE_TTL_SECONDS", "-5")

	cfg := Load()
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Errorf("AccessTokenTTLMinutes = %d, want fallback 480", cfg.AccessTokenTTLMinutes)
	}
	if cfg.ReceiptCacheTTLSeconds != 3600 {
		t.Errorf("ReceiptCacheTTLSeconds = %d, want fallback 3600", cfg.ReceiptCacheTTLSeconds)
	}
}
