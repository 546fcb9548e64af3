package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.OrderTTL != time.Hour {
		t.Errorf("OrderTTL = %v, want 1h", cfg.OrderTTL)
	}
	if cfg.EvalInterval != 15*time.Second {
		t.Errorf("EvalInterval = %v, want 15s", cfg.EvalInterval)
	}
	if cfg.TokenTTL != 24*time.Hour {
		t.Errorf("TokenTTL = %v, want 24h", cfg.TokenTTL)
	}
	if !cfg.StartingBalance.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("StartingBalance = %s, want 10000", cfg.StartingBalance)
	}
	if cfg.PlacementRetries != 3 {
		t.Errorf("PlacementRetries = %d, want 3", cfg.PlacementRetries)
	}
	if cfg.FeedURL != "" || cfg.DataDir != "" {
		t.Errorf("FeedURL/DataDir = %q/%q, want empty defaults", cfg.FeedURL, cfg.DataDir)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("PORT", "9000")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ORDER_TTL", "30m")
	t.Setenv("EVAL_INTERVAL", "5s")
	t.Setenv("STARTING_BALANCE", "2500.50")
	t.Setenv("FEED_URL", "wss://feed.example.com/ws")
	t.Setenv("DATA_DIR", "/var/lib/papertrade")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9000 || cfg.LogLevel != "debug" {
		t.Errorf("Port/LogLevel = %d/%q", cfg.Port, cfg.LogLevel)
	}
	if cfg.OrderTTL != 30*time.Minute || cfg.EvalInterval != 5*time.Second {
		t.Errorf("OrderTTL/EvalInterval = %v/%v", cfg.OrderTTL, cfg.EvalInterval)
	}
	if !cfg.StartingBalance.Equal(decimal.RequireFromString("2500.50")) {
		t.Errorf("StartingBalance = %s, want 2500.50", cfg.StartingBalance)
	}
	if cfg.FeedURL != "wss://feed.example.com/ws" || cfg.DataDir != "/var/lib/papertrade" {
		t.Errorf("FeedURL/DataDir = %q/%q", cfg.FeedURL, cfg.DataDir)
	}
}

func TestLoadInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad port", "PORT", "not-a-number"},
		{"bad log level", "LOG_LEVEL", "verbose"},
		{"bad order ttl", "ORDER_TTL", "soon"},
		{"zero order ttl", "ORDER_TTL", "0s"},
		{"negative eval interval", "EVAL_INTERVAL", "-5s"},
		{"bad starting balance", "STARTING_BALANCE", "lots"},
		{"negative starting balance", "STARTING_BALANCE", "-1"},
		{"zero placement retries", "PLACEMENT_RETRIES", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "test-secret")
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load accepted %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatal("Load accepted an empty JWT_SECRET")
	}
}
