package config

import (
	"testing"
	"time"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.ManagerPIN != "" {
		t.Fatalf("expected empty MANAGER_PIN when unset, got %q", cfg.ManagerPIN)
	}
}

func TestLoadFallsBackToManualTerminalWithoutURL(t *testing.T) {
	t.Setenv("TERMINAL_MANUAL_MODE", "false")
	t.Setenv("TERMINAL_URL", "")

	cfg := Load()
	if !cfg.TerminalManualMode {
		t.Fatalf("expected manual mode when no terminal bridge is configured")
	}
}

func TestLoadParsesTerminalAndThreshold(t *testing.T) {
	t.Setenv("TERMINAL_MANUAL_MODE", "false")
	t.Setenv("TERMINAL_URL", "http://127.0.0.1:9100")
	t.Setenv("TERMINAL_TIMEOUT_SECONDS", "15")
	t.Setenv("HIGH_SALES_THRESHOLD", "2500.50")
	t.Setenv("RECEIPT_NODE_ID", "7")

	cfg := Load()
	if cfg.TerminalManualMode {
		t.Fatalf("expected terminal bridge mode")
	}
	if cfg.TerminalTimeout != 15*time.Second {
		t.Fatalf("expected 15s terminal timeout, got %s", cfg.TerminalTimeout)
	}
	if cfg.HighSalesThreshold.String() != "2500.5" {
		t.Fatalf("expected threshold 2500.5, got %s", cfg.HighSalesThreshold)
	}
	if cfg.ReceiptNodeID != 7 {
		t.Fatalf("expected receipt node 7, got %d", cfg.ReceiptNodeID)
	}
}

func TestLoadRejectsOutOfRangeValues(t *testing.T) {
	t.Setenv("HIGH_SALES_THRESHOLD", "-1")
	t.Setenv("RECEIPT_NODE_ID", "5000")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "0")

	cfg := Load()
	if cfg.HighSalesThreshold.String() != "10000" {
		t.Fatalf("expected default threshold, got %s", cfg.HighSalesThreshold)
	}
	if cfg.ReceiptNodeID != 1 {
		t.Fatalf("expected default receipt node, got %d", cfg.ReceiptNodeID)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected default token ttl, got %d", cfg.AccessTokenTTLMinutes)
	}
}
