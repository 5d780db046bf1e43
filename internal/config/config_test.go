package config

import (
	"errors"
	"testing"

	"importflow/internal/customs"
)

func TestLoadCustomsFromEnv(t *testing.T) {
	t.Setenv("CUSTOMS_THRESHOLD", "800")
	t.Setenv("CUSTOMS_SAFE_SPLIT_UNIT", "799.50")
	t.Setenv("SURNAME_POOL", "Silva, Souza ,Costa")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	cc := cfg.CustomsConfig()
	if cc.Threshold.String() != "800" || cc.SafeSplitUnit.StringFixed(2) != "799.50" {
		t.Fatalf("customs=%+v", cc)
	}
	if len(cc.SurnamePool) != 3 || cc.SurnamePool[1] != "Souza" {
		t.Fatalf("pool=%v", cc.SurnamePool)
	}
	if _, err := customs.NewEngine(cc); err != nil {
		t.Fatal(err)
	}
}

func TestLoadRejectsUnsafeUnitAtEngineStartup(t *testing.T) {
	t.Setenv("CUSTOMS_THRESHOLD", "200")
	t.Setenv("CUSTOMS_SAFE_SPLIT_UNIT", "200")

	cfg, _ := Load()
	if _, err := customs.NewEngine(cfg.CustomsConfig()); !errors.Is(err, customs.ErrInvalidConfig) {
		t.Fatalf("err=%v", err)
	}
}

func TestLoadDefaultsAndFallbacks(t *testing.T) {
	t.Setenv("CUSTOMS_THRESHOLD", "not-a-number")
	t.Setenv("EXTRACT_CONCURRENCY", "x")
	t.Setenv("IMAP_SECURE", "off")
	t.Setenv("GOOGLE_CLIENT_ID", "shared-client")
	t.Setenv("GMAIL_CLIENT_ID", "")

	cfg, _ := Load()
	if cfg.CustomsThreshold.String() != "200" {
		t.Fatalf("threshold=%s", cfg.CustomsThreshold)
	}
	if cfg.MaxOrderAmount.String() != "100000" {
		t.Fatalf("max order amount=%s", cfg.MaxOrderAmount)
	}
	if cfg.ExtractConcurrency != 4 {
		t.Fatalf("concurrency=%d", cfg.ExtractConcurrency)
	}
	if cfg.IMAPSecure {
		t.Fatal("imap secure should be off")
	}
	if cfg.GmailClientID != "" {
		t.Fatalf("explicit empty GMAIL_CLIENT_ID should win, got %q", cfg.GmailClientID)
	}
	if err := cfg.Require("VISION_API_KEY", ""); err == nil {
		t.Fatal("expected error")
	}
}
