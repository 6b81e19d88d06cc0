package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	path := filepath.Join("testdata", "config.yaml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.App.Name != "quantumtrader-test" {
		t.Fatalf("unexpected App.Name: %s", cfg.App.Name)
	}
	if len(cfg.Exchange.Symbols) != 2 || cfg.Exchange.Symbols[0] != "BTCUSDT" || cfg.Exchange.Symbols[1] != "ETHUSDT" {
		t.Fatalf("expected normalized symbols, got %+v", cfg.Exchange.Symbols)
	}
	if cfg.Exchange.BaseURL != "https://api.binance.com" {
		t.Fatalf("expected default base url, got %s", cfg.Exchange.BaseURL)
	}
	if cfg.Exchange.APIKeyEnv != "QT_API_KEY" || cfg.Exchange.APISecretEnv != "QT_API_SECRET" {
		t.Fatalf("unexpected credential env names: %s %s", cfg.Exchange.APIKeyEnv, cfg.Exchange.APISecretEnv)
	}
	if cfg.Exchange.RecvWindow() != 6*time.Second {
		t.Fatalf("unexpected recv window: %s", cfg.Exchange.RecvWindow())
	}
	if cfg.Exchange.QuantityPrecision != 5 {
		t.Fatalf("unexpected quantity precision: %d", cfg.Exchange.QuantityPrecision)
	}
	if len(cfg.Signal.Timeframes) != 2 || cfg.Signal.Timeframes[1].Name != "4h" || cfg.Signal.Timeframes[1].Weight != 2 {
		t.Fatalf("unexpected timeframes: %+v", cfg.Signal.Timeframes)
	}
	if cfg.Signal.ConfluenceTolerance != 0.9 {
		t.Fatalf("unexpected confluence tolerance: %.2f", cfg.Signal.ConfluenceTolerance)
	}
	if cfg.Signal.ConfidenceOffset != 5 {
		t.Fatalf("unexpected confidence offset: %.2f", cfg.Signal.ConfidenceOffset)
	}
	if cfg.Signal.CandleLimit != 100 {
		t.Fatalf("expected default candle limit, got %d", cfg.Signal.CandleLimit)
	}
	if cfg.Strategy.Mode != "trend" || cfg.Strategy.Params.SlowEMA != 26 {
		t.Fatalf("unexpected strategy: %+v", cfg.Strategy)
	}
	if cfg.Risk.RiskFraction != 0.05 {
		t.Fatalf("unexpected risk fraction: %.2f", cfg.Risk.RiskFraction)
	}
	if cfg.Risk.MaxSingleAssetWeight != 0.4 {
		t.Fatalf("unexpected max single asset weight: %.2f", cfg.Risk.MaxSingleAssetWeight)
	}
	if cfg.Exits.StopLossPct != -4 || cfg.Exits.TakeProfitPct != 8 {
		t.Fatalf("unexpected exits: %+v", cfg.Exits)
	}
	if len(cfg.Exits.RestrictedSymbols) != 1 || cfg.Exits.UnlockCeiling != 3 {
		t.Fatalf("unexpected restriction policy: %+v", cfg.Exits)
	}
	if cfg.Engine.CycleInterval() != time.Minute {
		t.Fatalf("unexpected cycle interval: %s", cfg.Engine.CycleInterval())
	}
	if cfg.Engine.PendingGrace() != 2*time.Minute {
		t.Fatalf("unexpected pending grace: %s", cfg.Engine.PendingGrace())
	}
	if cfg.Storage.Path != "data/test.db" {
		t.Fatalf("unexpected storage path: %s", cfg.Storage.Path)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("fixture should validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidateRequiresTolerance(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "config.yaml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	cfg.Signal.ConfluenceTolerance = 0
	cfg.Signal.ConfidenceOffset = -1
	cfg.Exits.StopLossPct = 4

	err = cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"confluence_tolerance", "confidence_offset", "stop_loss_pct"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in error, got %v", want, err)
		}
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "config.yaml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	path := filepath.Join(t.TempDir(), "saved.yaml")
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload returned error: %v", err)
	}
	if reloaded.Risk.MaxNotionalPerTrade != cfg.Risk.MaxNotionalPerTrade {
		t.Fatalf("risk section not preserved")
	}
}
