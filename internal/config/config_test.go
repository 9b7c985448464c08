package config

import (
	"testing"
	"time"
)

func TestLoad_EnvOnlyDefaults(t *testing.T) {
	cfg, err := Load("no-such-file.yaml", true)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LLM.Model != "claude-sonnet-4-6" {
		t.Fatalf("llm model = %q, want claude-sonnet-4-6", cfg.LLM.Model)
	}
	if cfg.Trading.Bankroll != 10000 {
		t.Fatalf("bankroll = %v, want 10000", cfg.Trading.Bankroll)
	}
	if cfg.Trading.MinEdgeThreshold != 0.05 {
		t.Fatalf("min edge = %v, want 0.05", cfg.Trading.MinEdgeThreshold)
	}
	if cfg.Trading.MaxConcurrentPosition != 15 {
		t.Fatalf("max concurrent = %v, want 15", cfg.Trading.MaxConcurrentPosition)
	}
	if cfg.Scanner.MinMarketVolume != 200 {
		t.Fatalf("min volume = %v, want 200", cfg.Scanner.MinMarketVolume)
	}
}

func TestMaxPositionFraction(t *testing.T) {
	trading := TradingConfig{MaxPositionPct: 5.0}
	if got := trading.MaxPositionFraction(); got != 0.05 {
		t.Fatalf("fraction = %v, want 0.05", got)
	}
}

func TestScanInterval(t *testing.T) {
	if got := (ScannerConfig{IntervalHours: 12}).ScanInterval(); got != 12*time.Hour {
		t.Fatalf("interval = %v, want 12h", got)
	}
	if got := (ScannerConfig{}).ScanInterval(); got != 6*time.Hour {
		t.Fatalf("zero-value interval = %v, want 6h default", got)
	}
}
