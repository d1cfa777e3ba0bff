package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if len(cfg.LeadTimes) != 4 {
		t.Errorf("expected 4 default lead times, got %d", len(cfg.LeadTimes))
	}
	if cfg.SuggestionThreshold != 0.60 {
		t.Errorf("expected default threshold 0.60, got %.2f", cfg.SuggestionThreshold)
	}
	if cfg.MaxSearchNodes != 10000 {
		t.Errorf("expected default node budget 10000, got %d", cfg.MaxSearchNodes)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level, got %s", cfg.LogLevel)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "suggestd.json")
	body := `{"log_level":"debug","lead_times":[5,20],"max_search_nodes":50,"api_port":8181}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected debug, got %s", cfg.LogLevel)
	}
	if len(cfg.LeadTimes) != 2 || cfg.LeadTimes[0] != 5 || cfg.LeadTimes[1] != 20 {
		t.Errorf("lead_times override not applied: %v", cfg.LeadTimes)
	}
	if cfg.MaxSearchNodes != 50 {
		t.Errorf("max_search_nodes override not applied: %d", cfg.MaxSearchNodes)
	}
	// Untouched fields keep defaults
	if cfg.MetricsPort != 9090 {
		t.Errorf("expected default metrics port, got %d", cfg.MetricsPort)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"empty lead times":   func(c *Config) { c.LeadTimes = nil },
		"zero lead time":     func(c *Config) { c.LeadTimes = []int{0} },
		"threshold above 1":  func(c *Config) { c.SuggestionThreshold = 1.5 },
		"zero node budget":   func(c *Config) { c.MaxSearchNodes = 0 },
		"retention too long": func(c *Config) { c.RetentionHours = 1000 },
		"bad qos":            func(c *Config) { c.MQTTQoS = 3 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
