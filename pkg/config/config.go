// Package config loads and validates the suggestd daemon configuration
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config represents the suggestd configuration
type Config struct {
	// Main configuration
	LogLevel       string `json:"log_level"`
	DatabasePath   string `json:"database_path"`    // SQLite: rules, feedback log, context audit
	TimingDBPath   string `json:"timing_db_path"`   // bbolt: Bayesian timing slots
	RetentionHours int    `json:"retention_hours"`  // in-RAM audit trail retention
	MaxRAMMB       int    `json:"max_ram_mb"`       // in-RAM audit trail budget

	// Inference
	LeadTimes           []int   `json:"lead_times"`           // candidate lead-times in minutes
	SuggestionThreshold float64 `json:"suggestion_threshold"` // minimum suggestion score
	EnableSearch        bool    `json:"enable_search"`        // A* schedule optimization
	MaxSearchNodes      int     `json:"max_search_nodes"`     // A* node budget

	// API server
	APIListener    bool   `json:"api_listener"`
	APIHost        string `json:"api_host"`
	APIPort        int    `json:"api_port"`
	APIAuthKeyHash string `json:"api_auth_key_hash"` // bcrypt hash; empty allows anonymous access

	// Metrics server
	MetricsListener bool `json:"metrics_listener"`
	MetricsPort     int  `json:"metrics_port"`

	// MQTT event publishing
	MQTTEnabled     bool   `json:"mqtt_enabled"`
	MQTTBroker      string `json:"mqtt_broker"`
	MQTTPort        int    `json:"mqtt_port"`
	MQTTClientID    string `json:"mqtt_client_id"`
	MQTTUsername    string `json:"mqtt_username"`
	MQTTPassword    string `json:"mqtt_password"`
	MQTTTopicPrefix string `json:"mqtt_topic_prefix"`
	MQTTQoS         int    `json:"mqtt_qos"`

	// Calendar travel-time estimation (optional)
	MapsAPIKey   string `json:"maps_api_key"`
	HomeLocation string `json:"home_location"` // origin for travel-time estimates
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		LogLevel:            "info",
		DatabasePath:        "/var/lib/suggestd/suggestd.db",
		TimingDBPath:        "/var/lib/suggestd/timing.db",
		RetentionHours:      24,
		MaxRAMMB:            16,
		LeadTimes:           []int{10, 15, 30, 60},
		SuggestionThreshold: 0.60,
		EnableSearch:        true,
		MaxSearchNodes:      10000,
		APIListener:         true,
		APIHost:             "localhost",
		APIPort:             8090,
		MetricsListener:     false,
		MetricsPort:         9090,
		MQTTEnabled:         false,
		MQTTBroker:          "localhost",
		MQTTPort:            1883,
		MQTTClientID:        "suggestd",
		MQTTTopicPrefix:     "suggestd",
		MQTTQoS:             1,
	}
}

// Load reads a JSON configuration file over the defaults.
// A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration bounds
func (c *Config) Validate() error {
	if len(c.LeadTimes) == 0 {
		return fmt.Errorf("lead_times must not be empty")
	}
	for _, lt := range c.LeadTimes {
		if lt <= 0 {
			return fmt.Errorf("lead_times entries must be positive, got %d", lt)
		}
	}
	if c.SuggestionThreshold < 0 || c.SuggestionThreshold > 1 {
		return fmt.Errorf("suggestion_threshold must be in [0,1], got %.2f", c.SuggestionThreshold)
	}
	if c.MaxSearchNodes < 1 {
		return fmt.Errorf("max_search_nodes must be at least 1, got %d", c.MaxSearchNodes)
	}
	if c.RetentionHours < 1 || c.RetentionHours > 168 {
		return fmt.Errorf("retention_hours must be between 1 and 168, got %d", c.RetentionHours)
	}
	if c.MaxRAMMB < 1 || c.MaxRAMMB > 128 {
		return fmt.Errorf("max_ram_mb must be between 1 and 128, got %d", c.MaxRAMMB)
	}
	if c.APIPort < 1 || c.APIPort > 65535 {
		return fmt.Errorf("api_port out of range: %d", c.APIPort)
	}
	if c.MQTTQoS < 0 || c.MQTTQoS > 2 {
		return fmt.Errorf("mqtt_qos must be 0, 1 or 2, got %d", c.MQTTQoS)
	}
	return nil
}
