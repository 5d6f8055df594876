package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Upstream.RPCTimeout == 0 {
		cfg.Upstream.RPCTimeout = 10 * time.Second
	}
	if cfg.Upstream.MaxReconnectAttempts == 0 {
		cfg.Upstream.MaxReconnectAttempts = 10
	}
	if cfg.Upstream.ReconnectBaseDelay == 0 {
		cfg.Upstream.ReconnectBaseDelay = time.Second
	}
	if cfg.Upstream.GovernorBaseInterval == 0 {
		cfg.Upstream.GovernorBaseInterval = 250 * time.Millisecond
	}
	if cfg.Store.Capacity == 0 {
		cfg.Store.Capacity = 10000
	}
	if cfg.Store.Retention == 0 {
		cfg.Store.Retention = 7 * 24 * time.Hour
	}
	if cfg.Store.KeyPrefix == "" {
		cfg.Store.KeyPrefix = "blockpulse"
	}
	if cfg.Ingest.MaxLiveGap == 0 {
		cfg.Ingest.MaxLiveGap = 200
	}
	if cfg.Ingest.BatchSize == 0 {
		cfg.Ingest.BatchSize = 10
	}
	if cfg.Ingest.BatchPause == 0 {
		cfg.Ingest.BatchPause = 500 * time.Millisecond
	}
	if cfg.Ingest.FetchMaxRetries == 0 {
		cfg.Ingest.FetchMaxRetries = 5
	}
	if cfg.Ingest.SingleFlightWait == 0 {
		cfg.Ingest.SingleFlightWait = 5 * time.Minute
	}
	if cfg.Ingest.HeadCheckInterval == 0 {
		cfg.Ingest.HeadCheckInterval = 30 * time.Second
	}
	if cfg.Ingest.HeadCheckCap == 0 {
		cfg.Ingest.HeadCheckCap = 100
	}
}
