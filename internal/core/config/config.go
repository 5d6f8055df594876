package config

import (
	"time"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Redis    RedisConfig    `yaml:"redis"`
	Store    StoreConfig    `yaml:"store"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// UpstreamConfig holds settings for the chain data source.
type UpstreamConfig struct {
	WSURL                string        `yaml:"ws_url"`
	RPCURL               string        `yaml:"rpc_url"`
	RPCTimeout           time.Duration `yaml:"rpc_timeout"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	GovernorBaseInterval time.Duration `yaml:"governor_base_interval"`
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// StoreConfig holds persistence settings shared by both backends.
type StoreConfig struct {
	Capacity  int           `yaml:"capacity"`  // max records kept, lowest heights evicted first
	Retention time.Duration `yaml:"retention"` // TTL on primary records, 0 = default
	KeyPrefix string        `yaml:"key_prefix"`
}

// IngestConfig holds gap-closing and reconciliation settings.
type IngestConfig struct {
	MaxLiveGap        int           `yaml:"max_live_gap"`        // live-path clamp before escalating to large backfill
	BatchSize         int           `yaml:"batch_size"`          // concurrent fetches per live-path batch
	BatchPause        time.Duration `yaml:"batch_pause"`         // pause between live-path batches
	FetchMaxRetries   int           `yaml:"fetch_max_retries"`   // per-height retry ceiling
	SingleFlightWait  time.Duration `yaml:"single_flight_wait"`  // max wait for an in-flight large backfill
	HeadCheckInterval time.Duration `yaml:"head_check_interval"` // periodic chain-head comparison
	HeadCheckCap      int           `yaml:"head_check_cap"`      // max heights backfilled per head-check cycle
}
