package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	StorePath string           `json:"store_path"`
	Port      int              `json:"port"`
	LogConfig logger.LogConfig `json:"log_config"`
	Provider  ProviderConfig   `json:"provider"`
	Batch     BatchConfig      `json:"batch"`
	Snapshot  SnapshotConfig   `json:"snapshot"`
	Index     IndexConfig      `json:"index"`
	Database  DatabaseConfig   `json:"database"`
	QueryLRU  QueryLRUConfig   `json:"query_lru"`
	// ResyncSpec is a cron spec for the background resync job in serve mode.
	ResyncSpec string `json:"resync_spec"`
}

type ProviderConfig struct {
	Type           string      `json:"type"`
	Model          string      `json:"model"`
	TimeoutSeconds int         `json:"timeout_seconds"`
	Data           interface{} `json:"data"`
}

type BatchConfig struct {
	Size              int `json:"size"`
	InterBatchDelayMS int `json:"inter_batch_delay_ms"`
	BackoffBaseMS     int `json:"backoff_base_ms"`
	MaxRetries        int `json:"max_retries"`
	WarmupDelayMS     int `json:"warmup_delay_ms"`
}

type SnapshotConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type IndexConfig struct {
	// Backend is "memory" (brute force) or "postgres" (pgvector).
	Backend string `json:"backend"`
	TopK    int    `json:"top_k"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
}

type QueryLRUConfig struct {
	Size       int `json:"size"`
	TTLSeconds int `json:"ttl_seconds"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.StorePath == "" {
		return nil, fmt.Errorf("store_path is required")
	}
	if cfg.Provider.Type == "" {
		return nil, fmt.Errorf("provider.type is required")
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.Provider.TimeoutSeconds <= 0 {
		cfg.Provider.TimeoutSeconds = 30
	}
	if cfg.Batch.Size <= 0 {
		cfg.Batch.Size = 16
	}
	if cfg.Batch.MaxRetries <= 0 {
		cfg.Batch.MaxRetries = 5
	}
	if cfg.Batch.BackoffBaseMS <= 0 {
		cfg.Batch.BackoffBaseMS = 1000
	}
	if cfg.Batch.InterBatchDelayMS < 0 {
		cfg.Batch.InterBatchDelayMS = 0
	}
	if cfg.Snapshot.Type == "" {
		cfg.Snapshot.Type = "local"
	}
	if cfg.Snapshot.Type == "local" && cfg.Snapshot.Data == nil {
		cfg.Snapshot.Data = map[string]interface{}{"path": cfg.StorePath + ".snapshot.json"}
	}
	if cfg.Index.Backend == "" {
		cfg.Index.Backend = "memory"
	}
	if cfg.Index.Backend != "memory" && cfg.Index.Backend != "postgres" {
		return nil, fmt.Errorf("index.backend must be memory or postgres")
	}
	if cfg.Index.TopK <= 0 {
		cfg.Index.TopK = 25
	}
	if cfg.QueryLRU.Size <= 0 {
		cfg.QueryLRU.Size = 1024
	}
	if cfg.QueryLRU.TTLSeconds <= 0 {
		cfg.QueryLRU.TTLSeconds = 3600
	}
	if cfg.ResyncSpec == "" {
		cfg.ResyncSpec = "*/10 * * * *"
	}
	return &cfg, nil
}
