package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all driveline server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	OpsAddr  string `json:"ops_addr"`
	DBPath   string `json:"db_path"`
	LogLevel string `json:"log_level"`

	// RedisAddr enables the Redis event bus leg when set; empty keeps events
	// in-process only.
	RedisAddr    string `json:"redis_addr"`
	RedisChannel string `json:"redis_channel"`

	// OpenAIModel selects the insights model. The API key comes from the
	// OPENAI_API_KEY env var only and never from settings.json; without a key
	// the static insights client answers instead.
	OpenAIModel string `json:"openai_model"`

	// Default limits applied when a sandbox create request omits them.
	DefaultHourlyTokens    int64 `json:"default_hourly_tokens"`
	DefaultDailyTokens     int64 `json:"default_daily_tokens"`
	DefaultDailyCostMicros int64 `json:"default_daily_cost_micros"`

	BreakerFailures        int `json:"breaker_failures"`
	BreakerCooldownSeconds int `json:"breaker_cooldown_seconds"`

	MaxWorkflows          int `json:"max_workflows"`
	ReplayMaxCorrelations int `json:"replay_max_correlations"`
	ReplayMaxEntries      int `json:"replay_max_entries"`

	QueueCapacity int `json:"queue_capacity"`
	QueueWorkers  int `json:"queue_workers"`

	Scheduler                bool `json:"scheduler"`
	SchedulerIntervalSeconds int  `json:"scheduler_interval_seconds"`
}

func defaultConfig() Config {
	return Config{
		OpsAddr:                  ":4600",
		DBPath:                   filepath.Join(drivelineDir(), "driveline.db"),
		LogLevel:                 "info",
		RedisChannel:             "driveline.events",
		DefaultHourlyTokens:      100_000,
		DefaultDailyTokens:       1_000_000,
		DefaultDailyCostMicros:   50_000_000,
		Scheduler:                true,
		SchedulerIntervalSeconds: 30,
	}
}

func drivelineDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".driveline"
	}
	return filepath.Join(home, ".driveline")
}

func settingsPath() string {
	if v := os.Getenv("DRIVELINE_SETTINGS"); v != "" {
		return v
	}
	return filepath.Join(drivelineDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("DRIVELINE_OPS_ADDR"); v != "" {
		cfg.OpsAddr = v
	}
	if v := os.Getenv("DRIVELINE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("DRIVELINE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DRIVELINE_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("DRIVELINE_REDIS_CHANNEL"); v != "" {
		cfg.RedisChannel = v
	}
	if v := os.Getenv("DRIVELINE_OPENAI_MODEL"); v != "" {
		cfg.OpenAIModel = v
	}
	if v := os.Getenv("DRIVELINE_DEFAULT_HOURLY_TOKENS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.DefaultHourlyTokens = n
		}
	}
	if v := os.Getenv("DRIVELINE_DEFAULT_DAILY_TOKENS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.DefaultDailyTokens = n
		}
	}
	if v := os.Getenv("DRIVELINE_DEFAULT_DAILY_COST_MICROS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.DefaultDailyCostMicros = n
		}
	}
	if v := os.Getenv("DRIVELINE_BREAKER_FAILURES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BreakerFailures = n
		}
	}
	if v := os.Getenv("DRIVELINE_BREAKER_COOLDOWN_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BreakerCooldownSeconds = n
		}
	}
	if v := os.Getenv("DRIVELINE_MAX_WORKFLOWS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxWorkflows = n
		}
	}
	if v := os.Getenv("DRIVELINE_REPLAY_MAX_CORRELATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ReplayMaxCorrelations = n
		}
	}
	if v := os.Getenv("DRIVELINE_REPLAY_MAX_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ReplayMaxEntries = n
		}
	}
	if v := os.Getenv("DRIVELINE_QUEUE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueCapacity = n
		}
	}
	if v := os.Getenv("DRIVELINE_QUEUE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueWorkers = n
		}
	}
	if v := os.Getenv("DRIVELINE_SCHEDULER"); v != "" {
		cfg.Scheduler = v == "true" || v == "1"
	}
	if v := os.Getenv("DRIVELINE_SCHEDULER_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SchedulerIntervalSeconds = n
		}
	}

	return cfg
}
