package infra

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds every runtime setting. Values come from the yaml file and can
// be overridden by COINPAPER_* environment variables.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Upbit struct {
		WSURL   string `yaml:"ws_url" env:"COINPAPER_UPBIT_WS_URL"`
		RestURL string `yaml:"rest_url" env:"COINPAPER_UPBIT_REST_URL"`
	} `yaml:"upbit"`

	Server struct {
		Addr string `yaml:"addr" env:"COINPAPER_SERVER_ADDR"`
	} `yaml:"server"`

	Redis struct {
		Addr   string `yaml:"addr" env:"COINPAPER_REDIS_ADDR"`
		TTLSec int    `yaml:"ttl_sec"`
	} `yaml:"redis"`

	Ledger struct {
		DBPath         string  `yaml:"db_path" env:"COINPAPER_DB_PATH"`
		InitialBalance float64 `yaml:"initial_balance"`
	} `yaml:"ledger"`

	Market struct {
		UpdateIntervalMS int      `yaml:"update_interval_ms"`
		TradeWindow      int      `yaml:"trade_window"`
		CandleWindow     int      `yaml:"candle_window"`
		CandleIntervals  []string `yaml:"candle_intervals"`
	} `yaml:"market"`

	Logging struct {
		Level  string `yaml:"level" env:"COINPAPER_LOG_LEVEL"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file, applies environment
// overrides, and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("env override failed: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Upbit.WSURL == "" || (!hasPrefix(c.Upbit.WSURL, "ws://") && !hasPrefix(c.Upbit.WSURL, "wss://")) {
		return fmt.Errorf("invalid Upbit WS URL: %s", c.Upbit.WSURL)
	}
	if c.Upbit.RestURL == "" || (!hasPrefix(c.Upbit.RestURL, "http://") && !hasPrefix(c.Upbit.RestURL, "https://")) {
		return fmt.Errorf("invalid Upbit REST URL: %s", c.Upbit.RestURL)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server address is required")
	}
	if c.Market.UpdateIntervalMS <= 0 {
		return fmt.Errorf("update interval must be positive")
	}
	if c.Market.TradeWindow <= 0 || c.Market.CandleWindow <= 0 {
		return fmt.Errorf("trade/candle windows must be positive")
	}
	if c.Ledger.DBPath == "" {
		return fmt.Errorf("ledger db path is required")
	}
	if c.Ledger.InitialBalance < 0 {
		return fmt.Errorf("initial balance must not be negative")
	}
	return nil
}

// UpdateInterval returns the snapshot pump tick as a duration.
func (c *Config) UpdateInterval() time.Duration {
	return time.Duration(c.Market.UpdateIntervalMS) * time.Millisecond
}

// RedisTTL returns the cached ticker TTL, defaulting to 60s.
func (c *Config) RedisTTL() time.Duration {
	if c.Redis.TTLSec <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Redis.TTLSec) * time.Second
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}
