// Package config loads the engine's configuration (spec §6): a YAML
// file with environment-variable overrides, grounded on the
// .env-then-flag convention in cmd/server/main.go, generalized to a
// structured YAML document the way AlejandroRuiz99-polybot's
// config.Load does it (yaml.Unmarshal + applyEnvOverrides + defaults).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full set of recognized options (spec §6).
type Config struct {
	API        APIConfig        `yaml:"api"`
	Store      StoreConfig      `yaml:"store"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Filter     FilterConfig     `yaml:"filter"`
	Risk       RiskConfig       `yaml:"risk"`
	Trading    TradingConfig    `yaml:"trading"`
	Logging    LoggingConfig    `yaml:"logging"`
	Simulation SimulationConfig `yaml:"simulation"`
}

// APIConfig is the event/RPC connection (spec §6 api.*).
type APIConfig struct {
	ServerURL string `yaml:"serverUrl"`
	APIKey    string `yaml:"apiKey"`
}

// StoreConfig is the position/cache store connection (spec §6 store.*).
type StoreConfig struct {
	URL string `yaml:"url"`
}

// MonitoringMode selects which actors the engine listens to.
type MonitoringMode string

const (
	MonitoringAll        MonitoringMode = "all"
	MonitoringSubscribed MonitoringMode = "subscribed"
)

// MonitoringConfig is the actor-list source (spec §6 monitoring.*).
type MonitoringConfig struct {
	Mode MonitoringMode `yaml:"mode"`
}

// FilterConfig mirrors spec §6 filter.*. Pointer fields are optional;
// zero-value non-pointer fields mean "no floor", except
// minInfluenceScore, where 0 is replaced by the default 50.
type FilterConfig struct {
	MinTradeVolume     float64  `yaml:"minTradeVolume"`
	MinConnectedActors int      `yaml:"minConnectedActors"`
	MinInfluenceScore  float64  `yaml:"minInfluenceScore"` // [0,100]
	MinTotalTrades     int      `yaml:"minTotalTrades"`
	MinViralVelocity   *int     `yaml:"minViralVelocity,omitempty"`
	RequireSmartMoney  bool     `yaml:"requireSmartMoney,omitempty"`
	MinConsensusScore  *float64 `yaml:"minConsensusScore,omitempty"`
	MinMarketCapUsd    *float64 `yaml:"minMarketCapUsd,omitempty"`
	MinLiquidityUsd    *float64 `yaml:"minLiquidityUsd,omitempty"`
}

// RiskConfig mirrors spec §6 risk.*.
type RiskConfig struct {
	TakeProfitPct       float64  `yaml:"takeProfitPct"`       // [1,1000]
	StopLossPct         float64  `yaml:"stopLossPct"`         // [1,100]
	TrailingStopPct     *float64 `yaml:"trailingStopPct,omitempty"`
	TrailingStopEnabled bool     `yaml:"trailingStopEnabled"`
	MaxHoldMinutes      *float64 `yaml:"maxHoldMinutes,omitempty"`
}

// TradingConfig mirrors spec §6 trading.*.
type TradingConfig struct {
	BuyAmount            float64 `yaml:"buyAmount"` // >0
	AllowAdditionalEntries bool  `yaml:"allowAdditionalEntries,omitempty"`
	MaxEntriesPerToken   *int    `yaml:"maxEntriesPerToken,omitempty"`
}

// LogLevel is one of the recognized logging.level values.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// LoggingConfig mirrors spec §6 logging.*.
type LoggingConfig struct {
	Level LogLevel `yaml:"level"`
}

// SimulationConfig mirrors spec §6 simulation.*.
type SimulationConfig struct {
	Enabled        bool    `yaml:"enabled"`
	InitialBalance float64 `yaml:"initialBalance"`
}

// Load reads a YAML config file at path, loads a .env file if present
// (teacher convention: existing process env vars are never
// overridden), applies environment-variable overrides, fills defaults,
// and validates the result.
func Load(path string) (*Config, error) {
	loadEnvFile()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the range constraints spec.md §6 names.
func (c *Config) Validate() error {
	if c.Risk.TakeProfitPct != 0 && (c.Risk.TakeProfitPct < 1 || c.Risk.TakeProfitPct > 1000) {
		return fmt.Errorf("risk.takeProfitPct must be in [1,1000], got %v", c.Risk.TakeProfitPct)
	}
	if c.Risk.StopLossPct != 0 && (c.Risk.StopLossPct < 1 || c.Risk.StopLossPct > 100) {
		return fmt.Errorf("risk.stopLossPct must be in [1,100], got %v", c.Risk.StopLossPct)
	}
	if c.Filter.MinInfluenceScore < 0 || c.Filter.MinInfluenceScore > 100 {
		return fmt.Errorf("filter.minInfluenceScore must be in [0,100], got %v", c.Filter.MinInfluenceScore)
	}
	if c.Trading.BuyAmount <= 0 {
		return fmt.Errorf("trading.buyAmount must be > 0, got %v", c.Trading.BuyAmount)
	}
	switch c.Monitoring.Mode {
	case MonitoringAll, MonitoringSubscribed:
	default:
		return fmt.Errorf("monitoring.mode must be 'all' or 'subscribed', got %q", c.Monitoring.Mode)
	}
	switch c.Logging.Level {
	case LogDebug, LogInfo, LogWarn, LogError:
	default:
		return fmt.Errorf("logging.level must be one of debug/info/warn/error, got %q", c.Logging.Level)
	}
	return nil
}

// applyEnvOverrides lets environment variables win over YAML for the
// keys most commonly overridden per-deployment (secrets, connection
// strings, log level), following the teacher's LOG_LEVEL/LOG_FORMAT
// override pattern.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("API_SERVER_URL"); v != "" {
		cfg.API.ServerURL = v
	}
	if v := os.Getenv("API_KEY"); v != "" {
		cfg.API.APIKey = v
	}
	if v := os.Getenv("STORE_URL"); v != "" {
		cfg.Store.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = LogLevel(v)
	}
	if v := os.Getenv("TRADING_BUY_AMOUNT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Trading.BuyAmount = f
		}
	}
	if v := os.Getenv("SIMULATION_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Simulation.Enabled = b
		}
	}
}

// setDefaults fills unset fields with the engine's operating defaults.
func setDefaults(cfg *Config) {
	if cfg.Monitoring.Mode == "" {
		cfg.Monitoring.Mode = MonitoringAll
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = LogInfo
	}
	if cfg.Filter.MinInfluenceScore == 0 {
		cfg.Filter.MinInfluenceScore = 50
	}
	if cfg.Risk.TakeProfitPct == 0 {
		cfg.Risk.TakeProfitPct = 50
	}
	if cfg.Risk.StopLossPct == 0 {
		cfg.Risk.StopLossPct = 20
	}
	if cfg.Simulation.Enabled && cfg.Simulation.InitialBalance == 0 {
		cfg.Simulation.InitialBalance = 10
	}
}

// loadEnvFile loads environment variables from .env file if it exists,
// without overriding variables already set in the process environment
// (teacher convention, cmd/server/main.go).
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
