package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"grid-trader-go/infrastructure/logger"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env         string        `yaml:"env"`
	Symbol      string        `yaml:"symbol"`
	BaseAsset   string        `yaml:"baseAsset"`
	QuoteAsset  string        `yaml:"quoteAsset"`
	MetricsAddr string        `yaml:"metricsAddr"`
	Gateway     GatewayConfig `yaml:"gateway"`
	Grid        GridConfig    `yaml:"grid"`
	Ledger      LedgerConfig  `yaml:"ledger"`
	Logging     logger.Config `yaml:"logging"`
}

type GatewayConfig struct {
	APIKey        string  `yaml:"apiKey"`
	APISecret     string  `yaml:"apiSecret"`
	BaseURL       string  `yaml:"baseURL"`
	WSEndpoint    string  `yaml:"wsEndpoint"`
	RestRate      float64 `yaml:"restRate"`
	RestBurst     int     `yaml:"restBurst"`
	PriceDecimals int     `yaml:"priceDecimals"`
}

// GridConfig 网格参数。BBWindow/BBStdDev 为布林带窗口与带宽倍数，
// RefreshTicks 为全量重建周期（收盘tick数）。
type GridConfig struct {
	BBWindow       int     `yaml:"bbWindow"`
	BBStdDev       float64 `yaml:"bbStdDev"`
	CandleLimit    int     `yaml:"candleLimit"`
	CandleInterval string  `yaml:"candleInterval"`
	TickInterval   string  `yaml:"tickInterval"`
	RefreshTicks   int     `yaml:"refreshTicks"`
}

type LedgerConfig struct {
	SnapshotPath   string `yaml:"snapshotPath"`
	CallTimeoutSec int    `yaml:"callTimeoutSec"`
}

// Defaults mirrors the constants the strategy was originally tuned with.
func Defaults() AppConfig {
	return AppConfig{
		Env:         "prod",
		Symbol:      "BTCUSDT",
		BaseAsset:   "BTC",
		QuoteAsset:  "USDT",
		MetricsAddr: ":9100",
		Gateway: GatewayConfig{
			BaseURL:       "https://api.binance.com",
			WSEndpoint:    "wss://stream.binance.com:9443",
			RestRate:      5,
			RestBurst:     10,
			PriceDecimals: 2,
		},
		Grid: GridConfig{
			BBWindow:       20,
			BBStdDev:       10,
			CandleLimit:    21,
			CandleInterval: "1d",
			TickInterval:   "1m",
			RefreshTicks:   1440,
		},
		Ledger: LedgerConfig{
			SnapshotPath:   "open_orders.json",
			CallTimeoutSec: 10,
		},
		Logging: logger.DefaultConfig(),
	}
}

// Load reads YAML config from path over the defaults and validates it.
func Load(path string) (AppConfig, error) {
	cfg := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides credentials from env vars.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if v := os.Getenv("GRID_API_KEY"); v != "" {
		cfg.Gateway.APIKey = v
	}
	if v := os.Getenv("GRID_API_SECRET"); v != "" {
		cfg.Gateway.APISecret = v
	}
	return cfg, Validate(cfg)
}

// Validate ensures required fields are present. Configuration and
// credential failures abort startup instead of being swallowed.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if cfg.Symbol == "" {
		return errors.New("symbol is required")
	}
	if cfg.BaseAsset == "" || cfg.QuoteAsset == "" {
		return errors.New("baseAsset/quoteAsset is required")
	}
	if cfg.Gateway.APIKey == "" || cfg.Gateway.APISecret == "" {
		return errors.New("gateway.apiKey/apiSecret is required (or env overrides)")
	}
	if cfg.Gateway.BaseURL == "" {
		return errors.New("gateway.baseURL is required")
	}
	if cfg.Grid.BBWindow < 2 {
		return fmt.Errorf("grid.bbWindow must be >= 2, got %d", cfg.Grid.BBWindow)
	}
	if cfg.Grid.BBStdDev <= 0 {
		return fmt.Errorf("grid.bbStdDev must be > 0, got %g", cfg.Grid.BBStdDev)
	}
	if cfg.Grid.CandleLimit <= cfg.Grid.BBWindow {
		return fmt.Errorf("grid.candleLimit must exceed bbWindow, got %d", cfg.Grid.CandleLimit)
	}
	if cfg.Grid.RefreshTicks <= 0 {
		return fmt.Errorf("grid.refreshTicks must be > 0, got %d", cfg.Grid.RefreshTicks)
	}
	if cfg.Ledger.SnapshotPath == "" {
		return errors.New("ledger.snapshotPath is required")
	}
	return nil
}
