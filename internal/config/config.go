// Package config loads and validates the engine's YAML configuration.
// Environment references like ${TRADIER_API_KEY} are expanded at load time,
// unknown keys are rejected, and Validate is the single gate: a config that
// loads is a config the engine can run on.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the root of the configuration file.
type Config struct {
	Orchestration OrchestrationConfig       `yaml:"orchestration"`
	Strategies    map[string]StrategyConfig `yaml:"strategies"`
	MarketData    MarketDataConfig          `yaml:"market_data"`
	Broker        BrokerConfig              `yaml:"broker"`
	Risk          RiskConfig                `yaml:"risk"`
	Monitoring    MonitoringConfig          `yaml:"monitoring"`
	Market        MarketConfig              `yaml:"market"`
	Storage       StorageConfig             `yaml:"storage"`
}

// OrchestrationConfig tunes the tick loop.
type OrchestrationConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Mode               string `yaml:"mode"`
	MaxParallelWorkers int    `yaml:"max_parallel_workers"`
	TickIntervalS      int    `yaml:"tick_interval_s"`
	FallbackToLegacy   bool   `yaml:"fallback_to_legacy"`
	DryRun             bool   `yaml:"dry_run"`
}

// TickInterval returns the loop interval, falling back to the monitoring
// polling interval for older configs.
func (c *Config) TickInterval() time.Duration {
	if c.Orchestration.TickIntervalS > 0 {
		return time.Duration(c.Orchestration.TickIntervalS) * time.Second
	}
	if c.Monitoring.PollingIntervalS > 0 {
		return time.Duration(c.Monitoring.PollingIntervalS) * time.Second
	}
	return 30 * time.Second
}

// StrategyConfig is one per-tag block: the enable flag plus whatever
// parameters that strategy defines. Params stay as a YAML node so each
// strategy decodes its own shape.
type StrategyConfig struct {
	Enabled bool
	Params  *yaml.Node
}

// UnmarshalYAML keeps the whole mapping as the params node and lifts the
// enabled flag out of it.
func (s *StrategyConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("strategy block must be a mapping, got %v", node.Kind)
	}
	var flag struct {
		Enabled bool `yaml:"enabled"`
	}
	if err := node.Decode(&flag); err != nil {
		return err
	}
	s.Enabled = flag.Enabled
	s.Params = node
	return nil
}

// ProviderConfig is one market-data source in failover order.
type ProviderConfig struct {
	Name    string `yaml:"name"`
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// MarketDataConfig orders the provider chain.
type MarketDataConfig struct {
	Providers []ProviderConfig `yaml:"providers"`
}

// EnabledProviders returns the chain in configured order.
func (m *MarketDataConfig) EnabledProviders() []ProviderConfig {
	out := make([]ProviderConfig, 0, len(m.Providers))
	for _, p := range m.Providers {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// AccountConfig is one brokerage account.
type AccountConfig struct {
	Name      string `yaml:"name"`
	Provider  string `yaml:"provider"`
	APIKey    string `yaml:"api_key"`
	AccountID string `yaml:"account_id"`
	Sandbox   bool   `yaml:"sandbox"`
}

// BrokerConfig selects the execution account.
type BrokerConfig struct {
	DefaultAccount string          `yaml:"default_account"`
	Accounts       []AccountConfig `yaml:"accounts"`
}

// Account resolves the default account.
func (b *BrokerConfig) Account() (*AccountConfig, error) {
	for i := range b.Accounts {
		if b.Accounts[i].Name == b.DefaultAccount {
			return &b.Accounts[i], nil
		}
	}
	return nil, fmt.Errorf("broker: default_account %q not found", b.DefaultAccount)
}

// RiskConfig bounds account exposure.
type RiskConfig struct {
	MaxNotionalLeverage  decimal.Decimal `yaml:"max_notional_leverage"`
	MaxCapitalAllocation decimal.Decimal `yaml:"max_capital_allocation"`
	MaxOpenPlays         int             `yaml:"max_open_plays"`
}

// MonitoringConfig covers polling and the status surface.
type MonitoringConfig struct {
	PollingIntervalS int    `yaml:"polling_interval_s"`
	StatusPort       int    `yaml:"status_port"`
	StatusAuthToken  string `yaml:"status_auth_token"`
}

// MarketConfig holds exchange-calendar settings.
type MarketConfig struct {
	Timezone       string   `yaml:"timezone"`
	HolidaysSource string   `yaml:"holidays_source"`
	Holidays       []string `yaml:"holidays"`
	EarlyCloses    []string `yaml:"early_closes"`
}

// StorageConfig points at the durable data root.
type StorageConfig struct {
	// DataDir overrides GOLDFLIPPER_HOME; empty uses the environment.
	DataDir string `yaml:"data_dir"`
}

// Load reads, expands, decodes, normalizes, and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Orchestration.Mode == "" {
		c.Orchestration.Mode = "sequential"
	}
	if c.Orchestration.MaxParallelWorkers == 0 {
		c.Orchestration.MaxParallelWorkers = 4
	}
	if c.Market.Timezone == "" {
		c.Market.Timezone = "America/New_York"
	}
	if c.Market.HolidaysSource == "" {
		c.Market.HolidaysSource = "builtin"
	}
	if c.Monitoring.StatusPort == 0 {
		c.Monitoring.StatusPort = 8080
	}
	for i := range c.MarketData.Providers {
		p := &c.MarketData.Providers[i]
		if p.BaseURL != "" {
			continue
		}
		switch p.Name {
		case "tradier":
			p.BaseURL = "https://api.tradier.com"
		case "marketdataapp":
			p.BaseURL = "https://api.marketdata.app"
		}
	}
}

// Validate rejects configurations the engine cannot run on.
func (c *Config) Validate() error {
	switch c.Orchestration.Mode {
	case "sequential", "parallel":
	default:
		return fmt.Errorf("orchestration.mode must be sequential or parallel, got %q",
			c.Orchestration.Mode)
	}
	if c.Orchestration.MaxParallelWorkers < 1 {
		return fmt.Errorf("orchestration.max_parallel_workers must be >= 1, got %d",
			c.Orchestration.MaxParallelWorkers)
	}
	if c.Orchestration.TickIntervalS < 0 {
		return fmt.Errorf("orchestration.tick_interval_s must not be negative")
	}

	if len(c.MarketData.EnabledProviders()) == 0 {
		return fmt.Errorf("market_data.providers: at least one enabled provider is required")
	}
	seen := map[string]bool{}
	for _, p := range c.MarketData.Providers {
		if p.Name == "" {
			return fmt.Errorf("market_data.providers: provider with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("market_data.providers: duplicate provider %q", p.Name)
		}
		seen[p.Name] = true
		if p.Name != "tradier" && p.Name != "marketdataapp" {
			return fmt.Errorf("market_data.providers: unknown provider %q", p.Name)
		}
		if p.Enabled && p.APIKey == "" {
			return fmt.Errorf("market_data.providers: %s is enabled but has no api_key "+
				"(is the environment variable set?)", p.Name)
		}
	}

	if len(c.Broker.Accounts) == 0 {
		return fmt.Errorf("broker.accounts: at least one account is required")
	}
	account, err := c.Broker.Account()
	if err != nil {
		return err
	}
	if account.APIKey == "" {
		return fmt.Errorf("broker account %q has no api_key (is the environment variable set?)",
			account.Name)
	}
	if account.AccountID == "" {
		return fmt.Errorf("broker account %q has no account_id", account.Name)
	}
	if account.Provider != "tradier" {
		return fmt.Errorf("broker account %q: unknown provider %q", account.Name, account.Provider)
	}

	if c.Risk.MaxNotionalLeverage.Sign() < 0 {
		return fmt.Errorf("risk.max_notional_leverage must not be negative")
	}
	if c.Risk.MaxCapitalAllocation.Sign() < 0 ||
		c.Risk.MaxCapitalAllocation.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("risk.max_capital_allocation must be in [0, 1]")
	}

	if _, err := time.LoadLocation(c.Market.Timezone); err != nil {
		return fmt.Errorf("market.timezone %q: %w", c.Market.Timezone, err)
	}
	for _, d := range append(append([]string{}, c.Market.Holidays...), c.Market.EarlyCloses...) {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return fmt.Errorf("market calendar date %q: %w", d, err)
		}
	}
	return nil
}

// DataDir resolves the durable data root: config override, then
// GOLDFLIPPER_HOME, then ~/.goldflipper.
func (c *Config) DataDir() (string, error) {
	if c.Storage.DataDir != "" {
		return c.Storage.DataDir, nil
	}
	if env := os.Getenv("GOLDFLIPPER_HOME"); env != "" {
		return env, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving data dir: %w", err)
	}
	return filepath.Join(home, ".goldflipper"), nil
}
