// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	PrettyLogs  bool   `yaml:"pretty_logs"`
}

// Exchange describes the centralized exchange connectivity parameters the bot expects.
// Secrets are not part of the file; the env var names holding them are.
type Exchange struct {
	Name              string   `yaml:"name"`
	BaseURL           string   `yaml:"base_url"`
	StreamURL         string   `yaml:"stream_url"`
	QuoteAsset        string   `yaml:"quote_asset"`
	Symbols           []string `yaml:"symbols"`
	APIKeyEnv         string   `yaml:"api_key_env"`
	APISecretEnv      string   `yaml:"api_secret_env"`
	RecvWindowMs      int      `yaml:"recv_window_ms"`
	TimeoutMs         int      `yaml:"timeout_ms"`
	MaxRetries        int      `yaml:"max_retries"`
	RetryMinBackoffMs int      `yaml:"retry_min_backoff_ms"`
	RetryMaxBackoffMs int      `yaml:"retry_max_backoff_ms"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	QuantityPrecision int32    `yaml:"quantity_precision"`
	PriceMaxAgeMs     int      `yaml:"price_max_age_ms"`
	BreakerFailures   int      `yaml:"breaker_failures"`
	BreakerCooldownMs int      `yaml:"breaker_cooldown_ms"`
}

// Sentiment configures the fear and greed index source used for the macro sub-score.
type Sentiment struct {
	BaseURL    string `yaml:"base_url"`
	CacheTTLMs int    `yaml:"cache_ttl_ms"`
}

// Timeframe names a candle interval and its weight in the confluence score.
type Timeframe struct {
	Name   string  `yaml:"name"`
	Weight float64 `yaml:"weight"`
}

// FactorWeights weights the technical, macro and market sub-scores within a timeframe.
type FactorWeights struct {
	Tech   float64 `yaml:"tech"`
	Macro  float64 `yaml:"macro"`
	Market float64 `yaml:"market"`
}

// Signal configures the aggregator thresholds. ConfluenceTolerance and ConfidenceOffset have no
// defaults and must be set explicitly.
type Signal struct {
	Timeframes          []Timeframe   `yaml:"timeframes"`
	CandleLimit         int           `yaml:"candle_limit"`
	Weights             FactorWeights `yaml:"weights"`
	MinConfluence       float64       `yaml:"min_confluence"`
	MinConfidence       float64       `yaml:"min_confidence"`
	ConfluenceTolerance float64       `yaml:"confluence_tolerance"`
	ConfidenceOffset    float64       `yaml:"confidence_offset"`
	TechBias            float64       `yaml:"tech_bias"`
	MacroFloor          float64       `yaml:"macro_floor"`
}

// StrategyParams groups tunable knobs for a scorer implementation.
type StrategyParams struct {
	FastEMA        int `yaml:"fast_ema"`
	SlowEMA        int `yaml:"slow_ema"`
	RSIPeriod      int `yaml:"rsi_period"`
	MomentumWindow int `yaml:"momentum_window"`
}

// Strategy specifies which scorer is active along with the parameter bundle.
type Strategy struct {
	Mode   string         `yaml:"mode"`
	Params StrategyParams `yaml:"params"`
}

// Risk encodes guard-rails for how much size the engine may take on.
type Risk struct {
	RiskFraction         float64 `yaml:"risk_fraction"`
	MaxNotionalPerTrade  float64 `yaml:"max_notional_per_trade"`
	MinNotional          float64 `yaml:"min_notional"`
	MaxSingleAssetWeight float64 `yaml:"max_single_asset_weight"`
}

// Exits configures stop-loss, take-profit and the restricted-symbol unlock policy.
type Exits struct {
	StopLossPct       float64  `yaml:"stop_loss_pct"`
	TakeProfitPct     float64  `yaml:"take_profit_pct"`
	RestrictedSymbols []string `yaml:"restricted_symbols"`
	UnlockCeiling     int      `yaml:"unlock_ceiling"`
	UnlockFraction    float64  `yaml:"unlock_fraction"`
}

// Engine configures the scheduling cadence and reconciliation tolerances.
type Engine struct {
	CycleIntervalMs          int     `yaml:"cycle_interval_ms"`
	ReconciliationIntervalMs int     `yaml:"reconciliation_interval_ms"`
	PendingGraceMs           int     `yaml:"pending_grace_ms"`
	ReconcileLookbackMs      int     `yaml:"reconcile_lookback_ms"`
	DriftEpsilon             float64 `yaml:"drift_epsilon"`
}

// Storage locates the ledger database and the append-only fill journal.
type Storage struct {
	Path      string `yaml:"path"`
	FillsPath string `yaml:"fills_path"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App       App       `yaml:"app"`
	Exchange  Exchange  `yaml:"exchange"`
	Sentiment Sentiment `yaml:"sentiment"`
	Signal    Signal    `yaml:"signal"`
	Strategy  Strategy  `yaml:"strategy"`
	Risk      Risk      `yaml:"risk"`
	Exits     Exits     `yaml:"exits"`
	Engine    Engine    `yaml:"engine"`
	Storage   Storage   `yaml:"storage"`
}

// Load reads a YAML file from disk and hydrates a Config struct.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	config.applyDefaults()
	return &config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Exchange.BaseURL == "" {
		c.Exchange.BaseURL = "https://api.binance.com"
	}
	if c.Exchange.StreamURL == "" {
		c.Exchange.StreamURL = "wss://stream.binance.com:9443/stream"
	}
	if c.Exchange.QuoteAsset == "" {
		c.Exchange.QuoteAsset = "USDT"
	}
	if c.Exchange.APIKeyEnv == "" {
		c.Exchange.APIKeyEnv = "QT_API_KEY"
	}
	if c.Exchange.APISecretEnv == "" {
		c.Exchange.APISecretEnv = "QT_API_SECRET"
	}
	if c.Exchange.RecvWindowMs <= 0 {
		c.Exchange.RecvWindowMs = 5000
	}
	if c.Exchange.TimeoutMs <= 0 {
		c.Exchange.TimeoutMs = 10000
	}
	if c.Exchange.MaxRetries < 0 {
		c.Exchange.MaxRetries = 0
	}
	if c.Exchange.QuantityPrecision <= 0 {
		c.Exchange.QuantityPrecision = 6
	}
	if c.Exchange.PriceMaxAgeMs <= 0 {
		c.Exchange.PriceMaxAgeMs = 15000
	}
	if c.Sentiment.BaseURL == "" {
		c.Sentiment.BaseURL = "https://api.alternative.me"
	}
	if c.Signal.CandleLimit <= 0 {
		c.Signal.CandleLimit = 100
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data/ledger.db"
	}
	for i, sym := range c.Exchange.Symbols {
		c.Exchange.Symbols[i] = strings.ToUpper(strings.TrimSpace(sym))
	}
}

// Validate reports every configuration value that would make trading unsafe.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(len(c.Exchange.Symbols) > 0, "exchange.symbols must not be empty")
	check(len(c.Signal.Timeframes) > 0, "signal.timeframes must not be empty")
	check(c.Risk.RiskFraction > 0 && c.Risk.RiskFraction <= 1, "risk.risk_fraction must be in (0,1], got %v", c.Risk.RiskFraction)
	check(c.Risk.MinNotional > 0, "risk.min_notional must be positive")
	check(c.Risk.MaxNotionalPerTrade >= c.Risk.MinNotional, "risk.max_notional_per_trade must be >= min_notional")
	check(c.Risk.MaxSingleAssetWeight > 0 && c.Risk.MaxSingleAssetWeight <= 1, "risk.max_single_asset_weight must be in (0,1], got %v", c.Risk.MaxSingleAssetWeight)
	check(c.Signal.ConfluenceTolerance > 0 && c.Signal.ConfluenceTolerance <= 1, "signal.confluence_tolerance must be set in (0,1], got %v", c.Signal.ConfluenceTolerance)
	check(c.Signal.ConfidenceOffset >= 0, "signal.confidence_offset must be >= 0, got %v", c.Signal.ConfidenceOffset)
	check(c.Signal.MinConfidence >= 0 && c.Signal.MinConfidence <= 100, "signal.min_confidence must be in [0,100]")
	check(c.Exits.StopLossPct < 0, "exits.stop_loss_pct must be negative, got %v", c.Exits.StopLossPct)
	check(c.Exits.TakeProfitPct > 0, "exits.take_profit_pct must be positive, got %v", c.Exits.TakeProfitPct)
	check(c.Exits.UnlockFraction > 0 && c.Exits.UnlockFraction <= 1, "exits.unlock_fraction must be in (0,1], got %v", c.Exits.UnlockFraction)
	check(c.Exits.UnlockCeiling >= 0, "exits.unlock_ceiling must be >= 0")
	check(c.Engine.CycleIntervalMs > 0, "engine.cycle_interval_ms must be positive")
	check(c.Engine.ReconciliationIntervalMs > 0, "engine.reconciliation_interval_ms must be positive")
	check(c.Engine.DriftEpsilon >= 0, "engine.drift_epsilon must be >= 0")
	for _, tf := range c.Signal.Timeframes {
		check(tf.Name != "" && tf.Weight > 0, "signal.timeframes entries need a name and positive weight, got %+v", tf)
	}

	return errors.Join(errs...)
}

// CycleInterval is the trading cycle period.
func (e Engine) CycleInterval() time.Duration { return ms(e.CycleIntervalMs) }

// ReconciliationInterval is the reconciliation period.
func (e Engine) ReconciliationInterval() time.Duration { return ms(e.ReconciliationIntervalMs) }

// PendingGrace is how long a PENDING order may lack an exchange record before it is marked FAILED.
func (e Engine) PendingGrace() time.Duration { return ms(e.PendingGraceMs) }

// ReconcileLookback bounds how far back trade history is fetched.
func (e Engine) ReconcileLookback() time.Duration { return ms(e.ReconcileLookbackMs) }

// RecvWindow bounds how long a signed request stays valid.
func (e Exchange) RecvWindow() time.Duration { return ms(e.RecvWindowMs) }

// Timeout bounds each HTTP attempt.
func (e Exchange) Timeout() time.Duration { return ms(e.TimeoutMs) }

// PriceMaxAge is how old a streamed price may be before the REST ticker is consulted.
func (e Exchange) PriceMaxAge() time.Duration { return ms(e.PriceMaxAgeMs) }

// CacheTTL is how long a fetched sentiment reading is reused.
func (s Sentiment) CacheTTL() time.Duration { return ms(s.CacheTTLMs) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
