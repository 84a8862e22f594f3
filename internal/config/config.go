// Package config loads and validates the engine configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stratrun/stratrun/internal/domain"
)

// Profile carries the aggregation thresholds that differ between paper and
// live trading. Source material disagrees on the "correct" entry threshold,
// so both live here and nothing is hardcoded.
type Profile struct {
	AgreementThresholdEntry float64 `yaml:"agreement_threshold_entry"`
	AgreementThresholdExit  float64 `yaml:"agreement_threshold_exit"`
}

// RiskConfig bounds position sizing and portfolio exposure.
type RiskConfig struct {
	RiskFraction             float64 `yaml:"risk_fraction"`
	MinRewardRisk            float64 `yaml:"min_reward_risk"`
	MaxOpenPositions         int     `yaml:"max_open_positions"`
	MaxTradesPerSymbolPerDay int     `yaml:"max_trades_per_symbol_per_day"`
	MaxSectorExposurePct     float64 `yaml:"max_sector_exposure_pct"`
	MaxGrossNotional         float64 `yaml:"max_gross_notional"`
	ATRStopMult              float64 `yaml:"atr_stop_mult"`
	ATRTargetMult            float64 `yaml:"atr_target_mult"`
	LotSize                  float64 `yaml:"lot_size"`
	AllowShorts              bool    `yaml:"allow_shorts"`
}

// BrokerConfig guards the gateway with admission control and failure
// isolation.
type BrokerConfig struct {
	RateLimitPerSecond      float64 `yaml:"rate_limit_per_second"`
	RateLimitBurst          int     `yaml:"rate_limit_burst"`
	CircuitFailureThreshold uint32  `yaml:"circuit_failure_threshold"`
	CircuitCooldownSeconds  int     `yaml:"circuit_cooldown_seconds"`
	CallTimeoutSeconds      int     `yaml:"call_timeout_seconds"`
	SlippageBps             float64 `yaml:"slippage_bps"`
	FeeBps                  float64 `yaml:"fee_bps"`
}

// StateConfig selects the persistence tiers. Redis and Postgres are optional;
// the file tier is always on.
type StateConfig struct {
	Dir                    string `yaml:"dir"`
	PersistIntervalSeconds int    `yaml:"persist_interval_seconds"`
	RedisAddr              string `yaml:"redis_addr"`
	RedisDB                int    `yaml:"redis_db"`
	PostgresDSN            string `yaml:"postgres_dsn"`
	KeepVersions           int    `yaml:"keep_versions"`
}

// CacheConfig bounds the market data cache.
type CacheConfig struct {
	QuoteTTLSeconds int   `yaml:"quote_ttl_seconds"`
	MaxEntries      int64 `yaml:"max_entries"`
}

// EngineConfig drives the evaluation loop.
type EngineConfig struct {
	IntervalSeconds int      `yaml:"interval_seconds"`
	Symbols         []string `yaml:"symbols"`
	InitialCash     float64  `yaml:"initial_cash"`
	CandleHistory   int      `yaml:"candle_history"`
	// SeedPrices start the simulated feed; symbols without an entry open at 100.
	SeedPrices map[string]float64 `yaml:"seed_prices"`
}

// Config is the full engine configuration. One file, loaded once, passed into
// every component; no ambient globals.
type Config struct {
	ActiveProfile string             `yaml:"active_profile"`
	Profiles      map[string]Profile `yaml:"profiles"`
	Weights       map[string]float64 `yaml:"strategy_weights"`
	Sectors       map[string]string  `yaml:"sectors"`
	Risk          RiskConfig         `yaml:"risk"`
	Broker        BrokerConfig       `yaml:"broker"`
	State         StateConfig        `yaml:"state"`
	Cache         CacheConfig        `yaml:"cache"`
	Engine        EngineConfig       `yaml:"engine"`
	HTTPAddr      string             `yaml:"http_addr"`
}

// Default returns a config with workable paper-trading defaults. Load applies
// the YAML file on top of these.
func Default() *Config {
	return &Config{
		ActiveProfile: "paper",
		Profiles: map[string]Profile{
			"paper": {AgreementThresholdEntry: 0.4, AgreementThresholdExit: 0.25},
			"live":  {AgreementThresholdEntry: 0.6, AgreementThresholdExit: 0.3},
		},
		Weights: map[string]float64{},
		Risk: RiskConfig{
			RiskFraction:             0.01,
			MinRewardRisk:            1.5,
			MaxOpenPositions:         10,
			MaxTradesPerSymbolPerDay: 5,
			MaxSectorExposurePct:     0.35,
			MaxGrossNotional:         2_000_000,
			ATRStopMult:              2.0,
			ATRTargetMult:            4.0,
			LotSize:                  1,
		},
		Broker: BrokerConfig{
			RateLimitPerSecond:      5,
			RateLimitBurst:          10,
			CircuitFailureThreshold: 5,
			CircuitCooldownSeconds:  30,
			CallTimeoutSeconds:      5,
			SlippageBps:             2,
			FeeBps:                  10,
		},
		State: StateConfig{
			Dir:                    "state",
			PersistIntervalSeconds: 30,
			KeepVersions:           20,
		},
		Cache: CacheConfig{
			QuoteTTLSeconds: 15,
			MaxEntries:      10000,
		},
		Engine: EngineConfig{
			IntervalSeconds: 60,
			InitialCash:     1_000_000,
			CandleHistory:   100,
		},
		HTTPAddr: ":8099",
	}
}

// Load reads the YAML file at path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	c := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate rejects configurations that would let the engine trade on nonsense.
func (c *Config) Validate() error {
	if _, ok := c.Profiles[c.ActiveProfile]; !ok {
		return &domain.ValidationError{Field: "active_profile", Reason: fmt.Sprintf("unknown profile %q", c.ActiveProfile)}
	}
	for name, p := range c.Profiles {
		if p.AgreementThresholdEntry <= 0 || p.AgreementThresholdEntry > 1 {
			return &domain.ValidationError{Field: "profiles." + name + ".agreement_threshold_entry", Reason: "must be in (0,1]"}
		}
		if p.AgreementThresholdExit <= 0 || p.AgreementThresholdExit > p.AgreementThresholdEntry {
			return &domain.ValidationError{Field: "profiles." + name + ".agreement_threshold_exit", Reason: "must be in (0, entry threshold]"}
		}
	}
	if c.Risk.RiskFraction <= 0 || c.Risk.RiskFraction > 0.1 {
		return &domain.ValidationError{Field: "risk.risk_fraction", Reason: "must be in (0, 0.1]"}
	}
	if c.Risk.MinRewardRisk < 1 {
		return &domain.ValidationError{Field: "risk.min_reward_risk", Reason: "must be >= 1"}
	}
	if c.Risk.MaxOpenPositions < 1 {
		return &domain.ValidationError{Field: "risk.max_open_positions", Reason: "must be >= 1"}
	}
	if c.Risk.LotSize <= 0 {
		return &domain.ValidationError{Field: "risk.lot_size", Reason: "must be > 0"}
	}
	if c.Broker.RateLimitPerSecond <= 0 || c.Broker.RateLimitBurst < 1 {
		return &domain.ValidationError{Field: "broker.rate_limit", Reason: "rate must be > 0 and burst >= 1"}
	}
	if c.Broker.CircuitFailureThreshold < 1 {
		return &domain.ValidationError{Field: "broker.circuit_failure_threshold", Reason: "must be >= 1"}
	}
	if c.State.PersistIntervalSeconds < 1 {
		return &domain.ValidationError{Field: "state.persist_interval_seconds", Reason: "must be >= 1"}
	}
	if c.Cache.QuoteTTLSeconds < 1 {
		return &domain.ValidationError{Field: "cache.quote_ttl_seconds", Reason: "must be >= 1"}
	}
	if c.Cache.MaxEntries < 1 {
		return &domain.ValidationError{Field: "cache.max_entries", Reason: "must be >= 1"}
	}
	if c.Engine.CandleHistory < 1 {
		return &domain.ValidationError{Field: "engine.candle_history", Reason: "must be >= 1"}
	}
	if c.Engine.IntervalSeconds < 1 {
		return &domain.ValidationError{Field: "engine.interval_seconds", Reason: "must be >= 1"}
	}
	if len(c.Engine.Symbols) == 0 {
		return &domain.ValidationError{Field: "engine.symbols", Reason: "at least one symbol required"}
	}
	return nil
}

// ActiveThresholds returns the thresholds for the selected profile.
func (c *Config) ActiveThresholds() Profile {
	return c.Profiles[c.ActiveProfile]
}

// PersistInterval returns the snapshot throttle as a duration.
func (c *Config) PersistInterval() time.Duration {
	return time.Duration(c.State.PersistIntervalSeconds) * time.Second
}

// QuoteTTL returns the market cache TTL as a duration.
func (c *Config) QuoteTTL() time.Duration {
	return time.Duration(c.Cache.QuoteTTLSeconds) * time.Second
}

// CallTimeout returns the per-broker-call timeout as a duration.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Broker.CallTimeoutSeconds) * time.Second
}

// CircuitCooldown returns the breaker cooldown as a duration.
func (c *Config) CircuitCooldown() time.Duration {
	return time.Duration(c.Broker.CircuitCooldownSeconds) * time.Second
}

// LoopInterval returns the evaluation cadence as a duration.
func (c *Config) LoopInterval() time.Duration {
	return time.Duration(c.Engine.IntervalSeconds) * time.Second
}
