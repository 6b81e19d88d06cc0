package engine

import (
	"strings"

	"github.com/shopspring/decimal"

	"quantumtrader/internal/config"
	"quantumtrader/internal/exit"
	"quantumtrader/internal/reconcile"
	"quantumtrader/internal/risk"
	"quantumtrader/internal/signal"
	"quantumtrader/internal/strategy"
)

// SettingsFromConfig derives the engine schedule and universe.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Symbols:           cfg.Exchange.Symbols,
		Timeframes:        cfg.Signal.Timeframes,
		CandleLimit:       cfg.Signal.CandleLimit,
		QuoteAsset:        cfg.Exchange.QuoteAsset,
		CycleInterval:     cfg.Engine.CycleInterval(),
		ReconcileInterval: cfg.Engine.ReconciliationInterval(),
	}
}

// LimitsFromConfig converts risk settings into sizer limits.
func LimitsFromConfig(cfg *config.Config) risk.Limits {
	return risk.Limits{
		RiskFraction:         decimal.NewFromFloat(cfg.Risk.RiskFraction),
		MaxNotionalPerTrade:  decimal.NewFromFloat(cfg.Risk.MaxNotionalPerTrade),
		MinNotional:          decimal.NewFromFloat(cfg.Risk.MinNotional),
		MaxSingleAssetWeight: decimal.NewFromFloat(cfg.Risk.MaxSingleAssetWeight),
		UnlockFraction:       decimal.NewFromFloat(cfg.Exits.UnlockFraction),
		QuantityPrecision:    cfg.Exchange.QuantityPrecision,
		Restricted:           restricted(cfg),
	}
}

// ExitPolicyFromConfig converts exit settings into a monitor policy.
func ExitPolicyFromConfig(cfg *config.Config) exit.Policy {
	return exit.Policy{
		StopLossPct:       decimal.NewFromFloat(cfg.Exits.StopLossPct),
		TakeProfitPct:     decimal.NewFromFloat(cfg.Exits.TakeProfitPct),
		Restricted:        restricted(cfg),
		UnlockCeiling:     cfg.Exits.UnlockCeiling,
		UnlockFraction:    decimal.NewFromFloat(cfg.Exits.UnlockFraction),
		QuantityPrecision: cfg.Exchange.QuantityPrecision,
	}
}

// AggregatorFromConfig builds the signal aggregator.
func AggregatorFromConfig(cfg *config.Config) *signal.Aggregator {
	s := cfg.Signal
	return signal.NewAggregator(
		signal.Weights{Tech: s.Weights.Tech, Macro: s.Weights.Macro, Market: s.Weights.Market},
		signal.Thresholds{
			MinConfluence:       s.MinConfluence,
			MinConfidence:       s.MinConfidence,
			ConfluenceTolerance: s.ConfluenceTolerance,
			ConfidenceOffset:    s.ConfidenceOffset,
			TechBias:            s.TechBias,
			MacroFloor:          s.MacroFloor,
		},
	)
}

// ScorerFromConfig builds the configured sub-score producer.
func ScorerFromConfig(cfg *config.Config) strategy.Scorer {
	p := cfg.Strategy.Params
	return strategy.Build(cfg.Strategy.Mode, strategy.Params{
		FastEMA:        p.FastEMA,
		SlowEMA:        p.SlowEMA,
		RSIPeriod:      p.RSIPeriod,
		MomentumWindow: p.MomentumWindow,
	})
}

// ReconcileOptionsFromConfig converts reconciliation settings.
func ReconcileOptionsFromConfig(cfg *config.Config) reconcile.Options {
	return reconcile.Options{
		QuoteAsset:   cfg.Exchange.QuoteAsset,
		Symbols:      cfg.Exchange.Symbols,
		PendingGrace: cfg.Engine.PendingGrace(),
		Lookback:     cfg.Engine.ReconcileLookback(),
		DriftEpsilon: decimal.NewFromFloat(cfg.Engine.DriftEpsilon),
		DustNotional: decimal.NewFromFloat(cfg.Risk.MinNotional),
	}
}

func restricted(cfg *config.Config) map[string]bool {
	out := make(map[string]bool, len(cfg.Exits.RestrictedSymbols))
	for _, sym := range cfg.Exits.RestrictedSymbols {
		out[strings.ToUpper(strings.TrimSpace(sym))] = true
	}
	return out
}
