package strategy

import (
	"strings"

	"quantumtrader/internal/signal"
)

// Scorer produces the sub-scores for one timeframe of one symbol.
type Scorer interface {
	Score(timeframe string, candles []signal.Candle, ind *signal.Indicators) signal.TimeframeInput
	Name() string
}

// Params expresses tunable knobs required by scorer constructors.
type Params struct {
	FastEMA        int
	SlowEMA        int
	RSIPeriod      int
	MomentumWindow int
}

// Build returns a scorer implementation matching the configured mode.
func Build(mode string, params Params) Scorer {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "momentum":
		return NewMomentumScorer(params.MomentumWindow)
	case "", "trend", "trend_follow", "trend_follower":
		return NewTrendScorer(params.FastEMA, params.SlowEMA, params.RSIPeriod, params.MomentumWindow)
	default:
		return NewTrendScorer(params.FastEMA, params.SlowEMA, params.RSIPeriod, params.MomentumWindow)
	}
}
