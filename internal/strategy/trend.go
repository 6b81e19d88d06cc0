package strategy

import (
	"quantumtrader/internal/signal"
)

// TrendScorer rates a timeframe from moving-average structure (EMA spread, MACD, RSI) and
// from recent return and volume.
type TrendScorer struct {
	fast      int
	slow      int
	rsiPeriod int
	window    int
}

// NewTrendScorer builds a trend scorer; non-positive periods fall back to 12/26/14 and a 20 bar window.
func NewTrendScorer(fast, slow, rsiPeriod, window int) *TrendScorer {
	if fast <= 0 {
		fast = 12
	}
	if slow <= fast {
		slow = fast * 2
		if slow < 26 {
			slow = 26
		}
	}
	if rsiPeriod <= 0 {
		rsiPeriod = 14
	}
	if window <= 0 {
		window = 20
	}
	return &TrendScorer{fast: fast, slow: slow, rsiPeriod: rsiPeriod, window: window}
}

// Name returns the configured identifier for logging.
func (t *TrendScorer) Name() string { return "TrendScorer" }

// Score fills the sub-scores it can compute; a history shorter than the slow period leaves tech and market nil.
func (t *TrendScorer) Score(timeframe string, candles []signal.Candle, ind *signal.Indicators) signal.TimeframeInput {
	in := signal.TimeframeInput{Timeframe: timeframe, Macro: macroScore(ind)}
	if len(candles) < t.slow+1 || len(candles) < t.window+1 {
		return in
	}

	px := closes(candles)
	latest := last(px)
	fast := last(emaSeries(px, t.fast))
	slow := last(emaSeries(px, t.slow))

	spread := clamp(pctChange(slow, fast)*2, -scoreRange, scoreRange)
	strength := clamp((rsi(px, t.rsiPeriod)-50)/10, -scoreRange, scoreRange)
	hist := 0.0
	if latest > 0 {
		hist = clamp(macdHistogram(px, t.fast, t.slow, 9)/latest*1000, -scoreRange, scoreRange)
	}
	in.Tech = signal.Score(clamp(0.4*spread+0.3*strength+0.3*hist, -scoreRange, scoreRange))
	in.Market = signal.Score(marketScore(candles, t.window))
	return in
}

// marketScore combines the window return with volume expansion in the direction of that return.
func marketScore(candles []signal.Candle, window int) float64 {
	n := len(candles)
	ret := pctChange(candles[n-1-window].Close, candles[n-1].Close)
	momentum := clamp(ret, -scoreRange, scoreRange)

	recent := 5
	if recent > window {
		recent = window
	}
	base := meanVolume(candles[n-window:])
	expansion := 0.0
	if base > 0 {
		expansion = clamp((meanVolume(candles[n-recent:])/base-1)*scoreRange, -scoreRange, scoreRange)
	}
	if momentum < 0 {
		expansion = -expansion
	}
	return clamp(0.7*momentum+0.3*expansion, -scoreRange, scoreRange)
}
