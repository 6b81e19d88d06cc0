// Package strategy turns candle history and sentiment into per-timeframe sub-scores for the aggregator.
package strategy

import (
	"quantumtrader/internal/signal"
)

// MomentumScorer rates a timeframe by the share of rising bars and the size of the window return.
type MomentumScorer struct {
	window int
}

// NewMomentumScorer builds a momentum scorer over window bars (default 20).
func NewMomentumScorer(window int) *MomentumScorer {
	if window <= 0 {
		window = 20
	}
	return &MomentumScorer{window: window}
}

// Name returns the identifier for the scorer implementation.
func (m *MomentumScorer) Name() string { return "MomentumScorer" }

// Score rates the trailing window; fewer than window+1 candles leaves tech and market nil.
func (m *MomentumScorer) Score(timeframe string, candles []signal.Candle, ind *signal.Indicators) signal.TimeframeInput {
	in := signal.TimeframeInput{Timeframe: timeframe, Macro: macroScore(ind)}
	if len(candles) < m.window+1 {
		return in
	}

	recent := candles[len(candles)-m.window-1:]
	var up, down int
	for i := 1; i < len(recent); i++ {
		switch {
		case recent[i].Close > recent[i-1].Close:
			up++
		case recent[i].Close < recent[i-1].Close:
			down++
		}
	}
	breadth := float64(up-down) / float64(m.window) * scoreRange
	ret := clamp(pctChange(recent[0].Close, recent[len(recent)-1].Close), -scoreRange, scoreRange)

	in.Tech = signal.Score(clamp(0.5*breadth+0.5*ret, -scoreRange, scoreRange))
	in.Market = signal.Score(marketScore(candles, m.window))
	return in
}
