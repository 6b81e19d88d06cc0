package strategy

import (
	"math"

	"quantumtrader/internal/signal"
)

// scoreRange bounds every sub-score to [-scoreRange, scoreRange].
const scoreRange = 5.0

func closes(candles []signal.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// emaSeries returns the exponential moving average of values, seeded with the first value.
func emaSeries(values []float64, period int) []float64 {
	if len(values) == 0 || period <= 0 {
		return nil
	}
	k := 2.0 / float64(period+1)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

func last(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return values[len(values)-1]
}

// rsi is Wilder's relative strength index over the trailing period.
func rsi(values []float64, period int) float64 {
	if len(values) <= period || period <= 0 {
		return 50
	}
	var gain, loss float64
	for i := 1; i <= period; i++ {
		delta := values[i] - values[i-1]
		if delta > 0 {
			gain += delta
		} else {
			loss -= delta
		}
	}
	gain /= float64(period)
	loss /= float64(period)
	for i := period + 1; i < len(values); i++ {
		delta := values[i] - values[i-1]
		up, down := 0.0, 0.0
		if delta > 0 {
			up = delta
		} else {
			down = -delta
		}
		gain = (gain*float64(period-1) + up) / float64(period)
		loss = (loss*float64(period-1) + down) / float64(period)
	}
	if loss == 0 {
		if gain == 0 {
			return 50
		}
		return 100
	}
	rs := gain / loss
	return 100 - 100/(1+rs)
}

// macdHistogram returns MACD(fast, slow) minus its signal line, at the last bar.
func macdHistogram(values []float64, fast, slow, signalPeriod int) float64 {
	f := emaSeries(values, fast)
	s := emaSeries(values, slow)
	if len(f) == 0 || len(s) == 0 {
		return 0
	}
	macd := make([]float64, len(values))
	for i := range values {
		macd[i] = f[i] - s[i]
	}
	return last(macd) - last(emaSeries(macd, signalPeriod))
}

func pctChange(from, to float64) float64 {
	if from == 0 {
		return 0
	}
	return (to - from) / from * 100
}

func meanVolume(candles []signal.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	var sum float64
	for _, c := range candles {
		sum += c.Volume
	}
	return sum / float64(len(candles))
}

// macroScore maps the 0..100 fear and greed index onto the sub-score range. Nil when unknown.
func macroScore(ind *signal.Indicators) *float64 {
	if ind == nil || ind.FearGreed < 0 || ind.FearGreed > 100 {
		return nil
	}
	return signal.Score(clamp(float64(ind.FearGreed-50)/10, -scoreRange, scoreRange))
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
