package signal

import (
	"strings"
	"time"
)

// Weights sets the relative importance of the three sub-scores inside a timeframe.
type Weights struct {
	Tech   float64
	Macro  float64
	Market float64
}

// Thresholds holds the base gates plus the configured relaxation applied to them.
type Thresholds struct {
	MinConfluence       float64
	MinConfidence       float64
	ConfluenceTolerance float64 // (0,1]
	ConfidenceOffset    float64 // >= 0
	TechBias            float64
	MacroFloor          float64
}

// EffectiveConfluence is MinConfluence scaled by the tolerance multiplier.
func (t Thresholds) EffectiveConfluence() float64 {
	return t.MinConfluence * t.ConfluenceTolerance
}

// EffectiveConfidence is MinConfidence lowered by the offset.
func (t Thresholds) EffectiveConfidence() float64 {
	return t.MinConfidence - t.ConfidenceOffset
}

// Aggregator folds per-timeframe sub-scores into a confluence score, a confidence and a verdict.
// It holds no mutable state and is safe for concurrent use.
type Aggregator struct {
	weights    Weights
	thresholds Thresholds
	now        func() time.Time
}

// NewAggregator normalises the factor weights; all-zero weights fall back to equal thirds.
func NewAggregator(w Weights, t Thresholds) *Aggregator {
	sum := w.Tech + w.Macro + w.Market
	if sum <= 0 {
		w = Weights{Tech: 1, Macro: 1, Market: 1}
		sum = 3
	}
	w = Weights{Tech: w.Tech / sum, Macro: w.Macro / sum, Market: w.Market / sum}
	return &Aggregator{weights: w, thresholds: t, now: time.Now}
}

// Evaluate combines the inputs for symbol. Timeframes with a missing sub-score or a non-positive
// weight are left out of every weighted sum.
func (a *Aggregator) Evaluate(symbol string, inputs []TimeframeInput) Signal {
	sig := Signal{Symbol: symbol, Verdict: Hold, Ts: a.now()}

	type scored struct {
		weight float64
		score  float64
	}
	var (
		included                               []scored
		names                                  []string
		totalWeight                            float64
		sumTech, sumMacro, sumMarket, sumScore float64
	)
	for _, in := range inputs {
		if !in.Complete() || in.Weight <= 0 {
			continue
		}
		tech, macro, market := *in.Tech, *in.Macro, *in.Market
		tf := a.weights.Tech*tech + a.weights.Macro*macro + a.weights.Market*market
		included = append(included, scored{weight: in.Weight, score: tf})
		names = append(names, in.Timeframe)
		totalWeight += in.Weight
		sumTech += in.Weight * tech
		sumMacro += in.Weight * macro
		sumMarket += in.Weight * market
		sumScore += in.Weight * tf
	}
	if totalWeight == 0 {
		return sig
	}

	sig.Timeframe = strings.Join(names, "+")
	sig.TechScore = sumTech / totalWeight
	sig.MacroScore = sumMacro / totalWeight
	sig.MarketScore = sumMarket / totalWeight
	sig.Confluence = sumScore / totalWeight

	direction := sign(sig.Confluence)
	if direction != 0 {
		var agreeing float64
		for _, s := range included {
			if sign(s.score) == direction {
				agreeing += s.weight
			}
		}
		sig.Confidence = 100 * agreeing / totalWeight
	}

	sig.Verdict = a.verdict(sig)
	return sig
}

func (a *Aggregator) verdict(sig Signal) Verdict {
	t := a.thresholds
	effConfluence := t.EffectiveConfluence()
	if sig.Confidence < t.EffectiveConfidence() {
		return Hold
	}
	switch {
	case sig.Confluence >= effConfluence && sig.TechScore > t.TechBias && sig.MacroScore > -t.MacroFloor:
		return Buy
	case sig.Confluence <= -effConfluence && sig.TechScore < -t.TechBias && sig.MacroScore < t.MacroFloor:
		return Sell
	default:
		return Hold
	}
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
