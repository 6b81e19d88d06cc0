// Package signal defines market inputs and the verdicts produced from them.
package signal

import "time"

// Candle is one OHLCV bar for a timeframe.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Indicators carries auxiliary market-wide sentiment readings.
type Indicators struct {
	FearGreed      int
	Classification string
	UpdatedAt      time.Time
}

// Verdict is the aggregator's trading decision for a symbol.
type Verdict string

const (
	// Buy asks the sizer to open a position.
	Buy Verdict = "BUY"
	// Sell asks the sizer to close the position.
	Sell Verdict = "SELL"
	// Hold means no entry or exit is warranted.
	Hold Verdict = "HOLD"
)

// TimeframeInput holds independently computed sub-scores for one timeframe. A nil score is missing.
type TimeframeInput struct {
	Timeframe string
	Weight    float64
	Tech      *float64
	Macro     *float64
	Market    *float64
}

// Complete reports whether every sub-score is present.
func (in TimeframeInput) Complete() bool {
	return in.Tech != nil && in.Macro != nil && in.Market != nil
}

// Score returns a pointer to v, for filling TimeframeInput fields.
func Score(v float64) *float64 { return &v }

// Signal is the aggregator output for one symbol and cycle.
type Signal struct {
	Symbol      string
	Timeframe   string
	TechScore   float64
	MacroScore  float64
	MarketScore float64
	Confluence  float64
	Confidence  float64
	Verdict     Verdict
	Ts          time.Time
}
