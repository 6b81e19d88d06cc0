package strategy

import (
	"testing"
	"time"

	"quantumtrader/internal/signal"
)

func series(n int, start, step float64) []signal.Candle {
	now := time.Now().Add(-time.Duration(n) * time.Hour)
	out := make([]signal.Candle, n)
	px := start
	for i := 0; i < n; i++ {
		open := px
		px *= 1 + step
		out[i] = signal.Candle{
			OpenTime: now.Add(time.Duration(i) * time.Hour),
			Open:     open,
			High:     px * 1.001,
			Low:      open * 0.999,
			Close:    px,
			Volume:   1000 + float64(i)*10,
		}
	}
	return out
}

func TestTrendScorerRising(t *testing.T) {
	scorer := NewTrendScorer(12, 26, 14, 20)
	in := scorer.Score("1h", series(60, 100, 0.01), &signal.Indicators{FearGreed: 70})
	if !in.Complete() {
		t.Fatalf("expected all sub-scores, got %+v", in)
	}
	if *in.Tech <= 0 {
		t.Fatalf("expected positive tech score, got %.4f", *in.Tech)
	}
	if *in.Market <= 0 {
		t.Fatalf("expected positive market score, got %.4f", *in.Market)
	}
	if *in.Macro != 2 {
		t.Fatalf("expected macro 2 for greed 70, got %.4f", *in.Macro)
	}
}

func TestTrendScorerFalling(t *testing.T) {
	scorer := NewTrendScorer(12, 26, 14, 20)
	in := scorer.Score("4h", series(60, 100, -0.01), &signal.Indicators{FearGreed: 20})
	if *in.Tech >= 0 {
		t.Fatalf("expected negative tech score, got %.4f", *in.Tech)
	}
	if *in.Market >= 0 {
		t.Fatalf("expected negative market score, got %.4f", *in.Market)
	}
	if *in.Tech < -scoreRange || *in.Market < -scoreRange {
		t.Fatalf("scores must stay within range")
	}
}

func TestTrendScorerShortHistory(t *testing.T) {
	scorer := NewTrendScorer(12, 26, 14, 20)
	in := scorer.Score("1d", series(10, 100, 0.01), nil)
	if in.Tech != nil || in.Market != nil || in.Macro != nil {
		t.Fatalf("expected missing sub-scores, got %+v", in)
	}
	if in.Complete() {
		t.Fatalf("incomplete input reported complete")
	}
}

func TestBuildSelectsScorer(t *testing.T) {
	if Build("momentum", Params{}).Name() != "MomentumScorer" {
		t.Fatalf("expected momentum scorer")
	}
	if Build("", Params{}).Name() != "TrendScorer" {
		t.Fatalf("expected trend scorer by default")
	}
}
