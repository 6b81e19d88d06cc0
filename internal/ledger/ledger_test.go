package ledger

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"

	"quantumtrader/internal/fault"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestOpenScenario(t *testing.T) {
	l := New(d("200"))
	if err := l.Open("SYMUSDT", d("0.1"), d("100")); err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	acct, portfolio := l.Snapshot()
	if !acct.Cash.Equal(d("190")) {
		t.Fatalf("expected cash 190, got %s", acct.Cash)
	}
	pos := portfolio["SYMUSDT"]
	if !pos.Quantity.Equal(d("0.1")) || !pos.EntryPrice.Equal(d("100")) {
		t.Fatalf("unexpected position %+v", pos)
	}
	if !pos.CostBasis.Equal(d("10")) {
		t.Fatalf("expected cost basis 10, got %s", pos.CostBasis)
	}
}

func TestReduceToZeroRemovesPosition(t *testing.T) {
	l := New(d("0"))
	l.Adjust("SYMUSDT", d("1"), d("100"))

	realized, err := l.Reduce("SYMUSDT", d("1"), d("95.9"))
	if err != nil {
		t.Fatalf("unexpected reduce error: %v", err)
	}
	if !realized.Equal(d("-4.1")) {
		t.Fatalf("expected realized -4.1, got %s", realized)
	}
	acct, portfolio := l.Snapshot()
	if _, ok := portfolio["SYMUSDT"]; ok {
		t.Fatalf("expected position removed")
	}
	if !acct.Cash.Equal(d("95.9")) {
		t.Fatalf("expected cash 95.9, got %s", acct.Cash)
	}
}

func TestReduceWithinEpsilonCloses(t *testing.T) {
	l := New(d("100"))
	if err := l.Open("BTCUSDT", d("0.5"), d("100")); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := l.Reduce("BTCUSDT", d("0.4999999999"), d("110")); err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if _, ok := l.Position("BTCUSDT"); ok {
		t.Fatalf("dust position should be removed")
	}
	if acct, _ := l.Snapshot(); !acct.Cash.Equal(d("105")) {
		t.Fatalf("expected proceeds on full quantity, cash %s", acct.Cash)
	}
}

func TestPartialReduceKeepsEntry(t *testing.T) {
	l := New(d("1000"))
	if err := l.Open("BTCUSDT", d("2"), d("100")); err != nil {
		t.Fatalf("open: %v", err)
	}
	realized, err := l.Reduce("BTCUSDT", d("0.5"), d("120"))
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if !realized.Equal(d("10")) {
		t.Fatalf("expected realized 10, got %s", realized)
	}
	pos, _ := l.Position("BTCUSDT")
	if !pos.Quantity.Equal(d("1.5")) || !pos.EntryPrice.Equal(d("100")) || !pos.CostBasis.Equal(d("150")) {
		t.Fatalf("unexpected remaining position %+v", pos)
	}
}

func TestOpenMergesAtAverageEntry(t *testing.T) {
	l := New(d("1000"))
	_ = l.Open("ETHUSDT", d("1"), d("100"))
	_ = l.Open("ETHUSDT", d("1"), d("200"))
	pos, _ := l.Position("ETHUSDT")
	if !pos.Quantity.Equal(d("2")) || !pos.EntryPrice.Equal(d("150")) {
		t.Fatalf("unexpected merged position %+v", pos)
	}
}

func TestInvariantViolationsLeaveStateUntouched(t *testing.T) {
	l := New(d("10"))
	err := l.Open("BTCUSDT", d("1"), d("200"))
	if !errors.Is(err, fault.ErrInvariant) {
		t.Fatalf("expected invariant error, got %v", err)
	}
	if _, err := l.Reduce("BTCUSDT", d("1"), d("100")); !fault.IsInvariant(err) {
		t.Fatalf("expected invariant error for missing position, got %v", err)
	}
	_ = l.Open("BTCUSDT", d("0.05"), d("100"))
	if _, err := l.Reduce("BTCUSDT", d("0.06"), d("100")); !fault.IsInvariant(err) {
		t.Fatalf("expected invariant error for oversell, got %v", err)
	}
	acct, portfolio := l.Snapshot()
	if !acct.Cash.Equal(d("5")) || !portfolio["BTCUSDT"].Quantity.Equal(d("0.05")) {
		t.Fatalf("state changed by rejected mutation: %+v %+v", acct, portfolio)
	}
	if err := l.Open("BTCUSDT", d("0"), d("100")); err == nil || fault.IsInvariant(err) {
		t.Fatalf("expected plain validation error, got %v", err)
	}
}

func TestNeverNegativeUnderRandomFills(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	l := New(d("1000"))
	symbols := []string{"AAAUSDT", "BBBUSDT", "CCCUSDT"}

	for i := 0; i < 2000; i++ {
		sym := symbols[rng.Intn(len(symbols))]
		price := decimal.NewFromFloat(1 + rng.Float64()*99).Round(4)
		qty := decimal.NewFromFloat(rng.Float64() * 5).Round(6)
		if rng.Intn(2) == 0 {
			_ = l.Open(sym, qty, price)
		} else {
			_, _ = l.Reduce(sym, qty, price)
		}
		acct, portfolio := l.Snapshot()
		if acct.Cash.IsNegative() {
			t.Fatalf("negative cash after step %d: %s", i, acct.Cash)
		}
		for s, pos := range portfolio {
			if !pos.Quantity.IsPositive() || pos.CostBasis.IsNegative() {
				t.Fatalf("invalid position %s after step %d: %+v", s, i, pos)
			}
		}
	}
}

func TestSetCashReturnsDrift(t *testing.T) {
	l := New(d("100"))
	drift := l.SetCash(d("97.5"))
	if !drift.Equal(d("-2.5")) {
		t.Fatalf("expected drift -2.5, got %s", drift)
	}
	if acct, _ := l.Snapshot(); !acct.Cash.Equal(d("97.5")) {
		t.Fatalf("authoritative cash not applied")
	}
}

func TestHaltResume(t *testing.T) {
	l := New(d("0"))
	l.Halt("BTCUSDT", "oversell")
	if reason, ok := l.Halted("BTCUSDT"); !ok || reason != "oversell" {
		t.Fatalf("expected halted symbol")
	}
	if len(l.HaltedSymbols()) != 1 {
		t.Fatalf("expected one halted symbol")
	}
	l.Resume("BTCUSDT")
	if _, ok := l.Halted("BTCUSDT"); ok {
		t.Fatalf("expected resumed symbol")
	}
}

func TestStateRestoreAndEquity(t *testing.T) {
	l := New(d("500"))
	_ = l.Open("BBBUSDT", d("2"), d("10"))
	_ = l.Open("AAAUSDT", d("1"), d("100"))
	st := l.State()
	if len(st.Positions) != 2 || st.Positions[0].Symbol != "AAAUSDT" {
		t.Fatalf("expected sorted positions, got %+v", st.Positions)
	}

	restored := Restore(st)
	equity := restored.Equity(map[string]decimal.Decimal{"AAAUSDT": d("110")})
	// cash 380 + 1*110 + BBB at cost 20
	if !equity.Equal(d("510")) {
		t.Fatalf("expected equity 510, got %s", equity)
	}
}
