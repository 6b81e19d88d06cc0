package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"quantumtrader/internal/execution"
	"quantumtrader/internal/ledger"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "ledger.db"))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLoadLedgerEmpty(t *testing.T) {
	s := openTemp(t)
	_, found, err := s.LoadLedger(context.Background())
	if err != nil || found {
		t.Fatalf("expected empty store, got found=%v err=%v", found, err)
	}
}

func TestCommitAndLoadLedger(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	entry := time.UnixMilli(1700000000000)
	st := ledger.State{
		Account: ledger.Account{Cash: d("190.00"), RealizedPnL: d("-1.25")},
		Positions: []ledger.Position{
			{Symbol: "BTCUSDT", Quantity: d("0.1"), EntryPrice: d("100"), CostBasis: d("10"), EntryTime: entry},
		},
	}
	fills := []execution.Fill{
		{TradeID: "BTCUSDT:1", ClientOrderID: "c1", Symbol: "BTCUSDT", Side: execution.Buy, Qty: d("0.1"), Price: d("100"), Quote: d("10"), Ts: entry},
		{ClientOrderID: "no-trade-id", Symbol: "BTCUSDT", Side: execution.Buy, Qty: d("1"), Price: d("1")},
	}
	if err := s.Commit(ctx, st, fills); err != nil {
		t.Fatalf("Commit returned error: %v", err)
	}

	got, found, err := s.LoadLedger(ctx)
	if err != nil || !found {
		t.Fatalf("LoadLedger: found=%v err=%v", found, err)
	}
	if !got.Account.Cash.Equal(d("190")) || !got.Account.RealizedPnL.Equal(d("-1.25")) {
		t.Fatalf("unexpected account %+v", got.Account)
	}
	if len(got.Positions) != 1 || !got.Positions[0].Quantity.Equal(d("0.1")) || !got.Positions[0].EntryTime.Equal(entry) {
		t.Fatalf("unexpected positions %+v", got.Positions)
	}

	ok, err := s.HasFill(ctx, "BTCUSDT:1")
	if err != nil || !ok {
		t.Fatalf("expected fill recorded, got %v %v", ok, err)
	}
	recent, err := s.RecentFills(ctx, 10)
	if err != nil || len(recent) != 1 {
		t.Fatalf("expected only the keyed fill stored, got %d %v", len(recent), err)
	}

	// A second commit replaces positions and ignores the duplicate trade id.
	st.Positions = nil
	st.Account.Cash = d("200")
	if err := s.Commit(ctx, st, fills[:1]); err != nil {
		t.Fatalf("second Commit returned error: %v", err)
	}
	got, _, _ = s.LoadLedger(ctx)
	if len(got.Positions) != 0 || !got.Account.Cash.Equal(d("200")) {
		t.Fatalf("expected positions cleared and cash 200, got %+v", got)
	}
}

func TestOrdersLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	base := time.UnixMilli(1700000000000)

	older := execution.Order{ClientOrderID: "a", Symbol: "BTCUSDT", Side: execution.Buy, Notional: d("10"), Status: execution.Pending, CreatedAt: base, UpdatedAt: base}
	newer := execution.Order{ClientOrderID: "b", Symbol: "ETHUSDT", Side: execution.Sell, Quantity: d("0.5"), Status: execution.Pending, CreatedAt: base.Add(time.Minute), UpdatedAt: base.Add(time.Minute)}
	for _, o := range []execution.Order{newer, older} {
		if err := s.SaveOrder(ctx, o); err != nil {
			t.Fatalf("SaveOrder: %v", err)
		}
	}

	pending, err := s.PendingOrders(ctx)
	if err != nil || len(pending) != 2 || pending[0].ClientOrderID != "a" {
		t.Fatalf("expected two pending orders oldest first, got %+v %v", pending, err)
	}
	if !pending[1].Quantity.Equal(d("0.5")) || pending[1].Side != execution.Sell {
		t.Fatalf("order fields not round-tripped: %+v", pending[1])
	}

	older.Status = execution.Filled
	older.ExchangeOrderID = "42"
	older.UpdatedAt = base.Add(2 * time.Minute)
	if err := s.SaveOrder(ctx, older); err != nil {
		t.Fatalf("update order: %v", err)
	}
	pending, _ = s.PendingOrders(ctx)
	if len(pending) != 1 || pending[0].ClientOrderID != "b" {
		t.Fatalf("expected only b pending, got %+v", pending)
	}

	recent, err := s.RecentOrders(ctx, 1)
	if err != nil || len(recent) != 1 || recent[0].ClientOrderID != "b" {
		t.Fatalf("expected newest order first, got %+v %v", recent, err)
	}
	all, _ := s.RecentOrders(ctx, 10)
	if all[1].ExchangeOrderID != "42" || all[1].Status != execution.Filled {
		t.Fatalf("update not persisted: %+v", all[1])
	}
}
