package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"quantumtrader/internal/exchange"
	"quantumtrader/internal/execution"
	"quantumtrader/internal/fault"
	"quantumtrader/internal/ledger"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeExchange struct {
	balances map[string]exchange.Balance
	trades   map[string][]execution.Fill
	orders   map[string]execution.Result
	err      error
}

func (f *fakeExchange) Balances(context.Context) (map[string]exchange.Balance, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.balances, nil
}

func (f *fakeExchange) QueryOrder(_ context.Context, _ string, coid string) (execution.Result, error) {
	res, ok := f.orders[coid]
	if !ok {
		return execution.Result{}, &fault.Error{Kind: fault.Rejected, Op: "query order", Err: fault.ErrOrderNotFound}
	}
	return res, nil
}

func (f *fakeExchange) Trades(_ context.Context, symbol string, _ time.Time) ([]execution.Fill, error) {
	return f.trades[symbol], nil
}

type memStore struct {
	orders  map[string]execution.Order
	fills   map[string]execution.Fill
	commits int
	state   ledger.State
}

func newMemStore() *memStore {
	return &memStore{orders: map[string]execution.Order{}, fills: map[string]execution.Fill{}}
}

func (m *memStore) PendingOrders(context.Context) ([]execution.Order, error) {
	var out []execution.Order
	for _, o := range m.orders {
		if o.Status == execution.Pending {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memStore) SaveOrder(_ context.Context, o execution.Order) error {
	m.orders[o.ClientOrderID] = o
	return nil
}

func (m *memStore) HasFill(_ context.Context, id string) (bool, error) {
	_, ok := m.fills[id]
	return ok, nil
}

func (m *memStore) Commit(_ context.Context, st ledger.State, fills []execution.Fill) error {
	m.commits++
	m.state = st
	for _, f := range fills {
		if _, ok := m.fills[f.TradeID]; !ok {
			m.fills[f.TradeID] = f
		}
	}
	return nil
}

type fixedPrices map[string]decimal.Decimal

func (p fixedPrices) Price(_ context.Context, sym string) (decimal.Decimal, error) {
	if px, ok := p[sym]; ok {
		return px, nil
	}
	return decimal.Zero, fault.ErrPriceUnavailable
}

func opts() Options {
	return Options{
		QuoteAsset:   "USDT",
		Symbols:      []string{"SYMUSDT"},
		PendingGrace: 2 * time.Minute,
		Lookback:     24 * time.Hour,
		DriftEpsilon: d("0.01"),
		DustNotional: d("1"),
	}
}

func TestImportedFillAppliedExactlyOnce(t *testing.T) {
	ex := &fakeExchange{
		balances: map[string]exchange.Balance{
			"USDT": {Asset: "USDT", Free: d("900")},
			"SYM":  {Asset: "SYM", Free: d("2")},
		},
		trades: map[string][]execution.Fill{
			"SYMUSDT": {{TradeID: "SYMUSDT:1", ExchangeOrderID: "77", Symbol: "SYMUSDT", Side: execution.Buy, Qty: d("2"), Price: d("50"), Quote: d("100"), Ts: time.UnixMilli(1700000000000)}},
		},
	}
	store := newMemStore()
	l := ledger.New(d("1000"))
	r := New(ex, store, fixedPrices{"SYMUSDT": d("50")}, l, opts(), zerolog.Nop())

	rep, err := r.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if rep.ImportedFills != 1 || len(rep.Repairs) != 0 || rep.DriftAlert {
		t.Fatalf("unexpected first report %+v", rep)
	}
	pos, ok := l.Position("SYMUSDT")
	if !ok || !pos.Quantity.Equal(d("2")) || !pos.EntryPrice.Equal(d("50")) {
		t.Fatalf("expected Position{qty=2, entry=50}, got %+v", pos)
	}
	first := l.State()

	rep, err = r.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("second Reconcile returned error: %v", err)
	}
	if rep.ImportedFills != 0 || len(rep.Repairs) != 0 || !rep.CashDrift.IsZero() {
		t.Fatalf("second pass should be a no-op, got %+v", rep)
	}
	second := l.State()
	if !second.Account.Cash.Equal(first.Account.Cash) || len(second.Positions) != 1 || !second.Positions[0].Quantity.Equal(d("2")) {
		t.Fatalf("ledger changed on second pass: %+v vs %+v", first, second)
	}
	if store.commits != 2 || len(store.fills) != 1 {
		t.Fatalf("expected fill stored once across two commits, got %d fills", len(store.fills))
	}
}

func TestPendingOrdersResolved(t *testing.T) {
	now := time.UnixMilli(1700000600000)
	store := newMemStore()
	store.orders["filled"] = execution.Order{ClientOrderID: "filled", Symbol: "SYMUSDT", Status: execution.Pending, CreatedAt: now.Add(-time.Hour)}
	store.orders["lost"] = execution.Order{ClientOrderID: "lost", Symbol: "SYMUSDT", Status: execution.Pending, CreatedAt: now.Add(-time.Hour)}
	store.orders["young"] = execution.Order{ClientOrderID: "young", Symbol: "SYMUSDT", Status: execution.Pending, CreatedAt: now.Add(-time.Second)}

	ex := &fakeExchange{
		balances: map[string]exchange.Balance{"USDT": {Asset: "USDT", Free: d("100")}},
		orders:   map[string]execution.Result{"filled": {ExchangeOrderID: "9", Status: execution.Filled}},
	}
	r := New(ex, store, fixedPrices{}, ledger.New(d("100")), opts(), zerolog.Nop())
	r.now = func() time.Time { return now }

	rep, err := r.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if rep.ResolvedOrders != 1 || rep.FailedOrders != 1 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if o := store.orders["filled"]; o.Status != execution.Filled || o.ExchangeOrderID != "9" {
		t.Fatalf("expected filled order, got %+v", o)
	}
	if o := store.orders["lost"]; o.Status != execution.Failed {
		t.Fatalf("expected failed order, got %+v", o)
	}
	if o := store.orders["young"]; o.Status != execution.Pending {
		t.Fatalf("expected young order still pending, got %+v", o)
	}
}

func TestCashDriftAuthoritativeWins(t *testing.T) {
	ex := &fakeExchange{balances: map[string]exchange.Balance{"USDT": {Asset: "USDT", Free: d("187.5")}}}
	l := ledger.New(d("190"))
	r := New(ex, newMemStore(), fixedPrices{}, l, opts(), zerolog.Nop())

	rep, err := r.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if !rep.DriftAlert || !rep.CashDrift.Equal(d("-2.5")) {
		t.Fatalf("expected drift alert of -2.5, got %+v", rep)
	}
	acct, _ := l.Snapshot()
	if !acct.Cash.Equal(d("187.5")) {
		t.Fatalf("expected authoritative cash, got %s", acct.Cash)
	}
}

func TestPositionRepairAndResume(t *testing.T) {
	ex := &fakeExchange{balances: map[string]exchange.Balance{
		"USDT": {Asset: "USDT", Free: d("50")},
		"SYM":  {Asset: "SYM", Free: d("0.5")},
	}}
	l := ledger.New(d("150"))
	if err := l.Open("SYMUSDT", d("1"), d("100")); err != nil {
		t.Fatalf("open: %v", err)
	}
	l.Halt("SYMUSDT", "invariant")

	r := New(ex, newMemStore(), fixedPrices{"SYMUSDT": d("100")}, l, opts(), zerolog.Nop())
	rep, err := r.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if len(rep.Repairs) != 1 || len(rep.Resumed) != 1 {
		t.Fatalf("expected one repair and one resume, got %+v", rep)
	}
	pos, _ := l.Position("SYMUSDT")
	if !pos.Quantity.Equal(d("0.5")) || !pos.EntryPrice.Equal(d("100")) {
		t.Fatalf("expected repaired quantity keeping entry, got %+v", pos)
	}
	if _, halted := l.Halted("SYMUSDT"); halted {
		t.Fatalf("expected symbol resumed")
	}
}

func TestDustBalanceIsNoPosition(t *testing.T) {
	ex := &fakeExchange{balances: map[string]exchange.Balance{
		"USDT": {Asset: "USDT", Free: d("100")},
		"SYM":  {Asset: "SYM", Free: d("0.001")},
	}}
	l := ledger.New(d("100"))
	r := New(ex, newMemStore(), fixedPrices{"SYMUSDT": d("100")}, l, opts(), zerolog.Nop())
	if _, err := r.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if _, ok := l.Position("SYMUSDT"); ok {
		t.Fatalf("dust balance should not create a position")
	}
}

func TestReadFailureLeavesLedgerUntouched(t *testing.T) {
	ex := &fakeExchange{err: fault.Errorf(fault.Transient, "account", "timeout")}
	store := newMemStore()
	l := ledger.New(d("100"))
	r := New(ex, store, fixedPrices{}, l, opts(), zerolog.Nop())

	_, err := r.Reconcile(context.Background())
	if !fault.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if store.commits != 0 {
		t.Fatalf("nothing should be committed after a failed read")
	}
	acct, _ := l.Snapshot()
	if !acct.Cash.Equal(d("100")) {
		t.Fatalf("ledger changed after failed read")
	}
}
