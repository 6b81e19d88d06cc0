// Package reconcile repairs the local ledger against the exchange's balances and trade history.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"quantumtrader/internal/exchange"
	"quantumtrader/internal/execution"
	"quantumtrader/internal/fault"
	"quantumtrader/internal/ledger"
	"quantumtrader/internal/metrics"
)

// Exchange is the authoritative side of reconciliation.
type Exchange interface {
	Balances(ctx context.Context) (map[string]exchange.Balance, error)
	QueryOrder(ctx context.Context, symbol, clientOrderID string) (execution.Result, error)
	Trades(ctx context.Context, symbol string, since time.Time) ([]execution.Fill, error)
}

// Store holds order records and the set of applied trade ids.
type Store interface {
	PendingOrders(ctx context.Context) ([]execution.Order, error)
	SaveOrder(ctx context.Context, order execution.Order) error
	HasFill(ctx context.Context, tradeID string) (bool, error)
	Commit(ctx context.Context, st ledger.State, fills []execution.Fill) error
}

// PriceSource values balances that have no local position.
type PriceSource interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Options tunes a Reconciler.
type Options struct {
	QuoteAsset   string
	Symbols      []string
	PendingGrace time.Duration
	Lookback     time.Duration
	// DriftEpsilon is the cash difference, in quote, above which drift is alerted.
	DriftEpsilon decimal.Decimal
	// DustNotional treats base balances worth less than this as no position.
	DustNotional decimal.Decimal
}

// Report summarises one reconciliation pass.
type Report struct {
	ResolvedOrders int
	FailedOrders   int
	ImportedFills  int
	RejectedFills  int
	Repairs        []string
	Resumed        []string
	CashDrift      decimal.Decimal
	DriftAlert     bool
}

// Reconciler diffs the ledger against the exchange and repairs it. The authoritative side wins.
type Reconciler struct {
	ex     Exchange
	store  Store
	prices PriceSource
	ledger *ledger.Ledger
	opts   Options
	log    zerolog.Logger
	now    func() time.Time
}

// New wires a reconciler.
func New(ex Exchange, store Store, prices PriceSource, l *ledger.Ledger, opts Options, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		ex:     ex,
		store:  store,
		prices: prices,
		ledger: l,
		opts:   opts,
		log:    log.With().Str("component", "reconcile").Logger(),
		now:    time.Now,
	}
}

// snapshot is everything read from the exchange before the ledger is touched.
type snapshot struct {
	balances map[string]exchange.Balance
	resolved []execution.Order
	fresh    []execution.Fill
	marks    map[string]decimal.Decimal
}

// Reconcile runs one pass. Every exchange read happens before any ledger mutation, so a failed
// read leaves the ledger untouched. Running it twice without exchange activity changes nothing.
func (r *Reconciler) Reconcile(ctx context.Context) (Report, error) {
	snap, rep, err := r.read(ctx)
	if err != nil {
		return Report{}, err
	}
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	applied := r.importFills(snap.fresh, &rep)
	r.repairPositions(snap, applied, &rep)

	quote := snap.balances[r.opts.QuoteAsset].Free
	rep.CashDrift = r.ledger.SetCash(quote)
	if rep.CashDrift.Abs().GreaterThan(r.opts.DriftEpsilon) {
		rep.DriftAlert = true
		metrics.ReconcileDriftAlertsTotal.Inc()
		r.log.Error().Bool("alert", true).Str("drift", rep.CashDrift.String()).Str("cash", quote.String()).
			Msg("cash drift beyond tolerance, authoritative balance applied")
	}

	for sym, reason := range r.ledger.HaltedSymbols() {
		r.ledger.Resume(sym)
		rep.Resumed = append(rep.Resumed, sym)
		r.log.Info().Str("sym", sym).Str("halt_reason", reason).Msg("symbol resumed after reconciliation")
	}
	sort.Strings(rep.Resumed)

	// Order status updates and ledger state are committed after the ledger is consistent.
	wctx := context.WithoutCancel(ctx)
	for _, o := range snap.resolved {
		if err := r.store.SaveOrder(wctx, o); err != nil {
			return rep, fmt.Errorf("save reconciled order %s: %w", o.ClientOrderID, err)
		}
	}
	if err := r.store.Commit(wctx, r.ledger.State(), snap.fresh); err != nil {
		return rep, fmt.Errorf("commit reconciliation: %w", err)
	}

	r.log.Info().
		Int("resolved", rep.ResolvedOrders).
		Int("failed", rep.FailedOrders).
		Int("imported", rep.ImportedFills).
		Int("repairs", len(rep.Repairs)).
		Str("drift", rep.CashDrift.String()).
		Msg("reconciliation complete")
	return rep, nil
}

func (r *Reconciler) read(ctx context.Context) (snapshot, Report, error) {
	var rep Report
	snap := snapshot{marks: make(map[string]decimal.Decimal)}

	balances, err := r.ex.Balances(ctx)
	if err != nil {
		return snap, rep, fmt.Errorf("fetch balances: %w", err)
	}
	snap.balances = balances

	pending, err := r.store.PendingOrders(ctx)
	if err != nil {
		return snap, rep, fmt.Errorf("load pending orders: %w", err)
	}
	for _, o := range pending {
		if err := ctx.Err(); err != nil {
			return snap, rep, err
		}
		if updated, ok := r.resolve(ctx, o, &rep); ok {
			snap.resolved = append(snap.resolved, updated)
		}
	}

	var since time.Time
	if r.opts.Lookback > 0 {
		since = r.now().Add(-r.opts.Lookback)
	}
	for _, sym := range r.opts.Symbols {
		if err := ctx.Err(); err != nil {
			return snap, rep, err
		}
		trades, err := r.ex.Trades(ctx, sym, since)
		if err != nil {
			return snap, rep, fmt.Errorf("fetch trades %s: %w", sym, err)
		}
		for _, f := range trades {
			seen, err := r.store.HasFill(ctx, f.TradeID)
			if err != nil {
				return snap, rep, err
			}
			if !seen {
				snap.fresh = append(snap.fresh, f)
			}
		}

		base := execution.BaseAsset(sym, r.opts.QuoteAsset)
		if balances[base].Total().IsPositive() && r.prices != nil {
			if px, err := r.prices.Price(ctx, sym); err == nil {
				snap.marks[sym] = px
			} else {
				r.log.Warn().Err(err).Str("sym", sym).Msg("no mark for balance check")
			}
		}
	}
	return snap, rep, nil
}

// resolve settles one PENDING order by client order id. ok is false when nothing changed.
func (r *Reconciler) resolve(ctx context.Context, o execution.Order, rep *Report) (execution.Order, bool) {
	log := r.log.With().Str("sym", o.Symbol).Str("coid", o.ClientOrderID).Logger()
	res, err := r.ex.QueryOrder(ctx, o.Symbol, o.ClientOrderID)
	switch {
	case errors.Is(err, fault.ErrOrderNotFound):
		if r.now().Sub(o.CreatedAt) < r.opts.PendingGrace {
			log.Info().Msg("pending order not yet visible on exchange")
			return o, false
		}
		o.Status = execution.Failed
		o.UpdatedAt = r.now()
		rep.FailedOrders++
		metrics.ReconcileRepairsTotal.WithLabelValues("order_failed").Inc()
		log.Warn().Msg("pending order never reached the exchange, marked failed")
		return o, true
	case err != nil:
		log.Warn().Err(err).Msg("pending order lookup failed, left pending")
		return o, false
	case res.Status == execution.Pending:
		return o, false
	}
	o.Status = res.Status
	o.ExchangeOrderID = res.ExchangeOrderID
	o.UpdatedAt = r.now()
	rep.ResolvedOrders++
	metrics.ReconcileRepairsTotal.WithLabelValues("order_resolved").Inc()
	log.Info().Str("status", string(o.Status)).Str("exchange_id", o.ExchangeOrderID).Msg("pending order resolved")
	return o, true
}

// importFills applies unseen trades through Open/Reduce, one exchange order at a time, oldest
// first. It returns the last fill price per symbol.
func (r *Reconciler) importFills(fills []execution.Fill, rep *Report) map[string]decimal.Decimal {
	type group struct {
		key   string
		fills []execution.Fill
		first time.Time
	}
	groups := make(map[string]*group)
	for _, f := range fills {
		key := f.Symbol + "/" + f.ExchangeOrderID + "/" + string(f.Side)
		g, ok := groups[key]
		if !ok {
			g = &group{key: key, first: f.Ts}
			groups[key] = g
		}
		if f.Ts.Before(g.first) {
			g.first = f.Ts
		}
		g.fills = append(g.fills, f)
	}
	ordered := make([]*group, 0, len(groups))
	for _, g := range groups {
		ordered = append(ordered, g)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].first.Equal(ordered[j].first) {
			return ordered[i].key < ordered[j].key
		}
		return ordered[i].first.Before(ordered[j].first)
	})

	lastPx := make(map[string]decimal.Decimal)
	for _, g := range ordered {
		f0 := g.fills[0]
		qty, px := execution.Effective(f0.Side, g.fills, r.opts.QuoteAsset)
		if !qty.IsPositive() {
			continue
		}
		log := r.log.With().Str("sym", f0.Symbol).Str("side", string(f0.Side)).Str("qty", qty.String()).
			Str("px", px.String()).Str("exchange_id", f0.ExchangeOrderID).Logger()

		var err error
		if f0.Side == execution.Buy {
			err = r.ledger.Open(f0.Symbol, qty, px)
		} else {
			_, err = r.ledger.Reduce(f0.Symbol, qty, px)
		}
		if err != nil {
			// The balance repair below restores the position; the trade ids are still recorded.
			rep.RejectedFills += len(g.fills)
			log.Error().Err(err).Bool("alert", true).Msg("imported fill violates ledger invariants")
			continue
		}
		lastPx[f0.Symbol] = px
		rep.ImportedFills += len(g.fills)
		metrics.ReconcileRepairsTotal.WithLabelValues("fill_imported").Inc()
		log.Warn().Int("trades", len(g.fills)).Msg("imported exchange fill with no local record")
	}
	return lastPx
}

// repairPositions forces each tracked position to the exchange's base-asset balance.
func (r *Reconciler) repairPositions(snap snapshot, lastPx map[string]decimal.Decimal, rep *Report) {
	for _, sym := range r.opts.Symbols {
		base := execution.BaseAsset(sym, r.opts.QuoteAsset)
		want := snap.balances[base].Total()
		mark, hasMark := snap.marks[sym]
		if px, ok := lastPx[sym]; ok && !hasMark {
			mark, hasMark = px, true
		}
		if hasMark && want.Mul(mark).LessThan(r.opts.DustNotional) {
			want = decimal.Zero
		}

		pos, held := r.ledger.Position(sym)
		have := decimal.Zero
		if held {
			have = pos.Quantity
		}
		if want.Sub(have).Abs().LessThanOrEqual(ledger.Epsilon) {
			continue
		}
		if !held && !hasMark {
			r.log.Warn().Str("sym", sym).Str("balance", want.String()).Msg("untracked balance without a price, repair deferred")
			continue
		}

		r.ledger.Adjust(sym, want, mark)
		detail := fmt.Sprintf("%s %s->%s", sym, have, want)
		rep.Repairs = append(rep.Repairs, detail)
		metrics.ReconcileRepairsTotal.WithLabelValues("position").Inc()
		r.log.Warn().Str("sym", sym).Str("local", have.String()).Str("exchange", want.String()).Msg("position repaired from exchange balance")
	}
}
