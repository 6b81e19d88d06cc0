// Package engine drives the trading cycle and reconciliation on their own periods, never
// overlapping, and flushes the ledger on shutdown.
package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"quantumtrader/internal/config"
	"quantumtrader/internal/execution"
	"quantumtrader/internal/exit"
	"quantumtrader/internal/fault"
	"quantumtrader/internal/ledger"
	"quantumtrader/internal/metrics"
	"quantumtrader/internal/reconcile"
	"quantumtrader/internal/risk"
	"quantumtrader/internal/signal"
	"quantumtrader/internal/strategy"
)

// MarketData supplies prices, candles and sentiment.
type MarketData interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
	Candles(ctx context.Context, symbol, interval string, limit int) ([]signal.Candle, error)
	Sentiment(ctx context.Context) (signal.Indicators, error)
}

// Submitter places orders and reports their fills.
type Submitter interface {
	Submit(ctx context.Context, req execution.Request) (execution.Order, []execution.Fill, error)
}

// Reconciler repairs the ledger against the exchange.
type Reconciler interface {
	Reconcile(ctx context.Context) (reconcile.Report, error)
}

// Store persists ledger state together with the fills that produced it.
type Store interface {
	Commit(ctx context.Context, st ledger.State, fills []execution.Fill) error
}

// Deps are the collaborators an Engine drives.
type Deps struct {
	Market     MarketData
	Executor   Submitter
	Reconciler Reconciler
	Store      Store
	Ledger     *ledger.Ledger
	Scorer     strategy.Scorer
	Aggregator *signal.Aggregator
	Sizer      risk.Sizer
	Exits      *exit.Monitor
	// Recorder receives every fill applied to the ledger. Optional.
	Recorder ledger.FillRecorder
}

// Settings are the engine's scheduling and universe parameters.
type Settings struct {
	Symbols           []string
	Timeframes        []config.Timeframe
	CandleLimit       int
	QuoteAsset        string
	CycleInterval     time.Duration
	ReconcileInterval time.Duration
	FlushTimeout      time.Duration
}

// CycleReport summarises one trading cycle.
type CycleReport struct {
	Exits    int
	Orders   int
	Skipped  int
	Failures int
	Signals  []signal.Signal
}

// Engine owns the ledger for one strategy instance. RunCycle, Reconcile and Flush hold the
// step mutex, so trading and repair never interleave.
type Engine struct {
	deps     Deps
	settings Settings
	log      zerolog.Logger

	step   sync.Mutex
	halted atomic.Bool
	reason atomic.Value
	// unsaved holds fills applied to the ledger whose commit failed. Guarded by step.
	unsaved []execution.Fill
}

// New builds an engine.
func New(deps Deps, settings Settings, log zerolog.Logger) *Engine {
	if settings.FlushTimeout <= 0 {
		settings.FlushTimeout = 10 * time.Second
	}
	syms := append([]string(nil), settings.Symbols...)
	sort.Strings(syms)
	settings.Symbols = syms
	return &Engine{deps: deps, settings: settings, log: log.With().Str("component", "engine").Logger()}
}

// Halted reports whether trading is stopped for the credential and why.
func (e *Engine) Halted() (string, bool) {
	if !e.halted.Load() {
		return "", false
	}
	reason, _ := e.reason.Load().(string)
	return reason, true
}

// Snapshot is the read-only view for reporting.
func (e *Engine) Snapshot() (ledger.Account, ledger.Portfolio) {
	return e.deps.Ledger.Snapshot()
}

// Run reconciles once, then runs cycles and reconciliations on their periods until ctx is
// canceled. The ledger is flushed before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info().
		Strs("symbols", e.settings.Symbols).
		Dur("cycle", e.settings.CycleInterval).
		Dur("reconcile", e.settings.ReconcileInterval).
		Msg("engine started")

	if _, err := e.Reconcile(ctx); err != nil && ctx.Err() == nil {
		e.log.Error().Err(err).Msg("startup reconciliation failed")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(e.settings.ReconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := e.Reconcile(ctx); err != nil && ctx.Err() == nil {
					e.log.Error().Err(err).Msg("reconciliation failed")
				}
			}
		}
	}()

	ticker := time.NewTicker(e.settings.CycleInterval)
	defer ticker.Stop()
	for {
		if _, err := e.RunCycle(ctx); err != nil && ctx.Err() == nil {
			e.log.Error().Err(err).Msg("cycle failed")
		}
		select {
		case <-ctx.Done():
			wg.Wait()
			fctx, cancel := context.WithTimeout(context.Background(), e.settings.FlushTimeout)
			defer cancel()
			if err := e.Flush(fctx); err != nil {
				e.log.Error().Err(err).Msg("flush ledger on shutdown")
				return err
			}
			e.log.Info().Msg("engine stopped, ledger flushed")
			return nil
		case <-ticker.C:
		}
	}
}

// Flush persists the current ledger state with any fills still awaiting a commit.
func (e *Engine) Flush(ctx context.Context) error {
	e.step.Lock()
	defer e.step.Unlock()
	return e.persist(ctx)
}

// persist commits the ledger with every applied fill not yet stored. Caller holds step.
func (e *Engine) persist(ctx context.Context) error {
	if err := e.deps.Store.Commit(ctx, e.deps.Ledger.State(), e.unsaved); err != nil {
		return err
	}
	e.unsaved = nil
	return nil
}

// Reconcile runs one reconciliation pass with exclusive ledger access.
func (e *Engine) Reconcile(ctx context.Context) (reconcile.Report, error) {
	e.step.Lock()
	defer e.step.Unlock()
	if err := ctx.Err(); err != nil {
		return reconcile.Report{}, err
	}
	if len(e.unsaved) > 0 {
		// Unstored fills would be imported a second time.
		if err := e.persist(ctx); err != nil {
			return reconcile.Report{}, fmt.Errorf("persist %d applied fills before reconciliation: %w", len(e.unsaved), err)
		}
	}
	rep, err := e.deps.Reconciler.Reconcile(ctx)
	if fault.IsHalting(err) && !errors.Is(err, fault.ErrOrderNotFound) {
		e.halt(err)
	}
	return rep, err
}

// RunCycle evaluates exits, then signals, for every symbol. A failure on one symbol is logged and
// the cycle moves on; only cancellation ends it early.
func (e *Engine) RunCycle(ctx context.Context) (CycleReport, error) {
	e.step.Lock()
	defer e.step.Unlock()

	var rep CycleReport
	if reason, halted := e.Halted(); halted {
		e.log.Warn().Str("reason", reason).Msg("trading halted for credential, cycle skipped")
		return rep, nil
	}

	_, portfolio := e.deps.Ledger.Snapshot()
	marks, err := e.marks(ctx, portfolio)
	if err != nil {
		return rep, err
	}

	for _, ex := range e.deps.Exits.Evaluate(ctx, portfolio, marks) {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if e.skipHalted(ex.Symbol) {
			continue
		}
		rep.Exits++
		if e.execute(ctx, ex.Request(), &rep) && ex.Reason != exit.ForcedUnlock {
			e.deps.Exits.Reset(ex.Symbol)
		}
	}

	var ind *signal.Indicators
	if err := ctx.Err(); err != nil {
		return rep, err
	}
	if s, err := e.deps.Market.Sentiment(ctx); err != nil {
		e.log.Warn().Err(err).Msg("sentiment unavailable, macro sub-score missing this cycle")
	} else {
		ind = &s
	}

	for _, sym := range e.settings.Symbols {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if e.skipHalted(sym) {
			continue
		}
		if _, ok := marks[sym]; !ok {
			rep.Skipped++
			metrics.SkipsTotal.WithLabelValues(sym, risk.ReasonNoPrice).Inc()
			e.log.Info().Str("sym", sym).Str("reason", risk.ReasonNoPrice).Msg("symbol skipped this cycle")
			continue
		}

		sig, err := e.evaluate(ctx, sym, ind)
		if err != nil {
			return rep, err
		}
		rep.Signals = append(rep.Signals, sig)

		acct, portfolio := e.deps.Ledger.Snapshot()
		action, err := e.deps.Sizer.Size(sig.Verdict, sym, acct, portfolio, marks)
		if err != nil {
			var skip *risk.SkipError
			if errors.As(err, &skip) {
				if skip.Reason != risk.ReasonHold {
					rep.Skipped++
					metrics.SkipsTotal.WithLabelValues(sym, skip.Reason).Inc()
					e.log.Info().Str("sym", sym).Str("verdict", string(sig.Verdict)).Str("reason", skip.Reason).
						Str("attempted", skip.Attempted.String()).Msg("action skipped")
				}
				continue
			}
			rep.Failures++
			e.log.Error().Err(err).Str("sym", sym).Msg("sizing failed")
			continue
		}
		e.execute(ctx, action, &rep)
	}

	equity := e.deps.Ledger.Equity(marks)
	metrics.CyclesTotal.Inc()
	metrics.LedgerEquity.Set(equity.InexactFloat64())
	e.log.Debug().Int("exits", rep.Exits).Int("orders", rep.Orders).Int("skipped", rep.Skipped).
		Str("equity", equity.String()).Msg("cycle complete")
	return rep, nil
}

// marks fetches one price per traded or held symbol for the whole cycle.
func (e *Engine) marks(ctx context.Context, portfolio ledger.Portfolio) (priceMap, error) {
	want := append([]string(nil), e.settings.Symbols...)
	for _, sym := range portfolio.Symbols() {
		if !slices.Contains(want, sym) {
			want = append(want, sym)
		}
	}
	out := make(priceMap, len(want))
	for _, sym := range want {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		px, err := e.deps.Market.Price(ctx, sym)
		if err != nil {
			e.log.Warn().Err(err).Str("sym", sym).Msg("price unavailable")
			continue
		}
		out[sym] = px
	}
	return out, nil
}

func (e *Engine) evaluate(ctx context.Context, sym string, ind *signal.Indicators) (signal.Signal, error) {
	inputs := make([]signal.TimeframeInput, 0, len(e.settings.Timeframes))
	for _, tf := range e.settings.Timeframes {
		if err := ctx.Err(); err != nil {
			return signal.Signal{}, err
		}
		candles, err := e.deps.Market.Candles(ctx, sym, tf.Name, e.settings.CandleLimit)
		if err != nil {
			e.log.Warn().Err(err).Str("sym", sym).Str("tf", tf.Name).Msg("candles unavailable, timeframe excluded")
			continue
		}
		in := e.deps.Scorer.Score(tf.Name, candles, ind)
		in.Weight = tf.Weight
		inputs = append(inputs, in)
	}
	sig := e.deps.Aggregator.Evaluate(sym, inputs)
	e.log.Debug().Str("sym", sym).Str("tf", sig.Timeframe).Float64("confluence", sig.Confluence).
		Float64("confidence", sig.Confidence).Str("verdict", string(sig.Verdict)).Msg("signal")
	return sig, nil
}

// execute submits req and applies its confirmed fills. It reports whether the ledger changed.
func (e *Engine) execute(ctx context.Context, req execution.Request, rep *CycleReport) bool {
	if ctx.Err() != nil {
		return false
	}
	log := e.log.With().Str("sym", req.Symbol).Str("side", string(req.Side)).Str("reason", req.Reason).
		Str("qty", req.Quantity.String()).Str("notional", req.Notional.String()).Logger()

	order, fills, err := e.deps.Executor.Submit(ctx, req)
	if err != nil {
		switch {
		case fault.IsInsufficient(err):
			rep.Skipped++
			metrics.SkipsTotal.WithLabelValues(req.Symbol, "insufficient").Inc()
			log.Info().Err(err).Msg("order skipped by exchange")
		case fault.IsHalting(err):
			rep.Failures++
			e.halt(err)
		default:
			rep.Failures++
			log.Warn().Err(err).Str("coid", order.ClientOrderID).Msg("order failed this cycle, reconciliation will settle it")
		}
		return false
	}
	rep.Orders++

	var keyed []execution.Fill
	for _, f := range fills {
		if f.TradeID != "" {
			keyed = append(keyed, f)
		}
	}
	if len(keyed) == 0 {
		log.Warn().Str("coid", order.ClientOrderID).Msg("fill carried no trade ids, left for reconciliation")
		return false
	}

	qty, px := execution.Effective(req.Side, keyed, e.settings.QuoteAsset)
	if req.Side == execution.Buy {
		err = e.deps.Ledger.Open(req.Symbol, qty, px)
	} else {
		var realized decimal.Decimal
		realized, err = e.deps.Ledger.Reduce(req.Symbol, qty, px)
		log = log.With().Str("realized", realized.String()).Logger()
	}
	if err != nil {
		rep.Failures++
		e.deps.Ledger.Halt(req.Symbol, err.Error())
		log.Error().Err(err).Bool("alert", true).Str("coid", order.ClientOrderID).Msg("fill violates ledger invariants, symbol halted until reconciliation")
		return false
	}
	log.Info().Str("fill_qty", qty.String()).Str("px", px.String()).Str("coid", order.ClientOrderID).Msg("fill applied")

	e.unsaved = append(e.unsaved, keyed...)
	if err := e.persist(context.WithoutCancel(ctx)); err != nil {
		log.Error().Err(err).Int("unsaved_fills", len(e.unsaved)).Msg("persist ledger after fill, retried before next reconciliation")
	}
	if e.deps.Recorder != nil {
		for _, f := range keyed {
			e.deps.Recorder.Record(f)
		}
	}
	return true
}

func (e *Engine) skipHalted(sym string) bool {
	reason, halted := e.deps.Ledger.Halted(sym)
	if halted {
		metrics.SkipsTotal.WithLabelValues(sym, "halted").Inc()
		e.log.Warn().Str("sym", sym).Str("halt_reason", reason).Msg("symbol halted, skipped")
	}
	return halted
}

func (e *Engine) halt(err error) {
	if e.halted.CompareAndSwap(false, true) {
		e.reason.Store(err.Error())
		e.log.Error().Err(err).Bool("alert", true).Msg("credential rejected by exchange, trading halted until restart")
	}
}

type priceMap map[string]decimal.Decimal

func (p priceMap) Price(_ context.Context, sym string) (decimal.Decimal, error) {
	if px, ok := p[sym]; ok {
		return px, nil
	}
	return decimal.Zero, fault.ErrPriceUnavailable
}
