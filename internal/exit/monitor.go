// Package exit watches open positions for stop-loss, take-profit and forced-unlock conditions.
package exit

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"quantumtrader/internal/execution"
	"quantumtrader/internal/ledger"
	"quantumtrader/internal/metrics"
)

// Reason names the condition that closed or reduced a position.
type Reason string

const (
	StopLoss     Reason = "stop_loss"
	TakeProfit   Reason = "take_profit"
	ForcedUnlock Reason = "forced_unlock"
)

var hundred = decimal.NewFromInt(100)

// Policy configures the exit thresholds and the restricted-symbol unlock rule.
type Policy struct {
	StopLossPct   decimal.Decimal
	TakeProfitPct decimal.Decimal
	// Restricted symbols may not exit on stop-loss; they are unlocked in fractions instead.
	Restricted        map[string]bool
	UnlockCeiling     int
	UnlockFraction    decimal.Decimal
	QuantityPrecision int32
}

// PriceSource supplies current prices.
type PriceSource interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Exit is a SELL the monitor wants executed.
type Exit struct {
	Symbol   string
	Reason   Reason
	Quantity decimal.Decimal
	Price    decimal.Decimal
	PnLPct   decimal.Decimal
}

// Request converts the exit into an order request.
func (e Exit) Request() execution.Request {
	return execution.Request{Symbol: e.Symbol, Side: execution.Sell, Quantity: e.Quantity, Reason: string(e.Reason)}
}

// Monitor evaluates exit conditions and keeps the per-symbol blocked-cycle counters.
type Monitor struct {
	policy  Policy
	log     zerolog.Logger
	mu      sync.Mutex
	blocked map[string]int
}

// NewMonitor builds a monitor for policy.
func NewMonitor(policy Policy, log zerolog.Logger) *Monitor {
	return &Monitor{
		policy:  policy,
		log:     log.With().Str("component", "exit").Logger(),
		blocked: make(map[string]int),
	}
}

// PnLPct is (price - entry) / entry * 100.
func PnLPct(entry, price decimal.Decimal) decimal.Decimal {
	if !entry.IsPositive() {
		return decimal.Zero
	}
	return price.Sub(entry).Div(entry).Mul(hundred)
}

// Evaluate checks every position in portfolio against its current price and returns the exits to
// execute, in symbol order. A symbol whose price is unavailable is skipped for this call.
func (m *Monitor) Evaluate(ctx context.Context, portfolio ledger.Portfolio, prices PriceSource) []Exit {
	var exits []Exit
	for _, sym := range portfolio.Symbols() {
		if ctx.Err() != nil {
			return exits
		}
		pos := portfolio[sym]
		px, err := prices.Price(ctx, sym)
		if err != nil {
			metrics.SkipsTotal.WithLabelValues(sym, "no_price").Inc()
			m.log.Warn().Err(err).Str("sym", sym).Str("qty", pos.Quantity.String()).Msg("price unavailable, exit check skipped")
			continue
		}
		if ex, ok := m.check(pos, px); ok {
			exits = append(exits, ex)
		}
	}
	return exits
}

func (m *Monitor) check(pos ledger.Position, px decimal.Decimal) (Exit, bool) {
	sym := pos.Symbol
	pnl := PnLPct(pos.EntryPrice, px)
	log := m.log.With().Str("sym", sym).Str("px", px.String()).Str("pnl_pct", pnl.StringFixed(2)).Logger()

	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case pnl.GreaterThanOrEqual(m.policy.TakeProfitPct):
		delete(m.blocked, sym)
		return m.full(pos, px, pnl, TakeProfit, log)

	case pnl.LessThanOrEqual(m.policy.StopLossPct) && m.policy.Restricted[sym]:
		m.blocked[sym]++
		n := m.blocked[sym]
		if n <= m.policy.UnlockCeiling {
			log.Info().Int("blocked_cycles", n).Int("ceiling", m.policy.UnlockCeiling).Msg("stop-loss held back for restricted symbol")
			return Exit{}, false
		}
		delete(m.blocked, sym)
		qty := pos.Quantity.Mul(m.policy.UnlockFraction).RoundDown(m.policy.QuantityPrecision)
		if !qty.IsPositive() {
			log.Info().Str("qty", pos.Quantity.String()).Msg("forced unlock fraction rounds to zero, selling full position")
			qty = pos.Quantity.RoundDown(m.policy.QuantityPrecision)
		}
		if !qty.IsPositive() {
			return Exit{}, false
		}
		metrics.ExitsTotal.WithLabelValues(sym, string(ForcedUnlock)).Inc()
		log.Warn().Int("blocked_cycles", n).Str("qty", qty.String()).Msg("forced unlock")
		return Exit{Symbol: sym, Reason: ForcedUnlock, Quantity: qty, Price: px, PnLPct: pnl}, true

	case pnl.LessThanOrEqual(m.policy.StopLossPct):
		return m.full(pos, px, pnl, StopLoss, log)

	default:
		delete(m.blocked, sym)
		return Exit{}, false
	}
}

func (m *Monitor) full(pos ledger.Position, px, pnl decimal.Decimal, reason Reason, log zerolog.Logger) (Exit, bool) {
	qty := pos.Quantity.RoundDown(m.policy.QuantityPrecision)
	if !qty.IsPositive() {
		log.Info().Str("qty", pos.Quantity.String()).Str("reason", string(reason)).Msg("position below quantity precision, exit skipped")
		return Exit{}, false
	}
	metrics.ExitsTotal.WithLabelValues(pos.Symbol, string(reason)).Inc()
	log.Info().Str("reason", string(reason)).Str("qty", qty.String()).Msg("exit triggered")
	return Exit{Symbol: pos.Symbol, Reason: reason, Quantity: qty, Price: px, PnLPct: pnl}, true
}

// Reset clears the blocked-cycle counter for symbol after a confirmed exit.
func (m *Monitor) Reset(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blocked, symbol)
}

// Blocked returns the consecutive blocked-cycle count for symbol.
func (m *Monitor) Blocked(symbol string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blocked[symbol]
}
