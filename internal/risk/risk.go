// Package risk turns verdicts into concrete order sizes under account limits.
package risk

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"quantumtrader/internal/execution"
	"quantumtrader/internal/ledger"
	"quantumtrader/internal/signal"
)

// Limits holds the configured sizing guard-rails.
type Limits struct {
	RiskFraction         decimal.Decimal
	MaxNotionalPerTrade  decimal.Decimal
	MinNotional          decimal.Decimal
	MaxSingleAssetWeight decimal.Decimal
	// UnlockFraction is the share of a restricted position sold on a SELL verdict.
	UnlockFraction    decimal.Decimal
	QuantityPrecision int32
	Restricted        map[string]bool
}

// Allow reports whether notional is inside the per-trade band.
func (l Limits) Allow(notional decimal.Decimal) bool {
	return notional.GreaterThanOrEqual(l.MinNotional) && notional.LessThanOrEqual(l.MaxNotionalPerTrade)
}

// ErrSkipped is matched by every SkipError.
var ErrSkipped = errors.New("action skipped")

// SkipError explains why no action was produced.
type SkipError struct {
	Symbol    string
	Reason    string
	Attempted decimal.Decimal
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("%s: skipped (%s, attempted %s)", e.Symbol, e.Reason, e.Attempted)
}

// Is lets errors.Is(err, ErrSkipped) match.
func (e *SkipError) Is(target error) bool { return target == ErrSkipped }

// Skip reasons.
const (
	ReasonHold             = "hold"
	ReasonBelowMinimum     = "below_min_notional"
	ReasonInsufficientCash = "insufficient_cash"
	ReasonPositionOpen     = "position_open"
	ReasonNoPosition       = "no_position"
	ReasonNoPrice          = "no_price"
)

// Action is a sized order request.
type Action = execution.Request

// Sizer converts verdicts into actions. It performs no I/O.
type Sizer struct {
	limits Limits
}

// NewSizer builds a sizer for limits.
func NewSizer(limits Limits) Sizer {
	return Sizer{limits: limits}
}

// Size maps verdict for symbol to an action, or a *SkipError. marks carries the current prices used
// to value the portfolio; price is the mark for symbol.
func (s Sizer) Size(verdict signal.Verdict, symbol string, acct ledger.Account, portfolio ledger.Portfolio, marks map[string]decimal.Decimal) (Action, error) {
	price := marks[symbol]
	pos, held := portfolio[symbol]

	switch verdict {
	case signal.Buy:
		if !price.IsPositive() {
			return Action{}, s.skip(symbol, ReasonNoPrice, decimal.Zero)
		}
		if held {
			if trim, ok := s.trim(symbol, pos, price, acct, portfolio, marks); ok {
				return trim, nil
			}
			return Action{}, s.skip(symbol, ReasonPositionOpen, decimal.Zero)
		}
		return s.buy(symbol, acct, portfolio, marks)

	case signal.Sell:
		if !held {
			return Action{}, s.skip(symbol, ReasonNoPosition, decimal.Zero)
		}
		qty := pos.Quantity
		reason := "sell_signal"
		if s.limits.Restricted[symbol] && s.limits.UnlockFraction.IsPositive() {
			qty = s.roundQty(pos.Quantity.Mul(s.limits.UnlockFraction))
			reason = "sell_signal_partial"
			if price.IsPositive() && qty.Mul(price).LessThan(s.limits.MinNotional) {
				return Action{}, s.skip(symbol, ReasonBelowMinimum, qty.Mul(price))
			}
		} else {
			qty = s.roundQty(qty)
		}
		if !qty.IsPositive() {
			return Action{}, s.skip(symbol, ReasonBelowMinimum, decimal.Zero)
		}
		return Action{Symbol: symbol, Side: execution.Sell, Quantity: qty, Reason: reason}, nil

	default:
		if held && price.IsPositive() {
			if trim, ok := s.trim(symbol, pos, price, acct, portfolio, marks); ok {
				return trim, nil
			}
		}
		return Action{}, s.skip(symbol, ReasonHold, decimal.Zero)
	}
}

func (s Sizer) buy(symbol string, acct ledger.Account, portfolio ledger.Portfolio, marks map[string]decimal.Decimal) (Action, error) {
	amount := decimal.Min(acct.Cash.Mul(s.limits.RiskFraction), s.limits.MaxNotionalPerTrade)

	if s.limits.MaxSingleAssetWeight.IsPositive() {
		total := acct.Cash.Add(portfolio.MarketValue(marks))
		amount = decimal.Min(amount, total.Mul(s.limits.MaxSingleAssetWeight))
	}
	amount = amount.RoundDown(2)

	if !amount.IsPositive() || !s.limits.Allow(amount) {
		return Action{}, s.skip(symbol, ReasonBelowMinimum, amount)
	}
	if acct.Cash.LessThan(amount) {
		return Action{}, s.skip(symbol, ReasonInsufficientCash, amount)
	}
	return Action{Symbol: symbol, Side: execution.Buy, Notional: amount, Reason: "buy_signal"}, nil
}

// trim returns a partial SELL bringing symbol back to MaxSingleAssetWeight of the portfolio.
func (s Sizer) trim(symbol string, pos ledger.Position, price decimal.Decimal, acct ledger.Account, portfolio ledger.Portfolio, marks map[string]decimal.Decimal) (Action, bool) {
	if !s.limits.MaxSingleAssetWeight.IsPositive() {
		return Action{}, false
	}
	total := acct.Cash.Add(portfolio.MarketValue(marks))
	value := pos.Quantity.Mul(price)
	target := total.Mul(s.limits.MaxSingleAssetWeight)
	if !value.GreaterThan(target) {
		return Action{}, false
	}
	qty := s.roundQty(value.Sub(target).Div(price))
	if !qty.IsPositive() || qty.Mul(price).LessThan(s.limits.MinNotional) {
		return Action{}, false
	}
	return Action{Symbol: symbol, Side: execution.Sell, Quantity: qty, Reason: "overweight_trim"}, true
}

func (s Sizer) roundQty(q decimal.Decimal) decimal.Decimal {
	if s.limits.QuantityPrecision <= 0 {
		return q
	}
	return q.RoundDown(s.limits.QuantityPrecision)
}

func (s Sizer) skip(symbol, reason string, attempted decimal.Decimal) error {
	return &SkipError{Symbol: symbol, Reason: reason, Attempted: attempted}
}
