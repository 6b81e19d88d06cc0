// Package execution handles order lifecycle and interaction with venues.
package execution

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side enumerates order directions used by the executor.
type Side string

const (
	// Buy indicates a long order.
	Buy Side = "BUY"
	// Sell reduces or closes a long.
	Sell Side = "SELL"
)

// OrderStatus is the local lifecycle state of an order.
type OrderStatus string

const (
	// Pending orders were persisted before transmission and have no confirmed outcome yet.
	Pending OrderStatus = "PENDING"
	// Filled orders executed some or all of their quantity.
	Filled OrderStatus = "FILLED"
	// Rejected orders were refused by the venue.
	Rejected OrderStatus = "REJECTED"
	// Failed orders never reached the venue, as established by reconciliation.
	Failed OrderStatus = "FAILED"
)

// Terminal reports whether no further transition is expected.
func (s OrderStatus) Terminal() bool { return s != Pending }

// Request asks for a market order. BUY orders spend Notional quote; SELL orders sell Quantity base.
type Request struct {
	Symbol   string
	Side     Side
	Quantity decimal.Decimal
	Notional decimal.Decimal
	Reason   string
}

// Order is the locally tracked record of one submission, keyed by its client order id.
type Order struct {
	ClientOrderID   string
	ExchangeOrderID string
	Symbol          string
	Side            Side
	Quantity        decimal.Decimal
	Notional        decimal.Decimal
	Status          OrderStatus
	Reason          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Fill is one exchange trade, identified by the venue's trade id.
type Fill struct {
	TradeID         string
	ClientOrderID   string
	ExchangeOrderID string
	Symbol          string
	Side            Side
	Qty             decimal.Decimal
	Price           decimal.Decimal
	Quote           decimal.Decimal
	Fee             decimal.Decimal
	FeeAsset        string
	Ts              time.Time
}

// Result is the venue's answer to an order submission or status query.
type Result struct {
	ClientOrderID   string
	ExchangeOrderID string
	Status          OrderStatus
	ExecutedQty     decimal.Decimal
	QuoteQty        decimal.Decimal
	Fills           []Fill
}

// BaseAsset strips the quote asset suffix from symbol (BTCUSDT, USDT -> BTC).
func BaseAsset(symbol, quote string) string {
	return strings.TrimSuffix(strings.ToUpper(symbol), strings.ToUpper(quote))
}

// Effective folds commissions paid in the base or quote asset into a single quantity and
// average price suitable for the ledger. Fees in other assets are ignored.
func Effective(side Side, fills []Fill, quote string) (qty, price decimal.Decimal) {
	var quoteSum decimal.Decimal
	for _, f := range fills {
		qty = qty.Add(f.Qty)
		q := f.Quote
		if q.IsZero() {
			q = f.Qty.Mul(f.Price)
		}
		quoteSum = quoteSum.Add(q)
		switch {
		case strings.EqualFold(f.FeeAsset, quote):
			if side == Buy {
				quoteSum = quoteSum.Add(f.Fee)
			} else {
				quoteSum = quoteSum.Sub(f.Fee)
			}
		case side == Buy && strings.EqualFold(f.FeeAsset, BaseAsset(f.Symbol, quote)):
			qty = qty.Sub(f.Fee)
		}
	}
	if !qty.IsPositive() {
		return decimal.Zero, decimal.Zero
	}
	return qty, quoteSum.Div(qty)
}
