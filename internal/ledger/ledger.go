// Package ledger owns cash and position state. Every balance change goes through its methods,
// and only after a fill has been confirmed.
package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"quantumtrader/internal/fault"
)

// Epsilon is the quantity below which a position is considered closed.
var Epsilon = decimal.New(1, -9)

// Position is a single open long.
type Position struct {
	Symbol     string
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
	EntryTime  time.Time
	CostBasis  decimal.Decimal
}

// Account holds free quote cash and realized profit.
type Account struct {
	Cash        decimal.Decimal
	RealizedPnL decimal.Decimal
}

// Portfolio maps symbol to its open position.
type Portfolio map[string]Position

// Symbols returns the portfolio symbols in sorted order.
func (p Portfolio) Symbols() []string {
	out := make([]string, 0, len(p))
	for sym := range p {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// MarketValue marks every position at marks; positions without a mark are valued at cost.
func (p Portfolio) MarketValue(marks map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for sym, pos := range p {
		if px, ok := marks[sym]; ok && px.IsPositive() {
			total = total.Add(pos.Quantity.Mul(px))
		} else {
			total = total.Add(pos.CostBasis)
		}
	}
	return total
}

// State is the persistable form of the ledger.
type State struct {
	Account   Account
	Positions []Position
}

// Ledger tracks cash, realized PnL, and per-symbol positions. Reads take a consistent snapshot.
type Ledger struct {
	mu        sync.RWMutex
	account   Account
	positions map[string]Position
	halted    map[string]string
	now       func() time.Time
}

// New constructs a ledger holding cash and no positions.
func New(cash decimal.Decimal) *Ledger {
	return &Ledger{
		account:   Account{Cash: cash},
		positions: make(map[string]Position),
		halted:    make(map[string]string),
		now:       time.Now,
	}
}

// Restore rebuilds a ledger from persisted state.
func Restore(st State) *Ledger {
	l := New(st.Account.Cash)
	l.account.RealizedPnL = st.Account.RealizedPnL
	for _, pos := range st.Positions {
		l.positions[pos.Symbol] = pos
	}
	return l
}

// Open applies a confirmed BUY fill. A second fill on an open symbol averages into the same
// position. Spending more than the available cash is an invariant violation and leaves state unchanged.
func (l *Ledger) Open(symbol string, qty, price decimal.Decimal) error {
	if !qty.IsPositive() || !price.IsPositive() {
		return fmt.Errorf("open %s: quantity and price must be positive (qty=%s px=%s)", symbol, qty, price)
	}
	cost := qty.Mul(price)

	l.mu.Lock()
	defer l.mu.Unlock()

	if cost.GreaterThan(l.account.Cash.Add(Epsilon)) {
		return fmt.Errorf("open %s: cost %s exceeds cash %s: %w", symbol, cost, l.account.Cash, fault.ErrInvariant)
	}
	cash := l.account.Cash.Sub(cost)
	if cash.IsNegative() {
		cash = decimal.Zero
	}

	pos, ok := l.positions[symbol]
	if !ok {
		pos = Position{Symbol: symbol, EntryTime: l.now()}
	}
	pos.Quantity = pos.Quantity.Add(qty)
	pos.CostBasis = pos.CostBasis.Add(cost)
	pos.EntryPrice = pos.CostBasis.Div(pos.Quantity)

	l.account.Cash = cash
	l.positions[symbol] = pos
	return nil
}

// Reduce applies a confirmed SELL fill and returns the realized PnL. Selling within Epsilon of the
// full quantity removes the position. Selling more than is held, or a symbol with no position,
// is an invariant violation and leaves state unchanged.
func (l *Ledger) Reduce(symbol string, qty, price decimal.Decimal) (decimal.Decimal, error) {
	if !qty.IsPositive() || !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("reduce %s: quantity and price must be positive (qty=%s px=%s)", symbol, qty, price)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("reduce %s: no open position: %w", symbol, fault.ErrInvariant)
	}
	if qty.GreaterThan(pos.Quantity.Add(Epsilon)) {
		return decimal.Zero, fmt.Errorf("reduce %s: sell %s exceeds held %s: %w", symbol, qty, pos.Quantity, fault.ErrInvariant)
	}

	remaining := pos.Quantity.Sub(qty)
	if remaining.LessThanOrEqual(Epsilon) {
		qty = pos.Quantity
		remaining = decimal.Zero
	}
	realized := price.Sub(pos.EntryPrice).Mul(qty)
	l.account.Cash = l.account.Cash.Add(qty.Mul(price))
	l.account.RealizedPnL = l.account.RealizedPnL.Add(realized)

	if remaining.IsZero() {
		delete(l.positions, symbol)
	} else {
		pos.Quantity = remaining
		pos.CostBasis = pos.EntryPrice.Mul(remaining)
		l.positions[symbol] = pos
	}
	return realized, nil
}

// Snapshot returns copies of the account and portfolio.
func (l *Ledger) Snapshot() (Account, Portfolio) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(Portfolio, len(l.positions))
	for sym, pos := range l.positions {
		out[sym] = pos
	}
	return l.account, out
}

// Position returns the open position for symbol.
func (l *Ledger) Position(symbol string) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[symbol]
	return pos, ok
}

// State returns the persistable form, positions sorted by symbol.
func (l *Ledger) State() State {
	acct, portfolio := l.Snapshot()
	st := State{Account: acct}
	for _, sym := range portfolio.Symbols() {
		st.Positions = append(st.Positions, portfolio[sym])
	}
	return st
}

// SetCash overwrites cash with an authoritative balance and returns authoritative minus previous.
func (l *Ledger) SetCash(authoritative decimal.Decimal) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	drift := authoritative.Sub(l.account.Cash)
	l.account.Cash = authoritative
	return drift
}

// Adjust forces a position to an authoritative quantity. A new position is entered at price;
// an existing one keeps its entry price. A quantity within Epsilon of zero removes the position.
func (l *Ledger) Adjust(symbol string, qty, price decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if qty.LessThanOrEqual(Epsilon) {
		delete(l.positions, symbol)
		return
	}
	pos, ok := l.positions[symbol]
	if !ok {
		pos = Position{Symbol: symbol, EntryPrice: price, EntryTime: l.now()}
	}
	pos.Quantity = qty
	pos.CostBasis = pos.EntryPrice.Mul(qty)
	l.positions[symbol] = pos
}

// Halt stops trading symbol until Resume.
func (l *Ledger) Halt(symbol, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.halted[symbol] = reason
}

// Halted reports whether symbol is halted and why.
func (l *Ledger) Halted(symbol string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	reason, ok := l.halted[symbol]
	return reason, ok
}

// HaltedSymbols returns a copy of every halted symbol and its reason.
func (l *Ledger) HaltedSymbols() map[string]string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]string, len(l.halted))
	for sym, reason := range l.halted {
		out[sym] = reason
	}
	return out
}

// Resume lifts a halt.
func (l *Ledger) Resume(symbol string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.halted, symbol)
}

// Equity returns cash plus the marked value of every position.
func (l *Ledger) Equity(marks map[string]decimal.Decimal) decimal.Decimal {
	acct, portfolio := l.Snapshot()
	return acct.Cash.Add(portfolio.MarketValue(marks))
}
