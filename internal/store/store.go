// Package store persists the ledger, order records and fill history in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/shopspring/decimal"

	"quantumtrader/internal/execution"
	"quantumtrader/internal/ledger"
)

const schema = `
CREATE TABLE IF NOT EXISTS account (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	cash TEXT NOT NULL,
	realized_pnl TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS positions (
	symbol TEXT PRIMARY KEY,
	quantity TEXT NOT NULL,
	entry_price TEXT NOT NULL,
	cost_basis TEXT NOT NULL,
	entry_time INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS orders (
	client_order_id TEXT PRIMARY KEY,
	exchange_order_id TEXT NOT NULL DEFAULT '',
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity TEXT NOT NULL,
	notional TEXT NOT NULL,
	status TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS orders_status ON orders (status);
CREATE TABLE IF NOT EXISTS fills (
	trade_id TEXT PRIMARY KEY,
	client_order_id TEXT NOT NULL DEFAULT '',
	exchange_order_id TEXT NOT NULL DEFAULT '',
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity TEXT NOT NULL,
	price TEXT NOT NULL,
	quote TEXT NOT NULL,
	fee TEXT NOT NULL,
	fee_asset TEXT NOT NULL DEFAULT '',
	ts INTEGER NOT NULL
);
`

// Store is the SQLite-backed ledger store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path with WAL journaling.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps transactions and pragmas on the same handle.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// SaveOrder inserts or updates an order record by client order id.
func (s *Store) SaveOrder(ctx context.Context, o execution.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (client_order_id, exchange_order_id, symbol, side, quantity, notional, status, reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_order_id) DO UPDATE SET
			exchange_order_id = excluded.exchange_order_id,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		o.ClientOrderID, o.ExchangeOrderID, o.Symbol, string(o.Side), o.Quantity.String(), o.Notional.String(),
		string(o.Status), o.Reason, o.CreatedAt.UnixMilli(), o.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save order %s: %w", o.ClientOrderID, err)
	}
	return nil
}

const orderColumns = `client_order_id, exchange_order_id, symbol, side, quantity, notional, status, reason, created_at, updated_at`

// PendingOrders returns every order still awaiting a terminal status, oldest first.
func (s *Store) PendingOrders(ctx context.Context) ([]execution.Order, error) {
	return s.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE status = ? ORDER BY created_at ASC`, string(execution.Pending))
}

// RecentOrders returns up to limit orders, newest first.
func (s *Store) RecentOrders(ctx context.Context, limit int) ([]execution.Order, error) {
	return s.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC LIMIT ?`, limit)
}

func (s *Store) queryOrders(ctx context.Context, query string, args ...any) ([]execution.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []execution.Order
	for rows.Next() {
		var (
			o                  execution.Order
			side, status       string
			created, updated   int64
			quantity, notional decimal.Decimal
		)
		if err := rows.Scan(&o.ClientOrderID, &o.ExchangeOrderID, &o.Symbol, &side, &quantity, &notional, &status, &o.Reason, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Side = execution.Side(side)
		o.Status = execution.OrderStatus(status)
		o.Quantity, o.Notional = quantity, notional
		o.CreatedAt, o.UpdatedAt = time.UnixMilli(created), time.UnixMilli(updated)
		out = append(out, o)
	}
	return out, rows.Err()
}

// HasFill reports whether tradeID has already been applied.
func (s *Store) HasFill(ctx context.Context, tradeID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM fills WHERE trade_id = ?`, tradeID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup fill %s: %w", tradeID, err)
	}
	return true, nil
}

// RecentFills returns up to limit fills, newest first.
func (s *Store) RecentFills(ctx context.Context, limit int) ([]execution.Fill, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trade_id, client_order_id, exchange_order_id, symbol, side, quantity, price, quote, fee, fee_asset, ts
		FROM fills ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query fills: %w", err)
	}
	defer rows.Close()

	var out []execution.Fill
	for rows.Next() {
		var (
			f    execution.Fill
			side string
			ts   int64
		)
		if err := rows.Scan(&f.TradeID, &f.ClientOrderID, &f.ExchangeOrderID, &f.Symbol, &side, &f.Qty, &f.Price, &f.Quote, &f.Fee, &f.FeeAsset, &ts); err != nil {
			return nil, fmt.Errorf("scan fill: %w", err)
		}
		f.Side = execution.Side(side)
		f.Ts = time.UnixMilli(ts)
		out = append(out, f)
	}
	return out, rows.Err()
}

// Commit writes the ledger state and records fills in one transaction. Fills whose trade id is
// already stored are ignored.
func (s *Store) Commit(ctx context.Context, st ledger.State, fills []execution.Fill) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO account (id, cash, realized_pnl, updated_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET cash = excluded.cash, realized_pnl = excluded.realized_pnl, updated_at = excluded.updated_at`,
		st.Account.Cash.String(), st.Account.RealizedPnL.String(), s.now().UnixMilli(),
	); err != nil {
		return fmt.Errorf("write account: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM positions`); err != nil {
		return fmt.Errorf("clear positions: %w", err)
	}
	for _, p := range st.Positions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO positions (symbol, quantity, entry_price, cost_basis, entry_time) VALUES (?, ?, ?, ?, ?)`,
			p.Symbol, p.Quantity.String(), p.EntryPrice.String(), p.CostBasis.String(), p.EntryTime.UnixMilli(),
		); err != nil {
			return fmt.Errorf("write position %s: %w", p.Symbol, err)
		}
	}
	for _, f := range fills {
		if f.TradeID == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO fills (trade_id, client_order_id, exchange_order_id, symbol, side, quantity, price, quote, fee, fee_asset, ts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(trade_id) DO NOTHING`,
			f.TradeID, f.ClientOrderID, f.ExchangeOrderID, f.Symbol, string(f.Side), f.Qty.String(), f.Price.String(),
			f.Quote.String(), f.Fee.String(), f.FeeAsset, f.Ts.UnixMilli(),
		); err != nil {
			return fmt.Errorf("write fill %s: %w", f.TradeID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// LoadLedger reads the persisted ledger state. found is false when nothing has been committed yet.
func (s *Store) LoadLedger(ctx context.Context) (st ledger.State, found bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT cash, realized_pnl FROM account WHERE id = 1`).
		Scan(&st.Account.Cash, &st.Account.RealizedPnL)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.State{}, false, nil
	}
	if err != nil {
		return ledger.State{}, false, fmt.Errorf("read account: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT symbol, quantity, entry_price, cost_basis, entry_time FROM positions ORDER BY symbol`)
	if err != nil {
		return ledger.State{}, false, fmt.Errorf("read positions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			p     ledger.Position
			entry int64
		)
		if err := rows.Scan(&p.Symbol, &p.Quantity, &p.EntryPrice, &p.CostBasis, &entry); err != nil {
			return ledger.State{}, false, fmt.Errorf("scan position: %w", err)
		}
		p.EntryTime = time.UnixMilli(entry)
		st.Positions = append(st.Positions, p)
	}
	if err := rows.Err(); err != nil {
		return ledger.State{}, false, err
	}
	return st, true, nil
}
