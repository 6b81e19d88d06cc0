package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"quantumtrader/internal/fault"
	"quantumtrader/internal/metrics"
)

// Venue places market orders. Implementations must treat Order.ClientOrderID as the idempotency key.
type Venue interface {
	SubmitMarketOrder(ctx context.Context, order Order) (Result, error)
}

// OrderStore persists order records so in-flight submissions survive a crash.
type OrderStore interface {
	SaveOrder(ctx context.Context, order Order) error
}

// Executor records an order as PENDING, submits it, then records the outcome.
type Executor struct {
	venue  Venue
	orders OrderStore
	log    zerolog.Logger
	newID  func() string
	now    func() time.Time
}

// NewExecutor wires a venue and an order store.
func NewExecutor(venue Venue, orders OrderStore, log zerolog.Logger) *Executor {
	return &Executor{
		venue:  venue,
		orders: orders,
		log:    log,
		newID:  uuid.NewString,
		now:    time.Now,
	}
}

// Submit sends req as a market order and returns the order record plus its fills.
//
// The order is persisted before transmission. When the outcome is ambiguous (transient error)
// the record stays PENDING and the error is returned; the reconciler settles it later by client
// order id. Definitive venue refusals mark the order REJECTED.
func (e *Executor) Submit(ctx context.Context, req Request) (Order, []Fill, error) {
	if err := validate(req); err != nil {
		return Order{}, nil, err
	}
	now := e.now()
	order := Order{
		ClientOrderID: e.newID(),
		Symbol:        req.Symbol,
		Side:          req.Side,
		Quantity:      req.Quantity,
		Notional:      req.Notional,
		Status:        Pending,
		Reason:        req.Reason,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.orders.SaveOrder(ctx, order); err != nil {
		return order, nil, fmt.Errorf("persist pending order: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return order, nil, err
	}

	log := e.log.With().Str("sym", order.Symbol).Str("side", string(order.Side)).Str("coid", order.ClientOrderID).Logger()
	log.Info().Str("qty", order.Quantity.String()).Str("notional", order.Notional.String()).Str("reason", req.Reason).Msg("submit order")

	res, err := e.venue.SubmitMarketOrder(ctx, order)
	if err != nil {
		if fault.IsTransient(err) || fault.KindOf(err) == fault.Unknown {
			metrics.OrdersTotal.WithLabelValues(order.Symbol, string(order.Side), string(Pending)).Inc()
			log.Warn().Err(err).Msg("order outcome unknown, left pending for reconciliation")
			return order, nil, err
		}
		order.Status = Rejected
		order.UpdatedAt = e.now()
		if saveErr := e.orders.SaveOrder(context.WithoutCancel(ctx), order); saveErr != nil {
			log.Error().Err(saveErr).Msg("persist rejected order")
		}
		metrics.OrdersTotal.WithLabelValues(order.Symbol, string(order.Side), string(Rejected)).Inc()
		return order, nil, err
	}

	order.ExchangeOrderID = res.ExchangeOrderID
	order.Status = res.Status
	if order.Status == "" || order.Status == Pending {
		order.Status = Filled
	}
	if order.Status == Filled && !res.ExecutedQty.IsPositive() {
		order.Status = Rejected
	}
	order.UpdatedAt = e.now()
	if err := e.orders.SaveOrder(context.WithoutCancel(ctx), order); err != nil {
		log.Error().Err(err).Msg("persist order outcome")
	}
	metrics.OrdersTotal.WithLabelValues(order.Symbol, string(order.Side), string(order.Status)).Inc()

	if order.Status != Filled {
		return order, nil, fault.Errorf(fault.Insufficient, "submit order", "order %s ended %s without a fill", order.ClientOrderID, order.Status)
	}
	fills := make([]Fill, len(res.Fills))
	for i, f := range res.Fills {
		f.ClientOrderID = order.ClientOrderID
		f.ExchangeOrderID = order.ExchangeOrderID
		f.Symbol = order.Symbol
		f.Side = order.Side
		fills[i] = f
	}
	log.Info().Str("exchange_id", order.ExchangeOrderID).Str("executed", res.ExecutedQty.String()).Int("fills", len(fills)).Msg("order filled")
	return order, fills, nil
}

func validate(req Request) error {
	switch req.Side {
	case Buy:
		if !req.Notional.IsPositive() {
			return fmt.Errorf("buy %s: notional must be positive", req.Symbol)
		}
	case Sell:
		if !req.Quantity.IsPositive() {
			return fmt.Errorf("sell %s: quantity must be positive", req.Symbol)
		}
	default:
		return fmt.Errorf("unknown order side %q", req.Side)
	}
	if req.Symbol == "" {
		return fmt.Errorf("order symbol required")
	}
	return nil
}
