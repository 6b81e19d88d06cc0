package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"quantumtrader/internal/fault"
	"quantumtrader/internal/signal"
)

// MarketData is the port the engine reads prices, candles and sentiment through.
type MarketData interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
	Candles(ctx context.Context, symbol, interval string, limit int) ([]signal.Candle, error)
	Sentiment(ctx context.Context) (signal.Indicators, error)
}

// TickerSource returns the venue's last traded price.
type TickerSource interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// CandleSource returns historical bars.
type CandleSource interface {
	Candles(ctx context.Context, symbol, interval string, limit int) ([]signal.Candle, error)
}

// SentimentSource returns market-wide sentiment.
type SentimentSource interface {
	Sentiment(ctx context.Context) (signal.Indicators, error)
}

// Market serves prices from the live stream while it is fresh and from the same venue's REST
// ticker otherwise. There is no other price source.
type Market struct {
	book      *PriceBook
	ticker    TickerSource
	candles   CandleSource
	sentiment SentimentSource
	maxAge    time.Duration
	log       zerolog.Logger
	now       func() time.Time
}

// NewMarket composes the market data port. book may be nil when no stream runs.
func NewMarket(book *PriceBook, ticker TickerSource, candles CandleSource, sentiment SentimentSource, maxAge time.Duration, log zerolog.Logger) *Market {
	return &Market{
		book:      book,
		ticker:    ticker,
		candles:   candles,
		sentiment: sentiment,
		maxAge:    maxAge,
		log:       log.With().Str("component", "market").Logger(),
		now:       time.Now,
	}
}

// Price returns a positive price or an error wrapping fault.ErrPriceUnavailable.
func (m *Market) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if m.book != nil {
		if px, ok := m.book.Fresh(symbol, m.maxAge, m.now()); ok {
			return px, nil
		}
	}
	if m.ticker == nil {
		return decimal.Zero, fmt.Errorf("%s: no ticker: %w", symbol, fault.ErrPriceUnavailable)
	}
	px, err := m.ticker.Price(ctx, symbol)
	if err != nil {
		m.log.Warn().Err(err).Str("sym", symbol).Msg("ticker price unavailable")
		return decimal.Zero, fmt.Errorf("%s: %v: %w", symbol, err, fault.ErrPriceUnavailable)
	}
	if !px.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s: non-positive price %s: %w", symbol, px, fault.ErrPriceUnavailable)
	}
	if m.book != nil {
		m.book.Update(symbol, px, m.now())
	}
	return px, nil
}

// Candles delegates to the candle source.
func (m *Market) Candles(ctx context.Context, symbol, interval string, limit int) ([]signal.Candle, error) {
	return m.candles.Candles(ctx, symbol, interval, limit)
}

// Sentiment delegates to the sentiment source.
func (m *Market) Sentiment(ctx context.Context) (signal.Indicators, error) {
	return m.sentiment.Sentiment(ctx)
}
