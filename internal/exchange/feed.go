package exchange

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Quote is the last streamed trade price for a symbol.
type Quote struct {
	Price decimal.Decimal
	At    time.Time
}

// PriceBook keeps the most recent streamed price per symbol.
type PriceBook struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewPriceBook returns an empty book.
func NewPriceBook() *PriceBook {
	return &PriceBook{quotes: make(map[string]Quote)}
}

// Update records px for symbol unless a newer quote is already present.
func (b *PriceBook) Update(symbol string, px decimal.Decimal, at time.Time) {
	if !px.IsPositive() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.quotes[symbol]; ok && cur.At.After(at) {
		return
	}
	b.quotes[symbol] = Quote{Price: px, At: at}
}

// Get returns the last quote for symbol.
func (b *PriceBook) Get(symbol string) (Quote, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.quotes[symbol]
	return q, ok
}

// Fresh returns the price for symbol if it was seen within maxAge of now.
func (b *PriceBook) Fresh(symbol string, maxAge time.Duration, now time.Time) (decimal.Decimal, bool) {
	q, ok := b.Get(symbol)
	if !ok || now.Sub(q.At) > maxAge {
		return decimal.Zero, false
	}
	return q.Price, true
}

// Feed streams live trades for a fixed symbol set into a PriceBook.
type Feed struct {
	streamURL  string
	symbols    []string
	book       *PriceBook
	log        zerolog.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
	readWait   time.Duration
	pingEvery  time.Duration
}

// FeedOption configures Feed construction parameters.
type FeedOption func(*Feed)

const defaultStreamURL = "wss://stream.binance.com:9443/stream"

// WithStreamURL overrides the combined stream endpoint.
func WithStreamURL(u string) FeedOption {
	return func(f *Feed) {
		if u != "" {
			f.streamURL = strings.TrimSuffix(u, "/")
		}
	}
}

// WithReconnectBackoff bounds the delay between reconnect attempts.
func WithReconnectBackoff(min, max time.Duration) FeedOption {
	return func(f *Feed) {
		if min > 0 && max >= min {
			f.minBackoff, f.maxBackoff = min, max
		}
	}
}

// NewFeed constructs a feed for symbols (deduplicated, sorted for determinism).
func NewFeed(symbols []string, book *PriceBook, log zerolog.Logger, opts ...FeedOption) *Feed {
	f := &Feed{
		streamURL:  defaultStreamURL,
		book:       book,
		log:        log.With().Str("component", "feed").Logger(),
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
		readWait:   30 * time.Second,
		pingEvery:  15 * time.Second,
	}
	unique := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		if _, seen := unique[sym]; seen {
			continue
		}
		unique[sym] = struct{}{}
		f.symbols = append(f.symbols, sym)
	}
	sort.Strings(f.symbols)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Book returns the price book the feed writes to.
func (f *Feed) Book() *PriceBook { return f.book }

// Run keeps the stream connected until ctx is canceled, reconnecting with jittered backoff.
func (f *Feed) Run(ctx context.Context) error {
	if len(f.symbols) == 0 {
		return fmt.Errorf("feed requires at least one symbol")
	}
	url := f.streamURL + "?streams=" + streamNames(f.symbols)
	b := &backoff.Backoff{Min: f.minBackoff, Max: f.maxBackoff, Factor: 1.8, Jitter: true}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		connected, err := f.consume(ctx, url)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			b.Reset()
		}
		wait := b.Duration()
		f.log.Warn().Err(err).Dur("backoff", wait).Msg("trade stream disconnected, retrying")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func streamNames(symbols []string) string {
	streams := make([]string, len(symbols))
	for i, sym := range symbols {
		streams[i] = strings.ToLower(sym) + "@trade"
	}
	return strings.Join(streams, "/")
}
