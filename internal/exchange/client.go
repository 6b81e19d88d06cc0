// Package exchange hosts the Binance spot connector: signed REST calls, the live trade stream,
// candles and sentiment for the market data port.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"quantumtrader/internal/config"
	"quantumtrader/internal/execution"
	"quantumtrader/internal/fault"
	"quantumtrader/internal/metrics"
)

const (
	pathOrder   = "/api/v3/order"
	pathAccount = "/api/v3/account"
	pathTrades  = "/api/v3/myTrades"
	pathTicker  = "/api/v3/ticker/price"
)

// Binance error codes that change how a 4xx is classified.
const (
	codeInsufficientBalance = -2010
	codeFilterFailure       = -1013
	codeBadSignature        = -1022
	codeNoSuchOrder         = -2013
	codeBadAPIKeyFormat     = -2014
	codeRejectedMbxKey      = -2015
)

// Balance is the free and locked amount of one asset.
type Balance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// Total is free plus locked.
func (b Balance) Total() decimal.Decimal { return b.Free.Add(b.Locked) }

// Client is a signed Binance spot REST client.
type Client struct {
	baseURL    string
	apiKey     string
	signer     *Signer
	http       *http.Client
	limiter    *rate.Limiter
	breaker    *Breaker
	recvWindow time.Duration
	timeout    time.Duration
	maxRetries int
	minBackoff time.Duration
	maxBackoff time.Duration
	log        zerolog.Logger
	now        func() time.Time
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithBaseURL points the client at another REST root.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimSuffix(u, "/")
		}
	}
}

// NewClient builds a client from exchange settings and credentials. The secret is copied into the
// signer; callers may wipe their copy afterwards.
func NewClient(cfg config.Exchange, creds config.Credentials, log zerolog.Logger, opts ...ClientOption) *Client {
	rps := cfg.RequestsPerSecond
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	c := &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     creds.APIKey,
		signer:     NewSigner(creds.Secret),
		http:       &http.Client{},
		limiter:    rate.NewLimiter(limit, burst),
		breaker:    NewBreaker(cfg.BreakerFailures, time.Duration(cfg.BreakerCooldownMs)*time.Millisecond, log),
		recvWindow: cfg.RecvWindow(),
		timeout:    cfg.Timeout(),
		maxRetries: cfg.MaxRetries,
		minBackoff: time.Duration(cfg.RetryMinBackoffMs) * time.Millisecond,
		maxBackoff: time.Duration(cfg.RetryMaxBackoffMs) * time.Millisecond,
		log:        log.With().Str("component", "exchange").Logger(),
		now:        time.Now,
	}
	if c.minBackoff <= 0 {
		c.minBackoff = 200 * time.Millisecond
	}
	if c.maxBackoff < c.minBackoff {
		c.maxBackoff = 5 * time.Second
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close wipes the signing secret. The client must not be used afterwards.
func (c *Client) Close() { c.signer.Wipe() }

type orderFill struct {
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
	TradeID         int64  `json:"tradeId"`
}

type orderResponse struct {
	Symbol              string      `json:"symbol"`
	OrderID             int64       `json:"orderId"`
	ClientOrderID       string      `json:"clientOrderId"`
	TransactTime        int64       `json:"transactTime"`
	Status              string      `json:"status"`
	ExecutedQty         string      `json:"executedQty"`
	CummulativeQuoteQty string      `json:"cummulativeQuoteQty"`
	Fills               []orderFill `json:"fills"`
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// SubmitMarketOrder places a MARKET order keyed by order.ClientOrderID. BUY orders spend
// order.Notional quote; SELL orders sell order.Quantity base.
func (c *Client) SubmitMarketOrder(ctx context.Context, order execution.Order) (execution.Result, error) {
	params := Params{}.
		Add("symbol", order.Symbol).
		Add("side", string(order.Side)).
		Add("type", "MARKET")
	switch order.Side {
	case execution.Buy:
		params = params.Add("quoteOrderQty", order.Notional.String())
	default:
		params = params.Add("quantity", order.Quantity.String())
	}
	params = params.
		Add("newClientOrderId", order.ClientOrderID).
		Add("newOrderRespType", "FULL")

	// Placement is attempted once. Binance only rejects a reused client order id while that order
	// is open, so a re-send after an unanswered attempt can fill twice. The reconciler resolves it.
	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, pathOrder, "submit order", params, true, 0, &resp); err != nil {
		return execution.Result{}, err
	}
	return resp.result(order.Symbol), nil
}

// QueryOrder fetches an order by client order id. A missing order yields fault.ErrOrderNotFound.
func (c *Client) QueryOrder(ctx context.Context, symbol, clientOrderID string) (execution.Result, error) {
	params := Params{}.Add("symbol", symbol).Add("origClientOrderId", clientOrderID)
	var resp orderResponse
	if err := c.signed(ctx, http.MethodGet, pathOrder, "query order", params, &resp); err != nil {
		return execution.Result{}, err
	}
	return resp.result(symbol), nil
}

// Price returns the last traded price from the public ticker.
func (c *Client) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var resp struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := c.do(ctx, http.MethodGet, pathTicker, "ticker price", Params{}.Add("symbol", symbol), false, c.maxRetries, &resp); err != nil {
		return decimal.Zero, err
	}
	px, err := decimal.NewFromString(resp.Price)
	if err != nil || !px.IsPositive() {
		return decimal.Zero, fmt.Errorf("ticker %s: bad price %q: %w", symbol, resp.Price, fault.ErrPriceUnavailable)
	}
	return px, nil
}

// Balances returns every asset balance keyed by asset.
func (c *Client) Balances(ctx context.Context) (map[string]Balance, error) {
	var resp struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := c.signed(ctx, http.MethodGet, pathAccount, "account", Params{}.Add("omitZeroBalances", "true"), &resp); err != nil {
		return nil, err
	}
	out := make(map[string]Balance, len(resp.Balances))
	for _, b := range resp.Balances {
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return nil, fmt.Errorf("balance %s free %q: %w", b.Asset, b.Free, err)
		}
		locked, err := decimal.NewFromString(b.Locked)
		if err != nil {
			return nil, fmt.Errorf("balance %s locked %q: %w", b.Asset, b.Locked, err)
		}
		out[b.Asset] = Balance{Asset: b.Asset, Free: free, Locked: locked}
	}
	return out, nil
}

// Trades returns account trades for symbol at or after since, oldest first. Trade ids are
// prefixed with the symbol since Binance numbers them per symbol.
func (c *Client) Trades(ctx context.Context, symbol string, since time.Time) ([]execution.Fill, error) {
	params := Params{}.Add("symbol", symbol)
	if !since.IsZero() {
		params = params.Add("startTime", strconv.FormatInt(since.UnixMilli(), 10))
	}
	params = params.Add("limit", "1000")

	var resp []struct {
		ID              int64  `json:"id"`
		OrderID         int64  `json:"orderId"`
		Price           string `json:"price"`
		Qty             string `json:"qty"`
		QuoteQty        string `json:"quoteQty"`
		Commission      string `json:"commission"`
		CommissionAsset string `json:"commissionAsset"`
		Time            int64  `json:"time"`
		IsBuyer         bool   `json:"isBuyer"`
	}
	if err := c.signed(ctx, http.MethodGet, pathTrades, "trades", params, &resp); err != nil {
		return nil, err
	}
	fills := make([]execution.Fill, 0, len(resp))
	for _, t := range resp {
		side := execution.Sell
		if t.IsBuyer {
			side = execution.Buy
		}
		fills = append(fills, execution.Fill{
			TradeID:         TradeKey(symbol, t.ID),
			ExchangeOrderID: strconv.FormatInt(t.OrderID, 10),
			Symbol:          symbol,
			Side:            side,
			Qty:             parseDecimal(t.Qty),
			Price:           parseDecimal(t.Price),
			Quote:           parseDecimal(t.QuoteQty),
			Fee:             parseDecimal(t.Commission),
			FeeAsset:        t.CommissionAsset,
			Ts:              time.UnixMilli(t.Time),
		})
	}
	return fills, nil
}

// TradeKey is the store key for a venue trade.
func TradeKey(symbol string, id int64) string {
	return symbol + ":" + strconv.FormatInt(id, 10)
}

func (r orderResponse) result(symbol string) execution.Result {
	res := execution.Result{
		ClientOrderID:   r.ClientOrderID,
		ExchangeOrderID: strconv.FormatInt(r.OrderID, 10),
		Status:          mapStatus(r.Status),
		ExecutedQty:     parseDecimal(r.ExecutedQty),
		QuoteQty:        parseDecimal(r.CummulativeQuoteQty),
	}
	ts := time.UnixMilli(r.TransactTime)
	for _, f := range r.Fills {
		res.Fills = append(res.Fills, execution.Fill{
			TradeID:  TradeKey(symbol, f.TradeID),
			Qty:      parseDecimal(f.Qty),
			Price:    parseDecimal(f.Price),
			Fee:      parseDecimal(f.Commission),
			FeeAsset: f.CommissionAsset,
			Ts:       ts,
		})
	}
	return res
}

func mapStatus(s string) execution.OrderStatus {
	switch s {
	case "FILLED", "PARTIALLY_FILLED":
		return execution.Filled
	case "NEW", "PENDING_NEW":
		return execution.Pending
	case "EXPIRED", "EXPIRED_IN_MATCH", "CANCELED", "REJECTED":
		return execution.Rejected
	default:
		return execution.Pending
	}
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (c *Client) signed(ctx context.Context, method, path, op string, params Params, out any) error {
	return c.do(ctx, method, path, op, params, true, c.maxRetries, out)
}

// do runs one logical request with rate limiting, the breaker and up to retries re-sends of
// transient failures. Signed requests get a fresh timestamp and signature on every attempt.
func (c *Client) do(ctx context.Context, method, path, op string, params Params, signed bool, retries int, out any) error {
	b := &backoff.Backoff{Min: c.minBackoff, Max: c.maxBackoff, Factor: 2, Jitter: true}
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		allowed := c.breaker.Allow()
		metrics.ExchangeBreakerState.Set(float64(c.breaker.State()))
		if !allowed {
			return fmt.Errorf("%s: %w", op, fault.ErrCircuitOpen)
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		err := c.attempt(ctx, method, path, op, params, signed, out)
		if err == nil || !fault.IsTransient(err) {
			// A definitive answer means the venue is reachable.
			c.breaker.Success()
			metrics.ExchangeBreakerState.Set(float64(c.breaker.State()))
			return err
		}
		c.breaker.Failure()
		metrics.ExchangeBreakerState.Set(float64(c.breaker.State()))
		lastErr = err
		if attempt == retries {
			break
		}
		wait := b.Duration()
		metrics.ExchangeRetriesTotal.WithLabelValues(op).Inc()
		c.log.Warn().Err(err).Str("op", op).Int("attempt", attempt+1).Dur("backoff", wait).Msg("retrying exchange request")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func (c *Client) attempt(ctx context.Context, method, path, op string, params Params, signed bool, out any) error {
	query := params
	if signed {
		query = append(Params{}, params...).
			Add("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10)).
			Add("recvWindow", strconv.FormatInt(c.recvWindow.Milliseconds(), 10))
	}
	encoded := query.Encode()
	if signed {
		encoded += "&signature=" + c.signer.Sign(encoded)
	}

	actx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	url := c.baseURL + path
	var body io.Reader
	if method == http.MethodPost {
		body = strings.NewReader(encoded)
	} else if encoded != "" {
		url += "?" + encoded
	}
	req, err := http.NewRequestWithContext(actx, method, url, body)
	if err != nil {
		return fault.New(fault.Rejected, op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fault.New(fault.Transient, op, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fault.New(fault.Transient, op, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fault.New(fault.Transient, op, fmt.Errorf("decode response: %w", err))
		}
		return nil
	}
	return classifyStatus(op, resp.StatusCode, data)
}

func classifyStatus(op string, status int, body []byte) error {
	var ae apiError
	_ = json.Unmarshal(body, &ae)
	fe := &fault.Error{Op: op, Status: status, Code: ae.Code, Msg: ae.Msg}
	if fe.Msg == "" {
		fe.Msg = http.StatusText(status)
	}

	switch {
	case status >= 500 || status == http.StatusTooManyRequests || status == 418:
		fe.Kind = fault.Transient
	case ae.Code == codeNoSuchOrder:
		fe.Kind = fault.Rejected
		fe.Err = fault.ErrOrderNotFound
	case ae.Code == codeInsufficientBalance || ae.Code == codeFilterFailure:
		fe.Kind = fault.Insufficient
	case status == http.StatusUnauthorized || status == http.StatusForbidden ||
		ae.Code == codeBadSignature || ae.Code == codeBadAPIKeyFormat || ae.Code == codeRejectedMbxKey:
		fe.Kind = fault.Auth
	default:
		fe.Kind = fault.Rejected
	}
	return fe
}
