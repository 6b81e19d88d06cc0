package exchange

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"

	"quantumtrader/internal/fault"
	"quantumtrader/internal/signal"
)

// KlineSource fetches public candles through the go-binance spot client. Klines need no
// credentials, so the client is built without a key pair.
type KlineSource struct {
	client *binance.Client
}

// NewKlineSource points a public spot client at baseURL.
func NewKlineSource(baseURL string, timeout time.Duration) *KlineSource {
	client := binance.NewClient("", "")
	if baseURL != "" {
		client.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	if timeout > 0 {
		client.HTTPClient = &http.Client{Timeout: timeout}
	}
	return &KlineSource{client: client}
}

// Candles returns up to limit closed-or-open bars for symbol on interval, oldest first.
func (k *KlineSource) Candles(ctx context.Context, symbol, interval string, limit int) ([]signal.Candle, error) {
	svc := k.client.NewKlinesService().Symbol(symbol).Interval(interval)
	if limit > 0 {
		svc = svc.Limit(limit)
	}
	klines, err := svc.Do(ctx)
	if err != nil {
		return nil, fault.New(fault.Unavailable, "klines "+symbol+" "+interval, err)
	}

	out := make([]signal.Candle, 0, len(klines))
	for _, kl := range klines {
		v, err := parseFloats(kl.Open, kl.High, kl.Low, kl.Close, kl.Volume)
		if err != nil {
			return nil, fault.New(fault.Unavailable, "klines "+symbol+" "+interval, err)
		}
		out = append(out, signal.Candle{
			OpenTime: time.UnixMilli(kl.OpenTime),
			Open:     v[0],
			High:     v[1],
			Low:      v[2],
			Close:    v[3],
			Volume:   v[4],
		})
	}
	return out, nil
}

func parseFloats(raw ...string) ([]float64, error) {
	out := make([]float64, len(raw))
	for i, r := range raw {
		v, err := strconv.ParseFloat(r, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
