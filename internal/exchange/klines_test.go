package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"quantumtrader/internal/fault"
)

func TestKlineSourceCandles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/klines" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("symbol") != "BTCUSDT" || q.Get("interval") != "1h" || q.Get("limit") != "2" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		fmt.Fprint(w, `[
			[1700000000000,"100","110","95","105","12.5",1700003599999,"1300",40,"6","630","0"],
			[1700003600000,"105","108","101","107","8",1700007199999,"850",22,"4","428","0"]
		]`)
	}))
	defer srv.Close()

	src := NewKlineSource(srv.URL, time.Second)
	candles, err := src.Candles(context.Background(), "BTCUSDT", "1h", 2)
	if err != nil {
		t.Fatalf("Candles returned error: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	first := candles[0]
	if first.Open != 100 || first.High != 110 || first.Low != 95 || first.Close != 105 || first.Volume != 12.5 {
		t.Fatalf("unexpected candle %+v", first)
	}
	if !first.OpenTime.Equal(time.UnixMilli(1700000000000)) {
		t.Fatalf("unexpected open time %s", first.OpenTime)
	}
}

func TestKlineSourceErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-1121,"msg":"Invalid symbol."}`)
	}))
	defer srv.Close()

	_, err := NewKlineSource(srv.URL, time.Second).Candles(context.Background(), "NOPE", "1h", 10)
	if !fault.IsUnavailable(err) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
