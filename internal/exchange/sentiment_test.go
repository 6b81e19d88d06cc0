package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"quantumtrader/internal/fault"
)

func TestSentimentCachesWithinTTL(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Path != "/fng/" || r.URL.Query().Get("limit") != "1" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		fmt.Fprint(w, `{"name":"Fear and Greed Index","data":[{"value":"72","value_classification":"Greed","timestamp":"1700000000"}],"metadata":{"error":null}}`)
	}))
	defer srv.Close()

	now := time.Unix(1700000000, 0)
	client := NewSentimentClient(srv.URL, time.Minute, time.Second)
	client.now = func() time.Time { return now }

	ind, err := client.Sentiment(context.Background())
	if err != nil {
		t.Fatalf("Sentiment returned error: %v", err)
	}
	if ind.FearGreed != 72 || ind.Classification != "Greed" || ind.UpdatedAt.Unix() != 1700000000 {
		t.Fatalf("unexpected indicators %+v", ind)
	}
	if _, err := client.Sentiment(context.Background()); err != nil {
		t.Fatalf("cached read failed: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected one upstream call inside ttl, got %d", n)
	}

	now = now.Add(2 * time.Minute)
	if _, err := client.Sentiment(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("expected refresh after ttl, got %d calls", n)
	}
}

func TestSentimentFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[],"metadata":{"error":null}}`)
	}))
	defer srv.Close()

	_, err := NewSentimentClient(srv.URL, 0, time.Second).Sentiment(context.Background())
	if !fault.IsUnavailable(err) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
