package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"quantumtrader/internal/fault"
	"quantumtrader/internal/signal"
)

type fearGreedPoint struct {
	Value               string `json:"value"`
	ValueClassification string `json:"value_classification"`
	Timestamp           string `json:"timestamp"`
}

type fearGreedResponse struct {
	Data     []fearGreedPoint `json:"data"`
	Metadata struct {
		Error *string `json:"error"`
	} `json:"metadata"`
}

// SentimentClient reads the alternative.me Fear & Greed index and caches the last reading.
type SentimentClient struct {
	http *http.Client
	url  string
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	cached  signal.Indicators
	fetched time.Time
}

// NewSentimentClient builds a client for baseURL; ttl <= 0 disables caching.
func NewSentimentClient(baseURL string, ttl, timeout time.Duration) *SentimentClient {
	return &SentimentClient{
		http: &http.Client{Timeout: timeout},
		url:  strings.TrimSuffix(baseURL, "/") + "/fng/?limit=1&format=json",
		ttl:  ttl,
		now:  time.Now,
	}
}

// Sentiment returns the current index. A failed refresh is reported as Unavailable; the caller
// then leaves the macro sub-score empty.
func (s *SentimentClient) Sentiment(ctx context.Context) (signal.Indicators, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ttl > 0 && !s.fetched.IsZero() && s.now().Sub(s.fetched) < s.ttl {
		return s.cached, nil
	}

	ind, err := s.fetch(ctx)
	if err != nil {
		return signal.Indicators{}, fault.New(fault.Unavailable, "fear greed", err)
	}
	s.cached = ind
	s.fetched = s.now()
	return ind, nil
}

func (s *SentimentClient) fetch(ctx context.Context) (signal.Indicators, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return signal.Indicators{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.http.Do(req)
	if err != nil {
		return signal.Indicators{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return signal.Indicators{}, fmt.Errorf("status %d", resp.StatusCode)
	}

	var raw fearGreedResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return signal.Indicators{}, fmt.Errorf("decode: %w", err)
	}
	if raw.Metadata.Error != nil {
		return signal.Indicators{}, fmt.Errorf("api error: %s", *raw.Metadata.Error)
	}
	if len(raw.Data) == 0 {
		return signal.Indicators{}, fmt.Errorf("no data returned")
	}
	dp := raw.Data[0]
	value, err := strconv.Atoi(dp.Value)
	if err != nil || value < 0 || value > 100 {
		return signal.Indicators{}, fmt.Errorf("invalid value %q", dp.Value)
	}
	ind := signal.Indicators{FearGreed: value, Classification: dp.ValueClassification}
	if ts, err := strconv.ParseInt(dp.Timestamp, 10, 64); err == nil {
		ind.UpdatedAt = time.Unix(ts, 0)
	}
	return ind, nil
}
