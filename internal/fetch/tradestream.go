package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"oraclegate/internal/assertion"
	"oraclegate/internal/decimal"
)

// TradeStreamFetcher retrieves a recent trade-history window from a
// venue, used by the VWAP method rather than a single last-trade value.
// It returns one Sample per trade in the window; the aggregation engine
// pools all returned samples across fetchers before computing VWAP.
type TradeStreamFetcher struct {
	sourceID string
	client   *http.Client
	url      string
	window   time.Duration
}

// NewTradeStreamFetcher builds a fetcher that pulls the trade history
// window from a venue's public trades endpoint (e.g.
// GET /trades?since=<unix>).
func NewTradeStreamFetcher(sourceID, url string, window time.Duration, client *http.Client) *TradeStreamFetcher {
	return &TradeStreamFetcher{sourceID: sourceID, client: client, url: url, window: window}
}

func (f *TradeStreamFetcher) SourceID() string { return f.sourceID }

type tradeStreamEntry struct {
	Price string `json:"price"`
	Size  string `json:"size"`
	Time  int64  `json:"time"` // unix seconds
}

// Fetch returns the most recent trade in the window as the representative
// Sample (SourceID, CapturedAt); FetchTrades below returns the full
// pooled set the VWAP aggregator actually consumes.
func (f *TradeStreamFetcher) Fetch(ctx context.Context) (assertion.Sample, error) {
	trades, err := f.FetchTrades(ctx)
	if err != nil {
		return assertion.Sample{}, err
	}
	if len(trades) == 0 {
		return assertion.Sample{}, &FetchError{SourceID: f.sourceID, Kind: KindParse, Err: fmt.Errorf("no trades in window")}
	}
	return trades[len(trades)-1], nil
}

// FetchTrades returns every trade sample within the configured window,
// each carrying its traded quantity in Volume, which is the VWAP
// aggregator's required input.
func (f *TradeStreamFetcher) FetchTrades(ctx context.Context) ([]assertion.Sample, error) {
	since := time.Now().Add(-f.window).Unix()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s?since=%d", f.url, since), nil)
	if err != nil {
		return nil, &FetchError{SourceID: f.sourceID, Kind: KindTransport, Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{SourceID: f.sourceID, Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{SourceID: f.sourceID, Kind: KindHTTPStatus, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &FetchError{SourceID: f.sourceID, Kind: KindTransport, Err: err}
	}

	var entries []tradeStreamEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, &FetchError{SourceID: f.sourceID, Kind: KindParse, Err: fmt.Errorf("decode trade stream: %w", err)}
	}

	samples := make([]assertion.Sample, 0, len(entries))
	for _, e := range entries {
		price, err := decimal.FromString(e.Price)
		if err != nil {
			continue
		}
		size, err := decimal.FromString(e.Size)
		if err != nil {
			continue
		}
		samples = append(samples, assertion.Sample{
			SourceID:   f.sourceID,
			Value:      price,
			Volume:     &size,
			CapturedAt: time.Unix(e.Time, 0).UTC(),
		})
	}
	return samples, nil
}
