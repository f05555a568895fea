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

// CryptoSpotFetcher retrieves a last-trade price from a venue's public
// ticker endpoint. Quote is the currency the venue natively quotes in
// (e.g. "USD" or "USDT"); the aggregation engine, not the fetcher,
// normalizes across quote currencies.
type CryptoSpotFetcher struct {
	sourceID string
	client   *http.Client
	url      string
	quote    string
	// extract pulls the last-trade price out of the venue's decoded JSON body.
	extract func(body []byte) (decimal.Decimal, error)
}

// NewCryptoSpotFetcher builds a fetcher for a venue whose ticker endpoint
// returns JSON; extract knows that venue's specific field layout.
func NewCryptoSpotFetcher(sourceID, url, quote string, client *http.Client, extract func([]byte) (decimal.Decimal, error)) *CryptoSpotFetcher {
	return &CryptoSpotFetcher{sourceID: sourceID, client: client, url: url, quote: quote, extract: extract}
}

func (f *CryptoSpotFetcher) SourceID() string { return f.sourceID }

func (f *CryptoSpotFetcher) Fetch(ctx context.Context) (assertion.Sample, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return assertion.Sample{}, &FetchError{SourceID: f.sourceID, Kind: KindTransport, Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return assertion.Sample{}, &FetchError{SourceID: f.sourceID, Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return assertion.Sample{}, &FetchError{SourceID: f.sourceID, Kind: KindHTTPStatus, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return assertion.Sample{}, &FetchError{SourceID: f.sourceID, Kind: KindTransport, Err: err}
	}

	value, err := f.extract(body)
	if err != nil {
		return assertion.Sample{}, &FetchError{SourceID: f.sourceID, Kind: KindParse, Err: err}
	}

	return assertion.Sample{
		SourceID:   f.sourceID,
		Value:      value,
		CapturedAt: time.Now().UTC(),
	}, nil
}

// ExtractLastPriceField is a generic extractor for venues that return
// {"last": "69001.00", ...} or {"lastPrice": "69001.00", ...}-shaped
// tickers; field names the JSON key to read.
func ExtractLastPriceField(field string) func([]byte) (decimal.Decimal, error) {
	return func(body []byte) (decimal.Decimal, error) {
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(body, &raw); err != nil {
			return decimal.Decimal{}, fmt.Errorf("decode ticker body: %w", err)
		}
		fieldVal, ok := raw[field]
		if !ok {
			return decimal.Decimal{}, fmt.Errorf("missing field %q", field)
		}
		var s string
		if err := json.Unmarshal(fieldVal, &s); err != nil {
			// Some venues emit the price as a bare JSON number rather than a string.
			var f float64
			if err2 := json.Unmarshal(fieldVal, &f); err2 != nil {
				return decimal.Decimal{}, fmt.Errorf("field %q is neither string nor number: %w", field, err)
			}
			return decimal.FromFloat(f), nil
		}
		d, err := decimal.FromString(s)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("field %q: %w", field, err)
		}
		return d, nil
	}
}
