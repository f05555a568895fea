package fetch

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"oraclegate/internal/assertion"
	"oraclegate/internal/decimal"
)

// OfficialRateFetcher retrieves a central-bank or reference-rate style
// quote, used for the EURUSD-style indirect cross legs. Official-rate
// sources are rate-type: their own reported timestamp is checked against
// an acceptable staleness window, since they publish on their own
// schedule rather than on every request.
type OfficialRateFetcher struct {
	sourceID  string
	client    *http.Client
	url       string
	maxStale  time.Duration
	decodeXML bool
	extract   func(body []byte) (value decimal.Decimal, publishedAt time.Time, err error)
}

// NewOfficialRateFetcherJSON builds an official-rate fetcher whose
// endpoint returns a JSON body.
func NewOfficialRateFetcherJSON(sourceID, url string, maxStale time.Duration, client *http.Client, extract func([]byte) (decimal.Decimal, time.Time, error)) *OfficialRateFetcher {
	return &OfficialRateFetcher{sourceID: sourceID, client: client, url: url, maxStale: maxStale, extract: extract}
}

// NewOfficialRateFetcherXML builds an official-rate fetcher whose
// endpoint returns an XML body (e.g. an ECB-style daily reference rate
// feed), documenting that the pack's two official-rate encodings are
// both exercised.
func NewOfficialRateFetcherXML(sourceID, url string, maxStale time.Duration, client *http.Client, extract func([]byte) (decimal.Decimal, time.Time, error)) *OfficialRateFetcher {
	return &OfficialRateFetcher{sourceID: sourceID, client: client, url: url, maxStale: maxStale, decodeXML: true, extract: extract}
}

func (f *OfficialRateFetcher) SourceID() string { return f.sourceID }

func (f *OfficialRateFetcher) Fetch(ctx context.Context) (assertion.Sample, error) {
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

	value, publishedAt, err := f.extract(body)
	if err != nil {
		return assertion.Sample{}, &FetchError{SourceID: f.sourceID, Kind: KindParse, Err: err}
	}

	if time.Since(publishedAt) > f.maxStale {
		return assertion.Sample{}, &FetchError{SourceID: f.sourceID, Kind: KindStale, Err: fmt.Errorf("published_at %s older than max staleness %s", publishedAt, f.maxStale)}
	}

	return assertion.Sample{
		SourceID:   f.sourceID,
		Value:      value,
		CapturedAt: publishedAt,
	}, nil
}

// officialRateJSONBody is the common shape for a JSON-encoding official
// rate source: {"rate": "1.10000", "as_of": "2026-07-31T09:00:00Z"}.
type officialRateJSONBody struct {
	Rate string    `json:"rate"`
	AsOf time.Time `json:"as_of"`
}

// ExtractOfficialRateJSON decodes the common JSON official-rate shape.
func ExtractOfficialRateJSON(body []byte) (decimal.Decimal, time.Time, error) {
	var b officialRateJSONBody
	if err := json.Unmarshal(body, &b); err != nil {
		return decimal.Decimal{}, time.Time{}, fmt.Errorf("decode official rate json: %w", err)
	}
	d, err := decimal.FromString(b.Rate)
	if err != nil {
		return decimal.Decimal{}, time.Time{}, err
	}
	return d, b.AsOf, nil
}

// officialRateXMLBody is the common shape for an XML-encoding official
// rate source, modeled on ECB-style daily reference rate feeds:
// <Rate currency="EUR" time="2026-07-31">1.10000</Rate>.
type officialRateXMLBody struct {
	XMLName xml.Name `xml:"Rate"`
	Time    string   `xml:"time,attr"`
	Value   string   `xml:",chardata"`
}

// ExtractOfficialRateXML decodes the common XML official-rate shape.
func ExtractOfficialRateXML(body []byte) (decimal.Decimal, time.Time, error) {
	var b officialRateXMLBody
	if err := xml.Unmarshal(body, &b); err != nil {
		return decimal.Decimal{}, time.Time{}, fmt.Errorf("decode official rate xml: %w", err)
	}
	d, err := decimal.FromString(b.Value)
	if err != nil {
		return decimal.Decimal{}, time.Time{}, err
	}
	publishedAt, err := time.Parse("2006-01-02", b.Time)
	if err != nil {
		return decimal.Decimal{}, time.Time{}, fmt.Errorf("bad time attribute %q: %w", b.Time, err)
	}
	return d, publishedAt, nil
}
