// Package aggregate implements the per-asset statistic the oracle signs:
// direct median, stablecoin-tier divergence gating, VWAP pooling,
// cross-rate derivation, and the hybrid combination of the two.
package aggregate

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"oraclegate/internal/assertion"
	"oraclegate/internal/decimal"
	"oraclegate/internal/fetch"
)

// ErrInsufficientQuorum is returned when fewer than MinQuorum fetchers
// succeeded; the engine never emits a value in this case.
var ErrInsufficientQuorum = errors.New("aggregate: insufficient quorum")

// Config controls one asset's aggregation behavior.
type Config struct {
	Domain      string
	Currency    string
	Decimals    int
	MinQuorum   int
	FetchWindow time.Duration // deadline handed to the fetcher registry
	// DivergenceThreshold gates the stablecoin tier against the USD tier;
	// zero disables the gate (direct-median-only assets).
	DivergenceThreshold decimal.Decimal
	// MinSources is VWAP's independent floor on the number of distinct
	// sources that contributed pooled trades; zero disables the check
	// (the trade-count floor in MinQuorum still applies). VWAP quorum
	// is a minimum aggregate trade count *and* a minimum
	// participating-source count, not trade count alone.
	MinSources int
}

// nextNonce is swapped out in tests; production uses a random 16-byte hex
// nonce, unique per assertion within the signing key's lifetime.
var nextNonce = func() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// DirectMedian computes a direct-median Assertion from a set of fetch
// results. Samples with errors are dropped before the quorum check.
func DirectMedian(cfg Config, results []fetch.Result) (assertion.Assertion, error) {
	samples := successfulSamples(results)
	if len(samples) < cfg.MinQuorum {
		return assertion.Assertion{}, fmt.Errorf("%w: got %d, need %d", ErrInsufficientQuorum, len(samples), cfg.MinQuorum)
	}

	value := median(valuesOf(samples))
	return newAssertion(cfg, value, sourcesOf(samples), assertion.MethodMedian)
}

// StablecoinGated computes the USD-tier median, optionally incorporating
// a stablecoin tier normalized to USD via rate, dropping the stablecoin
// tier and falling back to USD-only when the two tiers diverge by more
// than cfg.DivergenceThreshold (relative to the USD median).
//
// A sample whose CapturedAt is older than cfg.FetchWindow relative to
// aggregation start counts as a fetch failure: it is excluded before
// either tier's median is computed and never reaches the divergence
// comparison. Samples with no capture timestamp are exempt — only a
// source-supplied timestamp can prove staleness.
func StablecoinGated(cfg Config, usdResults, stableResults []fetch.Result, stableToUSDRate decimal.Decimal) (assertion.Assertion, error) {
	now := time.Now()
	usdSamples := freshSamples(successfulSamples(usdResults), cfg.FetchWindow, now)
	if len(usdSamples) < cfg.MinQuorum {
		return assertion.Assertion{}, fmt.Errorf("%w: usd tier got %d, need %d", ErrInsufficientQuorum, len(usdSamples), cfg.MinQuorum)
	}
	usdMedian := median(valuesOf(usdSamples))

	stableSamples := freshSamples(successfulSamples(stableResults), cfg.FetchWindow, now)
	if len(stableSamples) == 0 {
		return newAssertion(cfg, usdMedian, sourcesOf(usdSamples), assertion.MethodMedian)
	}

	stableMedianUSD := median(valuesOf(stableSamples)).Mul(stableToUSDRate)
	divergence := usdMedian.Sub(stableMedianUSD).Abs().Quo(usdMedian)

	if !cfg.DivergenceThreshold.IsZero() && divergence.Cmp(cfg.DivergenceThreshold) > 0 {
		// Diverged: drop the stablecoin tier and re-evaluate USD-only.
		return newAssertion(cfg, usdMedian, sourcesOf(usdSamples), assertion.MethodMedian)
	}

	rebasedStable := stableSampleValuesUSD(stableSamples, stableToUSDRate)
	allSamples := append(append([]assertion.Sample{}, usdSamples...), rebasedStable...)
	combinedValue := median(valuesOf(allSamples))
	return newAssertion(cfg, combinedValue, sourcesOf(allSamples), assertion.MethodMedian)
}

// stableSampleValuesUSD rewrites stablecoin-tier samples' values into
// USD terms so they can be pooled into the same median as the USD tier.
func stableSampleValuesUSD(samples []assertion.Sample, rate decimal.Decimal) []assertion.Sample {
	out := make([]assertion.Sample, len(samples))
	for i, s := range samples {
		s.Value = s.Value.Mul(rate)
		out[i] = s
	}
	return out
}

// VWAP computes a volume-weighted average price Assertion over pooled
// trade samples (each sample's Volume must be populated). Quorum is two
// independent floors: the pooled trade count
// (cfg.MinQuorum) and the count of distinct sources that contributed at
// least one trade (cfg.MinSources) — a single venue returning many
// trades must not satisfy quorum on its own.
func VWAP(cfg Config, results []fetch.Result) (assertion.Assertion, error) {
	samples := successfulSamples(results)
	if len(samples) < cfg.MinQuorum {
		return assertion.Assertion{}, fmt.Errorf("%w: got %d trades, need %d", ErrInsufficientQuorum, len(samples), cfg.MinQuorum)
	}
	if distinctSources := len(uniqueSources(samples)); cfg.MinSources > 0 && distinctSources < cfg.MinSources {
		return assertion.Assertion{}, fmt.Errorf("%w: got %d sources, need %d", ErrInsufficientQuorum, distinctSources, cfg.MinSources)
	}

	num := decimal.Zero
	den := decimal.Zero
	for _, s := range samples {
		if s.Volume == nil {
			continue
		}
		num = num.Add(s.Value.Mul(*s.Volume))
		den = den.Add(*s.Volume)
	}
	if den.IsZero() {
		return assertion.Assertion{}, fmt.Errorf("aggregate: vwap has zero total volume")
	}

	value := num.Quo(den)
	return newAssertion(cfg, value, sourcesOf(samples), assertion.MethodVWAP)
}

// Cross derives a pair's value by dividing one Assertion by another
// (e.g. BTCUSD / EURUSD = BTCEUR), unioning their source sets.
func Cross(cfg Config, numerator, denominator assertion.Assertion) (assertion.Assertion, error) {
	if denominator.Value.IsZero() {
		return assertion.Assertion{}, fmt.Errorf("aggregate: cross-rate denominator is zero")
	}
	value := numerator.Value.Quo(denominator.Value)
	sources := unionSources(numerator.Sources, denominator.Sources)
	return newAssertion(cfg, value, sources, assertion.MethodCross)
}

// Hybrid pools a direct-quoted tier's individual samples together with
// the derived cross-rate value as one additional synthetic source, then
// applies the direct-median rule (with its own quorum, over the
// resulting N+1-sample set). It does not
// take the median of the two pre-aggregated values: with only two
// inputs, the lower-value-neighbor tie-break (see median, below) would
// always return the smaller of the two, never a genuine blend.
func Hybrid(cfg Config, directSamples []assertion.Sample, derived assertion.Assertion) (assertion.Assertion, error) {
	n := len(directSamples) + 1
	if n < cfg.MinQuorum {
		return assertion.Assertion{}, fmt.Errorf("%w: got %d, need %d", ErrInsufficientQuorum, n, cfg.MinQuorum)
	}

	values := append(valuesOf(directSamples), derived.Value)
	sources := unionSources(sourcesOf(directSamples), derived.Sources)
	value := median(values)
	return newAssertion(cfg, value, sources, assertion.MethodHybrid)
}

// DirectSamples exposes the successful samples behind a fetch round
// without reducing them to an Assertion — used to pool a direct-quoted
// tier's raw samples into a Hybrid asset's combined sample set.
func DirectSamples(results []fetch.Result) []assertion.Sample {
	return successfulSamples(results)
}

// RebaseSamples rewrites each sample's value into another currency via
// rate (e.g. stablecoin-quoted samples into USD terms), so they can be
// pooled alongside samples already denominated in the target currency.
func RebaseSamples(samples []assertion.Sample, rate decimal.Decimal) []assertion.Sample {
	return stableSampleValuesUSD(samples, rate)
}

func newAssertion(cfg Config, value decimal.Decimal, sources []string, method assertion.Method) (assertion.Assertion, error) {
	nonce, err := nextNonce()
	if err != nil {
		return assertion.Assertion{}, fmt.Errorf("aggregate: generate nonce: %w", err)
	}
	return assertion.Assertion{
		Domain:    cfg.Domain,
		Value:     value,
		Currency:  cfg.Currency,
		Decimals:  cfg.Decimals,
		Timestamp: time.Now().UTC().Truncate(time.Second),
		Nonce:     nonce,
		Sources:   sources,
		Method:    method,
	}, nil
}

// freshSamples drops samples whose source-supplied capture timestamp
// has aged past window. A zero CapturedAt passes: unstamped samples
// (synthetic cross-rate inputs, venues that report no timestamp) cannot
// be judged stale.
func freshSamples(samples []assertion.Sample, window time.Duration, now time.Time) []assertion.Sample {
	if window <= 0 {
		return samples
	}
	out := samples[:0]
	for _, s := range samples {
		if !s.CapturedAt.IsZero() && now.Sub(s.CapturedAt) > window {
			continue
		}
		out = append(out, s)
	}
	return out
}

func successfulSamples(results []fetch.Result) []assertion.Sample {
	samples := make([]assertion.Sample, 0, len(results))
	for _, r := range results {
		if r.Err == nil {
			samples = append(samples, r.Sample)
		}
	}
	return samples
}

func valuesOf(samples []assertion.Sample) []decimal.Decimal {
	values := make([]decimal.Decimal, len(samples))
	for i, s := range samples {
		values[i] = s.Value
	}
	return values
}

func sourcesOf(samples []assertion.Sample) []string {
	sources := make([]string, len(samples))
	for i, s := range samples {
		sources[i] = s.SourceID
	}
	return sources
}

// uniqueSources returns the distinct source IDs contributing to samples,
// for VWAP's participating-source-count quorum floor.
func uniqueSources(samples []assertion.Sample) []string {
	seen := make(map[string]bool, len(samples))
	out := make([]string, 0, len(samples))
	for _, s := range samples {
		if !seen[s.SourceID] {
			seen[s.SourceID] = true
			out = append(out, s.SourceID)
		}
	}
	return out
}

func unionSources(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// median computes the direct median of a value set. For an even count,
// the tie-break rule is the lower-value neighbor of the two middle
// elements, specified so two independent implementations agree
// bit-exactly.
func median(values []decimal.Decimal) decimal.Decimal {
	sorted := append([]decimal.Decimal{}, values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Cmp(sorted[j]) < 0 })

	n := len(sorted)
	if n == 0 {
		return decimal.Zero
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	// Even count: lower-value neighbor of the two middle elements.
	return sorted[n/2-1]
}
