// Package assertion defines the signed statement produced by the
// aggregation engine and its deterministic wire-format serialization.
package assertion

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"oraclegate/internal/decimal"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// lowerer performs locale-invariant lowercasing of source ids so the
// canonical string is identical regardless of the process's locale.
var lowerer = cases.Lower(language.Und)

// Method names the statistic used to derive an Assertion's value.
type Method string

const (
	MethodMedian Method = "median"
	MethodVWAP   Method = "vwap"
	MethodCross  Method = "cross"
	MethodHybrid Method = "hybrid"
)

// Sample is a single feed fetcher's observation of an asset.
type Sample struct {
	SourceID   string
	Value      decimal.Decimal
	Volume     *decimal.Decimal // nil unless the venue reports traded quantity
	CapturedAt time.Time
}

// Assertion is the signed numeric statement the oracle publishes.
//
// Invariant: the canonical serialization is byte-deterministic from these
// fields alone — sources are lowercased and sorted before joining, and
// value is formatted with exactly Decimals fractional digits.
type Assertion struct {
	Domain    string
	Value     decimal.Decimal
	Currency  string
	Decimals  int
	Timestamp time.Time // UTC, second resolution
	Nonce     string
	Sources   []string // ordered set, lowercased+sorted at Canonical() time
	Method    Method
}

// sortedSources returns a lowercased, sorted, deduplicated copy of a.Sources.
func sortedSources(sources []string) []string {
	out := make([]string, len(sources))
	for i, s := range sources {
		out[i] = lowerer.String(s)
	}
	sort.Strings(out)
	deduped := out[:0]
	for _, s := range out {
		if len(deduped) == 0 || deduped[len(deduped)-1] != s {
			deduped = append(deduped, s)
		}
	}
	return deduped
}

// Canonical renders the bit-exact wire-format string:
//
//	v1|<domain>|<value>|<currency>|<decimals>|<timestamp>|<nonce>|<sources>|<method>
//
// timestamp is ISO8601 UTC, second resolution, trailing 'Z'. sources are
// lowercased, sorted, and comma-joined.
func (a Assertion) Canonical() string {
	sources := sortedSources(a.Sources)
	return strings.Join([]string{
		"v1",
		a.Domain,
		a.Value.Format(a.Decimals),
		a.Currency,
		strconv.Itoa(a.Decimals),
		a.Timestamp.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z"),
		a.Nonce,
		strings.Join(sources, ","),
		string(a.Method),
	}, "|")
}

// Parse reconstructs an Assertion's fields from its canonical string. The
// returned Assertion's Value carries only the precision present in the
// string (Decimals fractional digits); it round-trips through Canonical
// exactly, satisfying the canonicalization-bijectivity property.
func Parse(canonical string) (Assertion, error) {
	parts := strings.Split(canonical, "|")
	if len(parts) != 9 {
		return Assertion{}, fmt.Errorf("assertion: expected 9 fields, got %d", len(parts))
	}
	if parts[0] != "v1" {
		return Assertion{}, fmt.Errorf("assertion: unsupported canonical version %q", parts[0])
	}

	decimals, err := strconv.Atoi(parts[4])
	if err != nil {
		return Assertion{}, fmt.Errorf("assertion: bad decimals field: %w", err)
	}

	value, err := decimal.FromString(parts[2])
	if err != nil {
		return Assertion{}, fmt.Errorf("assertion: bad value field: %w", err)
	}

	ts, err := time.Parse("2006-01-02T15:04:05Z", parts[5])
	if err != nil {
		return Assertion{}, fmt.Errorf("assertion: bad timestamp field: %w", err)
	}

	var sources []string
	if parts[7] != "" {
		sources = strings.Split(parts[7], ",")
	}

	return Assertion{
		Domain:    parts[1],
		Value:     value,
		Currency:  parts[3],
		Decimals:  decimals,
		Timestamp: ts,
		Nonce:     parts[6],
		Sources:   sources,
		Method:    Method(parts[8]),
	}, nil
}
