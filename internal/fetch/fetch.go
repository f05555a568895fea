// Package fetch defines the uniform feed-fetcher contract and the
// concrete venue adapters used to build each asset's feed set.
package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"oraclegate/internal/assertion"
)

// ErrorKind is the closed set of recognized fetch failure modes.
type ErrorKind string

const (
	KindTransport  ErrorKind = "transport"   // network / TLS / DNS
	KindHTTPStatus ErrorKind = "http_status" // non-2xx response
	KindParse      ErrorKind = "parse"       // unexpected body shape
	KindStale      ErrorKind = "stale"       // source timestamp outside acceptable window
)

// FetchError reports why a single fetcher failed to produce a Sample.
type FetchError struct {
	SourceID string
	Kind     ErrorKind
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch[%s]: %s: %v", e.SourceID, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher is implemented by every per-venue adapter. Fetchers must not
// retry internally — the aggregation layer owns retry/fallback policy —
// and must respect ctx's deadline rather than blocking past it.
type Fetcher interface {
	SourceID() string
	Fetch(ctx context.Context) (assertion.Sample, error)
}

// Registry groups the fetchers that make up one asset's feed set, with a
// per-source pacing bucket so a slow venue cannot starve the others'
// request budget when many assets share a source.
type Registry struct {
	fetchers []Fetcher
	paceMu   sync.Mutex
	lastCall map[string]time.Time
	minGap   time.Duration
}

// NewRegistry builds a Registry over the given fetchers, pacing repeat
// calls to the same source at minGap. The pacing need is one minimum
// gap per source id, not a general rate limiter, so a mutex and a map
// of last-call times cover it without a dependency.
func NewRegistry(minGap time.Duration, fetchers ...Fetcher) *Registry {
	return &Registry{
		fetchers: fetchers,
		lastCall: make(map[string]time.Time),
		minGap:   minGap,
	}
}

func (r *Registry) pace(ctx context.Context, sourceID string) error {
	r.paceMu.Lock()
	last, ok := r.lastCall[sourceID]
	wait := time.Duration(0)
	if ok {
		elapsed := time.Since(last)
		if elapsed < r.minGap {
			wait = r.minGap - elapsed
		}
	}
	r.lastCall[sourceID] = time.Now().Add(wait)
	r.paceMu.Unlock()

	if wait == 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Result pairs a fetcher's outcome with its source id for callers that
// want to inspect failures alongside successes.
type Result struct {
	Sample assertion.Sample
	Err    error
}

// FetchAll runs every fetcher concurrently, bounded by ctx's deadline,
// and returns one Result per fetcher in registration order. A fetcher
// that neither returns nor respects ctx by the deadline is represented
// as a transport FetchError; its goroutine is abandoned and its late
// result discarded (Go has no preemptive cancellation of a blocked
// fetch, so the aggregation engine must treat the deadline, not fetcher
// cooperation, as authoritative).
func (r *Registry) FetchAll(ctx context.Context) []Result {
	type indexed struct {
		i   int
		res Result
	}
	ch := make(chan indexed, len(r.fetchers))
	for i, f := range r.fetchers {
		go func(i int, f Fetcher) {
			if err := r.pace(ctx, f.SourceID()); err != nil {
				ch <- indexed{i, Result{Err: &FetchError{SourceID: f.SourceID(), Kind: KindTransport, Err: err}}}
				return
			}
			sample, err := f.Fetch(ctx)
			ch <- indexed{i, Result{Sample: sample, Err: err}}
		}(i, f)
	}

	results := make([]Result, len(r.fetchers))
	seen := make([]bool, len(r.fetchers))
	remaining := len(r.fetchers)
	for remaining > 0 {
		select {
		case out := <-ch:
			results[out.i] = out.res
			seen[out.i] = true
			remaining--
		case <-ctx.Done():
			for i := range results {
				if !seen[i] {
					results[i] = Result{Err: &FetchError{SourceID: r.fetchers[i].SourceID(), Kind: KindTransport, Err: ctx.Err()}}
				}
			}
			return results
		}
	}
	return results
}
