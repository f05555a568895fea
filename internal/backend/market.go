// Package backend implements the oracle's actual market data service: the
// per-domain asset registry, the concrete feed set each asset aggregates
// over, and the signing scheme that attests the result. This is the
// literal HTTP service a route table entry's backend URL points at, once
// internal/proxy has cleared the payment gate in front of it.
package backend

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"oraclegate/internal/aggregate"
	"oraclegate/internal/assertion"
	"oraclegate/internal/decimal"
	"oraclegate/internal/fetch"
	"oraclegate/internal/signer"
)

// Method distinguishes how an Asset combines its feed set into a value;
// it is distinct from assertion.Method since hybrid/cross assets need to
// recursively resolve their dependency assets first.
type Method string

const (
	MethodDirect      Method = "direct"      // aggregate.DirectMedian over usd
	MethodStablecoin  Method = "stablecoin"  // aggregate.StablecoinGated over usd+stable tiers
	MethodVWAP        Method = "vwap"        // aggregate.VWAP over pooled trade streams
	MethodCross       Method = "cross"       // aggregate.Cross(numerator, denominator)
	MethodHybridAsset Method = "hybrid"      // aggregate.Hybrid(direct, derived)
)

// Asset wires one signed domain to its feed set and dependency assets.
// Exactly one of (usd/stable registries), (vwap fetchers), (numerator/
// denominator names), (direct+derived names) is populated, matching
// Method.
type Asset struct {
	Config aggregate.Config
	Method Method

	USD    *fetch.Registry // MethodDirect, MethodStablecoin
	Stable *fetch.Registry // MethodStablecoin only; nil disables the gate

	StableToUSD func(ctx context.Context) (decimal.Decimal, error) // MethodStablecoin only

	VWAPFetchers []*fetch.TradeStreamFetcher // MethodVWAP only

	Numerator   string // MethodCross, MethodHybridAsset: resolved via Market
	Denominator string // MethodCross, MethodHybridAsset

	Direct  string // MethodHybridAsset: name of a MethodDirect/MethodStablecoin asset
	Derived string // MethodHybridAsset: name of a MethodCross asset

	Signer signer.Signer
}

// Market is the process-wide catalog of assets this backend serves.
type Market struct {
	assets  map[string]Asset
	signers map[signer.Scheme]signer.Signer
}

// NewMarket builds an empty catalog; callers register assets with Register.
func NewMarket() *Market {
	return &Market{
		assets:  make(map[string]Asset),
		signers: make(map[signer.Scheme]signer.Signer),
	}
}

// RegisterSigner makes a scheme available for rail-appropriate signing
// overrides: the payment gate asks for the scheme its rail's consumers
// verify under (secp256k1 ECDSA on the lightning rail, Ed25519 on the
// stablecoin rail), and ResolveWithScheme honors that over the asset's
// default signer.
func (m *Market) RegisterSigner(s signer.Signer) {
	m.signers[s.Scheme()] = s
}

// Register adds or replaces an asset by name (e.g. "BTCUSD").
func (m *Market) Register(name string, a Asset) {
	m.assets[name] = a
}

// Names lists the registered asset names, for the admin/listing surface.
func (m *Market) Names() []string {
	names := make([]string, 0, len(m.assets))
	for n := range m.assets {
		names = append(names, n)
	}
	return names
}

// Resolve runs the aggregation pipeline for a named asset, recursively
// resolving any cross/hybrid dependencies, then signs the resulting
// Assertion under the asset's configured scheme.
func (m *Market) Resolve(ctx context.Context, name string) (signer.Signed, error) {
	return m.ResolveWithScheme(ctx, name, "")
}

// ResolveWithScheme is Resolve with a rail-appropriate scheme override:
// when scheme names a signer registered via RegisterSigner, the
// attestation is signed under it instead of the asset's default. An
// empty or unregistered scheme falls back to the default.
func (m *Market) ResolveWithScheme(ctx context.Context, name string, scheme signer.Scheme) (signer.Signed, error) {
	a, ok := m.assets[name]
	if !ok {
		return signer.Signed{}, fmt.Errorf("backend: unknown asset %q", name)
	}

	assertionResult, err := m.resolveAssertion(ctx, name, a)
	if err != nil {
		return signer.Signed{}, err
	}

	sign := a.Signer
	if override, ok := m.signers[scheme]; ok {
		sign = override
	}
	signed, err := sign.Sign(assertionResult)
	if err != nil {
		return signer.Signed{}, fmt.Errorf("backend: sign %s: %w", name, err)
	}
	return signed, nil
}

// ResolveAssertion runs the aggregation pipeline for a named asset and
// returns the bare, unsigned Assertion — used by the scheduler to read
// the settled value it will digit-decompose, without paying for a
// second signature it will discard.
func (m *Market) ResolveAssertion(ctx context.Context, name string) (assertion.Assertion, error) {
	a, ok := m.assets[name]
	if !ok {
		return assertion.Assertion{}, fmt.Errorf("backend: unknown asset %q", name)
	}
	return m.resolveAssertion(ctx, name, a)
}

func (m *Market) resolveAssertion(ctx context.Context, name string, a Asset) (assertion.Assertion, error) {
	switch a.Method {
	case MethodDirect:
		ctx, cancel := context.WithTimeout(ctx, a.Config.FetchWindow)
		defer cancel()
		return aggregate.DirectMedian(a.Config, a.USD.FetchAll(ctx))

	case MethodStablecoin:
		ctx, cancel := context.WithTimeout(ctx, a.Config.FetchWindow)
		defer cancel()
		usdResults := a.USD.FetchAll(ctx)
		var stableResults []fetch.Result
		if a.Stable != nil {
			stableResults = a.Stable.FetchAll(ctx)
		}
		rate := decimal.FromInt(1)
		if a.StableToUSD != nil {
			r, err := a.StableToUSD(ctx)
			if err != nil {
				return assertion.Assertion{}, fmt.Errorf("backend: %s stable-to-usd rate: %w", name, err)
			}
			rate = r
		}
		return aggregate.StablecoinGated(a.Config, usdResults, stableResults, rate)

	case MethodVWAP:
		ctx, cancel := context.WithTimeout(ctx, a.Config.FetchWindow)
		defer cancel()
		results := pooledTrades(ctx, a.VWAPFetchers)
		return aggregate.VWAP(a.Config, results)

	case MethodCross:
		num, err := m.resolveDependency(ctx, a.Numerator)
		if err != nil {
			return assertion.Assertion{}, err
		}
		den, err := m.resolveDependency(ctx, a.Denominator)
		if err != nil {
			return assertion.Assertion{}, err
		}
		return aggregate.Cross(a.Config, num, den)

	case MethodHybridAsset:
		directSamples, err := m.resolveDirectSamples(ctx, a.Direct)
		if err != nil {
			return assertion.Assertion{}, err
		}
		derived, err := m.resolveDependency(ctx, a.Derived)
		if err != nil {
			return assertion.Assertion{}, err
		}
		return aggregate.Hybrid(a.Config, directSamples, derived)

	default:
		return assertion.Assertion{}, fmt.Errorf("backend: asset %q has unrecognized method %q", name, a.Method)
	}
}

// resolveDependency resolves a cross/hybrid component asset to its bare
// Assertion (pre-signature), re-running its own aggregation.
func (m *Market) resolveDependency(ctx context.Context, name string) (assertion.Assertion, error) {
	dep, ok := m.assets[name]
	if !ok {
		return assertion.Assertion{}, fmt.Errorf("backend: unresolved dependency asset %q", name)
	}
	return m.resolveAssertion(ctx, name, dep)
}

// resolveDirectSamples fetches the raw samples backing a MethodHybridAsset's
// direct tier, without reducing them to an Assertion first — the hybrid's
// own quorum (direct samples + one derived sample) is enforced by
// aggregate.Hybrid, not by the dependency asset's own aggregation.
func (m *Market) resolveDirectSamples(ctx context.Context, name string) ([]assertion.Sample, error) {
	dep, ok := m.assets[name]
	if !ok {
		return nil, fmt.Errorf("backend: unresolved dependency asset %q", name)
	}

	switch dep.Method {
	case MethodDirect:
		ctx, cancel := context.WithTimeout(ctx, dep.Config.FetchWindow)
		defer cancel()
		return aggregate.DirectSamples(dep.USD.FetchAll(ctx)), nil

	case MethodStablecoin:
		ctx, cancel := context.WithTimeout(ctx, dep.Config.FetchWindow)
		defer cancel()
		samples := aggregate.DirectSamples(dep.USD.FetchAll(ctx))
		if dep.Stable == nil {
			return samples, nil
		}
		rate := decimal.FromInt(1)
		if dep.StableToUSD != nil {
			r, err := dep.StableToUSD(ctx)
			if err != nil {
				return nil, fmt.Errorf("backend: %s stable-to-usd rate: %w", name, err)
			}
			rate = r
		}
		stableSamples := aggregate.DirectSamples(dep.Stable.FetchAll(ctx))
		samples = append(samples, aggregate.RebaseSamples(stableSamples, rate)...)
		return samples, nil

	default:
		return nil, fmt.Errorf("backend: hybrid direct tier %q must be a direct or stablecoin asset, got %q", name, dep.Method)
	}
}

// pooledTrades runs every trade-stream fetcher concurrently and pools all
// trade samples (not just the representative last trade) into the Result
// set VWAP expects.
func pooledTrades(ctx context.Context, fetchers []*fetch.TradeStreamFetcher) []fetch.Result {
	type outcome struct {
		samples []assertion.Sample
		err     error
		source  string
	}
	ch := make(chan outcome, len(fetchers))
	for _, f := range fetchers {
		go func(f *fetch.TradeStreamFetcher) {
			samples, err := f.FetchTrades(ctx)
			ch <- outcome{samples: samples, err: err, source: f.SourceID()}
		}(f)
	}

	var results []fetch.Result
	for range fetchers {
		o := <-ch
		if o.err != nil {
			results = append(results, fetch.Result{Err: o.err})
			continue
		}
		for _, s := range o.samples {
			results = append(results, fetch.Result{Sample: s})
		}
	}
	return results
}

// DefaultHTTPClient is the shared client concrete fetcher constructors use;
// a short timeout keeps a single slow venue from blocking an entire
// aggregation round past FetchWindow.
func DefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 5 * time.Second}
}
