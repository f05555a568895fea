package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"oraclegate/internal/money"
)

// Rail names the payment mechanism a route is gated by.
type Rail string

const (
	RailLightning  Rail = "lightning-channel"
	RailStablecoin Rail = "stablecoin-evm"
	RailFree       Rail = "" // free routes carry no rail
)

// Route is one entry in the static route table.
type Route struct {
	Path        string `yaml:"path"`
	Backend     string `yaml:"backend"`
	Rail        Rail   `yaml:"rail,omitempty"`
	Chain       string `yaml:"chain,omitempty"`        // stablecoin-evm only: base, base-sepolia, solana, solana-devnet
	PriceNative string `yaml:"price_native,omitempty"` // integer sats for lightning, decimal USDC for stablecoin
}

// AmountSats parses PriceNative as an integer satoshi amount for the
// lightning-channel rail.
func (r Route) AmountSats() (money.Sats, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(r.PriceNative), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: route %s price_native %q is not an integer sat amount: %w", r.Path, r.PriceNative, err)
	}
	return money.Sats(v), nil
}

// AmountMicroUSDC parses PriceNative as a decimal USDC amount for the
// stablecoin-evm rail.
func (r Route) AmountMicroUSDC() (money.MicroUSDC, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(r.PriceNative), 64)
	if err != nil {
		return 0, fmt.Errorf("config: route %s price_native %q is not a decimal USDC amount: %w", r.Path, r.PriceNative, err)
	}
	return money.FromFloat(f), nil
}

// RouteTable is the process-wide static route configuration: a mix of
// exact-path free routes and priced routes resolved exact-then-prefix.
type RouteTable struct {
	Routes     []Route  `yaml:"routes"`
	FreeRoutes []string `yaml:"free_routes"`
}

// IsFree reports whether path is an exact match in the free route list.
func (rt RouteTable) IsFree(path string) bool {
	for _, p := range rt.FreeRoutes {
		if p == path {
			return true
		}
	}
	return false
}

// Resolve finds the priced route backing path: an exact path match wins
// first, otherwise the longest route whose path is a prefix of path (so
// templated routes like "/v1/attest/" can back "/v1/attest/<event_id>").
// Reports ok=false on no match.
func (rt RouteTable) Resolve(path string) (Route, bool) {
	var best Route
	found := false
	bestLen := -1
	for _, r := range rt.Routes {
		if r.Path == path {
			return r, true
		}
		if strings.HasSuffix(r.Path, "/") && strings.HasPrefix(path, r.Path) {
			if len(r.Path) > bestLen {
				best = r
				bestLen = len(r.Path)
				found = true
			}
		}
	}
	return best, found
}

// LoadRouteTable reads the YAML route table from path. Unknown top-level
// or per-route keys are rejected (strict decoding).
func LoadRouteTable(path string) (RouteTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RouteTable{}, fmt.Errorf("config: read route table %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var rt RouteTable
	if err := dec.Decode(&rt); err != nil {
		return RouteTable{}, fmt.Errorf("config: parse route table %s: %w", path, err)
	}

	for i, r := range rt.Routes {
		if r.Path == "" || r.Backend == "" {
			return RouteTable{}, fmt.Errorf("config: route table entry %d missing path or backend", i)
		}
		switch r.Rail {
		case RailLightning:
		case RailStablecoin:
			if r.Chain == "" {
				return RouteTable{}, fmt.Errorf("config: stablecoin-evm route %s missing chain", r.Path)
			}
		case RailFree:
			// A rail-less entry is only meaningful for a free route: it
			// supplies the backend the transparent short-circuit forwards to.
			if !rt.IsFree(r.Path) {
				return RouteTable{}, fmt.Errorf("config: route %s has no rail and is not in free_routes", r.Path)
			}
			if r.PriceNative != "" {
				return RouteTable{}, fmt.Errorf("config: free route %s must not carry a price", r.Path)
			}
		default:
			return RouteTable{}, fmt.Errorf("config: route %s has unrecognized rail %q", r.Path, r.Rail)
		}
	}

	return rt, nil
}
