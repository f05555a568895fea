package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeRouteTable(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "routes.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write route table: %v", err)
	}
	return path
}

func TestLoadRouteTable_ParsesBothRails(t *testing.T) {
	path := writeRouteTable(t, `
routes:
  - path: /v1/rates/btcusd
    backend: http://127.0.0.1:9001
    rail: lightning-channel
    price_native: "50"
  - path: /v1/rates/btceur
    backend: http://127.0.0.1:9001
    rail: stablecoin-evm
    chain: base
    price_native: "0.002"
free_routes:
  - /health
`)

	rt, err := LoadRouteTable(path)
	if err != nil {
		t.Fatalf("LoadRouteTable: %v", err)
	}
	if len(rt.Routes) != 2 {
		t.Fatalf("len(Routes) = %d, want 2", len(rt.Routes))
	}

	sats, err := rt.Routes[0].AmountSats()
	if err != nil || sats != 50 {
		t.Errorf("AmountSats = %v, %v, want 50 sats", sats, err)
	}
	usdc, err := rt.Routes[1].AmountMicroUSDC()
	if err != nil || usdc != 2000 {
		t.Errorf("AmountMicroUSDC = %v, %v, want 2000 microUSDC", usdc, err)
	}
	if !rt.IsFree("/health") {
		t.Error("expected /health to be free")
	}
}

func TestLoadRouteTable_RejectsUnknownKeys(t *testing.T) {
	path := writeRouteTable(t, `
routes:
  - path: /v1/rates/btcusd
    backend: http://127.0.0.1:9001
    rail: lightning-channel
    price_native: "50"
    surprise_key: true
`)

	if _, err := LoadRouteTable(path); err == nil {
		t.Fatal("expected strict decoding to reject an unknown per-route key")
	}
}

func TestLoadRouteTable_StablecoinRouteNeedsChain(t *testing.T) {
	path := writeRouteTable(t, `
routes:
  - path: /v1/rates/btceur
    backend: http://127.0.0.1:9001
    rail: stablecoin-evm
    price_native: "0.002"
`)

	if _, err := LoadRouteTable(path); err == nil {
		t.Fatal("expected a stablecoin-evm route without a chain to be rejected")
	}
}

func TestLoadRouteTable_RailLessRouteMustBeFree(t *testing.T) {
	path := writeRouteTable(t, `
routes:
  - path: /v1/assets
    backend: http://127.0.0.1:9001
`)

	if _, err := LoadRouteTable(path); err == nil {
		t.Fatal("expected a rail-less route outside free_routes to be rejected")
	}

	freePath := writeRouteTable(t, `
routes:
  - path: /v1/assets
    backend: http://127.0.0.1:9001
free_routes:
  - /v1/assets
`)
	rt, err := LoadRouteTable(freePath)
	if err != nil {
		t.Fatalf("LoadRouteTable: %v", err)
	}
	if !rt.IsFree("/v1/assets") {
		t.Error("expected /v1/assets to be free")
	}
}

func TestLoadRouteTable_FreeRouteMustNotCarryPrice(t *testing.T) {
	path := writeRouteTable(t, `
routes:
  - path: /v1/assets
    backend: http://127.0.0.1:9001
    price_native: "10"
free_routes:
  - /v1/assets
`)

	if _, err := LoadRouteTable(path); err == nil {
		t.Fatal("expected a priced free route to be rejected")
	}
}

func TestResolve_ExactBeatsPrefix(t *testing.T) {
	rt := RouteTable{
		Routes: []Route{
			{Path: "/v1/attest/", Backend: "http://b", Rail: RailLightning, PriceNative: "25"},
			{Path: "/v1/attest/special", Backend: "http://b", Rail: RailLightning, PriceNative: "99"},
		},
	}

	r, ok := rt.Resolve("/v1/attest/special")
	if !ok || r.PriceNative != "99" {
		t.Errorf("Resolve(exact) = %+v, %v, want the exact entry", r, ok)
	}

	r, ok = rt.Resolve("/v1/attest/abcdef0123456789")
	if !ok || r.Path != "/v1/attest/" {
		t.Errorf("Resolve(prefix) = %+v, %v, want the prefix entry", r, ok)
	}

	if _, ok := rt.Resolve("/v1/other"); ok {
		t.Error("expected no match for an unrelated path")
	}
}

func TestResolve_LongestPrefixWins(t *testing.T) {
	rt := RouteTable{
		Routes: []Route{
			{Path: "/v1/", Backend: "http://b", Rail: RailLightning, PriceNative: "1"},
			{Path: "/v1/attest/", Backend: "http://b", Rail: RailLightning, PriceNative: "25"},
		},
	}

	r, ok := rt.Resolve("/v1/attest/abc")
	if !ok || r.Path != "/v1/attest/" {
		t.Errorf("Resolve = %+v, %v, want the longest matching prefix", r, ok)
	}
}
