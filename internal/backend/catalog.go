package backend

import (
	"context"
	"time"

	"oraclegate/internal/aggregate"
	"oraclegate/internal/decimal"
	"oraclegate/internal/fetch"
	"oraclegate/internal/signer"
)

// CatalogConfig parameterizes the venue URLs the default catalog hits,
// defaulting to well-known public endpoints so a fresh checkout has a
// working configuration without operator input.
type CatalogConfig struct {
	// BTCUSD venues (USD tier)
	CoinbaseSpotURL string
	KrakenSpotURL   string
	// BTCUSDT venues (stablecoin tier)
	BinanceSpotURL string
	OKXSpotURL     string
	// USDTUSD reference rate, used to normalize the stablecoin tier
	USDTUSDURL string
	// BTCEUR venues (direct tier, genuinely EUR-quoted — not rebased
	// from another currency) backing the BTCEUR hybrid asset's direct leg
	KrakenEURSpotURL   string
	CoinbaseEURSpotURL string

	// EURUSD official-rate legs (one JSON, one XML encoding)
	ECBRateURL      string // XML
	TreasuryRateURL string // JSON

	// BTC trade streams pooled for VWAP
	CoinbaseTradesURL string
	KrakenTradesURL   string

	MinQuorum            int
	FetchWindow          time.Duration
	DivergenceThreshold  decimal.Decimal
	VWAPWindow           time.Duration
	VWAPMinTrades        int
	VWAPMinSources       int
	OfficialRateMaxStale time.Duration
}

// DefaultCatalogConfig returns sane defaults; operators override individual
// URLs via environment-driven config before calling BuildDefaultMarket.
func DefaultCatalogConfig() CatalogConfig {
	return CatalogConfig{
		CoinbaseSpotURL:      "https://api.exchange.coinbase.com/products/BTC-USD/ticker",
		KrakenSpotURL:        "https://api.kraken.com/0/public/Ticker?pair=XBTUSD",
		BinanceSpotURL:       "https://api.binance.com/api/v3/ticker/price?symbol=BTCUSDT",
		OKXSpotURL:           "https://www.okx.com/api/v5/market/ticker?instId=BTC-USDT",
		USDTUSDURL:           "https://api.kraken.com/0/public/Ticker?pair=USDTUSD",
		KrakenEURSpotURL:     "https://api.kraken.com/0/public/Ticker?pair=XBTEUR",
		CoinbaseEURSpotURL:   "https://api.exchange.coinbase.com/products/BTC-EUR/ticker",
		ECBRateURL:           "https://www.ecb.europa.eu/stats/eurofxref/eurofxref-daily.xml",
		TreasuryRateURL:      "https://api.fiscaldata.treasury.gov/v1/exchange-rates/eurusd",
		CoinbaseTradesURL:    "https://api.exchange.coinbase.com/products/BTC-USD/trades",
		KrakenTradesURL:      "https://api.kraken.com/0/public/Trades?pair=XBTUSD",
		MinQuorum:            2,
		FetchWindow:          4 * time.Second,
		DivergenceThreshold:  decimal.MustParse("0.005"),
		VWAPWindow:           10 * time.Minute,
		VWAPMinTrades:        1,
		VWAPMinSources:       2,
		OfficialRateMaxStale: 36 * time.Hour,
	}
}

// BuildDefaultMarket wires the concrete default fetcher catalog:
// four crypto-spot venues split across the USD and USDT
// tiers, two official-rate fetchers (one XML, one JSON encoding) for the
// EURUSD cross leg, and two trade-stream fetchers pooled for BTC VWAP.
// sign resolves the Signer each asset attests under; assets in this
// catalog all use the same primary scheme (ECDSA or Ed25519 per
// deployment config).
func BuildDefaultMarket(cfg CatalogConfig, sign signer.Signer) *Market {
	client := DefaultHTTPClient()
	m := NewMarket()

	usdRegistry := fetch.NewRegistry(200*time.Millisecond,
		fetch.NewCryptoSpotFetcher("coinbase", cfg.CoinbaseSpotURL, "USD", client, fetch.ExtractLastPriceField("price")),
		fetch.NewCryptoSpotFetcher("kraken", cfg.KrakenSpotURL, "USD", client, fetch.ExtractLastPriceField("last")),
	)
	stableRegistry := fetch.NewRegistry(200*time.Millisecond,
		fetch.NewCryptoSpotFetcher("binance", cfg.BinanceSpotURL, "USDT", client, fetch.ExtractLastPriceField("price")),
		fetch.NewCryptoSpotFetcher("okx", cfg.OKXSpotURL, "USDT", client, fetch.ExtractLastPriceField("last")),
	)
	usdtRateFetcher := fetch.NewCryptoSpotFetcher("kraken-usdtusd", cfg.USDTUSDURL, "USD", client, fetch.ExtractLastPriceField("last"))

	btcusdConfig := aggregate.Config{
		Domain:              "BTCUSD",
		Currency:            "USD",
		Decimals:            2,
		MinQuorum:           cfg.MinQuorum,
		FetchWindow:         cfg.FetchWindow,
		DivergenceThreshold: cfg.DivergenceThreshold,
	}
	m.Register("BTCUSD", Asset{
		Config: btcusdConfig,
		Method: MethodStablecoin,
		USD:    usdRegistry,
		Stable: stableRegistry,
		StableToUSD: func(ctx context.Context) (decimal.Decimal, error) {
			sample, err := usdtRateFetcher.Fetch(ctx)
			if err != nil {
				return decimal.Decimal{}, err
			}
			return sample.Value, nil
		},
		Signer: sign,
	})

	officialRateRegistry := fetch.NewRegistry(0,
		fetch.NewOfficialRateFetcherXML("ecb", cfg.ECBRateURL, cfg.OfficialRateMaxStale, client, fetch.ExtractOfficialRateXML),
		fetch.NewOfficialRateFetcherJSON("treasury", cfg.TreasuryRateURL, cfg.OfficialRateMaxStale, client, fetch.ExtractOfficialRateJSON),
	)
	m.Register("EURUSD", Asset{
		Config: aggregate.Config{
			Domain:      "EURUSD",
			Currency:    "USD",
			Decimals:    5,
			MinQuorum:   2,
			FetchWindow: cfg.FetchWindow,
		},
		Method: MethodDirect,
		USD:    officialRateRegistry,
		Signer: sign,
	})

	m.Register("BTCEUR-CROSS", Asset{
		Config: aggregate.Config{
			Domain:      "BTCEUR",
			Currency:    "EUR",
			Decimals:    2,
			FetchWindow: cfg.FetchWindow,
		},
		Method:      MethodCross,
		Numerator:   "BTCUSD",
		Denominator: "EURUSD",
		Signer:      sign,
	})

	eurRegistry := fetch.NewRegistry(200*time.Millisecond,
		fetch.NewCryptoSpotFetcher("kraken", cfg.KrakenEURSpotURL, "EUR", client, fetch.ExtractLastPriceField("last")),
		fetch.NewCryptoSpotFetcher("coinbase", cfg.CoinbaseEURSpotURL, "EUR", client, fetch.ExtractLastPriceField("price")),
	)
	m.Register("BTCEUR-DIRECT", Asset{
		Config: aggregate.Config{
			Domain:      "BTCEUR",
			Currency:    "EUR",
			Decimals:    2,
			MinQuorum:   cfg.MinQuorum,
			FetchWindow: cfg.FetchWindow,
		},
		Method: MethodDirect,
		USD:    eurRegistry,
		Signer: sign,
	})

	m.Register("BTCEUR", Asset{
		Config: aggregate.Config{
			Domain:      "BTCEUR",
			Currency:    "EUR",
			Decimals:    2,
			MinQuorum:   cfg.MinQuorum,
			FetchWindow: cfg.FetchWindow,
		},
		Method:  MethodHybridAsset,
		Direct:  "BTCEUR-DIRECT",
		Derived: "BTCEUR-CROSS",
		Signer:  sign,
	})

	m.Register("BTCUSD-VWAP", Asset{
		Config: aggregate.Config{
			Domain:      "BTCUSD-VWAP",
			Currency:    "USD",
			Decimals:    2,
			MinQuorum:   cfg.VWAPMinTrades,
			MinSources:  cfg.VWAPMinSources,
			FetchWindow: cfg.FetchWindow,
		},
		Method: MethodVWAP,
		VWAPFetchers: []*fetch.TradeStreamFetcher{
			fetch.NewTradeStreamFetcher("coinbase", cfg.CoinbaseTradesURL, cfg.VWAPWindow, client),
			fetch.NewTradeStreamFetcher("kraken", cfg.KrakenTradesURL, cfg.VWAPWindow, client),
		},
		Signer: sign,
	})

	return m
}
