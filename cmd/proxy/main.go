// Command proxy runs the oracle's payment-gating gateway: it terminates
// the lightning-channel and stablecoin-evm payment rails in front of
// the market-data backend, enforces the depeg circuit breaker and payer
// enforcement tiers, and settles stablecoin payments asynchronously.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"

	"oraclegate/internal/billing"
	"oraclegate/internal/config"
	"oraclegate/internal/db"
	"oraclegate/internal/decimal"
	"oraclegate/internal/fetch"
	"oraclegate/internal/keystore"
	"oraclegate/internal/lnclient"
	"oraclegate/internal/proxy"
	"oraclegate/internal/settlement"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.LoadRoutes(); err != nil {
		slog.Error("failed to load route table", "path", cfg.Oracle.RouteTablePath, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ks, err := keystore.Open(ctx, cfg.Keystore.Dir, cfg.KMS)
	if err != nil {
		slog.Error("failed to open keystore", "error", err)
		os.Exit(1)
	}
	defer ks.Close()

	database, err := db.New(&db.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Name:     cfg.Database.Name,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	lnCredential, err := cfg.Lightning.Credential()
	if err != nil {
		slog.Error("failed to resolve lightning node credential", "error", err)
		os.Exit(1)
	}
	ln := lnclient.New(lnclient.Config{
		BaseURL:    cfg.Lightning.NodeURL,
		Credential: lnCredential,
	})

	depeg := proxy.NewDepegBreaker(cfg.Depeg, stablecoinDivergenceSampler())
	depeg.Start(ctx)
	defer depeg.Stop()

	meter := billing.NewMeterReporter(&cfg.Stripe)

	p := proxy.New(cfg.Routes, database, ln, ks.MacaroonRootSecret(), &cfg.X402, cfg.Enforcement, depeg, meter)
	admin := proxy.NewAdminHandler(database, depeg, cfg.Admin)

	worker := settlement.NewWorker(database, &cfg.X402, cfg.Enforcement, settlement.DefaultWorkerConfig())
	worker.Start(ctx)
	defer worker.Stop()

	app := fiber.New()
	proxy.SetupMiddleware(app, cfg)
	proxy.RegisterHealth(app, cfg, database)
	proxy.RegisterIdentity(app, ks)
	proxy.RegisterEvents(app, database)
	admin.Register(app)
	p.Register(app)

	if meter.IsConfigured() {
		slog.Info("stripe usage metering enabled", "meter_event", cfg.Stripe.MeterEventName)
	}

	addr := ":" + cfg.Server.Port
	errCh := make(chan error, 1)
	go func() {
		slog.Info("gateway listening", "addr", addr)
		errCh <- app.Listen(addr)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			slog.Error("listener exited", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
}

// stablecoinDivergenceSampler samples Kraken's USDT/USD ticker as the
// stablecoin rail's USD-parity reference, the same source catalog.go
// normalizes the stablecoin tier's BTC quote against.
func stablecoinDivergenceSampler() func(ctx context.Context) (float64, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	fetcher := fetch.NewCryptoSpotFetcher(
		"kraken-usdtusd",
		"https://api.kraken.com/0/public/Ticker?pair=USDTUSD",
		"USD",
		client,
		fetch.ExtractLastPriceField("last"),
	)

	return func(ctx context.Context) (float64, error) {
		sample, err := fetcher.Fetch(ctx)
		if err != nil {
			return 0, err
		}
		divergence := sample.Value.Sub(decimal.FromInt(1)).Abs()
		return divergence.Float64(), nil
	}
}
