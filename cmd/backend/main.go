// Command backend runs the oracle's market-data service: the literal
// HTTP service every route table entry's backend URL points at, reached
// only once internal/proxy has cleared the payment gate in front of it.
// It serves the per-asset rate routes (internal/backend.Handler), the
// per-event derivatives attestation route (internal/backend.EventsHandler),
// and — when scheduled pairs are configured — drives the hourly
// announce/attest/recover lifecycle (internal/scheduler) that backs
// those attestations.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"

	"oraclegate/internal/backend"
	"oraclegate/internal/config"
	"oraclegate/internal/db"
	"oraclegate/internal/keystore"
	"oraclegate/internal/scheduler"
	"oraclegate/internal/signer"
)

// scheduledPairs names the catalog assets that run the derivatives
// variant's hourly announce/attest/recover lifecycle. BTCUSD's price
// range fits the default 5-digit decomposition (10000-99999).
var scheduledPairs = []string{"BTCUSD"}

func main() {
	cfg := config.Load()
	setupLogging(cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
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

	primarySigner, err := buildPrimarySigner(ks, cfg.Oracle.SigningScheme)
	if err != nil {
		slog.Error("failed to build attestation signer", "error", err)
		os.Exit(1)
	}

	market := backend.BuildDefaultMarket(backend.DefaultCatalogConfig(), primarySigner)

	// Both rail schemes stay available regardless of which one is the
	// catalog default: the gate names the rail's scheme per request and
	// the market signs under it.
	ecdsaPriv, err := ks.ECDSAPrivateKey()
	if err != nil {
		slog.Error("failed to load ecdsa key", "error", err)
		os.Exit(1)
	}
	market.RegisterSigner(signer.NewECDSASigner(ecdsaPriv))
	market.RegisterSigner(signer.NewEd25519Signer(ks.Ed25519PrivateKey()))

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

	schnorrPriv, err := ks.SchnorrPrivateKey()
	if err != nil {
		slog.Error("failed to load schnorr key", "error", err)
		os.Exit(1)
	}
	// The db-backed nonce store is what lets a restart between announce
	// and attest recover in-flight events instead of missing them: the
	// committed scalars survive the process.
	derivativesSigner := signer.NewDerivativesSigner(schnorrPriv, scheduler.NewDBNonceStore(database))

	sched := scheduler.New(database, derivativesSigner, market, cfg.Scheduler, scheduledPairs)
	sched.Start(ctx)
	defer sched.Stop()

	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path} ${latency}\n",
	}))
	app.Get("/health", func(c fiber.Ctx) error { return c.JSON(fiber.Map{"status": "ok"}) })
	backend.NewHandler(market).Register(app)
	backend.NewEventsHandler(database, derivativesSigner.PubkeyHex()).Register(app)

	addr := ":" + backendPort()
	errCh := make(chan error, 1)
	go func() {
		slog.Info("backend listening", "addr", addr, "assets", market.Names(), "scheduled_pairs", scheduledPairs)
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

// buildPrimarySigner resolves the signer every catalog asset attests
// under, per the Oracle.SigningScheme deployment config (defaulting to
// ecdsa when unset, matching config.Load's own default).
func buildPrimarySigner(ks *keystore.Keystore, scheme string) (signer.Signer, error) {
	switch scheme {
	case "", "ecdsa":
		priv, err := ks.ECDSAPrivateKey()
		if err != nil {
			return nil, err
		}
		return signer.NewECDSASigner(priv), nil
	case "ed25519":
		return signer.NewEd25519Signer(ks.Ed25519PrivateKey()), nil
	default:
		return nil, fmt.Errorf("backend: unrecognized signing scheme %q", scheme)
	}
}

// backendPort is separate from the proxy's PORT so both binaries can run
// on one host; it is the port the route table's backend URLs point at
// (see routes.example.yaml).
func backendPort() string {
	if p := os.Getenv("BACKEND_PORT"); p != "" {
		return p
	}
	return "9001"
}

// setupLogging configures the global slog logger: JSON in production so
// log aggregators can parse it, text in development for readability.
func setupLogging(cfg *config.Config) {
	var handler slog.Handler
	if cfg.IsProduction() {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	slog.SetDefault(slog.New(handler))
}
