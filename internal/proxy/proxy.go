// Package proxy implements the payment-gating reverse proxy: it resolves
// an inbound request against the static route table, issues a 402
// challenge on the route's rail when no valid payment is presented,
// validates a presented payment, enforces the stablecoin depeg circuit
// breaker and per-payer enforcement tier, and — once admitted — forwards
// the request to the route's backend, the oracle's own market-data
// service (internal/backend).
package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v3"

	"oraclegate/internal/billing"
	"oraclegate/internal/config"
	"oraclegate/internal/db"
	"oraclegate/internal/lnclient"
	"oraclegate/internal/money"
)

// nonceTTL bounds how long a minted stablecoin-rail nonce remains
// redeemable; clients are expected to sign and submit within seconds,
// not minutes.
const nonceTTL = 2 * time.Minute

// Proxy is the payment-gating reverse proxy.
type Proxy struct {
	routes             config.RouteTable
	db                 db.Database
	ln                 *lnclient.Client
	macaroonRootSecret []byte
	x402Config         *config.X402Config
	enforcement        config.EnforcementConfig
	depeg              *DepegBreaker
	httpClient         *http.Client
	meter              *billing.MeterReporter
}

// New builds a Proxy over the given static route table and collaborators.
// meter may be nil; a nil or unconfigured meter simply skips usage
// reporting (operators without Stripe configured still run fine).
func New(routes config.RouteTable, database db.Database, ln *lnclient.Client, macaroonRootSecret []byte, x402Config *config.X402Config, enforcement config.EnforcementConfig, depeg *DepegBreaker, meter *billing.MeterReporter) *Proxy {
	return &Proxy{
		routes:             routes,
		db:                 database,
		ln:                 ln,
		macaroonRootSecret: macaroonRootSecret,
		x402Config:         x402Config,
		enforcement:        enforcement,
		depeg:              depeg,
		httpClient:         &http.Client{Timeout: 10 * time.Second},
		meter:              meter,
	}
}

// reportUsage records a settled paid query against the operator's usage
// meter, when one is configured. Failures are logged, never surfaced to
// the caller — metering is best-effort and must never block a response
// that has already been paid for and delivered.
func (p *Proxy) reportUsage(ctx context.Context, nonce, rail, endpoint string, amount money.MicroUSDC) {
	if p.meter == nil || !p.meter.IsConfigured() {
		return
	}
	if err := p.meter.ReportUsage(ctx, nonce, rail, endpoint, amount); err != nil {
		slog.Warn("proxy: usage meter report failed", "endpoint", endpoint, "rail", rail, "error", err)
	}
}

// Register mounts the gated catch-all route. Free routes (admin,
// pricing disclosure, event listing) must be registered on app before
// calling Register, since fiber matches routes in registration order and
// the catch-all would otherwise shadow them.
func (p *Proxy) Register(app *fiber.App) {
	app.All("/*", p.gate)
}

func (p *Proxy) gate(c fiber.Ctx) error {
	path := c.Path()
	if p.routes.IsFree(path) {
		// Transparent short-circuit: no challenge, no token. A free path
		// with a route-table backend (e.g. the asset listing) is proxied
		// as-is; one without reaching this handler has no local handler
		// registered either, which is a config mistake, not a paid miss.
		route, ok := p.routes.Resolve(path)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "free route has no backend and no local handler"})
		}
		status, body, err := p.forward(c, route, nil)
		if err != nil {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
		}
		c.Status(status)
		return c.Send(body)
	}

	route, ok := p.routes.Resolve(path)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown route"})
	}

	switch route.Rail {
	case config.RailLightning:
		return p.gateLightning(c, route)
	case config.RailStablecoin:
		return p.gateStablecoin(c, route)
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "route has no rail"})
	}
}

// forward reverse-proxies the request to route.Backend, stripping the
// inbound payment credential so it is never leaked to the backend
// process, and returns the raw response body plus status code. headers
// carries gate-supplied metadata for the backend (the rail's signing
// scheme); inbound headers are never copied through.
func (p *Proxy) forward(c fiber.Ctx, route config.Route, headers map[string]string) (int, []byte, error) {
	target, err := url.Parse(route.Backend)
	if err != nil {
		return 0, nil, fmt.Errorf("proxy: bad backend url %q: %w", route.Backend, err)
	}

	req, err := http.NewRequestWithContext(c.Context(), c.Method(), target.String()+c.Path(), bytes.NewReader(c.Body()))
	if err != nil {
		return 0, nil, fmt.Errorf("proxy: build backend request: %w", err)
	}
	if rawQuery := string(c.Request().URI().QueryString()); rawQuery != "" {
		req.URL.RawQuery = rawQuery
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("proxy: backend request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("proxy: read backend response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
