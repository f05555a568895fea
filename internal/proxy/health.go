package proxy

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"

	"oraclegate/internal/config"
	"oraclegate/internal/db"
)

var facilitatorCache struct {
	mu     sync.Mutex
	status string
	expiry time.Time
}

const facilitatorCacheTTL = 30 * time.Second

// HealthResponse is the oracle's liveness/readiness summary.
type HealthResponse struct {
	Status    string            `json:"status"`
	Services  map[string]string `json:"services"`
	Timestamp int64             `json:"timestamp"`
}

// RegisterHealth mounts the free /health, /health/live, and /health/ready
// routes. Callers must register these before Proxy.Register, since the
// catch-all route matches in registration order.
func RegisterHealth(app *fiber.App, cfg *config.Config, database db.Database) {
	app.Get("/health", func(c fiber.Ctx) error { return health(c, cfg, database) })
	app.Get("/health/live", func(c fiber.Ctx) error { return c.JSON(fiber.Map{"status": "alive"}) })
	app.Get("/health/ready", func(c fiber.Ctx) error { return readiness(c, cfg, database) })
}

func health(c fiber.Ctx, cfg *config.Config, database db.Database) error {
	services := map[string]string{
		"database":             checkDatabase(c.Context(), database),
		"x402_facilitator":     checkFacilitator(cfg.X402.FacilitatorURL),
		"lightning_configured": boolStatus(cfg.Lightning.NodeURL != ""),
	}

	status := "healthy"
	for _, v := range services {
		if v == "down" {
			status = "degraded"
			break
		}
	}

	return c.JSON(HealthResponse{
		Status:    status,
		Services:  services,
		Timestamp: time.Now().Unix(),
	})
}

func readiness(c fiber.Ctx, cfg *config.Config, database db.Database) error {
	if checkDatabase(c.Context(), database) == "down" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "not_ready",
			"reason": "database unreachable",
		})
	}
	if cfg.IsProduction() && !cfg.X402.HasPayments() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "not_ready",
			"reason": "no stablecoin-rail wallet configured in production",
		})
	}
	return c.JSON(fiber.Map{"status": "ready"})
}

func checkDatabase(ctx context.Context, database db.Database) string {
	if database == nil {
		return "not_configured"
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := database.Ping(ctx); err != nil {
		return "down"
	}
	return "up"
}

func checkFacilitator(url string) string {
	if url == "" {
		return "not_configured"
	}

	facilitatorCache.mu.Lock()
	defer facilitatorCache.mu.Unlock()
	if time.Now().Before(facilitatorCache.expiry) {
		return facilitatorCache.status
	}

	status := "up"
	req, err := http.NewRequest(http.MethodHead, url, nil)
	if err != nil {
		status = "error"
	} else {
		client := &http.Client{Timeout: 3 * time.Second}
		resp, err := client.Do(req)
		if err != nil {
			status = "unreachable"
		} else {
			_ = resp.Body.Close()
			if resp.StatusCode >= http.StatusInternalServerError {
				status = "error"
			}
		}
	}

	facilitatorCache.status = status
	facilitatorCache.expiry = time.Now().Add(facilitatorCacheTTL)
	return status
}

func boolStatus(ok bool) string {
	if ok {
		return "up"
	}
	return "not_configured"
}
