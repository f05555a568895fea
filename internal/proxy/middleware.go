package proxy

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"

	"oraclegate/internal/config"
)

// SetupMiddleware mounts the gateway's cross-cutting middleware in
// order: panic recovery, request logging, CORS (exposing the payment
// headers both rails use), and per-IP rate limiting. Must run before
// any route registration.
func SetupMiddleware(app *fiber.App, cfg *config.Config) {
	app.Use(recover.New())

	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path} ${latency}\n",
	}))

	app.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-PAYMENT", "X-PAYMENT-RESPONSE"},
		ExposeHeaders: []string{"WWW-Authenticate", "Payment-Required", "X-PAYMENT-RESPONSE"},
		MaxAge:        300,
	}))

	app.Use(rateLimiter(&cfg.RateLimit))
}

// rateLimiter is a per-IP limiter over the configured window. Health
// probes are exempt so orchestrators polling readiness never trip it.
func rateLimiter(cfg *config.RateLimitConfig) fiber.Handler {
	if !cfg.Enabled {
		return func(c fiber.Ctx) error {
			return c.Next()
		}
	}

	return limiter.New(limiter.Config{
		Max:        cfg.MaxRequests,
		Expiration: time.Duration(cfg.WindowSeconds) * time.Second,
		KeyGenerator: func(c fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "rate limit exceeded",
				"retry_after": cfg.WindowSeconds,
			})
		},
		Next: func(c fiber.Ctx) bool {
			return isHealthEndpoint(c.Path())
		},
	})
}

func isHealthEndpoint(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/health/")
}
