package proxy

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/golang-jwt/jwt/v5"

	"oraclegate/internal/config"
	"oraclegate/internal/db"
)

// AdminClaims is the payload of the operator session token minted by
// `oraclectl admin token`: a local HS256 JWT under a single shared
// secret, never handed to a paying client. There is no external IdP;
// this is a single-operator deployment.
type AdminClaims struct {
	Subject string `json:"subject"`
	jwt.RegisteredClaims
}

// MintAdminToken issues an HS256 admin session token for "operator",
// valid for ttl.
func MintAdminToken(secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := AdminClaims{
		Subject: "operator",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// AdminHandler exposes the free, JWT-gated operator surface: enforcement
// tier inspection and manual unblock, the depeg breaker's current state,
// and upcoming derivatives events.
type AdminHandler struct {
	db     db.Database
	depeg  *DepegBreaker
	secret string
}

// NewAdminHandler builds an AdminHandler.
func NewAdminHandler(database db.Database, depeg *DepegBreaker, cfg config.AdminConfig) *AdminHandler {
	return &AdminHandler{db: database, depeg: depeg, secret: cfg.JWTSecret}
}

// Register mounts the admin routes on app. Must be registered before the
// Proxy's catch-all route.
func (h *AdminHandler) Register(app *fiber.App) {
	admin := app.Group("/admin", h.requireAdmin)
	admin.Get("/enforcement", h.GetEnforcement)
	admin.Get("/depeg", h.GetDepeg)
	admin.Post("/enforcement/:payer/unblock", h.Unblock)
}

func (h *AdminHandler) requireAdmin(c fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing admin bearer token"})
	}
	raw := strings.TrimPrefix(authHeader, prefix)

	claims := &AdminClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		// Reject any non-HMAC signing method before handing back the
		// secret, so an attacker-chosen alg can never downgrade the
		// check (e.g. alg=none or an asymmetric method verified
		// against the shared secret as a public key).
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(h.secret), nil
	})
	if err != nil || !token.Valid || claims.Subject != "operator" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid admin token"})
	}
	return c.Next()
}

// GetEnforcement reports every payer currently tripped to blocked.
func (h *AdminHandler) GetEnforcement(c fiber.Ctx) error {
	states, err := h.db.ListBlockedPayers(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"blocked": states})
}

// GetDepeg reports the stablecoin rail's current circuit breaker state.
func (h *AdminHandler) GetDepeg(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"ok": h.depeg.OK()})
}

// Unblock manually clears a payer's blocked enforcement tier.
func (h *AdminHandler) Unblock(c fiber.Ctx) error {
	payer := c.Params("payer")
	if err := h.db.UnblockPayer(c.Context(), payer); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"unblocked": payer})
}
