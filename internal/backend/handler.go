package backend

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"

	"oraclegate/internal/aggregate"
	"oraclegate/internal/signer"
)

// Handler exposes a Market's assets as the oracle's backend HTTP API: the
// literal service a route table entry's backend URL points at, reached
// only after internal/proxy has cleared the payment gate in front of it.
// internal/proxy forwards the inbound request's path unchanged, so this
// handler's routes must mirror the public route table's paths exactly
// (e.g. a route table entry for "/v1/rates/btcusd" requires this backend
// to be listening on that same path).
type Handler struct {
	market *Market
}

// NewHandler builds a backend Handler over market.
func NewHandler(market *Market) *Handler {
	return &Handler{market: market}
}

// Register mounts one GET route per registered asset, at
// /v1/rates/{asset}, plus the free asset-listing route. Asset names are
// matched case-insensitively against the market's catalog, so the route
// table's lowercase path segment ("btcusd") resolves to the catalog's
// uppercase domain name ("BTCUSD").
func (h *Handler) Register(app *fiber.App) {
	app.Get("/v1/rates/:asset", h.GetRate)
	app.Get("/v1/assets", h.ListAssets)
}

type rateResponse struct {
	Domain       string `json:"domain"`
	Canonical    string `json:"canonical"`
	SignatureB64 string `json:"signature"`
	PubkeyHex    string `json:"pubkey"`
	Scheme       string `json:"signing_scheme"`
}

// GetRate resolves the named asset's current assertion and returns its
// signed attestation, in the rail-neutral shape internal/proxy forwards
// verbatim (lightning rail) or enriches with a payment block (stablecoin
// rail). The gate names the rail's verification scheme in the
// X-Signing-Scheme header; the market signs under that scheme when it
// has the corresponding key registered.
func (h *Handler) GetRate(c fiber.Ctx) error {
	name := strings.ToUpper(c.Params("asset"))
	scheme := signer.Scheme(c.Get("X-Signing-Scheme"))
	signed, err := h.market.ResolveWithScheme(c.Context(), name, scheme)
	if err != nil {
		if errors.Is(err, aggregate.ErrInsufficientQuorum) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(rateResponse{
		Domain:       signed.Domain,
		Canonical:    signed.Canonical,
		SignatureB64: signed.SignatureB64,
		PubkeyHex:    signed.PubkeyHex,
		Scheme:       string(signed.Scheme),
	})
}

// ListAssets reports the asset names this backend can resolve, for
// operator/CLI discovery.
func (h *Handler) ListAssets(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"assets": h.market.Names()})
}
