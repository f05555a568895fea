package proxy

import (
	"encoding/hex"

	"github.com/gofiber/fiber/v3"

	"oraclegate/internal/config"
	"oraclegate/internal/macaroon"
	"oraclegate/internal/money"
)

// gateLightning implements the lightning-channel rail: mint a BOLT11
// invoice and bearer macaroon on first contact, then accept the macaroon
// plus its payment preimage as standalone proof of payment — no upstream
// call to the Lightning node is needed to validate a retry, since the
// preimage alone proves the invoice was settled.
func (p *Proxy) gateLightning(c fiber.Ctx, route config.Route) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return p.challengeLightning(c, route)
	}

	token, err := macaroon.ParseAuthorizationHeader(authHeader)
	if err != nil {
		return p.challengeLightning(c, route)
	}

	// A token was presented but failed to verify: macaroon MAC invalid or
	// preimage mismatch is surfaced as 401 —
	// distinct from "no token" (402 challenge) and from a malformed header
	// that never parsed into a token at all (also 402, above).
	if err := macaroon.Validate(p.macaroonRootSecret, token); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "token_invalid", "detail": err.Error()})
	}

	// Lightning-rail consumers verify under the secp256k1 ECDSA key.
	status, body, err := p.forward(c, route, map[string]string{"X-Signing-Scheme": "ecdsa"})
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}
	// The lightning rail settles in sats, not USDC; usage metering still
	// records the call for operator reporting, with a zero USDC amount
	// since there is no native USDC-denominated price for it.
	p.reportUsage(c.Context(), token.PaymentHashHex(), "lightning-channel", route.Path, money.MicroUSDC(0))
	c.Status(status)
	return c.Send(body)
}

func (p *Proxy) challengeLightning(c fiber.Ctx, route config.Route) error {
	amountSats, err := route.AmountSats()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	invoice, err := p.ln.CreateInvoice(c.Context(), int64(amountSats), "oracle: "+route.Path)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "failed to mint invoice: " + err.Error()})
	}

	paymentHashBytes, err := hex.DecodeString(invoice.PaymentHash)
	if err != nil || len(paymentHashBytes) != 32 {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lightning node returned malformed payment hash"})
	}
	var paymentHash [32]byte
	copy(paymentHash[:], paymentHashBytes)

	m, err := macaroon.Mint(p.macaroonRootSecret, paymentHash)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to mint macaroon: " + err.Error()})
	}

	// L402 clients read the challenge from the WWW-Authenticate header;
	// the body is the bare status phrase by convention.
	c.Set("WWW-Authenticate", macaroon.Challenge(m, invoice.PaymentRequest))
	return c.Status(fiber.StatusPaymentRequired).SendString("Payment Required")
}
