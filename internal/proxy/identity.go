package proxy

import (
	"github.com/gofiber/fiber/v3"

	"oraclegate/internal/keystore"
	"oraclegate/internal/signer"
)

// identityResponse publishes the oracle's public signing identity under
// every scheme it supports, so a caller can verify an attestation
// without having first paid for one.
type identityResponse struct {
	ECDSAPubkeyHex   string `json:"ecdsa_pubkey"`
	Ed25519PubkeyHex string `json:"ed25519_pubkey"`
	SchnorrPubkeyHex string `json:"schnorr_pubkey"`
}

// RegisterIdentity mounts the free GET /v1/pubkey route. Register before
// Proxy.Register.
func RegisterIdentity(app *fiber.App, ks *keystore.Keystore) {
	app.Get("/v1/pubkey", func(c fiber.Ctx) error {
		ecdsaPriv, err := ks.ECDSAPrivateKey()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		schnorrPriv, err := ks.SchnorrPrivateKey()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}

		ecdsaSigner := signer.NewECDSASigner(ecdsaPriv)
		ed25519Signer := signer.NewEd25519Signer(ks.Ed25519PrivateKey())

		return c.JSON(identityResponse{
			ECDSAPubkeyHex:   ecdsaSigner.PubkeyHex(),
			Ed25519PubkeyHex: ed25519Signer.PubkeyHex(),
			SchnorrPubkeyHex: signer.PubkeyHexFromPriv(schnorrPriv),
		})
	})
}
