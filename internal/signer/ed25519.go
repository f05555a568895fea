package signer

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"oraclegate/internal/assertion"
)

// Ed25519Signer signs the raw 64-byte Ed25519 signature over
// SHA256(canonical), the scheme's second supported rail.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
}

// NewEd25519Signer wraps an already-loaded Ed25519 private key (64-byte
// seed+pubkey form, as produced by ed25519.GenerateKey or loaded from
// the Keystore's seed file via ed25519.NewKeyFromSeed).
func NewEd25519Signer(priv ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{priv: priv}
}

func (s *Ed25519Signer) Scheme() Scheme { return SchemeEd25519 }

// PubkeyHex renders the 32-byte raw public key as lowercase hex.
func (s *Ed25519Signer) PubkeyHex() string {
	pub := s.priv.Public().(ed25519.PublicKey)
	return hex.EncodeToString(pub)
}

func (s *Ed25519Signer) Sign(a assertion.Assertion) (Signed, error) {
	canonical, digest := canonicalDigest(a)
	sig := ed25519.Sign(s.priv, digest[:])

	return Signed{
		Domain:       a.Domain,
		Canonical:    canonical,
		SignatureB64: base64.StdEncoding.EncodeToString(sig),
		PubkeyHex:    s.PubkeyHex(),
		Scheme:       SchemeEd25519,
	}, nil
}

// VerifyEd25519 verifies a Signed attestation's signature against a
// hex-encoded raw public key.
func VerifyEd25519(pubkeyHex, canonical, signatureB64 string) error {
	pubBytes, err := hex.DecodeString(pubkeyHex)
	if err != nil {
		return fmt.Errorf("signer: decode pubkey: %w", err)
	}
	if len(pubBytes) != ed25519.PublicKeySize {
		return fmt.Errorf("signer: pubkey has wrong length %d", len(pubBytes))
	}

	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("signer: decode signature: %w", err)
	}

	digest := sha256Sum([]byte(canonical))
	if !ed25519.Verify(ed25519.PublicKey(pubBytes), digest[:], sig) {
		return fmt.Errorf("signer: ed25519 signature does not verify")
	}
	return nil
}
