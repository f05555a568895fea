package signer

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"oraclegate/internal/assertion"
)

// ECDSASigner signs over the secp256k1 curve (go-ethereum's crypto
// package, the same curve the wallet package uses for the stablecoin
// rail's EIP-3009 authorizations), rendering signatures as ASN.1 DER.
type ECDSASigner struct {
	priv *ecdsa.PrivateKey
}

// NewECDSASigner wraps an already-loaded secp256k1 private key. Keys are
// loaded once from the Keystore at boot (see internal/keystore).
func NewECDSASigner(priv *ecdsa.PrivateKey) *ECDSASigner {
	return &ECDSASigner{priv: priv}
}

func (s *ECDSASigner) Scheme() Scheme { return SchemeECDSA }

// PubkeyHex renders the compressed secp256k1 public key as lowercase hex.
func (s *ECDSASigner) PubkeyHex() string {
	compressed := gethcrypto.CompressPubkey(&s.priv.PublicKey)
	return hex.EncodeToString(compressed)
}

func (s *ECDSASigner) Sign(a assertion.Assertion) (Signed, error) {
	canonical, digest := canonicalDigest(a)

	der, err := ecdsa.SignASN1(rand.Reader, s.priv, digest[:])
	if err != nil {
		return Signed{}, fmt.Errorf("signer: ecdsa sign: %w", err)
	}

	return Signed{
		Domain:       a.Domain,
		Canonical:    canonical,
		SignatureB64: base64.StdEncoding.EncodeToString(der),
		PubkeyHex:    s.PubkeyHex(),
		Scheme:       SchemeECDSA,
	}, nil
}

// VerifyECDSA verifies a Signed attestation's signature against a
// compressed-hex public key, reconstructing the digest from the
// canonical string itself rather than trusting the caller's Assertion
// fields — any bit flip in either canonical or signature must fail.
func VerifyECDSA(pubkeyHex, canonical, signatureB64 string) error {
	pubBytes, err := hex.DecodeString(pubkeyHex)
	if err != nil {
		return fmt.Errorf("signer: decode pubkey: %w", err)
	}
	pub, err := gethcrypto.DecompressPubkey(pubBytes)
	if err != nil {
		return fmt.Errorf("signer: decompress pubkey: %w", err)
	}

	der, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("signer: decode signature: %w", err)
	}

	digest := sha256Sum([]byte(canonical))
	if !ecdsa.VerifyASN1(pub, digest[:], der) {
		return fmt.Errorf("signer: ecdsa signature does not verify")
	}
	return nil
}
