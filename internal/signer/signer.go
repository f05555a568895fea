// Package signer implements the three attestation schemes: ECDSA and
// Ed25519 over a canonical assertion string, and the digit-decomposed
// Schnorr scheme used for scheduled derivatives events.
package signer

import (
	"crypto/sha256"

	"oraclegate/internal/assertion"
)

// Scheme names one of the three supported signature schemes.
type Scheme string

const (
	SchemeECDSA   Scheme = "ecdsa"
	SchemeEd25519 Scheme = "ed25519"
	SchemeSchnorr Scheme = "schnorr"
)

// Signed is the pure output of attesting an Assertion:
// (Assertion, Scheme) → {canonical, signature_b64, pubkey_hex}.
type Signed struct {
	Domain       string
	Canonical    string
	SignatureB64 string
	PubkeyHex    string
	Scheme       Scheme
}

// Signer produces a Signed attestation for an Assertion under one
// scheme. ECDSASigner and Ed25519Signer both implement it.
type Signer interface {
	Scheme() Scheme
	Sign(a assertion.Assertion) (Signed, error)
	PubkeyHex() string
}

// canonicalDigest is SHA256(UTF-8(canonical)), the sole input to every
// signature scheme.
func canonicalDigest(a assertion.Assertion) (string, [32]byte) {
	canonical := a.Canonical()
	return canonical, sha256Sum([]byte(canonical))
}

func sha256Sum(b []byte) [32]byte {
	return sha256.Sum256(b)
}
