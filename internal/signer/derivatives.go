package signer

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// DigitSignature is one position's revealed (R_i, s_i) pair.
type DigitSignature struct {
	Index       int
	Digit       byte
	RCompressed [33]byte
	S           secp256k1.ModNScalar
}

// DerivativesAttestation is the full digit-decomposed signature set for
// one scheduled derivatives event, one DigitSignature per decimal digit
// of the settled value.
type DerivativesAttestation struct {
	EventID   string
	PubkeyHex string
	Digits    []DigitSignature
}

// DerivativesSigner runs the announce/attest lifecycle of the
// digit-decomposed Schnorr scheme: Announce publishes one nonce point
// per digit position ahead of the event's settlement time; Attest
// consumes those nonces exactly once to release the signatures once the
// settled digits are known. An event recovered as missed (see the
// scheduler) must never call Attest — its committed nonces stay unused
// and the entry is simply dropped, never reused for a future event.
type DerivativesSigner struct {
	priv  *secp256k1.PrivateKey
	store NonceStore
}

func NewDerivativesSigner(priv *secp256k1.PrivateKey, store NonceStore) *DerivativesSigner {
	return &DerivativesSigner{priv: priv, store: store}
}

func (s *DerivativesSigner) PubkeyHex() string {
	return hex.EncodeToString(s.priv.PubKey().SerializeCompressed())
}

// Announce commits one fresh nonce per digit position and returns their
// public points, to be published alongside the event before settlement
// is known.
func (s *DerivativesSigner) Announce(ctx context.Context, eventID string, numDigits int) ([][33]byte, error) {
	points := make([][33]byte, numDigits)
	for i := 0; i < numDigits; i++ {
		_, point, err := s.store.Commit(ctx, eventID, i)
		if err != nil {
			return nil, fmt.Errorf("signer: announce digit %d: %w", i, err)
		}
		points[i] = point
	}
	return points, nil
}

// Attest releases the signature for every digit of settledDigits,
// consuming each position's committed nonce exactly once. settledDigits
// holds one digit byte per position, most significant first, matching
// the order Announce committed nonces in.
func (s *DerivativesSigner) Attest(ctx context.Context, eventID string, settledDigits []byte) (DerivativesAttestation, error) {
	digits := make([]DigitSignature, len(settledDigits))
	for i, digit := range settledDigits {
		nonce, point, err := s.store.Take(ctx, eventID, i)
		if err != nil {
			return DerivativesAttestation{}, fmt.Errorf("signer: attest digit %d: %w", i, err)
		}

		challenge := DigitChallenge(eventID, i, digit)
		sig := SignDigit(nonce, challenge, s.priv)
		nonce.Zero()

		digits[i] = DigitSignature{
			Index:       i,
			Digit:       digit,
			RCompressed: point,
			S:           sig,
		}
	}

	return DerivativesAttestation{
		EventID:   eventID,
		PubkeyHex: s.PubkeyHex(),
		Digits:    digits,
	}, nil
}

// Drop discards every committed nonce for a terminal event, attested or
// missed. A missed event's unconsumed scalars must never survive to be
// reused for a future event, and an attested event's consumed ones have
// nothing left to protect.
func (s *DerivativesSigner) Drop(ctx context.Context, eventID string) error {
	return s.store.Drop(ctx, eventID)
}

// VerifyDerivatives checks every digit's signature against the
// attestation's own pubkey, succeeding only if all positions verify.
func VerifyDerivatives(att DerivativesAttestation) (bool, error) {
	pubBytes, err := hex.DecodeString(att.PubkeyHex)
	if err != nil {
		return false, fmt.Errorf("signer: decode pubkey: %w", err)
	}
	pub, err := secp256k1.ParsePubKey(pubBytes)
	if err != nil {
		return false, fmt.Errorf("signer: parse pubkey: %w", err)
	}

	for _, d := range att.Digits {
		challenge := DigitChallenge(att.EventID, d.Index, d.Digit)
		ok, err := VerifyDigit(d.S, d.RCompressed, challenge, pub)
		if err != nil {
			return false, fmt.Errorf("signer: verify digit %d: %w", d.Index, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
