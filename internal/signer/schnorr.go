package signer

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// NonceScalar is a single-use, secp256k1-order scalar generated at
// announcement time. It must be zeroed (see Zero) immediately after it
// is consumed in SignDigit — reuse across attestations leaks the
// oracle's private scalar via x = (s_a - s_b)/(e_a - e_b).
type NonceScalar struct {
	k secp256k1.ModNScalar
}

// NewNonceScalar generates a fresh random nonce scalar and its public
// point R = k*G, to be published at announcement time and held in
// secure storage until attested or the event is recovered as missed.
func NewNonceScalar() (NonceScalar, [33]byte, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return NonceScalar{}, [33]byte{}, fmt.Errorf("signer: generate nonce scalar: %w", err)
	}

	var k secp256k1.ModNScalar
	overflow := k.SetBytes(&buf)
	if overflow != 0 {
		// Exceedingly unlikely (< 2^-128); regenerate rather than reduce,
		// so every published R_i corresponds to the scalar actually used.
		return NewNonceScalar()
	}

	var r secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&k, &r)
	r.ToAffine()
	rPub := secp256k1.NewPublicKey(&r.X, &r.Y)

	var compressed [33]byte
	copy(compressed[:], rPub.SerializeCompressed())

	return NonceScalar{k: k}, compressed, nil
}

// Zero clears the nonce scalar's memory. Safe to call multiple times.
func (n *NonceScalar) Zero() {
	n.k.Zero()
}

// Bytes returns the scalar's 32-byte big-endian encoding, for handoff
// to a persistent NonceStore. The caller must zero the copy once it is
// stored.
func (n *NonceScalar) Bytes() [32]byte {
	return n.k.Bytes()
}

// NonceScalarFromBytes reconstructs a committed nonce scalar from its
// 32-byte stored form.
func NonceScalarFromBytes(b [32]byte) (NonceScalar, error) {
	var k secp256k1.ModNScalar
	if overflow := k.SetBytes(&b); overflow != 0 {
		return NonceScalar{}, fmt.Errorf("signer: stored nonce scalar exceeds the curve order")
	}
	if k.IsZero() {
		return NonceScalar{}, fmt.Errorf("signer: stored nonce scalar is zero")
	}
	return NonceScalar{k: k}, nil
}

// DigitChallenge computes e_i = SHA256(event_id || i || digit) reduced
// mod the curve order, the per-position challenge of the
// digit-decomposed scheme.
func DigitChallenge(eventID string, digitIndex int, digit byte) secp256k1.ModNScalar {
	h := sha256.New()
	h.Write([]byte(eventID))
	h.Write([]byte(strconv.Itoa(digitIndex)))
	h.Write([]byte{digit})
	sum := h.Sum(nil)

	var e secp256k1.ModNScalar
	e.SetByteSlice(sum)
	return e
}

// SignDigit releases s_i = k_i + e_i*x for one digit position, where x
// is the oracle's private scalar. The caller must Zero nonce immediately
// after this call; SignDigit does not do so itself because the caller
// may need to retry on a transient persistence failure before
// committing the digit as consumed.
func SignDigit(nonce NonceScalar, challenge secp256k1.ModNScalar, priv *secp256k1.PrivateKey) secp256k1.ModNScalar {
	var ex secp256k1.ModNScalar
	ex.Set(&challenge)
	ex.Mul(&priv.Key)

	var s secp256k1.ModNScalar
	s.Set(&nonce.k)
	s.Add(&ex)
	return s
}

// VerifyDigit checks s_i*G == R_i + e_i*P, the one-way-bound revelation
// check used both to accept a published attestation and, in tests, to
// demonstrate that nonce reuse is detectable.
func VerifyDigit(s secp256k1.ModNScalar, rCompressed [33]byte, challenge secp256k1.ModNScalar, pub *secp256k1.PublicKey) (bool, error) {
	var lhs secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&s, &lhs)

	rPub, err := secp256k1.ParsePubKey(rCompressed[:])
	if err != nil {
		return false, fmt.Errorf("signer: parse R point: %w", err)
	}
	var rJac secp256k1.JacobianPoint
	rPub.AsJacobian(&rJac)

	var eP secp256k1.JacobianPoint
	var pubJac secp256k1.JacobianPoint
	pub.AsJacobian(&pubJac)
	secp256k1.ScalarMultNonConst(&challenge, &pubJac, &eP)

	var rhs secp256k1.JacobianPoint
	secp256k1.AddNonConst(&rJac, &eP, &rhs)

	lhs.ToAffine()
	rhs.ToAffine()

	return lhs.X.Equals(&rhs.X) && lhs.Y.Equals(&rhs.Y), nil
}

// RecoverPrivateScalar demonstrates why nonce reuse is catastrophic:
// given two (challenge, s) pairs produced from the *same* nonce scalar
// against two different events, x = (s_a - s_b)/(e_a - e_b). Used only
// by the Schnorr single-use test to prove detectability, never by
// production signing code.
func RecoverPrivateScalar(sA, eA, sB, eB secp256k1.ModNScalar) secp256k1.ModNScalar {
	var sDiff secp256k1.ModNScalar
	sDiff.Set(&sB)
	sDiff.Negate()
	sDiff.Add(&sA) // sDiff = sA - sB

	var eDiff secp256k1.ModNScalar
	eDiff.Set(&eB)
	eDiff.Negate()
	eDiff.Add(&eA) // eDiff = eA - eB
	eDiff.InverseNonConst()

	var x secp256k1.ModNScalar
	x.Set(&sDiff)
	x.Mul(&eDiff)
	return x
}

// PubkeyHexFromPriv renders the compressed public point for a Schnorr
// private scalar as lowercase hex, matching the ECDSA scheme's rendering
// convention since both share the secp256k1 curve.
func PubkeyHexFromPriv(priv *secp256k1.PrivateKey) string {
	return hex.EncodeToString(priv.PubKey().SerializeCompressed())
}
